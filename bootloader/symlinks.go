// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package bootloader

import (
	"path/filepath"
)

// Symlinks is the last-resort provider: it treats the conventional
// /boot/vmlinuz (and friends) symlinks maintained by `make install` as
// the set of used kernels.
type Symlinks struct {
	root string
}

// NewSymlinks never fails: an empty result simply means no symlinks are
// maintained.
func NewSymlinks(root string) (Bootloader, error) {
	return &Symlinks{root: root}, nil
}

// Name implements Bootloader.
func (s *Symlinks) Name() string { return "symlinks" }

// UsedPaths implements Bootloader.
func (s *Symlinks) UsedPaths() ([]string, error) {
	var out []string
	for _, name := range []string{"vmlinuz", "vmlinux", "kernel", "bzImage"} {
		for _, suffix := range []string{"", ".old"} {
			path := filepath.Join(s.root, "boot", name+suffix)
			if _, err := appFs.Stat(path); err == nil {
				out = append(out, path)
			}
		}
	}
	return out, nil
}
