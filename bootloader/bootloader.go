// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// Package bootloader discovers which kernel images the installed boot
// configuration references. Each provider scans one bootloader's
// configuration and yields the kernel paths it mentions.
package bootloader

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ErrNotFound means a provider's configuration does not exist on this
// system and the next provider should be tried.
var ErrNotFound = errors.New("bootloader not found")

// appFs is the filesystem the package operates on.
var appFs afero.Fs = afero.NewOsFs()

// SetFs replaces the filesystem used by this package and returns the
// previous one.
func SetFs(fs afero.Fs) afero.Fs {
	old := appFs
	appFs = fs
	return old
}

var logger = zap.NewNop()

// SetLogger replaces the package logger and returns the previous one.
func SetLogger(l *zap.Logger) *zap.Logger {
	old := logger
	logger = l
	return old
}

// Bootloader yields the kernel image paths the boot configuration
// references.
type Bootloader interface {
	Name() string
	UsedPaths() ([]string, error)
}

// PostRemover is implemented by bootloaders whose configuration must be
// regenerated after kernels have been removed.
type PostRemover interface {
	PostRM() error
}

var providers = []struct {
	name      string
	construct func(root string) (Bootloader, error)
}{
	{"lilo", NewLILO},
	{"grub2", NewGRUB2},
	{"grub", NewGRUB},
	{"yaboot", NewYaboot},
	{"efi", NewEFI},
	{"symlinks", NewSymlinks},
}

// Names returns the provider names accepted by Get, in probe order.
func Names() []string {
	out := make([]string, 0, len(providers))
	for _, p := range providers {
		out = append(out, p.name)
	}
	return out
}

// Get probes for an applicable bootloader. requested narrows the probe
// to a single provider; "auto" tries all of them in order. All paths are
// interpreted relative to root.
func Get(root, requested string) (Bootloader, error) {
	known := false
	for _, p := range providers {
		if requested != "auto" && requested != p.name {
			continue
		}
		known = true
		logger.Debug("trying bootloader", zap.String("name", p.name))
		bl, err := p.construct(root)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cannot initialize bootloader %s: %w", p.name, err)
		}
		return bl, nil
	}
	if !known {
		return nil, fmt.Errorf("unknown bootloader %q", requested)
	}
	return nil, ErrNotFound
}
