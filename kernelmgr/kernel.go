// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package kernelmgr

import (
	"fmt"
	"time"
)

// Kernel aggregates the files believed to belong to one installed
// kernel. AllFiles is ordered so that a containing directory comes after
// its children; removal walks the list front to back.
type Kernel struct {
	Version  string
	Layout   string
	AllFiles []File
}

// NewKernel returns an empty kernel group for version. The layout tag
// identifies the scanner that produced it and is used for display and
// cross-layout collision checks only.
func NewKernel(version, layout string) *Kernel {
	return &Kernel{Version: version, Layout: layout}
}

// RealKV returns the internal version of the kernel image in this group,
// if it holds one. This is the authoritative version as parsed from the
// binary, used to associate module directories with renamed images.
func (k *Kernel) RealKV() (string, bool) {
	for _, f := range k.AllFiles {
		if img, ok := f.(*KernelImage); ok {
			return img.InternalVersion(), true
		}
	}
	return "", false
}

// HasImage reports whether the group contains a parsed kernel image.
// Groups without one are strays by definition.
func (k *Kernel) HasImage() bool {
	_, ok := k.RealKV()
	return ok
}

// MTime returns the modification time of the oldest file in the group.
func (k *Kernel) MTime() (time.Time, error) {
	var oldest time.Time
	for _, f := range k.AllFiles {
		fi, err := appFs.Stat(f.Path())
		if err != nil {
			return time.Time{}, err
		}
		if oldest.IsZero() || fi.ModTime().Before(oldest) {
			oldest = fi.ModTime()
		}
	}
	return oldest, nil
}

// CheckWritable verifies that every file in the group is writable, so
// that removal cannot stop half-way through a kernel.
func (k *Kernel) CheckWritable() error {
	for _, f := range k.AllFiles {
		if err := accessWritable(f.Path()); err != nil {
			return &WriteAccessError{Path: f.Path()}
		}
	}
	return nil
}

func (k *Kernel) String() string {
	return fmt.Sprintf("Kernel(version=%q, layout=%q)", k.Version, k.Layout)
}

// WriteAccessError indicates a file slated for removal is not writable.
// It aborts the run before anything is deleted.
type WriteAccessError struct {
	Path string
}

func (e *WriteAccessError) Error() string {
	return fmt.Sprintf("%s not writable, refusing to proceed", e.Path)
}

// FriendlyDesc returns an operator-facing explanation of the failure.
func (e *WriteAccessError) FriendlyDesc() string {
	return fmt.Sprintf(`The following file is not writable:
  %s

This usually indicates that you have insufficient permissions. The
program needs to be able to remove all the files associated with
removed kernels. Lack of write access to some of them would result in
orphan files, so it refuses to proceed.`, e.Path)
}
