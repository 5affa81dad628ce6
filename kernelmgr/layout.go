// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package kernelmgr

import (
	"errors"
	"slices"
)

// ErrLayoutNotFound signals that the on-disk structure does not match a
// layout's conventions. Callers try the next layout; it is not a fatal
// condition by itself.
var ErrLayoutNotFound = errors.New("layout not found")

// Layout scans one /boot directory convention and groups the discovered
// files into kernels.
type Layout interface {
	Name() string
	// FindKernels returns all kernel groups found under the layout's
	// root. exclusions lists file types to omit from collection;
	// excluding TypeKernel is an error since grouping depends on it.
	FindKernels(exclusions []FileType) ([]*Kernel, error)
}

func excluded(exclusions []FileType, t FileType) bool {
	return slices.Contains(exclusions, t)
}

func checkExclusions(exclusions []FileType) error {
	// this would wreak havoc all around the place
	if excluded(exclusions, TypeKernel) {
		return errors.New("kernel images cannot be excluded")
	}
	return nil
}
