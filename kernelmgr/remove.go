// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package kernelmgr

import (
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/zap"
)

// RemoveKernel deletes the removable files of one doomed kernel, in
// AllFiles order so that directories go after their contents. Files not
// listed in rk.Files are shared with a retained kernel and skipped.
// progress, if set, is called for every file before it is acted on,
// with deleted=false for skipped files.
//
// A file that has already disappeared counts as removed. Any other
// failure aborts this kernel; files removed so far stay removed.
func RemoveKernel(rk RemovableKernelFiles, progress func(path string, deleted bool)) error {
	doomed := make(map[string]bool, len(rk.Files))
	for _, p := range rk.Files {
		doomed[p] = true
	}

	for _, f := range rk.Kernel.AllFiles {
		del := doomed[f.Path()]
		if progress != nil {
			progress(f.Path(), del)
		}
		if !del {
			continue
		}
		removed, err := f.Remove()
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("file already removed", zap.String("path", f.Path()))
			continue
		}
		if err != nil {
			return fmt.Errorf("cannot remove %s: %w", f.Path(), err)
		}
		if !removed {
			logger.Debug("file retained", zap.String("path", f.Path()))
		}
	}
	return nil
}
