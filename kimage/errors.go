// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package kimage

import "fmt"

// UnrecognizedKernelError is returned when a candidate file does not match
// any supported kernel image format, or matches one but is truncated in a
// way that makes the version string unreadable.
type UnrecognizedKernelError struct {
	Path string
	Msg  string
}

func (e *UnrecognizedKernelError) Error() string {
	return fmt.Sprintf("kernel file %s: %s", e.Path, e.Msg)
}

// MissingDecompressorError is returned when the compression format of a
// kernel image was recognized but no decompressor for it is available.
// Unlike UnrecognizedKernelError the remedy is installing support, not
// ignoring the file, so it is surfaced separately.
type MissingDecompressorError struct {
	Path   string
	Format string
}

func (e *MissingDecompressorError) Error() string {
	return fmt.Sprintf("no %s decompressor available for kernel file %s", e.Format, e.Path)
}
