// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package kernelmgr

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// appFs is the filesystem all scanning and removal goes through.
var appFs afero.Fs = afero.NewOsFs()

// SetFs replaces the filesystem used by the package. Intended for tests.
func SetFs(fs afero.Fs) { appFs = fs }

// logger is a package-level logger, nop unless the caller hooks one in.
var logger = zap.NewNop()

// SetLogger replaces the package logger.
func SetLogger(l *zap.Logger) { logger = l }

// accessWritable reports whether path is writable by the current process.
var accessWritable = func(path string) error {
	return unix.Access(path, unix.W_OK)
}

// osRelease returns the release string of the running kernel, as uname -r
// reports it.
var osRelease = func() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", err
	}
	return unix.ByteSliceToString(uts.Release[:]), nil
}

// readlink resolves a symlink through the current filesystem, if it
// supports symlinks at all.
func readlink(path string) (string, error) {
	if lr, ok := appFs.(afero.LinkReader); ok {
		return lr.ReadlinkIfPossible(path)
	}
	return "", afero.ErrNoReadlink
}

// lstat stats path without following a trailing symlink where the
// filesystem can, so that symlinked entries can be told apart.
func lstat(path string) (info os.FileInfo, isSymlink bool, err error) {
	if ls, ok := appFs.(afero.Lstater); ok {
		fi, lstatted, err := ls.LstatIfPossible(path)
		if err != nil {
			return nil, false, err
		}
		return fi, lstatted && fi.Mode()&os.ModeSymlink != 0, nil
	}
	fi, err := appFs.Stat(path)
	return fi, false, err
}

// sameFile reports whether the two paths refer to the same filesystem
// object. Identity is (device, inode) where the filesystem exposes it,
// which also covers hardlinked and symlinked module trees; otherwise it
// degrades to cleaned-path equality. On filesystems without stable inode
// semantics (overlayfs) the device/inode comparison may misjudge; this is
// a known limitation.
func sameFile(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	fa, err := appFs.Stat(a)
	if err != nil {
		return false
	}
	fb, err := appFs.Stat(b)
	if err != nil {
		return false
	}
	sa, okA := fa.Sys().(*syscall.Stat_t)
	sb, okB := fb.Sys().(*syscall.Stat_t)
	if okA && okB {
		return sa.Dev == sb.Dev && sa.Ino == sb.Ino
	}
	return false
}

// realPath resolves symlinks where possible, falling back to the path
// itself. Only meaningful on the OS filesystem.
func realPath(path string) string {
	if rp, err := filepath.EvalSymlinks(path); err == nil {
		return rp
	}
	return path
}

func exists(path string) bool {
	_, err := appFs.Stat(path)
	return err == nil
}

func isDir(path string) bool {
	fi, err := appFs.Stat(path)
	return err == nil && fi.IsDir()
}
