// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// Package kernelmgr discovers installed kernel boot artifacts, groups
// them by kernel version and decides which of them are safe to delete.
package kernelmgr

import (
	"errors"
	"fmt"
	"path/filepath"
	"syscall"

	"github.com/canonical/kernelclean/kimage"
)

// FileType classifies a file associated with a kernel. The string values
// double as the CLI exclusion vocabulary.
type FileType string

const (
	TypeKernel    FileType = "vmlinuz"
	TypeSystemMap FileType = "systemmap"
	TypeConfig    FileType = "config"
	TypeInitramfs FileType = "initramfs"
	TypeModules   FileType = "modules"
	TypeBuild     FileType = "build"
	TypeMisc      FileType = "misc"
	TypeEmptyDir  FileType = "emptydir"
)

// FileTypes lists all file types in display order.
func FileTypes() []FileType {
	return []FileType{TypeKernel, TypeSystemMap, TypeConfig, TypeInitramfs,
		TypeModules, TypeBuild, TypeMisc, TypeEmptyDir}
}

// ParseFileType converts a CLI tag into a FileType.
func ParseFileType(s string) (FileType, error) {
	for _, t := range FileTypes() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("invalid kernel part: %s", s)
}

// File is a filesystem entity associated with a kernel.
//
// Remove deletes the underlying object and reports whether deletion
// occurred. A not-found error means the target was already gone, which
// callers treat as success-equivalent; any other error is fatal for the
// owning kernel's cleanup pass.
type File interface {
	Path() string
	Type() FileType
	Remove() (bool, error)
}

// GenericFile is a plain file associated with a kernel.
type GenericFile struct {
	path  string
	ftype FileType
}

// NewGenericFile returns a GenericFile for path with the given type.
func NewGenericFile(path string, ftype FileType) *GenericFile {
	return &GenericFile{path: path, ftype: ftype}
}

func (f *GenericFile) Path() string   { return f.path }
func (f *GenericFile) Type() FileType { return f.ftype }

// Remove unlinks the file.
func (f *GenericFile) Remove() (bool, error) {
	if err := appFs.Remove(f.path); err != nil {
		return false, err
	}
	return true, nil
}

// GenericDirectory is a directory associated with a kernel, removed
// recursively.
type GenericDirectory struct {
	GenericFile
}

// NewGenericDirectory returns a GenericDirectory for path with the given
// type.
func NewGenericDirectory(path string, ftype FileType) *GenericDirectory {
	return &GenericDirectory{GenericFile{path: path, ftype: ftype}}
}

// Remove deletes the directory tree.
func (d *GenericDirectory) Remove() (bool, error) {
	// RemoveAll would hide a vanished target; callers want to know
	if _, _, err := lstat(d.path); err != nil {
		return false, err
	}
	if err := appFs.RemoveAll(d.path); err != nil {
		return false, err
	}
	return true, nil
}

// KernelImage is a recognized kernel image. Construction parses the
// binary formats to obtain the authoritative version string.
type KernelImage struct {
	GenericFile
	internalVersion string
}

// NewKernelImage opens and parses the image at path. It fails with
// kimage.UnrecognizedKernelError when the file is not a kernel image in
// any known format.
func NewKernelImage(path string) (*KernelImage, error) {
	f, err := appFs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ver, err := kimage.ReadInternalVersion(path, f)
	if err != nil {
		return nil, err
	}
	return &KernelImage{
		GenericFile:     GenericFile{path: path, ftype: TypeKernel},
		internalVersion: ver,
	}, nil
}

// InternalVersion returns the version parsed from the image.
func (k *KernelImage) InternalVersion() string { return k.internalVersion }

// ModuleDirectory is a /lib/modules/<version> tree.
type ModuleDirectory struct {
	GenericDirectory
}

// NewModuleDirectory returns a ModuleDirectory for path.
func NewModuleDirectory(path string) *ModuleDirectory {
	return &ModuleDirectory{GenericDirectory{GenericFile{path: path, ftype: TypeModules}}}
}

// BuildDir resolves the `build` symlink inside the module directory. The
// target may live outside the module tree, typically in kernel sources.
func (m *ModuleDirectory) BuildDir() (string, error) {
	target, err := readlink(filepath.Join(m.path, "build"))
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(target) {
		return target, nil
	}
	return filepath.Join(m.path, target), nil
}

// EmptyDirectory is a parent directory that should be removed once all
// of its contents are gone, to unclutter boot entry directories.
type EmptyDirectory struct {
	GenericFile
}

// NewEmptyDirectory returns an EmptyDirectory for path.
func NewEmptyDirectory(path string) *EmptyDirectory {
	return &EmptyDirectory{GenericFile{path: path, ftype: TypeEmptyDir}}
}

// Remove deletes the directory if it is empty. A non-empty directory is
// kept, reported as not removed rather than as an error.
func (d *EmptyDirectory) Remove() (bool, error) {
	if err := appFs.Remove(d.path); err != nil {
		if errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
