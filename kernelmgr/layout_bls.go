// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package kernelmgr

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/canonical/kernelclean/kimage"
)

// blsPotentialDirs are the conventional mount points probed for the boot
// partition.
var blsPotentialDirs = []string{"boot/EFI", "boot/efi", "boot", "efi"}

// blsNameMap classifies type-1 entry files by their exact name.
var blsNameMap = map[string]FileType{
	"linux":  TypeKernel,
	"initrd": TypeInitramfs,
}

// BlSpecLayout implements the Bootloader Specification layout: type-1
// entries under $BOOT/ENTRY-TOKEN/KERNEL-VERSION/ and type-2 unified
// kernel images under $BOOT/EFI/Linux/ENTRY-TOKEN-KERNEL-VERSION.efi.
type BlSpecLayout struct {
	root     string
	kernelID string
	blsDir   string
	ukiDir   string
}

// NewBlSpecLayout probes root for a Bootloader Spec layout. It returns
// ErrLayoutNotFound when neither the entry token nor a bootloader
// directory exists, meaning the layout is inapplicable.
func NewBlSpecLayout(root string) (*BlSpecLayout, error) {
	l := &BlSpecLayout{root: root}

	// TODO: according to bootctl(1), fall back to IMAGE_ID= and then
	// ID= from os-release
	for _, path := range []string{"etc/kernel/entry-token", "etc/machine-id"} {
		data, err := afero.ReadFile(appFs, filepath.Join(root, path))
		if err == nil {
			l.kernelID = strings.TrimSpace(string(data))
			break
		}
	}
	if l.kernelID == "" {
		return nil, fmt.Errorf("%w: /etc/machine-id not found", ErrLayoutNotFound)
	}

	for _, d := range blsPotentialDirs {
		// present if type 1
		bootloaderDir := filepath.Join(root, d, "loader")
		// present if type 2
		ukiDir := filepath.Join(root, d, "EFI/Linux")
		if isDir(bootloaderDir) || isDir(ukiDir) {
			l.blsDir = filepath.Join(root, d, l.kernelID)
			l.ukiDir = ukiDir
			return l, nil
		}
	}
	return nil, fmt.Errorf("%w: /boot/[EFI/]loader not found", ErrLayoutNotFound)
}

// Name implements Layout.
func (l *BlSpecLayout) Name() string { return "blspec" }

// appendKernelFiles classifies one entry file and appends it to k,
// associating module directories when the file parses as a kernel image.
func (l *BlSpecLayout) appendKernelFiles(ftype FileType, path string, k *Kernel,
	modules map[string][]File, exclusions []FileType) error {
	var fobj File = NewGenericFile(path, ftype)

	if ftype == TypeKernel {
		kobj, err := NewKernelImage(path)
		if err != nil {
			var unrec *kimage.UnrecognizedKernelError
			if !errors.As(err, &unrec) {
				return err
			}
			logger.Debug("unrecognized potential kernel image",
				zap.String("path", path), zap.Error(err))
		} else {
			fobj = kobj
			k.AllFiles = append(k.AllFiles, modules[kobj.InternalVersion()]...)
		}
	}

	if !excluded(exclusions, ftype) {
		k.AllFiles = append(k.AllFiles, fobj)
	}
	return nil
}

// FindKernels implements Layout.
func (l *BlSpecLayout) FindKernels(exclusions []FileType) ([]*Kernel, error) {
	if err := checkExclusions(exclusions); err != nil {
		return nil, err
	}

	modules, err := moduleDict(filepath.Join(l.root, "lib/modules"), exclusions)
	if err != nil {
		return nil, err
	}

	type kernelKey struct {
		version string
		layout  string
	}
	kernels := make(map[kernelKey]*Kernel)
	var order []kernelKey
	add := func(k *Kernel) {
		key := kernelKey{k.Version, k.Layout}
		if _, ok := kernels[key]; !ok {
			order = append(order, key)
		}
		kernels[key] = k
	}

	// type 1: $BOOT/ENTRY-TOKEN/KERNEL-VERSION/{linux,initrd,...}
	if entries, err := afero.ReadDir(appFs, l.blsDir); err == nil {
		for _, entry := range entries {
			ver := entry.Name()
			if strings.HasPrefix(ver, ".") {
				continue
			}
			dirPath := filepath.Join(l.blsDir, ver)
			if entry.Mode()&fs.ModeSymlink != 0 || !entry.IsDir() {
				continue
			}

			k := NewKernel(ver, "bls")
			files, err := afero.ReadDir(appFs, dirPath)
			if err != nil {
				return nil, err
			}
			for _, file := range files {
				fn := file.Name()
				if strings.HasPrefix(fn, ".") {
					continue
				}
				ftype, ok := blsNameMap[fn]
				if !ok {
					ftype = TypeMisc
				}
				if err := l.appendKernelFiles(ftype, filepath.Join(dirPath, fn),
					k, modules, exclusions); err != nil {
					return nil, err
				}
			}
			// the entry directory itself goes last so it is only
			// removed once its contents are gone
			k.AllFiles = append(k.AllFiles, NewEmptyDirectory(dirPath))
			add(k)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	// type 2: $BOOT/EFI/Linux/ENTRY-TOKEN-KERNEL-VERSION.efi
	if entries, err := afero.ReadDir(appFs, l.ukiDir); err == nil {
		for _, entry := range entries {
			fn := entry.Name()
			basename := strings.TrimSuffix(fn, ".efi")
			if basename == fn {
				// not an UKI
				continue
			}
			ver := strings.TrimPrefix(basename, l.kernelID+"-")
			ver = strings.TrimPrefix(ver, "gentoo-")
			if basename == ver {
				// not our UKI
				continue
			}

			k := NewKernel(ver, "uki")
			if err := l.appendKernelFiles(TypeKernel,
				filepath.Join(l.ukiDir, fn), k, modules, exclusions); err != nil {
				return nil, err
			}

			ukiIcon := filepath.Join(l.ukiDir, basename+".png")
			if !excluded(exclusions, TypeMisc) && exists(ukiIcon) {
				k.AllFiles = append(k.AllFiles, NewGenericFile(ukiIcon, TypeMisc))
			}
			add(k)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	// merge unassociated module directories into groups with a matching
	// apparent version, across all sub-layouts at once
	for _, mkv := range sortedVersions(modules) {
		if anyRealKV(kernels, mkv) {
			continue
		}
		matched := false
		for _, key := range order {
			if key.version == mkv {
				k := kernels[key]
				k.AllFiles = append(k.AllFiles, modules[mkv]...)
				matched = true
			}
		}
		if !matched {
			k := NewKernel(mkv, "modules-only")
			k.AllFiles = append(k.AllFiles, modules[mkv]...)
			add(k)
		}
	}

	out := make([]*Kernel, 0, len(order))
	for _, key := range order {
		out = append(out, kernels[key])
	}
	return out, nil
}

func anyRealKV[K comparable](kernels map[K]*Kernel, kv string) bool {
	for _, k := range kernels {
		if realKV, ok := k.RealKV(); ok && realKV == kv {
			return true
		}
	}
	return false
}
