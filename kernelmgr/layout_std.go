// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package kernelmgr

import (
	"bufio"
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/canonical/kernelclean/kimage"
)

// stdPrefix maps a known /boot filename prefix to the file type it
// implies, used only for files that do not parse as kernel images.
type stdPrefix struct {
	ftype  FileType
	prefix string
}

var stdPrefixes = []stdPrefix{
	{TypeKernel, "vmlinuz-"},
	{TypeKernel, "vmlinux-"},
	{TypeKernel, "kernel-"},
	{TypeKernel, "bzImage-"},
	{TypeSystemMap, "System.map-"},
	{TypeConfig, "config-"},
	{TypeInitramfs, "initramfs-"},
	{TypeInitramfs, "initrd-"},
}

// suffixes stripped from the apparent version: initramfs images,
// compressed configs, rEFInd icons and EFI-stub kernels.
var stdSuffixes = []string{
	".img",
	".bz2",
	".gz",
	".lz",
	".xz",
	".png",
	".efi",
}

// StdLayout is the standard flat /boot layout used by
// pre-systemd-boot bootloaders: all kernel files live directly in the
// boot directory, versioned by filename.
type StdLayout struct {
	root string
}

// NewStdLayout returns a layout scanning the flat boot directories under
// root. The layout is applicable to any system.
func NewStdLayout(root string) *StdLayout {
	return &StdLayout{root: root}
}

// Name implements Layout.
func (l *StdLayout) Name() string { return "std" }

// bootDirs lists the directories scanned for kernel files: /boot itself
// plus the distro-named ESP conventions.
func (l *StdLayout) bootDirs() []string {
	distro := distroName(l.root)
	return []string{
		filepath.Join(l.root, "boot"),
		filepath.Join(l.root, "boot/EFI/EFI", distro),
		filepath.Join(l.root, "boot/efi/EFI", distro),
		filepath.Join(l.root, "boot/EFI", distro),
		filepath.Join(l.root, "efi/EFI", distro),
	}
}

// FindKernels implements Layout. Every candidate file is first probed as
// a binary kernel image; images group by their internal version under
// the apparent filename version, everything else is typed by filename
// prefix and merged by apparent version.
func (l *StdLayout) FindKernels(exclusions []FileType) ([]*Kernel, error) {
	if err := checkExclusions(exclusions); err != nil {
		return nil, err
	}

	modules, err := moduleDict(filepath.Join(l.root, "lib/modules"), exclusions)
	if err != nil {
		return nil, err
	}

	// apparent version -> internal version -> kernel group
	kernels := make(map[string]map[string]*Kernel)
	type strayFile struct {
		file File
		ver  string
	}
	var otherFiles []strayFile

	for _, dir := range l.bootDirs() {
		entries, err := afero.ReadDir(appFs, dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		for _, entry := range entries {
			fn := entry.Name()
			// skip hidden and GRUB signature files
			if strings.HasPrefix(fn, ".") || strings.HasSuffix(fn, ".sig") {
				continue
			}
			if entry.Mode()&fs.ModeSymlink != 0 || !entry.Mode().IsRegular() {
				continue
			}
			// skip unversioned files
			_, ver, found := strings.Cut(fn, "-")
			if !found || ver == "" {
				continue
			}
			ver = stripSuffix(ver)
			path := filepath.Join(dir, fn)

			kobj, err := NewKernelImage(path)
			if err != nil {
				var unrec *kimage.UnrecognizedKernelError
				if !errors.As(err, &unrec) {
					return nil, err
				}
				// fall back to filename typing
				for _, p := range stdPrefixes {
					ftype := p.ftype
					// a rEFInd kernel icon shares the kernel's name
					if strings.HasSuffix(fn, ".png") {
						ftype = TypeMisc
					}
					if excluded(exclusions, ftype) {
						continue
					}
					if strings.HasPrefix(fn, p.prefix) {
						otherFiles = append(otherFiles, strayFile{
							file: NewGenericFile(path, ftype),
							ver:  ver,
						})
						break
					}
				}
				continue
			}

			logger.Debug("found kernel image",
				zap.String("path", path),
				zap.String("version", kobj.InternalVersion()))
			group := kernels[ver]
			if group == nil {
				group = make(map[string]*Kernel)
				kernels[ver] = group
			}
			k := group[kobj.InternalVersion()]
			if k == nil {
				k = NewKernel(ver, "other")
				group[kobj.InternalVersion()] = k
			}
			k.AllFiles = append(k.AllFiles, kobj)
			k.AllFiles = append(k.AllFiles, modules[kobj.InternalVersion()]...)
		}
	}

	// merge remaining files into kernel groups: append to every group
	// with a matching apparent version, or start a fresh one
	for _, stray := range otherFiles {
		group := kernels[stray.ver]
		if group == nil {
			group = make(map[string]*Kernel)
			kernels[stray.ver] = group
		}
		if len(group) == 0 {
			group[""] = NewKernel(stray.ver, "other")
		}
		for _, k := range group {
			k.AllFiles = append(k.AllFiles, stray.file)
		}
	}

	// merge unassociated module directories
	for _, mkv := range sortedVersions(modules) {
		if anyInternalVersion(kernels, mkv) {
			continue
		}
		group := kernels[mkv]
		if group == nil {
			group = make(map[string]*Kernel)
			kernels[mkv] = group
		}
		k := group[""]
		if k == nil {
			k = NewKernel(mkv, "other")
			group[""] = k
		}
		k.AllFiles = append(k.AllFiles, modules[mkv]...)
	}

	var out []*Kernel
	for _, group := range kernels {
		for _, k := range group {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Version != out[j].Version {
			return out[i].Version < out[j].Version
		}
		iKV, _ := out[i].RealKV()
		jKV, _ := out[j].RealKV()
		return iKV < jKV
	})
	return out, nil
}

// anyInternalVersion reports whether any discovered kernel image carries
// the given internal version.
func anyInternalVersion(kernels map[string]map[string]*Kernel, kv string) bool {
	for _, group := range kernels {
		for internal := range group {
			if internal == kv {
				return true
			}
		}
	}
	return false
}

func stripSuffix(ver string) string {
	for _, suffix := range stdSuffixes {
		if strings.HasSuffix(ver, suffix) {
			return ver[:len(ver)-len(suffix)]
		}
		// renamed backups keep their .old marker past the suffix
		if strings.HasSuffix(ver, suffix+".old") {
			return ver[:len(ver)-len(suffix)-4] + ".old"
		}
	}
	return ver
}

// distroName reads NAME= from os-release, defaulting to "Linux". The ESP
// conventions place kernels under a distro-named directory.
func distroName(root string) string {
	for _, path := range []string{"etc/os-release", "usr/lib/os-release"} {
		f, err := appFs.Open(filepath.Join(root, path))
		if err != nil {
			continue
		}
		name := ""
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if value, ok := strings.CutPrefix(line, "NAME="); ok {
				value = strings.Trim(strings.TrimSpace(value), `"'`)
				if value != "" {
					name = value
					break
				}
			}
		}
		f.Close()
		if name != "" {
			return name
		}
	}
	return "Linux"
}
