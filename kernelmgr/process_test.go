// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package kernelmgr

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBootloader struct {
	paths []string
	err   error
}

func (fakeBootloader) Name() string                   { return "fake" }
func (b fakeBootloader) UsedPaths() ([]string, error) { return b.paths, b.err }

func intPtr(n int) *int { return &n }

// newImageKernel builds a kernel group with a real pseudo-bzImage plus a
// config file under root/boot.
func newImageKernel(t *testing.T, root, ver string) *Kernel {
	t.Helper()
	image := filepath.Join(root, "boot", "vmlinuz-"+ver)
	writeBzImage(t, image, ver+" test")
	kobj, err := NewKernelImage(image)
	require.NoError(t, err)

	config := filepath.Join(root, "boot", "config-"+ver)
	makeTestFiles(t, root, []string{filepath.Join("boot", "config-"+ver)})

	k := NewKernel(ver, "other")
	k.AllFiles = append(k.AllFiles, kobj, NewGenericFile(config, TypeConfig))
	return k
}

// newStrayKernel builds a kernel group without a kernel image.
func newStrayKernel(t *testing.T, root, ver string) *Kernel {
	t.Helper()
	config := filepath.Join("boot", "config-"+ver)
	makeTestFiles(t, root, []string{config})

	k := NewKernel(ver, "other")
	k.AllFiles = append(k.AllFiles, NewGenericFile(filepath.Join(root, config), TypeConfig))
	return k
}

// testKernels returns old, new and stray groups plus the combined slice.
func testKernels(t *testing.T, root string) (*Kernel, *Kernel, *Kernel, []*Kernel) {
	t.Helper()
	old := newImageKernel(t, root, "1.2.3")
	newest := newImageKernel(t, root, "1.2.4")
	stray := newStrayKernel(t, root, "1.2.2")
	return old, newest, stray, []*Kernel{old, newest, stray}
}

func TestGetRemovalListStraysOnly(t *testing.T) {
	useOsFs(t)
	stubOsRelease(t, "4.17.2")
	root := t.TempDir()
	old, newest, stray, kernels := testKernels(t, root)

	removals, err := GetRemovalList(kernels, RemovalOptions{
		Sorter: VersionSort{},
		Limit:  intPtr(0),
	})
	require.NoError(t, err)

	assert.Equal(t, []*Kernel{stray}, removals.Kernels())
	assert.Equal(t, []string{"vmlinuz does not exist"}, removals.Reasons(stray))
	assert.False(t, removals.Contains(old))
	assert.False(t, removals.Contains(newest))
}

func TestGetRemovalListAllStray(t *testing.T) {
	useOsFs(t)
	stubOsRelease(t, "4.17.2")
	root := t.TempDir()
	kernels := []*Kernel{
		newStrayKernel(t, root, "1.2.2"),
		newStrayKernel(t, root, "1.2.3"),
	}

	_, err := GetRemovalList(kernels, RemovalOptions{
		Sorter: VersionSort{},
		Limit:  intPtr(0),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ridiculous")
}

func TestGetRemovalListDestructiveLimit(t *testing.T) {
	useOsFs(t)
	stubOsRelease(t, "4.17.2")
	root := t.TempDir()
	old, newest, stray, kernels := testKernels(t, root)

	removals, err := GetRemovalList(kernels, RemovalOptions{
		Sorter:      VersionSort{},
		Limit:       intPtr(1),
		Destructive: true,
	})
	require.NoError(t, err)

	// with limit=1 only the newest non-stray kernel survives; the stray
	// keeps its original reason and is not re-marked
	assert.True(t, removals.Contains(stray))
	assert.Equal(t, []string{"vmlinuz does not exist"}, removals.Reasons(stray))
	assert.True(t, removals.Contains(old))
	assert.Equal(t, []string{"unwanted"}, removals.Reasons(old))
	assert.False(t, removals.Contains(newest))
}

func TestGetRemovalListDestructiveNoLimit(t *testing.T) {
	useOsFs(t)
	stubOsRelease(t, "4.17.2")
	root := t.TempDir()
	old, newest, stray, kernels := testKernels(t, root)

	removals, err := GetRemovalList(kernels, RemovalOptions{
		Sorter:      VersionSort{},
		Destructive: true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"unwanted"}, removals.Reasons(old))
	assert.Equal(t, []string{"unwanted"}, removals.Reasons(newest))
	assert.Equal(t, []string{"vmlinuz does not exist", "unwanted"},
		removals.Reasons(stray))
}

func TestGetRemovalListPreservesRunningKernel(t *testing.T) {
	useOsFs(t)
	stubOsRelease(t, "1.2.4")
	root := t.TempDir()
	old, newest, stray, kernels := testKernels(t, root)

	var notes []string
	removals, err := GetRemovalList(kernels, RemovalOptions{
		Sorter:      VersionSort{},
		Destructive: true,
		Notify:      func(msg string) { notes = append(notes, msg) },
	})
	require.NoError(t, err)

	assert.False(t, removals.Contains(newest))
	assert.True(t, removals.Contains(old))
	assert.True(t, removals.Contains(stray))
	assert.Contains(t, strings.Join(notes, "\n"),
		"Preserving currently running kernel (1.2.4)")
}

func TestGetRemovalListRequiresBootloader(t *testing.T) {
	useOsFs(t)
	stubOsRelease(t, "4.17.2")
	root := t.TempDir()
	_, _, _, kernels := testKernels(t, root)

	_, err := GetRemovalList(kernels, RemovalOptions{Sorter: VersionSort{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to get kernels from bootloader config")
}

func TestGetRemovalListBootloaderError(t *testing.T) {
	useOsFs(t)
	stubOsRelease(t, "4.17.2")
	root := t.TempDir()
	_, _, _, kernels := testKernels(t, root)

	_, err := GetRemovalList(kernels, RemovalOptions{
		Sorter:     VersionSort{},
		Bootloader: fakeBootloader{err: errors.New("config missing")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bootloader config (fake)")
	assert.Contains(t, err.Error(), "config missing")
}

func TestGetRemovalListBootloaderReferences(t *testing.T) {
	useOsFs(t)
	stubOsRelease(t, "4.17.2")
	root := t.TempDir()
	old, newest, stray, kernels := testKernels(t, root)

	// the bootloader references vmlinuz-1.2.3 through a symlink; the
	// in-use check must still recognize the old kernel as referenced
	link := filepath.Join(root, "boot", "vmlinuz.old")
	require.NoError(t, os.Symlink("vmlinuz-1.2.3", link))

	var notes []string
	removals, err := GetRemovalList(kernels, RemovalOptions{
		Sorter: VersionSort{},
		Bootloader: fakeBootloader{paths: []string{
			link,
			filepath.Join(root, "boot", "vmlinuz-gone"),
		}},
		Notify: func(msg string) { notes = append(notes, msg) },
	})
	require.NoError(t, err)

	assert.False(t, removals.Contains(old))
	assert.True(t, removals.Contains(newest))
	assert.Equal(t, []string{"not referenced by bootloader (fake)"},
		removals.Reasons(newest))
	// without a numeric limit the stray is also checked against the
	// bootloader and collects a second reason
	assert.Equal(t, []string{
		"vmlinuz does not exist",
		"not referenced by bootloader (fake)",
	}, removals.Reasons(stray))
	assert.Contains(t, strings.Join(notes, "\n"),
		"referenced kernel does not exist")
}

func TestGetRemovableFilesSharedBuildDir(t *testing.T) {
	useOsFs(t)
	root := t.TempDir()
	src := filepath.Join(root, "usr/src/linux")
	makeTestFiles(t, root, []string{"usr/src/linux/Makefile"})

	old := newImageKernel(t, root, "1.2.3")
	old.AllFiles = append(old.AllFiles,
		NewGenericDirectory(src, TypeBuild),
		NewGenericDirectory(filepath.Join(root, "lib/modules/1.2.3"), TypeModules))
	newest := newImageKernel(t, root, "1.2.4")
	newest.AllFiles = append(newest.AllFiles,
		NewGenericDirectory(src, TypeBuild),
		NewGenericDirectory(filepath.Join(root, "lib/modules/1.2.4"), TypeModules))
	kernels := []*Kernel{old, newest}

	removals := NewRemovalMap()
	removals.add(old, "unwanted")

	out := GetRemovableFiles(removals, kernels)
	require.Len(t, out, 1)
	assert.Same(t, old, out[0].Kernel)
	assert.Equal(t, []string{"unwanted"}, out[0].Reasons)
	// the shared build directory stays; everything unique to 1.2.3 goes
	assert.Equal(t, []string{
		filepath.Join(root, "boot", "vmlinuz-1.2.3"),
		filepath.Join(root, "boot", "config-1.2.3"),
		filepath.Join(root, "lib/modules/1.2.3"),
	}, out[0].Files)
	assert.NotContains(t, out[0].Files, src)
}
