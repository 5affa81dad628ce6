// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package kernelmgr

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonical/kernelclean/kimage"
)

func TestKernelImageInternalVersion(t *testing.T) {
	useOsFs(t)
	path := filepath.Join(t.TempDir(), "vmlinuz")
	writeBzImage(t, path, "1.2.3 built on test")

	img, err := NewKernelImage(path)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", img.InternalVersion())
	assert.Equal(t, TypeKernel, img.Type())
}

func TestKernelImageUnrecognized(t *testing.T) {
	useOsFs(t)
	path := filepath.Join(t.TempDir(), "vmlinuz")
	require.NoError(t, os.WriteFile(path, []byte("Hello World"), 0o644))

	_, err := NewKernelImage(path)
	var unrec *kimage.UnrecognizedKernelError
	assert.ErrorAs(t, err, &unrec)
}

func TestGenericFileRemove(t *testing.T) {
	useOsFs(t)
	path := filepath.Join(t.TempDir(), "config-1.2.3")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	f := NewGenericFile(path, TypeConfig)
	removed, err := f.Remove()
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoFileExists(t, path)

	// a vanished target surfaces as not-found, which callers treat as
	// already gone
	_, err = f.Remove()
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestGenericDirectoryRemove(t *testing.T) {
	useOsFs(t)
	dir := filepath.Join(t.TempDir(), "modules")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub/f.ko"), nil, 0o644))

	d := NewGenericDirectory(dir, TypeModules)
	removed, err := d.Remove()
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoDirExists(t, dir)

	_, err = d.Remove()
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestModuleDirectoryBuildDirAbsSymlink(t *testing.T) {
	useOsFs(t)
	td := t.TempDir()
	mdir := filepath.Join(td, "modules/1.2.3")
	src := filepath.Join(td, "src/linux")
	require.NoError(t, os.MkdirAll(mdir, 0o755))
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.Symlink(src, filepath.Join(mdir, "build")))

	build, err := NewModuleDirectory(mdir).BuildDir()
	require.NoError(t, err)
	assert.Equal(t, src, build)
}

func TestModuleDirectoryBuildDirRelSymlink(t *testing.T) {
	useOsFs(t)
	td := t.TempDir()
	mdir := filepath.Join(td, "modules/1.2.3")
	require.NoError(t, os.MkdirAll(mdir, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(td, "src/linux"), 0o755))
	require.NoError(t, os.Symlink("../../src/linux", filepath.Join(mdir, "build")))

	build, err := NewModuleDirectory(mdir).BuildDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(td, "src/linux"), build)
}

func TestModuleDirectoryBuildDirMissing(t *testing.T) {
	useOsFs(t)
	mdir := filepath.Join(t.TempDir(), "modules/1.2.3")
	require.NoError(t, os.MkdirAll(mdir, 0o755))

	_, err := NewModuleDirectory(mdir).BuildDir()
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestEmptyDirectoryRemove(t *testing.T) {
	useOsFs(t)
	dir := filepath.Join(t.TempDir(), "entry")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	d := NewEmptyDirectory(dir)

	// non-empty: kept, not an error
	removed, err := d.Remove()
	require.NoError(t, err)
	assert.False(t, removed)
	assert.DirExists(t, dir)

	require.NoError(t, os.Remove(blocker))
	removed, err = d.Remove()
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoDirExists(t, dir)
}

func TestParseFileType(t *testing.T) {
	ft, err := ParseFileType("modules")
	require.NoError(t, err)
	assert.Equal(t, TypeModules, ft)

	_, err = ParseFileType("frobnicator")
	assert.Error(t, err)
}
