// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package kernelmgr

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestVersionSortOrder(t *testing.T) {
	versions := []string{
		"4.14.0",
		"5.7.0-foo-rc3",
		"5.7.0-rc3",
		"5.7.0",
		"5.4.0",
		"5.6.10",
		"5.6-frobnicate",
		"5.6.0-frobnicate",
		"5.6.10-frobnicate",
		"4.7.11",
		"5.6.0",
		"5.6.10-rt-rt5",
	}
	var kernels []*Kernel
	for _, v := range versions {
		kernels = append(kernels, NewKernel(v, "other"))
	}

	vs := VersionSort{}
	sort.SliceStable(kernels, func(i, j int) bool {
		return vs.Less(kernels[i], kernels[j])
	})

	var got []string
	for _, k := range kernels {
		got = append(got, k.Version)
	}
	assert.Equal(t, []string{
		"4.7.11",
		"4.14.0",
		"5.4.0",
		"5.6-frobnicate",
		"5.6.0",
		"5.6.0-frobnicate",
		"5.6.10",
		"5.6.10-frobnicate",
		"5.6.10-rt-rt5",
		"5.7.0-rc3",
		"5.7.0",
		"5.7.0-foo-rc3",
	}, got)
}

func TestVersionSortOldAndRC(t *testing.T) {
	vs := VersionSort{}
	assert.True(t, vs.Less(NewKernel("5.7.0.old", "other"), NewKernel("5.7.0", "other")))
	assert.True(t, vs.Less(NewKernel("5.7.0-rc1", "other"), NewKernel("5.7.0-rc2", "other")))
	assert.False(t, vs.Less(NewKernel("5.7.1", "other"), NewKernel("5.7.0", "other")))
}

func TestMTimeSort(t *testing.T) {
	useOsFs(t)
	td := t.TempDir()

	now := time.Now()
	var kernels []*Kernel
	for i, name := range []string{"f1", "f2", "f3"} {
		path := filepath.Join(td, name)
		require.NoError(t, os.WriteFile(path, nil, 0o644))
		require.NoError(t, os.Chtimes(path, now, now.Add(time.Duration(-i)*time.Second)))
		k := NewKernel(name, "other")
		k.AllFiles = []File{NewGenericFile(path, TypeMisc)}
		kernels = append(kernels, k)
	}

	ms := MTimeSort{}
	sort.SliceStable(kernels, func(i, j int) bool {
		return ms.Less(kernels[i], kernels[j])
	})

	assert.Equal(t, "f3", kernels[0].Version)
	assert.Equal(t, "f2", kernels[1].Version)
	assert.Equal(t, "f1", kernels[2].Version)
}

func TestMTimeSortUnstatableKernel(t *testing.T) {
	useOsFs(t)
	td := t.TempDir()

	core, logs := observer.New(zap.WarnLevel)
	prev := logger
	logger = zap.New(core)
	t.Cleanup(func() { logger = prev })

	path := filepath.Join(td, "vmlinuz-5.4.0")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	present := NewKernel("5.4.0", "other")
	present.AllFiles = []File{NewGenericFile(path, TypeKernel)}

	vanished := NewKernel("5.7.0", "other")
	vanished.AllFiles = []File{NewGenericFile(filepath.Join(td, "vmlinuz-5.7.0"), TypeKernel)}

	// the unstatable kernel sorts oldest, and the stat fault is logged
	ms := MTimeSort{}
	assert.True(t, ms.Less(vanished, present))
	assert.False(t, ms.Less(present, vanished))

	entries := logs.FilterMessage("cannot determine kernel mtime, sorting it oldest").All()
	require.NotEmpty(t, entries)
	assert.Equal(t, "5.7.0", entries[0].ContextMap()["version"])
}

func TestSorterRegistry(t *testing.T) {
	s, ok := SorterByName("version")
	require.True(t, ok)
	assert.Equal(t, "version", s.Name())

	s, ok = SorterByName("mtime")
	require.True(t, ok)
	assert.Equal(t, "mtime", s.Name())

	_, ok = SorterByName("entropy")
	assert.False(t, ok)
}
