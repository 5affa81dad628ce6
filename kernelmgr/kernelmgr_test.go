// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package kernelmgr

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// useOsFs points the package at the real filesystem and restores the
// previous one when the test ends. Layout and process tests need real
// symlinks and inodes, so they run against t.TempDir roots.
func useOsFs(t *testing.T) {
	t.Helper()
	prev := appFs
	appFs = afero.NewOsFs()
	t.Cleanup(func() { appFs = prev })
}

func stubOsRelease(t *testing.T, release string) {
	t.Helper()
	prev := osRelease
	osRelease = func() (string, error) { return release, nil }
	t.Cleanup(func() { osRelease = prev })
}

// writeBzImage writes a pseudo-bzImage with the given version line.
func writeBzImage(t *testing.T, path string, versionLine string) {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(make([]byte, 0x202))
	buf.WriteString("HdrS")
	buf.Write(make([]byte, 8))
	buf.Write([]byte{0x10, 0x00})
	buf.WriteString(versionLine)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

// makeTestFiles creates empty files for all given root-relative paths.
func makeTestFiles(t *testing.T, root string, spec []string) {
	t.Helper()
	for _, fn := range spec {
		path := filepath.Join(root, fn)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, nil, 0o644))
	}
}

// fileDesc flattens a File for comparison in layout tests.
type fileDesc struct {
	path    string
	ftype   FileType
	isImage bool
}

func describeFiles(k *Kernel) []fileDesc {
	var out []fileDesc
	for _, f := range k.AllFiles {
		_, isImage := f.(*KernelImage)
		out = append(out, fileDesc{f.Path(), f.Type(), isImage})
	}
	return out
}

// kernelByVersion finds a kernel group by version (and layout, when more
// than one group shares the version).
func kernelByVersion(t *testing.T, kernels []*Kernel, version string) *Kernel {
	t.Helper()
	var found *Kernel
	for _, k := range kernels {
		if k.Version == version {
			require.Nil(t, found, "duplicate kernel group for %s", version)
			found = k
		}
	}
	require.NotNil(t, found, "no kernel group for %s", version)
	return found
}
