// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package kernelmgr

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// moduleDict enumerates <moduleDirectory>/<version> trees and keys them
// by version. Each entry holds the build dir (when its symlink resolves
// to an existing directory) followed by the module directory itself; the
// top directory must come last so it is not removed before its contents.
func moduleDict(moduleDirectory string, exclusions []FileType) (map[string][]File, error) {
	modules := make(map[string][]File)
	entries, err := afero.ReadDir(appFs, moduleDirectory)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return modules, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(moduleDirectory, name)
		if entry.Mode()&fs.ModeSymlink != 0 || !entry.IsDir() {
			continue
		}
		var files []File
		mobj := NewModuleDirectory(path)

		if !excluded(exclusions, TypeBuild) {
			if build, err := mobj.BuildDir(); err == nil && isDir(build) {
				files = append(files, NewGenericDirectory(build, TypeBuild))
			}
		}
		if !excluded(exclusions, TypeModules) {
			files = append(files, mobj)
		}
		modules[name] = files
	}
	return modules, nil
}

// sortedVersions returns the module dict keys in a stable order.
func sortedVersions(modules map[string][]File) []string {
	versions := make([]string, 0, len(modules))
	for v := range modules {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}
