// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package bootloader

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// configScanner is the shared machinery of the textual providers: find
// the first existing configuration file and extract kernel paths from it
// with a per-provider regular expression. The path group of the
// expression must be named "path".
type configScanner struct {
	name    string
	root    string
	re      *regexp.Regexp
	path    string
	content string
}

// newConfigScanner reads the first existing candidate file, joined under
// root. It returns ErrNotFound when none of them exists.
func newConfigScanner(name, root string, re *regexp.Regexp, candidates []string) (*configScanner, error) {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		path := filepath.Join(root, c)
		data, err := afero.ReadFile(appFs, path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", path, err)
		}
		logger.Debug("bootloader config found", zap.String("path", path))
		return &configScanner{
			name:    name,
			root:    root,
			re:      re,
			path:    path,
			content: string(data),
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Name implements Bootloader.
func (s *configScanner) Name() string { return s.name }

// UsedPaths implements Bootloader. Config paths are absolute within the
// booted system; they are joined back under root.
func (s *configScanner) UsedPaths() ([]string, error) {
	var out []string
	for _, m := range s.re.FindAllStringSubmatch(s.content, -1) {
		path := m[s.re.SubexpIndex("path")]
		logger.Debug("matched kernel path",
			zap.String("bootloader", s.name), zap.String("path", path))
		out = append(out, filepath.Join(s.root, path))
	}
	return out, nil
}

var liloKernelRe = regexp.MustCompile(`(?im)^\s*image\s*=\s*(?P<path>.+)\s*$`)

// NewLILO scans /etc/lilo.conf.
func NewLILO(root string) (Bootloader, error) {
	return newConfigScanner("lilo", root, liloKernelRe, []string{"etc/lilo.conf"})
}

// NewYaboot scans /etc/yaboot.conf using the lilo syntax.
func NewYaboot(root string) (Bootloader, error) {
	return newConfigScanner("yaboot", root, liloKernelRe, []string{"etc/yaboot.conf"})
}
