// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package bootloader

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var grubKernelRe = regexp.MustCompile(`(?im)^\s*(kernel|module)\s*(\([^)]+\))?(?P<path>\S+)`)

// GRUB scans a GRUB Legacy menu. Kernel paths in the menu are relative
// to the partition holding them, which conventionally is /boot, so paths
// outside /boot are re-rooted there.
type GRUB struct {
	*configScanner
}

// NewGRUB scans GRUB Legacy menu files; $GRUB_CFG overrides the
// conventional locations.
func NewGRUB(root string) (Bootloader, error) {
	s, err := newConfigScanner("grub", root, grubKernelRe, []string{
		os.Getenv("GRUB_CFG"),
		"boot/grub/menu.lst",
		"boot/grub/grub.conf",
	})
	if err != nil {
		return nil, err
	}
	return &GRUB{s}, nil
}

// UsedPaths implements Bootloader.
func (g *GRUB) UsedPaths() ([]string, error) {
	paths, err := g.configScanner.UsedPaths()
	if err != nil {
		return nil, err
	}
	for i, p := range paths {
		rel, err := filepath.Rel(filepath.Join(g.root, "boot"), p)
		if err != nil || strings.HasPrefix(rel, "..") {
			p = filepath.Join(g.root, "boot", strings.TrimPrefix(p, g.root))
			logger.Debug("re-rooted kernel path under /boot", zap.String("path", p))
			paths[i] = p
		}
	}
	return paths, nil
}
