// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package bootloader

import (
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var grub2KernelRe = regexp.MustCompile(`(?im)^\s*linux\s*(\([^)]+\))?(?P<path>\S+)`)

// grub2AutogenHeader opens configs written by grub-mkconfig. Such a
// config must not be scanned for kernels: it is regenerated from the
// current /boot contents instead.
const grub2AutogenHeader = `#
# DO NOT EDIT THIS FILE
#
# It is automatically generated by grub2-mkconfig`

// runCommand is swapped out in tests.
var runCommand = func(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// GRUB2 scans grub.cfg. Autogenerated configs contribute no used paths;
// instead PostRM regenerates the config after kernels were removed.
type GRUB2 struct {
	*GRUB
	autogen bool
}

// NewGRUB2 scans the grub.cfg locations used by GRUB 2 installs.
func NewGRUB2(root string) (Bootloader, error) {
	s, err := newConfigScanner("grub2", root, grub2KernelRe, []string{
		"boot/grub/grub.cfg",
		"boot/grub2/grub.cfg",
	})
	if err != nil {
		return nil, err
	}
	g := &GRUB2{GRUB: &GRUB{s}}
	g.autogen = strings.HasPrefix(s.content, grub2AutogenHeader)
	if g.autogen {
		logger.Debug("grub2 config is autogenerated, ignoring contents",
			zap.String("path", s.path))
	}
	return g, nil
}

// UsedPaths implements Bootloader.
func (g *GRUB2) UsedPaths() ([]string, error) {
	if g.autogen {
		return nil, nil
	}
	return g.GRUB.UsedPaths()
}

// PostRM implements PostRemover: autogenerated configs are refreshed via
// the distro's own generator.
func (g *GRUB2) PostRM() error {
	if !g.autogen {
		return nil
	}
	logger.Debug("regenerating grub2 config", zap.String("path", g.path))
	err := runCommand("grub-mkconfig", "-o", g.path)
	if errors.Is(err, exec.ErrNotFound) {
		err = runCommand("grub2-mkconfig", "-o", g.path)
	}
	if err != nil && !errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("config regeneration failed: %w", err)
	}
	return nil
}
