// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package bootloader

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	efi "github.com/canonical/go-efilib"
	"go.uber.org/zap"
)

// EFIVariables abstracts away the host-specific bits of EFI variable
// access.
type EFIVariables interface {
	ListVariables() ([]efi.VariableDescriptor, error)
	GetVariable(guid efi.GUID, name string) (data []byte, attrs efi.VariableAttributes, err error)
}

// RealEFIVariables provides the real implementation of EFIVariables.
type RealEFIVariables struct{}

// ListVariables proxy
func (RealEFIVariables) ListVariables() ([]efi.VariableDescriptor, error) {
	return efi.ListVariables(context.Background())
}

// GetVariable proxy
func (RealEFIVariables) GetVariable(guid efi.GUID, name string) (data []byte, attrs efi.VariableAttributes, err error) {
	return efi.ReadVariable(context.Background(), name, guid)
}

// Chosen implementation
var appEFIVars EFIVariables = RealEFIVariables{}

// SetEFIVariables replaces the EFI variable backend and returns the
// previous one.
func SetEFIVariables(v EFIVariables) EFIVariables {
	old := appEFIVars
	appEFIVars = v
	return old
}

// efiVarsSupported indicates whether variables can be accessed at all.
func efiVarsSupported() bool {
	_, err := appEFIVars.ListVariables()
	return err == nil
}

// espDirs are the mount points probed for the EFI system partition, in
// preference order.
var espDirs = []string{"boot/efi", "boot/EFI", "boot", "efi"}

// EFI reads the firmware boot menu (BootOrder and the Boot#### load
// options) and resolves the referenced loader paths on the EFI system
// partition.
type EFI struct {
	root string
	esp  string
}

// NewEFI returns ErrNotFound when EFI variables are not accessible,
// which is the case on BIOS boots and inside most containers.
func NewEFI(root string) (Bootloader, error) {
	if !efiVarsSupported() {
		return nil, fmt.Errorf("%w: EFI variables not supported", ErrNotFound)
	}
	esp := filepath.Join(root, "boot")
	for _, d := range espDirs {
		candidate := filepath.Join(root, d)
		if fi, err := appFs.Stat(candidate); err == nil && fi.IsDir() {
			esp = candidate
			break
		}
	}
	return &EFI{root: root, esp: esp}, nil
}

// Name implements Bootloader.
func (e *EFI) Name() string { return "efi" }

// UsedPaths implements Bootloader. Every load option in the boot menu
// counts as used, with the BootOrder entries first.
func (e *EFI) UsedPaths() ([]string, error) {
	numbers, err := e.bootEntryNumbers()
	if err != nil {
		return nil, err
	}

	var out []string
	for _, num := range numbers {
		name := fmt.Sprintf("Boot%04X", num)
		data, _, err := appEFIVars.GetVariable(efi.GlobalVariable, name)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", name, err)
		}
		opt, err := efi.ReadLoadOption(bytes.NewReader(data))
		if err != nil {
			logger.Debug("skipping invalid boot entry",
				zap.String("name", name), zap.Error(err))
			continue
		}
		for _, node := range opt.FilePath {
			fp, ok := node.(efi.FilePathDevicePathNode)
			if !ok {
				continue
			}
			path := filepath.Join(e.esp, strings.ReplaceAll(string(fp), "\\", "/"))
			if _, err := appFs.Stat(path); err != nil {
				continue
			}
			logger.Debug("boot entry references loader",
				zap.String("name", name), zap.String("path", path))
			out = append(out, path)
		}
	}
	return out, nil
}

// bootEntryNumbers returns the numbers of all Boot#### variables,
// BootOrder entries first, the rest in ascending order.
func (e *EFI) bootEntryNumbers() ([]int, error) {
	seen := make(map[int]bool)
	var numbers []int

	orderBytes, _, err := appEFIVars.GetVariable(efi.GlobalVariable, "BootOrder")
	if err == nil {
		for i := 0; i+1 < len(orderBytes); i += 2 {
			num := int(binary.LittleEndian.Uint16(orderBytes[i : i+2]))
			if !seen[num] {
				seen[num] = true
				numbers = append(numbers, num)
			}
		}
	}

	descs, err := appEFIVars.ListVariables()
	if err != nil {
		return nil, fmt.Errorf("cannot list EFI variables: %w", err)
	}
	var rest []int
	for _, desc := range descs {
		if desc.GUID != efi.GlobalVariable {
			continue
		}
		var num int
		if parsed, err := fmt.Sscanf(desc.Name, "Boot%04X", &num); len(desc.Name) != 8 || parsed != 1 || err != nil {
			continue
		}
		if !seen[num] {
			seen[num] = true
			rest = append(rest, num)
		}
	}
	sort.Ints(rest)
	return append(numbers, rest...), nil
}
