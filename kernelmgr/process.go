// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package kernelmgr

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"go.uber.org/zap"
)

// Bootloader yields the kernel image paths the current boot
// configuration references. Kernels holding any of these files are
// considered in use.
type Bootloader interface {
	Name() string
	UsedPaths() ([]string, error)
}

// RemovalMap maps doomed kernels to the reasons they were selected,
// preserving selection order.
type RemovalMap struct {
	order   []*Kernel
	reasons map[*Kernel][]string
}

// NewRemovalMap returns an empty removal map.
func NewRemovalMap() *RemovalMap {
	return &RemovalMap{reasons: make(map[*Kernel][]string)}
}

func (m *RemovalMap) add(k *Kernel, reason string) {
	if _, ok := m.reasons[k]; !ok {
		m.order = append(m.order, k)
	}
	m.reasons[k] = append(m.reasons[k], reason)
}

func (m *RemovalMap) remove(k *Kernel) {
	if _, ok := m.reasons[k]; !ok {
		return
	}
	delete(m.reasons, k)
	for i, other := range m.order {
		if other == k {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Skip drops k from the removal map, keeping the remaining order. It is
// used when the operator declines a kernel.
func (m *RemovalMap) Skip(k *Kernel) { m.remove(k) }

// Kernels returns the doomed kernels in selection order.
func (m *RemovalMap) Kernels() []*Kernel { return m.order }

// Reasons returns the removal reasons recorded for k.
func (m *RemovalMap) Reasons(k *Kernel) []string { return m.reasons[k] }

// Contains reports whether k is selected for removal.
func (m *RemovalMap) Contains(k *Kernel) bool {
	_, ok := m.reasons[k]
	return ok
}

// Len returns the number of doomed kernels.
func (m *RemovalMap) Len() int { return len(m.order) }

// RemovableKernelFiles describes one doomed kernel: the reasons it was
// selected and the subset of its file paths that are actually safe to
// delete (not shared with any retained kernel).
type RemovableKernelFiles struct {
	Kernel  *Kernel
	Reasons []string
	Files   []string
}

// RemovalOptions selects the retention policy for GetRemovalList.
type RemovalOptions struct {
	Sorter Sorter
	// Limit keeps the N newest kernels. Zero removes strays only; nil
	// applies no numeric limit and defers entirely to the bootloader or
	// destructive policy.
	Limit *int
	// Bootloader supplies the in-use check for non-destructive removal.
	Bootloader Bootloader
	// Destructive ignores bootloader references entirely.
	Destructive bool
	// Notify receives operator-facing notices, if set.
	Notify func(msg string)
}

func (o *RemovalOptions) notify(format string, args ...any) {
	if o.Notify != nil {
		o.Notify(fmt.Sprintf(format, args...))
	}
}

var usedKernelPrefix = regexp.MustCompile(`^/boot/(vmlinu[xz]|kernel|bzImage)-`)
var ignoredUsedPath = regexp.MustCompile(`^/boot/xen`)

// GetRemovalList applies the retention policy to the discovered kernels
// and returns the kernels to remove along with human-readable reasons.
// The currently running kernel is never part of the result.
func GetRemovalList(kernels []*Kernel, opts RemovalOptions) (*RemovalMap, error) {
	logger.Debug("computing removal list",
		zap.Int("kernels", len(kernels)),
		zap.Bool("destructive", opts.Destructive))

	removals := NewRemovalMap()
	for _, k := range kernels {
		if !k.HasImage() {
			removals.add(k, "vmlinuz does not exist")
		}
	}
	// a full wipe caused by a scanning bug must never silently proceed
	if removals.Len() == len(kernels) {
		return nil, errors.New("no vmlinuz found, this seems ridiculous, aborting")
	}

	if opts.Limit == nil || *opts.Limit > 0 {
		var used []string
		if !opts.Destructive {
			if opts.Bootloader == nil {
				return nil, errors.New("unable to get kernels from bootloader config")
			}
			paths, err := opts.Bootloader.UsedPaths()
			if err != nil {
				return nil, fmt.Errorf("unable to get kernels from bootloader config (%s): %w",
					opts.Bootloader.Name(), err)
			}
			used = resolveUsedPaths(paths, &opts)
		}

		var candidates []*Kernel
		if opts.Limit != nil {
			var ordered []*Kernel
			for _, k := range kernels {
				if !removals.Contains(k) {
					ordered = append(ordered, k)
				}
			}
			// newest first
			sort.SliceStable(ordered, func(i, j int) bool {
				return opts.Sorter.Less(ordered[j], ordered[i])
			})
			if *opts.Limit < len(ordered) {
				candidates = ordered[*opts.Limit:]
			}
		} else {
			candidates = kernels
		}

		for _, k := range candidates {
			switch {
			case opts.Destructive:
				removals.add(k, "unwanted")
			case !kernelInUse(k, used):
				removals.add(k, fmt.Sprintf("not referenced by bootloader (%s)",
					opts.Bootloader.Name()))
			}
		}
	}

	current, err := osRelease()
	if err != nil {
		return nil, fmt.Errorf("cannot determine the running kernel: %w", err)
	}
	for _, k := range removals.Kernels() {
		if k.Version == current {
			opts.notify("Preserving currently running kernel (%s)", current)
			removals.remove(k)
		}
	}

	return removals, nil
}

// resolveUsedPaths canonicalizes the bootloader-reported paths and drops
// references to files that no longer exist.
func resolveUsedPaths(paths []string, opts *RemovalOptions) []string {
	var used []string
	for _, p := range paths {
		resolved := realPath(p)
		if !exists(resolved) {
			opts.notify("Note: referenced kernel does not exist: %s", resolved)
			continue
		}
		if ignoredUsedPath.MatchString(resolved) {
			continue
		}
		if !usedKernelPrefix.MatchString(resolved) {
			opts.notify("Note: strangely named used kernel: %s", resolved)
		}
		used = append(used, resolved)
	}
	return used
}

// kernelInUse reports whether any of the kernel's files is the same file
// as one of the bootloader-referenced paths. The check is inode-level to
// defend against symlink indirection.
func kernelInUse(k *Kernel, used []string) bool {
	for _, f := range k.AllFiles {
		for _, p := range used {
			if sameFile(f.Path(), p) {
				return true
			}
		}
	}
	return false
}

// GetRemovableFiles computes, for each doomed kernel, the files that can
// actually be deleted: any file shared with a retained kernel is
// excluded so that nothing still in use is orphaned. File order within a
// kernel is preserved, keeping the parent-last removal ordering intact.
func GetRemovableFiles(removals *RemovalMap, allKernels []*Kernel) []RemovableKernelFiles {
	var usedPaths []string
	for _, k := range allKernels {
		if removals.Contains(k) {
			continue
		}
		for _, f := range k.AllFiles {
			usedPaths = append(usedPaths, f.Path())
		}
	}

	var out []RemovableKernelFiles
	for _, k := range removals.Kernels() {
		var files []string
		for _, f := range k.AllFiles {
			shared := false
			for _, p := range usedPaths {
				if sameFile(f.Path(), p) {
					shared = true
					break
				}
			}
			if !shared {
				files = append(files, f.Path())
			}
		}
		out = append(out, RemovableKernelFiles{
			Kernel:  k,
			Reasons: removals.Reasons(k),
			Files:   files,
		})
	}
	return out
}
