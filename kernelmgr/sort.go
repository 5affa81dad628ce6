// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package kernelmgr

import (
	"strconv"
	"time"
	"unicode"

	"go.uber.org/zap"
)

// Sorter is a total-order strategy over kernels, used to rank them
// newest-first for the retention limit.
type Sorter interface {
	Name() string
	// Less reports whether a orders before b, oldest first.
	Less(a, b *Kernel) bool
}

// Sorters lists the available sort strategies.
func Sorters() []Sorter {
	return []Sorter{VersionSort{}, MTimeSort{}}
}

// SorterByName selects a sort strategy from the registry.
func SorterByName(name string) (Sorter, bool) {
	for _, s := range Sorters() {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// VersionSort orders kernels by their version string. The string is
// tokenized into digit and letter runs; digit runs compare numerically
// and recognized qualifiers (old, rc) carry fixed negative weights so
// that release candidates sort before the final release and .old
// renames sort lowest.
type VersionSort struct{}

// Name implements Sorter.
func (VersionSort) Name() string { return "version" }

// versionKeyPart is one element of a version sort key. Parts compare by
// weight first, then by literal text.
type versionKeyPart struct {
	weight int
	text   string
}

const (
	weightText       = -1
	weightTerminator = -2
	weightOld        = -3
	weightTilde      = -4
	weightRC         = -5
)

var componentWeights = map[string]int{
	"old": weightOld,
	"~":   weightTilde,
	"rc":  weightRC,
}

// versionKey builds the sort key for a version string. A digit run
// yields its numeric value followed by a text part (so equal numbers
// tie-break on their literal form), qualifier tokens yield their weight,
// and a low terminator makes a shorter prefix-equal version sort before
// its extensions.
func versionKey(version string) []versionKeyPart {
	var key []versionKeyPart
	for _, comp := range splitComponents(version) {
		if n, err := strconv.Atoi(comp); err == nil {
			key = append(key, versionKeyPart{n, ""})
		} else if w, ok := componentWeights[comp]; ok {
			key = append(key, versionKeyPart{w, ""})
		}
		// .M-foo sorts before .M.0
		key = append(key, versionKeyPart{weightText, comp})
	}
	return append(key, versionKeyPart{weightTerminator, ""})
}

// splitComponents extracts the digit runs and letter runs of a version
// string, discarding separators.
func splitComponents(version string) []string {
	var comps []string
	start := -1
	digits := false
	flush := func(end int) {
		if start >= 0 {
			comps = append(comps, version[start:end])
			start = -1
		}
	}
	for i, r := range version {
		switch {
		case unicode.IsDigit(r):
			if start >= 0 && !digits {
				flush(i)
			}
			if start < 0 {
				start, digits = i, true
			}
		case unicode.IsLetter(r):
			if start >= 0 && digits {
				flush(i)
			}
			if start < 0 {
				start, digits = i, false
			}
		default:
			flush(i)
		}
	}
	flush(len(version))
	return comps
}

func compareKeys(a, b []versionKeyPart) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i].weight != b[i].weight {
			if a[i].weight < b[i].weight {
				return -1
			}
			return 1
		}
		if a[i].text != b[i].text {
			if a[i].text < b[i].text {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

// Less implements Sorter.
func (VersionSort) Less(a, b *Kernel) bool {
	return compareKeys(versionKey(a.Version), versionKey(b.Version)) < 0
}

// MTimeSort orders kernels by the modification time of their oldest
// file. Taking the oldest file is intentionally conservative for a
// recency-based retention cutoff.
type MTimeSort struct{}

// Name implements Sorter.
func (MTimeSort) Name() string { return "mtime" }

// Less implements Sorter. A kernel whose files cannot be stat'd is
// treated as oldest; the failure is logged so a mysteriously early
// removal victim can be traced back to the stat fault.
func (MTimeSort) Less(a, b *Kernel) bool {
	return kernelMTime(a).Before(kernelMTime(b))
}

func kernelMTime(k *Kernel) time.Time {
	t, err := k.MTime()
	if err != nil {
		logger.Warn("cannot determine kernel mtime, sorting it oldest",
			zap.String("version", k.Version), zap.Error(err))
		return time.Time{}
	}
	return t
}
