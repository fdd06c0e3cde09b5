// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package natsort orders strings so embedded numbers compare by value:
// "Episode 2" sorts before "Episode 10".
package natsort

import (
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/cases"
)

var digitRuns = regexp.MustCompile(`\d+`)

// cases.Caser is stateful and must not be shared between goroutines.
var folders = sync.Pool{
	New: func() any {
		c := cases.Fold()
		return &c
	},
}

type run struct {
	text    string
	numeric bool
}

// Compare returns -1, 0 or 1. Both strings are split into alternating digit and
// non-digit runs which are compared pairwise: digit runs by numeric value, the
// rest case-insensitively. When every compared run is equal the string with
// fewer runs sorts first.
func Compare(a, b string) int {
	if a == b {
		return 0
	}

	ra := split(a)
	rb := split(b)

	folder := folders.Get().(*cases.Caser)
	defer folders.Put(folder)

	n := min(len(ra), len(rb))
	for i := 0; i < n; i++ {
		var c int
		if ra[i].numeric && rb[i].numeric {
			c = compareDigits(ra[i].text, rb[i].text)
		} else {
			c = strings.Compare(folder.String(ra[i].text), folder.String(rb[i].text))
		}
		if c != 0 {
			return c
		}
	}

	switch {
	case len(ra) < len(rb):
		return -1
	case len(ra) > len(rb):
		return 1
	default:
		return 0
	}
}

// Less reports whether a sorts before b.
func Less(a, b string) bool {
	return Compare(a, b) < 0
}

func split(s string) []run {
	locs := digitRuns.FindAllStringIndex(s, -1)
	runs := make([]run, 0, len(locs)*2+1)

	pos := 0
	for _, loc := range locs {
		if loc[0] > pos {
			runs = append(runs, run{text: s[pos:loc[0]]})
		}
		runs = append(runs, run{text: s[loc[0]:loc[1]], numeric: true})
		pos = loc[1]
	}
	if pos < len(s) {
		runs = append(runs, run{text: s[pos:]})
	}
	return runs
}

// compareDigits compares two ASCII digit strings by value without parsing,
// so runs longer than an int64 still order correctly.
func compareDigits(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")

	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return strings.Compare(a, b)
}
