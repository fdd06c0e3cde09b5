// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package natsort

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b string
		want int
	}{
		{name: "numeric runs compare by value", a: "file2", b: "file10", want: -1},
		{name: "reverse numeric", a: "file10", b: "file2", want: 1},
		{name: "case insensitive tie", a: "File2", b: "file2", want: 0},
		{name: "fewer runs first", a: "a", b: "a1", want: -1},
		{name: "episode numbers", a: "Episode 2", b: "Episode 10", want: -1},
		{name: "leading zeros equal", a: "track01", b: "track1", want: 0},
		{name: "text decides before digits", a: "b1", b: "a2", want: 1},
		{name: "digit run against text run", a: "1abc", b: "abc", want: -1},
		{name: "identical", a: "Show.S01E01.mkv", b: "Show.S01E01.mkv", want: 0},
		{name: "empty sorts first", a: "", b: "a", want: -1},
		{name: "huge numbers", a: "part99999999999999999999", b: "part100000000000000000000", want: -1},
		{name: "season then episode", a: "S01E10", b: "S02E01", want: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
			assert.Equal(t, -tt.want, Compare(tt.b, tt.a))
		})
	}
}

func TestLessSortsNaturally(t *testing.T) {
	t.Parallel()

	names := []string{"Episode 10", "episode 1", "Episode 2", "Episode 1b", "Extras"}
	sort.SliceStable(names, func(i, j int) bool { return Less(names[i], names[j]) })

	assert.Equal(t, []string{"episode 1", "Episode 1b", "Episode 2", "Episode 10", "Extras"}, names)
}
