// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filelist

import (
	"github.com/autobrr/rdwatch/internal/realdebrid"
	"github.com/autobrr/rdwatch/pkg/mediatype"
)

// Selection tracks which files of a torrent are chosen for download.
// It is not safe for concurrent use.
type Selection struct {
	files       []realdebrid.File
	index       map[int]int
	selected    map[int]bool
	allSelected bool
}

// NewSelection starts from the files' own Selected flags.
func NewSelection(files []realdebrid.File) *Selection {
	ordered := Build(files, Options{}).Files()

	s := &Selection{
		files:    ordered,
		index:    make(map[int]int, len(ordered)),
		selected: make(map[int]bool, len(ordered)),
	}
	for i, f := range ordered {
		s.index[f.ID] = i
		if f.Selected {
			s.selected[f.ID] = true
		}
	}
	s.sync()
	return s
}

// Toggle flips one file and reports its new state. Unknown ids are ignored.
func (s *Selection) Toggle(id int) bool {
	if _, ok := s.index[id]; !ok {
		return false
	}
	if s.selected[id] {
		delete(s.selected, id)
	} else {
		s.selected[id] = true
	}
	s.sync()
	return s.selected[id]
}

func (s *Selection) SelectAll() {
	for _, f := range s.files {
		s.selected[f.ID] = true
	}
	s.sync()
}

func (s *Selection) DeselectAll() {
	clear(s.selected)
	s.sync()
}

// ToggleAll deselects everything when all files are selected, otherwise
// selects everything.
func (s *Selection) ToggleAll() {
	if s.allSelected {
		s.DeselectAll()
		return
	}
	s.SelectAll()
}

// SelectOnly replaces the selection with exactly the files of kind.
func (s *Selection) SelectOnly(kind mediatype.Kind) {
	clear(s.selected)
	for _, f := range s.files {
		if mediatype.Classify(BaseName(f.Path)) == kind {
			s.selected[f.ID] = true
		}
	}
	s.sync()
}

func (s *Selection) SelectOnlyVideo()     { s.SelectOnly(mediatype.Video) }
func (s *Selection) SelectOnlySubtitles() { s.SelectOnly(mediatype.Subtitle) }

// Set replaces the selection with ids. Unknown ids are ignored.
func (s *Selection) Set(ids []int) {
	clear(s.selected)
	for _, id := range ids {
		if _, ok := s.index[id]; ok {
			s.selected[id] = true
		}
	}
	s.sync()
}

func (s *Selection) IsSelected(id int) bool {
	return s.selected[id]
}

// IDs returns the selected ids in natural file order.
func (s *Selection) IDs() []int {
	ids := make([]int, 0, len(s.selected))
	for _, f := range s.files {
		if s.selected[f.ID] {
			ids = append(ids, f.ID)
		}
	}
	return ids
}

func (s *Selection) Count() int { return len(s.selected) }
func (s *Selection) Total() int { return len(s.files) }

// AllSelected is the state of the select-all toggle.
func (s *Selection) AllSelected() bool { return s.allSelected }

// CanSubmit is false while nothing is selected.
func (s *Selection) CanSubmit() bool { return len(s.selected) > 0 }

func (s *Selection) sync() {
	s.allSelected = len(s.files) > 0 && len(s.selected) == len(s.files)
}
