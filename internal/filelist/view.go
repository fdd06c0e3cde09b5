// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package filelist builds the folder-grouped, naturally sorted file listing of
// a torrent and tracks file selections made against it.
package filelist

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/cases"

	"github.com/autobrr/rdwatch/internal/realdebrid"
	"github.com/autobrr/rdwatch/pkg/mediatype"
	"github.com/autobrr/rdwatch/pkg/natsort"
)

type Direction int

const (
	Ascending Direction = iota
	Descending
)

type TypeFilter int

const (
	TypeAll TypeFilter = iota
	TypeVideo
	TypeSubtitle
)

type MatchMode int

const (
	MatchSubstring MatchMode = iota
	MatchFuzzy
)

// Options are the only inputs besides the files; Build keeps no state.
type Options struct {
	Direction Direction
	Query     string
	Type      TypeFilter
	Match     MatchMode
}

type Group struct {
	Folder string            `json:"folder"`
	Files  []realdebrid.File `json:"files"`
}

type View struct {
	Groups []Group `json:"groups"`
}

// Files flattens the groups in display order.
func (v View) Files() []realdebrid.File {
	n := 0
	for _, g := range v.Groups {
		n += len(g.Files)
	}
	out := make([]realdebrid.File, 0, n)
	for _, g := range v.Groups {
		out = append(out, g.Files...)
	}
	return out
}

// Build filters files by query and type, groups them by folder and orders
// both groups and files naturally in the requested direction.
func Build(files []realdebrid.File, opts Options) View {
	match := matcher(opts)

	byFolder := make(map[string][]realdebrid.File)
	for _, f := range files {
		if !match(f.Path) {
			continue
		}
		if !typeMatches(opts.Type, f.Path) {
			continue
		}
		folder := Folder(f.Path)
		byFolder[folder] = append(byFolder[folder], f)
	}

	folders := make([]string, 0, len(byFolder))
	for folder := range byFolder {
		folders = append(folders, folder)
	}
	sort.SliceStable(folders, func(i, j int) bool {
		c := natsort.Compare(folders[i], folders[j])
		if c == 0 {
			// folders differing only in case or zero padding
			c = strings.Compare(folders[i], folders[j])
		}
		return ordered(opts.Direction, c)
	})

	view := View{Groups: make([]Group, 0, len(folders))}
	for _, folder := range folders {
		group := byFolder[folder]
		sort.SliceStable(group, func(i, j int) bool {
			c := natsort.Compare(BaseName(group[i].Path), BaseName(group[j].Path))
			if c != 0 {
				return ordered(opts.Direction, c)
			}
			return group[i].ID < group[j].ID
		})
		view.Groups = append(view.Groups, Group{Folder: folder, Files: group})
	}

	return view
}

func ordered(dir Direction, c int) bool {
	if dir == Descending {
		return c > 0
	}
	return c < 0
}

func matcher(opts Options) func(string) bool {
	query := opts.Query
	if strings.TrimSpace(query) == "" {
		return func(string) bool { return true }
	}

	if opts.Match == MatchFuzzy {
		return func(path string) bool { return fuzzy.MatchFold(query, path) }
	}

	folder := cases.Fold()
	needle := folder.String(query)
	return func(path string) bool {
		return strings.Contains(folder.String(path), needle)
	}
}

func typeMatches(filter TypeFilter, path string) bool {
	switch filter {
	case TypeVideo:
		return mediatype.IsVideo(path)
	case TypeSubtitle:
		return mediatype.IsSubtitle(path)
	default:
		return true
	}
}

// Folder is the path without its last segment, "" for files at the root.
func Folder(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return ""
}

// BaseName is the last path segment.
func BaseName(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc", "ascending":
		return Ascending, true
	case "desc", "descending":
		return Descending, true
	default:
		return Ascending, false
	}
}

func ParseTypeFilter(s string) (TypeFilter, bool) {
	kind, ok := mediatype.ParseKind(s)
	if !ok {
		return TypeAll, false
	}
	switch kind {
	case mediatype.Video:
		return TypeVideo, true
	case mediatype.Subtitle:
		return TypeSubtitle, true
	default:
		return TypeAll, true
	}
}

func ParseMatchMode(s string) (MatchMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "substring", "contains":
		return MatchSubstring, true
	case "fuzzy":
		return MatchFuzzy, true
	default:
		return MatchSubstring, false
	}
}
