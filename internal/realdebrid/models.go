// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package realdebrid

import (
	"math"
	"strings"
	"time"
)

// Torrent is one entry of the torrent list, validated at the client boundary.
type Torrent struct {
	ID       string    `json:"id"`
	Filename string    `json:"filename"`
	Hash     string    `json:"hash"`
	Bytes    int64     `json:"bytes"`
	Status   Status    `json:"status"`
	Progress int       `json:"progress"`
	Added    time.Time `json:"added"`
	// Ended is the raw value; EndedAt is only meaningful when HasEnded is true.
	Ended    string    `json:"ended,omitempty"`
	EndedAt  time.Time `json:"endedAt,omitzero"`
	HasEnded bool      `json:"hasEnded"`
}

// File is a single file inside a torrent.
type File struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Selected bool   `json:"selected"`
}

// TorrentInfo is the detail view. Links hold one entry per selected file, in
// file order, and are not keyed by file id.
type TorrentInfo struct {
	Torrent
	OriginalFilename string   `json:"originalFilename,omitempty"`
	Files            []File   `json:"files"`
	Links            []string `json:"links"`
}

// SelectedFiles returns files flagged as selected, in file order.
func (t *TorrentInfo) SelectedFiles() []File {
	out := make([]File, 0, len(t.Files))
	for _, f := range t.Files {
		if f.Selected {
			out = append(out, f)
		}
	}
	return out
}

type UnrestrictedLink struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mimeType"`
	Filesize   int64  `json:"filesize"`
	Link       string `json:"link"`
	Host       string `json:"host"`
	Download   string `json:"download"`
	Streamable bool   `json:"streamable"`
}

type AddTorrentResponse struct {
	ID   string `json:"id"`
	URI  string `json:"uri"`
	Hash string `json:"hash"`
}

// wire shapes, decoded as sent by the API

type rawTorrent struct {
	ID       string   `json:"id"`
	Filename string   `json:"filename"`
	Hash     string   `json:"hash"`
	Bytes    int64    `json:"bytes"`
	Status   string   `json:"status"`
	Progress float64  `json:"progress"`
	Added    string   `json:"added"`
	Ended    string   `json:"ended,omitempty"`
	Links    []string `json:"links"`
}

type rawFile struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Selected int    `json:"selected"`
}

type rawTorrentInfo struct {
	rawTorrent
	OriginalFilename string    `json:"original_filename"`
	Files            []rawFile `json:"files"`
}

type rawUnrestrictedLink struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mimeType"`
	Filesize   int64  `json:"filesize"`
	Link       string `json:"link"`
	Host       string `json:"host"`
	Download   string `json:"download"`
	Streamable int    `json:"streamable"`
}

func (r rawTorrent) toTorrent() Torrent {
	t := Torrent{
		ID:       strings.TrimSpace(r.ID),
		Filename: r.Filename,
		Hash:     strings.ToLower(strings.TrimSpace(r.Hash)),
		Bytes:    r.Bytes,
		Status:   Status(strings.TrimSpace(r.Status)),
		Progress: clampProgress(r.Progress),
		Ended:    r.Ended,
	}
	if added, ok := ParseTime(r.Added); ok {
		t.Added = added
	}
	if ended, ok := ParseTime(r.Ended); ok {
		t.EndedAt = ended
		t.HasEnded = true
	}
	return t
}

func (r rawTorrentInfo) toTorrentInfo() *TorrentInfo {
	info := &TorrentInfo{
		Torrent:          r.rawTorrent.toTorrent(),
		OriginalFilename: r.OriginalFilename,
		Files:            make([]File, 0, len(r.Files)),
		Links:            r.Links,
	}
	if info.Links == nil {
		info.Links = []string{}
	}
	for _, f := range r.Files {
		info.Files = append(info.Files, File{
			ID:       f.ID,
			Path:     strings.TrimPrefix(f.Path, "/"),
			Bytes:    f.Bytes,
			Selected: f.Selected == 1,
		})
	}
	return info
}

func (r rawUnrestrictedLink) toUnrestrictedLink() *UnrestrictedLink {
	return &UnrestrictedLink{
		ID:         r.ID,
		Filename:   r.Filename,
		MimeType:   r.MimeType,
		Filesize:   r.Filesize,
		Link:       r.Link,
		Host:       r.Host,
		Download:   r.Download,
		Streamable: r.Streamable == 1,
	}
}

func clampProgress(p float64) int {
	if math.IsNaN(p) || p <= 0 {
		return 0
	}
	if p >= 100 {
		return 100
	}
	return int(p)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime accepts RFC3339 with or without fractional seconds. Empty or
// unparsable input reports false.
func ParseTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
