// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tracker

import (
	"strings"
	"time"

	"github.com/autobrr/rdwatch/internal/realdebrid"
)

// TrackedTorrent is the last known remote state of one torrent.
type TrackedTorrent struct {
	Hash     string            `json:"hash"`
	ID       string            `json:"id"`
	Filename string            `json:"filename"`
	Bytes    int64             `json:"bytes"`
	Status   realdebrid.Status `json:"status"`
	Progress int               `json:"progress"`
	Added    time.Time         `json:"added"`
	Ended    string            `json:"ended,omitempty"`
	EndedAt  time.Time         `json:"endedAt,omitzero"`
	HasEnded bool              `json:"hasEnded"`
	// UpdatedAt is the local time of the poll that produced this state.
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsActive reports whether the torrent is still being worked on remotely.
func (t TrackedTorrent) IsActive() bool {
	return t.Status.IsActive()
}

// Message is the human readable status line.
func (t TrackedTorrent) Message() string {
	return t.Status.Message(t.Progress)
}

// FromRemote converts a list entry returned by the API client.
func FromRemote(rt realdebrid.Torrent, now time.Time) TrackedTorrent {
	return TrackedTorrent{
		Hash:      normalizeHash(rt.Hash),
		ID:        rt.ID,
		Filename:  rt.Filename,
		Bytes:     rt.Bytes,
		Status:    rt.Status,
		Progress:  rt.Progress,
		Added:     rt.Added,
		Ended:     rt.Ended,
		EndedAt:   rt.EndedAt,
		HasEnded:  rt.HasEnded,
		UpdatedAt: now,
	}
}

func normalizeHash(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}

// expired is true only for downloaded torrents with a parsable end time older
// than window. Anything ambiguous is kept.
func (t TrackedTorrent) expired(now time.Time, window time.Duration) bool {
	if t.Status != realdebrid.StatusDownloaded || !t.HasEnded {
		return false
	}
	return now.Sub(t.EndedAt) > window
}
