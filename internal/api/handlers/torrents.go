// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/autobrr/rdwatch/internal/tracker"
)

// TorrentTracker is the part of the tracker service the API reads.
type TorrentTracker interface {
	Running() bool
	GetTorrent(hash string) (tracker.TrackedTorrent, bool)
	GetAllTorrents() []tracker.TrackedTorrent
	GetDownloadingTorrents() []tracker.TrackedTorrent
	TrackTorrent(hash string, t tracker.TrackedTorrent)
	AddListener(hash string, fn tracker.Listener) tracker.Subscription
	RemoveListener(sub tracker.Subscription)
}

// TorrentView is a tracked torrent with its derived fields.
type TorrentView struct {
	tracker.TrackedTorrent
	Message     string `json:"message"`
	Downloading bool   `json:"downloading"`
}

func NewTorrentView(t tracker.TrackedTorrent) TorrentView {
	return TorrentView{
		TrackedTorrent: t,
		Message:        t.Message(),
		Downloading:    t.IsActive(),
	}
}

func newTorrentViews(ts []tracker.TrackedTorrent) []TorrentView {
	out := make([]TorrentView, len(ts))
	for i, t := range ts {
		out[i] = NewTorrentView(t)
	}
	return out
}

type TorrentsHandler struct {
	tracker TorrentTracker
}

func NewTorrentsHandler(tracker TorrentTracker) *TorrentsHandler {
	return &TorrentsHandler{tracker: tracker}
}

func (h *TorrentsHandler) ListTorrents(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, newTorrentViews(h.tracker.GetAllTorrents()))
}

func (h *TorrentsHandler) ListDownloading(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, newTorrentViews(h.tracker.GetDownloadingTorrents()))
}

func (h *TorrentsHandler) GetTorrent(w http.ResponseWriter, r *http.Request) {
	hash, ok := ParseTorrentHash(w, r)
	if !ok {
		return
	}

	t, found := h.tracker.GetTorrent(hash)
	if !found {
		RespondError(w, http.StatusNotFound, "Torrent is not tracked")
		return
	}

	RespondJSON(w, http.StatusOK, NewTorrentView(t))
}
