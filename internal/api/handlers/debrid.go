// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/rdwatch/internal/filelist"
	"github.com/autobrr/rdwatch/internal/playback"
	"github.com/autobrr/rdwatch/internal/realdebrid"
	"github.com/autobrr/rdwatch/internal/tracker"
)

// DebridClient covers the one-shot calls the API makes on behalf of clients.
type DebridClient interface {
	GetTorrent(ctx context.Context, id string) (*realdebrid.TorrentInfo, error)
	SelectFiles(ctx context.Context, id string, fileIDs []int) error
	AddMagnet(ctx context.Context, magnet string) (*realdebrid.AddTorrentResponse, error)
}

type Resolver interface {
	Resolve(ctx context.Context, torrentID string, fileID int) (*playback.Resolution, error)
	ResolveAll(ctx context.Context, torrentID string) ([]*playback.Resolution, error)
}

type DebridHandler struct {
	client   DebridClient
	resolver Resolver
	tracker  TorrentTracker
	now      func() time.Time
}

func NewDebridHandler(client DebridClient, resolver Resolver, tracker TorrentTracker) *DebridHandler {
	return &DebridHandler{
		client:   client,
		resolver: resolver,
		tracker:  tracker,
		now:      time.Now,
	}
}

type FilesResponse struct {
	ID          string        `json:"id"`
	Filename    string        `json:"filename"`
	Hash        string        `json:"hash"`
	Status      string        `json:"status"`
	View        filelist.View `json:"view"`
	Selected    int           `json:"selected"`
	Total       int           `json:"total"`
	AllSelected bool          `json:"allSelected"`
}

// GetFiles returns the sorted, grouped and filtered file list of a torrent.
func (h *DebridHandler) GetFiles(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseTorrentID(w, r)
	if !ok {
		return
	}

	opts, ok := parseViewOptions(w, r)
	if !ok {
		return
	}

	info, err := h.client.GetTorrent(r.Context(), id)
	if err != nil {
		respondErr(w, r, err, "Failed to get torrent files")
		return
	}

	selection := filelist.NewSelection(info.Files)
	RespondJSON(w, http.StatusOK, FilesResponse{
		ID:          info.ID,
		Filename:    info.Filename,
		Hash:        info.Hash,
		Status:      string(info.Status),
		View:        filelist.Build(info.Files, opts),
		Selected:    selection.Count(),
		Total:       selection.Total(),
		AllSelected: selection.AllSelected(),
	})
}

func parseViewOptions(w http.ResponseWriter, r *http.Request) (filelist.Options, bool) {
	q := r.URL.Query()

	dir, ok := filelist.ParseDirection(q.Get("sort"))
	if !ok {
		RespondError(w, http.StatusBadRequest, "Invalid sort direction")
		return filelist.Options{}, false
	}
	typ, ok := filelist.ParseTypeFilter(q.Get("type"))
	if !ok {
		RespondError(w, http.StatusBadRequest, "Invalid type filter")
		return filelist.Options{}, false
	}
	match, ok := filelist.ParseMatchMode(q.Get("match"))
	if !ok {
		RespondError(w, http.StatusBadRequest, "Invalid match mode")
		return filelist.Options{}, false
	}

	return filelist.Options{
		Direction: dir,
		Query:     q.Get("q"),
		Type:      typ,
		Match:     match,
	}, true
}

type SelectionRequest struct {
	FileIDs []int `json:"fileIds"`
	// Only replaces the selection with a whole class of files: video, subtitle or all.
	Only string `json:"only"`
}

type SelectionResponse struct {
	FileIDs []int       `json:"fileIds"`
	Torrent TorrentView `json:"torrent"`
}

// SubmitSelection selects files on the remote torrent and starts tracking it.
func (h *DebridHandler) SubmitSelection(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseTorrentID(w, r)
	if !ok {
		return
	}

	var req SelectionRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	info, err := h.client.GetTorrent(r.Context(), id)
	if err != nil {
		respondErr(w, r, err, "Failed to get torrent files")
		return
	}

	selection := filelist.NewSelection(info.Files)
	switch strings.ToLower(strings.TrimSpace(req.Only)) {
	case "":
		known := make(map[int]struct{}, len(info.Files))
		for _, f := range info.Files {
			known[f.ID] = struct{}{}
		}
		for _, fid := range req.FileIDs {
			if _, exists := known[fid]; !exists {
				RespondError(w, http.StatusBadRequest, "Unknown file id in selection")
				return
			}
		}
		selection.Set(req.FileIDs)
	case "all":
		selection.SelectAll()
	case "video":
		selection.SelectOnlyVideo()
	case "subtitle", "subtitles":
		selection.SelectOnlySubtitles()
	default:
		RespondError(w, http.StatusBadRequest, "Invalid selection filter")
		return
	}

	if !selection.CanSubmit() {
		RespondError(w, http.StatusBadRequest, "Selection is empty")
		return
	}

	ids := selection.IDs()
	if err := h.client.SelectFiles(r.Context(), id, ids); err != nil {
		respondErr(w, r, err, "Failed to select files")
		return
	}

	t := h.trackAfterSelection(r.Context(), info)
	RespondJSON(w, http.StatusOK, SelectionResponse{FileIDs: ids, Torrent: NewTorrentView(t)})
}

// trackAfterSelection refreshes the torrent so the tracked entry carries the
// post-selection status, falling back to queued when the refresh fails.
func (h *DebridHandler) trackAfterSelection(ctx context.Context, info *realdebrid.TorrentInfo) tracker.TrackedTorrent {
	current := info.Torrent
	if refreshed, err := h.client.GetTorrent(ctx, info.ID); err == nil {
		current = refreshed.Torrent
	} else {
		log.Warn().Err(err).Str("id", info.ID).Msg("Failed to refresh torrent after selection")
		current.Status = realdebrid.StatusQueued
	}
	if current.Hash == "" {
		current.Hash = info.Hash
	}

	t := tracker.FromRemote(current, h.now())
	h.tracker.TrackTorrent(t.Hash, t)
	return t
}

type ResolveRequest struct {
	FileID int `json:"fileId"`
}

func (h *DebridHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseTorrentID(w, r)
	if !ok {
		return
	}

	var req ResolveRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	res, err := h.resolver.Resolve(r.Context(), id, req.FileID)
	if err != nil {
		respondErr(w, r, err, "Failed to resolve playback link")
		return
	}

	RespondJSON(w, http.StatusOK, res)
}

// Playlist resolves every selected video of the torrent in natural order.
func (h *DebridHandler) Playlist(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseTorrentID(w, r)
	if !ok {
		return
	}

	items, err := h.resolver.ResolveAll(r.Context(), id)
	if err != nil {
		respondErr(w, r, err, "Failed to build playlist")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{"items": items})
}

type MagnetRequest struct {
	Magnet string `json:"magnet"`
}

type MagnetResponse struct {
	ID      string      `json:"id"`
	Hash    string      `json:"hash"`
	Torrent TorrentView `json:"torrent"`
}

// AddMagnet submits a magnet and tracks the new torrent right away.
func (h *DebridHandler) AddMagnet(w http.ResponseWriter, r *http.Request) {
	var req MagnetRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Magnet) == "" {
		RespondError(w, http.StatusBadRequest, "Magnet is required")
		return
	}

	resp, err := h.client.AddMagnet(r.Context(), req.Magnet)
	if err != nil {
		respondErr(w, r, err, "Failed to add magnet")
		return
	}

	now := h.now()
	t := tracker.TrackedTorrent{
		Hash:      resp.Hash,
		ID:        resp.ID,
		Status:    realdebrid.StatusMagnetConversion,
		Added:     now,
		UpdatedAt: now,
	}
	h.tracker.TrackTorrent(t.Hash, t)

	RespondJSON(w, http.StatusCreated, MagnetResponse{ID: resp.ID, Hash: resp.Hash, Torrent: NewTorrentView(t)})
}
