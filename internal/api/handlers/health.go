// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
)

type HealthHandler struct {
	version string
	tracker interface{ Running() bool }
}

func NewHealthHandler(version string, tracker interface{ Running() bool }) *HealthHandler {
	return &HealthHandler{version: version, tracker: tracker}
}

// HandleHealth reports liveness plus whether the poller is running.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	running := false
	if h.tracker != nil {
		running = h.tracker.Running()
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  h.version,
		"tracking": running,
	})
}
