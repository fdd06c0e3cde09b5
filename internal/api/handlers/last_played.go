// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"

	"github.com/autobrr/rdwatch/internal/models"
)

type LastPlayedStore interface {
	Get(ctx context.Context, key string) (*models.LastPlayed, error)
	Delete(ctx context.Context, key string) error
}

type LastPlayedHandler struct {
	store LastPlayedStore
}

func NewLastPlayedHandler(store LastPlayedStore) *LastPlayedHandler {
	return &LastPlayedHandler{store: store}
}

func (h *LastPlayedHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, ok := ParseStringParam(w, r, "key", "Key")
	if !ok {
		return
	}

	lp, err := h.store.Get(r.Context(), key)
	if err != nil {
		respondErr(w, r, err, "Failed to load last played file")
		return
	}

	RespondJSON(w, http.StatusOK, lp)
}

func (h *LastPlayedHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key, ok := ParseStringParam(w, r, "key", "Key")
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), key); err != nil {
		respondErr(w, r, err, "Failed to delete last played file")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
