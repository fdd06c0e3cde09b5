// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/rdwatch/internal/models"
	"github.com/autobrr/rdwatch/internal/playback"
	"github.com/autobrr/rdwatch/internal/realdebrid"
	"github.com/autobrr/rdwatch/internal/tracker"
)

const maxBodySize = 1 << 20

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("Failed to encode JSON response")
		}
	}
}

// RespondError sends an error response
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{
		Error: message,
	})
}

// DecodeJSON decodes the request body into the provided struct.
// Returns false if decoding fails (error already sent to client).
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request, dest *T) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(dest); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// ParseStringParam extracts a trimmed URL parameter, responding 400 when it is empty.
func ParseStringParam(w http.ResponseWriter, r *http.Request, paramName, displayName string) (string, bool) {
	value := strings.TrimSpace(chi.URLParam(r, paramName))
	if value == "" {
		RespondError(w, http.StatusBadRequest, displayName+" is required")
		return "", false
	}
	return value, true
}

func ParseTorrentHash(w http.ResponseWriter, r *http.Request) (string, bool) {
	return ParseStringParam(w, r, "hash", "Torrent hash")
}

func ParseTorrentID(w http.ResponseWriter, r *http.Request) (string, bool) {
	return ParseStringParam(w, r, "id", "Torrent ID")
}

func ParseIntParam(w http.ResponseWriter, r *http.Request, paramName, displayName string) (int, bool) {
	str, ok := ParseStringParam(w, r, paramName, displayName)
	if !ok {
		return 0, false
	}
	value, err := strconv.Atoi(str)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid "+displayName)
		return 0, false
	}
	return value, true
}

// errorStatus maps domain errors onto HTTP status codes. Missing data is a
// client problem, a file without a link is a conflict with remote state and
// anything else from the debrid API is a bad gateway.
func errorStatus(err error) int {
	var apiErr *realdebrid.APIError

	switch {
	case errors.Is(err, realdebrid.ErrMissingToken), errors.Is(err, tracker.ErrMissingCredential):
		return http.StatusPreconditionFailed
	case errors.Is(err, realdebrid.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, realdebrid.ErrInvalidMagnet), errors.Is(err, realdebrid.ErrEmptySelection):
		return http.StatusBadRequest
	case errors.Is(err, playback.ErrNoFiles), errors.Is(err, playback.ErrNoLinks):
		return http.StatusUnprocessableEntity
	case errors.Is(err, playback.ErrFileNotFound), errors.Is(err, models.ErrLastPlayedNotFound):
		return http.StatusNotFound
	case errors.Is(err, playback.ErrLinkNotFound):
		return http.StatusConflict
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
		return http.StatusNotFound
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondErr writes err with its mapped status and logs server side failures.
func respondErr(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg(message)
		RespondError(w, status, message)
		return
	}

	log.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg(message)
	RespondError(w, status, err.Error())
}
