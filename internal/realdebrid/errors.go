// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package realdebrid

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrUnauthorized   = errors.New("realdebrid: invalid or expired token")
	ErrInvalidMagnet  = errors.New("realdebrid: invalid magnet link")
	ErrMissingToken   = errors.New("realdebrid: api token is required")
	ErrEmptySelection = errors.New("realdebrid: no files selected")
)

// APIError is a non-2xx response. Code and Message come from the JSON error body
// when the server sends one.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"error_code,omitempty"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("realdebrid returned status %d", e.StatusCode)
	}
	if e.Code != 0 {
		return fmt.Sprintf("realdebrid returned status %d: %s (code %d)", e.StatusCode, e.Message, e.Code)
	}
	return fmt.Sprintf("realdebrid returned status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	if target != ErrUnauthorized {
		return false
	}
	// error_code 8 is "bad_token", sometimes sent with 403.
	return e.StatusCode == http.StatusUnauthorized || (e.StatusCode == http.StatusForbidden && e.Code == 8)
}

// IsTransient reports whether a request may succeed if repeated unchanged.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
