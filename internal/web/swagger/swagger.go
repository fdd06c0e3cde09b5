// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package swagger

import (
	_ "embed"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openapiYAML []byte

// GetOpenAPISpec returns the embedded OpenAPI document.
func GetOpenAPISpec() ([]byte, error) {
	if len(openapiYAML) == 0 {
		return nil, errors.New("openapi spec is not embedded")
	}
	return openapiYAML, nil
}

type Handler struct {
	baseURL string
	spec    []byte
}

// NewHandler validates the embedded document and rewrites its server URL to baseURL.
func NewHandler(baseURL string) (*Handler, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(openapiYAML, &doc); err != nil {
		return nil, err
	}

	if baseURL == "" {
		baseURL = "/"
	}
	serverURL := strings.TrimSuffix(baseURL, "/")
	if serverURL == "" {
		serverURL = "/"
	}
	doc["servers"] = []map[string]any{{"url": serverURL}}

	spec, err := yaml.Marshal(doc)
	if err != nil {
		return nil, err
	}

	return &Handler{baseURL: baseURL, spec: spec}, nil
}

// RegisterRoutes serves the document at /openapi.yaml relative to r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/openapi.yaml", h.ServeSpec)
}

func (h *Handler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(h.spec)
}
