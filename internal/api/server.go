// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/rdwatch/internal/api/handlers"
	"github.com/autobrr/rdwatch/internal/api/middleware"
	"github.com/autobrr/rdwatch/internal/api/sse"
	"github.com/autobrr/rdwatch/internal/config"
	"github.com/autobrr/rdwatch/internal/web/swagger"
)

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string

	tracker    handlers.TorrentTracker
	debrid     handlers.DebridClient
	resolver   handlers.Resolver
	lastPlayed handlers.LastPlayedStore
	streams    *sse.StreamManager
}

type Dependencies struct {
	Config     *config.AppConfig
	Version    string
	Tracker    handlers.TorrentTracker
	Debrid     handlers.DebridClient
	Resolver   handlers.Resolver
	LastPlayed handlers.LastPlayedStore
}

func NewServer(deps *Dependencies) *Server {
	s := Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			// event streams stay open, so no WriteTimeout
			IdleTimeout: 180 * time.Second,
		},
		logger:     log.Logger.With().Str("module", "api").Logger(),
		config:     deps.Config,
		version:    deps.Version,
		tracker:    deps.Tracker,
		debrid:     deps.Debrid,
		resolver:   deps.Resolver,
		lastPlayed: deps.LastPlayed,
		streams:    sse.NewStreamManager(deps.Tracker),
	}

	return &s
}

func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	addr := net.JoinHostPort(s.config.Config.Host, strconv.Itoa(s.config.Config.Port))

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msg("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	host := listener.Addr().String()
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Str("base_url", s.config.Config.BaseURL).
		Msgf("Starting API server - Open: http://%s%s", host, s.config.Config.BaseURL)

	handler, err := s.Handler()
	if err != nil {
		listener.Close()
		return fmt.Errorf("build API router: %w", err)
	}

	s.server.Handler = handler

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	// open event streams would otherwise hold http.Server.Shutdown until ctx expires
	if err := s.streams.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to shut down event streams")
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() (*chi.Mux, error) {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)

	compressor, err := httpcompression.DefaultAdapter(
		httpcompression.MinSize(1024),
		httpcompression.GzipCompressionLevel(2),
		httpcompression.Prefer(httpcompression.PreferServer),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowCredentials: true,
		AllowedMethods:   []string{"HEAD", "OPTIONS", "GET", "POST", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowOriginFunc:  func(origin string) bool { return true },
		MaxAge:           300,
	})
	r.Use(corsMiddleware.Handler)

	healthHandler := handlers.NewHealthHandler(s.version, s.tracker)
	torrentsHandler := handlers.NewTorrentsHandler(s.tracker)
	debridHandler := handlers.NewDebridHandler(s.debrid, s.resolver, s.tracker)
	lastPlayedHandler := handlers.NewLastPlayedHandler(s.lastPlayed)

	apiRouter := chi.NewRouter()
	apiRouter.Use(middleware.Logger(s.logger))

	apiRouter.Get("/health", healthHandler.HandleHealth)

	apiRouter.Route("/torrents", func(r chi.Router) {
		r.Get("/", torrentsHandler.ListTorrents)
		r.Get("/downloading", torrentsHandler.ListDownloading)

		r.Route("/{hash}", func(r chi.Router) {
			r.Get("/", torrentsHandler.GetTorrent)
			r.Get("/events", s.streams.Serve)
		})
	})

	apiRouter.Route("/debrid/{id}", func(r chi.Router) {
		r.Get("/files", debridHandler.GetFiles)
		r.Post("/selection", debridHandler.SubmitSelection)
		r.Post("/resolve", debridHandler.Resolve)
		r.Get("/playlist", debridHandler.Playlist)
	})

	apiRouter.Route("/last-played/{key}", func(r chi.Router) {
		r.Get("/", lastPlayedHandler.Get)
		r.Delete("/", lastPlayedHandler.Delete)
	})

	apiRouter.Post("/magnets", debridHandler.AddMagnet)

	swaggerHandler, err := swagger.NewHandler(s.config.Config.BaseURL)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize OpenAPI handler")
	} else {
		swaggerHandler.RegisterRoutes(apiRouter)
	}

	baseURL := s.config.Config.BaseURL
	if baseURL == "" {
		baseURL = "/"
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	mount := func(r chi.Router) {
		r.Mount("/api", apiRouter)
		if s.config.Config.PprofEnabled {
			r.Mount("/debug", chimiddleware.Profiler())
		}
	}

	if baseURL == "/" {
		mount(r)
	} else {
		r.Route(strings.TrimSuffix(baseURL, "/"), mount)
		r.Get("/", func(w http.ResponseWriter, request *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("Must use baseUrl: " + s.config.Config.BaseURL + " instead of /"))
		})
	}

	return r, nil
}
