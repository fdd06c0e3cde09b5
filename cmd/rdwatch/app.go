// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/rdwatch/internal/api"
	"github.com/autobrr/rdwatch/internal/buildinfo"
	"github.com/autobrr/rdwatch/internal/config"
	"github.com/autobrr/rdwatch/internal/database"
	"github.com/autobrr/rdwatch/internal/domain"
	"github.com/autobrr/rdwatch/internal/metrics"
	"github.com/autobrr/rdwatch/internal/models"
	"github.com/autobrr/rdwatch/internal/playback"
	"github.com/autobrr/rdwatch/internal/realdebrid"
	"github.com/autobrr/rdwatch/internal/services/hooks"
	"github.com/autobrr/rdwatch/internal/tracker"
)

type Application struct {
	configDir string
	dataDir   string
	logPath   string
	pprofFlag bool
}

func NewApplication(configDir, dataDir, logPath string, pprofFlag bool) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
		pprofFlag: pprofFlag,
	}
}

func debridConfig(token string, cfg *config.AppConfig) realdebrid.Config {
	return realdebrid.Config{
		BaseURL:   cfg.Config.APIBaseURL,
		Token:     token,
		Timeout:   cfg.Config.APITimeout,
		UserAgent: buildinfo.UserAgent,
		RateLimit: cfg.Config.APIRateLimit,
	}
}

func trackerConfig(c *domain.Config) tracker.Config {
	return tracker.Config{
		PollInterval: c.PollInterval,
		PruneAfter:   c.PruneAfter,
		PageSize:     c.PageSize,
	}
}

// tokenWatcher restarts the tracker when the configured token changes.
type tokenWatcher struct {
	mu      sync.Mutex
	ctx     context.Context
	tracker *tracker.Service
	token   string
}

func (w *tokenWatcher) apply(token string) {
	token = strings.TrimSpace(token)

	w.mu.Lock()
	defer w.mu.Unlock()

	if token == w.token {
		return
	}
	w.token = token

	if token == "" {
		log.Warn().Msg("API token removed, stopping tracker")
		w.tracker.Stop()
		return
	}

	log.Info().Msg("API token changed, restarting tracker")
	if err := w.tracker.Start(w.ctx, token); err != nil {
		log.Error().Err(err).Msg("Failed to start tracker")
	}
}

func (app *Application) runServer() {
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	if app.dataDir != "" {
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		cfg.Config.LogPath = app.logPath
	}
	if app.pprofFlag {
		cfg.Config.PprofEnabled = true
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Str("config", cfg.ConfigFileUsed()).Msg("Starting rdwatch")

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	lastPlayedStore := models.NewLastPlayedStore(db)

	provider := realdebrid.NewProvider(debridConfig(cfg.Config.APIToken, cfg))
	defer provider.Close()

	hookRunner := hooks.NewRunner(cfg.Config.CompletionCommand, cfg.Config.CompletionTimeout)

	trackerOpts := []tracker.Option{
		tracker.WithCompletionHandler(hookRunner.Handler()),
	}

	var metricsServer *metrics.Server
	if cfg.Config.MetricsEnabled {
		metricsManager := metrics.NewMetricsManager()
		trackerOpts = append(trackerOpts, tracker.WithMetrics(metricsManager.Tracker()))
		metricsServer = metrics.NewMetricsServer(metricsManager, cfg.Config.MetricsHost, cfg.Config.MetricsPort)
	}

	trackerService := tracker.NewService(
		trackerConfig(cfg.Config),
		func(credential string) (tracker.TorrentLister, error) {
			return provider.ForToken(credential), nil
		},
		trackerOpts...,
	)

	trackerCtx, trackerCancel := context.WithCancel(context.Background())
	defer trackerCancel()

	watcher := &tokenWatcher{ctx: trackerCtx, tracker: trackerService}

	cfg.RegisterReloadListener(func(conf *domain.Config) {
		provider.Update(debridConfig(conf.APIToken, cfg))
		hookRunner.Configure(conf.CompletionCommand, conf.CompletionTimeout)
		trackerService.Reconfigure(trackerConfig(conf))
		watcher.apply(conf.APIToken)
	})

	resolver := playback.NewResolver(provider, lastPlayedStore)

	httpServer := api.NewServer(&api.Dependencies{
		Config:     cfg,
		Version:    buildinfo.Version,
		Tracker:    trackerService,
		Debrid:     provider,
		Resolver:   resolver,
		LastPlayed: lastPlayedStore,
	})

	errorChannel := make(chan error, 2)
	serverReady := make(chan struct{}, 1)
	go func() {
		if err := httpServer.ListenAndServeReady(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChannel <- err
		}
	}()

	select {
	case <-serverReady:
	case err := <-errorChannel:
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	if metricsServer != nil {
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil {
				errorChannel <- err
			}
		}()
	}

	if cfg.Config.HasAPIToken() {
		// first refresh runs before we wait for signals
		watcher.apply(cfg.Config.APIToken)
	} else {
		log.Warn().Msg("No API token configured, tracker is idle until one is set with set-token")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down server", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from server")
	}

	trackerService.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("got error during metrics server shutdown")
		}
	}

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")
	}

	hookRunner.Wait()

	log.Info().Msg("Server stopped")
}
