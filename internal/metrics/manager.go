// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

type Manager struct {
	registry *prometheus.Registry
	tracker  *TrackerRecorder
}

func NewMetricsManager() *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	tracker := NewTrackerRecorder()
	tracker.register(registry)

	log.Info().Msg("Metrics manager initialized with tracker recorder")

	return &Manager{
		registry: registry,
		tracker:  tracker,
	}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// Tracker returns the recorder to hand to the tracker service.
func (m *Manager) Tracker() *TrackerRecorder {
	return m.tracker
}
