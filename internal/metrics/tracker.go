// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/autobrr/rdwatch/internal/realdebrid"
)

// TrackerRecorder exposes poll statistics of the tracker service.
type TrackerRecorder struct {
	torrents    *prometheus.GaugeVec
	refreshes   *prometheus.CounterVec
	completions prometheus.Counter

	mu   sync.Mutex
	seen map[realdebrid.Status]struct{}
}

func NewTrackerRecorder() *TrackerRecorder {
	return &TrackerRecorder{
		torrents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rdwatch",
			Subsystem: "tracker",
			Name:      "torrents",
			Help:      "Number of tracked torrents by remote status",
		}, []string{"status"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rdwatch",
			Subsystem: "tracker",
			Name:      "refresh_total",
			Help:      "Number of refresh attempts by result",
		}, []string{"result"}),
		completions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rdwatch",
			Subsystem: "tracker",
			Name:      "completions_total",
			Help:      "Number of completion notifications fired",
		}),
		seen: make(map[realdebrid.Status]struct{}),
	}
}

func (r *TrackerRecorder) register(reg prometheus.Registerer) {
	reg.MustRegister(r.torrents, r.refreshes, r.completions)
}

func (r *TrackerRecorder) RefreshCompleted(result string) {
	r.refreshes.WithLabelValues(result).Inc()
}

func (r *TrackerRecorder) CompletionFired() {
	r.completions.Inc()
}

// TorrentsTracked replaces the per status gauges. Statuses that disappeared
// since the previous call drop to zero.
func (r *TrackerRecorder) TorrentsTracked(counts map[realdebrid.Status]int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for status := range r.seen {
		if _, ok := counts[status]; !ok {
			r.torrents.WithLabelValues(string(status)).Set(0)
		}
	}
	for status, n := range counts {
		r.seen[status] = struct{}{}
		r.torrents.WithLabelValues(string(status)).Set(float64(n))
	}
}
