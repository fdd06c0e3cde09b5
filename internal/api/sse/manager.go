// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package sse

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmaxmax/go-sse"

	"github.com/autobrr/rdwatch/internal/api/handlers"
	"github.com/autobrr/rdwatch/internal/tracker"
)

const (
	streamEventConnected = "connected"
	streamEventUpdate    = "update"
	streamEventFinished  = "finished"
	streamEventHeartbeat = "heartbeat"
	heartbeatInterval    = 15 * time.Second
)

type ctxKey string

const topicContextKey ctxKey = "rdwatch.sse.topic"

// TorrentSource is the part of the tracker a stream follows.
type TorrentSource interface {
	GetTorrent(hash string) (tracker.TrackedTorrent, bool)
	AddListener(hash string, fn tracker.Listener) tracker.Subscription
	RemoveListener(sub tracker.Subscription)
}

// StreamPayload is the message envelope sent to clients.
type StreamPayload struct {
	Type      string                `json:"type"`
	Hash      string                `json:"hash,omitempty"`
	Torrent   *handlers.TorrentView `json:"torrent,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

type Option func(*StreamManager)

// WithHeartbeat sets the interval of heartbeat events. Zero disables them.
func WithHeartbeat(d time.Duration) Option {
	return func(m *StreamManager) { m.heartbeat = d }
}

// StreamManager owns the SSE server and fans tracker updates out to sessions.
// Every torrent hash is one topic. A session ends after it has been sent a
// finished event.
//
// Lock order: m.mu before the tracker's listener lock. Listener callbacks only
// take m.pendingMu.
type StreamManager struct {
	server    *sse.Server
	provider  *sessionProvider
	source    TorrentSource
	heartbeat time.Duration

	closing atomic.Bool

	mu     sync.Mutex
	topics map[string]*topicState

	pendingMu sync.Mutex
	pending   map[string]tracker.TrackedTorrent
	wake      chan struct{}

	ctx    context.Context //nolint:containedctx // lifecycle root for the dispatch and heartbeat loops
	cancel context.CancelFunc
}

type topicState struct {
	sessions int
	sub      tracker.Subscription
}

// NewStreamManager constructs a manager and starts its dispatch loop.
func NewStreamManager(source TorrentSource, opts ...Option) *StreamManager {
	replayer, err := sse.NewFiniteReplayer(4, true)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create SSE replayer; reconnecting clients may miss events")
		replayer = nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &StreamManager{
		source:    source,
		heartbeat: heartbeatInterval,
		topics:    make(map[string]*topicState),
		pending:   make(map[string]tracker.TrackedTorrent),
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.provider = &sessionProvider{
		Provider: &sse.Joe{Replayer: replayer},
		initial:  m.initialMessages,
	}
	m.server = &sse.Server{Provider: m.provider}
	m.server.OnSession = m.onSession

	go m.dispatchLoop()
	if m.heartbeat > 0 {
		go m.heartbeatLoop()
	}

	return m
}

func topicFor(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}

// Serve implements GET /torrents/{hash}/events.
func (m *StreamManager) Serve(w http.ResponseWriter, r *http.Request) {
	if m.closing.Load() {
		http.Error(w, "stream shutting down", http.StatusServiceUnavailable)
		return
	}

	hash, ok := handlers.ParseTorrentHash(w, r)
	if !ok {
		return
	}

	topic := topicFor(hash)
	m.register(topic)
	defer m.unregister(topic)

	req := r.WithContext(context.WithValue(r.Context(), topicContextKey, topic))

	// event streams outlive any server write deadline
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	// ServeHTTP blocks until the client disconnects or the torrent finishes.
	m.server.ServeHTTP(w, req)
}

func (m *StreamManager) onSession(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	if m.closing.Load() {
		http.Error(w, "stream shutting down", http.StatusServiceUnavailable)
		return nil, false
	}

	topic, _ := r.Context().Value(topicContextKey).(string)
	if topic == "" {
		http.Error(w, "missing torrent hash", http.StatusBadRequest)
		return nil, false
	}

	return []string{topic}, true
}

func (m *StreamManager) register(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.topics[topic]
	if !ok {
		state = &topicState{}
		state.sub = m.source.AddListener(topic, func(t tracker.TrackedTorrent) {
			m.enqueue(topic, t)
		})
		m.topics[topic] = state
	}
	state.sessions++
}

func (m *StreamManager) unregister(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.topics[topic]
	if !ok {
		return
	}

	state.sessions--
	if state.sessions > 0 {
		return
	}

	m.source.RemoveListener(state.sub)
	delete(m.topics, topic)
}

func (m *StreamManager) activeTopics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	topics := make([]string, 0, len(m.topics))
	for topic := range m.topics {
		topics = append(topics, topic)
	}
	return topics
}

// enqueue keeps only the latest state per topic so tracker refreshes never
// wait on slow clients.
func (m *StreamManager) enqueue(topic string, t tracker.TrackedTorrent) {
	if m.closing.Load() {
		return
	}

	m.pendingMu.Lock()
	m.pending[topic] = t
	m.pendingMu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *StreamManager) dispatchLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.wake:
		}

		m.pendingMu.Lock()
		batch := m.pending
		m.pending = make(map[string]tracker.TrackedTorrent, len(batch))
		m.pendingMu.Unlock()

		for topic, t := range batch {
			m.publish(torrentPayload(topic, t), topic)
		}
	}
}

func (m *StreamManager) heartbeatLoop() {
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if topics := m.activeTopics(); len(topics) > 0 {
				m.publish(&StreamPayload{Type: streamEventHeartbeat, Timestamp: time.Now()}, topics...)
			}
		}
	}
}

func (m *StreamManager) initialMessages(topic string) []*sse.Message {
	payloads := []*StreamPayload{{Type: streamEventConnected, Hash: topic, Timestamp: time.Now()}}
	if t, ok := m.source.GetTorrent(topic); ok {
		payloads = append(payloads, torrentPayload(topic, t))
	}

	messages := make([]*sse.Message, 0, len(payloads))
	for _, payload := range payloads {
		message, err := newMessage(payload)
		if err != nil {
			log.Error().Err(err).Str("hash", topic).Msg("Failed to marshal SSE payload")
			continue
		}
		messages = append(messages, message)
	}
	return messages
}

func torrentPayload(topic string, t tracker.TrackedTorrent) *StreamPayload {
	view := handlers.NewTorrentView(t)
	payload := &StreamPayload{Type: streamEventUpdate, Hash: topic, Torrent: &view, Timestamp: time.Now()}
	if !t.IsActive() {
		payload.Type = streamEventFinished
	}
	return payload
}

func newMessage(payload *StreamPayload) (*sse.Message, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	message := &sse.Message{Type: sse.Type(payload.Type)}
	message.AppendData(string(encoded))
	return message, nil
}

func (m *StreamManager) publish(payload *StreamPayload, topics ...string) {
	message, err := newMessage(payload)
	if err != nil {
		log.Error().Err(err).Strs("topics", topics).Msg("Failed to marshal SSE payload")
		return
	}

	if err := m.server.Publish(message, topics...); err != nil && !errors.Is(err, sse.ErrProviderClosed) {
		log.Error().Err(err).Strs("topics", topics).Msg("Failed to publish SSE message")
	}
}

// Shutdown stops the loops and closes every open session.
func (m *StreamManager) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}

	if !m.closing.CompareAndSwap(false, true) {
		return nil
	}

	m.cancel()

	if ctx == nil {
		ctx = context.Background()
	}

	if err := m.server.Shutdown(ctx); err != nil &&
		!errors.Is(err, sse.ErrProviderClosed) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return nil
}
