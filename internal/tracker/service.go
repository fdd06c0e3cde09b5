// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tracker

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/rdwatch/internal/realdebrid"
	"github.com/autobrr/rdwatch/pkg/observer"
)

var ErrMissingCredential = errors.New("tracker: api credential is required")

// Refresh outcomes reported to the metrics recorder.
const (
	ResultSuccess   = "success"
	ResultError     = "error"
	ResultSkipped   = "skipped"
	ResultDiscarded = "discarded"
)

// Config controls poll cadence and retention.
type Config struct {
	PollInterval time.Duration
	PruneAfter   time.Duration
	PageSize     int
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		PruneAfter:   30 * time.Second,
		PageSize:     100,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.PruneAfter <= 0 {
		c.PruneAfter = def.PruneAfter
	}
	if c.PageSize <= 0 {
		c.PageSize = def.PageSize
	}
	return c
}

// TorrentLister is the part of the API client the poller needs.
type TorrentLister interface {
	ListTorrents(ctx context.Context, limit int) ([]realdebrid.Torrent, error)
}

// ClientFactory builds a credential-scoped API client.
type ClientFactory func(credential string) (TorrentLister, error)

type (
	Listener     = observer.Listener[TrackedTorrent]
	Subscription = observer.Subscription
)

// CompletionHandler is invoked once per hash when a tracked torrent finishes.
type CompletionHandler func(ctx context.Context, t TrackedTorrent)

// Recorder receives poll statistics.
type Recorder interface {
	RefreshCompleted(result string)
	CompletionFired()
	TorrentsTracked(counts map[realdebrid.Status]int)
}

type Option func(*Service)

func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithCompletionHandler(fn CompletionHandler) Option {
	return func(s *Service) { s.onComplete = fn }
}

func WithMetrics(r Recorder) Option {
	return func(s *Service) { s.metrics = r }
}

// Service polls the debrid account and keeps the state of in-progress torrents.
type Service struct {
	clientFactory ClientFactory
	clock         clockwork.Clock
	onComplete    CompletionHandler
	metrics       Recorder
	listeners     *observer.Subject[TrackedTorrent]
	log           zerolog.Logger

	mu         sync.Mutex
	cfg        Config
	torrents   map[string]TrackedTorrent
	notified   map[string]struct{}
	credential string
	client     TorrentLister
	generation uint64
	running    bool
	cancel     context.CancelFunc
	ticker     clockwork.Ticker
	rearm      chan struct{}
	// refreshGen is the generation of the refresh marked busy. A refresh left
	// over from a halted run never blocks the next run.
	refreshBusy bool
	refreshGen  uint64
}

// NewService constructs a Service. Nothing is polled until Start is called.
func NewService(cfg Config, clientFactory ClientFactory, opts ...Option) *Service {
	s := &Service{
		cfg:           cfg.normalize(),
		clientFactory: clientFactory,
		clock:         clockwork.NewRealClock(),
		listeners:     observer.NewSubject[TrackedTorrent](),
		torrents:      make(map[string]TrackedTorrent),
		notified:      make(map[string]struct{}),
		log:           log.With().Str("module", "tracker").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.listeners.OnPanic = func(key string, recovered any) {
		s.log.Error().Err(&observer.PanicError{Key: key, Value: recovered}).Msg("Torrent listener failed")
	}

	return s
}

// Start stops any previous run, performs one refresh and then polls on every
// tick until Stop is called or ctx is done.
func (s *Service) Start(ctx context.Context, credential string) error {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return ErrMissingCredential
	}
	if s.clientFactory == nil {
		return errors.New("tracker: no client factory configured")
	}

	client, err := s.clientFactory(credential)
	if err != nil {
		return errors.Wrap(err, "tracker: could not create api client")
	}

	s.mu.Lock()
	s.haltLocked()
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.credential = credential
	s.client = client
	s.running = true
	gen := s.generation
	s.mu.Unlock()

	s.log.Info().Dur("interval", s.config().PollInterval).Msg("Starting torrent tracker")

	s.Refresh(runCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		// stopped while the first refresh was in flight
		return nil
	}
	s.ticker = s.clock.NewTicker(s.cfg.PollInterval)
	s.rearm = make(chan struct{}, 1)
	go s.loop(runCtx, gen, s.rearm)

	return nil
}

func (s *Service) loop(ctx context.Context, gen uint64, rearm <-chan struct{}) {
	for {
		s.mu.Lock()
		if s.generation != gen || s.ticker == nil {
			s.mu.Unlock()
			return
		}
		ticker := s.ticker
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-rearm:
		case <-ticker.Chan():
			s.Refresh(ctx)
		}
	}
}

// Stop cancels polling and clears tracked torrents, listeners, completion
// markers and the credential. A refresh still in flight is discarded.
func (s *Service) Stop() {
	s.mu.Lock()
	wasRunning := s.running
	s.haltLocked()
	s.mu.Unlock()

	s.listeners.Clear()

	if wasRunning {
		s.log.Info().Msg("Stopped torrent tracker")
	}
}

func (s *Service) haltLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	s.rearm = nil
	s.generation++
	s.running = false
	s.credential = ""
	s.client = nil
	s.torrents = make(map[string]TrackedTorrent)
	s.notified = make(map[string]struct{})
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Reconfigure applies new settings. A changed poll interval re-arms the ticker
// without dropping tracked state.
func (s *Service) Reconfigure(cfg Config) {
	cfg = cfg.normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.cfg
	s.cfg = cfg
	if !s.running || s.ticker == nil || previous.PollInterval == cfg.PollInterval {
		return
	}

	s.ticker.Stop()
	s.ticker = s.clock.NewTicker(cfg.PollInterval)
	select {
	case s.rearm <- struct{}{}:
	default:
	}
	s.log.Info().Dur("interval", cfg.PollInterval).Msg("Poll interval changed")
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Refresh runs one poll cycle. Overlapping calls within one run return
// immediately. Errors are logged and leave the tracked state untouched.
func (s *Service) Refresh(ctx context.Context) {
	s.mu.Lock()
	if s.refreshBusy && s.refreshGen == s.generation {
		s.mu.Unlock()
		s.log.Debug().Msg("Refresh already in progress, skipping tick")
		s.record(ResultSkipped)
		return
	}
	gen := s.generation
	s.refreshBusy = true
	s.refreshGen = gen
	client := s.client
	credential := s.credential
	cfg := s.cfg
	s.mu.Unlock()

	defer s.endRefresh(gen)

	if client == nil {
		return
	}

	remote, err := client.ListTorrents(ctx, cfg.PageSize)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Error().Err(err).Msg("Failed to refresh torrents")
		s.record(ResultError)
		return
	}

	now := s.clock.Now()

	s.mu.Lock()
	if s.generation != gen || s.credential != credential {
		s.mu.Unlock()
		s.log.Debug().Msg("Discarding refresh result from a stopped run")
		s.record(ResultDiscarded)
		return
	}

	var (
		completed []TrackedTorrent
		updated   []TrackedTorrent
	)

	for _, rt := range remote {
		t := FromRemote(rt, now)
		if t.Hash == "" {
			continue
		}

		prev, tracked := s.torrents[t.Hash]

		if t.Status == realdebrid.StatusDownloaded && tracked && prev.Status != realdebrid.StatusDownloaded {
			if _, done := s.notified[t.Hash]; !done {
				s.notified[t.Hash] = struct{}{}
				completed = append(completed, t)
			}
		}

		if tracked || t.IsActive() {
			s.torrents[t.Hash] = t
			updated = append(updated, t)
		}
	}

	for hash, t := range s.torrents {
		if t.expired(now, cfg.PruneAfter) {
			delete(s.torrents, hash)
			delete(s.notified, hash)
			s.log.Debug().Str("hash", hash).Msg("Pruned finished torrent")
		}
	}

	counts := make(map[realdebrid.Status]int)
	for _, t := range s.torrents {
		counts[t.Status]++
	}
	s.mu.Unlock()

	for _, t := range completed {
		s.complete(ctx, t)
	}
	for _, t := range updated {
		s.listeners.Publish(t.Hash, t)
	}

	s.record(ResultSuccess)
	if s.metrics != nil {
		s.metrics.TorrentsTracked(counts)
	}
}

func (s *Service) endRefresh(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshGen == gen {
		s.refreshBusy = false
	}
}

func (s *Service) complete(ctx context.Context, t TrackedTorrent) {
	s.log.Info().Str("hash", t.Hash).Str("filename", t.Filename).Msg("Torrent finished downloading")

	if s.metrics != nil {
		s.metrics.CompletionFired()
	}
	if s.onComplete == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("hash", t.Hash).Interface("panic", r).Msg("Completion handler failed")
		}
	}()
	s.onComplete(ctx, t)
}

func (s *Service) record(result string) {
	if s.metrics != nil {
		s.metrics.RefreshCompleted(result)
	}
}

// TrackTorrent inserts or overwrites an entry and notifies its listeners.
func (s *Service) TrackTorrent(hash string, t TrackedTorrent) {
	hash = normalizeHash(hash)
	if hash == "" {
		return
	}
	t.Hash = hash
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = s.clock.Now()
	}

	s.mu.Lock()
	s.torrents[hash] = t
	s.mu.Unlock()

	s.listeners.Publish(hash, t)
}

func (s *Service) GetTorrent(hash string) (TrackedTorrent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.torrents[normalizeHash(hash)]
	return t, ok
}

// IsDownloading is false for unknown hashes.
func (s *Service) IsDownloading(hash string) bool {
	t, ok := s.GetTorrent(hash)
	return ok && t.IsActive()
}

func (s *Service) GetProgress(hash string) int {
	t, _ := s.GetTorrent(hash)
	return t.Progress
}

func (s *Service) GetStatusMessage(hash string) string {
	t, ok := s.GetTorrent(hash)
	if !ok {
		return "Unknown"
	}
	return t.Message()
}

// GetAllTorrents returns a snapshot ordered by added time, then hash.
func (s *Service) GetAllTorrents() []TrackedTorrent {
	return s.snapshot(func(TrackedTorrent) bool { return true })
}

// GetDownloadingTorrents returns the active subset of GetAllTorrents.
func (s *Service) GetDownloadingTorrents() []TrackedTorrent {
	return s.snapshot(TrackedTorrent.IsActive)
}

func (s *Service) snapshot(keep func(TrackedTorrent) bool) []TrackedTorrent {
	s.mu.Lock()
	out := make([]TrackedTorrent, 0, len(s.torrents))
	for _, t := range s.torrents {
		if keep(t) {
			out = append(out, t)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Added.Equal(out[j].Added) {
			return out[i].Added.Before(out[j].Added)
		}
		return out[i].Hash < out[j].Hash
	})
	return out
}

// AddListener registers fn for updates of hash. Case is ignored.
func (s *Service) AddListener(hash string, fn Listener) Subscription {
	return s.listeners.Subscribe(normalizeHash(hash), fn)
}

func (s *Service) RemoveListener(sub Subscription) {
	sub.Unsubscribe()
}

// ListenerCount returns the number of listeners registered for hash.
func (s *Service) ListenerCount(hash string) int {
	return s.listeners.Count(normalizeHash(hash))
}
