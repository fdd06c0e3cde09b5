// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/rdwatch/internal/realdebrid"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeLister struct {
	mu        sync.Mutex
	responses [][]realdebrid.Torrent
	err       error
	calls     atomic.Int32
	limits    []int
	// gate, when set, blocks ListTorrents until it is closed.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeLister) ListTorrents(ctx context.Context, limit int) ([]realdebrid.Torrent, error) {
	f.mu.Lock()
	gate := f.gate
	entered := f.entered
	f.limits = append(f.limits, limit)
	f.mu.Unlock()

	f.calls.Add(1)

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return nil, nil
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func (f *fakeLister) push(torrents ...realdebrid.Torrent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, torrents)
}

func (f *fakeLister) set(torrents ...realdebrid.Torrent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = [][]realdebrid.Torrent{torrents}
}

func (f *fakeLister) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeRecorder struct {
	mu          sync.Mutex
	results     map[string]int
	completions int
	counts      map[realdebrid.Status]int
}

func (r *fakeRecorder) RefreshCompleted(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = make(map[string]int)
	}
	r.results[result]++
}

func (r *fakeRecorder) CompletionFired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions++
}

func (r *fakeRecorder) TorrentsTracked(counts map[realdebrid.Status]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = counts
}

func (r *fakeRecorder) result(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[name]
}

func remote(hash string, status realdebrid.Status, progress int) realdebrid.Torrent {
	return realdebrid.Torrent{
		ID:       "id-" + hash,
		Hash:     hash,
		Filename: "file-" + hash,
		Status:   status,
		Progress: progress,
		Added:    epoch,
	}
}

func finished(hash string, ended time.Time) realdebrid.Torrent {
	t := remote(hash, realdebrid.StatusDownloaded, 100)
	t.Ended = ended.Format(time.RFC3339)
	t.EndedAt = ended
	t.HasEnded = true
	return t
}

type harness struct {
	svc       *Service
	lister    *fakeLister
	clock     *clockwork.FakeClock
	recorder  *fakeRecorder
	completed *[]string
	mu        *sync.Mutex
}

func newHarness(t *testing.T) harness {
	t.Helper()

	lister := &fakeLister{}
	clk := clockwork.NewFakeClockAt(epoch)
	rec := &fakeRecorder{}
	var (
		mu        sync.Mutex
		completed []string
	)

	svc := NewService(DefaultConfig(), func(credential string) (TorrentLister, error) {
		return lister, nil
	},
		WithClock(clk),
		WithMetrics(rec),
		WithCompletionHandler(func(_ context.Context, tt TrackedTorrent) {
			mu.Lock()
			defer mu.Unlock()
			completed = append(completed, tt.Hash)
		}),
	)
	t.Cleanup(svc.Stop)

	return harness{svc: svc, lister: lister, clock: clk, recorder: rec, completed: &completed, mu: &mu}
}

func (h harness) completions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), (*h.completed)...)
}

func TestStartRequiresCredential(t *testing.T) {
	h := newHarness(t)

	err := h.svc.Start(context.Background(), "   ")
	require.ErrorIs(t, err, ErrMissingCredential)
	assert.False(t, h.svc.Running())
	assert.Equal(t, int32(0), h.lister.calls.Load())
}

func TestStartRefreshesImmediatelyThenOnTick(t *testing.T) {
	h := newHarness(t)
	h.lister.set(remote("AAA", realdebrid.StatusDownloading, 10))

	require.NoError(t, h.svc.Start(context.Background(), "token"))
	assert.True(t, h.svc.Running())
	assert.Equal(t, int32(1), h.lister.calls.Load())

	_, ok := h.svc.GetTorrent("aaa")
	assert.True(t, ok)

	h.clock.Advance(5 * time.Second)
	assert.Eventually(t, func() bool { return h.lister.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	h.lister.mu.Lock()
	assert.Equal(t, []int{100, 100}, h.lister.limits)
	h.lister.mu.Unlock()
}

func TestCompletionFiresOncePerHash(t *testing.T) {
	h := newHarness(t)
	h.lister.push(remote("abc", realdebrid.StatusDownloading, 50))
	h.lister.push(finished("abc", epoch))
	h.lister.push(finished("abc", epoch))

	require.NoError(t, h.svc.Start(context.Background(), "token"))
	h.svc.Refresh(context.Background())
	h.svc.Refresh(context.Background())

	assert.Equal(t, []string{"abc"}, h.completions())
	assert.Equal(t, 1, h.recorder.completions)
}

func TestCompletionSkipsTorrentsFirstSeenFinished(t *testing.T) {
	h := newHarness(t)
	h.lister.set(finished("old", epoch.Add(-time.Hour)))

	require.NoError(t, h.svc.Start(context.Background(), "token"))
	h.svc.Refresh(context.Background())

	assert.Empty(t, h.completions())
	_, ok := h.svc.GetTorrent("old")
	assert.False(t, ok, "finished torrents that were never tracked are not added")
}

func TestCompletionForManuallyTrackedTorrent(t *testing.T) {
	h := newHarness(t)
	h.lister.set(finished("new", epoch))

	h.svc.TrackTorrent("NEW", TrackedTorrent{Status: realdebrid.StatusMagnetConversion})
	require.NoError(t, h.svc.Start(context.Background(), "token"))

	// Start clears state, so track again and poll.
	h.svc.TrackTorrent("NEW", TrackedTorrent{Status: realdebrid.StatusQueued})
	h.svc.Refresh(context.Background())

	assert.Equal(t, []string{"new"}, h.completions())
}

func TestUpdateOnlyTrackedOrActive(t *testing.T) {
	h := newHarness(t)
	h.lister.set(
		remote("active", realdebrid.StatusDownloading, 5),
		remote("failed", realdebrid.StatusError, 0),
		remote("dead", realdebrid.StatusDead, 0),
		remote("unknown", realdebrid.Status("compressing"), 99),
	)

	require.NoError(t, h.svc.Start(context.Background(), "token"))

	all := h.svc.GetAllTorrents()
	hashes := make([]string, 0, len(all))
	for _, tt := range all {
		hashes = append(hashes, tt.Hash)
	}
	assert.Equal(t, []string{"active", "unknown"}, hashes)
}

func TestPruning(t *testing.T) {
	tests := []struct {
		name     string
		torrent  func(now time.Time) realdebrid.Torrent
		retained bool
	}{
		{
			name:     "ended more than 30s ago is removed",
			torrent:  func(now time.Time) realdebrid.Torrent { return finished("h", now.Add(-31*time.Second)) },
			retained: false,
		},
		{
			name:     "ended 10s ago is retained",
			torrent:  func(now time.Time) realdebrid.Torrent { return finished("h", now.Add(-10*time.Second)) },
			retained: true,
		},
		{
			name: "unparsable ended is retained",
			torrent: func(now time.Time) realdebrid.Torrent {
				t := remote("h", realdebrid.StatusDownloaded, 100)
				t.Ended = "garbage"
				return t
			},
			retained: true,
		},
		{
			name: "active torrent is never pruned",
			torrent: func(now time.Time) realdebrid.Torrent {
				t := remote("h", realdebrid.StatusDownloading, 80)
				t.EndedAt = now.Add(-time.Hour)
				t.HasEnded = true
				return t
			},
			retained: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.lister.set(remote("h", realdebrid.StatusDownloading, 50))
			require.NoError(t, h.svc.Start(context.Background(), "token"))
			require.True(t, h.svc.IsDownloading("h"))

			h.lister.set(tt.torrent(h.clock.Now()))
			h.svc.Refresh(context.Background())

			_, ok := h.svc.GetTorrent("h")
			assert.Equal(t, tt.retained, ok)
		})
	}
}

func TestPruneClearsCompletionMarker(t *testing.T) {
	h := newHarness(t)
	h.lister.set(remote("x", realdebrid.StatusDownloading, 1))
	require.NoError(t, h.svc.Start(context.Background(), "token"))

	h.lister.set(finished("x", epoch.Add(-time.Minute)))
	h.svc.Refresh(context.Background())
	require.Equal(t, []string{"x"}, h.completions())

	h.svc.mu.Lock()
	_, marked := h.svc.notified["x"]
	h.svc.mu.Unlock()
	assert.False(t, marked)

	// Re-added and finished again is a new completion.
	h.svc.TrackTorrent("x", TrackedTorrent{Status: realdebrid.StatusDownloading})
	h.svc.Refresh(context.Background())
	assert.Equal(t, []string{"x", "x"}, h.completions())
}

func TestRefreshErrorLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	h.lister.set(remote("keep", realdebrid.StatusDownloading, 20))
	require.NoError(t, h.svc.Start(context.Background(), "token"))

	h.lister.fail(errors.New("connection reset"))
	h.svc.Refresh(context.Background())

	got, ok := h.svc.GetTorrent("keep")
	require.True(t, ok)
	assert.Equal(t, 20, got.Progress)
	assert.Equal(t, 1, h.recorder.result(ResultError))
}

func TestOverlappingRefreshIsSkipped(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.Start(context.Background(), "token"))

	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	h.lister.mu.Lock()
	h.lister.gate = gate
	h.lister.entered = entered
	h.lister.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.svc.Refresh(context.Background())
		close(done)
	}()
	<-entered

	before := h.lister.calls.Load()
	h.svc.Refresh(context.Background())
	assert.Equal(t, before, h.lister.calls.Load())
	assert.Equal(t, 1, h.recorder.result(ResultSkipped))

	close(gate)
	<-done
}

func TestStartRefreshesWhilePreviousRunRefreshIsInFlight(t *testing.T) {
	stale := &fakeLister{}
	fresh := &fakeLister{}
	fresh.set(remote("new", realdebrid.StatusDownloading, 10))
	rec := &fakeRecorder{}

	svc := NewService(DefaultConfig(), func(credential string) (TorrentLister, error) {
		if credential == "old" {
			return stale, nil
		}
		return fresh, nil
	},
		WithClock(clockwork.NewFakeClockAt(epoch)),
		WithMetrics(rec),
	)
	t.Cleanup(svc.Stop)

	require.NoError(t, svc.Start(context.Background(), "old"))

	staleGate := make(chan struct{})
	staleEntered := make(chan struct{}, 1)
	stale.mu.Lock()
	stale.gate = staleGate
	stale.entered = staleEntered
	stale.mu.Unlock()
	stale.set(remote("old", realdebrid.StatusDownloading, 1))

	staleDone := make(chan struct{})
	go func() {
		svc.Refresh(context.Background())
		close(staleDone)
	}()
	<-staleEntered

	// the new run polls at once even though the old run is still busy
	require.NoError(t, svc.Start(context.Background(), "new"))
	assert.Equal(t, int32(1), fresh.calls.Load())
	_, ok := svc.GetTorrent("new")
	assert.True(t, ok)
	assert.Equal(t, 0, rec.result(ResultSkipped))

	freshGate := make(chan struct{})
	freshEntered := make(chan struct{}, 1)
	fresh.mu.Lock()
	fresh.gate = freshGate
	fresh.entered = freshEntered
	fresh.mu.Unlock()

	freshDone := make(chan struct{})
	go func() {
		svc.Refresh(context.Background())
		close(freshDone)
	}()
	<-freshEntered

	close(staleGate)
	<-staleDone
	assert.Equal(t, 1, rec.result(ResultDiscarded))
	_, ok = svc.GetTorrent("old")
	assert.False(t, ok)

	// the finished old refresh must not release the new run's guard
	svc.Refresh(context.Background())
	assert.Equal(t, int32(2), fresh.calls.Load())
	assert.Equal(t, 1, rec.result(ResultSkipped))

	close(freshGate)
	<-freshDone
}

func TestStopDiscardsInFlightRefresh(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.Start(context.Background(), "token"))

	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	h.lister.mu.Lock()
	h.lister.gate = gate
	h.lister.entered = entered
	h.lister.mu.Unlock()
	h.lister.set(remote("ghost", realdebrid.StatusDownloading, 1))

	done := make(chan struct{})
	go func() {
		h.svc.Refresh(context.Background())
		close(done)
	}()
	<-entered

	h.svc.Stop()
	close(gate)
	<-done

	assert.False(t, h.svc.Running())
	assert.Empty(t, h.svc.GetAllTorrents())
	assert.Equal(t, 1, h.recorder.result(ResultDiscarded))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 0))

	calls := h.lister.calls.Load()
	h.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, h.lister.calls.Load())
}

func TestStopClearsEverything(t *testing.T) {
	h := newHarness(t)
	h.lister.set(remote("a", realdebrid.StatusDownloading, 1))
	require.NoError(t, h.svc.Start(context.Background(), "token"))
	h.svc.AddListener("a", func(TrackedTorrent) {})

	h.svc.Stop()

	assert.Empty(t, h.svc.GetAllTorrents())
	assert.Equal(t, 0, h.svc.ListenerCount("a"))

	// Refresh without a running client is a no-op.
	calls := h.lister.calls.Load()
	h.svc.Refresh(context.Background())
	assert.Equal(t, calls, h.lister.calls.Load())
}

func TestListenersNotifiedOnEveryUpdate(t *testing.T) {
	h := newHarness(t)

	var got []int
	sub := h.svc.AddListener("ABC", func(tt TrackedTorrent) { got = append(got, tt.Progress) })

	h.svc.TrackTorrent("abc", TrackedTorrent{Status: realdebrid.StatusQueued})
	h.lister.push(remote("abc", realdebrid.StatusDownloading, 30))
	h.lister.push(remote("abc", realdebrid.StatusDownloading, 60))

	// Start clears tracked state but keeps listeners registered before it.
	require.NoError(t, h.svc.Start(context.Background(), "token"))
	h.svc.Refresh(context.Background())

	assert.Equal(t, []int{0, 30, 60}, got)

	h.svc.RemoveListener(sub)
	h.svc.TrackTorrent("abc", TrackedTorrent{Progress: 99})
	assert.Equal(t, []int{0, 30, 60}, got)
}

func TestPanickingListenerDoesNotBlockOthers(t *testing.T) {
	h := newHarness(t)

	delivered := 0
	h.svc.AddListener("h", func(TrackedTorrent) { panic("listener bug") })
	h.svc.AddListener("h", func(TrackedTorrent) { delivered++ })

	assert.NotPanics(t, func() {
		h.svc.TrackTorrent("h", TrackedTorrent{Status: realdebrid.StatusQueued})
	})
	assert.Equal(t, 1, delivered)
}

func TestPanickingCompletionHandlerIsContained(t *testing.T) {
	lister := &fakeLister{}
	lister.push(remote("p", realdebrid.StatusDownloading, 1))
	lister.push(finished("p", epoch))

	svc := NewService(DefaultConfig(), func(string) (TorrentLister, error) { return lister, nil },
		WithClock(clockwork.NewFakeClockAt(epoch)),
		WithCompletionHandler(func(context.Context, TrackedTorrent) { panic("hook bug") }),
	)
	t.Cleanup(svc.Stop)

	var updates int
	svc.AddListener("p", func(TrackedTorrent) { updates++ })

	require.NoError(t, svc.Start(context.Background(), "token"))
	assert.NotPanics(t, func() { svc.Refresh(context.Background()) })
	assert.Equal(t, 2, updates)
}

func TestAccessors(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, "Unknown", h.svc.GetStatusMessage("missing"))
	assert.False(t, h.svc.IsDownloading("missing"))
	assert.Equal(t, 0, h.svc.GetProgress("missing"))

	h.svc.TrackTorrent("DL", TrackedTorrent{Status: realdebrid.StatusDownloading, Progress: 42, Added: epoch.Add(time.Minute)})
	h.svc.TrackTorrent("done", TrackedTorrent{Status: realdebrid.StatusDownloaded, Progress: 100, Added: epoch})
	h.svc.TrackTorrent("odd", TrackedTorrent{Status: realdebrid.Status("uploading"), Added: epoch})

	assert.Equal(t, "Downloading 42%", h.svc.GetStatusMessage("dl"))
	assert.Equal(t, "Downloaded", h.svc.GetStatusMessage("DONE"))
	assert.Equal(t, "uploading", h.svc.GetStatusMessage("odd"))
	assert.Equal(t, 42, h.svc.GetProgress("dl"))
	assert.True(t, h.svc.IsDownloading("Dl"))
	assert.False(t, h.svc.IsDownloading("done"))

	all := h.svc.GetAllTorrents()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"done", "odd", "dl"}, []string{all[0].Hash, all[1].Hash, all[2].Hash})

	downloading := h.svc.GetDownloadingTorrents()
	require.Len(t, downloading, 2)
	assert.Equal(t, "odd", downloading[0].Hash)
	assert.Equal(t, "dl", downloading[1].Hash)
}

func TestReconfigureRearmsTicker(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.Start(context.Background(), "token"))

	h.svc.Reconfigure(Config{PollInterval: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))

	h.clock.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), h.lister.calls.Load())

	h.clock.Advance(time.Minute)
	assert.Eventually(t, func() bool { return h.lister.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}
