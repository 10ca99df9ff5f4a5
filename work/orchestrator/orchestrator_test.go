package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidsniff/work/cache"
	"vidsniff/work/config"
	"vidsniff/work/progress"
	"vidsniff/work/sniffer"
	"vidsniff/work/types"
)

type fakeCatalog struct {
	providers []types.Provider
	err       error
}

func (f fakeCatalog) Build(ctx context.Context, req types.MediaRequest) ([]types.Provider, error) {
	return f.providers, f.err
}

type scriptedProber struct {
	mu      sync.Mutex
	results map[string]string // provider name -> url, missing means failure
	calls   []string
}

func (p *scriptedProber) Probe(ctx context.Context, provider types.Provider) (types.Candidate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, provider.Name)
	if u, ok := p.results[provider.Name]; ok {
		return types.Candidate{URL: u}, nil
	}
	return types.Candidate{}, sniffer.ErrNoCandidate
}

func (p *scriptedProber) called() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type memoryHistory struct {
	mu      sync.Mutex
	records []types.SniffRecord
}

func (h *memoryHistory) RecordSniff(ctx context.Context, rec types.SniffRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	return nil
}

type statusEvent struct {
	index  int
	status types.ProviderStatus
	url    string
}

func testConfig() *config.Config {
	return &config.Config{
		BrowserEndpoint:    config.DefaultBrowserEndpoint,
		BrowserlessToken:   "token",
		NavigationTimeout:  time.Second,
		PollTimeout:        time.Second,
		PollRequestTimeout: time.Second,
	}
}

func movieCatalog() fakeCatalog {
	return fakeCatalog{providers: []types.Provider{
		{Name: "ShowBox", Strategy: types.StrategyPollJSON},
		{Name: "VidPro", Strategy: types.StrategyRenderAndIntercept},
		{Name: "AutoEmbed", Strategy: types.StrategyRenderAndIntercept},
	}}
}

func newOrchestrator(t *testing.T, cfg *config.Config, cat CatalogBuilder, render, poll sniffer.Prober, history HistoryRecorder) *Orchestrator {
	t.Helper()
	pool, err := ants.NewPool(2, ants.WithNonblocking(true))
	require.NoError(t, err)
	t.Cleanup(pool.Release)
	o := New(cfg, cat, render, poll, progress.NewTracker(time.Minute), cache.NewCache(time.Minute, 100), pool, history)
	t.Cleanup(o.Shutdown)
	return o
}

func TestSniffStopsAtFirstSuccess(t *testing.T) {
	render := &scriptedProber{results: map[string]string{"VidPro": "https://cdn/movie.mp4", "AutoEmbed": "https://never"}}
	poll := &scriptedProber{}
	history := &memoryHistory{}
	o := newOrchestrator(t, testConfig(), movieCatalog(), render, poll, history)

	var events []statusEvent
	got, err := o.Sniff(context.Background(), types.MediaRequest{ID: "550", Type: types.MediaMovie}, func(i int, s types.ProviderStatus, u string) {
		events = append(events, statusEvent{i, s, u})
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/movie.mp4", got)

	assert.Equal(t, []statusEvent{
		{0, types.StatusLoading, ""},
		{0, types.StatusError, ""},
		{1, types.StatusLoading, ""},
		{1, types.StatusCompleted, "https://cdn/movie.mp4"},
	}, events)
	assert.Equal(t, []string{"ShowBox"}, poll.called())
	assert.Equal(t, []string{"VidPro"}, render.called())

	require.Len(t, history.records, 1)
	rec := history.records[0]
	assert.True(t, rec.Found)
	assert.Equal(t, "VidPro", rec.Provider)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, "movie:550", rec.Key)
}

func TestSniffExhaustionReturnsEmpty(t *testing.T) {
	tracker := progress.NewTracker(time.Minute)
	o := newOrchestrator(t, testConfig(), movieCatalog(), &scriptedProber{}, &scriptedProber{}, nil)

	tracker.Init("movie:1", []string{"ShowBox", "VidPro", "AutoEmbed"})
	got, err := o.Sniff(context.Background(), types.MediaRequest{ID: "1"}, StatusFunc(tracker.Reporter("movie:1")))
	require.NoError(t, err)
	assert.Empty(t, got)

	state := tracker.Read("movie:1")
	assert.Equal(t, []types.ProviderStatus{types.StatusError, types.StatusError, types.StatusError}, state.Statuses)
	assert.Nil(t, state.Found)
	assert.True(t, state.Terminal())
}

func TestSniffMissingTokenAttemptsNothing(t *testing.T) {
	cfg := testConfig()
	cfg.BrowserlessToken = ""
	render, poll := &scriptedProber{}, &scriptedProber{}
	o := newOrchestrator(t, cfg, movieCatalog(), render, poll, nil)

	called := false
	_, err := o.Sniff(context.Background(), types.MediaRequest{ID: "1"}, func(int, types.ProviderStatus, string) { called = true })
	assert.ErrorIs(t, err, ErrMissingBrowserToken)
	assert.False(t, called)
	assert.Empty(t, render.called())
	assert.Empty(t, poll.called())

	// a poll-only catalog needs no browser token
	pollOnly := fakeCatalog{providers: []types.Provider{{Name: "ShowBox", Strategy: types.StrategyPollJSON}}}
	o = newOrchestrator(t, cfg, pollOnly, render, &scriptedProber{results: map[string]string{"ShowBox": "https://f/org.mp4"}}, nil)
	got, err := o.Sniff(context.Background(), types.MediaRequest{ID: "1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://f/org.mp4", got)
}

func TestSniffCatalogErrors(t *testing.T) {
	o := newOrchestrator(t, testConfig(), fakeCatalog{}, &scriptedProber{}, &scriptedProber{}, nil)
	_, err := o.Sniff(context.Background(), types.MediaRequest{ID: "1"}, nil)
	assert.ErrorIs(t, err, ErrEmptyCatalog)

	o = newOrchestrator(t, testConfig(), fakeCatalog{err: context.Canceled}, &scriptedProber{}, &scriptedProber{}, nil)
	_, err = o.Sniff(context.Background(), types.MediaRequest{ID: "1"}, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestStartRunsInBackgroundAndCaches(t *testing.T) {
	render := &scriptedProber{results: map[string]string{"AutoEmbed": "https://cdn/master.m3u8"}}
	o := newOrchestrator(t, testConfig(), movieCatalog(), render, &scriptedProber{}, nil)
	req := types.MediaRequest{ID: "1399", Type: types.MediaTV}

	session, err := o.Start(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "tv:1399:s1:e1", session.Key)
	assert.Equal(t, []string{"ShowBox", "VidPro", "AutoEmbed"}, session.Providers)
	assert.Empty(t, session.StreamURL)

	require.Eventually(t, func() bool {
		return o.Tracker.Read(session.Key).Found != nil
	}, 2*time.Second, 5*time.Millisecond)

	state := o.Tracker.Read(session.Key)
	assert.Equal(t, []types.ProviderStatus{types.StatusError, types.StatusError, types.StatusCompleted}, state.Statuses)
	assert.Equal(t, "https://cdn/master.m3u8", *state.Found)

	require.Eventually(t, func() bool { return o.Running() == 0 }, time.Second, 5*time.Millisecond)
	again, err := o.Start(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/master.m3u8", again.StreamURL)

	got, err := o.Resolve(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/master.m3u8", got)
	assert.Equal(t, []string{"VidPro", "AutoEmbed"}, render.called())
}

type blockingProber struct {
	release chan struct{}
}

func (b blockingProber) Probe(ctx context.Context, provider types.Provider) (types.Candidate, error) {
	select {
	case <-b.release:
		return types.Candidate{URL: "https://cdn/late.mp4"}, nil
	case <-ctx.Done():
		return types.Candidate{}, ctx.Err()
	}
}

func TestStartJoinsRunningSession(t *testing.T) {
	release := make(chan struct{})
	blocker := blockingProber{release: release}
	o := newOrchestrator(t, testConfig(), movieCatalog(), blocker, blocker, nil)
	req := types.MediaRequest{ID: "7"}

	first, err := o.Start(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Joined)

	second, err := o.Start(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Joined)
	assert.Equal(t, first.Key, second.Key)

	close(release)
	require.Eventually(t, func() bool { return o.Tracker.Read(first.Key).Terminal() }, 2*time.Second, 5*time.Millisecond)
}
