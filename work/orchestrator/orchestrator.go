package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"vidsniff/work/cache"
	"vidsniff/work/config"
	"vidsniff/work/logger"
	"vidsniff/work/metrics"
	"vidsniff/work/progress"
	"vidsniff/work/sniffer"
	"vidsniff/work/types"
	"vidsniff/work/utils"
)

var (
	// ErrMissingBrowserToken means a browser-driven provider is in the catalog
	// but no automation credential is configured. No provider is attempted.
	ErrMissingBrowserToken = errors.New("browser automation token is not configured")
	// ErrBusy is returned by Start when every worker is occupied
	ErrBusy = errors.New("too many sniff sessions in progress")
	// ErrEmptyCatalog is returned when no provider serves the requested media type
	ErrEmptyCatalog = errors.New("no providers configured for media type")
)

// StatusFunc receives every provider status change of a session
type StatusFunc func(index int, status types.ProviderStatus, url string)

// CatalogBuilder produces the ordered provider list for a request
type CatalogBuilder interface {
	Build(ctx context.Context, req types.MediaRequest) ([]types.Provider, error)
}

// HistoryRecorder persists finished sessions
type HistoryRecorder interface {
	RecordSniff(ctx context.Context, rec types.SniffRecord) error
}

// Session is what Start hands back to the caller
type Session struct {
	Key       string   `json:"session"`
	Providers []string `json:"providers"`
	StreamURL string   `json:"streamUrl,omitempty"` // set when served from cache
	Joined    bool     `json:"joined,omitempty"`    // an identical session was already running
}

// Orchestrator runs sniff sessions: it walks the provider catalog in order,
// probes each provider with its strategy and stops at the first success.
type Orchestrator struct {
	Config     *config.Config
	Catalog    CatalogBuilder
	Probers    map[types.Strategy]sniffer.Prober
	Tracker    *progress.Tracker
	Cache      *cache.Cache // nil disables result caching
	WorkerPool *ants.Pool
	History    HistoryRecorder // nil disables history

	running *xsync.MapOf[string, string] // session key -> run id
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates an orchestrator. render and poll are the probers for the two
// provider strategies.
func New(cfg *config.Config, catalog CatalogBuilder, render, poll sniffer.Prober, tracker *progress.Tracker, cacheInstance *cache.Cache, workerPool *ants.Pool, history HistoryRecorder) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		Config:  cfg,
		Catalog: catalog,
		Probers: map[types.Strategy]sniffer.Prober{
			types.StrategyRenderAndIntercept: render,
			types.StrategyPollJSON:           poll,
		},
		Tracker:    tracker,
		Cache:      cacheInstance,
		WorkerPool: workerPool,
		History:    history,
		running:    xsync.NewMapOf[string, string](),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Shutdown cancels background sessions. It does not wait for them.
func (o *Orchestrator) Shutdown() {
	o.cancel()
}

// Running returns the number of background sessions in flight
func (o *Orchestrator) Running() int {
	return o.running.Size()
}

// Sniff runs one full catalog pass and returns the discovered URL, or "" when
// every provider failed. Only configuration errors are returned; provider
// failures are reported through onStatus as error statuses.
func (o *Orchestrator) Sniff(ctx context.Context, req types.MediaRequest, onStatus StatusFunc) (string, error) {
	req = req.Normalized()
	providers, err := o.catalog(ctx, req)
	if err != nil {
		return "", err
	}
	return o.run(ctx, req, providers, onStatus), nil
}

// Resolve is Sniff behind the result cache
func (o *Orchestrator) Resolve(ctx context.Context, req types.MediaRequest, onStatus StatusFunc) (string, error) {
	req = req.Normalized()
	key := req.SessionKey()
	if cached, ok := o.cached(key); ok {
		metrics.SniffSessions.WithLabelValues(string(req.Type), "cached").Inc()
		return cached, nil
	}

	found, err := o.Sniff(ctx, req, onStatus)
	if err != nil {
		return "", err
	}
	if found != "" && o.Cache != nil {
		o.Cache.SetStream(key, found)
	}
	return found, nil
}

// Start builds the catalog, initialises progress for the session and runs the
// sniff on the worker pool, returning as soon as the session is queued.
func (o *Orchestrator) Start(ctx context.Context, req types.MediaRequest) (Session, error) {
	req = req.Normalized()
	key := req.SessionKey()

	if cached, ok := o.cached(key); ok {
		metrics.SniffSessions.WithLabelValues(string(req.Type), "cached").Inc()
		return Session{Key: key, StreamURL: cached}, nil
	}

	providers, err := o.catalog(ctx, req)
	if err != nil {
		return Session{}, err
	}
	names := providerNames(providers)

	runID := uuid.NewString()
	if existing, loaded := o.running.LoadOrStore(key, runID); loaded {
		logger.Debug("{orchestrator/orchestrator - Start} %s already running as %s", key, existing)
		return Session{Key: key, Providers: names, Joined: true}, nil
	}

	o.Tracker.Init(key, names)
	task := func() {
		defer o.running.Delete(key)
		found := o.run(o.ctx, req, providers, o.Tracker.Reporter(key))
		if found != "" && o.Cache != nil {
			o.Cache.SetStream(key, found)
		}
		o.Tracker.Finish(key)
	}

	if err := o.WorkerPool.Submit(task); err != nil {
		o.running.Delete(key)
		o.Tracker.Expire(key)
		if errors.Is(err, ants.ErrPoolOverload) {
			return Session{}, ErrBusy
		}
		return Session{}, fmt.Errorf("submit sniff session: %w", err)
	}

	logger.Info("{orchestrator/orchestrator - Start} queued %s (run %s, %d providers)", key, runID[:8], len(providers))
	return Session{Key: key, Providers: names}, nil
}

// catalog builds the provider list and rejects configurations that cannot
// run it.
func (o *Orchestrator) catalog(ctx context.Context, req types.MediaRequest) ([]types.Provider, error) {
	providers, err := o.Catalog.Build(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}
	if len(providers) == 0 {
		return nil, ErrEmptyCatalog
	}
	for _, p := range providers {
		if p.Strategy == types.StrategyRenderAndIntercept && o.Config.BrowserURL() == "" {
			return nil, ErrMissingBrowserToken
		}
	}
	return providers, nil
}

// run probes providers strictly in order and stops at the first success
func (o *Orchestrator) run(ctx context.Context, req types.MediaRequest, providers []types.Provider, onStatus StatusFunc) string {
	if onStatus == nil {
		onStatus = func(int, types.ProviderStatus, string) {}
	}

	key := req.SessionKey()
	start := time.Now()
	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	record := types.SniffRecord{Key: key, MediaType: req.Type}
	outcome := "exhausted"

	for i, provider := range providers {
		if ctx.Err() != nil {
			outcome = "cancelled"
			break
		}

		record.Attempts++
		onStatus(i, types.StatusLoading, "")

		url, err := o.attempt(ctx, provider)
		if err != nil {
			logger.Debug("{orchestrator/orchestrator - run} %s: %s failed: %v", key, provider.Name, err)
			onStatus(i, types.StatusError, "")
			continue
		}

		onStatus(i, types.StatusCompleted, url)
		record.Provider = provider.Name
		record.StreamURL = url
		record.Found = true
		outcome = "found"
		logger.Info("{orchestrator/orchestrator - run} %s resolved by %s: %s", key, provider.Name, utils.LogURL(o.Config, url))
		break
	}

	record.Duration = time.Since(start)
	record.FinishedAt = time.Now()
	metrics.SniffSessions.WithLabelValues(string(req.Type), outcome).Inc()
	metrics.SniffDuration.WithLabelValues(outcome).Observe(record.Duration.Seconds())

	if !record.Found {
		logger.Info("{orchestrator/orchestrator - run} %s %s after %d providers", key, outcome, record.Attempts)
	}
	o.recordHistory(record)
	return record.StreamURL
}

// attempt runs one provider under its strategy's own time budget
func (o *Orchestrator) attempt(ctx context.Context, provider types.Provider) (string, error) {
	prober := o.Probers[provider.Strategy]
	if prober == nil {
		return "", fmt.Errorf("no prober for strategy %s", provider.Strategy)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, o.attemptBudget(provider.Strategy))
	defer cancel()

	start := time.Now()
	cand, err := prober.Probe(attemptCtx, provider)
	metrics.ProviderDuration.WithLabelValues(provider.Name).Observe(time.Since(start).Seconds())

	result := string(types.StatusCompleted)
	if err == nil && cand.URL == "" {
		err = sniffer.ErrNoCandidate
	}
	if err != nil {
		result = string(types.StatusError)
	}
	metrics.ProviderAttempts.WithLabelValues(provider.Name, provider.Strategy.String(), result).Inc()
	return cand.URL, err
}

// attemptBudget bounds a whole probe. The strategies enforce their own
// timeouts; this only stops a wedged backend from stalling the session.
func (o *Orchestrator) attemptBudget(strategy types.Strategy) time.Duration {
	cfg := o.Config
	if strategy == types.StrategyPollJSON {
		return cfg.PollTimeout + cfg.PollRequestTimeout + 5*time.Second
	}
	return cfg.NavigationTimeout + cfg.SettleDelay + cfg.InteractionDelay + cfg.PostInteractionDelay + 15*time.Second
}

func (o *Orchestrator) cached(key string) (string, bool) {
	if o.Cache == nil {
		return "", false
	}
	return o.Cache.GetStream(key)
}

func (o *Orchestrator) recordHistory(rec types.SniffRecord) {
	if o.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.History.RecordSniff(ctx, rec); err != nil {
		logger.Warn("{orchestrator/orchestrator - recordHistory} %s: %v", rec.Key, err)
	}
}

func providerNames(providers []types.Provider) []string {
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name
	}
	return names
}
