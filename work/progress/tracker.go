package progress

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/puzpuzpuz/xsync/v3"

	"vidsniff/work/logger"
	"vidsniff/work/types"
)

// DefaultSize is the status count returned for unknown sessions
const DefaultSize = 6

// Tracker is the keyed store of sniff session progress. It is shared by the
// orchestrator, which writes a session's entry, and by any number of pull or
// push viewers reading it.
//
// Each entry carries its own mutex so writers of one key never contend with
// readers of another. Once a session reaches a terminal outcome an expiry
// timer removes it after the retention window; a fresh Init for the same key
// replaces the entry and disarms the old timer.
type Tracker struct {
	sessions    *xsync.MapOf[string, *session]
	clock       clock.Clock
	retention   time.Duration
	defaultSize int
}

type session struct {
	mu     sync.Mutex
	state  types.ProgressState
	expiry *clock.Timer
}

// Option customises a Tracker
type Option func(*Tracker)

// WithClock sets the time source for expiry and streaming
func WithClock(clk clock.Clock) Option {
	return func(t *Tracker) { t.clock = clk }
}

// WithDefaultSize sets the length of the all-pending state served for unknown keys
func WithDefaultSize(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.defaultSize = n
		}
	}
}

// NewTracker creates a tracker whose finished sessions stay readable for retention
func NewTracker(retention time.Duration, opts ...Option) *Tracker {
	t := &Tracker{
		sessions:    xsync.NewMapOf[string, *session](),
		clock:       clock.New(),
		retention:   retention,
		defaultSize: DefaultSize,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Init starts a session with every provider pending, replacing any previous
// state for key.
func (t *Tracker) Init(key string, providers []string) {
	s := &session{state: types.PendingState(len(providers))}
	s.state.Providers = append([]string(nil), providers...)

	if old, loaded := t.sessions.LoadAndStore(key, s); loaded {
		old.mu.Lock()
		old.stopExpiry()
		old.mu.Unlock()
	}
	logger.Debug("{progress/tracker - Init} %s with %d providers", key, len(providers))
}

// Update records a provider status. Out of range indexes and transitions
// that would move a provider backwards are ignored. A completed status with
// a URL sets the session's found URL unless one is already set.
func (t *Tracker) Update(key string, index int, status types.ProviderStatus, url string) {
	s, ok := t.sessions.Load(key)
	if !ok {
		logger.Debug("{progress/tracker - Update} unknown session %s", key)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.state.Statuses) {
		logger.Warn("{progress/tracker - Update} index %d out of range for %s", index, key)
		return
	}
	if current := s.state.Statuses[index]; !current.CanTransition(status) {
		logger.Debug("{progress/tracker - Update} %s[%d] ignoring %s -> %s", key, index, current, status)
		return
	}

	s.state.Statuses[index] = status
	if status == types.StatusCompleted && url != "" && s.state.Found == nil {
		found := url
		s.state.Found = &found
	}

	if s.state.Terminal() {
		t.armExpiry(key, s)
	}
}

// Reporter returns a status callback bound to key
func (t *Tracker) Reporter(key string) func(index int, status types.ProviderStatus, url string) {
	return func(index int, status types.ProviderStatus, url string) {
		t.Update(key, index, status, url)
	}
}

// Read returns a snapshot of key, or an all-pending default when the
// session does not exist.
func (t *Tracker) Read(key string) types.ProgressState {
	state, _ := t.lookup(key)
	return state
}

func (t *Tracker) lookup(key string) (types.ProgressState, bool) {
	s, ok := t.sessions.Load(key)
	if !ok {
		return types.PendingState(t.defaultSize), false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone(), true
}

// Exists reports whether key has live state
func (t *Tracker) Exists(key string) bool {
	_, ok := t.sessions.Load(key)
	return ok
}

// Expire removes key immediately
func (t *Tracker) Expire(key string) {
	if s, ok := t.sessions.LoadAndDelete(key); ok {
		s.mu.Lock()
		s.stopExpiry()
		s.mu.Unlock()
		logger.Debug("{progress/tracker - Expire} %s removed", key)
	}
}

// Finish arms expiry for a session that stopped without reaching a terminal
// outcome, such as one whose context was cancelled.
func (t *Tracker) Finish(key string) {
	s, ok := t.sessions.Load(key)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t.armExpiry(key, s)
}

// Size returns the number of live sessions
func (t *Tracker) Size() int {
	return t.sessions.Size()
}

// Stream calls emit with the current snapshot immediately and then every
// interval until the session is terminal or gone, ctx ends or emit fails.
// An unknown key gets a single all-pending frame.
func (t *Tracker) Stream(ctx context.Context, key string, interval time.Duration, emit func(types.ProgressState) error) error {
	state, live := t.lookup(key)
	if err := emit(state); err != nil {
		return err
	}
	if !live || state.Terminal() {
		return nil
	}

	ticker := t.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			state, live = t.lookup(key)
			if !live {
				logger.Debug("{progress/tracker - Stream} %s expired while streaming", key)
				return nil
			}
			if err := emit(state); err != nil {
				return err
			}
			if state.Terminal() {
				return nil
			}
		}
	}
}

// armExpiry must be called with s.mu held
func (t *Tracker) armExpiry(key string, s *session) {
	if s.expiry != nil {
		return
	}
	s.expiry = t.clock.AfterFunc(t.retention, func() {
		// only remove the entry this timer belongs to
		t.sessions.Compute(key, func(old *session, loaded bool) (*session, bool) {
			return old, !loaded || old == s
		})
	})
}

// stopExpiry must be called with s.mu held
func (s *session) stopExpiry() {
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
}
