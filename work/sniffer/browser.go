package sniffer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/ratelimit"

	"vidsniff/work/logger"
	"vidsniff/work/types"
	"vidsniff/work/utils"
)

// clickSelectors are tried in order when a provider needs a play click
var clickSelectors = []string{"button", `div[role="button"]`, "div"}

// RequestRewriter returns the headers to merge into an outgoing request, or nil
// to let it through untouched.
type RequestRewriter func(rawURL string) map[string]string

// ResponseObserver receives every response URL together with its headers
type ResponseObserver func(rawURL string, headers map[string]string)

// Browser opens isolated pages on a browser automation backend
type Browser interface {
	Open(ctx context.Context) (Page, error)
}

// Page is one isolated browsing session. Close must be safe to call after
// any other method failed.
type Page interface {
	Intercept(rewrite RequestRewriter, observe ResponseObserver) error
	Navigate(ctx context.Context, rawURL string) error
	Click(ctx context.Context, selectors ...string) error
	Close() error
}

// HeaderMatcher resolves header overrides for a request URL
type HeaderMatcher interface {
	Match(rawURL string) map[string]string
}

// BrowserSniffer probes render-and-intercept providers
type BrowserSniffer struct {
	browser Browser
	headers HeaderMatcher
	timings Timings
	clock   clock.Clock
	limiter ratelimit.Limiter
	logURL  func(string) string
}

// BrowserOption customises a BrowserSniffer
type BrowserOption func(*BrowserSniffer)

// WithClock sets the time source used for delays and observation stamps
func WithClock(clk clock.Clock) BrowserOption {
	return func(s *BrowserSniffer) { s.clock = clk }
}

// WithSessionLimiter rate limits how often remote sessions are opened
func WithSessionLimiter(l ratelimit.Limiter) BrowserOption {
	return func(s *BrowserSniffer) { s.limiter = l }
}

// WithURLLogger sets how URLs are rendered in log lines
func WithURLLogger(fn func(string) string) BrowserOption {
	return func(s *BrowserSniffer) { s.logURL = fn }
}

// NewBrowserSniffer creates a sniffer over browser. headers may be nil.
func NewBrowserSniffer(browser Browser, headers HeaderMatcher, timings Timings, opts ...BrowserOption) *BrowserSniffer {
	s := &BrowserSniffer{
		browser: browser,
		headers: headers,
		timings: timings,
		clock:   clock.New(),
		limiter: ratelimit.NewUnlimited(),
		logURL:  func(u string) string { return utils.LogURLWithFlag(false, u) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Probe opens a page, watches its traffic while it loads and returns the
// selected candidate. The page is always closed before returning.
func (s *BrowserSniffer) Probe(ctx context.Context, provider types.Provider) (types.Candidate, error) {
	s.limiter.Take()

	page, err := s.browser.Open(ctx)
	if err != nil {
		return types.Candidate{}, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			logger.Debug("{sniffer/browser - Probe} closing page for %s: %v", provider.Name, cerr)
		}
	}()

	collector := NewCollector(s.clock)
	if err := page.Intercept(s.rewrite, collector.ObserveResponse); err != nil {
		return types.Candidate{}, fmt.Errorf("install interception: %w", err)
	}

	logger.Debug("{sniffer/browser - Probe} %s navigating to %s", provider.Name, s.logURL(provider.EndpointURL))
	navCtx, cancel := s.withTimeout(ctx, s.timings.Navigation)
	err = page.Navigate(navCtx, provider.EndpointURL)
	cancel()
	if err != nil {
		return types.Candidate{}, fmt.Errorf("navigate %s: %w", provider.Name, err)
	}

	if provider.Interaction == types.InteractionClickPlay {
		if err := s.sleep(ctx, s.timings.Interaction); err != nil {
			return types.Candidate{}, err
		}
		if err := page.Click(ctx, clickSelectors...); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return types.Candidate{}, err
			}
			logger.Debug("{sniffer/browser - Probe} %s click failed: %v", provider.Name, err)
		}
		if err := s.sleep(ctx, s.timings.PostInteraction); err != nil {
			return types.Candidate{}, err
		}
	} else if err := s.sleep(ctx, s.timings.Settle); err != nil {
		return types.Candidate{}, err
	}

	best, ok := collector.Best()
	if !ok {
		return types.Candidate{}, ErrNoCandidate
	}
	logger.Debug("{sniffer/browser - Probe} %s selected %s from %d observations", provider.Name, best.Kind, collector.Len())
	return best, nil
}

func (s *BrowserSniffer) rewrite(rawURL string) map[string]string {
	if s.headers == nil {
		return nil
	}
	return s.headers.Match(rawURL)
}

func (s *BrowserSniffer) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return s.clock.WithTimeout(ctx, d)
}

// sleep waits d on the sniffer clock or until ctx is done
func (s *BrowserSniffer) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := s.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
