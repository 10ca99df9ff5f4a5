package sniffer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"vidsniff/work/logger"
)

// ErrNoEndpoint is returned when no remote browser endpoint is configured
var ErrNoEndpoint = errors.New("remote browser endpoint not configured")

// RemoteBrowser opens pages on a remote Chrome DevTools endpoint such as
// browserless. Every Open gets its own websocket connection and tab.
type RemoteBrowser struct {
	endpoint string
	clock    clock.Clock
}

// NewRemoteBrowser creates a browser for the given websocket endpoint
func NewRemoteBrowser(endpoint string) *RemoteBrowser {
	return &RemoteBrowser{endpoint: endpoint, clock: clock.New()}
}

// Open connects to the endpoint and creates a fresh tab
func (b *RemoteBrowser) Open(ctx context.Context) (Page, error) {
	if b.endpoint == "" {
		return nil, ErrNoEndpoint
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), b.endpoint, chromedp.NoModifyURL)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// The tab outlives the Open call but must die with the caller's context
	stop := context.AfterFunc(ctx, tabCancel)

	if err := chromedp.Run(tabCtx); err != nil {
		stop()
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("connect remote browser: %w", err)
	}

	return &chromePage{
		ctx:    tabCtx,
		idle:   newIdleTracker(b.clock),
		cancel: func() { stop(); tabCancel(); allocCancel() },
	}, nil
}

type chromePage struct {
	ctx       context.Context
	idle      *idleTracker
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (p *chromePage) Intercept(rewrite RequestRewriter, observe ResponseObserver) error {
	chromedp.ListenTarget(p.ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			go p.continueRequest(e, rewrite)
		case *network.EventRequestWillBeSent:
			p.idle.started(string(e.RequestID))
		case *network.EventLoadingFinished:
			p.idle.finished(string(e.RequestID))
		case *network.EventLoadingFailed:
			p.idle.finished(string(e.RequestID))
		case *network.EventResponseReceived:
			if e.Response != nil && observe != nil {
				observe(e.Response.URL, headerStrings(e.Response.Headers))
			}
		}
	})

	return chromedp.Run(p.ctx,
		network.Enable(),
		fetch.Enable().WithPatterns([]*fetch.RequestPattern{{URLPattern: "*"}}),
	)
}

// continueRequest releases a paused request, merging override headers when
// the rewriter has any for its URL.
func (p *chromePage) continueRequest(e *fetch.EventRequestPaused, rewrite RequestRewriter) {
	c := chromedp.FromContext(p.ctx)
	if c == nil || c.Target == nil {
		return
	}
	execCtx := cdp.WithExecutor(p.ctx, c.Target)

	action := fetch.ContinueRequest(e.RequestID)
	var overrides map[string]string
	if rewrite != nil && e.Request != nil {
		overrides = rewrite(e.Request.URL)
	}
	if len(overrides) > 0 {
		action = action.WithHeaders(mergeHeaders(headerStrings(e.Request.Headers), overrides))
	}

	if err := action.Do(execCtx); err != nil && p.ctx.Err() == nil {
		logger.Debug("{sniffer/chromedp - continueRequest} continue failed: %v", err)
	}
}

func (p *chromePage) Navigate(ctx context.Context, rawURL string) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, chromedp.Navigate(rawURL)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	if err := p.idle.wait(runCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Click activates the first element matched by the first selector that
// matches anything. Mouse events are tried first, then a scripted click.
func (p *chromePage) Click(ctx context.Context, selectors ...string) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	for _, sel := range selectors {
		var nodes []*cdp.Node
		if err := chromedp.Run(runCtx, chromedp.Nodes(sel, &nodes, chromedp.AtLeast(0), chromedp.ByQuery)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if len(nodes) == 0 {
			continue
		}

		if err := chromedp.Run(runCtx, chromedp.MouseClickNode(nodes[0])); err == nil {
			return nil
		}

		var clicked bool
		script := fmt.Sprintf(`(() => { const el = document.querySelector(%q); if (!el) return false; el.click(); return true; })()`, sel)
		if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &clicked)); err == nil && clicked {
			return nil
		}
	}
	return ErrNothingToClick
}

func (p *chromePage) Close() error {
	p.closeOnce.Do(func() {
		if err := chromedp.Cancel(p.ctx); err != nil {
			logger.Debug("{sniffer/chromedp - Close} cancel tab: %v", err)
		}
		p.cancel()
	})
	return nil
}

// headerStrings flattens devtools headers, dropping non-string values
func headerStrings(h network.Headers) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// mergeHeaders overlays overrides on original, replacing keys case-insensitively
func mergeHeaders(original, overrides map[string]string) []*fetch.HeaderEntry {
	merged := make(map[string]string, len(original)+len(overrides))
	names := make(map[string]string, len(original)+len(overrides))
	for k, v := range original {
		canon := http.CanonicalHeaderKey(k)
		merged[canon] = v
		names[canon] = k
	}
	for k, v := range overrides {
		canon := http.CanonicalHeaderKey(k)
		merged[canon] = v
		names[canon] = k
	}

	entries := make([]*fetch.HeaderEntry, 0, len(merged))
	for canon, v := range merged {
		entries = append(entries, &fetch.HeaderEntry{Name: names[canon], Value: v})
	}
	return entries
}
