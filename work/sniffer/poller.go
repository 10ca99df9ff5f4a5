package sniffer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/ratelimit"

	"vidsniff/work/logger"
	"vidsniff/work/types"
)

// maxScrapeBody caps how much of a scrape API response is decoded
const maxScrapeBody = 8 << 20

var errNotReady = errors.New("scrape api has no links yet")

// HTTPDoer is the subset of an HTTP client the poller needs
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// PollingSniffer probes scrape API providers that answer with JSON once
// their backend has finished resolving links.
type PollingSniffer struct {
	httpClient     HTTPDoer
	limiter        ratelimit.Limiter
	timeout        time.Duration
	interval       time.Duration
	requestTimeout time.Duration
	priority       []string
}

// PollOptions configures a PollingSniffer. Zero values take the defaults.
type PollOptions struct {
	Timeout        time.Duration
	Interval       time.Duration
	RequestTimeout time.Duration
	Priority       []string
	Limiter        ratelimit.Limiter
}

// NewPollingSniffer creates a poller using httpClient for every request
func NewPollingSniffer(httpClient HTTPDoer, opts PollOptions) *PollingSniffer {
	p := &PollingSniffer{
		httpClient:     httpClient,
		limiter:        opts.Limiter,
		timeout:        opts.Timeout,
		interval:       opts.Interval,
		requestTimeout: opts.RequestTimeout,
		priority:       opts.Priority,
	}
	if p.limiter == nil {
		p.limiter = ratelimit.NewUnlimited()
	}
	if p.timeout <= 0 {
		p.timeout = 20 * time.Second
	}
	if p.interval <= 0 {
		p.interval = 3 * time.Second
	}
	if p.requestTimeout <= 0 {
		p.requestTimeout = 10 * time.Second
	}
	if len(p.priority) == 0 {
		p.priority = []string{"ORG", "1080"}
	}
	return p
}

// Probe polls the provider endpoint and turns the preferred link into a candidate
func (p *PollingSniffer) Probe(ctx context.Context, provider types.Provider) (types.Candidate, error) {
	result, err := p.PollForResult(ctx, provider.EndpointURL, p.timeout, p.interval)
	if err != nil {
		return types.Candidate{}, err
	}

	link, ok := PickDefault(result, p.priority)
	if !ok {
		return types.Candidate{}, ErrNoCandidate
	}

	kind, ok := types.ClassifyURL(link)
	if !ok {
		// scrape APIs hand out direct file links without extensions
		kind = types.CandidateMP4
	}
	return types.Candidate{URL: link, Kind: kind, ObservedAt: time.Now()}, nil
}

// Result polls scrapeURL with the sniffer's configured budget
func (p *PollingSniffer) Result(ctx context.Context, scrapeURL string) (types.ScrapeResult, error) {
	return p.PollForResult(ctx, scrapeURL, p.timeout, p.interval)
}

// PollForResult warms the scrape API with one discarded request, then polls
// until it returns JSON carrying at least one link or timeout elapses.
func (p *PollingSniffer) PollForResult(ctx context.Context, scrapeURL string, timeout, interval time.Duration) (types.ScrapeResult, error) {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The first hit usually only kicks off the backend scrape
	if _, err := p.fetchOnce(pollCtx, scrapeURL); err != nil {
		logger.Debug("{sniffer/poller - PollForResult} warm-up request: %v", err)
	}

	var result types.ScrapeResult
	attempts := 0
	err := retry.Do(
		func() error {
			attempts++
			r, err := p.fetchOnce(pollCtx, scrapeURL)
			if err != nil {
				return err
			}
			result = r
			return nil
		},
		retry.Context(pollCtx),
		retry.Attempts(0),
		retry.Delay(interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		logger.Debug("{sniffer/poller - PollForResult} links after %d attempts", attempts)
		return result, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	logger.Debug("{sniffer/poller - PollForResult} gave up after %d attempts: %v", attempts, err)
	return nil, ErrPollTimeout
}

// fetchOnce performs one bounded GET and decodes the server map. Values that
// are not link arrays are skipped.
func (p *PollingSniffer) fetchOnce(ctx context.Context, scrapeURL string) (types.ScrapeResult, error) {
	p.limiter.Take()

	reqCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, scrapeURL, nil)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("scrape api status %d", resp.StatusCode)
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxScrapeBody)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("scrape api body: %w", err)
	}

	result := make(types.ScrapeResult, len(raw))
	for server, value := range raw {
		var links []types.QualityLink
		if err := json.Unmarshal(value, &links); err != nil {
			continue
		}
		result[server] = links
	}
	if !result.HasLinks() {
		return nil, errNotReady
	}
	return result, nil
}

// Flatten lists every link in server name order
func Flatten(result types.ScrapeResult) []types.QualityLink {
	servers := make([]string, 0, len(result))
	for name := range result {
		servers = append(servers, name)
	}
	sort.Strings(servers)

	var out []types.QualityLink
	for _, name := range servers {
		out = append(out, result[name]...)
	}
	return out
}

// PickDefault chooses the link to play. The first priority tag must match a
// quality exactly, later tags match as substrings, all case-insensitively.
// Without a match the first non-empty link wins.
func PickDefault(result types.ScrapeResult, priority []string) (string, bool) {
	links := Flatten(result)

	for i, tag := range priority {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		for _, l := range links {
			if l.Link == "" {
				continue
			}
			quality := strings.ToLower(strings.TrimSpace(l.Quality))
			if i == 0 && quality == tag {
				return l.Link, true
			}
			if i > 0 && strings.Contains(quality, tag) {
				return l.Link, true
			}
		}
	}

	for _, l := range links {
		if l.Link != "" {
			return l.Link, true
		}
	}
	return "", false
}
