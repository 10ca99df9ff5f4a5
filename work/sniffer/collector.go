package sniffer

import (
	"strconv"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"

	"vidsniff/work/logger"
	"vidsniff/work/types"
)

// Collector records media candidates seen on the wire during a single probe.
// It is fed from browser event callbacks, so all methods are goroutine safe.
type Collector struct {
	mu         sync.Mutex
	clock      clock.Clock
	candidates []types.Candidate
	seq        int
}

// NewCollector creates an empty collector stamping observations with clk
func NewCollector(clk clock.Clock) *Collector {
	if clk == nil {
		clk = clock.New()
	}
	return &Collector{clock: clk}
}

// ObserveResponse records a response if its URL classifies as MP4 or HLS.
// headers may use any key casing; only Content-Length is read.
func (c *Collector) ObserveResponse(rawURL string, headers map[string]string) {
	kind, ok := types.ClassifyURL(rawURL)
	if !ok {
		return
	}

	var size int64
	if kind == types.CandidateMP4 {
		size = contentLength(headers)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.candidates = append(c.candidates, types.Candidate{
		URL:        rawURL,
		SizeBytes:  size,
		ObservedAt: c.clock.Now(),
		Kind:       kind,
		Seq:        c.seq,
	})
	logger.Debug("{sniffer/collector - ObserveResponse} %s candidate #%d (%d bytes)", kind, c.seq, size)
}

// Candidates returns a copy of everything observed so far
func (c *Collector) Candidates() []types.Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Candidate(nil), c.candidates...)
}

// Len returns the number of observations
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.candidates)
}

// Best applies SelectBest to the current observations
func (c *Collector) Best() (types.Candidate, bool) {
	return SelectBest(c.Candidates())
}

// SelectBest picks the candidate a probe reports:
//   - any MP4: largest size, equal sizes broken by the longer URL
//   - else any HLS: most recently observed, equal times broken by observation order
//   - else nothing
func SelectBest(candidates []types.Candidate) (types.Candidate, bool) {
	var (
		bestMP4, bestHLS types.Candidate
		haveMP4, haveHLS bool
	)

	for _, cand := range candidates {
		switch cand.Kind {
		case types.CandidateMP4:
			if !haveMP4 || betterMP4(cand, bestMP4) {
				bestMP4, haveMP4 = cand, true
			}
		case types.CandidateHLS:
			if !haveHLS || laterHLS(cand, bestHLS) {
				bestHLS, haveHLS = cand, true
			}
		}
	}

	if haveMP4 {
		return bestMP4, true
	}
	if haveHLS {
		return bestHLS, true
	}
	return types.Candidate{}, false
}

func betterMP4(a, b types.Candidate) bool {
	if a.SizeBytes != b.SizeBytes {
		return a.SizeBytes > b.SizeBytes
	}
	return len(a.URL) > len(b.URL)
}

func laterHLS(a, b types.Candidate) bool {
	if !a.ObservedAt.Equal(b.ObservedAt) {
		return a.ObservedAt.After(b.ObservedAt)
	}
	return a.Seq >= b.Seq
}

func contentLength(headers map[string]string) int64 {
	for k, v := range headers {
		if !strings.EqualFold(k, "Content-Length") {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || n < 0 {
			return 0
		}
		return n
	}
	return 0
}
