package sniffer

import (
	"context"
	"errors"
	"time"

	"vidsniff/work/types"
)

var (
	// ErrConnect is returned when the remote browser session cannot be opened
	ErrConnect = errors.New("browser connect failed")
	// ErrNoCandidate is returned when a probe observed no usable media URL
	ErrNoCandidate = errors.New("no media candidate observed")
	// ErrPollTimeout is returned when the scrape API never produced links within the budget
	ErrPollTimeout = errors.New("scrape api polling timed out")
	// ErrNothingToClick is returned by Page.Click when no selector matched
	ErrNothingToClick = errors.New("no clickable element found")
)

// Prober runs one strategy against one provider and returns the best
// candidate it found. Any error means the attempt failed.
type Prober interface {
	Probe(ctx context.Context, provider types.Provider) (types.Candidate, error)
}

// ProberFunc adapts a function to the Prober interface
type ProberFunc func(ctx context.Context, provider types.Provider) (types.Candidate, error)

func (f ProberFunc) Probe(ctx context.Context, provider types.Provider) (types.Candidate, error) {
	return f(ctx, provider)
}

// Timings holds the fixed waits of a browser probe
type Timings struct {
	Navigation      time.Duration
	Settle          time.Duration
	Interaction     time.Duration
	PostInteraction time.Duration
}
