package types

import (
	"fmt"
	"strings"
	"time"
)

// MediaType distinguishes movies from series episodes, which use different
// endpoint templates and probing orders.
type MediaType string

const (
	MediaMovie MediaType = "movie"
	MediaTV    MediaType = "tv"
)

// ParseMediaType accepts "movie", "tv" and the common "series"/"show" aliases
func ParseMediaType(s string) (MediaType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "movie", "movies", "":
		return MediaMovie, nil
	case "tv", "series", "show":
		return MediaTV, nil
	default:
		return "", fmt.Errorf("unknown media type %q", s)
	}
}

// MediaRequest identifies the title a session is sniffing for.
// Season and Episode are ignored for movies.
type MediaRequest struct {
	ID      string    `json:"id"`
	Type    MediaType `json:"type"`
	Season  int       `json:"season,omitempty"`
	Episode int       `json:"episode,omitempty"`
}

// Normalized returns a copy with series season/episode defaulted to 1 and
// movie season/episode cleared.
func (r MediaRequest) Normalized() MediaRequest {
	if r.Type != MediaTV {
		r.Type = MediaMovie
		r.Season, r.Episode = 0, 0
		return r
	}
	if r.Season <= 0 {
		r.Season = 1
	}
	if r.Episode <= 0 {
		r.Episode = 1
	}
	return r
}

// SessionKey is the progress tracker and cache key for this request.
// Movies key by id alone; series include season and episode so concurrent
// episodes of one show do not overwrite each other.
func (r MediaRequest) SessionKey() string {
	n := r.Normalized()
	if n.Type == MediaTV {
		return fmt.Sprintf("tv:%s:s%d:e%d", n.ID, n.Season, n.Episode)
	}
	return "movie:" + n.ID
}

// Strategy is how a provider is probed
type Strategy int

const (
	StrategyRenderAndIntercept Strategy = iota // load the embed page in a remote browser and watch its traffic
	StrategyPollJSON                           // poll a scrape API until it returns links
)

func (s Strategy) String() string {
	switch s {
	case StrategyPollJSON:
		return "poll"
	default:
		return "render"
	}
}

// Interaction is the page interaction policy applied after navigation
type Interaction int

const (
	InteractionNone      Interaction = iota // wait for the settle delay
	InteractionClickPlay                    // click the first play control, then wait
)

func (i Interaction) String() string {
	if i == InteractionClickPlay {
		return "click"
	}
	return ""
}

// Provider is a catalog entry with its endpoint fully substituted for one request
type Provider struct {
	Name        string      `json:"name"`
	EndpointURL string      `json:"endpointURL"`
	Strategy    Strategy    `json:"strategy"`
	Interaction Interaction `json:"interaction"`
}

// CandidateKind is the media container family of an observed URL
type CandidateKind int

const (
	CandidateMP4 CandidateKind = iota
	CandidateHLS
)

func (k CandidateKind) String() string {
	if k == CandidateHLS {
		return "hls"
	}
	return "mp4"
}

// ClassifyURL reports whether a URL looks like an MP4 or HLS resource.
// Matching is by substring so query-string wrapped URLs still classify.
func ClassifyURL(u string) (CandidateKind, bool) {
	lower := strings.ToLower(u)
	switch {
	case strings.Contains(lower, ".mp4"):
		return CandidateMP4, true
	case strings.Contains(lower, ".m3u8"):
		return CandidateHLS, true
	default:
		return 0, false
	}
}

// Candidate is a media URL observed during a probe
type Candidate struct {
	URL        string        `json:"url"`
	SizeBytes  int64         `json:"sizeBytes"`
	ObservedAt time.Time     `json:"observedAt"`
	Kind       CandidateKind `json:"kind"`
	Seq        int           `json:"-"` // observation order, breaks ObservedAt ties
}

// ProviderStatus is the per-provider state within a session
type ProviderStatus string

const (
	StatusPending   ProviderStatus = "pending"
	StatusLoading   ProviderStatus = "loading"
	StatusCompleted ProviderStatus = "completed"
	StatusError     ProviderStatus = "error"
)

// Terminal reports whether the status can no longer change
func (s ProviderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// rank orders statuses along the only permitted transition path
func (s ProviderStatus) rank() int {
	switch s {
	case StatusLoading:
		return 1
	case StatusCompleted, StatusError:
		return 2
	default:
		return 0
	}
}

// CanTransition reports whether moving from s to next keeps the
// pending -> loading -> terminal ordering.
func (s ProviderStatus) CanTransition(next ProviderStatus) bool {
	if s.Terminal() {
		return false
	}
	return next.rank() >= s.rank()
}

// ProgressState is the observable state of one sniff session
type ProgressState struct {
	Statuses  []ProviderStatus `json:"statuses"`
	Found     *string          `json:"found"`
	Providers []string         `json:"providers,omitempty"`
}

// Clone returns a deep copy safe to hand to another goroutine
func (p ProgressState) Clone() ProgressState {
	out := ProgressState{
		Statuses:  append([]ProviderStatus(nil), p.Statuses...),
		Providers: append([]string(nil), p.Providers...),
	}
	if p.Found != nil {
		found := *p.Found
		out.Found = &found
	}
	return out
}

// Terminal reports whether the session has either found a URL or exhausted
// every provider.
func (p ProgressState) Terminal() bool {
	if p.Found != nil {
		return true
	}
	for _, s := range p.Statuses {
		if !s.Terminal() {
			return false
		}
	}
	return len(p.Statuses) > 0
}

// PendingState returns a fresh all-pending state for n providers
func PendingState(n int) ProgressState {
	statuses := make([]ProviderStatus, n)
	for i := range statuses {
		statuses[i] = StatusPending
	}
	return ProgressState{Statuses: statuses}
}

// QualityLink is one entry of a scrape API server list
type QualityLink struct {
	Quality string `json:"quality"`
	Link    string `json:"link"`
}

// ScrapeResult is the scrape API response: server name to its links
type ScrapeResult map[string][]QualityLink

// HasLinks reports whether any server carries a non-empty link
func (r ScrapeResult) HasLinks() bool {
	for _, links := range r {
		for _, l := range links {
			if l.Link != "" {
				return true
			}
		}
	}
	return false
}

// SniffRecord is one finished session as kept in history storage
type SniffRecord struct {
	Key        string        `json:"key"`
	MediaType  MediaType     `json:"mediaType"`
	Provider   string        `json:"provider"`
	StreamURL  string        `json:"streamURL"`
	Found      bool          `json:"found"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finishedAt"`
}
