package metadata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/ryanbradynd05/go-tmdb"
	"go.uber.org/ratelimit"

	"vidsniff/work/config"
	"vidsniff/work/logger"
	"vidsniff/work/types"
)

// ErrNoAPIKey is returned by Lookup when no metadata API key is configured
var ErrNoAPIKey = errors.New("metadata: no TMDB API key configured")

// Info is the subset of title metadata the scrape API templates need
type Info struct {
	Title   string `json:"title"`
	Year    string `json:"year"`
	Runtime int    `json:"runtime"`
}

// TMDBClient is the part of *tmdb.TMDb the service uses, split out for tests
type TMDBClient interface {
	GetMovieInfo(id int, options map[string]string) (*tmdb.Movie, error)
	GetTvInfo(id int, options map[string]string) (*tmdb.TV, error)
}

// Service looks up title metadata through TMDB with a rate limit and a
// write-expiring cache in front of it.
type Service struct {
	client  TMDBClient
	cache   *otter.Cache[string, Info]
	limiter ratelimit.Limiter
}

// New builds a Service from configuration. Without an API key the service
// is still usable and every Lookup returns ErrNoAPIKey.
func New(cfg *config.Config) *Service {
	var client TMDBClient
	if cfg.TMDBAPIKey != "" {
		client = tmdb.Init(tmdb.Config{
			APIKey:   cfg.TMDBAPIKey,
			Proxies:  nil,
			UseProxy: false,
		})
	}
	return NewWithClient(client, 24*time.Hour)
}

// NewWithClient builds a Service around an existing client
func NewWithClient(client TMDBClient, ttl time.Duration) *Service {
	return &Service{
		client: client,
		cache: otter.Must(&otter.Options[string, Info]{
			MaximumSize:      5000,
			ExpiryCalculator: otter.ExpiryWriting[string, Info](ttl),
		}),
		limiter: ratelimit.New(20),
	}
}

// Lookup returns title, year and runtime for a TMDB id.
// Series use name, first air date (last air date as fallback) and the first
// episode runtime; movies use title, release date and runtime.
func (s *Service) Lookup(ctx context.Context, mediaType types.MediaType, id string) (Info, error) {
	if s.client == nil {
		return Info{}, ErrNoAPIKey
	}
	numericID, err := strconv.Atoi(id)
	if err != nil {
		return Info{}, fmt.Errorf("metadata: invalid id %q: %w", id, err)
	}

	key := string(mediaType) + ":" + id
	if info, ok := s.cache.GetIfPresent(key); ok {
		return info, nil
	}

	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	s.limiter.Take()

	var info Info
	if mediaType == types.MediaTV {
		info, err = s.lookupTV(numericID)
	} else {
		info, err = s.lookupMovie(numericID)
	}
	if err != nil {
		return Info{}, err
	}

	s.cache.Set(key, info)
	logger.Debug("{metadata/tmdb - Lookup} %s resolved to %q (%s, %d min)", key, info.Title, info.Year, info.Runtime)
	return info, nil
}

func (s *Service) lookupMovie(id int) (Info, error) {
	movie, err := s.client.GetMovieInfo(id, nil)
	if err != nil {
		return Info{}, fmt.Errorf("metadata: movie %d: %w", id, err)
	}
	if movie == nil {
		return Info{}, fmt.Errorf("metadata: movie %d: empty response", id)
	}
	title := movie.Title
	if title == "" {
		title = movie.OriginalTitle
	}
	return Info{
		Title:   title,
		Year:    yearOf(movie.ReleaseDate),
		Runtime: int(movie.Runtime),
	}, nil
}

func (s *Service) lookupTV(id int) (Info, error) {
	show, err := s.client.GetTvInfo(id, nil)
	if err != nil {
		return Info{}, fmt.Errorf("metadata: tv %d: %w", id, err)
	}
	if show == nil {
		return Info{}, fmt.Errorf("metadata: tv %d: empty response", id)
	}
	title := show.Name
	if title == "" {
		title = show.OriginalName
	}
	date := show.FirstAirDate
	if date == "" {
		date = show.LastAirDate
	}
	runtime := 0
	if len(show.EpisodeRunTime) > 0 {
		runtime = show.EpisodeRunTime[0]
	}
	return Info{
		Title:   title,
		Year:    yearOf(date),
		Runtime: runtime,
	}, nil
}

// yearOf returns the YYYY prefix of an ISO date
func yearOf(date string) string {
	if len(date) >= 4 {
		return date[:4]
	}
	return ""
}
