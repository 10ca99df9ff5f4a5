package metadata

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vidsniff/work/client"
	"vidsniff/work/logger"
)

// maxSubtitleBody caps how much of the subtitle response is read
const maxSubtitleBody = 4 << 20

// Subtitles fetches the subtitle list for a title. The upstream entries are
// passed through untouched; every failure yields an empty list.
type Subtitles struct {
	httpClient  *client.HeaderSettingClient
	urlTemplate string
	timeout     time.Duration
}

// NewSubtitles creates a subtitle fetcher for a template containing {id}
func NewSubtitles(httpClient *client.HeaderSettingClient, urlTemplate string) *Subtitles {
	return &Subtitles{
		httpClient:  httpClient,
		urlTemplate: urlTemplate,
		timeout:     10 * time.Second,
	}
}

// Fetch returns the subtitle entries for id, or an empty list
func (s *Subtitles) Fetch(ctx context.Context, id string) []json.RawMessage {
	empty := []json.RawMessage{}
	if id == "" || s.urlTemplate == "" {
		return empty
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	target := strings.ReplaceAll(s.urlTemplate, "{id}", url.QueryEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return empty
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		logger.Debug("{metadata/subtitles - Fetch} request for %s failed: %v", id, err)
		return empty
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Debug("{metadata/subtitles - Fetch} status %d for %s", resp.StatusCode, id)
		return empty
	}

	var entries []json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSubtitleBody)).Decode(&entries); err != nil {
		logger.Debug("{metadata/subtitles - Fetch} undecodable response for %s: %v", id, err)
		return empty
	}
	if entries == nil {
		return empty
	}
	return entries
}
