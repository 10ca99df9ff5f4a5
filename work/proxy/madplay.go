package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"vidsniff/work/logger"
	"vidsniff/work/parser"
	"vidsniff/work/utils"
)

// DefaultMadplayAPI is the madplay source lookup endpoint
const DefaultMadplayAPI = "https://madplay.site/api/playsrc"

// MadplayOrigin is the Origin madplay's CDN expects on proxied requests
const MadplayOrigin = "https://madplay.site"

// ErrNoMadplaySource is returned when the lookup yields nothing playable
var ErrNoMadplaySource = errors.New("no madplay source")

// MadplaySource is a resolved madplay stream
type MadplaySource struct {
	PlaylistURL string                `json:"playlistUrl"` // Master playlist from the lookup
	StreamURL   string                `json:"streamUrl"`   // Best variant, or the playlist itself
	Variant     *parser.StreamVariant `json:"variant,omitempty"`
}

type madplayEntry struct {
	File string `json:"file"`
}

// ResolveMadplay looks up the madplay source for a TMDB id and picks the
// highest resolution variant of its master playlist.
func (sp *StreamProxy) ResolveMadplay(ctx context.Context, tmdbID string) (MadplaySource, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	lookup := sp.MadplayAPI + "?id=" + url.QueryEscape(tmdbID)
	body, err := sp.fetch(ctx, lookup)
	if err != nil {
		return MadplaySource{}, fmt.Errorf("madplay lookup: %w", err)
	}

	var entries []madplayEntry
	if err := json.Unmarshal(body, &entries); err != nil || len(entries) == 0 || entries[0].File == "" {
		return MadplaySource{}, ErrNoMadplaySource
	}

	source := MadplaySource{PlaylistURL: entries[0].File, StreamURL: entries[0].File}

	playlist, err := sp.fetch(ctx, source.PlaylistURL)
	if err != nil {
		return MadplaySource{}, fmt.Errorf("madplay playlist: %w", err)
	}

	content := string(playlist)
	if !parser.IsMasterPlaylist(content) {
		return source, nil
	}

	variants, err := parser.ParseMasterPlaylist(content, source.PlaylistURL)
	if err != nil {
		return MadplaySource{}, fmt.Errorf("madplay playlist: %w", err)
	}

	best := parser.SelectVariant(variants, "highest")
	source.StreamURL = best.URL
	source.Variant = &best

	logger.Debug("{proxy/madplay - ResolveMadplay} %s -> %s (%s)",
		tmdbID, utils.LogURL(sp.Config, best.URL), best.Resolution)
	return source, nil
}

func (sp *StreamProxy) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("Origin", MadplayOrigin)
	req.Header.Set("Referer", MadplayOrigin+"/")

	resp, err := sp.HttpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	buf, err := sp.BufferPool.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	defer sp.BufferPool.Put(buf)

	out := make([]byte, buf.Len())
	copy(out, buf.B)
	return out, nil
}
