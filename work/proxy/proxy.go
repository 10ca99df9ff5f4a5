package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"vidsniff/work/buffer"
	"vidsniff/work/client"
	"vidsniff/work/config"
	"vidsniff/work/logger"
	"vidsniff/work/metrics"
	"vidsniff/work/parser"
	"vidsniff/work/utils"
)

// ErrInvalidTarget is returned for proxy targets that are not http(s) URLs
var ErrInvalidTarget = errors.New("invalid proxy target")

// HTTPDoer sends outbound requests. *client.HeaderSettingClient satisfies it
// and applies the host header rules on the way out.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StreamProxy relays upstream media and playlists to players that cannot
// send the headers the upstream host insists on.
type StreamProxy struct {
	Config     *config.Config     // Application configuration
	BufferPool *buffer.BufferPool // Pool for relay buffers
	HttpClient HTTPDoer           // HTTP client with header rules
	MadplayAPI string             // Source lookup endpoint for ResolveMadplay
}

// Options tune a single ProxyStream call
type Options struct {
	ExtraHeaders    map[string]string // Sent upstream, host rules never replace them
	RewritePlaylist bool              // Make relative playlist entries absolute
}

// relayedHeaders are copied from the upstream response for pass-through bodies
var relayedHeaders = []string{
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
	"Last-Modified",
	"ETag",
}

// New creates a StreamProxy
func New(cfg *config.Config, bufferPool *buffer.BufferPool, httpClient HTTPDoer) *StreamProxy {
	return &StreamProxy{
		Config:     cfg,
		BufferPool: bufferPool,
		HttpClient: httpClient,
		MadplayAPI: DefaultMadplayAPI,
	}
}

// ValidateTarget reports whether target can be proxied
func ValidateTarget(target string) error {
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	return nil
}

// ProxyStream fetches target and writes it to w. The client's Range header
// is forwarded and partial responses keep their status and Content-Range.
// HLS playlists are rewritten when opts.RewritePlaylist is set; everything
// else is relayed through a pooled buffer.
//
// Errors returned before anything is written leave w untouched so the
// caller can still answer with an error status.
func (sp *StreamProxy) ProxyStream(w http.ResponseWriter, r *http.Request, target string, opts Options) error {
	if err := ValidateTarget(target); err != nil {
		metrics.ProxyErrors.WithLabelValues("invalid_target").Inc()
		return err
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		metrics.ProxyErrors.WithLabelValues("invalid_target").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}

	req.Header.Set("Accept-Encoding", "identity")
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	for k, v := range opts.ExtraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := sp.HttpClient.Do(req)
	if err != nil {
		metrics.ProxyErrors.WithLabelValues("upstream").Inc()
		return fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	logger.Debug("{proxy/proxy - ProxyStream} %s -> %d %s", utils.LogURL(sp.Config, target), resp.StatusCode, contentType)

	crw := client.NewCustomResponseWriter(w)
	if opts.RewritePlaylist && isPlaylistType(contentType) {
		if err := sp.relayPlaylist(crw, r, resp, target, contentType); err != nil {
			return err
		}
		metrics.BytesTransferred.WithLabelValues("playlist").Add(float64(crw.BytesWritten()))
		return nil
	}

	crw.Header().Set("Content-Type", contentType)
	for _, h := range relayedHeaders {
		if v := resp.Header.Get(h); v != "" {
			crw.Header().Set(h, v)
		}
	}
	crw.WriteHeader(resp.StatusCode)

	_, err = sp.BufferPool.Copy(crw, resp.Body)
	metrics.BytesTransferred.WithLabelValues("media").Add(float64(crw.BytesWritten()))
	if err != nil {
		metrics.ProxyErrors.WithLabelValues("relay").Inc()
		logger.Debug("{proxy/proxy - ProxyStream} relay of %s stopped after %d bytes (status %d): %v",
			utils.LogURL(sp.Config, target), crw.BytesWritten(), crw.StatusCode(), err)
	}
	return nil
}

func (sp *StreamProxy) relayPlaylist(w http.ResponseWriter, r *http.Request, resp *http.Response, target, contentType string) error {
	buf, err := sp.BufferPool.ReadAll(resp.Body)
	if err != nil {
		metrics.ProxyErrors.WithLabelValues("upstream").Inc()
		return fmt.Errorf("failed to read playlist: %w", err)
	}
	defer sp.BufferPool.Put(buf)

	rewritten := parser.RewritePlaylist(buf.String(), target)

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(rewritten)))
	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		filename := utils.FilenameFromURL(target, "playlist.m3u8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := w.Write([]byte(rewritten)); err != nil {
		metrics.ProxyErrors.WithLabelValues("relay").Inc()
	}
	return nil
}

func isPlaylistType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "application/vnd.apple.mpegurl") || strings.Contains(ct, "application/x-mpegurl")
}
