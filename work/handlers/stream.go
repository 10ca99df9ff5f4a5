package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"vidsniff/work/logger"
	"vidsniff/work/proxy"
)

// HandleProxy relays ?url= with the host header rules applied and HLS
// playlists rewritten to absolute URIs.
func HandleProxy(s *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")
		if err := proxy.ValidateTarget(target); err != nil {
			http.Error(w, "Invalid URL", http.StatusBadRequest)
			return
		}

		opts := proxy.Options{RewritePlaylist: true}
		if ua := r.UserAgent(); ua != "" {
			opts.ExtraHeaders = map[string]string{"User-Agent": ua}
		}
		serveProxy(s, w, r, target, opts)
	}
}

// HandleMadplayProxy relays ?url= with madplay's expected Origin
func HandleMadplayProxy(s *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")
		if err := proxy.ValidateTarget(target); err != nil {
			http.Error(w, "Invalid url", http.StatusBadRequest)
			return
		}

		serveProxy(s, w, r, target, proxy.Options{
			ExtraHeaders: map[string]string{"Origin": proxy.MadplayOrigin},
		})
	}
}

func serveProxy(s *Services, w http.ResponseWriter, r *http.Request, target string, opts proxy.Options) {
	if err := s.Proxy.ProxyStream(w, r, target, opts); err != nil {
		if errors.Is(err, proxy.ErrInvalidTarget) {
			http.Error(w, "Invalid URL", http.StatusBadRequest)
			return
		}
		logger.Warn("{handlers/stream - serveProxy} %v", err)
		http.Error(w, "Proxy error", http.StatusBadGateway)
	}
}

// madplayResponse is a resolved madplay source plus a ready to play link
type madplayResponse struct {
	proxy.MadplaySource
	Proxied string `json:"proxied"`
}

// HandleMadplay resolves the best madplay variant for ?tmdb=
func HandleMadplay(s *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := firstOf(r.URL.Query(), "tmdb", "id")
		if id == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing tmdb param"})
			return
		}

		source, err := s.Proxy.ResolveMadplay(r.Context(), id)
		if err != nil {
			logger.Warn("{handlers/stream - HandleMadplay} %s: %v", id, err)
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "No madplay source", Message: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, madplayResponse{
			MadplaySource: source,
			Proxied:       s.Config.BaseURL + "/api/madplay/proxy?url=" + url.QueryEscape(source.StreamURL),
		})
	}
}

// HandleSubtitles lists subtitles for ?tmdb=, an empty list when unavailable
func HandleSubtitles(s *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := firstOf(r.URL.Query(), "tmdb", "id")
		subtitles := []json.RawMessage{}
		if id != "" && s.Subtitles != nil {
			subtitles = s.Subtitles.Fetch(r.Context(), id)
		}
		writeJSON(w, http.StatusOK, subtitles)
	}
}
