package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"vidsniff/work/config"
	"vidsniff/work/logger"
	"vidsniff/work/metadata"
	"vidsniff/work/orchestrator"
	"vidsniff/work/progress"
	"vidsniff/work/proxy"
	"vidsniff/work/sniffer"
	"vidsniff/work/types"
)

// MetadataLookup resolves display metadata for a title
type MetadataLookup interface {
	Lookup(ctx context.Context, mediaType types.MediaType, id string) (metadata.Info, error)
}

// SubtitleFetcher returns the subtitle entries for a title
type SubtitleFetcher interface {
	Fetch(ctx context.Context, id string) []json.RawMessage
}

// Services bundles what the API handlers need
type Services struct {
	Config       *config.Config
	Orchestrator *orchestrator.Orchestrator
	Tracker      *progress.Tracker
	Catalog      orchestrator.CatalogBuilder
	Poller       *sniffer.PollingSniffer
	Proxy        *proxy.StreamProxy
	Metadata     MetadataLookup  // nil disables titles
	Subtitles    SubtitleFetcher // nil disables subtitles
}

// errorResponse is the JSON body of every API error
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// sessionResponse answers a queued or joined session
type sessionResponse struct {
	orchestrator.Session
	Progress string `json:"progress,omitempty"`
	Events   string `json:"events,omitempty"`
}

// HandleMedia serves /api/movie and /api/tv.
//
// Without flags the sniff is queued and the session key returned with 202.
// progress=1 streams the session's progress as server-sent events and
// wait=1 blocks until the sniff finishes.
func HandleMedia(s *Services, mediaType types.MediaType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := parseMediaRequest(w, r, mediaType)
		if !ok {
			return
		}
		query := r.URL.Query()

		if query.Get("wait") == "1" {
			found, err := s.Orchestrator.Resolve(r.Context(), req, nil)
			if err != nil {
				writeSniffError(w, err)
				return
			}
			if found == "" {
				writeJSON(w, http.StatusNotFound, errorResponse{Error: "No stream found"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"streamUrl": found})
			return
		}

		session, err := s.Orchestrator.Start(r.Context(), req)
		if err != nil {
			writeSniffError(w, err)
			return
		}

		if query.Get("progress") == "1" {
			if session.StreamURL != "" {
				found := session.StreamURL
				progress.ServeSnapshot(w, types.ProgressState{Statuses: []types.ProviderStatus{}, Found: &found})
				return
			}
			progress.ServeEvents(w, r, s.Tracker, session.Key, s.Config.ProgressInterval)
			return
		}

		if session.StreamURL != "" {
			writeJSON(w, http.StatusOK, session)
			return
		}

		writeJSON(w, http.StatusAccepted, sessionResponse{
			Session:  session,
			Progress: s.Config.BaseURL + "/api/progress/" + url.PathEscape(session.Key),
			Events:   s.Config.BaseURL + "/api/progress/" + url.PathEscape(session.Key) + "/events",
		})
	}
}

// HandleSniff runs a synchronous sniff, the blocking form of HandleMedia
func HandleSniff(s *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := parseMediaRequest(w, r, "")
		if !ok {
			return
		}

		found, err := s.Orchestrator.Resolve(r.Context(), req, nil)
		if err != nil {
			writeSniffError(w, err)
			return
		}
		if found == "" {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "No stream found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"streamUrl": found})
	}
}

// HandleProgress returns the current progress snapshot. The key comes from
// the path, or from tmdb/type/s/e query parameters.
func HandleProgress(s *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := progressKey(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, s.Tracker.Read(key))
	}
}

// HandleProgressEvents streams progress for an existing key as server-sent events
func HandleProgressEvents(s *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := progressKey(w, r)
		if !ok {
			return
		}
		progress.ServeEvents(w, r, s.Tracker, key, s.Config.ProgressInterval)
	}
}

func progressKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	if key := mux.Vars(r)["key"]; key != "" {
		return key, true
	}
	req, ok := parseMediaRequest(w, r, "")
	if !ok {
		return "", false
	}
	return req.SessionKey(), true
}

// parseMediaRequest reads tmdb (or id), type, s/season and e/episode. A
// fixed mediaType ignores the type parameter. It answers 400 itself when the
// request is unusable.
func parseMediaRequest(w http.ResponseWriter, r *http.Request, mediaType types.MediaType) (types.MediaRequest, bool) {
	query := r.URL.Query()

	id := strings.TrimSpace(firstOf(query, "tmdb", "id"))
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing tmdb param"})
		return types.MediaRequest{}, false
	}

	if mediaType == "" {
		parsed, err := types.ParseMediaType(query.Get("type"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return types.MediaRequest{}, false
		}
		mediaType = parsed
	}

	req := types.MediaRequest{ID: id, Type: mediaType}
	if mediaType == types.MediaTV {
		req.Season, _ = strconv.Atoi(firstOf(query, "s", "season"))
		req.Episode, _ = strconv.Atoi(firstOf(query, "e", "episode"))
	}
	return req.Normalized(), true
}

func firstOf(query url.Values, names ...string) string {
	for _, name := range names {
		if v := query.Get(name); v != "" {
			return v
		}
	}
	return ""
}

func writeSniffError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrEmptyCatalog):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "No stream found", Message: err.Error()})
	case errors.Is(err, orchestrator.ErrBusy):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Too many sniff sessions", Message: err.Error()})
	default:
		logger.Error("{handlers/handlers - writeSniffError} %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Stream sniffing failed", Message: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("{handlers/handlers - writeJSON} failed to encode response: %v", err)
	}
}
