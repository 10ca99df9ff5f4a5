package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"

	"vidsniff/work/cache"
	"vidsniff/work/catalog"
	"vidsniff/work/config"
	"vidsniff/work/database"
	"vidsniff/work/logger"
	"vidsniff/work/middleware"
	"vidsniff/work/orchestrator"
	"vidsniff/work/progress"
	"vidsniff/work/types"
)

// adminDeps is what the admin API reads and edits
type adminDeps struct {
	config       *config.Config
	db           *database.DB // nil when persistence is disabled
	headerRules  *catalog.HeaderRules
	orchestrator *orchestrator.Orchestrator
	tracker      *progress.Tracker
	cache        *cache.Cache // nil when caching is disabled
	workerPool   *ants.Pool
}

// StatsResponse is the service overview for the admin API
type StatsResponse struct {
	Uptime          string                 `json:"uptime"`
	MemoryUsage     string                 `json:"memoryUsage"`
	RunningSessions int                    `json:"runningSessions"`
	TrackedSessions int                    `json:"trackedSessions"`
	WorkerThreads   int                    `json:"workerThreads"`
	WorkersBusy     int                    `json:"workersBusy"`
	CacheStatus     string                 `json:"cacheStatus"`
	CacheEntries    int                    `json:"cacheEntries"`
	BrowserReady    bool                   `json:"browserReady"`
	History         *database.HistoryStats `json:"history,omitempty"`
	Database        map[string]interface{} `json:"database,omitempty"`
}

// historyEntry is a sniff record as the admin API shows it
type historyEntry struct {
	Key        string `json:"key"`
	MediaType  string `json:"mediaType"`
	Provider   string `json:"provider,omitempty"`
	StreamURL  string `json:"streamUrl,omitempty"`
	Found      bool   `json:"found"`
	Attempts   int    `json:"attempts"`
	DurationMS int64  `json:"durationMs"`
	FinishedAt string `json:"finishedAt"`
}

var adminStartTime = time.Now()

// setupAdminRoutes mounts the admin API behind basic auth. Every route
// answers 404 while no admin password hash is configured.
func setupAdminRoutes(router *mux.Router, a *adminDeps) {
	guard := func(h http.HandlerFunc) http.HandlerFunc {
		return middleware.CORS(middleware.BasicAuth(a.config.AdminUser, a.config.AdminPasswordHash, h))
	}

	router.HandleFunc("/api/admin/providers", guard(middleware.GzipMiddleware(handleListProviders(a)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/admin/providers", guard(handleSaveProvider(a))).Methods("POST")
	router.HandleFunc("/api/admin/providers/{name}", guard(handleDeleteProvider(a))).Methods("DELETE", "OPTIONS")
	router.HandleFunc("/api/admin/header-rules", guard(middleware.GzipMiddleware(handleListHeaderRules(a)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/admin/header-rules", guard(handleSaveHeaderRule(a))).Methods("POST")
	router.HandleFunc("/api/admin/header-rules", guard(handleDeleteHeaderRule(a))).Methods("DELETE")
	router.HandleFunc("/api/admin/history", guard(middleware.GzipMiddleware(handleGetHistory(a)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/admin/stats", guard(middleware.GzipMiddleware(handleGetStats(a)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/admin/cache", guard(handleClearCache(a))).Methods("DELETE", "OPTIONS")
	router.HandleFunc("/api/admin/progress/{key}", guard(handleExpireProgress(a))).Methods("DELETE", "OPTIONS")
	router.HandleFunc("/api/admin/maintenance", guard(handleMaintenance(a))).Methods("POST", "OPTIONS")
}

// handleListProviders returns every stored template, inactive ones included.
// Without a database the configured templates are listed.
func handleListProviders(a *adminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		templates := a.config.Providers
		if a.db != nil {
			stored, err := a.db.ProviderTemplates(r.Context())
			if err != nil {
				adminError(w, http.StatusInternalServerError, err.Error())
				return
			}
			templates = stored
		}
		if templates == nil {
			templates = []config.ProviderTemplate{}
		}
		adminJSON(w, http.StatusOK, templates)
	}
}

func handleSaveProvider(a *adminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireDB(w, a) {
			return
		}

		var tmpl config.ProviderTemplate
		if err := json.NewDecoder(r.Body).Decode(&tmpl); err != nil {
			adminError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		tmpl.Name = strings.TrimSpace(tmpl.Name)
		if err := validateTemplate(tmpl); err != nil {
			adminError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := a.db.SaveProvider(r.Context(), &tmpl); err != nil {
			adminError(w, http.StatusBadRequest, err.Error())
			return
		}

		logger.Info("{admin_handlers - handleSaveProvider} saved provider %s (%s)", tmpl.Name, tmpl.Strategy)
		adminJSON(w, http.StatusOK, tmpl)
	}
}

func handleDeleteProvider(a *adminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireDB(w, a) {
			return
		}

		name, err := url.PathUnescape(mux.Vars(r)["name"])
		if err != nil {
			adminError(w, http.StatusBadRequest, "invalid provider name")
			return
		}

		found, err := a.db.DeleteProvider(r.Context(), name)
		if err != nil {
			adminError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !found {
			adminError(w, http.StatusNotFound, "provider not found")
			return
		}

		logger.Info("{admin_handlers - handleDeleteProvider} deactivated provider %s", name)
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListHeaderRules(a *adminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rules := a.headerRules.Rules()
		adminJSON(w, http.StatusOK, rules)
	}
}

func handleSaveHeaderRule(a *adminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireDB(w, a) {
			return
		}

		var rule config.HeaderRule
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			adminError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		if rule.Pattern == "" || len(rule.Headers) == 0 {
			adminError(w, http.StatusBadRequest, "pattern and headers are required")
			return
		}
		if probe := catalog.NewHeaderRules([]config.HeaderRule{rule}); len(probe.Rules()) == 0 {
			adminError(w, http.StatusBadRequest, "invalid pattern")
			return
		}

		if err := a.db.SaveHeaderRule(r.Context(), rule); err != nil {
			adminError(w, http.StatusInternalServerError, err.Error())
			return
		}
		reloadHeaderRules(w, r, a)
	}
}

func handleDeleteHeaderRule(a *adminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireDB(w, a) {
			return
		}

		pattern := r.URL.Query().Get("pattern")
		if pattern == "" {
			adminError(w, http.StatusBadRequest, "pattern is required")
			return
		}
		if err := a.db.DeleteHeaderRule(r.Context(), pattern); err != nil {
			adminError(w, http.StatusInternalServerError, err.Error())
			return
		}
		reloadHeaderRules(w, r, a)
	}
}

// reloadHeaderRules swaps the live rule table for the stored one and answers with it
func reloadHeaderRules(w http.ResponseWriter, r *http.Request, a *adminDeps) {
	rules, err := a.db.HeaderRules(r.Context())
	if err != nil {
		adminError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.headerRules.Replace(rules)
	logger.Info("{admin_handlers - reloadHeaderRules} %d header rules active", len(rules))
	adminJSON(w, http.StatusOK, a.headerRules.Rules())
}

func handleGetHistory(a *adminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireDB(w, a) {
			return
		}

		limit := 50
		if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 1000 {
			limit = v
		}

		records, err := a.db.RecentHistory(r.Context(), limit)
		if err != nil {
			adminError(w, http.StatusInternalServerError, err.Error())
			return
		}

		entries := make([]historyEntry, 0, len(records))
		for _, rec := range records {
			entries = append(entries, toHistoryEntry(rec))
		}
		adminJSON(w, http.StatusOK, entries)
	}
}

func handleGetStats(a *adminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		stats := StatsResponse{
			Uptime:          formatDuration(time.Since(adminStartTime)),
			MemoryUsage:     formatBytes(int64(m.Alloc)),
			RunningSessions: a.orchestrator.Running(),
			TrackedSessions: a.tracker.Size(),
			WorkerThreads:   a.config.WorkerThreads,
			CacheStatus:     "Disabled",
			BrowserReady:    a.config.BrowserURL() != "",
		}
		if a.workerPool != nil {
			stats.WorkersBusy = a.workerPool.Running()
		}
		if a.cache != nil {
			stats.CacheStatus = "Enabled"
			stats.CacheEntries = a.cache.Size()
		}

		if a.db != nil {
			if history, err := a.db.Stats(r.Context()); err == nil {
				stats.History = &history
			} else {
				logger.Warn("{admin_handlers - handleGetStats} history stats: %v", err)
			}
			if dbStats, err := a.db.GetStats(r.Context()); err == nil {
				stats.Database = dbStats
			}
		}

		adminJSON(w, http.StatusOK, stats)
	}
}

// handleClearCache drops every cached stream URL, or one key with ?key=
func handleClearCache(a *adminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.cache == nil {
			adminError(w, http.StatusNotFound, "cache disabled")
			return
		}
		if key := r.URL.Query().Get("key"); key != "" {
			a.cache.Invalidate(key)
		} else {
			a.cache.Clear()
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleExpireProgress forgets a finished or stale progress session
func handleExpireProgress(a *adminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := mux.Vars(r)["key"]
		if !a.tracker.Exists(key) {
			adminError(w, http.StatusNotFound, "session not found")
			return
		}
		a.tracker.Expire(key)
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleMaintenance compacts the database, optionally writing a backup
// copy first when ?backup=1 is given.
func handleMaintenance(a *adminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireDB(w, a) {
			return
		}

		result := map[string]string{}
		if r.URL.Query().Get("backup") == "1" {
			backupPath := fmt.Sprintf("%s.%s.bak", a.config.DatabasePath, time.Now().UTC().Format("20060102-150405"))
			if err := a.db.Backup(backupPath); err != nil {
				adminError(w, http.StatusInternalServerError, err.Error())
				return
			}
			result["backup"] = backupPath
		}

		if err := a.db.Vacuum(); err != nil {
			adminError(w, http.StatusInternalServerError, err.Error())
			return
		}
		result["status"] = "ok"
		adminJSON(w, http.StatusOK, result)
	}
}

func validateTemplate(t config.ProviderTemplate) error {
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch t.Strategy {
	case config.StrategyRender, config.StrategyPoll:
	default:
		return fmt.Errorf("strategy must be %q or %q", config.StrategyRender, config.StrategyPoll)
	}
	switch t.Interaction {
	case "", config.InteractionClick:
	default:
		return fmt.Errorf("interaction must be empty or %q", config.InteractionClick)
	}
	for _, u := range []string{t.MovieURL, t.TVURL} {
		if u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("invalid url template %q", u)
		}
	}
	return nil
}

func toHistoryEntry(rec types.SniffRecord) historyEntry {
	return historyEntry{
		Key:        rec.Key,
		MediaType:  string(rec.MediaType),
		Provider:   rec.Provider,
		StreamURL:  rec.StreamURL,
		Found:      rec.Found,
		Attempts:   rec.Attempts,
		DurationMS: rec.Duration.Milliseconds(),
		FinishedAt: rec.FinishedAt.UTC().Format(time.RFC3339),
	}
}

func requireDB(w http.ResponseWriter, a *adminDeps) bool {
	if a.db == nil {
		adminError(w, http.StatusServiceUnavailable, "database disabled")
		return false
	}
	return true
}

func adminJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("{admin_handlers - adminJSON} encode failed: %v", err)
	}
}

func adminError(w http.ResponseWriter, status int, msg string) {
	adminJSON(w, status, map[string]string{"error": msg})
}

// formatDuration renders an uptime compactly
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
