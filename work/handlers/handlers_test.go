package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidsniff/work/buffer"
	"vidsniff/work/client"
	"vidsniff/work/config"
	"vidsniff/work/metadata"
	"vidsniff/work/orchestrator"
	"vidsniff/work/progress"
	"vidsniff/work/proxy"
	"vidsniff/work/sniffer"
	"vidsniff/work/types"
)

type fakeCatalog struct {
	providers []types.Provider
}

func (f fakeCatalog) Build(ctx context.Context, req types.MediaRequest) ([]types.Provider, error) {
	return f.providers, nil
}

type fakeMetadata struct{}

func (fakeMetadata) Lookup(ctx context.Context, mediaType types.MediaType, id string) (metadata.Info, error) {
	return metadata.Info{Title: "Fight Club", Year: "1999", Runtime: 139}, nil
}

type fakeSubtitles struct{}

func (fakeSubtitles) Fetch(ctx context.Context, id string) []json.RawMessage {
	return []json.RawMessage{json.RawMessage(`{"lang":"en","url":"https://subs/` + id + `.vtt"}`)}
}

const scrapeBody = `{"server1":[{"quality":"720p","link":"https://cdn/720.mp4"},{"quality":"ORG","link":"https://cdn/org.mp4"}]}`

type testEnv struct {
	services *Services
	router   *mux.Router
	scrape   *httptest.Server
	hits     *atomic.Int32
}

func newTestEnv(t *testing.T, providers func(scrapeURL string) []types.Provider, cfgMod func(*config.Config)) *testEnv {
	t.Helper()

	hits := &atomic.Int32{}
	scrape := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, scrapeBody)
	}))
	t.Cleanup(scrape.Close)

	cfg := &config.Config{
		BaseURL:            "http://vidsniff.test",
		BrowserEndpoint:    config.DefaultBrowserEndpoint,
		NavigationTimeout:  time.Second,
		PollTimeout:        2 * time.Second,
		PollRequestTimeout: time.Second,
		ProgressInterval:   10 * time.Millisecond,
		QualityPriority:    []string{"ORG", "1080"},
		UserAgent:          "vidsniff-test",
	}
	if cfgMod != nil {
		cfgMod(cfg)
	}

	httpClient := client.NewHeaderSettingClient(cfg, nil)
	poller := sniffer.NewPollingSniffer(httpClient, sniffer.PollOptions{
		Timeout:  cfg.PollTimeout,
		Interval: 10 * time.Millisecond,
	})
	render := sniffer.ProberFunc(func(ctx context.Context, p types.Provider) (types.Candidate, error) {
		return types.Candidate{}, sniffer.ErrNoCandidate
	})

	pool, err := ants.NewPool(2, ants.WithNonblocking(true))
	require.NoError(t, err)
	t.Cleanup(pool.Release)

	cat := fakeCatalog{providers: providers(scrape.URL + "/api/scrape")}
	tracker := progress.NewTracker(time.Minute)
	orch := orchestrator.New(cfg, cat, render, poller, tracker, nil, pool, nil)
	t.Cleanup(orch.Shutdown)

	s := &Services{
		Config:       cfg,
		Orchestrator: orch,
		Tracker:      tracker,
		Catalog:      cat,
		Poller:       poller,
		Proxy:        proxy.New(cfg, buffer.NewBufferPool(1024), httpClient),
		Metadata:     fakeMetadata{},
		Subtitles:    fakeSubtitles{},
	}
	router := mux.NewRouter()
	RegisterRoutes(router, s)

	return &testEnv{services: s, router: router, scrape: scrape, hits: hits}
}

func pollOnly(scrapeURL string) []types.Provider {
	return []types.Provider{{Name: "ShowBox", EndpointURL: scrapeURL, Strategy: types.StrategyPollJSON}}
}

func withBrowser(scrapeURL string) []types.Provider {
	return []types.Provider{
		{Name: "VidPro", EndpointURL: "https://vidpro.example/embed/550", Strategy: types.StrategyRenderAndIntercept},
		{Name: "ShowBox", EndpointURL: scrapeURL, Strategy: types.StrategyPollJSON},
	}
}

func (e *testEnv) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandleMediaWait(t *testing.T) {
	env := newTestEnv(t, pollOnly, nil)

	rec := env.get(t, "/api/movie?tmdb=550&wait=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"streamUrl":"https://cdn/org.mp4"}`, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandleMediaQueuesSession(t *testing.T) {
	env := newTestEnv(t, pollOnly, nil)

	rec := env.get(t, "/api/tv?tmdb=1399&s=2&e=3")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body struct {
		Session   string   `json:"session"`
		Providers []string `json:"providers"`
		Progress  string   `json:"progress"`
		Events    string   `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "tv:1399:s2:e3", body.Session)
	assert.Equal(t, []string{"ShowBox"}, body.Providers)
	assert.Equal(t, "http://vidsniff.test/api/progress/tv:1399:s2:e3", body.Progress)
	assert.Equal(t, body.Progress+"/events", body.Events)

	require.Eventually(t, func() bool {
		return env.services.Tracker.Read(body.Session).Terminal()
	}, 3*time.Second, 10*time.Millisecond)

	rec = env.get(t, "/api/progress/tv:1399:s2:e3")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"statuses":["completed"],"found":"https://cdn/org.mp4","providers":["ShowBox"]}`, rec.Body.String())

	// query form resolves to the same key
	rec = env.get(t, "/api/progress?tmdb=1399&type=tv&s=2&e=3")
	assert.Contains(t, rec.Body.String(), "https://cdn/org.mp4")
}

func TestHandleMediaProgressStream(t *testing.T) {
	env := newTestEnv(t, pollOnly, nil)
	server := httptest.NewServer(env.router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/movie?tmdb=550&progress=1")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	frames := strings.Split(strings.TrimSpace(string(body)), "\n\n")
	require.NotEmpty(t, frames)
	last := strings.TrimPrefix(frames[len(frames)-1], "data: ")

	var state types.ProgressState
	require.NoError(t, json.Unmarshal([]byte(last), &state))
	require.NotNil(t, state.Found)
	assert.Equal(t, "https://cdn/org.mp4", *state.Found)
	assert.Equal(t, []types.ProviderStatus{types.StatusCompleted}, state.Statuses)
}

func TestHandleProgressUnknownKeyIsPending(t *testing.T) {
	env := newTestEnv(t, pollOnly, nil)

	rec := env.get(t, "/api/progress/movie:404")
	require.Equal(t, http.StatusOK, rec.Code)

	var state types.ProgressState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Len(t, state.Statuses, progress.DefaultSize)
	assert.Nil(t, state.Found)
}

func TestHandleProgressEventsUnknownKeyCloses(t *testing.T) {
	env := newTestEnv(t, pollOnly, nil)

	rec := env.get(t, "/api/progress/movie:404/events")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "data: "))
}

func TestHandleMediaErrors(t *testing.T) {
	env := newTestEnv(t, withBrowser, nil)

	rec := env.get(t, "/api/movie")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing tmdb param")

	rec = env.get(t, "/api/sniff?tmdb=550&type=cartoon")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// a browser provider without an automation token is a configuration error
	rec = env.get(t, "/api/sniff?tmdb=550")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Stream sniffing failed")
	assert.Zero(t, env.hits.Load())
}

func TestHandleSniffFallsThroughFailedBrowser(t *testing.T) {
	env := newTestEnv(t, withBrowser, func(cfg *config.Config) { cfg.BrowserlessToken = "token" })

	rec := env.get(t, "/api/sniff?tmdb=550")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"streamUrl":"https://cdn/org.mp4"}`, rec.Body.String())
}

func TestHandleShowbox(t *testing.T) {
	env := newTestEnv(t, withBrowser, nil)

	rec := env.get(t, "/api/showbox?tmdb=550")
	require.Equal(t, http.StatusOK, rec.Code)

	var body showboxResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.OK)
	require.NotNil(t, body.DefaultLink)
	assert.Equal(t, "https://cdn/org.mp4", *body.DefaultLink)
	assert.Equal(t, "Fight Club", body.Title)
	assert.Len(t, body.Qualities["server1"], 2)
	assert.Len(t, body.Subtitles, 1)
}

func TestHandleShowboxWithoutScrapeProvider(t *testing.T) {
	env := newTestEnv(t, func(string) []types.Provider {
		return []types.Provider{{Name: "VidPro", Strategy: types.StrategyRenderAndIntercept}}
	}, nil)

	rec := env.get(t, "/api/showbox?tmdb=550")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleProxyRoutes(t *testing.T) {
	var origin atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin.Store(r.Header.Get("Origin"))
		w.Header().Set("Content-Type", "video/mp2t")
		io.WriteString(w, "segment")
	}))
	defer upstream.Close()

	env := newTestEnv(t, pollOnly, nil)

	rec := env.get(t, "/api/proxy?url=javascript:alert(1)")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.get(t, "/api/proxy?url="+upstream.URL+"/seg.ts")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "segment", rec.Body.String())

	rec = env.get(t, "/api/madplay/proxy?url="+upstream.URL+"/seg.ts")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, proxy.MadplayOrigin, origin.Load())
}

func TestHandleSubtitles(t *testing.T) {
	env := newTestEnv(t, pollOnly, nil)

	rec := env.get(t, "/api/subtitles?tmdb=550")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://subs/550.vtt")

	rec = env.get(t, "/api/subtitles")
	assert.JSONEq(t, `[]`, rec.Body.String())
}
