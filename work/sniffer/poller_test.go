package sniffer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidsniff/work/types"
)

func fastPoller() *PollingSniffer {
	return NewPollingSniffer(http.DefaultClient, PollOptions{
		Timeout:        300 * time.Millisecond,
		Interval:       20 * time.Millisecond,
		RequestTimeout: 100 * time.Millisecond,
	})
}

func TestPollForResultTimesOutOnNonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>working on it</html>"))
	}))
	defer srv.Close()

	p := fastPoller()
	result, err := p.PollForResult(context.Background(), srv.URL, 150*time.Millisecond, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.Nil(t, result)
}

func TestPollForResultSucceedsOnFirstValidJSON(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch hits.Add(1) {
		case 1, 2:
			http.Error(w, "busy", http.StatusServiceUnavailable)
		case 3:
			_, _ = w.Write([]byte(`{"server1": []}`))
		default:
			_, _ = w.Write([]byte(`{"server1": [{"quality":"720p","link":"https://f/720.mp4"}], "meta": "ignored"}`))
		}
	}))
	defer srv.Close()

	result, err := fastPoller().PollForResult(context.Background(), srv.URL, time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, types.ScrapeResult{"server1": {{Quality: "720p", Link: "https://f/720.mp4"}}}, result)
	assert.Equal(t, int32(4), hits.Load())
}

func TestPollForResultHonoursCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fastPoller().PollForResult(ctx, srv.URL, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPickDefault(t *testing.T) {
	result := types.ScrapeResult{
		"b": {{Quality: "1080p", Link: "https://f/1080.mp4"}, {Quality: "org", Link: "https://f/org.mp4"}},
		"a": {{Quality: "360p", Link: ""}, {Quality: "480p", Link: "https://f/480.mp4"}},
	}
	link, ok := PickDefault(result, []string{"ORG", "1080"})
	require.True(t, ok)
	assert.Equal(t, "https://f/org.mp4", link)

	delete(result, "b")
	result["c"] = []types.QualityLink{{Quality: "FHD 1080", Link: "https://f/fhd.mp4"}}
	link, _ = PickDefault(result, []string{"ORG", "1080"})
	assert.Equal(t, "https://f/fhd.mp4", link)

	link, _ = PickDefault(types.ScrapeResult{"a": result["a"]}, []string{"ORG", "1080"})
	assert.Equal(t, "https://f/480.mp4", link)

	_, ok = PickDefault(types.ScrapeResult{"a": {{Quality: "ORG"}}}, []string{"ORG"})
	assert.False(t, ok)
}

func TestPollingProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"s": [{"quality":"ORG","link":"https://f/movie"}]}`))
	}))
	defer srv.Close()

	cand, err := fastPoller().Probe(context.Background(), types.Provider{Name: "ShowBox", EndpointURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "https://f/movie", cand.URL)
	assert.Equal(t, types.CandidateMP4, cand.Kind)
}
