package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionKeyDefaultsSeasonAndEpisode(t *testing.T) {
	tv := MediaRequest{ID: "1399", Type: MediaTV}
	assert.Equal(t, "tv:1399:s1:e1", tv.SessionKey())

	movie := MediaRequest{ID: "550", Type: MediaMovie, Season: 3, Episode: 4}
	assert.Equal(t, "movie:550", movie.SessionKey())
	assert.Zero(t, movie.Normalized().Season)
}

func TestClassifyURL(t *testing.T) {
	kind, ok := ClassifyURL("https://cdn.example/v.MP4?token=1")
	require.True(t, ok)
	assert.Equal(t, CandidateMP4, kind)

	kind, ok = ClassifyURL("https://cdn.example/master.m3u8")
	require.True(t, ok)
	assert.Equal(t, CandidateHLS, kind)

	_, ok = ClassifyURL("https://cdn.example/seg.ts")
	assert.False(t, ok)
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusLoading))
	assert.True(t, StatusLoading.CanTransition(StatusError))
	assert.True(t, StatusPending.CanTransition(StatusCompleted))
	assert.False(t, StatusLoading.CanTransition(StatusPending))
	assert.False(t, StatusCompleted.CanTransition(StatusError))
}

func TestProgressStateJSONShape(t *testing.T) {
	state := PendingState(2)
	data, err := json.Marshal(state)
	require.NoError(t, err)
	assert.JSONEq(t, `{"statuses":["pending","pending"],"found":null}`, string(data))

	url := "https://x/v.mp4"
	state.Statuses[0] = StatusCompleted
	state.Found = &url
	clone := state.Clone()
	*state.Found = "changed"
	assert.Equal(t, "https://x/v.mp4", *clone.Found)
	assert.True(t, clone.Terminal())
}

func TestProgressStateTerminal(t *testing.T) {
	state := PendingState(2)
	assert.False(t, state.Terminal())
	state.Statuses = []ProviderStatus{StatusError, StatusError}
	assert.True(t, state.Terminal())
	assert.False(t, ProgressState{}.Terminal())
}

func TestScrapeResultHasLinks(t *testing.T) {
	assert.False(t, ScrapeResult{}.HasLinks())
	assert.False(t, ScrapeResult{"a": {{Quality: "720p"}}}.HasLinks())
	assert.True(t, ScrapeResult{"a": {{Quality: "720p", Link: "https://x"}}}.HasLinks())
}
