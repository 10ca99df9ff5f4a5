package catalog

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidsniff/work/config"
)

func TestDefaultHeaderRules(t *testing.T) {
	rules := NewHeaderRules(config.DefaultHeaderRules())

	got := rules.Match("https://vidsrc.vip/embed/movie/550")
	assert.Equal(t, map[string]string{"Origin": "https://vidsrc.vip", "Referer": "https://vidsrc.vip/"}, got)

	// the vidsrc CDN wants the embed page's origin as well
	got = rules.Match("https://s1.niggaflix.xyz/hls/master.m3u8")
	assert.Equal(t, map[string]string{"Origin": "https://vidsrc.vip", "Referer": "https://vidsrc.vip/"}, got)

	got = rules.Match("https://cdn.madplay.site/hls/master.m3u8")
	assert.Equal(t, "https://uembed.site", got["Origin"])

	assert.Nil(t, rules.Match("https://notvidsrc.vip.example.com/x"))
	assert.Nil(t, rules.Match("https://player.videasy.net/movie/1"))
}

func TestInvalidPatternSkipped(t *testing.T) {
	rules := NewHeaderRules([]config.HeaderRule{
		{Pattern: "(", Headers: map[string]string{"Origin": "x"}},
		{Pattern: `example\.com$`, Headers: map[string]string{"referer": "https://example.com/"}},
	})
	require.Len(t, rules.Rules(), 1)
	assert.Equal(t, map[string]string{"Referer": "https://example.com/"}, rules.Match("https://example.com/a"))
}

func TestApplyKeepsCallerHeaders(t *testing.T) {
	rules := NewHeaderRules(config.DefaultHeaderRules())
	req, err := http.NewRequest(http.MethodGet, "https://cdn.madplay.site/x.m3u8", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://madplay.site")
	req.Header.Set("X-Keep", "1")

	assert.True(t, rules.Apply(req))
	assert.Equal(t, "https://madplay.site", req.Header.Get("Origin"))
	assert.Equal(t, "https://uembed.site/", req.Header.Get("Referer"))
	assert.Equal(t, "1", req.Header.Get("X-Keep"))

	other, _ := http.NewRequest(http.MethodGet, "https://elsewhere/x", nil)
	assert.False(t, rules.Apply(other))
}

func TestReplace(t *testing.T) {
	rules := NewHeaderRules(nil)
	assert.Nil(t, rules.Match("https://vidsrc.vip/"))
	rules.Replace(config.DefaultHeaderRules())
	assert.NotNil(t, rules.Match("https://vidsrc.vip/"))
}
