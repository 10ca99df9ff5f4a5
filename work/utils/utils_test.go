package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"vidsniff/work/config"
)

func TestObfuscateURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example/***?***", ObfuscateURL("https://cdn.example/a/b.m3u8?token=abc"))
	assert.Equal(t, "https://cdn.example", ObfuscateURL("https://cdn.example/"))
	assert.Empty(t, ObfuscateURL(""))
}

func TestLogURL(t *testing.T) {
	raw := "https://cdn.example/a.mp4"
	assert.Equal(t, raw, LogURL(&config.Config{}, raw))
	assert.Equal(t, "https://cdn.example/***", LogURL(&config.Config{ObfuscateUrls: true}, raw))
	assert.Equal(t, raw, LogURL(nil, raw))
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "cdn.vidsrc.vip", HostOf("https://CDN.vidsrc.vip:8443/x"))
	assert.Empty(t, HostOf("::bad"))
}

func TestFilenameFromURL(t *testing.T) {
	assert.Equal(t, "movie_1.mp4", FilenameFromURL("https://cdn.example/path/movie%201.mp4?x=1", "video"))
	assert.Equal(t, "video", FilenameFromURL("https://cdn.example/", "video"))
}
