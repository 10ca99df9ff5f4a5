package parser

import (
	"strings"

	"github.com/grafov/m3u8"

	"vidsniff/work/logger"
)

// PlaylistBase returns the directory URL relative playlist entries resolve
// against: the playlist URL without its query, cut after the last slash.
func PlaylistBase(playlistURL string) string {
	base, _, _ := strings.Cut(playlistURL, "?")
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		return base[:idx+1]
	}
	return base
}

// RewritePlaylist makes relative URI lines of a playlist absolute so a
// player fetching the rewritten copy from another origin still finds its
// variants and segments. Master playlists are rewritten through the m3u8
// decoder; anything it cannot decode, and media playlists, go through the
// line rewriter, which leaves tags untouched.
func RewritePlaylist(content string, playlistURL string) string {
	base := PlaylistBase(playlistURL)

	if IsMasterPlaylist(content) {
		if rewritten, ok := rewriteMaster(content, base); ok {
			return rewritten
		}
		logger.Debug("{parser/m3u8 - RewritePlaylist} decoder rejected master playlist, using line rewrite")
	}

	return rewriteLines(content, base)
}

func rewriteMaster(content, base string) (string, bool) {
	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(content), false)
	if err != nil || listType != m3u8.MASTER {
		return "", false
	}

	master := playlist.(*m3u8.MasterPlaylist)
	for _, v := range master.Variants {
		if v == nil {
			continue
		}
		v.URI = absoluteLine(v.URI, base)
		for _, alt := range v.Alternatives {
			if alt != nil && alt.URI != "" {
				alt.URI = absoluteLine(alt.URI, base)
			}
		}
	}
	return master.Encode().String(), true
}

func rewriteLines(content, base string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = absoluteLine(line, base)
	}
	return strings.Join(lines, "\n")
}

// absoluteLine prefixes base to relative entries. Tags, blank lines,
// absolute URLs and root-relative paths are kept as they are.
func absoluteLine(line, base string) string {
	trimmed := strings.TrimRight(line, "\r")
	if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "http") || strings.HasPrefix(trimmed, "/") {
		return line
	}
	return base + line
}
