package parser

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"

	"vidsniff/work/logger"
)

// ErrNoVariants is returned when a master playlist carries no usable variant
var ErrNoVariants = errors.New("no variants found in master playlist")

// StreamVariant is one rendition of an HLS master playlist. URL is always
// absolute once parsed.
type StreamVariant struct {
	URL        string  // Resolved variant media playlist URL
	Bandwidth  int     // Peak bandwidth in bits per second
	Resolution string  // "WIDTHxHEIGHT" as advertised, may be empty
	Width      int     // Parsed from Resolution, 0 when absent
	Height     int     // Parsed from Resolution, 0 when absent
	Codecs     string  // Codec list as advertised
	FrameRate  float64 // Frames per second, 0 when absent
}

// Pixels returns the frame area used to rank variants by resolution
func (v StreamVariant) Pixels() int {
	return v.Width * v.Height
}

// IsMasterPlaylist reports whether content lists variant streams
func IsMasterPlaylist(content string) bool {
	return strings.Contains(content, "#EXT-X-STREAM-INF")
}

// IsMediaPlaylist reports whether content lists media segments
func IsMediaPlaylist(content string) bool {
	return strings.Contains(content, "#EXTINF") || strings.Contains(content, "#EXT-X-TARGETDURATION")
}

// ParseMasterPlaylist decodes a master playlist and returns its variants
// with URLs resolved against baseURL, best resolution first. Variants of
// equal resolution are ordered by bandwidth.
func ParseMasterPlaylist(content string, baseURL string) ([]StreamVariant, error) {
	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(content), false)
	if err != nil {
		return nil, fmt.Errorf("decode master playlist: %w", err)
	}
	if listType != m3u8.MASTER {
		return nil, fmt.Errorf("not a master playlist")
	}

	master := playlist.(*m3u8.MasterPlaylist)
	variants := make([]StreamVariant, 0, len(master.Variants))
	for _, v := range master.Variants {
		if v == nil || v.URI == "" || v.Iframe {
			continue
		}

		variant := StreamVariant{
			URL:        ResolveURL(v.URI, baseURL),
			Bandwidth:  int(v.Bandwidth),
			Resolution: v.Resolution,
			Codecs:     v.Codecs,
			FrameRate:  v.FrameRate,
		}
		variant.Width, variant.Height = parseResolution(v.Resolution)
		variants = append(variants, variant)
	}

	if len(variants) == 0 {
		return nil, ErrNoVariants
	}

	sort.SliceStable(variants, func(i, j int) bool {
		if variants[i].Pixels() != variants[j].Pixels() {
			return variants[i].Pixels() > variants[j].Pixels()
		}
		return variants[i].Bandwidth > variants[j].Bandwidth
	})

	logger.Debug("{parser/master - ParseMasterPlaylist} %d variants, best %s (%d kbps)",
		len(variants), variants[0].Resolution, variants[0].Bandwidth/1000)
	return variants, nil
}

// SelectVariant chooses a variant from a list sorted best first.
//
// Available selection strategies:
//   - "lowest": smallest rendition
//   - "medium": middle of the list
//   - "720p": the 1280x720 rendition, falling back to medium
//   - "highest" and anything else: best rendition
func SelectVariant(variants []StreamVariant, strategy string) StreamVariant {
	if len(variants) == 0 {
		return StreamVariant{}
	}

	switch strategy {
	case "lowest":
		return variants[len(variants)-1]
	case "medium":
		return variants[len(variants)/2]
	case "720p":
		for _, variant := range variants {
			if variant.Width == 1280 && variant.Height == 720 {
				return variant
			}
		}
		return SelectVariant(variants, "medium")
	default:
		return variants[0]
	}
}

// ResolveURL makes ref absolute against base. Absolute refs and unparsable
// input are returned unchanged.
func ResolveURL(ref, base string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	relURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(relURL).String()
}

func parseResolution(res string) (int, int) {
	w, h, ok := strings.Cut(strings.ToLower(res), "x")
	if !ok {
		return 0, 0
	}
	width, err1 := strconv.Atoi(strings.TrimSpace(w))
	height, err2 := strconv.Atoi(strings.TrimSpace(h))
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return width, height
}
