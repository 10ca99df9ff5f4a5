package config

// Strategy and interaction names as they appear in the config file and database
const (
	StrategyRender = "render"
	StrategyPoll   = "poll"

	InteractionNone  = ""
	InteractionClick = "click"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

// DefaultProviders returns the built-in catalog. Movies probe by Order, series
// by TVOrder, which tries VidEasy right after the scrape API.
func DefaultProviders() []ProviderTemplate {
	return []ProviderTemplate{
		{
			Name:     "ShowBox",
			MovieURL: "https://showbox-five.vercel.app/api/scrape?title={title}&year={year}&rt={runtime}&type={kind}",
			TVURL:    "https://showbox-five.vercel.app/api/scrape?title={title}&year={year}&rt={runtime}&type={kind}",
			Strategy: StrategyPoll,
			Order:    1,
			TVOrder:  1,
			Active:   true,
		},
		{
			Name:     "VidPro",
			MovieURL: "https://player.vidpro.top/embed/movie/{id}",
			TVURL:    "https://player.vidpro.top/embed/tv/{id}/{season}/{episode}",
			Strategy: StrategyRender,
			Order:    2,
			TVOrder:  3,
			Active:   true,
		},
		{
			Name:     "AutoEmbed",
			MovieURL: "https://player.autoembed.cc/embed/movie/{id}",
			TVURL:    "https://player.autoembed.cc/embed/tv/{id}/{season}/{episode}",
			Strategy: StrategyRender,
			Order:    3,
			TVOrder:  4,
			Active:   true,
		},
		{
			Name:        "VidEasy",
			MovieURL:    "https://player.videasy.net/movie/{id}",
			TVURL:       "https://player.videasy.net/tv/{id}/{season}/{episode}",
			Strategy:    StrategyRender,
			Interaction: InteractionClick,
			Order:       4,
			TVOrder:     2,
			Active:      true,
		},
		{
			Name:     "UEmbed",
			MovieURL: "https://uembed.site/?id={id}",
			TVURL:    "https://uembed.site/?id={id}&season={season}&episode={episode}",
			Strategy: StrategyRender,
			Order:    5,
			TVOrder:  5,
			Active:   true,
		},
		{
			Name:     "P-Stream",
			MovieURL: "https://iframe.pstream.org/embed/tmdb-movie-{id}",
			TVURL:    "https://iframe.pstream.org/embed/tmdb-tv-{id}/{season}/{episode}",
			Strategy: StrategyRender,
			Order:    6,
			TVOrder:  6,
			Active:   true,
		},
	}
}

// DefaultHeaderRules returns the built-in host overrides
func DefaultHeaderRules() []HeaderRule {
	return []HeaderRule{
		{
			Pattern: `(^|\.)(vidsrc\.vip|niggaflix\.xyz)$`,
			Headers: map[string]string{
				"Origin":  "https://vidsrc.vip",
				"Referer": "https://vidsrc.vip/",
			},
		},
		{
			Pattern: `(^|\.)madplay\.site$`,
			Headers: map[string]string{
				"Origin":  "https://uembed.site",
				"Referer": "https://uembed.site/",
			},
		},
	}
}

// DefaultQualityPriority returns the scrape API quality preference.
// The first tag must match exactly, later tags match as substrings.
func DefaultQualityPriority() []string {
	return []string{"ORG", "1080"}
}
