package config

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultConfigPath is where LoadConfig looks unless SNIFFER_CONFIG says otherwise
const DefaultConfigPath = "/settings/config.json"

// DefaultBrowserEndpoint is the remote automation endpoint used when none is configured.
// The {token} placeholder is replaced with the browserless token at connect time.
const DefaultBrowserEndpoint = "wss://production-lon.browserless.io?token={token}"

// Config holds all application configuration values for the sniffing service.
// It includes timing for both probing strategies, capacity limits, storage,
// and the provider catalog data.
type Config struct {
	BaseURL                  string             `json:"baseURL"`                  // Base URL for the application (used for progress/event links)
	Port                     int                `json:"port"`                     // HTTP listen port
	Debug                    bool               `json:"debug"`                    // Enable debug logging
	LogLevel                 string             `json:"logLevel"`                 // DEBUG, INFO, WARN or ERROR
	LogFile                  string             `json:"logFile"`                  // Optional rotating log file
	LogMaxSizeMB             int                `json:"logMaxSizeMB"`             // Rotation size for LogFile
	LogMaxBackups            int                `json:"logMaxBackups"`            // Rotated files to keep
	ObfuscateUrls            bool               `json:"obfuscateUrls"`            // Obfuscate URLs in logs for security
	BrowserEndpoint          string             `json:"browserEndpoint"`          // Remote browser websocket endpoint template
	BrowserlessToken         string             `json:"browserlessToken"`         // Remote browser token (env BROWSERLESS_TOKEN wins)
	TMDBAPIKey               string             `json:"tmdbApiKey"`               // Metadata API key (env TMDB_API_KEY wins)
	SubtitleURL              string             `json:"subtitleURL"`              // Subtitle lookup template with {id}
	UserAgent                string             `json:"userAgent"`                // User-Agent for outbound HTTP
	NavigationTimeout        time.Duration      `json:"navigationTimeout"`        // Page navigation + network idle budget
	SettleDelay              time.Duration      `json:"settleDelay"`              // Wait after navigation for non-interactive providers
	InteractionDelay         time.Duration      `json:"interactionDelay"`         // Wait before the simulated click
	PostInteractionDelay     time.Duration      `json:"postInteractionDelay"`     // Wait after the simulated click
	PollTimeout              time.Duration      `json:"pollTimeout"`              // Overall polling budget
	PollRequestTimeout       time.Duration      `json:"pollRequestTimeout"`       // Per request polling budget
	PollInterval             time.Duration      `json:"pollInterval"`             // Sleep between polling attempts
	ProgressRetention        time.Duration      `json:"progressRetention"`        // How long a finished session stays readable
	ProgressInterval         time.Duration      `json:"progressInterval"`         // SSE emission interval
	CacheEnabled             bool               `json:"cacheEnabled"`             // Whether resolved URLs are cached
	CacheDuration            time.Duration      `json:"cacheDuration"`            // Duration before cache entries expire
	CacheMaxEntries          int                `json:"cacheMaxEntries"`          // Upper bound on cached entries
	WorkerThreads            int                `json:"workerThreads"`            // Concurrent background sniff sessions
	BrowserSessionsPerMinute int                `json:"browserSessionsPerMinute"` // Remote browser session rate limit
	PollRequestsPerSecond    int                `json:"pollRequestsPerSecond"`    // Scrape API request rate limit
	DatabasePath             string             `json:"databasePath"`             // SQLite file, empty disables persistence
	AdminUser                string             `json:"adminUser"`                // Admin API basic auth user
	AdminPasswordHash        string             `json:"adminPasswordHash"`        // bcrypt hash, empty disables the admin API
	QualityPriority          []string           `json:"qualityPriority"`          // Scrape API quality tag preference
	Providers                []ProviderTemplate `json:"providers"`                // Ordered provider templates
	HeaderRules              []HeaderRule       `json:"headerRules"`              // Host pattern header overrides
}

// ProviderTemplate describes one catalog entry before placeholder substitution.
// An empty MovieURL or TVURL means the provider does not serve that media type.
type ProviderTemplate struct {
	Name        string `json:"name"`
	MovieURL    string `json:"movieURL"`
	TVURL       string `json:"tvURL"`
	Strategy    string `json:"strategy"`    // "render" or "poll"
	Interaction string `json:"interaction"` // "" or "click"
	Order       int    `json:"order"`       // Movie probing position
	TVOrder     int    `json:"tvOrder"`     // Series probing position, defaults to Order
	Active      bool   `json:"active"`
}

// HeaderRule overrides request headers for hosts matching Pattern
type HeaderRule struct {
	Pattern string            `json:"pattern"`
	Headers map[string]string `json:"headers"`
}

// ConfigFile represents the JSON file structure for marshaling/unmarshaling configuration.
// String duration fields (e.g., "30m") are parsed into time.Duration values.
type ConfigFile struct {
	BaseURL                  string             `json:"baseURL"`
	Port                     int                `json:"port"`
	Debug                    bool               `json:"debug"`
	LogLevel                 string             `json:"logLevel"`
	LogFile                  string             `json:"logFile"`
	LogMaxSizeMB             int                `json:"logMaxSizeMB"`
	LogMaxBackups            int                `json:"logMaxBackups"`
	ObfuscateUrls            bool               `json:"obfuscateUrls"`
	BrowserEndpoint          string             `json:"browserEndpoint"`
	BrowserlessToken         string             `json:"browserlessToken"`
	TMDBAPIKey               string             `json:"tmdbApiKey"`
	SubtitleURL              string             `json:"subtitleURL"`
	UserAgent                string             `json:"userAgent"`
	NavigationTimeout        string             `json:"navigationTimeout"`
	SettleDelay              string             `json:"settleDelay"`
	InteractionDelay         string             `json:"interactionDelay"`
	PostInteractionDelay     string             `json:"postInteractionDelay"`
	PollTimeout              string             `json:"pollTimeout"`
	PollRequestTimeout       string             `json:"pollRequestTimeout"`
	PollInterval             string             `json:"pollInterval"`
	ProgressRetention        string             `json:"progressRetention"`
	ProgressInterval         string             `json:"progressInterval"`
	CacheEnabled             bool               `json:"cacheEnabled"`
	CacheDuration            string             `json:"cacheDuration"`
	CacheMaxEntries          int                `json:"cacheMaxEntries"`
	WorkerThreads            int                `json:"workerThreads"`
	BrowserSessionsPerMinute int                `json:"browserSessionsPerMinute"`
	PollRequestsPerSecond    int                `json:"pollRequestsPerSecond"`
	DatabasePath             string             `json:"databasePath"`
	AdminUser                string             `json:"adminUser"`
	AdminPasswordHash        string             `json:"adminPasswordHash"`
	QualityPriority          []string           `json:"qualityPriority"`
	Providers                []ProviderTemplate `json:"providers"`
	HeaderRules              []HeaderRule       `json:"headerRules"`
}

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Mutex for safe concurrent access to configCache
)

// LoadConfig loads the configuration from file or returns the cached instance.
//
// Process:
//   - Uses double-checked locking to avoid redundant reloads.
//   - Attempts to load from SNIFFER_CONFIG or `/settings/config.json`.
//   - Falls back to default config if file is missing or invalid.
//   - Applies environment overrides for secrets.
//   - Runs validation to ensure safe defaults.
//
// Returns:
//   - *Config: fully validated configuration object
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// Double-check under write lock
	if configCache != nil {
		return configCache
	}

	configPath := os.Getenv("SNIFFER_CONFIG")
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	config, err := loadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	applyEnvironment(config)
	validateAndSetDefaults(config)

	configCache = config

	if config.Debug {
		log.Printf("Configuration loaded:")
		log.Printf("  Providers: %d configured", len(config.Providers))
		for i := range config.Providers {
			p := &config.Providers[i]
			log.Printf("    Provider %d (%s): strategy=%s interaction=%q movie=%s tv=%s",
				p.Order, p.Name, p.Strategy, p.Interaction,
				obfuscateURL(p.MovieURL), obfuscateURL(p.TVURL))
		}
		log.Printf("  Browser endpoint: %s", obfuscateURL(config.BrowserEndpoint))
		log.Printf("  Browser token set: %v", config.BrowserlessToken != "")
		log.Printf("  Obfuscate URLs: %v", config.ObfuscateUrls)
		log.Printf("  Worker threads: %d", config.WorkerThreads)
	}

	return config
}

// loadFromFile reads and parses the configuration from a JSON file.
//
// Parameters:
//   - path: path to JSON config file
//
// Returns:
//   - *Config: parsed configuration
//   - error: if reading/parsing failed
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config,
// parsing duration strings into time.Duration. Empty duration strings
// are left at zero and picked up by validateAndSetDefaults.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		BaseURL:                  cf.BaseURL,
		Port:                     cf.Port,
		Debug:                    cf.Debug,
		LogLevel:                 cf.LogLevel,
		LogFile:                  cf.LogFile,
		LogMaxSizeMB:             cf.LogMaxSizeMB,
		LogMaxBackups:            cf.LogMaxBackups,
		ObfuscateUrls:            cf.ObfuscateUrls,
		BrowserEndpoint:          cf.BrowserEndpoint,
		BrowserlessToken:         cf.BrowserlessToken,
		TMDBAPIKey:               cf.TMDBAPIKey,
		SubtitleURL:              cf.SubtitleURL,
		UserAgent:                cf.UserAgent,
		CacheEnabled:             cf.CacheEnabled,
		CacheMaxEntries:          cf.CacheMaxEntries,
		WorkerThreads:            cf.WorkerThreads,
		BrowserSessionsPerMinute: cf.BrowserSessionsPerMinute,
		PollRequestsPerSecond:    cf.PollRequestsPerSecond,
		DatabasePath:             cf.DatabasePath,
		AdminUser:                cf.AdminUser,
		AdminPasswordHash:        cf.AdminPasswordHash,
		QualityPriority:          cf.QualityPriority,
		Providers:                cf.Providers,
		HeaderRules:              cf.HeaderRules,
	}

	durations := []struct {
		name   string
		raw    string
		target *time.Duration
	}{
		{"navigationTimeout", cf.NavigationTimeout, &config.NavigationTimeout},
		{"settleDelay", cf.SettleDelay, &config.SettleDelay},
		{"interactionDelay", cf.InteractionDelay, &config.InteractionDelay},
		{"postInteractionDelay", cf.PostInteractionDelay, &config.PostInteractionDelay},
		{"pollTimeout", cf.PollTimeout, &config.PollTimeout},
		{"pollRequestTimeout", cf.PollRequestTimeout, &config.PollRequestTimeout},
		{"pollInterval", cf.PollInterval, &config.PollInterval},
		{"progressRetention", cf.ProgressRetention, &config.ProgressRetention},
		{"progressInterval", cf.ProgressInterval, &config.ProgressInterval},
		{"cacheDuration", cf.CacheDuration, &config.CacheDuration},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.target = parsed
	}

	return config, nil
}

// applyEnvironment lets deployment secrets override the file values
func applyEnvironment(config *Config) {
	if token := os.Getenv("BROWSERLESS_TOKEN"); token != "" {
		config.BrowserlessToken = token
	}
	if key := os.Getenv("TMDB_API_KEY"); key != "" {
		config.TMDBAPIKey = key
	}
}

// getDefaultConfig returns a baseline configuration
// with sensible defaults when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		BaseURL:                  "http://localhost:8080",
		Port:                     8080,
		LogLevel:                 "INFO",
		LogMaxSizeMB:             50,
		LogMaxBackups:            3,
		BrowserEndpoint:          DefaultBrowserEndpoint,
		SubtitleURL:              "https://madplay.site/api/subtitle?id={id}",
		UserAgent:                defaultUserAgent,
		NavigationTimeout:        60 * time.Second,
		SettleDelay:              3 * time.Second,
		InteractionDelay:         1 * time.Second,
		PostInteractionDelay:     2 * time.Second,
		PollTimeout:              20 * time.Second,
		PollRequestTimeout:       10 * time.Second,
		PollInterval:             3 * time.Second,
		ProgressRetention:        60 * time.Second,
		ProgressInterval:         1 * time.Second,
		CacheEnabled:             true,
		CacheDuration:            30 * time.Minute,
		CacheMaxEntries:          10000,
		WorkerThreads:            8,
		BrowserSessionsPerMinute: 30,
		PollRequestsPerSecond:    5,
		AdminUser:                "admin",
		QualityPriority:          DefaultQualityPriority(),
		Providers:                DefaultProviders(),
		HeaderRules:              DefaultHeaderRules(),
	}
}

// validateAndSetDefaults ensures all config values are valid,
// filling in defaults for missing/invalid ones.
func validateAndSetDefaults(config *Config) {
	defaults := getDefaultConfig()

	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Port <= 0 {
		config.Port = defaults.Port
	}
	if config.LogLevel == "" {
		config.LogLevel = defaults.LogLevel
	}
	if config.Debug {
		config.LogLevel = "DEBUG"
	}
	if config.LogMaxSizeMB <= 0 {
		config.LogMaxSizeMB = defaults.LogMaxSizeMB
	}
	if config.LogMaxBackups <= 0 {
		config.LogMaxBackups = defaults.LogMaxBackups
	}
	if config.BrowserEndpoint == "" {
		config.BrowserEndpoint = defaults.BrowserEndpoint
	}
	if config.SubtitleURL == "" {
		config.SubtitleURL = defaults.SubtitleURL
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	if config.NavigationTimeout <= 0 {
		config.NavigationTimeout = defaults.NavigationTimeout
	}
	if config.SettleDelay <= 0 {
		config.SettleDelay = defaults.SettleDelay
	}
	if config.InteractionDelay <= 0 {
		config.InteractionDelay = defaults.InteractionDelay
	}
	if config.PostInteractionDelay <= 0 {
		config.PostInteractionDelay = defaults.PostInteractionDelay
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = defaults.PollTimeout
	}
	if config.PollRequestTimeout <= 0 {
		config.PollRequestTimeout = defaults.PollRequestTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.ProgressRetention <= 0 {
		config.ProgressRetention = defaults.ProgressRetention
	}
	if config.ProgressInterval <= 0 {
		config.ProgressInterval = defaults.ProgressInterval
	}
	if config.CacheDuration <= 0 {
		config.CacheDuration = defaults.CacheDuration
	}
	if config.CacheMaxEntries <= 0 {
		config.CacheMaxEntries = defaults.CacheMaxEntries
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = defaults.WorkerThreads
	}
	if config.BrowserSessionsPerMinute <= 0 {
		config.BrowserSessionsPerMinute = defaults.BrowserSessionsPerMinute
	}
	if config.PollRequestsPerSecond <= 0 {
		config.PollRequestsPerSecond = defaults.PollRequestsPerSecond
	}
	if config.AdminUser == "" {
		config.AdminUser = defaults.AdminUser
	}
	if len(config.QualityPriority) == 0 {
		config.QualityPriority = defaults.QualityPriority
	}
	if len(config.Providers) == 0 {
		config.Providers = defaults.Providers
	}
	if config.HeaderRules == nil {
		config.HeaderRules = defaults.HeaderRules
	}

	// Validate each provider
	seen := make(map[string]bool, len(config.Providers))
	kept := config.Providers[:0]
	for i := range config.Providers {
		p := config.Providers[i]
		if p.Name == "" {
			p.Name = fmt.Sprintf("Provider_%d", i+1)
		}
		if seen[strings.ToLower(p.Name)] {
			log.Printf("Duplicate provider name %q ignored", p.Name)
			continue
		}
		seen[strings.ToLower(p.Name)] = true
		if p.Order <= 0 {
			p.Order = i + 1
		}
		if p.TVOrder <= 0 {
			p.TVOrder = p.Order
		}
		if p.Strategy == "" {
			p.Strategy = StrategyRender
		}
		kept = append(kept, p)
	}
	config.Providers = kept
}

// GetProviderByName returns the template matching name case-insensitively, or nil
func (c *Config) GetProviderByName(name string) *ProviderTemplate {
	for i := range c.Providers {
		if strings.EqualFold(c.Providers[i].Name, name) {
			return &c.Providers[i]
		}
	}
	return nil
}

// BrowserURL renders the browser endpoint for the configured token.
// It returns an empty string when no token is available.
func (c *Config) BrowserURL() string {
	if c.BrowserlessToken == "" {
		return ""
	}
	return strings.ReplaceAll(c.BrowserEndpoint, "{token}", url.QueryEscape(c.BrowserlessToken))
}

// CreateExampleConfig creates an example config file on disk.
//
// Parameters:
//   - path: file path to write example config
//
// Returns:
//   - error: if write fails
func CreateExampleConfig(path string) error {
	example := ConfigFile{
		BaseURL:                  "http://localhost:8080",
		Port:                     8080,
		LogLevel:                 "INFO",
		ObfuscateUrls:            true,
		BrowserEndpoint:          DefaultBrowserEndpoint,
		BrowserlessToken:         "",
		SubtitleURL:              "https://madplay.site/api/subtitle?id={id}",
		NavigationTimeout:        "60s",
		SettleDelay:              "3s",
		InteractionDelay:         "1s",
		PostInteractionDelay:     "2s",
		PollTimeout:              "20s",
		PollRequestTimeout:       "10s",
		PollInterval:             "3s",
		ProgressRetention:        "60s",
		ProgressInterval:         "1s",
		CacheEnabled:             true,
		CacheDuration:            "30m",
		CacheMaxEntries:          10000,
		WorkerThreads:            8,
		BrowserSessionsPerMinute: 30,
		PollRequestsPerSecond:    5,
		DatabasePath:             "/settings/vidsniff.db",
		AdminUser:                "admin",
		QualityPriority:          DefaultQualityPriority(),
		Providers:                DefaultProviders(),
		HeaderRules:              DefaultHeaderRules(),
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ClearConfigCache resets the configCache to nil.
// Forces a reload on the next LoadConfig() call.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

// obfuscateURL masks sensitive parts of a URL for logging.
//
// Example:
//
//	Input:  "http://example.com/secret/stream.m3u8?token=abc"
//	Output: "http://example.com/***?***"
func obfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}
	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}
	return result
}
