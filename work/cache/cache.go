package cache

import (
	"time"

	"github.com/maypok86/otter/v2"
)

// Cache remembers resolved stream URLs per session key so repeat requests for
// the same title skip probing until the entry expires. Entries expire a fixed
// duration after they were written and the total is bounded by maxEntries.
type Cache struct {
	streams  *otter.Cache[string, string] // resolved stream URL keyed by session key
	duration time.Duration                // expiration measured from write time
}

// NewCache creates and returns a new Cache with the given expiry and size bound.
//
// Parameters:
//   - duration: how long entries are considered valid after being written
//   - maxEntries: upper bound on cached keys, least valuable entries are evicted first
//
// Returns:
//   - *Cache: pointer to a new Cache object
func NewCache(duration time.Duration, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &Cache{
		streams: otter.Must(&otter.Options[string, string]{
			MaximumSize:      maxEntries,
			ExpiryCalculator: otter.ExpiryWriting[string, string](duration),
		}),
		duration: duration,
	}
}

// GetStream returns the cached stream URL for a session key
func (c *Cache) GetStream(key string) (string, bool) {
	return c.streams.GetIfPresent(key)
}

// SetStream stores a resolved stream URL. Empty URLs are never cached so a
// failed session does not block a later retry.
func (c *Cache) SetStream(key, streamURL string) {
	if streamURL == "" {
		return
	}
	c.streams.Set(key, streamURL)
}

// Invalidate removes a single key, used when a cached URL turns out to be dead
func (c *Cache) Invalidate(key string) {
	c.streams.Invalidate(key)
}

// Clear drops every entry
func (c *Cache) Clear() {
	c.streams.InvalidateAll()
}

// Size returns the approximate number of cached entries
func (c *Cache) Size() int {
	return c.streams.EstimatedSize()
}

// Duration returns the configured entry lifetime
func (c *Cache) Duration() time.Duration {
	return c.duration
}
