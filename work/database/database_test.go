package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidsniff/work/config"
	"vidsniff/work/types"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "vidsniff.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenIsIdempotentAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vidsniff.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	var versions int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions))
	assert.Equal(t, 1, versions)
}

func TestProviderRoundTripAndUpsert(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	n, err := db.SeedProviders(ctx, config.DefaultProviders())
	require.NoError(t, err)
	assert.Equal(t, len(config.DefaultProviders()), n)

	// seeding twice is a no-op
	n, err = db.SeedProviders(ctx, config.DefaultProviders())
	require.NoError(t, err)
	assert.Zero(t, n)

	templates, err := db.ProviderTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, templates, len(config.DefaultProviders()))
	assert.Equal(t, "ShowBox", templates[0].Name)
	assert.Equal(t, "poll", templates[0].Strategy)
	assert.True(t, templates[0].Active)

	updated := templates[0]
	updated.Order = 99
	updated.TVOrder = 0
	require.NoError(t, db.SaveProvider(ctx, &updated))

	templates, err = db.ProviderTemplates(ctx)
	require.NoError(t, err)
	last := templates[len(templates)-1]
	assert.Equal(t, "ShowBox", last.Name)
	assert.Equal(t, 99, last.TVOrder)

	ok, err := db.DeleteProvider(ctx, "showbox")
	require.NoError(t, err)
	assert.True(t, ok)
	templates, _ = db.ProviderTemplates(ctx)
	assert.False(t, templates[len(templates)-1].Active)

	ok, err = db.DeleteProvider(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, db.SaveProvider(ctx, &config.ProviderTemplate{Name: "NoURL"}))
}

func TestHeaderRules(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SeedHeaderRules(ctx, config.DefaultHeaderRules()))
	rules, err := db.HeaderRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultHeaderRules(), rules)

	require.NoError(t, db.DeleteHeaderRule(ctx, rules[0].Pattern))
	rules, err = db.HeaderRules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, len(config.DefaultHeaderRules())-1)
}

func TestHistory(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, db.RecordSniff(ctx, types.SniffRecord{
		Key: "movie:550", MediaType: types.MediaMovie, Attempts: 6,
		Duration: 90 * time.Second, FinishedAt: base,
	}))
	require.NoError(t, db.RecordSniff(ctx, types.SniffRecord{
		Key: "movie:550", MediaType: types.MediaMovie, Provider: "VidPro",
		StreamURL: "https://cdn/a.mp4", Found: true, Attempts: 2,
		Duration: 30 * time.Second, FinishedAt: base.Add(time.Minute),
	}))

	records, err := db.RecentHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "VidPro", records[0].Provider)
	assert.True(t, records[0].Found)
	assert.Equal(t, 30*time.Second, records[0].Duration)
	assert.True(t, records[0].FinishedAt.Equal(base.Add(time.Minute)))

	found, ok, err := db.LastFound(ctx, "movie:550")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://cdn/a.mp4", found)

	_, ok, err = db.LastFound(ctx, "movie:1")
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Sessions)
	assert.Equal(t, 1, stats.Found)
	assert.Equal(t, int64(60000), stats.AvgDurationMS)
	assert.Equal(t, []ProviderStats{{Provider: "VidPro", Found: 1}}, stats.ByProvider)

	dbStats, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, dbStats["sniff_history_count"])
}
