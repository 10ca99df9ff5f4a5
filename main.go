package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/ratelimit"
	"gopkg.in/natefinch/lumberjack.v2"

	"vidsniff/work/buffer"
	"vidsniff/work/cache"
	"vidsniff/work/catalog"
	"vidsniff/work/client"
	"vidsniff/work/config"
	"vidsniff/work/database"
	"vidsniff/work/handlers"
	"vidsniff/work/logger"
	"vidsniff/work/metadata"
	"vidsniff/work/orchestrator"
	"vidsniff/work/progress"
	"vidsniff/work/proxy"
	"vidsniff/work/sniffer"
	"vidsniff/work/types"
	"vidsniff/work/utils"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig()

	// set up logging, teeing to a rotating file when one is configured
	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		})
	}
	log.SetOutput(out)
	logger.Configure(cfg.LogLevel, out)

	// open the store and seed it from the config file on first run
	var db *database.DB
	headerRuleSet := cfg.HeaderRules
	if cfg.DatabasePath != "" {
		var err error
		db, err = database.Open(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()

		headerRuleSet = seedDatabase(db, cfg)
	}

	// shared outbound plumbing
	headerRules := catalog.NewHeaderRules(headerRuleSet)
	httpClient := client.NewHeaderSettingClient(cfg, headerRules)
	bufferPool := buffer.NewBufferPool(64 * 1024)

	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithNonblocking(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	var cacheInstance *cache.Cache
	if cfg.CacheEnabled {
		cacheInstance = cache.NewCache(cfg.CacheDuration, cfg.CacheMaxEntries)
	}

	// metadata and catalog
	meta := metadata.New(cfg)
	subtitles := metadata.NewSubtitles(httpClient, cfg.SubtitleURL)

	var builder *catalog.Builder
	if db != nil {
		builder = catalog.NewBuilder(cfg, db, meta)
	} else {
		builder = catalog.NewBuilder(cfg, nil, meta)
	}

	// the two probing strategies
	urlLogger := func(u string) string { return utils.LogURL(cfg, u) }
	render := sniffer.NewBrowserSniffer(
		sniffer.NewRemoteBrowser(cfg.BrowserURL()),
		headerRules,
		sniffer.Timings{
			Navigation:      cfg.NavigationTimeout,
			Settle:          cfg.SettleDelay,
			Interaction:     cfg.InteractionDelay,
			PostInteraction: cfg.PostInteractionDelay,
		},
		sniffer.WithSessionLimiter(ratelimit.New(cfg.BrowserSessionsPerMinute, ratelimit.Per(time.Minute))),
		sniffer.WithURLLogger(urlLogger),
	)
	poller := sniffer.NewPollingSniffer(httpClient, sniffer.PollOptions{
		Timeout:        cfg.PollTimeout,
		Interval:       cfg.PollInterval,
		RequestTimeout: cfg.PollRequestTimeout,
		Priority:       cfg.QualityPriority,
		Limiter:        ratelimit.New(cfg.PollRequestsPerSecond),
	})

	tracker := progress.NewTracker(cfg.ProgressRetention)

	var history orchestrator.HistoryRecorder
	if db != nil {
		history = db
	}
	orch := orchestrator.New(cfg, builder, render, poller, tracker, cacheInstance, workerPool, history)

	services := &handlers.Services{
		Config:       cfg,
		Orchestrator: orch,
		Tracker:      tracker,
		Catalog:      builder,
		Poller:       poller,
		Proxy:        proxy.New(cfg, bufferPool, httpClient),
		Metadata:     meta,
		Subtitles:    subtitles,
	}

	// Setup HTTP routes
	router := mux.NewRouter()
	handlers.RegisterRoutes(router, services)
	setupAdminRoutes(router, &adminDeps{
		config:       cfg,
		db:           db,
		headerRules:  headerRules,
		orchestrator: orch,
		tracker:      tracker,
		cache:        cacheInstance,
		workerPool:   workerPool,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// show info
	logger.Info("Starting vidsniff %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - Listen: %s", addr)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Movie Providers: %s", strings.Join(builder.Names(context.Background(), types.MediaMovie), ", "))
	logger.Info("  - TV Providers: %s", strings.Join(builder.Names(context.Background(), types.MediaTV), ", "))
	logger.Info("  - Browser Token Set: %v", cfg.BrowserURL() != "")
	logger.Info("  - Metadata Enabled: %v", cfg.TMDBAPIKey != "")
	logger.Info("  - Cache Enabled: %v (%s)", cfg.CacheEnabled, cfg.CacheDuration)
	logger.Info("  - Database: %s", valueOr(cfg.DatabasePath, "disabled"))
	logger.Info("  - Admin API: %v", cfg.AdminPasswordHash != "")
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// shut down cleanly on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Info("Shutting down...")
		orch.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown failed: %v", err)
		}
	}()

	// fire us up
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed to start: %v", err)
	}
}

// seedDatabase fills empty provider and header rule tables from the config
// file and returns the header rules the store now holds.
func seedDatabase(db *database.DB, cfg *config.Config) []config.HeaderRule {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if n, err := db.SeedProviders(ctx, cfg.Providers); err != nil {
		logger.Error("Failed to seed providers: %v", err)
	} else if n > 0 {
		logger.Info("Seeded %d providers into %s", n, cfg.DatabasePath)
	}

	if err := db.SeedHeaderRules(ctx, cfg.HeaderRules); err != nil {
		logger.Error("Failed to seed header rules: %v", err)
	}

	rules, err := db.HeaderRules(ctx)
	if err != nil || len(rules) == 0 {
		return cfg.HeaderRules
	}
	return rules
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
