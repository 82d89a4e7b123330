// saninvd runs the inventory collector as a daemon: it collects on an
// interval and serves the latest snapshot, health and metrics over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ahbmx/saninv/pkg/cache"
	"github.com/ahbmx/saninv/pkg/client"
	"github.com/ahbmx/saninv/pkg/collector"
	"github.com/ahbmx/saninv/pkg/config"
	"github.com/ahbmx/saninv/pkg/discovery"
	"github.com/ahbmx/saninv/pkg/fetch"
	"github.com/ahbmx/saninv/pkg/inventory"
	"github.com/ahbmx/saninv/pkg/logging"
	"github.com/ahbmx/saninv/pkg/session"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	listenAddr := flag.String("listen", ":8080", "HTTP listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "saninvd: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
		Output: os.Stderr,
	})
	logger := logging.NewLogger("saninvd")

	if cfg.Endpoint == "" {
		logger.Fatal().Msg("endpoint is required (SANINV_ENDPOINT or config file)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	col, err := buildCollector(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build collector")
	}

	holder := &snapshotHolder{}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", holder.handleHealth)
	mux.HandleFunc("/snapshot", holder.handleSnapshot)

	server := &http.Server{Addr: *listenAddr, Handler: mux}
	go func() {
		logger.Info().Str("addr", *listenAddr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	runLoop(ctx, cfg, col, holder, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown failed")
	}
	logger.Info().Msg("Shutdown complete")
}

func buildCollector(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*collector.Collector, error) {
	strategy, creds, err := authFromConfig(cfg.Auth)
	if err != nil {
		return nil, err
	}

	var cacheMgr *cache.Manager
	if cfg.Cache.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			// The cache is an optimization for slow-moving discovery
			// documents; the collector works without it.
			logger.Warn().Err(err).Str("addr", cfg.Cache.RedisAddr).
				Msg("Redis unreachable, running without discovery cache")
		} else {
			cacheMgr = cache.NewManager(redisClient)
			logger.Info().Str("addr", cfg.Cache.RedisAddr).Msg("Discovery cache enabled")
		}
	}

	sess, err := session.Open(ctx, cfg.Endpoint, strategy, creds, nil)
	if err != nil {
		return nil, err
	}

	c, err := client.New(sess, cacheMgr, client.Config{
		UserAgent:      cfg.HTTP.UserAgent,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		RateLimit:      cfg.HTTP.RateLimit,
		RateBurst:      cfg.HTTP.RateBurst,
		Retry: client.RetryConfig{
			MaxAttempts:       cfg.Retry.MaxAttempts,
			InitialBackoff:    cfg.Retry.InitialBackoff,
			MaxBackoff:        cfg.Retry.MaxBackoff,
			BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		},
		CacheTTL:           cfg.Cache.TTL,
		InsecureSkipVerify: cfg.HTTP.InsecureSkipVerify,
	})
	if err != nil {
		return nil, err
	}

	f := fetch.New(c, fetch.Config{
		PageSize:      cfg.Fetch.PageSize,
		MaxIterations: cfg.Fetch.MaxIterations,
	})

	return collector.New(c, f, discovery.DefaultResources(), collector.Config{
		Concurrency: cfg.Collector.Concurrency,
		ClientMajor: cfg.Collector.ClientMajor,
	}), nil
}

func authFromConfig(a config.AuthConfig) (session.AuthStrategy, session.Credentials, error) {
	creds := session.Credentials{
		Username: a.Username,
		Password: a.Password,
		APIKey:   a.APIKey,
	}
	switch a.Strategy {
	case "basic":
		return session.BasicAuth{}, creds, nil
	case "bearer":
		return session.BearerAuth{LoginPath: a.LoginPath}, creds, nil
	case "apikey":
		return session.APIKeyAuth{Header: a.APIKeyHeader}, creds, nil
	}
	return nil, creds, fmt.Errorf("unknown auth strategy %q", a.Strategy)
}

// runLoop collects once immediately, then on the configured interval until
// the context is cancelled.
func runLoop(ctx context.Context, cfg *config.Config, col *collector.Collector, holder *snapshotHolder, logger zerolog.Logger) {
	collect := func() {
		runCtx := ctx
		if cfg.Collector.Timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, cfg.Collector.Timeout)
			defer cancel()
		}

		snap, err := col.Collect(runCtx)
		if err != nil {
			logger.Error().Err(err).Msg("Collection run failed")
			return
		}
		holder.set(snap)
	}

	collect()

	if cfg.Collector.Interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(cfg.Collector.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collect()
		}
	}
}

// snapshotHolder keeps the latest completed snapshot for the HTTP handlers.
type snapshotHolder struct {
	mu   sync.RWMutex
	snap *inventory.Snapshot
}

func (h *snapshotHolder) set(snap *inventory.Snapshot) {
	h.mu.Lock()
	h.snap = snap
	h.mu.Unlock()
}

func (h *snapshotHolder) get() *inventory.Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snap
}

func (h *snapshotHolder) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.get()
	w.Header().Set("Content-Type", "application/json")
	if snap == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "starting"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":          "ok",
		"run_id":          snap.RunID.String(),
		"finished_at":     snap.FinishedAt,
		"failed_branches": len(snap.FailedBranches()),
	})
}

func (h *snapshotHolder) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := h.get()
	if snap == nil {
		http.Error(w, "no snapshot collected yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}
