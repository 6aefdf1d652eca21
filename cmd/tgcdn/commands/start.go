package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/devhw/tgcdn/internal/logger"
	"github.com/devhw/tgcdn/pkg/api"
	"github.com/devhw/tgcdn/pkg/config"
	"github.com/devhw/tgcdn/pkg/kv"
	"github.com/devhw/tgcdn/pkg/metrics"
	"github.com/devhw/tgcdn/pkg/offload"
	"github.com/devhw/tgcdn/pkg/resolver"
	"github.com/devhw/tgcdn/pkg/store"
	"github.com/devhw/tgcdn/pkg/sweeper"
	"github.com/devhw/tgcdn/pkg/telegram"
	"github.com/devhw/tgcdn/pkg/worker"
)

const (
	// Database bootstrap retry budget. Containers routinely come up before
	// their database does.
	dbConnectAttempts = 20
	dbConnectDelay    = 1500 * time.Millisecond
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the tgcdn server",
	Long: `Start the tgcdn server with the specified configuration.

Runs the HTTP server, one upload worker per configured bot token, the
hourly reconciliation sweeper and the cache-warm drainer, all in one
process.

Examples:
  # Start with config file
  tgcdn start --config /etc/tgcdn/config.yaml

  # Start from environment only
  SENDBOT_CHAT_ID=-100123 SENDBOT_TOKENS=111:aaa tgcdn start

  # Start with environment variable overrides
  TGCDN_LOGGING_LEVEL=DEBUG tgcdn start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	if err := initLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("configuration loaded",
		"log_level", cfg.Logging.Level,
		"workers", len(cfg.Telegram.TokenList()),
		"temp_dir", cfg.Pipeline.TempDir,
	)

	// Metrics (if enabled)
	var pipelineMetrics *metrics.PipelineMetrics
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		pipelineMetrics = metrics.NewPipelineMetrics()
		logger.Info("metrics enabled", "endpoint", "/metrics")
	}

	// Staging directory shared by the ingest handler and the workers.
	if err := os.MkdirAll(cfg.Pipeline.TempDir, 0o755); err != nil {
		return fmt.Errorf("failed to create temp dir %s: %w", cfg.Pipeline.TempDir, err)
	}

	st, err := connectStore(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	// One bots row per configured token; bot_id is stable across restarts.
	tokens := cfg.Telegram.TokenList()
	bots := make([]*store.Bot, 0, len(tokens))
	for _, token := range tokens {
		bot, err := st.GetOrCreateBot(ctx, token)
		if err != nil {
			return fmt.Errorf("failed to register bot: %w", err)
		}
		bots = append(bots, bot)
	}
	logger.Info("bots registered", "count", len(bots))

	cache := kv.New(&cfg.Cache)
	defer cache.Close()
	if err := cache.Ping(ctx); err != nil {
		// The resolver degrades to L2/L3 when Redis is down; keep going.
		logger.Warn("kv cache unreachable at startup", "addr", cfg.Cache.Addr, "error", err)
	}

	offloadQueue := offload.New(cfg.Pipeline.OffloadCapacity)
	if pipelineMetrics != nil {
		offloadQueue.OnDrop(pipelineMetrics.RecordOffloadDrop)
	}
	go offloadQueue.Run(ctx)

	upstream := telegram.New()
	res := resolver.New(st, cache, upstream, offloadQueue, pipelineMetrics)

	workers := make([]*worker.Worker, 0, len(bots))
	for _, bot := range bots {
		workers = append(workers, worker.New(worker.Config{
			BotID:        bot.BotID,
			Token:        bot.Token,
			ChatID:       cfg.Telegram.ChatID,
			TempDir:      cfg.Pipeline.TempDir,
			BatchSize:    cfg.Pipeline.BatchSize,
			PollInterval: cfg.Pipeline.PollInterval,
		}, st, upstream, pipelineMetrics))
	}
	pool := worker.NewPool(workers)
	pool.Start(ctx)

	sw := sweeper.New(cfg.Sweeper, st, pipelineMetrics)
	go sw.Run(ctx)

	server := api.NewServer(cfg.API, api.Deps{
		Queue:     st,
		Resolver:  res,
		DB:        st,
		Cache:     cache,
		TempDir:   cfg.Pipeline.TempDir,
		Metrics:   pipelineMetrics,
		MaxUpload: int64(cfg.Pipeline.MaxUpload),
	})

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("server is running", "port", server.Port())

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("server shutdown error", "error", err)
			return err
		}
	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("server error", "error", err)
			cancel()
			pool.Wait()
			return err
		}
		cancel()
	}

	// Let in-flight jobs reach a durable state before exiting.
	pool.Wait()
	logger.Info("server stopped gracefully")
	return nil
}

// connectStore opens the database with a retry budget: the sweeper's
// crash-recovery story assumes the process can always come back up, so a
// database that is still booting must not be fatal.
func connectStore(ctx context.Context, cfg *store.Config) (*store.Store, error) {
	var lastErr error
	for attempt := 1; attempt <= dbConnectAttempts; attempt++ {
		st, err := store.New(cfg)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connected", "attempt", attempt)
			}
			return st, nil
		}
		lastErr = err
		logger.Warn("database not ready, retrying",
			"attempt", attempt,
			"max_attempts", dbConnectAttempts,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dbConnectDelay):
		}
	}
	return nil, fmt.Errorf("database unreachable after %d attempts: %w", dbConnectAttempts, lastErr)
}

// initLogger initializes the structured logger from configuration.
func initLogger(cfg *config.Config) error {
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}
