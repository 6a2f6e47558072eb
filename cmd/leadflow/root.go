package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/amishk599/leadflow/internal/config"
	"github.com/amishk599/leadflow/internal/dispatch"
	"github.com/amishk599/leadflow/internal/ingest"
	"github.com/amishk599/leadflow/internal/model"
	"github.com/amishk599/leadflow/internal/notifier"
	"github.com/amishk599/leadflow/internal/provider"
	"github.com/amishk599/leadflow/internal/qualify"
	"github.com/amishk599/leadflow/internal/queue"
	"github.com/amishk599/leadflow/internal/ratelimit"
	"github.com/amishk599/leadflow/internal/retry"
	"github.com/amishk599/leadflow/internal/store"
)

var (
	cfgPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:           "leadflow",
	Short:         "Profile enrichment and qualification pipeline",
	Long:          "leadflow enriches captured social profiles through external data providers and scores them against qualification criteria.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: LEADFLOW_CONFIG env var or ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// loadConfig resolves the config path and parses it.
// Priority: explicit path arg > LEADFLOW_CONFIG env var > "./config.yaml"
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if env := os.Getenv("LEADFLOW_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func setupLogger(dbg bool, format string) *slog.Logger {
	logLevel := slog.LevelInfo
	if dbg {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupNotifier(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) model.Notifier {
	switch cfg.Notification.Type {
	case "slack":
		logger.Info("using slack notifier")
		return notifier.NewSlackNotifier(cfg.Notification.WebhookURL, httpClient, logger)
	default:
		return notifier.NewLogNotifier(logger)
	}
}

// app holds the components every command shares. Config is resolved once
// here and handed to constructors.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpClient *http.Client
	store      *store.SQLiteStore
	queue      *queue.Queue
	hook       *notifier.Hook
	registry   *provider.Registry
	ingestor   *ingest.Ingestor
	dispatcher *dispatch.Dispatcher
}

// openApp loads config, opens the store and queue, and wires the pipeline.
// When quiet is set, component logs are discarded (for TUI commands).
func openApp(quiet bool) (*app, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := setupLogger(debug, cfg.Log.Format)
	if quiet {
		logger = discardLogger()
	}

	a := &app{
		cfg:        cfg,
		logger:     logger,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}

	// The hook needs the store to count results, and the store needs the hook;
	// the closure defers the lookup until the first terminal transition.
	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path, store.WithTerminalHook(func(ctx context.Context, job model.EnrichmentJob) {
		a.hook.OnTerminal(ctx, job)
	}))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = sqlStore
	a.hook = notifier.NewHook(setupNotifier(cfg, a.httpClient, logger), sqlStore, logger)

	a.queue, err = queue.New(sqlStore.DB(), queue.Options{
		MaxAttempts:    cfg.Queue.MaxAttempts,
		BackoffInitial: cfg.Queue.BackoffInitial,
		BackoffMax:     cfg.Queue.BackoffMax,
	})
	if err != nil {
		sqlStore.Close()
		return nil, fmt.Errorf("open queue: %w", err)
	}

	// Lookups are paced per provider across all workers of this process and
	// retried on transient failures.
	limiter := ratelimit.NewKeyedLimiter(cfg.RateLimit.MinDelayFor)
	a.registry = provider.NewRegistry(cfg, a.httpClient, provider.WithLookupDecorator(func(p model.LookupProvider) model.LookupProvider {
		paced := ratelimit.NewRateLimitedLookup(p, limiter, string(model.ProviderLookup))
		return retry.NewRetryLookup(paced, 2, 2*time.Second, logger)
	}))

	a.ingestor = ingest.NewIngestor(sqlStore, a.queue, logger)
	a.dispatcher = dispatch.NewDispatcher(sqlStore, a.registry, a.queue, cfg.Scoring.Enabled(), logger)
	return a, nil
}

// engine returns the qualification engine, or nil when scoring is disabled.
func (a *app) engine(ctx context.Context) (*qualify.Engine, error) {
	if !a.cfg.Scoring.Enabled() {
		return nil, nil
	}
	scorer, err := qualify.NewScorer(ctx, a.cfg.Scoring, &http.Client{Timeout: a.cfg.Scoring.Timeout})
	if err != nil {
		return nil, fmt.Errorf("scoring backend: %w", err)
	}
	a.logger.Info("scoring enabled", "backend", a.cfg.Scoring.Backend, "model", scorer.Model())
	return qualify.NewEngine(a.store, scorer, qualify.Options{
		Concurrency:  a.cfg.Scoring.Concurrency,
		RateLimitRPS: a.cfg.Scoring.RateLimitRPS,
		MaxRetries:   a.cfg.Scoring.MaxRetries,
	}, a.logger), nil
}

// Close waits for pending notifications and closes the store.
func (a *app) Close() {
	a.hook.Wait()
	if err := a.store.Close(); err != nil {
		a.logger.Error("closing store", "error", err)
	}
}

// mustOpenApp is openApp for commands that cannot continue without it.
func mustOpenApp(quiet bool) *app {
	a, err := openApp(quiet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	return a
}
