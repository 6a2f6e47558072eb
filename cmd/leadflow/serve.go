package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/amishk599/leadflow/internal/api"
	"github.com/amishk599/leadflow/internal/delivery"
	"github.com/amishk599/leadflow/internal/export"
	"github.com/amishk599/leadflow/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API, queue workers and sweeper",
	Long:  "Serves the HTTP API and processes queued work in one process; blocks until SIGINT/SIGTERM.",
	RunE:  runServe,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run queue workers and the sweeper without the API",
	Long:  "Processes queued lookups, qualifications and snapshot files. Any number of worker processes can share one database.",
	RunE:  runWorker,
}

var workerCount int

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().IntVar(&workerCount, "count", 0, "number of workers (default: worker.count from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	return runPipeline(true)
}

func runWorker(cmd *cobra.Command, args []string) error {
	return runPipeline(false)
}

// runPipeline starts workers and the sweeper, plus the API when withAPI is set,
// and stops them all on the first error or signal.
func runPipeline(withAPI bool) error {
	a := mustOpenApp(false)
	defer a.Close()
	cfg, logger := a.cfg, a.logger

	logger.Info("config loaded",
		"database", cfg.Database.Path,
		"organizations", len(cfg.Organizations),
		"scoring", cfg.Scoring.Backend,
		"workers", cfg.Worker.Count,
		"scrape_timeout", cfg.Worker.ScrapeTimeout.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := a.engine(ctx)
	if err != nil {
		logger.Error("failed to set up scoring", "error", err)
		os.Exit(1)
	}
	var qualifier worker.Qualifier
	if engine != nil {
		qualifier = engine
	}

	var objects worker.ObjectFetcher
	if cfg.Delivery.Bucket != "" {
		gcs, err := delivery.NewGCSFetcher(ctx)
		if err != nil {
			logger.Error("failed to set up object storage", "error", err)
			os.Exit(1)
		}
		defer gcs.Close()
		objects = gcs
		logger.Info("object storage delivery enabled", "bucket", cfg.Delivery.Bucket)
	}

	handlers := worker.NewHandlers(a.registry, a.ingestor, qualifier, objects, logger).Map()

	count := cfg.Worker.Count
	if workerCount > 0 {
		count = workerCount
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range count {
		w := worker.NewWorker(fmt.Sprintf("worker-%d", i+1), a.queue, a.store, handlers,
			cfg.Worker.PollInterval, cfg.Queue.Lease, logger)
		g.Go(func() error { return w.Run(gctx) })
	}

	sweeper := worker.NewSweeper(a.store, a.ingestor, cfg.Worker.ScrapeTimeout, cfg.Worker.SweepInterval, logger)
	g.Go(func() error { return sweeper.Run(gctx) })

	if withAPI {
		deps := api.Deps{
			Dispatcher: a.dispatcher,
			Store:      a.store,
			Webhook:    delivery.NewWebhook(a.ingestor, cfg.Delivery.WebhookSecret),
			Events:     delivery.NewEventReceiver(a.queue, cfg.Delivery.Bucket, cfg.Delivery.Prefix, cfg.Delivery.EventToken, logger),
			Exporter:   export.NewService(a.store, logger),
		}
		server := api.NewServer(cfg.Server, cfg.Organizations, deps, logger)
		g.Go(func() error { return server.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		logger.Error("pipeline error", "error", err)
		return err
	}

	logger.Info("goodbye")
	return nil
}
