// Command wheeltracker ingests broker Flex exports, reconstructs wheel
// strategy cycles, and serves the resulting analytics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eddiefleurent/wheeltracker/internal/broker"
	"github.com/eddiefleurent/wheeltracker/internal/config"
	"github.com/eddiefleurent/wheeltracker/internal/pipeline"
	"github.com/eddiefleurent/wheeltracker/internal/server"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	serve := flag.Bool("serve", false, "serve results over HTTP after analysis")
	flag.Parse()

	if err := run(*configPath, *serve); err != nil {
		log.Fatalf("wheeltracker: %v", err)
	}
}

func run(configPath string, serve bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Environment.LogLevel)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	logger.SetLevel(level)

	feed := buildFeed(cfg, logger)
	p := pipeline.New(cfg, feed, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snap, err := p.Run(ctx, cfg.Exports.Paths)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"trades":  len(snap.Trades),
		"symbols": len(snap.Analytics),
		"skipped": snap.ParseStats.Skipped,
	}).Info("analysis complete")
	if snap.Validation != nil {
		logger.WithFields(logrus.Fields{
			"critical": snap.Validation.CriticalCount,
			"warning":  snap.Validation.WarningCount,
		}).Info("reconciliation complete")
	}

	if !serve {
		return nil
	}

	srv := server.New(server.Config{Port: cfg.Server.Port}, p.Store(), logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildFeed wires the snapshot feed with retry and circuit breaker layers.
// Returns nil when no endpoint is configured, which disables reconciliation.
func buildFeed(cfg *config.Config, logger *logrus.Logger) broker.Feed {
	if cfg.Feed.Endpoint == "" {
		logger.Info("no snapshot feed configured, reconciliation disabled")
		return nil
	}
	client := broker.NewClient(cfg.Feed.Endpoint, cfg.Feed.APIKey, cfg.Feed.AccountID).
		WithTimeout(cfg.Feed.Timeout)
	stdlog := log.New(logger.Writer(), "", 0)
	return broker.NewRetryFeed(broker.NewCircuitBreakerFeed(client), stdlog)
}
