// Command cronosd is the cronos daemon: it loads configuration, opens
// the context-graph engine, and serves collectors and query clients
// over a Unix domain socket until it receives a shutdown signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/homardcloud/cronos/internal/aggregator"
	"github.com/homardcloud/cronos/internal/config"
	"github.com/homardcloud/cronos/internal/engine"
	"github.com/homardcloud/cronos/internal/logging"
	"github.com/homardcloud/cronos/internal/safego"
	"github.com/homardcloud/cronos/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "cronosd:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to config.toml (defaults to the resolved XDG config path)")
		pretty     = flag.Bool("pretty", false, "use human-readable console logging instead of JSON")
	)
	flag.Parse()

	paths, err := config.ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolving paths: %w", err)
	}

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = paths.ConfigFile
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logging.Setup(cfg.Daemon.LogLevel, *pretty)

	dbPath := cfg.Daemon.DBPath
	if dbPath == "" {
		dbPath = paths.DBFile
	}
	socketPath := cfg.Daemon.SocketPath
	if socketPath == "" {
		socketPath = paths.SocketFile
	}

	log.Info().Str("db", dbPath).Str("socket", socketPath).Msg("starting daemon")

	eng, err := engine.Open(dbPath, cfg.Daemon.Dedup.WindowMs, cfg.Daemon.Linker.TemporalWindowMs)
	if err != nil {
		return fmt.Errorf("opening engine: %w", err)
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(socketPath, eng)
	serverErr := make(chan error, 1)
	go func() {
		defer safego.Recover("server run loop")
		serverErr <- srv.Run(ctx)
	}()

	go runAggregationLoop(ctx, eng, cfg.Daemon.Aggregator)

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		if err := <-serverErr; err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	}
}

// runAggregationLoop runs session aggregation on a fixed interval until
// ctx is canceled. A failed aggregation pass is logged and retried on
// the next tick rather than treated as fatal.
func runAggregationLoop(ctx context.Context, eng *engine.Engine, cfg config.AggregatorConfig) {
	interval := time.Duration(cfg.IntervalSecs) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	agg := aggregator.New(cfg.SessionGapMs)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runAggregationTick(eng, agg)
		}
	}
}

// runAggregationTick runs one aggregation pass, recovering from a panic
// so a single bad pass doesn't kill the loop for the rest of the
// daemon's lifetime.
func runAggregationTick(eng *engine.Engine, agg *aggregator.Aggregator) {
	defer safego.Recover("aggregation tick")

	created, err := eng.RunAggregation(agg)
	if err != nil {
		log.Warn().Err(err).Msg("aggregation pass failed")
		return
	}
	if created > 0 {
		log.Info().Int("sessions", created).Msg("aggregation pass created sessions")
	}
}
