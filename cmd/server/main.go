package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"idle-cache/internal/api"
	"idle-cache/internal/config"
	"idle-cache/internal/logs"
	"idle-cache/internal/metrics"
	"idle-cache/internal/store"
	"idle-cache/internal/sweep"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Logger
	logger := logs.New(logs.Config{
		Level:      cfg.Logs.Level,
		BufferSize: cfg.Logs.BufferSize,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, nil); err != nil {
		logger.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}

// run serves the cache until ctx is cancelled or the server fails. If ready
// is non-nil it receives the bound listen address once the server accepts
// connections.
func run(ctx context.Context, cfg config.Config, logger *logs.Logger, ready chan<- string) error {
	log := logger.WithComponent("server")

	// Metrics
	metricsRegistry := metrics.NewRegistry()

	// One clock drives access times, TTLs and sweep ticks.
	clk := clockwork.NewRealClock()

	// Store
	cacheStore := store.New(clk, metricsRegistry, store.Options{
		Capacity: cfg.Cache.Capacity,
		MaxIdle:  cfg.Cache.MaxIdle,
	})

	// Sweeper
	sweeper := sweep.NewSweeper(
		cacheStore,
		cfg.Sweep.Interval,
		cfg.Cache.MaxIdle,
		clk,
		logger.WithComponent("sweep"),
		metricsRegistry,
	)

	// API
	handler := api.NewHandler(cacheStore, clk, metricsRegistry, logger)
	server := &http.Server{
		Handler:           api.NewRouter(handler, api.RouterOptions{RateLimit: cfg.HTTP.RateLimit}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sweeper.Start(gctx)
		return nil
	})

	g.Go(func() error {
		if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.Info().
		Str("addr", ln.Addr().String()).
		Int("capacity", cfg.Cache.Capacity).
		Dur("max_idle", cfg.Cache.MaxIdle).
		Msg("server started")

	if ready != nil {
		ready <- ln.Addr().String()
	}

	return g.Wait()
}
