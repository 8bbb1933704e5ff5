/*
main.go - Application entry point

PURPOSE:
  Starts the pair balance ledger HTTP server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Configure logging
  3. Open the selected store (sqlite, mysql or memory)
  4. Create the engine with metrics and the API handler
  5. Start the reconciliation scheduler (when an interval is set)
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the reconciliation scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -dsn="./data/pair-ledger.db"

  # Run against MySQL
  LEDGER_DRIVER=mysql LEDGER_DSN="ledger:secret@tcp(localhost:3306)/pair_ledger" ./server

  # Run in memory on a different port with demo scenarios
  ./server -driver=memory -port=3000 -demo

  # Replay every group's audit trail hourly
  LEDGER_RECONCILE_INTERVAL=1h ./server

SEE ALSO:
  - config/config.go: Settings and their environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/warp/pair-ledger/api"
	"github.com/warp/pair-ledger/config"
	"github.com/warp/pair-ledger/ledger"
	ledgerstore "github.com/warp/pair-ledger/ledger/store"
	"github.com/warp/pair-ledger/pkg/logging"
	"github.com/warp/pair-ledger/store/mysql"
	"github.com/warp/pair-ledger/store/sqlite"
)

// backend is what every store driver provides.
type backend interface {
	ledger.Store
	api.Records
}

func main() {
	cfg, err := config.Load(os.Args[1:], ".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(2)
	}
	logger := logging.Setup(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	store, closer, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("initialize %s store: %w", cfg.Driver, err)
	}
	defer closer.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine := ledger.NewEngine(store,
		ledger.WithLockTimeout(cfg.LockTimeout),
		ledger.WithLogger(logger.With("component", "ledger")),
		ledger.WithMetrics(ledger.NewMetrics(reg)),
	)

	handler := api.NewHandler(engine, store, logger)
	handler.Gatherer = reg
	handler.Scheduler = api.NewReconciliationScheduler(engine, cfg.ReconcileInterval, logger)
	if cfg.Demo {
		handler.Scenarios = api.NewScenarioLoader(handler.Expenses, handler.Settlements, logger)
	}
	handler.Scheduler.Start()
	defer handler.Scheduler.Stop()
	router := api.NewRouter(handler, cfg.CORSOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "driver", cfg.Driver, "lock_timeout", cfg.LockTimeout)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStore(cfg config.Config) (backend, io.Closer, error) {
	switch cfg.Driver {
	case config.DriverMySQL:
		s, err := mysql.New(cfg.DSN, mysql.WithLockWait(cfg.LockTimeout))
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.DriverMemory:
		return ledgerstore.NewMemory(), io.NopCloser(nil), nil
	default:
		s, err := sqlite.New(cfg.DSN, sqlite.WithWriterTimeout(cfg.LockTimeout))
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
}
