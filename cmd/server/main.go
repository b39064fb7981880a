/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the dormitory engine HTTP server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the zap logger
  3. Open the store and wire services (app.Build)
  4. Configure HTTP router
  5. Start the overdue scheduler when enabled
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -addr    HTTP listen address (HTTP_ADDR, default :8080)
  -db      SQLite database path (SQLITE_PATH)
           Use ":memory:" for an in-memory database
  -env     .env file to load (default .env)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the overdue scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close store and Redis connections

EXAMPLES:
  STORE_DRIVER=postgres DB_HOST=db ./server
  ./server -db=":memory:" -addr=":3000"

SEE ALSO:
  - config/config.go: Environment keys
  - app/app.go: Component wiring
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/dorm-engine/api"
	"github.com/warp/dorm-engine/app"
	"github.com/warp/dorm-engine/config"
	"github.com/warp/dorm-engine/logging"
	"go.uber.org/zap"
)

func main() {
	// Flags
	addr := flag.String("addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	dbPath := flag.String("db", "", "SQLite database path (overrides SQLITE_PATH)")
	envFile := flag.String("env", ".env", "optional .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logging.Must("info", "console", "dorm-server").Fatal("invalid configuration", zap.Error(err))
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *dbPath != "" {
		cfg.SQLitePath = *dbPath
	}

	log := logging.Must(cfg.LogLevel, cfg.LogFormat, "dorm-server")
	defer log.Sync()

	ctx := context.Background()
	engine, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize", zap.Error(err))
	}
	defer engine.Close()

	handler := api.NewHandler(api.Services{
		Occupancy: engine.Occupancy,
		Billing:   engine.Billing,
		Pricing:   engine.Pricing,
		Repairs:   engine.Repairs,
		Settings:  engine.Settings,
		Clock:     engine.Clock,
		Reset:     engine.Reset,
	}, log.Named("api"))
	router := api.NewRouter(handler, api.RouterOptions{})

	scheduler := api.NewOverdueScheduler(engine.Billing, engine.Clock, log.Named("scheduler"))
	scheduler.Enabled = cfg.OverdueSweepEnabled
	scheduler.CheckInterval = cfg.OverdueSweepInterval
	scheduler.Start()

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("store", cfg.StoreDriver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
