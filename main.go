package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"medcaravan/m/internal/api"
	"medcaravan/m/internal/config"
	"medcaravan/m/internal/database"
	"medcaravan/m/internal/dispense"
	"medcaravan/m/internal/logging"
	"medcaravan/m/internal/migrations"
	"medcaravan/m/internal/scheduler"
	"medcaravan/m/internal/seed"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logging.Setup(cfg.LogLevel)

	db := database.Connect(cfg.DatabaseDSN)
	defer db.Close()

	migrations.Run(db)
	seed.LoadMedications(db, cfg.CatalogCSV)

	engine := dispense.NewEngine(dispense.NewSQLStore(db))

	watcher := scheduler.New(db, cfg)
	if err := watcher.Start(); err != nil {
		slog.Error("failed to start stock watcher", "error", err)
		os.Exit(1)
	}
	defer watcher.Stop()

	handler := api.New(db, engine, cfg)
	defer handler.Close()
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      handler.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("caravan inventory server starting", "port", cfg.HTTPPort)
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	case sig := <-stop:
		slog.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}
}
