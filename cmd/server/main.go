package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/devaloi/pokersync/internal/client"
	"github.com/devaloi/pokersync/internal/config"
	"github.com/devaloi/pokersync/internal/handler"
	"github.com/devaloi/pokersync/internal/hub"
	"github.com/devaloi/pokersync/internal/logger"
	"github.com/devaloi/pokersync/internal/metrics"
	"github.com/devaloi/pokersync/internal/persist"
	"github.com/devaloi/pokersync/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("pokersync exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := logger.SetupDefault(os.Stdout, cfg.LogLevel)

	s, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer s.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.NewCollector(reg)

	dispatcher := persist.NewDispatcher(s, persist.Options{
		Workers:    cfg.PersistWorkers,
		QueueSize:  cfg.PersistQueueSize,
		MaxRetries: cfg.PersistMaxRetries,
		Timeout:    cfg.PersistTimeout,
		Logger:     log,
		Metrics:    rec,
	})
	dispatcher.Start()

	h := hub.New(dispatcher, hub.Options{
		MaxRooms:                cfg.MaxRooms,
		IdleTTL:                 cfg.RoomIdleTTL,
		SweepInterval:           cfg.SweepInterval,
		ResetVotesOnStoryChange: cfg.ResetVotesOnStoryChange,
		Logger:                  log,
		Metrics:                 rec,
	})
	go h.Run()

	router := handler.NewRouter(&handler.RouterDeps{
		Hub:   h,
		Store: s,
		Client: client.Options{
			MessageRate:  cfg.MessageRate,
			MessageBurst: cfg.MessageBurst,
			Logger:       log,
			Metrics:      rec,
		},
		Metrics:           metrics.Handler(reg),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Logger:            log,
	})

	// No read/write timeouts: WebSocket connections manage their own deadlines.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("pokersync listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		h.Stop()
		dispatcher.Stop(context.Background())
		return fmt.Errorf("listen: %w", err)
	}
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", slog.String("error", err.Error()))
	}
	h.Stop()
	// Writes already queued by the rooms are allowed to finish.
	if err := dispatcher.Stop(ctx); err != nil {
		log.Error("persistence drain incomplete", slog.String("error", err.Error()))
	}

	log.Info("pokersync stopped")
	return nil
}
