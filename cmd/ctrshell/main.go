package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ctrshell/internal/config"
	"ctrshell/internal/localstore"
	"ctrshell/internal/logging"
	"ctrshell/internal/server"
	"ctrshell/internal/shell"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", os.Getenv("CTRSHELL_CONFIG"), "path to ctrshell.yaml")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(os.Stderr, cfg.Logging.Format, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("init logging: %v", err)
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := shell.NewService(&cfg, logger)
	if err != nil {
		return fmt.Errorf("init shell: %w", err)
	}
	defer svc.Close()

	stores, err := localstore.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer stores.Close()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	urls := localstore.NewObjectURLs(fmt.Sprintf("http://localhost:%d%s/blob", cfg.Server.Port, server.Prefix))
	defer urls.Close()

	h := server.NewHandler(svc,
		localstore.NewRecordStore(stores.Records),
		localstore.NewArchive(stores.Documents),
		localstore.NewDraftStore(stores.Drafts, logger.With("component", "drafts")),
		urls,
	)
	srv := server.New(h, &server.Config{BodyLimit: cfg.BodyLimitBytes, Logger: logger})

	// Serve while installing so the origin stays reachable through bypass.
	errc := make(chan error, 1)
	go func() {
		logger.Info("ctrshell listening",
			"addr", addr,
			"origin", cfg.Server.Origin,
			"cache", cfg.Cache.Backend,
			"storage", stores.Type,
		)
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	if err := svc.Start(ctx); err != nil {
		logger.Error("install failed", "error", err)
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
