// Command prontolinkd serves the identity gate and the QR-code upload
// handoff API.
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

	"github.com/prontolink/prontolink/auth"
	"github.com/prontolink/prontolink/handoff"
	"github.com/prontolink/prontolink/httpapi"
	"github.com/prontolink/prontolink/internal/config"
	"github.com/prontolink/prontolink/internal/logctx"
	"github.com/prontolink/prontolink/objectstore"
	"github.com/prontolink/prontolink/objectstore/memory"
	"github.com/prontolink/prontolink/objectstore/redis"
	"github.com/prontolink/prontolink/objectstore/s3"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	store, err := newObjectStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	authenticator, err := auth.NewVerifier(ctx, auth.Config{
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		JWKSURL:  cfg.JWKSURL,
		Leeway:   cfg.Leeway,
	})
	if err != nil {
		return err
	}

	protocol := handoff.New(handoff.Config{
		SessionTTL:      cfg.SessionTTL,
		MaxUploads:      cfg.MaxUploads,
		MaxPayloadBytes: cfg.MaxPayloadBytes,
	}, store, log)

	if cfg.SweepInterval > 0 {
		go protocol.RunSweeper(ctx, cfg.SweepInterval)
	}

	handler := httpapi.New(httpapi.Config{
		Authenticator:          authenticator,
		Protocol:               protocol,
		Log:                    log,
		CreateSessionPerMinute: cfg.CreateSessionPerMinute,
		UploadPerMinute:        cfg.UploadPerMinute,
		StatusPerMinute:        cfg.StatusPerMinute,
		APIPerMinute:           cfg.APIPerMinute,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", slog.String("addr", cfg.ListenAddr), slog.String("object_store", cfg.ObjectStore))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("shut down cleanly")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	base := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logctx.Handler{Handler: base})
}

func newObjectStore(cfg *config.Config) (objectstore.Store, error) {
	switch cfg.ObjectStore {
	case "redis":
		return redis.NewFromEnv()
	case "s3":
		return s3.NewFromEnv()
	default:
		return memory.New(1024)
	}
}
