package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/SirClappington/jobexec/internal/api"
	"github.com/SirClappington/jobexec/internal/backend"
	"github.com/SirClappington/jobexec/internal/config"
	"github.com/SirClappington/jobexec/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.AppEnv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := backend.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer store.Close()

	// Jobs created here are picked up on the engine's next acquisition tick.
	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.New(store, api.WithLogger(logger), api.WithDefaultRetries(cfg.DefaultRetries)).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	logger.Info("admin api listening", zap.String("addr", cfg.APIAddr), zap.String("backend", cfg.StoreBackend))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error("serve", zap.Error(err))
	}
}
