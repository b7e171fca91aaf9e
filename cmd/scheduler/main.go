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
	"golang.org/x/sync/errgroup"

	"github.com/SirClappington/jobexec/internal/api"
	"github.com/SirClappington/jobexec/internal/backend"
	"github.com/SirClappington/jobexec/internal/config"
	"github.com/SirClappington/jobexec/internal/handlers"
	"github.com/SirClappington/jobexec/internal/jobexec"
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

	if err := run(cfg, logger); err != nil {
		logger.Error("scheduler exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := backend.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := jobexec.NewRegistry()
	if err := handlers.Register(reg); err != nil {
		return err
	}
	execCfg, err := cfg.Executor()
	if err != nil {
		return err
	}
	eng, err := jobexec.New(store, reg, execCfg, jobexec.WithLogger(logger))
	if err != nil {
		return err
	}
	logger.Info("scheduler starting",
		zap.String("backend", cfg.StoreBackend),
		zap.String("owner", cfg.OwnerID),
		zap.Strings("handlers", reg.Types()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })

	if cfg.EmbedAPI {
		srv := &http.Server{
			Addr: cfg.APIAddr,
			Handler: api.New(store,
				api.WithLogger(logger),
				api.WithDefaultRetries(cfg.DefaultRetries),
				api.WithHint(eng.Hint),
			).Routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("admin api listening", zap.String("addr", cfg.APIAddr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	return g.Wait()
}
