package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dqinsight/internal/api"
	"dqinsight/internal/filecache"
	"dqinsight/internal/logging"
)

const shutdownGrace = 10 * time.Second

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ask API over HTTP",
	Long: `Starts the HTTP server exposing:
  POST /api/ask     {"query": "...", "useDataset": true}
  GET  /api/health

When dataset.watch is enabled the cached upload is invalidated whenever the
dataset file changes on disk.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	boot := logging.For(logger, logging.CategoryBoot)

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cache != nil && cfg.Dataset.Watch {
		w, err := filecache.NewWatcher(a.cache.Path(), a.cache, logging.For(logger, logging.CategoryCache))
		if err != nil {
			return fmt.Errorf("failed to create dataset watcher: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			w.Stop()
			return fmt.Errorf("failed to watch dataset: %w", err)
		}
		defer w.Stop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.SetupRouter(api.Options{
		Asker:          a.orch,
		MaxQueryLength: cfg.Server.MaxQueryLength,
		RequestTimeout: cfg.Server.GetWriteTimeout(),
		Provider:       a.provider.Name,
		Logger:         logger,
	})
	srv := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     router,
		ReadTimeout: cfg.Server.GetReadTimeout(),
		// Leave headroom past the per-request deadline so 504s are written.
		WriteTimeout: cfg.Server.GetWriteTimeout() + 5*time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		boot.Info("listening", zap.String("addr", srv.Addr), zap.String("provider", a.provider.Name))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		boot.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
