package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecfuse/internal/domain/query"
	chiTransport "github.com/kailas-cloud/vecfuse/internal/transport/chi"
	"github.com/kailas-cloud/vecfuse/internal/version"
)

func newServeCmd(rt *runtimeEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the query API over HTTP",
		Long: `Serve GET/POST /v1/query, /health and /metrics.

Query options left out of a request take the pipeline defaults from the config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), rt)
		},
	}
}

func runServe(ctx context.Context, rt *runtimeEnv) error {
	cfg, logger := rt.cfg, rt.logger
	logger.Info("Starting vecfuse API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", rt.opts.env),
		zap.Int("http_port", cfg.HTTP.Port),
	)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server := chiTransport.NewServer(a.pipeline, a.health, serverDefaults(rt), logger)
	if len(cfg.HTTP.CORSOrigins) > 0 {
		server.WithAllowedOrigins(cfg.HTTP.CORSOrigins...)
	}

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("Server stopped gracefully")
	return nil
}

// serverDefaults maps the pipeline config onto request defaults.
func serverDefaults(rt *runtimeEnv) chiTransport.Defaults {
	p := rt.cfg.Pipeline
	return chiTransport.Defaults{
		Targets:      configTargets(rt),
		Fuse:         p.Fuse,
		FuseTopK:     p.FuseTopK,
		Rerank:       rt.cfg.Rerank.Enabled,
		Threshold:    p.Threshold,
		DisplayCount: p.DisplayCount,
	}
}

// configTargets returns every configured collection with its configured depth.
func configTargets(rt *runtimeEnv) []query.Target {
	targets := make([]query.Target, len(rt.cfg.Collections))
	for i, c := range rt.cfg.Collections {
		targets[i] = query.Target{Collection: c.Name, Limit: c.Limit}
	}
	return targets
}
