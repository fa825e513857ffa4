// Package cmd provides the CLI commands for vecfuse.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecfuse/internal/config"
	logpkg "github.com/kailas-cloud/vecfuse/internal/logger"
	"github.com/kailas-cloud/vecfuse/internal/metrics"
	"github.com/kailas-cloud/vecfuse/internal/version"
)

// globalOptions holds persistent flags shared by every command.
type globalOptions struct {
	env        string
	configPath string
	logLevel   string
}

// runtimeEnv is resolved in PersistentPreRunE and read by subcommands.
type runtimeEnv struct {
	opts   globalOptions
	cfg    config.Config
	logger *zap.Logger
}

// NewRootCmd creates the root command for the vecfuse CLI.
func NewRootCmd() *cobra.Command {
	rt := &runtimeEnv{}

	cmd := &cobra.Command{
		Use:   "vecfuse",
		Short: "Vector retrieval with cross-source fusion and reranking",
		Long: `vecfuse searches embedded vendor profiles across several collections,
fuses the per-collection rankings by entity, optionally reranks them with a
relevance model and applies a score threshold with a top-N fallback.

Collections live either in JSON Lines files or in a Redis/Valkey search index.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.init(cmd)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if rt.logger != nil {
				_ = rt.logger.Sync()
			}
		},
	}
	cmd.SetVersionTemplate(fmt.Sprintf("vecfuse version {{.Version}} (commit %s, built %s)\n",
		version.Commit, version.Date))

	cmd.PersistentFlags().StringVar(&rt.opts.env, "env", config.GetEnv(), "Environment: local, dev, docker, prod")
	cmd.PersistentFlags().StringVarP(&rt.opts.configPath, "config", "c", "",
		"Config file (default: config/<env>.yaml)")
	cmd.PersistentFlags().StringVar(&rt.opts.logLevel, "log-level", "", "Override log level: debug, info, warn, error")

	cmd.AddCommand(
		newServeCmd(rt),
		newQueryCmd(rt),
		newEvalCmd(rt),
		newImportCmd(rt),
		newHealthCmd(rt),
	)
	return cmd
}

// Execute runs the root command with signal-aware context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func (rt *runtimeEnv) init(cmd *cobra.Command) error {
	var (
		cfg config.Config
		err error
	)
	if rt.opts.configPath != "" {
		cfg, err = config.LoadFile(rt.opts.configPath)
	} else {
		cfg, err = config.Load(rt.opts.env)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// serve logs like a service; interactive commands keep stdout for reports
	logEnv := "cli"
	if cmd.Name() == "serve" {
		logEnv = rt.opts.env
	}
	level := rt.opts.logLevel
	if level == "" && logEnv != "cli" {
		level = cfg.Logging.Level
	}
	logger, err := logpkg.NewLogger(logEnv, level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	metrics.Register()

	rt.cfg = cfg
	rt.logger = logger
	return nil
}
