package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"codegraph/internal/builder"
	"codegraph/internal/finder"
	"codegraph/internal/jobs"
	"codegraph/internal/metrics"
	"codegraph/internal/pkgresolve"
	"codegraph/internal/server"
	"codegraph/internal/watcher"
)

var watchPaths []string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	serveCmd.Flags().StringSliceVarP(&watchPaths, "watch", "w", nil, "directories to watch from startup")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, code, err := openBuilder(cmd, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	deps := builder.New(store, afero.NewOsFs(), code.Registry(), builderOptions(cfg, true))

	runner := jobs.NewRunner(jobs.NewManager(), cfg.Jobs.Workers, cfg.Jobs.QueueSize)
	defer runner.Close()
	if cfg.Jobs.JanitorInterval > 0 {
		runner.StartJanitor(ctx, cfg.Jobs.JanitorInterval, cfg.Jobs.Retention)
	}

	w, err := watcher.New(code, runner, cfg.Watcher.Debounce)
	if err != nil {
		return err
	}
	defer w.Close()

	f, err := finder.New(store, cfg.Finder.CacheSize)
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				slog.Error("metrics endpoint failed", "error", err)
			}
		}()
	}

	for _, p := range watchPaths {
		if _, err := w.Watch(ctx, p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
	}

	srv := server.New(server.Deps{
		Store:    store,
		Builder:  code,
		Packages: deps,
		Jobs:     runner,
		Watcher:  w,
		Finder:   f,
		Resolver: pkgresolve.New(afero.NewOsFs(), cwd),
	}, version)
	return srv.Run(ctx)
}
