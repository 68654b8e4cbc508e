package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"codegraph/internal/builder"
	"codegraph/internal/config"
	"codegraph/internal/graph"
	"codegraph/internal/parser"
)

var (
	cfgFile     string
	logLevel    string
	storePath   string
	metricsAddr string

	version = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   "codegraph",
	Short: "Index source code into a queryable code graph",
	Long: `codegraph parses Python, Go, JavaScript, TypeScript, C, C++ and Java
sources into a property graph of files, functions, classes, variables and
imports, resolves calls and inheritance across files, and serves relationship
queries over MCP.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $CODEGRAPH_HOME/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&storePath, "db", "", "graph database path")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
}

// loadConfig reads the layered configuration and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(config.Options{ConfigFile: cfgFile})
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("db") {
		cfg.StorePath = storePath
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	// stdout carries the MCP stream
	slog.SetDefault(cfg.NewLogger(os.Stderr))
	return cfg, nil
}

func builderOptions(cfg *config.Config, dependency bool) builder.Options {
	return builder.Options{
		Concurrency:   cfg.Builder.Concurrency,
		MaxFileSize:   cfg.Builder.MaxFileSize,
		Excludes:      cfg.Builder.Excludes,
		FullReResolve: cfg.Builder.FullReResolve,
		IsDependency:  dependency,
	}
}

// openBuilder opens the store and returns a builder over the real filesystem.
func openBuilder(cmd *cobra.Command, cfg *config.Config) (*graph.Store, *builder.Builder, error) {
	store, err := graph.Open(cmd.Context(), cfg.StorePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open graph store: %w", err)
	}
	b := builder.New(store, afero.NewOsFs(), parser.DefaultRegistry(), builderOptions(cfg, false))
	return store, b, nil
}
