package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"codegraph/internal/builder"
)

var indexCmd = &cobra.Command{
	Use:   "index <path>",
	Short: "Index a directory or file and print the build summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, b, err := openBuilder(cmd, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		sum, err := b.Build(cmd.Context(), args[0], func(p builder.Progress) {
			slog.Debug("indexed", "file", p.Current, "processed", p.Processed, "total", p.Total)
		})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("codegraph", version)
	},
}

func init() {
	rootCmd.AddCommand(indexCmd, versionCmd)
}
