package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "execd",
	Short: "execd - remote code execution service",
	Long: `execd runs source payloads as supervised child processes and returns their
output together with any images they produced.

It can serve the execution API over HTTP or run a single payload locally.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("loading .env file failed, skipping", "error", err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default ./execd.yaml or $HOME/.execd/execd.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
