package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// GlobalFlags are shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string // JSON config file, empty uses the defaults
	LogLevel   string // overrides log.level from the config
}

var globalFlags GlobalFlags

var rootCmd = &cobra.Command{
	Use:   "pbrpc",
	Short: "Minimal protobuf RPC over length-prefixed TCP",
	Long: `pbrpc - a minimal RPC transport

Every message travels as [u32 length][u32 meta length][meta][payload] with
protobuf-encoded metadata. The server ships the demo.EchoService example.

Usage:
  pbrpc serve --port 12345 --io-threads 4
  pbrpc echo --addr 127.0.0.1:12345 hello world`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&globalFlags.ConfigPath, "config", "c", "", "JSON config file")
	rootCmd.PersistentFlags().StringVar(&globalFlags.LogLevel, "log-level", "", "log level: debug|info|warn|error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(echoCmd)
}
