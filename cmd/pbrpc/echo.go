package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pbrpc/client"
	"pbrpc/config"
	"pbrpc/echo"
)

var echoFlags struct {
	addr    string
	timeout time.Duration
}

var echoCmd = &cobra.Command{
	Use:   "echo [text...]",
	Short: "Call demo.EchoService/Echo and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClient(globalFlags.ConfigPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			cfg.Addr = echoFlags.addr
		}
		if globalFlags.LogLevel != "" {
			cfg.Log.Level = globalFlags.LogLevel
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), echoFlags.timeout)
		defer cancel()

		cli, err := client.DialConfig(ctx, cfg)
		if err != nil {
			return fmt.Errorf("dial %s: %w", cfg.Addr, err)
		}
		defer cli.Close()

		reply, err := echo.NewStub(cli).Echo(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), reply)
		return nil
	},
}

func init() {
	echoCmd.Flags().StringVarP(&echoFlags.addr, "addr", "a", "127.0.0.1:12345", "server address")
	echoCmd.Flags().DurationVarP(&echoFlags.timeout, "timeout", "t", 5*time.Second, "call timeout")
}
