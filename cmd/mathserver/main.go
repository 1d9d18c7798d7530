// Command mathserver serves the arithmetic tools over stdio.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/cortex/config"
	"github.com/mohammad-safakhou/cortex/internal/mcp/tools/calc"
	"github.com/mohammad-safakhou/cortex/internal/runtime"
)

var version = "dev"

func main() {
	var logLevel string
	cmd := &cobra.Command{
		Use:          "mathserver",
		Short:        "Arithmetic capability server (stdio)",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := runtime.NewLogger(config.GeneralConfig{LogLevel: logLevel, LogFormat: "json"})
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx, stop := runtime.SignalContext(cmd.Context())
			defer stop()
			return calc.NewServer(version, logger).Serve(ctx, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (logs go to stderr)")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
