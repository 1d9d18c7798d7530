// Command historyserver searches past sessions of the file run memory over
// stdio.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/cortex/config"
	"github.com/mohammad-safakhou/cortex/internal/mcp/tools/conversations"
	"github.com/mohammad-safakhou/cortex/internal/runtime"
)

var version = "dev"

func main() {
	var (
		logLevel string
		dir      string
	)
	cmd := &cobra.Command{
		Use:          "historyserver",
		Short:        "Conversation history capability server (stdio)",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := runtime.NewLogger(config.GeneralConfig{LogLevel: logLevel, LogFormat: "json"})
			if err != nil {
				return err
			}
			defer logger.Sync()

			archive, err := conversations.NewArchive(dir, logger)
			if err != nil {
				return err
			}
			defer archive.Close()

			ctx, stop := runtime.SignalContext(cmd.Context())
			defer stop()
			return conversations.NewServer(version, archive, logger).Serve(ctx, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (logs go to stderr)")
	cmd.Flags().StringVar(&dir, "dir", "memory", "file run memory directory to search")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
