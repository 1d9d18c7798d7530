// Command docserver serves document search and web page conversion over
// stdio.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/cortex/config"
	"github.com/mohammad-safakhou/cortex/internal/mcp/tools/docs"
	"github.com/mohammad-safakhou/cortex/internal/runtime"
)

var version = "dev"

func main() {
	var (
		logLevel string
		dir      string
	)
	cmd := &cobra.Command{
		Use:          "docserver",
		Short:        "Document capability server (stdio)",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := runtime.NewLogger(config.GeneralConfig{LogLevel: logLevel, LogFormat: "json"})
			if err != nil {
				return err
			}
			defer logger.Sync()

			idx, files, err := docs.LoadCorpus(dir)
			if err != nil {
				return err
			}
			defer idx.Close()
			logger.Info("documents indexed", zap.String("dir", dir), zap.Int("files", files), zap.Int("passages", idx.Len()))

			ctx, stop := runtime.SignalContext(cmd.Context())
			defer stop()
			return docs.NewServer(version, idx, logger).Serve(ctx, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (logs go to stderr)")
	cmd.Flags().StringVar(&dir, "dir", "documents", "directory of documents to index")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
