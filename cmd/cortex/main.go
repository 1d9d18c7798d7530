package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/cortex/config"
	"github.com/mohammad-safakhou/cortex/internal/runtime"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	root := &cobra.Command{
		Use:          "cortex",
		Short:        "Bounded agent control core over MCP capability servers",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ./config and .)")
	root.AddCommand(runCMD(&cfgPath), checkCMD(&cfgPath), serveCMD(&cfgPath), migrateCMD(&cfgPath), tokenCMD(&cfgPath))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and the process logger.
func setup(cfgPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := runtime.NewLogger(cfg.General)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, logger, nil
}
