package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/cortex/internal/capability"
	"github.com/mohammad-safakhou/cortex/internal/runtime"
	"github.com/mohammad-safakhou/cortex/internal/server"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the operations HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := runtime.SignalContext(cmd.Context())
			defer stop()

			secret, err := runtime.LoadJWTSecret(cfg)
			if err != nil {
				return err
			}

			tel := runtime.SetupTelemetry(cfg.Telemetry, "cortex", logger)
			defer tel.Shutdown(context.Background())

			agent, err := runtime.BuildAgent(ctx, cfg, logger, tel, runtime.AgentOptions{})
			if err != nil {
				return err
			}
			defer agent.Close()

			servers := capability.DescriptorsFromConfig(cfg.Servers)
			srv, err := server.New(server.Options{
				Registry: agent.Registry,
				Servers:  servers,
				Runner:   agent,
				Sessions: agent.Memory,
				Metrics:  tel.Metrics.Handler(),
				Secret:   secret,
				Logger:   logger.Named("http"),
			})
			if err != nil {
				return err
			}

			if spec := cfg.Capability.ReloadCron; spec != "" {
				sched, err := server.NewReloadScheduler(spec, agent.Registry, servers, logger.Named("reload"))
				if err != nil {
					return err
				}
				go sched.Run(ctx)
				logger.Info("scheduled catalog reload", zap.String("cron", spec))
			}

			if addr == "" {
				addr = cfg.Server.Address
			}
			return srv.Run(ctx, addr)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (default server.address)")
	return serve
}
