package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/cortex/internal/agent/core"
	"github.com/mohammad-safakhou/cortex/internal/runtime"
)

func runCMD(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [request]",
		Short: "Answer one request, or read requests from stdin when none is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := runtime.SignalContext(cmd.Context())
			defer stop()

			tel := runtime.SetupTelemetry(cfg.Telemetry, "cortex", logger)
			defer tel.Shutdown(context.Background())

			agent, err := runtime.BuildAgent(ctx, cfg, logger, tel, runtime.AgentOptions{})
			if err != nil {
				return err
			}
			defer agent.Close()

			out := cmd.OutOrStdout()
			if len(args) > 0 {
				return answer(ctx, agent, strings.Join(args, " "), out, logger)
			}
			return repl(ctx, agent, cmd.InOrStdin(), out, logger)
		},
	}
	return cmd
}

func answer(ctx context.Context, agent *runtime.Agent, input string, out io.Writer, logger *zap.Logger) error {
	res, err := agent.Run(ctx, input)
	switch {
	case errors.Is(err, core.ErrInputRejected):
		fmt.Fprintf(out, "Request rejected: %v\n", err)
		return nil
	case err != nil:
		return err
	}
	logger.Info("run finished",
		zap.String("session", res.SessionID),
		zap.String("state", string(res.State)),
		zap.Int("steps", len(res.Steps)),
		zap.Duration("took", res.Duration),
	)
	fmt.Fprintln(out, res.Answer)
	return nil
}

// repl answers one request per line until EOF or "exit".
func repl(ctx context.Context, agent *runtime.Agent, in io.Reader, out io.Writer, logger *zap.Logger) error {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := answer(ctx, agent, line, out, logger); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
}
