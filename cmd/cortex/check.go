package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/cortex/internal/runtime"
)

func checkCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Launch every configured server and list its tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := runtime.SignalContext(cmd.Context())
			defer stop()

			reg, err := runtime.EnsureCapabilityRegistry(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			cat := reg.Catalog()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, st := range cat.Servers() {
				status := "ok"
				if !st.Live {
					status = "FAILED: " + st.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%d tools\n", st.Descriptor.ID, status, len(st.Tools))
				for _, name := range st.Tools {
					tool, _ := cat.Tool(name)
					if tool.ServerID != st.Descriptor.ID {
						fmt.Fprintf(w, "\t  %s\t(shadowed by %s)\n", name, tool.ServerID)
						continue
					}
					fmt.Fprintf(w, "\t  %s\t%s\n", name, tool.Description)
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "catalog v%d: %d tools from %d/%d servers\n",
				cat.Version, cat.Len(), cat.LiveServers(), len(cat.Servers()))
			if cat.LiveServers() == 0 {
				return errors.New("no capability server is live")
			}
			return nil
		},
	}
}
