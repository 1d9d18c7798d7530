package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/cortex/internal/runtime"
	"github.com/mohammad-safakhou/cortex/internal/server"
)

func tokenCMD(cfgPath *string) *cobra.Command {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)
	token := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the operations server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(subject) == "" {
				return errors.New("--subject is required")
			}
			cfg, logger, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer logger.Sync()
			secret, err := runtime.LoadJWTSecret(cfg)
			if err != nil {
				return err
			}
			tok, err := runtime.SignJWT(subject, secret, ttl, scopes...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	token.Flags().StringVar(&subject, "subject", "", "token subject")
	token.Flags().StringSliceVar(&scopes, "scope", []string{runtime.ScopeCatalogReload, server.ScopeRunsCreate, server.ScopeSessionsRead}, "granted scopes")
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return token
}
