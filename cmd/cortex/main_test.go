package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const testConfig = `
general:
  log_level: error
servers:
  - id: missing
    command: ./definitely-not-a-binary
server:
  jwt_secret: cli-secret
memory:
  backend: inmemory
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cortex.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	cfg := writeConfig(t, testConfig)
	out, err := execute(t, tokenCMD(&cfg), "--subject", "ops", "--scope", "catalog:reload")
	require.NoError(t, err)

	tok, err := jwt.Parse(strings.TrimSpace(out), func(*jwt.Token) (any, error) { return []byte("cli-secret"), nil })
	require.NoError(t, err)
	claims := tok.Claims.(jwt.MapClaims)
	require.Equal(t, "ops", claims["sub"])
	require.Equal(t, []any{"catalog:reload"}, claims["scopes"])

	_, err = execute(t, tokenCMD(&cfg))
	require.Error(t, err)
}

func TestTokenCommandWithoutSecret(t *testing.T) {
	cfg := writeConfig(t, "memory:\n  backend: inmemory\n")
	_, err := execute(t, tokenCMD(&cfg), "--subject", "ops")
	require.ErrorContains(t, err, "jwt secret")
}

func TestMigrateRequiresPostgres(t *testing.T) {
	cfg := writeConfig(t, testConfig)
	_, err := execute(t, migrateCMD(&cfg))
	require.ErrorContains(t, err, "postgres not configured")
}

func TestCheckReportsDeadServers(t *testing.T) {
	cfg := writeConfig(t, testConfig)
	out, err := execute(t, checkCMD(&cfg))
	require.ErrorContains(t, err, "no capability server is live")
	require.Contains(t, out, "missing")
	require.Contains(t, out, "FAILED")
	require.Contains(t, out, "0/1 servers")
}
