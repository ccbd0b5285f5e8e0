package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, secret string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "wagate.yml")
	body := fmt.Sprintf("system:\n  workdir: %s\nweb:\n  jwt_secret: %q\n", dir, secret)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		cfgFile = ""
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	p := writeConfig(t, "cli-secret")
	out, err := runCLI(t, "token", "--config", p, "--sub", "ops")
	require.NoError(t, err)

	var claims jwt.RegisteredClaims
	_, err = jwt.ParseWithClaims(strings.TrimSpace(out), &claims, func(*jwt.Token) (interface{}, error) {
		return []byte("cli-secret"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.NotNil(t, claims.ExpiresAt)
}

func TestTokenCommandWithoutSecret(t *testing.T) {
	p := writeConfig(t, "")
	_, err := runCLI(t, "token", "--config", p)
	assert.Error(t, err)
}

func TestPairRejectsExtraArgs(t *testing.T) {
	_, err := runCLI(t, "pair", "a", "b")
	assert.Error(t, err)
}
