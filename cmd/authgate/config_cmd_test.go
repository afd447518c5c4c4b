// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authgate Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const validConfigYAML = `
jwt:
  secret_key: "0123456789abcdef0123456789abcdef"
  issuer: authgate
  audience: shop
database:
  url: postgres://app:hunter2@db:5432/authgate
`

func runConfigCmd(t *testing.T, file string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DATABASE_URL", "")

	configFile = ""
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	all := []string{"config"}
	all = append(all, args...)
	if file != "" {
		all = append(all, "--config", file)
	}
	cmd.SetArgs(all)
	err := cmd.Execute()
	return buf.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestConfigPrint_RedactsSecrets(t *testing.T) {
	out, err := runConfigCmd(t, writeConfig(t, validConfigYAML), "print")
	require.NoError(t, err)

	assert.NotContains(t, out, "0123456789abcdef0123456789abcdef")
	assert.NotContains(t, out, "hunter2")

	var printed map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &printed))
	jwt, ok := printed["jwt"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "authgate", jwt["issuer"])
	assert.Equal(t, 15, jwt["expiration_minutes"])
}

func TestConfigValidate(t *testing.T) {
	out, err := runConfigCmd(t, writeConfig(t, validConfigYAML), "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")

	_, err = runConfigCmd(t, writeConfig(t, "jwt:\n  issuer: authgate\n"), "validate")
	require.Error(t, err)
}

func TestConfigValidate_RejectsUnknownKeys(t *testing.T) {
	_, err := runConfigCmd(t, writeConfig(t, validConfigYAML+"bogus: true\n"), "validate")
	require.Error(t, err)
}
