package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseRun(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	root := newRootCmd()
	cmd, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestLoadConfigPreset(t *testing.T) {
	cfg, scr, err := loadConfig(parseRun(t, "--preset", "rings/varserv"))
	require.NoError(t, err)
	assert.Nil(t, scr)
	assert.Equal(t, 40000, cfg.Server.Port)
	assert.Equal(t, 5.0, cfg.TerminateTime)
	assert.True(t, cfg.RealTime)
	assert.Equal(t, "rings", cfg.Scenario.Mode)
}

func TestLoadConfigFlagsOverridePreset(t *testing.T) {
	cfg, _, err := loadConfig(parseRun(t, "--preset", "rings/varserv", "--port", "0", "--terminate", "1.5"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Server.Port)
	assert.Equal(t, 1.5, cfg.TerminateTime)
	assert.True(t, cfg.RealTime)
}

func TestLoadConfigScriptDirectives(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.txt")
	require.NoError(t, os.WriteFile(path, []byte(
		"var_server_set_port(41000)\nvar_binary()\nexec_set_terminate_time(2.5)\ndyn.fluid.BOUND = 300\n"), 0644))

	cfg, scr, err := loadConfig(parseRun(t, "--script", path))
	require.NoError(t, err)
	require.NotNil(t, scr)
	assert.Equal(t, 41000, cfg.Server.Port)
	assert.Equal(t, "binary", cfg.Server.Mode)
	assert.Equal(t, 2.5, cfg.TerminateTime)
	assert.Len(t, scr.Assignments, 1)

	cfg, _, err = loadConfig(parseRun(t, "--script", path, "--port", "0", "--mode", "ascii"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Server.Port)
	assert.Equal(t, "ascii", cfg.Server.Mode)
}

func TestLoadConfigRecord(t *testing.T) {
	dir := t.TempDir()
	cfg, _, err := loadConfig(parseRun(t, "--data", dir, "--record", "--record-every", "5"))
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Record.Dir)
	assert.Equal(t, 5, cfg.Record.Every)
	assert.NotEmpty(t, cfg.Record.Vars)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"preset without scenario", []string{"--preset", "varserv"}},
		{"unknown preset", []string{"--preset", "rings/nope"}},
		{"missing config", []string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}},
		{"missing script", []string{"--script", filepath.Join(t.TempDir(), "missing.txt")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := loadConfig(parseRun(t, tt.args...))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigInvalidRejectedByValidate(t *testing.T) {
	cfg, _, err := loadConfig(parseRun(t, "--port", "70000"))
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())
}
