package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(dir), cfg)
	assert.Equal(t, 30*time.Second, cfg.Engine.IdleTimeout)
	assert.Equal(t, filepath.Join(dir, ".codemodctl"), cfg.StateDir)
}

func TestLoadFileEnvAndDotenv(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, FileName, `
engine:
  command: /opt/engine
  idle_timeout: 5s
  queue_limit: 2
  args: ["--telemetry-disable"]
run:
  include: ["src/**/*.ts"]
  threads: 8
  cache: false
log_mode: prod
`)
	write(t, dir, ".env", "CODEMOD_QUEUE_LIMIT=3\nCODEMOD_LOG_MODE=dev\n")
	t.Setenv("CODEMOD_LOG_MODE", "prod")
	t.Setenv("CODEMOD_STATE_DIR", "/var/state")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/opt/engine", cfg.Engine.Command)
	assert.Equal(t, 5*time.Second, cfg.Engine.IdleTimeout)
	assert.Equal(t, 3, cfg.Engine.QueueLimit)
	assert.Equal(t, "prod", cfg.LogMode)
	assert.Equal(t, "/var/state", cfg.StateDir)

	opts := cfg.EngineOptions()
	assert.Equal(t, []string{"src/**/*.ts"}, opts.Settings.IncludePatterns)
	assert.Equal(t, 8, opts.Settings.ThreadCount)
	assert.False(t, opts.Settings.Cache)
	assert.True(t, opts.Settings.Format)
	assert.Equal(t, []string{"--telemetry-disable"}, opts.Settings.ExtraArgs)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "bad glob", yaml: "run:\n  include: [\"src/[\"]\n"},
		{name: "negative queue", yaml: "engine:\n  queue_limit: -1\n"},
		{name: "zero timeout", yaml: "engine:\n  idle_timeout: 0s\n"},
		{name: "bad env duration", env: map[string]string{"CODEMOD_IDLE_TIMEOUT": "soon"}},
		{name: "bad env limit", env: map[string]string{"CODEMOD_QUEUE_LIMIT": "many"}},
		{name: "broken yaml", yaml: "engine: [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			if tc.yaml != "" {
				write(t, dir, FileName, tc.yaml)
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(dir)
			assert.Error(t, err)
		})
	}
}

func TestValidateErrInvalid(t *testing.T) {
	cfg := Default("/w")
	cfg.Engine.Command = ""
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
}
