package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/webship/internal/foundation/errors"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("version: \"1.0\"\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 2, cfg.Scheduler.Workers)
	assert.Equal(t, RetryBackoffExponential, cfg.Fetch.RetryBackoff)
	assert.Equal(t, 2*time.Minute, cfg.Fetch.TimeoutDuration())
	assert.Equal(t, "build/web", cfg.Toolchain.OutputDir)
	require.Len(t, cfg.Toolchain.Steps, 2)
	assert.Equal(t, "dependencies", cfg.Toolchain.Steps[0].Name)
	assert.Equal(t, "compile", cfg.Toolchain.Steps[1].Name)
	assert.Equal(t, 10*time.Minute, cfg.Toolchain.Steps[0].TimeoutDuration())
	assert.Equal(t, LogFormatText, cfg.Monitoring.Logging.Format)
}

func TestParseNormalizesEnumsAndExpandsEnv(t *testing.T) {
	t.Setenv("WEBSHIP_TEST_TOKEN", "s3cret")
	raw := `
fetch:
  retry_backoff: " LINEAR "
credentials:
  token: ${WEBSHIP_TEST_TOKEN}
monitoring:
  logging:
    level: DEBUG
    format: Json
storage:
  public_base_url: https://cdn.example.com/sites/
`
	cfg, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, RetryBackoffLinear, cfg.Fetch.RetryBackoff)
	assert.Equal(t, LogLevelDebug, cfg.Monitoring.Logging.Level)
	assert.Equal(t, LogFormatJSON, cfg.Monitoring.Logging.Format)
	assert.Equal(t, "s3cret", cfg.Credentials.Token)
	assert.Equal(t, "https://cdn.example.com/sites", cfg.Storage.PublicBaseURL)
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"version", "version: \"9\"\n"},
		{"backoff", "fetch:\n  retry_backoff: sometimes\n"},
		{"duration", "fetch:\n  timeout: soon\n"},
		{"duplicate step", "toolchain:\n  steps:\n    - {name: a, command: x}\n    - {name: a, command: y}\n"},
		{"missing command", "toolchain:\n  steps:\n    - {name: a}\n"},
		{"absolute output", "toolchain:\n  output_dir: /tmp/out\n"},
		{"nats url", "notify:\n  nats:\n    enabled: true\n"},
		{"same dirs", "storage:\n  workspace_dir: ./x\n  publish_dir: ./x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig), "got %v", err)
		})
	}
}

func TestInitWritesLoadableExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webship.yaml")
	require.NoError(t, Init(path, false))
	require.Error(t, Init(path, false))
	require.NoError(t, Init(path, true))

	t.Setenv("GIT_TOKEN", "tok")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tok", cfg.Credentials.Token)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webship.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  workers: 1\n"), 0o600))

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(_ context.Context, cfg *Config) error {
		reloaded <- cfg
		return nil
	})
	require.NoError(t, err)
	w.debounceTime = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  workers: 4\n"), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 4, cfg.Scheduler.Workers)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
