package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	ferrors "git.home.luguber.info/inful/webship/internal/foundation/errors"
)

// Validate checks a defaulted configuration and reports every problem found.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.Scheduler.Workers < 1 {
		add("scheduler.workers must be >= 1")
	}
	if cfg.Fetch.MaxRetries < 0 {
		add("fetch.max_retries cannot be negative")
	}
	if err := retryBackoffs.check("fetch.retry_backoff", cfg.Fetch.RetryBackoff); err != nil {
		errs = append(errs, err)
	}
	checkDuration := func(field, raw string) {
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			add("%s: invalid duration %q", field, raw)
		}
	}
	checkDuration("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout)
	checkDuration("fetch.timeout", cfg.Fetch.Timeout)
	checkDuration("fetch.retry_initial_delay", cfg.Fetch.RetryInitialDelay)
	checkDuration("fetch.retry_max_delay", cfg.Fetch.RetryMaxDelay)
	checkDuration("toolchain.kill_grace", cfg.Toolchain.KillGrace)
	checkDuration("broadcast.heartbeat", cfg.Broadcast.Heartbeat)
	checkDuration("janitor.interval", cfg.Janitor.Interval)

	seen := make(map[string]bool, len(cfg.Toolchain.Steps))
	for i, s := range cfg.Toolchain.Steps {
		switch {
		case strings.TrimSpace(s.Name) == "":
			add("toolchain.steps[%d]: name is required", i)
		case seen[s.Name]:
			add("toolchain.steps[%d]: duplicate step name %q", i, s.Name)
		}
		seen[s.Name] = true
		if strings.TrimSpace(s.Command) == "" {
			add("toolchain.steps[%d]: command is required", i)
		}
		checkDuration(fmt.Sprintf("toolchain.steps[%d].timeout", i), s.Timeout)
	}
	if filepath.IsAbs(cfg.Toolchain.OutputDir) || strings.HasPrefix(filepath.Clean(cfg.Toolchain.OutputDir), "..") {
		add("toolchain.output_dir must be relative to the working copy")
	}
	for _, kv := range cfg.Toolchain.Env {
		if !strings.Contains(kv, "=") {
			add("toolchain.env: %q is not KEY=VALUE", kv)
		}
	}

	if cfg.Storage.WorkspaceDir == cfg.Storage.PublishDir {
		add("storage.workspace_dir and storage.publish_dir must differ")
	}
	if cfg.Notify.NATS.Enabled && cfg.Notify.NATS.URL == "" {
		add("notify.nats.url is required when notify.nats.enabled is true")
	}
	if err := logLevels.check("monitoring.logging.level", cfg.Monitoring.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if err := logFormats.check("monitoring.logging.format", cfg.Monitoring.Logging.Format); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}
	return ferrors.WrapError(errors.Join(errs...), ferrors.CategoryConfig, "configuration validation failed").Fatal().Build()
}
