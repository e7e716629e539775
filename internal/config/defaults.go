package config

import "strings"

// normalize case-folds enumerations so validation sees canonical values.
// Unknown values are left as-is for Validate to report.
func normalize(cfg *Config) {
	if m := NormalizeRetryBackoff(string(cfg.Fetch.RetryBackoff)); m != "" {
		cfg.Fetch.RetryBackoff = m
	}
	if l := NormalizeLogLevel(string(cfg.Monitoring.Logging.Level)); l != "" {
		cfg.Monitoring.Logging.Level = l
	}
	if f := NormalizeLogFormat(string(cfg.Monitoring.Logging.Format)); f != "" {
		cfg.Monitoring.Logging.Format = f
	}
	cfg.Storage.PublicBaseURL = strings.TrimRight(cfg.Storage.PublicBaseURL, "/")
	cfg.HTTP.Addr = strings.TrimSpace(cfg.HTTP.Addr)
}

// DefaultSteps is the toolchain used when none is configured: dependency
// resolution, then web compilation.
func DefaultSteps() []StepConfig {
	return []StepConfig{
		{Name: "dependencies", Command: "flutter", Args: []string{"pub", "get"}, Timeout: "10m"},
		{Name: "compile", Command: "flutter", Args: []string{"build", "web", "--release"}, Timeout: "30m"},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.ShutdownTimeout == "" {
		cfg.HTTP.ShutdownTimeout = "10s"
	}

	if cfg.Storage.Database == "" {
		cfg.Storage.Database = "./webship.db"
	}
	if cfg.Storage.WorkspaceDir == "" {
		cfg.Storage.WorkspaceDir = "./workspaces"
	}
	if cfg.Storage.PublishDir == "" {
		cfg.Storage.PublishDir = "./sites"
	}
	if cfg.Storage.PublicBaseURL == "" {
		cfg.Storage.PublicBaseURL = "http://localhost:8080"
	}

	if cfg.Scheduler.Workers <= 0 {
		cfg.Scheduler.Workers = 2
	}
	if cfg.Scheduler.JournalBuffer <= 0 {
		cfg.Scheduler.JournalBuffer = 256
	}

	if cfg.Fetch.Timeout == "" {
		cfg.Fetch.Timeout = "2m"
	}
	if cfg.Fetch.MaxRetries == 0 {
		cfg.Fetch.MaxRetries = 3
	}
	if cfg.Fetch.RetryBackoff == "" {
		cfg.Fetch.RetryBackoff = RetryBackoffExponential
	}
	if cfg.Fetch.RetryInitialDelay == "" {
		cfg.Fetch.RetryInitialDelay = "2s"
	}
	if cfg.Fetch.RetryMaxDelay == "" {
		cfg.Fetch.RetryMaxDelay = "30s"
	}

	if len(cfg.Toolchain.Steps) == 0 {
		cfg.Toolchain.Steps = DefaultSteps()
	}
	for i := range cfg.Toolchain.Steps {
		if cfg.Toolchain.Steps[i].Timeout == "" {
			cfg.Toolchain.Steps[i].Timeout = "15m"
		}
	}
	if cfg.Toolchain.OutputDir == "" {
		cfg.Toolchain.OutputDir = "build/web"
	}
	if cfg.Toolchain.KillGrace == "" {
		cfg.Toolchain.KillGrace = "5s"
	}

	if cfg.Broadcast.SubscriberBuffer <= 0 {
		cfg.Broadcast.SubscriberBuffer = 256
	}
	if cfg.Broadcast.Heartbeat == "" {
		cfg.Broadcast.Heartbeat = "15s"
	}

	if cfg.Janitor.Interval == "" {
		cfg.Janitor.Interval = "10m"
	}

	if cfg.Notify.NATS.Subject == "" {
		cfg.Notify.NATS.Subject = "webship.builds"
	}
	if cfg.Notify.NATS.Stream == "" {
		cfg.Notify.NATS.Stream = "WEBSHIP_BUILDS"
	}

	if cfg.Monitoring.Metrics.Path == "" {
		cfg.Monitoring.Metrics.Path = "/metrics"
	}
	if cfg.Monitoring.Health.Path == "" {
		cfg.Monitoring.Health.Path = "/health"
	}
	if cfg.Monitoring.Logging.Level == "" {
		cfg.Monitoring.Logging.Level = LogLevelInfo
	}
	if cfg.Monitoring.Logging.Format == "" {
		cfg.Monitoring.Logging.Format = LogFormatText
	}
}
