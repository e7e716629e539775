package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/webship/internal/foundation/errors"
)

// CurrentVersion is the only configuration schema version accepted by Load.
const CurrentVersion = "1.0"

// Config is the root of the webship configuration file.
type Config struct {
	Version     string            `yaml:"version"`
	HTTP        HTTPConfig        `yaml:"http"`
	Storage     StorageConfig     `yaml:"storage"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Fetch       FetchConfig       `yaml:"fetch"`
	Toolchain   ToolchainConfig   `yaml:"toolchain"`
	Broadcast   BroadcastConfig   `yaml:"broadcast"`
	Janitor     JanitorConfig     `yaml:"janitor"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Notify      NotifyConfig      `yaml:"notify"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
}

// HTTPConfig controls the API listener.
type HTTPConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// StorageConfig locates the database and the on-disk trees owned by the pipeline.
type StorageConfig struct {
	Database      string `yaml:"database"`
	WorkspaceDir  string `yaml:"workspace_dir"`
	PublishDir    string `yaml:"publish_dir"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// SchedulerConfig bounds global build concurrency.
type SchedulerConfig struct {
	Workers       int `yaml:"workers"`
	JournalBuffer int `yaml:"journal_buffer"`
}

// FetchConfig controls repository cloning and the retry policy for stalled transfers.
type FetchConfig struct {
	Timeout           string           `yaml:"timeout"`
	MaxRetries        int              `yaml:"max_retries"`
	RetryBackoff      RetryBackoffMode `yaml:"retry_backoff"`
	RetryInitialDelay string           `yaml:"retry_initial_delay"`
	RetryMaxDelay     string           `yaml:"retry_max_delay"`
	FullClone         bool             `yaml:"full_clone"`
}

// ToolchainConfig describes the ordered external steps run against a working copy.
type ToolchainConfig struct {
	Steps     []StepConfig `yaml:"steps"`
	OutputDir string       `yaml:"output_dir"`
	Env       []string     `yaml:"env,omitempty"`
	KillGrace string       `yaml:"kill_grace"`
}

// StepConfig is a single toolchain invocation.
type StepConfig struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
	Timeout string   `yaml:"timeout"`
}

// BroadcastConfig sizes subscriber buffers for the status stream.
type BroadcastConfig struct {
	SubscriberBuffer int    `yaml:"subscriber_buffer"`
	Heartbeat        string `yaml:"heartbeat"`
}

// JanitorConfig schedules the orphaned release and workspace sweeps.
type JanitorConfig struct {
	Interval string `yaml:"interval"`
}

// CredentialsConfig supplies clone tokens. Hosts override Token per host name.
type CredentialsConfig struct {
	Token string            `yaml:"token,omitempty"`
	Hosts map[string]string `yaml:"hosts,omitempty"`
}

// NotifyConfig configures optional out-of-process notifications.
type NotifyConfig struct {
	NATS NATSConfig `yaml:"nats"`
}

// NATSConfig configures the JetStream publisher for terminal build events.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Stream  string `yaml:"stream"`
}

// MonitoringConfig groups metrics, health and logging settings.
type MonitoringConfig struct {
	Metrics MonitoringMetrics `yaml:"metrics"`
	Health  MonitoringHealth  `yaml:"health"`
	Logging MonitoringLogging `yaml:"logging"`
}

// MonitoringMetrics represents metrics configuration
type MonitoringMetrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MonitoringHealth represents health check configuration
type MonitoringHealth struct {
	Path string `yaml:"path"`
}

// MonitoringLogging represents logging configuration
type MonitoringLogging struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// Load reads, expands, normalizes, defaults and validates a configuration file.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.ConfigError("configuration file not found").WithContext("path", configPath).Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to read config file").Fatal().Build()
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML, applying ${VAR} expansion first.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to unmarshal config").Fatal().Build()
	}
	if cfg.Version == "" {
		cfg.Version = CurrentVersion
	}
	if cfg.Version != CurrentVersion {
		return nil, ferrors.ConfigError(fmt.Sprintf("unsupported configuration version: %s (expected %s)", cfg.Version, CurrentVersion)).Build()
	}
	normalize(&cfg)
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := &Config{Version: CurrentVersion}
	applyDefaults(cfg)
	return cfg
}

// loadEnvFiles loads .env and .env.local without overriding the process environment.
func loadEnvFiles() {
	for _, p := range []string{".env", ".env.local"} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			fmt.Fprintf(os.Stderr, "Note: %s could not be loaded: %v\n", p, err)
		}
	}
}

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return ferrors.ValidationError(fmt.Sprintf("configuration file already exists: %s (use --force to overwrite)", configPath)).Build()
	}

	example := Default()
	example.Credentials.Token = "${GIT_TOKEN}"
	example.Notify.NATS.URL = "nats://127.0.0.1:4222"

	data, err := yaml.Marshal(example)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// duration parses raw, falling back to def when raw is empty or invalid.
func duration(raw string, def time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (h HTTPConfig) ShutdownTimeoutDuration() time.Duration {
	return duration(h.ShutdownTimeout, 10*time.Second)
}

func (f FetchConfig) TimeoutDuration() time.Duration { return duration(f.Timeout, 2*time.Minute) }

func (f FetchConfig) InitialDelay() time.Duration { return duration(f.RetryInitialDelay, 2*time.Second) }

func (f FetchConfig) MaxDelay() time.Duration { return duration(f.RetryMaxDelay, 30*time.Second) }

func (s StepConfig) TimeoutDuration() time.Duration { return duration(s.Timeout, 15*time.Minute) }

func (t ToolchainConfig) KillGraceDuration() time.Duration { return duration(t.KillGrace, 5*time.Second) }

func (b BroadcastConfig) HeartbeatDuration() time.Duration { return duration(b.Heartbeat, 15*time.Second) }

func (j JanitorConfig) IntervalDuration() time.Duration { return duration(j.Interval, 10*time.Minute) }
