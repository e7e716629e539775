package commands

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/webship/internal/config"
	"git.home.luguber.info/inful/webship/internal/foundation/errors"
)

// Global context passed to subcommands.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags - used by commands that need access to root config.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"webship.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Daemon  DaemonCmd  `cmd:"" help:"Serve the build API and run queued builds"`
	Init    InitCmd    `cmd:"" help:"Initialize a new configuration file"`
	Build   BuildCmd   `cmd:"" help:"Fetch, build and publish one repository locally, then exit"`
	Recover RecoverCmd `cmd:"" help:"Settle builds interrupted by a crash, then exit"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply(g *Global) error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	g.Logger = logger
	return nil
}

// loadConfig reads the configuration file and switches logging to its
// settings. With allowMissing a missing file yields the defaults.
func loadConfig(g *Global, root *CLI, allowMissing bool) (*config.Config, error) {
	cfg, err := config.Load(root.Config)
	if err != nil {
		if !allowMissing || !isMissingFile(root.Config) {
			return nil, err
		}
		slog.Info("No configuration file, using defaults", "path", root.Config)
		cfg = config.Default()
	}

	logging := cfg.Monitoring.Logging
	if root.Verbose {
		logging.Level = config.LogLevelDebug
	}
	logger := logging.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	if g != nil {
		g.Logger = logger
	}
	return cfg, nil
}

func isMissingFile(path string) bool {
	_, err := os.Stat(path)
	return os.IsNotExist(err)
}

func usageError(msg string) error {
	return errors.ValidationError(msg).Build()
}
