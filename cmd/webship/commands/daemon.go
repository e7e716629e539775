package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/webship/internal/config"
	"git.home.luguber.info/inful/webship/internal/daemon"
)

// DaemonCmd implements the 'daemon' command.
type DaemonCmd struct {
	Addr    string `help:"Override http.addr"`
	Workers int    `short:"w" help:"Override scheduler.workers"`
	NoWatch bool   `name:"no-watch" help:"Disable toolchain hot reload"`
}

func (d *DaemonCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(g, root, false)
	if err != nil {
		return err
	}
	if d.Addr != "" {
		cfg.HTTP.Addr = d.Addr
	}
	if d.Workers > 0 {
		cfg.Scheduler.Workers = d.Workers
	}
	configPath := root.Config
	if d.NoWatch {
		configPath = ""
	}
	return RunDaemon(cfg, configPath)
}

// RunDaemon serves until SIGINT or SIGTERM.
func RunDaemon(cfg *config.Config, configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(ctx, cfg, configPath)
	if err != nil {
		return err
	}
	slog.Info("Daemon starting, waiting for shutdown signal...")
	return d.Run(ctx)
}
