package daemon

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/webship/internal/api"
	"git.home.luguber.info/inful/webship/internal/broadcast"
	"git.home.luguber.info/inful/webship/internal/config"
	"git.home.luguber.info/inful/webship/internal/foundation/errors"
	"git.home.luguber.info/inful/webship/internal/git"
	"git.home.luguber.info/inful/webship/internal/identity"
	"git.home.luguber.info/inful/webship/internal/logfields"
	"git.home.luguber.info/inful/webship/internal/metrics"
	"git.home.luguber.info/inful/webship/internal/notify"
	"git.home.luguber.info/inful/webship/internal/publish"
	"git.home.luguber.info/inful/webship/internal/queue"
	"git.home.luguber.info/inful/webship/internal/store"
	"git.home.luguber.info/inful/webship/internal/toolchain"
	"git.home.luguber.info/inful/webship/internal/workspace"
)

// Status represents the current state of the daemon
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Daemon owns every long-lived component of the build service and their
// start and stop order.
type Daemon struct {
	cfg        *config.Config
	configPath string
	status     atomic.Value // Status

	store      *store.SQLiteStore
	hub        *broadcast.Hub
	runner     *toolchain.Runner
	publisher  *publish.Publisher
	workspaces *workspace.Manager
	scheduler  *queue.Scheduler
	server     *api.Server
	janitor    *Janitor
	watcher    *config.Watcher
	notifier   *notify.Notifier
}

// New wires the daemon from cfg. configPath enables toolchain hot reload
// when non-empty.
func New(ctx context.Context, cfg *config.Config, configPath string) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.ConfigError("configuration is required").Build()
	}
	d := &Daemon{cfg: cfg, configPath: configPath}
	d.status.Store(StatusStopped)

	st, err := store.NewSQLiteStore(cfg.Storage.Database)
	if err != nil {
		return nil, err
	}
	d.store = st

	registry := prometheus.NewRegistry()
	var recorder metrics.Recorder = metrics.NoopRecorder{}
	var gatherer prometheus.Gatherer
	if cfg.Monitoring.Metrics.Enabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		recorder = metrics.NewPrometheusRecorder(registry)
		gatherer = registry
	}

	d.hub = broadcast.NewHub(st, cfg.Broadcast.SubscriberBuffer).WithRecorder(recorder)
	d.runner = toolchain.NewRunner(toolchain.PlanFromConfig(cfg.Toolchain)).WithRecorder(recorder)
	d.publisher = publish.NewPublisher(cfg.Storage.PublishDir, cfg.Storage.PublicBaseURL)
	d.workspaces = workspace.NewManager(cfg.Storage.WorkspaceDir)
	fetcher := git.NewFetcher(cfg.Fetch, identity.NewStaticSource(cfg.Credentials)).WithRecorder(recorder)

	d.scheduler = queue.New(queue.Deps{
		Store:       st,
		Fetcher:     fetcher,
		Runner:      d.runner,
		Publisher:   d.publisher,
		Workspaces:  d.workspaces,
		Broadcaster: d.hub,
		Recorder:    recorder,
	}, queue.Options{
		Workers:       cfg.Scheduler.Workers,
		JournalBuffer: cfg.Scheduler.JournalBuffer,
	})

	if cfg.Notify.NATS.Enabled {
		n, err := notify.NewNATSNotifier(ctx, cfg.Notify.NATS)
		if err != nil {
			d.closeStore()
			return nil, err
		}
		d.notifier = n
		d.hub.AddTap(n.Tap)
	}

	d.server = api.NewServer(api.Options{
		Addr:        cfg.HTTP.Addr,
		Heartbeat:   cfg.Broadcast.HeartbeatDuration(),
		HealthPath:  cfg.Monitoring.Health.Path,
		MetricsPath: cfg.Monitoring.Metrics.Path,
		Gatherer:    gatherer,
	}, d.scheduler, st, d.hub, d.publisher)

	d.janitor, err = NewJanitor(cfg.Janitor.IntervalDuration(), d.workspaces, d.publisher, d.scheduler.Owns)
	if err != nil {
		d.closeAll()
		return nil, err
	}

	if configPath != "" {
		d.watcher, err = config.NewWatcher(configPath, d.reload)
		if err != nil {
			d.closeAll()
			return nil, errors.DaemonError("failed to create config watcher").WithCause(err).Build()
		}
	}

	return d, nil
}

// Status returns the current lifecycle state.
func (d *Daemon) Status() Status { return d.status.Load().(Status) }

// Scheduler exposes the build scheduler.
func (d *Daemon) Scheduler() *queue.Scheduler { return d.scheduler }

// Handler exposes the HTTP API handler.
func (d *Daemon) Handler() http.Handler { return d.server.Handler() }

// Run recovers interrupted builds, starts every component and serves until
// ctx is cancelled or the HTTP listener fails. It then shuts everything down
// in dependency order.
func (d *Daemon) Run(ctx context.Context) error {
	d.status.Store(StatusStarting)
	slog.Info("Starting webship daemon", slog.String("addr", d.cfg.HTTP.Addr), slog.Int("workers", d.cfg.Scheduler.Workers))

	if _, err := d.scheduler.Recover(ctx); err != nil {
		d.status.Store(StatusError)
		d.closeAll()
		return err
	}
	d.scheduler.Start()
	if err := d.janitor.Start(); err != nil {
		d.status.Store(StatusError)
		_ = d.scheduler.Stop(ctx)
		d.closeAll()
		return errors.DaemonError("failed to start janitor").WithCause(err).Build()
	}
	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			slog.Warn("Configuration hot reload disabled", logfields.Error(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := d.server.Start(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.DaemonError("HTTP server failed").WithCause(err).Build()
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return d.shutdown()
	})

	d.status.Store(StatusRunning)
	slog.Info("Webship daemon running")
	err := g.Wait()
	if err != nil {
		d.status.Store(StatusError)
	} else {
		d.status.Store(StatusStopped)
	}
	return err
}

// shutdown stops intake first, then running builds, then streams and the
// listener, and finally storage.
func (d *Daemon) shutdown() error {
	d.status.Store(StatusStopping)
	slog.Info("Stopping webship daemon")

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.HTTP.ShutdownTimeoutDuration())
	defer cancel()

	var errs []error
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if err := d.janitor.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := d.scheduler.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	// Closing the hub ends open event streams so Shutdown does not wait on them.
	d.hub.Close()
	if err := d.server.Shutdown(ctx); err != nil {
		errs = append(errs, errors.DaemonError("HTTP shutdown incomplete").WithCause(err).Build())
	}
	if d.notifier != nil {
		d.notifier.Close()
	}
	d.closeStore()

	if err := stderrors.Join(errs...); err != nil {
		slog.Error("Daemon stopped with errors", logfields.Error(err))
		return err
	}
	slog.Info("Webship daemon stopped")
	return nil
}

// reload applies a changed configuration to subsequent builds. Only the
// toolchain is hot reloadable; other sections need a restart.
func (d *Daemon) reload(_ context.Context, cfg *config.Config) error {
	d.runner.SetPlan(toolchain.PlanFromConfig(cfg.Toolchain))
	slog.Info("Toolchain reloaded", slog.Int("steps", len(cfg.Toolchain.Steps)))
	if cfg.Scheduler.Workers != d.cfg.Scheduler.Workers || cfg.HTTP.Addr != d.cfg.HTTP.Addr {
		slog.Warn("Scheduler and HTTP changes take effect after a restart")
	}
	return nil
}

func (d *Daemon) closeAll() {
	if d.notifier != nil {
		d.notifier.Close()
	}
	d.hub.Close()
	d.closeStore()
}

func (d *Daemon) closeStore() {
	if err := d.store.Close(); err != nil {
		slog.Warn("Failed to close store", logfields.Error(err))
	}
}
