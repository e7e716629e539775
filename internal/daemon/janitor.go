package daemon

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/webship/internal/foundation/errors"
	"git.home.luguber.info/inful/webship/internal/logfields"
)

// WorkspaceSweeper removes build workspaces that no build owns.
type WorkspaceSweeper interface {
	Sweep(keep func(buildID string) bool) ([]string, error)
}

// ReleasePruner removes published releases that are neither live nor in flight.
type ReleasePruner interface {
	Sites() ([]string, error)
	Prune(slug string, keep func(release string) bool) ([]string, error)
}

// SweepResult counts what one janitor pass removed.
type SweepResult struct {
	Workspaces int
	Releases   int
}

// Janitor periodically clears stale workspaces and superseded releases.
// Anything belonging to a queued or running build is left alone.
type Janitor struct {
	scheduler  gocron.Scheduler
	interval   time.Duration
	workspaces WorkspaceSweeper
	releases   ReleasePruner
	owns       func(buildID string) bool
}

// NewJanitor creates a janitor that runs every interval once started.
func NewJanitor(interval time.Duration, workspaces WorkspaceSweeper, releases ReleasePruner, owns func(string) bool) (*Janitor, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	if owns == nil {
		owns = func(string) bool { return false }
	}
	return &Janitor{
		scheduler:  s,
		interval:   interval,
		workspaces: workspaces,
		releases:   releases,
		owns:       owns,
	}, nil
}

// Start schedules the periodic sweep.
func (j *Janitor) Start() error {
	_, err := j.scheduler.NewJob(
		gocron.DurationJob(j.interval),
		gocron.NewTask(func() { j.Sweep() }),
		gocron.WithName("janitor-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create janitor job: %w", err)
	}
	slog.Info("Starting janitor", logfields.Duration(j.interval))
	j.scheduler.Start()
	return nil
}

// Stop waits for a running sweep and stops scheduling new ones.
func (j *Janitor) Stop() error {
	slog.Info("Stopping janitor")
	return j.scheduler.Shutdown()
}

// Sweep runs one pass immediately.
func (j *Janitor) Sweep() SweepResult {
	var res SweepResult

	removed, err := j.workspaces.Sweep(j.owns)
	if err != nil {
		if errors.GetSeverity(err) == errors.SeverityWarning {
			slog.Warn("Workspace sweep incomplete", logfields.Error(err))
		} else {
			slog.Error("Workspace sweep failed", logfields.Error(err))
		}
	}
	res.Workspaces = len(removed)

	slugs, err := j.releases.Sites()
	if err != nil {
		slog.Warn("Failed to list published sites", logfields.Error(err))
	}
	keep := func(release string) bool { return j.owns(filepath.Base(release)) }
	for _, slug := range slugs {
		pruned, err := j.releases.Prune(slug, keep)
		if err != nil {
			slog.Warn("Release prune failed", slog.String("slug", slug), logfields.Error(err))
			continue
		}
		res.Releases += len(pruned)
	}

	if res.Workspaces > 0 || res.Releases > 0 {
		slog.Info("Janitor sweep finished", slog.Int("workspaces", res.Workspaces), slog.Int("releases", res.Releases))
	}
	return res
}
