package queue

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/webship/internal/build"
	"git.home.luguber.info/inful/webship/internal/foundation/errors"
	"git.home.luguber.info/inful/webship/internal/logfields"
	"git.home.luguber.info/inful/webship/internal/metrics"
	"git.home.luguber.info/inful/webship/internal/store"
)

var (
	errCancelRequested = stderrors.New("build cancelled by request")
	errShutdown        = stderrors.New("scheduler shutting down")
)

// Deps are the collaborators a Scheduler drives.
type Deps struct {
	Store       Store
	Fetcher     Fetcher
	Runner      Runner
	Publisher   Publisher
	Workspaces  Workspaces
	Broadcaster Broadcaster
	Recorder    metrics.Recorder
}

// Options tune the scheduler.
type Options struct {
	// Workers is the number of builds that may run at once across all applications.
	Workers int
	// JournalBuffer bounds the per-build queue of pending record writes.
	JournalBuffer int
}

// SubmitOptions override the application's defaults for one build.
type SubmitOptions struct {
	Branch string
	Commit string
}

// Stats is a point-in-time view of scheduler occupancy.
type Stats struct {
	Workers int `json:"workers"`
	Busy    int `json:"busy"`
	Queued  int `json:"queued"`
}

type pendingBuild struct {
	buildID string
	appID   string
	// held keeps the build out of dispatch until its Queued event is out.
	held bool
}

type activeBuild struct {
	buildID string
	appID   string
	ctx     context.Context
	cancel  context.CancelCauseFunc
	started time.Time
}

// Scheduler admits builds into per-application lanes and runs them on a
// bounded worker pool.
type Scheduler struct {
	deps    Deps
	workers int
	journal int

	ctx  context.Context
	stop context.CancelCauseFunc

	mu         sync.Mutex
	pending    []pendingBuild
	running    map[string]*activeBuild // by build id
	activeApps map[string]string       // app id -> running build id
	busy       int
	closed     bool
	started    bool

	work chan *activeBuild
	wg   sync.WaitGroup
}

// New creates a scheduler. Call Recover before Start to settle builds left
// behind by a previous process.
func New(deps Deps, opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.NoopRecorder{}
	}
	ctx, stop := context.WithCancelCause(context.Background())
	return &Scheduler{
		deps:       deps,
		workers:    opts.Workers,
		journal:    opts.JournalBuffer,
		ctx:        ctx,
		stop:       stop,
		running:    make(map[string]*activeBuild),
		activeApps: make(map[string]string),
		work:       make(chan *activeBuild, opts.Workers),
	}
}

// Start launches the worker pool.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	slog.Info("Starting build scheduler", slog.Int("workers", s.workers))
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Stop stops admitting builds, fails queued builds and interrupts running
// ones with WorkerLost, then waits for the workers to record their outcome
// or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	queued := s.pending
	s.pending = nil
	close(s.work)
	if !s.started {
		// No worker will ever pick these up.
		for a := range s.work {
			queued = append(queued, pendingBuild{buildID: a.buildID, appID: a.appID})
		}
	}
	s.updateGaugesLocked()
	s.mu.Unlock()

	slog.Info("Stopping build scheduler", slog.Int("queued", len(queued)))
	for _, p := range queued {
		s.failLost(ctx, p.buildID, "scheduler stopped before the build started")
	}
	s.stop(errShutdown)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Build scheduler stopped")
		return nil
	case <-ctx.Done():
		return errors.DaemonError("timed out waiting for running builds to stop").WithCause(ctx.Err()).Build()
	}
}

// Submit queues a build for appID. It fails with ApplicationNotFound for an
// unknown application and ApplicationInactive for a deactivated one.
func (s *Scheduler) Submit(ctx context.Context, appID string, opts SubmitOptions) (*build.Build, error) {
	app, err := s.deps.Store.GetApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	if !app.Active {
		return nil, errors.ApplicationInactive("application is inactive").WithContext("app_id", appID).Build()
	}
	if s.isClosed() {
		return nil, errors.DaemonError("scheduler is shutting down").Build()
	}

	b := &build.Build{AppID: app.ID, Branch: opts.Branch, PinnedCommit: opts.Commit}
	if b.Branch == "" {
		b.Branch = app.Branch
	}
	if err := s.deps.Store.CreateBuild(ctx, b); err != nil {
		return nil, err
	}

	// The build joins its lane before anyone can learn its id, so a Cancel
	// always finds it.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.failLost(ctx, b.ID, "scheduler stopped before the build started")
		return nil, errors.DaemonError("scheduler is shutting down").Build()
	}
	s.pending = append(s.pending, pendingBuild{buildID: b.ID, appID: b.AppID, held: true})
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.deps.Broadcaster.Publish(build.StatusEvent(b))

	s.mu.Lock()
	if s.closed {
		// Stop has already failed it along with the rest of the lane.
		s.mu.Unlock()
		return nil, errors.DaemonError("scheduler is shutting down").Build()
	}
	for i := range s.pending {
		if s.pending[i].buildID == b.ID {
			s.pending[i].held = false
			break
		}
	}
	s.dispatchLocked()
	s.mu.Unlock()

	slog.Info("Build queued", logfields.AppID(app.ID), logfields.BuildID(b.ID), logfields.Branch(b.Branch))
	return b, nil
}

// RegisterApplication stores a new application and queues its first build.
func (s *Scheduler) RegisterApplication(ctx context.Context, app *build.Application) (*build.Build, error) {
	app.Active = true
	if err := s.deps.Store.CreateApplication(ctx, app); err != nil {
		return nil, err
	}
	slog.Info("Application registered", logfields.AppID(app.ID), slog.String("slug", app.Slug), logfields.Repository(app.RepoURL))
	return s.Submit(ctx, app.ID, SubmitOptions{})
}

// Cancel stops a build. A queued build leaves its lane immediately; a running
// build is interrupted and recorded as Cancelled once its process has exited.
// Cancelling a terminal build is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, buildID string) (*build.Build, error) {
	s.mu.Lock()
	for i, p := range s.pending {
		if p.buildID != buildID {
			continue
		}
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		s.updateGaugesLocked()
		s.mu.Unlock()

		b, err := s.deps.Store.Transition(ctx, buildID, build.StatusCancelled, store.TransitionOptions{
			Err: errors.Cancelled("build cancelled before it started").Build(),
		})
		if err != nil {
			return nil, err
		}
		s.deps.Broadcaster.Publish(build.StatusEvent(b))
		s.recordOutcome(b)
		slog.Info("Queued build cancelled", logfields.BuildID(buildID), logfields.AppID(b.AppID))
		return b, nil
	}
	if a, ok := s.running[buildID]; ok {
		a.cancel(errCancelRequested)
		s.mu.Unlock()
		slog.Info("Cancellation requested", logfields.BuildID(buildID), logfields.AppID(a.appID))
		return s.deps.Store.GetBuild(ctx, buildID)
	}
	s.mu.Unlock()

	b, err := s.deps.Store.GetBuild(ctx, buildID)
	if err != nil {
		return nil, err
	}
	if !b.Status.IsTerminal() {
		slog.Warn("Cancel for a build this scheduler does not own", logfields.BuildID(buildID), logfields.Status(string(b.Status)))
	}
	return b, nil
}

// Recover fails every build a previous process left non-terminal with
// WorkerLost, sweeps stale workspaces and realigns each application's live
// artifact with its record. It must run before Start.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	stale, err := s.deps.Store.NonTerminal(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range stale {
		s.failLost(ctx, b.ID, "build interrupted by a restart")
	}

	if _, err := s.deps.Workspaces.Sweep(nil); err != nil {
		slog.Warn("Workspace sweep incomplete", logfields.Error(err))
	}

	apps, err := s.deps.Store.ListApplications(ctx)
	if err != nil {
		return len(stale), err
	}
	for _, app := range apps {
		if err := s.deps.Publisher.Restore(app.Slug, app.ArtifactPath); err != nil {
			slog.Warn("Failed to realign live artifact", logfields.AppID(app.ID), logfields.Path(app.ArtifactPath), logfields.Error(err))
			continue
		}
		if _, err := s.deps.Publisher.Collect(app.Slug); err != nil {
			slog.Warn("Failed to collect releases", logfields.AppID(app.ID), logfields.Error(err))
		}
	}
	if len(stale) > 0 {
		slog.Warn("Recovered interrupted builds", slog.Int("count", len(stale)))
	}
	return len(stale), nil
}

// Stats reports current occupancy.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Workers: s.workers, Busy: s.busy, Queued: len(s.pending)}
}

// Owns reports whether the build is queued or running in this scheduler.
func (s *Scheduler) Owns(buildID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[buildID]; ok {
		return true
	}
	for _, p := range s.pending {
		if p.buildID == buildID {
			return true
		}
	}
	return false
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// dispatchLocked hands eligible lane heads to free workers. A pending build is
// eligible when no build of its application is running and it is the head of
// its lane; scanning in submission order keeps each lane FIFO.
func (s *Scheduler) dispatchLocked() {
	for !s.closed && s.busy < s.workers {
		idx := -1
		blocked := make(map[string]bool)
		for i, p := range s.pending {
			if _, busy := s.activeApps[p.appID]; busy || blocked[p.appID] {
				continue
			}
			if p.held {
				blocked[p.appID] = true
				continue
			}
			idx = i
			break
		}
		if idx < 0 {
			break
		}
		p := s.pending[idx]
		s.pending = append(s.pending[:idx], s.pending[idx+1:]...)

		ctx, cancel := context.WithCancelCause(s.ctx)
		a := &activeBuild{buildID: p.buildID, appID: p.appID, ctx: ctx, cancel: cancel, started: time.Now()}
		s.running[p.buildID] = a
		s.activeApps[p.appID] = p.buildID
		s.busy++
		// Capacity equals the worker count, so this never blocks.
		s.work <- a
	}
	s.updateGaugesLocked()
}

func (s *Scheduler) release(a *activeBuild) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, a.buildID)
	if s.activeApps[a.appID] == a.buildID {
		delete(s.activeApps, a.appID)
	}
	s.busy--
	s.dispatchLocked()
}

func (s *Scheduler) updateGaugesLocked() {
	s.deps.Recorder.SetQueueDepth(len(s.pending))
	s.deps.Recorder.SetBusyWorkers(s.busy)
}

// failLost records WorkerLost for a build no worker will finish.
func (s *Scheduler) failLost(ctx context.Context, buildID, reason string) {
	b, err := s.deps.Store.Transition(context.WithoutCancel(ctx), buildID, build.StatusFailed, store.TransitionOptions{
		Err: errors.WorkerLost(reason).Build(),
	})
	if err != nil {
		slog.Error("Failed to record lost build", logfields.BuildID(buildID), logfields.Error(err))
		return
	}
	s.deps.Broadcaster.Publish(build.StatusEvent(b))
	s.recordOutcome(b)
	if err := s.deps.Workspaces.Remove(buildID); err != nil {
		slog.Warn("Failed to remove workspace", logfields.BuildID(buildID), logfields.Error(err))
	}
}

func (s *Scheduler) recordOutcome(b *build.Build) {
	s.deps.Recorder.IncBuildOutcome(string(b.Status), b.ErrorKind)
	if d := b.Duration(); d > 0 {
		s.deps.Recorder.ObserveBuildDuration(string(b.Status), d)
	}
}
