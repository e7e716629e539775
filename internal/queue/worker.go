package queue

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/webship/internal/build"
	"git.home.luguber.info/inful/webship/internal/foundation/errors"
	"git.home.luguber.info/inful/webship/internal/git"
	"git.home.luguber.info/inful/webship/internal/logfields"
	"git.home.luguber.info/inful/webship/internal/store"
)

// Progress milestones. Toolchain steps share the span between building and
// publishing evenly.
const (
	progressFetching   = 5
	progressBuilding   = 20
	progressStepsSpan  = 60
	progressPublishing = 85
	progressStaged     = 90
)

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	slog.Debug("Build worker started", logfields.Worker(id))
	for a := range s.work {
		s.execute(a, id)
		s.release(a)
	}
	slog.Debug("Build worker stopped", logfields.Worker(id))
}

// execute runs one build to a terminal status.
func (s *Scheduler) execute(a *activeBuild, worker int) {
	defer a.cancel(nil)
	j := newJournal(a.appID, a.buildID, s.deps.Store, s.deps.Broadcaster, s.deps.Recorder, s.journal)

	slog.Info("Build started", logfields.BuildID(a.buildID), logfields.AppID(a.appID), logfields.Worker(worker))
	err := s.runPipeline(a.ctx, a, j)
	final := s.conclude(a, j, err)
	j.Close()

	if rmErr := s.deps.Workspaces.Remove(a.buildID); rmErr != nil {
		slog.Warn("Failed to remove workspace", logfields.BuildID(a.buildID), logfields.Error(rmErr))
	}
	if final == nil {
		return
	}
	s.recordOutcome(final)
	attrs := []any{
		logfields.BuildID(final.ID),
		logfields.AppID(final.AppID),
		logfields.Status(string(final.Status)),
		logfields.Duration(time.Since(a.started)),
	}
	if final.Status == build.StatusSucceeded {
		slog.Info("Build finished", attrs...)
		return
	}
	slog.Warn("Build finished", append(attrs, logfields.ErrorKind(final.ErrorKind), slog.String("error", final.Error))...)
}

// runPipeline drives Fetching, Building and Publishing. It returns nil only
// once the build is recorded as Succeeded.
func (s *Scheduler) runPipeline(ctx context.Context, a *activeBuild, j *journal) error {
	b, err := s.deps.Store.GetBuild(ctx, a.buildID)
	if err != nil {
		return err
	}
	app, err := s.deps.Store.GetApplication(ctx, b.AppID)
	if err != nil {
		return err
	}
	if _, err := j.Transition(build.StatusFetching, store.TransitionOptions{Progress: progressFetching}); err != nil {
		return err
	}

	dir, err := s.deps.Workspaces.Create(b.ID)
	if err != nil {
		return err
	}
	j.System("", fmt.Sprintf("Fetching %s (branch %s)", app.RepoURL, b.Branch))
	src, err := s.deps.Fetcher.Fetch(ctx, git.Request{
		RepoURL: app.RepoURL,
		Branch:  b.Branch,
		Commit:  b.PinnedCommit,
		Dir:     dir,
	})
	if err != nil {
		return err
	}
	j.System("", "Checked out "+src.Commit)
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if _, err := j.Transition(build.StatusBuilding, store.TransitionOptions{Progress: progressBuilding, Commit: src.Commit}); err != nil {
		return err
	}

	out, err := s.deps.Runner.Run(ctx, dir, &stepSink{j: j})
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if _, err := j.Transition(build.StatusPublishing, store.TransitionOptions{Progress: progressPublishing}); err != nil {
		return err
	}
	return s.publish(ctx, app, b, src.Commit, out.OutputDir, j)
}

// publish stages the output, then swaps it live. Cancellation is honoured up
// to the swap; after it the build can only succeed.
func (s *Scheduler) publish(ctx context.Context, app *build.Application, b *build.Build, commit, outputDir string, j *journal) error {
	discard := func() {
		if err := s.deps.Publisher.Discard(app.Slug, b.ID); err != nil {
			slog.Warn("Failed to discard release", logfields.BuildID(b.ID), logfields.Error(err))
		}
	}

	if _, err := s.deps.Publisher.Stage(ctx, app.Slug, b.ID, outputDir); err != nil {
		discard()
		return err
	}
	j.Progress(progressStaged)
	if ctx.Err() != nil {
		discard()
		return context.Cause(ctx)
	}

	art, err := s.deps.Publisher.Promote(app.Slug, b.ID)
	if err != nil {
		discard()
		return err
	}
	j.System("", "Published to "+art.URL)
	if _, err := j.Transition(build.StatusSucceeded, store.TransitionOptions{
		Commit:       commit,
		ArtifactPath: art.Path,
		ArtifactURL:  art.URL,
	}); err != nil {
		// The live link moved without a record; put the previous release back.
		if rerr := s.deps.Publisher.Restore(app.Slug, art.Previous); rerr != nil {
			slog.Error("Failed to restore previous release", logfields.AppID(app.ID), logfields.Error(rerr))
		}
		discard()
		return errors.PublishFailed("failed to record published artifact").WithCause(err).Build()
	}

	if removed, err := s.deps.Publisher.Collect(app.Slug); err != nil {
		slog.Warn("Failed to collect superseded releases", logfields.AppID(app.ID), logfields.Error(err))
	} else if len(removed) > 0 {
		slog.Debug("Collected superseded releases", logfields.AppID(app.ID), slog.Int("count", len(removed)))
	}
	return nil
}

// conclude records the terminal status for a failed pipeline run and returns
// the final build. A nil err means the build already succeeded.
func (s *Scheduler) conclude(a *activeBuild, j *journal, err error) *build.Build {
	if err == nil {
		b, gerr := s.deps.Store.GetBuild(context.Background(), a.buildID)
		if gerr != nil {
			return nil
		}
		return b
	}

	to := build.StatusFailed
	reason := err
	if a.ctx.Err() != nil {
		cause := context.Cause(a.ctx)
		if stderrors.Is(cause, errCancelRequested) {
			to = build.StatusCancelled
			reason = errors.Cancelled("build cancelled by request").Build()
		} else {
			reason = errors.WorkerLost("worker stopped before the build finished").WithCause(cause).Build()
		}
	} else if !errors.IsClassified(err) {
		reason = errors.InternalError("build failed").WithCause(err).Build()
	}

	if to == build.StatusFailed {
		j.System("", "Build failed: "+reason.Error())
	} else {
		j.System("", "Build cancelled")
	}
	b, terr := j.Transition(to, store.TransitionOptions{Err: reason})
	if terr != nil {
		return nil
	}
	return b
}

// stepSink adapts toolchain callbacks to the build journal.
type stepSink struct {
	j *journal
}

func (k *stepSink) StepStarted(index, total int, step string) {
	k.j.System(step, fmt.Sprintf("==> [%d/%d] %s", index+1, total, step))
}

func (k *stepSink) Line(step, stream, text string) {
	k.j.Log(step, stream, text)
}

func (k *stepSink) StepFinished(index, total int, step string, err error, elapsed time.Duration) {
	if err != nil {
		k.j.System(step, fmt.Sprintf("<== %s failed (%s) after %s", step, exitStatus(err), elapsed.Round(time.Millisecond)))
		return
	}
	k.j.System(step, fmt.Sprintf("<== %s finished (exit code 0) in %s", step, elapsed.Round(time.Millisecond)))
	if total > 0 {
		k.j.Progress(progressBuilding + progressStepsSpan*(index+1)/total)
	}
}

// exitStatus describes how a failed step ended.
func exitStatus(err error) string {
	if errors.HasKind(err, errors.KindStepTimeout) {
		return "timeout"
	}
	if ce, ok := errors.AsClassified(err); ok {
		if code, ok := ce.Context()["exit_code"]; ok {
			return fmt.Sprintf("exit code %v", code)
		}
	}
	if !errors.IsClassified(err) {
		// Cancellation causes are plain errors.
		return "interrupted"
	}
	return "error"
}
