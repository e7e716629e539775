package toolchain

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/webship/internal/build"
	"git.home.luguber.info/inful/webship/internal/config"
	"git.home.luguber.info/inful/webship/internal/foundation/errors"
	"git.home.luguber.info/inful/webship/internal/logfields"
	"git.home.luguber.info/inful/webship/internal/metrics"
)

// Step is one external command of the toolchain.
type Step struct {
	Name    string
	Command string
	Args    []string
	Timeout time.Duration
}

// Plan is the full toolchain description applied to a build. A build keeps
// the plan it started with even if the runner is reconfigured mid-run.
type Plan struct {
	Steps     []Step
	OutputDir string
	Env       []string
	KillGrace time.Duration
}

// PlanFromConfig converts the toolchain configuration section.
func PlanFromConfig(cfg config.ToolchainConfig) Plan {
	p := Plan{
		OutputDir: cfg.OutputDir,
		Env:       append([]string(nil), cfg.Env...),
		KillGrace: cfg.KillGraceDuration(),
	}
	for _, s := range cfg.Steps {
		p.Steps = append(p.Steps, Step{
			Name:    s.Name,
			Command: s.Command,
			Args:    append([]string(nil), s.Args...),
			Timeout: s.TimeoutDuration(),
		})
	}
	return p
}

// Sink receives step boundaries and output lines while a plan runs.
// Line is never called concurrently.
type Sink interface {
	StepStarted(index, total int, step string)
	Line(step, stream, text string)
	StepFinished(index, total int, step string, err error, elapsed time.Duration)
}

// Result describes a successful run.
type Result struct {
	// OutputDir is the absolute path of the static output tree.
	OutputDir string
}

// Runner executes toolchain plans.
type Runner struct {
	plan     atomic.Pointer[Plan]
	recorder metrics.Recorder
}

// NewRunner creates a runner for the given plan.
func NewRunner(p Plan) *Runner {
	r := &Runner{recorder: metrics.NoopRecorder{}}
	r.SetPlan(p)
	return r
}

// WithRecorder attaches a metrics recorder.
func (r *Runner) WithRecorder(rec metrics.Recorder) *Runner {
	if rec != nil {
		r.recorder = rec
	}
	return r
}

// SetPlan replaces the plan used by subsequent runs.
func (r *Runner) SetPlan(p Plan) {
	if p.KillGrace <= 0 {
		p.KillGrace = 5 * time.Second
	}
	r.plan.Store(&p)
}

// Plan returns the current plan.
func (r *Runner) Plan() Plan { return *r.plan.Load() }

// Run executes every step in order inside dir. The first failing step stops
// the run. On cancellation the running step's process group is terminated
// and the context cause is returned.
func (r *Runner) Run(ctx context.Context, dir string, sink Sink) (Result, error) {
	plan := r.Plan()
	total := len(plan.Steps)
	for i, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return Result{}, context.Cause(ctx)
		}
		sink.StepStarted(i, total, step.Name)
		start := time.Now()
		err := r.runStep(ctx, dir, plan, step, sink)
		elapsed := time.Since(start)
		r.recorder.ObserveStepDuration(step.Name, elapsed, err == nil)
		sink.StepFinished(i, total, step.Name, err, elapsed)
		if err != nil {
			return Result{}, err
		}
	}

	out := filepath.Join(dir, plan.OutputDir)
	info, err := os.Stat(out)
	if err != nil || !info.IsDir() {
		return Result{}, errors.StepFailed("toolchain produced no output directory").
			WithCause(err).
			WithContext("output_dir", plan.OutputDir).
			Build()
	}
	return Result{OutputDir: out}, nil
}

func (r *Runner) runStep(ctx context.Context, dir string, plan Plan, step Step, sink Sink) error {
	stepCtx := ctx
	var cancel context.CancelFunc
	if step.Timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	// #nosec G204 -- commands come from operator configuration
	cmd := exec.CommandContext(stepCtx, step.Command, step.Args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), plan.Env...)
	cmd.WaitDelay = plan.KillGrace
	setProcessGroup(cmd)

	var mu sync.Mutex
	stdout := newLineWriter(&mu, func(text string) { sink.Line(step.Name, build.StreamStdout, text) })
	stderr := newLineWriter(&mu, func(text string) { sink.Line(step.Name, build.StreamStderr, text) })
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	slog.Debug("Running toolchain step", logfields.Step(step.Name), slog.String("command", step.Command), logfields.Path(dir))
	err := cmd.Run()
	stdout.Flush()
	stderr.Flush()
	if stepCtx.Err() != nil {
		killProcessGroup(cmd)
	}

	switch {
	case ctx.Err() != nil:
		return context.Cause(ctx)
	case stderrors.Is(stepCtx.Err(), context.DeadlineExceeded):
		return errors.StepTimeout(fmt.Sprintf("step %q exceeded %s", step.Name, step.Timeout)).
			WithContext("step", step.Name).
			Build()
	case err != nil:
		b := errors.StepFailed(fmt.Sprintf("step %q failed", step.Name)).
			WithCause(err).
			WithContext("step", step.Name)
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) {
			b = b.WithContext("exit_code", exitErr.ExitCode())
		}
		return b.Build()
	}
	return nil
}
