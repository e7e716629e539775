package queue

import (
	"context"

	"git.home.luguber.info/inful/webship/internal/build"
	"git.home.luguber.info/inful/webship/internal/git"
	"git.home.luguber.info/inful/webship/internal/publish"
	"git.home.luguber.info/inful/webship/internal/store"
	"git.home.luguber.info/inful/webship/internal/toolchain"
)

// Store is the build record store used by the scheduler.
type Store interface {
	CreateApplication(ctx context.Context, app *build.Application) error
	GetApplication(ctx context.Context, id string) (*build.Application, error)
	ListApplications(ctx context.Context) ([]build.Application, error)
	CreateBuild(ctx context.Context, b *build.Build) error
	GetBuild(ctx context.Context, id string) (*build.Build, error)
	NonTerminal(ctx context.Context) ([]build.Build, error)
	Transition(ctx context.Context, id string, to build.Status, opts store.TransitionOptions) (*build.Build, error)
	SetProgress(ctx context.Context, id string, progress int) (int64, error)
	AppendLog(ctx context.Context, line build.LogLine) (build.LogLine, error)
}

// Fetcher materializes application sources.
type Fetcher interface {
	Fetch(ctx context.Context, req git.Request) (git.Result, error)
}

// Runner executes the toolchain in a fetched workspace.
type Runner interface {
	Run(ctx context.Context, dir string, sink toolchain.Sink) (toolchain.Result, error)
}

// Publisher installs build output as an application's live artifact.
type Publisher interface {
	Stage(ctx context.Context, slug, buildID, outputDir string) (string, error)
	Promote(slug, buildID string) (publish.Artifact, error)
	Discard(slug, buildID string) error
	Restore(slug, release string) error
	Collect(slug string, keep ...string) ([]string, error)
}

// Workspaces allocates build-scoped working directories.
type Workspaces interface {
	Create(buildID string) (string, error)
	Remove(buildID string) error
	Sweep(keep func(buildID string) bool) ([]string, error)
}

// Broadcaster receives every committed build event.
type Broadcaster interface {
	Publish(ev build.Event)
}
