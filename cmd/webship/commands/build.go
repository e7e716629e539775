package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/webship/internal/build"
	"git.home.luguber.info/inful/webship/internal/config"
	"git.home.luguber.info/inful/webship/internal/git"
	"git.home.luguber.info/inful/webship/internal/identity"
	"git.home.luguber.info/inful/webship/internal/logfields"
	"git.home.luguber.info/inful/webship/internal/publish"
	"git.home.luguber.info/inful/webship/internal/toolchain"
	"git.home.luguber.info/inful/webship/internal/workspace"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Repo          string `arg:"" help:"Repository URL or local path"`
	Branch        string `short:"b" help:"Branch to build" default:"main"`
	Commit        string `help:"Pin the build to this commit"`
	Slug          string `help:"Site name to publish under (default: derived from the repository)"`
	NoPublish     bool   `name:"no-publish" help:"Stop after the toolchain succeeds"`
	KeepWorkspace bool   `name:"keep-workspace" help:"Leave the working copy in place for inspection"`
}

func (b *BuildCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(g, root, true)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := RunBuild(ctx, cfg, BuildOptions{
		RepoURL:       b.Repo,
		Branch:        b.Branch,
		Commit:        b.Commit,
		Slug:          b.Slug,
		Publish:       !b.NoPublish,
		KeepWorkspace: b.KeepWorkspace,
	}, os.Stderr)
	if err != nil {
		return err
	}
	if res.URL != "" {
		fmt.Printf("Published %s at %s\n", res.Commit, res.URL)
	} else {
		fmt.Printf("Built %s into %s\n", res.Commit, res.OutputDir)
	}
	return nil
}

// BuildOptions describe a one-shot build.
type BuildOptions struct {
	RepoURL       string
	Branch        string
	Commit        string
	Slug          string
	Publish       bool
	KeepWorkspace bool
}

// BuildResult reports what a one-shot build produced.
type BuildResult struct {
	ID        string
	Commit    string
	OutputDir string
	Release   string
	URL       string
}

// RunBuild fetches, builds and optionally publishes one repository with the
// same components the daemon uses, writing toolchain output to out. No build
// record is written.
func RunBuild(ctx context.Context, cfg *config.Config, opts BuildOptions, out io.Writer) (*BuildResult, error) {
	if strings.TrimSpace(opts.RepoURL) == "" {
		return nil, usageError("repository is required")
	}
	slug := opts.Slug
	if slug == "" {
		slug = build.Slugify(strings.TrimSuffix(path.Base(strings.TrimSuffix(opts.RepoURL, "/")), ".git"))
	}
	res := &BuildResult{ID: uuid.NewString()}

	workspaces := workspace.NewManager(cfg.Storage.WorkspaceDir)
	dir, err := workspaces.Create(res.ID)
	if err != nil {
		return nil, err
	}
	if !opts.KeepWorkspace {
		defer func() {
			if err := workspaces.Remove(res.ID); err != nil {
				slog.Warn("Failed to remove workspace", logfields.Path(dir), logfields.Error(err))
			}
		}()
	}

	fetcher := git.NewFetcher(cfg.Fetch, identity.NewStaticSource(cfg.Credentials))
	src, err := fetcher.Fetch(ctx, git.Request{
		RepoURL:  opts.RepoURL,
		Branch:   opts.Branch,
		Commit:   opts.Commit,
		Dir:      dir,
		Progress: out,
	})
	if err != nil {
		return nil, err
	}
	res.Commit = src.Commit
	slog.Info("Source fetched", logfields.Repository(opts.RepoURL), logfields.Commit(src.Commit))

	runner := toolchain.NewRunner(toolchain.PlanFromConfig(cfg.Toolchain))
	built, err := runner.Run(ctx, src.Dir, &consoleSink{w: out})
	if err != nil {
		return nil, err
	}
	res.OutputDir = built.OutputDir
	if !opts.Publish {
		return res, nil
	}

	publisher := publish.NewPublisher(cfg.Storage.PublishDir, cfg.Storage.PublicBaseURL)
	artifact, err := publisher.Publish(ctx, slug, res.ID, built.OutputDir)
	if err != nil {
		return nil, err
	}
	res.Release, res.URL = artifact.Path, artifact.URL
	if _, err := publisher.Collect(slug); err != nil {
		slog.Warn("Failed to collect releases", slog.String("slug", slug), logfields.Error(err))
	}
	return res, nil
}

// consoleSink prints toolchain progress and output lines.
type consoleSink struct {
	w io.Writer
}

func (c *consoleSink) StepStarted(index, total int, step string) {
	fmt.Fprintf(c.w, "==> [%d/%d] %s\n", index+1, total, step)
}

func (c *consoleSink) Line(step, stream, text string) {
	if stream == build.StreamStderr {
		fmt.Fprintf(c.w, "[%s] ! %s\n", step, text)
		return
	}
	fmt.Fprintf(c.w, "[%s] %s\n", step, text)
}

func (c *consoleSink) StepFinished(_, _ int, step string, err error, elapsed time.Duration) {
	if err != nil {
		fmt.Fprintf(c.w, "==> %s failed after %s: %v\n", step, elapsed.Round(time.Millisecond), err)
		return
	}
	fmt.Fprintf(c.w, "==> %s done in %s\n", step, elapsed.Round(time.Millisecond))
}
