package git

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"git.home.luguber.info/inful/webship/internal/config"
	"git.home.luguber.info/inful/webship/internal/foundation/errors"
	"git.home.luguber.info/inful/webship/internal/identity"
	"git.home.luguber.info/inful/webship/internal/logfields"
	"git.home.luguber.info/inful/webship/internal/metrics"
	"git.home.luguber.info/inful/webship/internal/retry"
)

// Request describes one fetch into a fresh workspace directory.
type Request struct {
	RepoURL string
	Branch  string
	// Commit pins the checkout to a specific revision on Branch.
	Commit string
	Dir    string
	// Progress receives go-git transfer progress when set.
	Progress io.Writer
}

// Result is the outcome of a successful fetch.
type Result struct {
	Commit string
	Dir    string
}

// Fetcher clones application sources.
type Fetcher struct {
	timeout   time.Duration
	fullClone bool
	policy    retry.Policy
	creds     identity.CredentialSource
	recorder  metrics.Recorder
}

// NewFetcher creates a fetcher from the fetch configuration. A nil credential
// source fetches anonymously.
func NewFetcher(cfg config.FetchConfig, creds identity.CredentialSource) *Fetcher {
	if creds == nil {
		creds = identity.Anonymous{}
	}
	return &Fetcher{
		timeout:   cfg.TimeoutDuration(),
		fullClone: cfg.FullClone,
		policy:    retry.FromFetchConfig(cfg),
		creds:     creds,
		recorder:  metrics.NoopRecorder{},
	}
}

// WithRecorder attaches a metrics recorder.
func (f *Fetcher) WithRecorder(r metrics.Recorder) *Fetcher {
	if r != nil {
		f.recorder = r
	}
	return f
}

// Fetch clones req.Branch into req.Dir and returns the checked-out commit.
// Only SourceTimeout failures are retried; a cancelled ctx returns its cause.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (Result, error) {
	if req.RepoURL == "" || req.Dir == "" {
		return Result{}, errors.ValidationError("fetch requires a repository URL and a target directory").Build()
	}
	if req.Branch == "" {
		req.Branch = "main"
	}

	tok, err := f.creds.CloneToken(ctx, req.RepoURL)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, context.Cause(ctx)
		}
		return Result{}, errors.AuthError("failed to resolve clone credential").
			WithCause(err).
			WithKind(errors.KindSourceUnavailable).
			WithContext("url", req.RepoURL).
			Build()
	}

	auth := authFor(req.RepoURL, tok)
	start := time.Now()
	var res Result
	err = f.policy.Do(ctx,
		func(int) error {
			r, cerr := f.cloneOnce(ctx, req, auth)
			if cerr == nil {
				res = r
			}
			return cerr
		},
		func(err error) bool { return errors.HasKind(err, errors.KindSourceTimeout) && ctx.Err() == nil },
		func(n int, delay time.Duration, err error) {
			f.recorder.IncFetchRetry()
			slog.Warn("retrying fetch",
				logfields.Repository(req.RepoURL),
				logfields.Branch(req.Branch),
				logfields.Attempt(n),
				slog.Duration("delay", delay),
				logfields.Error(err))
		},
	)
	f.recorder.ObserveFetchDuration(time.Since(start), err == nil)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, context.Cause(ctx)
		}
		return Result{}, err
	}
	slog.Info("fetched source",
		logfields.Repository(req.RepoURL),
		logfields.Branch(req.Branch),
		logfields.Commit(res.Commit),
		logfields.Duration(time.Since(start)))
	return res, nil
}

func (f *Fetcher) cloneOnce(ctx context.Context, req Request, auth transport.AuthMethod) (Result, error) {
	// Leftovers from a failed attempt would make PlainClone refuse the directory.
	if err := os.RemoveAll(req.Dir); err != nil {
		return Result{}, errors.FileSystemError("failed to reset workspace").
			WithCause(err).WithContext("path", req.Dir).Build()
	}
	if err := os.MkdirAll(req.Dir, 0o750); err != nil {
		return Result{}, errors.FileSystemError("failed to create workspace").
			WithCause(err).WithContext("path", req.Dir).Build()
	}

	attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	opts := &git.CloneOptions{
		URL:           req.RepoURL,
		Auth:          auth,
		ReferenceName: plumbing.NewBranchReferenceName(req.Branch),
		SingleBranch:  true,
		Tags:          git.NoTags,
		Progress:      req.Progress,
	}
	// A pinned commit may sit below the tip, so it needs the branch history.
	if req.Commit == "" && !f.fullClone {
		opts.Depth = 1
	}

	repo, err := git.PlainCloneContext(attemptCtx, req.Dir, false, opts)
	if err != nil {
		return Result{}, classify(attemptCtx, err, "clone", req.RepoURL)
	}

	if req.Commit != "" {
		hash, err := repo.ResolveRevision(plumbing.Revision(req.Commit))
		if err != nil {
			return Result{}, errors.SourceUnavailable("commit not found").
				WithCause(err).
				WithContext("url", req.RepoURL).
				WithContext("commit", req.Commit).
				Build()
		}
		wt, err := repo.Worktree()
		if err != nil {
			return Result{}, classify(attemptCtx, err, "worktree", req.RepoURL)
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
			return Result{}, classify(attemptCtx, err, "checkout", req.RepoURL)
		}
		return Result{Commit: hash.String(), Dir: req.Dir}, nil
	}

	head, err := repo.Head()
	if err != nil {
		return Result{}, classify(attemptCtx, err, "head", req.RepoURL)
	}
	return Result{Commit: head.Hash().String(), Dir: req.Dir}, nil
}
