package git

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"git.home.luguber.info/inful/webship/internal/foundation/errors"
)

// classify translates go-git and transport errors into SourceUnavailable or
// SourceTimeout. attemptCtx is the per-attempt context carrying the fetch timeout.
func classify(attemptCtx context.Context, err error, op, repoURL string) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.AsClassified(err); ok {
		return err
	}

	if stderrors.Is(attemptCtx.Err(), context.DeadlineExceeded) || isTransient(err) {
		return errors.SourceTimeout("repository transfer stalled").
			WithCause(err).
			WithContext("op", op).
			WithContext("url", repoURL).
			Build()
	}

	reason := "repository unavailable"
	switch {
	case stderrors.Is(err, transport.ErrAuthenticationRequired), stderrors.Is(err, transport.ErrAuthorizationFailed):
		reason = "repository access denied"
	case stderrors.Is(err, transport.ErrRepositoryNotFound):
		reason = "repository not found"
	case stderrors.Is(err, transport.ErrEmptyRemoteRepository):
		reason = "repository is empty"
	case stderrors.Is(err, plumbing.ErrReferenceNotFound), isNoMatchingRef(err):
		reason = "branch not found"
	case stderrors.Is(err, plumbing.ErrObjectNotFound):
		reason = "commit not found"
	}
	return errors.SourceUnavailable(reason).
		WithCause(err).
		WithContext("op", op).
		WithContext("url", repoURL).
		Build()
}

func isNoMatchingRef(err error) bool {
	var nm git.NoMatchingRefSpecError
	if stderrors.As(err, &nm) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "couldn't find remote ref")
}

// isTransient reports network failures worth retrying.
func isTransient(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, io.ErrUnexpectedEOF) ||
		stderrors.Is(err, syscall.ECONNRESET) || stderrors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var ne net.Error
	if stderrors.As(err, &ne) && ne.Timeout() {
		return true
	}
	l := strings.ToLower(err.Error())
	for _, s := range []string{"remote hung up", "connection reset", "i/o timeout", "timeout", "no route to host", "too many requests", "502 bad gateway", "503 service unavailable"} {
		if strings.Contains(l, s) {
			return true
		}
	}
	return false
}
