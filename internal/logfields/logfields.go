package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyAppID      = "app_id"
	KeyBuildID    = "build_id"
	KeyStatus     = "status"
	KeyStep       = "step"
	KeyStream     = "stream"
	KeyCommit     = "commit"
	KeyBranch     = "branch"
	KeyRepo       = "repository"
	KeyAttempt    = "attempt"
	KeyExitCode   = "exit_code"
	KeyErrorKind  = "error_kind"
	KeyDurationMS = "duration_ms"
	KeyWorker     = "worker"
	KeyPath       = "path"
	KeySubscriber = "subscriber"
	KeyURL        = "url"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func AppID(id string) slog.Attr       { return slog.String(KeyAppID, id) }
func BuildID(id string) slog.Attr     { return slog.String(KeyBuildID, id) }
func Status(s string) slog.Attr       { return slog.String(KeyStatus, s) }
func Step(name string) slog.Attr      { return slog.String(KeyStep, name) }
func Stream(name string) slog.Attr    { return slog.String(KeyStream, name) }
func Commit(hash string) slog.Attr    { return slog.String(KeyCommit, hash) }
func Branch(b string) slog.Attr       { return slog.String(KeyBranch, b) }
func Repository(r string) slog.Attr   { return slog.String(KeyRepo, r) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func ExitCode(code int) slog.Attr     { return slog.Int(KeyExitCode, code) }
func ErrorKind(kind string) slog.Attr { return slog.String(KeyErrorKind, kind) }
func Worker(id int) slog.Attr         { return slog.Int(KeyWorker, id) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Subscriber(id uint64) slog.Attr  { return slog.Uint64(KeySubscriber, id) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }

// Duration renders d in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d)/float64(time.Millisecond))
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
