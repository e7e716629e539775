package store

import (
	"context"
	"database/sql"
	"time"

	"git.home.luguber.info/inful/webship/internal/build"
	ferrors "git.home.luguber.info/inful/webship/internal/foundation/errors"
)

const buildColumns = `id, app_id, branch, pinned_commit, status, progress, commit_hash, artifact_path,
	error_kind, error, last_seq, created_at, started_at, completed_at`

// CreateBuild inserts b in Queued status with sequence number 1. The
// application must exist.
func (s *SQLiteStore) CreateBuild(ctx context.Context, b *build.Build) error {
	if b.ID == "" {
		b.ID = newID()
	}
	b.Status = build.StatusQueued
	b.Progress = 0
	b.LastSeq = 1
	b.CreatedAt = s.now()
	b.StartedAt, b.CompletedAt = nil, nil

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getApplication(ctx, tx, b.AppID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO builds (`+buildColumns+`)
			VALUES (?, ?, ?, ?, ?, 0, '', '', '', '', ?, ?, NULL, NULL)`,
			b.ID, b.AppID, b.Branch, b.PinnedCommit, string(b.Status), b.LastSeq, unixNano(b.CreatedAt))
		if err != nil {
			return wrapDB(err, "insert build")
		}
		return nil
	})
}

// GetBuild returns the build with the given id.
func (s *SQLiteStore) GetBuild(ctx context.Context, id string) (*build.Build, error) {
	return getBuild(ctx, s.db, id)
}

func getBuild(ctx context.Context, q querier, id string) (*build.Build, error) {
	b, err := scanBuild(q.QueryRowContext(ctx, `SELECT `+buildColumns+` FROM builds WHERE id = ?`, id))
	if notFound(err) {
		return nil, buildNotFound(id)
	}
	if err != nil {
		return nil, scanErr(err, "build")
	}
	return b, nil
}

// ListBuilds returns up to limit builds of an application, newest first.
func (s *SQLiteStore) ListBuilds(ctx context.Context, appID string, limit int) ([]build.Build, error) {
	if limit <= 0 {
		limit = 50
	}
	return queryBuilds(ctx, s.db, `SELECT `+buildColumns+` FROM builds WHERE app_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, appID, limit)
}

// NonTerminal returns every build not yet in a terminal status, oldest first.
func (s *SQLiteStore) NonTerminal(ctx context.Context) ([]build.Build, error) {
	return queryBuilds(ctx, s.db, `SELECT `+buildColumns+` FROM builds
		WHERE status NOT IN (?, ?, ?) ORDER BY created_at, rowid`,
		string(build.StatusSucceeded), string(build.StatusFailed), string(build.StatusCancelled))
}

// TransitionOptions carries the fields recorded alongside a status change.
type TransitionOptions struct {
	// Progress is applied only when it advances the current value.
	Progress int
	// Commit records the resolved revision.
	Commit string
	// ArtifactPath and ArtifactURL are required for Succeeded.
	ArtifactPath string
	ArtifactURL  string
	// Err is recorded as the build's error for Failed and Cancelled.
	Err error
}

// Transition moves build id to status to. Transitions that are not edges of
// the state machine fail with an InvalidTransition error and change nothing.
// Succeeded atomically repoints the application's artifact and clears its
// last error; Failed records the error on the application.
func (s *SQLiteStore) Transition(ctx context.Context, id string, to build.Status, opts TransitionOptions) (*build.Build, error) {
	var out *build.Build
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		b, err := getBuild(ctx, tx, id)
		if err != nil {
			return err
		}
		if !build.CanTransition(b.Status, to) {
			return ferrors.InvalidTransition("invalid build status transition").
				WithContext("build_id", id).
				WithContext("from", string(b.Status)).
				WithContext("to", string(to)).
				Build()
		}
		if to == build.StatusSucceeded && opts.ArtifactPath == "" {
			return ErrArtifactRequired
		}

		now := s.now()
		b.Status = to
		b.LastSeq++
		if opts.Progress > b.Progress {
			b.Progress = opts.Progress
		}
		if opts.Commit != "" {
			b.Commit = opts.Commit
		}
		if to == build.StatusFetching {
			b.StartedAt = &now
		}
		if to.IsTerminal() {
			b.CompletedAt = &now
		}
		switch to {
		case build.StatusSucceeded:
			b.Progress = 100
			b.ArtifactPath = opts.ArtifactPath
		case build.StatusFailed, build.StatusCancelled:
			if opts.Err != nil {
				b.ErrorKind = string(ferrors.KindOf(opts.Err))
				b.Error = describe(opts.Err)
			}
			if b.ErrorKind == "" && to == build.StatusCancelled {
				b.ErrorKind = string(ferrors.KindCancelled)
			}
		}

		if _, err := tx.ExecContext(ctx, `UPDATE builds SET status = ?, progress = ?, commit_hash = ?,
			artifact_path = ?, error_kind = ?, error = ?, last_seq = ?, started_at = ?, completed_at = ?
			WHERE id = ?`,
			string(b.Status), b.Progress, b.Commit, b.ArtifactPath, b.ErrorKind, b.Error, b.LastSeq,
			nullableTime(b.StartedAt), nullableTime(b.CompletedAt), id); err != nil {
			return wrapDB(err, "update build")
		}

		if to.IsTerminal() {
			if err := s.applyOutcome(ctx, tx, b, opts, now); err != nil {
				return err
			}
		}
		out = b
		return nil
	})
	return out, err
}

// applyOutcome updates the owning application for a terminal build.
func (s *SQLiteStore) applyOutcome(ctx context.Context, tx *sql.Tx, b *build.Build, opts TransitionOptions, now time.Time) error {
	var err error
	switch b.Status {
	case build.StatusSucceeded:
		_, err = tx.ExecContext(ctx, `UPDATE applications SET artifact_path = ?, artifact_url = ?,
			last_build_id = ?, last_error = '', updated_at = ? WHERE id = ?`,
			opts.ArtifactPath, opts.ArtifactURL, b.ID, now.UnixNano(), b.AppID)
	case build.StatusFailed:
		_, err = tx.ExecContext(ctx, `UPDATE applications SET last_build_id = ?, last_error = ?,
			updated_at = ? WHERE id = ?`, b.ID, b.Error, now.UnixNano(), b.AppID)
	default:
		_, err = tx.ExecContext(ctx, `UPDATE applications SET last_build_id = ?, updated_at = ? WHERE id = ?`,
			b.ID, now.UnixNano(), b.AppID)
	}
	if err != nil {
		return wrapDB(err, "update application outcome")
	}
	return nil
}

// SetProgress raises a build's progress. Values that do not advance the
// current progress are ignored and return seq 0.
func (s *SQLiteStore) SetProgress(ctx context.Context, id string, progress int) (int64, error) {
	if progress > 100 {
		progress = 100
	}
	var seq int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		b, err := getBuild(ctx, tx, id)
		if err != nil {
			return err
		}
		if b.Status.IsTerminal() {
			return ErrBuildTerminal
		}
		if progress <= b.Progress {
			return nil
		}
		seq = b.LastSeq + 1
		if _, err := tx.ExecContext(ctx, `UPDATE builds SET progress = ?, last_seq = ? WHERE id = ?`,
			progress, seq, id); err != nil {
			return wrapDB(err, "update progress")
		}
		return nil
	})
	return seq, err
}

// AppendLog appends line to a build's log, assigning its sequence number.
// Lines are never edited once written.
func (s *SQLiteStore) AppendLog(ctx context.Context, line build.LogLine) (build.LogLine, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		b, err := getBuild(ctx, tx, line.BuildID)
		if err != nil {
			return err
		}
		if b.Status.IsTerminal() {
			return ErrBuildTerminal
		}
		line.Seq = b.LastSeq + 1
		if line.Time.IsZero() {
			line.Time = s.now()
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO build_logs (build_id, seq, step, stream, text, ts)
			VALUES (?, ?, ?, ?, ?, ?)`, line.BuildID, line.Seq, line.Step, line.Stream, line.Text,
			unixNano(line.Time)); err != nil {
			return wrapDB(err, "insert log line")
		}
		if _, err := tx.ExecContext(ctx, `UPDATE builds SET last_seq = ? WHERE id = ?`, line.Seq, line.BuildID); err != nil {
			return wrapDB(err, "advance sequence")
		}
		return nil
	})
	return line, err
}

// Logs returns a build's log lines in sequence order.
func (s *SQLiteStore) Logs(ctx context.Context, buildID string) ([]build.LogLine, error) {
	return queryLogs(ctx, s.db, buildID)
}

// Snapshot reads, in one transaction, the application's current build with its
// log lines and the builds queued behind it. Current is the active build when
// one exists, otherwise the most recently started one; nil while the
// application has never left the queue.
func (s *SQLiteStore) Snapshot(ctx context.Context, appID string) (*build.Snapshot, error) {
	snap := &build.Snapshot{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getApplication(ctx, tx, appID); err != nil {
			return err
		}
		current, err := scanBuild(tx.QueryRowContext(ctx, `SELECT `+buildColumns+` FROM builds
			WHERE app_id = ? AND status IN (?, ?, ?) ORDER BY created_at DESC, rowid DESC LIMIT 1`,
			appID, string(build.StatusFetching), string(build.StatusBuilding), string(build.StatusPublishing)))
		if notFound(err) {
			current, err = scanBuild(tx.QueryRowContext(ctx, `SELECT `+buildColumns+` FROM builds
				WHERE app_id = ? AND status != ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
				appID, string(build.StatusQueued)))
		}
		switch {
		case notFound(err):
		case err != nil:
			return scanErr(err, "build")
		default:
			snap.Current = current
			if snap.Logs, err = queryLogs(ctx, tx, current.ID); err != nil {
				return err
			}
		}
		snap.Queued, err = queryBuilds(ctx, tx, `SELECT `+buildColumns+` FROM builds
			WHERE app_id = ? AND status = ? ORDER BY created_at, rowid`, appID, string(build.StatusQueued))
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func queryBuilds(ctx context.Context, q querier, query string, args ...any) ([]build.Build, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDB(err, "query builds")
	}
	defer rows.Close()

	var out []build.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, scanErr(err, "build")
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err, "iterate builds")
	}
	return out, nil
}

func queryLogs(ctx context.Context, q querier, buildID string) ([]build.LogLine, error) {
	rows, err := q.QueryContext(ctx, `SELECT build_id, seq, step, stream, text, ts FROM build_logs
		WHERE build_id = ? ORDER BY seq`, buildID)
	if err != nil {
		return nil, wrapDB(err, "query logs")
	}
	defer rows.Close()

	var out []build.LogLine
	for rows.Next() {
		var l build.LogLine
		var ts int64
		if err := rows.Scan(&l.BuildID, &l.Seq, &l.Step, &l.Stream, &l.Text, &ts); err != nil {
			return nil, scanErr(err, "log line")
		}
		l.Time = fromNano(ts)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err, "iterate logs")
	}
	return out, nil
}

func scanBuild(r rowScanner) (*build.Build, error) {
	var b build.Build
	var status string
	var created int64
	var started, completed sql.NullInt64
	err := r.Scan(&b.ID, &b.AppID, &b.Branch, &b.PinnedCommit, &status, &b.Progress, &b.Commit,
		&b.ArtifactPath, &b.ErrorKind, &b.Error, &b.LastSeq, &created, &started, &completed)
	if err != nil {
		return nil, err
	}
	b.Status = build.Status(status)
	b.CreatedAt = fromNano(created)
	b.StartedAt = timePtr(started)
	b.CompletedAt = timePtr(completed)
	return &b, nil
}
