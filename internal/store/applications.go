package store

import (
	"context"
	"database/sql"
	"strings"

	"git.home.luguber.info/inful/webship/internal/build"
	ferrors "git.home.luguber.info/inful/webship/internal/foundation/errors"
)

const appColumns = `id, name, slug, owner_id, repo_url, branch, active, artifact_path, artifact_url,
	last_build_id, last_error, created_at, updated_at`

// CreateApplication inserts app, assigning its ID, slug and timestamps. A slug
// already taken by another application gets the first eight characters of the
// new ID appended.
func (s *SQLiteStore) CreateApplication(ctx context.Context, app *build.Application) error {
	app.Name = strings.TrimSpace(app.Name)
	app.RepoURL = strings.TrimSpace(app.RepoURL)
	if app.Name == "" || app.RepoURL == "" {
		return ferrors.ValidationError("application name and repository are required").Build()
	}
	if app.Branch == "" {
		app.Branch = "main"
	}
	if app.ID == "" {
		app.ID = newID()
	}
	if app.Slug == "" {
		app.Slug = build.Slugify(app.Name)
	}
	now := s.now()
	app.CreatedAt, app.UpdatedAt = now, now

	insert := func(slug string) error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO applications (`+appColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, '', '', '', '', ?, ?)`,
			app.ID, app.Name, slug, app.OwnerID, app.RepoURL, app.Branch, boolInt(app.Active),
			unixNano(now), unixNano(now))
		return err
	}

	err := insert(app.Slug)
	if isUniqueViolation(err) {
		app.Slug = app.Slug + "-" + strings.ReplaceAll(app.ID, "-", "")[:8]
		err = insert(app.Slug)
	}
	if err != nil {
		return wrapDB(err, "insert application")
	}
	return nil
}

// GetApplication returns the application with the given id.
func (s *SQLiteStore) GetApplication(ctx context.Context, id string) (*build.Application, error) {
	return getApplication(ctx, s.db, id)
}

func getApplication(ctx context.Context, q querier, id string) (*build.Application, error) {
	row := q.QueryRowContext(ctx, `SELECT `+appColumns+` FROM applications WHERE id = ?`, id)
	app, err := scanApplication(row)
	if notFound(err) {
		return nil, appNotFound(id)
	}
	if err != nil {
		return nil, scanErr(err, "application")
	}
	return app, nil
}

// ListApplications returns all applications ordered by creation time.
func (s *SQLiteStore) ListApplications(ctx context.Context) ([]build.Application, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+appColumns+` FROM applications ORDER BY created_at, rowid`)
	if err != nil {
		return nil, wrapDB(err, "query applications")
	}
	defer rows.Close()

	var apps []build.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, scanErr(err, "application")
		}
		apps = append(apps, *app)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err, "iterate applications")
	}
	return apps, nil
}

// ApplicationUpdate carries the user-editable fields of an application. Nil
// fields are left unchanged.
type ApplicationUpdate struct {
	Name   *string
	Branch *string
	Active *bool
}

// UpdateApplication applies an explicit user edit. The slug is fixed at
// creation and does not follow name changes.
func (s *SQLiteStore) UpdateApplication(ctx context.Context, id string, upd ApplicationUpdate) (*build.Application, error) {
	var out *build.Application
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		app, err := getApplication(ctx, tx, id)
		if err != nil {
			return err
		}
		if upd.Name != nil {
			if strings.TrimSpace(*upd.Name) == "" {
				return ferrors.ValidationError("application name cannot be empty").Build()
			}
			app.Name = strings.TrimSpace(*upd.Name)
		}
		if upd.Branch != nil {
			if strings.TrimSpace(*upd.Branch) == "" {
				return ferrors.ValidationError("branch cannot be empty").Build()
			}
			app.Branch = strings.TrimSpace(*upd.Branch)
		}
		if upd.Active != nil {
			app.Active = *upd.Active
		}
		app.UpdatedAt = s.now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE applications SET name = ?, branch = ?, active = ?, updated_at = ? WHERE id = ?`,
			app.Name, app.Branch, boolInt(app.Active), unixNano(app.UpdatedAt), id); err != nil {
			return wrapDB(err, "update application")
		}
		out = app
		return nil
	})
	return out, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(r rowScanner) (*build.Application, error) {
	var app build.Application
	var created, updated int64
	err := r.Scan(&app.ID, &app.Name, &app.Slug, &app.OwnerID, &app.RepoURL, &app.Branch, &app.Active,
		&app.ArtifactPath, &app.ArtifactURL, &app.LastBuildID, &app.LastError, &created, &updated)
	if err != nil {
		return nil, err
	}
	app.CreatedAt = fromNano(created)
	app.UpdatedAt = fromNano(updated)
	return &app, nil
}
