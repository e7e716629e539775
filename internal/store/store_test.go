package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/webship/internal/build"
	ferrors "git.home.luguber.info/inful/webship/internal/foundation/errors"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestApp(t *testing.T, s *SQLiteStore, name string) *build.Application {
	t.Helper()
	app := &build.Application{Name: name, RepoURL: "https://example.com/" + name + ".git", Active: true}
	require.NoError(t, s.CreateApplication(context.Background(), app))
	return app
}

func newTestBuild(t *testing.T, s *SQLiteStore, appID string) *build.Build {
	t.Helper()
	b := &build.Build{AppID: appID, Branch: "main"}
	require.NoError(t, s.CreateBuild(context.Background(), b))
	return b
}

func TestCreateApplicationDerivesUniqueSlug(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := newTestApp(t, s, "Shop Front")
	assert.Equal(t, "shop-front", first.Slug)
	assert.Equal(t, "main", first.Branch)

	second := &build.Application{Name: "Shop  Front!", RepoURL: "https://example.com/other.git"}
	require.NoError(t, s.CreateApplication(ctx, second))
	assert.NotEqual(t, first.Slug, second.Slug)
	assert.Contains(t, second.Slug, "shop-front-")

	got, err := s.GetApplication(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, second.Slug, got.Slug)
	assert.Empty(t, got.ArtifactPath)

	_, err = s.GetApplication(ctx, "missing")
	assert.True(t, ferrors.HasKind(err, ferrors.KindApplicationNotFound))

	err = s.CreateApplication(ctx, &build.Application{Name: " "})
	assert.True(t, ferrors.HasKind(err, ferrors.KindInvalidRequest))
}

func TestUpdateApplication(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	app := newTestApp(t, s, "edit-me")

	branch := "develop"
	inactive := false
	got, err := s.UpdateApplication(ctx, app.ID, ApplicationUpdate{Branch: &branch, Active: &inactive})
	require.NoError(t, err)
	assert.Equal(t, "develop", got.Branch)
	assert.False(t, got.Active)
	assert.Equal(t, "edit-me", got.Slug)

	apps, err := s.ListApplications(ctx)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.False(t, apps[0].Active)
}

func TestTransitionHappyPathUpdatesArtifactPointer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	app := newTestApp(t, s, "happy")
	b := newTestBuild(t, s, app.ID)
	assert.Equal(t, build.StatusQueued, b.Status)
	assert.Equal(t, int64(1), b.LastSeq)

	got, err := s.Transition(ctx, b.ID, build.StatusFetching, TransitionOptions{Progress: 5})
	require.NoError(t, err)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, int64(2), got.LastSeq)

	_, err = s.Transition(ctx, b.ID, build.StatusBuilding, TransitionOptions{Commit: "abc123", Progress: 20})
	require.NoError(t, err)
	_, err = s.Transition(ctx, b.ID, build.StatusPublishing, TransitionOptions{Progress: 90})
	require.NoError(t, err)

	// Artifact pointer untouched until Succeeded.
	mid, err := s.GetApplication(ctx, app.ID)
	require.NoError(t, err)
	assert.Empty(t, mid.ArtifactPath)

	got, err = s.Transition(ctx, b.ID, build.StatusSucceeded, TransitionOptions{
		ArtifactPath: "/srv/sites/happy/releases/" + b.ID,
		ArtifactURL:  "http://localhost/sites/happy/",
	})
	require.NoError(t, err)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "abc123", got.Commit)
	require.NotNil(t, got.CompletedAt)

	after, err := s.GetApplication(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, "/srv/sites/happy/releases/"+b.ID, after.ArtifactPath)
	assert.Equal(t, b.ID, after.LastBuildID)
	assert.Empty(t, after.LastError)
}

func TestTransitionRejectsNonPredecessor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	app := newTestApp(t, s, "strict")
	b := newTestBuild(t, s, app.ID)

	_, err := s.Transition(ctx, b.ID, build.StatusPublishing, TransitionOptions{})
	require.Error(t, err)
	assert.True(t, ferrors.HasKind(err, ferrors.KindInvalidTransition))
	c, ok := ferrors.AsClassified(err)
	require.True(t, ok)
	assert.True(t, c.IsFatal())

	unchanged, err := s.GetBuild(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, build.StatusQueued, unchanged.Status)
	assert.Equal(t, int64(1), unchanged.LastSeq)

	_, err = s.Transition(ctx, b.ID, build.StatusCancelled, TransitionOptions{})
	require.NoError(t, err)
	_, err = s.Transition(ctx, b.ID, build.StatusFailed, TransitionOptions{})
	assert.True(t, ferrors.HasKind(err, ferrors.KindInvalidTransition))

	_, err = s.Transition(ctx, "nope", build.StatusFetching, TransitionOptions{})
	assert.True(t, ferrors.HasKind(err, ferrors.KindBuildNotFound))
}

func TestFailedBuildKeepsPreviousArtifact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	app := newTestApp(t, s, "keeper")

	ok := newTestBuild(t, s, app.ID)
	for _, st := range []build.Status{build.StatusFetching, build.StatusBuilding, build.StatusPublishing} {
		_, err := s.Transition(ctx, ok.ID, st, TransitionOptions{})
		require.NoError(t, err)
	}
	_, err := s.Transition(ctx, ok.ID, build.StatusSucceeded, TransitionOptions{ArtifactPath: "/v1"})
	require.NoError(t, err)

	bad := newTestBuild(t, s, app.ID)
	for _, st := range []build.Status{build.StatusFetching, build.StatusBuilding, build.StatusPublishing} {
		_, err := s.Transition(ctx, bad.ID, st, TransitionOptions{})
		require.NoError(t, err)
	}
	publishErr := ferrors.PublishFailed("copy release").WithCause(errors.New("disk full")).Build()
	got, err := s.Transition(ctx, bad.ID, build.StatusFailed, TransitionOptions{Err: publishErr})
	require.NoError(t, err)
	assert.Equal(t, string(ferrors.KindPublishFailed), got.ErrorKind)
	assert.Equal(t, "copy release: disk full", got.Error)

	after, err := s.GetApplication(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, "/v1", after.ArtifactPath)
	assert.Equal(t, "copy release: disk full", after.LastError)

	_, err = s.Transition(ctx, newTestBuild(t, s, app.ID).ID, build.StatusFetching, TransitionOptions{})
	require.NoError(t, err)
}

func TestSucceededRequiresArtifact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := newTestBuild(t, s, newTestApp(t, s, "needs-artifact").ID)
	for _, st := range []build.Status{build.StatusFetching, build.StatusBuilding, build.StatusPublishing} {
		_, err := s.Transition(ctx, b.ID, st, TransitionOptions{})
		require.NoError(t, err)
	}
	_, err := s.Transition(ctx, b.ID, build.StatusSucceeded, TransitionOptions{})
	assert.ErrorIs(t, err, ErrArtifactRequired)
}

func TestLogsAndProgressShareSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := newTestBuild(t, s, newTestApp(t, s, "logs").ID)
	_, err := s.Transition(ctx, b.ID, build.StatusFetching, TransitionOptions{Progress: 5})
	require.NoError(t, err)

	l1, err := s.AppendLog(ctx, build.LogLine{BuildID: b.ID, Stream: build.StreamStdout, Text: "one"})
	require.NoError(t, err)
	seq, err := s.SetProgress(ctx, b.ID, 10)
	require.NoError(t, err)
	l2, err := s.AppendLog(ctx, build.LogLine{BuildID: b.ID, Step: "compile", Stream: build.StreamStderr, Text: "two"})
	require.NoError(t, err)

	assert.Equal(t, int64(3), l1.Seq)
	assert.Equal(t, int64(4), seq)
	assert.Equal(t, int64(5), l2.Seq)

	// Non-advancing progress is ignored.
	seq, err = s.SetProgress(ctx, b.ID, 7)
	require.NoError(t, err)
	assert.Zero(t, seq)

	logs, err := s.Logs(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "one", logs[0].Text)
	assert.Equal(t, "compile", logs[1].Step)

	_, err = s.Transition(ctx, b.ID, build.StatusCancelled, TransitionOptions{})
	require.NoError(t, err)
	_, err = s.AppendLog(ctx, build.LogLine{BuildID: b.ID, Stream: build.StreamStdout, Text: "late"})
	assert.ErrorIs(t, err, ErrBuildTerminal)
	_, err = s.SetProgress(ctx, b.ID, 99)
	assert.ErrorIs(t, err, ErrBuildTerminal)

	final, err := s.GetBuild(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, string(ferrors.KindCancelled), final.ErrorKind)
}

func TestSnapshotPrefersActiveBuild(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	app := newTestApp(t, s, "snap")

	empty, err := s.Snapshot(ctx, app.ID)
	require.NoError(t, err)
	assert.Nil(t, empty.Current)

	running := newTestBuild(t, s, app.ID)
	_, err = s.Transition(ctx, running.ID, build.StatusFetching, TransitionOptions{})
	require.NoError(t, err)
	_, err = s.AppendLog(ctx, build.LogLine{BuildID: running.ID, Stream: build.StreamStdout, Text: "cloning"})
	require.NoError(t, err)
	waiting := newTestBuild(t, s, app.ID)

	snap, err := s.Snapshot(ctx, app.ID)
	require.NoError(t, err)
	require.NotNil(t, snap.Current)
	assert.Equal(t, running.ID, snap.Current.ID)
	assert.Equal(t, int64(3), snap.Current.LastSeq)
	require.Len(t, snap.Logs, 1)
	require.Len(t, snap.Queued, 1)
	assert.Equal(t, waiting.ID, snap.Queued[0].ID)

	_, err = s.Snapshot(ctx, "missing")
	assert.True(t, ferrors.HasKind(err, ferrors.KindApplicationNotFound))
}

func TestNonTerminalAndListBuilds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	app := newTestApp(t, s, "recover")

	done := newTestBuild(t, s, app.ID)
	_, err := s.Transition(ctx, done.ID, build.StatusCancelled, TransitionOptions{})
	require.NoError(t, err)
	active := newTestBuild(t, s, app.ID)
	_, err = s.Transition(ctx, active.ID, build.StatusFetching, TransitionOptions{})
	require.NoError(t, err)
	queued := newTestBuild(t, s, app.ID)

	open, err := s.NonTerminal(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, active.ID, open[0].ID)
	assert.Equal(t, queued.ID, open[1].ID)

	list, err := s.ListBuilds(ctx, app.ID, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, queued.ID, list[0].ID)

	err = s.CreateBuild(ctx, &build.Build{AppID: "missing"})
	assert.True(t, ferrors.HasKind(err, ferrors.KindApplicationNotFound))
}
