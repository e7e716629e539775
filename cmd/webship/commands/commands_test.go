package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/webship/internal/build"
	"git.home.luguber.info/inful/webship/internal/config"
	"git.home.luguber.info/inful/webship/internal/foundation/errors"
	"git.home.luguber.info/inful/webship/internal/store"
)

func originRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "demo-site")
	repo, err := gogit.PlainInitWithOptions(dir, &gogit.PlainInitOptions{
		InitOptions: gogit.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("main")},
	})
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
		_, err := wt.Add(name)
		require.NoError(t, err)
	}
	_, err = wt.Commit("initial", &gogit.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir
}

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Database = filepath.Join(root, "webship.db")
	cfg.Storage.WorkspaceDir = filepath.Join(root, "workspaces")
	cfg.Storage.PublishDir = filepath.Join(root, "sites")
	cfg.Storage.PublicBaseURL = "https://apps.example.com"
	cfg.Fetch.FullClone = true
	cfg.Toolchain.OutputDir = "out"
	cfg.Toolchain.Steps = []config.StepConfig{{
		Name:    "copy",
		Command: "sh",
		Args:    []string{"-c", "mkdir -p out && cp index.html out/ && echo copied"},
		Timeout: "30s",
	}}
	return cfg
}

func TestRunBuild_PublishesLocalRepository(t *testing.T) {
	cfg := localConfig(t)
	repo := originRepo(t, map[string]string{"index.html": "<h1>hello</h1>"})

	var out bytes.Buffer
	res, err := RunBuild(context.Background(), cfg, BuildOptions{RepoURL: repo, Branch: "main", Publish: true}, &out)
	require.NoError(t, err)

	assert.Len(t, res.Commit, 40)
	assert.Equal(t, "https://apps.example.com/sites/demo-site/", res.URL)
	data, err := os.ReadFile(filepath.Join(cfg.Storage.PublishDir, "demo-site", "current", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<h1>hello</h1>", string(data))
	assert.Contains(t, out.String(), "[copy] copied")
	assert.NoDirExists(t, filepath.Join(cfg.Storage.WorkspaceDir, res.ID))
}

func TestRunBuild_StepFailureSkipsPublish(t *testing.T) {
	cfg := localConfig(t)
	cfg.Toolchain.Steps[0].Args = []string{"-c", "echo broken >&2; exit 4"}
	repo := originRepo(t, map[string]string{"index.html": "x"})

	var out bytes.Buffer
	_, err := RunBuild(context.Background(), cfg, BuildOptions{RepoURL: repo, Branch: "main", Slug: "demo", Publish: true}, &out)
	assert.True(t, errors.HasKind(err, errors.KindStepFailed), "got %v", err)
	assert.Contains(t, out.String(), "[copy] ! broken")
	assert.NoDirExists(t, filepath.Join(cfg.Storage.PublishDir, "demo"))
}

func TestRunBuild_RequiresRepository(t *testing.T) {
	_, err := RunBuild(context.Background(), localConfig(t), BuildOptions{}, &bytes.Buffer{})
	assert.True(t, errors.HasKind(err, errors.KindInvalidRequest))
}

func TestRunRecover_FailsInterruptedBuilds(t *testing.T) {
	cfg := localConfig(t)
	ctx := context.Background()

	st, err := store.NewSQLiteStore(cfg.Storage.Database)
	require.NoError(t, err)
	app := &build.Application{Name: "site", RepoURL: "https://example.com/site.git", Active: true}
	require.NoError(t, st.CreateApplication(ctx, app))
	b := &build.Build{AppID: app.ID, Branch: "main"}
	require.NoError(t, st.CreateBuild(ctx, b))
	require.NoError(t, st.Close())

	n, err := RunRecover(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err = store.NewSQLiteStore(cfg.Storage.Database)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	got, err := st.GetBuild(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, build.StatusFailed, got.Status)
	assert.Equal(t, string(errors.KindWorkerLost), got.ErrorKind)
}

func TestRunInit_WritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webship.yaml")
	require.NoError(t, RunInit(path, false))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Toolchain.Steps)

	assert.Error(t, RunInit(path, false))
	assert.NoError(t, RunInit(path, true))
}

func TestLoadConfig_MissingFileFallsBackToDefaults(t *testing.T) {
	root := &CLI{Config: filepath.Join(t.TempDir(), "absent.yaml")}
	cfg, err := loadConfig(&Global{}, root, true)
	require.NoError(t, err)
	assert.Equal(t, config.Default().HTTP.Addr, cfg.HTTP.Addr)

	_, err = loadConfig(&Global{}, root, false)
	assert.Error(t, err)
}
