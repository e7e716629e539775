package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/webship/internal/broadcast"
	"git.home.luguber.info/inful/webship/internal/build"
	"git.home.luguber.info/inful/webship/internal/foundation/errors"
	"git.home.luguber.info/inful/webship/internal/metrics"
	"git.home.luguber.info/inful/webship/internal/publish"
	"git.home.luguber.info/inful/webship/internal/queue"
	"git.home.luguber.info/inful/webship/internal/store"
)

// fakeScheduler queues builds straight into the store without running them.
type fakeScheduler struct {
	store *store.SQLiteStore
	hub   *broadcast.Hub
}

func (f *fakeScheduler) RegisterApplication(ctx context.Context, app *build.Application) (*build.Build, error) {
	app.Active = true
	if err := f.store.CreateApplication(ctx, app); err != nil {
		return nil, err
	}
	return f.Submit(ctx, app.ID, queue.SubmitOptions{})
}

func (f *fakeScheduler) Submit(ctx context.Context, appID string, opts queue.SubmitOptions) (*build.Build, error) {
	app, err := f.store.GetApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	if !app.Active {
		return nil, errors.ApplicationInactive("application is inactive").Build()
	}
	b := &build.Build{AppID: appID, Branch: app.Branch, PinnedCommit: opts.Commit}
	if opts.Branch != "" {
		b.Branch = opts.Branch
	}
	if err := f.store.CreateBuild(ctx, b); err != nil {
		return nil, err
	}
	f.hub.Publish(build.StatusEvent(b))
	return b, nil
}

func (f *fakeScheduler) Cancel(ctx context.Context, buildID string) (*build.Build, error) {
	b, err := f.store.GetBuild(ctx, buildID)
	if err != nil || b.Status.IsTerminal() {
		return b, err
	}
	return f.store.Transition(ctx, buildID, build.StatusCancelled, store.TransitionOptions{
		Err: errors.Cancelled("build cancelled before it started").Build(),
	})
}

func (f *fakeScheduler) Stats() queue.Stats { return queue.Stats{Workers: 2} }

type harness struct {
	srv       *Server
	store     *store.SQLiteStore
	hub       *broadcast.Hub
	publisher *publish.Publisher
	scheduler *fakeScheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	hub := broadcast.NewHub(st, 32)
	t.Cleanup(hub.Close)

	reg := prometheus.NewRegistry()
	metrics.NewPrometheusRecorder(reg).SetQueueDepth(3)

	pub := publish.NewPublisher(t.TempDir(), "http://localhost:8080")
	sched := &fakeScheduler{store: st, hub: hub}
	srv := NewServer(Options{Addr: ":0", Heartbeat: 50 * time.Millisecond, Gatherer: reg}, sched, st, hub, pub)
	return &harness{srv: srv, store: st, hub: hub, publisher: pub, scheduler: sched}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	require.True(t, env.Success, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp.Code
}

func (h *harness) createApp(t *testing.T, name string) CreateAppResponse {
	t.Helper()
	w := h.do(t, http.MethodPost, "/api/apps", CreateAppRequest{Name: name, RepoURL: "https://example.com/" + name + ".git"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp CreateAppResponse
	decodeData(t, w, &resp)
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 2, resp.Queue.Workers)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "queue_depth")
}

func TestApplicationLifecycle(t *testing.T) {
	h := newHarness(t)

	created := h.createApp(t, "Docs Site")
	assert.Equal(t, "docs-site", created.Application.Slug)
	assert.True(t, created.Application.Active)
	assert.Equal(t, build.StatusQueued, created.Build.Status)
	assert.NotEmpty(t, created.Build.ID)

	w := h.do(t, http.MethodGet, "/api/apps", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var apps []build.Application
	decodeData(t, w, &apps)
	require.Len(t, apps, 1)

	w = h.do(t, http.MethodPatch, "/api/apps/"+created.Application.ID, map[string]any{"branch": "release", "active": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated build.Application
	decodeData(t, w, &updated)
	assert.Equal(t, "release", updated.Branch)
	assert.False(t, updated.Active)
	assert.Equal(t, "docs-site", updated.Slug)

	w = h.do(t, http.MethodGet, "/api/apps/"+created.Application.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodGet, "/api/apps/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ApplicationNotFound", errorCode(t, w))
}

func TestCreateApplicationRejectsInvalidInput(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/apps", CreateAppRequest{Name: " ", RepoURL: "https://example.com/x.git"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidRequest", errorCode(t, w))

	req := httptest.NewRequest(http.MethodPost, "/api/apps", strings.NewReader(`{"name":"x","bogus":1}`))
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitBuild(t *testing.T) {
	h := newHarness(t)
	created := h.createApp(t, "site")

	w := h.do(t, http.MethodPost, "/api/apps/"+created.Application.ID+"/builds", SubmitRequest{Branch: "feature", Commit: "abc123"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var ack SubmitResponse
	decodeData(t, w, &ack)
	assert.Equal(t, build.StatusQueued, ack.Status)

	b, err := h.store.GetBuild(context.Background(), ack.ID)
	require.NoError(t, err)
	assert.Equal(t, "feature", b.Branch)
	assert.Equal(t, "abc123", b.PinnedCommit)

	// An empty body uses the application's defaults.
	req := httptest.NewRequest(http.MethodPost, "/api/apps/"+created.Application.ID+"/builds", nil)
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	w = h.do(t, http.MethodPost, "/api/apps/missing/builds", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ApplicationNotFound", errorCode(t, w))

	h.do(t, http.MethodPatch, "/api/apps/"+created.Application.ID, map[string]any{"active": false})
	w = h.do(t, http.MethodPost, "/api/apps/"+created.Application.ID+"/builds", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ApplicationInactive", errorCode(t, w))
}

func TestBuildReadsAndCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createApp(t, "site")
	buildID := created.Build.ID

	_, err := h.store.AppendLog(ctx, build.LogLine{BuildID: buildID, Stream: build.StreamSystem, Text: "waiting"})
	require.NoError(t, err)

	w := h.do(t, http.MethodGet, "/api/builds/"+buildID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got BuildResponse
	decodeData(t, w, &got)
	assert.Equal(t, build.StatusQueued, got.Status)
	assert.Equal(t, int64(2), got.LastSeq)

	w = h.do(t, http.MethodGet, "/api/builds/"+buildID+"/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var lines []build.LogLine
	decodeData(t, w, &lines)
	require.Len(t, lines, 1)
	assert.Equal(t, "waiting", lines[0].Text)

	w = h.do(t, http.MethodGet, "/api/apps/"+created.Application.ID+"/builds?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var builds []BuildResponse
	decodeData(t, w, &builds)
	require.Len(t, builds, 1)

	w = h.do(t, http.MethodGet, "/api/apps/"+created.Application.ID+"/builds?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for range 2 {
		w = h.do(t, http.MethodPost, "/api/builds/"+buildID+"/cancel", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		decodeData(t, w, &got)
		assert.Equal(t, build.StatusCancelled, got.Status)
	}

	w = h.do(t, http.MethodGet, "/api/builds/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "BuildNotFound", errorCode(t, w))
}

// sseReader yields the decoded data payloads of an event stream.
type sseReader struct {
	t   *testing.T
	rdr *bufio.Reader
}

func (s *sseReader) next() build.Event {
	s.t.Helper()
	for {
		line, err := s.rdr.ReadString('\n')
		require.NoError(s.t, err)
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			var ev build.Event
			require.NoError(s.t, json.Unmarshal([]byte(data), &ev))
			return ev
		}
	}
}

func TestEventStreamReplaysThenFollows(t *testing.T) {
	h := newHarness(t)
	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	created := h.createApp(t, "site")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/apps/"+created.Application.ID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	stream := &sseReader{t: t, rdr: bufio.NewReader(resp.Body)}
	replayed := stream.next()
	assert.Equal(t, created.Build.ID, replayed.BuildID)
	assert.Equal(t, build.StatusQueued, replayed.Status)
	assert.True(t, replayed.Replay)

	b, err := h.store.Transition(context.Background(), created.Build.ID, build.StatusFetching, store.TransitionOptions{Progress: 5})
	require.NoError(t, err)
	h.hub.Publish(build.StatusEvent(b))

	live := stream.next()
	assert.Equal(t, build.StatusFetching, live.Status)
	assert.Equal(t, b.LastSeq, live.Seq)
	assert.False(t, live.Replay)
}

func TestEventStreamSendsHeartbeats(t *testing.T) {
	h := newHarness(t)
	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	created := h.createApp(t, "site")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/apps/"+created.Application.ID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	rdr := bufio.NewReader(resp.Body)
	for {
		line, err := rdr.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, ": heartbeat") {
			return
		}
	}
}

func TestEventStreamUnknownApplication(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/api/apps/missing/events", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Zero(t, h.hub.Subscribers("missing"))
}

func TestWebSocketStream(t *testing.T) {
	h := newHarness(t)
	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	created := h.createApp(t, "site")
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/apps/" + created.Application.ID + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var ev build.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, build.StatusQueued, ev.Status)
	assert.True(t, ev.Replay)

	b, err := h.store.Transition(context.Background(), created.Build.ID, build.StatusFetching, store.TransitionOptions{Progress: 5})
	require.NoError(t, err)
	h.hub.Publish(build.StatusEvent(b))

	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, build.StatusFetching, ev.Status)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return h.hub.Subscribers(created.Application.ID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSitesServeLiveRelease(t *testing.T) {
	h := newHarness(t)
	out := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(out, "index.html"), []byte("<h1>v1</h1>"), 0o600))
	_, err := h.publisher.Publish(context.Background(), "docs", "b1", out)
	require.NoError(t, err)

	w := h.do(t, http.MethodGet, "/sites/docs/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "v1")

	w = h.do(t, http.MethodGet, "/sites/docs", nil)
	assert.Equal(t, http.StatusMovedPermanently, w.Code)
	assert.Equal(t, "/sites/docs/", w.Header().Get("Location"))

	w = h.do(t, http.MethodGet, "/sites/unknown/", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(t, http.MethodGet, "/sites/.hidden/", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
