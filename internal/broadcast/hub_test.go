package broadcast

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/webship/internal/build"
)

type fakeSource struct {
	snap *build.Snapshot
	err  error
}

func (f fakeSource) Snapshot(context.Context, string) (*build.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.snap == nil {
		return &build.Snapshot{}, nil
	}
	return f.snap, nil
}

func logEv(buildID string, seq int64, text string) build.Event {
	return build.Event{Type: build.EventLog, AppID: "app-1", BuildID: buildID, Seq: seq, Message: text}
}

func next(t *testing.T, sub *Subscription) build.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed early: %v", sub.Err())
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return build.Event{}
	}
}

func TestSubscribe_ReplayThenLiveWithoutDuplicates(t *testing.T) {
	current := &build.Build{ID: "b1", AppID: "app-1", Status: build.StatusBuilding, Progress: 40, LastSeq: 5}
	queued := build.Build{ID: "b2", AppID: "app-1", Status: build.StatusQueued, LastSeq: 1}
	hub := NewHub(fakeSource{snap: &build.Snapshot{
		Current: current,
		Logs: []build.LogLine{
			{BuildID: "b1", Seq: 3, Stream: build.StreamStdout, Text: "resolving"},
			{BuildID: "b1", Seq: 4, Stream: build.StreamStdout, Text: "compiling"},
		},
		Queued: []build.Build{queued},
	}}, 16)

	sub, err := hub.Subscribe(context.Background(), "app-1")
	require.NoError(t, err)
	defer sub.Close()

	// Already covered by the replay.
	hub.Publish(logEv("b1", 4, "compiling"))
	hub.Publish(build.Event{Type: build.EventProgress, AppID: "app-1", BuildID: "b1", Seq: 5, Progress: 40})
	hub.Publish(build.Event{Type: build.EventStatus, AppID: "app-1", BuildID: "b2", Seq: 1, Status: build.StatusQueued})
	// New.
	hub.Publish(logEv("b1", 6, "linking"))

	first := next(t, sub)
	assert.Equal(t, build.EventStatus, first.Type)
	assert.Equal(t, build.StatusBuilding, first.Status)
	assert.True(t, first.Replay)

	assert.Equal(t, "resolving", next(t, sub).Message)
	assert.Equal(t, "compiling", next(t, sub).Message)

	q := next(t, sub)
	assert.Equal(t, "b2", q.BuildID)
	assert.True(t, q.Replay)

	live := next(t, sub)
	assert.Equal(t, int64(6), live.Seq)
	assert.Equal(t, "linking", live.Message)
	assert.False(t, live.Replay)
}

func TestPublish_SlowSubscriberIsDropped(t *testing.T) {
	hub := NewHub(fakeSource{}, 2)
	slow, err := hub.Subscribe(context.Background(), "app-1")
	require.NoError(t, err)
	fast, err := hub.Subscribe(context.Background(), "app-1")
	require.NoError(t, err)

	var got []int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range fast.Events() {
			got = append(got, ev.Seq)
			if ev.Seq == 10 {
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := int64(1); i <= 10; i++ {
			hub.Publish(logEv("b1", i, "line"))
			// Keep the fast reader ahead of its buffer.
			time.Sleep(5 * time.Millisecond)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	select {
	case <-slow.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("slow subscriber was not dropped")
	}
	assert.ErrorIs(t, slow.Err(), ErrSlowConsumer)

	wg.Wait()
	assert.Len(t, got, 10)
	for i, seq := range got {
		assert.Equal(t, int64(i+1), seq)
	}
	fast.Close()
	assert.Eventually(t, func() bool { return hub.Subscribers("app-1") == 0 }, time.Second, 10*time.Millisecond)
}

func TestPublish_IsolatesApplications(t *testing.T) {
	hub := NewHub(fakeSource{}, 4)
	sub, err := hub.Subscribe(context.Background(), "app-1")
	require.NoError(t, err)
	defer sub.Close()

	hub.Publish(build.Event{Type: build.EventLog, AppID: "app-2", BuildID: "x", Seq: 1})
	hub.Publish(logEv("b1", 1, "mine"))
	assert.Equal(t, "mine", next(t, sub).Message)
}

func TestSubscribe_ContextCancelDetaches(t *testing.T) {
	hub := NewHub(fakeSource{}, 4)
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := hub.Subscribe(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers("app-1"))

	cancel()
	assert.Eventually(t, func() bool { return hub.Subscribers("app-1") == 0 }, time.Second, 10*time.Millisecond)
	_, open := <-sub.Events()
	assert.False(t, open)
	assert.NoError(t, sub.Err())
}

func TestSubscribe_SnapshotErrorLeavesNoSubscriber(t *testing.T) {
	boom := stderrors.New("no such app")
	hub := NewHub(fakeSource{err: boom}, 4)
	_, err := hub.Subscribe(context.Background(), "app-1")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, hub.Subscribers("app-1"))
}

func TestClose_EndsSubscriptions(t *testing.T) {
	hub := NewHub(fakeSource{}, 4)
	sub, err := hub.Subscribe(context.Background(), "app-1")
	require.NoError(t, err)

	hub.Close()
	<-sub.Done()
	assert.ErrorIs(t, sub.Err(), ErrHubClosed)

	_, err = hub.Subscribe(context.Background(), "app-1")
	assert.Error(t, err)
	hub.Publish(logEv("b1", 1, "ignored"))
}

func TestAddTap_SeesEveryEvent(t *testing.T) {
	hub := NewHub(fakeSource{}, 4)
	var mu sync.Mutex
	var seen []build.Event
	hub.AddTap(func(ev build.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev)
	})
	hub.Publish(logEv("b1", 1, "a"))
	hub.Publish(build.Event{Type: build.EventLog, AppID: "app-2", BuildID: "b9", Seq: 1})
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 2)
}
