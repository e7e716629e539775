package broadcast

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/webship/internal/build"
	"git.home.luguber.info/inful/webship/internal/foundation/errors"
	"git.home.luguber.info/inful/webship/internal/logfields"
	"git.home.luguber.info/inful/webship/internal/metrics"
)

// DefaultBufferSize is the per-subscriber buffer used when none is configured.
const DefaultBufferSize = 256

var (
	// ErrSlowConsumer ends a subscription whose buffer overflowed.
	ErrSlowConsumer = stderrors.New("subscriber too slow: event buffer overflowed")
	// ErrHubClosed ends subscriptions when the hub shuts down.
	ErrHubClosed = stderrors.New("broadcaster closed")
)

// SnapshotSource supplies the persisted state replayed to new subscribers.
type SnapshotSource interface {
	Snapshot(ctx context.Context, appID string) (*build.Snapshot, error)
}

// Tap observes every published event. Taps run on the publisher's goroutine
// and must not block.
type Tap func(build.Event)

// Hub is the per-application subscriber registry.
type Hub struct {
	source   SnapshotSource
	buffer   int
	recorder metrics.Recorder

	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]*Subscription
	count  int
	taps   []Tap
	closed bool
}

// NewHub creates a hub replaying from source. bufferSize <= 0 uses DefaultBufferSize.
func NewHub(source SnapshotSource, bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		source:   source,
		buffer:   bufferSize,
		recorder: metrics.NoopRecorder{},
		subs:     make(map[string]map[uint64]*Subscription),
	}
}

// WithRecorder attaches a metrics recorder.
func (h *Hub) WithRecorder(r metrics.Recorder) *Hub {
	if r != nil {
		h.recorder = r
	}
	return h
}

// AddTap registers an observer for all published events.
func (h *Hub) AddTap(t Tap) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.taps = append(h.taps, t)
}

// Subscribers returns the number of live subscriptions for appID.
func (h *Hub) Subscribers(appID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[appID])
}

// Subscribe registers a subscriber for appID and starts delivery: first the
// replay of persisted state, then live events. The subscription ends when ctx
// is done, Close is called, the buffer overflows or the hub shuts down.
func (h *Hub) Subscribe(ctx context.Context, appID string) (*Subscription, error) {
	sub, err := h.register(appID)
	if err != nil {
		return nil, err
	}
	// Registered before the snapshot: anything committed after the snapshot
	// reaches the live buffer.
	snap, err := h.source.Snapshot(ctx, appID)
	if err != nil {
		h.remove(sub, nil)
		return nil, err
	}
	replay, covered := replayOf(appID, snap)
	go sub.pump(ctx, replay, covered)
	slog.Debug("Subscriber attached", logfields.AppID(appID), logfields.Subscriber(sub.id), slog.Int("replay", len(replay)))
	return sub, nil
}

// Publish delivers ev to every subscriber of ev.AppID without blocking.
// Subscribers whose buffer is full are disconnected.
func (h *Hub) Publish(ev build.Event) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	taps := h.taps
	var overflow []*Subscription
	for _, s := range h.subs[ev.AppID] {
		select {
		case s.live <- ev:
		default:
			overflow = append(overflow, s)
		}
	}
	h.mu.RUnlock()

	for _, t := range taps {
		t(ev)
	}
	for _, s := range overflow {
		h.recorder.IncSubscriberDropped()
		slog.Warn("Dropping slow subscriber", logfields.AppID(ev.AppID), logfields.Subscriber(s.id), logfields.BuildID(ev.BuildID))
		h.remove(s, ErrSlowConsumer)
	}
}

// Close ends every subscription and ignores later publishes.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	all := h.subs
	h.subs = make(map[string]map[uint64]*Subscription)
	h.count = 0
	h.mu.Unlock()
	for _, byID := range all {
		for _, s := range byID {
			s.finish(ErrHubClosed)
		}
	}
	h.recorder.SetSubscribers(0)
}

func (h *Hub) register(appID string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.DaemonError("broadcaster is shutting down").Build()
	}
	h.nextID++
	s := &Subscription{
		id:    h.nextID,
		appID: appID,
		hub:   h,
		live:  make(chan build.Event, h.buffer),
		out:   make(chan build.Event),
		done:  make(chan struct{}),
	}
	if h.subs[appID] == nil {
		h.subs[appID] = make(map[uint64]*Subscription)
	}
	h.subs[appID][s.id] = s
	h.count++
	h.recorder.SetSubscribers(h.count)
	return s, nil
}

func (h *Hub) remove(s *Subscription, reason error) {
	h.mu.Lock()
	if byID, ok := h.subs[s.appID]; ok {
		if _, ok := byID[s.id]; ok {
			delete(byID, s.id)
			h.count--
			if len(byID) == 0 {
				delete(h.subs, s.appID)
			}
			h.recorder.SetSubscribers(h.count)
		}
	}
	h.mu.Unlock()
	s.finish(reason)
}

// replayOf renders a snapshot as replay events and records, per build, the
// highest seq the replay covers.
func replayOf(appID string, snap *build.Snapshot) ([]build.Event, map[string]int64) {
	covered := make(map[string]int64)
	if snap == nil {
		return nil, covered
	}
	var events []build.Event
	if snap.Current != nil {
		ev := build.StatusEvent(snap.Current)
		ev.Replay = true
		events = append(events, ev)
		covered[snap.Current.ID] = snap.Current.LastSeq
		for _, l := range snap.Logs {
			lev := build.LogEvent(appID, l)
			lev.Replay = true
			events = append(events, lev)
		}
	}
	for i := range snap.Queued {
		ev := build.StatusEvent(&snap.Queued[i])
		ev.Replay = true
		events = append(events, ev)
		covered[snap.Queued[i].ID] = snap.Queued[i].LastSeq
	}
	return events, covered
}
