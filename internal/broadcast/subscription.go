package broadcast

import (
	"context"
	"sync"

	"git.home.luguber.info/inful/webship/internal/build"
)

// Subscription is one subscriber's view of an application's event stream.
type Subscription struct {
	id    uint64
	appID string
	hub   *Hub

	live chan build.Event
	out  chan build.Event
	done chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

// ID identifies the subscription within its hub.
func (s *Subscription) ID() uint64 { return s.id }

// AppID returns the subscribed application.
func (s *Subscription) AppID() string { return s.appID }

// Events yields replayed and then live events. It is closed when the
// subscription ends; Err then reports why.
func (s *Subscription) Events() <-chan build.Event { return s.out }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns the reason the subscription ended, or nil for a normal close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close detaches the subscriber.
func (s *Subscription) Close() { s.hub.remove(s, nil) }

func (s *Subscription) finish(reason error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = reason
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) pump(ctx context.Context, replay []build.Event, covered map[string]int64) {
	defer close(s.out)
	defer s.hub.remove(s, nil)

	for _, ev := range replay {
		if !s.send(ctx, ev) {
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case ev := <-s.live:
			if last, ok := covered[ev.BuildID]; ok && ev.Seq <= last {
				continue
			}
			if !s.send(ctx, ev) {
				return
			}
		}
	}
}

func (s *Subscription) send(ctx context.Context, ev build.Event) bool {
	select {
	case s.out <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	}
}
