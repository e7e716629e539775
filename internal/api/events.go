package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/webship/internal/broadcast"
	"git.home.luguber.info/inful/webship/internal/build"
	"git.home.luguber.info/inful/webship/internal/foundation/errors"
	"git.home.luguber.info/inful/webship/internal/logfields"
)

// subscribe validates the application and opens a replaying subscription
// bound to the request.
func (s *Server) subscribe(r *http.Request) (*broadcast.Subscription, error) {
	appID := chi.URLParam(r, "appID")
	if _, err := s.store.GetApplication(r.Context(), appID); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(r.Context(), appID)
}

// handleEvents streams an application's build events as Server-Sent Events.
// The stream replays the latest build first and ends when the client goes
// away or the subscriber is dropped for falling behind.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.Error(w, r, errors.InternalError("streaming unsupported").Build())
		return
	}
	sub, err := s.subscribe(r)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	slog.Info("Event stream opened", logfields.AppID(sub.AppID()), logfields.Subscriber(sub.ID()))

	heartbeat := time.NewTicker(s.opts.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Info("Event stream closed (client disconnect)", logfields.AppID(sub.AppID()), logfields.Subscriber(sub.ID()))
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					slog.Warn("Event stream closed", logfields.AppID(sub.AppID()), logfields.Subscriber(sub.ID()), logfields.Error(err))
				}
				return
			}
			if err := writeSSE(w, ev); err != nil {
				slog.Debug("Event stream write failed", logfields.Subscriber(sub.ID()), logfields.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSE writes one event in SSE format, named after its type.
func writeSSE(w http.ResponseWriter, ev build.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
