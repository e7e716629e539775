package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"git.home.luguber.info/inful/webship/internal/broadcast"
	"git.home.luguber.info/inful/webship/internal/logfields"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Clients only send control frames.
	maxClientMessage = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleWebSocket streams the same events as handleEvents over a WebSocket,
// one JSON text message per event. Pings are sent every heartbeat and a peer
// that stops answering them is disconnected.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Validate before upgrading so failures still get a JSON error.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub, err := s.subscribe(r.WithContext(ctx))
	if err != nil {
		s.Error(w, r, err)
		return
	}
	defer sub.Close()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", logfields.AppID(sub.AppID()), logfields.Error(err))
		return
	}
	defer ws.Close()

	slog.Info("WebSocket stream opened", logfields.AppID(sub.AppID()), logfields.Subscriber(sub.ID()))

	go s.readControl(ws, cancel)
	s.writeEvents(ctx, ws, sub)
}

// readControl consumes client frames so pongs and close frames are processed.
// Any read error ends the stream.
func (s *Server) readControl(ws *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	pongWait := 2 * s.opts.Heartbeat
	ws.SetReadLimit(maxClientMessage)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("WebSocket closed unexpectedly", logfields.Error(err))
			}
			return
		}
	}
}

func (s *Server) writeEvents(ctx context.Context, ws *websocket.Conn, sub *broadcast.Subscription) {
	ticker := time.NewTicker(s.opts.Heartbeat)
	defer ticker.Stop()

	closeWith := func(code int, text string) {
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
	}

	for {
		select {
		case <-ctx.Done():
			closeWith(websocket.CloseNormalClosure, "")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					slog.Warn("WebSocket stream closed", logfields.AppID(sub.AppID()), logfields.Subscriber(sub.ID()), logfields.Error(err))
					closeWith(websocket.CloseTryAgainLater, err.Error())
					return
				}
				closeWith(websocket.CloseNormalClosure, "")
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
