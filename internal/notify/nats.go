package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/webship/internal/build"
	"git.home.luguber.info/inful/webship/internal/config"
	"git.home.luguber.info/inful/webship/internal/logfields"
)

const (
	queueSize      = 128
	publishTimeout = 5 * time.Second
)

// BuildOutcome is the message published for every build reaching a terminal status.
type BuildOutcome struct {
	AppID     string       `json:"app_id"`
	BuildID   string       `json:"build_id"`
	Status    build.Status `json:"status"`
	Commit    string       `json:"commit,omitempty"`
	ErrorKind string       `json:"error_kind,omitempty"`
	Message   string       `json:"message,omitempty"`
	Time      time.Time    `json:"time"`
}

// publisher is the slice of jetstream.JetStream the notifier uses.
type publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Notifier publishes build outcomes from a background goroutine.
type Notifier struct {
	js      publisher
	subject string
	closeFn func()

	queue chan BuildOutcome
	stop  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// NewNATSNotifier connects to NATS and ensures the outcome stream exists.
func NewNATSNotifier(ctx context.Context, cfg config.NATSConfig) (*Notifier, error) {
	conn, err := nats.Connect(cfg.URL, nats.Name("webship"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := js.CreateOrUpdateStream(sctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "Terminal build outcomes",
		Subjects:    []string{cfg.Subject + ".>"},
		MaxAge:      7 * 24 * time.Hour,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", cfg.Stream, err)
	}

	slog.Info("NATS notifier initialized", logfields.URL(cfg.URL), slog.String("subject", cfg.Subject), slog.String("stream", cfg.Stream))
	return newNotifier(js, cfg.Subject, conn.Close), nil
}

func newNotifier(js publisher, subject string, closeFn func()) *Notifier {
	n := &Notifier{
		js:      js,
		subject: subject,
		closeFn: closeFn,
		queue:   make(chan BuildOutcome, queueSize),
		stop:    make(chan struct{}),
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

// Tap accepts events from the broadcaster. Only terminal status events are
// forwarded; when the queue is full the outcome is dropped with a warning.
func (n *Notifier) Tap(ev build.Event) {
	if !ev.IsTerminal() {
		return
	}
	out := BuildOutcome{
		AppID:     ev.AppID,
		BuildID:   ev.BuildID,
		Status:    ev.Status,
		Commit:    ev.Commit,
		ErrorKind: ev.ErrorKind,
		Message:   ev.Message,
		Time:      ev.Time,
	}
	select {
	case <-n.stop:
	case n.queue <- out:
	default:
		slog.Warn("Notification queue full, dropping build outcome", logfields.BuildID(ev.BuildID), logfields.AppID(ev.AppID))
	}
}

// Close flushes queued outcomes and closes the connection.
func (n *Notifier) Close() {
	n.once.Do(func() {
		close(n.stop)
		n.wg.Wait()
		if n.closeFn != nil {
			n.closeFn()
		}
	})
}

func (n *Notifier) loop() {
	defer n.wg.Done()
	for {
		select {
		case out := <-n.queue:
			n.publish(out)
		case <-n.stop:
			for {
				select {
				case out := <-n.queue:
					n.publish(out)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) publish(out BuildOutcome) {
	data, err := json.Marshal(out)
	if err != nil {
		slog.Error("Failed to marshal build outcome", logfields.BuildID(out.BuildID), logfields.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	subject := n.subject + "." + out.AppID
	if _, err := n.js.Publish(ctx, subject, data); err != nil {
		slog.Warn("Failed to publish build outcome", logfields.BuildID(out.BuildID), slog.String("subject", subject), logfields.Error(err))
		return
	}
	slog.Debug("Published build outcome", logfields.BuildID(out.BuildID), logfields.Status(string(out.Status)))
}
