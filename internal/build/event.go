package build

import "time"

// EventType distinguishes stream events.
type EventType string

const (
	EventStatus   EventType = "status"
	EventProgress EventType = "progress"
	EventLog      EventType = "log"
)

// Event is a single lifecycle, progress or log notification for a build.
// Seq increases strictly per build and matches the persisted record.
type Event struct {
	Type      EventType `json:"type"`
	AppID     string    `json:"app_id"`
	BuildID   string    `json:"build_id"`
	Seq       int64     `json:"seq"`
	Status    Status    `json:"status,omitempty"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message,omitempty"`
	Step      string    `json:"step,omitempty"`
	Stream    string    `json:"stream,omitempty"`
	Commit    string    `json:"commit,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Time      time.Time `json:"time"`
	Replay    bool      `json:"replay,omitempty"`
}

// IsTerminal reports whether e closes the build's lifecycle.
func (e Event) IsTerminal() bool {
	return e.Type == EventStatus && e.Status.IsTerminal()
}

// StatusEvent renders b's current status as an event.
func StatusEvent(b *Build) Event {
	ev := Event{
		Type:      EventStatus,
		AppID:     b.AppID,
		BuildID:   b.ID,
		Seq:       b.LastSeq,
		Status:    b.Status,
		Progress:  b.Progress,
		Commit:    b.Commit,
		ErrorKind: b.ErrorKind,
		Message:   b.Error,
		Time:      time.Now().UTC(),
	}
	if ev.Message == "" {
		ev.Message = statusMessage(b.Status)
	}
	return ev
}

// LogEvent renders a persisted log line as an event.
func LogEvent(appID string, l LogLine) Event {
	return Event{
		Type:    EventLog,
		AppID:   appID,
		BuildID: l.BuildID,
		Seq:     l.Seq,
		Step:    l.Step,
		Stream:  l.Stream,
		Message: l.Text,
		Time:    l.Time,
	}
}

func statusMessage(s Status) string {
	switch s {
	case StatusQueued:
		return "Waiting for a worker"
	case StatusFetching:
		return "Fetching source"
	case StatusBuilding:
		return "Running toolchain"
	case StatusPublishing:
		return "Publishing artifact"
	case StatusSucceeded:
		return "Published"
	case StatusCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}

// ProgressEvent reports a progress change committed at seq.
func ProgressEvent(appID, buildID string, seq int64, progress int) Event {
	return Event{
		Type:     EventProgress,
		AppID:    appID,
		BuildID:  buildID,
		Seq:      seq,
		Progress: progress,
		Time:     time.Now().UTC(),
	}
}
