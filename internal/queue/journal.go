package queue

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/webship/internal/build"
	"git.home.luguber.info/inful/webship/internal/foundation/errors"
	"git.home.luguber.info/inful/webship/internal/logfields"
	"git.home.luguber.info/inful/webship/internal/metrics"
	"git.home.luguber.info/inful/webship/internal/store"
)

// journal is the single writer for one running build. Entries are committed
// to the store in submission order and each committed entry is published with
// the sequence number the store assigned. Log lines are never dropped: a full
// buffer blocks the producer until the store catches up.
type journal struct {
	appID   string
	buildID string

	store    Store
	hub      Broadcaster
	recorder metrics.Recorder

	entries chan journalEntry
	done    chan struct{}
}

type journalEntry struct {
	line       *build.LogLine
	progress   int
	transition *transitionRequest
}

type transitionRequest struct {
	to    build.Status
	opts  store.TransitionOptions
	reply chan transitionReply
}

type transitionReply struct {
	build *build.Build
	err   error
}

func newJournal(appID, buildID string, st Store, hub Broadcaster, rec metrics.Recorder, buffer int) *journal {
	if buffer <= 0 {
		buffer = 256
	}
	j := &journal{
		appID:    appID,
		buildID:  buildID,
		store:    st,
		hub:      hub,
		recorder: rec,
		entries:  make(chan journalEntry, buffer),
		done:     make(chan struct{}),
	}
	go j.loop()
	return j
}

// Log queues an output line.
func (j *journal) Log(step, stream, text string) {
	j.entries <- journalEntry{line: &build.LogLine{BuildID: j.buildID, Step: step, Stream: stream, Text: text}}
}

// System queues a pipeline message.
func (j *journal) System(step, text string) {
	j.Log(step, build.StreamSystem, text)
}

// Progress queues a progress update.
func (j *journal) Progress(p int) {
	j.entries <- journalEntry{progress: p}
}

// Transition commits a status change after everything queued before it and
// returns the updated build.
func (j *journal) Transition(to build.Status, opts store.TransitionOptions) (*build.Build, error) {
	req := &transitionRequest{to: to, opts: opts, reply: make(chan transitionReply, 1)}
	j.entries <- journalEntry{transition: req}
	r := <-req.reply
	return r.build, r.err
}

// Close flushes pending entries and stops the writer.
func (j *journal) Close() {
	close(j.entries)
	<-j.done
}

func (j *journal) loop() {
	defer close(j.done)
	// Writes outlive the build context: a cancelled build still records its
	// last lines and its terminal status.
	ctx := context.Background()
	for e := range j.entries {
		switch {
		case e.transition != nil:
			b, err := j.store.Transition(ctx, j.buildID, e.transition.to, e.transition.opts)
			if err != nil {
				j.transitionFailed(e.transition.to, err)
			} else {
				j.hub.Publish(build.StatusEvent(b))
			}
			e.transition.reply <- transitionReply{build: b, err: err}
		case e.line != nil:
			line, err := j.store.AppendLog(ctx, *e.line)
			if err != nil {
				slog.Warn("Dropping build log line", logfields.BuildID(j.buildID), logfields.Error(err))
				continue
			}
			j.hub.Publish(build.LogEvent(j.appID, line))
		default:
			seq, err := j.store.SetProgress(ctx, j.buildID, e.progress)
			if err != nil {
				slog.Warn("Failed to record build progress", logfields.BuildID(j.buildID), logfields.Error(err))
				continue
			}
			if seq > 0 {
				j.hub.Publish(build.ProgressEvent(j.appID, j.buildID, seq, e.progress))
			}
		}
	}
}

func (j *journal) transitionFailed(to build.Status, err error) {
	if errors.HasKind(err, errors.KindInvalidTransition) {
		j.recorder.IncInvalidTransition()
		slog.Error("Rejected build status transition",
			logfields.BuildID(j.buildID),
			logfields.AppID(j.appID),
			logfields.Status(string(to)),
			logfields.Error(err))
		return
	}
	slog.Error("Failed to record build status", logfields.BuildID(j.buildID), logfields.Status(string(to)), logfields.Error(err))
}
