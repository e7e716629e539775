// Package broadcast fans build events out to per-application subscribers.
//
// Publishing never blocks: every subscriber owns a bounded buffer and a
// subscriber whose buffer is full is disconnected rather than losing events
// silently. A new subscriber first receives a replay of the application's
// persisted state (current build status, its log lines, queued builds) and
// then live events, with events already covered by the replay filtered out.
package broadcast
