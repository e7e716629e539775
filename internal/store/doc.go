// Package store is the Build Record Store: the durable, single source of truth
// for applications, builds and their log lines.
//
// Every status change goes through Transition, which enforces the build state
// machine and rejects non-predecessor transitions with an InvalidTransition
// error. Each persisted mutation of a build (status, progress, log line)
// advances the build's sequence counter; the same numbers travel on broadcast
// events so subscribers can splice a replay with the live stream.
package store
