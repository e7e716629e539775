// Package daemon assembles the long-running build service: record store,
// scheduler, status broadcaster, HTTP API, janitor and configuration watcher.
package daemon
