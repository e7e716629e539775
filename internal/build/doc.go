// Package build holds the domain model of the pipeline: applications, builds,
// their status state machine, log lines and the events fanned out to
// subscribers. It has no dependencies on storage or transport.
package build
