// Package queue schedules builds.
//
// Every application owns a lane: builds for one application run strictly one
// at a time in submission order, while a fixed pool of workers bounds how
// many applications build concurrently. A worker drives a build through
// Fetching, Building and Publishing and records the outcome; all record
// writes and event publications for a build go through that build's journal,
// a single writer that keeps store sequence numbers and broadcast order in
// step without blocking the worker on subscribers.
package queue
