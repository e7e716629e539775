package metrics

import "time"

// Recorder defines observability hooks for the build pipeline. Implementations
// may forward to Prometheus; NoopRecorder is the default when metrics are off.
type Recorder interface {
	ObserveBuildDuration(status string, d time.Duration)
	IncBuildOutcome(status, errorKind string)
	ObserveStepDuration(step string, d time.Duration, success bool)
	ObserveFetchDuration(d time.Duration, success bool)
	IncFetchRetry()
	SetQueueDepth(n int)
	SetBusyWorkers(n int)
	SetSubscribers(n int)
	IncSubscriberDropped()
	IncInvalidTransition()
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveBuildDuration(string, time.Duration)      {}
func (NoopRecorder) IncBuildOutcome(string, string)                  {}
func (NoopRecorder) ObserveStepDuration(string, time.Duration, bool) {}
func (NoopRecorder) ObserveFetchDuration(time.Duration, bool)        {}
func (NoopRecorder) IncFetchRetry()                                  {}
func (NoopRecorder) SetQueueDepth(int)                               {}
func (NoopRecorder) SetBusyWorkers(int)                              {}
func (NoopRecorder) SetSubscribers(int)                              {}
func (NoopRecorder) IncSubscriberDropped()                           {}
func (NoopRecorder) IncInvalidTransition()                           {}
