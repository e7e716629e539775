package build

import "time"

// Application is a registered source project the pipeline can build and publish.
type Application struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	OwnerID string `json:"owner_id,omitempty"`
	RepoURL string `json:"repo_url"`
	Branch  string `json:"branch"`
	Active  bool   `json:"active"`

	// ArtifactPath points at the live release directory. Empty until the
	// first successful build; changed only by a Succeeded transition.
	ArtifactPath string `json:"artifact_path,omitempty"`
	ArtifactURL  string `json:"artifact_url,omitempty"`
	LastBuildID  string `json:"last_build_id,omitempty"`
	LastError    string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Build is one attempt to compile and publish a revision of an Application.
type Build struct {
	ID           string `json:"id"`
	AppID        string `json:"app_id"`
	Branch       string `json:"branch"`
	PinnedCommit string `json:"pinned_commit,omitempty"`
	Status       Status `json:"status"`
	Progress     int    `json:"progress"`
	Commit       string `json:"commit,omitempty"`
	ArtifactPath string `json:"artifact_path,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Error        string `json:"error,omitempty"`

	// LastSeq is the sequence number of the most recent persisted event.
	LastSeq int64 `json:"last_seq"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Duration returns the run time of a started build; zero if not started.
func (b *Build) Duration() time.Duration {
	if b.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if b.CompletedAt != nil {
		end = *b.CompletedAt
	}
	return end.Sub(*b.StartedAt)
}

// Log streams.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
	StreamSystem = "system"
)

// LogLine is one append-only output line of a build.
type LogLine struct {
	BuildID string    `json:"build_id"`
	Seq     int64     `json:"seq"`
	Step    string    `json:"step,omitempty"`
	Stream  string    `json:"stream"`
	Text    string    `json:"text"`
	Time    time.Time `json:"time"`
}

// Snapshot is a consistent read of an application's visible build state used
// to replay history to a new subscriber.
type Snapshot struct {
	// Current is the active build, or the most recent one when none is active.
	Current *Build
	Logs    []LogLine
	// Queued are builds waiting in the lane behind Current.
	Queued []Build
}
