package build

// Status is the lifecycle state of a Build.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusFetching   Status = "fetching"
	StatusBuilding   Status = "building"
	StatusPublishing Status = "publishing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// validTransitions lists the allowed successors of each status. Terminal
// statuses have no entry.
var validTransitions = map[Status][]Status{
	StatusQueued:     {StatusFetching, StatusFailed, StatusCancelled},
	StatusFetching:   {StatusBuilding, StatusFailed, StatusCancelled},
	StatusBuilding:   {StatusPublishing, StatusFailed, StatusCancelled},
	StatusPublishing: {StatusSucceeded, StatusFailed, StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s has no outgoing transitions.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// IsActive reports whether a worker owns a build in status s.
func (s Status) IsActive() bool {
	return s == StatusFetching || s == StatusBuilding || s == StatusPublishing
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusQueued || s.IsActive() || s.IsTerminal()
}

func (s Status) String() string { return string(s) }

// Rank orders statuses along the pipeline; all terminal statuses share the top rank.
func (s Status) Rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusFetching:
		return 1
	case StatusBuilding:
		return 2
	case StatusPublishing:
		return 3
	default:
		return 4
	}
}
