package jobs

import (
	"strings"
	"time"
)

// State represents the lifecycle of a tracked transcode job.
type State string

const (
	StateQueued     State = "queued"
	StateInProgress State = "in_progress"
	StateReady      State = "ready"
	StateFailed     State = "failed"
)

// ErrorCodeOrphaned is recorded when the external service no longer knows
// the job. Orphaned jobs are excluded from automatic retry.
const ErrorCodeOrphaned = "orphaned"

var allStates = []State{StateQueued, StateInProgress, StateReady, StateFailed}

var stateSet = func() map[State]struct{} {
	set := make(map[State]struct{}, len(allStates))
	for _, state := range allStates {
		set[state] = struct{}{}
	}
	return set
}()

// AllStates returns the ordered list of known states.
func AllStates() []State {
	cp := make([]State, len(allStates))
	copy(cp, allStates)
	return cp
}

// ParseState converts a string into a known State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stateSet[normalized]
	return normalized, ok
}

// Terminal reports whether no further processing is expected without an
// explicit retry.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// Job is one tracked unit of external transcoding work.
type Job struct {
	ID              string
	ExternalID      string
	Title           string
	State           State
	ProgressPercent int
	ErrorCode       string
	ErrorMessage    string
	DurationSeconds int64
	PlaybackURL     string
	Revision        int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Orphaned reports whether the job failed because the external service no
// longer knows it.
func (j *Job) Orphaned() bool {
	return j != nil && j.State == StateFailed && j.ErrorCode == ErrorCodeOrphaned
}

// StateChange describes a requested state write. Fields beyond State are
// applied selectively depending on the target state.
type StateChange struct {
	State           State
	ProgressPercent int
	ErrorCode       string
	ErrorMessage    string
	DurationSeconds int64
	PlaybackURL     string
}

// UpsertResult reports the outcome of a conditional state write.
type UpsertResult struct {
	// Applied is true when the write changed the stored row.
	Applied bool
	// Conflict is true when the expected revision was stale for a change
	// that would otherwise still apply; callers should re-read and retry.
	Conflict bool
	// Transitioned is true when Applied and the state differs from Previous.
	Transitioned bool
	// Previous is the state before the write.
	Previous State
	// Job is the stored row after the write (or the untouched row when the
	// write did not apply).
	Job *Job
}

// RetryAttempt is one append-only record of a retry-engine attempt.
type RetryAttempt struct {
	ID            int64
	JobID         string
	AttemptNumber int
	AttemptedAt   time.Time
	Success       bool
	Error         string
}

// HealthSummary aggregates job counts per lifecycle state.
type HealthSummary struct {
	Total      int
	Queued     int
	InProgress int
	Ready      int
	Failed     int
}

// validTransition reports whether moving from one state to another is a
// legal forward transition. Ready is final. Queued may not jump straight
// to Ready: InProgress must be observed from the external source of truth
// first, which catches corrupt webhooks. Failed may be reopened.
func validTransition(from, to State) bool {
	switch from {
	case StateQueued:
		return to == StateInProgress || to == StateFailed
	case StateInProgress:
		return to == StateReady || to == StateFailed
	case StateFailed:
		return to == StateInProgress || to == StateReady
	default:
		return false
	}
}

// changeApplies decides whether a requested change should modify the
// stored row. Same-state redeliveries are dropped unless they advance
// progress while in progress, which keeps replayed webhooks idempotent and
// progress monotonic.
func changeApplies(current *Job, change StateChange) bool {
	if current.State == change.State {
		return current.State == StateInProgress && change.ProgressPercent > current.ProgressPercent
	}
	return validTransition(current.State, change.State)
}

func clampProgress(value int) int {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}
