// Package api defines the JSON contract between the daemon and its
// clients, plus the view services that project store records into it.
package api

import "time"

// JobView is the wire representation of one tracked job.
type JobView struct {
	ID              string    `json:"id"`
	ExternalID      string    `json:"externalId,omitempty"`
	Title           string    `json:"title"`
	State           string    `json:"state"`
	ProgressPercent int       `json:"progressPercent"`
	ErrorCode       string    `json:"errorCode,omitempty"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	DurationSeconds int64     `json:"durationSeconds,omitempty"`
	PlaybackURL     string    `json:"playbackUrl,omitempty"`
	Revision        int64     `json:"revision"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// AttemptView is the wire representation of one retry attempt.
type AttemptView struct {
	AttemptNumber int       `json:"attemptNumber"`
	AttemptedAt   time.Time `json:"attemptedAt"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
}

// JobListResponse wraps the job listing endpoint.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// JobDetailResponse wraps the single-job endpoint.
type JobDetailResponse struct {
	Job      JobView       `json:"job"`
	Attempts []AttemptView `json:"attempts,omitempty"`
}

// RegisterJobRequest creates a tracked job.
type RegisterJobRequest struct {
	Title      string `json:"title"`
	ExternalID string `json:"externalId,omitempty"`
}

// DaemonStatus reports daemon runtime information.
type DaemonStatus struct {
	Running      bool        `json:"running"`
	PID          int         `json:"pid"`
	Reconciling  bool        `json:"reconciling"`
	DBPath       string      `json:"dbPath"`
	LockFilePath string      `json:"lockFilePath"`
	Jobs         StateCounts `json:"jobs"`
}

// StateCounts aggregates job counts per lifecycle state.
type StateCounts struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	InProgress int `json:"inProgress"`
	Ready      int `json:"ready"`
	Failed     int `json:"failed"`
}

// MonitorResponse is the operator monitor view.
type MonitorResponse struct {
	Counts                StateCounts `json:"counts"`
	Stuck                 []JobView   `json:"stuck,omitempty"`
	StuckThresholdMinutes int         `json:"stuckThresholdMinutes,omitempty"`
}

// PollResponse reports a synchronously triggered reconciliation cycle.
type PollResponse struct {
	Checked   int         `json:"checked"`
	Applied   int         `json:"applied"`
	Recovered int         `json:"recovered"`
	Skipped   int         `json:"skipped"`
	Errors    int         `json:"errors"`
	Counts    StateCounts `json:"counts"`
}

// RetryRequest triggers the retry engine. An empty JobID retries every
// failed job.
type RetryRequest struct {
	JobID      string `json:"jobId,omitempty"`
	MaxRetries int    `json:"maxRetries,omitempty"`
}

// RetryOutcomeView is the wire form of one retry sequence result.
type RetryOutcomeView struct {
	JobID     string `json:"jobId"`
	Recovered bool   `json:"recovered"`
	Attempts  int    `json:"attempts"`
	Orphaned  bool   `json:"orphaned,omitempty"`
}

// RetryResponse reports a retry invocation.
type RetryResponse struct {
	Outcomes  []RetryOutcomeView `json:"outcomes"`
	Recovered int                `json:"recovered"`
}

// TestNotificationResponse reports a notification test.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
