package history

import "time"

// Run is one execution of a script instance.
type Run struct {
	ID     string `json:"id"`
	Script string `json:"script"`
	Index  int    `json:"index"`
	State  string `json:"state"`

	// Config is the raw YAML configuration the run was given.
	Config string `json:"config,omitempty"`

	// DurationEstimate is the metadata duration in seconds.
	DurationEstimate float64 `json:"duration_estimate"`

	Checkpoints []string   `json:"checkpoints"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ElapsedMS   *int       `json:"elapsed_ms,omitempty"`
}

// Filter narrows ListRuns. Zero values match everything.
type Filter struct {
	Script string
	State  string
	Limit  int
}
