package script

import "context"

// Script is one standard script.
type Script interface {
	// Schema returns the configuration schema as a YAML JSON-Schema document,
	// or "" when the script takes no configuration.
	Schema() string

	// Configure validates and stores raw YAML configuration.
	Configure(ctx context.Context, raw []byte) error

	// SetMetadata fills in the duration estimate. Called once, after a
	// successful Configure.
	SetMetadata(md *Metadata)

	// Run executes the script.
	Run(ctx context.Context, cp Checkpointer) error
}

// Checkpointer records progress markers during Run.
type Checkpointer interface {
	Checkpoint(ctx context.Context, name string) error
}

// CheckpointFunc adapts a function to Checkpointer.
type CheckpointFunc func(ctx context.Context, name string) error

// Checkpoint calls f.
func (f CheckpointFunc) Checkpoint(ctx context.Context, name string) error {
	return f(ctx, name)
}

// Metadata describes a configured script before it runs.
type Metadata struct {
	// Duration is the estimated run time in seconds.
	Duration float64 `json:"duration"`

	Instrument       string `json:"instrument,omitempty"`
	Filters          string `json:"filters,omitempty"`
	Dome             string `json:"dome,omitempty"`
	Survey           string `json:"survey,omitempty"`
	TotalCheckpoints int    `json:"totalCheckpoints,omitempty"`
}

// State is the lifecycle state of a script instance.
type State string

// Script states.
const (
	StateUnconfigured    State = "UNCONFIGURED"
	StateConfiguring     State = "CONFIGURING"
	StateConfigured      State = "CONFIGURED"
	StateConfigureFailed State = "CONFIGURE_FAILED"
	StateRunning         State = "RUNNING"
	StateDone            State = "DONE"
	StateFailed          State = "FAILED"
	StateStopped         State = "STOPPED"
)

// Final reports whether no further transition follows s.
func (s State) Final() bool {
	switch s {
	case StateDone, StateFailed, StateStopped, StateConfigureFailed:
		return true
	}
	return false
}
