package mqtt

import (
	"encoding/json"
	"time"
)

// Runner status values published on Topics.RunnerStatus.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Offline reasons.
const (
	ReasonShutdown   = "graceful_shutdown"
	ReasonConnection = "unexpected_disconnect"
)

// RunnerStatus is the retained presence record of a script runner. The
// broker publishes the offline record with ReasonConnection as the will
// message when the runner vanishes.
type RunnerStatus struct {
	Status    string    `json:"status"`
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newRunnerStatus(clientID, status, reason string) RunnerStatus {
	return RunnerStatus{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}
}

// payload never fails: every field is a string or a time.
func (s RunnerStatus) payload() []byte {
	data, _ := json.Marshal(s)
	return data
}
