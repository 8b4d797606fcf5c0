package salobj

import (
	"fmt"
	"strings"
)

// State is a CSC summary state.
type State int

// Summary states, numbered as the components publish them.
const (
	StateDisabled State = 1
	StateEnabled  State = 2
	StateFault    State = 3
	StateOffline  State = 4
	StateStandby  State = 5
)

var stateNames = map[State]string{
	StateDisabled: "DISABLED",
	StateEnabled:  "ENABLED",
	StateFault:    "FAULT",
	StateOffline:  "OFFLINE",
	StateStandby:  "STANDBY",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState converts a case-insensitive state name to a State.
func ParseState(name string) (State, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for s, n := range stateNames {
		if n == upper {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidState, name)
}

// AckCode is the outcome carried by a command acknowledgement.
type AckCode string

// Acknowledgement codes.
const (
	AckComplete   AckCode = "COMPLETE"
	AckInProgress AckCode = "INPROGRESS"
	AckFailed     AckCode = "FAILED"
	AckNoPerm     AckCode = "NOPERM"
	AckNoAck      AckCode = "NOACK"
	AckTimeout    AckCode = "TIMEOUT"
	AckAborted    AckCode = "ABORTED"
)

// Final reports whether no further acknowledgement follows this one.
func (a AckCode) Final() bool {
	return a != AckInProgress
}

// Good reports whether the command is progressing or done without error.
func (a AckCode) Good() bool {
	return a == AckComplete || a == AckInProgress
}
