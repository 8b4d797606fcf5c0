package salobj

import (
	"context"
	"fmt"
	"time"
)

// Standard event and command names shared by every CSC.
const (
	EventSummaryState = "summaryState"
	EventHeartbeat    = "heartbeat"

	CommandStart       = "start"
	CommandEnable      = "enable"
	CommandDisable     = "disable"
	CommandStandby     = "standby"
	CommandExitControl = "exitControl"
)

// HeartbeatInterval is how often components publish heartbeats.
const HeartbeatInterval = 5 * time.Second

// DefaultStateTimeout is the per-command timeout SetSummaryState uses when
// given none.
const DefaultStateTimeout = 10 * time.Second

// stateTransitions lists the commands that move a CSC from one summary
// state to another along the shortest path.
var stateTransitions = map[State]map[State][]string{
	StateStandby: {
		StateStandby:  nil,
		StateDisabled: {CommandStart},
		StateEnabled:  {CommandStart, CommandEnable},
		StateOffline:  {CommandExitControl},
	},
	StateDisabled: {
		StateDisabled: nil,
		StateEnabled:  {CommandEnable},
		StateStandby:  {CommandStandby},
		StateOffline:  {CommandStandby, CommandExitControl},
	},
	StateEnabled: {
		StateEnabled:  nil,
		StateDisabled: {CommandDisable},
		StateStandby:  {CommandDisable, CommandStandby},
		StateOffline:  {CommandDisable, CommandStandby, CommandExitControl},
	},
	StateFault: {
		StateStandby:  {CommandStandby},
		StateDisabled: {CommandStandby, CommandStart},
		StateEnabled:  {CommandStandby, CommandStart, CommandEnable},
		StateOffline:  {CommandStandby, CommandExitControl},
	},
}

// TransitionCommands returns the commands that take a CSC from current to
// desired.
func TransitionCommands(current, desired State) ([]string, error) {
	from, ok := stateTransitions[current]
	if !ok {
		return nil, fmt.Errorf("%w: cannot command a CSC in %s", ErrTransition, current)
	}
	cmds, ok := from[desired]
	if !ok {
		return nil, fmt.Errorf("%w: %s -> %s", ErrTransition, current, desired)
	}
	return cmds, nil
}

// SummaryState returns the current summary state, waiting up to timeout for
// the first summaryState sample.
func SummaryState(ctx context.Context, r *Remote, timeout time.Duration) (State, error) {
	s, err := r.Event(EventSummaryState).Aget(ctx, timeout)
	if err != nil {
		return 0, err
	}
	v, err := s.Int("summaryState")
	if err != nil {
		return 0, err
	}
	return State(v), nil
}

// SetSummaryState moves r to desired, issuing the shortest command sequence
// from its current state. override is passed as configurationOverride on
// start. It returns the states passed through, current state first.
func SetSummaryState(ctx context.Context, r *Remote, desired State, override string, timeout time.Duration) ([]State, error) {
	if timeout <= 0 {
		timeout = DefaultStateTimeout
	}
	current, err := SummaryState(ctx, r, timeout)
	if err != nil {
		return nil, fmt.Errorf("reading summary state of %s: %w", r, err)
	}

	cmds, err := TransitionCommands(current, desired)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r, err)
	}

	states := []State{current}
	state := current
	for _, name := range cmds {
		var fields Fields
		if name == CommandStart {
			fields = Fields{"configurationOverride": override}
		}
		if _, err := r.Command(name).SetStart(ctx, fields, timeout); err != nil {
			return states, err
		}
		state = stateAfter(state, name)
		states = append(states, state)
	}
	return states, nil
}

func stateAfter(current State, cmd string) State {
	switch cmd {
	case CommandStart:
		return StateDisabled
	case CommandEnable:
		return StateEnabled
	case CommandDisable:
		return StateDisabled
	case CommandStandby:
		return StateStandby
	case CommandExitControl:
		return StateOffline
	}
	return current
}

// AssertLiveliness waits for a fresh heartbeat from r.
func AssertLiveliness(ctx context.Context, r *Remote, timeout time.Duration) error {
	if _, err := r.Event(EventHeartbeat).Next(ctx, true, timeout); err != nil {
		return fmt.Errorf("no heartbeat from %s in the last %v: %w", r, timeout, err)
	}
	return nil
}

// WaitFor polls evt until match accepts a sample. It flushes the queue,
// checks the latest sample and then every new one. Each wait is bounded by
// perIteration, and a per-iteration timeout is returned as an error; there is
// no overall deadline beyond ctx.
func WaitFor(ctx context.Context, evt *Event, perIteration time.Duration, match func(Sample) bool) (Sample, error) {
	evt.Flush()
	s, err := evt.Aget(ctx, perIteration)
	if err != nil {
		return Sample{}, err
	}
	for !match(s) {
		s, err = evt.Next(ctx, false, perIteration)
		if err != nil {
			return Sample{}, err
		}
	}
	return s, nil
}
