package observatory

import (
	"context"
	"fmt"

	"github.com/lsst-ts/ts-standardscripts/internal/salobj"
)

// Queue selects a script queue. Its value is the ScriptQueue and Scheduler
// index for that telescope.
type Queue int

// Script queues.
const (
	MainTel Queue = 1
	AuxTel  Queue = 2
)

func (q Queue) String() string {
	switch q {
	case MainTel:
		return "MAIN_TEL"
	case AuxTel:
		return "AUX_TEL"
	}
	return fmt.Sprintf("Queue(%d)", int(q))
}

// ParseQueue converts "MAIN_TEL" or "AUX_TEL" to a Queue.
func ParseQueue(name string) (Queue, error) {
	switch name {
	case "MAIN_TEL":
		return MainTel, nil
	case "AUX_TEL":
		return AuxTel, nil
	}
	return 0, fmt.Errorf("invalid queue %q", name)
}

// ScriptQueue is the remote of one script queue.
type ScriptQueue struct {
	remote *salobj.Remote
}

// NewScriptQueue creates the remote of queue q.
func NewScriptQueue(domain *salobj.Domain, q Queue) *ScriptQueue {
	return &ScriptQueue{remote: salobj.NewRemote(domain, "ScriptQueue", int(q))}
}

// Pause stops the queue from starting new scripts.
func (s *ScriptQueue) Pause(ctx context.Context) error {
	_, err := s.remote.Command("pause").Start(ctx, FastTimeout*2)
	return err
}
