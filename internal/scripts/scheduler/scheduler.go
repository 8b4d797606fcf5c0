package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
	"github.com/lsst-ts/ts-standardscripts/internal/observatory"
	"github.com/lsst-ts/ts-standardscripts/internal/salobj"
)

// commandTimeout bounds every Scheduler command, and is also the duration
// estimate of every scheduler script.
const commandTimeout = 30 * time.Second

// queueIndexDivisor maps a script index to the index of the queue running
// it.
const queueIndexDivisor = 100000

var (
	// ErrWrongQueue is returned when a script runs from the queue of the
	// other telescope.
	ErrWrongQueue = errors.New("scheduler: wrong queue")

	// ErrTransition is returned when no command sequence moves the Scheduler
	// out of an unknown state.
	ErrTransition = errors.New("scheduler: state transition failed")
)

// Deps are the collaborators shared by the scheduler scripts.
type Deps struct {
	// Scheduler is the remote of the Scheduler at index Queue.
	Scheduler *salobj.Remote
	Queue     observatory.Queue
	// Index is the index of the running script.
	Index int
	Log   *logging.Logger
}

// NewDeps creates the Scheduler remote for queue q on domain.
func NewDeps(domain *salobj.Domain, q observatory.Queue, index int, log *logging.Logger) Deps {
	return Deps{
		Scheduler: salobj.NewRemote(domain, "Scheduler", int(q)),
		Queue:     q,
		Index:     index,
		Log:       log,
	}
}

type base struct {
	remote *salobj.Remote
	queue  observatory.Queue
	index  int
	log    *logging.Logger
}

func newBase(d Deps) base {
	log := d.Log
	if log == nil {
		log = logging.Discard()
	}
	return base{remote: d.Scheduler, queue: d.Queue, index: d.Index, log: log.With("scheduler", d.Queue.String())}
}

// checkQueue fails unless the script runs from the queue of its Scheduler.
func (b *base) checkQueue() error {
	if b.index/queueIndexDivisor != int(b.queue) {
		return fmt.Errorf("%w: Script with index %d cannot run in %s queue", ErrWrongQueue, b.index, b.queue)
	}
	return nil
}
