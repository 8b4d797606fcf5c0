package salobj

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// maxQueueLen bounds the samples kept for Next; older ones are dropped.
const maxQueueLen = 100

// Event is an event or telemetry topic of a Remote. It keeps the latest
// sample and a queue of samples not yet consumed by Next.
type Event struct {
	remote *Remote
	kind   string
	name   string

	mu     sync.Mutex
	latest *Sample
	queue  []Sample
	notify chan struct{}
}

func newEvent(r *Remote, kind, name string) *Event {
	return &Event{remote: r, kind: kind, name: name, notify: make(chan struct{})}
}

// Name returns the topic name.
func (e *Event) Name() string { return e.name }

func (e *Event) String() string {
	return fmt.Sprintf("%s.%s_%s", e.remote, e.kind, e.name)
}

func (e *Event) deliver(s Sample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latest = &s
	e.queue = append(e.queue, s)
	if len(e.queue) > maxQueueLen {
		e.queue = e.queue[len(e.queue)-maxQueueLen:]
	}
	close(e.notify)
	e.notify = make(chan struct{})
}

// Get returns the latest sample without waiting.
func (e *Event) Get() (Sample, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.latest == nil {
		return Sample{}, false
	}
	return *e.latest, true
}

// Flush drops queued samples. The latest sample is kept for Get and Aget.
func (e *Event) Flush() {
	e.mu.Lock()
	e.queue = nil
	e.mu.Unlock()
}

// Aget returns the latest sample, waiting up to timeout for one to arrive
// if none has. It does not consume the queue.
func (e *Event) Aget(ctx context.Context, timeout time.Duration) (Sample, error) {
	if err := e.remote.Start(ctx); err != nil {
		return Sample{}, err
	}
	return e.wait(ctx, timeout, func() (Sample, bool) {
		if e.latest == nil {
			return Sample{}, false
		}
		return *e.latest, true
	})
}

// Next pops the oldest queued sample, waiting up to timeout for one. With
// flush set the queue is cleared first, so only samples arriving after the
// call count.
func (e *Event) Next(ctx context.Context, flush bool, timeout time.Duration) (Sample, error) {
	if err := e.remote.Start(ctx); err != nil {
		return Sample{}, err
	}
	if flush {
		e.Flush()
	}
	return e.wait(ctx, timeout, func() (Sample, bool) {
		if len(e.queue) == 0 {
			return Sample{}, false
		}
		s := e.queue[0]
		e.queue = e.queue[1:]
		return s, true
	})
}

// wait polls take under the lock until it yields a sample. take runs with
// e.mu held.
func (e *Event) wait(ctx context.Context, timeout time.Duration, take func() (Sample, bool)) (Sample, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		e.mu.Lock()
		s, ok := take()
		ch := e.notify
		e.mu.Unlock()
		if ok {
			return s, nil
		}

		select {
		case <-ch:
		case <-expired:
			return Sample{}, fmt.Errorf("%w: no %s after %v", ErrTimeout, e, timeout)
		case <-ctx.Done():
			return Sample{}, ctx.Err()
		}
	}
}
