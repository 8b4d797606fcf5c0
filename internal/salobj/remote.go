package salobj

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Remote proxies one component instance.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Remote struct {
	domain *Domain
	name   string
	index  int
	prefix string

	startMu sync.Mutex
	started bool

	mu       sync.Mutex
	topics   map[string]*Event
	commands map[string]*Command
	pending  map[int64]chan AckMessage
}

// NewRemote creates a Remote for component name at index (0 = not indexed).
// Nothing is subscribed until Start, which commands and events call on demand.
func NewRemote(domain *Domain, name string, index int) *Remote {
	return &Remote{
		domain:   domain,
		name:     name,
		index:    index,
		prefix:   strings.TrimSuffix(domain.Topics().AllComponentTopics(name, index), "#"),
		topics:   make(map[string]*Event),
		commands: make(map[string]*Command),
		pending:  make(map[int64]chan AckMessage),
	}
}

// Name returns the component name.
func (r *Remote) Name() string { return r.name }

// Index returns the component index.
func (r *Remote) Index() int { return r.index }

// Key returns the group member key, e.g. "lasertracker_1".
func (r *Remote) Key() string { return ComponentKey(r.name, r.index) }

func (r *Remote) String() string {
	return fmt.Sprintf("%s:%d", r.name, r.index)
}

// Start subscribes to every topic of the component. Calling it again is a
// no-op.
func (r *Remote) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if r.started {
		return nil
	}
	topic := r.domain.Topics().AllComponentTopics(r.name, r.index)
	if err := r.domain.transport.Subscribe(topic, r.domain.cfg.QoS, r.handle); err != nil {
		return fmt.Errorf("starting remote %s: %w", r, err)
	}
	r.started = true
	return nil
}

// Close drops the component subscription.
func (r *Remote) Close() error {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if !r.started {
		return nil
	}
	r.started = false
	return r.domain.transport.Unsubscribe(r.domain.Topics().AllComponentTopics(r.name, r.index))
}

// Event returns the named event topic.
func (r *Remote) Event(name string) *Event {
	return r.topic(KindEvent, name)
}

// Telemetry returns the named telemetry topic.
func (r *Remote) Telemetry(name string) *Event {
	return r.topic(KindTelemetry, name)
}

// Command returns the named command.
func (r *Remote) Command(name string) *Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.commands[name]
	if !ok {
		cmd = &Command{remote: r, name: name}
		r.commands[name] = cmd
	}
	return cmd
}

func (r *Remote) topic(kind, name string) *Event {
	key := kind + "/" + name
	r.mu.Lock()
	defer r.mu.Unlock()
	evt, ok := r.topics[key]
	if !ok {
		evt = newEvent(r, kind, name)
		r.topics[key] = evt
	}
	return evt
}

// handle routes one message of the component subscription.
func (r *Remote) handle(topic string, payload []byte) error {
	rest := strings.TrimPrefix(topic, r.prefix)
	if rest == topic {
		return nil
	}
	kind, name, _ := strings.Cut(rest, "/")

	switch kind {
	case KindAck:
		return r.handleAck(payload)
	case KindEvent, KindTelemetry:
		if name == "" {
			return nil
		}
		sample, err := newSample(topic, payload)
		if err != nil {
			return err
		}
		r.topic(kind, name).deliver(sample)
	}
	return nil
}

func (r *Remote) handleAck(payload []byte) error {
	var ack AckMessage
	if err := json.Unmarshal(payload, &ack); err != nil {
		return fmt.Errorf("decoding ack from %s: %w", r, err)
	}
	if ack.Origin != "" && ack.Origin != r.domain.Origin() {
		return nil
	}

	r.mu.Lock()
	ch, ok := r.pending[ack.SeqNum]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case ch <- ack:
	default:
		r.domain.log.Warn("dropping ack, waiter is full", "remote", r.String(), "seq_num", ack.SeqNum)
	}
	return nil
}

func (r *Remote) addPending(seq int64) chan AckMessage {
	ch := make(chan AckMessage, 8)
	r.mu.Lock()
	r.pending[seq] = ch
	r.mu.Unlock()
	return ch
}

func (r *Remote) removePending(seq int64) {
	r.mu.Lock()
	delete(r.pending, seq)
	r.mu.Unlock()
}
