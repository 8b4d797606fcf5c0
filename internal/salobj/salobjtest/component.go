package salobjtest

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/mqtt"
	"github.com/lsst-ts/ts-standardscripts/internal/salobj"
)

// CommandHandler answers one command. Returning a nil error acks COMPLETE;
// an *salobj.AckError uses its Ack code; any other error acks FAILED.
type CommandHandler func(data salobj.Fields) error

// Call is a command received by a Component.
type Call struct {
	Command string
	Data    salobj.Fields
}

// Component is a fake CSC on a Transport. Unhandled commands ack COMPLETE,
// except the standard state commands, which also move the summary state.
// Commands listed with Silence get no ack at all.
type Component struct {
	t         *Transport
	topics    mqtt.Topics
	name      string
	index     int
	mu        sync.Mutex
	handlers  map[string]CommandHandler
	silenced  map[string]bool
	calls     []Call
	state     salobj.State
	haveState bool
}

// NewComponent attaches a fake component to tr.
func NewComponent(tb testing.TB, tr *Transport, topics mqtt.Topics, name string, index int) *Component {
	tb.Helper()
	c := &Component{
		t:        tr,
		topics:   topics,
		name:     name,
		index:    index,
		handlers: make(map[string]CommandHandler),
		silenced: make(map[string]bool),
	}
	filter := topics.Command(name, index, "+")
	if err := tr.Subscribe(filter, 1, c.handle); err != nil {
		tb.Fatalf("subscribing fake %s: %v", name, err)
	}
	return c
}

// Handle installs a handler for cmd.
func (c *Component) Handle(cmd string, h CommandHandler) {
	c.mu.Lock()
	c.handlers[cmd] = h
	c.mu.Unlock()
}

// Silence makes cmd go unanswered so callers time out.
func (c *Component) Silence(cmd string) {
	c.mu.Lock()
	c.silenced[cmd] = true
	c.mu.Unlock()
}

// SetState publishes a retained summaryState event.
func (c *Component) SetState(s salobj.State) {
	c.mu.Lock()
	c.state = s
	c.haveState = true
	c.mu.Unlock()
	c.publishRetained(salobj.EventSummaryState, salobj.Fields{"summaryState": int(s)})
}

// State returns the summary state the fake is in.
func (c *Component) State() salobj.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PublishEvent publishes an event sample.
func (c *Component) PublishEvent(name string, data salobj.Fields) {
	c.publish(c.topics.Event(c.name, c.index, name), data, false)
}

// PublishTelemetry publishes a telemetry sample.
func (c *Component) PublishTelemetry(name string, data salobj.Fields) {
	c.publish(c.topics.Telemetry(c.name, c.index, name), data, false)
}

// Calls returns the commands received, oldest first.
func (c *Component) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// CallNames returns the names of the commands received, oldest first.
func (c *Component) CallNames() []string {
	var names []string
	for _, call := range c.Calls() {
		names = append(names, call.Command)
	}
	return names
}

func (c *Component) publishRetained(event string, data salobj.Fields) {
	c.publish(c.topics.Event(c.name, c.index, event), data, true)
}

func (c *Component) publish(topic string, data salobj.Fields, retained bool) {
	payload, err := json.Marshal(data)
	if err != nil {
		panic(fmt.Sprintf("salobjtest: encoding %s: %v", topic, err))
	}
	_ = c.t.Publish(topic, payload, 1, retained)
}

func (c *Component) handle(topic string, payload []byte) error {
	prefix := c.topics.Command(c.name, c.index, "")
	cmd := topic[len(prefix):]

	var msg salobj.CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}

	c.mu.Lock()
	c.calls = append(c.calls, Call{Command: cmd, Data: msg.Data})
	h := c.handlers[cmd]
	silenced := c.silenced[cmd]
	c.mu.Unlock()

	if silenced {
		return nil
	}

	var err error
	if h != nil {
		err = h(msg.Data)
	} else {
		err = c.defaultHandler(cmd)
	}

	ack := salobj.AckMessage{SeqNum: msg.SeqNum, Origin: msg.Origin, Ack: salobj.AckComplete}
	if err != nil {
		ack.Ack = salobj.AckFailed
		ack.Result = err.Error()
		if ackErr, ok := err.(*salobj.AckError); ok {
			ack.Ack = ackErr.Ack
			ack.Result = ackErr.Result
		}
	}
	out, _ := json.Marshal(ack)
	return c.t.Publish(c.topics.Ack(c.name, c.index), out, 1, false)
}

// defaultHandler applies the standard state machine for state commands.
func (c *Component) defaultHandler(cmd string) error {
	c.mu.Lock()
	tracked := c.haveState
	current := c.state
	c.mu.Unlock()
	if !tracked {
		return nil
	}

	next, ok := map[string]map[salobj.State]salobj.State{
		salobj.CommandStart:       {salobj.StateStandby: salobj.StateDisabled},
		salobj.CommandEnable:      {salobj.StateDisabled: salobj.StateEnabled},
		salobj.CommandDisable:     {salobj.StateEnabled: salobj.StateDisabled},
		salobj.CommandStandby:     {salobj.StateDisabled: salobj.StateStandby, salobj.StateFault: salobj.StateStandby},
		salobj.CommandExitControl: {salobj.StateStandby: salobj.StateOffline},
	}[cmd]
	if !ok {
		return nil
	}
	to, ok := next[current]
	if !ok {
		return fmt.Errorf("%s not allowed in %s", cmd, current)
	}
	c.SetState(to)
	return nil
}
