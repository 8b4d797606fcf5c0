package salobj

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Topic kinds, mirrored from the transport topic layout.
const (
	KindCommand   = "cmd"
	KindAck       = "ack"
	KindEvent     = "evt"
	KindTelemetry = "tel"
)

// CommandMessage is the wire form of a command.
type CommandMessage struct {
	SeqNum int64  `json:"seq_num"`
	Origin string `json:"origin"`
	Data   Fields `json:"data"`
}

// AckMessage is the wire form of a command acknowledgement.
type AckMessage struct {
	SeqNum  int64   `json:"seq_num"`
	Origin  string  `json:"origin,omitempty"`
	Ack     AckCode `json:"ack"`
	Error   int     `json:"error,omitempty"`
	Result  string  `json:"result,omitempty"`
	Timeout float64 `json:"timeout,omitempty"`
}

// Command is one command of a Remote.
type Command struct {
	remote *Remote
	name   string
}

// Name returns the command name.
func (c *Command) Name() string { return c.name }

// Start sends the command without parameters. See SetStart.
func (c *Command) Start(ctx context.Context, timeout time.Duration) (AckMessage, error) {
	return c.SetStart(ctx, nil, timeout)
}

// SetStart sends the command with fields and waits up to timeout for a
// final acknowledgement. INPROGRESS acks are skipped. A non-COMPLETE final
// ack returns *AckError; no ack in time returns *AckError wrapping
// ErrTimeout. A timeout <= 0 waits until ctx is done.
func (c *Command) SetStart(ctx context.Context, fields Fields, timeout time.Duration) (AckMessage, error) {
	r := c.remote
	if err := r.Start(ctx); err != nil {
		return AckMessage{}, err
	}
	if fields == nil {
		fields = Fields{}
	}

	seq := r.domain.nextSeq()
	payload, err := json.Marshal(CommandMessage{SeqNum: seq, Origin: r.domain.Origin(), Data: fields})
	if err != nil {
		return AckMessage{}, fmt.Errorf("encoding %s.%s: %w", r, c.name, err)
	}

	acks := r.addPending(seq)
	defer r.removePending(seq)

	topic := r.domain.Topics().Command(r.name, r.index, c.name)
	if err := r.domain.transport.Publish(topic, payload, r.domain.cfg.QoS, false); err != nil {
		return AckMessage{}, fmt.Errorf("sending %s.%s: %w", r, c.name, err)
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case ack := <-acks:
			if !ack.Ack.Final() {
				continue
			}
			if ack.Ack == AckComplete {
				return ack, nil
			}
			return ack, &AckError{
				Component: r.String(),
				Command:   c.name,
				Ack:       ack.Ack,
				Code:      ack.Error,
				Result:    ack.Result,
			}
		case <-expired:
			return AckMessage{}, &AckError{
				Component: r.String(),
				Command:   c.name,
				Ack:       AckNoAck,
				Result:    fmt.Sprintf("no ack after %v", timeout),
				err:       ErrTimeout,
			}
		case <-ctx.Done():
			return AckMessage{}, ctx.Err()
		}
	}
}
