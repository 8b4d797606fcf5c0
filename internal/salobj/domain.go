package salobj

import (
	"sync/atomic"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/mqtt"
)

// Transport carries messages between remotes and components.
// *mqtt.Client satisfies it.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error
	Unsubscribe(topic string) error
}

var _ Transport = (*mqtt.Client)(nil)

// DomainConfig configures a Domain.
type DomainConfig struct {
	// Topics selects the namespace all remotes publish under.
	Topics mqtt.Topics

	// Origin identifies the sender on command messages, e.g. "Script:100001".
	// Components echo it on acks so concurrent senders can tell theirs apart.
	Origin string

	// QoS used for commands and subscriptions.
	QoS byte

	// SeqStart is the first command sequence number. Tests pin it to get
	// reproducible sequence numbers.
	SeqStart int64
}

// Domain is the shared context of every Remote in a process: transport,
// topic namespace, sender identity and command sequence numbers.
type Domain struct {
	transport Transport
	cfg       DomainConfig
	seq       atomic.Int64
	log       *logging.Logger
}

// NewDomain creates a Domain. A nil logger discards log output.
func NewDomain(transport Transport, cfg DomainConfig, log *logging.Logger) *Domain {
	if log == nil {
		log = logging.Discard()
	}
	d := &Domain{
		transport: transport,
		cfg:       cfg,
		log:       log.With("component", "salobj"),
	}
	d.seq.Store(cfg.SeqStart)
	return d
}

// Topics returns the topic builder of the domain.
func (d *Domain) Topics() mqtt.Topics {
	return d.cfg.Topics
}

// Origin returns the sender identity stamped on commands.
func (d *Domain) Origin() string {
	return d.cfg.Origin
}

// Transport returns the underlying transport.
func (d *Domain) Transport() Transport {
	return d.transport
}

func (d *Domain) nextSeq() int64 {
	return d.seq.Add(1)
}
