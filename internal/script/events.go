package script

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/mqtt"
)

// Publisher sends one message. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

var _ Publisher = (*mqtt.Client)(nil)

// StateMessage is the payload of the state topic.
type StateMessage struct {
	State          State  `json:"state"`
	Reason         string `json:"reason,omitempty"`
	LastCheckpoint string `json:"lastCheckpoint,omitempty"`
	ExecutionID    string `json:"executionId,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// CheckpointMessage is the payload of the checkpoint topic.
type CheckpointMessage struct {
	Name        string `json:"name"`
	ExecutionID string `json:"executionId,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// LogMessage is the payload of the log topic.
type LogMessage struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// LargeFileObject announces a file uploaded to the Large File Annex.
type LargeFileObject struct {
	URL       string `json:"url"`
	Generator string `json:"generator"`
	MimeType  string `json:"mimeType"`
	ByteSize  int64  `json:"byteSize"`
	CheckSum  string `json:"checkSum"`
	Version   int    `json:"version"`
	ID        string `json:"id"`
}

// Events publishes the topics of one script instance. A nil *Events drops
// everything.
type Events struct {
	pub    Publisher
	topics mqtt.Topics
	index  int
	qos    byte
	now    func() time.Time
}

// NewEvents creates a publisher for the script at index.
func NewEvents(pub Publisher, topics mqtt.Topics, index int, qos byte) *Events {
	return &Events{pub: pub, topics: topics, index: index, qos: qos, now: time.Now}
}

// Index returns the script index the events are published for.
func (e *Events) Index() int {
	if e == nil {
		return 0
	}
	return e.index
}

// State publishes msg, retained so late subscribers see the current state.
func (e *Events) State(msg StateMessage) error {
	if e == nil {
		return nil
	}
	msg.Timestamp = e.timestamp()
	return e.publish(e.topics.ScriptState(e.index), msg, true)
}

// Checkpoint publishes a checkpoint reached during a run.
func (e *Events) Checkpoint(executionID, name string) error {
	if e == nil {
		return nil
	}
	return e.publish(e.topics.ScriptCheckpoint(e.index), CheckpointMessage{
		Name:        name,
		ExecutionID: executionID,
		Timestamp:   e.timestamp(),
	}, false)
}

// Metadata publishes md, retained.
func (e *Events) Metadata(md Metadata) error {
	if e == nil {
		return nil
	}
	return e.publish(e.topics.ScriptMetadata(e.index), md, true)
}

// Log publishes one log record. It matches the sink signature of
// logging.Logger.Forward; publish failures are dropped.
func (e *Events) Log(level slog.Level, msg string) {
	if e == nil {
		return
	}
	_ = e.publish(e.topics.ScriptLog(e.index), LogMessage{ //nolint:errcheck // best effort
		Level:     level.String(),
		Message:   msg,
		Timestamp: e.timestamp(),
	}, false)
}

// LargeFileObjectAvailable announces obj.
func (e *Events) LargeFileObjectAvailable(obj LargeFileObject) error {
	if e == nil {
		return nil
	}
	return e.publish(e.topics.ScriptLargeFile(e.index), obj, false)
}

func (e *Events) publish(topic string, v any, retained bool) error {
	if e.pub == nil {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", topic, err)
	}
	if err := e.pub.Publish(topic, payload, e.qos, retained); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

func (e *Events) timestamp() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}
