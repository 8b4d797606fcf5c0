package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// TopicRoot is the first level of every topic.
const TopicRoot = "lsst"

// Topic kinds under a SAL component.
const (
	KindCommand   = "cmd"
	KindAck       = "ack"
	KindEvent     = "evt"
	KindTelemetry = "tel"
)

// Topics builds topics for one namespace. The namespace replaces the
// process-wide topic subname: two sites (or two test runs) sharing a broker
// never see each other's traffic.
//
//	topics := mqtt.Topics{Namespace: "summit"}
//	topics.Command("MTDome", 0, "crawlAz")
//	// Returns: "lsst/summit/sal/MTDome/0/cmd/crawlAz"
type Topics struct {
	Namespace string
}

func (t Topics) base() string {
	return TopicRoot + "/" + t.Namespace
}

// =============================================================================
// SAL Component Topics
// =============================================================================

// Command returns the topic a remote publishes a command on.
//
// Example: lsst/summit/sal/Scheduler/1/cmd/stop
func (t Topics) Command(component string, index int, command string) string {
	return fmt.Sprintf("%s/sal/%s/%d/%s/%s", t.base(), component, index, KindCommand, command)
}

// Ack returns the topic a component publishes command acknowledgements on.
//
// Example: lsst/summit/sal/Scheduler/1/ack
func (t Topics) Ack(component string, index int) string {
	return fmt.Sprintf("%s/sal/%s/%d/%s", t.base(), component, index, KindAck)
}

// Event returns the topic for a component event.
//
// Example: lsst/summit/sal/LaserTracker/1/evt/laserStatus
func (t Topics) Event(component string, index int, event string) string {
	return fmt.Sprintf("%s/sal/%s/%d/%s/%s", t.base(), component, index, KindEvent, event)
}

// Telemetry returns the topic for a component telemetry stream.
//
// Example: lsst/summit/sal/ESS/301/tel/airFlow
func (t Topics) Telemetry(component string, index int, topic string) string {
	return fmt.Sprintf("%s/sal/%s/%d/%s/%s", t.base(), component, index, KindTelemetry, topic)
}

// AllComponentTopics matches every topic of one component instance.
func (t Topics) AllComponentTopics(component string, index int) string {
	return fmt.Sprintf("%s/sal/%s/%d/#", t.base(), component, index)
}

// =============================================================================
// Script Topics
// =============================================================================

// ScriptState carries the lifecycle state of a script instance (retained).
//
// Example: lsst/summit/script/100001/state
func (t Topics) ScriptState(index int) string {
	return fmt.Sprintf("%s/script/%d/state", t.base(), index)
}

// ScriptCheckpoint carries checkpoint names as they are reached.
func (t Topics) ScriptCheckpoint(index int) string {
	return fmt.Sprintf("%s/script/%d/checkpoint", t.base(), index)
}

// ScriptMetadata carries the duration estimate published after configure.
func (t Topics) ScriptMetadata(index int) string {
	return fmt.Sprintf("%s/script/%d/metadata", t.base(), index)
}

// ScriptLog carries log messages emitted by a running script.
func (t Topics) ScriptLog(index int) string {
	return fmt.Sprintf("%s/script/%d/log", t.base(), index)
}

// ScriptLargeFile carries largeFileObjectAvailable notifications.
func (t Topics) ScriptLargeFile(index int) string {
	return fmt.Sprintf("%s/script/%d/largeFileObjectAvailable", t.base(), index)
}

// AllScriptTopics matches every script topic in the namespace.
func (t Topics) AllScriptTopics() string {
	return t.base() + "/script/#"
}

// =============================================================================
// System Topics
// =============================================================================

// RunnerStatus is the retained online/offline status of a runner process.
//
// Example: lsst/summit/system/runner/standardscripts/status
func (t Topics) RunnerStatus(clientID string) string {
	return fmt.Sprintf("%s/system/runner/%s/status", t.base(), clientID)
}

// =============================================================================
// Parsing
// =============================================================================

// ScriptTopic is a parsed script topic.
type ScriptTopic struct {
	Index int
	Kind  string
}

// ParseScriptTopic splits "lsst/{ns}/script/{index}/{kind}". It returns
// false for topics of another namespace or shape.
func (t Topics) ParseScriptTopic(topic string) (ScriptTopic, bool) {
	prefix := t.base() + "/script/"
	if !strings.HasPrefix(topic, prefix) {
		return ScriptTopic{}, false
	}
	parts := strings.Split(strings.TrimPrefix(topic, prefix), "/")
	if len(parts) != 2 || parts[1] == "" {
		return ScriptTopic{}, false
	}
	index, err := strconv.Atoi(parts[0])
	if err != nil {
		return ScriptTopic{}, false
	}
	return ScriptTopic{Index: index, Kind: parts[1]}, true
}
