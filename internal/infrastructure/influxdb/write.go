package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the client.
const (
	MeasurementScriptRun  = "script_run"
	MeasurementCheckpoint = "script_checkpoint"
)

// ScriptRun is the summary of one finished script execution.
type ScriptRun struct {
	Script      string
	Index       int
	State       string
	ExecutionID string
	Elapsed     time.Duration

	// Estimated is the metadata duration estimate in seconds.
	Estimated   float64
	Checkpoints int
	CompletedAt time.Time
}

// Checkpoint is one checkpoint reached by a running script.
type Checkpoint struct {
	Script      string
	Index       int
	ExecutionID string
	Name        string
	At          time.Time
}

// WriteScriptRun records run. A zero CompletedAt means now.
func (c *Client) WriteScriptRun(run ScriptRun) {
	if c.IsConnected() {
		c.writeAPI.WritePoint(scriptRunPoint(run))
	}
}

// WriteCheckpoint records cp. A zero At means now.
func (c *Client) WriteCheckpoint(cp Checkpoint) {
	if c.IsConnected() {
		c.writeAPI.WritePoint(checkpointPoint(cp))
	}
}

func scriptTags(script string, index int) map[string]string {
	return map[string]string{
		"script": script,
		"index":  strconv.Itoa(index),
	}
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func scriptRunPoint(run ScriptRun) *write.Point {
	tags := scriptTags(run.Script, run.Index)
	tags["state"] = run.State
	return write.NewPoint(MeasurementScriptRun, tags, map[string]interface{}{
		"execution_id":      run.ExecutionID,
		"elapsed_seconds":   run.Elapsed.Seconds(),
		"estimated_seconds": run.Estimated,
		"checkpoints":       run.Checkpoints,
	}, stamp(run.CompletedAt))
}

func checkpointPoint(cp Checkpoint) *write.Point {
	tags := scriptTags(cp.Script, cp.Index)
	tags["checkpoint"] = cp.Name
	return write.NewPoint(MeasurementCheckpoint, tags, map[string]interface{}{
		"execution_id": cp.ExecutionID,
	}, stamp(cp.At))
}
