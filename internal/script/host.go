package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lsst-ts/ts-standardscripts/internal/history"
	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/influxdb"
	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
)

// historyTimeout bounds each history write so a slow database cannot hold
// up the end of a run.
const historyTimeout = 5 * time.Second

// RunRecorder persists executions. *history.SQLiteRepository satisfies it.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *history.Run) error
	UpdateRun(ctx context.Context, run *history.Run) error
}

// MetricsWriter records checkpoints and finished runs. *influxdb.Client
// satisfies it.
type MetricsWriter interface {
	WriteCheckpoint(cp influxdb.Checkpoint)
	WriteScriptRun(run influxdb.ScriptRun)
}

var (
	_ RunRecorder   = (*history.SQLiteRepository)(nil)
	_ MetricsWriter = (*influxdb.Client)(nil)
)

// HostConfig configures a Host. Every collaborator is optional.
type HostConfig struct {
	// Name is the registered script name, e.g. "maintel/mtdome/slew_dome".
	Name  string
	Index int

	Events  *Events
	History RunRecorder
	Metrics MetricsWriter
	Log     *logging.Logger
}

// Host drives one script instance through its lifecycle and publishes
// what happens to it.
//
// Thread Safety: Stop and the accessors may be called while Run is in
// progress.
type Host struct {
	cfg    HostConfig
	script Script
	log    *logging.Logger

	mu          sync.Mutex
	state       State
	metadata    Metadata
	raw         []byte
	checkpoints []string
	executionID string
	cancel      context.CancelFunc
	stopReq     bool
	lastErr     error
}

// NewHost wraps s. Scripts that implement io.Closer are closed once they
// reach a final state.
func NewHost(s Script, cfg HostConfig) *Host {
	log := cfg.Log
	if log == nil {
		log = logging.Discard()
	}
	return &Host{
		cfg:    cfg,
		script: s,
		log:    log.With("script", cfg.Name, "index", cfg.Index),
		state:  StateUnconfigured,
	}
}

// State returns the current lifecycle state.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Metadata returns the metadata filled in by the last successful Configure.
func (h *Host) Metadata() Metadata {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.metadata
}

// Checkpoints returns the checkpoints reached so far.
func (h *Host) Checkpoints() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.checkpoints...)
}

// ExecutionID returns the id of the current or last run, "" before Run.
func (h *Host) ExecutionID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.executionID
}

// Err returns the error that ended the instance, if any.
func (h *Host) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// Configure validates raw and fills in metadata. It is only allowed from
// UNCONFIGURED; a failure leaves the instance in CONFIGURE_FAILED.
func (h *Host) Configure(ctx context.Context, raw []byte) error {
	if err := h.transition(StateUnconfigured, StateConfiguring); err != nil {
		return err
	}
	h.publishState("")

	if err := h.script.Configure(ctx, raw); err != nil {
		h.finish(StateConfigureFailed, err)
		h.release()
		if IsExpected(err) {
			h.log.Warn("configuration rejected", "reason", err.Error())
		} else {
			h.log.Error("configuration failed", "error", err)
		}
		return err
	}

	md := Metadata{}
	h.script.SetMetadata(&md)

	h.mu.Lock()
	h.metadata = md
	h.raw = append([]byte(nil), raw...)
	h.state = StateConfigured
	h.mu.Unlock()

	if err := h.cfg.Events.Metadata(md); err != nil {
		h.log.Warn("publishing metadata failed", "error", err)
	}
	h.publishState("")
	h.log.Info("script configured", "duration", md.Duration)
	return nil
}

// Run executes a configured script. The final state is DONE on success,
// STOPPED when ctx is cancelled or Stop is called, and FAILED otherwise.
// The script's error is returned unchanged.
func (h *Host) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.mu.Lock()
	if h.state != StateConfigured {
		state := h.state
		h.mu.Unlock()
		return fmt.Errorf("%w: cannot run from %s", ErrInvalidState, state)
	}
	h.state = StateRunning
	h.executionID = uuid.NewString()
	h.checkpoints = nil
	h.cancel = cancel
	execID := h.executionID
	md := h.metadata
	raw := string(h.raw)
	h.mu.Unlock()

	started := time.Now().UTC()
	rec := &history.Run{
		ID:               execID,
		Script:           h.cfg.Name,
		Index:            h.cfg.Index,
		State:            string(StateRunning),
		Config:           raw,
		DurationEstimate: md.Duration,
		StartedAt:        started,
	}
	h.recordCreate(rec)
	h.publishState("")
	h.log.Info("script run started", "execution_id", execID)

	err := h.script.Run(runCtx, CheckpointFunc(h.checkpoint))

	h.mu.Lock()
	stopped := h.stopReq || runCtx.Err() != nil
	h.cancel = nil
	h.mu.Unlock()

	var final State
	switch {
	case err == nil:
		final = StateDone
	case stopped:
		final = StateStopped
	default:
		final = StateFailed
	}
	h.finish(final, err)
	h.release()

	elapsed := time.Since(started)
	switch final {
	case StateDone:
		h.log.Info("script done", "execution_id", execID, "elapsed", elapsed)
	case StateStopped:
		h.log.Warn("script stopped", "execution_id", execID, "error", err)
	default:
		if IsExpected(err) {
			h.log.Warn("script failed", "execution_id", execID, "reason", err.Error())
		} else {
			h.log.Error("script failed", "execution_id", execID, "error", err)
		}
	}

	completed := time.Now().UTC()
	ms := int(elapsed.Milliseconds())
	rec.State = string(final)
	rec.Checkpoints = h.Checkpoints()
	rec.CompletedAt = &completed
	rec.ElapsedMS = &ms
	if err != nil {
		msg := err.Error()
		rec.Error = &msg
	}
	h.recordUpdate(rec)

	if h.cfg.Metrics != nil {
		h.cfg.Metrics.WriteScriptRun(influxdb.ScriptRun{
			Script:      h.cfg.Name,
			Index:       h.cfg.Index,
			State:       string(final),
			ExecutionID: execID,
			Elapsed:     elapsed,
			Estimated:   md.Duration,
			Checkpoints: len(rec.Checkpoints),
			CompletedAt: completed,
		})
	}
	return err
}

// Stop cancels a running script. Before Run it moves the instance straight
// to STOPPED; in a final state it does nothing.
func (h *Host) Stop() {
	h.mu.Lock()
	switch {
	case h.state == StateRunning:
		h.stopReq = true
		if h.cancel != nil {
			h.cancel()
		}
		h.mu.Unlock()
		return
	case h.state.Final():
		h.mu.Unlock()
		return
	}
	h.state = StateStopped
	h.mu.Unlock()
	h.publishState("stopped before run")
	h.release()
}

// release closes the script when it holds resources, such as remotes
// created while configuring.
func (h *Host) release() {
	c, ok := h.script.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		h.log.Warn("closing script failed", "error", err)
	}
}

func (h *Host) checkpoint(_ context.Context, name string) error {
	h.mu.Lock()
	h.checkpoints = append(h.checkpoints, name)
	execID := h.executionID
	h.mu.Unlock()

	h.log.Debug("checkpoint", "name", name)
	if err := h.cfg.Events.Checkpoint(execID, name); err != nil {
		h.log.Warn("publishing checkpoint failed", "name", name, "error", err)
	}
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.WriteCheckpoint(influxdb.Checkpoint{
			Script:      h.cfg.Name,
			Index:       h.cfg.Index,
			ExecutionID: execID,
			Name:        name,
		})
	}
	return nil
}

func (h *Host) transition(from, to State) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != from {
		return fmt.Errorf("%w: cannot go from %s to %s", ErrInvalidState, h.state, to)
	}
	h.state = to
	return nil
}

func (h *Host) finish(state State, err error) {
	h.mu.Lock()
	h.state = state
	h.lastErr = err
	h.mu.Unlock()

	reason := ""
	if err != nil && !errors.Is(err, context.Canceled) {
		reason = err.Error()
	}
	h.publishState(reason)
}

func (h *Host) publishState(reason string) {
	h.mu.Lock()
	msg := StateMessage{State: h.state, Reason: reason, ExecutionID: h.executionID}
	if n := len(h.checkpoints); n > 0 {
		msg.LastCheckpoint = h.checkpoints[n-1]
	}
	h.mu.Unlock()

	if err := h.cfg.Events.State(msg); err != nil {
		h.log.Warn("publishing state failed", "state", msg.State, "error", err)
	}
}

func (h *Host) recordCreate(run *history.Run) {
	if h.cfg.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := h.cfg.History.CreateRun(ctx, run); err != nil {
		h.log.Error("failed to create run record", "error", err)
	}
}

func (h *Host) recordUpdate(run *history.Run) {
	if h.cfg.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := h.cfg.History.UpdateRun(ctx, run); err != nil {
		h.log.Error("failed to update run record", "error", err)
	}
}
