// Package tcs holds script behaviour shared by the telescope control
// systems of both telescopes.
package tcs

import (
	"context"

	"github.com/lsst-ts/ts-standardscripts/internal/script"
)

// Tracker is a telescope control system that can stop tracking.
// *observatory.MTCS and *observatory.ATCS satisfy it.
type Tracker interface {
	StopTracking(ctx context.Context) error
	TelSettleTime() float64
}

// StopTracking checkpoints around a stop tracking command on t.
func StopTracking(ctx context.Context, t Tracker, cp script.Checkpointer) error {
	if err := cp.Checkpoint(ctx, "Stop tracking"); err != nil {
		return err
	}
	if err := t.StopTracking(ctx); err != nil {
		return err
	}
	return cp.Checkpoint(ctx, "Done")
}

// StopTrackingScript is the stop_tracking script of one telescope.
type StopTrackingScript struct {
	tcs Tracker
}

// NewStopTracking creates the script for t.
func NewStopTracking(t Tracker) *StopTrackingScript {
	return &StopTrackingScript{tcs: t}
}

// Schema implements script.Script.
func (s *StopTrackingScript) Schema() string { return "" }

// Configure implements script.Script.
func (s *StopTrackingScript) Configure(_ context.Context, raw []byte) error {
	return script.LoadConfig("", raw, nil)
}

// SetMetadata implements script.Script.
func (s *StopTrackingScript) SetMetadata(md *script.Metadata) {
	md.Duration = s.tcs.TelSettleTime()
}

// Run implements script.Script.
func (s *StopTrackingScript) Run(ctx context.Context, cp script.Checkpointer) error {
	return StopTracking(ctx, s.tcs, cp)
}
