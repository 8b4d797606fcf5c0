package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/lsst-ts/ts-standardscripts/internal/observatory"
	"github.com/lsst-ts/ts-standardscripts/internal/salobj"
	"github.com/lsst-ts/ts-standardscripts/internal/script"
)

const enableSchema = `
$schema: http://json-schema.org/draft-07/schema#
title: SchedulerEnable v1
description: Configuration for enabling the Scheduler.
type: object
properties:
  config:
    description: Scheduler configuration.
    type: string
required: [config]
additionalProperties: false
`

// SetState moves the Scheduler to ENABLED or STANDBY. It copes with a
// Scheduler whose summary state is unknown by trying the transitions out of
// STANDBY, DISABLED or FAULT, and ENABLED in turn.
type SetState struct {
	base
	desired       salobj.State
	configuration string
}

// NewEnable creates the script that enables the Scheduler.
func NewEnable(d Deps) *SetState {
	return &SetState{base: newBase(d), desired: salobj.StateEnabled}
}

// NewStandby creates the script that sends the Scheduler to STANDBY.
func NewStandby(d Deps) *SetState {
	return &SetState{base: newBase(d), desired: salobj.StateStandby}
}

func (s *SetState) Schema() string {
	if s.desired == salobj.StateEnabled {
		return enableSchema
	}
	return ""
}

func (s *SetState) Configure(_ context.Context, raw []byte) error {
	if s.desired != salobj.StateEnabled {
		return script.LoadConfig("", raw, nil)
	}
	var cfg struct {
		Config string `yaml:"config"`
	}
	if err := script.LoadConfig(enableSchema, raw, &cfg); err != nil {
		return err
	}
	s.log.Info("scheduler configuration", "config", cfg.Config)
	s.configuration = cfg.Config
	return nil
}

func (s *SetState) SetMetadata(md *script.Metadata) {
	md.Duration = commandTimeout.Seconds()
}

func (s *SetState) Run(ctx context.Context, cp script.Checkpointer) error {
	if err := cp.Checkpoint(ctx, "Assert liveliness"); err != nil {
		return err
	}
	if err := salobj.AssertLiveliness(ctx, s.remote, salobj.HeartbeatInterval); err != nil {
		return fmt.Errorf("%w: make sure the Scheduler is running before trying to enable: %w", observatory.ErrNoHeartbeat, err)
	}

	sample, known := s.remote.Event(salobj.EventSummaryState).Get()
	var current salobj.State
	if known {
		v, err := sample.Int("summaryState")
		if err != nil {
			return err
		}
		current = salobj.State(v)
	}

	switch {
	case !known:
		if err := cp.Checkpoint(ctx, "Handling no summary state information"); err != nil {
			return err
		}
		if err := s.handleUnknownState(ctx); err != nil {
			return err
		}
	case (current == salobj.StateEnabled || current == salobj.StateDisabled) && s.desired != salobj.StateStandby:
		if err := cp.Checkpoint(ctx, fmt.Sprintf("Reset summary state to STANDBY before setting to %s", s.desired)); err != nil {
			return err
		}
		s.log.Warn("resetting scheduler to STANDBY first", "current", current.String(), "desired", s.desired.String())
		if err := s.standbyFirst(ctx); err != nil {
			return err
		}
		if err := cp.Checkpoint(ctx, fmt.Sprintf("Setting desired state: %s", s.desired)); err != nil {
			return err
		}
		if err := s.setDesired(ctx); err != nil {
			return err
		}
	default:
		if err := cp.Checkpoint(ctx, fmt.Sprintf("Setting desired state: %s -> %s", current, s.desired)); err != nil {
			return err
		}
		if err := s.setDesired(ctx); err != nil {
			return err
		}
	}
	return cp.Checkpoint(ctx, fmt.Sprintf("Scheduler %s", s.desired))
}

// handleUnknownState assumes the Scheduler is in STANDBY, then DISABLED or
// FAULT, then ENABLED, sending the command that leaves each state until one
// is accepted.
func (s *SetState) handleUnknownState(ctx context.Context) error {
	attempts := []struct {
		cmd    string
		fields salobj.Fields
		assume string
	}{
		{salobj.CommandStart, salobj.Fields{"configurationOverride": s.configuration}, "STANDBY"},
		{salobj.CommandStandby, nil, "DISABLED or FAULT"},
		{salobj.CommandDisable, nil, "ENABLED"},
	}
	for _, a := range attempts {
		_, err := s.remote.Command(a.cmd).SetStart(ctx, a.fields, commandTimeout)
		var ackErr *salobj.AckError
		if errors.As(err, &ackErr) {
			s.log.Warn("scheduler rejected command", "command", a.cmd, "assumed", a.assume, "error", err)
			continue
		}
		if err != nil {
			return err
		}
		if a.cmd == salobj.CommandDisable {
			if err := s.standbyFirst(ctx); err != nil {
				return err
			}
		}
		return s.setDesired(ctx)
	}
	return fmt.Errorf("%w: could not move the Scheduler to %s", ErrTransition, s.desired)
}

// standbyFirst sends the Scheduler to STANDBY and waits for it to report
// STANDBY. A missing summary state is logged, not returned.
func (s *SetState) standbyFirst(ctx context.Context) error {
	evt := s.remote.Event(salobj.EventSummaryState)
	evt.Flush()
	if _, err := salobj.SetSummaryState(ctx, s.remote, salobj.StateStandby, "", commandTimeout); err != nil {
		return err
	}
	for {
		sample, err := evt.Next(ctx, false, commandTimeout)
		if errors.Is(err, salobj.ErrTimeout) {
			s.log.Warn("timeout waiting for summary state, continuing")
			return nil
		}
		if err != nil {
			return err
		}
		v, err := sample.Int("summaryState")
		if err != nil {
			return err
		}
		if salobj.State(v) == salobj.StateStandby {
			return nil
		}
		s.log.Debug("waiting for scheduler to be in STANDBY", "current", salobj.State(v).String())
	}
}

func (s *SetState) setDesired(ctx context.Context) error {
	_, err := salobj.SetSummaryState(ctx, s.remote, s.desired, s.configuration, commandTimeout)
	return err
}
