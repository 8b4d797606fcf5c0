package standard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
	"github.com/lsst-ts/ts-standardscripts/internal/salobj"
	"github.com/lsst-ts/ts-standardscripts/internal/script"
)

const setSummaryStateSchema = `
$schema: http://json-schema.org/draft-07/schema#
title: SetSummaryState v1
description: Configuration for SetSummaryState.
type: object
properties:
  data:
    description: >-
      CSCs to move, each as [Name[:index], state] or
      [Name[:index], state, configuration override]. The state name is case
      blind and cannot be FAULT.
    type: array
    minItems: 1
    items:
      type: array
      minItems: 2
      maxItems: 3
      items:
        type: string
required: [data]
additionalProperties: false
`

// stateCommandTimeout bounds each state transition command.
const stateCommandTimeout = 10 * time.Second

type stateTarget struct {
	name     string
	index    int
	state    salobj.State
	override string
}

// SetSummaryState moves a list of CSCs to the given summary states, one at
// a time and in order.
type SetSummaryState struct {
	domain *salobj.Domain
	log    *logging.Logger

	targets []stateTarget
	remotes map[string]*salobj.Remote
}

// NewSetSummaryState creates the script. Remotes are created in Configure.
func NewSetSummaryState(domain *salobj.Domain, log *logging.Logger) *SetSummaryState {
	if log == nil {
		log = logging.Discard()
	}
	return &SetSummaryState{domain: domain, log: log, remotes: make(map[string]*salobj.Remote)}
}

func (s *SetSummaryState) Schema() string { return setSummaryStateSchema }

func (s *SetSummaryState) Configure(_ context.Context, raw []byte) error {
	var cfg struct {
		Data [][]string `yaml:"data"`
	}
	if err := script.LoadConfig(setSummaryStateSchema, raw, &cfg); err != nil {
		return err
	}

	targets := make([]stateTarget, 0, len(cfg.Data))
	for _, elt := range cfg.Data {
		name, index, err := salobj.NameToNameIndex(elt[0])
		if err != nil {
			return script.Expectedf("%v: %w", elt, err)
		}
		state, err := salobj.ParseState(elt[1])
		if err != nil {
			return script.Expectedf("%v has unknown summary state %q", elt, elt[1])
		}
		if state == salobj.StateFault {
			return script.Expectedf("%v state cannot be FAULT", elt)
		}
		tgt := stateTarget{name: name, index: index, state: state}
		if len(elt) == 3 {
			tgt.override = elt[2]
		}
		targets = append(targets, tgt)
	}

	for _, tgt := range targets {
		key := salobj.ComponentKey(tgt.name, tgt.index)
		if _, ok := s.remotes[key]; !ok {
			s.log.Debug("creating remote", "component", key)
			s.remotes[key] = salobj.NewRemote(s.domain, tgt.name, tgt.index)
		}
	}
	s.targets = targets
	return nil
}

// Remote returns the remote configured for a member key, or nil.
func (s *SetSummaryState) Remote(key string) *salobj.Remote { return s.remotes[key] }

// Close drops the subscriptions of every remote.
func (s *SetSummaryState) Close() error {
	var errs []error
	for _, r := range s.remotes {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *SetSummaryState) SetMetadata(md *script.Metadata) {
	md.Duration = float64(2 * len(s.targets))
}

func (s *SetSummaryState) Run(ctx context.Context, cp script.Checkpointer) error {
	for _, tgt := range s.targets {
		if err := cp.Checkpoint(ctx, fmt.Sprintf("set %s:%d", tgt.name, tgt.index)); err != nil {
			return err
		}
		remote := s.remotes[salobj.ComponentKey(tgt.name, tgt.index)]
		states, err := salobj.SetSummaryState(ctx, remote, tgt.state, tgt.override, stateCommandTimeout)
		if err != nil {
			return err
		}
		s.log.Info("summary state set", "component", remote.String(), "states", states)
	}
	return nil
}
