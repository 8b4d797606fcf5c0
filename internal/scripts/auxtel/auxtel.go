package auxtel

import (
	"context"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
	"github.com/lsst-ts/ts-standardscripts/internal/script"
)

// ATCS is the auxiliary telescope control system as the scripts use it.
type ATCS interface {
	AssertAllEnabled(ctx context.Context) error
	DisableChecks(names ...string)
	TelSettleTime() float64

	SlewDomeTo(ctx context.Context, az float64) error
	CloseDome(ctx context.Context) error
	OpenDropoutDoor(ctx context.Context) error
	StopTracking(ctx context.Context) error
	StopAll(ctx context.Context) error
	EnableATAOSCorrections(ctx context.Context) error
	DisableATAOSCorrections(ctx context.Context) error
}

const ignoreSchema = `
$schema: http://json-schema.org/draft-07/schema#
type: object
properties:
  ignore:
    description: >-
      ATCS components to ignore in the availability check, as member keys,
      e.g. atdometrajectory.
    type: array
    items:
      type: string
additionalProperties: false
`

func withIgnore(schema string) string {
	return script.MustMergeSchemaProperties(schema, ignoreSchema)
}

func disableChecks(a ATCS, ignore []string) {
	if len(ignore) > 0 {
		a.DisableChecks(ignore...)
	}
}

func orDiscard(log *logging.Logger) *logging.Logger {
	if log == nil {
		return logging.Discard()
	}
	return log
}

// Stop stops all telescope and dome motion.
type Stop struct {
	atcs ATCS
}

func NewStop(a ATCS) *Stop { return &Stop{atcs: a} }

func (s *Stop) Schema() string { return "" }

func (s *Stop) Configure(_ context.Context, raw []byte) error {
	return script.LoadConfig("", raw, nil)
}

func (s *Stop) SetMetadata(md *script.Metadata) { md.Duration = 60 }

func (s *Stop) Run(ctx context.Context, _ script.Checkpointer) error {
	return s.atcs.StopAll(ctx)
}

const disableATAOSSchema = `
$schema: http://json-schema.org/draft-07/schema#
title: DisableATAOSCorrections v1
description: Configuration for DisableATAOSCorrections.
type: object
properties:
  ignore_fail:
    description: >-
      Ignore a failure to disable the corrections? A failure is then logged
      and the script succeeds.
    type: boolean
    default: true
additionalProperties: false
`

// ATAOSCorrections turns the ATAOS corrections on or off after checking
// that the ATCS is enabled.
type ATAOSCorrections struct {
	atcs   ATCS
	log    *logging.Logger
	enable bool
	schema string

	ignoreFail bool
}

// NewEnableATAOSCorrections turns the corrections on.
func NewEnableATAOSCorrections(a ATCS, log *logging.Logger) *ATAOSCorrections {
	return &ATAOSCorrections{
		atcs:   a,
		log:    orDiscard(log),
		enable: true,
		schema: withIgnore("$schema: http://json-schema.org/draft-07/schema#\ntitle: EnableATAOSCorrections v1\ntype: object\nproperties: {}\nadditionalProperties: false\n"),
	}
}

// NewDisableATAOSCorrections turns every correction off.
func NewDisableATAOSCorrections(a ATCS, log *logging.Logger) *ATAOSCorrections {
	return &ATAOSCorrections{atcs: a, log: orDiscard(log), schema: withIgnore(disableATAOSSchema)}
}

func (s *ATAOSCorrections) Schema() string { return s.schema }

func (s *ATAOSCorrections) Configure(_ context.Context, raw []byte) error {
	var cfg struct {
		Ignore     []string `yaml:"ignore"`
		IgnoreFail bool     `yaml:"ignore_fail"`
	}
	if err := script.LoadConfig(s.schema, raw, &cfg); err != nil {
		return err
	}
	s.ignoreFail = cfg.IgnoreFail
	disableChecks(s.atcs, cfg.Ignore)
	return nil
}

func (s *ATAOSCorrections) SetMetadata(md *script.Metadata) { md.Duration = 60 }

func (s *ATAOSCorrections) Run(ctx context.Context, _ script.Checkpointer) error {
	if err := s.atcs.AssertAllEnabled(ctx); err != nil {
		return err
	}
	if s.enable {
		return s.atcs.EnableATAOSCorrections(ctx)
	}
	err := s.atcs.DisableATAOSCorrections(ctx)
	if err != nil && s.ignoreFail {
		s.log.Warn("failed to disable ATAOS corrections, ignoring", "error", err)
		return nil
	}
	return err
}
