package maintel

import (
	"context"
	"fmt"

	"github.com/lsst-ts/ts-standardscripts/internal/block"
	"github.com/lsst-ts/ts-standardscripts/internal/script"
)

const moveRotatorSchema = `
$schema: http://json-schema.org/draft-07/schema#
title: MoveRotator v1
description: Configuration for MoveRotator.
type: object
properties:
  angle:
    description: Final angle of the rotator (deg).
    type: number
    minimum: -90
    maximum: 90
  wait_for_complete:
    description: >-
      Wait for the move to complete before ending the script? Otherwise the
      script ends as soon as the rotator accepts the move.
    type: boolean
    default: true
required: [angle]
additionalProperties: false
`

// MoveRotator moves the camera rotator to an angle.
type MoveRotator struct {
	mtcs  MTCS
	block *block.Base

	Angle           float64
	WaitForComplete bool
}

func NewMoveRotator(m MTCS, deps block.Deps) *MoveRotator {
	return &MoveRotator{mtcs: m, block: block.NewBase("MoveRotator", deps)}
}

func (s *MoveRotator) Schema() string { return withBlock(moveRotatorSchema) }

func (s *MoveRotator) Configure(ctx context.Context, raw []byte) error {
	var cfg struct {
		Angle        float64 `yaml:"angle"`
		Wait         bool    `yaml:"wait_for_complete"`
		block.Config `yaml:",inline"`
	}
	if err := script.LoadConfig(s.Schema(), raw, &cfg); err != nil {
		return err
	}
	s.Angle, s.WaitForComplete = cfg.Angle, cfg.Wait
	return s.block.Configure(ctx, cfg.Config)
}

func (s *MoveRotator) SetMetadata(md *script.Metadata) { md.Duration = 120 }

func (s *MoveRotator) Run(ctx context.Context, cp script.Checkpointer) error {
	return s.block.Run(ctx, cp, func(ctx context.Context) error {
		if err := cp.Checkpoint(ctx, fmt.Sprintf("Start moving rotator to %v degrees.", s.Angle)); err != nil {
			return err
		}
		err := s.block.Step(fmt.Sprintf("Move rotator to %v degrees.", s.Angle), func() error {
			return s.mtcs.MoveRotator(ctx, s.Angle, s.WaitForComplete)
		})
		if err != nil {
			return err
		}
		return cp.Checkpoint(ctx, fmt.Sprintf("Move rotator returned. Wait for complete: %v.", s.WaitForComplete))
	})
}

// StopRotator stops any rotator motion.
type StopRotator struct {
	mtcs  MTCS
	block *block.Base
}

func NewStopRotator(m MTCS, deps block.Deps) *StopRotator {
	return &StopRotator{mtcs: m, block: block.NewBase("StopRotator", deps)}
}

func (s *StopRotator) Schema() string {
	return withBlock("$schema: http://json-schema.org/draft-07/schema#\ntitle: StopRotator v1\ntype: object\nproperties: {}\nadditionalProperties: false\n")
}

func (s *StopRotator) Configure(ctx context.Context, raw []byte) error {
	var cfg block.Config
	if err := script.LoadConfig(s.Schema(), raw, &cfg); err != nil {
		return err
	}
	return s.block.Configure(ctx, cfg)
}

func (s *StopRotator) SetMetadata(md *script.Metadata) { md.Duration = s.mtcs.TelSettleTime() }

func (s *StopRotator) Run(ctx context.Context, cp script.Checkpointer) error {
	return s.block.Run(ctx, cp, func(ctx context.Context) error {
		if err := cp.Checkpoint(ctx, "Stopping rotator..."); err != nil {
			return err
		}
		if err := s.mtcs.StopRotator(ctx); err != nil {
			return err
		}
		return cp.Checkpoint(ctx, "Done")
	})
}
