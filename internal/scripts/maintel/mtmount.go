package maintel

import (
	"context"
	"time"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
	"github.com/lsst-ts/ts-standardscripts/internal/observatory"
	"github.com/lsst-ts/ts-standardscripts/internal/script"
)

const parkMountSchema = `
$schema: http://json-schema.org/draft-07/schema#
title: ParkMount v1
description: Configuration for ParkMount.
type: object
properties:
  position:
    description: The position to park the MTMount.
    type: string
    enum: [ZENITH, HORIZON]
required: [position]
additionalProperties: false
`

// ParkMount moves the mount to a park position.
type ParkMount struct {
	mtcs     MTCS
	Position observatory.MountPosition
}

func NewParkMount(m MTCS) *ParkMount { return &ParkMount{mtcs: m} }

func (s *ParkMount) Schema() string { return withIgnore(parkMountSchema) }

func (s *ParkMount) Configure(_ context.Context, raw []byte) error {
	var cfg struct {
		Position string   `yaml:"position"`
		Ignore   []string `yaml:"ignore"`
	}
	if err := script.LoadConfig(s.Schema(), raw, &cfg); err != nil {
		return err
	}
	pos, err := observatory.ParseMountPosition(cfg.Position)
	if err != nil {
		return script.AsExpected(err)
	}
	s.Position = pos
	disableChecks(s.mtcs, cfg.Ignore)
	return nil
}

// SetMetadata publishes no duration estimate.
func (s *ParkMount) SetMetadata(*script.Metadata) {}

func (s *ParkMount) Run(ctx context.Context, _ script.Checkpointer) error {
	return s.mtcs.ParkMount(ctx, s.Position)
}

const homeBothAxesSchema = `
$schema: http://json-schema.org/draft-07/schema#
title: HomeBothAxes v1
description: Configuration for HomeBothAxes.
type: object
properties:
  ignore_m1m3:
    description: Ignore the m1m3 component? Deprecated, use disable_m1m3_force_balance.
    type: boolean
  disable_m1m3_force_balance:
    description: Disable the M1M3 force balance system?
    type: boolean
    default: false
additionalProperties: false
`

// HomeBothAxes homes the mount azimuth and elevation axes. Unless told to
// disable it, the M1M3 balance system is re-enabled afterwards.
type HomeBothAxes struct {
	mtcs MTCS
	log  *logging.Logger

	disableBalance bool
}

func NewHomeBothAxes(m MTCS, log *logging.Logger) *HomeBothAxes {
	return &HomeBothAxes{mtcs: m, log: orDiscard(log)}
}

func (s *HomeBothAxes) Schema() string { return homeBothAxesSchema }

func (s *HomeBothAxes) Configure(_ context.Context, raw []byte) error {
	var cfg struct {
		IgnoreM1M3     *bool `yaml:"ignore_m1m3"`
		DisableBalance bool  `yaml:"disable_m1m3_force_balance"`
	}
	if err := script.LoadConfig(homeBothAxesSchema, raw, &cfg); err != nil {
		return err
	}
	if cfg.IgnoreM1M3 != nil {
		s.log.Warn("ignore_m1m3 is deprecated and will be removed, use disable_m1m3_force_balance instead")
	}
	s.disableBalance = cfg.DisableBalance
	return nil
}

func (s *HomeBothAxes) SetMetadata(md *script.Metadata) { md.Duration = 300 }

func (s *HomeBothAxes) Run(ctx context.Context, cp script.Checkpointer) error {
	if s.disableBalance {
		if err := cp.Checkpoint(ctx, "Disable M1M3 balance system."); err != nil {
			return err
		}
		if err := s.mtcs.DisableM1M3BalanceSystem(ctx); err != nil {
			return err
		}
	}

	if err := cp.Checkpoint(ctx, "Homing Both Axes"); err != nil {
		return err
	}
	start := time.Now()
	if err := s.mtcs.HomeBothAxes(ctx); err != nil {
		return err
	}
	s.log.Info("homed both axes", "elapsed", time.Since(start).Round(10*time.Millisecond).String())

	if s.disableBalance {
		return nil
	}
	s.log.Info("enabling M1M3 balance system")
	return s.mtcs.EnableM1M3BalanceSystem(ctx)
}
