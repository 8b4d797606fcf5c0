package auxtel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
	"github.com/lsst-ts/ts-standardscripts/internal/salobj"
	"github.com/lsst-ts/ts-standardscripts/internal/script"
)

const slewDomeSchema = `
$schema: http://json-schema.org/draft-07/schema#
title: SlewDome v1
description: Configuration for SlewDome.
type: object
properties:
  az:
    description: Azimuth position (deg) to slew the dome to.
    type: number
required: [az]
additionalProperties: false
`

// SlewDome moves the ATDome to an azimuth.
type SlewDome struct {
	atcs ATCS
	log  *logging.Logger
	Az   float64
}

func NewSlewDome(a ATCS, log *logging.Logger) *SlewDome {
	return &SlewDome{atcs: a, log: orDiscard(log)}
}

func (s *SlewDome) Schema() string { return withIgnore(slewDomeSchema) }

func (s *SlewDome) Configure(_ context.Context, raw []byte) error {
	var cfg struct {
		Az     float64  `yaml:"az"`
		Ignore []string `yaml:"ignore"`
	}
	if err := script.LoadConfig(s.Schema(), raw, &cfg); err != nil {
		return err
	}
	s.Az = cfg.Az
	disableChecks(s.atcs, cfg.Ignore)
	return nil
}

func (s *SlewDome) SetMetadata(md *script.Metadata) { md.Duration = 60 }

func (s *SlewDome) Run(ctx context.Context, _ script.Checkpointer) error {
	if err := s.atcs.AssertAllEnabled(ctx); err != nil {
		return err
	}
	s.log.Info("preparing to slew dome", "az", s.Az)
	return s.atcs.SlewDomeTo(ctx, s.Az)
}

// CloseDome closes the ATDome main shutter.
type CloseDome struct {
	atcs ATCS
}

func NewCloseDome(a ATCS) *CloseDome { return &CloseDome{atcs: a} }

func (s *CloseDome) Schema() string {
	return withIgnore("$schema: http://json-schema.org/draft-07/schema#\ntitle: CloseDome v1\ntype: object\nproperties: {}\nadditionalProperties: false\n")
}

func (s *CloseDome) Configure(_ context.Context, raw []byte) error {
	var cfg struct {
		Ignore []string `yaml:"ignore"`
	}
	if err := script.LoadConfig(s.Schema(), raw, &cfg); err != nil {
		return err
	}
	disableChecks(s.atcs, cfg.Ignore)
	return nil
}

func (s *CloseDome) SetMetadata(md *script.Metadata) { md.Duration = 240 }

func (s *CloseDome) Run(ctx context.Context, cp script.Checkpointer) error {
	if err := s.atcs.AssertAllEnabled(ctx); err != nil {
		return err
	}
	if err := cp.Checkpoint(ctx, "Closing dome"); err != nil {
		return err
	}
	return s.atcs.CloseDome(ctx)
}

// Wind limits for the dropout door, in m/s.
const (
	windMedianLimit = 8.0
	windMaxLimit    = 10.0
	windStdDevLimit = 3.0
	// gustyScale tightens the limits when the wind is gusty.
	gustyScale = 0.8

	windTimeout = 10 * time.Second
)

// ErrUnsafeWind is returned when the wind is too strong to open the door.
var ErrUnsafeWind = errors.New("auxtel: unsafe wind conditions")

// NewESSRemote creates the remote of the ESS reporting the wind at the
// auxiliary telescope.
func NewESSRemote(domain *salobj.Domain) *salobj.Remote {
	return salobj.NewRemote(domain, "ESS", 301)
}

// OpenDropoutDoor opens the ATDome dropout door when the wind allows it.
// When the wind cannot be read the door is opened anyway and a warning
// is logged.
type OpenDropoutDoor struct {
	atcs ATCS
	ess  *salobj.Remote
	log  *logging.Logger
}

func NewOpenDropoutDoor(a ATCS, ess *salobj.Remote, log *logging.Logger) *OpenDropoutDoor {
	return &OpenDropoutDoor{atcs: a, ess: ess, log: orDiscard(log)}
}

func (s *OpenDropoutDoor) Schema() string { return "" }

func (s *OpenDropoutDoor) Configure(_ context.Context, raw []byte) error {
	return script.LoadConfig("", raw, nil)
}

func (s *OpenDropoutDoor) SetMetadata(md *script.Metadata) { md.Duration = 120 }

func (s *OpenDropoutDoor) Run(ctx context.Context, cp script.Checkpointer) error {
	if err := cp.Checkpoint(ctx, "Opening dropout door."); err != nil {
		return err
	}
	if err := s.assertWindSafe(ctx, cp); err != nil {
		return err
	}
	if err := s.atcs.OpenDropoutDoor(ctx); err != nil {
		return err
	}
	s.log.Info("dropout door opened")
	return nil
}

type airFlow struct {
	Speed       float64 `json:"speed"`
	MaxSpeed    float64 `json:"maxSpeed"`
	SpeedStdDev float64 `json:"speedStdDev"`
}

// safe reports whether the wind allows operating the door. Gusty wind,
// with a deviation above its limit, lowers the speed limits.
func (a airFlow) safe() bool {
	medianLimit, maxLimit := windMedianLimit, windMaxLimit
	if a.SpeedStdDev > windStdDevLimit {
		medianLimit *= gustyScale
		maxLimit *= gustyScale
	}
	return a.Speed < medianLimit && a.MaxSpeed < maxLimit
}

func (s *OpenDropoutDoor) assertWindSafe(ctx context.Context, cp script.Checkpointer) error {
	if err := cp.Checkpoint(ctx, "Checking wind speed."); err != nil {
		return err
	}
	sample, err := s.ess.Telemetry("airFlow").Next(ctx, true, windTimeout)
	if errors.Is(err, salobj.ErrTimeout) {
		s.log.Warn("cannot determine wind speed, proceeding with caution; ensure it is safe to open")
		return nil
	}
	if err != nil {
		return err
	}
	var wind airFlow
	if err := sample.Decode(&wind); err != nil {
		return fmt.Errorf("decoding airFlow: %w", err)
	}
	if !wind.safe() {
		return fmt.Errorf("%w: median speed %v m/s, max speed %v m/s, standard deviation %v m/s",
			ErrUnsafeWind, wind.Speed, wind.MaxSpeed, wind.SpeedStdDev)
	}
	return nil
}
