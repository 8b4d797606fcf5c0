package auxtel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
	"github.com/lsst-ts/ts-standardscripts/internal/observatory"
	"github.com/lsst-ts/ts-standardscripts/internal/salobj"
	"github.com/lsst-ts/ts-standardscripts/internal/script"
)

// LampState is the ATWhiteLight lampState.basicState value.
type LampState int

// Lamp states.
const (
	LampUnknown  LampState = 1
	LampOff      LampState = 2
	LampOn       LampState = 3
	LampCooldown LampState = 4
	LampWarmup   LampState = 5
)

func (s LampState) String() string {
	switch s {
	case LampUnknown:
		return "UNKNOWN"
	case LampOff:
		return "OFF"
	case LampOn:
		return "ON"
	case LampCooldown:
		return "COOLDOWN"
	case LampWarmup:
		return "WARMUP"
	}
	return fmt.Sprintf("LampState(%d)", int(s))
}

const (
	calsysCmdTimeout     = 30 * time.Second
	calsysStdTimeout     = 20 * time.Second
	chillerCoolDown      = 15 * time.Minute
	lampWarmUp           = 20 * time.Minute
	lampCoolDown         = 20 * time.Minute
	shutterTimeout       = 3 * time.Minute
	chillerRelativeRange = 0.2
)

var (
	// ErrChillerTimeout is returned when the chiller does not reach its set
	// temperature in time.
	ErrChillerTimeout = errors.New("auxtel: chiller did not reach set temperature")

	// ErrLampTimeout is returned when the lamp does not reach the expected
	// state in time.
	ErrLampTimeout = errors.New("auxtel: lamp did not change state")
)

// CalSys holds the remotes of the auxiliary telescope calibration system.
type CalSys struct {
	WhiteLight    *salobj.Remote
	Monochromator *salobj.Remote
}

// NewCalSys creates the ATWhiteLight and ATMonochromator remotes.
func NewCalSys(domain *salobj.Domain) CalSys {
	return CalSys{
		WhiteLight:    salobj.NewRemote(domain, "ATWhiteLight", 0),
		Monochromator: salobj.NewRemote(domain, "ATMonochromator", 0),
	}
}

// waitLamp waits for the lamp to report want. A timeout is ErrLampTimeout.
func waitLamp(ctx context.Context, wl *salobj.Remote, want LampState, timeout time.Duration, log *logging.Logger) error {
	_, err := salobj.WaitFor(ctx, wl.Event("lampState"), timeout, func(s salobj.Sample) bool {
		v, err := s.Int("basicState")
		if err != nil {
			return false
		}
		log.Info("lamp state", "state", LampState(v).String())
		return LampState(v) == want
	})
	if errors.Is(err, salobj.ErrTimeout) {
		return fmt.Errorf("%w: not %s after %v", ErrLampTimeout, want, timeout)
	}
	return err
}

const powerOnSchema = `
$schema: http://json-schema.org/draft-07/schema#
title: PowerOnATCalSys v1
description: Configuration for PowerOnATCalSys.
type: object
properties:
  chiller_temperature:
    description: Set temperature for the chiller (deg C).
    type: number
    default: 20
    minimum: 10
  whitelight_power:
    description: White light power (W).
    type: number
    default: 910
    minimum: 0
  wavelength:
    description: Wavelength (nm). 0 nm is for white light.
    type: number
    default: 0
    minimum: 0
  grating_type:
    description: Grating type, 0=mirror, 1=blue, 2=red.
    type: integer
    enum: [0, 1, 2]
    default: 0
  entrance_slit_width:
    description: Width of the monochromator entrance slit (mm).
    type: number
    minimum: 0
    default: 5
  exit_slit_width:
    description: Width of the monochromator exit slit (mm).
    type: number
    minimum: 0
    default: 5
  use_atmonochromator:
    description: >-
      Configure the monochromator? Otherwise it is left as it is and not
      checked.
    type: boolean
    default: false
additionalProperties: false
`

type powerOnConfig struct {
	ChillerTemperature float64 `yaml:"chiller_temperature"`
	WhiteLightPower    float64 `yaml:"whitelight_power"`
	Wavelength         float64 `yaml:"wavelength"`
	GratingType        int     `yaml:"grating_type"`
	EntranceSlitWidth  float64 `yaml:"entrance_slit_width"`
	ExitSlitWidth      float64 `yaml:"exit_slit_width"`
	UseMonochromator   bool    `yaml:"use_atmonochromator"`
}

// PowerOnATCalSys powers on the dome flat illuminator: chiller, shutter,
// lamp and optionally the monochromator.
type PowerOnATCalSys struct {
	cal CalSys
	log *logging.Logger
	cfg powerOnConfig

	coolDown time.Duration
}

func NewPowerOnATCalSys(cal CalSys, log *logging.Logger) *PowerOnATCalSys {
	return &PowerOnATCalSys{cal: cal, log: orDiscard(log), coolDown: chillerCoolDown}
}

func (s *PowerOnATCalSys) Schema() string { return powerOnSchema }

func (s *PowerOnATCalSys) Configure(_ context.Context, raw []byte) error {
	var cfg powerOnConfig
	if err := script.LoadConfig(powerOnSchema, raw, &cfg); err != nil {
		return err
	}
	s.cfg = cfg
	return nil
}

func (s *PowerOnATCalSys) SetMetadata(md *script.Metadata) {
	md.Duration = (chillerCoolDown + lampWarmUp).Seconds()
}

func (s *PowerOnATCalSys) Run(ctx context.Context, cp script.Checkpointer) error {
	wl := s.cal.WhiteLight
	if err := observatory.AssertEnabled(ctx, wl); err != nil {
		return err
	}
	if s.cfg.UseMonochromator {
		if err := observatory.AssertEnabled(ctx, s.cal.Monochromator); err != nil {
			return err
		}
	}

	if err := cp.Checkpoint(ctx, "Starting chiller"); err != nil {
		return err
	}
	if _, err := wl.Command("setChillerTemperature").SetStart(ctx, salobj.Fields{"temperature": s.cfg.ChillerTemperature}, calsysCmdTimeout); err != nil {
		return err
	}
	if _, err := wl.Command("startChiller").Start(ctx, chillerCoolDown); err != nil {
		return err
	}

	if err := cp.Checkpoint(ctx, "Waiting for chiller to cool to set temperature"); err != nil {
		return err
	}
	if err := s.waitChiller(ctx); err != nil {
		return err
	}

	if err := cp.Checkpoint(ctx, "Opening the shutter"); err != nil {
		return err
	}
	if _, err := wl.Command("openShutter").Start(ctx, shutterTimeout); err != nil {
		return err
	}

	if err := cp.Checkpoint(ctx, "Turning on lamp"); err != nil {
		return err
	}
	wl.Event("lampState").Flush()
	if _, err := wl.Command("turnLampOn").SetStart(ctx, salobj.Fields{"power": s.cfg.WhiteLightPower}, lampWarmUp); err != nil {
		return err
	}

	if err := cp.Checkpoint(ctx, "Waiting for lamp to warm up"); err != nil {
		return err
	}
	if err := waitLamp(ctx, wl, LampOn, lampWarmUp, s.log); err != nil {
		return err
	}

	if !s.cfg.UseMonochromator {
		return nil
	}
	if err := cp.Checkpoint(ctx, "Configuring ATMonochromator"); err != nil {
		return err
	}
	return s.setUpMonochromator(ctx)
}

// waitChiller polls the chiller telemetry until the supply temperature is
// within the relative range of the set temperature.
func (s *PowerOnATCalSys) waitChiller(ctx context.Context) error {
	tel := s.cal.WhiteLight.Telemetry("chillerTemperatures")
	start := time.Now()
	var supply, set float64
	for time.Since(start) < s.coolDown {
		sample, err := tel.Next(ctx, true, calsysStdTimeout)
		if err != nil {
			return err
		}
		if supply, err = sample.Float("supplyTemperature"); err != nil {
			return err
		}
		if set, err = sample.Float("setTemperature"); err != nil {
			return err
		}
		s.log.Debug("chiller temperature", "supply", supply, "set", set)
		if set != 0 && math.Abs(set-supply)/set <= chillerRelativeRange {
			s.log.Info("chiller reached target temperature", "supply", supply,
				"elapsed", time.Since(start).Round(time.Second).String())
			return nil
		}
	}
	return fmt.Errorf("%w: %v after %v, set %v", ErrChillerTimeout, supply, s.coolDown, set)
}

func (s *PowerOnATCalSys) setUpMonochromator(ctx context.Context) error {
	mono := s.cal.Monochromator
	if _, err := mono.Command("updateMonochromatorSetup").SetStart(ctx, salobj.Fields{
		"gratingType":           s.cfg.GratingType,
		"fontExitSlitWidth":     s.cfg.ExitSlitWidth,
		"fontEntranceSlitWidth": s.cfg.EntranceSlitWidth,
		"wavelength":            s.cfg.Wavelength,
	}, calsysCmdTimeout); err != nil {
		return err
	}

	events := []string{"selectedGrating", "wavelength", "entrySlitWidth", "exitSlitWidth"}
	samples := make([]salobj.Sample, len(events))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, name := range events {
		eg.Go(func() error {
			var err error
			samples[i], err = mono.Event(name).Aget(egCtx, calsysCmdTimeout)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	s.log.Info("monochromator configured",
		"grating", samples[0].Data, "wavelength", samples[1].Data,
		"entry_slit", samples[2].Data, "exit_slit", samples[3].Data)
	return nil
}

// PowerOffATCalSys turns the lamp off, closes the shutter and stops the
// chiller once the lamp has cooled down.
type PowerOffATCalSys struct {
	cal CalSys
	log *logging.Logger
}

func NewPowerOffATCalSys(cal CalSys, log *logging.Logger) *PowerOffATCalSys {
	return &PowerOffATCalSys{cal: cal, log: orDiscard(log)}
}

func (s *PowerOffATCalSys) Schema() string { return "" }

func (s *PowerOffATCalSys) Configure(_ context.Context, raw []byte) error {
	return script.LoadConfig("", raw, nil)
}

func (s *PowerOffATCalSys) SetMetadata(md *script.Metadata) { md.Duration = lampCoolDown.Seconds() }

func (s *PowerOffATCalSys) Run(ctx context.Context, cp script.Checkpointer) error {
	wl := s.cal.WhiteLight
	if err := observatory.AssertEnabled(ctx, wl); err != nil {
		return err
	}

	if err := cp.Checkpoint(ctx, "Turning lamp off"); err != nil {
		return err
	}
	wl.Event("lampState").Flush()
	if _, err := wl.Command("turnLampOff").Start(ctx, lampCoolDown); err != nil {
		return err
	}

	if err := cp.Checkpoint(ctx, "Closing the shutter"); err != nil {
		return err
	}
	if _, err := wl.Command("closeShutter").Start(ctx, shutterTimeout); err != nil {
		return err
	}

	if err := cp.Checkpoint(ctx, "Waiting for lamp to cool down"); err != nil {
		return err
	}
	if err := waitLamp(ctx, wl, LampOff, lampCoolDown, s.log); err != nil {
		return err
	}

	if err := cp.Checkpoint(ctx, "Stopping chiller"); err != nil {
		return err
	}
	_, err := wl.Command("stopChiller").Start(ctx, calsysCmdTimeout)
	return err
}
