package maintel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lsst-ts/ts-standardscripts/internal/block"
	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
	"github.com/lsst-ts/ts-standardscripts/internal/observatory"
	"github.com/lsst-ts/ts-standardscripts/internal/salobj"
	"github.com/lsst-ts/ts-standardscripts/internal/script"
)

// LaserStatus is the laserStatus.status value of the laser tracker.
type LaserStatus int

// Laser statuses.
const (
	LaserOff     LaserStatus = 1
	LaserOn      LaserStatus = 2
	LaserWarming LaserStatus = 3
)

func (s LaserStatus) String() string {
	switch s {
	case LaserOff:
		return "OFF"
	case LaserOn:
		return "ON"
	case LaserWarming:
		return "WARMING"
	}
	return fmt.Sprintf("LaserStatus(%d)", int(s))
}

// AlignComponent is a component the laser tracker can measure.
type AlignComponent int

// Alignment targets.
const (
	AlignM2         AlignComponent = 1
	AlignCamera     AlignComponent = 3
	AlignTMACentral AlignComponent = 4
	AlignTMAUpper   AlignComponent = 5
)

var alignComponents = map[string]AlignComponent{
	"M2":          AlignM2,
	"Camera":      AlignCamera,
	"TMA_CENTRAL": AlignTMACentral,
	"TMA_UPPER":   AlignTMAUpper,
}

// Laser tracker topics.
const (
	laserTrackerName  = "LaserTracker"
	laserTrackerIndex = 1
	cmdLaserPower     = "laserPower"
	cmdAlign          = "align"
	evtLaserStatus    = "laserStatus"
	evtOffsetsPublish = "offsetsPublish"

	laserPowerTimeout   = 30 * time.Second
	laserWarmupTimeout  = 60 * time.Second
	laserStdWaitTimeout = 60 * time.Second
	laserShortTimeout   = 5 * time.Second
	laserAlignTimeout   = 120 * time.Second

	laserMeasureTimeout    = 120 * time.Second
	laserMeasureStdTimeout = 130 * time.Second
	laserMeasureCheck      = 10 * time.Second
)

// NewLaserTrackerRemote creates the LaserTracker:1 remote.
func NewLaserTrackerRemote(domain *salobj.Domain) *salobj.Remote {
	return salobj.NewRemote(domain, laserTrackerName, laserTrackerIndex)
}

// ErrLaserNotOn is returned when an alignment starts with the laser off.
var ErrLaserNotOn = errors.New("maintel: laser is not ON")

// ErrNotAligned is returned when alignment does not converge.
var ErrNotAligned = errors.New("maintel: alignment did not converge")

func laserStartUp(ctx context.Context, lt *salobj.Remote) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return salobj.AssertLiveliness(ctx, lt, salobj.HeartbeatInterval*2) })
	eg.Go(func() error { return observatory.AssertEnabled(ctx, lt) })
	return eg.Wait()
}

func setLaserPower(ctx context.Context, lt *salobj.Remote, on bool) error {
	power := 0
	if on {
		power = 1
	}
	_, err := lt.Command(cmdLaserPower).SetStart(ctx, salobj.Fields{"power": power}, laserPowerTimeout)
	return err
}

// waitLaserStatus polls laserStatus until it reports want. Each wait is
// bounded by laserWarmupTimeout; a wait that times out is logged and
// re-issued, so only ctx ends an unsuccessful wait.
func waitLaserStatus(ctx context.Context, lt *salobj.Remote, want LaserStatus, log *logging.Logger) error {
	evt := lt.Event(evtLaserStatus)
	for {
		_, err := salobj.WaitFor(ctx, evt, laserWarmupTimeout, func(s salobj.Sample) bool {
			v, err := s.Int("status")
			return err == nil && LaserStatus(v) == want
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !errors.Is(err, salobj.ErrTimeout) {
			return err
		}
		log.Warn("still waiting for laser status", "want", want.String())
	}
}

// checkLaserOn fails unless the latest laserStatus is ON. An unknown status
// is logged and accepted.
func checkLaserOn(ctx context.Context, lt *salobj.Remote, timeout time.Duration, log *logging.Logger) error {
	s, err := lt.Event(evtLaserStatus).Aget(ctx, timeout)
	if errors.Is(err, salobj.ErrTimeout) {
		log.Warn("cannot determine laser tracker state, continuing")
		return nil
	}
	if err != nil {
		return err
	}
	v, err := s.Int("status")
	if err != nil {
		return err
	}
	if LaserStatus(v) != LaserOn {
		return fmt.Errorf("%w: status is %s", ErrLaserNotOn, LaserStatus(v))
	}
	return nil
}

// ─── Power ──────────────────────────────────────────────────────────────────

// LaserPower powers the laser tracker up or down and waits for the laser to
// report the matching status.
type LaserPower struct {
	lt    *salobj.Remote
	block *block.Base
	log   *logging.Logger
	on    bool
}

// NewLaserSetUp powers the laser up and waits for it to warm up.
func NewLaserSetUp(lt *salobj.Remote, deps block.Deps) *LaserPower {
	return &LaserPower{lt: lt, on: true, block: block.NewBase("LaserTrackerSetUp", deps), log: orDiscard(deps.Log)}
}

// NewLaserShutDown powers the laser down.
func NewLaserShutDown(lt *salobj.Remote, deps block.Deps) *LaserPower {
	return &LaserPower{lt: lt, block: block.NewBase("LaserTrackerShutDown", deps), log: orDiscard(deps.Log)}
}

func (s *LaserPower) Schema() string {
	return withBlock("$schema: http://json-schema.org/draft-07/schema#\ntype: object\nproperties: {}\nadditionalProperties: false\n")
}

func (s *LaserPower) Configure(ctx context.Context, raw []byte) error {
	var cfg block.Config
	if err := script.LoadConfig(s.Schema(), raw, &cfg); err != nil {
		return err
	}
	return s.block.Configure(ctx, cfg)
}

func (s *LaserPower) SetMetadata(md *script.Metadata) {
	md.Duration = (laserWarmupTimeout + laserPowerTimeout).Seconds()
}

func (s *LaserPower) Run(ctx context.Context, cp script.Checkpointer) error {
	return s.block.Run(ctx, cp, func(ctx context.Context) error {
		if err := laserStartUp(ctx, s.lt); err != nil {
			return err
		}
		powerMsg, waitMsg, want := "Shutting down Laser Tracker.", "Waiting for laser to switch off.", LaserOff
		if s.on {
			powerMsg, waitMsg, want = "Power up Laser Tracker.", "Waiting for laser to warm up.", LaserOn
		}

		if err := cp.Checkpoint(ctx, powerMsg); err != nil {
			return err
		}
		if err := setLaserPower(ctx, s.lt, s.on); err != nil {
			return err
		}
		if err := cp.Checkpoint(ctx, waitMsg); err != nil {
			return err
		}
		if err := waitLaserStatus(ctx, s.lt, want, s.log); err != nil {
			return err
		}
		s.log.Info("laser tracker ready", "status", want.String())
		return nil
	})
}

// ─── Align ──────────────────────────────────────────────────────────────────

const alignSchema = `
$schema: http://json-schema.org/draft-07/schema#
title: LaserTrackerAlign v1
description: Configuration for the laser tracker alignment.
type: object
properties:
  max_iter:
    description: Maximum number of iterations to align components.
    type: integer
    minimum: 1
    default: 10
  tolerance_linear:
    description: Tolerance for rigid body degrees of freedom corrections (m).
    type: number
    minimum: 0
    default: 0.0001
  tolerance_angular:
    description: Tolerance for tip/tilt degrees of freedom corrections (deg).
    type: number
    minimum: 0
    default: 0.00138
  target:
    description: Target to align, the secondary mirror or the camera.
    type: string
    enum: [Camera, M2]
required: [target]
additionalProperties: false
`

type offsets struct {
	DX  float64 `json:"dX"`
	DY  float64 `json:"dY"`
	DZ  float64 `json:"dZ"`
	DRX float64 `json:"dRX"`
	DRY float64 `json:"dRY"`
}

// corrections converts measured offsets into the hexapod move that cancels
// them. Linear terms are scaled from m to mm; terms within tolerance are
// left at zero.
func (o offsets) corrections(tolLinear, tolAngular float64) observatory.HexapodOffset {
	var c observatory.HexapodOffset
	if math.Abs(o.DX) > tolLinear {
		c.X = -o.DX * 1e3
	}
	if math.Abs(o.DY) > tolLinear {
		c.Y = -o.DY * 1e3
	}
	if math.Abs(o.DZ) > tolLinear {
		c.Z = -o.DZ * 1e3
	}
	if math.Abs(o.DRX) > tolAngular {
		c.U = -o.DRX
	}
	if math.Abs(o.DRY) > tolAngular {
		c.V = -o.DRY
	}
	return c
}

// Align moves a hexapod until the laser tracker reports it aligned.
type Align struct {
	mtcs  MTCS
	lt    *salobj.Remote
	block *block.Base
	log   *logging.Logger

	maxIter    int
	tolLinear  float64
	tolAngular float64
	targetName string
	target     AlignComponent
}

func NewAlign(m MTCS, lt *salobj.Remote, deps block.Deps) *Align {
	return &Align{mtcs: m, lt: lt, block: block.NewBase("LaserTrackerAlign", deps), log: orDiscard(deps.Log)}
}

func (s *Align) Schema() string { return withBlock(alignSchema) }

func (s *Align) Configure(ctx context.Context, raw []byte) error {
	var cfg struct {
		MaxIter      int     `yaml:"max_iter"`
		TolLinear    float64 `yaml:"tolerance_linear"`
		TolAngular   float64 `yaml:"tolerance_angular"`
		Target       string  `yaml:"target"`
		block.Config `yaml:",inline"`
	}
	if err := script.LoadConfig(s.Schema(), raw, &cfg); err != nil {
		return err
	}
	s.maxIter, s.tolLinear, s.tolAngular = cfg.MaxIter, cfg.TolLinear, cfg.TolAngular
	s.targetName, s.target = cfg.Target, alignComponents[cfg.Target]
	return s.block.Configure(ctx, cfg.Config)
}

func (s *Align) SetMetadata(md *script.Metadata) {
	md.Duration = (laserAlignTimeout + laserStdWaitTimeout).Seconds() * float64(s.maxIter)
}

func (s *Align) Run(ctx context.Context, cp script.Checkpointer) error {
	return s.block.Run(ctx, cp, func(ctx context.Context) error {
		if err := checkLaserOn(ctx, s.lt, laserShortTimeout, s.log); err != nil {
			return err
		}
		if err := cp.Checkpoint(ctx, "Starting alignment procedure."); err != nil {
			return err
		}
		if err := s.block.Step("Align "+s.targetName+".", func() error { return s.align(ctx) }); err != nil {
			return err
		}
		return cp.Checkpoint(ctx, s.targetName+" aligned with laser tracker.")
	})
}

func (s *Align) align(ctx context.Context) error {
	offset := s.mtcs.OffsetCameraHexapod
	if s.target == AlignM2 {
		offset = s.mtcs.OffsetM2Hexapod
	}
	evt := s.lt.Event(evtOffsetsPublish)

	for i := 1; i <= s.maxIter; i++ {
		evt.Flush()
		if _, err := s.lt.Command(cmdAlign).SetStart(ctx, salobj.Fields{"target": int(s.target)}, laserAlignTimeout); err != nil {
			return err
		}
		if s.tolLinear == 0 && s.tolAngular == 0 {
			s.log.Info("tolerances are zero, skipping alignment")
			return nil
		}

		sample, err := evt.Next(ctx, false, laserShortTimeout)
		if errors.Is(err, salobj.ErrTimeout) {
			s.log.Warn("cannot get new offset, using last data published")
			sample, err = evt.Aget(ctx, laserShortTimeout)
		}
		if err != nil {
			return err
		}
		var off offsets
		if err := sample.Decode(&off); err != nil {
			return fmt.Errorf("decoding %s: %w", evtOffsetsPublish, err)
		}

		c := off.corrections(s.tolLinear, s.tolAngular)
		if c == (observatory.HexapodOffset{}) {
			s.log.Info("corrections completed", "iteration", i, "max_iter", s.maxIter)
			return nil
		}
		s.log.Info("applying corrections", "iteration", i, "max_iter", s.maxIter,
			"dX", off.DX, "dY", off.DY, "dZ", off.DZ, "dRX", off.DRX, "dRY", off.DRY)
		if err := offset(ctx, c); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %s after %d iterations", ErrNotAligned, s.targetName, s.maxIter)
}

// ─── Measure ────────────────────────────────────────────────────────────────

const measureSchema = `
$schema: http://json-schema.org/draft-07/schema#
title: LaserTrackerMeasure v1
description: Configuration for the laser tracker measurement.
type: object
properties:
  target:
    description: Component to measure.
    type: string
    enum: [M2, Camera, TMA_CENTRAL, TMA_UPPER]
required: [target]
additionalProperties: false
`

// Measure has the laser tracker measure a component without correcting it.
type Measure struct {
	lt    *salobj.Remote
	block *block.Base
	log   *logging.Logger

	targetName string
	target     AlignComponent
}

func NewMeasure(lt *salobj.Remote, deps block.Deps) *Measure {
	return &Measure{lt: lt, block: block.NewBase("LaserTrackerMeasure", deps), log: orDiscard(deps.Log)}
}

func (s *Measure) Schema() string { return withBlock(measureSchema) }

func (s *Measure) Configure(ctx context.Context, raw []byte) error {
	var cfg struct {
		Target       string `yaml:"target"`
		block.Config `yaml:",inline"`
	}
	if err := script.LoadConfig(s.Schema(), raw, &cfg); err != nil {
		return err
	}
	s.targetName, s.target = cfg.Target, alignComponents[cfg.Target]
	return s.block.Configure(ctx, cfg.Config)
}

func (s *Measure) SetMetadata(md *script.Metadata) {
	md.Duration = (laserMeasureTimeout + laserMeasureStdTimeout).Seconds()
}

func (s *Measure) Run(ctx context.Context, cp script.Checkpointer) error {
	return s.block.Run(ctx, cp, func(ctx context.Context) error {
		if err := checkLaserOn(ctx, s.lt, laserMeasureCheck, s.log); err != nil {
			return err
		}
		if err := cp.Checkpoint(ctx, "Starting measuring procedure."); err != nil {
			return err
		}
		if _, err := s.lt.Command(cmdAlign).SetStart(ctx, salobj.Fields{"target": int(s.target)}, laserMeasureTimeout); err != nil {
			return err
		}
		return cp.Checkpoint(ctx, s.targetName+" measured with laser tracker.")
	})
}
