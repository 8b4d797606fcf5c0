package maintel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
	"github.com/lsst-ts/ts-standardscripts/internal/observatory"
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
    description: Target azimuth for the dome (deg).
    type: number
required: [az]
additionalProperties: false
`

// SlewDome enables the MTCS and moves the dome to an azimuth.
type SlewDome struct {
	mtcs MTCS
	Az   float64
}

func NewSlewDome(m MTCS) *SlewDome { return &SlewDome{mtcs: m} }

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
	disableChecks(s.mtcs, cfg.Ignore)
	return nil
}

func (s *SlewDome) SetMetadata(md *script.Metadata) { md.Duration = 180 }

func (s *SlewDome) Run(ctx context.Context, _ script.Checkpointer) error {
	if err := s.mtcs.Enable(ctx, nil); err != nil {
		return err
	}
	if err := s.mtcs.AssertAllEnabled(ctx); err != nil {
		return err
	}
	return s.mtcs.SlewDomeTo(ctx, s.Az)
}

const homeDomeSchema = `
$schema: http://json-schema.org/draft-07/schema#
title: HomeDome v1
description: Configuration for HomeDome.
type: object
properties:
  physical_az:
    description: Physical azimuth of the home switch (deg).
    type: number
required: [physical_az]
additionalProperties: false
`

// HomeDome resets the dome azimuth at the home switch.
type HomeDome struct {
	mtcs       MTCS
	PhysicalAz float64
}

func NewHomeDome(m MTCS) *HomeDome { return &HomeDome{mtcs: m} }

func (s *HomeDome) Schema() string { return withIgnore(homeDomeSchema) }

func (s *HomeDome) Configure(_ context.Context, raw []byte) error {
	var cfg struct {
		PhysicalAz float64  `yaml:"physical_az"`
		Ignore     []string `yaml:"ignore"`
	}
	if err := script.LoadConfig(s.Schema(), raw, &cfg); err != nil {
		return err
	}
	s.PhysicalAz = cfg.PhysicalAz
	disableChecks(s.mtcs, cfg.Ignore)
	return nil
}

func (s *HomeDome) SetMetadata(md *script.Metadata) { md.Duration = 60 }

func (s *HomeDome) Run(ctx context.Context, cp script.Checkpointer) error {
	if err := s.mtcs.AssertAllEnabled(ctx); err != nil {
		return err
	}
	if err := cp.Checkpoint(ctx, "Homing dome"); err != nil {
		return err
	}
	return s.mtcs.HomeDome(ctx, s.PhysicalAz)
}

const crawlAzSchema = `
$schema: http://json-schema.org/draft-07/schema#
title: CrawlAz v1
description: Configuration for CrawlAz.
type: object
properties:
  direction:
    description: Which direction to move the dome?
    type: string
    enum: [ClockWise, CounterClockWise]
    default: ClockWise
  velocity:
    description: Crawl speed (deg/s).
    type: number
    exclusiveMinimum: 0
    default: 0.5
additionalProperties: false
`

const (
	crawlStateTimeout = 10 * time.Second
	crawlSettleTime   = 10 * time.Second
)

// ErrDomeNotEnabled is returned when the dome leaves ENABLED while crawling.
var ErrDomeNotEnabled = errors.New("maintel: dome must be ENABLED")

// CrawlAz moves the dome at constant speed until the script is stopped.
// Stopping it halts the crawl and the azimuth subsystem.
type CrawlAz struct {
	mtcs   MTCS
	dome   *salobj.Remote
	log    *logging.Logger
	settle time.Duration

	velocity float64
}

// NewCrawlAz creates the script. dome is the MTDome remote, used to watch
// its summary state.
func NewCrawlAz(m MTCS, dome *salobj.Remote, log *logging.Logger) *CrawlAz {
	return &CrawlAz{mtcs: m, dome: dome, log: orDiscard(log), settle: crawlSettleTime}
}

func (s *CrawlAz) Schema() string { return crawlAzSchema }

// Velocity returns the signed crawl velocity (deg/s).
func (s *CrawlAz) Velocity() float64 { return s.velocity }

func (s *CrawlAz) Configure(_ context.Context, raw []byte) error {
	var cfg struct {
		Direction string  `yaml:"direction"`
		Velocity  float64 `yaml:"velocity"`
	}
	if err := script.LoadConfig(crawlAzSchema, raw, &cfg); err != nil {
		return err
	}
	s.velocity = cfg.Velocity
	if cfg.Direction == "CounterClockWise" {
		s.velocity = -cfg.Velocity
	}
	return nil
}

// SetMetadata leaves the duration unset: the crawl lasts until stopped.
func (s *CrawlAz) SetMetadata(*script.Metadata) {}

func (s *CrawlAz) Run(ctx context.Context, _ script.Checkpointer) (err error) {
	s.log.Info("starting dome crawl", "velocity", s.velocity)
	state, err := salobj.SummaryState(ctx, s.dome, crawlStateTimeout)
	if err != nil {
		return err
	}
	if state != salobj.StateEnabled {
		return fmt.Errorf("%w: current state %s", ErrDomeNotEnabled, state)
	}

	evt := s.dome.Event(salobj.EventSummaryState)
	evt.Flush()
	if err := s.mtcs.CrawlAz(ctx, s.velocity); err != nil {
		return err
	}
	defer s.stop(context.WithoutCancel(ctx))

	for {
		sample, err := evt.Next(ctx, false, crawlStateTimeout)
		switch {
		case errors.Is(err, salobj.ErrTimeout):
			continue
		case ctx.Err() != nil:
			s.log.Debug("crawl cancelled")
			return ctx.Err()
		case err != nil:
			return err
		}
		v, err := sample.Int("summaryState")
		if err != nil {
			return err
		}
		if salobj.State(v) != salobj.StateEnabled {
			return fmt.Errorf("%w: dome went to %s", ErrDomeNotEnabled, salobj.State(v))
		}
	}
}

// stop halts the crawl. Failures are logged.
func (s *CrawlAz) stop(ctx context.Context) {
	s.log.Info("stopping dome")
	if err := s.mtcs.CrawlAz(ctx, 0); err != nil {
		s.log.Error("error stopping dome crawl, ignoring", "error", err)
	}
	s.log.Info("waiting for dome to stop moving")
	time.Sleep(s.settle)
	if err := s.mtcs.StopDome(ctx, observatory.DomeSubsystemAMCS); err != nil {
		s.log.Error("error stopping the dome, ignoring", "error", err)
	}
}
