package observatory

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
	"github.com/lsst-ts/ts-standardscripts/internal/salobj"
)

// Auxiliary telescope member keys.
const (
	KeyATMCS            = "atmcs"
	KeyATPtg            = "atptg"
	KeyATAOS            = "ataos"
	KeyATPneumatics     = "atpneumatics"
	KeyATHexapod        = "athexapod"
	KeyATDome           = "atdome"
	KeyATDomeTrajectory = "atdometrajectory"
)

// ATCSComponents are the members of the auxiliary telescope control system.
var ATCSComponents = []Component{
	{Name: "ATMCS"},
	{Name: "ATPtg"},
	{Name: "ATAOS"},
	{Name: "ATPneumatics"},
	{Name: "ATHexapod"},
	{Name: "ATDome"},
	{Name: "ATDomeTrajectory"},
}

// ATDome shutter door states.
const (
	DoorClosed = 1
	DoorOpened = 2
)

const (
	atDomeSlewTimeout    = 120 * time.Second
	atDomeShutterTimeout = 240 * time.Second
	atcsSettleTime       = 3.0
)

// ATCS is the auxiliary telescope control system.
type ATCS struct {
	*Group
	log *logging.Logger
}

// NewATCS creates the ATCS group on domain.
func NewATCS(domain *salobj.Domain, log *logging.Logger) *ATCS {
	if log == nil {
		log = logging.Discard()
	}
	log = log.With("group", "atcs")
	return &ATCS{Group: NewGroup(domain, log, ATCSComponents...), log: log}
}

// TelSettleTime returns the settle time after a telescope motion, in seconds.
func (a *ATCS) TelSettleTime() float64 { return atcsSettleTime }

// SlewDomeTo moves the dome to az (deg) and waits until it is in position.
func (a *ATCS) SlewDomeTo(ctx context.Context, az float64) error {
	a.log.Info("slewing dome", "az", az)
	if err := a.command(ctx, KeyATDome, "moveAzimuth", salobj.Fields{"azimuth": az}, LongTimeout); err != nil {
		return err
	}
	return a.waitEvent(ctx, KeyATDome, "azimuthInPosition", atDomeSlewTimeout, fieldEquals("inPosition", true))
}

// CloseDome closes the main shutter door.
func (a *ATCS) CloseDome(ctx context.Context) error {
	if err := a.command(ctx, KeyATDome, "closeShutter", nil, LongTimeout); err != nil {
		return err
	}
	return a.waitEvent(ctx, KeyATDome, "mainDoorState", atDomeShutterTimeout, fieldEquals("state", DoorClosed))
}

// OpenDropoutDoor opens the dropout door.
func (a *ATCS) OpenDropoutDoor(ctx context.Context) error {
	if err := a.command(ctx, KeyATDome, "moveShutterDropoutDoor", salobj.Fields{"open": true}, LongTimeout); err != nil {
		return err
	}
	return a.waitEvent(ctx, KeyATDome, "dropoutDoorState", atDomeShutterTimeout, fieldEquals("state", DoorOpened))
}

// StopTracking stops the pointing component and the mount from tracking.
func (a *ATCS) StopTracking(ctx context.Context) error {
	if err := a.command(ctx, KeyATPtg, "stopTracking", nil, LongTimeout); err != nil {
		return err
	}
	return a.command(ctx, KeyATMCS, "stopTracking", nil, LongTimeout)
}

// StopAll stops telescope and dome motion. Every stop is attempted; the first
// failure is returned.
func (a *ATCS) StopAll(ctx context.Context) error {
	var eg errgroup.Group
	eg.Go(func() error { return a.StopTracking(ctx) })
	eg.Go(func() error { return a.command(ctx, KeyATDome, "stopMotion", nil, LongTimeout) })
	eg.Go(func() error { return a.command(ctx, KeyATDomeTrajectory, "disable", nil, LongTimeout) })
	return eg.Wait()
}

// EnableATAOSCorrections turns on the ATAOS corrections.
func (a *ATCS) EnableATAOSCorrections(ctx context.Context) error {
	return a.command(ctx, KeyATAOS, "enableCorrection", salobj.Fields{
		"m1": true, "hexapod": true, "atspectrograph": true,
	}, LongTimeout)
}

// DisableATAOSCorrections turns off every ATAOS correction.
func (a *ATCS) DisableATAOSCorrections(ctx context.Context) error {
	return a.command(ctx, KeyATAOS, "disableCorrection", salobj.Fields{"disableAll": true}, LongTimeout)
}
