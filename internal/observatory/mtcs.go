package observatory

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
	"github.com/lsst-ts/ts-standardscripts/internal/salobj"
)

// Main telescope member keys.
const (
	KeyMTMount          = "mtmount"
	KeyMTPtg            = "mtptg"
	KeyMTAOS            = "mtaos"
	KeyMTM1M3           = "mtm1m3"
	KeyMTM2             = "mtm2"
	KeyCameraHexapod    = "mthexapod_1"
	KeyM2Hexapod        = "mthexapod_2"
	KeyMTRotator        = "mtrotator"
	KeyMTDome           = "mtdome"
	KeyMTDomeTrajectory = "mtdometrajectory"
)

// MTCSComponents are the members of the main telescope control system.
var MTCSComponents = []Component{
	{Name: "MTMount"},
	{Name: "MTPtg"},
	{Name: "MTAOS"},
	{Name: "MTM1M3"},
	{Name: "MTM2"},
	{Name: "MTHexapod", Index: 1},
	{Name: "MTHexapod", Index: 2},
	{Name: "MTRotator"},
	{Name: "MTDome"},
	{Name: "MTDomeTrajectory"},
}

// MountPosition is a mount park position.
type MountPosition int

// Park positions, as MTMount numbers them.
const (
	ParkZenith  MountPosition = 0
	ParkHorizon MountPosition = 1
)

var mountPositionNames = map[MountPosition]string{
	ParkZenith:  "ZENITH",
	ParkHorizon: "HORIZON",
}

func (p MountPosition) String() string {
	if n, ok := mountPositionNames[p]; ok {
		return n
	}
	return fmt.Sprintf("MountPosition(%d)", int(p))
}

// ParseMountPosition converts "ZENITH" or "HORIZON" to a MountPosition.
func ParseMountPosition(name string) (MountPosition, error) {
	for p, n := range mountPositionNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("invalid park position %q", name)
}

// M1M3 detailed states used to detect the end of raise and lower operations.
const (
	M1M3Parked = 5
	M1M3Active = 7
)

// DomeSubsystemAMCS is the MTDome azimuth motion control subsystem id.
const DomeSubsystemAMCS = 0x1

// Operation timeouts.
const (
	domeSlewTimeout    = 300 * time.Second
	mountParkTimeout   = 600 * time.Second
	homeAxesTimeout    = 300 * time.Second
	m1m3RaiseTimeout   = 600 * time.Second
	m1m3LowerTimeout   = 180 * time.Second
	mirrorCoverTimeout = 120 * time.Second
	rotatorSpeed       = 3.5 // deg/s
)

// mtcsSettleTime is the telescope settle time in seconds.
const mtcsSettleTime = 3.0

// HexapodOffset is a relative hexapod move in um and deg.
type HexapodOffset struct {
	X, Y, Z float64
	U, V, W float64
}

// MTCS is the main telescope control system.
type MTCS struct {
	*Group
	log *logging.Logger
}

// NewMTCS creates the MTCS group on domain.
func NewMTCS(domain *salobj.Domain, log *logging.Logger) *MTCS {
	if log == nil {
		log = logging.Discard()
	}
	log = log.With("group", "mtcs")
	return &MTCS{Group: NewGroup(domain, log, MTCSComponents...), log: log}
}

// TelSettleTime returns the settle time after a telescope motion, in seconds.
func (m *MTCS) TelSettleTime() float64 { return mtcsSettleTime }

// ─── Dome ───────────────────────────────────────────────────────────────────

// SlewDomeTo moves the dome to az (deg) and waits until it is in position.
func (m *MTCS) SlewDomeTo(ctx context.Context, az float64) error {
	m.log.Info("slewing dome", "az", az)
	if err := m.command(ctx, KeyMTDome, "moveAz", salobj.Fields{"position": az, "velocity": 0.0}, LongTimeout); err != nil {
		return err
	}
	return m.waitDomeInPosition(ctx)
}

// HomeDome moves the dome to the physical azimuth of the home switch and
// resets the azimuth zero point there.
func (m *MTCS) HomeDome(ctx context.Context, physicalAz float64) error {
	m.log.Info("homing dome", "physical_az", physicalAz)
	if err := m.SlewDomeTo(ctx, physicalAz); err != nil {
		return err
	}
	return m.command(ctx, KeyMTDome, "setZeroAz", nil, LongTimeout)
}

// ParkDome moves the dome to its park position.
func (m *MTCS) ParkDome(ctx context.Context) error {
	if err := m.command(ctx, KeyMTDome, "park", nil, LongTimeout); err != nil {
		return err
	}
	return m.waitDomeInPosition(ctx)
}

// CrawlAz starts a constant azimuth velocity (deg/s); 0 stops the crawl.
func (m *MTCS) CrawlAz(ctx context.Context, velocity float64) error {
	return m.command(ctx, KeyMTDome, "crawlAz", salobj.Fields{"velocity": velocity}, LongTimeout)
}

// StopDome stops the given dome subsystems.
func (m *MTCS) StopDome(ctx context.Context, subsystems int) error {
	return m.command(ctx, KeyMTDome, "stop", salobj.Fields{"engageBrakes": false, "subSystemIds": subsystems}, LongTimeout)
}

func (m *MTCS) waitDomeInPosition(ctx context.Context) error {
	return m.waitEvent(ctx, KeyMTDome, "azMotion", domeSlewTimeout, fieldEquals("inPosition", true))
}

// ─── Mount ──────────────────────────────────────────────────────────────────

// ParkMount moves the mount to a park position.
func (m *MTCS) ParkMount(ctx context.Context, position MountPosition) error {
	m.log.Info("parking mount", "position", position.String())
	return m.command(ctx, KeyMTMount, "park", salobj.Fields{"position": int(position)}, mountParkTimeout)
}

// UnparkMount takes the mount out of its park position.
func (m *MTCS) UnparkMount(ctx context.Context) error {
	return m.command(ctx, KeyMTMount, "unpark", nil, mountParkTimeout)
}

// HomeBothAxes homes the mount azimuth and elevation axes.
func (m *MTCS) HomeBothAxes(ctx context.Context) error {
	return m.command(ctx, KeyMTMount, "homeBothAxes", nil, homeAxesTimeout)
}

// OpenM1Cover opens the mirror covers.
func (m *MTCS) OpenM1Cover(ctx context.Context) error {
	return m.command(ctx, KeyMTMount, "openMirrorCovers", salobj.Fields{"leaf": -1}, mirrorCoverTimeout)
}

// CloseM1Cover closes the mirror covers.
func (m *MTCS) CloseM1Cover(ctx context.Context) error {
	return m.command(ctx, KeyMTMount, "closeMirrorCovers", salobj.Fields{"leaf": -1}, mirrorCoverTimeout)
}

// StopTracking stops the pointing component from tracking.
func (m *MTCS) StopTracking(ctx context.Context) error {
	return m.command(ctx, KeyMTPtg, "stopTracking", nil, LongTimeout)
}

// ─── Rotator ────────────────────────────────────────────────────────────────

// MoveRotator moves the rotator to angle (deg). With wait set it returns once
// the rotator reports in position.
func (m *MTCS) MoveRotator(ctx context.Context, angle float64, wait bool) error {
	timeout := LongTimeout + time.Duration(math.Abs(angle)/rotatorSpeed*float64(time.Second))
	if err := m.command(ctx, KeyMTRotator, "move", salobj.Fields{"position": angle}, timeout); err != nil {
		return err
	}
	if !wait {
		return nil
	}
	return m.waitEvent(ctx, KeyMTRotator, "inPosition", timeout, fieldEquals("inPosition", true))
}

// StopRotator stops any rotator motion.
func (m *MTCS) StopRotator(ctx context.Context) error {
	return m.command(ctx, KeyMTRotator, "stop", nil, LongTimeout)
}

// ─── Mirrors ────────────────────────────────────────────────────────────────

// RaiseM1M3 raises the mirror onto its actuators and waits for ACTIVE.
func (m *MTCS) RaiseM1M3(ctx context.Context) error {
	if err := m.command(ctx, KeyMTM1M3, "raiseM1M3", salobj.Fields{"bypassReferencePosition": false}, LongTimeout); err != nil {
		return err
	}
	return m.waitEvent(ctx, KeyMTM1M3, "detailedState", m1m3RaiseTimeout, fieldEquals("detailedState", M1M3Active))
}

// LowerM1M3 lowers the mirror onto its static supports and waits for PARKED.
func (m *MTCS) LowerM1M3(ctx context.Context) error {
	if err := m.command(ctx, KeyMTM1M3, "lowerM1M3", nil, LongTimeout); err != nil {
		return err
	}
	return m.waitEvent(ctx, KeyMTM1M3, "detailedState", m1m3LowerTimeout, fieldEquals("detailedState", M1M3Parked))
}

// EnableM1M3BalanceSystem turns on the M1M3 hardpoint corrections.
func (m *MTCS) EnableM1M3BalanceSystem(ctx context.Context) error {
	return m.command(ctx, KeyMTM1M3, "enableHardpointCorrections", nil, LongTimeout)
}

// DisableM1M3BalanceSystem turns off the M1M3 hardpoint corrections.
func (m *MTCS) DisableM1M3BalanceSystem(ctx context.Context) error {
	return m.command(ctx, KeyMTM1M3, "disableHardpointCorrections", nil, LongTimeout)
}

// EnableM2BalanceSystem closes the M2 force balance loop.
func (m *MTCS) EnableM2BalanceSystem(ctx context.Context) error {
	return m.command(ctx, KeyMTM2, "switchForceBalanceSystem", salobj.Fields{"status": true}, LongTimeout)
}

// DisableM2BalanceSystem opens the M2 force balance loop.
func (m *MTCS) DisableM2BalanceSystem(ctx context.Context) error {
	return m.command(ctx, KeyMTM2, "switchForceBalanceSystem", salobj.Fields{"status": false}, LongTimeout)
}

// ─── Hexapods ───────────────────────────────────────────────────────────────

// EnableCompensationMode turns on the look-up-table compensation of a
// hexapod, given by member key.
func (m *MTCS) EnableCompensationMode(ctx context.Context, key string) error {
	return m.setCompensationMode(ctx, key, true)
}

// DisableCompensationMode turns off the compensation of a hexapod.
func (m *MTCS) DisableCompensationMode(ctx context.Context, key string) error {
	return m.setCompensationMode(ctx, key, false)
}

func (m *MTCS) setCompensationMode(ctx context.Context, key string, enable bool) error {
	if key != KeyCameraHexapod && key != KeyM2Hexapod {
		return fmt.Errorf("%w: %s is not a hexapod", ErrUnknownComponent, key)
	}
	return m.command(ctx, key, "setCompensationMode", salobj.Fields{"enable": enable}, LongTimeout)
}

// OffsetM2Hexapod moves the M2 hexapod relative to its current position.
func (m *MTCS) OffsetM2Hexapod(ctx context.Context, off HexapodOffset) error {
	return m.offsetHexapod(ctx, KeyM2Hexapod, off)
}

// OffsetCameraHexapod moves the camera hexapod relative to its current position.
func (m *MTCS) OffsetCameraHexapod(ctx context.Context, off HexapodOffset) error {
	return m.offsetHexapod(ctx, KeyCameraHexapod, off)
}

func (m *MTCS) offsetHexapod(ctx context.Context, key string, off HexapodOffset) error {
	m.log.Info("offsetting hexapod", "hexapod", key,
		"x", off.X, "y", off.Y, "z", off.Z, "u", off.U, "v", off.V, "w", off.W)
	return m.command(ctx, key, "offset", salobj.Fields{
		"x": off.X, "y": off.Y, "z": off.Z,
		"u": off.U, "v": off.V, "w": off.W,
		"sync": true,
	}, LongTimeout)
}
