package maintel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lsst-ts/ts-standardscripts/internal/block"
	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/lfa"
	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/mqtt"
	"github.com/lsst-ts/ts-standardscripts/internal/observatory"
	"github.com/lsst-ts/ts-standardscripts/internal/salobj"
	"github.com/lsst-ts/ts-standardscripts/internal/salobj/salobjtest"
	"github.com/lsst-ts/ts-standardscripts/internal/script"
)

var _ MTCS = (*observatory.MTCS)(nil)

var testTopics = mqtt.Topics{Namespace: "test"}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newDomain(t *testing.T) (*salobj.Domain, *salobjtest.Transport) {
	t.Helper()
	tr := salobjtest.NewTransport()
	return salobj.NewDomain(tr, salobj.DomainConfig{Topics: testTopics, Origin: "Script:1", QoS: 1}, nil), tr
}

func configure(t *testing.T, s script.Script, raw string) script.Metadata {
	t.Helper()
	if err := s.Configure(context.Background(), []byte(raw)); err != nil {
		t.Fatalf("Configure(%q) error = %v", raw, err)
	}
	var md script.Metadata
	s.SetMetadata(&md)
	return md
}

// ─── Mocks ──────────────────────────────────────────────────────────────────

// fakeMTCS records every call as "Method(args)".
type fakeMTCS struct {
	mu       sync.Mutex
	calls    []string
	ignored  []string
	failOn   string
	crawling chan float64
}

func (f *fakeMTCS) record(format string, args ...any) error {
	call := fmt.Sprintf(format, args...)
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.failOn != "" && strings.HasPrefix(call, f.failOn) {
		return errors.New("boom")
	}
	return nil
}

func (f *fakeMTCS) got() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeMTCS) Enable(_ context.Context, overrides map[string]string) error {
	return f.record("Enable(%d)", len(overrides))
}
func (f *fakeMTCS) AssertAllEnabled(context.Context) error { return f.record("AssertAllEnabled") }
func (f *fakeMTCS) DisableChecks(names ...string)          { f.ignored = append(f.ignored, names...) }
func (f *fakeMTCS) TelSettleTime() float64                 { return 3 }

func (f *fakeMTCS) SlewDomeTo(_ context.Context, az float64) error {
	return f.record("SlewDomeTo(%v)", az)
}
func (f *fakeMTCS) HomeDome(_ context.Context, az float64) error {
	return f.record("HomeDome(%v)", az)
}
func (f *fakeMTCS) ParkDome(context.Context) error { return f.record("ParkDome") }
func (f *fakeMTCS) CrawlAz(_ context.Context, v float64) error {
	err := f.record("CrawlAz(%v)", v)
	if f.crawling != nil {
		f.crawling <- v
	}
	return err
}
func (f *fakeMTCS) StopDome(_ context.Context, subsystems int) error {
	return f.record("StopDome(%d)", subsystems)
}
func (f *fakeMTCS) ParkMount(_ context.Context, p observatory.MountPosition) error {
	return f.record("ParkMount(%s)", p)
}
func (f *fakeMTCS) UnparkMount(context.Context) error  { return f.record("UnparkMount") }
func (f *fakeMTCS) HomeBothAxes(context.Context) error { return f.record("HomeBothAxes") }
func (f *fakeMTCS) OpenM1Cover(context.Context) error  { return f.record("OpenM1Cover") }
func (f *fakeMTCS) CloseM1Cover(context.Context) error { return f.record("CloseM1Cover") }
func (f *fakeMTCS) StopTracking(context.Context) error { return f.record("StopTracking") }
func (f *fakeMTCS) MoveRotator(_ context.Context, angle float64, wait bool) error {
	return f.record("MoveRotator(%v,%v)", angle, wait)
}
func (f *fakeMTCS) StopRotator(context.Context) error { return f.record("StopRotator") }
func (f *fakeMTCS) RaiseM1M3(context.Context) error   { return f.record("RaiseM1M3") }
func (f *fakeMTCS) LowerM1M3(context.Context) error   { return f.record("LowerM1M3") }
func (f *fakeMTCS) EnableM1M3BalanceSystem(context.Context) error {
	return f.record("EnableM1M3BalanceSystem")
}
func (f *fakeMTCS) DisableM1M3BalanceSystem(context.Context) error {
	return f.record("DisableM1M3BalanceSystem")
}
func (f *fakeMTCS) EnableM2BalanceSystem(context.Context) error {
	return f.record("EnableM2BalanceSystem")
}
func (f *fakeMTCS) DisableM2BalanceSystem(context.Context) error {
	return f.record("DisableM2BalanceSystem")
}
func (f *fakeMTCS) EnableCompensationMode(_ context.Context, key string) error {
	return f.record("EnableCompensationMode(%s)", key)
}
func (f *fakeMTCS) DisableCompensationMode(_ context.Context, key string) error {
	return f.record("DisableCompensationMode(%s)", key)
}
func (f *fakeMTCS) OffsetM2Hexapod(_ context.Context, o observatory.HexapodOffset) error {
	return f.record("OffsetM2Hexapod(%v,%v,%v,%v,%v)", o.X, o.Y, o.Z, o.U, o.V)
}
func (f *fakeMTCS) OffsetCameraHexapod(_ context.Context, o observatory.HexapodOffset) error {
	return f.record("OffsetCameraHexapod(%v,%v,%v,%v,%v)", o.X, o.Y, o.Z, o.U, o.V)
}

type fakeUploader struct {
	keys []string
	data [][]byte
}

func (f *fakeUploader) Upload(_ context.Context, key string, data []byte, _ string) (lfa.Object, error) {
	f.keys = append(f.keys, key)
	f.data = append(f.data, data)
	return lfa.Object{Key: key, URL: "s3://test/" + key, ByteSize: int64(len(data))}, nil
}

type checkpoints struct {
	mu    sync.Mutex
	names []string
}

func (c *checkpoints) Checkpoint(_ context.Context, name string) error {
	c.mu.Lock()
	c.names = append(c.names, name)
	c.mu.Unlock()
	return nil
}

func (c *checkpoints) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.names...)
}

// =============================================================================
// Schemas
// =============================================================================

func TestSchemas(t *testing.T) {
	m := &fakeMTCS{}
	d, _ := newDomain(t)
	lt := NewLaserTrackerRemote(d)
	deps := block.Deps{}
	scripts := map[string]script.Script{
		"park_dome":       NewParkDome(m),
		"unpark_mount":    NewUnparkMount(m),
		"open_covers":     NewOpenMirrorCovers(m, deps),
		"close_covers":    NewCloseMirrorCovers(m, deps),
		"raise_m1m3":      NewRaiseM1M3(m, deps),
		"lower_m1m3":      NewLowerM1M3(m, deps),
		"enable_m2":       NewEnableM2ClosedLoop(m, deps),
		"disable_m2":      NewDisableM2ClosedLoop(m, deps),
		"slew_dome":       NewSlewDome(m),
		"home_dome":       NewHomeDome(m),
		"crawl_az":        NewCrawlAz(m, nil, nil),
		"park_mount":      NewParkMount(m),
		"home_both_axes":  NewHomeBothAxes(m, nil),
		"move_rotator":    NewMoveRotator(m, deps),
		"stop_rotator":    NewStopRotator(m, deps),
		"enable_comp":     NewEnableHexapodCompensationMode(m, deps),
		"disable_comp":    NewDisableHexapodCompensationMode(m, deps),
		"laser_set_up":    NewLaserSetUp(lt, deps),
		"laser_shut_down": NewLaserShutDown(lt, deps),
		"laser_align":     NewAlign(m, lt, deps),
		"laser_measure":   NewMeasure(lt, deps),
	}
	for name, s := range scripts {
		t.Run(name, func(t *testing.T) {
			if err := script.CheckSchema(s.Schema()); err != nil {
				t.Errorf("CheckSchema() error = %v", err)
			}
		})
	}
}

// =============================================================================
// Operations
// =============================================================================

func TestOperations(t *testing.T) {
	tests := []struct {
		name     string
		build    func(MTCS) script.Script
		config   string
		duration float64
		want     []string
		cps      []string
	}{
		{
			name:     "park dome",
			build:    func(m MTCS) script.Script { return NewParkDome(m) },
			duration: 5,
			want:     []string{"ParkDome"},
		},
		{
			name:  "unpark mount",
			build: func(m MTCS) script.Script { return NewUnparkMount(m) },
			want:  []string{"UnparkMount"},
		},
		{
			name:   "unpark mount ignoring m1m3",
			build:  func(m MTCS) script.Script { return NewUnparkMount(m) },
			config: "ignore: [mtm1m3]",
			want:   []string{"UnparkMount"},
		},
		{
			name:     "open mirror covers",
			build:    func(m MTCS) script.Script { return NewOpenMirrorCovers(m, block.Deps{}) },
			config:   "ignore: [mtrotator]",
			duration: 120,
			want:     []string{"AssertAllEnabled", "OpenM1Cover"},
			cps:      []string{"Opening mirror covers."},
		},
		{
			name:     "raise m1m3",
			build:    func(m MTCS) script.Script { return NewRaiseM1M3(m, block.Deps{}) },
			duration: 180,
			want:     []string{"RaiseM1M3"},
			cps:      []string{"Raising M1M3"},
		},
		{
			name:     "disable m2 closed loop",
			build:    func(m MTCS) script.Script { return NewDisableM2ClosedLoop(m, block.Deps{}) },
			duration: 15,
			want:     []string{"DisableM2BalanceSystem"},
			cps:      []string{"Disabling M2 closed-loop."},
		},
		{
			name:     "slew dome",
			build:    func(m MTCS) script.Script { return NewSlewDome(m) },
			config:   "az: 90",
			duration: 180,
			want:     []string{"Enable(0)", "AssertAllEnabled", "SlewDomeTo(90)"},
		},
		{
			name:     "home dome",
			build:    func(m MTCS) script.Script { return NewHomeDome(m) },
			config:   "physical_az: 32",
			duration: 60,
			want:     []string{"AssertAllEnabled", "HomeDome(32)"},
			cps:      []string{"Homing dome"},
		},
		{
			name:   "park mount",
			build:  func(m MTCS) script.Script { return NewParkMount(m) },
			config: "position: ZENITH",
			want:   []string{"ParkMount(ZENITH)"},
		},
		{
			name:     "home both axes",
			build:    func(m MTCS) script.Script { return NewHomeBothAxes(m, nil) },
			duration: 300,
			want:     []string{"HomeBothAxes", "EnableM1M3BalanceSystem"},
			cps:      []string{"Homing Both Axes"},
		},
		{
			name:     "home both axes without balance",
			build:    func(m MTCS) script.Script { return NewHomeBothAxes(m, nil) },
			config:   "disable_m1m3_force_balance: true",
			duration: 300,
			want:     []string{"DisableM1M3BalanceSystem", "HomeBothAxes"},
			cps:      []string{"Disable M1M3 balance system.", "Homing Both Axes"},
		},
		{
			name:     "move rotator",
			build:    func(m MTCS) script.Script { return NewMoveRotator(m, block.Deps{}) },
			config:   "angle: -45",
			duration: 120,
			want:     []string{"MoveRotator(-45,true)"},
			cps:      []string{"Start moving rotator to -45 degrees.", "Move rotator returned. Wait for complete: true."},
		},
		{
			name:     "move rotator no wait",
			build:    func(m MTCS) script.Script { return NewMoveRotator(m, block.Deps{}) },
			config:   "{angle: 10, wait_for_complete: false}",
			duration: 120,
			want:     []string{"MoveRotator(10,false)"},
			cps:      []string{"Start moving rotator to 10 degrees.", "Move rotator returned. Wait for complete: false."},
		},
		{
			name:     "stop rotator",
			build:    func(m MTCS) script.Script { return NewStopRotator(m, block.Deps{}) },
			duration: 3,
			want:     []string{"StopRotator"},
			cps:      []string{"Stopping rotator...", "Done"},
		},
		{
			name:     "enable one hexapod compensation",
			build:    func(m MTCS) script.Script { return NewEnableHexapodCompensationMode(m, block.Deps{}) },
			config:   "components: [CameraHexapod]",
			duration: 15,
			want:     []string{"EnableCompensationMode(mthexapod_1)"},
			cps:      []string{"Enabling compensation mode for CameraHexapod"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMTCS{}
			s := tt.build(m)
			md := configure(t, s, tt.config)
			if md.Duration != tt.duration {
				t.Errorf("Duration = %v, want %v", md.Duration, tt.duration)
			}
			var cp checkpoints
			if err := s.Run(testContext(t), &cp); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if got := m.got(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("calls = %v, want %v", got, tt.want)
			}
			if got := cp.got(); !reflect.DeepEqual(got, tt.cps) {
				t.Errorf("checkpoints = %v, want %v", got, tt.cps)
			}
		})
	}
}

func TestOperation_Ignore(t *testing.T) {
	m := &fakeMTCS{}
	configure(t, NewCloseMirrorCovers(m, block.Deps{}), "ignore: [mtdome, mtdometrajectory]")
	if want := []string{"mtdome", "mtdometrajectory"}; !reflect.DeepEqual(m.ignored, want) {
		t.Errorf("ignored = %v, want %v", m.ignored, want)
	}
}

func TestOperation_AssertFailureSkipsCall(t *testing.T) {
	m := &fakeMTCS{failOn: "AssertAllEnabled"}
	s := NewOpenMirrorCovers(m, block.Deps{})
	configure(t, s, "")
	var cp checkpoints
	if err := s.Run(testContext(t), &cp); err == nil {
		t.Fatal("Run() error = nil, want assert failure")
	}
	if got := m.got(); !reflect.DeepEqual(got, []string{"AssertAllEnabled"}) {
		t.Errorf("calls = %v", got)
	}
	if len(cp.got()) != 0 {
		t.Errorf("checkpoints = %v, want none", cp.got())
	}
}

func TestBlockCheckpoints(t *testing.T) {
	m := &fakeMTCS{}
	s := NewLowerM1M3(m, block.Deps{})
	configure(t, s, "{program: MY-PROGRAM, reason: testing}")
	var cp checkpoints
	if err := s.Run(testContext(t), &cp); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	cps := cp.got()
	if len(cps) != 3 || !strings.HasSuffix(cps[0], ": Start") || cps[1] != "Lowering M1M3" || !strings.HasSuffix(cps[2], ": Done") {
		t.Errorf("checkpoints = %v", cps)
	}
}

func TestBlockTestCase(t *testing.T) {
	m := &fakeMTCS{}
	up := &fakeUploader{}
	s := NewMoveRotator(m, block.Deps{Index: 100001, LFA: up})
	configure(t, s, "{angle: 5, test_case: {name: LVV-T2713, execution: LVV-E1, version: '1.0'}}")
	if err := s.Run(testContext(t), &checkpoints{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(up.data) != 1 {
		t.Fatalf("uploads = %d, want 1", len(up.data))
	}
	var payload struct {
		IssueID     string             `json:"issueId"`
		StepResults []block.StepResult `json:"stepResults"`
	}
	if err := json.Unmarshal(up.data[0], &payload); err != nil {
		t.Fatal(err)
	}
	if payload.IssueID != "LVV-T2713" || len(payload.StepResults) != 1 || payload.StepResults[0].Status != block.StepPassed {
		t.Errorf("payload = %+v", payload)
	}
}

func TestInvalidConfigs(t *testing.T) {
	m := &fakeMTCS{}
	tests := []struct {
		name   string
		s      script.Script
		config string
	}{
		{"park mount missing position", NewParkMount(m), ""},
		{"park mount bad position", NewParkMount(m), "position: SIDEWAYS"},
		{"slew dome missing az", NewSlewDome(m), "ignore: []"},
		{"rotator out of range", NewMoveRotator(m, block.Deps{}), "angle: 91"},
		{"no hexapods", NewEnableHexapodCompensationMode(m, block.Deps{}), "components: []"},
		{"unknown hexapod", NewDisableHexapodCompensationMode(m, block.Deps{}), "components: [M1Hexapod]"},
		{"crawl zero velocity", NewCrawlAz(m, nil, nil), "velocity: 0"},
		{"raise m1m3 takes no ignore", NewRaiseM1M3(m, block.Deps{}), "ignore: [mtm1m3]"},
		{"park dome takes no configuration", NewParkDome(m), "ignore: [mtdome]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Configure(context.Background(), []byte(tt.config))
			if !script.IsExpected(err) {
				t.Errorf("Configure(%q) error = %v, want ExpectedError", tt.config, err)
			}
		})
	}
}

func TestHomeBothAxes_DeprecatedIgnoreM1M3(t *testing.T) {
	m := &fakeMTCS{}
	s := NewHomeBothAxes(m, nil)
	configure(t, s, "ignore_m1m3: true")
	if s.disableBalance {
		t.Error("ignore_m1m3 must not disable the balance system")
	}
}

func TestCompensationMode_Default(t *testing.T) {
	m := &fakeMTCS{}
	s := NewDisableHexapodCompensationMode(m, block.Deps{})
	configure(t, s, "")
	var cp checkpoints
	if err := s.Run(testContext(t), &cp); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	calls := m.got()
	if len(calls) != 2 {
		t.Fatalf("calls = %v, want 2", calls)
	}
	want := map[string]bool{
		"DisableCompensationMode(mthexapod_1)": true,
		"DisableCompensationMode(mthexapod_2)": true,
	}
	for _, c := range calls {
		if !want[c] {
			t.Errorf("unexpected call %s", c)
		}
	}
	wantCps := []string{"Disabling compensation mode for M2Hexapod", "Disabling compensation mode for CameraHexapod"}
	if got := cp.got(); !reflect.DeepEqual(got, wantCps) {
		t.Errorf("checkpoints = %v, want %v", got, wantCps)
	}
}

// =============================================================================
// CrawlAz
// =============================================================================

func newCrawl(t *testing.T, config string) (*CrawlAz, *fakeMTCS, *salobjtest.Component) {
	t.Helper()
	d, tr := newDomain(t)
	dome := salobjtest.NewComponent(t, tr, testTopics, "MTDome", 0)
	dome.SetState(salobj.StateEnabled)
	m := &fakeMTCS{crawling: make(chan float64, 4)}
	s := NewCrawlAz(m, salobj.NewRemote(d, "MTDome", 0), nil)
	s.settle = 0
	configure(t, s, config)
	return s, m, dome
}

func TestCrawlAz_StopsOnCancel(t *testing.T) {
	s, m, _ := newCrawl(t, "direction: CounterClockWise")
	if s.Velocity() != -0.5 {
		t.Errorf("Velocity() = %v, want -0.5", s.Velocity())
	}

	ctx, cancel := context.WithCancel(testContext(t))
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, &checkpoints{}) }()

	<-m.crawling
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	want := []string{"CrawlAz(-0.5)", "CrawlAz(0)", fmt.Sprintf("StopDome(%d)", observatory.DomeSubsystemAMCS)}
	if got := m.got(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestCrawlAz_DomeLeavesEnabled(t *testing.T) {
	s, m, dome := newCrawl(t, "velocity: 1.5")

	done := make(chan error, 1)
	go func() { done <- s.Run(testContext(t), &checkpoints{}) }()

	<-m.crawling
	dome.SetState(salobj.StateDisabled)
	if err := <-done; !errors.Is(err, ErrDomeNotEnabled) {
		t.Fatalf("Run() error = %v, want ErrDomeNotEnabled", err)
	}
	if got := m.got(); len(got) != 3 || got[0] != "CrawlAz(1.5)" || got[1] != "CrawlAz(0)" {
		t.Errorf("calls = %v", got)
	}
}

func TestCrawlAz_RequiresEnabledDome(t *testing.T) {
	s, m, dome := newCrawl(t, "")
	dome.SetState(salobj.StateStandby)
	if err := s.Run(testContext(t), &checkpoints{}); !errors.Is(err, ErrDomeNotEnabled) {
		t.Fatalf("Run() error = %v, want ErrDomeNotEnabled", err)
	}
	if len(m.got()) != 0 {
		t.Errorf("calls = %v, want none", m.got())
	}
}

// =============================================================================
// Laser tracker
// =============================================================================

type laserHarness struct {
	remote *salobj.Remote
	csc    *salobjtest.Component
}

// newLaser starts an ENABLED laser tracker that publishes heartbeats until
// the test ends.
func newLaser(t *testing.T) *laserHarness {
	t.Helper()
	d, tr := newDomain(t)
	h := &laserHarness{
		remote: NewLaserTrackerRemote(d),
		csc:    salobjtest.NewComponent(t, tr, testTopics, "LaserTracker", 1),
	}
	h.csc.SetState(salobj.StateEnabled)
	if err := h.remote.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				h.csc.PublishEvent(salobj.EventHeartbeat, salobj.Fields{})
			}
		}
	}()
	t.Cleanup(func() {
		close(done)
		wg.Wait()
	})
	return h
}

func (h *laserHarness) status(s LaserStatus) {
	h.csc.PublishEvent(evtLaserStatus, salobj.Fields{"status": int(s)})
}

func TestLaserSetUp(t *testing.T) {
	h := newLaser(t)
	h.status(LaserOff)
	h.csc.Handle(cmdLaserPower, func(data salobj.Fields) error {
		if data["power"] != float64(1) {
			return fmt.Errorf("power = %v", data["power"])
		}
		h.status(LaserWarming)
		h.status(LaserOn)
		return nil
	})

	s := NewLaserSetUp(h.remote, block.Deps{})
	if md := configure(t, s, ""); md.Duration != 90 {
		t.Errorf("Duration = %v, want 90", md.Duration)
	}
	var cp checkpoints
	if err := s.Run(testContext(t), &cp); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []string{"Power up Laser Tracker.", "Waiting for laser to warm up."}
	if got := cp.got(); !reflect.DeepEqual(got, want) {
		t.Errorf("checkpoints = %v, want %v", got, want)
	}
}

func TestLaserSetUp_WaitsUntilCancelled(t *testing.T) {
	h := newLaser(t)
	h.csc.Handle(cmdLaserPower, func(salobj.Fields) error {
		h.status(LaserWarming)
		return nil
	})

	s := NewLaserSetUp(h.remote, block.Deps{})
	configure(t, s, "")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx, &checkpoints{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestLaserShutDown(t *testing.T) {
	h := newLaser(t)
	h.status(LaserOn)
	h.csc.Handle(cmdLaserPower, func(data salobj.Fields) error {
		if data["power"] != float64(0) {
			return fmt.Errorf("power = %v", data["power"])
		}
		h.status(LaserOff)
		return nil
	})

	s := NewLaserShutDown(h.remote, block.Deps{})
	configure(t, s, "")
	var cp checkpoints
	if err := s.Run(testContext(t), &cp); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []string{"Shutting down Laser Tracker.", "Waiting for laser to switch off."}
	if got := cp.got(); !reflect.DeepEqual(got, want) {
		t.Errorf("checkpoints = %v, want %v", got, want)
	}
}

func TestLaserDurations(t *testing.T) {
	d, _ := newDomain(t)
	lt := NewLaserTrackerRemote(d)
	tests := []struct {
		name   string
		s      script.Script
		config string
		want   float64
	}{
		{"set up", NewLaserSetUp(lt, block.Deps{}), "", 90},
		{"shut down", NewLaserShutDown(lt, block.Deps{}), "", 90},
		{"align default iterations", NewAlign(&fakeMTCS{}, lt, block.Deps{}), "target: Camera", 1800},
		{"align one iteration", NewAlign(&fakeMTCS{}, lt, block.Deps{}), "{target: Camera, max_iter: 1}", 180},
		{"measure", NewMeasure(lt, block.Deps{}), "target: TMA_UPPER", 250},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if md := configure(t, tt.s, tt.config); md.Duration != tt.want {
				t.Errorf("Duration = %v, want %v", md.Duration, tt.want)
			}
		})
	}
}

func TestLaserSetUp_NotEnabled(t *testing.T) {
	h := newLaser(t)
	h.csc.SetState(salobj.StateDisabled)
	s := NewLaserSetUp(h.remote, block.Deps{})
	configure(t, s, "")
	if err := s.Run(testContext(t), &checkpoints{}); !errors.Is(err, observatory.ErrNotEnabled) {
		t.Fatalf("Run() error = %v, want ErrNotEnabled", err)
	}
	if names := h.csc.CallNames(); len(names) != 0 {
		t.Errorf("commands = %v, want none", names)
	}
}

func TestOffsetsCorrections(t *testing.T) {
	o := offsets{DX: 0.002, DY: 0.00005, DZ: -0.001, DRX: 0.001, DRY: 0.01}
	got := o.corrections(0.0001, 0.00138)
	want := observatory.HexapodOffset{X: -2, Z: 1, V: -0.01}
	if got != want {
		t.Errorf("corrections = %+v, want %+v", got, want)
	}
}

// alignSequence answers each align command with the next offsets.
func alignSequence(h *laserHarness, seq ...salobj.Fields) {
	var mu sync.Mutex
	i := 0
	h.csc.Handle(cmdAlign, func(salobj.Fields) error {
		mu.Lock()
		defer mu.Unlock()
		o := seq[len(seq)-1]
		if i < len(seq) {
			o = seq[i]
		}
		i++
		h.csc.PublishEvent(evtOffsetsPublish, o)
		return nil
	})
}

func TestAlign(t *testing.T) {
	h := newLaser(t)
	h.status(LaserOn)
	alignSequence(h,
		salobj.Fields{"dX": 0.001, "dY": 0.0, "dZ": 0.0, "dRX": 0.0, "dRY": 0.002},
		salobj.Fields{"dX": 0.0, "dY": 0.0, "dZ": 0.0, "dRX": 0.0, "dRY": 0.0},
	)

	m := &fakeMTCS{}
	s := NewAlign(m, h.remote, block.Deps{})
	if md := configure(t, s, "{target: M2, max_iter: 3}"); md.Duration != 540 {
		t.Errorf("Duration = %v, want 540", md.Duration)
	}
	var cp checkpoints
	if err := s.Run(testContext(t), &cp); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got, want := m.got(), []string{"OffsetM2Hexapod(-1,0,0,0,-0.002)"}; !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	want := []string{"Starting alignment procedure.", "M2 aligned with laser tracker."}
	if got := cp.got(); !reflect.DeepEqual(got, want) {
		t.Errorf("checkpoints = %v, want %v", got, want)
	}
	for _, c := range h.csc.Calls() {
		if c.Command == cmdAlign && c.Data["target"] != float64(AlignM2) {
			t.Errorf("align target = %v, want %d", c.Data["target"], AlignM2)
		}
	}
}

func TestAlign_DoesNotConverge(t *testing.T) {
	h := newLaser(t)
	h.status(LaserOn)
	alignSequence(h, salobj.Fields{"dX": 0.01, "dY": 0.0, "dZ": 0.0, "dRX": 0.0, "dRY": 0.0})

	m := &fakeMTCS{}
	s := NewAlign(m, h.remote, block.Deps{})
	configure(t, s, "{target: Camera, max_iter: 2}")
	if err := s.Run(testContext(t), &checkpoints{}); !errors.Is(err, ErrNotAligned) {
		t.Fatalf("Run() error = %v, want ErrNotAligned", err)
	}
	if n := len(m.got()); n != 2 {
		t.Errorf("offsets applied = %d, want 2", n)
	}
}

func TestAlign_ZeroTolerance(t *testing.T) {
	h := newLaser(t)
	h.status(LaserOn)
	alignSequence(h, salobj.Fields{"dX": 0.01, "dY": 0.0, "dZ": 0.0, "dRX": 0.0, "dRY": 0.0})

	m := &fakeMTCS{}
	s := NewAlign(m, h.remote, block.Deps{})
	configure(t, s, "{target: Camera, tolerance_linear: 0, tolerance_angular: 0}")
	if err := s.Run(testContext(t), &checkpoints{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(m.got()) != 0 {
		t.Errorf("calls = %v, want none", m.got())
	}
}

func TestAlign_LaserOff(t *testing.T) {
	h := newLaser(t)
	h.status(LaserOff)
	s := NewAlign(&fakeMTCS{}, h.remote, block.Deps{})
	configure(t, s, "target: Camera")
	if err := s.Run(testContext(t), &checkpoints{}); !errors.Is(err, ErrLaserNotOn) {
		t.Fatalf("Run() error = %v, want ErrLaserNotOn", err)
	}
}

func TestMeasure(t *testing.T) {
	h := newLaser(t)
	h.status(LaserOn)
	s := NewMeasure(h.remote, block.Deps{})
	if md := configure(t, s, "target: TMA_UPPER"); md.Duration != 250 {
		t.Errorf("Duration = %v, want 250", md.Duration)
	}
	var cp checkpoints
	if err := s.Run(testContext(t), &cp); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []string{"Starting measuring procedure.", "TMA_UPPER measured with laser tracker."}
	if got := cp.got(); !reflect.DeepEqual(got, want) {
		t.Errorf("checkpoints = %v, want %v", got, want)
	}
	calls := h.csc.Calls()
	if len(calls) != 1 || calls[0].Command != cmdAlign || calls[0].Data["target"] != float64(AlignTMAUpper) {
		t.Errorf("calls = %+v", calls)
	}
}
