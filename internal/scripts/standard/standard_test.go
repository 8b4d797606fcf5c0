package standard_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/mqtt"
	"github.com/lsst-ts/ts-standardscripts/internal/salobj"
	"github.com/lsst-ts/ts-standardscripts/internal/salobj/salobjtest"
	"github.com/lsst-ts/ts-standardscripts/internal/script"
	"github.com/lsst-ts/ts-standardscripts/internal/scripts/standard"
)

var testTopics = mqtt.Topics{Namespace: "test"}

func newDomain(t *testing.T) (*salobj.Domain, *salobjtest.Transport) {
	t.Helper()
	tr := salobjtest.NewTransport()
	d := salobj.NewDomain(tr, salobj.DomainConfig{Topics: testTopics, Origin: "Script:1", QoS: 1}, nil)
	return d, tr
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ─── Mocks ──────────────────────────────────────────────────────────────────

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

func configure(t *testing.T, s script.Script, raw string) script.Metadata {
	t.Helper()
	if err := s.Configure(context.Background(), []byte(raw)); err != nil {
		t.Fatalf("Configure(%q) error = %v", raw, err)
	}
	var md script.Metadata
	s.SetMetadata(&md)
	return md
}

func assertExpected(t *testing.T, s script.Script, raw string) {
	t.Helper()
	err := s.Configure(context.Background(), []byte(raw))
	if !script.IsExpected(err) {
		t.Errorf("Configure(%q) error = %v, want ExpectedError", raw, err)
	}
}

// =============================================================================
// Schemas
// =============================================================================

func TestSchemas(t *testing.T) {
	d, _ := newDomain(t)
	scripts := map[string]script.Script{
		"sleep":             standard.NewSleep(),
		"mute_alarms":       standard.NewMuteAlarms(salobj.NewRemote(d, "Watcher", 0), nil),
		"pause_queue":       standard.NewPauseQueue(d, nil),
		"run_command":       standard.NewRunCommand(d, nil),
		"set_summary_state": standard.NewSetSummaryState(d, nil),
		"enable_group":      standard.NewGroupScript(salobj.StateEnabled, d, nil),
		"standby_group":     standard.NewGroupScript(salobj.StateStandby, d, nil),
		"offline_group":     standard.NewGroupScript(salobj.StateOffline, d, nil),
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
// Sleep
// =============================================================================

func TestSleep(t *testing.T) {
	s := standard.NewSleep()
	md := configure(t, s, "sleep_for: 0.01")
	if md.Duration != 0.01 {
		t.Errorf("Duration = %v, want 0.01", md.Duration)
	}

	cp := &checkpoints{}
	if err := s.Run(testContext(t), cp); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if want := []string{"Sleep for 0.01 seconds..."}; !reflect.DeepEqual(cp.got(), want) {
		t.Errorf("checkpoints = %v, want %v", cp.got(), want)
	}
}

func TestSleep_Cancelled(t *testing.T) {
	s := standard.NewSleep()
	configure(t, s, "sleep_for: 60")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	if err := s.Run(ctx, &checkpoints{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Run() did not stop on cancellation")
	}
}

func TestSleep_InvalidConfig(t *testing.T) {
	for _, raw := range []string{"", "sleep_for: -1", "sleep_for: ten", "sleep_for: 1\nwake: true"} {
		assertExpected(t, standard.NewSleep(), raw)
	}
}

// =============================================================================
// MuteAlarms
// =============================================================================

func TestMuteAlarms(t *testing.T) {
	d, tr := newDomain(t)
	watcher := salobjtest.NewComponent(t, tr, testTopics, "Watcher", 0)
	s := standard.NewMuteAlarms(salobj.NewRemote(d, "Watcher", 0), nil)

	md := configure(t, s, "name: Enabled.ATDome.*\nmutedBy: night crew")
	if md.Duration != 300 {
		t.Errorf("Duration = %v, want default 300", md.Duration)
	}
	if err := s.Run(testContext(t), &checkpoints{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	calls := watcher.Calls()
	if len(calls) != 1 || calls[0].Command != "mute" {
		t.Fatalf("calls = %v, want [mute]", watcher.CallNames())
	}
	want := salobj.Fields{"name": "Enabled.ATDome.*", "duration": 300.0, "severity": 1.0, "mutedBy": "night crew"}
	if !reflect.DeepEqual(calls[0].Data, want) {
		t.Errorf("mute data = %v, want %v", calls[0].Data, want)
	}
}

func TestMuteAlarms_Severity(t *testing.T) {
	d, tr := newDomain(t)
	watcher := salobjtest.NewComponent(t, tr, testTopics, "Watcher", 0)
	s := standard.NewMuteAlarms(salobj.NewRemote(d, "Watcher", 0), nil)

	md := configure(t, s, "name: x\nmutedBy: y\nduration: 10\nseverity: SERIOUS")
	if md.Duration != 10 {
		t.Errorf("Duration = %v, want 10", md.Duration)
	}
	if err := s.Run(testContext(t), &checkpoints{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := watcher.Calls()[0].Data["severity"]; got != 3.0 {
		t.Errorf("severity = %v, want 3", got)
	}

	assertExpected(t, s, "name: x\nmutedBy: y\nseverity: LOUD")
	assertExpected(t, s, "name: x")
}

// =============================================================================
// PauseQueue
// =============================================================================

func TestPauseQueue(t *testing.T) {
	d, tr := newDomain(t)
	queue := salobjtest.NewComponent(t, tr, testTopics, "ScriptQueue", 2)
	s := standard.NewPauseQueue(d, nil)

	md := configure(t, s, "queue: AUX_TEL")
	if md.Duration != 0 {
		t.Errorf("Duration = %v, want 0", md.Duration)
	}
	if err := s.Run(testContext(t), &checkpoints{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := queue.CallNames(); !reflect.DeepEqual(got, []string{"pause"}) {
		t.Errorf("calls = %v, want [pause]", got)
	}

	assertExpected(t, standard.NewPauseQueue(d, nil), "queue: OTHER_TEL")
	assertExpected(t, standard.NewPauseQueue(d, nil), "")
}

// =============================================================================
// RunCommand
// =============================================================================

func TestRunCommand(t *testing.T) {
	d, tr := newDomain(t)
	csc := salobjtest.NewComponent(t, tr, testTopics, "Test", 1)
	s := standard.NewRunCommand(d, nil)

	md := configure(t, s, "component: Test:1\ncmd: setScalars\nparameters:\n  int0: 5\n  timeout: 5")
	if md.Duration != 5 {
		t.Errorf("Duration = %v, want 5", md.Duration)
	}

	cp := &checkpoints{}
	if err := s.Run(testContext(t), cp); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	calls := csc.Calls()
	if len(calls) != 1 || calls[0].Command != "setScalars" {
		t.Fatalf("calls = %v", csc.CallNames())
	}
	if !reflect.DeepEqual(calls[0].Data, salobj.Fields{"int0": 5.0}) {
		t.Errorf("data = %v, want only int0", calls[0].Data)
	}
	if want := []string{"run Test:1:setScalars"}; !reflect.DeepEqual(cp.got(), want) {
		t.Errorf("checkpoints = %v, want %v", cp.got(), want)
	}
}

func TestRunCommand_WaitsForEvent(t *testing.T) {
	d, tr := newDomain(t)
	csc := salobjtest.NewComponent(t, tr, testTopics, "Test", 1)
	csc.Handle("setScalars", func(data salobj.Fields) error {
		csc.PublishEvent("scalars", data)
		return nil
	})
	s := standard.NewRunCommand(d, nil)

	md := configure(t, s, "component: Test:1\ncmd: setScalars\nevent: scalars\nevent_timeout: 2")
	if md.Duration != 32 {
		t.Errorf("Duration = %v, want 30 + 2", md.Duration)
	}

	cp := &checkpoints{}
	if err := s.Run(testContext(t), cp); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []string{"run Test:1:setScalars", "wait Test:1:scalars"}
	if !reflect.DeepEqual(cp.got(), want) {
		t.Errorf("checkpoints = %v, want %v", cp.got(), want)
	}
}

func TestRunCommand_EventTimeout(t *testing.T) {
	d, tr := newDomain(t)
	salobjtest.NewComponent(t, tr, testTopics, "Test", 0)
	s := standard.NewRunCommand(d, nil)

	configure(t, s, "component: Test\ncmd: wait\nevent: never\nevent_timeout: 0.02")
	if err := s.Run(testContext(t), &checkpoints{}); !errors.Is(err, salobj.ErrTimeout) {
		t.Errorf("Run() error = %v, want ErrTimeout", err)
	}
}

func TestRunCommand_CommandFails(t *testing.T) {
	d, tr := newDomain(t)
	csc := salobjtest.NewComponent(t, tr, testTopics, "Test", 0)
	csc.Handle("fault", func(salobj.Fields) error { return errors.New("refused") })
	s := standard.NewRunCommand(d, nil)

	configure(t, s, "component: Test\ncmd: fault")
	var ackErr *salobj.AckError
	if err := s.Run(testContext(t), &checkpoints{}); !errors.As(err, &ackErr) {
		t.Errorf("Run() error = %v, want *AckError", err)
	}
}

func TestRunCommand_ConfigureKeepsRemote(t *testing.T) {
	d, tr := newDomain(t)
	salobjtest.NewComponent(t, tr, testTopics, "MTM1M3", 0)
	s := standard.NewRunCommand(d, nil)

	configure(t, s, "component: MTM1M3\ncmd: raiseM1M3")
	first := s.Remote()
	configure(t, s, "component: MTM1M3\ncmd: lowerM1M3")
	if s.Remote() != first {
		t.Error("second Configure built a new remote for the same component")
	}

	configure(t, s, "component: MTM2\ncmd: start")
	if s.Remote() == first {
		t.Error("Configure kept the MTM1M3 remote for MTM2")
	}

	configure(t, s, "component: MTM1M3\ncmd: raiseM1M3")
	if err := s.Run(testContext(t), &checkpoints{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	filter := testTopics.AllComponentTopics("MTM1M3", 0)
	if !tr.Subscribed(filter) {
		t.Fatal("MTM1M3 not subscribed after Run")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if tr.Subscribed(filter) {
		t.Error("MTM1M3 still subscribed after Close")
	}
}

func TestRunCommand_InvalidConfig(t *testing.T) {
	d, _ := newDomain(t)
	for _, raw := range []string{
		"cmd: start",
		"component: Test:1",
		"component: 'Test:'\ncmd: start",
		"component: Test\ncmd: start\nparameters:\n  timeout: soon",
	} {
		assertExpected(t, standard.NewRunCommand(d, nil), raw)
	}
}

// =============================================================================
// SetSummaryState
// =============================================================================

func TestSetSummaryState(t *testing.T) {
	d, tr := newDomain(t)
	first := salobjtest.NewComponent(t, tr, testTopics, "Test", 1)
	first.SetState(salobj.StateStandby)
	second := salobjtest.NewComponent(t, tr, testTopics, "Test", 2)
	second.SetState(salobj.StateEnabled)
	s := standard.NewSetSummaryState(d, nil)

	md := configure(t, s, "data:\n  - [Test:1, enabled, night.yaml]\n  - [Test:2, STANDBY]")
	if md.Duration != 4 {
		t.Errorf("Duration = %v, want 4", md.Duration)
	}

	cp := &checkpoints{}
	if err := s.Run(testContext(t), cp); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if want := []string{"set Test:1", "set Test:2"}; !reflect.DeepEqual(cp.got(), want) {
		t.Errorf("checkpoints = %v, want %v", cp.got(), want)
	}
	if first.State() != salobj.StateEnabled || second.State() != salobj.StateStandby {
		t.Errorf("states = %v, %v", first.State(), second.State())
	}
	if got := first.Calls()[0].Data["configurationOverride"]; got != "night.yaml" {
		t.Errorf("override = %v, want night.yaml", got)
	}
}

func TestSetSummaryState_ConfigureKeepsRemotes(t *testing.T) {
	d, tr := newDomain(t)
	salobjtest.NewComponent(t, tr, testTopics, "MTM1M3", 0).SetState(salobj.StateStandby)
	m2 := salobjtest.NewComponent(t, tr, testTopics, "MTM2", 0)
	m2.SetState(salobj.StateStandby)
	s := standard.NewSetSummaryState(d, nil)

	configure(t, s, "data:\n  - [MTM1M3, ENABLED]")
	first := s.Remote("mtm1m3")
	if first == nil {
		t.Fatal("Remote(mtm1m3) = nil after Configure")
	}
	configure(t, s, "data:\n  - [MTM1M3, STANDBY]\n  - [MTM2:0, ENABLED]")
	if s.Remote("mtm1m3") != first {
		t.Error("second Configure replaced the mtm1m3 remote")
	}
	if s.Remote("mtm2") == nil {
		t.Error("Remote(mtm2) = nil, want a remote for the new target")
	}

	if err := s.Run(testContext(t), &checkpoints{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if m2.State() != salobj.StateEnabled {
		t.Errorf("MTM2 state = %v, want ENABLED", m2.State())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if tr.Subscribed(testTopics.AllComponentTopics("MTM1M3", 0)) {
		t.Error("MTM1M3 still subscribed after Close")
	}
}

func TestSetSummaryState_InvalidConfig(t *testing.T) {
	d, _ := newDomain(t)
	tests := map[string]string{
		"empty":         "data: []",
		"fault":         "data:\n  - [Test, fault]",
		"unknown state": "data:\n  - [Test, asleep]",
		"bad name":      "data:\n  - ['Test:x', enabled]",
		"too long":      "data:\n  - [Test, enabled, a, b]",
		"missing state": "data:\n  - [Test]",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			assertExpected(t, standard.NewSetSummaryState(d, nil), raw)
		})
	}
}

// =============================================================================
// Group scripts
// =============================================================================

func TestGroupScript_Enable(t *testing.T) {
	d, tr := newDomain(t)
	first := salobjtest.NewComponent(t, tr, testTopics, "Test", 1)
	first.SetState(salobj.StateStandby)
	second := salobjtest.NewComponent(t, tr, testTopics, "Test", 2)
	second.SetState(salobj.StateStandby)
	s := standard.NewGroupScript(salobj.StateEnabled, d, nil)

	md := configure(t, s, "components: [Test:1, Test:2]\nignore: [Test:2]\noverrides:\n  Test:1: eng.yaml")
	if md.Duration != 60 {
		t.Errorf("Duration = %v, want 60", md.Duration)
	}
	if err := s.Run(testContext(t), &checkpoints{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if first.State() != salobj.StateEnabled {
		t.Errorf("Test:1 state = %v, want ENABLED", first.State())
	}
	if got := first.Calls()[0].Data["configurationOverride"]; got != "eng.yaml" {
		t.Errorf("override = %v, want eng.yaml", got)
	}
	if len(second.Calls()) != 0 {
		t.Errorf("ignored Test:2 got %v", second.CallNames())
	}
}

func TestGroupScript_ConfigureKeepsGroup(t *testing.T) {
	d, tr := newDomain(t)
	salobjtest.NewComponent(t, tr, testTopics, "ATDome", 0).SetState(salobj.StateStandby)
	salobjtest.NewComponent(t, tr, testTopics, "ATMCS", 0).SetState(salobj.StateStandby)
	s := standard.NewGroupScript(salobj.StateEnabled, d, nil)

	configure(t, s, "components: [ATDome, ATMCS]")
	first := s.Group()
	configure(t, s, "components: [ATDome, ATMCS]\nignore: [atmcs]")
	if s.Group() != first {
		t.Fatal("second Configure with the same components built a new group")
	}

	if err := s.Run(testContext(t), &checkpoints{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	dome := testTopics.AllComponentTopics("ATDome", 0)
	if !tr.Subscribed(dome) {
		t.Fatal("ATDome not subscribed after Run")
	}

	configure(t, s, "components: [ATDome]")
	if s.Group() == first {
		t.Error("Configure kept the old group after the components changed")
	}
	if tr.Subscribed(dome) {
		t.Error("replaced group still subscribed to ATDome")
	}
	if got := s.Group().Components(); !reflect.DeepEqual(got, []string{"atdome"}) {
		t.Errorf("Components() = %v, want [atdome]", got)
	}
}

func TestGroupScript_DigitNames(t *testing.T) {
	d, tr := newDomain(t)
	m1m3 := salobjtest.NewComponent(t, tr, testTopics, "MTM1M3", 0)
	m1m3.SetState(salobj.StateStandby)
	m2 := salobjtest.NewComponent(t, tr, testTopics, "MTM2", 0)
	m2.SetState(salobj.StateStandby)
	s := standard.NewGroupScript(salobj.StateEnabled, d, nil)

	configure(t, s, "components: [MTM1M3, MTM2:0]\nignore: [mtm2]")
	if err := s.Run(testContext(t), &checkpoints{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if m1m3.State() != salobj.StateEnabled {
		t.Errorf("MTM1M3 state = %v, want ENABLED", m1m3.State())
	}
	if len(m2.Calls()) != 0 {
		t.Errorf("ignored MTM2 got %v", m2.CallNames())
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestGroupScript_Offline(t *testing.T) {
	d, tr := newDomain(t)
	csc := salobjtest.NewComponent(t, tr, testTopics, "Test", 0)
	csc.SetState(salobj.StateEnabled)
	s := standard.NewGroupScript(salobj.StateOffline, d, nil)

	configure(t, s, "components: [Test]")
	if err := s.Run(testContext(t), &checkpoints{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []string{salobj.CommandDisable, salobj.CommandStandby, salobj.CommandExitControl}
	if got := csc.CallNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestGroupScript_OverridesOnlyForEnable(t *testing.T) {
	d, _ := newDomain(t)
	if !strings.Contains(standard.NewGroupScript(salobj.StateEnabled, d, nil).Schema(), "overrides") {
		t.Error("enable schema has no overrides")
	}
	s := standard.NewGroupScript(salobj.StateStandby, d, nil)
	if strings.Contains(s.Schema(), "overrides") {
		t.Error("standby schema accepts overrides")
	}
	assertExpected(t, s, "components: [Test]\noverrides:\n  Test: x")
	assertExpected(t, s, "ignore: [Test]")
}

type fakeGroup struct {
	components []string
	ignored    []string
	desired    salobj.State
	overrides  map[string]string
}

func (f *fakeGroup) Components() []string { return f.components }

func (f *fakeGroup) DisableChecks(names ...string) { f.ignored = append(f.ignored, names...) }

func (f *fakeGroup) SetState(_ context.Context, desired salobj.State, overrides map[string]string) error {
	f.desired = desired
	f.overrides = overrides
	return nil
}

func TestBoundGroupScript(t *testing.T) {
	g := &fakeGroup{components: []string{"mtmount", "mthexapod_1"}}
	s := standard.NewBoundGroupScript(salobj.StateEnabled, "MTCS", g, nil)
	if err := script.CheckSchema(s.Schema()); err != nil {
		t.Fatalf("CheckSchema() error = %v", err)
	}
	if !strings.Contains(s.Schema(), "title: EnableMTCS v1") {
		t.Errorf("schema title missing:\n%s", s.Schema())
	}

	configure(t, s, "mtmount: mount.yaml\nmthexapod_1: null\nignore: [mtdome]")
	if err := s.Run(context.Background(), &checkpoints{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if g.desired != salobj.StateEnabled {
		t.Errorf("desired = %v", g.desired)
	}
	if want := map[string]string{"mtmount": "mount.yaml"}; !reflect.DeepEqual(g.overrides, want) {
		t.Errorf("overrides = %v, want %v", g.overrides, want)
	}
	if !reflect.DeepEqual(g.ignored, []string{"mtdome"}) {
		t.Errorf("ignored = %v", g.ignored)
	}

	assertExpected(t, s, "mtrotator: x")
}

func TestBoundGroupScript_Standby(t *testing.T) {
	g := &fakeGroup{components: []string{"atmcs", "atdome"}}
	s := standard.NewBoundGroupScript(salobj.StateStandby, "ATCS", g, nil)

	assertExpected(t, s, "atmcs: x")
	configure(t, s, "")
	if err := s.Run(context.Background(), &checkpoints{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if g.desired != salobj.StateStandby || g.overrides != nil || len(g.ignored) != 0 {
		t.Errorf("group = %+v", g)
	}
}
