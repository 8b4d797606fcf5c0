package auxtel

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/mqtt"
	"github.com/lsst-ts/ts-standardscripts/internal/observatory"
	"github.com/lsst-ts/ts-standardscripts/internal/salobj"
	"github.com/lsst-ts/ts-standardscripts/internal/salobj/salobjtest"
	"github.com/lsst-ts/ts-standardscripts/internal/script"
)

var _ ATCS = (*observatory.ATCS)(nil)

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
	return salobj.NewDomain(tr, salobj.DomainConfig{Topics: testTopics, Origin: "Script:2", QoS: 1}, nil), tr
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

// publishEvery publishes fn's sample every few milliseconds until the test
// ends, for topics read with a flushing Next.
func publishEvery(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	t.Cleanup(func() {
		close(done)
		wg.Wait()
	})
}

// ─── Mocks ──────────────────────────────────────────────────────────────────

type fakeATCS struct {
	mu      sync.Mutex
	calls   []string
	ignored []string
	fail    map[string]error
}

func (f *fakeATCS) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.fail[call]
}

func (f *fakeATCS) got() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeATCS) AssertAllEnabled(context.Context) error { return f.record("AssertAllEnabled") }
func (f *fakeATCS) DisableChecks(names ...string)          { f.ignored = append(f.ignored, names...) }
func (f *fakeATCS) TelSettleTime() float64                 { return 3 }
func (f *fakeATCS) SlewDomeTo(_ context.Context, az float64) error {
	return f.record(fmt.Sprintf("SlewDomeTo(%v)", az))
}
func (f *fakeATCS) CloseDome(context.Context) error       { return f.record("CloseDome") }
func (f *fakeATCS) OpenDropoutDoor(context.Context) error { return f.record("OpenDropoutDoor") }
func (f *fakeATCS) StopTracking(context.Context) error    { return f.record("StopTracking") }
func (f *fakeATCS) StopAll(context.Context) error         { return f.record("StopAll") }
func (f *fakeATCS) EnableATAOSCorrections(context.Context) error {
	return f.record("EnableATAOSCorrections")
}
func (f *fakeATCS) DisableATAOSCorrections(context.Context) error {
	return f.record("DisableATAOSCorrections")
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
// ATCS scripts
// =============================================================================

func TestSchemas(t *testing.T) {
	a := &fakeATCS{}
	d, _ := newDomain(t)
	scripts := map[string]script.Script{
		"slew_dome":         NewSlewDome(a, nil),
		"close_dome":        NewCloseDome(a),
		"open_dropout_door": NewOpenDropoutDoor(a, NewESSRemote(d), nil),
		"stop":              NewStop(a),
		"enable_ataos":      NewEnableATAOSCorrections(a, nil),
		"disable_ataos":     NewDisableATAOSCorrections(a, nil),
		"power_on_atcalsys": NewPowerOnATCalSys(NewCalSys(d), nil),
		"power_off_calsys":  NewPowerOffATCalSys(NewCalSys(d), nil),
	}
	for name, s := range scripts {
		t.Run(name, func(t *testing.T) {
			if err := script.CheckSchema(s.Schema()); err != nil {
				t.Errorf("CheckSchema() error = %v", err)
			}
		})
	}
}

func TestATCSScripts(t *testing.T) {
	tests := []struct {
		name     string
		build    func(ATCS) script.Script
		config   string
		duration float64
		want     []string
		cps      []string
	}{
		{
			name:     "slew dome",
			build:    func(a ATCS) script.Script { return NewSlewDome(a, nil) },
			config:   "az: 120",
			duration: 60,
			want:     []string{"AssertAllEnabled", "SlewDomeTo(120)"},
		},
		{
			name:     "close dome",
			build:    func(a ATCS) script.Script { return NewCloseDome(a) },
			duration: 240,
			want:     []string{"AssertAllEnabled", "CloseDome"},
			cps:      []string{"Closing dome"},
		},
		{
			name:     "stop",
			build:    func(a ATCS) script.Script { return NewStop(a) },
			duration: 60,
			want:     []string{"StopAll"},
		},
		{
			name:     "enable ataos corrections",
			build:    func(a ATCS) script.Script { return NewEnableATAOSCorrections(a, nil) },
			config:   "ignore: [atdome]",
			duration: 60,
			want:     []string{"AssertAllEnabled", "EnableATAOSCorrections"},
		},
		{
			name:     "disable ataos corrections",
			build:    func(a ATCS) script.Script { return NewDisableATAOSCorrections(a, nil) },
			duration: 60,
			want:     []string{"AssertAllEnabled", "DisableATAOSCorrections"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeATCS{}
			s := tt.build(a)
			if md := configure(t, s, tt.config); md.Duration != tt.duration {
				t.Errorf("Duration = %v, want %v", md.Duration, tt.duration)
			}
			var cp checkpoints
			if err := s.Run(testContext(t), &cp); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if got := a.got(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("calls = %v, want %v", got, tt.want)
			}
			if got := cp.got(); !reflect.DeepEqual(got, tt.cps) {
				t.Errorf("checkpoints = %v, want %v", got, tt.cps)
			}
		})
	}
}

func TestDisableATAOSCorrections_IgnoreFail(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		config  string
		wantErr bool
	}{
		{config: "", wantErr: false},
		{config: "ignore_fail: true", wantErr: false},
		{config: "ignore_fail: false", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.config, func(t *testing.T) {
			a := &fakeATCS{fail: map[string]error{"DisableATAOSCorrections": boom}}
			s := NewDisableATAOSCorrections(a, nil)
			configure(t, s, tt.config)
			err := s.Run(testContext(t), &checkpoints{})
			if (err != nil) != tt.wantErr {
				t.Errorf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSlewDome_Ignore(t *testing.T) {
	a := &fakeATCS{}
	configure(t, NewSlewDome(a, nil), "{az: 0, ignore: [atdometrajectory]}")
	if !reflect.DeepEqual(a.ignored, []string{"atdometrajectory"}) {
		t.Errorf("ignored = %v", a.ignored)
	}
}

func TestStop_RejectsConfig(t *testing.T) {
	if err := NewStop(&fakeATCS{}).Configure(context.Background(), []byte("az: 1")); !script.IsExpected(err) {
		t.Errorf("Configure() error = %v, want ExpectedError", err)
	}
}

// =============================================================================
// Dropout door
// =============================================================================

func TestAirFlowSafe(t *testing.T) {
	tests := []struct {
		name string
		wind airFlow
		want bool
	}{
		{"calm", airFlow{Speed: 2, MaxSpeed: 4, SpeedStdDev: 1}, true},
		{"median too high", airFlow{Speed: 8.5, MaxSpeed: 9, SpeedStdDev: 1}, false},
		{"gust too high", airFlow{Speed: 5, MaxSpeed: 10.5, SpeedStdDev: 1}, false},
		{"gusty tightens limits", airFlow{Speed: 7, MaxSpeed: 9, SpeedStdDev: 4}, false},
		{"gusty but slow", airFlow{Speed: 3, MaxSpeed: 7, SpeedStdDev: 4}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.wind.safe(); got != tt.want {
				t.Errorf("safe() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOpenDropoutDoor(t *testing.T) {
	tests := []struct {
		name    string
		wind    salobj.Fields
		wantErr error
		want    []string
	}{
		{
			name: "safe",
			wind: salobj.Fields{"speed": 3.0, "maxSpeed": 5.0, "speedStdDev": 0.5},
			want: []string{"OpenDropoutDoor"},
		},
		{
			name:    "unsafe",
			wind:    salobj.Fields{"speed": 9.0, "maxSpeed": 12.0, "speedStdDev": 0.5},
			wantErr: ErrUnsafeWind,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, tr := newDomain(t)
			ess := salobjtest.NewComponent(t, tr, testTopics, "ESS", 301)
			publishEvery(t, func() { ess.PublishTelemetry("airFlow", tt.wind) })

			a := &fakeATCS{}
			s := NewOpenDropoutDoor(a, NewESSRemote(d), nil)
			if md := configure(t, s, ""); md.Duration != 120 {
				t.Errorf("Duration = %v, want 120", md.Duration)
			}
			var cp checkpoints
			err := s.Run(testContext(t), &cp)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run() error = %v, want %v", err, tt.wantErr)
			}
			if got := a.got(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("calls = %v, want %v", got, tt.want)
			}
			wantCps := []string{"Opening dropout door.", "Checking wind speed."}
			if got := cp.got(); !reflect.DeepEqual(got, wantCps) {
				t.Errorf("checkpoints = %v, want %v", got, wantCps)
			}
		})
	}
}

// =============================================================================
// Calibration system
// =============================================================================

type calsysHarness struct {
	cal   CalSys
	light *salobjtest.Component
	mono  *salobjtest.Component
}

func newCalSys(t *testing.T) *calsysHarness {
	t.Helper()
	d, tr := newDomain(t)
	h := &calsysHarness{
		cal:   NewCalSys(d),
		light: salobjtest.NewComponent(t, tr, testTopics, "ATWhiteLight", 0),
		mono:  salobjtest.NewComponent(t, tr, testTopics, "ATMonochromator", 0),
	}
	h.light.SetState(salobj.StateEnabled)
	h.mono.SetState(salobj.StateEnabled)
	return h
}

func (h *calsysHarness) lamp(s LampState) {
	h.light.PublishEvent("lampState", salobj.Fields{"basicState": int(s)})
}

func TestPowerOnATCalSys(t *testing.T) {
	h := newCalSys(t)
	publishEvery(t, func() {
		h.light.PublishTelemetry("chillerTemperatures", salobj.Fields{"supplyTemperature": 21.0, "setTemperature": 20.0})
	})
	h.light.Handle("turnLampOn", func(salobj.Fields) error {
		h.lamp(LampWarmup)
		h.lamp(LampOn)
		return nil
	})
	h.mono.Handle("updateMonochromatorSetup", func(data salobj.Fields) error {
		h.mono.PublishEvent("selectedGrating", salobj.Fields{"gratingType": data["gratingType"]})
		h.mono.PublishEvent("wavelength", salobj.Fields{"wavelength": data["wavelength"]})
		h.mono.PublishEvent("entrySlitWidth", salobj.Fields{"width": data["fontEntranceSlitWidth"]})
		h.mono.PublishEvent("exitSlitWidth", salobj.Fields{"width": data["fontExitSlitWidth"]})
		return nil
	})

	s := NewPowerOnATCalSys(h.cal, nil)
	if md := configure(t, s, "{use_atmonochromator: true, wavelength: 500, grating_type: 1}"); md.Duration != 35*60 {
		t.Errorf("Duration = %v, want %v", md.Duration, 35*60)
	}
	var cp checkpoints
	if err := s.Run(testContext(t), &cp); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantCps := []string{
		"Starting chiller",
		"Waiting for chiller to cool to set temperature",
		"Opening the shutter",
		"Turning on lamp",
		"Waiting for lamp to warm up",
		"Configuring ATMonochromator",
	}
	if got := cp.got(); !reflect.DeepEqual(got, wantCps) {
		t.Errorf("checkpoints = %v, want %v", got, wantCps)
	}
	wantCmds := []string{"setChillerTemperature", "startChiller", "openShutter", "turnLampOn"}
	if got := h.light.CallNames(); !reflect.DeepEqual(got, wantCmds) {
		t.Errorf("ATWhiteLight commands = %v, want %v", got, wantCmds)
	}
	calls := h.light.Calls()
	if calls[0].Data["temperature"] != 20.0 || calls[3].Data["power"] != 910.0 {
		t.Errorf("command data = %+v", calls)
	}
	mono := h.mono.Calls()
	if len(mono) != 1 || mono[0].Data["wavelength"] != 500.0 || mono[0].Data["gratingType"] != 1.0 {
		t.Errorf("ATMonochromator calls = %+v", mono)
	}
}

func TestPowerOnATCalSys_ChillerTimeout(t *testing.T) {
	h := newCalSys(t)
	publishEvery(t, func() {
		h.light.PublishTelemetry("chillerTemperatures", salobj.Fields{"supplyTemperature": 30.0, "setTemperature": 20.0})
	})

	s := NewPowerOnATCalSys(h.cal, nil)
	s.coolDown = 50 * time.Millisecond
	configure(t, s, "")
	if err := s.Run(testContext(t), &checkpoints{}); !errors.Is(err, ErrChillerTimeout) {
		t.Fatalf("Run() error = %v, want ErrChillerTimeout", err)
	}
	for _, name := range h.light.CallNames() {
		if name == "openShutter" {
			t.Error("shutter opened after chiller timeout")
		}
	}
}

func TestPowerOnATCalSys_NotEnabled(t *testing.T) {
	h := newCalSys(t)
	h.light.SetState(salobj.StateStandby)
	s := NewPowerOnATCalSys(h.cal, nil)
	configure(t, s, "")
	if err := s.Run(testContext(t), &checkpoints{}); !errors.Is(err, observatory.ErrNotEnabled) {
		t.Fatalf("Run() error = %v, want ErrNotEnabled", err)
	}
}

func TestPowerOffATCalSys(t *testing.T) {
	h := newCalSys(t)
	h.light.Handle("turnLampOff", func(salobj.Fields) error {
		h.lamp(LampCooldown)
		return nil
	})
	h.light.Handle("closeShutter", func(salobj.Fields) error {
		h.lamp(LampOff)
		return nil
	})

	s := NewPowerOffATCalSys(h.cal, nil)
	if md := configure(t, s, ""); md.Duration != 20*60 {
		t.Errorf("Duration = %v, want %v", md.Duration, 20*60)
	}
	var cp checkpoints
	if err := s.Run(testContext(t), &cp); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	wantCmds := []string{"turnLampOff", "closeShutter", "stopChiller"}
	if got := h.light.CallNames(); !reflect.DeepEqual(got, wantCmds) {
		t.Errorf("commands = %v, want %v", got, wantCmds)
	}
	wantCps := []string{"Turning lamp off", "Closing the shutter", "Waiting for lamp to cool down", "Stopping chiller"}
	if got := cp.got(); !reflect.DeepEqual(got, wantCps) {
		t.Errorf("checkpoints = %v, want %v", got, wantCps)
	}
}
