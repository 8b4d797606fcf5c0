package scripts

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lsst-ts/ts-standardscripts/internal/block"
	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
	"github.com/lsst-ts/ts-standardscripts/internal/observatory"
	"github.com/lsst-ts/ts-standardscripts/internal/salobj"
	"github.com/lsst-ts/ts-standardscripts/internal/script"
	"github.com/lsst-ts/ts-standardscripts/internal/scripts/auxtel"
	"github.com/lsst-ts/ts-standardscripts/internal/scripts/maintel"
	"github.com/lsst-ts/ts-standardscripts/internal/scripts/scheduler"
	"github.com/lsst-ts/ts-standardscripts/internal/scripts/standard"
	"github.com/lsst-ts/ts-standardscripts/internal/scripts/tcs"
)

// ErrUnknownScript is returned by New for names that are not registered.
var ErrUnknownScript = errors.New("scripts: unknown script")

// Deps are the shared collaborators a factory builds a script from.
// Domain is required; the block collaborators are optional.
type Deps struct {
	Domain *salobj.Domain
	ObsIDs block.ObsIDSource
	LFA    block.Uploader
	Events block.LargeFilePublisher
	Log    *logging.Logger
}

func (d Deps) block(index int) block.Deps {
	return block.Deps{Index: index, ObsIDs: d.ObsIDs, LFA: d.LFA, Events: d.Events, Log: d.Log}
}

func (d Deps) mtcs() *observatory.MTCS { return observatory.NewMTCS(d.Domain, d.Log) }

func (d Deps) atcs() *observatory.ATCS { return observatory.NewATCS(d.Domain, d.Log) }

// Factory builds a script instance for the given script index.
type Factory func(d Deps, index int) script.Script

// Registry maps script names to factories.
//
// All methods are thread-safe.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	r.factories[name] = f
	r.mu.Unlock()
}

// List returns the registered names in order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// New builds the script registered as name.
func (r *Registry) New(name string, d Deps, index int) (script.Script, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScript, name)
	}
	if d.Log == nil {
		d.Log = logging.Discard()
	}
	d.Log = d.Log.ForScript(name, index)
	return f(d, index), nil
}

// Default returns a registry holding every standard script.
func Default() *Registry {
	r := NewRegistry()
	registerStandard(r)
	registerMainTel(r)
	registerAuxTel(r)
	return r
}

func registerStandard(r *Registry) {
	r.Register("sleep", func(Deps, int) script.Script { return standard.NewSleep() })
	r.Register("mute_alarms", func(d Deps, _ int) script.Script {
		return standard.NewMuteAlarms(salobj.NewRemote(d.Domain, "Watcher", 0), d.Log)
	})
	r.Register("pause_queue", func(d Deps, _ int) script.Script { return standard.NewPauseQueue(d.Domain, d.Log) })
	r.Register("run_command", func(d Deps, _ int) script.Script { return standard.NewRunCommand(d.Domain, d.Log) })
	r.Register("set_summary_state", func(d Deps, _ int) script.Script {
		return standard.NewSetSummaryState(d.Domain, d.Log)
	})
	for name, state := range map[string]salobj.State{
		"enable_group":  salobj.StateEnabled,
		"standby_group": salobj.StateStandby,
		"offline_group": salobj.StateOffline,
	} {
		r.Register(name, func(d Deps, _ int) script.Script { return standard.NewGroupScript(state, d.Domain, d.Log) })
	}
}

// registerScheduler adds the scheduler scripts of queue q under prefix.
func registerScheduler(r *Registry, prefix string, q observatory.Queue) {
	deps := func(d Deps, index int) scheduler.Deps { return scheduler.NewDeps(d.Domain, q, index, d.Log) }
	r.Register(prefix+"scheduler/enable", func(d Deps, i int) script.Script { return scheduler.NewEnable(deps(d, i)) })
	r.Register(prefix+"scheduler/standby", func(d Deps, i int) script.Script { return scheduler.NewStandby(deps(d, i)) })
	r.Register(prefix+"scheduler/resume", func(d Deps, i int) script.Script { return scheduler.NewResume(deps(d, i)) })
	r.Register(prefix+"scheduler/stop", func(d Deps, i int) script.Script { return scheduler.NewStop(deps(d, i)) })
	r.Register(prefix+"scheduler/add_block", func(d Deps, i int) script.Script { return scheduler.NewAddBlock(deps(d, i)) })
	r.Register(prefix+"scheduler/load_snapshot", func(d Deps, i int) script.Script {
		return scheduler.NewLoadSnapshot(deps(d, i))
	})
}

func registerMainTel(r *Registry) {
	registerScheduler(r, "maintel/", observatory.MainTel)

	// MTCS operations without block settings.
	for name, build := range map[string]func(maintel.MTCS) script.Script{
		"maintel/mtdome/slew_dome":     func(m maintel.MTCS) script.Script { return maintel.NewSlewDome(m) },
		"maintel/mtdome/home_dome":     func(m maintel.MTCS) script.Script { return maintel.NewHomeDome(m) },
		"maintel/mtdome/park_dome":     func(m maintel.MTCS) script.Script { return maintel.NewParkDome(m) },
		"maintel/mtmount/park_mount":   func(m maintel.MTCS) script.Script { return maintel.NewParkMount(m) },
		"maintel/mtmount/unpark_mount": func(m maintel.MTCS) script.Script { return maintel.NewUnparkMount(m) },
		"maintel/stop_tracking":        func(m maintel.MTCS) script.Script { return tcs.NewStopTracking(m) },
	} {
		r.Register(name, func(d Deps, _ int) script.Script { return build(d.mtcs()) })
	}

	// MTCS operations that run as part of a block.
	for name, build := range map[string]func(maintel.MTCS, block.Deps) script.Script{
		"maintel/open_mirror_covers":  func(m maintel.MTCS, b block.Deps) script.Script { return maintel.NewOpenMirrorCovers(m, b) },
		"maintel/close_mirror_covers": func(m maintel.MTCS, b block.Deps) script.Script { return maintel.NewCloseMirrorCovers(m, b) },
		"maintel/m1m3/raise_m1m3":     func(m maintel.MTCS, b block.Deps) script.Script { return maintel.NewRaiseM1M3(m, b) },
		"maintel/m1m3/lower_m1m3":     func(m maintel.MTCS, b block.Deps) script.Script { return maintel.NewLowerM1M3(m, b) },
		"maintel/m2/enable_closed_loop": func(m maintel.MTCS, b block.Deps) script.Script {
			return maintel.NewEnableM2ClosedLoop(m, b)
		},
		"maintel/m2/disable_closed_loop": func(m maintel.MTCS, b block.Deps) script.Script {
			return maintel.NewDisableM2ClosedLoop(m, b)
		},
		"maintel/mtrotator/move_rotator": func(m maintel.MTCS, b block.Deps) script.Script { return maintel.NewMoveRotator(m, b) },
		"maintel/stop_rotator":           func(m maintel.MTCS, b block.Deps) script.Script { return maintel.NewStopRotator(m, b) },
		"maintel/enable_hexapod_compensation_mode": func(m maintel.MTCS, b block.Deps) script.Script {
			return maintel.NewEnableHexapodCompensationMode(m, b)
		},
		"maintel/disable_hexapod_compensation_mode": func(m maintel.MTCS, b block.Deps) script.Script {
			return maintel.NewDisableHexapodCompensationMode(m, b)
		},
	} {
		r.Register(name, func(d Deps, i int) script.Script { return build(d.mtcs(), d.block(i)) })
	}

	r.Register("maintel/mtdome/crawl_az", func(d Deps, _ int) script.Script {
		return maintel.NewCrawlAz(d.mtcs(), salobj.NewRemote(d.Domain, "MTDome", 0), d.Log)
	})
	r.Register("maintel/home_both_axes", func(d Deps, _ int) script.Script {
		return maintel.NewHomeBothAxes(d.mtcs(), d.Log)
	})

	r.Register("maintel/laser_tracker/set_up", func(d Deps, i int) script.Script {
		return maintel.NewLaserSetUp(maintel.NewLaserTrackerRemote(d.Domain), d.block(i))
	})
	r.Register("maintel/laser_tracker/shut_down", func(d Deps, i int) script.Script {
		return maintel.NewLaserShutDown(maintel.NewLaserTrackerRemote(d.Domain), d.block(i))
	})
	r.Register("maintel/laser_tracker/align", func(d Deps, i int) script.Script {
		return maintel.NewAlign(d.mtcs(), maintel.NewLaserTrackerRemote(d.Domain), d.block(i))
	})
	r.Register("maintel/laser_tracker/measure", func(d Deps, i int) script.Script {
		return maintel.NewMeasure(maintel.NewLaserTrackerRemote(d.Domain), d.block(i))
	})

	for name, state := range map[string]salobj.State{
		"maintel/enable_mtcs":  salobj.StateEnabled,
		"maintel/standby_mtcs": salobj.StateStandby,
		"maintel/offline_mtcs": salobj.StateOffline,
	} {
		r.Register(name, func(d Deps, _ int) script.Script {
			return standard.NewBoundGroupScript(state, "MTCS", d.mtcs(), d.Log)
		})
	}
}

func registerAuxTel(r *Registry) {
	registerScheduler(r, "auxtel/", observatory.AuxTel)

	r.Register("auxtel/atdome/slew_dome", func(d Deps, _ int) script.Script { return auxtel.NewSlewDome(d.atcs(), d.Log) })
	r.Register("auxtel/atdome/close_dome", func(d Deps, _ int) script.Script { return auxtel.NewCloseDome(d.atcs()) })
	r.Register("auxtel/atdome/open_dropout_door", func(d Deps, _ int) script.Script {
		return auxtel.NewOpenDropoutDoor(d.atcs(), auxtel.NewESSRemote(d.Domain), d.Log)
	})
	r.Register("auxtel/calibrations/power_on_atcalsys", func(d Deps, _ int) script.Script {
		return auxtel.NewPowerOnATCalSys(auxtel.NewCalSys(d.Domain), d.Log)
	})
	r.Register("auxtel/calibrations/power_off_atcalsys", func(d Deps, _ int) script.Script {
		return auxtel.NewPowerOffATCalSys(auxtel.NewCalSys(d.Domain), d.Log)
	})
	r.Register("auxtel/stop_tracking", func(d Deps, _ int) script.Script { return tcs.NewStopTracking(d.atcs()) })
	r.Register("auxtel/stop", func(d Deps, _ int) script.Script { return auxtel.NewStop(d.atcs()) })
	r.Register("auxtel/enable_ataos_corrections", func(d Deps, _ int) script.Script {
		return auxtel.NewEnableATAOSCorrections(d.atcs(), d.Log)
	})
	r.Register("auxtel/disable_ataos_corrections", func(d Deps, _ int) script.Script {
		return auxtel.NewDisableATAOSCorrections(d.atcs(), d.Log)
	})

	for name, state := range map[string]salobj.State{
		"auxtel/enable_atcs":  salobj.StateEnabled,
		"auxtel/standby_atcs": salobj.StateStandby,
	} {
		r.Register(name, func(d Deps, _ int) script.Script {
			return standard.NewBoundGroupScript(state, "ATCS", d.atcs(), d.Log)
		})
	}
}
