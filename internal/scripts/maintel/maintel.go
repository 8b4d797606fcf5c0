package maintel

import (
	"context"

	"github.com/lsst-ts/ts-standardscripts/internal/block"
	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
	"github.com/lsst-ts/ts-standardscripts/internal/observatory"
	"github.com/lsst-ts/ts-standardscripts/internal/script"
)

// MTCS is the main telescope control system as the scripts use it.
// *observatory.MTCS satisfies it.
type MTCS interface {
	Enable(ctx context.Context, overrides map[string]string) error
	AssertAllEnabled(ctx context.Context) error
	DisableChecks(names ...string)
	TelSettleTime() float64

	SlewDomeTo(ctx context.Context, az float64) error
	HomeDome(ctx context.Context, physicalAz float64) error
	ParkDome(ctx context.Context) error
	CrawlAz(ctx context.Context, velocity float64) error
	StopDome(ctx context.Context, subsystems int) error

	ParkMount(ctx context.Context, position observatory.MountPosition) error
	UnparkMount(ctx context.Context) error
	HomeBothAxes(ctx context.Context) error
	OpenM1Cover(ctx context.Context) error
	CloseM1Cover(ctx context.Context) error
	StopTracking(ctx context.Context) error

	MoveRotator(ctx context.Context, angle float64, wait bool) error
	StopRotator(ctx context.Context) error

	RaiseM1M3(ctx context.Context) error
	LowerM1M3(ctx context.Context) error
	EnableM1M3BalanceSystem(ctx context.Context) error
	DisableM1M3BalanceSystem(ctx context.Context) error
	EnableM2BalanceSystem(ctx context.Context) error
	DisableM2BalanceSystem(ctx context.Context) error

	EnableCompensationMode(ctx context.Context, key string) error
	DisableCompensationMode(ctx context.Context, key string) error
	OffsetM2Hexapod(ctx context.Context, off observatory.HexapodOffset) error
	OffsetCameraHexapod(ctx context.Context, off observatory.HexapodOffset) error
}

// ignoreSchema is the schema of scripts whose only setting is the list of
// components left out of the enabled checks.
const ignoreSchema = `
$schema: http://json-schema.org/draft-07/schema#
type: object
properties:
  ignore:
    description: >-
      CSCs from the group to ignore in status checks, as member keys, e.g.
      mthexapod_1 for MTHexapod:1.
    type: array
    items:
      type: string
additionalProperties: false
`

func withIgnore(schema string) string {
	return script.MustMergeSchemaProperties(schema, ignoreSchema)
}

func withBlock(schema string) string {
	return script.MustMergeSchemaProperties(schema, block.Schema)
}

func disableChecks(m MTCS, ignore []string) {
	if len(ignore) > 0 {
		m.DisableChecks(ignore...)
	}
}

func orDiscard(log *logging.Logger) *logging.Logger {
	if log == nil {
		return logging.Discard()
	}
	return log
}

// Operation is a script that runs one MTCS operation, optionally behind a
// checkpoint and after checking that every checked component is enabled.
// Operations built with block dependencies accept the block settings;
// those that check enabled state or take ignore accept "ignore". An
// operation with neither takes no configuration.
type Operation struct {
	mtcs       MTCS
	block      *block.Base
	title      string
	schema     string
	duration   float64
	checkpoint string
	assert     bool
	call       func(MTCS, context.Context) error
}

type operationSpec struct {
	title      string
	duration   float64
	checkpoint string
	assert     bool
	ignore     bool
	call       func(MTCS, context.Context) error
}

func newOperation(m MTCS, deps *block.Deps, spec operationSpec) *Operation {
	op := &Operation{
		mtcs:       m,
		title:      spec.title,
		duration:   spec.duration,
		checkpoint: spec.checkpoint,
		assert:     spec.assert,
		call:       spec.call,
	}
	if !spec.assert && !spec.ignore && deps == nil {
		return op
	}
	schema := "$schema: http://json-schema.org/draft-07/schema#\ntitle: " + spec.title + " v1\ntype: object\nproperties: {}\nadditionalProperties: false\n"
	if spec.assert || spec.ignore {
		schema = withIgnore(schema)
	}
	if deps != nil {
		op.block = block.NewBase(spec.title, *deps)
		schema = withBlock(schema)
	}
	op.schema = schema
	return op
}

func (o *Operation) Schema() string { return o.schema }

func (o *Operation) Configure(ctx context.Context, raw []byte) error {
	var cfg struct {
		Ignore       []string `yaml:"ignore"`
		block.Config `yaml:",inline"`
	}
	if err := script.LoadConfig(o.schema, raw, &cfg); err != nil {
		return err
	}
	disableChecks(o.mtcs, cfg.Ignore)
	if o.block != nil {
		return o.block.Configure(ctx, cfg.Config)
	}
	return nil
}

func (o *Operation) SetMetadata(md *script.Metadata) {
	md.Duration = o.duration
}

func (o *Operation) Run(ctx context.Context, cp script.Checkpointer) error {
	if o.block == nil {
		return o.run(ctx, cp)
	}
	return o.block.Run(ctx, cp, func(ctx context.Context) error { return o.run(ctx, cp) })
}

func (o *Operation) run(ctx context.Context, cp script.Checkpointer) error {
	if o.assert {
		if err := o.mtcs.AssertAllEnabled(ctx); err != nil {
			return err
		}
	}
	if o.checkpoint != "" {
		if err := cp.Checkpoint(ctx, o.checkpoint); err != nil {
			return err
		}
	}
	if o.block == nil {
		return o.call(o.mtcs, ctx)
	}
	return o.block.Step(o.checkpoint, func() error { return o.call(o.mtcs, ctx) })
}

// NewParkDome parks the dome. It takes no configuration.
func NewParkDome(m MTCS) *Operation {
	return newOperation(m, nil, operationSpec{title: "ParkDome", duration: 5, call: MTCS.ParkDome})
}

// NewUnparkMount takes the mount out of its park position. No duration
// estimate is published.
func NewUnparkMount(m MTCS) *Operation {
	return newOperation(m, nil, operationSpec{title: "UnparkMount", ignore: true, call: MTCS.UnparkMount})
}

// NewOpenMirrorCovers opens the mirror covers.
func NewOpenMirrorCovers(m MTCS, deps block.Deps) *Operation {
	return newOperation(m, &deps, operationSpec{
		title: "OpenMirrorCovers", duration: 120, checkpoint: "Opening mirror covers.", assert: true, call: MTCS.OpenM1Cover,
	})
}

// NewCloseMirrorCovers closes the mirror covers.
func NewCloseMirrorCovers(m MTCS, deps block.Deps) *Operation {
	return newOperation(m, &deps, operationSpec{
		title: "CloseMirrorCovers", duration: 120, checkpoint: "Closing mirror covers.", assert: true, call: MTCS.CloseM1Cover,
	})
}

// NewRaiseM1M3 raises M1M3 onto its actuators.
func NewRaiseM1M3(m MTCS, deps block.Deps) *Operation {
	return newOperation(m, &deps, operationSpec{
		title: "RaiseM1M3", duration: 180, checkpoint: "Raising M1M3", call: MTCS.RaiseM1M3,
	})
}

// NewLowerM1M3 lowers M1M3 onto its static supports.
func NewLowerM1M3(m MTCS, deps block.Deps) *Operation {
	return newOperation(m, &deps, operationSpec{
		title: "LowerM1M3", duration: 180, checkpoint: "Lowering M1M3", call: MTCS.LowerM1M3,
	})
}

// NewEnableM2ClosedLoop closes the M2 force balance loop.
func NewEnableM2ClosedLoop(m MTCS, deps block.Deps) *Operation {
	return newOperation(m, &deps, operationSpec{
		title: "EnableM2ClosedLoop", duration: 15, checkpoint: "Enabling M2 closed-loop.", call: MTCS.EnableM2BalanceSystem,
	})
}

// NewDisableM2ClosedLoop opens the M2 force balance loop.
func NewDisableM2ClosedLoop(m MTCS, deps block.Deps) *Operation {
	return newOperation(m, &deps, operationSpec{
		title: "DisableM2ClosedLoop", duration: 15, checkpoint: "Disabling M2 closed-loop.", call: MTCS.DisableM2BalanceSystem,
	})
}
