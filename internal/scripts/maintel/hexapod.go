package maintel

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lsst-ts/ts-standardscripts/internal/block"
	"github.com/lsst-ts/ts-standardscripts/internal/observatory"
	"github.com/lsst-ts/ts-standardscripts/internal/script"
)

const compensationModeSchema = `
$schema: http://json-schema.org/draft-07/schema#
type: object
properties:
  components:
    description: Hexapods to change the compensation mode of.
    type: array
    items:
      type: string
      enum: [M2Hexapod, CameraHexapod]
    minItems: 1
    uniqueItems: true
    default: [M2Hexapod, CameraHexapod]
additionalProperties: false
`

var hexapodKeys = map[string]string{
	"M2Hexapod":     observatory.KeyM2Hexapod,
	"CameraHexapod": observatory.KeyCameraHexapod,
}

// CompensationMode switches the look-up-table compensation of the hexapods
// on or off. The hexapods are handled concurrently.
type CompensationMode struct {
	mtcs   MTCS
	block  *block.Base
	enable bool

	Components []string
}

// NewEnableHexapodCompensationMode turns compensation on.
func NewEnableHexapodCompensationMode(m MTCS, deps block.Deps) *CompensationMode {
	return &CompensationMode{mtcs: m, enable: true, block: block.NewBase("EnableHexapodCompensationMode", deps)}
}

// NewDisableHexapodCompensationMode turns compensation off.
func NewDisableHexapodCompensationMode(m MTCS, deps block.Deps) *CompensationMode {
	return &CompensationMode{mtcs: m, block: block.NewBase("DisableHexapodCompensationMode", deps)}
}

func (s *CompensationMode) Schema() string { return withBlock(compensationModeSchema) }

func (s *CompensationMode) Configure(ctx context.Context, raw []byte) error {
	var cfg struct {
		Components   []string `yaml:"components"`
		block.Config `yaml:",inline"`
	}
	if err := script.LoadConfig(s.Schema(), raw, &cfg); err != nil {
		return err
	}
	s.Components = cfg.Components
	return s.block.Configure(ctx, cfg.Config)
}

func (s *CompensationMode) SetMetadata(md *script.Metadata) { md.Duration = 15 }

func (s *CompensationMode) Run(ctx context.Context, cp script.Checkpointer) error {
	return s.block.Run(ctx, cp, func(ctx context.Context) error {
		verb, set := "Disabling", s.mtcs.DisableCompensationMode
		if s.enable {
			verb, set = "Enabling", s.mtcs.EnableCompensationMode
		}
		for _, c := range s.Components {
			if err := cp.Checkpoint(ctx, fmt.Sprintf("%s compensation mode for %s", verb, c)); err != nil {
				return err
			}
		}

		eg, ctx := errgroup.WithContext(ctx)
		for _, c := range s.Components {
			key := hexapodKeys[c]
			eg.Go(func() error { return set(ctx, key) })
		}
		return eg.Wait()
	})
}
