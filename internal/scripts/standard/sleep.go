package standard

import (
	"context"
	"fmt"
	"time"

	"github.com/lsst-ts/ts-standardscripts/internal/script"
)

const sleepSchema = `
$schema: http://json-schema.org/draft-07/schema#
title: Sleep v1
description: Configuration for Sleep.
type: object
properties:
  sleep_for:
    description: Duration of the sleep in seconds.
    type: number
    minimum: 0
required: [sleep_for]
additionalProperties: false
`

// Sleep waits for a configured number of seconds.
type Sleep struct {
	SleepFor float64 `yaml:"sleep_for"`
}

// NewSleep creates an unconfigured Sleep script.
func NewSleep() *Sleep { return &Sleep{} }

func (s *Sleep) Schema() string { return sleepSchema }

func (s *Sleep) Configure(_ context.Context, raw []byte) error {
	return script.LoadConfig(sleepSchema, raw, s)
}

func (s *Sleep) SetMetadata(md *script.Metadata) {
	md.Duration = s.SleepFor
}

func (s *Sleep) Run(ctx context.Context, cp script.Checkpointer) error {
	if err := cp.Checkpoint(ctx, fmt.Sprintf("Sleep for %v seconds...", s.SleepFor)); err != nil {
		return err
	}
	timer := time.NewTimer(time.Duration(s.SleepFor * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
