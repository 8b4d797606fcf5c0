package standard

import (
	"context"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
	"github.com/lsst-ts/ts-standardscripts/internal/observatory"
	"github.com/lsst-ts/ts-standardscripts/internal/salobj"
	"github.com/lsst-ts/ts-standardscripts/internal/script"
)

const pauseQueueSchema = `
$schema: http://json-schema.org/draft-07/schema#
title: PauseQueue v1
description: Configuration for PauseQueue.
type: object
properties:
  queue:
    description: Script queue to pause.
    type: string
    enum: [MAIN_TEL, AUX_TEL]
required: [queue]
additionalProperties: false
`

// PauseQueue pauses a script queue.
type PauseQueue struct {
	domain *salobj.Domain
	log    *logging.Logger

	queue  observatory.Queue
	remote *observatory.ScriptQueue
}

// NewPauseQueue creates the script. The queue remote is created once the
// queue is known.
func NewPauseQueue(domain *salobj.Domain, log *logging.Logger) *PauseQueue {
	if log == nil {
		log = logging.Discard()
	}
	return &PauseQueue{domain: domain, log: log}
}

func (s *PauseQueue) Schema() string { return pauseQueueSchema }

func (s *PauseQueue) Configure(_ context.Context, raw []byte) error {
	var cfg struct {
		Queue string `yaml:"queue"`
	}
	if err := script.LoadConfig(pauseQueueSchema, raw, &cfg); err != nil {
		return err
	}
	q, err := observatory.ParseQueue(cfg.Queue)
	if err != nil {
		return script.AsExpected(err)
	}
	if s.remote == nil || s.queue != q {
		s.remote = observatory.NewScriptQueue(s.domain, q)
	}
	s.queue = q
	return nil
}

func (s *PauseQueue) SetMetadata(*script.Metadata) {}

func (s *PauseQueue) Run(ctx context.Context, _ script.Checkpointer) error {
	s.log.Info("pausing script queue, resume it when ready", "queue", s.queue.String())
	return s.remote.Pause(ctx)
}
