package scheduler

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/lsst-ts/ts-standardscripts/internal/salobj"
	"github.com/lsst-ts/ts-standardscripts/internal/script"
)

const stopSchema = `
$schema: http://json-schema.org/draft-07/schema#
title: SchedulerStop v2
description: Configuration for stopping the Scheduler.
type: object
properties:
  stop:
    description: Should the Scheduler stop the current observations in the queue?
    type: boolean
    default: false
additionalProperties: false
`

// Stop stops the Scheduler, optionally aborting the current observations.
type Stop struct {
	base
	abort bool
}

func NewStop(d Deps) *Stop { return &Stop{base: newBase(d)} }

func (s *Stop) Schema() string { return stopSchema }

func (s *Stop) Configure(_ context.Context, raw []byte) error {
	var cfg struct {
		Stop bool `yaml:"stop"`
	}
	if err := script.LoadConfig(stopSchema, raw, &cfg); err != nil {
		return err
	}
	s.abort = cfg.Stop
	return nil
}

func (s *Stop) SetMetadata(md *script.Metadata) { md.Duration = commandTimeout.Seconds() }

func (s *Stop) Run(ctx context.Context, cp script.Checkpointer) error {
	if err := s.checkQueue(); err != nil {
		return err
	}
	if err := cp.Checkpoint(ctx, "Stopping scheduler"); err != nil {
		return err
	}
	if _, err := s.remote.Command("stop").SetStart(ctx, salobj.Fields{"abort": s.abort}, commandTimeout); err != nil {
		return err
	}
	return cp.Checkpoint(ctx, "Scheduler stopped")
}

// Resume resumes a stopped Scheduler.
type Resume struct{ base }

func NewResume(d Deps) *Resume { return &Resume{base: newBase(d)} }

func (s *Resume) Schema() string { return "" }

func (s *Resume) Configure(_ context.Context, raw []byte) error {
	return script.LoadConfig("", raw, nil)
}

func (s *Resume) SetMetadata(md *script.Metadata) { md.Duration = commandTimeout.Seconds() }

func (s *Resume) Run(ctx context.Context, cp script.Checkpointer) error {
	if err := s.checkQueue(); err != nil {
		return err
	}
	if err := cp.Checkpoint(ctx, "Resuming scheduler"); err != nil {
		return err
	}
	if _, err := s.remote.Command("resume").Start(ctx, commandTimeout); err != nil {
		return err
	}
	return cp.Checkpoint(ctx, "Scheduler resumed")
}

const addBlockSchema = `
$schema: http://json-schema.org/draft-07/schema#
title: SchedulerAddBlock v1
description: Configuration for adding a BLOCK to the Scheduler.
type: object
properties:
  id:
    description: Id of the BLOCK to load. This must be a valid BLOCK id.
    type: string
  override:
    description: Configuration overrides passed to the BLOCK.
    type: object
    additionalProperties: true
required: [id]
additionalProperties: false
`

// AddBlock loads a BLOCK into the Scheduler.
type AddBlock struct {
	base
	id       string
	override string
}

func NewAddBlock(d Deps) *AddBlock { return &AddBlock{base: newBase(d)} }

func (s *AddBlock) Schema() string { return addBlockSchema }

func (s *AddBlock) Configure(_ context.Context, raw []byte) error {
	var cfg struct {
		ID       string         `yaml:"id"`
		Override map[string]any `yaml:"override"`
	}
	if err := script.LoadConfig(addBlockSchema, raw, &cfg); err != nil {
		return err
	}
	s.id = cfg.ID
	s.override = ""
	if cfg.Override != nil {
		out, err := yaml.Marshal(cfg.Override)
		if err != nil {
			return fmt.Errorf("encoding override: %w", err)
		}
		s.override = string(out)
	}
	return nil
}

func (s *AddBlock) SetMetadata(md *script.Metadata) { md.Duration = commandTimeout.Seconds() }

func (s *AddBlock) Run(ctx context.Context, cp script.Checkpointer) error {
	if err := s.checkQueue(); err != nil {
		return err
	}
	if err := cp.Checkpoint(ctx, fmt.Sprintf("Loading %s into scheduler", s.id)); err != nil {
		return err
	}
	fields := salobj.Fields{"id": s.id, "override": s.override}
	if _, err := s.remote.Command("addBlock").SetStart(ctx, fields, commandTimeout); err != nil {
		return err
	}
	return cp.Checkpoint(ctx, "BLOCK successfully loaded")
}

const loadSnapshotSchema = `
$schema: http://json-schema.org/draft-07/schema#
title: SchedulerLoadSnapshot v2
description: Configuration for loading a Scheduler snapshot.
type: object
properties:
  snapshot:
    description: >-
      Snapshot to load. Either a valid uri or "latest", which loads the last
      snapshot the Scheduler published.
    type: string
required: [snapshot]
additionalProperties: false
`

// latestSnapshot selects the last snapshot the Scheduler published.
const latestSnapshot = "latest"

// LoadSnapshot loads a snapshot into the Scheduler.
type LoadSnapshot struct {
	base
	uri string
}

func NewLoadSnapshot(d Deps) *LoadSnapshot { return &LoadSnapshot{base: newBase(d)} }

func (s *LoadSnapshot) Schema() string { return loadSnapshotSchema }

// URI returns the snapshot that Run loads.
func (s *LoadSnapshot) URI() string { return s.uri }

func (s *LoadSnapshot) Configure(ctx context.Context, raw []byte) error {
	var cfg struct {
		Snapshot string `yaml:"snapshot"`
	}
	if err := script.LoadConfig(loadSnapshotSchema, raw, &cfg); err != nil {
		return err
	}
	s.log.Info("loading snapshot", "snapshot", cfg.Snapshot)
	if cfg.Snapshot != latestSnapshot {
		s.uri = cfg.Snapshot
		return nil
	}

	sample, err := s.remote.Event("largeFileObjectAvailable").Aget(ctx, commandTimeout)
	if errors.Is(err, salobj.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return script.Expectedf("no snapshot information from the Scheduler; it must publish at least one snapshot before 'latest' can be loaded")
	}
	if err != nil {
		return err
	}
	uri, err := sample.String("url")
	if err != nil {
		return script.AsExpected(err)
	}
	s.log.Info("latest snapshot", "uri", uri)
	s.uri = uri
	return nil
}

func (s *LoadSnapshot) SetMetadata(md *script.Metadata) { md.Duration = commandTimeout.Seconds() }

func (s *LoadSnapshot) Run(ctx context.Context, cp script.Checkpointer) error {
	if err := s.checkQueue(); err != nil {
		return err
	}
	if err := cp.Checkpoint(ctx, "Loading snapshot"); err != nil {
		return err
	}
	if _, err := s.remote.Command("load").SetStart(ctx, salobj.Fields{"uri": s.uri}, commandTimeout); err != nil {
		return err
	}
	return cp.Checkpoint(ctx, "Snapshot loaded")
}
