package standard

import (
	"context"
	"fmt"
	"time"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
	"github.com/lsst-ts/ts-standardscripts/internal/salobj"
	"github.com/lsst-ts/ts-standardscripts/internal/script"
)

const runCommandSchema = `
$schema: http://json-schema.org/draft-07/schema#
title: RunCommand v1
description: Configuration for RunCommand.
type: object
properties:
  component:
    description: CSC to command, as Name[:index]. The default index is 0.
    type: string
  cmd:
    description: Name of the command to run.
    type: string
  event:
    description: Name of an event to wait for after the command completes.
    type: string
  flush:
    description: Flush the event before sending the command?
    type: boolean
    default: true
  event_timeout:
    description: Time (seconds) to wait for the event.
    type: number
    default: 30
  parameters:
    description: Command parameters.
    type: object
    default: {}
    properties:
      timeout:
        description: Time (seconds) to wait for the command to complete.
        type: number
        default: 30
    additionalProperties: true
required: [component, cmd]
additionalProperties: false
`

// RunCommand sends one command to any CSC and optionally waits for an event.
type RunCommand struct {
	domain *salobj.Domain
	log    *logging.Logger

	name         string
	index        int
	cmd          string
	event        string
	flush        bool
	eventTimeout float64
	timeout      float64
	params       salobj.Fields
	remote       *salobj.Remote
}

// NewRunCommand creates the script. The remote is created in Configure.
func NewRunCommand(domain *salobj.Domain, log *logging.Logger) *RunCommand {
	if log == nil {
		log = logging.Discard()
	}
	return &RunCommand{domain: domain, log: log}
}

func (s *RunCommand) Schema() string { return runCommandSchema }

func (s *RunCommand) Configure(_ context.Context, raw []byte) error {
	var cfg struct {
		Component    string         `yaml:"component"`
		Cmd          string         `yaml:"cmd"`
		Event        string         `yaml:"event"`
		Flush        bool           `yaml:"flush"`
		EventTimeout float64        `yaml:"event_timeout"`
		Parameters   map[string]any `yaml:"parameters"`
	}
	if err := script.LoadConfig(runCommandSchema, raw, &cfg); err != nil {
		return err
	}
	name, index, err := salobj.NameToNameIndex(cfg.Component)
	if err != nil {
		return script.AsExpected(err)
	}

	s.timeout = 30
	s.params = salobj.Fields{}
	for k, v := range cfg.Parameters {
		if k == "timeout" {
			t, ok := toFloat(v)
			if !ok {
				return script.Expectedf("parameters.timeout must be a number, got %v", v)
			}
			s.timeout = t
			continue
		}
		s.params[k] = v
	}

	if s.remote == nil || s.name != name || s.index != index {
		if s.remote != nil {
			if err := s.remote.Close(); err != nil {
				s.log.Warn("closing remote failed", "component", s.remote.String(), "error", err)
			}
		}
		s.remote = salobj.NewRemote(s.domain, name, index)
	}
	s.name, s.index = name, index
	s.cmd = cfg.Cmd
	s.event = cfg.Event
	s.flush = cfg.Flush && cfg.Event != ""
	s.eventTimeout = cfg.EventTimeout
	return nil
}

// Remote returns the configured remote, nil before Configure.
func (s *RunCommand) Remote() *salobj.Remote { return s.remote }

// Close drops the remote's subscription.
func (s *RunCommand) Close() error {
	if s.remote == nil {
		return nil
	}
	return s.remote.Close()
}

func (s *RunCommand) SetMetadata(md *script.Metadata) {
	md.Duration = s.timeout
	if s.event != "" {
		md.Duration += s.eventTimeout
	}
}

func (s *RunCommand) Run(ctx context.Context, cp script.Checkpointer) error {
	if err := s.remote.Start(ctx); err != nil {
		return err
	}
	if s.flush {
		s.remote.Event(s.event).Flush()
	}

	if err := cp.Checkpoint(ctx, fmt.Sprintf("run %s:%d:%s", s.name, s.index, s.cmd)); err != nil {
		return err
	}
	if _, err := s.remote.Command(s.cmd).SetStart(ctx, s.params, seconds(s.timeout)); err != nil {
		return err
	}
	if s.event == "" {
		return nil
	}

	if err := cp.Checkpoint(ctx, fmt.Sprintf("wait %s:%d:%s", s.name, s.index, s.event)); err != nil {
		return err
	}
	sample, err := s.remote.Event(s.event).Next(ctx, false, seconds(s.eventTimeout))
	if err != nil {
		return err
	}
	s.log.Info("event received", "component", s.remote.String(), "event", s.event, "data", sample.Data)
	return nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
