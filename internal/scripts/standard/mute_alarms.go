package standard

import (
	"context"
	"time"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
	"github.com/lsst-ts/ts-standardscripts/internal/salobj"
	"github.com/lsst-ts/ts-standardscripts/internal/script"
)

const muteAlarmsSchema = `
$schema: http://json-schema.org/draft-07/schema#
title: MuteAlarms v1
description: Configuration for MuteAlarms.
type: object
properties:
  name:
    description: >-
      Name of the alarm to mute. A regular expression mutes several alarms.
    type: string
  mutedBy:
    description: User who muted the alarms.
    type: string
  duration:
    description: Duration of the mute in seconds.
    type: number
    minimum: 0
    default: 300
  severity:
    description: Severity level being muted.
    type: string
    enum: [NONE, WARNING, SERIOUS, CRITICAL]
    default: NONE
required: [name, mutedBy, duration, severity]
additionalProperties: false
`

// Watcher alarm severities.
var alarmSeverities = map[string]int{
	"NONE":     1,
	"WARNING":  2,
	"SERIOUS":  3,
	"CRITICAL": 4,
}

const muteTimeout = 60 * time.Second

// MuteAlarms mutes Watcher alarms for a while.
type MuteAlarms struct {
	watcher *salobj.Remote
	log     *logging.Logger

	cfg struct {
		Name     string  `yaml:"name"`
		MutedBy  string  `yaml:"mutedBy"`
		Duration float64 `yaml:"duration"`
		Severity string  `yaml:"severity"`
	}
}

// NewMuteAlarms creates the script on the Watcher remote.
func NewMuteAlarms(watcher *salobj.Remote, log *logging.Logger) *MuteAlarms {
	if log == nil {
		log = logging.Discard()
	}
	return &MuteAlarms{watcher: watcher, log: log}
}

func (s *MuteAlarms) Schema() string { return muteAlarmsSchema }

func (s *MuteAlarms) Configure(_ context.Context, raw []byte) error {
	return script.LoadConfig(muteAlarmsSchema, raw, &s.cfg)
}

func (s *MuteAlarms) SetMetadata(md *script.Metadata) {
	md.Duration = s.cfg.Duration
}

func (s *MuteAlarms) Run(ctx context.Context, _ script.Checkpointer) error {
	s.log.Info("muting alarms", "name", s.cfg.Name, "duration", s.cfg.Duration)
	_, err := s.watcher.Command("mute").SetStart(ctx, salobj.Fields{
		"name":     s.cfg.Name,
		"duration": s.cfg.Duration,
		"severity": alarmSeverities[s.cfg.Severity],
		"mutedBy":  s.cfg.MutedBy,
	}, muteTimeout)
	return err
}
