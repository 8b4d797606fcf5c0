package standard

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
	"github.com/lsst-ts/ts-standardscripts/internal/observatory"
	"github.com/lsst-ts/ts-standardscripts/internal/salobj"
	"github.com/lsst-ts/ts-standardscripts/internal/script"
)

// groupDuration is the duration estimate of every group script, in seconds.
const groupDuration = 60.0

// Grouper is a set of components that move between summary states together.
// *observatory.Group, *observatory.MTCS and *observatory.ATCS satisfy it.
type Grouper interface {
	Components() []string
	DisableChecks(names ...string)
	SetState(ctx context.Context, desired salobj.State, overrides map[string]string) error
}

const groupSchema = `
$schema: http://json-schema.org/draft-07/schema#
title: %s v1
description: Configuration for %s.
type: object
properties:
  components:
    description: CSCs in the group, as Name[:index].
    type: array
    minItems: 1
    items:
      type: string
  ignore:
    description: >-
      CSCs of the group to leave alone, as member keys (mthexapod_1) or as
      Name[:index] (MTHexapod:1).
    type: array
    items:
      type: string
%srequired: [components]
additionalProperties: false
`

const groupOverridesProperty = `  overrides:
    description: Configuration override sent with start, by Name[:index].
    type: object
    additionalProperties:
      type: string
`

// GroupScript moves a group of CSCs to one summary state. Only ENABLED
// uses configuration overrides.
//
// A group script either builds its group from the configured component
// list (NewGroupScript) or works on a fixed group (NewBoundGroupScript),
// in which case the schema holds one override property per member.
type GroupScript struct {
	title   string
	desired salobj.State
	schema  string
	domain  *salobj.Domain
	log     *logging.Logger
	bound   bool

	group     Grouper
	owned     *observatory.Group
	ignore    []string
	overrides map[string]string
}

// NewGroupScript creates a group script whose components come from
// configuration.
func NewGroupScript(desired salobj.State, domain *salobj.Domain, log *logging.Logger) *GroupScript {
	if log == nil {
		log = logging.Discard()
	}
	title := groupTitle(desired, "Group")
	overrides := ""
	if desired == salobj.StateEnabled {
		overrides = groupOverridesProperty
	}
	return &GroupScript{
		title:   title,
		desired: desired,
		schema:  fmt.Sprintf(groupSchema, title, title, overrides),
		domain:  domain,
		log:     log,
	}
}

// NewBoundGroupScript creates a group script on a fixed group. name is used
// in the schema title, e.g. "MTCS" gives "EnableMTCS".
func NewBoundGroupScript(desired salobj.State, name string, group Grouper, log *logging.Logger) *GroupScript {
	if log == nil {
		log = logging.Discard()
	}
	title := groupTitle(desired, name)
	return &GroupScript{
		title:   title,
		desired: desired,
		schema:  boundGroupSchema(title, desired, group.Components()),
		log:     log,
		bound:   true,
		group:   group,
	}
}

var groupVerbs = map[salobj.State]string{
	salobj.StateEnabled:  "Enable",
	salobj.StateDisabled: "Disable",
	salobj.StateStandby:  "Standby",
	salobj.StateOffline:  "Offline",
}

func groupTitle(desired salobj.State, name string) string {
	return groupVerbs[desired] + name
}

func boundGroupSchema(title string, desired salobj.State, components []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "$schema: http://json-schema.org/draft-07/schema#\ntitle: %s v1\n", title)
	fmt.Fprintf(&b, "description: Configuration for %s.\ntype: object\nproperties:\n", title)
	if desired == salobj.StateEnabled {
		keys := append([]string(nil), components...)
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s:\n    description: Configuration override for %s.\n    type: [string, \"null\"]\n", k, k)
		}
	}
	fmt.Fprintf(&b, "  ignore:\n    description: Members to leave alone. Valid options are %s.\n", strings.Join(components, ", "))
	b.WriteString("    type: array\n    items:\n      type: string\nadditionalProperties: false\n")
	return b.String()
}

// Group returns the group the script operates on, nil before a component
// list is configured.
func (s *GroupScript) Group() Grouper { return s.group }

func (s *GroupScript) Schema() string { return s.schema }

func (s *GroupScript) Configure(_ context.Context, raw []byte) error {
	if s.bound {
		return s.configureBound(raw)
	}

	var cfg struct {
		Components []string          `yaml:"components"`
		Ignore     []string          `yaml:"ignore"`
		Overrides  map[string]string `yaml:"overrides"`
	}
	if err := script.LoadConfig(s.schema, raw, &cfg); err != nil {
		return err
	}
	comps, err := observatory.ParseComponents(cfg.Components)
	if err != nil {
		return script.AsExpected(err)
	}
	overrides := make(map[string]string, len(cfg.Overrides))
	for name, o := range cfg.Overrides {
		key, err := salobj.ComponentKeyFromName(name)
		if err != nil {
			return script.AsExpected(err)
		}
		overrides[key] = o
	}

	if s.owned == nil || !slices.Equal(s.owned.Components(), componentKeys(comps)) {
		s.closeOwned()
		s.owned = observatory.NewGroup(s.domain, s.log, comps...)
		s.group = s.owned
	}
	s.ignore = cfg.Ignore
	s.overrides = overrides
	return nil
}

// componentKeys returns the member keys of comps without duplicates, in the
// order NewGroup uses.
func componentKeys(comps []observatory.Component) []string {
	keys := make([]string, 0, len(comps))
	for _, c := range comps {
		if k := c.Key(); !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	return keys
}

func (s *GroupScript) closeOwned() {
	if err := s.Close(); err != nil {
		s.log.Warn("closing group remotes failed", "error", err)
	}
}

// Close drops the remotes of a group built from configuration. A bound
// group belongs to its caller and is left open.
func (s *GroupScript) Close() error {
	if s.owned == nil {
		return nil
	}
	err := s.owned.Close()
	s.owned = nil
	return err
}

func (s *GroupScript) configureBound(raw []byte) error {
	var cfg struct {
		Ignore    []string           `yaml:"ignore"`
		Overrides map[string]*string `yaml:",inline"`
	}
	if err := script.LoadConfig(s.schema, raw, &cfg); err != nil {
		return err
	}
	overrides := make(map[string]string)
	for key, o := range cfg.Overrides {
		if o != nil {
			overrides[key] = *o
		}
	}
	s.ignore = cfg.Ignore
	s.overrides = overrides
	return nil
}

func (s *GroupScript) SetMetadata(md *script.Metadata) {
	md.Duration = groupDuration
}

func (s *GroupScript) Run(ctx context.Context, _ script.Checkpointer) error {
	if len(s.ignore) > 0 {
		s.group.DisableChecks(s.ignore...)
	}
	var overrides map[string]string
	if s.desired == salobj.StateEnabled {
		overrides = s.overrides
	}
	return s.group.SetState(ctx, s.desired, overrides)
}
