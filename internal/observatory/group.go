package observatory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
	"github.com/lsst-ts/ts-standardscripts/internal/salobj"
)

// Default timeouts for group operations.
const (
	FastTimeout     = 5 * time.Second
	LongTimeout     = 30 * time.Second
	LongLongTimeout = 120 * time.Second
)

// Component names one member of a group.
type Component struct {
	Name  string
	Index int
}

// Key returns the member key, e.g. "mthexapod_1".
func (c Component) Key() string {
	return salobj.ComponentKey(c.Name, c.Index)
}

func (c Component) String() string {
	if c.Index == 0 {
		return c.Name
	}
	return fmt.Sprintf("%s:%d", c.Name, c.Index)
}

// ParseComponents converts "Name[:index]" strings to components.
func ParseComponents(names []string) ([]Component, error) {
	out := make([]Component, 0, len(names))
	for _, n := range names {
		name, index, err := salobj.NameToNameIndex(n)
		if err != nil {
			return nil, err
		}
		out = append(out, Component{Name: name, Index: index})
	}
	return out, nil
}

// Group is a set of remotes operated together.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Group struct {
	domain  *salobj.Domain
	log     *logging.Logger
	keys    []string
	remotes map[string]*salobj.Remote

	mu     sync.Mutex
	checks map[string]bool
}

// NewGroup creates a group with checks enabled for every component.
func NewGroup(domain *salobj.Domain, log *logging.Logger, components ...Component) *Group {
	if log == nil {
		log = logging.Discard()
	}
	g := &Group{
		domain:  domain,
		log:     log,
		remotes: make(map[string]*salobj.Remote, len(components)),
		checks:  make(map[string]bool, len(components)),
	}
	for _, c := range components {
		key := c.Key()
		if _, dup := g.remotes[key]; dup {
			continue
		}
		g.keys = append(g.keys, key)
		g.remotes[key] = salobj.NewRemote(domain, c.Name, c.Index)
		g.checks[key] = true
	}
	return g
}

// Components returns the member keys in construction order.
func (g *Group) Components() []string {
	return append([]string(nil), g.keys...)
}

// Remote returns the remote for key, or nil.
func (g *Group) Remote(key string) *salobj.Remote {
	return g.remotes[key]
}

// DisableChecks excludes components from group-wide operations. Names may be
// keys ("mthexapod_1") or "Name[:index]" ("MTHexapod:1"). Names that are not
// members are logged and skipped.
func (g *Group) DisableChecks(names ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var unknown []string
	for _, n := range names {
		key, ok := g.memberKey(n)
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		g.checks[key] = false
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		g.log.Warn("ignoring components that are not part of the group", "components", unknown, "group", g.keys)
	}
}

// memberKey resolves a member key ("mthexapod_1") or a "Name[:index]"
// ("MTHexapod:1") to the key of a member. Callers hold g.mu.
func (g *Group) memberKey(name string) (string, bool) {
	if _, ok := g.checks[name]; ok {
		return name, true
	}
	key, err := salobj.ComponentKeyFromName(name)
	if err != nil {
		return "", false
	}
	_, ok := g.checks[key]
	return key, ok
}

// Checked returns the keys of the components that take part in group-wide
// operations.
func (g *Group) Checked() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, k := range g.keys {
		if g.checks[k] {
			out = append(out, k)
		}
	}
	return out
}

// AssertLiveliness waits for a fresh heartbeat from every checked component.
func (g *Group) AssertLiveliness(ctx context.Context) error {
	return g.forEachChecked(ctx, func(ctx context.Context, r *salobj.Remote) error {
		if err := salobj.AssertLiveliness(ctx, r, salobj.HeartbeatInterval); err != nil {
			return fmt.Errorf("%w: %w", ErrNoHeartbeat, err)
		}
		return nil
	})
}

// AssertAllEnabled fails unless every checked component is ENABLED.
func (g *Group) AssertAllEnabled(ctx context.Context) error {
	return g.forEachChecked(ctx, func(ctx context.Context, r *salobj.Remote) error {
		return AssertEnabled(ctx, r)
	})
}

// AssertEnabled fails unless r reports ENABLED.
func AssertEnabled(ctx context.Context, r *salobj.Remote) error {
	state, err := salobj.SummaryState(ctx, r, FastTimeout)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNotEnabled, r, err)
	}
	if state != salobj.StateEnabled {
		return fmt.Errorf("%w: %s is in %s", ErrNotEnabled, r, state)
	}
	return nil
}

// SetState moves every checked component to desired concurrently. overrides
// maps member keys to the configuration override sent with start.
func (g *Group) SetState(ctx context.Context, desired salobj.State, overrides map[string]string) error {
	g.log.Info("setting group state", "state", desired.String(), "components", g.Checked())
	return g.forEachChecked(ctx, func(ctx context.Context, r *salobj.Remote) error {
		states, err := salobj.SetSummaryState(ctx, r, desired, overrides[r.Key()], LongTimeout)
		if err != nil {
			return err
		}
		g.log.Debug("component state set", "component", r.String(), "states", states)
		return nil
	})
}

// Enable moves the checked components to ENABLED.
func (g *Group) Enable(ctx context.Context, overrides map[string]string) error {
	return g.SetState(ctx, salobj.StateEnabled, overrides)
}

// Standby moves the checked components to STANDBY.
func (g *Group) Standby(ctx context.Context) error {
	return g.SetState(ctx, salobj.StateStandby, nil)
}

// Offline moves the checked components to OFFLINE.
func (g *Group) Offline(ctx context.Context) error {
	return g.SetState(ctx, salobj.StateOffline, nil)
}

// Close drops the subscriptions of every remote.
func (g *Group) Close() error {
	var errs []error
	for _, k := range g.keys {
		if err := g.remotes[k].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// forEachChecked runs fn for every checked component concurrently and joins
// the errors. Unlike errgroup's first-error semantics, every component runs to
// completion so the caller sees all failures.
func (g *Group) forEachChecked(ctx context.Context, fn func(context.Context, *salobj.Remote) error) error {
	keys := g.Checked()
	errs := make([]error, len(keys))
	var eg errgroup.Group
	for i, k := range keys {
		r := g.remotes[k]
		eg.Go(func() error {
			errs[i] = fn(ctx, r)
			return nil
		})
	}
	_ = eg.Wait()
	return errors.Join(errs...)
}

// command sends cmd to the member key and waits for completion.
func (g *Group) command(ctx context.Context, key, cmd string, fields salobj.Fields, timeout time.Duration) error {
	r := g.remotes[key]
	if r == nil {
		return fmt.Errorf("%w: %s", ErrUnknownComponent, key)
	}
	_, err := r.Command(cmd).SetStart(ctx, fields, timeout)
	return err
}

// waitEvent waits until the member's event satisfies match.
func (g *Group) waitEvent(ctx context.Context, key, event string, timeout time.Duration, match func(salobj.Sample) bool) error {
	r := g.remotes[key]
	if r == nil {
		return fmt.Errorf("%w: %s", ErrUnknownComponent, key)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := salobj.WaitFor(ctx, r.Event(event), timeout, match); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s.%s did not reach the expected value in %v", salobj.ErrTimeout, r, event, timeout)
		}
		return err
	}
	return nil
}

func fieldEquals(key string, want any) func(salobj.Sample) bool {
	return func(s salobj.Sample) bool {
		v, ok := s.Data[key]
		if !ok {
			return false
		}
		switch w := want.(type) {
		case int:
			n, err := s.Int(key)
			return err == nil && n == w
		default:
			return v == want
		}
	}
}
