// Package capabilities evaluates boolean expressions over the set of enabled
// capability ids.
//
// Expressions are sanitized against the allow-list [a-z0-9_:\-./&|!()] and then
// parsed by a small hand-written parser; they are never executed as code. An
// identifier is true when it is enabled and not force-disabled. Terms written
// next to each other without an operator are joined with &&.
package capabilities

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cordum/extcore/core/infra/logging"
	"github.com/cordum/extcore/core/infra/metrics"
)

// Capability is a single enabled feature with optional server attributes.
type Capability struct {
	ID         string         `json:"id" yaml:"id"`
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Set is the enabled capability set plus its force-disabled overrides.
// Reads are safe for concurrent use; writes happen through Reset and Load.
type Set struct {
	name     string
	metrics  metrics.CapabilityMetrics
	mu       sync.RWMutex
	enabled  map[string]Capability
	disabled map[string]struct{}
	cache    map[string]*Expr

	subMu  sync.Mutex
	nextID int
	subs   map[int]func()
}

// Option configures a Set.
type Option func(*Set)

// WithMetrics reports resets and compile errors.
func WithMetrics(m metrics.CapabilityMetrics) Option {
	return func(s *Set) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithName labels log lines; device trait sets use "device".
func WithName(name string) Option {
	return func(s *Set) {
		if name != "" {
			s.name = name
		}
	}
}

// NewSet returns a set with the given ids enabled.
func NewSet(ids []string, opts ...Option) *Set {
	s := &Set{
		name:     "capabilities",
		metrics:  metrics.Noop{},
		enabled:  map[string]Capability{},
		disabled: map[string]struct{}{},
		cache:    map[string]*Expr{},
		subs:     map[int]func(){},
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, id := range ids {
		if key := normalizeID(id); key != "" {
			s.enabled[key] = Capability{ID: key}
		}
	}
	return s
}

// Traits returns a set describing the current device, for Device predicates.
func Traits(traits ...string) *Set {
	return NewSet(traits, WithName("device"))
}

// Has reports whether every fragment holds. Fragments are joined with an
// implicit &&. No fragments, or only empty ones, means no constraint.
func (s *Set) Has(fragments ...string) bool {
	joined := strings.TrimSpace(strings.Join(fragments, " "))
	if joined == "" {
		return true
	}
	expr, err := s.compile(joined)
	if err != nil {
		if errors.Is(err, ErrEmptyExpression) {
			return true
		}
		s.metrics.IncExpressionErrors()
		logging.Warn(s.name, "invalid expression", "expr", joined, "err", err)
		return false
	}
	return s.Eval(expr)
}

// Eval evaluates a compiled expression against the current state.
func (s *Set) Eval(expr *Expr) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return expr.Eval(s.lookupLocked)
}

func (s *Set) lookupLocked(id string) bool {
	if _, off := s.disabled[id]; off {
		return false
	}
	_, ok := s.enabled[id]
	return ok
}

func (s *Set) compile(joined string) (*Expr, error) {
	key := Sanitize(joined)
	s.mu.RLock()
	expr, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return expr, nil
	}
	expr, err := Compile(key)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cache[key] = expr
	s.mu.Unlock()
	return expr, nil
}

// IsDisabled reports whether id is force-disabled.
func (s *Set) IsDisabled(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, off := s.disabled[normalizeID(id)]
	return off
}

// Get returns the capability record for id, if enabled.
func (s *Set) Get(id string) (Capability, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.enabled[normalizeID(id)]
	return c, ok
}

// Size returns the number of enabled capabilities.
func (s *Set) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.enabled)
}

// IDs returns the enabled ids in sorted order.
func (s *Set) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.enabled))
	for id := range s.enabled {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// OnReset subscribes fn to completed resets and returns an unsubscribe func.
func (s *Set) OnReset(fn func()) func() {
	if fn == nil {
		return func() {}
	}
	s.subMu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Reset rebuilds the set from every source, in order, and notifies OnReset
// subscribers once. If any source fails the set is left unchanged.
func (s *Set) Reset(ctx context.Context, sources ...Source) error {
	var merged Snapshot
	names := make([]string, 0, len(sources))
	for _, src := range sources {
		if src == nil {
			continue
		}
		snap, err := src.Load(ctx)
		if err != nil {
			return fmt.Errorf("load capabilities from %s: %w", src.Name(), err)
		}
		merged.Enabled = append(merged.Enabled, snap.Enabled...)
		merged.Disabled = append(merged.Disabled, snap.Disabled...)
		names = append(names, src.Name())
	}
	s.Load(merged)
	source := strings.Join(names, "+")
	if source == "" {
		source = "empty"
	}
	s.metrics.IncCapabilityResets(source)
	logging.Info(s.name, "reset", "sources", source, "enabled", s.Size())
	return nil
}

// Load replaces the state with snap and notifies subscribers once.
func (s *Set) Load(snap Snapshot) {
	enabled := make(map[string]Capability, len(snap.Enabled))
	for _, c := range snap.Enabled {
		key := normalizeID(c.ID)
		if key == "" {
			continue
		}
		c.ID = key
		if prev, ok := enabled[key]; ok && len(c.Attributes) == 0 {
			c.Attributes = prev.Attributes
		}
		enabled[key] = c
	}
	disabled := make(map[string]struct{}, len(snap.Disabled))
	for _, id := range snap.Disabled {
		if key := normalizeID(id); key != "" {
			disabled[key] = struct{}{}
		}
	}

	s.mu.Lock()
	s.enabled = enabled
	s.disabled = disabled
	s.cache = map[string]*Expr{}
	n := len(enabled)
	s.mu.Unlock()

	s.metrics.SetCapabilities(n)
	s.notify()
}

func (s *Set) notify() {
	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
