package actions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cordum/extcore/core/ext"
	"github.com/cordum/extcore/core/infra/logging"
	"github.com/cordum/extcore/core/infra/metrics"
)

// Gate evaluates capability and device expressions. *ext.Registry
// implements it.
type Gate interface {
	Allowed(caps, device string) bool
}

// Registry holds actions by id. Registering an id again replaces it.
type Registry struct {
	gate    Gate
	metrics metrics.Metrics

	mu      sync.RWMutex
	actions map[string]Action
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics records predicate failures.
func WithMetrics(m metrics.Metrics) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewRegistry returns an empty registry. A nil gate allows every
// capability and device expression.
func NewRegistry(gate Gate, opts ...Option) *Registry {
	r := &Registry{gate: gate, metrics: metrics.Noop{}, actions: map[string]Action{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces an action.
func (r *Registry) Register(a Action) error {
	if a.ID == "" {
		return fmt.Errorf("%w: id required", ErrInvalidAction)
	}
	if a.CollectionFunc == nil && !ValidCollection(a.Collection) {
		return fmt.Errorf("%w: %s: unknown collection %q", ErrInvalidAction, a.ID, a.Collection)
	}
	r.mu.Lock()
	_, replaced := r.actions[a.ID]
	r.actions[a.ID] = a
	r.mu.Unlock()
	if replaced {
		logging.Debug("actions", "action replaced", "id", a.ID)
	}
	return nil
}

// Get returns the action registered under id.
func (r *Registry) Get(id string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[id]
	return a, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// IDs returns the registered ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.actions))
	for id := range r.actions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Evaluate runs the synchronous checks of id in order: capabilities,
// device, collection, Matches. It returns Pending when they pass and the
// action has MatchesAsync.
func (r *Registry) Evaluate(id string, b *ext.Baton) Verdict {
	a, ok := r.Get(id)
	if !ok {
		return Denied
	}
	return r.evaluate(a, b)
}

func (r *Registry) evaluate(a Action, b *ext.Baton) Verdict {
	if r.gate != nil && !r.gate.Allowed(a.Capabilities, a.Device) {
		return Denied
	}
	if !a.collectionAllows(len(SelectionOf(b))) {
		return Denied
	}
	if a.Matches != nil && !r.matches(a, b) {
		return Denied
	}
	if a.MatchesAsync != nil {
		return Pending
	}
	return Allowed
}

func (r *Registry) matches(a Action, b *ext.Baton) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.IncActionFailures(a.ID)
			logging.Warn("actions", "matches panicked", "id", a.ID, "panic", fmt.Sprint(rec))
			ok = false
		}
	}()
	return a.Matches(b)
}

// matchesAsync runs MatchesAsync; errors and panics fail closed.
func (r *Registry) matchesAsync(ctx context.Context, a Action, b *ext.Baton) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.IncActionFailures(a.ID)
			logging.Warn("actions", "async matches panicked", "id", a.ID, "panic", fmt.Sprint(rec))
			ok = false
		}
	}()
	ok, err := a.MatchesAsync(ctx, b)
	if err != nil {
		if ctx.Err() == nil {
			r.metrics.IncActionFailures(a.ID)
			logging.Warn("actions", "async matches failed", "id", a.ID, "err", err)
		}
		return false
	}
	return ok
}

// Check reports whether id is eligible for b, waiting for MatchesAsync.
func (r *Registry) Check(ctx context.Context, id string, b *ext.Baton) bool {
	a, ok := r.Get(id)
	if !ok {
		return false
	}
	return r.check(ctx, a, b)
}

func (r *Registry) check(ctx context.Context, a Action, b *ext.Baton) bool {
	switch r.evaluate(a, b) {
	case Allowed:
		return true
	case Pending:
		return r.matchesAsync(ctx, a, b)
	}
	return false
}

// Invoke performs id when it is eligible for b and reports whether it ran.
// Ineligibility is not an error; a failing Perform is.
func (r *Registry) Invoke(ctx context.Context, id string, b *ext.Baton) (bool, error) {
	a, ok := r.Get(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownAction, id)
	}
	b = ext.Ensure(b)
	if !r.check(ctx, a, b) {
		logging.Debug("actions", "action not applicable", "id", id)
		return false, nil
	}
	if a.Perform == nil {
		return true, nil
	}
	if err := r.perform(a, b); err != nil {
		return true, fmt.Errorf("perform %s: %w", id, err)
	}
	return true, nil
}

func (r *Registry) perform(a Action, b *ext.Baton) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return a.Perform(b)
}
