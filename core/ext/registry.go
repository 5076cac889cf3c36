package ext

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/cordum/extcore/core/capabilities"
	"github.com/cordum/extcore/core/infra/logging"
	"github.com/cordum/extcore/core/infra/metrics"
)

// Registry owns the points of one application root.
type Registry struct {
	mu      sync.RWMutex
	points  map[string]*Point
	caps    *capabilities.Set
	device  *capabilities.Set
	metrics metrics.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithCapabilities gates extensions on their Capabilities expression.
func WithCapabilities(set *capabilities.Set) Option {
	return func(r *Registry) { r.caps = set }
}

// WithDevice gates extensions on their Device expression.
func WithDevice(set *capabilities.Set) Option {
	return func(r *Registry) { r.device = set }
}

// WithMetrics records invocations and handler failures.
func WithMetrics(m metrics.Metrics) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewRegistry returns an empty registry. Without WithCapabilities or
// WithDevice every expression of that kind passes.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{points: map[string]*Point{}, metrics: metrics.Noop{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Point returns the point with id, creating it on first use.
func (r *Registry) Point(id string) *Point {
	r.mu.RLock()
	p, ok := r.points[id]
	r.mu.RUnlock()
	if ok {
		return p
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.points[id]; ok {
		return p
	}
	p = &Point{id: id, reg: r, byID: map[string]int{}, disabled: map[string]bool{}}
	r.points[id] = p
	return p
}

// Points returns the ids of every point created so far, sorted.
func (r *Registry) Points() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.points))
	for id := range r.points {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Capabilities returns the capability set used for gating, which may be nil.
func (r *Registry) Capabilities() *capabilities.Set { return r.caps }

// Device returns the device trait set used for gating, which may be nil.
func (r *Registry) Device() *capabilities.Set { return r.device }

// Metrics returns the registry's metrics sink.
func (r *Registry) Metrics() metrics.Metrics { return r.metrics }

// Allowed evaluates a capability and a device expression.
func (r *Registry) Allowed(caps, device string) bool {
	if caps != "" && r.caps != nil && !r.caps.Has(caps) {
		return false
	}
	if device != "" && r.device != nil && !r.device.Has(device) {
		return false
	}
	return true
}

// Point is an ordered collection of extensions. Extensions are only added;
// Disable hides one without removing it.
type Point struct {
	id  string
	reg *Registry

	mu       sync.RWMutex
	exts     []Extension
	byID     map[string]int
	required []Kind
	disabled map[string]bool
	sorted   []Extension
}

// ID returns the point id.
func (p *Point) ID() string { return p.id }

// Require declares the handler kinds every extension must implement.
// Extensions already registered are not re-checked.
func (p *Point) Require(kinds ...Kind) *Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range kinds {
		if !containsKind(p.required, k) {
			p.required = append(p.required, k)
		}
	}
	return p
}

// Required returns the declared handler kinds.
func (p *Point) Required() []Kind {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Kind(nil), p.required...)
}

// Extend registers extensions. An id already present is ignored, so repeated
// module loads do not double-register. Extensions missing a required handler
// are rejected; the others are still added.
func (p *Point) Extend(exts ...Extension) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for _, e := range exts {
		if e.ID == "" {
			e.ID = fmt.Sprintf("%s.%d", p.id, len(p.exts)+1)
		}
		if _, dup := p.byID[e.ID]; dup {
			logging.Debug("ext", "duplicate extension ignored", "point", p.id, "id", e.ID)
			continue
		}
		if missing := e.missing(p.required); len(missing) > 0 {
			errs = append(errs, fmt.Errorf("%w: %s/%s lacks %s", ErrMissingHandler, p.id, e.ID, strings.Join(missing, ", ")))
			continue
		}
		if e.Index == AutoIndex {
			e.Index = (len(p.exts) + 1) * autoIndexStep
		}
		p.byID[e.ID] = len(p.exts)
		p.exts = append(p.exts, e.clone())
	}
	p.sorted = nil
	return errors.Join(errs...)
}

// Replace patches a registered extension in place; the last patch wins.
func (p *Point) Replace(id string, patch func(*Extension)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownExtension, p.id, id)
	}
	e := p.exts[i].clone()
	patch(&e)
	e.ID = id
	p.exts[i] = e
	p.sorted = nil
	return nil
}

// Disable hides id from List and Invoke until Enable.
func (p *Point) Disable(id string) {
	p.mu.Lock()
	p.disabled[id] = true
	p.mu.Unlock()
}

// Enable reverses Disable.
func (p *Point) Enable(id string) {
	p.mu.Lock()
	delete(p.disabled, id)
	p.mu.Unlock()
}

// Has reports whether id is registered.
func (p *Point) Has(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byID[id]
	return ok
}

// Get returns the registered extension with id.
func (p *Point) Get(id string) (Extension, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	i, ok := p.byID[id]
	if !ok {
		return Extension{}, false
	}
	return p.exts[i].clone(), true
}

// Count returns the number of registered extensions, disabled included.
func (p *Point) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.exts)
}

// Keys returns the ids of List, in order.
func (p *Point) Keys() []string {
	list := p.List()
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, e.ID)
	}
	return out
}

// List returns the ordered extensions, excluding point-disabled ids. Gating
// is not applied; see Active.
func (p *Point) List() []Extension {
	p.mu.Lock()
	if p.sorted == nil {
		sorted, err := order(p.exts)
		if err != nil {
			logging.Warn("ext", "ordering constraints ignored", "point", p.id, "err", err)
		}
		p.sorted = sorted
	}
	out := make([]Extension, 0, len(p.sorted))
	for _, e := range p.sorted {
		if !p.disabled[e.ID] {
			out = append(out, e)
		}
	}
	p.mu.Unlock()
	return out
}

// Each calls fn for every extension of List until fn returns false.
func (p *Point) Each(fn func(Extension) bool) {
	for _, e := range p.List() {
		if !fn(e) {
			return
		}
	}
}

// Active returns the extensions of List that pass capability and device
// gating and are not disabled on b. b may be nil.
func (p *Point) Active(b *Baton) []Extension {
	var out []Extension
	for _, e := range p.List() {
		if b != nil && b.skips(p.id, e) {
			continue
		}
		if p.reg.Allowed(e.Capabilities, e.Device) {
			out = append(out, e)
		}
	}
	return out
}

// Invoke calls the kind handler of every active extension in order. Gating is
// evaluated fresh on each call. Disable and StopPropagation raised on b during
// the call affect only the remaining extensions of this call. A failing or
// panicking handler is logged and recorded; the others still run.
func (p *Point) Invoke(kind Kind, node *Node, b *Baton) *ResultSet {
	if b == nil {
		b = NewBaton(Options{})
	}
	if node == nil {
		node = NewNode(p.id)
	}
	state := b.save()
	defer b.restore(state)

	p.reg.metrics.IncInvocations(p.id)
	rs := &ResultSet{Point: p.id, Kind: kind}
	for _, e := range p.List() {
		h := e.Handlers[kind]
		if h == nil {
			continue
		}
		if b.skips(p.id, e) {
			continue
		}
		if !p.reg.Allowed(e.Capabilities, e.Device) {
			continue
		}
		b.group = e.Group
		err := p.call(h, node, b)
		if err != nil {
			p.reg.metrics.IncExtensionFailures(p.id)
			logging.Error("ext", "extension failed", "point", p.id, "id", e.ID, "kind", string(kind), "err", err)
		}
		rs.Results = append(rs.Results, Result{ID: e.ID, Err: err})
	}
	return rs
}

func (p *Point) call(h Handler, node *Node, b *Baton) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Debug("ext", "extension panic stack", "point", p.id, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(node, b)
}

func containsKind(list []Kind, k Kind) bool {
	for _, v := range list {
		if v == k {
			return true
		}
	}
	return false
}
