package actions

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cordum/extcore/core/events"
	"github.com/cordum/extcore/core/ext"
	"github.com/cordum/extcore/core/infra/logging"
	"github.com/cordum/extcore/core/infra/metrics"
	"github.com/cordum/extcore/core/loop"
	"golang.org/x/sync/errgroup"
)

// Resolver events. Ready is also emitted as "ready:<fingerprint>".
const (
	EventRender = "render"
	EventReady  = "ready"
)

// ReadyEvent returns the fingerprint-specific ready event name.
func ReadyEvent(fingerprint string) string {
	return EventReady + ":" + fingerprint
}

// State is the resolver's position in a resolution pass.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateReady
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateReady:
		return "ready"
	}
	return "idle"
}

// Resolved is the applicable subset of a link-point for one selection.
type Resolved struct {
	Fingerprint string
	Selection   Selection
	// Links holds every applicable link in point order.
	Links    []Link
	Primary  []Link
	Overflow map[string][]Link
	// Pending lists link ids still waiting on MatchesAsync; empty once Final.
	Pending []string
	Final   bool
}

// Sections returns the overflow section names, sorted.
func (r Resolved) Sections() []string {
	out := make([]string, 0, len(r.Overflow))
	for s := range r.Overflow {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Has reports whether the action of id is among the resolved links.
func (r Resolved) Has(action string) bool {
	for _, l := range r.Links {
		if l.Action == action {
			return true
		}
	}
	return false
}

// ResolverConfig wires a Resolver.
type ResolverConfig struct {
	Points  *ext.Registry
	Actions *Registry
	Loop    *loop.Loop
	// Point is the link-point whose links are resolved.
	Point string
	// Baton supplies App and View for the batons built per selection.
	Baton   ext.Options
	Metrics metrics.Metrics
	// Resets, when set, re-resolves the current selection after every
	// completed capability reset. *capabilities.Set satisfies it.
	Resets ResetNotifier
}

// ResetNotifier reports completed capability resets.
type ResetNotifier interface {
	OnReset(fn func()) func()
}

// Resolver computes the applicable links of a point for the current
// selection. SetSelection and every event handler run on the loop. Each
// SetSelection starts a new generation; results of older generations are
// discarded.
type Resolver struct {
	cfg    ResolverConfig
	events *events.Emitter

	mu       sync.Mutex
	gen      uint64
	cancel   context.CancelFunc
	state    State
	resolved Resolved
	unsub    func()
}

// NewResolver validates cfg and returns an idle resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Points == nil || cfg.Actions == nil || cfg.Loop == nil {
		return nil, errors.New("resolver requires points, actions and loop")
	}
	if cfg.Point == "" {
		return nil, errors.New("resolver requires a link point")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop{}
	}
	r := &Resolver{cfg: cfg, events: events.NewEmitter()}
	if cfg.Resets != nil {
		r.unsub = cfg.Resets.OnReset(func() { cfg.Loop.Post(r.reselect) })
	}
	return r, nil
}

// reselect resolves the current selection again. An idle resolver has no
// selection to refresh.
func (r *Resolver) reselect() {
	r.mu.Lock()
	idle := r.state == StateIdle
	selection := r.resolved.Selection
	r.mu.Unlock()
	if idle {
		return
	}
	logging.Debug("actions", "capabilities reset, resolving again", "point", r.cfg.Point)
	r.SetSelection(selection)
}

// On subscribes to a resolver event. The payload is a Resolved.
func (r *Resolver) On(name string, fn func(Resolved)) func() {
	return r.events.On(name, wrap(fn))
}

// Once subscribes for a single delivery.
func (r *Resolver) Once(name string, fn func(Resolved)) func() {
	return r.events.Once(name, wrap(fn))
}

// Off removes every subscriber of name.
func (r *Resolver) Off(name string) {
	r.events.Off(name)
}

func wrap(fn func(Resolved)) events.Handler {
	if fn == nil {
		return nil
	}
	return func(_ string, payload any) {
		if res, ok := payload.(Resolved); ok {
			fn(res)
		}
	}
}

// State returns the current state.
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Fingerprint returns the fingerprint of the latest selection.
func (r *Resolver) Fingerprint() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved.Fingerprint
}

// Resolved returns the latest (possibly partial) resolution.
func (r *Resolver) Resolved() Resolved {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved
}

type pendingLink struct {
	pos    int
	link   Link
	action Action
}

// SetSelection resolves the point for cids. When every predicate is
// synchronous, render, ready and ready:<fingerprint> are emitted before it
// returns. Otherwise a partial render is emitted now and the asynchronous
// predicates run off the loop; the final events follow once all of them
// settle, unless another SetSelection happened in between.
func (r *Resolver) SetSelection(cids []string) {
	started := time.Now()
	selection := append(Selection(nil), cids...)
	fp := Fingerprint(selection)

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.gen++
	gen := r.gen
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.state = StateResolving
	r.mu.Unlock()

	b := ext.NewBaton(ext.Options{Data: selection, App: r.cfg.Baton.App, View: r.cfg.Baton.View})
	links, verdicts, pending := r.evaluate(b)

	if len(pending) == 0 {
		cancel()
		res := r.compose(fp, selection, links, verdicts, nil)
		r.finish(gen, res, started, metrics.OutcomeSync)
		return
	}

	partial := r.compose(fp, selection, links, verdicts, pending)
	r.mu.Lock()
	r.resolved = partial
	r.mu.Unlock()
	r.events.Trigger(EventRender, partial)

	r.spawn(ctx, gen, b, pending, func(results []bool) {
		for i, p := range pending {
			if results[i] {
				verdicts[p.pos] = Allowed
			} else {
				verdicts[p.pos] = Denied
			}
		}
		res := r.compose(fp, selection, links, verdicts, nil)
		r.finish(gen, res, started, metrics.OutcomeAsync)
	})
}

// evaluate returns the gated links of the point with the synchronous verdict
// of each, and the links that wait on MatchesAsync.
func (r *Resolver) evaluate(b *ext.Baton) ([]Link, []Verdict, []pendingLink) {
	var links []Link
	var verdicts []Verdict
	var pending []pendingLink
	for _, e := range r.cfg.Points.Point(r.cfg.Point).Active(b) {
		link, ok := LinkOf(e)
		if !ok {
			continue
		}
		a, ok := r.cfg.Actions.Get(link.Action)
		if !ok {
			logging.Warn("actions", "link references unknown action", "point", r.cfg.Point, "link", link.ID, "action", link.Action)
			continue
		}
		v := r.cfg.Actions.evaluate(a, b)
		if v == Pending {
			pending = append(pending, pendingLink{pos: len(links), link: link, action: a})
		}
		links = append(links, link)
		verdicts = append(verdicts, v)
	}
	return links, verdicts, pending
}

// spawn runs the pending predicates concurrently and posts their results
// back to the loop as one settlement.
func (r *Resolver) spawn(ctx context.Context, gen uint64, b *ext.Baton, pending []pendingLink, then func([]bool)) {
	loop.Spawn(r.cfg.Loop, func() []bool {
		results := make([]bool, len(pending))
		g, gctx := errgroup.WithContext(ctx)
		for i, p := range pending {
			g.Go(func() error {
				results[i] = r.cfg.Actions.matchesAsync(gctx, p.action, b)
				return nil
			})
		}
		_ = g.Wait()
		return results
	}, func(results []bool) {
		if !r.current(gen) {
			r.cfg.Metrics.IncResolutions(r.cfg.Point, metrics.OutcomeStale)
			logging.Debug("actions", "stale resolution dropped", "point", r.cfg.Point, "generation", gen)
			return
		}
		then(results)
	})
}

func (r *Resolver) current(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return gen == r.gen
}

func (r *Resolver) compose(fp string, selection Selection, links []Link, verdicts []Verdict, pending []pendingLink) Resolved {
	res := Resolved{
		Fingerprint: fp,
		Selection:   selection,
		Overflow:    map[string][]Link{},
		Final:       pending == nil,
	}
	for _, p := range pending {
		res.Pending = append(res.Pending, p.link.ID)
	}
	for i, l := range links {
		if verdicts[i] != Allowed {
			continue
		}
		res.Links = append(res.Links, l)
		if l.Primary() {
			res.Primary = append(res.Primary, l)
		} else {
			res.Overflow[l.section()] = append(res.Overflow[l.section()], l)
		}
	}
	return res
}

func (r *Resolver) finish(gen uint64, res Resolved, started time.Time, outcome string) {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.state = StateReady
	r.resolved = res
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()

	r.cfg.Metrics.IncResolutions(r.cfg.Point, outcome)
	r.cfg.Metrics.ObserveResolution(r.cfg.Point, time.Since(started).Seconds())
	r.events.Trigger(EventRender, res)
	r.events.Trigger(EventReady, res)
	r.events.Trigger(ReadyEvent(res.Fingerprint), res)
}

// Draw renders the latest resolution into node: primary links under a
// "primary" child and overflow links under one "overflow" child per section.
// Links that did not resolve are hidden by id on the draw baton.
func (r *Resolver) Draw(node *ext.Node) *ext.Node {
	res := r.Resolved()
	if node == nil {
		node = ext.NewNode("toolbar")
	}
	node.SetAttr("data-fingerprint", res.Fingerprint)
	p := r.cfg.Points.Point(r.cfg.Point)

	primary := ext.NewNode("primary")
	r.drawInto(p, primary, res.Selection, res.Primary)
	node.Append(primary)
	for _, section := range res.Sections() {
		overflow := ext.NewNode("overflow").SetAttr("data-section", section)
		r.drawInto(p, overflow, res.Selection, res.Overflow[section])
		node.Append(overflow)
	}
	return node
}

func (r *Resolver) drawInto(p *ext.Point, node *ext.Node, selection Selection, keep []Link) {
	allowed := make(map[string]bool, len(keep))
	for _, l := range keep {
		allowed[l.ID] = true
	}
	b := ext.NewBaton(ext.Options{Data: selection, App: r.cfg.Baton.App, View: r.cfg.Baton.View})
	for _, id := range p.Keys() {
		if !allowed[id] {
			b.DisableExtension(p.ID(), id)
		}
	}
	p.Invoke(ext.KindDraw, node, b)
}

// Close cancels outstanding predicates, stops following capability resets
// and returns the resolver to idle.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
	r.gen++
	r.state = StateIdle
}
