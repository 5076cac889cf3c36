// Package mediator wires application instances through ordered, one-shot
// setup steps registered per application name.
package mediator

import (
	"fmt"
	"sync"

	"github.com/cordum/extcore/core/ext"
	"github.com/cordum/extcore/core/infra/logging"
	"github.com/google/uuid"
)

// indexStep is the default spacing between steps registered without an index.
const indexStep = 100

// Step is one unit of wiring. Setup may assume every lower-indexed step of
// the same application has already run.
type Step struct {
	ID    string
	Index int
	Setup func(app *App) error
}

// App is one application instance.
type App struct {
	ID   string
	Name string

	m        *Mediator
	mu       sync.Mutex
	values   map[string]any
	mediated bool
}

// Set stores a value shared between steps.
func (a *App) Set(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[key] = value
}

// Get returns a value stored with Set.
func (a *App) Get(key string) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.values[key]
	return v, ok
}

// Mediated reports whether Mediate has started for this instance.
func (a *App) Mediated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mediated
}

// Mediate runs the registered steps for this app; see Mediator.Mediate.
func (a *App) Mediate() *ext.ResultSet {
	return a.m.Mediate(a)
}

// Mediator stores steps as setup extensions of the point named after the
// application, so ordering and failure isolation follow ext.Point.
type Mediator struct {
	reg  *ext.Registry
	mu   sync.Mutex
	next map[string]int
}

// New returns a mediator over reg.
func New(reg *ext.Registry) *Mediator {
	return &Mediator{reg: reg, next: map[string]int{}}
}

// NewApp creates an instance of the named application.
func (m *Mediator) NewApp(name string) *App {
	return &App{ID: uuid.NewString(), Name: name, m: m, values: map[string]any{}}
}

// Register adds steps for the named application. Steps with ext.AutoIndex get
// an index that increases by 100 per step in registration order. A step id already
// registered for name is ignored.
func (m *Mediator) Register(name string, steps ...Step) error {
	exts := make([]ext.Extension, 0, len(steps))
	m.mu.Lock()
	for _, step := range steps {
		if step.Setup == nil {
			m.mu.Unlock()
			return fmt.Errorf("mediator %s: step %q has no setup", name, step.ID)
		}
		m.next[name] += indexStep
		index := step.Index
		if index == ext.AutoIndex {
			index = m.next[name]
		}
		id := step.ID
		if id == "" {
			id = fmt.Sprintf("step-%d", m.next[name]/indexStep)
		}
		setup := step.Setup
		exts = append(exts, ext.Extension{
			ID:    id,
			Index: index,
			Handlers: map[ext.Kind]ext.Handler{
				ext.KindSetup: func(_ *ext.Node, b *ext.Baton) error {
					app, ok := b.App.(*App)
					if !ok {
						return fmt.Errorf("step %s: baton carries no app", id)
					}
					return setup(app)
				},
			},
		})
	}
	m.mu.Unlock()
	return m.reg.Point(name).Require(ext.KindSetup).Extend(exts...)
}

// Steps returns the step ids registered for name in execution order.
func (m *Mediator) Steps(name string) []string {
	return m.reg.Point(name).Keys()
}

// Mediate runs every step registered for app.Name in index order, once per
// app. Later calls, including re-entrant ones from a step, return nil. A
// failing step is logged and the remaining steps still run.
func (m *Mediator) Mediate(app *App) *ext.ResultSet {
	if app == nil {
		return nil
	}
	app.mu.Lock()
	if app.mediated {
		app.mu.Unlock()
		return nil
	}
	app.mediated = true
	app.mu.Unlock()

	b := ext.NewBaton(ext.Options{App: app})
	rs := m.reg.Point(app.Name).Invoke(ext.KindSetup, ext.NewNode(app.Name), b)
	if err := rs.Errors(); err != nil {
		logging.Warn("mediator", "partial wiring", "app", app.Name, "id", app.ID, "err", err)
	} else {
		logging.Debug("mediator", "mediated", "app", app.Name, "id", app.ID, "steps", rs.Count())
	}
	return rs
}
