// Package manifest applies a declarative YAML manifest to extension and
// action registries. The manifest names behaviour; Go code supplies it
// through a Handlers table.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cordum/extcore/core/actions"
	"github.com/cordum/extcore/core/ext"
	"github.com/cordum/extcore/core/infra/config"
	"github.com/cordum/extcore/core/infra/logging"
)

// ErrUnknownHandler is returned when a manifest names a handler that was
// not registered in the Handlers table.
var ErrUnknownHandler = errors.New("unknown handler")

// Handlers maps manifest handler names to Go functions.
type Handlers struct {
	extensions   map[string]ext.Handler
	matches      map[string]func(*ext.Baton) bool
	matchesAsync map[string]func(context.Context, *ext.Baton) (bool, error)
	perform      map[string]func(*ext.Baton) error
}

// NewHandlers returns an empty table.
func NewHandlers() *Handlers {
	return &Handlers{
		extensions:   map[string]ext.Handler{},
		matches:      map[string]func(*ext.Baton) bool{},
		matchesAsync: map[string]func(context.Context, *ext.Baton) (bool, error){},
		perform:      map[string]func(*ext.Baton) error{},
	}
}

// Extension registers an extension handler under name.
func (h *Handlers) Extension(name string, fn ext.Handler) *Handlers {
	h.extensions[name] = fn
	return h
}

// Matches registers a synchronous action predicate.
func (h *Handlers) Matches(name string, fn func(*ext.Baton) bool) *Handlers {
	h.matches[name] = fn
	return h
}

// MatchesAsync registers an asynchronous action predicate.
func (h *Handlers) MatchesAsync(name string, fn func(context.Context, *ext.Baton) (bool, error)) *Handlers {
	h.matchesAsync[name] = fn
	return h
}

// Perform registers an action body.
func (h *Handlers) Perform(name string, fn func(*ext.Baton) error) *Handlers {
	h.perform[name] = fn
	return h
}

// Summary counts what Apply registered.
type Summary struct {
	Points     int
	Extensions int
	Links      int
	Actions    int
}

// Load reads the manifest at path and applies it.
func Load(path string, points *ext.Registry, acts *actions.Registry, h *Handlers) (Summary, error) {
	m, err := config.LoadManifest(path)
	if err != nil {
		return Summary{}, err
	}
	return Apply(m, points, acts, h)
}

// Apply registers actions, point extensions and links from m. Entries that
// reference unknown handlers are skipped and reported; the rest are applied.
func Apply(m *config.Manifest, points *ext.Registry, acts *actions.Registry, h *Handlers) (Summary, error) {
	var sum Summary
	if m == nil {
		return sum, nil
	}
	if h == nil {
		h = NewHandlers()
	}
	var errs []error

	for _, spec := range m.Actions {
		a, err := h.action(spec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := acts.Register(a); err != nil {
			errs = append(errs, err)
			continue
		}
		sum.Actions++
	}

	for _, spec := range m.Points {
		p := points.Point(spec.ID)
		for _, raw := range spec.Require {
			kind, err := ext.ParseKind(raw)
			if err != nil {
				errs = append(errs, fmt.Errorf("point %s: %w", spec.ID, err))
				continue
			}
			p.Require(kind)
		}
		sum.Points++
		for _, es := range spec.Extensions {
			e, err := h.extension(spec.ID, es)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if err := p.Extend(e); err != nil {
				errs = append(errs, err)
				continue
			}
			sum.Extensions++
		}
	}

	pointIDs := make([]string, 0, len(m.Links))
	for id := range m.Links {
		pointIDs = append(pointIDs, id)
	}
	sort.Strings(pointIDs)
	for _, pointID := range pointIDs {
		for _, ls := range m.Links[pointID] {
			link, err := linkFromSpec(ls)
			if err != nil {
				errs = append(errs, fmt.Errorf("link %s/%s: %w", pointID, ls.ID, err))
				continue
			}
			if err := actions.ExtendLinks(points, pointID, link); err != nil {
				errs = append(errs, err)
				continue
			}
			if !acts.Has(link.Action) {
				logging.Warn("manifest", "link references unregistered action", "point", pointID, "link", link.ID, "action", link.Action)
			}
			sum.Links++
		}
	}

	logging.Info("manifest", "applied", "points", sum.Points, "extensions", sum.Extensions, "links", sum.Links, "actions", sum.Actions)
	return sum, errors.Join(errs...)
}

func (h *Handlers) extension(pointID string, spec config.ExtensionSpec) (ext.Extension, error) {
	e := ext.Extension{
		ID:           spec.ID,
		Before:       spec.Before,
		After:        spec.After,
		Group:        spec.Group,
		Capabilities: spec.Capabilities,
		Device:       spec.Device,
		Index:        ext.AutoIndex,
		Handlers:     map[ext.Kind]ext.Handler{},
	}
	if spec.Index != nil {
		e.Index = *spec.Index
	}
	for rawKind, name := range spec.Handlers {
		kind, err := ext.ParseKind(rawKind)
		if err != nil {
			return ext.Extension{}, fmt.Errorf("extension %s/%s: %w", pointID, spec.ID, err)
		}
		fn, ok := h.extensions[name]
		if !ok {
			return ext.Extension{}, fmt.Errorf("%w: extension %s/%s %s=%s", ErrUnknownHandler, pointID, spec.ID, kind, name)
		}
		e.Handlers[kind] = fn
	}
	return e, nil
}

func (h *Handlers) action(spec config.ActionSpec) (actions.Action, error) {
	a := actions.Action{
		ID:           spec.ID,
		Capabilities: spec.Capabilities,
		Device:       spec.Device,
		Collection:   spec.Collection,
	}
	if spec.Matches != "" {
		fn, ok := h.matches[spec.Matches]
		if !ok {
			return a, fmt.Errorf("%w: action %s matches=%s", ErrUnknownHandler, spec.ID, spec.Matches)
		}
		a.Matches = fn
	}
	if spec.MatchesAsync != "" {
		fn, ok := h.matchesAsync[spec.MatchesAsync]
		if !ok {
			return a, fmt.Errorf("%w: action %s matches_async=%s", ErrUnknownHandler, spec.ID, spec.MatchesAsync)
		}
		a.MatchesAsync = fn
	}
	if spec.Perform != "" {
		fn, ok := h.perform[spec.Perform]
		if !ok {
			return a, fmt.Errorf("%w: action %s perform=%s", ErrUnknownHandler, spec.ID, spec.Perform)
		}
		a.Perform = fn
	}
	return a, nil
}

func linkFromSpec(spec config.LinkSpec) (actions.Link, error) {
	prio, err := actions.ParsePrio(spec.Prio)
	if err != nil {
		return actions.Link{}, err
	}
	link := actions.Link{
		ID:           spec.ID,
		Index:        ext.AutoIndex,
		Before:       spec.Before,
		After:        spec.After,
		Action:       spec.Action,
		Prio:         prio,
		Section:      spec.Section,
		Label:        spec.Label,
		Icon:         spec.Icon,
		Toggle:       spec.Toggle,
		Capabilities: spec.Capabilities,
		Device:       spec.Device,
	}
	if spec.Index != nil {
		link.Index = *spec.Index
	}
	return link, nil
}
