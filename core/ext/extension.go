// Package ext implements extension points: named, ordered collections of
// contributions that independently registered modules attach behaviour to.
//
// A Point orders its extensions by Index and then honours Before/After
// placement. Invoke runs one handler kind over the gated, ordered list with a
// Baton threaded through, isolating failures per extension.
package ext

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

var (
	// ErrMissingHandler is returned by Extend when an extension lacks a
	// handler kind its point requires.
	ErrMissingHandler = errors.New("extension missing required handler")
	// ErrCycle reports before/after constraints that cannot be satisfied.
	ErrCycle = errors.New("extension ordering cycle")
	// ErrUnknownExtension is returned when an id is not registered on a point.
	ErrUnknownExtension = errors.New("unknown extension")
)

// Kind names an invocation type.
type Kind string

const (
	KindRender  Kind = "render"
	KindDraw    Kind = "draw"
	KindAction  Kind = "action"
	KindPerform Kind = "perform"
	KindSetup   Kind = "setup"
)

// ParseKind accepts the kinds above, case-insensitively.
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	switch k {
	case KindRender, KindDraw, KindAction, KindPerform, KindSetup:
		return k, nil
	}
	return "", fmt.Errorf("unknown handler kind %q", raw)
}

// Handler is one extension behaviour. node is the invocation target.
type Handler func(node *Node, b *Baton) error

// AutoIndex asks Extend to place the extension after everything registered
// so far. Any other value, zero included, is used as given.
const AutoIndex = math.MinInt

// autoIndexStep spaces the indexes assigned to AutoIndex extensions, so later
// registrations can slot in between.
const autoIndexStep = 100

// Extension is a single contribution to a Point.
type Extension struct {
	ID    string
	Index int // AutoIndex means "after everything registered so far"
	// Before and After place the extension next to a sibling id.
	Before string
	After  string
	// Group scopes Baton.Disable and StopPropagation. Empty is its own group.
	Group string
	// Capabilities and Device are expressions; empty means unconstrained.
	Capabilities string
	Device       string
	Handlers     map[Kind]Handler
	// Value carries declarative data, e.g. an actions.Link.
	Value any
}

// Handles reports whether e has a handler for kind.
func (e Extension) Handles(kind Kind) bool {
	return e.Handlers[kind] != nil
}

func (e Extension) clone() Extension {
	if e.Handlers != nil {
		handlers := make(map[Kind]Handler, len(e.Handlers))
		for k, h := range e.Handlers {
			handlers[k] = h
		}
		e.Handlers = handlers
	}
	return e
}

func (e Extension) missing(required []Kind) []string {
	var out []string
	for _, k := range required {
		if !e.Handles(k) {
			out = append(out, string(k))
		}
	}
	sort.Strings(out)
	return out
}
