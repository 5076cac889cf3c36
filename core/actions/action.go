// Package actions declares named operations gated by capability, device,
// selection cardinality and custom predicates, and resolves which of a
// link-point's actions apply to the current selection.
package actions

import (
	"context"
	"errors"
	"strings"

	"github.com/cordum/extcore/core/ext"
)

var (
	// ErrUnknownAction is returned when an action id is not registered.
	ErrUnknownAction = errors.New("unknown action")
	// ErrInvalidAction is returned by Register for malformed actions.
	ErrInvalidAction = errors.New("invalid action")
)

// Collection names a selection cardinality constraint.
const (
	CollectionAny      = ""
	CollectionNone     = "none"
	CollectionOne      = "one"
	CollectionSome     = "some"
	CollectionMultiple = "multiple"
)

// Action is a named, declaratively gated operation.
type Action struct {
	ID           string
	Capabilities string
	Device       string
	// Collection is one of the Collection constants. CollectionFunc, when
	// set, replaces it with a custom check on the selection size.
	Collection     string
	CollectionFunc func(n int) bool
	// Matches is evaluated after the declarative checks. MatchesAsync runs
	// last and may block; the resolver runs it off the loop.
	Matches      func(b *ext.Baton) bool
	MatchesAsync func(ctx context.Context, b *ext.Baton) (bool, error)
	Perform      func(b *ext.Baton) error
}

// Verdict is the outcome of the synchronous part of eligibility.
type Verdict int

const (
	Denied Verdict = iota
	Allowed
	// Pending means every synchronous check passed and MatchesAsync decides.
	Pending
)

func (v Verdict) String() string {
	switch v {
	case Allowed:
		return "allowed"
	case Pending:
		return "pending"
	}
	return "denied"
}

// ValidCollection reports whether name is a known cardinality constraint.
func ValidCollection(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case CollectionAny, CollectionNone, CollectionOne, CollectionSome, CollectionMultiple:
		return true
	}
	return false
}

func (a Action) collectionAllows(n int) bool {
	if a.CollectionFunc != nil {
		return a.CollectionFunc(n)
	}
	switch strings.ToLower(strings.TrimSpace(a.Collection)) {
	case CollectionAny:
		return true
	case CollectionNone:
		return n == 0
	case CollectionOne:
		return n == 1
	case CollectionSome:
		return n >= 1
	case CollectionMultiple:
		return n >= 2
	}
	return false
}

// Selection is the list of cids an action is evaluated against. Use it as
// Baton.Data so cardinality checks can count the items.
type Selection []string

// SelectionOf returns the selection carried by b. Data of type Selection or
// []string is used as is; nil data is an empty selection and any other
// value counts as a single item.
func SelectionOf(b *ext.Baton) Selection {
	if b == nil {
		return nil
	}
	switch v := b.Data.(type) {
	case Selection:
		return v
	case []string:
		return Selection(v)
	case nil:
		return nil
	}
	return Selection{""}
}
