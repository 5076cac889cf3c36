package ext

import (
	"github.com/google/uuid"
)

// DisableAll passed as the group to Baton.Disable skips every remaining
// extension of the point.
const DisableAll = "*"

// Options builds a Baton.
type Options struct {
	Data any
	App  any
	View any
}

// Baton is the context threaded through one invocation chain. It is created
// per render pass or user gesture and dropped afterwards.
type Baton struct {
	ID   string
	Data any
	App  any
	View any

	disabled map[string]map[string]bool
	// hidden holds id-only disables; unlike disabled it never matches groups.
	hidden  map[string]map[string]bool
	stopped map[string]bool
	group   string
}

// NewBaton returns a fresh baton.
func NewBaton(opts Options) *Baton {
	return &Baton{
		ID:   uuid.NewString(),
		Data: opts.Data,
		App:  opts.App,
		View: opts.View,
	}
}

// Ensure wraps v into a Baton unless it already is one.
func Ensure(v any) *Baton {
	switch b := v.(type) {
	case *Baton:
		if b != nil {
			return b
		}
		return NewBaton(Options{})
	case Options:
		return NewBaton(b)
	case *Options:
		if b != nil {
			return NewBaton(*b)
		}
	}
	return NewBaton(Options{Data: v})
}

// Branch returns a child baton and target node for a sub-render. The child
// sees the parent's disable flags at branch time; changes made on the child
// never reach the parent. When both the parent data and extra are maps they
// are merged, extra winning. The child node is appended to node when given.
func (b *Baton) Branch(name string, extra map[string]any, node *Node) (*Baton, *Node) {
	child := &Baton{
		ID:       uuid.NewString(),
		Data:     branchData(b.Data, extra),
		App:      b.App,
		View:     b.View,
		disabled: copyDisabled(b.disabled),
		hidden:   copyDisabled(b.hidden),
		stopped:  copyFlags(b.stopped),
	}
	target := NewNode(name)
	target.SetAttr("data-branch", name)
	if node != nil {
		node.Append(target)
	}
	return child, target
}

func branchData(parent any, extra map[string]any) any {
	if extra == nil {
		if m, ok := parent.(map[string]any); ok {
			return copyMap(m)
		}
		return parent
	}
	m, ok := parent.(map[string]any)
	if !ok {
		out := copyMap(extra)
		if parent != nil {
			if _, taken := out["parent"]; !taken {
				out["parent"] = parent
			}
		}
		return out
	}
	out := copyMap(m)
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Disable skips the remaining extensions of pointID whose id or group equals
// key (DisableAll for every one) for the rest of the current Invoke.
func (b *Baton) Disable(pointID, key string) {
	if key == "" {
		key = DisableAll
	}
	if b.disabled == nil {
		b.disabled = map[string]map[string]bool{}
	}
	if b.disabled[pointID] == nil {
		b.disabled[pointID] = map[string]bool{}
	}
	b.disabled[pointID][key] = true
}

// DisableExtension skips the extension of pointID with exactly this id. It
// never matches a group, so an id that happens to equal a group name hides
// only that extension.
func (b *Baton) DisableExtension(pointID, id string) {
	if b.hidden == nil {
		b.hidden = map[string]map[string]bool{}
	}
	if b.hidden[pointID] == nil {
		b.hidden[pointID] = map[string]bool{}
	}
	b.hidden[pointID][id] = true
}

// IsDisabled reports whether Disable was called for pointID and key.
func (b *Baton) IsDisabled(pointID, key string) bool {
	keys := b.disabled[pointID]
	return keys[key] || keys[DisableAll]
}

// StopPropagation skips the remaining extensions in the group of the
// extension currently executing.
func (b *Baton) StopPropagation() {
	if b.stopped == nil {
		b.stopped = map[string]bool{}
	}
	b.stopped[b.group] = true
}

// IsPropagationStopped reports whether group was stopped.
func (b *Baton) IsPropagationStopped(group string) bool {
	return b.stopped[group]
}

func (b *Baton) skips(pointID string, e Extension) bool {
	if b.stopped[e.Group] || b.hidden[pointID][e.ID] {
		return true
	}
	keys := b.disabled[pointID]
	if keys == nil {
		return false
	}
	return keys[DisableAll] || keys[e.ID] || (e.Group != "" && keys[e.Group])
}

type batonState struct {
	disabled map[string]map[string]bool
	hidden   map[string]map[string]bool
	stopped  map[string]bool
	group    string
}

func (b *Baton) save() batonState {
	state := batonState{disabled: b.disabled, hidden: b.hidden, stopped: b.stopped, group: b.group}
	b.disabled = copyDisabled(b.disabled)
	b.hidden = copyDisabled(b.hidden)
	b.stopped = copyFlags(b.stopped)
	return state
}

func (b *Baton) restore(state batonState) {
	b.disabled = state.disabled
	b.hidden = state.hidden
	b.stopped = state.stopped
	b.group = state.group
}

func copyDisabled(in map[string]map[string]bool) map[string]map[string]bool {
	if in == nil {
		return nil
	}
	out := make(map[string]map[string]bool, len(in))
	for point, keys := range in {
		out[point] = copyFlags(keys)
	}
	return out
}

func copyFlags(in map[string]bool) map[string]bool {
	if in == nil {
		return nil
	}
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
