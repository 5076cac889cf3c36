package actions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cordum/extcore/core/ext"
)

// Prio places a link in the primary bar or the overflow menu.
type Prio string

const (
	PrioHi Prio = "hi"
	PrioLo Prio = "lo"
)

// DefaultSection holds overflow links that name no section.
const DefaultSection = "default"

// Link is a toolbar or menu entry that references an action.
type Link struct {
	ID string
	// Index orders the link on its point; ext.AutoIndex appends it.
	Index        int
	Before       string
	After        string
	Action       string
	Prio         Prio
	Section      string
	Label        string
	Icon         string
	Toggle       bool
	Capabilities string
	Device       string
}

// Primary reports whether the link belongs in the primary bar.
func (l Link) Primary() bool {
	return l.Prio == PrioHi
}

func (l Link) section() string {
	if l.Section == "" {
		return DefaultSection
	}
	return l.Section
}

// ParsePrio accepts "hi", "lo" or empty (lo).
func ParsePrio(raw string) (Prio, error) {
	switch Prio(strings.ToLower(strings.TrimSpace(raw))) {
	case PrioHi:
		return PrioHi, nil
	case PrioLo, "":
		return PrioLo, nil
	}
	return "", fmt.Errorf("unknown prio %q", raw)
}

// ExtendLinks registers links as extensions of pointID. Each link draws
// itself as an <li> element.
func ExtendLinks(reg *ext.Registry, pointID string, links ...Link) error {
	exts := make([]ext.Extension, 0, len(links))
	var errs []error
	for _, l := range links {
		if l.ID == "" || l.Action == "" {
			errs = append(errs, fmt.Errorf("%w: link %q on %s needs id and action", ErrInvalidAction, l.ID, pointID))
			continue
		}
		if l.Prio == "" {
			l.Prio = PrioLo
		}
		link := l
		exts = append(exts, ext.Extension{
			ID:           link.ID,
			Index:        link.Index,
			Before:       link.Before,
			After:        link.After,
			Group:        link.section(),
			Capabilities: link.Capabilities,
			Device:       link.Device,
			Value:        link,
			Handlers: map[ext.Kind]ext.Handler{
				ext.KindDraw: func(node *ext.Node, _ *ext.Baton) error {
					node.Append(drawLink(link))
					return nil
				},
			},
		})
	}
	if err := reg.Point(pointID).Extend(exts...); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func drawLink(l Link) *ext.Node {
	li := ext.NewNode("li").SetAttr("data-action", l.Action).SetAttr("data-prio", string(l.Prio))
	if l.Icon != "" {
		li.SetAttr("data-icon", l.Icon)
	}
	if l.Toggle {
		li.SetAttr("data-toggle", "true")
	}
	li.Text = l.Label
	if li.Text == "" {
		li.Text = l.ID
	}
	return li
}

// LinkOf returns the Link carried by an extension registered through
// ExtendLinks.
func LinkOf(e ext.Extension) (Link, bool) {
	l, ok := e.Value.(Link)
	return l, ok
}
