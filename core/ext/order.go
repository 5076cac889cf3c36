package ext

import (
	"fmt"
	"sort"
	"strings"
)

// order sorts exts by Index (stable) and then places every extension with a
// Before/After reference next to its sibling. References to ids that are not
// present are ignored. An extension with Before always ends up immediately
// preceding its target; extensions placed after it are moved behind that
// target instead. If the constraints form a cycle the numeric order is
// returned together with an ErrCycle error naming the ids involved.
func order(exts []Extension) ([]Extension, error) {
	numeric := append([]Extension(nil), exts...)
	sort.SliceStable(numeric, func(i, j int) bool { return numeric[i].Index < numeric[j].Index })

	present := make(map[string]bool, len(numeric))
	for _, e := range numeric {
		present[e.ID] = true
	}

	before := map[string][]Extension{}
	after := map[string][]Extension{}
	var roots []Extension
	constrained := 0
	for _, e := range numeric {
		target := anchor(e, present)
		switch {
		case target == "":
			roots = append(roots, e)
		case target == e.Before:
			before[target] = append(before[target], e)
			constrained++
		default:
			after[target] = append(after[target], e)
			constrained++
		}
	}
	if constrained == 0 {
		return numeric, nil
	}

	seen := make(map[string]bool, len(numeric))
	var expand func(e Extension) (head, tail []Extension)
	expand = func(e Extension) (head, tail []Extension) {
		seen[e.ID] = true
		var hoisted []Extension
		for _, b := range before[e.ID] {
			h, t := expand(b)
			head = append(head, h...)
			hoisted = append(hoisted, t...)
		}
		head = append(head, e)
		for _, a := range after[e.ID] {
			h, t := expand(a)
			tail = append(tail, h...)
			tail = append(tail, t...)
		}
		return head, append(tail, hoisted...)
	}

	placed := make([]Extension, 0, len(numeric))
	for _, r := range roots {
		head, tail := expand(r)
		placed = append(placed, head...)
		placed = append(placed, tail...)
	}
	if len(placed) < len(numeric) {
		var ids []string
		for _, e := range numeric {
			if !seen[e.ID] {
				ids = append(ids, e.ID)
			}
		}
		return numeric, fmt.Errorf("%w: %s", ErrCycle, strings.Join(ids, ", "))
	}
	return placed, nil
}

// anchor returns the sibling e is positioned against, preferring Before.
func anchor(e Extension, present map[string]bool) string {
	if e.Before != "" && e.Before != e.ID && present[e.Before] {
		return e.Before
	}
	if e.After != "" && e.After != e.ID && present[e.After] {
		return e.After
	}
	return ""
}
