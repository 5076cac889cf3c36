package mediator

import (
	"errors"
	"testing"

	"github.com/cordum/extcore/core/ext"
	"github.com/google/go-cmp/cmp"
)

func TestMediateRunsStepsOnceInIndexOrder(t *testing.T) {
	m := New(ext.NewRegistry())
	var calls []string
	step := func(id string) func(*App) error {
		return func(*App) error {
			calls = append(calls, id)
			return nil
		}
	}
	if err := m.Register("io.ox/mail",
		Step{ID: "toolbar", Index: ext.AutoIndex, Setup: step("toolbar")},
		Step{ID: "window", Index: 50, Setup: step("window")},
		Step{ID: "selection", Index: ext.AutoIndex, Setup: step("selection")},
	); err != nil {
		t.Fatalf("register: %v", err)
	}

	app := m.NewApp("io.ox/mail")
	app.Mediate()
	app.Mediate()
	if diff := cmp.Diff([]string{"window", "toolbar", "selection"}, calls); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
	if !app.Mediated() {
		t.Fatalf("expected app marked mediated")
	}

	other := m.NewApp("io.ox/mail")
	if other.ID == app.ID {
		t.Fatalf("expected distinct app ids")
	}
	other.Mediate()
	if len(calls) != 6 {
		t.Fatalf("expected steps to run once for each instance, got %v", calls)
	}
}

func TestMediateIsolatesFailures(t *testing.T) {
	m := New(ext.NewRegistry())
	var calls []string
	_ = m.Register("calendar",
		Step{ID: "broken", Index: ext.AutoIndex, Setup: func(*App) error { return errors.New("no window") }},
		Step{ID: "panics", Index: ext.AutoIndex, Setup: func(*App) error { panic("bad wiring") }},
		Step{ID: "ok", Index: ext.AutoIndex, Setup: func(a *App) error {
			calls = append(calls, "ok")
			a.Set("ready", true)
			return nil
		}},
	)
	app := m.NewApp("calendar")
	rs := app.Mediate()
	if rs.Errors() == nil || rs.Count() != 3 {
		t.Fatalf("expected two failures among three steps")
	}
	if v, ok := app.Get("ready"); !ok || v != true || len(calls) != 1 {
		t.Fatalf("expected later step to run after failures")
	}
}

func TestReentrantMediateIsNoop(t *testing.T) {
	m := New(ext.NewRegistry())
	runs := 0
	_ = m.Register("portal", Step{ID: "self", Index: ext.AutoIndex, Setup: func(a *App) error {
		runs++
		if rs := a.Mediate(); rs != nil {
			t.Errorf("expected re-entrant mediate to be a no-op")
		}
		return nil
	}})
	m.NewApp("portal").Mediate()
	if runs != 1 {
		t.Fatalf("expected one run, got %d", runs)
	}
}

func TestRegisterAcrossCallsKeepsSourceOrder(t *testing.T) {
	m := New(ext.NewRegistry())
	noop := func(*App) error { return nil }
	_ = m.Register("tasks", Step{ID: "a", Index: ext.AutoIndex, Setup: noop})
	_ = m.Register("tasks", Step{ID: "b", Index: ext.AutoIndex, Setup: noop}, Step{ID: "a", Index: ext.AutoIndex, Setup: noop})
	if diff := cmp.Diff([]string{"a", "b"}, m.Steps("tasks")); diff != "" {
		t.Fatalf("steps mismatch (-want +got):\n%s", diff)
	}
	if err := m.Register("tasks", Step{ID: "nil"}); err == nil {
		t.Fatalf("expected error for step without setup")
	}
}
