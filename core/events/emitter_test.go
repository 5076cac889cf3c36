package events

import "testing"

func TestOnAndTrigger(t *testing.T) {
	e := NewEmitter()
	var got []any
	e.On("ready", func(name string, payload any) {
		if name != "ready" {
			t.Fatalf("unexpected event name %s", name)
		}
		got = append(got, payload)
	})
	e.Trigger("ready", 1)
	e.Trigger("ready", 2)
	e.Trigger("other", 3)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("unexpected deliveries: %v", got)
	}
}

func TestOnceDeliversOnce(t *testing.T) {
	e := NewEmitter()
	calls := 0
	e.Once("ready", func(string, any) { calls++ })
	e.Trigger("ready", nil)
	e.Trigger("ready", nil)
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if e.Count("ready") != 0 {
		t.Fatalf("expected once subscriber removed")
	}
}

func TestUnsubscribe(t *testing.T) {
	e := NewEmitter()
	calls := 0
	off := e.On("change", func(string, any) { calls++ })
	keep := 0
	e.On("change", func(string, any) { keep++ })
	off()
	e.Trigger("change", nil)
	if calls != 0 || keep != 1 {
		t.Fatalf("unexpected calls=%d keep=%d", calls, keep)
	}
	e.Off("change")
	e.Trigger("change", nil)
	if keep != 1 {
		t.Fatalf("expected Off to remove subscribers")
	}
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	e := NewEmitter()
	ran := false
	e.On("ready", func(string, any) { panic("boom") })
	e.On("ready", func(string, any) { ran = true })
	e.Trigger("ready", nil)
	if !ran {
		t.Fatalf("expected second handler to run")
	}
}

func TestHandlerMaySubscribeDuringTrigger(t *testing.T) {
	e := NewEmitter()
	inner := 0
	e.On("ready", func(string, any) {
		e.On("ready", func(string, any) { inner++ })
	})
	e.Trigger("ready", nil)
	if inner != 0 {
		t.Fatalf("late subscriber must not see the current delivery")
	}
	e.Trigger("ready", nil)
	if inner != 1 {
		t.Fatalf("expected late subscriber on next delivery, got %d", inner)
	}
}
