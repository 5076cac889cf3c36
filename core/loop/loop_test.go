package loop

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPostRunsInOrder(t *testing.T) {
	l := New()
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	if n := l.RunOnce(); n != 5 {
		t.Fatalf("expected 5 tasks, ran %d", n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("unexpected order: %v", got)
		}
	}
}

func TestSpawnPostsContinuation(t *testing.T) {
	l := New()
	release := make(chan struct{})
	var result string
	Spawn(l, func() string {
		<-release
		return "done"
	}, func(v string) { result = v })

	if l.Pending() != 1 {
		t.Fatalf("expected spawned work in flight, pending=%d", l.Pending())
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if result != "done" {
		t.Fatalf("expected continuation to run, got %q", result)
	}
	if l.Pending() != 0 {
		t.Fatalf("expected idle loop")
	}
}

func TestTaskPanicIsIsolated(t *testing.T) {
	l := New()
	ran := false
	l.Post(func() { panic("boom") })
	l.Post(func() { ran = true })
	l.RunOnce()
	if !ran {
		t.Fatalf("expected task after panic to run")
	}
}

func TestCloseDropsTasks(t *testing.T) {
	l := New()
	ran := false
	l.Post(func() { ran = true })
	l.Close()
	l.Post(func() { ran = true })
	l.RunOnce()
	if ran {
		t.Fatalf("expected tasks dropped after close")
	}
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("run on closed loop: %v", err)
	}
}

func TestDrainHonoursContext(t *testing.T) {
	l := New()
	block := make(chan struct{})
	defer close(block)
	Spawn(l, func() int {
		<-block
		return 1
	}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Drain(ctx); err == nil {
		t.Fatalf("expected context error while work in flight")
	}
}
