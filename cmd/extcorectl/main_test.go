package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cordum/extcore/core/actions"
	"github.com/cordum/extcore/core/ext"
	"github.com/cordum/extcore/core/infra/bus"
	"github.com/cordum/extcore/core/infra/config"
	"github.com/cordum/extcore/core/loop"
	"github.com/cordum/extcore/core/mediator"
	"github.com/google/go-cmp/cmp"
)

const toolbar = "io.ox/mail/links/toolbar"

func exampleEnv(t *testing.T, capsPath string) *env {
	t.Helper()
	if capsPath == "" {
		capsPath = filepath.Join("..", "..", "config", "capabilities.yaml")
	}
	e, err := newEnv(context.Background(), envOptions{
		ManifestPath:     filepath.Join("..", "..", "config", "manifest.yaml"),
		CapabilitiesPath: capsPath,
		Device:           "desktop",
	})
	if err != nil {
		t.Fatalf("new env: %v", err)
	}
	return e
}

func TestNewEnvAppliesExampleConfig(t *testing.T) {
	e := exampleEnv(t, "")
	if diff := cmp.Diff(4, e.summary.Extensions); diff != "" {
		t.Fatalf("extensions mismatch (-want +got):\n%s", diff)
	}
	if e.summary.Links != 5 || e.summary.Actions != 5 {
		t.Fatalf("unexpected summary %+v", e.summary)
	}
	want := []string{"header", "attachments", "body", "calendar-invite"}
	if diff := cmp.Diff(want, e.points.Point("io.ox/mail/detail").Keys()); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	out := e.points.Point("io.ox/mail/detail").Invoke(ext.KindRender, nil, nil)
	if out.Count() != 4 || out.Errors() != nil {
		t.Fatalf("expected four clean renders, got %+v", out)
	}
}

func TestSameFolder(t *testing.T) {
	same := ext.NewBaton(ext.Options{Data: actions.Selection{"inbox.1", "inbox.2"}})
	mixed := ext.NewBaton(ext.Options{Data: actions.Selection{"inbox.1", "archive.2"}})
	if !sameFolder(same) || sameFolder(mixed) {
		t.Fatalf("unexpected folder matching")
	}
	if !sameFolder(ext.NewBaton(ext.Options{})) {
		t.Fatalf("expected empty selection to match")
	}
}

func TestResetHandlerFiltersNotices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capabilities.yaml")
	if err := os.WriteFile(path, []byte("capabilities: [webmail, infostore]\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	e := exampleEnv(t, path)
	if err := os.WriteFile(path, []byte("capabilities: [infostore]\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	handle := resetHandler(context.Background(), e, &config.Config{UserID: "u1"})

	if err := handle(bus.ResetNotice{UserID: "u2"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !e.caps.Has("webmail") {
		t.Fatalf("expected notice for another user to be ignored")
	}
	if err := handle(bus.ResetNotice{Source: "test"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if e.caps.Has("webmail") {
		t.Fatalf("expected broadcast notice to reload capabilities")
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	err := handle(bus.ResetNotice{})
	if _, retry := bus.RetryDelay(err); !retry {
		t.Fatalf("expected retryable error when the file is gone, got %v", err)
	}
}

func TestHasHandlerAppliesRequestOverrides(t *testing.T) {
	e := exampleEnv(t, "")
	h := hasHandler(e)

	get := func(target string) bool {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, target, nil))
		var body struct {
			Allowed bool `json:"allowed"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s: %v", target, err)
		}
		return body.Allowed
	}
	if !get("/v1/has?expr=webmail") {
		t.Fatalf("expected webmail enabled")
	}
	if get("/v1/has?expr=webmail&cap=-webmail") {
		t.Fatalf("expected override to disable webmail")
	}
	if !get("/v1/has?expr=webmail") {
		t.Fatalf("expected request override to leave the live set untouched")
	}
}

func TestResolveHandlerWaitsForAsyncPredicates(t *testing.T) {
	e := exampleEnv(t, "")
	l := loop.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/resolve?point="+toolbar+"&cid=inbox.1&cid=inbox.2", nil)
	resolveHandler(e, l, nil)(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var got resolution
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := resolution{
		Fingerprint: "inbox.1,inbox.2",
		Primary:     []string{"delete", "move"},
		Overflow:    map[string][]string{"export": {"save-to-drive", "print"}},
		Final:       true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("resolution mismatch (-want +got):\n%s", diff)
	}

	rec = httptest.NewRecorder()
	resolveHandler(e, l, nil)(rec, httptest.NewRequest(http.MethodGet, "/v1/resolve", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request without point, got %d", rec.Code)
	}
}

func TestResetHandlerThrottlesStorms(t *testing.T) {
	e := exampleEnv(t, "")
	handle := resetHandler(context.Background(), e, &config.Config{})
	for i := 0; i < resetBurst; i++ {
		if err := handle(bus.ResetNotice{}); err != nil {
			t.Fatalf("reset %d: %v", i, err)
		}
	}
	err := handle(bus.ResetNotice{})
	if !errors.Is(err, errResetThrottled) {
		t.Fatalf("expected throttled reset, got %v", err)
	}
	if _, retry := bus.RetryDelay(err); !retry {
		t.Fatalf("expected throttled reset to be retryable")
	}
}

func TestServeWiringRunsStepsInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capabilities.yaml")
	if err := os.WriteFile(path, []byte("capabilities: [webmail]\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	e := exampleEnv(t, path)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var c closers
	defer c.Close()
	m := mediator.New(ext.NewRegistry())
	cfg := &config.Config{NatsURL: "nats://127.0.0.1:1", ResetSubject: "sys.capabilities.reset"}
	if err := serveWiring(ctx, m, e, cfg, path, &c); err != nil {
		t.Fatalf("wiring: %v", err)
	}
	want := []string{"start-loop", "log-resets", "watch-capabilities", "subscribe-resets"}
	if diff := cmp.Diff(want, m.Steps(serveApp)); diff != "" {
		t.Fatalf("steps mismatch (-want +got):\n%s", diff)
	}

	app := m.NewApp(serveApp)
	rs := app.Mediate()
	if rs.Errors() == nil {
		t.Fatalf("expected unreachable NATS to fail its step")
	}
	if appBus(app) != nil {
		t.Fatalf("expected no bus without NATS")
	}
	l := appLoop(app)
	if l == nil {
		t.Fatalf("expected loop to be started")
	}
	ran := make(chan struct{})
	l.Post(func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected loop to run posted work")
	}

	if err := os.WriteFile(path, []byte("capabilities: [infostore]\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !e.caps.Has("infostore") {
		if time.Now().After(deadline) {
			t.Fatalf("expected watcher step to reload capabilities")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
