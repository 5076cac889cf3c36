package capabilities

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestCompileAndEval(t *testing.T) {
	enabled := map[string]bool{"webmail": true, "calendar": true, "mail/compose": true}
	lookup := func(id string) bool { return enabled[id] }
	cases := []struct {
		expr string
		want bool
	}{
		{"webmail", true},
		{"tasks", false},
		{"!tasks", true},
		{"webmail && calendar", true},
		{"webmail && tasks", false},
		{"tasks || calendar", true},
		{"webmail calendar", true},
		{"webmail tasks", false},
		{"webmail !tasks", true},
		{"!(tasks || contacts) && calendar", true},
		{"tasks || webmail && calendar", true},
		{"(tasks || webmail) && contacts", false},
		{"WEBMAIL", true},
		{"mail/compose", true},
		{"webmail & calendar | tasks", true},
	}
	for _, tc := range cases {
		expr, err := Compile(tc.expr)
		if err != nil {
			t.Fatalf("compile %q: %v", tc.expr, err)
		}
		if got := expr.Eval(lookup); got != tc.want {
			t.Fatalf("%q: expected %v, got %v (tree %s)", tc.expr, tc.want, got, expr)
		}
	}
}

func TestCompileErrors(t *testing.T) {
	for _, expr := range []string{"a &&", "(a || b", "a)", "&& a", "!", "()"} {
		if _, err := Compile(expr); err == nil {
			t.Fatalf("expected compile error for %q", expr)
		}
	}
	if _, err := Compile("  $$$ "); !errors.Is(err, ErrEmptyExpression) {
		t.Fatalf("expected ErrEmptyExpression, got %v", err)
	}
}

func TestSanitizeDropsDisallowedCharacters(t *testing.T) {
	got := Sanitize("import('evil'); alert(\"x\") + webmail")
	if got != "import(evil) alert(x)  webmail" {
		t.Fatalf("unexpected sanitized expression %q", got)
	}
}

func TestHasNeverExecutesInjectedCode(t *testing.T) {
	s := NewSet([]string{"evil", "import"})
	// Only identifiers survive: import && (evil).
	if !s.Has("import('evil')") {
		t.Fatalf("expected sanitized remainder import && evil to be true")
	}
	s = NewSet([]string{"webmail"})
	if s.Has("import('evil')") {
		t.Fatalf("expected sanitized remainder to be false without those ids")
	}
	if s.Has("webmail; process.exit(1)") {
		t.Fatalf("expected juxtaposed identifiers to require all terms")
	}
}

func TestHasNoConstraint(t *testing.T) {
	s := NewSet(nil)
	if !s.Has() {
		t.Fatalf("expected no fragments to mean no constraint")
	}
	if !s.Has("") || !s.Has("   ", "") {
		t.Fatalf("expected empty fragments to mean no constraint")
	}
	if !s.Has("'\"") {
		t.Fatalf("expected expression that sanitizes to nothing to mean no constraint")
	}
}

func TestHasMalformedIsFalse(t *testing.T) {
	s := NewSet([]string{"webmail"})
	if s.Has("webmail &&") {
		t.Fatalf("expected malformed expression to evaluate false")
	}
}

func TestHasJoinsFragments(t *testing.T) {
	s := NewSet([]string{"webmail", "calendar"})
	if !s.Has("webmail", "calendar") {
		t.Fatalf("expected fragments joined with &&")
	}
	if s.Has("webmail", "tasks") {
		t.Fatalf("expected missing fragment to fail")
	}
	if !s.Has("tasks || webmail", "calendar") {
		t.Fatalf("expected operator fragment joined with inferred &&")
	}
}

func TestDisabledOverridesEnabled(t *testing.T) {
	s := NewSet(nil)
	s.Load(Snapshot{
		Enabled:  []Capability{{ID: "webmail"}, {ID: "tasks"}},
		Disabled: []string{"Tasks"},
	})
	if s.Has("tasks") {
		t.Fatalf("expected disabled capability to be false")
	}
	if !s.IsDisabled("tasks") {
		t.Fatalf("expected IsDisabled")
	}
	if _, ok := s.Get("tasks"); !ok {
		t.Fatalf("expected disabled capability still reported by Get")
	}
	if s.Size() != 2 {
		t.Fatalf("expected size 2, got %d", s.Size())
	}
}

type failingSource struct{}

func (failingSource) Name() string { return "broken" }
func (failingSource) Load(context.Context) (Snapshot, error) {
	return Snapshot{}, errors.New("server unavailable")
}

func TestResetNotifiesOnce(t *testing.T) {
	s := NewSet([]string{"old"})
	calls := 0
	s.OnReset(func() { calls++ })

	server := ServerConfig{
		Capabilities:        []Capability{{ID: "webmail", Attributes: map[string]any{"quota": 1}}},
		EnforceDynamicTheme: true,
	}
	overrides := ParseOverrides("calendar,-webmail")
	if err := s.Reset(context.Background(), server, overrides); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one notification, got %d", calls)
	}
	if s.Has("old") {
		t.Fatalf("expected previous capabilities replaced")
	}
	if !s.Has("calendar && dynamic-theme") {
		t.Fatalf("expected override and dynamic theme, got %v", s.IDs())
	}
	if s.Has("webmail") {
		t.Fatalf("expected override to force-disable webmail")
	}
	c, ok := s.Get("webmail")
	if !ok || c.Attributes["quota"] != 1 {
		t.Fatalf("expected server attributes kept, got %#v", c)
	}
}

func TestResetFailureKeepsState(t *testing.T) {
	s := NewSet([]string{"webmail"})
	calls := 0
	s.OnReset(func() { calls++ })
	if err := s.Reset(context.Background(), ServerConfig{}, failingSource{}); err == nil {
		t.Fatalf("expected reset error")
	}
	if calls != 0 || !s.Has("webmail") {
		t.Fatalf("expected state untouched after failed reset")
	}
}

func TestOnResetUnsubscribe(t *testing.T) {
	s := NewSet(nil)
	calls := 0
	off := s.OnReset(func() { calls++ })
	off()
	s.Load(Snapshot{})
	if calls != 0 {
		t.Fatalf("expected no notification after unsubscribe")
	}
}

func TestParseOverrides(t *testing.T) {
	o := ParseOverrides("a, -b !c;d")
	if len(o.Enable) != 2 || o.Enable[0] != "a" || o.Enable[1] != "d" {
		t.Fatalf("unexpected enable: %v", o.Enable)
	}
	if len(o.Disable) != 2 || o.Disable[0] != "b" || o.Disable[1] != "c" {
		t.Fatalf("unexpected disable: %v", o.Disable)
	}
}

func TestOverridesFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/appsuite/?cap=calendar&cap=-tasks", nil)
	req.AddCookie(&http.Cookie{Name: OverrideParam, Value: "spreadsheet"})
	o := OverridesFromRequest(req)
	if len(o.Enable) != 2 || o.Enable[0] != "spreadsheet" || o.Enable[1] != "calendar" {
		t.Fatalf("unexpected enable: %v", o.Enable)
	}
	if len(o.Disable) != 1 || o.Disable[0] != "tasks" {
		t.Fatalf("unexpected disable: %v", o.Disable)
	}
	if got := OverridesFromRequest(nil); len(got.Enable)+len(got.Disable) != 0 {
		t.Fatalf("expected empty overrides for nil request")
	}
}

func TestTraits(t *testing.T) {
	d := Traits("smartphone", "touch")
	if !d.Has("smartphone && touch") || d.Has("desktop") || !d.Has("!desktop") {
		t.Fatalf("unexpected device evaluation")
	}
}

func TestFileSourceAndWatcher(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "capabilities.yaml")
	if err := os.WriteFile(path, []byte("capabilities: [webmail]\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := NewSet(nil)
	if err := s.Reset(context.Background(), FileSource{Path: path}); err != nil {
		t.Fatalf("reset from file: %v", err)
	}
	if !s.Has("webmail") {
		t.Fatalf("expected webmail from file")
	}

	w, err := NewWatcher(s, path, Overrides{Enable: []string{"portal"}})
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	w.debounce = 10 * time.Millisecond
	resets := make(chan struct{}, 4)
	s.OnReset(func() { resets <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("capabilities: [calendar]\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	select {
	case <-resets:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for reload")
	}
	if !s.Has("calendar && portal") || s.Has("webmail") {
		t.Fatalf("unexpected capabilities after reload: %v", s.IDs())
	}
}

func TestWatcherStopAfterFailedStart(t *testing.T) {
	defer goleak.VerifyNone(t)
	w, err := NewWatcher(NewSet(nil), filepath.Join(t.TempDir(), "missing", "capabilities.yaml"))
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Fatalf("expected start to fail for a missing directory")
	}
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stop blocked after failed start")
	}
	w.Stop()
	if err := w.Start(context.Background()); !errors.Is(err, errWatcherStopped) {
		t.Fatalf("expected start after stop to fail, got %v", err)
	}
}
