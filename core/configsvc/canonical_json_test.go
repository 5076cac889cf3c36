package configsvc

import (
	"testing"

	"github.com/cordum/extcore/core/capabilities"
)

func TestCanonicalJSONOrdering(t *testing.T) {
	inputA := map[string]any{"b": 2, "a": 1, "list": []any{"x", "y"}}
	inputB := map[string]any{"a": 1, "list": []any{"x", "y"}, "b": 2}

	outA, err := canonicalJSON(inputA)
	if err != nil {
		t.Fatalf("canonical json A: %v", err)
	}
	outB, err := canonicalJSON(inputB)
	if err != nil {
		t.Fatalf("canonical json B: %v", err)
	}
	if string(outA) != string(outB) || string(outA) != `{"a":1,"b":2,"list":["x","y"]}` {
		t.Fatalf("expected stable json output, got %s", outA)
	}
}

func TestSnapshotHashIgnoresAttributeOrder(t *testing.T) {
	a := capabilities.ServerConfig{Capabilities: []capabilities.Capability{
		{ID: "webmail", Attributes: map[string]any{"quota": 1, "plan": "pro"}},
	}}
	b := capabilities.ServerConfig{Capabilities: []capabilities.Capability{
		{ID: "webmail", Attributes: map[string]any{"plan": "pro", "quota": 1}},
	}}
	ha, err := snapshotHash(a)
	if err != nil || ha == "" {
		t.Fatalf("hash a: %v", err)
	}
	hb, _ := snapshotHash(b)
	if ha != hb {
		t.Fatalf("expected equal hashes")
	}
	b.Disabled = []string{"webmail"}
	if hc, _ := snapshotHash(b); hc == ha {
		t.Fatalf("expected different hash after change")
	}
}

func TestSnapshotHashUnsupportedType(t *testing.T) {
	if _, err := snapshotHash(map[string]any{"bad": func() {}}); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}

func TestSnapshotVersionOrdering(t *testing.T) {
	got := snapshotVersion(map[Scope]int64{ScopeUser: 3, ScopeSystem: 1})
	if want := "system:1|context:0|user:3"; got != want {
		t.Fatalf("expected %s got %s", want, got)
	}
}
