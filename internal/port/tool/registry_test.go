package tool

import (
	"context"
	"testing"

	"github.com/parley-ai/parley/internal/domain/policy"
)

type fakeTool struct {
	name   string
	schema map[string]any
}

func (f *fakeTool) Name() string           { return f.name }
func (f *fakeTool) Description() string    { return "fake tool" }
func (f *fakeTool) Schema() map[string]any { return f.schema }
func (f *fakeTool) Invoke(_ context.Context, _ map[string]any) (string, error) {
	return "ok", nil
}

func objectSchema(props map[string]any) map[string]any {
	return map[string]any{"type": "object", "properties": props}
}

func TestRegisterAndLookup(t *testing.T) {
	t.Parallel()

	r := NewRegistry(policy.NewClassifier())
	ft := &fakeTool{name: "web_search", schema: objectSchema(map[string]any{
		"query": map[string]any{"type": "string"},
	})}
	if err := r.Register(ft, policy.Capability{ParallelSafe: true}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, ok := r.Lookup("web_search")
	if !ok || got.Name() != "web_search" {
		t.Fatal("registered tool not found")
	}
	if cap := r.Classifier().Classify("web_search"); !cap.ParallelSafe {
		t.Error("declared capability not recorded with classifier")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	t.Parallel()

	r := NewRegistry(policy.NewClassifier())
	ft := &fakeTool{name: "calc", schema: objectSchema(nil)}
	if err := r.Register(ft, policy.Capability{ParallelSafe: true}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(ft, policy.Capability{ParallelSafe: true}); err == nil {
		t.Error("expected duplicate registration error")
	}
}

func TestRegisterRejectsTupleTypedSchema(t *testing.T) {
	t.Parallel()

	r := NewRegistry(policy.NewClassifier())
	ft := &fakeTool{name: "bad", schema: objectSchema(map[string]any{
		"value": map[string]any{"type": []any{"string", "number"}},
	})}
	if err := r.Register(ft, policy.Capability{ParallelSafe: true}); err == nil {
		t.Error("expected schema rejection for tuple-typed property")
	}
}

func TestRegisterRejectsNestedArraySchema(t *testing.T) {
	t.Parallel()

	r := NewRegistry(policy.NewClassifier())
	ft := &fakeTool{name: "bad", schema: objectSchema(map[string]any{
		"matrix": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "number"},
			},
		},
	})}
	if err := r.Register(ft, policy.Capability{ParallelSafe: true}); err == nil {
		t.Error("expected schema rejection for nested array")
	}
}

func TestNamesSorted(t *testing.T) {
	t.Parallel()

	r := NewRegistry(policy.NewClassifier())
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(&fakeTool{name: name, schema: objectSchema(nil)}, policy.Capability{ParallelSafe: true}); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}
	names := r.Names()
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", names, want)
		}
	}
}
