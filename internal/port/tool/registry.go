package tool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/parley-ai/parley/internal/domain/policy"
)

// Registry holds the tools available to a workflow and records each tool's
// capability declaration with the classifier. Tools whose parameter schema
// the provider wire format cannot express are rejected at registration.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]Tool
	classifier *policy.Classifier
}

// NewRegistry creates an empty registry bound to a classifier.
func NewRegistry(classifier *policy.Classifier) *Registry {
	return &Registry{
		tools:      make(map[string]Tool),
		classifier: classifier,
	}
}

// Register adds a tool under its declared capability. Duplicate names and
// incompatible schemas are errors.
func (r *Registry) Register(t Tool, cap policy.Capability) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if err := CheckSchema(t.Schema()); err != nil {
		return fmt.Errorf("register tool %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("register tool: duplicate registration for %q", name)
	}
	r.tools[name] = t
	r.classifier.Declare(name, cap)
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the registered tools in name order.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Classifier returns the classifier this registry declares into.
func (r *Registry) Classifier() *policy.Classifier {
	return r.classifier
}

// CheckSchema rejects parameter schemas that provider wire formats cannot
// express: tuple-typed properties (a JSON array in the "type" field) and
// arrays of arrays.
func CheckSchema(schema map[string]any) error {
	return checkSchemaNode(schema, false)
}

func checkSchemaNode(node map[string]any, insideArray bool) error {
	if node == nil {
		return nil
	}
	if _, ok := node["type"].([]any); ok {
		return fmt.Errorf("tuple-typed schema not supported")
	}
	if t, _ := node["type"].(string); t == "array" {
		if insideArray {
			return fmt.Errorf("nested array schema not supported")
		}
		if items, ok := node["items"].(map[string]any); ok {
			if err := checkSchemaNode(items, true); err != nil {
				return err
			}
		}
	}
	if props, ok := node["properties"].(map[string]any); ok {
		for _, v := range props {
			child, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if err := checkSchemaNode(child, false); err != nil {
				return err
			}
		}
	}
	return nil
}
