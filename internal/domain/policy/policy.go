// Package policy decides, per tool, whether it may run concurrently and
// whether it needs human approval before running.
package policy

import (
	"strings"
	"sync"
)

// HumanInputTool is the reserved tool name used to ask the user a question.
// It is never parallel-safe: it owns the conversation while it runs.
const HumanInputTool = "request_human_input"

// Capability describes what the runtime may do with a tool.
type Capability struct {
	ParallelSafe     bool `json:"parallel_safe"`
	RequiresApproval bool `json:"requires_approval"`
}

// sensitiveVerbs mark tools that mutate external state and therefore need
// human approval. Matched as substrings of the lowercased tool name.
var sensitiveVerbs = []string{
	"create", "delete", "send", "update", "modify",
	"write", "execute", "deploy", "install", "remove",
}

// sequentialOnlyVerbs mark tools that are safe without approval but must
// not run concurrently with anything else.
var sequentialOnlyVerbs = []string{
	"update", "modify", "edit", "write",
	"deploy", "migrate", "backup", "restore",
}

// Classify derives a Capability from the tool name vocabularies alone.
// It is total over any string: unknown names default to safe and parallel.
func Classify(name string) Capability {
	lower := strings.ToLower(name)

	if matchAny(lower, sensitiveVerbs) {
		return Capability{ParallelSafe: false, RequiresApproval: true}
	}
	if lower == HumanInputTool || matchAny(lower, sequentialOnlyVerbs) {
		return Capability{ParallelSafe: false, RequiresApproval: false}
	}
	return Capability{ParallelSafe: true, RequiresApproval: false}
}

func matchAny(name string, verbs []string) bool {
	for _, v := range verbs {
		if strings.Contains(name, v) {
			return true
		}
	}
	return false
}

// Classifier resolves tool capabilities. Capabilities declared at tool
// registration are authoritative; vocabulary matching is only the fallback
// for names nobody declared.
type Classifier struct {
	mu    sync.RWMutex
	table map[string]Capability
}

// NewClassifier creates an empty capability table.
func NewClassifier() *Classifier {
	return &Classifier{table: make(map[string]Capability)}
}

// Declare records a capability for a tool name. A tool that requires
// approval is never parallel-safe, whatever the caller declared.
func (c *Classifier) Declare(name string, cap Capability) {
	if cap.RequiresApproval {
		cap.ParallelSafe = false
	}
	c.mu.Lock()
	c.table[name] = cap
	c.mu.Unlock()
}

// Classify returns the declared capability for name, falling back to the
// vocabulary classifier for undeclared names.
func (c *Classifier) Classify(name string) Capability {
	c.mu.RLock()
	cap, ok := c.table[name]
	c.mu.RUnlock()
	if ok {
		return cap
	}
	return Classify(name)
}
