// Package task defines the planner task list that drives a conversation turn.
package task

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Status represents the completion state of a planner task.
type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusCompleted  Status = "completed"
)

// Task is a single step of the planner's breakdown of the user's request.
// Tasks are created once by the planner and mutated only by the reflector.
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Status      Status `json:"status"`
}

// New creates an incomplete task with a fresh ID.
func New(description string) Task {
	return Task{
		ID:          uuid.NewString(),
		Description: description,
		Status:      StatusIncomplete,
	}
}

// numberedLine matches "1. Do something" or "1) Do something".
var numberedLine = regexp.MustCompile(`^\s*\d+[.)]\s+(.+?)\s*$`)

// ParseNumberedList extracts tasks from a numbered breakdown produced by the
// model. Lines that do not match the numbered format are ignored; if nothing
// matches, the result is empty rather than an error, so a malformed plan
// never fails the conversation.
func ParseNumberedList(text string) []Task {
	var tasks []Task
	for _, line := range strings.Split(text, "\n") {
		m := numberedLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		tasks = append(tasks, New(m[1]))
	}
	return tasks
}

var (
	completedDirective = regexp.MustCompile(`(?i)Task completed:\s*(.+?)\s*(?:\.|$)`)
	subtaskDirective   = regexp.MustCompile(`(?i)Add subtask:\s*(.+?)\s*(?:\.|$)`)
)

// ApplyVerdict applies the reflector's textual verdict to the task list:
// "Task completed: X" marks the matching task completed, "Add subtask: X"
// appends a new incomplete task. Returns the updated list and whether
// anything changed. The input slice is not mutated.
func ApplyVerdict(tasks []Task, verdict string) ([]Task, bool) {
	out := make([]Task, len(tasks))
	copy(out, tasks)
	changed := false

	for _, line := range strings.Split(verdict, "\n") {
		if m := completedDirective.FindStringSubmatch(line); m != nil {
			if markCompleted(out, m[1]) {
				changed = true
			}
		}
		if m := subtaskDirective.FindStringSubmatch(line); m != nil {
			out = append(out, New(m[1]))
			changed = true
		}
	}
	return out, changed
}

// markCompleted marks the first incomplete task whose description matches
// the given text (case-insensitive, exact or substring either way).
func markCompleted(tasks []Task, desc string) bool {
	needle := strings.ToLower(strings.TrimSpace(desc))
	if needle == "" {
		return false
	}
	for i := range tasks {
		if tasks[i].Status == StatusCompleted {
			continue
		}
		have := strings.ToLower(tasks[i].Description)
		if have == needle || strings.Contains(have, needle) || strings.Contains(needle, have) {
			tasks[i].Status = StatusCompleted
			return true
		}
	}
	return false
}

// completionPhrase is the literal the reflector must emit to end the loop.
const completionPhrase = "the task is complete"

// VerdictComplete reports whether the reflector's verdict ends the workflow.
func VerdictComplete(verdict string) bool {
	return strings.Contains(strings.ToLower(verdict), completionPhrase)
}

// Remaining returns the number of incomplete tasks.
func Remaining(tasks []Task) int {
	n := 0
	for _, t := range tasks {
		if t.Status != StatusCompleted {
			n++
		}
	}
	return n
}
