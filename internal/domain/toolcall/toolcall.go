// Package toolcall defines the request and result records that flow through
// the parallel tool executor.
package toolcall

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the terminal outcome of one tool invocation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
	StatusSkipped Status = "skipped"
)

// Request is one tool invocation requested by the model. The same tool may
// appear more than once in a batch with different args.
type Request struct {
	CallID   string         `json:"call_id"`
	Name     string         `json:"name"`
	Args     map[string]any `json:"args"`
	Priority int            `json:"priority,omitempty"`
}

// Result reports the outcome of one executed (or skipped) tool invocation.
// Immutable after creation.
type Result struct {
	CallID          string `json:"call_id"`
	Name            string `json:"name"`
	Status          Status `json:"status"`
	Result          string `json:"result,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

// Mode selects how a batch is partitioned.
type Mode string

const (
	ModeAuto           Mode = "auto"
	ModeParallelOnly   Mode = "parallel_only"
	ModeSequentialOnly Mode = "sequential_only"
)

// Summary describes how a batch was executed.
type Summary struct {
	TotalRequested  int  `json:"total_requested"`
	ParallelCount   int  `json:"parallel_count"`
	SequentialCount int  `json:"sequential_count"`
	Mode            Mode `json:"mode"`
}

// Batch is the flat result list of one executor call plus its summary.
// Result order is not guaranteed to match request order; consumers correlate
// by name and position.
type Batch struct {
	Results []Result `json:"results"`
	Summary Summary  `json:"summary"`
}

// Report renders the batch as text for the model, with an embedded
// machine-readable JSON block for downstream consumers.
func (b *Batch) Report() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Executed %d tool call(s) (%d parallel, %d sequential, mode=%s):\n",
		b.Summary.TotalRequested, b.Summary.ParallelCount, b.Summary.SequentialCount, b.Summary.Mode)
	for _, r := range b.Results {
		switch r.Status {
		case StatusSuccess:
			fmt.Fprintf(&sb, "- %s: success (%dms)\n", r.Name, r.ExecutionTimeMs)
		case StatusTimeout:
			fmt.Fprintf(&sb, "- %s: timed out after %dms\n", r.Name, r.ExecutionTimeMs)
		default:
			fmt.Fprintf(&sb, "- %s: %s (%s)\n", r.Name, r.Status, r.Error)
		}
	}

	data, err := json.Marshal(b)
	if err != nil {
		return sb.String()
	}
	sb.WriteString("\n```json\n")
	sb.Write(data)
	sb.WriteString("\n```")
	return sb.String()
}
