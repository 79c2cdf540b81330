package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/parley-ai/parley/internal/adapter/otel"
	"github.com/parley-ai/parley/internal/domain/approval"
	"github.com/parley-ai/parley/internal/domain/policy"
	"github.com/parley-ai/parley/internal/domain/stream"
	"github.com/parley-ai/parley/internal/domain/toolcall"
	"github.com/parley-ai/parley/internal/opcache"
	"github.com/parley-ai/parley/internal/port/tool"
)

// ExecutorOptions tune one executor instance.
type ExecutorOptions struct {
	MaxConcurrency       int
	ToolTimeout          time.Duration
	FailFast             bool
	FallbackToSequential bool
}

// Executor runs a batch of tool calls: the parallel-safe subset under
// bounded concurrency, the rest one at a time with the approval gate inline.
type Executor struct {
	registry *tool.Registry
	gate     *Gate
	cache    *opcache.Cache // optional result cache for parallel-safe tools
	metrics  *otel.Metrics  // optional
	opts     ExecutorOptions
}

// NewExecutor creates an executor over the given registry and gate. cache
// and metrics may be nil.
func NewExecutor(registry *tool.Registry, gate *Gate, cache *opcache.Cache, metrics *otel.Metrics, opts ExecutorOptions) *Executor {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = 30 * time.Second
	}
	return &Executor{registry: registry, gate: gate, cache: cache, metrics: metrics, opts: opts}
}

// Outcome is the result of one executor call. When Suspension is set, the
// batch paused at a sensitive tool: Results holds everything completed so
// far and Remaining the requests not yet attempted (the suspended call
// itself resumes through the gate).
type Outcome struct {
	Batch         toolcall.Batch
	Suspension    *approval.Suspension
	SuspendedCall *toolcall.Request
	Remaining     []toolcall.Request
}

// Suspended reports whether the batch paused for a human decision.
func (o *Outcome) Suspended() bool { return o.Suspension != nil }

// resolved pairs a request with its registry tool and capability.
type resolved struct {
	req toolcall.Request
	t   tool.Tool
	cap policy.Capability
}

// Execute runs the batch. Unresolvable names are dropped with a warning;
// everything else produces exactly one result, except calls cut off by a
// suspension, which are returned in Remaining for a later pass.
func (e *Executor) Execute(ctx context.Context, reqs []toolcall.Request, mode toolcall.Mode, sink stream.Sink) (*Outcome, error) {
	if sink == nil {
		sink = stream.Discard
	}
	if mode == "" {
		mode = toolcall.ModeAuto
	}

	entries := e.resolve(reqs)
	parallel, sequential := partition(entries, mode)

	out := &Outcome{Batch: toolcall.Batch{
		Summary: toolcall.Summary{
			TotalRequested:  len(reqs),
			ParallelCount:   len(parallel),
			SequentialCount: len(sequential),
			Mode:            mode,
		},
	}}

	results, err := e.runParallel(ctx, parallel, sink)
	out.Batch.Results = append(out.Batch.Results, results...)
	if err != nil {
		if !e.opts.FallbackToSequential {
			return nil, fmt.Errorf("parallel phase: %w", err)
		}
		// Retry once, fully sequentially, over the entire original set.
		slog.Warn("parallel phase failed, falling back to sequential", "error", err)
		out.Batch.Results = nil
		out.Batch.Summary.ParallelCount = 0
		out.Batch.Summary.SequentialCount = len(entries)
		return e.runSequential(ctx, entries, out, sink)
	}

	return e.runSequential(ctx, sequential, out, sink)
}

// resolve looks every request up in the registry, dropping unknown names.
func (e *Executor) resolve(reqs []toolcall.Request) []resolved {
	entries := make([]resolved, 0, len(reqs))
	for _, req := range reqs {
		t, ok := e.registry.Lookup(req.Name)
		if !ok {
			slog.Warn("dropping unresolvable tool call", "tool", req.Name, "call_id", req.CallID)
			continue
		}
		entries = append(entries, resolved{req: req, t: t, cap: e.registry.Classifier().Classify(req.Name)})
	}
	// Higher priority first; stable, so ties keep request order.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].req.Priority > entries[j].req.Priority
	})
	return entries
}

func partition(entries []resolved, mode toolcall.Mode) (parallel, sequential []resolved) {
	for _, en := range entries {
		if en.cap.ParallelSafe && mode != toolcall.ModeSequentialOnly {
			parallel = append(parallel, en)
		} else {
			sequential = append(sequential, en)
		}
	}
	return parallel, sequential
}

// runParallel executes entries in batches of MaxConcurrency. A batch
// completes when its slowest member does; batches run one after another.
// Tool errors are recorded in results unless FailFast is set, in which
// case the first one aborts the phase.
func (e *Executor) runParallel(ctx context.Context, entries []resolved, sink stream.Sink) ([]toolcall.Result, error) {
	var results []toolcall.Result
	k := e.opts.MaxConcurrency

	for start := 0; start < len(entries); start += k {
		batch := entries[start:min(start+k, len(entries))]
		groupID := uuid.NewString()

		names := make([]string, len(batch))
		for i, en := range batch {
			names[i] = en.req.Name
		}
		sink.Send(stream.TypeParallelExecutionStart, stream.ParallelPhaseEvent{GroupID: groupID, Tools: names})

		batchCtx, span := otel.StartBatchSpan(ctx, groupID, len(batch))
		slots := make([]toolcall.Result, len(batch))
		g, gctx := errgroup.WithContext(batchCtx)
		for i, en := range batch {
			g.Go(func() error {
				res, _ := e.invoke(gctx, en)
				slots[i] = res
				if e.opts.FailFast && res.Status == toolcall.StatusError {
					return fmt.Errorf("tool %s: %s", res.Name, res.Error)
				}
				return nil
			})
		}
		err := g.Wait()
		span.End()

		// Every slot is filled even on abort: errgroup waits for the batch.
		for _, res := range slots {
			results = append(results, res)
			sink.Send(stream.TypeToolResult, resultEvent(res))
		}
		sink.Send(stream.TypeParallelExecutionComplete, stream.ParallelPhaseEvent{GroupID: groupID, Tools: names})

		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// runSequential executes entries one at a time. A tool that requires
// approval goes through the gate inline: the run pauses there, keeping the
// results already collected and returning the untouched tail.
func (e *Executor) runSequential(ctx context.Context, entries []resolved, out *Outcome, sink stream.Sink) (*Outcome, error) {
	for i, en := range entries {
		if en.cap.RequiresApproval {
			en.t = e.gate.Wrap(en.t)
		}

		res, suspErr := e.invoke(ctx, en)

		var susp *SuspensionError
		if errors.As(suspErr, &susp) {
			out.Suspension = susp.Suspension
			out.SuspendedCall = &en.req
			for _, rest := range entries[i+1:] {
				out.Remaining = append(out.Remaining, rest.req)
			}
			return out, nil
		}

		out.Batch.Results = append(out.Batch.Results, res)
		sink.Send(stream.TypeToolResult, resultEvent(res))

		if e.opts.FailFast && res.Status == toolcall.StatusError {
			return nil, fmt.Errorf("sequential phase: tool %s: %s", res.Name, res.Error)
		}
	}
	return out, nil
}

// invoke runs one tool call raced against the per-tool timeout. The
// underlying call is abandoned on timeout, never force-cancelled: timeout
// means unknown outcome, not "didn't happen". A non-nil error is always a
// SuspensionError from the gate.
func (e *Executor) invoke(ctx context.Context, en resolved) (toolcall.Result, error) {
	res := toolcall.Result{CallID: en.req.CallID, Name: en.req.Name}

	if e.cacheable(en) {
		if cached, ok := e.cache.Get(opcache.OpToolResult, cacheParams(en.req)); ok {
			e.count(ctx, res.Name, "cache_hit")
			var s string
			if json.Unmarshal(cached, &s) == nil {
				res.Status = toolcall.StatusSuccess
				res.Result = s
				return res, nil
			}
		}
	}

	toolCtx, span := otel.StartToolSpan(ctx, en.req.CallID, en.req.Name)
	defer span.End()

	type invocation struct {
		out string
		err error
	}
	done := make(chan invocation, 1)
	start := time.Now()
	go func() {
		out, err := en.t.Invoke(toolCtx, en.req.Args)
		done <- invocation{out, err}
	}()

	var inv invocation
	select {
	case inv = <-done:
	case <-time.After(e.opts.ToolTimeout):
		res.Status = toolcall.StatusTimeout
		res.ExecutionTimeMs = time.Since(start).Milliseconds()
		e.count(ctx, res.Name, string(res.Status))
		return res, nil
	}
	res.ExecutionTimeMs = time.Since(start).Milliseconds()

	var susp *SuspensionError
	switch {
	case errors.As(inv.err, &susp):
		return res, inv.err
	case inv.err != nil:
		res.Status = toolcall.StatusError
		res.Error = inv.err.Error()
	default:
		res.Status = toolcall.StatusSuccess
		res.Result = inv.out
		if e.cacheable(en) {
			if err := e.cache.Set(opcache.OpToolResult, cacheParams(en.req), inv.out, "", 0); err != nil {
				slog.Debug("tool result not cached", "tool", res.Name, "error", err)
			}
		}
	}
	e.count(ctx, res.Name, string(res.Status))
	return res, nil
}

// cacheable limits result caching to tools that are safe to replay: only
// parallel-safe, approval-free tools qualify.
func (e *Executor) cacheable(en resolved) bool {
	return e.cache != nil && en.cap.ParallelSafe && !en.cap.RequiresApproval
}

func cacheParams(req toolcall.Request) map[string]any {
	return map[string]any{"tool": req.Name, "args": req.Args}
}

func (e *Executor) count(ctx context.Context, name, status string) {
	if e.metrics == nil {
		return
	}
	e.metrics.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", name),
		attribute.String("status", status),
	))
}

func resultEvent(res toolcall.Result) stream.ToolResultEvent {
	return stream.ToolResultEvent{
		ID:              res.CallID,
		Name:            res.Name,
		Status:          res.Status,
		Result:          res.Result,
		Error:           res.Error,
		ExecutionTimeMs: res.ExecutionTimeMs,
	}
}
