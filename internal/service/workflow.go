package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/adapter/otel"
	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/domain/approval"
	"github.com/parley-ai/parley/internal/domain/stream"
	"github.com/parley-ai/parley/internal/domain/task"
	"github.com/parley-ai/parley/internal/domain/thread"
	"github.com/parley-ai/parley/internal/domain/toolcall"
	"github.com/parley-ai/parley/internal/logger"
	"github.com/parley-ai/parley/internal/opcache"
	"github.com/parley-ai/parley/internal/port/model"
	"github.com/parley-ai/parley/internal/port/promptstore"
	"github.com/parley-ai/parley/internal/port/tool"
)

const plannerPrompt = `You are a planning assistant. Break the user's request into a short numbered list of concrete tasks, one per line, in the form "1. <task>". Respond with the list only. If the request is trivial, respond with a single task.`

const reflectorPrompt = `You are reviewing progress on a task list. Given the tasks and the recent conversation, report finished work as "Task completed: <description>" and newly needed work as "Add subtask: <description>", one per line. If everything is finished, state that the task is complete.`

const fallbackSystemPrompt = "You are a helpful assistant. Use the available tools when they help answer the user."

// Workflow drives one conversation turn through planner, agent, tools and
// reflector nodes. Every node emits progress through the sink handed to it;
// nothing is process-global.
type Workflow struct {
	provider model.Provider
	registry *tool.Registry
	executor *Executor
	gate     *Gate
	threads  *Threads
	prompts  promptstore.Store // optional
	cache    *opcache.Cache    // optional, planner response reuse
	metrics  *otel.Metrics     // optional
	cfg      config.Workflow
}

// NewWorkflow wires a workflow. prompts, cache and metrics may be nil.
func NewWorkflow(provider model.Provider, registry *tool.Registry, executor *Executor,
	gate *Gate, threads *Threads, prompts promptstore.Store,
	cache *opcache.Cache, metrics *otel.Metrics, cfg config.Workflow) *Workflow {
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 10
	}
	if cfg.DefaultPrompt == "" {
		cfg.DefaultPrompt = fallbackSystemPrompt
	}
	return &Workflow{
		provider: provider,
		registry: registry,
		executor: executor,
		gate:     gate,
		threads:  threads,
		prompts:  prompts,
		cache:    cache,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// Run processes one user message on a thread. The sink receives every
// progress event; on success it ends with done, on suspension with
// human_input_required and no done. The returned error is transport-level:
// per-tool failures are captured in results, never raised here.
func (w *Workflow) Run(ctx context.Context, threadID, message string, sink stream.Sink) error {
	if sink == nil {
		sink = stream.Discard
	}

	th, release, err := w.threads.BeginTurn(threadID)
	if err != nil {
		return err
	}
	defer release()

	if susp, ok := w.threads.Suspended(threadID); ok {
		return fmt.Errorf("thread %s awaits a decision for interrupt %s", threadID, susp.ID)
	}

	ctx = logger.WithThreadID(ctx, threadID)
	ctx, span := otel.StartTurnSpan(ctx, threadID, th.UserID)
	defer span.End()
	start := time.Now()
	w.countTurn(ctx, "started")

	msgs, tasks := snapshotThread(th)
	th.Append(thread.Message{Role: thread.RoleUser, Content: message})

	if len(th.Tasks) == 0 {
		w.plan(ctx, th, message, sink)
	}

	suspended, sources, err := w.loop(ctx, th, sink)
	if err != nil {
		restoreThread(th, msgs, tasks)
		w.countTurn(ctx, "failed")
		return err
	}
	if suspended {
		return nil
	}

	sink.Send(stream.TypeDone, stream.DoneEvent{Sources: sources})
	w.countTurn(ctx, "completed")
	w.recordDuration(ctx, start)
	return nil
}

// RunDetached runs one complete turn on a fresh thread with no attached
// client. Used by the agent-to-agent port, where the caller wants a final
// answer rather than a stream. A turn that suspends for approval fails: a
// detached caller has no channel to answer through.
func (w *Workflow) RunDetached(ctx context.Context, userID, message string) (threadID, reply string, err error) {
	th := w.threads.Create(userID)

	if err := w.Run(ctx, th.ID, message, stream.Discard); err != nil {
		return th.ID, "", err
	}
	if susp, ok := w.threads.Suspended(th.ID); ok {
		return th.ID, "", fmt.Errorf("turn suspended pending approval of %s; no approver on a detached turn", susp.Request.ToolName)
	}
	if msg := th.LastAssistant(); msg != nil {
		reply = msg.Content
	}
	return th.ID, reply, nil
}

// Resume consumes a human decision for a suspended turn and carries the
// workflow forward from the tools node: the resumed result joins the
// preserved batch results, the untouched tail executes, then the loop
// continues through the reflector.
func (w *Workflow) Resume(ctx context.Context, threadID, interruptID string, d approval.Decision, sink stream.Sink) error {
	if sink == nil {
		sink = stream.Discard
	}

	th, release, err := w.threads.BeginTurn(threadID)
	if err != nil {
		return err
	}
	defer release()

	turn, ok := w.threads.TakeSuspended(threadID, interruptID)
	if !ok {
		return fmt.Errorf("thread %s: %w", threadID, ErrUnknownInterrupt)
	}

	ctx = logger.WithThreadID(ctx, threadID)
	ctx, span := otel.StartTurnSpan(ctx, threadID, th.UserID)
	defer span.End()
	start := time.Now()

	res, err := w.gate.Resume(ctx, interruptID, d)
	if err != nil {
		w.threads.Suspend(threadID, turn) // checkpoint untouched, retry allowed
		return err
	}
	res.CallID = turn.CallID
	w.recordApprovalWait(ctx, turn.Suspension.CreatedAt)
	sink.Send(stream.TypeToolResult, resultEvent(res))

	msgs, tasks := snapshotThread(th)

	results := append(turn.Results, res)
	if len(turn.Remaining) > 0 {
		outcome, execErr := w.executor.Execute(ctx, turn.Remaining, turn.Mode, sink)
		if execErr != nil {
			w.countTurn(ctx, "failed")
			return execErr
		}
		if outcome.Suspended() {
			w.suspendTurn(ctx, th, outcome, append(results, outcome.Batch.Results...), sink)
			return nil
		}
		results = append(results, outcome.Batch.Results...)
	}

	appendToolMessages(th, results)
	// An approval interrupt only arises on the sequential path, so the
	// reassembled batch reports as sequential.
	appendBatchReport(th, &toolcall.Batch{
		Results: results,
		Summary: toolcall.Summary{
			TotalRequested:  len(results),
			SequentialCount: len(results),
			Mode:            turn.Mode,
		},
	})
	sources := append([]stream.Source{}, extractSources(results)...)

	if len(th.Tasks) > 0 {
		complete, reflErr := w.reflect(ctx, th, sink)
		if reflErr != nil {
			restoreThread(th, msgs, tasks)
			w.countTurn(ctx, "failed")
			return reflErr
		}
		if complete {
			sink.Send(stream.TypeDone, stream.DoneEvent{Sources: sources})
			w.countTurn(ctx, "completed")
			w.recordDuration(ctx, start)
			return nil
		}
	}

	suspended, more, err := w.loop(ctx, th, sink)
	if err != nil {
		restoreThread(th, msgs, tasks)
		w.countTurn(ctx, "failed")
		return err
	}
	sources = append(sources, more...)
	if suspended {
		return nil
	}

	sink.Send(stream.TypeDone, stream.DoneEvent{Sources: sources})
	w.countTurn(ctx, "completed")
	w.recordDuration(ctx, start)
	return nil
}

// loop alternates agent, tools and reflector until the reflector declares
// completion, the agent answers without tools, or the iteration cap trips.
func (w *Workflow) loop(ctx context.Context, th *thread.Thread, sink stream.Sink) (suspended bool, sources []stream.Source, err error) {
	sources = []stream.Source{}

	for i := 0; i < w.cfg.MaxIterations; i++ {
		msg, calls, err := w.agent(ctx, th, sink)
		if err != nil {
			return false, sources, err
		}
		th.Append(msg)

		if len(calls) == 0 {
			if len(th.Tasks) == 0 {
				return false, sources, nil
			}
			complete, err := w.reflect(ctx, th, sink)
			if err != nil {
				return false, sources, err
			}
			if complete {
				return false, sources, nil
			}
			continue
		}

		outcome, err := w.tools(ctx, calls, sink)
		if err != nil {
			return false, sources, err
		}
		if outcome.Suspended() {
			w.suspendTurn(ctx, th, outcome, outcome.Batch.Results, sink)
			return true, sources, nil
		}

		appendToolMessages(th, outcome.Batch.Results)
		appendBatchReport(th, &outcome.Batch)
		sources = append(sources, extractSources(outcome.Batch.Results)...)

		if len(th.Tasks) > 0 {
			complete, err := w.reflect(ctx, th, sink)
			if err != nil {
				return false, sources, err
			}
			if complete {
				return false, sources, nil
			}
		}
	}

	slog.Warn("iteration cap reached, ending turn", "thread_id", th.ID, "max", w.cfg.MaxIterations)
	return false, sources, nil
}

// plan asks the model for a numbered task breakdown. Runs once per thread;
// any failure leaves the task list empty rather than failing the turn.
func (w *Workflow) plan(ctx context.Context, th *thread.Thread, message string, sink stream.Sink) {
	sink.Send(stream.TypePlanStart, nil)

	text, ok := w.cachedPlan(ctx, message)
	if !ok {
		var err error
		text, err = w.complete(ctx, []thread.Message{
			{Role: thread.RoleSystem, Content: plannerPrompt},
			{Role: thread.RoleUser, Content: message},
		})
		if err != nil {
			slog.Warn("planner failed, continuing without a task list", "thread_id", th.ID, "error", err)
			sink.Send(stream.TypePlan, stream.PlanEvent{Tasks: []task.Task{}})
			return
		}
		w.storePlan(ctx, th.UserID, message, text)
	}

	th.Tasks = task.ParseNumberedList(text)
	sink.Send(stream.TypePlan, stream.PlanEvent{Tasks: th.Tasks})
}

// agent streams the model's next step, forwarding content as it arrives and
// tagging every requested tool call with its capabilities.
func (w *Workflow) agent(ctx context.Context, th *thread.Thread, sink stream.Sink) (thread.Message, []toolcall.Request, error) {
	if th.EnsureSystemFirst(w.systemPrompt(ctx, th.UserID)) {
		slog.Debug("repaired message ordering", "thread_id", th.ID)
	}

	ctx, span := otel.StartModelSpan(ctx, w.provider.Name(), "")
	defer span.End()

	ch, err := w.provider.Stream(ctx, model.Request{
		Messages: th.Messages,
		Tools:    w.toolSpecs(),
	})
	if err != nil {
		return thread.Message{}, nil, fmt.Errorf("agent stream: %w", err)
	}

	var content strings.Builder
	var calls []toolcall.Request
	var tcs []thread.ToolCall

	for chunk := range ch {
		switch {
		case chunk.Err != nil:
			return thread.Message{}, nil, fmt.Errorf("agent stream: %w", chunk.Err)

		case chunk.ContentDelta != "":
			content.WriteString(chunk.ContentDelta)
			sink.Send(stream.TypeContent, stream.ContentEvent{Content: chunk.ContentDelta})

		case chunk.ToolCall != nil:
			id := chunk.ToolCall.ID
			if id == "" {
				id = uuid.NewString()
			}
			ev := stream.ToolCallEvent{
				ID:     id,
				Name:   chunk.ToolCall.Name,
				Args:   chunk.ToolCall.Args,
				Status: "starting",
			}
			stream.CapabilityTag(&ev, w.registry.Classifier().Classify(chunk.ToolCall.Name))
			sink.Send(stream.TypeToolCall, ev)

			calls = append(calls, toolcall.Request{CallID: id, Name: chunk.ToolCall.Name, Args: chunk.ToolCall.Args})
			tcs = append(tcs, thread.ToolCall{ID: id, Name: chunk.ToolCall.Name, Args: chunk.ToolCall.Args})
		}
	}

	msg := thread.Message{Role: thread.RoleAssistant, Content: content.String(), ToolCalls: tcs}
	return msg, calls, nil
}

// tools announces the batch's eligibility when it holds more than one call,
// then hands it to the executor.
func (w *Workflow) tools(ctx context.Context, calls []toolcall.Request, sink stream.Sink) (*Outcome, error) {
	if len(calls) > 1 {
		if reason, sequential := w.sequentialReason(calls); sequential {
			sink.Send(stream.TypeSequentialExecutionRequired, stream.BatchModeEvent{Count: len(calls), Reason: reason})
		} else {
			sink.Send(stream.TypeParallelExecutionDetected, stream.BatchModeEvent{
				Count:  len(calls),
				Reason: fmt.Sprintf("all %d tool calls are parallel-safe", len(calls)),
			})
		}
	}
	return w.executor.Execute(ctx, calls, toolcall.ModeAuto, sink)
}

// sequentialReason explains why a batch cannot run in parallel, naming the
// first call that forces serialization.
func (w *Workflow) sequentialReason(calls []toolcall.Request) (string, bool) {
	for _, c := range calls {
		cap := w.registry.Classifier().Classify(c.Name)
		if cap.RequiresApproval {
			return fmt.Sprintf("%s requires human approval", c.Name), true
		}
		if !cap.ParallelSafe {
			return fmt.Sprintf("%s must run sequentially", c.Name), true
		}
	}
	return "", false
}

// reflect asks the model to judge progress and applies its verdict to the
// task list. Returns whether the verdict ends the loop.
func (w *Workflow) reflect(ctx context.Context, th *thread.Thread, sink stream.Sink) (bool, error) {
	sink.Send(stream.TypeReflectionStart, nil)

	verdict, err := w.complete(ctx, []thread.Message{
		{Role: thread.RoleSystem, Content: reflectorPrompt},
		{Role: thread.RoleUser, Content: reflectionState(th)},
	})
	if err != nil {
		return false, fmt.Errorf("reflector: %w", err)
	}

	th.Tasks, _ = task.ApplyVerdict(th.Tasks, verdict)
	complete := task.VerdictComplete(verdict)

	sink.Send(stream.TypeReflection, stream.ReflectionEvent{
		Verdict:  verdict,
		Tasks:    th.Tasks,
		Complete: complete,
	})
	return complete, nil
}

// suspendTurn checkpoints the paused batch on the thread and tells the
// client what decision is needed.
func (w *Workflow) suspendTurn(ctx context.Context, th *thread.Thread, outcome *Outcome, results []toolcall.Result, sink stream.Sink) {
	callID := ""
	if outcome.SuspendedCall != nil {
		callID = outcome.SuspendedCall.CallID
	}
	w.threads.Suspend(th.ID, &SuspendedTurn{
		Suspension: outcome.Suspension,
		CallID:     callID,
		Mode:       toolcall.ModeAuto,
		Results:    results,
		Remaining:  outcome.Remaining,
	})

	req := outcome.Suspension.Request
	sink.Send(stream.TypeHumanInputRequired, stream.HumanInputRequiredEvent{
		InterruptID: outcome.Suspension.ID,
		ToolName:    req.ToolName,
		Args:        req.Args,
		Message:     req.Message,
		AllowAccept: req.AllowAccept,
		AllowEdit:   req.AllowEdit,
		AllowReject: req.AllowReject,
	})
	w.countApproval(ctx)
}

// complete runs a non-streaming style completion: content accumulated,
// tool-call deltas ignored.
func (w *Workflow) complete(ctx context.Context, msgs []thread.Message) (string, error) {
	ch, err := w.provider.Stream(ctx, model.Request{Messages: msgs})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		sb.WriteString(chunk.ContentDelta)
	}
	return sb.String(), nil
}

// systemPrompt resolves the user's selected prompt, falling back to the
// configured default when there is no selection or the store is down.
func (w *Workflow) systemPrompt(ctx context.Context, userID string) string {
	if w.prompts == nil {
		return w.cfg.DefaultPrompt
	}
	content, err := w.prompts.GetSelectedPromptContent(ctx, userID)
	if err != nil {
		slog.Warn("prompt store unavailable, using default prompt", "error", err)
		return w.cfg.DefaultPrompt
	}
	if content == "" {
		return w.cfg.DefaultPrompt
	}
	return content
}

func (w *Workflow) toolSpecs() []model.ToolSpec {
	tools := w.registry.All()
	specs := make([]model.ToolSpec, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, model.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	return specs
}

func (w *Workflow) cachedPlan(ctx context.Context, message string) (string, bool) {
	if w.cache == nil {
		return "", false
	}
	raw, ok := w.cache.Get(opcache.OpModelResponse, planParams(message))
	if !ok {
		w.countCache(ctx, false)
		return "", false
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return "", false
	}
	w.countCache(ctx, true)
	return text, true
}

func (w *Workflow) storePlan(ctx context.Context, userID, message, text string) {
	if w.cache == nil {
		return
	}
	if err := w.cache.Set(opcache.OpModelResponse, planParams(message), text, userID, 0); err != nil {
		slog.Debug("plan not cached", "error", err)
	}
}

func planParams(message string) map[string]any {
	return map[string]any{"node": "planner", "message": message}
}

// appendToolMessages records each result on the thread as a tool message so
// the model sees the outcome of every call it requested.
func appendToolMessages(th *thread.Thread, results []toolcall.Result) {
	for _, r := range results {
		content := r.Result
		if content == "" {
			content = r.Error
		}
		if content == "" {
			content = string(r.Status)
		}
		th.Append(thread.Message{
			Role:       thread.RoleTool,
			Content:    content,
			ToolCallID: r.CallID,
			Name:       r.Name,
		})
	}
}

// appendBatchReport records the executor's aggregate summary after a
// multi-call batch, so the model sees how the batch ran as a whole and
// history consumers get the embedded machine-readable block. Single-call
// batches are fully described by their tool message.
func appendBatchReport(th *thread.Thread, batch *toolcall.Batch) {
	if len(batch.Results) < 2 {
		return
	}
	th.Append(thread.Message{Role: thread.RoleUser, Content: batch.Report()})
}

// snapshotThread captures the turn's pre-state so a turn that fails before
// reaching a terminal outcome can be discarded without leaving half-written
// history behind.
func snapshotThread(th *thread.Thread) ([]thread.Message, []task.Task) {
	return append([]thread.Message(nil), th.Messages...), append([]task.Task(nil), th.Tasks...)
}

func restoreThread(th *thread.Thread, msgs []thread.Message, tasks []task.Task) {
	th.Messages = msgs
	th.Tasks = tasks
}

// extractSources collects citation records from tool results that report
// them: any successful result whose body is a JSON object with a "sources"
// array contributes its entries.
func extractSources(results []toolcall.Result) []stream.Source {
	var out []stream.Source
	for _, r := range results {
		if r.Status != toolcall.StatusSuccess {
			continue
		}
		var payload struct {
			Sources []stream.Source `json:"sources"`
		}
		if err := json.Unmarshal([]byte(r.Result), &payload); err != nil {
			continue
		}
		out = append(out, payload.Sources...)
	}
	return out
}

// reflectionState renders the task list and recent turns for the reflector.
func reflectionState(th *thread.Thread) string {
	var sb strings.Builder
	sb.WriteString("Tasks:\n")
	for _, t := range th.Tasks {
		fmt.Fprintf(&sb, "- [%s] %s\n", t.Status, t.Description)
	}
	sb.WriteString("\nRecent conversation:\n")
	for _, m := range th.TailWindow(6) {
		content := m.Content
		if content == "" && len(m.ToolCalls) > 0 {
			names := make([]string, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				names[i] = tc.Name
			}
			content = "(called tools: " + strings.Join(names, ", ") + ")"
		}
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, content)
	}
	return sb.String()
}

func (w *Workflow) countTurn(ctx context.Context, outcome string) {
	if w.metrics == nil {
		return
	}
	switch outcome {
	case "started":
		w.metrics.TurnsStarted.Add(ctx, 1)
	case "completed":
		w.metrics.TurnsCompleted.Add(ctx, 1)
	case "failed":
		w.metrics.TurnsFailed.Add(ctx, 1)
	}
}

func (w *Workflow) countApproval(ctx context.Context) {
	if w.metrics != nil {
		w.metrics.Approvals.Add(ctx, 1)
	}
}

func (w *Workflow) countCache(ctx context.Context, hit bool) {
	if w.metrics == nil {
		return
	}
	if hit {
		w.metrics.CacheHits.Add(ctx, 1)
	} else {
		w.metrics.CacheMisses.Add(ctx, 1)
	}
}

func (w *Workflow) recordDuration(ctx context.Context, start time.Time) {
	if w.metrics != nil {
		w.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	}
}

func (w *Workflow) recordApprovalWait(ctx context.Context, since time.Time) {
	if w.metrics != nil {
		w.metrics.ApprovalWait.Record(ctx, time.Since(since).Seconds())
	}
}
