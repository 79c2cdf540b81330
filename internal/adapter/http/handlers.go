// Package http serves the Parley REST and SSE API.
package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/parley-ai/parley/internal/adapter/nats"
	"github.com/parley-ai/parley/internal/adapter/postgres"
	"github.com/parley-ai/parley/internal/adapter/sse"
	"github.com/parley-ai/parley/internal/adapter/ws"
	"github.com/parley-ai/parley/internal/domain/approval"
	"github.com/parley-ai/parley/internal/domain/prompt"
	"github.com/parley-ai/parley/internal/domain/stream"
	"github.com/parley-ai/parley/internal/port/messagequeue"
	"github.com/parley-ai/parley/internal/port/tool"
	"github.com/parley-ai/parley/internal/service"
)

// Handlers carries the wired services behind the HTTP surface. prompts,
// promptCache, hub and queue are optional: endpoints depending on a missing
// one answer 503.
type Handlers struct {
	workflow    *service.Workflow
	threads     *service.Threads
	registry    *tool.Registry
	prompts     *postgres.Store
	promptCache *postgres.CachedStore
	hub         *ws.Hub
	queue       messagequeue.Queue
	chunkSize   int
}

// NewHandlers wires the handler set.
func NewHandlers(workflow *service.Workflow, threads *service.Threads, registry *tool.Registry,
	prompts *postgres.Store, promptCache *postgres.CachedStore,
	hub *ws.Hub, queue messagequeue.Queue, chunkSize int) *Handlers {
	return &Handlers{
		workflow:    workflow,
		threads:     threads,
		registry:    registry,
		prompts:     prompts,
		promptCache: promptCache,
		hub:         hub,
		queue:       queue,
		chunkSize:   chunkSize,
	}
}

// --- Threads ---

type createThreadRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handlers) CreateThread(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[createThreadRequest](w, r)
	if !ok {
		return
	}
	th := h.threads.Create(req.UserID)
	writeJSON(w, http.StatusCreated, th)
}

func (h *Handlers) GetThread(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	th, err := h.threads.Get(id)
	if err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}

	resp := map[string]any{"thread": th}
	if susp, ok := h.threads.Suspended(id); ok {
		resp["suspension"] = susp
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Turns (SSE responses) ---

type postMessageRequest struct {
	Message string `json:"message"`
}

// PostMessage runs one turn, streaming progress as SSE. The connection is
// the turn's primary sink; WebSocket observers and the NATS mirror ride
// along.
func (h *Handlers) PostMessage(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if _, err := h.threads.Get(id); err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}
	req, ok := readJSON[postMessageRequest](w, r)
	if !ok {
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	ctrl, err := sse.NewChunked(w, h.chunkSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	defer ctrl.Close()

	sink := h.turnSink(ctrl, id)
	defer sink.Close()

	if err := h.workflow.Run(r.Context(), id, req.Message, sink); err != nil {
		// The controller suppresses this when content already went out.
		ctrl.Send(stream.TypeError, stream.ErrorEvent{Error: err.Error()})
	}
}

type resumeRequest struct {
	InterruptID string         `json:"interrupt_id"`
	Action      string         `json:"action"`
	Args        map[string]any `json:"args,omitempty"`
	Value       string         `json:"value,omitempty"`
}

// ResumeThread consumes a decision for a suspended turn and streams the
// continuation over its own SSE connection.
func (h *Handlers) ResumeThread(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if _, err := h.threads.Get(id); err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}
	req, ok := readJSON[resumeRequest](w, r)
	if !ok {
		return
	}
	if req.InterruptID == "" {
		writeError(w, http.StatusBadRequest, "interrupt_id is required")
		return
	}

	ctrl, err := sse.NewChunked(w, h.chunkSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	defer ctrl.Close()

	sink := h.turnSink(ctrl, id)
	defer sink.Close()

	decision := approval.Decision{
		Action: approval.Action(req.Action),
		Args:   req.Args,
		Value:  req.Value,
	}
	if err := h.workflow.Resume(r.Context(), id, req.InterruptID, decision, sink); err != nil {
		ctrl.Send(stream.TypeError, stream.ErrorEvent{Error: err.Error()})
	}
}

type resolveApprovalRequest struct {
	ThreadID string         `json:"thread_id"`
	Action   string         `json:"action"`
	Args     map[string]any `json:"args,omitempty"`
	Value    string         `json:"value,omitempty"`
}

// ResolveApproval lets operator tooling answer a pending approval without
// holding an SSE connection: the turn continues in the background and
// observers follow it over WebSocket or NATS.
func (h *Handlers) ResolveApproval(w http.ResponseWriter, r *http.Request) {
	interruptID := urlParam(r, "id")
	req, ok := readJSON[resolveApprovalRequest](w, r)
	if !ok {
		return
	}
	if req.ThreadID == "" {
		writeError(w, http.StatusBadRequest, "thread_id is required")
		return
	}
	if _, err := h.threads.Get(req.ThreadID); err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}

	decision := approval.Decision{
		Action: approval.Action(req.Action),
		Args:   req.Args,
		Value:  req.Value,
	}
	go func() {
		sink := h.observerSink(req.ThreadID)
		defer sink.Close()
		if err := h.workflow.Resume(context.Background(), req.ThreadID, interruptID, decision, sink); err != nil {
			slog.Error("background resume failed",
				"thread_id", req.ThreadID, "interrupt_id", interruptID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// --- Tools ---

type toolInfo struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	ParallelSafe     bool   `json:"parallel_safe"`
	RequiresApproval bool   `json:"requires_approval"`
}

func (h *Handlers) ListTools(w http.ResponseWriter, _ *http.Request) {
	infos := []toolInfo{}
	for _, name := range h.registry.Names() {
		t, _ := h.registry.Lookup(name)
		cap := h.registry.Classifier().Classify(name)
		infos = append(infos, toolInfo{
			Name:             name,
			Description:      t.Description(),
			ParallelSafe:     cap.ParallelSafe,
			RequiresApproval: cap.RequiresApproval,
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

// --- Prompts ---

func (h *Handlers) promptStore(w http.ResponseWriter) bool {
	if h.prompts == nil {
		writeError(w, http.StatusServiceUnavailable, "prompt store is not configured")
		return false
	}
	return true
}

func (h *Handlers) ListPrompts(w http.ResponseWriter, r *http.Request) {
	if !h.promptStore(w) {
		return
	}
	prompts, err := h.prompts.ListPrompts(r.Context())
	if err != nil {
		writeDomainError(w, err, "prompts not found")
		return
	}
	if prompts == nil {
		prompts = []prompt.Prompt{}
	}
	writeJSON(w, http.StatusOK, prompts)
}

func (h *Handlers) CreatePrompt(w http.ResponseWriter, r *http.Request) {
	if !h.promptStore(w) {
		return
	}
	req, ok := readJSON[prompt.CreateRequest](w, r)
	if !ok {
		return
	}
	if req.Name == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "name and content are required")
		return
	}
	p, err := h.prompts.CreatePrompt(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "prompt not created")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handlers) UpdatePrompt(w http.ResponseWriter, r *http.Request) {
	if !h.promptStore(w) {
		return
	}
	req, ok := readJSON[prompt.CreateRequest](w, r)
	if !ok {
		return
	}
	p, err := h.prompts.UpdatePrompt(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err, "prompt not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) DeletePrompt(w http.ResponseWriter, r *http.Request) {
	if !h.promptStore(w) {
		return
	}
	if err := h.prompts.DeletePrompt(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "prompt not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type selectPromptRequest struct {
	PromptID string `json:"prompt_id"`
}

func (h *Handlers) SelectPrompt(w http.ResponseWriter, r *http.Request) {
	if !h.promptStore(w) {
		return
	}
	userID := urlParam(r, "userID")
	req, ok := readJSON[selectPromptRequest](w, r)
	if !ok {
		return
	}
	if req.PromptID == "" {
		writeError(w, http.StatusBadRequest, "prompt_id is required")
		return
	}
	if err := h.prompts.SelectPrompt(r.Context(), userID, req.PromptID); err != nil {
		writeDomainError(w, err, "prompt not found")
		return
	}
	if h.promptCache != nil {
		h.promptCache.Invalidate(r.Context(), userID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ClearPromptSelection(w http.ResponseWriter, r *http.Request) {
	if !h.promptStore(w) {
		return
	}
	userID := urlParam(r, "userID")
	if err := h.prompts.ClearSelection(r.Context(), userID); err != nil {
		writeDomainError(w, err, "selection not cleared")
		return
	}
	if h.promptCache != nil {
		h.promptCache.Invalidate(r.Context(), userID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Health ---

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if q, ok := h.queue.(*nats.Queue); ok && q != nil {
		resp["nats_connected"] = q.IsConnected()
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Sinks ---

// turnSink combines the SSE connection with the passive observers.
func (h *Handlers) turnSink(ctrl *sse.Controller, threadID string) stream.Sink {
	return stream.Multi(ctrl, h.wsSink(threadID), h.mirrorSink(threadID))
}

// observerSink is the sink for turns without an attached SSE connection.
func (h *Handlers) observerSink(threadID string) stream.Sink {
	return stream.Multi(h.wsSink(threadID), h.mirrorSink(threadID))
}

func (h *Handlers) wsSink(threadID string) stream.Sink {
	if h.hub == nil {
		return nil
	}
	return h.hub.ObserverSink(threadID)
}

func (h *Handlers) mirrorSink(threadID string) stream.Sink {
	if h.queue == nil {
		return nil
	}
	return nats.NewMirror(h.queue, threadID)
}
