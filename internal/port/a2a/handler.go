// Package a2a serves the agent-to-agent protocol surface: the agent card
// plus a small asynchronous task API mapped onto detached workflow turns.
package a2a

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/parley-ai/parley/internal/port/broadcast"
)

// Runner executes one detached conversation turn to completion.
type Runner interface {
	RunDetached(ctx context.Context, userID, message string) (threadID, reply string, err error)
}

// Handler serves the A2A protocol endpoints.
type Handler struct {
	baseURL     string
	runner      Runner
	broadcaster broadcast.Broadcaster // optional: task status fan-out to observers
	mu          sync.RWMutex
	tasks       map[string]*TaskResponse
}

// NewHandler creates an A2A handler backed by the given runner.
func NewHandler(baseURL string, runner Runner, b broadcast.Broadcaster) *Handler {
	return &Handler{
		baseURL:     baseURL,
		runner:      runner,
		broadcaster: b,
		tasks:       make(map[string]*TaskResponse),
	}
}

// MountRoutes registers A2A routes on the given chi router.
// These are mounted at the root level, not under /api/v1.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/.well-known/agent.json", h.handleAgentCard)
	r.Post("/a2a/tasks", h.handleCreateTask)
	r.Get("/a2a/tasks/{id}", h.handleGetTask)
}

func (h *Handler) handleAgentCard(w http.ResponseWriter, _ *http.Request) {
	card := BuildAgentCard(h.baseURL)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(card)
}

func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, `{"error":"id is required"}`, http.StatusBadRequest)
		return
	}
	message, _ := req.Input["message"].(string)
	if message == "" {
		http.Error(w, `{"error":"input.message is required"}`, http.StatusBadRequest)
		return
	}

	resp := &TaskResponse{
		ID:     req.ID,
		Status: "queued",
	}

	h.mu.Lock()
	if _, exists := h.tasks[req.ID]; exists {
		h.mu.Unlock()
		http.Error(w, `{"error":"task id already exists"}`, http.StatusConflict)
		return
	}
	h.tasks[req.ID] = resp
	h.mu.Unlock()

	slog.Info("a2a task created", "id", req.ID, "skill", req.Skill)
	go h.runTask(req.ID, message)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(resp)
}

// runTask drives the task through its lifecycle in the background. Status
// updates are whole-struct swaps under the lock so readers never see a
// half-written response.
func (h *Handler) runTask(id, message string) {
	h.setStatus(id, &TaskResponse{ID: id, Status: "running"})

	threadID, reply, err := h.runner.RunDetached(context.Background(), "a2a:"+id, message)
	if err != nil {
		slog.Error("a2a task failed", "id", id, "error", err)
		h.setStatus(id, &TaskResponse{ID: id, Status: "failed", Error: err.Error()})
		return
	}

	h.setStatus(id, &TaskResponse{
		ID:     id,
		Status: "completed",
		Output: map[string]any{
			"thread_id": threadID,
			"reply":     reply,
		},
	})
}

func (h *Handler) setStatus(id string, resp *TaskResponse) {
	h.mu.Lock()
	h.tasks[id] = resp
	h.mu.Unlock()

	if h.broadcaster != nil {
		h.broadcaster.BroadcastEvent(context.Background(), "a2a:"+id, "a2a_task", resp)
	}
}

func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	h.mu.RLock()
	resp, ok := h.tasks[id]
	h.mu.RUnlock()

	if !ok {
		http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
