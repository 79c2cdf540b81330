package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

type fakeRunner struct {
	reply string
	err   error
}

func (f *fakeRunner) RunDetached(_ context.Context, _, _ string) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	return "t-1", f.reply, nil
}

func newTestHandler(runner Runner) *httptest.Server {
	h := NewHandler("http://localhost:8080", runner, nil)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return httptest.NewServer(r)
}

func getTask(t *testing.T, url, id string) TaskResponse {
	t.Helper()
	resp, err := http.Get(url + "/a2a/tasks/" + id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	defer resp.Body.Close()
	var task TaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return task
}

func waitForTerminal(t *testing.T, url, id string) TaskResponse {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task := getTask(t, url, id)
		if task.Status == "completed" || task.Status == "failed" {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal status")
	return TaskResponse{}
}

func TestAgentCard(t *testing.T) {
	t.Parallel()

	srv := newTestHandler(&fakeRunner{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/.well-known/agent.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if card.Name != "Parley" || len(card.Skills) == 0 {
		t.Errorf("card = %+v", card)
	}
	if !card.Capabilities.Streaming {
		t.Error("streaming capability should be advertised")
	}
}

func TestCreateTaskRunsToCompletion(t *testing.T) {
	t.Parallel()

	srv := newTestHandler(&fakeRunner{reply: "hello from the agent"})
	defer srv.Close()

	body := `{"id":"task-1","skill":"converse","input":{"message":"hi"}}`
	resp, err := http.Post(srv.URL+"/a2a/tasks", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	task := waitForTerminal(t, srv.URL, "task-1")
	if task.Status != "completed" {
		t.Fatalf("status = %s, error = %s", task.Status, task.Error)
	}
	if task.Output["reply"] != "hello from the agent" || task.Output["thread_id"] != "t-1" {
		t.Errorf("output = %+v", task.Output)
	}
}

func TestCreateTaskFailure(t *testing.T) {
	t.Parallel()

	srv := newTestHandler(&fakeRunner{err: errors.New("provider unreachable")})
	defer srv.Close()

	body := `{"id":"task-2","input":{"message":"hi"}}`
	resp, err := http.Post(srv.URL+"/a2a/tasks", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	task := waitForTerminal(t, srv.URL, "task-2")
	if task.Status != "failed" || task.Error == "" {
		t.Errorf("task = %+v", task)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	t.Parallel()

	srv := newTestHandler(&fakeRunner{})
	defer srv.Close()

	cases := []struct {
		name string
		body string
		want int
	}{
		{"missing id", `{"input":{"message":"hi"}}`, http.StatusBadRequest},
		{"missing message", `{"id":"x","input":{}}`, http.StatusBadRequest},
		{"malformed json", `{{{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp, err := http.Post(srv.URL+"/a2a/tasks", "application/json", strings.NewReader(tc.body))
		if err != nil {
			t.Fatalf("%s: post: %v", tc.name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, resp.StatusCode, tc.want)
		}
	}
}

func TestCreateTaskDuplicateID(t *testing.T) {
	t.Parallel()

	srv := newTestHandler(&fakeRunner{reply: "ok"})
	defer srv.Close()

	body := `{"id":"dup","input":{"message":"hi"}}`
	resp, err := http.Post(srv.URL+"/a2a/tasks", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Post(srv.URL+"/a2a/tasks", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeBroadcaster) BroadcastEvent(_ context.Context, _, eventType string, _ any) {
	f.mu.Lock()
	f.events = append(f.events, eventType)
	f.mu.Unlock()
}

func TestTaskStatusBroadcast(t *testing.T) {
	t.Parallel()

	b := &fakeBroadcaster{}
	h := NewHandler("http://localhost:8080", &fakeRunner{reply: "ok"}, b)
	r := chi.NewRouter()
	h.MountRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	body := `{"id":"bcast","input":{"message":"hi"}}`
	resp, err := http.Post(srv.URL+"/a2a/tasks", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	waitForTerminal(t, srv.URL, "bcast")
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) < 2 {
		t.Errorf("expected running and terminal broadcasts, got %v", b.events)
	}
	for _, ev := range b.events {
		if ev != "a2a_task" {
			t.Errorf("event type = %s", ev)
		}
	}
}

func TestGetTaskNotFound(t *testing.T) {
	t.Parallel()

	srv := newTestHandler(&fakeRunner{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/a2a/tasks/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
