package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/atelierhq/atelier/internal/config"
	"github.com/atelierhq/atelier/internal/history"
	"github.com/atelierhq/atelier/internal/llm"
	"github.com/atelierhq/atelier/internal/notify"
	"github.com/atelierhq/atelier/internal/ops"
	"github.com/atelierhq/atelier/internal/orchestrator"
	"github.com/atelierhq/atelier/internal/procs"
	"github.com/atelierhq/atelier/internal/sandbox"
	"github.com/atelierhq/atelier/pkg/models"
)

// scriptedCompleter replies with a fixed sequence of model replies.
type scriptedCompleter struct {
	replies []string
	calls   int
}

func (c *scriptedCompleter) Complete(ctx context.Context, messages []models.Message) (string, error) {
	if c.calls >= len(c.replies) {
		return "", fmt.Errorf("unexpected completion call %d", c.calls)
	}
	reply := c.replies[c.calls]
	c.calls++
	return reply, nil
}

func newTestServer(t *testing.T, replies ...string) (*httptest.Server, *history.DB) {
	t.Helper()
	log := zerolog.Nop()
	cfg := config.Default()
	cfg.Workspace.Root = t.TempDir()

	db, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open history db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate history db: %v", err)
	}

	client, err := llm.NewClient(llm.ClientConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("create llm client: %v", err)
	}

	box := sandbox.New(cfg.Workspace.Root)
	bus := notify.NewBus(64, log)
	t.Cleanup(bus.Close)
	pm := procs.NewManager(log)
	t.Cleanup(pm.StopAll)
	hub := notify.NewHub(log)

	registry := ops.New(ops.Deps{
		Sandbox:     box,
		Procs:       pm,
		Broadcaster: bus,
		Logger:      log,
	})

	orch := orchestrator.New(orchestrator.Config{
		Completer:   &scriptedCompleter{replies: replies},
		Registry:    registry,
		Broadcaster: bus,
		Logger:      log,
	})

	s := New(Deps{
		Config:       cfg,
		Orchestrator: orch,
		Registry:     registry,
		Client:       client,
		DB:           db,
		Sandbox:      box,
		Bus:          bus,
		Hub:          hub,
		Procs:        pm,
		Logger:       log,
	})

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, db
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestChat_PlainTextReply(t *testing.T) {
	ts, db := newTestServer(t, "Your app is already perfect.")

	resp := postJSON(t, ts.URL+"/api/projects/p1/chat", map[string]string{"message": "improve my app"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body chatResponse
	decodeBody(t, resp, &body)
	if body.Reply != "Your app is already perfect." {
		t.Errorf("reply = %q", body.Reply)
	}
	if body.StopReason != string(orchestrator.StopPlainText) {
		t.Errorf("stop_reason = %q", body.StopReason)
	}

	// User message and assistant reply were persisted.
	messages, err := db.AllMessages("p1")
	if err != nil {
		t.Fatalf("AllMessages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("persisted messages = %d, want 2", len(messages))
	}
	if messages[0].Role != models.RoleUser || messages[1].Role != models.RoleAssistant {
		t.Errorf("persisted roles = %q, %q", messages[0].Role, messages[1].Role)
	}
}

func TestChat_RunWithFunctionCalls(t *testing.T) {
	ts, _ := newTestServer(t,
		`{"explanation": "Creating the page.", "function_calls": [{"name": "createFile", "arguments": {"filename": "index.html", "content": "<h1>hi</h1>"}}]}`,
		`{"explanation": "Done.", "function_calls": []}`,
	)

	resp := postJSON(t, ts.URL+"/api/projects/p1/chat", map[string]string{"message": "make a page"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body chatResponse
	decodeBody(t, resp, &body)
	if body.Reply != "Done." {
		t.Errorf("reply = %q", body.Reply)
	}
	if body.Calls != 1 || body.Iterations != 1 {
		t.Errorf("calls = %d, iterations = %d", body.Calls, body.Iterations)
	}

	// The file landed in the sandbox and is readable over HTTP.
	fileResp, err := http.Get(ts.URL + "/api/projects/p1/files/index.html")
	if err != nil {
		t.Fatalf("GET file: %v", err)
	}
	if fileResp.StatusCode != http.StatusOK {
		t.Fatalf("file status = %d, want 200", fileResp.StatusCode)
	}
	var file map[string]any
	decodeBody(t, fileResp, &file)
	if file["content"] != "<h1>hi</h1>" {
		t.Errorf("file content = %v", file["content"])
	}
}

func TestChat_BadRequests(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/projects/p1/chat", map[string]string{"message": "   "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty message status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/projects/.hidden/chat", map[string]string{"message": "hi"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad project id status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestFiles_WriteAndList(t *testing.T) {
	ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/projects/p1/files/notes.md", strings.NewReader("# hello"))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT file: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	listResp, err := http.Get(ts.URL + "/api/projects/p1/files")
	if err != nil {
		t.Fatalf("GET files: %v", err)
	}
	var body struct {
		Files []string `json:"files"`
	}
	decodeBody(t, listResp, &body)
	if len(body.Files) != 1 || body.Files[0] != "notes.md" {
		t.Errorf("files = %v", body.Files)
	}
}

func TestFiles_Errors(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/projects/p1/files/missing.txt")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing file status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/projects/p1/files/tool.exe", strings.NewReader("MZ"))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("denied extension status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestProjects_CreateAndList(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/projects", map[string]string{"id": "alpha"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	resp.Body.Close()

	listResp, err := http.Get(ts.URL + "/api/projects")
	if err != nil {
		t.Fatalf("GET projects: %v", err)
	}
	var body struct {
		Projects []string `json:"projects"`
	}
	decodeBody(t, listResp, &body)
	if len(body.Projects) != 1 || body.Projects[0] != "alpha" {
		t.Errorf("projects = %v", body.Projects)
	}
}

func TestMessages_ListAndClear(t *testing.T) {
	ts, db := newTestServer(t)

	if err := db.AppendMessage("p1", models.NewUserMessage("hello")); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/projects/p1/messages")
	if err != nil {
		t.Fatalf("GET messages: %v", err)
	}
	var body struct {
		Messages []models.Message `json:"messages"`
	}
	decodeBody(t, resp, &body)
	if len(body.Messages) != 1 {
		t.Errorf("messages = %d, want 1", len(body.Messages))
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/projects/p1/messages", nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE messages: %v", err)
	}
	if delResp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", delResp.StatusCode)
	}
	delResp.Body.Close()

	got, _ := db.AllMessages("p1")
	if len(got) != 0 {
		t.Errorf("messages after clear = %d, want 0", len(got))
	}
}

func TestRuns_RecordedForChat(t *testing.T) {
	ts, db := newTestServer(t, `{"explanation": "Nothing to do.", "function_calls": []}`)

	resp := postJSON(t, ts.URL+"/api/projects/p1/chat", map[string]string{"message": "noop"})
	resp.Body.Close()

	runs, err := db.ListRuns("p1")
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	if runs[0].StopReason != string(orchestrator.StopNoCalls) {
		t.Errorf("stop reason = %q", runs[0].StopReason)
	}
	if runs[0].FinishedAt == nil {
		t.Error("run should be finished")
	}
}
