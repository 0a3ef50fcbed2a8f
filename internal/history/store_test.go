package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/atelierhq/atelier/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func TestAppendAndReadMessages(t *testing.T) {
	db := openTestDB(t)

	msgs := []models.Message{
		models.NewUserMessage("hello"),
		models.NewAssistantMessage("hi there"),
		models.NewSystemMessage("Function writeFile completed successfully."),
	}
	if err := db.AppendMessages("p1", msgs); err != nil {
		t.Fatalf("AppendMessages() error = %v", err)
	}

	got, err := db.AllMessages("p1")
	if err != nil {
		t.Fatalf("AllMessages() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("AllMessages() = %d messages, want 3", len(got))
	}
	for i := range msgs {
		if got[i].Role != msgs[i].Role || got[i].Content != msgs[i].Content {
			t.Errorf("message[%d] = %+v, want %+v", i, got[i], msgs[i])
		}
	}
}

func TestLastN_ReturnsTailInOrder(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 5; i++ {
		msg := models.NewUserMessage(string(rune('a' + i)))
		if err := db.AppendMessage("p1", msg); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	got, err := db.LastN("p1", 2)
	if err != nil {
		t.Fatalf("LastN() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("LastN(2) = %d messages, want 2", len(got))
	}
	if got[0].Content != "d" || got[1].Content != "e" {
		t.Errorf("LastN(2) = [%q, %q], want oldest-first tail [d, e]", got[0].Content, got[1].Content)
	}
}

func TestMessages_ProjectScoped(t *testing.T) {
	db := openTestDB(t)

	if err := db.AppendMessage("p1", models.NewUserMessage("one")); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if err := db.AppendMessage("p2", models.NewUserMessage("two")); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	got, err := db.AllMessages("p1")
	if err != nil {
		t.Fatalf("AllMessages() error = %v", err)
	}
	if len(got) != 1 || got[0].Content != "one" {
		t.Errorf("AllMessages(p1) = %+v, want only p1 messages", got)
	}
}

func TestClearMessages(t *testing.T) {
	db := openTestDB(t)

	if err := db.AppendMessage("p1", models.NewUserMessage("bye")); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if err := db.ClearMessages("p1"); err != nil {
		t.Fatalf("ClearMessages() error = %v", err)
	}
	got, err := db.AllMessages("p1")
	if err != nil {
		t.Fatalf("AllMessages() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("AllMessages() after clear = %d messages, want 0", len(got))
	}
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)

	run := &Run{
		ID:        "run-1",
		ProjectID: "p1",
		StartedAt: time.Now(),
	}
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	now := time.Now()
	run.Iterations = 4
	run.Calls = 7
	run.StopReason = "no_calls"
	run.InputTokens = 1200
	run.OutputTokens = 900
	run.FinishedAt = &now
	if err := db.FinishRun(run); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	runs, err := db.ListRuns("p1")
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("ListRuns() = %d runs, want 1", len(runs))
	}
	got := runs[0]
	if got.Iterations != 4 || got.Calls != 7 || got.StopReason != "no_calls" {
		t.Errorf("run = %+v", got)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt should be set after FinishRun")
	}
}
