package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/atelierhq/atelier/pkg/models"
)

// Run records one orchestration run for a project.
type Run struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	Iterations   int        `json:"iterations"`
	Calls        int        `json:"calls"`
	StopReason   string     `json:"stop_reason"`
	InputTokens  int64      `json:"input_tokens"`
	OutputTokens int64      `json:"output_tokens"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
}

// AppendMessage appends one message to a project's log.
func (db *DB) AppendMessage(projectID string, m models.Message) error {
	_, err := db.Exec(`
		INSERT INTO messages (project_id, role, content, created_at)
		VALUES (?, ?, ?, ?)
	`, projectID, string(m.Role), m.Content, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// AppendMessages appends a batch of messages in order within one
// transaction.
func (db *DB) AppendMessages(projectID string, messages []models.Message) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	now := formatTime(time.Now())
	for _, m := range messages {
		if _, err := tx.Exec(`
			INSERT INTO messages (project_id, role, content, created_at)
			VALUES (?, ?, ?, ?)
		`, projectID, string(m.Role), m.Content, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("append message: %w", err)
		}
	}

	return tx.Commit()
}

// LastN returns the most recent n messages for a project in insertion
// order.
func (db *DB) LastN(projectID string, n int) ([]models.Message, error) {
	rows, err := db.Query(`
		SELECT role, content FROM (
			SELECT id, role, content FROM messages
			WHERE project_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, projectID, n)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// AllMessages returns the full message log for a project in insertion
// order.
func (db *DB) AllMessages(projectID string) ([]models.Message, error) {
	rows, err := db.Query(`
		SELECT role, content FROM messages
		WHERE project_id = ? ORDER BY id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// ClearMessages deletes a project's message log.
func (db *DB) ClearMessages(projectID string) error {
	_, err := db.Exec("DELETE FROM messages WHERE project_id = ?", projectID)
	if err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	var messages []models.Message
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, models.Message{Role: models.Role(role), Content: content})
	}
	return messages, rows.Err()
}

// CreateRun records the start of an orchestration run.
func (db *DB) CreateRun(r *Run) error {
	_, err := db.Exec(`
		INSERT INTO runs (id, project_id, iterations, calls, stop_reason, input_tokens, output_tokens, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.ProjectID, r.Iterations, r.Calls, r.StopReason, r.InputTokens, r.OutputTokens, formatTime(r.StartedAt))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun records a run's outcome.
func (db *DB) FinishRun(r *Run) error {
	var finishedAt *string
	if r.FinishedAt != nil {
		s := formatTime(*r.FinishedAt)
		finishedAt = &s
	}
	_, err := db.Exec(`
		UPDATE runs SET iterations = ?, calls = ?, stop_reason = ?, input_tokens = ?, output_tokens = ?, finished_at = ?
		WHERE id = ?
	`, r.Iterations, r.Calls, r.StopReason, r.InputTokens, r.OutputTokens, finishedAt, r.ID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// ListRuns returns a project's runs, most recent first.
func (db *DB) ListRuns(projectID string) ([]Run, error) {
	rows, err := db.Query(`
		SELECT id, project_id, iterations, calls, stop_reason, input_tokens, output_tokens, started_at, finished_at
		FROM runs WHERE project_id = ? ORDER BY started_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedAt string
		var finishedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Iterations, &r.Calls, &r.StopReason,
			&r.InputTokens, &r.OutputTokens, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, _ = parseTime(startedAt)
		if finishedAt.Valid {
			t, err := parseTime(finishedAt.String)
			if err == nil {
				r.FinishedAt = &t
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
