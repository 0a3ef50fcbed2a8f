package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/atelierhq/atelier/pkg/models"
)

// scriptedCompleter replies with a fixed sequence of model replies.
type scriptedCompleter struct {
	replies []string
	calls   int
	err     error
}

func (c *scriptedCompleter) Complete(ctx context.Context, messages []models.Message) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	if c.calls >= len(c.replies) {
		return "", fmt.Errorf("unexpected completion call %d", c.calls)
	}
	reply := c.replies[c.calls]
	c.calls++
	return reply, nil
}

// mapRegistry is a Registry backed by a plain map.
type mapRegistry map[string]Handler

func (r mapRegistry) Lookup(name string) (Handler, bool) {
	h, ok := r[name]
	return h, ok
}

// recordingBroadcaster captures broadcast events.
type recordingBroadcaster struct {
	events []string
}

func (b *recordingBroadcaster) Broadcast(event string, payload any) {
	b.events = append(b.events, event)
}

func okHandler(result any) Handler {
	return func(ctx context.Context, projectID string, args json.RawMessage) (any, error) {
		return result, nil
	}
}

func failHandler(msg string) Handler {
	return func(ctx context.Context, projectID string, args json.RawMessage) (any, error) {
		return nil, errors.New(msg)
	}
}

func controlReply(explanation string, calls ...string) string {
	type fc struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	fcs := make([]fc, len(calls))
	for i, name := range calls {
		fcs[i] = fc{Name: name, Arguments: json.RawMessage(`{}`)}
	}
	data, _ := json.Marshal(map[string]any{
		"explanation":    explanation,
		"function_calls": fcs,
	})
	return string(data)
}

func seedMessages() []models.Message {
	return []models.Message{models.NewUserMessage("build a todo app")}
}

func newTestOrchestrator(c Completer, r Registry, b Broadcaster) *Orchestrator {
	return New(Config{Completer: c, Registry: r, Broadcaster: b})
}

func TestRun_EmptySeedRejected(t *testing.T) {
	o := newTestOrchestrator(&scriptedCompleter{}, mapRegistry{}, nil)
	if _, err := o.Run(context.Background(), nil, "p1"); err == nil {
		t.Fatal("Run() with empty seed should return an error")
	}
}

func TestRun_EmptyReplyStops(t *testing.T) {
	c := &scriptedCompleter{replies: []string{""}}
	o := newTestOrchestrator(c, mapRegistry{}, nil)

	result, err := o.Run(context.Background(), seedMessages(), "p1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Reason != StopEmptyReply {
		t.Errorf("Reason = %q, want %q", result.Reason, StopEmptyReply)
	}
	if len(result.Messages) != 1 {
		t.Errorf("transcript length = %d, want 1 (seed only)", len(result.Messages))
	}
}

func TestRun_PlainTextReplyKeptVerbatim(t *testing.T) {
	reply := "Here is your answer: the app is done, no JSON today."
	c := &scriptedCompleter{replies: []string{reply}}
	o := newTestOrchestrator(c, mapRegistry{}, nil)

	result, err := o.Run(context.Background(), seedMessages(), "p1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Reason != StopPlainText {
		t.Errorf("Reason = %q, want %q", result.Reason, StopPlainText)
	}
	last := result.Messages[len(result.Messages)-1]
	if last.Role != models.RoleAssistant {
		t.Errorf("last message role = %q, want assistant", last.Role)
	}
	if last.Content != reply {
		t.Errorf("last message = %q, want raw reply verbatim", last.Content)
	}
}

func TestRun_NoCallsStopsAfterAppendingExplanation(t *testing.T) {
	c := &scriptedCompleter{replies: []string{controlReply("All done.")}}
	b := &recordingBroadcaster{}
	o := newTestOrchestrator(c, mapRegistry{}, b)

	result, err := o.Run(context.Background(), seedMessages(), "p1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Reason != StopNoCalls {
		t.Errorf("Reason = %q, want %q", result.Reason, StopNoCalls)
	}
	last := result.Messages[len(result.Messages)-1]
	if last.Role != models.RoleAssistant || last.Content != "All done." {
		t.Errorf("last message = %+v, want assistant explanation", last)
	}
}

func TestRun_SuccessfulCallProducesSystemResult(t *testing.T) {
	c := &scriptedCompleter{replies: []string{
		controlReply("Writing the file.", "writeFile"),
		controlReply("Done."),
	}}
	reg := mapRegistry{"writeFile": okHandler(map[string]string{"filename": "a.txt"})}
	o := newTestOrchestrator(c, reg, nil)

	result, err := o.Run(context.Background(), seedMessages(), "p1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Calls != 1 {
		t.Errorf("Calls = %d, want 1", result.Calls)
	}
	if result.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", result.Iterations)
	}

	var found bool
	for _, m := range result.Messages {
		if m.Role == models.RoleSystem && strings.Contains(m.Content, "Function writeFile completed successfully") {
			found = true
		}
	}
	if !found {
		t.Error("transcript missing success system message for writeFile")
	}
}

func TestRun_UnknownFunctionReportedNotFatal(t *testing.T) {
	c := &scriptedCompleter{replies: []string{
		controlReply("Trying something odd.", "frobnicate"),
		controlReply("Giving up."),
	}}
	o := newTestOrchestrator(c, mapRegistry{}, nil)

	result, err := o.Run(context.Background(), seedMessages(), "p1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Reason != StopNoCalls {
		t.Errorf("Reason = %q, want %q (run should continue past unknown function)", result.Reason, StopNoCalls)
	}

	var found bool
	for _, m := range result.Messages {
		if m.Role == models.RoleSystem && strings.Contains(m.Content, "Function frobnicate failed: Unknown function") {
			found = true
		}
	}
	if !found {
		t.Error("transcript missing unknown-function error message")
	}
}

func TestRun_BatchContinuesPastFailure(t *testing.T) {
	var order []string
	reg := mapRegistry{
		"first": func(ctx context.Context, projectID string, args json.RawMessage) (any, error) {
			order = append(order, "first")
			return nil, errors.New("boom")
		},
		"second": func(ctx context.Context, projectID string, args json.RawMessage) (any, error) {
			order = append(order, "second")
			return "ok", nil
		},
	}
	c := &scriptedCompleter{replies: []string{
		controlReply("Two calls.", "first", "second"),
		controlReply("Done."),
	}}
	o := newTestOrchestrator(c, reg, nil)

	result, err := o.Run(context.Background(), seedMessages(), "p1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("execution order = %v, want [first second]", order)
	}
	if result.Calls != 2 {
		t.Errorf("Calls = %d, want 2", result.Calls)
	}
}

func TestRun_FailureStreakStopsRun(t *testing.T) {
	reg := mapRegistry{"breakStuff": failHandler("nope")}
	c := &scriptedCompleter{replies: []string{
		controlReply("Attempt 1.", "breakStuff"),
		controlReply("Attempt 2.", "breakStuff"),
		controlReply("Attempt 3.", "breakStuff"),
	}}
	o := newTestOrchestrator(c, reg, nil)

	result, err := o.Run(context.Background(), seedMessages(), "p1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Reason != StopFailureStreak {
		t.Errorf("Reason = %q, want %q", result.Reason, StopFailureStreak)
	}
	if c.calls != 3 {
		t.Errorf("completer calls = %d, want 3", c.calls)
	}
	last := result.Messages[len(result.Messages)-1]
	if !strings.Contains(last.Content, "Multiple consecutive failures") {
		t.Errorf("last message = %q, want failure-streak notice", last.Content)
	}
}

func TestRun_SuccessResetsFailureStreak(t *testing.T) {
	reg := mapRegistry{
		"breakStuff": failHandler("nope"),
		"fixStuff":   okHandler("ok"),
	}
	c := &scriptedCompleter{replies: []string{
		controlReply("Attempt 1.", "breakStuff"),
		controlReply("Attempt 2.", "breakStuff"),
		controlReply("Recover.", "fixStuff"),
		controlReply("Attempt 3.", "breakStuff"),
		controlReply("Attempt 4.", "breakStuff"),
		controlReply("Done."),
	}}
	o := newTestOrchestrator(c, reg, nil)

	result, err := o.Run(context.Background(), seedMessages(), "p1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// Streak resets after the successful iteration, so two more failures do
	// not reach the threshold of three.
	if result.Reason != StopNoCalls {
		t.Errorf("Reason = %q, want %q", result.Reason, StopNoCalls)
	}
}

func TestRun_RepeatedCallsWarnOnce(t *testing.T) {
	reg := mapRegistry{"listFiles": okHandler([]string{"a.txt"})}
	c := &scriptedCompleter{replies: []string{
		controlReply("Listing.", "listFiles"),
		controlReply("Listing again.", "listFiles"),
		controlReply("Done."),
	}}
	o := newTestOrchestrator(c, reg, nil)

	result, err := o.Run(context.Background(), seedMessages(), "p1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	warnings := 0
	for _, m := range result.Messages {
		if strings.Contains(m.Content, "repeating the same function calls") {
			warnings++
		}
	}
	if warnings != 1 {
		t.Errorf("repeat warnings = %d, want 1", warnings)
	}
}

func TestRun_MaxIterationsStops(t *testing.T) {
	reg := mapRegistry{"ping": okHandler("pong")}
	replies := make([]string, 25)
	for i := range replies {
		replies[i] = controlReply(fmt.Sprintf("Iteration %d.", i), "ping")
	}
	c := &scriptedCompleter{replies: replies}
	o := newTestOrchestrator(c, reg, nil)

	result, err := o.Run(context.Background(), seedMessages(), "p1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Reason != StopMaxIterations {
		t.Errorf("Reason = %q, want %q", result.Reason, StopMaxIterations)
	}
	if result.Iterations != DefaultMaxIterations {
		t.Errorf("Iterations = %d, want %d", result.Iterations, DefaultMaxIterations)
	}
	last := result.Messages[len(result.Messages)-1]
	if !strings.Contains(last.Content, "Max iterations reached") {
		t.Errorf("last message = %q, want max-iterations notice", last.Content)
	}
}

func TestRun_TransportErrorRecordedAndReturned(t *testing.T) {
	c := &scriptedCompleter{err: errors.New("connection refused")}
	o := newTestOrchestrator(c, mapRegistry{}, nil)

	result, err := o.Run(context.Background(), seedMessages(), "p1")
	if err == nil {
		t.Fatal("Run() should return the transport error")
	}
	if result == nil {
		t.Fatal("Run() should return the partial transcript alongside the error")
	}
	if result.Reason != StopTransportError {
		t.Errorf("Reason = %q, want %q", result.Reason, StopTransportError)
	}
	last := result.Messages[len(result.Messages)-1]
	if last.Role != models.RoleSystem || !strings.Contains(last.Content, "Model request failed") {
		t.Errorf("last message = %+v, want transport failure system message", last)
	}
}

func TestRun_MetaActionsBroadcast(t *testing.T) {
	reply := `{"explanation": "Refreshing.", "function_calls": [], "meta_actions": [{"action": "notify", "target": "ui"}, {"action": "notify", "target": "logs"}]}`
	c := &scriptedCompleter{replies: []string{reply}}
	b := &recordingBroadcaster{}
	o := newTestOrchestrator(c, mapRegistry{}, b)

	if _, err := o.Run(context.Background(), seedMessages(), "p1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(b.events) != 2 {
		t.Errorf("broadcast events = %d, want 2", len(b.events))
	}
	for _, ev := range b.events {
		if ev != "meta_action" {
			t.Errorf("event = %q, want meta_action", ev)
		}
	}
}

func TestRun_SeedNeverMutated(t *testing.T) {
	seed := seedMessages()
	c := &scriptedCompleter{replies: []string{controlReply("Done.")}}
	o := newTestOrchestrator(c, mapRegistry{}, nil)

	result, err := o.Run(context.Background(), seed, "p1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(seed) != 1 {
		t.Errorf("seed length changed to %d", len(seed))
	}
	if len(result.Messages) != 2 {
		t.Errorf("transcript length = %d, want seed + explanation", len(result.Messages))
	}
}
