// Package orchestrator drives the iterative model-propose / system-execute
// loop for a single project: it sends conversation state to a language
// model, executes the operations the model proposes against the project
// sandbox, broadcasts UI meta-actions, and decides when to stop.
package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/atelierhq/atelier/pkg/models"
)

// Completer is the language model contract the orchestrator depends on.
// Implementations send the ordered message sequence and return one reply's
// text content.
type Completer interface {
	Complete(ctx context.Context, messages []models.Message) (string, error)
}

// Broadcaster delivers named events with payloads to any connected
// observers. Fire-and-forget: no acknowledgement, no ordering guarantee
// across distinct subscribers.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Handler executes one named operation against a project. The returned
// value is included in the FunctionResult on success; a non-nil error marks
// the call as failed without aborting the rest of the batch.
type Handler func(ctx context.Context, projectID string, args json.RawMessage) (any, error)

// Registry resolves operation names to handlers. The operation set is
// closed and injected; the orchestrator never registers operations itself.
type Registry interface {
	Lookup(name string) (Handler, bool)
}

// FunctionCall is a model-proposed request to perform a named operation.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// MetaAction is a model-proposed UI notification. It carries no execution
// semantics; it is broadcast verbatim to observers.
type MetaAction struct {
	Action string         `json:"action"`
	Target string         `json:"target"`
	Data   map[string]any `json:"data"`
}

// ModelResponse is the structured reply extracted from the model's text.
type ModelResponse struct {
	Explanation   string         `json:"explanation"`
	FunctionCalls []FunctionCall `json:"function_calls"`
	MetaActions   []MetaAction   `json:"meta_actions"`
}

// ResultStatus marks a FunctionResult as success or error.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusError   ResultStatus = "error"
)

// FunctionResult records the outcome of one function call. It is produced
// once per call per iteration and never mutated afterwards.
type FunctionResult struct {
	FunctionName string       `json:"function_name"`
	Status       ResultStatus `json:"status"`
	Result       any          `json:"result,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// StopReason explains why a run terminated.
type StopReason string

const (
	StopEmptyReply     StopReason = "empty_reply"
	StopPlainText      StopReason = "plain_text"
	StopNoCalls        StopReason = "no_function_calls"
	StopFailureStreak  StopReason = "consecutive_failures"
	StopMaxIterations  StopReason = "max_iterations"
	StopTransportError StopReason = "transport_error"
)

// RunResult is the outcome of one orchestration run: the full appended
// message sequence plus accounting the caller may persist or display.
type RunResult struct {
	Messages   []models.Message
	Iterations int
	Calls      int
	Reason     StopReason
}
