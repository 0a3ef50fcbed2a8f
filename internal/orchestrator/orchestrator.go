package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/atelierhq/atelier/pkg/models"
)

const (
	// DefaultMaxIterations bounds every run as a safety valve against
	// runaway loops.
	DefaultMaxIterations = 20
	// DefaultMaxFailures is the consecutive-failure streak that terminates
	// a run.
	DefaultMaxFailures = 3
)

// Orchestrator manages the model call and operation execution cycle.
type Orchestrator struct {
	completer     Completer
	registry      Registry
	broadcaster   Broadcaster
	onStream      func(StreamEvent)
	maxIterations int
	maxFailures   int
	log           zerolog.Logger
}

// Config contains configuration for an Orchestrator.
type Config struct {
	Completer   Completer
	Registry    Registry
	Broadcaster Broadcaster
	// MaxIterations caps model calls per run (0 = DefaultMaxIterations).
	MaxIterations int
	// MaxFailures is the consecutive failed-iteration streak that stops a
	// run (0 = DefaultMaxFailures).
	MaxFailures int
	Logger      zerolog.Logger
}

// New creates an Orchestrator with the given configuration.
func New(cfg Config) *Orchestrator {
	maxIter := cfg.MaxIterations
	if maxIter == 0 {
		maxIter = DefaultMaxIterations
	}
	maxFail := cfg.MaxFailures
	if maxFail == 0 {
		maxFail = DefaultMaxFailures
	}

	return &Orchestrator{
		completer:     cfg.Completer,
		registry:      cfg.Registry,
		broadcaster:   cfg.Broadcaster,
		maxIterations: maxIter,
		maxFailures:   maxFail,
		log:           cfg.Logger,
	}
}

// Run executes one orchestration run for the given project. The seed
// messages are replayed to the model verbatim; every message appended
// during the run is part of the returned transcript. The only error Run
// returns is a model transport failure; every other outcome is a defined
// stopping condition recorded in the transcript and the stop reason.
func (o *Orchestrator) Run(ctx context.Context, seed []models.Message, projectID string) (*RunResult, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("seed messages must not be empty")
	}

	result := &RunResult{
		Messages: append([]models.Message(nil), seed...),
	}

	var lastCallNames []string
	consecutiveFailures := 0

	for {
		reply, err := o.completer.Complete(ctx, result.Messages)
		if err != nil {
			// Fatal for the run, never retried. The transcript records the
			// failure so callers can persist and display it.
			result.Messages = append(result.Messages,
				models.NewSystemMessage(fmt.Sprintf("Model request failed: %v", err)))
			result.Reason = StopTransportError
			o.emit(StreamEvent{Type: "error", Content: err.Error(), IsError: true})
			return result, fmt.Errorf("model request failed: %w", err)
		}

		if reply == "" {
			result.Reason = StopEmptyReply
			o.emit(StreamEvent{Type: "done"})
			return result, nil
		}

		resp, err := ParseResponse(reply)
		if err != nil {
			// Not a control reply: keep the raw text verbatim as the final
			// assistant answer.
			result.Messages = append(result.Messages, models.NewAssistantMessage(reply))
			result.Reason = StopPlainText
			o.emit(StreamEvent{Type: "assistant", Content: reply})
			o.emit(StreamEvent{Type: "done"})
			return result, nil
		}

		result.Messages = append(result.Messages, models.NewAssistantMessage(resp.Explanation))
		o.emit(StreamEvent{Type: "assistant", Content: resp.Explanation})

		if len(resp.FunctionCalls) == 0 {
			o.broadcastMetaActions(resp.MetaActions)
			result.Reason = StopNoCalls
			o.emit(StreamEvent{Type: "done"})
			return result, nil
		}

		results, allOK := o.executeCalls(ctx, projectID, resp.FunctionCalls)
		result.Calls += len(results)

		for _, fr := range results {
			msg := summarizeResult(fr)
			result.Messages = append(result.Messages, models.NewSystemMessage(msg))
			o.emit(StreamEvent{
				Type:    "function_result",
				Name:    fr.FunctionName,
				Content: msg,
				IsError: fr.Status == StatusError,
			})
		}

		if allOK {
			consecutiveFailures = 0
		} else {
			consecutiveFailures++
			if consecutiveFailures >= o.maxFailures {
				result.Messages = append(result.Messages,
					models.NewSystemMessage("Multiple consecutive failures. Stopping the run."))
				result.Reason = StopFailureStreak
				o.emit(StreamEvent{Type: "done"})
				return result, nil
			}
			result.Messages = append(result.Messages,
				models.NewSystemMessage("Some function calls failed. Adjust your approach and try again."))
		}

		// Repeat detection looks back exactly one iteration. A-B-A-B
		// oscillation is deliberately not flagged.
		names := callNames(resp.FunctionCalls)
		if sameNames(names, lastCallNames) {
			result.Messages = append(result.Messages,
				models.NewSystemMessage("You are repeating the same function calls as the previous step. Try a different approach if you are stuck."))
		}
		lastCallNames = names

		o.broadcastMetaActions(resp.MetaActions)

		result.Iterations++
		if result.Iterations >= o.maxIterations {
			result.Messages = append(result.Messages,
				models.NewSystemMessage("Max iterations reached. Stopping the run."))
			result.Reason = StopMaxIterations
			o.emit(StreamEvent{Type: "done"})
			return result, nil
		}
	}
}

// executeCalls runs each call strictly in order. A failure in one call
// never prevents the next call in the same batch from executing.
func (o *Orchestrator) executeCalls(ctx context.Context, projectID string, calls []FunctionCall) ([]FunctionResult, bool) {
	results := make([]FunctionResult, 0, len(calls))
	allOK := true

	for _, call := range calls {
		o.emit(StreamEvent{Type: "function_call", Name: call.Name, Args: call.Arguments})

		handler, ok := o.registry.Lookup(call.Name)
		if !ok {
			results = append(results, FunctionResult{
				FunctionName: call.Name,
				Status:       StatusError,
				Error:        "Unknown function",
			})
			allOK = false
			continue
		}

		value, err := handler(ctx, projectID, call.Arguments)
		if err != nil {
			o.log.Debug().Str("function", call.Name).Err(err).Msg("function call failed")
			results = append(results, FunctionResult{
				FunctionName: call.Name,
				Status:       StatusError,
				Error:        err.Error(),
			})
			allOK = false
			continue
		}

		results = append(results, FunctionResult{
			FunctionName: call.Name,
			Status:       StatusSuccess,
			Result:       value,
		})
	}

	return results, allOK
}

func (o *Orchestrator) broadcastMetaActions(actions []MetaAction) {
	if o.broadcaster == nil {
		return
	}
	for _, action := range actions {
		o.broadcaster.Broadcast("meta_action", action)
	}
}

// summarizeResult renders one FunctionResult as the system message fed back
// to the model on the next iteration.
func summarizeResult(fr FunctionResult) string {
	if fr.Status == StatusError {
		return fmt.Sprintf("Function %s failed: %s", fr.FunctionName, fr.Error)
	}
	if fr.Result == nil {
		return fmt.Sprintf("Function %s completed successfully.", fr.FunctionName)
	}
	value, err := json.Marshal(fr.Result)
	if err != nil {
		return fmt.Sprintf("Function %s completed successfully.", fr.FunctionName)
	}
	return fmt.Sprintf("Function %s completed successfully. Result: %s", fr.FunctionName, truncate(string(value), 2000))
}

func callNames(calls []FunctionCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) || len(b) == 0 {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
