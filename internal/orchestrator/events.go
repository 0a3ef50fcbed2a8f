package orchestrator

import "encoding/json"

// StreamEvent represents an event during a run for streaming to a UI.
type StreamEvent struct {
	Type    string // "assistant", "function_call", "function_result", "system", "done", "error"
	Content string
	Name    string
	Args    json.RawMessage
	IsError bool
}

// SetStreamHandler sets a callback for streaming events during execution.
func (o *Orchestrator) SetStreamHandler(fn func(StreamEvent)) {
	o.onStream = fn
}

// emit sends a stream event if a handler is configured.
func (o *Orchestrator) emit(event StreamEvent) {
	if o.onStream != nil {
		o.onStream(event)
	}
}
