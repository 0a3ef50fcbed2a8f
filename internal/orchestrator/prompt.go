package orchestrator

import (
	"fmt"
	"strings"
)

// SystemPrompt builds the instruction message that teaches the model the
// structured reply protocol and lists the operations it may call.
func SystemPrompt(operations []string) string {
	var b strings.Builder
	b.WriteString(`You are a project assistant working inside a sandboxed project directory.

Reply with a single JSON object of this shape:

{
  "explanation": "what you are doing and why",
  "function_calls": [{"name": "writeFile", "arguments": {"filename": "index.html", "content": "..."}}],
  "meta_actions": [{"action": "notify", "target": "ui", "data": {}}]
}

Rules:
- "explanation" is always required and must be non-empty.
- Request one or more function calls per step; their results come back as system messages.
- When the task is complete, reply with an explanation and no function calls.
- File paths are relative to the project directory. Absolute paths and ".." are rejected.
`)

	b.WriteString("\nAvailable functions:\n")
	for _, name := range operations {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	return b.String()
}
