// Package ops implements the closed set of operations the model may
// propose during an orchestration run: sandboxed file access, project
// process control, data queries, and UI notifications.
package ops

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/atelierhq/atelier/internal/orchestrator"
	"github.com/atelierhq/atelier/internal/procs"
	"github.com/atelierhq/atelier/internal/sandbox"
)

// Registry maps operation names to handlers. The set is fixed at
// construction; nothing registers operations at runtime.
type Registry struct {
	handlers map[string]orchestrator.Handler
}

// Deps are the collaborators operation handlers execute against.
type Deps struct {
	Sandbox     *sandbox.Sandbox
	Procs       *procs.Manager
	Broadcaster orchestrator.Broadcaster
	Logger      zerolog.Logger
}

// New builds the registry with every supported operation wired to its
// collaborators.
func New(deps Deps) *Registry {
	r := &Registry{handlers: make(map[string]orchestrator.Handler)}

	r.handlers["readFile"] = deps.readFile
	r.handlers["writeFile"] = deps.writeFile
	r.handlers["createFile"] = deps.createFile
	r.handlers["deleteFile"] = deps.deleteFile
	r.handlers["listFiles"] = deps.listFiles

	r.handlers["startProcess"] = deps.startProcess
	r.handlers["stopProcess"] = deps.stopProcess
	r.handlers["restartProcess"] = deps.restartProcess
	r.handlers["displayLogs"] = deps.displayLogs

	r.handlers["runQuery"] = deps.runQuery

	r.handlers["refreshUI"] = deps.refreshUI
	r.handlers["createChart"] = deps.createChart
	r.handlers["renderTable"] = deps.renderTable

	return r
}

// Lookup implements orchestrator.Registry.
func (r *Registry) Lookup(name string) (orchestrator.Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered operation names. Used for prompt assembly
// and diagnostics.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decode unmarshals an operation's argument bag into its typed struct.
func decode(args json.RawMessage, v any) error {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
