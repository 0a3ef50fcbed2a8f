package ops

import (
	"context"
	"encoding/json"
	"fmt"
)

func (d Deps) startProcess(ctx context.Context, projectID string, args json.RawMessage) (any, error) {
	var params struct {
		Name    string `json:"name"`
		Command string `json:"command"`
	}
	if err := decode(args, &params); err != nil {
		return nil, err
	}
	if params.Name == "" || params.Command == "" {
		return nil, fmt.Errorf("name and command are required")
	}

	dir, err := d.Sandbox.ProjectDir(projectID)
	if err != nil {
		return nil, err
	}
	if err := d.Procs.Start(projectID, params.Name, params.Command, dir); err != nil {
		return nil, err
	}

	d.Broadcaster.Broadcast("process_started", map[string]any{
		"project_id": projectID,
		"name":       params.Name,
	})
	return fmt.Sprintf("started process %s", params.Name), nil
}

func (d Deps) stopProcess(ctx context.Context, projectID string, args json.RawMessage) (any, error) {
	var params struct {
		Name string `json:"name"`
	}
	if err := decode(args, &params); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	if err := d.Procs.Stop(projectID, params.Name); err != nil {
		return nil, err
	}

	d.Broadcaster.Broadcast("process_stopped", map[string]any{
		"project_id": projectID,
		"name":       params.Name,
	})
	return fmt.Sprintf("stopped process %s", params.Name), nil
}

func (d Deps) restartProcess(ctx context.Context, projectID string, args json.RawMessage) (any, error) {
	var params struct {
		Name string `json:"name"`
	}
	if err := decode(args, &params); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	if err := d.Procs.Restart(projectID, params.Name); err != nil {
		return nil, err
	}

	d.Broadcaster.Broadcast("process_restarted", map[string]any{
		"project_id": projectID,
		"name":       params.Name,
	})
	return fmt.Sprintf("restarted process %s", params.Name), nil
}

func (d Deps) displayLogs(ctx context.Context, projectID string, args json.RawMessage) (any, error) {
	var params struct {
		Name  string `json:"name"`
		Lines int    `json:"lines"`
	}
	if err := decode(args, &params); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if params.Lines == 0 {
		params.Lines = 50
	}

	lines, err := d.Procs.Logs(projectID, params.Name, params.Lines)
	if err != nil {
		return nil, err
	}

	d.Broadcaster.Broadcast("logs", map[string]any{
		"project_id": projectID,
		"name":       params.Name,
		"lines":      lines,
	})
	return map[string]any{"name": params.Name, "lines": lines}, nil
}
