package ops

import (
	"context"
	"encoding/json"
	"fmt"
)

func (d Deps) refreshUI(ctx context.Context, projectID string, args json.RawMessage) (any, error) {
	var params struct {
		Target string `json:"target"`
	}
	if err := decode(args, &params); err != nil {
		return nil, err
	}

	d.Broadcaster.Broadcast("refresh", map[string]any{
		"project_id": projectID,
		"target":     params.Target,
	})
	return "refresh requested", nil
}

func (d Deps) createChart(ctx context.Context, projectID string, args json.RawMessage) (any, error) {
	var params struct {
		Title string `json:"title"`
		Kind  string `json:"kind"`
		Data  any    `json:"data"`
	}
	if err := decode(args, &params); err != nil {
		return nil, err
	}
	if params.Data == nil {
		return nil, fmt.Errorf("data is required")
	}
	if params.Kind == "" {
		params.Kind = "bar"
	}

	d.Broadcaster.Broadcast("chart", map[string]any{
		"project_id": projectID,
		"title":      params.Title,
		"kind":       params.Kind,
		"data":       params.Data,
	})
	return fmt.Sprintf("chart %q sent to UI", params.Title), nil
}

func (d Deps) renderTable(ctx context.Context, projectID string, args json.RawMessage) (any, error) {
	var params struct {
		Title   string   `json:"title"`
		Columns []string `json:"columns"`
		Rows    [][]any  `json:"rows"`
	}
	if err := decode(args, &params); err != nil {
		return nil, err
	}
	if len(params.Columns) == 0 {
		return nil, fmt.Errorf("columns are required")
	}

	d.Broadcaster.Broadcast("table", map[string]any{
		"project_id": projectID,
		"title":      params.Title,
		"columns":    params.Columns,
		"rows":       params.Rows,
	})
	return fmt.Sprintf("table %q sent to UI", params.Title), nil
}
