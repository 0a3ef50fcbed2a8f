package ops

import (
	"context"
	"encoding/json"
	"fmt"
)

func (d Deps) readFile(ctx context.Context, projectID string, args json.RawMessage) (any, error) {
	var params struct {
		Filename string `json:"filename"`
	}
	if err := decode(args, &params); err != nil {
		return nil, err
	}
	if params.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}

	content, err := d.Sandbox.Read(projectID, params.Filename)
	if err != nil {
		return nil, err
	}
	return map[string]any{"filename": params.Filename, "content": content}, nil
}

func (d Deps) writeFile(ctx context.Context, projectID string, args json.RawMessage) (any, error) {
	var params struct {
		Filename string `json:"filename"`
		Content  string `json:"content"`
	}
	if err := decode(args, &params); err != nil {
		return nil, err
	}
	if params.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}

	if err := d.Sandbox.Write(projectID, params.Filename, params.Content); err != nil {
		return nil, err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(params.Content), params.Filename), nil
}

func (d Deps) createFile(ctx context.Context, projectID string, args json.RawMessage) (any, error) {
	var params struct {
		Filename string `json:"filename"`
		Content  string `json:"content"`
	}
	if err := decode(args, &params); err != nil {
		return nil, err
	}
	if params.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}

	if err := d.Sandbox.Create(projectID, params.Filename, params.Content); err != nil {
		return nil, err
	}
	return fmt.Sprintf("created %s", params.Filename), nil
}

func (d Deps) deleteFile(ctx context.Context, projectID string, args json.RawMessage) (any, error) {
	var params struct {
		Filename string `json:"filename"`
	}
	if err := decode(args, &params); err != nil {
		return nil, err
	}
	if params.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}

	if err := d.Sandbox.Delete(projectID, params.Filename); err != nil {
		return nil, err
	}
	return fmt.Sprintf("deleted %s", params.Filename), nil
}

func (d Deps) listFiles(ctx context.Context, projectID string, args json.RawMessage) (any, error) {
	files, err := d.Sandbox.List(projectID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"files": files}, nil
}
