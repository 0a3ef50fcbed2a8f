package models

import (
	"fmt"
	"strings"
	"time"
)

// Project identifies one sandboxed workspace that orchestration runs
// operate on.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidateProjectID rejects identifiers that could escape the workspace
// root when joined into a filesystem path.
func ValidateProjectID(id string) error {
	if id == "" {
		return fmt.Errorf("project id is empty")
	}
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return fmt.Errorf("project id %q contains path separators", id)
	}
	if strings.HasPrefix(id, ".") {
		return fmt.Errorf("project id %q starts with a dot", id)
	}
	return nil
}
