package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy controls which files orchestration runs may touch in a project.
type Policy struct {
	// AllowedExtensions is the extension allow-list, entries with a
	// leading dot ("" entry allows extensionless files).
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

// defaultExtensions covers the file kinds the studio editor handles.
var defaultExtensions = []string{
	".html", ".css", ".js", ".jsx", ".ts", ".tsx",
	".json", ".yaml", ".yml", ".md", ".txt",
	".svg", ".csv", ".sql", ".py", ".go",
}

// DefaultPolicy returns the built-in policy used when a project carries no
// policy file.
func DefaultPolicy() *Policy {
	return &Policy{AllowedExtensions: append([]string(nil), defaultExtensions...)}
}

// Allows reports whether the policy permits the given filename.
func (p *Policy) Allows(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range p.AllowedExtensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// LoadPolicy reads the project's policy file, falling back to the default
// policy when the file is absent.
func (s *Sandbox) LoadPolicy(projectID string) (*Policy, error) {
	dir := filepath.Join(s.root, projectID, internalDir, "policy.yaml")
	content, err := os.ReadFile(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultPolicy(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}

	var policy Policy
	if err := yaml.Unmarshal(content, &policy); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if len(policy.AllowedExtensions) == 0 {
		return DefaultPolicy(), nil
	}
	return &policy, nil
}

// SavePolicy writes the project's policy file.
func (s *Sandbox) SavePolicy(projectID string, policy *Policy) error {
	dir, err := s.ProjectDir(projectID)
	if err != nil {
		return err
	}
	internal := filepath.Join(dir, internalDir)
	if err := os.MkdirAll(internal, 0755); err != nil {
		return fmt.Errorf("create internal directory: %w", err)
	}

	content, err := yaml.Marshal(policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	if err := os.WriteFile(filepath.Join(internal, "policy.yaml"), content, 0644); err != nil {
		return fmt.Errorf("write policy: %w", err)
	}
	return nil
}
