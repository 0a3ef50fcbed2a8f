// Package sandbox provides the per-project directory jail that constrains
// which files an orchestration run may read, write, or delete. Every
// destructive operation takes a timestamped backup first.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/atelierhq/atelier/pkg/models"
)

var (
	// ErrNotFound indicates the named file does not exist in the project.
	ErrNotFound = errors.New("file not found")
	// ErrAlreadyExists indicates create was called for an existing file.
	ErrAlreadyExists = errors.New("file already exists")
	// ErrPathOutsideProject indicates the filename would escape the
	// project directory.
	ErrPathOutsideProject = errors.New("path outside project directory")
	// ErrExtensionDenied indicates the filename's extension is not in the
	// project policy's allow-list.
	ErrExtensionDenied = errors.New("file extension not allowed")
)

// internalDir is the project-local directory holding backups, policy, and
// the project data database. It is never addressable through file
// operations.
const internalDir = ".atelier"

// Sandbox resolves project identifiers to jailed directories under a
// single workspace root.
type Sandbox struct {
	root string
}

// New creates a sandbox rooted at the given workspace directory.
func New(root string) *Sandbox {
	return &Sandbox{root: root}
}

// Root returns the workspace root directory.
func (s *Sandbox) Root() string {
	return s.root
}

// ProjectDir returns the directory for a project, creating it if needed.
func (s *Sandbox) ProjectDir(projectID string) (string, error) {
	if err := models.ValidateProjectID(projectID); err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, projectID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create project directory: %w", err)
	}
	return dir, nil
}

// DataDBPath returns the path to the project's data database, creating the
// internal directory if needed.
func (s *Sandbox) DataDBPath(projectID string) (string, error) {
	dir, err := s.ProjectDir(projectID)
	if err != nil {
		return "", err
	}
	internal := filepath.Join(dir, internalDir)
	if err := os.MkdirAll(internal, 0755); err != nil {
		return "", fmt.Errorf("create internal directory: %w", err)
	}
	return filepath.Join(internal, "data.db"), nil
}

// resolve validates a project-relative filename and returns its absolute
// path together with the loaded project policy.
func (s *Sandbox) resolve(projectID, filename string) (string, error) {
	dir, err := s.ProjectDir(projectID)
	if err != nil {
		return "", err
	}

	if filename == "" || filepath.IsAbs(filename) {
		return "", ErrPathOutsideProject
	}

	clean := filepath.Clean(filename)
	if clean == "." || strings.HasPrefix(clean, "..") {
		return "", ErrPathOutsideProject
	}
	for _, segment := range strings.Split(clean, string(filepath.Separator)) {
		// Hidden segments cover the internal directory and dotfiles in one
		// rule.
		if strings.HasPrefix(segment, ".") {
			return "", ErrPathOutsideProject
		}
	}

	policy, err := s.LoadPolicy(projectID)
	if err != nil {
		return "", err
	}
	if !policy.Allows(clean) {
		return "", fmt.Errorf("%w: %s", ErrExtensionDenied, filepath.Ext(clean))
	}

	return filepath.Join(dir, clean), nil
}

// Read returns the content of a project file.
func (s *Sandbox) Read(projectID, filename string) (string, error) {
	path, err := s.resolve(projectID, filename)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, filename)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filename, err)
	}
	return string(content), nil
}

// Write overwrites a project file, backing up any prior content first.
// Missing parent directories are created.
func (s *Sandbox) Write(projectID, filename, content string) error {
	path, err := s.resolve(projectID, filename)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		if err := s.backup(projectID, filename, path); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return nil
}

// Create writes a new project file. It fails with ErrAlreadyExists when the
// file is present.
func (s *Sandbox) Create(projectID, filename, content string) error {
	path, err := s.resolve(projectID, filename)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, filename)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("create %s: %w", filename, err)
	}
	return nil
}

// Delete removes a project file after backing it up.
func (s *Sandbox) Delete(projectID, filename string) error {
	path, err := s.resolve(projectID, filename)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, filename)
	}
	if err := s.backup(projectID, filename, path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete %s: %w", filename, err)
	}
	return nil
}

// List returns the project-relative paths of all files in the project,
// sorted, excluding the internal directory and hidden files.
func (s *Sandbox) List(projectID string) ([]string, error) {
	dir, err := s.ProjectDir(projectID)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list project files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// backup copies the current content of path into the project's backup
// directory under a timestamped name.
func (s *Sandbox) backup(projectID, filename, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read for backup: %w", err)
	}

	dir, err := s.ProjectDir(projectID)
	if err != nil {
		return err
	}
	backupPath := filepath.Join(dir, internalDir, "backups",
		fmt.Sprintf("%s.%d.bak", filename, time.Now().UnixNano()))
	if err := os.MkdirAll(filepath.Dir(backupPath), 0755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}
	if err := os.WriteFile(backupPath, content, 0644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	return nil
}

// Backups returns the backup file names recorded for a project file, most
// recent last.
func (s *Sandbox) Backups(projectID, filename string) ([]string, error) {
	dir, err := s.ProjectDir(projectID)
	if err != nil {
		return nil, err
	}
	backupDir := filepath.Join(dir, internalDir, "backups", filepath.Dir(filename))
	entries, err := os.ReadDir(backupDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	base := filepath.Base(filename)
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(entry.Name(), base+".") && strings.HasSuffix(entry.Name(), ".bak") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
