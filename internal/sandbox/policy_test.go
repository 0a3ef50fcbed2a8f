package sandbox

import (
	"errors"
	"testing"
)

func TestPolicy_Allows(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		filename string
		want     bool
	}{
		{"index.html", true},
		{"style.CSS", true},
		{"query.sql", true},
		{"binary.exe", false},
		{"archive.tar.gz", false},
		{"no_extension", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			if got := p.Allows(tt.filename); got != tt.want {
				t.Errorf("Allows(%q) = %v, want %v", tt.filename, got, tt.want)
			}
		})
	}
}

func TestLoadPolicy_MissingFileFallsBack(t *testing.T) {
	s := New(t.TempDir())
	policy, err := s.LoadPolicy("p1")
	if err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}
	if len(policy.AllowedExtensions) == 0 {
		t.Error("default policy should not be empty")
	}
}

func TestSaveAndLoadPolicy(t *testing.T) {
	s := New(t.TempDir())
	custom := &Policy{AllowedExtensions: []string{".md"}}
	if err := s.SavePolicy("p1", custom); err != nil {
		t.Fatalf("SavePolicy() error = %v", err)
	}

	loaded, err := s.LoadPolicy("p1")
	if err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}
	if len(loaded.AllowedExtensions) != 1 || loaded.AllowedExtensions[0] != ".md" {
		t.Errorf("loaded policy = %+v", loaded)
	}

	// The saved policy now governs file operations.
	if err := s.Write("p1", "readme.md", "# hi"); err != nil {
		t.Errorf("Write(readme.md) error = %v", err)
	}
	if err := s.Write("p1", "app.js", "x"); !errors.Is(err, ErrExtensionDenied) {
		t.Errorf("Write(app.js) error = %v, want ErrExtensionDenied", err)
	}
}
