// Package workspace manages job-scoped temporary directories. Every file a job writes lives
// under one directory that is removed as a unit.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the workspace root.
type Config struct {
	// BaseDir is the root under which per-job directories are created.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Manager creates job directories under a validated base directory.
type Manager struct {
	baseDir string
}

// New creates the base directory if needed and verifies it is writable.
func New(cfg Config) (*Manager, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Manager{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// BaseDir returns the workspace root.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// Create makes a fresh directory for jobID.
func (m *Manager) Create(jobID string) (*Dir, error) {
	if strings.TrimSpace(jobID) == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return nil, fmt.Errorf("invalid job id %q", jobID)
	}
	path := filepath.Join(m.baseDir, "job-"+jobID)
	if err := os.Mkdir(path, 0o750); err != nil {
		return nil, fmt.Errorf("create job directory: %w", err)
	}
	return &Dir{path: path}, nil
}

// Dir is one job's directory.
type Dir struct {
	path string
}

// Path returns the directory path.
func (d *Dir) Path() string {
	return d.path
}

// File resolves name inside the directory, rejecting traversal.
func (d *Dir) File(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("file name is required")
	}
	full := filepath.Clean(filepath.Join(d.path, name))
	if !strings.HasPrefix(full, d.path+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}

// WriteFile writes data to name and returns the full path.
func (d *Dir) WriteFile(name string, data []byte) (string, error) {
	full, err := d.File(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(full, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return full, nil
}

// ReadFile reads name back.
func (d *Dir) ReadFile(name string) ([]byte, error) {
	full, err := d.File(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full) // #nosec G304 -- path confined to the job directory.
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Remove deletes the directory and everything in it. Removing twice is not an error.
func (d *Dir) Remove() error {
	if err := os.RemoveAll(d.path); err != nil {
		return fmt.Errorf("remove job directory: %w", err)
	}
	return nil
}
