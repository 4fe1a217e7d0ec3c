package bundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sink delivers the serialized archive to the user. It returns the saved path,
// or "" when the user cancelled.
type Sink interface {
	Save(ctx context.Context, data []byte, filename string) (string, error)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, data []byte, filename string) (string, error)

func (f SinkFunc) Save(ctx context.Context, data []byte, filename string) (string, error) {
	return f(ctx, data, filename)
}

// DirSink writes archives into a fixed directory
type DirSink struct {
	Dir string
}

// Save writes data to Dir/filename, creating Dir if needed
func (s DirSink) Save(ctx context.Context, data []byte, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Dir == "" {
		return "", fmt.Errorf("output directory is not set")
	}

	target := filepath.Join(s.Dir, filename)
	if err := ValidatePath(s.Dir, target); err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := WriteFile(target, data); err != nil {
		return "", err
	}
	return target, nil
}

// WriteFile writes data to path through a temp file so a partial archive is never left behind
func WriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move archive into place: %w", err)
	}
	return nil
}

// ValidatePath rejects a file path that resolves outside dir
func ValidatePath(dir, filePath string) error {
	if dir == "" || filePath == "" {
		return fmt.Errorf("directory or file path is empty")
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for directory: %w", err)
	}
	absFile, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for file: %w", err)
	}

	rel, err := filepath.Rel(absDir, absFile)
	if err != nil {
		return fmt.Errorf("failed to get relative path: %w", err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal attempt detected: %s is outside %s", filePath, dir)
	}
	return nil
}
