package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Local writes payloads to a directory tree under a base directory.
type Local struct {
	baseDir string
}

// NewLocal creates a filesystem archiver rooted at baseDir, creating the
// directory if needed and verifying it is writable.
func NewLocal(baseDir string) (*Local, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("archive base directory is required")
	}
	info, err := os.Stat(baseDir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, fmt.Errorf("archive path %s is not a directory", baseDir)
		}
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create archive directory: %w", mkErr)
		}
	default:
		return nil, fmt.Errorf("stat archive directory: %w", err)
	}
	return &Local{baseDir: baseDir}, nil
}

// Put writes data under baseDir/key and returns a file:// URI.
func (a *Local) Put(_ context.Context, key string, data []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("archive key is required")
	}
	fullPath := filepath.Join(a.baseDir, filepath.FromSlash(key))

	// Reject keys that escape the base directory.
	cleanBase := filepath.Clean(a.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("archive key %q escapes base directory", key)
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create archive subdirectory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write archive object: %w", err)
	}
	return "file://" + fullPath, nil
}
