package render

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ruteri/social-image/cryptoutils"
)

// Workspace is a scratch directory owned by a single render.
type Workspace struct {
	path string

	once sync.Once
	err  error
}

// AcquireWorkspace creates a new workspace under baseDir. The leaf directory
// is created with os.Mkdir, so acquisition fails rather than reuse an existing
// directory.
func AcquireWorkspace(baseDir string) (*Workspace, error) {
	id, err := cryptoutils.GenerateUniqueID(nil)
	if err != nil {
		return nil, err
	}

	shardDir := filepath.Join(baseDir, id.Shard())
	if err := os.MkdirAll(shardDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace shard: %w", err)
	}

	path := filepath.Join(shardDir, id.Name())
	if err := os.Mkdir(path, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	return &Workspace{path: path}, nil
}

// Path returns the workspace directory.
func (w *Workspace) Path() string {
	return w.path
}

// WriteFile writes data to name inside the workspace. name must be a single
// path segment.
func (w *Workspace) WriteFile(name string, data []byte) error {
	if name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("workspace file name %q is not a single path segment", name)
	}
	return os.WriteFile(filepath.Join(w.path, name), data, 0o600)
}

// Release removes the workspace and everything in it. Only the first call
// does any work; later calls return the first result.
func (w *Workspace) Release() error {
	w.once.Do(func() {
		w.err = os.RemoveAll(w.path)
	})
	return w.err
}
