package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/ruteri/social-image/cryptoutils"
	"github.com/ruteri/social-image/interfaces"
	"github.com/ruteri/social-image/metrics"
	"github.com/ruteri/social-image/render"
	"golang.org/x/sync/singleflight"
)

// DefaultRenderTimeout bounds a render started by a cache miss.
const DefaultRenderTimeout = 30 * time.Second

// FileStore implements interfaces.ImageStore on a local directory tree.
type FileStore struct {
	root          string
	renderer      interfaces.Renderer
	log           *slog.Logger
	metrics       *metrics.Metrics
	renderTimeout time.Duration

	locks    *entryLocks
	inflight singleflight.Group
}

// NewFileStore creates the store root if needed. renderer is invoked on cache
// misses.
func NewFileStore(root string, renderer interfaces.Renderer, log *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store root: %w", err)
	}

	return &FileStore{
		root:          abs,
		renderer:      renderer,
		log:           log,
		renderTimeout: DefaultRenderTimeout,
		locks:         newEntryLocks(),
	}, nil
}

func (s *FileStore) WithMetrics(m *metrics.Metrics) *FileStore {
	s.metrics = m
	return s
}

// WithRenderTimeout sets the deadline of renders triggered by Read. Renders
// are shared by every reader waiting on the same entry, so they do not inherit
// any single reader's cancellation.
func (s *FileStore) WithRenderTimeout(d time.Duration) *FileStore {
	s.renderTimeout = d
	return s
}

// Root returns the absolute store root.
func (s *FileStore) Root() string {
	return s.root
}

// Create stores svg under a new identifier derived according to mode. The
// document is checked for a well-formed <svg> root but not rendered.
func (s *FileStore) Create(ctx context.Context, svg []byte, mode interfaces.IDMode) (interfaces.EntryID, error) {
	if err := render.ValidateDocument(svg); err != nil {
		return "", err
	}

	id, err := cryptoutils.GenerateID(svg, mode)
	if err != nil {
		return "", err
	}

	unlock := s.locks.Lock(id.String())
	defer unlock()

	dir := id.Dir(s.root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", storageErr("create entry directory", err)
	}

	if mode == interfaces.IDModeContent {
		existing, err := os.ReadFile(filepath.Join(dir, interfaces.SourceFileName))
		if err == nil && bytes.Equal(existing, svg) {
			s.log.Debug("Entry already exists", "entryID", id)
			return id, nil
		}
	}

	if err := commit(dir, interfaces.SourceFileName, svg); err != nil {
		return "", err
	}
	s.inflight.Forget(id.String())

	s.log.Info("Created entry", "entryID", id, "mode", mode.String(), "size", len(svg))
	return id, nil
}

// Read returns the cached render of id, rendering and persisting it first if
// there is none.
func (s *FileStore) Read(ctx context.Context, id interfaces.EntryID) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(id.Dir(s.root), interfaces.RenderFileName))
	switch {
	case err == nil:
		s.metrics.CacheHit()
		return data, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, storageErr("read cached render", err)
	}

	s.metrics.CacheMiss()

	ch := s.inflight.DoChan(id.String(), func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.renderTimeout)
		defer cancel()
		return s.renderEntry(rctx, id)
	})

	select {
	case res := <-ch:
		if res.Shared {
			s.metrics.RenderDeduplicated()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("read %s: %w", id, ctx.Err())
	}
}

// renderEntry renders id and persists the result. It holds the entry lock
// throughout, so no mutation can commit between reading the inputs and
// persisting the output.
func (s *FileStore) renderEntry(ctx context.Context, id interfaces.EntryID) ([]byte, error) {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	dir := id.Dir(s.root)

	// a flight that held the lock before us may already have persisted
	if data, err := os.ReadFile(filepath.Join(dir, interfaces.RenderFileName)); err == nil {
		return data, nil
	}

	svg, err := os.ReadFile(filepath.Join(dir, interfaces.SourceFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: entry %s", interfaces.ErrNotFound, id)
	}
	if err != nil {
		return nil, storageErr("read source", err)
	}

	resources, err := loadResources(dir)
	if err != nil {
		return nil, err
	}

	png, err := s.renderer.Render(ctx, svg, resources)
	if err != nil {
		s.log.Warn("Render failed", "entryID", id, "err", err)
		return nil, err
	}

	if err := persist(dir, interfaces.RenderFileName, png); err != nil {
		// the bytes are still a correct render for this read
		s.log.Error("Failed to persist render", "entryID", id, "err", err)
	} else {
		s.log.Info("Rendered entry", "entryID", id,
			"size", humanize.Bytes(uint64(len(png))),
			"resources", len(resources))
	}
	return png, nil
}

// Update replaces the source of id and invalidates its render. Entries that do
// not exist yet are created.
func (s *FileStore) Update(ctx context.Context, id interfaces.EntryID, svg []byte) error {
	if err := render.ValidateDocument(svg); err != nil {
		return err
	}

	unlock := s.locks.Lock(id.String())
	defer unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}

	dir := id.Dir(s.root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storageErr("create entry directory", err)
	}

	if err := commit(dir, interfaces.SourceFileName, svg); err != nil {
		return err
	}
	// later readers must not join a render of the old source
	s.inflight.Forget(id.String())

	s.log.Info("Updated entry", "entryID", id, "size", len(svg))
	return nil
}

// Attach adds or replaces the resource name of an existing entry and
// invalidates its render. It never creates the entry.
func (s *FileStore) Attach(ctx context.Context, id interfaces.EntryID, name string, data []byte) error {
	if err := interfaces.ValidateResourceName(name); err != nil {
		return err
	}

	unlock := s.locks.Lock(id.String())
	defer unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("attach %s to %s: %w", name, id, err)
	}

	dir := id.Dir(s.root)
	if err := requireDir(dir, id); err != nil {
		return err
	}

	if err := commit(dir, name, data); err != nil {
		return err
	}
	s.inflight.Forget(id.String())

	s.log.Info("Attached resource", "entryID", id, "resource", name, "size", len(data))
	return nil
}

// Delete removes id with its source, resources and render. The directory is
// first renamed to a hidden name so it disappears atomically; leftovers of a
// failed removal are collected by the Sweeper.
func (s *FileStore) Delete(ctx context.Context, id interfaces.EntryID) error {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}

	dir := id.Dir(s.root)
	if err := requireDir(dir, id); err != nil {
		return err
	}

	trash := filepath.Join(filepath.Dir(dir), "."+id.Name()+"."+uuid.NewString()+interfaces.TempSuffix)
	if err := os.Rename(dir, trash); err != nil {
		return storageErr("unlink entry", err)
	}
	s.inflight.Forget(id.String())

	if err := os.RemoveAll(trash); err != nil {
		s.log.Warn("Failed to remove deleted entry", "entryID", id, "path", trash, "err", err)
	}

	s.log.Info("Deleted entry", "entryID", id)
	return nil
}

func requireDir(dir string, id interfaces.EntryID) error {
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: entry %s", interfaces.ErrNotFound, id)
	case err != nil:
		return storageErr("stat entry", err)
	case !info.IsDir():
		return fmt.Errorf("%w: entry %s", interfaces.ErrNotFound, id)
	}
	return nil
}

// loadResources reads every resource file of an entry directory.
func loadResources(dir string) (map[string][]byte, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: entry directory %s", interfaces.ErrNotFound, dir)
	}
	if err != nil {
		return nil, storageErr("list resources", err)
	}

	resources := make(map[string][]byte)
	for _, e := range entries {
		if !e.Type().IsRegular() || interfaces.ValidateResourceName(e.Name()) != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, storageErr("read resource "+e.Name(), err)
		}
		resources[e.Name()] = data
	}
	return resources, nil
}

// commit is the write protocol for inputs: write a temp file, drop the cached
// render, then rename the temp file into place.
func commit(dir, name string, data []byte) error {
	tmp, err := writeTemp(dir, name, data)
	if err != nil {
		return storageErr("write "+name, err)
	}

	if err := os.Remove(filepath.Join(dir, interfaces.RenderFileName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		os.Remove(tmp)
		return storageErr("invalidate render", err)
	}

	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		os.Remove(tmp)
		return storageErr("commit "+name, err)
	}
	return nil
}

// persist writes derived data with temp file and rename.
func persist(dir, name string, data []byte) error {
	tmp, err := writeTemp(dir, name, data)
	if err != nil {
		return storageErr("write "+name, err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		os.Remove(tmp)
		return storageErr("commit "+name, err)
	}
	return nil
}

// writeTemp writes data to a hidden "*.tmp" file in dir and returns its path.
func writeTemp(dir, name string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, "."+name+".*"+interfaces.TempSuffix)
	if err != nil {
		return "", err
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Chmod(0o644); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", interfaces.ErrStorageIO, op, err)
}
