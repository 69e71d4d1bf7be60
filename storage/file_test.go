package storage

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/social-image/interfaces"
	"github.com/ruteri/social-image/metrics"
	"github.com/ruteri/social-image/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	squareSVG = []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"><rect width="10" height="10" fill="red"/></svg>`)
	wideSVG   = []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="20" height="10"><rect width="20" height="10" fill="blue"/></svg>`)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testStore struct {
	*FileStore
	rasterizer *render.CountingRasterizer
	metrics    *metrics.Metrics
}

func newTestStore(t *testing.T) *testStore {
	t.Helper()
	root := t.TempDir()
	m := metrics.New("test")
	rasterizer := render.NewCountingRasterizer()
	pipeline := render.NewPipeline(filepath.Join(root, ".workspaces"), rasterizer, testLogger()).WithMetrics(m)

	store, err := NewFileStore(root, pipeline, testLogger())
	require.NoError(t, err)
	store.WithMetrics(m)

	return &testStore{FileStore: store, rasterizer: rasterizer, metrics: m}
}

func (s *testStore) file(id interfaces.EntryID, name string) string {
	return filepath.Join(id.Dir(s.Root()), name)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func pngSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func TestFileStore_CreateReadCaches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, squareSVG, interfaces.IDModeUnique)
	require.NoError(t, err)
	assert.Len(t, id.String(), interfaces.IDLength)
	assert.True(t, exists(s.file(id, interfaces.SourceFileName)))
	assert.False(t, exists(s.file(id, interfaces.RenderFileName)))
	assert.Zero(t, s.rasterizer.Calls())

	first, err := s.Read(ctx, id)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(first, []byte{0x89, 0x50, 0x4E, 0x47}))
	w, h := pngSize(t, first)
	assert.Equal(t, 10, w)
	assert.Equal(t, 10, h)
	assert.True(t, exists(s.file(id, interfaces.RenderFileName)))

	second, err := s.Read(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, s.rasterizer.Calls())
}

func TestFileStore_UpdateInvalidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, squareSVG, interfaces.IDModeUnique)
	require.NoError(t, err)
	_, err = s.Read(ctx, id)
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, id, wideSVG))
	assert.False(t, exists(s.file(id, interfaces.RenderFileName)))

	out, err := s.Read(ctx, id)
	require.NoError(t, err)
	w, h := pngSize(t, out)
	assert.Equal(t, 20, w)
	assert.Equal(t, 10, h)
	assert.EqualValues(t, 2, s.rasterizer.Calls())
}

func TestFileStore_UpdateCreatesMissingEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := interfaces.ParseEntryID("11111111111111111111111111111111111111111112")
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, id, squareSVG))
	out, err := s.Read(ctx, id)
	require.NoError(t, err)
	w, _ := pngSize(t, out)
	assert.Equal(t, 10, w)
}

func TestFileStore_UpdateRejectsInvalidSVG(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, squareSVG, interfaces.IDModeUnique)
	require.NoError(t, err)

	err = s.Update(ctx, id, []byte("<html/>"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidSVG)

	source, err := os.ReadFile(s.file(id, interfaces.SourceFileName))
	require.NoError(t, err)
	assert.Equal(t, squareSVG, source)
}

func TestFileStore_AttachInvalidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, squareSVG, interfaces.IDModeUnique)
	require.NoError(t, err)
	_, err = s.Read(ctx, id)
	require.NoError(t, err)

	require.NoError(t, s.Attach(ctx, id, "font.ttf", []byte("font")))
	assert.False(t, exists(s.file(id, interfaces.RenderFileName)))

	_, err = os.ReadFile(s.file(id, "font.ttf"))
	require.NoError(t, err)

	require.NoError(t, s.Attach(ctx, id, "logo.png", []byte("logo")))
	data, err := os.ReadFile(s.file(id, "logo.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("logo"), data)

	_, err = s.Read(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 2, s.rasterizer.Calls())

	// replacing keeps a single file
	require.NoError(t, s.Attach(ctx, id, "logo.png", []byte("logo v2")))
	data, err = os.ReadFile(s.file(id, "logo.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("logo v2"), data)
}

func TestFileStore_AttachedBitmapIsRendered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"><image href="logo.png" width="10" height="10"/></svg>`)
	id, err := s.Create(ctx, svg, interfaces.IDModeUnique)
	require.NoError(t, err)

	before, err := s.Read(ctx, id)
	require.NoError(t, err)
	_, _, _, a := decodePNG(t, before).At(5, 5).RGBA()
	assert.Zero(t, a)

	logo := image.NewRGBA(image.Rect(0, 0, 2, 2))
	draw.Draw(logo, logo.Bounds(), image.NewUniform(color.RGBA{G: 0xff, A: 0xff}), image.Point{}, draw.Src)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, logo))
	require.NoError(t, s.Attach(ctx, id, "logo.png", buf.Bytes()))

	after, err := s.Read(ctx, id)
	require.NoError(t, err)
	r, g, b, a := decodePNG(t, after).At(5, 5).RGBA()
	assert.Greater(t, g, uint32(0xc000))
	assert.Greater(t, a, uint32(0xc000))
	assert.Less(t, r, uint32(0x4000))
	assert.Less(t, b, uint32(0x4000))
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestFileStore_AttachMissingEntry(t *testing.T) {
	s := newTestStore(t)

	id, err := interfaces.ParseEntryID("11111111111111111111111111111111111111111112")
	require.NoError(t, err)

	err = s.Attach(context.Background(), id, "logo.png", []byte("logo"))
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	assert.False(t, exists(id.Dir(s.Root())))
}

func TestFileStore_AttachRejectsReservedNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, squareSVG, interfaces.IDModeUnique)
	require.NoError(t, err)

	for _, name := range []string{"img.svg", "img.png", ".hidden", "x.tmp", "../escape", ""} {
		err := s.Attach(ctx, id, name, []byte("x"))
		assert.ErrorIs(t, err, interfaces.ErrInvalidInput, name)
	}

	source, err := os.ReadFile(s.file(id, interfaces.SourceFileName))
	require.NoError(t, err)
	assert.Equal(t, squareSVG, source)
}

func TestFileStore_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, squareSVG, interfaces.IDModeUnique)
	require.NoError(t, err)
	require.NoError(t, s.Attach(ctx, id, "logo.png", []byte("logo")))
	_, err = s.Read(ctx, id)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, id))
	assert.False(t, exists(id.Dir(s.Root())))

	leftovers, err := filepath.Glob(filepath.Join(s.Root(), id.Shard(), ".*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	_, err = s.Read(ctx, id)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, id), interfaces.ErrNotFound)
}

func TestFileStore_ReadUnknown(t *testing.T) {
	s := newTestStore(t)

	id, err := interfaces.ParseEntryID("11111111111111111111111111111111111111111112")
	require.NoError(t, err)

	_, err = s.Read(context.Background(), id)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	assert.Zero(t, s.rasterizer.Calls())
}

func TestFileStore_CreateRejectsInvalidSVG(t *testing.T) {
	s := newTestStore(t)

	for _, doc := range [][]byte{nil, []byte("hello"), []byte("<html/>"), []byte("<svg")} {
		_, err := s.Create(context.Background(), doc, interfaces.IDModeUnique)
		assert.ErrorIs(t, err, interfaces.ErrInvalidSVG, string(doc))
		assert.ErrorIs(t, err, interfaces.ErrInvalidInput, string(doc))
	}

	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileStore_IDModes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, squareSVG, interfaces.IDModeContent)
	require.NoError(t, err)
	_, err = s.Read(ctx, a)
	require.NoError(t, err)

	b, err := s.Create(ctx, squareSVG, interfaces.IDModeContent)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	// identical content keeps the cached render
	assert.True(t, exists(s.file(a, interfaces.RenderFileName)))

	u1, err := s.Create(ctx, squareSVG, interfaces.IDModeUnique)
	require.NoError(t, err)
	u2, err := s.Create(ctx, squareSVG, interfaces.IDModeUnique)
	require.NoError(t, err)
	assert.NotEqual(t, u1, u2)
	assert.NotEqual(t, a, u1)
}

func TestFileStore_ContentModeRestoresUpdatedEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, squareSVG, interfaces.IDModeContent)
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, id, wideSVG))
	_, err = s.Read(ctx, id)
	require.NoError(t, err)

	again, err := s.Create(ctx, squareSVG, interfaces.IDModeContent)
	require.NoError(t, err)
	require.Equal(t, id, again)
	assert.False(t, exists(s.file(id, interfaces.RenderFileName)))

	out, err := s.Read(ctx, id)
	require.NoError(t, err)
	w, _ := pngSize(t, out)
	assert.Equal(t, 10, w)
}

func TestFileStore_RenderFailureNotPersisted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="0" height="10"/>`), interfaces.IDModeUnique)
	require.NoError(t, err)

	_, err = s.Read(ctx, id)
	assert.ErrorIs(t, err, interfaces.ErrRenderFailure)
	assert.False(t, exists(s.file(id, interfaces.RenderFileName)))

	// failures are not cached
	_, err = s.Read(ctx, id)
	assert.ErrorIs(t, err, interfaces.ErrRenderFailure)
	assert.EqualValues(t, 2, s.rasterizer.Calls())
}

func TestFileStore_ConcurrentMissesRenderOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, squareSVG, interfaces.IDModeUnique)
	require.NoError(t, err)

	s.rasterizer.Gate = make(chan struct{})

	const readers = 8
	results := make([][]byte, readers)
	errs := make([]error, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Read(ctx, id)
		}(i)
	}

	require.Eventually(t, func() bool { return s.rasterizer.Calls() == 1 }, 5*time.Second, time.Millisecond)
	close(s.rasterizer.Gate)
	wg.Wait()

	for i := 0; i < readers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.EqualValues(t, 1, s.rasterizer.Calls())
}

func TestFileStore_UpdateDuringRenderIsNotLost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, squareSVG, interfaces.IDModeUnique)
	require.NoError(t, err)

	s.rasterizer.Gate = make(chan struct{}, 2)

	readDone := make(chan error, 1)
	go func() {
		_, err := s.Read(ctx, id)
		readDone <- err
	}()
	require.Eventually(t, func() bool { return s.rasterizer.Calls() == 1 }, 5*time.Second, time.Millisecond)

	updateDone := make(chan error, 1)
	go func() {
		updateDone <- s.Update(ctx, id, wideSVG)
	}()

	// the update waits for the render to persist, then invalidates it
	s.rasterizer.Gate <- struct{}{}
	require.NoError(t, <-readDone)
	require.NoError(t, <-updateDone)

	s.rasterizer.Gate <- struct{}{}
	out, err := s.Read(ctx, id)
	require.NoError(t, err)
	w, _ := pngSize(t, out)
	assert.Equal(t, 20, w)
}

func TestFileStore_CancelledReaderDoesNotAbortRender(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Create(context.Background(), squareSVG, interfaces.IDModeUnique)
	require.NoError(t, err)

	s.rasterizer.Gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	readDone := make(chan error, 1)
	go func() {
		_, err := s.Read(ctx, id)
		readDone <- err
	}()
	require.Eventually(t, func() bool { return s.rasterizer.Calls() == 1 }, 5*time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-readDone, context.Canceled)

	close(s.rasterizer.Gate)
	assert.Eventually(t, func() bool {
		return exists(s.file(id, interfaces.RenderFileName))
	}, 5*time.Second, 5*time.Millisecond)
}

func TestFileStore_ReadAfterUpdateStartsFreshRender(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, squareSVG, interfaces.IDModeUnique)
	require.NoError(t, err)

	// a render of the old source that has released the entry lock but is
	// still registered as in flight
	release := make(chan struct{})
	old := s.inflight.DoChan(id.String(), func() (any, error) {
		<-release
		return []byte("old render"), nil
	})
	defer func() {
		close(release)
		<-old
	}()

	require.NoError(t, s.Update(ctx, id, wideSVG))

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := s.Read(ctx, id)
		done <- result{data, err}
	}()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		w, _ := pngSize(t, res.data)
		assert.Equal(t, 20, w)
	case <-time.After(5 * time.Second):
		t.Fatal("read joined the render of the replaced source")
	}
}

func TestFileStore_MutationsForgetInflightRender(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*testStore, interfaces.EntryID) error
	}{
		{"attach", func(s *testStore, id interfaces.EntryID) error {
			return s.Attach(context.Background(), id, "logo.png", []byte("logo"))
		}},
		{"delete", func(s *testStore, id interfaces.EntryID) error {
			return s.Delete(context.Background(), id)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			id, err := s.Create(context.Background(), squareSVG, interfaces.IDModeUnique)
			require.NoError(t, err)

			release := make(chan struct{})
			old := s.inflight.DoChan(id.String(), func() (any, error) {
				<-release
				return []byte("old render"), nil
			})
			defer func() {
				close(release)
				<-old
			}()
			require.NoError(t, tt.mutate(s, id))

			fresh := s.inflight.DoChan(id.String(), func() (any, error) {
				return []byte("new render"), nil
			})
			select {
			case res := <-fresh:
				assert.False(t, res.Shared)
				assert.Equal(t, []byte("new render"), res.Val)
			case <-time.After(5 * time.Second):
				t.Fatal("flight started before the mutation was joined")
			}
		})
	}
}

func TestFileStore_CancelledMutations(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Create(context.Background(), squareSVG, interfaces.IDModeUnique)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	errs := map[string]error{
		"update": s.Update(ctx, id, wideSVG),
		"attach": s.Attach(ctx, id, "logo.png", []byte("logo")),
		"delete": s.Delete(ctx, id),
	}
	for op, err := range errs {
		assert.ErrorIs(t, err, context.Canceled, op)
		for _, sentinel := range []error{interfaces.ErrNotFound, interfaces.ErrInvalidInput, interfaces.ErrRenderFailure, interfaces.ErrStorageIO} {
			assert.NotErrorIs(t, err, sentinel, op)
		}
		assert.Contains(t, err.Error(), id.String(), op)
	}

	source, err := os.ReadFile(s.file(id, interfaces.SourceFileName))
	require.NoError(t, err)
	assert.Equal(t, squareSVG, source)
	assert.False(t, exists(s.file(id, "logo.png")))
}

func TestLoadResources(t *testing.T) {
	dir := t.TempDir()
	for name, data := range map[string]string{
		interfaces.SourceFileName: "<svg/>",
		interfaces.RenderFileName: "png",
		".img.svg.123.tmp":        "partial",
		"logo.png":                "logo",
		"font.ttf":                "font",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	resources, err := loadResources(dir)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{
		"logo.png": []byte("logo"),
		"font.ttf": []byte("font"),
	}, resources)

	_, err = loadResources(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestCommitLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, interfaces.RenderFileName), []byte("old"), 0o644))

	require.NoError(t, commit(dir, interfaces.SourceFileName, squareSVG))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, interfaces.SourceFileName, entries[0].Name())

	info, err := entries[0].Info()
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}
