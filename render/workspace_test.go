package render

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWorkspace_ReleaseRemovesEverything(t *testing.T) {
	base := t.TempDir()

	ws, err := AcquireWorkspace(base)
	require.NoError(t, err)

	info, err := os.Stat(ws.Path())
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	rel, err := filepath.Rel(base, ws.Path())
	require.NoError(t, err)
	assert.Len(t, strings.Split(filepath.ToSlash(rel), "/"), 2, "workspace must live at <base>/<shard>/<name>")

	require.NoError(t, ws.WriteFile("font.ttf", []byte("font")))
	require.NoError(t, os.MkdirAll(filepath.Join(ws.Path(), "nested"), 0o755))

	require.NoError(t, ws.Release())
	_, err = os.Stat(ws.Path())
	assert.True(t, os.IsNotExist(err))

	// second release is a no-op
	assert.NoError(t, ws.Release())
}

func TestAcquireWorkspace_Exclusive(t *testing.T) {
	base := t.TempDir()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		ws, err := AcquireWorkspace(base)
		require.NoError(t, err)
		assert.False(t, seen[ws.Path()])
		seen[ws.Path()] = true
		defer ws.Release()
	}
}

func TestAcquireWorkspace_BaseNotWritable(t *testing.T) {
	base := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(base, []byte("x"), 0o644))

	_, err := AcquireWorkspace(base)
	assert.Error(t, err)
}

func TestWorkspace_WriteFileRejectsPaths(t *testing.T) {
	ws, err := AcquireWorkspace(t.TempDir())
	require.NoError(t, err)
	defer ws.Release()

	assert.Error(t, ws.WriteFile("../escape", []byte("x")))
	assert.Error(t, ws.WriteFile("a/b", []byte("x")))
	assert.Error(t, ws.WriteFile("..", []byte("x")))
}
