// Package local_test tests the local filesystem blob store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/serp-archiver/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "out", "nested")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.Equal(t, dir, store.BaseDir())
		assert.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "testfile")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})

	t.Run("BaseDirNotWritable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root ignores directory permissions")
		}
		tempDir := t.TempDir()
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		require.NoError(t, os.Chmod(tempDir, 0o500))
		t.Cleanup(func() {
			// #nosec G302 -- reverting permissions to allow cleanup in the test environment.
			_ = os.Chmod(tempDir, 0o700)
		})

		_, err := local.New(local.Config{BaseDir: tempDir})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("ValidPut", func(t *testing.T) {
		path := "report.json"
		data := []byte(`{"ok":true}`)
		uri, err := store.PutObject(ctx, path, "application/json", data)
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, path), uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})

	t.Run("NestedPath", func(t *testing.T) {
		path := "img/00000001.png"
		data := []byte{0x89, 'P', 'N', 'G'}
		uri, err := store.PutObject(ctx, path, "image/png", data)
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, path), uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})

	t.Run("OverwriteLeavesNoTempFiles", func(t *testing.T) {
		_, err := store.PutObject(ctx, "same.txt", "text/plain", []byte("first"))
		require.NoError(t, err)
		_, err = store.PutObject(ctx, "same.txt", "text/plain", []byte("second"))
		require.NoError(t, err)

		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, "same.txt"))
		require.NoError(t, err)
		assert.Equal(t, "second", string(readData))

		matches, err := filepath.Glob(filepath.Join(tempDir, ".same.txt-*"))
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, "", "text/plain", []byte("data"))
		assert.Error(t, err)
	})

	t.Run("PathTraversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.txt", "text/plain", []byte("data"))
		assert.Error(t, err)
	})
}

func TestExists(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "171026-0930.json")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.PutObject(ctx, "171026-0930.json", "application/json", []byte("{}"))
	require.NoError(t, err)
	ok, err = store.Exists(ctx, "171026-0930.json")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.Exists(ctx, "../escape.json")
	assert.Error(t, err)
}
