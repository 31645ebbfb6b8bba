package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcbview/boardworker/internal/board"
)

func TestExportRestore(t *testing.T) {
	ctx := context.Background()
	src := openTestStore(t)
	require.NoError(t, src.Save(ctx, testBoard("b1", "uno")))
	require.NoError(t, src.Save(ctx, testBoard("b2", "dos")))

	var buf bytes.Buffer
	n, err := src.Export(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"), "one board per line")

	dst := openTestStore(t)
	result, err := dst.Restore(ctx, bytes.NewReader(buf.Bytes()), RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Restored)
	assert.Empty(t, result.Errors)

	got, err := dst.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "uno", got.Name)
	require.Len(t, got.Layers, 2)
	assert.Equal(t, []byte("G04 top*"), got.Layers[0].Source)
}

func TestRestore_ExistingBoards(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Save(ctx, testBoard("b1", "local")))

	var buf bytes.Buffer
	backup := openTestStore(t)
	require.NoError(t, backup.Save(ctx, testBoard("b1", "backup")))
	_, err := backup.Export(ctx, &buf)
	require.NoError(t, err)

	t.Run("skipped by default", func(t *testing.T) {
		result, err := s.Restore(ctx, bytes.NewReader(buf.Bytes()), RestoreOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Skipped)
		assert.Zero(t, result.Restored)

		got, err := s.GetByID(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, "local", got.Name)
	})

	t.Run("dry run", func(t *testing.T) {
		result, err := s.Restore(ctx, bytes.NewReader(buf.Bytes()), RestoreOptions{Overwrite: true, DryRun: true})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Restored)

		got, err := s.GetByID(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, "local", got.Name)
	})

	t.Run("overwrite", func(t *testing.T) {
		result, err := s.Restore(ctx, bytes.NewReader(buf.Bytes()), RestoreOptions{Overwrite: true})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Restored)

		got, err := s.GetByID(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, "backup", got.Name)
	})
}

func TestRestore_InvalidInput(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Restore(ctx, strings.NewReader("{\"id\":\"b1\"}\nnot json\n"), RestoreOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	result, err := s.Restore(ctx, strings.NewReader(`{"id":"b1"}`+"\n"+`{"id":"b2","name":"ok"}`+"\n"), RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Restored)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "name is required")

	got, err := s.GetByID(ctx, "b2")
	require.NoError(t, err)
	assert.Equal(t, board.DefaultOptions(), got.Options, "missing options fall back to defaults")
	assert.False(t, got.CreatedAt.IsZero())
}

func TestExportFile(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Save(ctx, testBoard("b1", "uno")))

	path := filepath.Join(t.TempDir(), "backups", "boards.jsonl")
	n, err := s.ExportFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	boards, err := ReadJSONL(f)
	require.NoError(t, err)
	require.Len(t, boards, 1)
	assert.Equal(t, "b1", boards[0].ID)
}
