package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcbview/boardworker/internal/board"
)

// openTestStore opens a store in a temporary directory.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "boards.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testBoard(id, name string) board.Board {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return board.Board{
		ID:        id,
		Name:      name,
		Options:   board.DefaultOptions(),
		Thumbnail: []byte{0x89, 'P', 'N', 'G'},
		Layers: []board.LayerSource{
			{Filename: name + ".gtl", Side: board.SideTop, Type: board.TypeCopper, Source: []byte("G04 top*")},
			{Filename: name + ".gko", Side: board.SideAll, Type: board.TypeOutline, Source: []byte("G04 out*")},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "boards.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Save(context.Background(), testBoard("b1", "uno")))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	boards, err := s2.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, boards, 1, "boards survive reopening")
	assert.Equal(t, "uno", boards[0].Name)
	assert.Equal(t, path, s2.Path())
}

func TestOpen_Unavailable(t *testing.T) {
	// A regular file where the parent directory should be
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	_, err := Open(filepath.Join(blocker, "boards.db"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, board.ErrStorageUnavailable))

	_, err = Open("")
	assert.True(t, errors.Is(err, board.ErrStorageUnavailable))
}

func TestSave_IdempotentUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := testBoard("b1", "uno")
	require.NoError(t, s.Save(ctx, b))

	b.Name = "uno rev2"
	b.Layers = b.Layers[:1]
	require.NoError(t, s.Save(ctx, b))

	boards, err := s.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, boards, 1)
	assert.Equal(t, "uno rev2", boards[0].Name)
	assert.Len(t, boards[0].Layers, 1)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSave_Invalid(t *testing.T) {
	s := openTestStore(t)

	err := s.Save(context.Background(), board.Board{Name: "no id"})
	assert.True(t, errors.Is(err, board.ErrInvalid))
}

func TestGetByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := testBoard("b1", "uno")
	want.SourceURL = "https://example.com/board.zip"
	require.NoError(t, s.Save(ctx, want))

	got, err := s.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.SourceURL, got.SourceURL)
	assert.Equal(t, want.Options, got.Options)
	assert.Equal(t, want.Thumbnail, got.Thumbnail)
	assert.Equal(t, want.Layers, got.Layers)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))

	_, err = s.GetByID(ctx, "missing")
	assert.True(t, errors.Is(err, board.ErrNotFound))
}

func TestFindByURL(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := testBoard("b1", "uno")
	b.SourceURL = "https://example.com/board.zip"
	require.NoError(t, s.Save(ctx, b))
	require.NoError(t, s.Save(ctx, testBoard("b2", "nano")))

	found, err := s.FindByURL(ctx, "https://example.com/board.zip")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "b1", found.ID)
	assert.Len(t, found.Layers, 2)

	missing, err := s.FindByURL(ctx, "https://example.com/other.zip")
	require.NoError(t, err)
	assert.Nil(t, missing)

	empty, err := s.FindByURL(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, empty, "boards without a url are never matched")
}

func TestSave_DuplicateURL(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := testBoard("b1", "uno")
	first.SourceURL = "https://example.com/board.zip"
	require.NoError(t, s.Save(ctx, first))

	first.Name = "uno again"
	require.NoError(t, s.Save(ctx, first), "re-saving the owner of the url is an update")

	second := testBoard("b2", "dos")
	second.SourceURL = first.SourceURL
	err := s.Save(ctx, second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateURL))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInitSchema_DedupesSourceURLs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.conn.ExecContext(ctx, `DROP INDEX idx_boards_source_url_unique`)
	require.NoError(t, err)

	older := testBoard("b1", "old")
	older.SourceURL = "https://example.com/board.zip"
	older.UpdatedAt = older.UpdatedAt.Add(-time.Hour)
	newer := testBoard("b2", "new")
	newer.SourceURL = older.SourceURL
	require.NoError(t, s.Save(ctx, older))
	require.NoError(t, s.Save(ctx, newer))

	require.NoError(t, s.InitSchema())

	found, err := s.FindByURL(ctx, older.SourceURL)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "b2", found.ID)

	kept, err := s.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Empty(t, kept.SourceURL, "older duplicate keeps its data but loses the url")
}

func TestUpdateMeta(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := testBoard("b1", "uno")
	require.NoError(t, s.Save(ctx, b))

	patch := board.Board{ID: "b1", Name: "renamed", Options: board.DefaultOptions(), Thumbnail: []byte("new")}
	patch.Options.Color[board.ColorSoldermask] = "#000042"
	require.NoError(t, s.UpdateMeta(ctx, patch))

	got, err := s.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, "#000042", got.Options.Color[board.ColorSoldermask])
	assert.Equal(t, []byte("new"), got.Thumbnail)
	assert.Len(t, got.Layers, 2, "layers are untouched")

	err = s.UpdateMeta(ctx, board.Board{ID: "missing", Name: "x"})
	assert.True(t, errors.Is(err, board.ErrNotFound))
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testBoard("b1", "uno")))
	require.NoError(t, s.Save(ctx, testBoard("b2", "nano")))

	require.NoError(t, s.Delete(ctx, "b1"))
	require.NoError(t, s.Delete(ctx, "b1"), "deleting an absent board is a no-op")

	boards, err := s.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, boards, 1)
	assert.Equal(t, "b2", boards[0].ID)
	assert.Len(t, boards[0].Layers, 2)
}

func TestDeleteAll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"b1", "b2", "b3"} {
		require.NoError(t, s.Save(ctx, testBoard(id, "board-"+id)))
	}

	require.NoError(t, s.DeleteAll(ctx))

	boards, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, boards)
}

func TestClose_Twice(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "boards.db"))
	require.NoError(t, err)

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
