package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcbview/boardworker/internal/board"
	"github.com/pcbview/boardworker/internal/pipeline/pipelinetest"
	"github.com/pcbview/boardworker/internal/store"
)

func TestReadInputs(t *testing.T) {
	dir := t.TempDir()
	for _, f := range pipelinetest.Files() {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f.Name), f.Data, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	single := filepath.Join(t.TempDir(), "extra.gtl")
	require.NoError(t, os.WriteFile(single, []byte(pipelinetest.TopCopper), 0o644))

	files, err := readInputs([]string{dir, single})
	require.NoError(t, err)
	assert.Len(t, files, 5)
	assert.Equal(t, "extra.gtl", files[4].Name)

	_, err = readInputs([]string{filepath.Join(dir, "absent")})
	assert.Error(t, err)
}

func TestImportAndPackage(t *testing.T) {
	t.Setenv("BOARDWORKER_WORKER_IDENTITY_TIMEOUT", "50ms")
	t.Setenv("BOARDWORKER_LOG_LEVEL", "error")

	work := t.TempDir()
	dbPath := filepath.Join(work, "data", "boards.db")
	gerbers := filepath.Join(work, "demo")
	require.NoError(t, os.Mkdir(gerbers, 0o755))
	for _, f := range pipelinetest.Files() {
		require.NoError(t, os.WriteFile(filepath.Join(gerbers, f.Name), f.Data, 0o644))
	}

	rootCmd.SetArgs([]string{"import", gerbers, "--store", dbPath, "--config", writeEmptyConfig(t)})
	require.NoError(t, rootCmd.Execute())

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	boards, err := st.GetAll(t.Context())
	require.NoError(t, err)
	require.NoError(t, st.Close())
	require.Len(t, boards, 1)
	assert.Equal(t, "demo", boards[0].Name)
	assert.NotEmpty(t, boards[0].Thumbnail)

	out := filepath.Join(work, "out", "demo.zip")
	rootCmd.SetArgs([]string{"boards", "package", boards[0].ID, "-o", out, "--store", dbPath, "--config", writeEmptyConfig(t)})
	require.NoError(t, rootCmd.Execute())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("PK"), data[:2])
}

func TestExportRestore(t *testing.T) {
	t.Setenv("BOARDWORKER_LOG_LEVEL", "error")
	ctx := t.Context()
	work := t.TempDir()

	src, err := store.Open(filepath.Join(work, "src.db"))
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, src.Save(ctx, board.Board{ID: "b1", Name: "demo", Options: board.DefaultOptions(), CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, src.Close())

	backup := filepath.Join(work, "boards.jsonl")
	rootCmd.SetArgs([]string{"boards", "export", backup, "--store", filepath.Join(work, "src.db"), "--config", writeEmptyConfig(t)})
	require.NoError(t, rootCmd.Execute())

	dst := filepath.Join(work, "restored", "boards.db")
	rootCmd.SetArgs([]string{"boards", "restore", backup, "--store", dst, "--config", writeEmptyConfig(t)})
	require.NoError(t, rootCmd.Execute())

	st, err := store.Open(dst)
	require.NoError(t, err)
	defer st.Close()
	b, err := st.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "demo", b.Name)
}

func TestRowOf(t *testing.T) {
	b := board.Board{
		ID:   "b1",
		Name: "demo",
		Layers: []board.LayerSource{
			{Filename: "demo.gtl", Type: board.TypeCopper},
			{Filename: "demo.drl", Type: board.TypeDrill},
		},
	}
	r := rowOf(b)
	assert.Equal(t, "b1", r.ID)
	assert.Equal(t, []board.LayerType{board.TypeCopper, board.TypeDrill}, r.Layers)
}

func writeEmptyConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boardworker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
	return path
}
