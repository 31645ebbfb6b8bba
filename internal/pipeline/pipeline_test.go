package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcbview/boardworker/internal/board"
	"github.com/pcbview/boardworker/internal/pipeline"
	"github.com/pcbview/boardworker/internal/pipeline/pipelinetest"
)

func TestFilesToStackups(t *testing.T) {
	t.Parallel()

	st, err := pipeline.FilesToStackups(pipelinetest.Files())
	require.NoError(t, err)

	assert.Equal(t, "demo", st.SelfContained.Name)
	require.Len(t, st.SelfContained.Layers, 4)
	require.Len(t, st.Shared.Layers, 4)
	assert.Equal(t, "mm", st.Shared.Units)

	// Stackup order is top to bottom, board-wide layers last
	var order []string
	for _, l := range st.Shared.Layers {
		order = append(order, l.Filename)
	}
	assert.Equal(t, []string{"demo.gtl", "demo.gbs", "demo.drl", "demo.gko"}, order)

	// Board bounds come from the outline
	assert.InDelta(t, -0.05, st.Shared.Bounds.MinX, 1e-9)
	assert.InDelta(t, 20.05, st.Shared.Bounds.MaxX, 1e-9)
	assert.InDelta(t, 10.05, st.Shared.Bounds.MaxY, 1e-9)

	for _, l := range st.Shared.Layers {
		_, err := uuid.Parse(l.ID)
		assert.NoError(t, err, "layer %s id", l.Filename)
		assert.NotEmpty(t, l.Shapes, "layer %s shapes", l.Filename)
	}
}

func TestFilesToStackups_OrderIndependent(t *testing.T) {
	t.Parallel()

	files := pipelinetest.Files()
	reversed := make([]pipeline.File, len(files))
	for i, f := range files {
		reversed[len(files)-1-i] = f
	}

	a, err := pipeline.FilesToStackups(files)
	require.NoError(t, err)
	b, err := pipeline.FilesToStackups(reversed)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestFilesToStackups_Zip(t *testing.T) {
	t.Parallel()

	files := append(pipelinetest.Files(),
		pipeline.File{Name: "README.txt", Data: []byte("Fabrication notes")},
		pipeline.File{Name: "__MACOSX/._demo.gtl", Data: []byte{0, 1}},
	)
	archive := pipelinetest.Zip(t, files)

	st, err := pipeline.FilesToStackups([]pipeline.File{{Name: "arduino.zip", Data: archive}})
	require.NoError(t, err)

	assert.Equal(t, "arduino", st.SelfContained.Name)
	assert.Len(t, st.SelfContained.Layers, 4, "non-layer entries are ignored")
}

func TestFilesToStackups_ParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		files []pipeline.File
	}{
		{"no files", nil},
		{"no layers", []pipeline.File{{Name: "notes.pdf", Data: []byte("%PDF")}}},
		{"malformed layer", []pipeline.File{{Name: "demo.gtl", Data: []byte("X0Y0D03")}}},
		{"corrupt zip", []pipeline.File{{Name: "demo.zip", Data: []byte("PK\x03\x04garbage")}}},
		{"zip with too many entries", []pipeline.File{{Name: "many.zip", Data: manyEntryZip(t, 1025)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pipeline.FilesToStackups(tt.files)
			require.Error(t, err)
			assert.True(t, errors.Is(err, board.ErrParse), "got %v", err)
		})
	}
}

func manyEntryZip(t *testing.T, n int) []byte {
	t.Helper()

	files := make([]pipeline.File, n)
	for i := range files {
		files[i] = pipeline.File{Name: fmt.Sprintf("notes-%d.txt", i), Data: []byte{}}
	}
	return pipelinetest.Zip(t, files)
}

func TestBoardToStackups_RoundTrip(t *testing.T) {
	t.Parallel()

	st, err := pipeline.FilesToStackups(pipelinetest.Files())
	require.NoError(t, err)

	b := pipeline.StackupToBoard(st.SelfContained)
	again, err := pipeline.BoardToStackups(b)
	require.NoError(t, err)

	assert.Equal(t, st.Shared, again.Shared)
	assert.Equal(t, st.SelfContained, again.SelfContained)

	_, err = pipeline.BoardToStackups(board.Board{ID: "empty"})
	assert.True(t, errors.Is(err, board.ErrParse))
}

func TestStackupToBoard(t *testing.T) {
	t.Parallel()

	st, err := pipeline.FilesToStackups(pipelinetest.Files())
	require.NoError(t, err)

	a := pipeline.StackupToBoard(st.SelfContained)
	b := pipeline.StackupToBoard(st.SelfContained)

	assert.NotEqual(t, a.ID, b.ID, "every board gets a fresh id")
	_, err = uuid.Parse(a.ID)
	assert.NoError(t, err)
	assert.Equal(t, "demo", a.Name)
	assert.Empty(t, a.SourceURL)
	assert.Equal(t, board.DefaultOptions(), a.Options)
	assert.Len(t, a.Layers, 4)
	assert.False(t, a.CreatedAt.IsZero())
	assert.NoError(t, a.Validate())

	// Layer sources are copied, not aliased
	a.Layers[0].Source[0] = 'X'
	assert.NotEqual(t, a.Layers[0].Source[0], st.SelfContained.Layers[0].Source[0])
}

func TestUpdateBoard(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	existing := board.Board{
		ID:        "b1",
		Name:      "uno",
		SourceURL: "https://example.com/uno.zip",
		Options:   board.DefaultOptions(),
		Thumbnail: []byte("png"),
		Layers:    []board.LayerSource{{Filename: "uno.gtl", Side: board.SideTop, Type: board.TypeCopper, Source: []byte("old")}},
		CreatedAt: created,
		UpdatedAt: created,
	}

	t.Run("explicit edit", func(t *testing.T) {
		name := "uno rev3"
		outline := false
		got := pipeline.UpdateBoard(existing, board.BoardUpdate{
			Name: &name,
			Options: &board.OptionsPatch{
				Color:      map[board.ColorKey]string{board.ColorSoldermask: "#000042"},
				UseOutline: &outline,
			},
		})

		assert.Equal(t, "b1", got.ID)
		assert.Equal(t, "uno rev3", got.Name)
		assert.Equal(t, "#000042", got.Options.Color[board.ColorSoldermask])
		assert.Equal(t, "#cccccc", got.Options.Color[board.ColorCopper], "unpatched colors are kept")
		assert.False(t, got.Options.UseOutline)
		assert.Equal(t, existing.Layers, got.Layers)
		assert.Equal(t, existing.SourceURL, got.SourceURL)
		assert.Equal(t, created, got.CreatedAt)
		assert.True(t, got.UpdatedAt.After(created))

		assert.Equal(t, "#004200bf", existing.Options.Color[board.ColorSoldermask], "existing is not mutated")
	})

	t.Run("empty name is ignored", func(t *testing.T) {
		empty := ""
		got := pipeline.UpdateBoard(existing, board.BoardUpdate{Name: &empty})
		assert.Equal(t, "uno", got.Name)
	})

	t.Run("refresh content", func(t *testing.T) {
		url := "https://example.com/uno.zip"
		fresh := []board.LayerSource{
			{Filename: "uno.gtl", Side: board.SideTop, Type: board.TypeCopper, Source: []byte("new")},
			{Filename: "uno.gko", Side: board.SideAll, Type: board.TypeOutline, Source: []byte("edge")},
		}
		got := pipeline.UpdateBoard(existing, board.BoardUpdate{Layers: fresh, SourceURL: &url})

		assert.Equal(t, "b1", got.ID)
		assert.Equal(t, "uno", got.Name, "name is preserved on refresh")
		assert.Equal(t, url, got.SourceURL)
		assert.Equal(t, fresh, got.Layers)
		assert.Equal(t, []byte("old"), existing.Layers[0].Source)
	})
}

func TestURLToStackups(t *testing.T) {
	t.Parallel()

	archive := pipelinetest.Zip(t, pipelinetest.Files())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/boards/uno.zip":
			_, _ = w.Write(archive)
		case "/boards/broken.zip":
			_, _ = w.Write([]byte("not a zip"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	f := pipeline.NewFetcher(5 * time.Second)
	ctx := context.Background()

	st, err := f.URLToStackups(ctx, srv.URL+"/boards/uno.zip")
	require.NoError(t, err)
	assert.Equal(t, "uno", st.SelfContained.Name)
	assert.Len(t, st.Shared.Layers, 4)

	_, err = f.URLToStackups(ctx, srv.URL+"/boards/missing.zip")
	require.Error(t, err)
	assert.True(t, errors.Is(err, board.ErrFetch))
	assert.Equal(t, http.StatusNotFound, board.StatusOf(err))

	_, err = f.URLToStackups(ctx, srv.URL+"/boards/broken.zip")
	assert.True(t, errors.Is(err, board.ErrParse), "got %v", err)

	_, err = f.URLToStackups(ctx, "ftp://example.com/board.zip")
	assert.True(t, errors.Is(err, board.ErrFetch))

	small := &pipeline.Fetcher{HTTPClient: srv.Client(), MaxBytes: 16}
	_, err = small.URLToStackups(ctx, srv.URL+"/boards/uno.zip")
	assert.True(t, errors.Is(err, board.ErrFetch), "oversized responses are rejected")
}
