package inbox

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcbview/boardworker/internal/pipeline"
	"github.com/pcbview/boardworker/internal/pipeline/pipelinetest"
	"github.com/pcbview/boardworker/internal/worker"
)

type chanSubmitter chan worker.Request

func (c chanSubmitter) Submit(ctx context.Context, req worker.Request) error {
	select {
	case c <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func startInbox(t *testing.T, dir string) chanSubmitter {
	t.Helper()

	sub := make(chanSubmitter, 8)
	cfg := DefaultConfig()
	cfg.DebounceInterval = 50 * time.Millisecond

	in, err := NewWithConfig(dir, sub, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("inbox did not stop")
		}
	})

	// Wait for the watch to be in place
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, ".imported"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	return sub
}

func nextFiles(t *testing.T, sub chanSubmitter) []pipeline.File {
	t.Helper()

	select {
	case req := <-sub:
		require.Equal(t, worker.CreateBoard, req.Type)
		var files []pipeline.File
		require.NoError(t, json.Unmarshal(req.Payload, &files))
		sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
		return files
	case <-time.After(5 * time.Second):
		t.Fatal("no request submitted")
		return nil
	}
}

func TestNewWithConfig_Invalid(t *testing.T) {
	t.Parallel()

	_, err := New("", make(chanSubmitter))
	assert.Error(t, err)

	_, err = New(t.TempDir(), nil)
	assert.Error(t, err)
}

func TestInbox_ImportsDroppedFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sub := startInbox(t, dir)

	archive := pipelinetest.Zip(t, pipelinetest.Files())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo.zip"), archive, 0o644))

	files := nextFiles(t, sub)
	require.Len(t, files, 1)
	assert.Equal(t, "demo.zip", files[0].Name)
	assert.Equal(t, archive, files[0].Data)

	// The entry is moved out of the inbox
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, ".imported", "demo.zip"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	_, err := os.Stat(filepath.Join(dir, "demo.zip"))
	assert.True(t, os.IsNotExist(err))
}

func TestInbox_ImportsDroppedFolder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sub := startInbox(t, dir)

	folder := filepath.Join(dir, "demo")
	require.NoError(t, os.Mkdir(folder, 0o755))
	for _, f := range pipelinetest.Files() {
		require.NoError(t, os.WriteFile(filepath.Join(folder, f.Name), f.Data, 0o644))
	}

	files := nextFiles(t, sub)
	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"demo.drl", "demo.gbs", "demo.gko", "demo.gtl"}, names)

	st, err := pipeline.FilesToStackups(files)
	require.NoError(t, err)
	assert.Equal(t, "demo", st.SelfContained.Name)
}

func TestInbox_ImportsExistingEntries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo.gtl"), []byte(pipelinetest.TopCopper), 0o644))

	sub := startInbox(t, dir)

	files := nextFiles(t, sub)
	require.Len(t, files, 1)
	assert.Equal(t, "demo.gtl", files[0].Name)
}

func TestInbox_IgnoresHiddenAndEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sub := startInbox(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".demo.gtl.swp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.gtl"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.gtl.part"), []byte("x"), 0o644))

	select {
	case req := <-sub:
		t.Fatalf("unexpected request %s", req.Type)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestInbox_EntryOf(t *testing.T) {
	t.Parallel()

	in, err := New("/srv/inbox", make(chanSubmitter))
	require.NoError(t, err)
	t.Cleanup(func() { _ = in.Stop() })

	tests := []struct {
		path  string
		entry string
		ok    bool
	}{
		{"/srv/inbox/demo.zip", "/srv/inbox/demo.zip", true},
		{"/srv/inbox/demo/top.gtl", "/srv/inbox/demo", true},
		{"/srv/inbox", "", false},
		{"/srv/other/demo.zip", "", false},
	}
	for _, tt := range tests {
		entry, ok := in.entryOf(filepath.FromSlash(tt.path))
		assert.Equal(t, tt.ok, ok, tt.path)
		if tt.ok {
			assert.Equal(t, filepath.FromSlash(tt.entry), entry, tt.path)
		}
	}
}
