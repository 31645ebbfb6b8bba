package render

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pcbview/boardworker/internal/board"
	"github.com/pcbview/boardworker/internal/pipeline"
)

// ManifestName is the archive entry describing the packaged layers.
const ManifestName = "manifest.json"

// archiveEpoch is the modification time stamped on every entry.
var archiveEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Manifest lists the board name and the role of every layer file.
type Manifest struct {
	Name   string          `json:"name"`
	Layers []ManifestLayer `json:"layers"`
}

// ManifestLayer is one entry of the manifest.
type ManifestLayer struct {
	Filename string          `json:"filename"`
	Side     board.Side      `json:"side"`
	Type     board.LayerType `json:"type"`
}

// StackupToZipBlob packages the layer sources of sc into a zip archive.
// Entries are sorted by name and carry a fixed timestamp, so identical
// stackups always produce identical bytes.
func StackupToZipBlob(sc pipeline.SelfContained) ([]byte, error) {
	const op = "render.StackupToZipBlob"

	layers := make([]board.LayerSource, len(sc.Layers))
	copy(layers, sc.Layers)
	sort.SliceStable(layers, func(i, j int) bool { return layers[i].Filename < layers[j].Filename })

	manifest := Manifest{Name: sc.Name, Layers: make([]ManifestLayer, 0, len(layers))}
	names := make([]string, len(layers))
	used := map[string]bool{ManifestName: true}
	for i, l := range layers {
		name := l.Filename
		for n := 1; used[name]; n++ {
			name = fmt.Sprintf("%d-%s", n, l.Filename)
		}
		used[name] = true
		names[i] = name
		manifest.Layers = append(manifest.Layers, ManifestLayer{Filename: name, Side: l.Side, Type: l.Type})
	}

	meta, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, board.E(board.KindInternal, op, fmt.Errorf("marshal manifest: %w", err))
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	write := func(name string, data []byte) error {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: archiveEpoch,
		})
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		return nil
	}

	if err := write(ManifestName, meta); err != nil {
		return nil, board.E(board.KindInternal, op, err)
	}
	for i, l := range layers {
		if err := write(names[i], l.Source); err != nil {
			return nil, board.E(board.KindInternal, op, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, board.E(board.KindInternal, op, fmt.Errorf("close archive: %w", err))
	}
	return buf.Bytes(), nil
}
