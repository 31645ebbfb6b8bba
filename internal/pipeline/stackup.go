// Package pipeline turns design files into stackups and boards.
//
// A stackup pair has two forms: SelfContained keeps the identified layer
// sources and can be archived or re-parsed, Shared carries the parsed
// geometry a render is derived from. Neither is persisted.
package pipeline

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"runtime"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pcbview/boardworker/internal/board"
)

// zipLimits bounds what one uploaded archive may expand to.
type zipLimits struct {
	entryBytes int64 // per entry
	totalBytes int64 // all entries together
	entries    int
}

var defaultZipLimits = zipLimits{
	entryBytes: 64 << 20,
	totalBytes: 256 << 20,
	entries:    1024,
}

// layerNamespace seeds deterministic layer ids.
var layerNamespace = uuid.MustParse("6f1c2a4e-93b1-4d8e-8a53-2c0f7d1e9b40")

// File is one uploaded design input.
type File struct {
	Name string `json:"name" validate:"required"`
	Data []byte `json:"data" validate:"required"`
}

// SelfContained is the portable form of a stackup.
type SelfContained struct {
	Name   string              `json:"name"`
	Layers []board.LayerSource `json:"layers"`
}

// Layer is a parsed layer of the shared stackup.
type Layer struct {
	ID       string          `json:"id"`
	Filename string          `json:"filename"`
	Side     board.Side      `json:"side"`
	Type     board.LayerType `json:"type"`
	Bounds   Bounds          `json:"bounds"`
	Shapes   []Shape         `json:"shapes"`
}

// Shared is the render-oriented form of a stackup. Units are always millimeters.
type Shared struct {
	Units  string  `json:"units"`
	Bounds Bounds  `json:"bounds"`
	Layers []Layer `json:"layers"`
}

// Stackups is the pair produced by every transform.
type Stackups struct {
	SelfContained SelfContained
	Shared        Shared
}

// FilesToStackups identifies and parses design files. Zip archives are
// expanded; files that are not recognized as layers are ignored.
func FilesToStackups(files []File) (Stackups, error) {
	const op = "pipeline.FilesToStackups"

	var (
		sources []board.LayerSource
		names   []string
	)
	for _, f := range files {
		names = append(names, f.Name)
		if isZip(f) {
			expanded, err := expandZip(f, defaultZipLimits)
			if err != nil {
				return Stackups{}, board.E(board.KindParse, op, err)
			}
			sources = append(sources, identifyAll(expanded)...)
			continue
		}
		sources = append(sources, identifyAll([]File{f})...)
	}

	if len(sources) == 0 {
		return Stackups{}, board.Errorf(board.KindParse, op, "no board layers found in %d file(s)", len(files))
	}

	sc := SelfContained{Name: board.NameFromFilenames(names), Layers: sources}
	sortLayerSources(sc.Layers)

	shared, err := parseShared(sc)
	if err != nil {
		return Stackups{}, board.E(board.KindParse, op, err)
	}
	return Stackups{SelfContained: sc, Shared: shared}, nil
}

// BoardToStackups regenerates the stackup pair from a stored board.
func BoardToStackups(b board.Board) (Stackups, error) {
	const op = "pipeline.BoardToStackups"

	if len(b.Layers) == 0 {
		return Stackups{}, board.Errorf(board.KindParse, op, "board %s has no layers", b.ID)
	}

	sc := SelfContained{Name: b.Name, Layers: make([]board.LayerSource, len(b.Layers))}
	copy(sc.Layers, b.Layers)
	sortLayerSources(sc.Layers)

	shared, err := parseShared(sc)
	if err != nil {
		return Stackups{}, board.E(board.KindParse, op, err)
	}
	return Stackups{SelfContained: sc, Shared: shared}, nil
}

// Parse derives the shared form from the layer sources.
func (sc SelfContained) Parse() (Shared, error) {
	shared, err := parseShared(sc)
	if err != nil {
		return Shared{}, board.E(board.KindParse, "pipeline.Parse", err)
	}
	return shared, nil
}

// parseShared parses every layer source in parallel. Layer order follows sc.
func parseShared(sc SelfContained) (Shared, error) {
	layers := make([]Layer, len(sc.Layers))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, src := range sc.Layers {
		g.Go(func() error {
			layer, err := parseLayer(src)
			if err != nil {
				return fmt.Errorf("%s: %w", src.Filename, err)
			}
			layers[i] = layer
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Shared{}, err
	}

	return Shared{Units: "mm", Bounds: boardBounds(layers), Layers: layers}, nil
}

func parseLayer(src board.LayerSource) (Layer, error) {
	var (
		shapes []Shape
		err    error
	)
	if src.Type == board.TypeDrill {
		shapes, err = parseExcellon(string(src.Source))
	} else {
		shapes, err = parseGerber(string(src.Source))
	}
	if err != nil {
		return Layer{}, err
	}

	return Layer{
		ID:       layerID(src),
		Filename: src.Filename,
		Side:     src.Side,
		Type:     src.Type,
		Bounds:   shapesBounds(shapes).normalize(),
		Shapes:   shapes,
	}, nil
}

func layerID(src board.LayerSource) string {
	key := make([]byte, 0, len(src.Filename)+1+len(src.Source))
	key = append(key, src.Filename...)
	key = append(key, 0)
	key = append(key, src.Source...)
	return uuid.NewSHA1(layerNamespace, key).String()
}

// boardBounds is the outline extent when an outline layer exists, else the
// union of all layers.
func boardBounds(layers []Layer) Bounds {
	outline, all := emptyBounds(), emptyBounds()
	for _, l := range layers {
		if l.Bounds == (Bounds{}) {
			continue
		}
		if l.Type == board.TypeOutline {
			outline = outline.Union(l.Bounds)
		}
		all = all.Union(l.Bounds)
	}
	if !outline.IsEmpty() {
		return outline
	}
	return all.normalize()
}

func identifyAll(files []File) []board.LayerSource {
	var out []board.LayerSource
	for _, f := range files {
		role, ok := identifyLayer(f.Name)
		if !ok {
			continue
		}
		if role.Type == board.TypeDrill && strings.EqualFold(path.Ext(f.Name), ".txt") && !looksLikeExcellon(f.Data) {
			continue
		}
		out = append(out, board.LayerSource{
			Filename: path.Base(strings.ReplaceAll(f.Name, "\\", "/")),
			Side:     role.Side,
			Type:     role.Type,
			Source:   f.Data,
		})
	}
	return out
}

func isZip(f File) bool {
	return strings.EqualFold(path.Ext(f.Name), ".zip") || bytes.HasPrefix(f.Data, []byte("PK\x03\x04"))
}

func expandZip(f File, limits zipLimits) ([]File, error) {
	zr, err := zip.NewReader(bytes.NewReader(f.Data), int64(len(f.Data)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name, err)
	}
	if len(zr.File) > limits.entries {
		return nil, fmt.Errorf("%s: %d entries exceeds limit of %d", f.Name, len(zr.File), limits.entries)
	}

	var (
		out   []File
		total int64
	)
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() || strings.HasPrefix(entry.Name, "__MACOSX/") {
			continue
		}
		if entry.UncompressedSize64 > uint64(limits.entryBytes) {
			return nil, fmt.Errorf("%s: entry %s exceeds %d bytes", f.Name, entry.Name, limits.entryBytes)
		}

		// Declared sizes can lie, so the read itself is bounded too
		budget := min(limits.entryBytes, limits.totalBytes-total)
		rc, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("%s: open %s: %w", f.Name, entry.Name, err)
		}
		data, err := io.ReadAll(io.LimitReader(rc, budget+1))
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: read %s: %w", f.Name, entry.Name, err)
		}
		if int64(len(data)) > limits.entryBytes {
			return nil, fmt.Errorf("%s: entry %s exceeds %d bytes", f.Name, entry.Name, limits.entryBytes)
		}
		total += int64(len(data))
		if total > limits.totalBytes {
			return nil, fmt.Errorf("%s: expanded size exceeds %d bytes", f.Name, limits.totalBytes)
		}
		out = append(out, File{Name: entry.Name, Data: data})
	}
	return out, nil
}

var (
	sideOrder = map[board.Side]int{board.SideTop: 0, board.SideInner: 1, board.SideBottom: 2, board.SideAll: 3}
	typeOrder = map[board.LayerType]int{
		board.TypeSilkscreen:  0,
		board.TypeSolderpaste: 1,
		board.TypeSoldermask:  2,
		board.TypeCopper:      3,
		board.TypeDrill:       4,
		board.TypeOutline:     5,
	}
)

// sortLayerSources orders layers top to bottom so stackups are stable
// regardless of upload order.
func sortLayerSources(layers []board.LayerSource) {
	sort.SliceStable(layers, func(i, j int) bool {
		a, b := layers[i], layers[j]
		if sideOrder[a.Side] != sideOrder[b.Side] {
			return sideOrder[a.Side] < sideOrder[b.Side]
		}
		if typeOrder[a.Type] != typeOrder[b.Type] {
			return typeOrder[a.Type] < typeOrder[b.Type]
		}
		return a.Filename < b.Filename
	})
}
