// Package render derives presentation data from stackups: the render
// descriptor a viewer draws, board thumbnails, and distributable archives.
package render

import (
	"github.com/pcbview/boardworker/internal/board"
	"github.com/pcbview/boardworker/internal/pipeline"
)

// Descriptor is everything a presentation layer needs to draw a board.
type Descriptor struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	SourceURL string          `json:"sourceUrl,omitempty"`
	Options   board.Options   `json:"options"`
	Units     string          `json:"units"`
	Bounds    pipeline.Bounds `json:"bounds"`
	Layers    []Layer         `json:"layers"`
}

// Layer is one drawable layer with its resolved color.
type Layer struct {
	ID     string           `json:"id"`
	Side   board.Side       `json:"side"`
	Type   board.LayerType  `json:"type"`
	Color  string           `json:"color"`
	Bounds pipeline.Bounds  `json:"bounds"`
	Shapes []pipeline.Shape `json:"shapes"`
}

// layerColors maps layer types to the option color they are drawn with.
// Drill hits are drawn with the outline color.
var layerColors = map[board.LayerType]board.ColorKey{
	board.TypeCopper:      board.ColorCopper,
	board.TypeSoldermask:  board.ColorSoldermask,
	board.TypeSilkscreen:  board.ColorSilkscreen,
	board.TypeSolderpaste: board.ColorSolderpaste,
	board.TypeDrill:       board.ColorOutline,
	board.TypeOutline:     board.ColorOutline,
}

// StackupToBoardRender builds the render descriptor for b from its shared stackup.
// Outline layers are omitted when the board's options disable them.
func StackupToBoardRender(shared pipeline.Shared, b board.Board) Descriptor {
	d := Descriptor{
		ID:        b.ID,
		Name:      b.Name,
		SourceURL: b.SourceURL,
		Options:   b.Options.Clone(),
		Units:     shared.Units,
		Bounds:    shared.Bounds,
		Layers:    make([]Layer, 0, len(shared.Layers)),
	}

	for _, l := range shared.Layers {
		if l.Type == board.TypeOutline && !b.Options.UseOutline {
			continue
		}
		d.Layers = append(d.Layers, Layer{
			ID:     l.ID,
			Side:   l.Side,
			Type:   l.Type,
			Color:  layerColor(b.Options, l.Type),
			Bounds: l.Bounds,
			Shapes: l.Shapes,
		})
	}
	return d
}

func layerColor(o board.Options, t board.LayerType) string {
	key, ok := layerColors[t]
	if !ok {
		return ""
	}
	if c, ok := o.Color[key]; ok {
		return c
	}
	return board.DefaultOptions().Color[key]
}
