package render

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/gogpu/gg"
	xdraw "golang.org/x/image/draw"

	"github.com/pcbview/boardworker/internal/board"
	"github.com/pcbview/boardworker/internal/pipeline"
)

const (
	// ThumbnailSize is the length of the longer thumbnail edge in pixels.
	ThumbnailSize = 256

	// supersample is the factor the board is drawn at before downscaling.
	supersample = 2
)

// UpdateBoardThumbnail renders the top view of sc and returns a copy of b
// carrying the new PNG thumbnail.
func UpdateBoardThumbnail(b board.Board, sc pipeline.SelfContained) (board.Board, error) {
	shared, err := sc.Parse()
	if err != nil {
		return board.Board{}, err
	}

	img, err := rasterize(shared, b.Options)
	if err != nil {
		return board.Board{}, board.E(board.KindInternal, "render.UpdateBoardThumbnail", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return board.Board{}, board.E(board.KindInternal, "render.UpdateBoardThumbnail", fmt.Errorf("encode png: %w", err))
	}

	out := b.Clone()
	out.Thumbnail = buf.Bytes()
	return out, nil
}

// canvas maps board millimeters to pixels with the y axis flipped.
type canvas struct {
	dc     *gg.Context
	bounds pipeline.Bounds
	scale  float64
}

func (c *canvas) px(p pipeline.Point) (float64, float64) {
	return (p.X - c.bounds.MinX) * c.scale, (c.bounds.MaxY - p.Y) * c.scale
}

// rasterize draws the top side of the board and downsamples it to thumbnail size.
func rasterize(shared pipeline.Shared, opts board.Options) (image.Image, error) {
	bounds := shared.Bounds
	if bounds.Width() <= 0 || bounds.Height() <= 0 {
		return blank(opts), nil
	}

	full := float64(ThumbnailSize * supersample)
	scale := full / math.Max(bounds.Width(), bounds.Height())
	w := max(1, int(math.Round(bounds.Width()*scale)))
	h := max(1, int(math.Round(bounds.Height()*scale)))

	dc := gg.NewContext(w, h)
	defer dc.Close()

	c := &canvas{dc: dc, bounds: bounds, scale: scale}
	if err := c.drawTop(shared, opts); err != nil {
		return nil, err
	}

	dst := image.NewRGBA(image.Rect(0, 0, max(1, w/supersample), max(1, h/supersample)))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), dc.Image(), dc.Image().Bounds(), xdraw.Over, nil)
	return dst, nil
}

// paintStep draws layers in one color, or floods the board when flood is set.
type paintStep struct {
	layers []pipeline.Layer
	color  string
	flood  bool
}

// drawTop paints the board as seen from the top: substrate, copper,
// soldermask with finished openings, silkscreen, holes and outline.
func (c *canvas) drawTop(shared pipeline.Shared, opts board.Options) error {
	color := func(k board.ColorKey) string {
		if v, ok := opts.Color[k]; ok {
			return v
		}
		return board.DefaultOptions().Color[k]
	}

	c.dc.SetHexColor(color(board.ColorFR4))
	c.dc.DrawRectangle(0, 0, float64(c.dc.Width()), float64(c.dc.Height()))
	if err := c.dc.Fill(); err != nil {
		return fmt.Errorf("fill substrate: %w", err)
	}

	layers := func(side board.Side, t board.LayerType) []pipeline.Layer {
		var out []pipeline.Layer
		for _, l := range shared.Layers {
			if l.Side == side && l.Type == t {
				out = append(out, l)
			}
		}
		return out
	}

	steps := []paintStep{{layers: layers(board.SideTop, board.TypeCopper), color: color(board.ColorCopper)}}
	if masks := layers(board.SideTop, board.TypeSoldermask); len(masks) > 0 {
		steps = append(steps,
			paintStep{color: color(board.ColorSoldermask), flood: true},
			paintStep{layers: masks, color: color(board.ColorFinish)},
		)
	}
	steps = append(steps,
		paintStep{layers: layers(board.SideTop, board.TypeSilkscreen), color: color(board.ColorSilkscreen)},
		paintStep{layers: layers(board.SideAll, board.TypeDrill), color: color(board.ColorOutline)},
	)
	if opts.UseOutline {
		steps = append(steps, paintStep{layers: layers(board.SideAll, board.TypeOutline), color: color(board.ColorOutline)})
	}

	for _, step := range steps {
		c.dc.SetHexColor(step.color)
		if step.flood {
			c.dc.DrawRectangle(0, 0, float64(c.dc.Width()), float64(c.dc.Height()))
			if err := c.dc.Fill(); err != nil {
				return fmt.Errorf("fill soldermask: %w", err)
			}
			continue
		}
		for _, l := range step.layers {
			for _, s := range l.Shapes {
				if err := c.drawShape(s); err != nil {
					return fmt.Errorf("layer %s: %w", l.Filename, err)
				}
			}
		}
	}
	return nil
}

func (c *canvas) drawShape(s pipeline.Shape) error {
	if s.Clear {
		return nil
	}
	dc := c.dc

	switch s.Kind {
	case pipeline.ShapeLine:
		if len(s.Points) == 0 {
			return nil
		}
		if len(s.Points) == 1 {
			x, y := c.px(s.Points[0])
			dc.DrawCircle(x, y, math.Max(s.Width*c.scale/2, 0.5))
			return dc.Fill()
		}
		dc.SetLineWidth(math.Max(s.Width*c.scale, 1))
		dc.SetLineCap(gg.LineCapRound)
		dc.SetLineJoin(gg.LineJoinRound)
		x, y := c.px(s.Points[0])
		dc.MoveTo(x, y)
		for _, p := range s.Points[1:] {
			x, y := c.px(p)
			dc.LineTo(x, y)
		}
		return dc.Stroke()

	case pipeline.ShapeCircle:
		x, y := c.px(s.Center)
		dc.DrawCircle(x, y, math.Max(s.Width*c.scale/2, 0.5))
		return dc.Fill()

	case pipeline.ShapeRect, pipeline.ShapeObround:
		x, y := c.px(s.Center)
		w, h := s.Width*c.scale, s.Height*c.scale
		if s.Kind == pipeline.ShapeObround {
			dc.DrawRoundedRectangle(x-w/2, y-h/2, w, h, math.Min(w, h)/2)
		} else {
			dc.DrawRectangle(x-w/2, y-h/2, w, h)
		}
		return dc.Fill()

	case pipeline.ShapePolygon:
		if len(s.Points) < 3 {
			return nil
		}
		x, y := c.px(s.Points[0])
		dc.MoveTo(x, y)
		for _, p := range s.Points[1:] {
			x, y := c.px(p)
			dc.LineTo(x, y)
		}
		dc.ClosePath()
		return dc.Fill()
	}
	return nil
}

// blank is the thumbnail of a board without drawable extent.
func blank(opts board.Options) image.Image {
	hex, ok := opts.Color[board.ColorFR4]
	if !ok {
		hex = board.DefaultOptions().Color[board.ColorFR4]
	}

	dc := gg.NewContext(ThumbnailSize, ThumbnailSize)
	defer dc.Close()
	dc.ClearWithColor(gg.Hex(hex))

	img := image.NewRGBA(image.Rect(0, 0, ThumbnailSize, ThumbnailSize))
	xdraw.Copy(img, image.Point{}, dc.Image(), dc.Image().Bounds(), xdraw.Src, nil)
	return img
}
