package pipeline

import "math"

// Point is a position in millimeters.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Bounds is an axis-aligned bounding box in millimeters.
type Bounds struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
}

// emptyBounds is the identity element for Union.
func emptyBounds() Bounds {
	return Bounds{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
}

// IsEmpty reports whether no point has been added to b.
func (b Bounds) IsEmpty() bool {
	return b.MinX > b.MaxX || b.MinY > b.MaxY
}

// Width returns the horizontal extent.
func (b Bounds) Width() float64 {
	if b.IsEmpty() {
		return 0
	}
	return b.MaxX - b.MinX
}

// Height returns the vertical extent.
func (b Bounds) Height() float64 {
	if b.IsEmpty() {
		return 0
	}
	return b.MaxY - b.MinY
}

// Union returns the smallest box containing both boxes.
func (b Bounds) Union(o Bounds) Bounds {
	if o.IsEmpty() {
		return b
	}
	if b.IsEmpty() {
		return o
	}
	return Bounds{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

// extend grows b to include a square of half-size r around p.
func (b Bounds) extend(p Point, r float64) Bounds {
	return b.Union(Bounds{MinX: p.X - r, MinY: p.Y - r, MaxX: p.X + r, MaxY: p.Y + r})
}

// normalize replaces an empty box with a zero box so it serializes cleanly.
func (b Bounds) normalize() Bounds {
	if b.IsEmpty() {
		return Bounds{}
	}
	return b
}

// ShapeKind identifies the primitive a Shape describes.
type ShapeKind string

const (
	// ShapeLine is a stroke along Points with a round pen of diameter Width.
	ShapeLine ShapeKind = "line"
	// ShapeCircle is a filled circle of diameter Width at Center.
	ShapeCircle ShapeKind = "circle"
	// ShapeRect is a filled Width x Height rectangle centered at Center.
	ShapeRect ShapeKind = "rect"
	// ShapeObround is a Width x Height rectangle with fully rounded short sides.
	ShapeObround ShapeKind = "obround"
	// ShapePolygon is a filled region bounded by Points.
	ShapePolygon ShapeKind = "polygon"
)

// Shape is one drawing primitive of a parsed layer.
type Shape struct {
	Kind   ShapeKind `json:"kind"`
	Points []Point   `json:"points,omitempty"`
	Center Point     `json:"center"`
	Width  float64   `json:"width,omitempty"`
	Height float64   `json:"height,omitempty"`
	// Clear is true for shapes drawn with clear (negative) polarity.
	Clear bool `json:"clear,omitempty"`
}

// bounds returns the extent covered by the shape.
func (s Shape) bounds() Bounds {
	b := emptyBounds()
	switch s.Kind {
	case ShapeLine, ShapePolygon:
		for _, p := range s.Points {
			b = b.extend(p, s.Width/2)
		}
	case ShapeCircle:
		b = b.extend(s.Center, s.Width/2)
	case ShapeRect, ShapeObround:
		b = Bounds{
			MinX: s.Center.X - s.Width/2,
			MinY: s.Center.Y - s.Height/2,
			MaxX: s.Center.X + s.Width/2,
			MaxY: s.Center.Y + s.Height/2,
		}
	}
	return b
}

// shapesBounds returns the union of the extents of shapes.
func shapesBounds(shapes []Shape) Bounds {
	b := emptyBounds()
	for _, s := range shapes {
		if s.Clear {
			continue
		}
		b = b.Union(s.bounds())
	}
	return b
}

// arcPoints approximates an arc from start to end around center with line
// segments. Clockwise arcs sweep in the negative angular direction.
func arcPoints(start, end, center Point, clockwise bool) []Point {
	r := math.Hypot(start.X-center.X, start.Y-center.Y)
	a0 := math.Atan2(start.Y-center.Y, start.X-center.X)
	a1 := math.Atan2(end.Y-center.Y, end.X-center.X)

	sweep := a1 - a0
	if clockwise {
		if sweep >= 0 {
			sweep -= 2 * math.Pi
		}
	} else if sweep <= 0 {
		sweep += 2 * math.Pi
	}

	steps := int(math.Ceil(math.Abs(sweep) / (math.Pi / 18)))
	if steps < 1 {
		steps = 1
	}

	points := make([]Point, 0, steps)
	for i := 1; i < steps; i++ {
		a := a0 + sweep*float64(i)/float64(steps)
		points = append(points, Point{X: center.X + r*math.Cos(a), Y: center.Y + r*math.Sin(a)})
	}
	return append(points, end)
}
