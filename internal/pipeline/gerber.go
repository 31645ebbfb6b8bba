package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const mmPerInch = 25.4

// coordFormat is the fixed-point coordinate format declared by %FS.
type coordFormat struct {
	intDigits int
	decDigits int
	// trailing is true when trailing zeros are omitted (T mode).
	trailing bool
}

// aperture is a flash/stroke tool, with sizes already converted to millimeters.
type aperture struct {
	kind   ShapeKind
	width  float64
	height float64
}

// gerberParser holds the graphics state while interpreting a Gerber file.
type gerberParser struct {
	format    coordFormat
	formatSet bool
	scale     float64

	apertures map[int]aperture
	current   int

	pos           Point
	interp        int
	multiQuadrant bool
	lastOp        int

	region  bool
	contour []Point
	clear   bool

	shapes []Shape
	done   bool
}

// parseGerber interprets a Gerber (RS-274X) layer into shapes in millimeters.
//
// Supported: FS, MO, AD (C, R, O, P; macros approximated as circles), LP,
// Dnn selection, D01/D02/D03, G01/G02/G03, G36/G37, G74/G75, G70/G71, M02.
// Attributes and other extended commands are ignored.
func parseGerber(src string) ([]Shape, error) {
	if strings.ContainsRune(src, 0) {
		return nil, fmt.Errorf("binary data is not a gerber file")
	}

	groups, err := gerberBlocks(src)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("file contains no gerber commands")
	}

	p := &gerberParser{
		scale:         mmPerInch,
		apertures:     make(map[int]aperture),
		current:       -1,
		interp:        1,
		multiQuadrant: true,
		lastOp:        2,
	}

	for _, g := range groups {
		if p.done {
			break
		}
		if g.extended {
			if err := p.extended(g.pieces); err != nil {
				return nil, err
			}
			continue
		}
		if err := p.word(g.pieces[0]); err != nil {
			return nil, err
		}
	}

	p.flushContour()
	return p.shapes, nil
}

// blockGroup is either one word command or the pieces of one %...% block.
type blockGroup struct {
	pieces   []string
	extended bool
}

// gerberBlocks splits the source into word commands and extended blocks.
func gerberBlocks(src string) ([]blockGroup, error) {
	var groups []blockGroup
	i := 0
	for i < len(src) {
		switch c := src[i]; {
		case c == ' ' || c == '\n' || c == '\r' || c == '\t':
			i++
		case c == '%':
			end := strings.IndexByte(src[i+1:], '%')
			if end < 0 {
				return nil, fmt.Errorf("unterminated extended command at offset %d", i)
			}
			inner := src[i+1 : i+1+end]
			var pieces []string
			for _, piece := range strings.Split(inner, "*") {
				piece = stripSpace(piece)
				if piece != "" {
					pieces = append(pieces, piece)
				}
			}
			if len(pieces) > 0 {
				groups = append(groups, blockGroup{pieces: pieces, extended: true})
			}
			i += end + 2
		default:
			end := strings.IndexByte(src[i:], '*')
			if end < 0 {
				return nil, fmt.Errorf("unterminated command %q", truncate(stripSpace(src[i:]), 20))
			}
			word := src[i : i+end]
			if !strings.HasPrefix(word, "G04") {
				word = stripSpace(word)
			}
			if word != "" {
				groups = append(groups, blockGroup{pieces: []string{word}})
			}
			i += end + 1
		}
	}
	return groups, nil
}

func (p *gerberParser) extended(pieces []string) error {
	for _, piece := range pieces {
		switch {
		case strings.HasPrefix(piece, "AM"):
			// Macro definitions span the rest of the block
			return nil
		case strings.HasPrefix(piece, "FS"):
			if err := p.parseFormat(piece); err != nil {
				return err
			}
		case piece == "MOIN":
			p.scale = mmPerInch
		case piece == "MOMM":
			p.scale = 1
		case strings.HasPrefix(piece, "AD"):
			if err := p.parseAperture(piece); err != nil {
				return err
			}
		case piece == "LPD":
			p.clear = false
		case piece == "LPC":
			p.clear = true
		}
	}
	return nil
}

func (p *gerberParser) parseFormat(cmd string) error {
	x := strings.IndexByte(cmd, 'X')
	if x < 0 || x+2 >= len(cmd) {
		return fmt.Errorf("invalid format statement %q", cmd)
	}
	intDigits, err1 := strconv.Atoi(cmd[x+1 : x+2])
	decDigits, err2 := strconv.Atoi(cmd[x+2 : x+3])
	if err1 != nil || err2 != nil || decDigits == 0 {
		return fmt.Errorf("invalid format statement %q", cmd)
	}
	p.format = coordFormat{
		intDigits: intDigits,
		decDigits: decDigits,
		trailing:  strings.Contains(cmd[:x], "T"),
	}
	p.formatSet = true
	return nil
}

func (p *gerberParser) parseAperture(cmd string) error {
	rest := strings.TrimPrefix(cmd, "ADD")
	n := 0
	for n < len(rest) && rest[n] >= '0' && rest[n] <= '9' {
		n++
	}
	code, err := strconv.Atoi(rest[:n])
	if err != nil || code < 10 {
		return fmt.Errorf("invalid aperture definition %q", cmd)
	}

	template, params := rest[n:], ""
	if comma := strings.IndexByte(template, ','); comma >= 0 {
		template, params = template[:comma], template[comma+1:]
	}

	var values []float64
	if params != "" {
		for _, s := range strings.Split(params, "X") {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("invalid aperture parameter %q in %q", s, cmd)
			}
			values = append(values, v*p.scale)
		}
	}
	param := func(i int) float64 {
		if i < len(values) {
			return values[i]
		}
		return 0
	}

	var ap aperture
	switch template {
	case "C", "P":
		ap = aperture{kind: ShapeCircle, width: param(0), height: param(0)}
	case "R":
		ap = aperture{kind: ShapeRect, width: param(0), height: param(1)}
	case "O":
		ap = aperture{kind: ShapeObround, width: param(0), height: param(1)}
	default:
		// Macro apertures are approximated by their first parameter
		ap = aperture{kind: ShapeCircle, width: param(0), height: param(0)}
	}
	p.apertures[code] = ap
	return nil
}

func (p *gerberParser) word(cmd string) error {
	if strings.HasPrefix(cmd, "G04") {
		return nil
	}
	cmd = strings.TrimPrefix(cmd, "G54")
	cmd = strings.TrimPrefix(cmd, "G55")

	var (
		target        = p.pos
		offsetI, offJ float64
		hasCoord      bool
		op            = -1
	)

	i := 0
	for i < len(cmd) {
		letter := cmd[i]
		i++
		start := i
		for i < len(cmd) && (cmd[i] == '+' || cmd[i] == '-' || cmd[i] == '.' || (cmd[i] >= '0' && cmd[i] <= '9')) {
			i++
		}
		value := cmd[start:i]
		if value == "" {
			return fmt.Errorf("unrecognized command %q", truncate(cmd, 20))
		}

		switch letter {
		case 'G':
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid G code %q", value)
			}
			p.gcode(n)
		case 'X', 'Y', 'I', 'J':
			v, err := p.coordinate(value)
			if err != nil {
				return err
			}
			switch letter {
			case 'X':
				target.X = v
			case 'Y':
				target.Y = v
			case 'I':
				offsetI = v
			case 'J':
				offJ = v
			}
			hasCoord = true
		case 'D':
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid D code %q", value)
			}
			if n >= 10 {
				if _, ok := p.apertures[n]; !ok {
					return fmt.Errorf("aperture D%d used before definition", n)
				}
				p.current = n
				continue
			}
			op = n
		case 'M':
			p.done = true
			return nil
		default:
			return fmt.Errorf("unrecognized command %q", truncate(cmd, 20))
		}
	}

	if op < 0 {
		if !hasCoord {
			return nil
		}
		op = p.lastOp
	}
	p.lastOp = op

	return p.operate(op, target, Point{X: offsetI, Y: offJ})
}

func (p *gerberParser) gcode(n int) {
	switch n {
	case 1, 2, 3:
		p.interp = n
	case 36:
		p.region = true
		p.contour = nil
	case 37:
		p.flushContour()
		p.region = false
	case 74:
		p.multiQuadrant = false
	case 75:
		p.multiQuadrant = true
	case 70:
		p.scale = mmPerInch
	case 71:
		p.scale = 1
	}
}

func (p *gerberParser) operate(op int, target, offset Point) error {
	defer func() { p.pos = target }()

	switch op {
	case 2:
		if p.region {
			p.flushContour()
			p.contour = []Point{target}
		}
		return nil

	case 1:
		var path []Point
		if p.interp == 1 {
			path = []Point{target}
		} else {
			center := p.arcCenter(target, offset)
			path = arcPoints(p.pos, target, center, p.interp == 2)
		}

		if p.region {
			if len(p.contour) == 0 {
				p.contour = []Point{p.pos}
			}
			p.contour = append(p.contour, path...)
			return nil
		}

		ap, err := p.aperture()
		if err != nil {
			return err
		}
		p.shapes = append(p.shapes, Shape{
			Kind:   ShapeLine,
			Points: append([]Point{p.pos}, path...),
			Width:  ap.width,
			Clear:  p.clear,
		})
		return nil

	case 3:
		ap, err := p.aperture()
		if err != nil {
			return err
		}
		p.shapes = append(p.shapes, Shape{
			Kind:   ap.kind,
			Center: target,
			Width:  ap.width,
			Height: ap.height,
			Clear:  p.clear,
		})
		return nil
	}

	return fmt.Errorf("unsupported operation D%02d", op)
}

func (p *gerberParser) aperture() (aperture, error) {
	ap, ok := p.apertures[p.current]
	if !ok {
		return aperture{}, fmt.Errorf("draw operation without a selected aperture")
	}
	return ap, nil
}

// arcCenter resolves the arc center from the I/J offsets. In single quadrant
// mode the offsets are unsigned, so the sign pair giving the most consistent
// radius is chosen.
func (p *gerberParser) arcCenter(target, offset Point) Point {
	if p.multiQuadrant {
		return Point{X: p.pos.X + offset.X, Y: p.pos.Y + offset.Y}
	}

	best, bestDiff := Point{}, math.Inf(1)
	for _, sx := range []float64{1, -1} {
		for _, sy := range []float64{1, -1} {
			c := Point{X: p.pos.X + sx*offset.X, Y: p.pos.Y + sy*offset.Y}
			r0 := math.Hypot(p.pos.X-c.X, p.pos.Y-c.Y)
			r1 := math.Hypot(target.X-c.X, target.Y-c.Y)
			if d := math.Abs(r0 - r1); d < bestDiff {
				best, bestDiff = c, d
			}
		}
	}
	return best
}

func (p *gerberParser) flushContour() {
	if len(p.contour) >= 3 {
		p.shapes = append(p.shapes, Shape{
			Kind:   ShapePolygon,
			Points: p.contour,
			Clear:  p.clear,
		})
	}
	p.contour = nil
}

// coordinate converts a fixed-point coordinate string to millimeters.
func (p *gerberParser) coordinate(s string) (float64, error) {
	if !p.formatSet {
		return 0, fmt.Errorf("coordinate %q before format statement", s)
	}
	v, err := fixedPoint(s, p.format)
	if err != nil {
		return 0, err
	}
	return v * p.scale, nil
}

// fixedPoint decodes a coordinate in the given format. Values containing a
// decimal point are taken literally.
func fixedPoint(s string, f coordFormat) (float64, error) {
	if strings.Contains(s, ".") {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid coordinate %q", s)
		}
		return v, nil
	}

	sign := 1.0
	digits := s
	switch {
	case strings.HasPrefix(digits, "-"):
		sign, digits = -1, digits[1:]
	case strings.HasPrefix(digits, "+"):
		digits = digits[1:]
	}
	if digits == "" {
		return 0, fmt.Errorf("invalid coordinate %q", s)
	}

	if f.trailing {
		total := f.intDigits + f.decDigits
		for len(digits) < total {
			digits += "0"
		}
	}

	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid coordinate %q", s)
	}
	return sign * float64(n) / math.Pow10(f.decDigits), nil
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
