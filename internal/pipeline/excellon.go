package pipeline

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// excellonParser holds the state of an NC drill file being read.
type excellonParser struct {
	scale  float64
	format coordFormat

	inHeader bool
	tools    map[int]float64
	current  int
	pos      Point

	shapes []Shape
}

// looksLikeExcellon reports whether src starts with a drill header. Used to
// tell drill files apart from other .txt files in an archive.
func looksLikeExcellon(src []byte) bool {
	s := strings.TrimLeft(string(src[:min(len(src), 512)]), " \r\n\t")
	for strings.HasPrefix(s, ";") {
		nl := strings.IndexByte(s, '\n')
		if nl < 0 {
			return false
		}
		s = strings.TrimLeft(s[nl+1:], " \r\n\t")
	}
	return strings.HasPrefix(s, "M48")
}

// parseExcellon reads an Excellon drill file into circle (hit) and line (slot)
// shapes in millimeters.
func parseExcellon(src string) ([]Shape, error) {
	if strings.ContainsRune(src, 0) {
		return nil, fmt.Errorf("binary data is not a drill file")
	}

	p := &excellonParser{
		scale:   mmPerInch,
		format:  coordFormat{intDigits: 2, decDigits: 4},
		tools:   make(map[int]float64),
		current: -1,
	}

	recognized := false
	sc := bufio.NewScanner(strings.NewReader(src))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if semi := strings.IndexByte(line, ';'); semi >= 0 {
			line = strings.TrimSpace(line[:semi])
		}
		if line == "" {
			continue
		}

		done, ok, err := p.line(line)
		if err != nil {
			return nil, err
		}
		recognized = recognized || ok
		if done {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading drill file: %w", err)
	}
	if !recognized {
		return nil, fmt.Errorf("file contains no drill commands")
	}

	return p.shapes, nil
}

// line interprets one line. ok reports whether the line was a drill command.
func (p *excellonParser) line(line string) (done, ok bool, err error) {
	switch {
	case line == "M48":
		p.inHeader = true
		return false, true, nil
	case line == "%" || line == "M95":
		p.inHeader = false
		return false, true, nil
	case line == "M30" || line == "M00":
		return true, true, nil
	case strings.HasPrefix(line, "METRIC"):
		p.setUnits(1, line, coordFormat{intDigits: 3, decDigits: 3})
		return false, true, nil
	case strings.HasPrefix(line, "INCH"):
		p.setUnits(mmPerInch, line, coordFormat{intDigits: 2, decDigits: 4})
		return false, true, nil
	case line == "M71":
		p.scale = 1
		return false, true, nil
	case line == "M72":
		p.scale = mmPerInch
		return false, true, nil
	case strings.HasPrefix(line, "T"):
		return false, true, p.tool(line)
	case strings.HasPrefix(line, "X") || strings.HasPrefix(line, "Y"):
		return false, true, p.hit(line)
	}

	// G05, G90, FMAT, ICI and friends do not affect geometry
	return false, false, nil
}

func (p *excellonParser) setUnits(scale float64, line string, format coordFormat) {
	p.scale = scale
	p.format = format
	switch {
	case strings.Contains(line, "LZ"):
		// Leading zeros kept, so trailing zeros are the ones omitted
		p.format.trailing = true
	case strings.Contains(line, "TZ"):
		p.format.trailing = false
	}
	if dot := strings.IndexByte(line, '.'); dot >= 0 {
		// METRIC,TZ,000.000 style explicit format
		layout := line[strings.LastIndexByte(line, ',')+1:]
		if d := strings.IndexByte(layout, '.'); d >= 0 {
			p.format.intDigits = d
			p.format.decDigits = len(layout) - d - 1
		}
	}
}

func (p *excellonParser) tool(line string) error {
	n := 1
	for n < len(line) && line[n] >= '0' && line[n] <= '9' {
		n++
	}
	if n == 1 {
		// TCST and similar header directives
		return nil
	}
	num, err := strconv.Atoi(line[1:n])
	if err != nil {
		return fmt.Errorf("invalid tool command %q", line)
	}

	if c := strings.IndexByte(line[n:], 'C'); c >= 0 {
		rest := line[n+c+1:]
		end := 0
		for end < len(rest) && (rest[end] == '.' || (rest[end] >= '0' && rest[end] <= '9')) {
			end++
		}
		dia, err := strconv.ParseFloat(rest[:end], 64)
		if err != nil {
			return fmt.Errorf("invalid tool diameter in %q", line)
		}
		p.tools[num] = dia * p.scale
		if p.inHeader {
			return nil
		}
	}

	if num == 0 {
		p.current = -1
		return nil
	}
	if _, ok := p.tools[num]; !ok {
		return fmt.Errorf("tool T%d used before definition", num)
	}
	p.current = num
	return nil
}

func (p *excellonParser) hit(line string) error {
	dia, ok := p.tools[p.current]
	if !ok {
		return fmt.Errorf("drill hit %q without a selected tool", line)
	}

	if g := strings.Index(line, "G85"); g >= 0 {
		start, err := p.coords(line[:g], p.pos)
		if err != nil {
			return err
		}
		end, err := p.coords(line[g+3:], start)
		if err != nil {
			return err
		}
		p.shapes = append(p.shapes, Shape{Kind: ShapeLine, Points: []Point{start, end}, Width: dia})
		p.pos = end
		return nil
	}

	at, err := p.coords(line, p.pos)
	if err != nil {
		return err
	}
	p.shapes = append(p.shapes, Shape{Kind: ShapeCircle, Center: at, Width: dia})
	p.pos = at
	return nil
}

// coords parses an X/Y pair; omitted axes keep their value from prev.
func (p *excellonParser) coords(s string, prev Point) (Point, error) {
	pt := prev
	for s != "" {
		axis := s[0]
		end := 1
		for end < len(s) && s[end] != 'X' && s[end] != 'Y' {
			end++
		}
		value := s[1:end]
		s = s[end:]

		if axis != 'X' && axis != 'Y' {
			return Point{}, fmt.Errorf("unexpected %q in drill coordinates", string(axis))
		}
		v, err := fixedPoint(value, p.format)
		if err != nil {
			return Point{}, err
		}
		if axis == 'X' {
			pt.X = v * p.scale
		} else {
			pt.Y = v * p.scale
		}
	}
	return pt, nil
}
