// Package board provides the data structures shared by every stage of the worker:
// persisted boards, their layer sources, rendering options and comments.
package board

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Side is the physical side of the board a layer belongs to.
type Side string

const (
	SideTop    Side = "top"
	SideBottom Side = "bottom"
	SideInner  Side = "inner"
	SideAll    Side = "all"
)

// LayerType is the manufacturing function of a layer.
type LayerType string

const (
	TypeCopper      LayerType = "copper"
	TypeSoldermask  LayerType = "soldermask"
	TypeSilkscreen  LayerType = "silkscreen"
	TypeSolderpaste LayerType = "solderpaste"
	TypeDrill       LayerType = "drill"
	TypeOutline     LayerType = "outline"
)

// ColorKey names one entry of the board color scheme.
type ColorKey string

const (
	ColorFR4         ColorKey = "fr4"
	ColorCopper      ColorKey = "cu"
	ColorFinish      ColorKey = "cf"
	ColorSoldermask  ColorKey = "sm"
	ColorSilkscreen  ColorKey = "ss"
	ColorSolderpaste ColorKey = "sp"
	ColorOutline     ColorKey = "out"
)

// Options holds the rendering configuration of a board.
type Options struct {
	Color          map[ColorKey]string `json:"color"`
	UseOutline     bool                `json:"useOutline"`
	OutlineGapFill float64             `json:"outlineGapFill"`
}

// DefaultOptions returns the color scheme and outline settings new boards start with.
func DefaultOptions() Options {
	return Options{
		Color: map[ColorKey]string{
			ColorFR4:         "#666600",
			ColorCopper:      "#cccccc",
			ColorFinish:      "#cc9933",
			ColorSoldermask:  "#004200bf",
			ColorSilkscreen:  "#ffffff",
			ColorSolderpaste: "#999999",
			ColorOutline:     "#000000",
		},
		UseOutline:     true,
		OutlineGapFill: 0.011,
	}
}

// Clone returns a deep copy of the options.
func (o Options) Clone() Options {
	out := o
	out.Color = make(map[ColorKey]string, len(o.Color))
	for k, v := range o.Color {
		out.Color[k] = v
	}
	return out
}

// LayerSource is one design file of a board together with its identified role.
// The raw source is kept so stackups can be regenerated after a restart.
type LayerSource struct {
	Filename string    `json:"filename"`
	Side     Side      `json:"side"`
	Type     LayerType `json:"type"`
	Source   []byte    `json:"source,omitempty"`
}

// Board is a persisted design record.
type Board struct {
	// ===== Identity =====
	ID        string `json:"id"`
	Name      string `json:"name"`
	SourceURL string `json:"sourceUrl,omitempty"`

	// ===== Presentation =====
	Options   Options `json:"options"`
	Thumbnail []byte  `json:"thumbnail,omitempty"`

	// ===== Content =====
	Layers []LayerSource `json:"layers,omitempty"`

	// ===== Timestamps =====
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks that the board can be persisted.
func (b *Board) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("id is required")
	}
	if b.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(b.Name) > 500 {
		return fmt.Errorf("name must be 500 characters or less (got %d)", len(b.Name))
	}
	for i, l := range b.Layers {
		if l.Filename == "" {
			return fmt.Errorf("layer %d: filename is required", i)
		}
	}
	if b.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// Clone returns a deep copy so handlers never alias a board another handler holds.
func (b Board) Clone() Board {
	out := b
	out.Options = b.Options.Clone()
	if b.Thumbnail != nil {
		out.Thumbnail = append([]byte(nil), b.Thumbnail...)
	}
	if b.Layers != nil {
		out.Layers = make([]LayerSource, len(b.Layers))
		for i, l := range b.Layers {
			l.Source = append([]byte(nil), l.Source...)
			out.Layers[i] = l
		}
	}
	return out
}

// Summary is the reduced projection emitted after an explicit board update.
func (b Board) Summary() Board {
	return Board{
		ID:        b.ID,
		Name:      b.Name,
		Options:   b.Options,
		Thumbnail: b.Thumbnail,
	}
}

// NameFromFilenames derives a board name from the common stem of its input files.
func NameFromFilenames(names []string) string {
	if len(names) == 0 {
		return "untitled"
	}
	prefix := stem(names[0])
	for _, n := range names[1:] {
		s := stem(n)
		for !strings.HasPrefix(s, prefix) && prefix != "" {
			prefix = prefix[:len(prefix)-1]
		}
	}
	prefix = strings.TrimRight(prefix, "-_. ")
	if prefix == "" {
		return "untitled"
	}
	return prefix
}

func stem(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}
