package board

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		board   Board
		wantErr bool
	}{
		{"valid", Board{ID: "b1", Name: "arduino", CreatedAt: now}, false},
		{"missing id", Board{Name: "arduino", CreatedAt: now}, true},
		{"missing name", Board{ID: "b1", CreatedAt: now}, true},
		{"missing created", Board{ID: "b1", Name: "arduino"}, true},
		{"unnamed layer", Board{ID: "b1", Name: "a", CreatedAt: now, Layers: []LayerSource{{}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.board.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClone_DoesNotAlias(t *testing.T) {
	b := Board{
		ID:        "b1",
		Options:   DefaultOptions(),
		Thumbnail: []byte{1, 2},
		Layers:    []LayerSource{{Filename: "a.gtl", Source: []byte("x")}},
	}

	c := b.Clone()
	c.Options.Color[ColorCopper] = "#ff0000"
	c.Thumbnail[0] = 9
	c.Layers[0].Source[0] = 'y'

	assert.Equal(t, "#cccccc", b.Options.Color[ColorCopper])
	assert.Equal(t, byte(1), b.Thumbnail[0])
	assert.Equal(t, byte('x'), b.Layers[0].Source[0])
}

func TestOptionsPatch_Apply(t *testing.T) {
	useOutline := false
	gap := 0.5
	patch := &OptionsPatch{
		Color:          map[ColorKey]string{ColorSoldermask: "#220000"},
		UseOutline:     &useOutline,
		OutlineGapFill: &gap,
	}

	base := DefaultOptions()
	got := patch.Apply(base)

	assert.Equal(t, "#220000", got.Color[ColorSoldermask])
	assert.Equal(t, "#cccccc", got.Color[ColorCopper], "unpatched colors are kept")
	assert.False(t, got.UseOutline)
	assert.InDelta(t, 0.5, got.OutlineGapFill, 1e-9)
	assert.Equal(t, "#004200bf", base.Color[ColorSoldermask], "base is not mutated")

	var nilPatch *OptionsPatch
	assert.Equal(t, base, nilPatch.Apply(base))
}

func TestNameFromFilenames(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{[]string{"arduino-uno.gtl", "arduino-uno.gbl", "arduino-uno.drl"}, "arduino-uno"},
		{[]string{"gerbers/board_top.gtl", "gerbers/board_bottom.gbl"}, "board"},
		{[]string{"a.gtl", "b.gbl"}, "untitled"},
		{nil, "untitled"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NameFromFilenames(tt.in), "%v", tt.in)
	}
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &Error{Kind: KindRequest, Op: "remote.AddComment", Status: 200})

	assert.True(t, errors.Is(err, ErrRequest))
	assert.False(t, errors.Is(err, ErrAuth))
	assert.Equal(t, KindRequest, KindOf(err))
	assert.Equal(t, 200, StatusOf(err))
	assert.Contains(t, err.Error(), "status 200")

	require.Equal(t, KindNotFound, KindOf(fmt.Errorf("x: %w", ErrNotFound)))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}
