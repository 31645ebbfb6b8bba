package board

// OptionsPatch is a partial Options edit. Nil fields keep their current value;
// color entries are merged per key.
type OptionsPatch struct {
	Color          map[ColorKey]string `json:"color,omitempty"`
	UseOutline     *bool               `json:"useOutline,omitempty"`
	OutlineGapFill *float64            `json:"outlineGapFill,omitempty"`
}

// Apply returns a copy of o with the patch merged in.
func (p *OptionsPatch) Apply(o Options) Options {
	out := o.Clone()
	if p == nil {
		return out
	}
	for k, v := range p.Color {
		out.Color[k] = v
	}
	if p.UseOutline != nil {
		out.UseOutline = *p.UseOutline
	}
	if p.OutlineGapFill != nil {
		out.OutlineGapFill = *p.OutlineGapFill
	}
	return out
}

// BoardUpdate describes changes to an existing board.
//
// It serves both the explicit edit flow (Name/Options) and the refresh-from-URL
// flow (Layers/SourceURL). A nil field means "keep". Only Name and Options
// can be sent by a caller; content fields are set by the worker itself.
type BoardUpdate struct {
	Name      *string       `json:"name,omitempty" validate:"omitnil,min=1,max=500"`
	Options   *OptionsPatch `json:"options,omitempty"`
	SourceURL *string       `json:"-"`
	Layers    []LayerSource `json:"-"`
}
