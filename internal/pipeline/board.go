package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/pcbview/boardworker/internal/board"
)

// StackupToBoard constructs a new board from a self-contained stackup.
// The board gets a fresh id and default options; SourceURL is left empty.
func StackupToBoard(sc SelfContained) board.Board {
	now := time.Now().UTC()

	layers := make([]board.LayerSource, len(sc.Layers))
	for i, l := range sc.Layers {
		l.Source = append([]byte(nil), l.Source...)
		layers[i] = l
	}

	name := sc.Name
	if name == "" {
		name = "untitled"
	}

	return board.Board{
		ID:        uuid.New().String(),
		Name:      name,
		Options:   board.DefaultOptions(),
		Layers:    layers,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// UpdateBoard merges update into a copy of existing.
//
// Name replaces when set and non-empty. Options merge field by field.
// Layers replace the content wholesale when non-nil. SourceURL replaces when
// set. ID and CreatedAt never change; UpdatedAt is bumped. The thumbnail is
// kept and must be re-derived by the caller when content changes.
func UpdateBoard(existing board.Board, update board.BoardUpdate) board.Board {
	out := existing.Clone()

	if update.Name != nil && *update.Name != "" {
		out.Name = *update.Name
	}
	if update.Options != nil {
		out.Options = update.Options.Apply(out.Options)
	}
	if update.SourceURL != nil {
		out.SourceURL = *update.SourceURL
	}
	if update.Layers != nil {
		out.Layers = make([]board.LayerSource, len(update.Layers))
		for i, l := range update.Layers {
			l.Source = append([]byte(nil), l.Source...)
			out.Layers[i] = l
		}
	}

	out.UpdatedAt = time.Now().UTC()
	if out.UpdatedAt.Before(existing.UpdatedAt) {
		out.UpdatedAt = existing.UpdatedAt
	}
	return out
}
