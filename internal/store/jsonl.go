package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pcbview/boardworker/internal/board"
)

// RestoreOptions controls how a JSONL backup is applied.
type RestoreOptions struct {
	DryRun    bool // Parse and validate without writing
	Overwrite bool // Replace boards whose id already exists
}

// RestoreResult contains statistics about a restore.
type RestoreResult struct {
	Restored int
	Skipped  int
	Errors   []string
}

// Export writes every stored board, layers included, as one JSON object per line.
func (s *Store) Export(ctx context.Context, w io.Writer) (int, error) {
	boards, err := s.GetAll(ctx)
	if err != nil {
		return 0, err
	}

	enc := json.NewEncoder(w)
	for i, b := range boards {
		if err := enc.Encode(b); err != nil {
			return i, fmt.Errorf("failed to encode board %s: %w", b.ID, err)
		}
	}
	return len(boards), nil
}

// ExportFile writes a backup to path atomically via a temp file.
func (s *Store) ExportFile(ctx context.Context, path string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create backup directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	bw := bufio.NewWriter(f)
	n, err := s.Export(ctx, bw)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return n, nil
}

// ReadJSONL parses a backup produced by Export.
func ReadJSONL(r io.Reader) ([]board.Board, error) {
	var boards []board.Board
	dec := json.NewDecoder(r)
	for line := 1; ; line++ {
		var b board.Board
		if err := dec.Decode(&b); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", line, err)
		}
		if b.Options.Color == nil {
			b.Options = board.DefaultOptions()
		}
		boards = append(boards, b)
	}
	return boards, nil
}

// Restore loads boards from a JSONL backup. Invalid boards are recorded in
// the result and skipped; existing ids are kept unless opts.Overwrite is set.
func (s *Store) Restore(ctx context.Context, r io.Reader, opts RestoreOptions) (*RestoreResult, error) {
	boards, err := ReadJSONL(r)
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{}
	for _, b := range boards {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = time.Now().UTC()
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = b.UpdatedAt
		}
		if err := b.Validate(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("board %q: %v", b.ID, err))
			continue
		}

		if !opts.Overwrite {
			_, err := s.GetByID(ctx, b.ID)
			if err == nil {
				result.Skipped++
				continue
			}
			if board.KindOf(err) != board.KindNotFound {
				return result, err
			}
		}

		if !opts.DryRun {
			if err := s.Save(ctx, b); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("board %q: %v", b.ID, err))
				continue
			}
		}
		result.Restored++
	}
	return result, nil
}
