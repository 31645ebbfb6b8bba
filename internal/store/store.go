// Package store provides the durable local board store.
//
// Boards live in an embedded SQLite database (WAL mode) so they survive worker
// restarts. The layout is two tables:
//   - boards: one row per board, keyed by id, with a unique index on source_url
//   - board_layers: the design files of each board, cascaded on delete
//
// The store does not coordinate concurrent writers beyond SQLite's own locking.
// Save is an upsert keyed by id, so concurrent saves of distinct boards are safe
// and concurrent saves of the same board resolve as last write wins. Saving a
// second board with a source_url already held by another id fails with
// ErrDuplicateURL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/pcbview/boardworker/internal/board"
)

// ErrDuplicateURL is returned by Save when another board already has the
// same source URL.
var ErrDuplicateURL = errors.New("source url already imported")

// Store wraps the SQLite connection holding boards.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the board database at path and initializes
// the schema. Opening an existing database is idempotent.
//
// Any failure is reported as a StorageUnavailable error.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	return OpenContext(context.Background(), path)
}

// OpenContext is Open with context support.
func OpenContext(ctx context.Context, path string) (*Store, error) {
	const op = "store.Open"

	if path == "" {
		return nil, board.Errorf(board.KindStorageUnavailable, op, "database path is empty")
	}

	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, board.E(board.KindStorageUnavailable, op, fmt.Errorf("failed to create database directory: %w", err))
	}

	// Pragmas go in the DSN so every pooled connection gets them
	params := url.Values{}
	params.Add("_pragma", "journal_mode(wal)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "foreign_keys(1)")
	connStr := "file:" + path + "?" + params.Encode()

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, board.E(board.KindStorageUnavailable, op, fmt.Errorf("failed to open database: %w", err))
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, board.E(board.KindStorageUnavailable, op, fmt.Errorf("failed to ping database: %w", err))
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	if err := s.InitSchemaContext(ctx); err != nil {
		_ = s.Close()
		return nil, board.E(board.KindStorageUnavailable, op, err)
	}

	return s, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	// Checkpoint failures are not fatal; the WAL is replayed on next open
	_, _ = s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the tables and indexes if they do not exist.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS boards (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		source_url TEXT,
		options TEXT NOT NULL,  -- JSON
		thumbnail BLOB,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS board_layers (
		board_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		filename TEXT NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		source BLOB NOT NULL,
		PRIMARY KEY (board_id, position),
		FOREIGN KEY (board_id) REFERENCES boards(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_boards_created ON boards(created_at);

	-- Older databases may hold several boards per url; keep the newest.
	UPDATE boards SET source_url = NULL WHERE id IN (
		SELECT id FROM (
			SELECT id, ROW_NUMBER() OVER (PARTITION BY source_url ORDER BY updated_at DESC, id) AS rn
			FROM boards WHERE source_url IS NOT NULL
		) WHERE rn > 1
	);
	DROP INDEX IF EXISTS idx_boards_source_url;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_boards_source_url_unique ON boards(source_url);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Save inserts or replaces a board and its layers, keyed by id.
// Calling Save repeatedly with the same id leaves exactly one record.
func (s *Store) Save(ctx context.Context, b board.Board) error {
	if err := b.Validate(); err != nil {
		return board.E(board.KindInvalid, "store.Save", fmt.Errorf("invalid board: %w", err))
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}

	optionsJSON, err := json.Marshal(b.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO boards (id, name, source_url, options, thumbnail, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		source_url = excluded.source_url,
		options = excluded.options,
		thumbnail = excluded.thumbnail,
		updated_at = excluded.updated_at
	`

	_, err = tx.ExecContext(ctx, query,
		b.ID,
		b.Name,
		stringToNull(b.SourceURL),
		string(optionsJSON),
		b.Thumbnail,
		b.CreatedAt.UTC().Format(time.RFC3339Nano),
		b.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if errors.Is(err, sqlite3.CONSTRAINT_UNIQUE) {
		return fmt.Errorf("failed to upsert board %s: %w: %s", b.ID, ErrDuplicateURL, b.SourceURL)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert board %s: %w", b.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM board_layers WHERE board_id = ?`, b.ID); err != nil {
		return fmt.Errorf("failed to clear layers of board %s: %w", b.ID, err)
	}

	for i, l := range b.Layers {
		source := l.Source
		if source == nil {
			source = []byte{}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO board_layers (board_id, position, filename, side, type, source) VALUES (?, ?, ?, ?, ?, ?)`,
			b.ID, i, l.Filename, string(l.Side), string(l.Type), source,
		)
		if err != nil {
			return fmt.Errorf("failed to insert layer %s of board %s: %w", l.Filename, b.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpdateMeta writes only the name, options and thumbnail of an existing board.
// Layer content is left untouched. Returns NotFound if the board is absent.
func (s *Store) UpdateMeta(ctx context.Context, b board.Board) error {
	optionsJSON, err := json.Marshal(b.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	updatedAt := b.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	res, err := s.conn.ExecContext(ctx,
		`UPDATE boards SET name = ?, options = ?, thumbnail = ?, updated_at = ? WHERE id = ?`,
		b.Name, string(optionsJSON), b.Thumbnail, updatedAt.UTC().Format(time.RFC3339Nano), b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update board %s: %w", b.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update board %s: %w", b.ID, err)
	}
	if n == 0 {
		return board.Errorf(board.KindNotFound, "store.UpdateMeta", "board %s", b.ID)
	}

	return nil
}

// Delete removes a board and its layers.
// Deleting an id that does not exist is a no-op and returns nil.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM board_layers WHERE board_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete layers of board %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM boards WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete board %s: %w", id, err)
	}

	return tx.Commit()
}

// DeleteAll removes every board.
func (s *Store) DeleteAll(ctx context.Context) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM board_layers`); err != nil {
		return fmt.Errorf("failed to clear layers: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM boards`); err != nil {
		return fmt.Errorf("failed to clear boards: %w", err)
	}

	return tx.Commit()
}

// Count returns the number of stored boards.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM boards").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count boards: %w", err)
	}
	return count, nil
}

const boardColumns = `id, name, source_url, options, thumbnail, created_at, updated_at`

// GetAll returns every board ordered by creation time.
func (s *Store) GetAll(ctx context.Context) ([]board.Board, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT `+boardColumns+` FROM boards ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}
	defer rows.Close()

	boards := []board.Board{}
	index := map[string]int{}
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, err
		}
		index[b.ID] = len(boards)
		boards = append(boards, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating boards: %w", err)
	}

	layers, err := s.conn.QueryContext(ctx,
		`SELECT board_id, filename, side, type, source FROM board_layers ORDER BY board_id, position`)
	if err != nil {
		return nil, fmt.Errorf("failed to list layers: %w", err)
	}
	defer layers.Close()

	for layers.Next() {
		var boardID string
		var l board.LayerSource
		if err := scanLayer(layers, &boardID, &l); err != nil {
			return nil, err
		}
		if i, ok := index[boardID]; ok {
			boards[i].Layers = append(boards[i].Layers, l)
		}
	}
	if err := layers.Err(); err != nil {
		return nil, fmt.Errorf("error iterating layers: %w", err)
	}

	return boards, nil
}

// GetByID returns the board with the given id, or a NotFound error.
func (s *Store) GetByID(ctx context.Context, id string) (board.Board, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+boardColumns+` FROM boards WHERE id = ?`, id)
	b, err := scanBoard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return board.Board{}, board.Errorf(board.KindNotFound, "store.GetByID", "board %s", id)
	}
	if err != nil {
		return board.Board{}, err
	}

	if err := s.loadLayers(ctx, b); err != nil {
		return board.Board{}, err
	}
	return *b, nil
}

// FindByURL returns the board imported from sourceURL, or nil when none exists.
// Absence is not an error.
func (s *Store) FindByURL(ctx context.Context, sourceURL string) (*board.Board, error) {
	if sourceURL == "" {
		return nil, nil
	}

	row := s.conn.QueryRowContext(ctx,
		`SELECT `+boardColumns+` FROM boards WHERE source_url = ?`, sourceURL)
	b, err := scanBoard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.loadLayers(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) loadLayers(ctx context.Context, b *board.Board) error {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT board_id, filename, side, type, source FROM board_layers WHERE board_id = ? ORDER BY position`, b.ID)
	if err != nil {
		return fmt.Errorf("failed to query layers of board %s: %w", b.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var boardID string
		var l board.LayerSource
		if err := scanLayer(rows, &boardID, &l); err != nil {
			return err
		}
		b.Layers = append(b.Layers, l)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating layers: %w", err)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanBoard(row scanner) (*board.Board, error) {
	var b board.Board
	var sourceURL sql.NullString
	var optionsJSON string
	var createdAt, updatedAt string

	err := row.Scan(&b.ID, &b.Name, &sourceURL, &optionsJSON, &b.Thumbnail, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan board: %w", err)
	}

	b.SourceURL = sourceURL.String

	if err := json.Unmarshal([]byte(optionsJSON), &b.Options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal options of board %s: %w", b.ID, err)
	}
	if b.Options.Color == nil {
		b.Options.Color = map[board.ColorKey]string{}
	}

	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		b.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		b.UpdatedAt = t
	}

	return &b, nil
}

func scanLayer(row scanner, boardID *string, l *board.LayerSource) error {
	var side, typ string
	if err := row.Scan(boardID, &l.Filename, &side, &typ, &l.Source); err != nil {
		return fmt.Errorf("failed to scan layer: %w", err)
	}
	l.Side = board.Side(side)
	l.Type = board.LayerType(typ)
	return nil
}

// stringToNull converts an empty string to SQL NULL.
func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
