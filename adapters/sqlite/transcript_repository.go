// Package sqlite stores transcripts in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/satriahrh/arunika/listener/domain/entities"
	"github.com/satriahrh/arunika/listener/domain/repositories"
)

const defaultListLimit = 100

// TranscriptRepository is a SQLite-backed transcript store. Timestamps are
// kept as unix nanoseconds so ordering and pruning stay numeric.
type TranscriptRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ repositories.TranscriptRepository = (*TranscriptRepository)(nil)

// Open creates the database file and schema if needed
func Open(ctx context.Context, path string, logger *zap.Logger) (*TranscriptRepository, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	r := &TranscriptRepository{db: db, logger: logger}
	if err := r.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	logger.Info("Opened transcript store", zap.String("path", path))
	return r, nil
}

func (r *TranscriptRepository) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS transcripts (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    text TEXT NOT NULL,
    kind TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcripts_session_created ON transcripts(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_transcripts_created ON transcripts(created_at);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Append implements repositories.TranscriptRepository
func (r *TranscriptRepository) Append(ctx context.Context, transcript *entities.Transcript) error {
	if transcript == nil {
		return errors.New("transcript cannot be nil")
	}
	if transcript.ID == "" {
		return errors.New("transcript ID cannot be empty")
	}
	if err := transcript.Validate(); err != nil {
		return err
	}
	if transcript.CreatedAt.IsZero() {
		transcript.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transcripts(id, session_id, text, kind, created_at) VALUES(?, ?, ?, ?, ?)`,
		transcript.ID, transcript.SessionID, transcript.Text, string(transcript.Kind), transcript.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to append transcript: %w", err)
	}
	return nil
}

// ListBySession implements repositories.TranscriptRepository
func (r *TranscriptRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*entities.Transcript, error) {
	if sessionID == "" {
		return nil, errors.New("session ID cannot be empty")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, text, kind, created_at
		 FROM transcripts WHERE session_id = ? ORDER BY created_at ASC, rowid ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var transcripts []*entities.Transcript
	for rows.Next() {
		var (
			t       entities.Transcript
			kind    string
			created int64
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Text, &kind, &created); err != nil {
			return nil, err
		}
		t.Kind = entities.TranscriptKind(kind)
		t.CreatedAt = time.Unix(0, created).UTC()
		transcripts = append(transcripts, &t)
	}
	return transcripts, rows.Err()
}

// DeleteOlderThan implements repositories.TranscriptRepository
func (r *TranscriptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transcripts WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old transcripts: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database handle
func (r *TranscriptRepository) Close(ctx context.Context) error {
	return r.db.Close()
}
