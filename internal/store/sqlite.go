package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/manisoni28/voice-keyboard/internal/vocab"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a transcription id does not exist
var ErrNotFound = errors.New("transcription not found")

// Transcription is one saved transcript
type Transcription struct {
	ID              int64     `json:"id"`
	Text            string    `json:"text"`
	DurationSeconds float64   `json:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at"`
}

// Config contains store configuration
type Config struct {
	Path string
}

// Store wraps the SQLite database
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store at the configured path
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}
	if log == nil {
		log = slog.Default()
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS transcriptions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    text TEXT NOT NULL,
    duration_seconds REAL NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcriptions_created ON transcriptions(created_at);
CREATE TABLE IF NOT EXISTS vocabulary (
    user_id TEXT NOT NULL,
    word TEXT NOT NULL,
    context TEXT,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, word)
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveTranscription stores one finished transcript and returns its id
func (s *Store) SaveTranscription(ctx context.Context, text string, durationSeconds float64) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("cannot save empty transcription")
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO transcriptions(text, duration_seconds, created_at) VALUES(?, ?, ?)`,
		text, durationSeconds, s.clock().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("save transcription: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("save transcription: %w", err)
	}

	s.log.Info("Transcription saved",
		"id", id,
		"chars", len(text),
		"duration_seconds", durationSeconds)

	return id, nil
}

// ListTranscriptions returns a page of saved transcripts, newest first,
// together with the total row count.
func (s *Store) ListTranscriptions(ctx context.Context, limit, offset int) ([]Transcription, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcriptions`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transcriptions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, duration_seconds, created_at
		 FROM transcriptions ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list transcriptions: %w", err)
	}
	defer rows.Close()

	var items []Transcription
	for rows.Next() {
		var item Transcription
		var created string
		if err := rows.Scan(&item.ID, &item.Text, &item.DurationSeconds, &created); err != nil {
			return nil, 0, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			item.CreatedAt = ts
		}
		items = append(items, item)
	}

	return items, total, rows.Err()
}

// DeleteTranscription removes one saved transcript by id
func (s *Store) DeleteTranscription(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM transcriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transcription: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete transcription: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Vocabulary loads a user's custom vocabulary, implementing vocab.Provider
func (s *Store) Vocabulary(ctx context.Context, userID string) ([]vocab.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT word, context FROM vocabulary WHERE user_id = ? ORDER BY word ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}
	defer rows.Close()

	var entries []vocab.Entry
	for rows.Next() {
		var entry vocab.Entry
		var context sql.NullString
		if err := rows.Scan(&entry.Word, &context); err != nil {
			return nil, err
		}
		entry.Context = context.String
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// UpsertVocabularyWord inserts or updates one vocabulary entry
func (s *Store) UpsertVocabularyWord(ctx context.Context, userID string, entry vocab.Entry) error {
	if entry.Word == "" {
		return fmt.Errorf("vocabulary word cannot be empty")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vocabulary(user_id, word, context, updated_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(user_id, word) DO UPDATE SET context=excluded.context, updated_at=excluded.updated_at`,
		userID, entry.Word, entry.Context, s.clock().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert vocabulary word: %w", err)
	}
	return nil
}

// DeleteVocabularyWord removes one vocabulary entry
func (s *Store) DeleteVocabularyWord(ctx context.Context, userID, word string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM vocabulary WHERE user_id = ? AND word = ?`, userID, word)
	if err != nil {
		return fmt.Errorf("delete vocabulary word: %w", err)
	}
	return nil
}
