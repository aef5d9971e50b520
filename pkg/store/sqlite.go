package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"example.com/live_transcriber/pkg/errors"
	"example.com/live_transcriber/pkg/logger"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS recordings (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	language    TEXT NOT NULL,
	status      TEXT NOT NULL,
	final_text  TEXT,
	duration_ms INTEGER,
	audio_path  TEXT,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS transcript_segments (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	recording_id TEXT NOT NULL REFERENCES recordings(id),
	idx          INTEGER NOT NULL,
	start_sec    REAL NOT NULL,
	end_sec      REAL NOT NULL,
	text         TEXT NOT NULL,
	words        TEXT NOT NULL,
	is_final     INTEGER NOT NULL,
	created_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_segments_recording ON transcript_segments (recording_id, idx, seq);
`

// SQLiteStore persists to a SQLite database file.
type SQLiteStore struct {
	db  *sql.DB
	log *logger.Logger
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema.
func OpenSQLite(ctx context.Context, path string, log *logger.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = logger.Nop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	log.WithComponent("store").Info("SQLite store ready", map[string]interface{}{"path": path})
	return &SQLiteStore{db: db, log: log.WithComponent("store")}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRecording(ctx context.Context, userID, language string) (string, error) {
	id := newID()
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recordings (id, user_id, language, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, userID, language, string(StatusInProgress), now, now)
	if err != nil {
		return "", fmt.Errorf("insert recording: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetRecording(ctx context.Context, recordingID string) (*Recording, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, language, status, final_text, duration_ms, audio_path, created_at, updated_at
		FROM recordings
		WHERE id = ?
	`, recordingID)

	var rec Recording
	var status string
	var finalText, audioPath sql.NullString
	var durationMs sql.NullInt64
	var createdAt, updatedAt int64

	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Language, &status, &finalText,
		&durationMs, &audioPath, &createdAt, &updatedAt); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("recording", recordingID)
		}
		return nil, fmt.Errorf("scan recording: %w", err)
	}

	rec.Status = Status(status)
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if finalText.Valid {
		rec.FinalText = &finalText.String
	}
	if durationMs.Valid {
		rec.DurationMs = &durationMs.Int64
	}
	if audioPath.Valid {
		rec.AudioPath = &audioPath.String
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM transcript_segments WHERE recording_id = ? ORDER BY seq ASC
	`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("query segment ids: %w", err)
	}
	defer rows.Close()

	rec.SegmentIDs = []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan segment id: %w", err)
		}
		rec.SegmentIDs = append(rec.SegmentIDs, id)
	}
	return &rec, rows.Err()
}

func (s *SQLiteStore) AppendSegment(ctx context.Context, recordingID string, in SegmentInput) (string, error) {
	words, err := json.Marshal(in.Words)
	if err != nil {
		return "", fmt.Errorf("encode words: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	res, err := tx.ExecContext(ctx, `UPDATE recordings SET updated_at = ? WHERE id = ?`, now, recordingID)
	if err != nil {
		return "", fmt.Errorf("touch recording: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", errors.NotFound("recording", recordingID)
	}

	id := newID()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO transcript_segments (id, recording_id, idx, start_sec, end_sec, text, words, is_final, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, recordingID, in.Index, in.Start, in.End, in.Text, string(words), in.IsFinal, now)
	if err != nil {
		return "", fmt.Errorf("insert segment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit segment: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) UpdateRecordingStatus(ctx context.Context, recordingID string, update StatusUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM recordings WHERE id = ?`, recordingID).Scan(&current)
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NotFound("recording", recordingID)
	}
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	if err := checkTransition(recordingID, Status(current), update.Status); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE recordings
		SET status = ?,
		    final_text = COALESCE(?, final_text),
		    duration_ms = COALESCE(?, duration_ms),
		    audio_path = COALESCE(?, audio_path),
		    updated_at = ?
		WHERE id = ?
	`, string(update.Status), nullable(update.FinalText), nullable(update.DurationMs), nullable(update.AudioPath),
		time.Now().UnixMilli(), recordingID)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSegmentsForRecording(ctx context.Context, recordingID string) ([]Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recording_id, idx, start_sec, end_sec, text, words, is_final, created_at
		FROM transcript_segments
		WHERE recording_id = ?
		ORDER BY idx ASC, seq ASC
	`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	segments := []Segment{}
	for rows.Next() {
		var seg Segment
		var words string
		var createdAt int64
		if err := rows.Scan(&seg.ID, &seg.RecordingID, &seg.Index, &seg.Start, &seg.End,
			&seg.Text, &words, &seg.IsFinal, &createdAt); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		if err := json.Unmarshal([]byte(words), &seg.Words); err != nil {
			return nil, fmt.Errorf("decode words for segment %s: %w", seg.ID, err)
		}
		seg.CreatedAt = time.UnixMilli(createdAt).UTC()
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// nullable unwraps optional values so drivers only see plain types or nil.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
