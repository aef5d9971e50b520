package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/live_transcriber/pkg/errors"
	"example.com/live_transcriber/pkg/logger"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS recordings (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	language    TEXT NOT NULL,
	status      TEXT NOT NULL,
	final_text  TEXT,
	duration_ms BIGINT,
	audio_path  TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS transcript_segments (
	seq          BIGSERIAL PRIMARY KEY,
	id           TEXT NOT NULL UNIQUE,
	recording_id TEXT NOT NULL REFERENCES recordings(id),
	idx          INTEGER NOT NULL,
	start_sec    DOUBLE PRECISION NOT NULL,
	end_sec      DOUBLE PRECISION NOT NULL,
	text         TEXT NOT NULL,
	words        JSONB NOT NULL,
	is_final     BOOLEAN NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_segments_recording ON transcript_segments (recording_id, idx, seq);
`

// PostgresStore persists to PostgreSQL through a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to cfg.DSN and applies the schema.
func OpenPostgres(ctx context.Context, cfg Config, log *logger.Logger) (*PostgresStore, error) {
	if log == nil {
		log = logger.Nop()
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	log.WithComponent("store").Info("PostgreSQL store ready", map[string]interface{}{"max_conns": poolConfig.MaxConns})
	return &PostgresStore{pool: pool, log: log.WithComponent("store")}, nil
}

// Close closes the pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresStore) CreateRecording(ctx context.Context, userID, language string) (string, error) {
	id := newID()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO recordings (id, user_id, language, status)
		VALUES ($1, $2, $3, $4)
	`, id, userID, language, string(StatusInProgress))
	if err != nil {
		return "", fmt.Errorf("failed to create recording: %w", err)
	}
	return id, nil
}

func (p *PostgresStore) GetRecording(ctx context.Context, recordingID string) (*Recording, error) {
	var rec Recording
	var status string
	err := p.pool.QueryRow(ctx, `
		SELECT id, user_id, language, status, final_text, duration_ms, audio_path, created_at, updated_at
		FROM recordings
		WHERE id = $1
	`, recordingID).Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Language,
		&status,
		&rec.FinalText,
		&rec.DurationMs,
		&rec.AudioPath,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("recording", recordingID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}
	rec.Status = Status(status)

	rows, err := p.pool.Query(ctx, `
		SELECT id FROM transcript_segments WHERE recording_id = $1 ORDER BY seq ASC
	`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query segment ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan segment ids: %w", err)
	}
	rec.SegmentIDs = append([]string{}, ids...)
	return &rec, nil
}

func (p *PostgresStore) AppendSegment(ctx context.Context, recordingID string, in SegmentInput) (string, error) {
	words, err := json.Marshal(in.Words)
	if err != nil {
		return "", fmt.Errorf("failed to encode words: %w", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE recordings SET updated_at = NOW() WHERE id = $1`, recordingID)
	if err != nil {
		return "", fmt.Errorf("failed to touch recording: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", errors.NotFound("recording", recordingID)
	}

	id := newID()
	_, err = tx.Exec(ctx, `
		INSERT INTO transcript_segments (id, recording_id, idx, start_sec, end_sec, text, words, is_final)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, recordingID, in.Index, in.Start, in.End, in.Text, string(words), in.IsFinal)
	if err != nil {
		return "", fmt.Errorf("failed to insert segment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, nil
}

func (p *PostgresStore) UpdateRecordingStatus(ctx context.Context, recordingID string, update StatusUpdate) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM recordings WHERE id = $1 FOR UPDATE`, recordingID).Scan(&current)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound("recording", recordingID)
	}
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}
	if err := checkTransition(recordingID, Status(current), update.Status); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE recordings
		SET status = $1,
		    final_text = COALESCE($2, final_text),
		    duration_ms = COALESCE($3, duration_ms),
		    audio_path = COALESCE($4, audio_path),
		    updated_at = NOW()
		WHERE id = $5
	`, string(update.Status), update.FinalText, update.DurationMs, update.AudioPath, recordingID)
	if err != nil {
		return fmt.Errorf("failed to update recording status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetSegmentsForRecording(ctx context.Context, recordingID string) ([]Segment, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, recording_id, idx, start_sec, end_sec, text, words, is_final, created_at
		FROM transcript_segments
		WHERE recording_id = $1
		ORDER BY idx ASC, seq ASC
	`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer rows.Close()

	segments := []Segment{}
	for rows.Next() {
		var seg Segment
		var words []byte
		if err := rows.Scan(&seg.ID, &seg.RecordingID, &seg.Index, &seg.Start, &seg.End,
			&seg.Text, &words, &seg.IsFinal, &seg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		if err := json.Unmarshal(words, &seg.Words); err != nil {
			return nil, fmt.Errorf("failed to decode words for segment %s: %w", seg.ID, err)
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}
