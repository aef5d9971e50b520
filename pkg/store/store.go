// Package store persists recordings and their finalized transcript segments.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/live_transcriber/pkg/errors"
	"example.com/live_transcriber/pkg/logger"
	"example.com/live_transcriber/pkg/stt"
)

// Status is the lifecycle state of a recording.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// CanTransitionTo reports whether a recording in status s may move to next.
// Only in_progress may move, and only to completed or failed.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusInProgress && (next == StatusCompleted || next == StatusFailed)
}

// Recording is one capture session's persisted record.
type Recording struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Language   string    `json:"language"`
	Status     Status    `json:"status"`
	FinalText  *string   `json:"finalText"`
	DurationMs *int64    `json:"durationMs"`
	AudioPath  *string   `json:"audioPath"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	// SegmentIDs lists segments in the order they were appended.
	SegmentIDs []string `json:"segments"`
}

// Segment is one immutable finalized transcript unit.
type Segment struct {
	ID          string     `json:"id"`
	RecordingID string     `json:"recordingId"`
	Index       int        `json:"index"`
	Start       float64    `json:"start"`
	End         float64    `json:"end"`
	Text        string     `json:"text"`
	Words       []stt.Word `json:"words"`
	IsFinal     bool       `json:"isFinal"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// SegmentInput carries the fields of a segment to append.
type SegmentInput struct {
	Index   int
	Text    string
	Words   []stt.Word
	Start   float64
	End     float64
	IsFinal bool
}

// StatusUpdate moves a recording to a terminal status. Nil fields are left
// unchanged.
type StatusUpdate struct {
	Status     Status
	FinalText  *string
	DurationMs *int64
	AudioPath  *string
}

// Store is the persistence contract consumed by transcription sessions and
// the HTTP routes.
type Store interface {
	CreateRecording(ctx context.Context, userID, language string) (string, error)
	GetRecording(ctx context.Context, recordingID string) (*Recording, error)
	// AppendSegment stores a segment and appends its id to the recording's
	// segment list.
	AppendSegment(ctx context.Context, recordingID string, in SegmentInput) (string, error)
	UpdateRecordingStatus(ctx context.Context, recordingID string, update StatusUpdate) error
	// GetSegmentsForRecording returns segments ordered by index, then by
	// append order.
	GetSegmentsForRecording(ctx context.Context, recordingID string) ([]Segment, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver   string `mapstructure:"driver" validate:"oneof=sqlite postgres memory"`
	DSN      string `mapstructure:"dsn" validate:"required_unless=Driver memory"`
	MaxConns int32  `mapstructure:"max_conns" validate:"gte=0"`
}

// Open returns the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		return OpenSQLite(ctx, cfg.DSN, log)
	case "postgres":
		return OpenPostgres(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func checkTransition(recordingID string, current, next Status) error {
	if next != StatusCompleted && next != StatusFailed {
		return errors.InvalidInput("status", fmt.Sprintf("cannot set status %q", next))
	}
	if !current.CanTransitionTo(next) {
		return errors.Conflict(fmt.Sprintf("recording %s is %s and cannot become %s", recordingID, current, next)).
			WithDetail("current", string(current)).
			WithDetail("requested", string(next))
	}
	return nil
}
