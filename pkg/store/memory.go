package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/live_transcriber/pkg/errors"
	"example.com/live_transcriber/pkg/stt"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	recordings map[string]*Recording
	segments   map[string][]Segment
	now        func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recordings: make(map[string]*Recording),
		segments:   make(map[string][]Segment),
		now:        time.Now,
	}
}

func (m *MemoryStore) CreateRecording(_ context.Context, userID, language string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	rec := &Recording{
		ID:         newID(),
		UserID:     userID,
		Language:   language,
		Status:     StatusInProgress,
		CreatedAt:  now,
		UpdatedAt:  now,
		SegmentIDs: []string{},
	}
	m.recordings[rec.ID] = rec
	return rec.ID, nil
}

func (m *MemoryStore) GetRecording(_ context.Context, recordingID string) (*Recording, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.recordings[recordingID]
	if !ok {
		return nil, errors.NotFound("recording", recordingID)
	}
	cp := *rec
	cp.SegmentIDs = append([]string{}, rec.SegmentIDs...)
	return &cp, nil
}

func (m *MemoryStore) AppendSegment(_ context.Context, recordingID string, in SegmentInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.recordings[recordingID]
	if !ok {
		return "", errors.NotFound("recording", recordingID)
	}

	seg := Segment{
		ID:          newID(),
		RecordingID: recordingID,
		Index:       in.Index,
		Start:       in.Start,
		End:         in.End,
		Text:        in.Text,
		Words:       append([]stt.Word{}, in.Words...),
		IsFinal:     in.IsFinal,
		CreatedAt:   m.now().UTC(),
	}
	m.segments[recordingID] = append(m.segments[recordingID], seg)
	rec.SegmentIDs = append(rec.SegmentIDs, seg.ID)
	rec.UpdatedAt = seg.CreatedAt
	return seg.ID, nil
}

func (m *MemoryStore) UpdateRecordingStatus(_ context.Context, recordingID string, update StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.recordings[recordingID]
	if !ok {
		return errors.NotFound("recording", recordingID)
	}
	if err := checkTransition(recordingID, rec.Status, update.Status); err != nil {
		return err
	}

	rec.Status = update.Status
	if update.FinalText != nil {
		v := *update.FinalText
		rec.FinalText = &v
	}
	if update.DurationMs != nil {
		v := *update.DurationMs
		rec.DurationMs = &v
	}
	if update.AudioPath != nil {
		v := *update.AudioPath
		rec.AudioPath = &v
	}
	rec.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryStore) GetSegmentsForRecording(_ context.Context, recordingID string) ([]Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := append([]Segment{}, m.segments[recordingID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
