// Package memory holds map-backed repositories used when
// database.driver=memory and by tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"calendar/internal/domain/entity"
	"calendar/internal/domain/repository"
	appErrors "calendar/internal/pkg/errors"
)

// NoteStore is an in-memory NoteRepository.
type NoteStore struct {
	mu    sync.RWMutex
	notes map[string]entity.Note
}

// NewNoteStore creates an empty NoteStore.
func NewNoteStore() *NoteStore {
	return &NoteStore{notes: make(map[string]entity.Note)}
}

var _ repository.NoteRepository = (*NoteStore)(nil)

func (s *NoteStore) FindByID(ctx context.Context, id string) (*entity.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[id]
	if !ok {
		return nil, fmt.Errorf("note %s: %w", id, appErrors.ErrNoteNotFound)
	}
	return &n, nil
}

func (s *NoteStore) Find(ctx context.Context, f repository.NoteFilter) ([]*entity.Note, error) {
	var less func(a, b *entity.Note) bool
	switch f.OrderBy {
	case "", repository.SortByCreatedAt:
		less = func(a, b *entity.Note) bool { return a.CreatedAt.Before(b.CreatedAt) }
	case repository.SortByReminderAt:
		less = func(a, b *entity.Note) bool { return a.ReminderAt.Before(b.ReminderAt) }
	case repository.SortByTitle:
		less = func(a, b *entity.Note) bool { return a.Title < b.Title }
	default:
		return nil, fmt.Errorf("%w: unsupported sort field %q", appErrors.ErrInvalidQuery, f.OrderBy)
	}

	s.mu.RLock()
	out := make([]*entity.Note, 0, len(s.notes))
	for _, n := range s.notes {
		if !matches(n, f) {
			continue
		}
		n := n
		out = append(out, &n)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if f.Descending {
			a, b = b, a
		}
		if less(a, b) {
			return true
		}
		if less(b, a) {
			return false
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(n entity.Note, f repository.NoteFilter) bool {
	switch {
	case f.Title != "" && n.Title != f.Title:
		return false
	case f.TitleContains != "" && !strings.Contains(strings.ToLower(n.Title), strings.ToLower(f.TitleContains)):
		return false
	case !f.CreatedAfter.IsZero() && !n.CreatedAt.After(f.CreatedAfter):
		return false
	case !f.CreatedBefore.IsZero() && !n.CreatedAt.Before(f.CreatedBefore):
		return false
	case !f.ReminderAfter.IsZero() && !n.ReminderAt.After(f.ReminderAfter):
		return false
	case !f.ReminderBefore.IsZero() && !n.ReminderAt.Before(f.ReminderBefore):
		return false
	}
	return true
}

func (s *NoteStore) Create(ctx context.Context, note *entity.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.notes[note.ID]; exists {
		return fmt.Errorf("note %s already exists", note.ID)
	}
	note.NormalizeTimes()
	s.notes[note.ID] = *note
	return nil
}

func (s *NoteStore) Update(ctx context.Context, note *entity.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.notes[note.ID]
	if !ok {
		return fmt.Errorf("note %s: %w", note.ID, appErrors.ErrNoteNotFound)
	}
	note.NormalizeTimes()
	existing.Title = note.Title
	existing.Text = note.Text
	existing.ReminderAt = note.ReminderAt
	s.notes[note.ID] = existing
	return nil
}

func (s *NoteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notes, id)
	return nil
}

func (s *NoteStore) GetNotesDue(ctx context.Context, windowStart, windowEnd time.Time) ([]*entity.Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*entity.Note{}
	for _, n := range s.notes {
		if n.ReminderAt.Before(windowStart) || n.ReminderAt.After(windowEnd) {
			continue
		}
		n := n
		out = append(out, &n)
	}
	return out, nil
}

type deliveryKey struct {
	noteID     string
	reminderAt int64
}

// DeliveryStore is an in-memory DeliveryRepository.
type DeliveryStore struct {
	mu   sync.Mutex
	rows map[deliveryKey]time.Time
}

// NewDeliveryStore creates an empty DeliveryStore.
func NewDeliveryStore() *DeliveryStore {
	return &DeliveryStore{rows: make(map[deliveryKey]time.Time)}
}

var _ repository.DeliveryRepository = (*DeliveryStore)(nil)

func (s *DeliveryStore) IsDelivered(ctx context.Context, noteID string, reminderAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[deliveryKey{noteID, reminderAt.UnixNano()}]
	return ok, nil
}

func (s *DeliveryStore) MarkDelivered(ctx context.Context, noteID string, reminderAt, deliveredAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := deliveryKey{noteID, reminderAt.UnixNano()}
	if _, ok := s.rows[k]; !ok {
		s.rows[k] = deliveredAt.UTC()
	}
	return nil
}

func (s *DeliveryStore) DeleteDeliveredBefore(ctx context.Context, threshold time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, at := range s.rows {
		if at.Before(threshold) {
			delete(s.rows, k)
			n++
		}
	}
	return n, nil
}

// WatermarkStore is an in-memory WatermarkRepository.
type WatermarkStore struct {
	mu    sync.Mutex
	marks map[string]time.Time
}

// NewWatermarkStore creates an empty WatermarkStore.
func NewWatermarkStore() *WatermarkStore {
	return &WatermarkStore{marks: make(map[string]time.Time)}
}

var _ repository.WatermarkRepository = (*WatermarkStore)(nil)

func (s *WatermarkStore) Load(ctx context.Context, name string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.marks[name]
	return t, ok, nil
}

func (s *WatermarkStore) Save(ctx context.Context, name string, scannedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[name] = scannedAt.UTC()
	return nil
}
