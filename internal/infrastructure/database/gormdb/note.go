package gormdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"calendar/internal/domain/entity"
	"calendar/internal/domain/repository"
	appErrors "calendar/internal/pkg/errors"

	"gorm.io/gorm"
)

type noteRepository struct {
	db *gorm.DB
}

// NewNoteRepository creates a new instance of NoteRepository.
func NewNoteRepository(db *gorm.DB) repository.NoteRepository {
	return &noteRepository{db: db}
}

// FindByID retrieves a note by its ID.
func (r *noteRepository) FindByID(ctx context.Context, id string) (*entity.Note, error) {
	var note entity.Note
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&note).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("note %s: %w", id, appErrors.ErrNoteNotFound)
		}
		return nil, fmt.Errorf("failed to find note by id %s: %w", id, err)
	}
	note.NormalizeTimes()
	return &note, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// whereTitleContains matches a title substring case-insensitively. Both
// sides are lowered because LIKE is case-sensitive on postgres but not on
// sqlite.
func whereTitleContains(q *gorm.DB, sub string) *gorm.DB {
	return q.Where(`LOWER(title) LIKE LOWER(?) ESCAPE '\'`, "%"+likeEscaper.Replace(sub)+"%")
}

// Find retrieves notes matching the filter.
func (r *noteRepository) Find(ctx context.Context, filter repository.NoteFilter) ([]*entity.Note, error) {
	q := r.db.WithContext(ctx).Model(&entity.Note{})
	if filter.Title != "" {
		q = q.Where("title = ?", filter.Title)
	}
	if filter.TitleContains != "" {
		q = whereTitleContains(q, filter.TitleContains)
	}
	if !filter.CreatedAfter.IsZero() {
		q = q.Where("created_at > ?", filter.CreatedAfter.UTC())
	}
	if !filter.CreatedBefore.IsZero() {
		q = q.Where("created_at < ?", filter.CreatedBefore.UTC())
	}
	if !filter.ReminderAfter.IsZero() {
		q = q.Where("reminder_at > ?", filter.ReminderAfter.UTC())
	}
	if !filter.ReminderBefore.IsZero() {
		q = q.Where("reminder_at < ?", filter.ReminderBefore.UTC())
	}

	switch filter.OrderBy {
	case repository.SortByCreatedAt, repository.SortByReminderAt, repository.SortByTitle:
		dir := "asc"
		if filter.Descending {
			dir = "desc"
		}
		// Tie-break on id so paging through equal keys is stable.
		q = q.Order(fmt.Sprintf("%s %s", filter.OrderBy, dir)).Order("id asc")
	case "":
		q = q.Order("created_at asc").Order("id asc")
	default:
		return nil, fmt.Errorf("%w: unsupported sort field %q", appErrors.ErrInvalidQuery, filter.OrderBy)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var notes []*entity.Note
	if err := q.Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	for _, n := range notes {
		n.NormalizeTimes()
	}
	return notes, nil
}

// Create inserts a new note.
func (r *noteRepository) Create(ctx context.Context, note *entity.Note) error {
	note.NormalizeTimes()
	if err := r.db.WithContext(ctx).Create(note).Error; err != nil {
		return fmt.Errorf("failed to create note %s: %w", note.ID, err)
	}
	return nil
}

// Update replaces the mutable fields of an existing note.
func (r *noteRepository) Update(ctx context.Context, note *entity.Note) error {
	note.NormalizeTimes()
	res := r.db.WithContext(ctx).
		Model(&entity.Note{}).
		Where("id = ?", note.ID).
		Select("title", "text", "reminder_at").
		Updates(note)
	if res.Error != nil {
		return fmt.Errorf("failed to update note %s: %w", note.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("note %s: %w", note.ID, appErrors.ErrNoteNotFound)
	}
	return nil
}

// Delete deletes a note by its ID.
func (r *noteRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.Note{}).Error; err != nil {
		return fmt.Errorf("failed to delete note %s: %w", id, err)
	}
	return nil
}

// GetNotesDue returns notes with reminder_at in [windowStart, windowEnd].
func (r *noteRepository) GetNotesDue(ctx context.Context, windowStart, windowEnd time.Time) ([]*entity.Note, error) {
	notes := []*entity.Note{}
	err := r.db.WithContext(ctx).
		Where("reminder_at >= ? AND reminder_at <= ?", windowStart.UTC(), windowEnd.UTC()).
		Find(&notes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find notes due between %v and %v: %w", windowStart, windowEnd, err)
	}
	for _, n := range notes {
		n.NormalizeTimes()
	}
	return notes, nil
}
