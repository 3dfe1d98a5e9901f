package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// CreateEvent inserts the event in a single write and fills in the
// assigned id and received_at. No retry on failure; the caller decides.
func (s *Store) CreateEvent(ctx context.Context, e *Event) error {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// GetEvent loads one event by id.
func (s *Store) GetEvent(ctx context.Context, id int64) (*Event, error) {
	var e Event
	if err := s.db.WithContext(ctx).First(&e, id).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// MarkProcessed flags the event processed. Unconditional and idempotent:
// calling it twice just refreshes processed_at. The repository
// back-reference is set when the projector resolved one.
func (s *Store) MarkProcessed(ctx context.Context, id int64, repositoryID *int64) error {
	updates := map[string]any{
		"processed":    true,
		"processed_at": time.Now().UTC(),
	}
	if repositoryID != nil {
		updates["repository_id"] = *repositoryID
	}

	err := s.db.WithContext(ctx).Model(&Event{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to mark event %d processed: %w", id, err)
	}
	return nil
}

// EventFilter is the set of optional predicates over events. Nil/empty
// fields are omitted from the query entirely, never matched against
// NULL. Search is a case-insensitive substring match over the raw
// payload text.
type EventFilter struct {
	Source    *string
	EventType *string
	Action    *string
	ActorName *string
	Processed *bool
	Search    string
}

// apply compiles the filter onto a query. SearchEvents and CountEvents
// both go through here so results and counts can never skew.
func (f EventFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Source != nil {
		q = q.Where("source = ?", *f.Source)
	}
	if f.EventType != nil {
		q = q.Where("event_type = ?", *f.EventType)
	}
	if f.Action != nil {
		q = q.Where("action = ?", *f.Action)
	}
	if f.ActorName != nil {
		q = q.Where("actor_name = ?", *f.ActorName)
	}
	if f.Processed != nil {
		q = q.Where("processed = ?", *f.Processed)
	}
	if f.Search != "" {
		q = q.Where("lower(raw_event) LIKE ?", "%"+strings.ToLower(f.Search)+"%")
	}
	return q
}

// SearchEvents returns the filtered events, newest first.
func (s *Store) SearchEvents(ctx context.Context, f EventFilter, limit, offset int) ([]Event, error) {
	var events []Event
	q := f.apply(s.db.WithContext(ctx))
	err := q.Order("received_at DESC, id DESC").Limit(limit).Offset(offset).Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search events: %w", err)
	}
	return events, nil
}

// CountEvents counts with the same predicates SearchEvents selects with.
func (s *Store) CountEvents(ctx context.Context, f EventFilter) (int64, error) {
	var count int64
	err := f.apply(s.db.WithContext(ctx).Model(&Event{})).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// ListEventsByRepository returns events linked to a repository, newest first.
func (s *Store) ListEventsByRepository(ctx context.Context, repositoryID int64, limit, offset int) ([]Event, error) {
	var events []Event
	err := s.db.WithContext(ctx).
		Where("repository_id = ?", repositoryID).
		Order("received_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list events for repository %d: %w", repositoryID, err)
	}
	return events, nil
}

func (s *Store) distinct(ctx context.Context, column string, skipNull bool) ([]string, error) {
	q := s.db.WithContext(ctx).Model(&Event{}).Distinct(column)
	if skipNull {
		q = q.Where(column + " IS NOT NULL")
	}

	var values []string
	if err := q.Order(column + " ASC").Pluck(column, &values).Error; err != nil {
		return nil, fmt.Errorf("failed to list distinct %s: %w", column, err)
	}
	return values, nil
}

// EventTypes returns every distinct event type seen, ascending.
func (s *Store) EventTypes(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "event_type", false)
}

// Sources returns every distinct source seen, ascending.
func (s *Store) Sources(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "source", false)
}

// Actions returns every distinct non-null action seen, ascending.
func (s *Store) Actions(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "action", true)
}

// ActorNames returns every distinct non-null actor name seen, ascending.
func (s *Store) ActorNames(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "actor_name", true)
}
