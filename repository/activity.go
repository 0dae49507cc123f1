package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goliatone/go-repository-bun"
	selfservice "github.com/goliatone/go-selfservice"
	"github.com/goliatone/go-selfservice/activitymap"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ActivityRecord is the Bun model for self service activity events.
type ActivityRecord struct {
	bun.BaseModel `bun:"table:selfservice_activity"`

	ID         uuid.UUID      `bun:"id,pk,nullzero,type:uuid"`
	EventType  string         `bun:"event_type,notnull"`
	ActorID    string         `bun:"actor_id,notnull"`
	UserID     string         `bun:"user_id,notnull"`
	ObjectType string         `bun:"object_type"`
	Channel    string         `bun:"channel"`
	Metadata   map[string]any `bun:"metadata,type:jsonb"`
	OccurredAt time.Time      `bun:"occurred_at,notnull"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// ActivityStore persists activity events, it implements selfservice.ActivitySink.
// Events are normalized with activitymap before they are stored.
type ActivityStore struct {
	db        *bun.DB
	normalize []activitymap.Option
}

var _ selfservice.ActivitySink = (*ActivityStore)(nil)

// NewActivityStore creates a new store.
func NewActivityStore(db *bun.DB, opts ...activitymap.Option) *ActivityStore {
	return &ActivityStore{db: db, normalize: opts}
}

// EnsureSchema creates the table and the user index when missing.
func (s *ActivityStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*ActivityRecord)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return err
	}

	_, err := s.db.NewCreateIndex().
		Model((*ActivityRecord)(nil)).
		Index("idx_selfservice_activity_user_id").
		Column("user_id").
		IfNotExists().
		Exec(ctx)
	return err
}

// Record implements selfservice.ActivitySink.
func (s *ActivityStore) Record(ctx context.Context, event selfservice.ActivityEvent) error {
	_, err := s.Create(ctx, event)
	return err
}

// Create stores the event and returns the persisted record.
func (s *ActivityStore) Create(ctx context.Context, event selfservice.ActivityEvent) (*ActivityRecord, error) {
	record := s.fromEvent(event)

	if _, err := s.db.NewInsert().
		Model(record).
		Exec(ctx); err != nil {
		return nil, err
	}

	return record, nil
}

// Get returns a single record by id.
func (s *ActivityStore) Get(ctx context.Context, id string) (*ActivityRecord, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id,
			})
	}

	record := &ActivityRecord{}
	err = s.db.NewSelect().
		Model(record).
		Where("id = ?", parsed).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"id": id,
				})
		}
		return nil, err
	}

	return record, nil
}

// ListByUser returns the newest events of a user first, limit <= 0 returns all.
func (s *ActivityStore) ListByUser(ctx context.Context, userID string, limit int) ([]*ActivityRecord, error) {
	records := []*ActivityRecord{}
	q := s.db.NewSelect().
		Model(&records).
		Where("user_id = ?", userID).
		Order("occurred_at DESC")

	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []*ActivityRecord{}, nil
		}
		return nil, err
	}

	return records, nil
}

// Event converts the record back into an activity event.
func (r *ActivityRecord) Event() selfservice.ActivityEvent {
	actorType, _ := r.Metadata[activitymap.MetadataKeyActorType].(string)
	return selfservice.ActivityEvent{
		EventType:  selfservice.ActivityEventType(r.EventType),
		Actor:      selfservice.ActorRef{ID: r.ActorID, Type: actorType},
		UserID:     r.UserID,
		Metadata:   r.Metadata,
		OccurredAt: r.OccurredAt,
	}
}

func (s *ActivityStore) fromEvent(event selfservice.ActivityEvent) *ActivityRecord {
	normalized := activitymap.Normalize(event, s.normalize...)

	metadata := normalized.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	return &ActivityRecord{
		ID:         uuid.New(),
		EventType:  normalized.Verb,
		ActorID:    normalized.ActorID,
		UserID:     normalized.ObjectID,
		ObjectType: normalized.ObjectType,
		Channel:    normalized.Channel,
		Metadata:   metadata,
		OccurredAt: normalized.OccurredAt,
		CreatedAt:  time.Now().UTC(),
	}
}
