// Package journal persists the desk's event stream to an embedded
// sqlite database so indexers can replay it after a restart.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/clearhaven/otcx/internal/events"
)

// EventRecord is one journaled event.
type EventRecord struct {
	ID        string    `gorm:"primaryKey;type:text"`
	Seq       uint64    `gorm:"index"`
	Topic     string    `gorm:"index"`
	Type      string    `gorm:"index"`
	Payload   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}

// Journal appends events to sqlite and serves range reads.
type Journal struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open opens (or creates) the journal database at dsn. Use ":memory:"
// for tests.
func Open(dsn string, log *zap.Logger) (*Journal, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal db: %w", err)
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate journal schema: %w", err)
	}
	return &Journal{db: db, log: log}, nil
}

// Append journals one event.
func (j *Journal) Append(ctx context.Context, evt events.Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	id := evt.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	rec := EventRecord{
		ID:        id.String(),
		Seq:       evt.Seq,
		Topic:     evt.Topic,
		Type:      evt.Type,
		Payload:   string(payload),
		CreatedAt: evt.Timestamp,
	}
	if err := j.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to append event record: %w", err)
	}
	return nil
}

// Range returns up to limit records with Seq >= fromSeq, in sequence
// order.
func (j *Journal) Range(ctx context.Context, fromSeq uint64, limit int) ([]EventRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	var recs []EventRecord
	err := j.db.WithContext(ctx).
		Where("seq >= ?", fromSeq).
		Order("seq asc, created_at asc").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read event records: %w", err)
	}
	return recs, nil
}

// Subscribe attaches the journal to the bus as a wildcard sink.
// Append failures are logged and dropped, never pushed back into the
// settlement path.
func (j *Journal) Subscribe(bus events.Bus) {
	bus.Subscribe("", func(ctx context.Context, evt events.Event) {
		if err := j.Append(ctx, evt); err != nil {
			j.log.Error("failed to journal event",
				zap.String("topic", evt.Topic),
				zap.String("type", evt.Type),
				zap.Uint64("seq", evt.Seq),
				zap.Error(err),
			)
		}
	})
}
