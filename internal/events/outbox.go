package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event describes a points event to store in the outbox.
type Event struct {
	Type    string
	Payload map[string]any
}

// Outbox inserts events into the points_events table. Writes that share
// a transaction with the ledger posting become visible atomically.
type Outbox struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewOutbox(db *gorm.DB, genID *snowflake.Node) *Outbox {
	return &Outbox{db: db, genID: genID}
}

// Publish stores an event using the default database connection.
func (o *Outbox) Publish(ctx context.Context, event Event) error {
	return o.publish(ctx, o.db, event)
}

// PublishTx stores an event using an existing transaction.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	if tx == nil {
		return errors.New("missing_transaction")
	}
	return o.publish(ctx, tx, event)
}

func (o *Outbox) publish(ctx context.Context, db *gorm.DB, event Event) error {
	if o == nil || db == nil || o.genID == nil {
		return errors.New("outbox_unavailable")
	}
	name := strings.TrimSpace(event.Type)
	if name == "" {
		return errors.New("missing_event_type")
	}

	payload := datatypes.JSONMap{}
	for key, value := range event.Payload {
		if strings.TrimSpace(key) == "" {
			continue
		}
		payload[key] = value
	}

	now := time.Now().UTC()
	return db.WithContext(ctx).Exec(
		`INSERT INTO points_events (id, event_type, payload, created_at)
		 VALUES (?, ?, ?, ?)`,
		o.genID.Generate(),
		name,
		payload,
		now,
	).Error
}

// Unpublished returns the oldest pending events up to limit.
func (o *Outbox) Unpublished(ctx context.Context, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var stored []StoredEvent
	err := o.db.WithContext(ctx).Raw(
		`SELECT id, event_type, payload, created_at
		 FROM points_events
		 WHERE published_at IS NULL
		 ORDER BY created_at ASC
		 LIMIT ?`,
		limit,
	).Scan(&stored).Error
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// MarkPublished stamps events as delivered.
func (o *Outbox) MarkPublished(ctx context.Context, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return o.db.WithContext(ctx).Exec(
		`UPDATE points_events SET published_at = ? WHERE id IN ? AND published_at IS NULL`,
		time.Now().UTC(),
		ids,
	).Error
}

// StoredEvent is one outbox row.
type StoredEvent struct {
	ID        snowflake.ID      `json:"id"`
	EventType string            `json:"event_type"`
	Payload   datatypes.JSONMap `json:"payload"`
	CreatedAt time.Time         `json:"created_at"`
}
