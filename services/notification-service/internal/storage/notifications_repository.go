package storage

import (
	"context"
	"encoding/json"

	"github.com/tmwangi/kalenda/libs/db"
)

// Notification is one delivery attempt's audit row. EntityID is the
// appointment or subscription the notification is about.
type Notification struct {
	EntityID   string
	BusinessID string
	EventType  string
	Channel    string
	Recipient  string
	Payload    map[string]any
	Status     string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications (entity_id, business_id, event_type, channel, recipient, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.EntityID, n.BusinessID, n.EventType, n.Channel, n.Recipient, payload, n.Status)
	return err
}
