package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"shopline/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// insertOutboxEvent records a notification intent inside the caller's
// transaction. If the transaction rolls back, the intent vanishes with it.
func insertOutboxEvent(ctx context.Context, tx pgx.Tx, shopID, eventType string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, shop_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), shopID, eventType, body, time.Now().UTC())
	return err
}

func (s *Store) ListOutboxEvents(ctx context.Context, after int64, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT seq, event_id, shop_id, type, payload_json, created_at
		FROM outbox_events
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.Seq, &event.EventID, &event.ShopID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *Store) GetNotifierOffset(ctx context.Context) (int64, error) {
	var offset int64
	row := s.pool.QueryRow(ctx, `SELECT last_seq FROM notifier_offsets WHERE id = 1`)
	if err := row.Scan(&offset); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return offset, nil
}

func (s *Store) SetNotifierOffset(ctx context.Context, offset int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifier_offsets (id, last_seq, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE
		SET last_seq = EXCLUDED.last_seq, updated_at = EXCLUDED.updated_at
	`, offset, time.Now().UTC())
	return err
}

// IsNotificationsEnabled reports the shop's opt-in. Shops without an explicit
// preference row are enabled.
func (s *Store) IsNotificationsEnabled(ctx context.Context, shopID string) (bool, error) {
	var enabled bool
	row := s.pool.QueryRow(ctx, `
		SELECT enabled FROM shop_notification_prefs WHERE shop_id = $1
	`, shopID)
	if err := row.Scan(&enabled); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return true, nil
		}
		return false, err
	}
	return enabled, nil
}

// GetTemplate prefers a shop-specific template and falls back to the global
// default for the event type. An empty body means no template exists.
func (s *Store) GetTemplate(ctx context.Context, shopID, eventType, channel string) (string, error) {
	var body string
	row := s.pool.QueryRow(ctx, `
		SELECT body
		FROM notification_templates
		WHERE (shop_id = $1 OR shop_id IS NULL) AND event_type = $2 AND channel = $3 AND active
		ORDER BY shop_id NULLS LAST
		LIMIT 1
	`, shopID, eventType, channel)
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return body, nil
}

func (s *Store) InsertNotification(ctx context.Context, n store.Notification) (store.Notification, error) {
	if n.NotificationID == "" {
		n.NotificationID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (notification_id, shop_id, channel, recipient, status, attempts, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.NotificationID, n.ShopID, n.Channel, n.Recipient, n.Status, n.Attempts, nullIfEmpty(n.LastError), n.CreatedAt)
	if err != nil {
		return store.Notification{}, err
	}
	return n, nil
}

func (s *Store) MarkNotificationSent(ctx context.Context, notificationID string, attempts int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'sent', attempts = $2, last_error = NULL
		WHERE notification_id = $1
	`, notificationID, attempts)
	return err
}

func (s *Store) MarkNotificationFailed(ctx context.Context, notificationID string, attempts int, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'failed', attempts = $2, last_error = $3
		WHERE notification_id = $1
	`, notificationID, attempts, lastError)
	return err
}

// InsertDLQ parks an event that exhausted its delivery attempts so an
// operator can replay it.
func (s *Store) InsertDLQ(ctx context.Context, event store.OutboxEvent, reason string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_dlq (dlq_id, event_id, shop_id, type, payload_json, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.NewString(), event.EventID, event.ShopID, event.Type, []byte(event.Payload), reason, time.Now().UTC())
	return err
}

// ListRecipients resolves every deliverable address for a customer: the
// phone number on file plus any active push endpoints.
func (s *Store) ListRecipients(ctx context.Context, customerID string) ([]store.Recipient, error) {
	var recipients []store.Recipient

	var phone sql.NullString
	row := s.pool.QueryRow(ctx, `
		SELECT phone FROM customers WHERE customer_id = $1 AND active
	`, customerID)
	if err := row.Scan(&phone); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
	} else if phone.Valid && phone.String != "" {
		recipients = append(recipients, store.Recipient{Channel: "sms", Address: phone.String})
	}

	rows, err := s.pool.Query(ctx, `
		SELECT endpoint FROM push_subscriptions WHERE customer_id = $1 AND active
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var endpoint string
		if err := rows.Scan(&endpoint); err != nil {
			return nil, err
		}
		recipients = append(recipients, store.Recipient{Channel: "push", Address: endpoint})
	}
	return recipients, rows.Err()
}
