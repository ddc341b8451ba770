package notifier

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"time"

	"shopline/queue-service/internal/store"

	"github.com/google/uuid"
)

// Store is the persistence surface the worker needs: the outbox to drain,
// the cursor to remember progress, and delivery bookkeeping.
type Store interface {
	GetNotifierOffset(ctx context.Context) (int64, error)
	SetNotifierOffset(ctx context.Context, offset int64) error
	ListOutboxEvents(ctx context.Context, after int64, limit int) ([]store.OutboxEvent, error)
	IsNotificationsEnabled(ctx context.Context, shopID string) (bool, error)
	GetTemplate(ctx context.Context, shopID, eventType, channel string) (string, error)
	InsertNotification(ctx context.Context, n store.Notification) (store.Notification, error)
	MarkNotificationSent(ctx context.Context, notificationID string, attempts int) error
	MarkNotificationFailed(ctx context.Context, notificationID string, attempts int, lastError string) error
	InsertDLQ(ctx context.Context, event store.OutboxEvent, reason string) error
	ListRecipients(ctx context.Context, customerID string) ([]store.Recipient, error)
}

type Worker struct {
	store       Store
	batchSize   int
	maxAttempts int
	providers   map[string]Provider
}

type Config struct {
	BatchSize    int
	MaxAttempts  int
	SMSProvider  string
	PushProvider string
}

type payloadData map[string]interface{}

func New(store Store, cfg Config) *Worker {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Worker{
		store:       store,
		batchSize:   batch,
		maxAttempts: maxAttempts,
		providers: map[string]Provider{
			"sms":  newProvider(cfg.SMSProvider, "sms"),
			"push": newProvider(cfg.PushProvider, "push"),
		},
	}
}

// Run drains one batch from the outbox. Events are delivered at least once:
// the offset only advances past events that were fully processed, so a crash
// or a transient store failure replays the tail on the next tick. Payloads
// that cannot be decoded go straight to the DLQ instead of blocking the
// cursor.
func (w *Worker) Run(ctx context.Context) error {
	last, err := w.store.GetNotifierOffset(ctx)
	if err != nil {
		return err
	}

	events, err := w.store.ListOutboxEvents(ctx, last, w.batchSize)
	if err != nil {
		return err
	}

	advanced := false
	for _, event := range events {
		if err := w.processEvent(ctx, event); err != nil {
			log.Printf("notifier process error event=%s: %v", event.EventID, err)
			break
		}
		last = event.Seq
		advanced = true
	}

	if advanced {
		if err := w.store.SetNotifierOffset(ctx, last); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) processEvent(ctx context.Context, event store.OutboxEvent) error {
	enabled, err := w.store.IsNotificationsEnabled(ctx, event.ShopID)
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}
	if defaultTemplate(event.Type) == "" {
		return nil
	}

	payload := payloadData{}
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return w.store.InsertDLQ(ctx, event, "bad payload: "+err.Error())
	}

	customerID := str(payload, "customer_id")
	if customerID == "" {
		return nil
	}

	recipients, err := w.store.ListRecipients(ctx, customerID)
	if err != nil {
		return err
	}

	for _, recipient := range recipients {
		body, err := w.store.GetTemplate(ctx, event.ShopID, event.Type, recipient.Channel)
		if err != nil {
			return err
		}
		if body == "" {
			body = defaultTemplate(event.Type)
		}
		message := renderTemplate(body, payload)

		if err := w.deliver(ctx, event, recipient, message); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) deliver(ctx context.Context, event store.OutboxEvent, recipient store.Recipient, message string) error {
	notification, err := w.store.InsertNotification(ctx, store.Notification{
		NotificationID: uuid.NewString(),
		ShopID:         event.ShopID,
		Channel:        recipient.Channel,
		Recipient:      recipient.Address,
		Status:         "pending",
	})
	if err != nil {
		return err
	}

	provider, ok := w.providers[recipient.Channel]
	if !ok {
		provider = noopProvider{}
	}

	delivery := Delivery{
		ShopID:    event.ShopID,
		Event:     event.Type,
		Channel:   recipient.Channel,
		Recipient: recipient.Address,
		Message:   message,
	}

	var sendErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if sendErr = provider.Send(ctx, delivery); sendErr == nil {
			return w.store.MarkNotificationSent(ctx, notification.NotificationID, attempt)
		}
		if err := w.store.MarkNotificationFailed(ctx, notification.NotificationID, attempt, sendErr.Error()); err != nil {
			return err
		}
	}

	return w.store.InsertDLQ(ctx, event, "max attempts reached: "+sendErr.Error())
}

func defaultTemplate(eventType string) string {
	switch eventType {
	case store.EventQueueJoined:
		return "You joined the line at {shop_name}. You are number {position}."
	case store.EventNextInLine:
		return "You're next in line at {shop_name}. Please head to the counter."
	case store.EventQueuePicked:
		return "It's your turn at {shop_name}."
	default:
		return ""
	}
}

func renderTemplate(template string, payload payloadData) string {
	result := template
	result = strings.ReplaceAll(result, "{shop_name}", str(payload, "shop_name"))
	result = strings.ReplaceAll(result, "{shop_id}", str(payload, "shop_id"))
	result = strings.ReplaceAll(result, "{position}", str(payload, "position"))
	return result
}

func str(payload payloadData, key string) string {
	switch value := payload[key].(type) {
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	default:
		return ""
	}
}

func Start(ctx context.Context, interval time.Duration, w *Worker) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Run(ctx); err != nil {
				log.Printf("notifier worker error: %v", err)
			}
		}
	}
}
