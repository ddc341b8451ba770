package store

import (
	"context"
	"encoding/json"
	"time"

	"shopline/queue-service/internal/models"
)

type JoinQueueInput struct {
	ShopID     string
	CustomerID string
	JoinedAt   time.Time
}

type TransitionInput struct {
	EntryID     string
	TargetState string
	OccurredAt  time.Time
}

type LineItemInput struct {
	ServiceID    string
	ChargedPrice int64
}

// GuestInfo carries the partial contact details used to resolve or mint a
// guest customer during visit completion.
type GuestInfo struct {
	FirstName string
	LastName  string
	Phone     string
}

// CompleteVisitInput describes the checkout. A zero ChargedPrice on a line
// item means "charge the catalog price"; the total is always computed from
// the resolved line items.
type CompleteVisitInput struct {
	EntryID    string
	CustomerID string
	LineItems  []LineItemInput
	Guest      *GuestInfo
	OccurredAt time.Time
}

type ListQueueInput struct {
	ShopID string
	State  string
	Page   int
	Limit  int
}

type ListVisitsInput struct {
	ShopID     string
	CustomerID string
	Page       int
	Limit      int
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type QueueStore interface {
	JoinQueue(ctx context.Context, input JoinQueueInput) (models.QueueEntry, error)
	GetQueueStatus(ctx context.Context, shopID, customerID string) (models.QueueStatus, error)
	ListQueueByState(ctx context.Context, input ListQueueInput) ([]models.QueueEntryDetail, Pagination, error)
	UpdateState(ctx context.Context, input TransitionInput) (models.QueueEntry, error)
	CancelEntry(ctx context.Context, entryID string) (models.QueueEntry, error)
	CompleteVisit(ctx context.Context, input CompleteVisitInput) (models.QueueEntry, models.Visit, error)
	DeactivateVisit(ctx context.Context, visitID string) (models.Visit, error)
	ListVisits(ctx context.Context, input ListVisitsInput) ([]models.Visit, Pagination, error)
	VisitAnalytics(ctx context.Context, shopID string, start, end time.Time) (models.VisitAnalytics, error)
	GetShopWithActiveServices(ctx context.Context, shopID string) (models.Shop, error)
	UpsertPushSubscription(ctx context.Context, sub PushSubscription) (PushSubscription, error)
}

// ShopDirectory is the narrow read surface the completion workflow needs.
type ShopDirectory interface {
	GetShopWithActiveServices(ctx context.Context, shopID string) (models.Shop, error)
}

// OutboxEvent is a notification or integration intent written in the same
// transaction as the queue or visit change it describes. The notifier worker
// dispatches events after commit, at least once.
type OutboxEvent struct {
	Seq       int64           `json:"seq"`
	EventID   string          `json:"event_id"`
	ShopID    string          `json:"shop_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

const (
	EventQueueJoined    = "queue.joined"
	EventQueuePicked    = "queue.picked"
	EventQueueServed    = "queue.served"
	EventQueueCancelled = "queue.cancelled"
	EventNextInLine     = "queue.next_in_line"
	EventVisitRecorded  = "visit.recorded"
)

type PushSubscription struct {
	SubscriptionID string    `json:"subscription_id"`
	CustomerID     string    `json:"customer_id"`
	Endpoint       string    `json:"endpoint"`
	KeysAuth       string    `json:"keys_auth"`
	KeysP256DH     string    `json:"keys_p256dh"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}
