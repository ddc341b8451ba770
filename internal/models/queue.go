package models

import "time"

type QueueEntry struct {
	EntryID    string     `json:"entry_id"`
	ShopID     string     `json:"shop_id"`
	CustomerID string     `json:"customer_id"`
	State      string     `json:"state"`
	JoinedAt   time.Time  `json:"joined_at"`
	JoinSeq    int64      `json:"join_seq"`
	ServedAt   *time.Time `json:"served_at,omitempty"`
	Active     bool       `json:"active"`
	Position   int        `json:"position,omitempty"`
}

const (
	StateInQueue = "in_queue"
	StatePicked  = "picked"
	StateServed  = "served"
)

// QueueStatus is the customer's derived view of their place in the line.
// Position is always recomputed from the ordered in_queue scan, never cached.
type QueueStatus struct {
	Position     int        `json:"position"`
	PeopleAhead  int        `json:"people_ahead"`
	TotalInQueue int        `json:"total_in_queue"`
	Entry        QueueEntry `json:"entry"`
}

// QueueEntryDetail joins an entry with the public fields of its customer
// for operator-facing listings.
type QueueEntryDetail struct {
	QueueEntry
	Customer CustomerPublic `json:"customer"`
}
