package store

import "time"

// Notification is one delivery attempt record written by the notifier worker.
type Notification struct {
	NotificationID string
	ShopID         string
	Channel        string
	Recipient      string
	Status         string
	Attempts       int
	LastError      string
	CreatedAt      time.Time
}

// Recipient is a deliverable address for a customer: an SMS phone number or
// a push subscription endpoint.
type Recipient struct {
	Channel string
	Address string
}