package models

import "time"

// Visit is the billable record of a completed service. EntryID is nil for
// pure walk-in billing that never went through the queue.
type Visit struct {
	VisitID     string          `json:"visit_id"`
	EntryID     *string         `json:"entry_id,omitempty"`
	ShopID      string          `json:"shop_id"`
	CustomerID  string          `json:"customer_id"`
	TotalAmount int64           `json:"total_amount"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	LineItems   []VisitLineItem `json:"line_items,omitempty"`
}

type VisitLineItem struct {
	LineItemID   string `json:"line_item_id"`
	VisitID      string `json:"visit_id"`
	ServiceID    string `json:"service_id"`
	ChargedPrice int64  `json:"charged_price"`
	Active       bool   `json:"active"`
}

type VisitDay struct {
	Date    string `json:"date"`
	Visits  int    `json:"visits"`
	Revenue int64  `json:"revenue"`
}

type VisitAnalytics struct {
	Days                 []VisitDay `json:"days"`
	TotalVisits          int        `json:"total_visits"`
	TotalRevenue         int64      `json:"total_revenue"`
	AverageVisitsPerDay  float64    `json:"average_visits_per_day"`
	AverageRevenuePerDay float64    `json:"average_revenue_per_day"`
}
