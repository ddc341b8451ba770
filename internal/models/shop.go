package models

type Shop struct {
	ShopID   string    `json:"shop_id"`
	Name     string    `json:"name"`
	Address  string    `json:"address"`
	IsOpen   bool      `json:"is_open"`
	Services []Service `json:"services,omitempty"`
}

type Service struct {
	ShopID           string `json:"shop_id"`
	ServiceID        string `json:"service_id"`
	Name             string `json:"name"`
	Price            int64  `json:"price"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	Active           bool   `json:"active"`
}
