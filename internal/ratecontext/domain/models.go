package domain

import "time"

// RateContext is the price envelope for one product: what the buyer sees and
// what the product actually costs us.
type RateContext struct {
	ProductKey     string    `json:"product_key"`
	DisplayedPrice float64   `json:"displayed_price"`
	TrueCost       float64   `json:"true_cost"`
	Currency       string    `json:"currency"`
	FetchedAt      time.Time `json:"fetched_at"`
}
