package models

import "time"

// PriceChange records one subscription price update. Entries are created only
// by the ledger when a subscription's price changes and are never edited.
type PriceChange struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"subscription_id"`
	PreviousPrice  Money     `json:"previous_price"`
	NewPrice       Money     `json:"new_price"`
	ChangeDate     time.Time `json:"change_date"`
	IsIncrease     bool      `json:"is_increase"`
}

func (p PriceChange) EntityKind() Kind { return KindPriceChange }
func (p PriceChange) EntityID() string { return p.ID }

// Delta returns NewPrice - PreviousPrice.
func (p PriceChange) Delta() Money { return p.NewPrice - p.PreviousPrice }
