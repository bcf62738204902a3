package models

import (
	"time"
)

// PaymentStatus tracks whether a transaction has settled.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusCompleted PaymentStatus = "completed"
)

// Transaction is a single money movement seen from the user's side:
// negative amounts leave the user, positive amounts arrive.
//
// When PersonID is set and the transaction is not linked to a group expense,
// its signed amount is credited to that person's balance once completed.
type Transaction struct {
	ID             string        `json:"id"`
	Amount         Money         `json:"amount"`
	Date           time.Time     `json:"date"`
	Category       Category      `json:"category"`
	Description    string        `json:"description,omitempty"`
	PersonID       string        `json:"person_id,omitempty"`
	SplitBillID    string        `json:"split_bill_id,omitempty"`
	GroupExpenseID string        `json:"group_expense_id,omitempty"`
	Status         PaymentStatus `json:"status"`
}

func (t Transaction) EntityKind() Kind { return KindTransaction }
func (t Transaction) EntityID() string { return t.ID }

// AffectsBalance reports whether the transaction contributes to PersonID's balance.
func (t Transaction) AffectsBalance() bool {
	return t.PersonID != "" && t.GroupExpenseID == "" && t.Status == StatusCompleted
}

// Validate checks the transaction's own fields.
func (t Transaction) Validate() error {
	if t.Amount == 0 {
		return Invalid("amount", "must not be zero")
	}
	if t.Date.IsZero() {
		return Invalid("date", "must be set")
	}
	if !t.Category.Valid() {
		return Invalid("category", "unknown category %q", t.Category)
	}
	switch t.Status {
	case StatusPending, StatusCompleted:
	default:
		return Invalid("status", "unknown payment status %q", t.Status)
	}
	return nil
}
