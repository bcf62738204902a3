package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Group represents a reusable participant list whose members split expenses.
type Group struct {
	// ID is the unique identifier for the group (UUID format).
	ID string `json:"id"`

	// Name is the display name of the group (e.g., "Roommates", "Work Lunch").
	Name string `json:"name"`

	// Members are person IDs.
	Members []string `json:"members"`

	CreatedAt time.Time `json:"created_at"`
}

func (g Group) EntityKind() Kind { return KindGroup }
func (g Group) EntityID() string { return g.ID }

// HasMember reports whether personID belongs to the group.
func (g Group) HasMember(personID string) bool {
	for _, m := range g.Members {
		if m == personID {
			return true
		}
	}
	return false
}

// Validate checks the group's own fields.
func (g Group) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return Invalid("name", "must not be empty")
	}
	seen := make(map[string]bool, len(g.Members))
	for _, m := range g.Members {
		if m == "" {
			return Invalid("members", "member id must not be empty")
		}
		if seen[m] {
			return Invalid("members", "duplicate member %s", m)
		}
		seen[m] = true
	}
	return nil
}

// Clone returns a deep copy.
func (g Group) Clone() Group {
	g.Members = append([]string(nil), g.Members...)
	return g
}

// SplitPolicy selects how a total is divided.
type SplitPolicy string

const (
	// SplitEqual divides the total evenly; leftover cents go to the payer.
	SplitEqual SplitPolicy = "equal"
	// SplitCustom uses the fixed amounts given in each share.
	SplitCustom SplitPolicy = "custom"
	// SplitPercent converts each share's percentage into cents; leftover cents go to the payer.
	SplitPercent SplitPolicy = "percent"
)

// Valid reports whether p is a known policy.
func (p SplitPolicy) Valid() bool {
	switch p {
	case SplitEqual, SplitCustom, SplitPercent:
		return true
	}
	return false
}

// Share is one person's portion of a split.
type Share struct {
	PersonID string `json:"person_id"`

	// Amount is the resolved share in cents. For equal and percent policies the
	// ledger computes it.
	Amount Money `json:"amount"`

	// Percent is the requested percentage (0-100), used by SplitPercent only.
	Percent *decimal.Decimal `json:"percent,omitempty"`
}

// SumShares adds the resolved amounts of shares.
func SumShares(shares []Share) Money {
	var total Money
	for _, s := range shares {
		total += s.Amount
	}
	return total
}

// GroupExpense is an expense paid by one group member and split across members.
type GroupExpense struct {
	ID          string      `json:"id"`
	GroupID     string      `json:"group_id"`
	Description string      `json:"description"`
	Total       Money       `json:"total"`
	PaidBy      string      `json:"paid_by"`
	Policy      SplitPolicy `json:"policy"`

	// Splits are ordered (personID, share) pairs. Invariant: their amounts sum to Total.
	Splits []Share `json:"splits"`

	Date time.Time `json:"date"`
}

func (e GroupExpense) EntityKind() Kind { return KindGroupExpense }
func (e GroupExpense) EntityID() string { return e.ID }

// Participants returns the person IDs that hold a share.
func (e GroupExpense) Participants() []string {
	ids := make([]string, len(e.Splits))
	for i, s := range e.Splits {
		ids[i] = s.PersonID
	}
	return ids
}

// Validate checks fields that do not depend on other entities.
// Split resolution and the sum invariant are checked by the ledger.
func (e GroupExpense) Validate() error {
	if e.GroupID == "" {
		return Invalid("group_id", "must not be empty")
	}
	if e.Total <= 0 {
		return Invalid("total", "must be positive, got %s", e.Total)
	}
	if e.PaidBy == "" {
		return Invalid("paid_by", "must not be empty")
	}
	if !e.Policy.Valid() {
		return Invalid("policy", "unknown split policy %q", e.Policy)
	}
	if len(e.Splits) == 0 {
		return Invalid("splits", "must have at least one participant")
	}
	seen := make(map[string]bool, len(e.Splits))
	for _, s := range e.Splits {
		if s.PersonID == "" {
			return Invalid("splits", "person id must not be empty")
		}
		if seen[s.PersonID] {
			return Invalid("splits", "duplicate participant %s", s.PersonID)
		}
		seen[s.PersonID] = true
	}
	return nil
}

// Clone returns a deep copy.
func (e GroupExpense) Clone() GroupExpense {
	e.Splits = append([]Share(nil), e.Splits...)
	return e
}
