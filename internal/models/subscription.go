package models

import (
	"fmt"
	"strings"
	"time"
)

// BillingCycle is the recurrence unit of a subscription.
type BillingCycle string

const (
	CycleDaily      BillingCycle = "daily"
	CycleWeekly     BillingCycle = "weekly"
	CycleBiweekly   BillingCycle = "biweekly"
	CycleMonthly    BillingCycle = "monthly"
	CycleQuarterly  BillingCycle = "quarterly"
	CycleSemiAnnual BillingCycle = "semiAnnual"
	CycleYearly     BillingCycle = "yearly"
	CycleLifetime   BillingCycle = "lifetime"
)

// AllCycles lists every billing cycle.
func AllCycles() []BillingCycle {
	return []BillingCycle{
		CycleDaily, CycleWeekly, CycleBiweekly, CycleMonthly,
		CycleQuarterly, CycleSemiAnnual, CycleYearly, CycleLifetime,
	}
}

// ParseCycle converts a string to a BillingCycle. "annually" is accepted as
// an alias of yearly.
func ParseCycle(s string) (BillingCycle, error) {
	if s == "annually" {
		return CycleYearly, nil
	}
	for _, c := range AllCycles() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown billing cycle %q", s)
}

// Recurring reports whether the cycle produces billing events.
func (c BillingCycle) Recurring() bool { return c != CycleLifetime }

// LifecycleState is the subscription state machine position.
type LifecycleState string

const (
	StateTrial     LifecycleState = "trial"
	StateActive    LifecycleState = "active"
	StatePaused    LifecycleState = "paused"
	StateCancelled LifecycleState = "cancelled"
)

// Valid reports whether s is a known state.
func (s LifecycleState) Valid() bool {
	switch s {
	case StateTrial, StateActive, StatePaused, StateCancelled:
		return true
	}
	return false
}

// Trial describes a free-trial period. A nil EndDate is a trial whose end is
// not known yet; billing stays suspended until it is set.
type Trial struct {
	EndDate *time.Time `json:"end_date,omitempty"`
}

// Subscription is a recurring charge.
type Subscription struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Price    Money          `json:"price"`
	Cycle    BillingCycle   `json:"cycle"`
	Category Category       `json:"category"`
	State    LifecycleState `json:"state"`

	// CancellationDate is terminal: once set, no billing events are produced.
	CancellationDate *time.Time `json:"cancellation_date,omitempty"`

	// Trial is nil when the subscription never had a free trial.
	Trial *Trial `json:"trial,omitempty"`

	// LastBillingDate anchors the billing schedule.
	LastBillingDate time.Time `json:"last_billing_date"`

	// NextBillingDate is maintained by the ledger; nil for lifetime, paused,
	// cancelled, and open-ended trial subscriptions.
	NextBillingDate *time.Time `json:"next_billing_date,omitempty"`

	UsageCount   int        `json:"usage_count"`
	LastUsedDate *time.Time `json:"last_used_date,omitempty"`

	// SharedWith are person IDs.
	SharedWith []string `json:"shared_with,omitempty"`

	CreatedDate time.Time `json:"created_date"`
	Notes       string    `json:"notes,omitempty"`
	Website     string    `json:"website,omitempty"`
}

func (s Subscription) EntityKind() Kind { return KindSubscription }
func (s Subscription) EntityID() string { return s.ID }

// IsActive reports whether the subscription is currently billing or in trial.
func (s Subscription) IsActive() bool {
	return s.State == StateActive || s.State == StateTrial
}

// IsFreeTrial reports whether the subscription is in its trial period.
func (s Subscription) IsFreeTrial() bool {
	return s.State == StateTrial
}

// IsCancelled reports whether the subscription reached the terminal billing state.
func (s Subscription) IsCancelled() bool {
	return s.State == StateCancelled || s.CancellationDate != nil
}

// Validate checks the subscription's own fields.
func (s Subscription) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return Invalid("name", "must not be empty")
	}
	if s.Price < 0 {
		return Invalid("price", "must not be negative, got %s", s.Price)
	}
	if _, err := ParseCycle(string(s.Cycle)); err != nil {
		return &ValidationError{Field: "cycle", Message: err.Error(), Err: err}
	}
	if !s.Category.Valid() {
		return Invalid("category", "unknown category %q", s.Category)
	}
	if !s.State.Valid() {
		return Invalid("state", "unknown state %q", s.State)
	}
	if s.State == StateTrial && s.Trial == nil {
		return Invalid("trial", "trial state requires trial details")
	}
	if s.State == StateCancelled && s.CancellationDate == nil {
		return Invalid("cancellation_date", "cancelled state requires a cancellation date")
	}
	if s.CancellationDate != nil && s.State != StateCancelled {
		return Invalid("state", "cancellation date set on %s subscription", s.State)
	}
	if s.LastBillingDate.IsZero() {
		return Invalid("last_billing_date", "must be set")
	}
	if s.NextBillingDate != nil && s.NextBillingDate.Before(s.LastBillingDate) {
		return Invalid("next_billing_date", "must not be earlier than last billing date")
	}
	if s.State == StateTrial && s.Trial.EndDate != nil && s.Trial.EndDate.Before(s.LastBillingDate) {
		return Invalid("trial", "trial end must not be earlier than the billing anchor")
	}
	if s.UsageCount < 0 {
		return Invalid("usage_count", "must not be negative")
	}
	return nil
}

// Clone returns a deep copy.
func (s Subscription) Clone() Subscription {
	s.CancellationDate = cloneTime(s.CancellationDate)
	s.NextBillingDate = cloneTime(s.NextBillingDate)
	s.LastUsedDate = cloneTime(s.LastUsedDate)
	if s.Trial != nil {
		t := Trial{EndDate: cloneTime(s.Trial.EndDate)}
		s.Trial = &t
	}
	s.SharedWith = append([]string(nil), s.SharedWith...)
	return s
}

// BillingFieldsChanged reports whether fields that drive the billing schedule
// differ between s and other.
func (s Subscription) BillingFieldsChanged(other Subscription) bool {
	if s.Cycle != other.Cycle || s.State != other.State || !s.LastBillingDate.Equal(other.LastBillingDate) {
		return true
	}
	if !timePtrEqual(s.CancellationDate, other.CancellationDate) {
		return true
	}
	if (s.Trial == nil) != (other.Trial == nil) {
		return true
	}
	return s.Trial != nil && !timePtrEqual(s.Trial.EndDate, other.Trial.EndDate)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time { return &t }
