package ledger

import (
	"sort"
	"time"

	"github.com/mmynk/tally/internal/calculator"
	"github.com/mmynk/tally/internal/models"
	"github.com/mmynk/tally/internal/storage"
)

// Renewal is one upcoming charge.
type Renewal struct {
	Subscription models.Subscription
	Date         time.Time
	DaysUntil    int
}

// UpcomingRenewals lists subscriptions whose next charge falls within
// withinDays of now, soonest first. Cancelled, paused, lifetime and
// open-ended trial subscriptions never appear, whatever their stored
// next billing date says.
func (s *Store) UpcomingRenewals(withinDays int) []Renewal {
	st := s.current()
	now := s.now()
	horizon := now.AddDate(0, 0, withinDays)

	var out []Renewal
	for _, sub := range st.subs {
		next, ok := calculator.NextBillingDate(sub, now)
		if !ok || next.After(horizon) {
			continue
		}
		out = append(out, Renewal{
			Subscription: sub.Clone(),
			Date:         next,
			DaysUntil:    int(next.Sub(now).Hours() / 24),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Subscription.ID < out[j].Subscription.ID
	})
	return out
}

// PersonBalance returns a person's derived balance: positive means they are
// owed money.
func (s *Store) PersonBalance(personID string) (models.Money, error) {
	p, ok := s.current().people[personID]
	if !ok {
		return 0, notFound(models.KindPerson, personID)
	}
	return p.Balance, nil
}

// GroupBalance is a group's aggregate view.
type GroupBalance struct {
	GroupID  string
	Members  []calculator.MemberBalance
	Total    models.Money // sum of all expense totals
	Expenses int
}

// GroupBalance returns per-member net balances; they always sum to zero.
func (s *Store) GroupBalance(groupID string) (GroupBalance, error) {
	st := s.current()
	if _, ok := st.groups[groupID]; !ok {
		return GroupBalance{}, notFound(models.KindGroup, groupID)
	}
	gb := GroupBalance{
		GroupID: groupID,
		Members: append([]calculator.MemberBalance(nil), st.groupBalances[groupID]...),
	}
	for _, e := range st.groupExpenses(groupID) {
		gb.Total += e.Total
		gb.Expenses++
	}
	return gb, nil
}

// SettleUp returns the payments that would clear a group's balances.
func (s *Store) SettleUp(groupID string) ([]calculator.DebtEdge, error) {
	gb, err := s.GroupBalance(groupID)
	if err != nil {
		return nil, err
	}
	return calculator.SimplifyDebts(gb.Members), nil
}

// PriceHistory returns a subscription's price changes, newest first.
func (s *Store) PriceHistory(subscriptionID string) ([]models.PriceChange, error) {
	st := s.current()
	if _, ok := st.subs[subscriptionID]; !ok {
		return nil, notFound(models.KindSubscription, subscriptionID)
	}
	return st.prices.History(subscriptionID), nil
}

// RecentPriceIncrease returns the latest increase of a subscription if it
// happened within the configured alert window.
func (s *Store) RecentPriceIncrease(subscriptionID string) (models.PriceChange, bool) {
	return s.current().prices.RecentIncrease(subscriptionID, s.priceAlertDays, s.now())
}

// MonthlyTotal sums the monthly equivalent of every billing subscription.
// Trials, paused and cancelled subscriptions cost nothing this month.
func (s *Store) MonthlyTotal() models.Money {
	var billing []models.Subscription
	for _, sub := range s.current().subs {
		if sub.State == models.StateActive && !sub.IsCancelled() {
			billing = append(billing, sub)
		}
	}
	return calculator.MonthlyTotal(billing)
}

// Status describes the store for "not saving" warnings.
type Status struct {
	storage.Status
	Seq      uint64
	SavedSeq uint64
	Entities int
}

// Status reports persistence mode, durability and sequence progress.
func (s *Store) Status() Status {
	s.writeMu.Lock()
	seq := s.seq
	s.writeMu.Unlock()

	s.saver.mu.Lock()
	saved := s.saver.savedSeq
	s.saver.mu.Unlock()

	return Status{
		Status:   s.persistent.Status(),
		Seq:      seq,
		SavedSeq: saved,
		Entities: s.current().len(),
	}
}
