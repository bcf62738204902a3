// Package pricehistory keeps the append-only log of subscription price changes
// and answers "did this get more expensive recently" queries over it.
package pricehistory

import (
	"sort"
	"time"

	"github.com/mmynk/tally/internal/models"
)

// Log holds price changes per subscription, newest first.
// It is not safe for concurrent use; the ledger guards it with its writer lock.
type Log struct {
	bySub map[string][]models.PriceChange
	newID func() string
}

// New returns an empty log. newID assigns IDs to recorded entries.
func New(newID func() string) *Log {
	return &Log{bySub: make(map[string][]models.PriceChange), newID: newID}
}

// FromEntries rebuilds a log from persisted entries in any order.
func FromEntries(entries []models.PriceChange, newID func() string) *Log {
	l := New(newID)
	for _, e := range entries {
		l.bySub[e.SubscriptionID] = append(l.bySub[e.SubscriptionID], e)
	}
	for id := range l.bySub {
		sortNewestFirst(l.bySub[id])
	}
	return l
}

// Record appends a change from previous to next at now. Equal prices are a
// no-op and return false. A second change for the same subscription at the
// same instant replaces the first (last write wins) while keeping the
// original previous price.
func (l *Log) Record(subscriptionID string, previous, next models.Money, now time.Time) (models.PriceChange, bool) {
	if previous == next {
		return models.PriceChange{}, false
	}
	entries := l.bySub[subscriptionID]
	for i, e := range entries {
		if e.ChangeDate.Equal(now) {
			e.NewPrice = next
			e.IsIncrease = next > e.PreviousPrice
			entries[i] = e
			return e, true
		}
	}

	change := models.PriceChange{
		ID:             l.newID(),
		SubscriptionID: subscriptionID,
		PreviousPrice:  previous,
		NewPrice:       next,
		ChangeDate:     now,
		IsIncrease:     next > previous,
	}
	entries = append(entries, change)
	sortNewestFirst(entries)
	l.bySub[subscriptionID] = entries
	return change, true
}

// History returns a copy of a subscription's changes, newest first.
func (l *Log) History(subscriptionID string) []models.PriceChange {
	return append([]models.PriceChange(nil), l.bySub[subscriptionID]...)
}

// RecentIncrease returns the latest increase for subscriptionID if it happened
// within windowDays of now.
func (l *Log) RecentIncrease(subscriptionID string, windowDays int, now time.Time) (models.PriceChange, bool) {
	cutoff := now.AddDate(0, 0, -windowDays)
	for _, e := range l.bySub[subscriptionID] {
		if !e.IsIncrease {
			continue
		}
		if e.ChangeDate.Before(cutoff) || e.ChangeDate.After(now) {
			return models.PriceChange{}, false
		}
		return e, true
	}
	return models.PriceChange{}, false
}

// Purge removes a subscription's history and returns the removed entries.
func (l *Log) Purge(subscriptionID string) []models.PriceChange {
	removed := l.bySub[subscriptionID]
	delete(l.bySub, subscriptionID)
	return removed
}

// Find returns the entry with the given ID.
func (l *Log) Find(id string) (models.PriceChange, bool) {
	for _, entries := range l.bySub {
		for _, e := range entries {
			if e.ID == id {
				return e, true
			}
		}
	}
	return models.PriceChange{}, false
}

// Entries returns every entry, grouped by subscription ID and newest first
// within each subscription.
func (l *Log) Entries() []models.PriceChange {
	ids := make([]string, 0, len(l.bySub))
	for id := range l.bySub {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []models.PriceChange
	for _, id := range ids {
		out = append(out, l.bySub[id]...)
	}
	return out
}

// Clone returns an independent copy of the log.
func (l *Log) Clone() *Log {
	c := New(l.newID)
	for id, entries := range l.bySub {
		c.bySub[id] = append([]models.PriceChange(nil), entries...)
	}
	return c
}

func sortNewestFirst(entries []models.PriceChange) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ChangeDate.After(entries[j].ChangeDate)
	})
}
