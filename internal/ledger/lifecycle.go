package ledger

import (
	"context"
	"time"

	"github.com/mmynk/tally/internal/calculator"
	"github.com/mmynk/tally/internal/events"
	"github.com/mmynk/tally/internal/models"
)

// transitions lists the legal lifecycle moves. Cancelled is terminal;
// deletion is handled by Delete.
var transitions = map[models.LifecycleState][]models.LifecycleState{
	models.StateTrial:  {models.StateActive, models.StateCancelled},
	models.StateActive: {models.StatePaused, models.StateCancelled},
	models.StatePaused: {models.StateActive, models.StateCancelled},
}

func canTransition(from, to models.LifecycleState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// transition applies fn to a copy of a subscription and stores the result
// after re-deriving its billing schedule.
// from, when set, is the only state the command applies to.
func (s *Store) transition(ctx context.Context, command, id string, from, to models.LifecycleState, fn func(tx *txn, sub *models.Subscription)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.mutate(command, func(tx *txn) error {
		old, ok := tx.st.subs[id]
		if !ok {
			return notFound(models.KindSubscription, id)
		}
		if (from != "" && old.State != from) || !canTransition(old.State, to) {
			return invalidTransition(old.State, to)
		}
		sub := old.Clone()
		sub.State = to
		fn(tx, &sub)
		return s.storeSubscription(tx, sub)
	})
	if err != nil {
		return err
	}
	s.logger.Info("Subscription state changed", "subscription_id", id, "state", to)
	return nil
}

func (s *Store) storeSubscription(tx *txn, sub models.Subscription) error {
	sub.NextBillingDate = nil
	if next, ok := calculator.NextBillingDate(sub, tx.now); ok {
		sub.NextBillingDate = &next
	}
	if err := sub.Validate(); err != nil {
		return err
	}
	tx.st.subs[sub.ID] = sub
	tx.record(events.Updated, models.KindSubscription, sub.ID)
	return nil
}

// ConvertTrial ends a trial now. Billing starts immediately.
func (s *Store) ConvertTrial(ctx context.Context, id string) error {
	return s.transition(ctx, "convert_trial", id, models.StateTrial, models.StateActive, func(tx *txn, sub *models.Subscription) {
		sub.Trial = &models.Trial{EndDate: models.TimePtr(tx.now)}
		sub.LastBillingDate = tx.now
	})
}

// Pause suspends billing until Resume.
func (s *Store) Pause(ctx context.Context, id string) error {
	return s.transition(ctx, "pause", id, "", models.StatePaused, func(*txn, *models.Subscription) {})
}

// Resume restarts billing on the original schedule.
func (s *Store) Resume(ctx context.Context, id string) error {
	return s.transition(ctx, "resume", id, models.StatePaused, models.StateActive, func(*txn, *models.Subscription) {})
}

// Cancel ends billing permanently. The subscription stays queryable.
func (s *Store) Cancel(ctx context.Context, id string) error {
	return s.transition(ctx, "cancel", id, "", models.StateCancelled, func(tx *txn, sub *models.Subscription) {
		sub.CancellationDate = models.TimePtr(tx.now)
	})
}

// RecordUsage counts one use of a subscription.
func (s *Store) RecordUsage(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.mutate("record_usage", func(tx *txn) error {
		sub, ok := tx.st.subs[id]
		if !ok {
			return notFound(models.KindSubscription, id)
		}
		sub = sub.Clone()
		sub.UsageCount++
		sub.LastUsedDate = models.TimePtr(tx.now)
		tx.st.subs[id] = sub
		tx.record(events.Updated, models.KindSubscription, id)
		return nil
	})
	return err
}

// RefreshBilling brings every subscription's schedule up to date: elapsed
// trials become active and billing subscriptions move their last billing
// date forward to the latest past occurrence that keeps the schedule
// unchanged. It returns the IDs of the subscriptions it changed.
func (s *Store) RefreshBilling(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var changed []string
	_, err := s.mutate("refresh_billing", func(tx *txn) error {
		changed = changed[:0]
		for _, e := range tx.st.all(models.KindSubscription) {
			sub := e.(models.Subscription)
			next, ok := refreshed(sub, tx.now)
			if !ok {
				continue
			}
			tx.st.subs[sub.ID] = next
			tx.record(events.Updated, models.KindSubscription, sub.ID)
			changed = append(changed, sub.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		s.logger.Info("Billing refreshed", "subscriptions", len(changed))
	}
	return changed, nil
}

// refreshed returns the subscription advanced to now, or false when its
// schedule is already current.
func refreshed(sub models.Subscription, now time.Time) (models.Subscription, bool) {
	dirty := false
	if calculator.TrialElapsed(sub, now) {
		sub.State = models.StateActive
		dirty = true
	}
	if sub.State == models.StateActive && sub.Cycle.Recurring() && !sub.IsCancelled() {
		if last := calculator.Reanchor(sub.LastBillingDate, sub.Cycle, now); last.After(sub.LastBillingDate) {
			sub.LastBillingDate = last
			dirty = true
		}
	}

	var next *time.Time
	if d, ok := calculator.NextBillingDate(sub, now); ok {
		next = &d
	}
	if !timeEqual(sub.NextBillingDate, next) {
		sub.NextBillingDate = next
		dirty = true
	}
	return sub, dirty
}
