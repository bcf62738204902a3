package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/mmynk/tally/internal/events"
	"github.com/mmynk/tally/internal/models"
)

// Create validates e and adds it. An empty ID is assigned a UUID. The stored
// entity, including derived fields, is returned.
func (s *Store) Create(ctx context.Context, e models.Entity) (models.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var stored models.Entity
	_, err := s.mutate("create", func(tx *txn) error {
		var err error
		stored, err = s.put(tx, e, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Entity created", "kind", stored.EntityKind(), "id", stored.EntityID())
	return stored, nil
}

// Update validates e and replaces the stored entity with the same ID.
func (s *Store) Update(ctx context.Context, e models.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.mutate("update", func(tx *txn) error {
		_, err := s.put(tx, e, false)
		return err
	})
	if err != nil {
		return err
	}
	s.logger.Info("Entity updated", "kind", e.EntityKind(), "id", e.EntityID())
	return nil
}

// Delete removes an entity together with everything that only exists
// because of it: a group's expenses, an expense's linked transactions, a
// subscription's shared subscription and price history. A person still
// referenced elsewhere cannot be deleted.
func (s *Store) Delete(ctx context.Context, kind models.Kind, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.mutate("delete", func(tx *txn) error {
		return s.remove(tx, kind, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("Entity deleted", "kind", kind, "id", id)
	return nil
}

func (s *Store) put(tx *txn, e models.Entity, create bool) (models.Entity, error) {
	e = deref(e)
	if e == nil {
		return nil, models.Invalid("entity", "must not be nil")
	}
	kind := e.EntityKind()
	id := e.EntityID()
	if create && id == "" {
		id = s.newID()
	}
	if !create && id == "" {
		return nil, models.Invalid("id", "must not be empty")
	}
	_, exists := tx.st.get(kind, id)
	switch {
	case kind == models.KindPriceChange:
		return nil, models.Invalid("kind", "price changes are recorded by subscription updates only")
	case create && exists:
		return nil, models.Invalid("id", "%s %s already exists", kind, id)
	case !create && !exists:
		return nil, notFound(kind, id)
	}

	action := events.Updated
	if create {
		action = events.Added
	}

	var stored models.Entity
	switch v := e.(type) {
	case models.Person:
		v.ID = id
		p, err := preparePerson(v, tx.st.people[id], exists, tx)
		if err != nil {
			return nil, err
		}
		tx.st.people[id] = p
		tx.touchPeople(id)
		stored = p

	case models.Group:
		v.ID = id
		g, err := prepareGroup(v, tx.st.groups[id], exists, tx)
		if err != nil {
			return nil, err
		}
		tx.st.groups[id] = g
		tx.touchGroup(id)
		stored = g.Clone()

	case models.GroupExpense:
		v.ID = id
		exp, err := prepareExpense(v, tx)
		if err != nil {
			return nil, err
		}
		if old, ok := tx.st.expenses[id]; ok {
			tx.touchPeople(old.PaidBy)
			tx.touchPeople(old.Participants()...)
			tx.touchGroup(old.GroupID)
		}
		tx.st.expenses[id] = exp
		tx.touchPeople(exp.PaidBy)
		tx.touchPeople(exp.Participants()...)
		tx.touchGroup(exp.GroupID)
		stored = exp.Clone()

	case models.Subscription:
		v.ID = id
		old := tx.st.subs[id]
		sub, err := prepareSubscription(v, old, exists, tx)
		if err != nil {
			return nil, err
		}
		tx.st.subs[id] = sub
		if exists && old.Price != sub.Price {
			if err := s.priceChanged(tx, sub, old.Price); err != nil {
				return nil, err
			}
		}
		stored = sub.Clone()

	case models.SharedSubscription:
		v.ID = id
		sh, err := prepareShared(v, exists, tx)
		if err != nil {
			return nil, err
		}
		if old, ok := tx.st.shared[id]; ok {
			tx.touchPeople(old.MemberIDs()...)
		}
		tx.st.shared[id] = sh
		tx.touchPeople(sh.MemberIDs()...)
		stored = sh.Clone()

	case models.Transaction:
		v.ID = id
		t, err := prepareTransaction(v, tx)
		if err != nil {
			return nil, err
		}
		if old, ok := tx.st.txns[id]; ok {
			tx.touchPeople(old.PersonID)
		}
		tx.st.txns[id] = t
		tx.touchPeople(t.PersonID)
		stored = t

	default:
		return nil, models.Invalid("entity", "unsupported entity type %T", e)
	}

	tx.record(action, kind, id)
	return stored, nil
}

// priceChanged appends to the price history and keeps a shared subscription
// summing to the new price.
func (s *Store) priceChanged(tx *txn, sub models.Subscription, previous models.Money) error {
	before := len(tx.st.prices.History(sub.ID))
	change, ok := tx.st.prices.Record(sub.ID, previous, sub.Price, tx.now)
	if ok {
		// Record replaces an entry with the same change date instead of appending.
		action := events.Added
		if len(tx.st.prices.History(sub.ID)) == before {
			action = events.Updated
		}
		tx.record(action, models.KindPriceChange, change.ID)
		s.logger.Info("Price change recorded",
			"subscription_id", sub.ID,
			"previous", previous,
			"new", sub.Price,
			"increase", change.IsIncrease,
		)
	}

	sh, shared := tx.st.sharedFor(sub.ID)
	if !shared {
		return nil
	}
	sh, err := rebalanceShared(sh, sub.Price)
	if err != nil {
		return err
	}
	tx.st.shared[sh.ID] = sh
	tx.touchPeople(sh.MemberIDs()...)
	tx.record(events.Updated, models.KindSharedSubscription, sh.ID)
	return nil
}

func (s *Store) remove(tx *txn, kind models.Kind, id string) error {
	if _, ok := tx.st.get(kind, id); !ok {
		return notFound(kind, id)
	}

	switch kind {
	case models.KindPerson:
		if refKind, refID, ok := tx.st.personRefs(id); ok {
			return models.Invalid("id", "person %s is still referenced by %s %s", id, refKind, refID)
		}
		delete(tx.st.people, id)

	case models.KindGroup:
		for _, e := range tx.st.groupExpenses(id) {
			removeExpense(tx, e)
		}
		delete(tx.st.groups, id)
		tx.touchGroup(id)

	case models.KindGroupExpense:
		removeExpense(tx, tx.st.expenses[id])
		return nil

	case models.KindSubscription:
		if sh, ok := tx.st.sharedFor(id); ok {
			delete(tx.st.shared, sh.ID)
			tx.touchPeople(sh.MemberIDs()...)
			tx.record(events.Deleted, models.KindSharedSubscription, sh.ID)
		}
		for _, c := range tx.st.prices.Purge(id) {
			tx.record(events.Deleted, models.KindPriceChange, c.ID)
		}
		delete(tx.st.subs, id)

	case models.KindSharedSubscription:
		tx.touchPeople(tx.st.shared[id].MemberIDs()...)
		delete(tx.st.shared, id)

	case models.KindTransaction:
		tx.touchPeople(tx.st.txns[id].PersonID)
		delete(tx.st.txns, id)

	case models.KindPriceChange:
		return models.Invalid("kind", "price history is removed with its subscription only")

	default:
		return fmt.Errorf("unknown entity kind %q", kind)
	}

	tx.record(events.Deleted, kind, id)
	return nil
}

// removeExpense deletes an expense and the transactions that record it.
func removeExpense(tx *txn, e models.GroupExpense) {
	var linked []string
	for _, t := range tx.st.txns {
		if t.GroupExpenseID == e.ID {
			linked = append(linked, t.ID)
		}
	}
	sort.Strings(linked)
	for _, id := range linked {
		tx.touchPeople(tx.st.txns[id].PersonID)
		delete(tx.st.txns, id)
		tx.record(events.Deleted, models.KindTransaction, id)
	}
	delete(tx.st.expenses, e.ID)
	tx.touchPeople(e.PaidBy)
	tx.touchPeople(e.Participants()...)
	tx.touchGroup(e.GroupID)
	tx.record(events.Deleted, models.KindGroupExpense, e.ID)
}

// deref accepts pointers to models so callers can pass either form. A nil
// pointer yields nil.
func deref(e models.Entity) models.Entity {
	switch v := e.(type) {
	case *models.Person:
		if v != nil {
			return *v
		}
	case *models.Group:
		if v != nil {
			return *v
		}
	case *models.GroupExpense:
		if v != nil {
			return *v
		}
	case *models.Subscription:
		if v != nil {
			return *v
		}
	case *models.SharedSubscription:
		if v != nil {
			return *v
		}
	case *models.Transaction:
		if v != nil {
			return *v
		}
	case *models.PriceChange:
		if v != nil {
			return *v
		}
	default:
		return e
	}
	return nil
}
