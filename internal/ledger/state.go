package ledger

import (
	"sort"

	"github.com/mmynk/tally/internal/calculator"
	"github.com/mmynk/tally/internal/models"
	"github.com/mmynk/tally/internal/pricehistory"
	"github.com/mmynk/tally/internal/storage"
)

// state is the normalized cache. A committed state is never modified again:
// commands work on a clone and swap it in, so readers and the saver can hold
// on to a state without locking.
type state struct {
	people   map[string]models.Person
	groups   map[string]models.Group
	expenses map[string]models.GroupExpense
	subs     map[string]models.Subscription
	shared   map[string]models.SharedSubscription
	txns     map[string]models.Transaction
	prices   *pricehistory.Log

	// groupBalances caches the zero-sum checked balances of each group.
	groupBalances map[string][]calculator.MemberBalance
}

func newState(newID func() string) *state {
	return &state{
		people:        make(map[string]models.Person),
		groups:        make(map[string]models.Group),
		expenses:      make(map[string]models.GroupExpense),
		subs:          make(map[string]models.Subscription),
		shared:        make(map[string]models.SharedSubscription),
		txns:          make(map[string]models.Transaction),
		prices:        pricehistory.New(newID),
		groupBalances: make(map[string][]calculator.MemberBalance),
	}
}

func stateFromSnapshot(snap *storage.Snapshot, newID func() string) *state {
	st := newState(newID)
	for _, p := range snap.People {
		st.people[p.ID] = p
	}
	for _, g := range snap.Groups {
		st.groups[g.ID] = g.Clone()
	}
	for _, e := range snap.Expenses {
		st.expenses[e.ID] = e.Clone()
	}
	for _, s := range snap.Subscriptions {
		st.subs[s.ID] = s.Clone()
	}
	for _, s := range snap.Shared {
		st.shared[s.ID] = s.Clone()
	}
	for _, t := range snap.Transactions {
		st.txns[t.ID] = t
	}
	st.prices = pricehistory.FromEntries(snap.PriceChanges, newID)
	return st
}

// clone copies the maps; entity values are copied on write by the commands.
func (st *state) clone() *state {
	c := &state{
		people:        make(map[string]models.Person, len(st.people)),
		groups:        make(map[string]models.Group, len(st.groups)),
		expenses:      make(map[string]models.GroupExpense, len(st.expenses)),
		subs:          make(map[string]models.Subscription, len(st.subs)),
		shared:        make(map[string]models.SharedSubscription, len(st.shared)),
		txns:          make(map[string]models.Transaction, len(st.txns)),
		prices:        st.prices.Clone(),
		groupBalances: make(map[string][]calculator.MemberBalance, len(st.groupBalances)),
	}
	for k, v := range st.people {
		c.people[k] = v
	}
	for k, v := range st.groups {
		c.groups[k] = v
	}
	for k, v := range st.expenses {
		c.expenses[k] = v
	}
	for k, v := range st.subs {
		c.subs[k] = v
	}
	for k, v := range st.shared {
		c.shared[k] = v
	}
	for k, v := range st.txns {
		c.txns[k] = v
	}
	for k, v := range st.groupBalances {
		c.groupBalances[k] = v
	}
	return c
}

func (st *state) snapshot() *storage.Snapshot {
	snap := &storage.Snapshot{PriceChanges: st.prices.Entries()}
	for _, p := range st.people {
		snap.People = append(snap.People, p)
	}
	for _, g := range st.groups {
		snap.Groups = append(snap.Groups, g.Clone())
	}
	for _, e := range st.expenses {
		snap.Expenses = append(snap.Expenses, e.Clone())
	}
	for _, s := range st.subs {
		snap.Subscriptions = append(snap.Subscriptions, s.Clone())
	}
	for _, s := range st.shared {
		snap.Shared = append(snap.Shared, s.Clone())
	}
	for _, t := range st.txns {
		snap.Transactions = append(snap.Transactions, t)
	}
	snap.Sort()
	return snap
}

func (st *state) len() int {
	return len(st.people) + len(st.groups) + len(st.expenses) + len(st.subs) +
		len(st.shared) + len(st.txns) + len(st.prices.Entries())
}

// get returns a deep copy of the entity.
func (st *state) get(kind models.Kind, id string) (models.Entity, bool) {
	switch kind {
	case models.KindPerson:
		v, ok := st.people[id]
		return v, ok
	case models.KindGroup:
		v, ok := st.groups[id]
		return v.Clone(), ok
	case models.KindGroupExpense:
		v, ok := st.expenses[id]
		return v.Clone(), ok
	case models.KindSubscription:
		v, ok := st.subs[id]
		return v.Clone(), ok
	case models.KindSharedSubscription:
		v, ok := st.shared[id]
		return v.Clone(), ok
	case models.KindTransaction:
		v, ok := st.txns[id]
		return v, ok
	case models.KindPriceChange:
		v, ok := st.prices.Find(id)
		return v, ok
	}
	return nil, false
}

// all returns deep copies of every entity of kind, sorted by ID.
func (st *state) all(kind models.Kind) []models.Entity {
	var out []models.Entity
	switch kind {
	case models.KindPerson:
		for _, v := range st.people {
			out = append(out, v)
		}
	case models.KindGroup:
		for _, v := range st.groups {
			out = append(out, v.Clone())
		}
	case models.KindGroupExpense:
		for _, v := range st.expenses {
			out = append(out, v.Clone())
		}
	case models.KindSubscription:
		for _, v := range st.subs {
			out = append(out, v.Clone())
		}
	case models.KindSharedSubscription:
		for _, v := range st.shared {
			out = append(out, v.Clone())
		}
	case models.KindTransaction:
		for _, v := range st.txns {
			out = append(out, v)
		}
	case models.KindPriceChange:
		for _, v := range st.prices.Entries() {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID() < out[j].EntityID() })
	return out
}

func (st *state) balanceInputs() calculator.Inputs {
	in := calculator.Inputs{
		Transactions: make([]models.Transaction, 0, len(st.txns)),
		Expenses:     make([]models.GroupExpense, 0, len(st.expenses)),
		Shared:       make([]models.SharedSubscription, 0, len(st.shared)),
	}
	for _, t := range st.txns {
		in.Transactions = append(in.Transactions, t)
	}
	for _, e := range st.expenses {
		in.Expenses = append(in.Expenses, e)
	}
	for _, s := range st.shared {
		in.Shared = append(in.Shared, s)
	}
	return in
}

// groupExpenses returns a group's expenses ordered by date then ID.
func (st *state) groupExpenses(groupID string) []models.GroupExpense {
	var out []models.GroupExpense
	for _, e := range st.expenses {
		if e.GroupID == groupID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (st *state) sharedFor(subscriptionID string) (models.SharedSubscription, bool) {
	for _, s := range st.shared {
		if s.SubscriptionID == subscriptionID {
			return s, true
		}
	}
	return models.SharedSubscription{}, false
}

// personRefs reports the first entity that references personID.
func (st *state) personRefs(personID string) (models.Kind, string, bool) {
	for _, g := range st.groups {
		if g.HasMember(personID) {
			return models.KindGroup, g.ID, true
		}
	}
	for _, e := range st.expenses {
		if e.PaidBy == personID {
			return models.KindGroupExpense, e.ID, true
		}
		for _, s := range e.Splits {
			if s.PersonID == personID {
				return models.KindGroupExpense, e.ID, true
			}
		}
	}
	for _, s := range st.subs {
		for _, p := range s.SharedWith {
			if p == personID {
				return models.KindSubscription, s.ID, true
			}
		}
	}
	for _, s := range st.shared {
		for _, m := range s.Members {
			if m.PersonID == personID {
				return models.KindSharedSubscription, s.ID, true
			}
		}
	}
	for _, t := range st.txns {
		if t.PersonID == personID {
			return models.KindTransaction, t.ID, true
		}
	}
	return "", "", false
}
