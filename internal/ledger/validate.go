package ledger

import (
	"strings"

	"github.com/mmynk/tally/internal/calculator"
	"github.com/mmynk/tally/internal/models"
	"github.com/mmynk/tally/internal/storage"
)

func (tx *txn) requirePeople(field string, ids ...string) error {
	for _, id := range ids {
		if _, ok := tx.st.people[id]; !ok {
			return missingRef(field, models.KindPerson, id)
		}
	}
	return nil
}

func preparePerson(p models.Person, old models.Person, exists bool, tx *txn) (models.Person, error) {
	p.Name = strings.TrimSpace(p.Name)
	if err := p.Validate(); err != nil {
		return p, err
	}
	// Balance is derived; whatever the caller sent is replaced.
	p.Balance = old.Balance
	if exists {
		p.CreatedAt = old.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = tx.now
	}
	return p, nil
}

func prepareGroup(g models.Group, old models.Group, exists bool, tx *txn) (models.Group, error) {
	g = g.Clone()
	g.Name = strings.TrimSpace(g.Name)
	if err := g.Validate(); err != nil {
		return g, err
	}
	if err := tx.requirePeople("members", g.Members...); err != nil {
		return g, err
	}
	if exists {
		g.CreatedAt = old.CreatedAt
	} else if g.CreatedAt.IsZero() {
		g.CreatedAt = tx.now
	}
	return g, nil
}

// prepareExpense checks references and resolves the split so that the shares
// sum to the total exactly.
func prepareExpense(e models.GroupExpense, tx *txn) (models.GroupExpense, error) {
	e = e.Clone()
	if err := e.Validate(); err != nil {
		return e, err
	}
	group, ok := tx.st.groups[e.GroupID]
	if !ok {
		return e, missingRef("group_id", models.KindGroup, e.GroupID)
	}
	if err := tx.requirePeople("paid_by", e.PaidBy); err != nil {
		return e, err
	}
	if !group.HasMember(e.PaidBy) {
		return e, models.Invalid("paid_by", "%s is not a member of group %s", e.PaidBy, group.ID)
	}
	for _, s := range e.Splits {
		if err := tx.requirePeople("splits", s.PersonID); err != nil {
			return e, err
		}
		if !group.HasMember(s.PersonID) {
			return e, models.Invalid("splits", "%s is not a member of group %s", s.PersonID, group.ID)
		}
	}

	splits, err := calculator.ResolveSplit(e.Policy, e.Total, e.Splits, e.PaidBy)
	if err != nil {
		return e, err
	}
	e.Splits = splits
	if e.Date.IsZero() {
		e.Date = tx.now
	}
	return e, nil
}

// prepareSubscription normalizes enum aliases, fills defaults and derives the
// billing schedule when a field that drives it changed.
func prepareSubscription(sub models.Subscription, old models.Subscription, exists bool, tx *txn) (models.Subscription, error) {
	sub = sub.Clone()
	sub.Name = strings.TrimSpace(sub.Name)

	if sub.Cycle != "" {
		cycle, err := models.ParseCycle(string(sub.Cycle))
		if err != nil {
			return sub, &models.ValidationError{Field: "cycle", Message: err.Error(), Err: err}
		}
		sub.Cycle = cycle
	}
	category, err := models.ParseCategory(string(sub.Category))
	if err != nil {
		return sub, &models.ValidationError{Field: "category", Message: err.Error(), Err: err}
	}
	sub.Category = category

	if sub.State == "" {
		switch {
		case sub.CancellationDate != nil:
			sub.State = models.StateCancelled
		case sub.Trial != nil:
			sub.State = models.StateTrial
		default:
			sub.State = models.StateActive
		}
	}
	if sub.LastBillingDate.IsZero() {
		if exists {
			sub.LastBillingDate = old.LastBillingDate
		} else {
			sub.LastBillingDate = tx.now
		}
	}
	if exists {
		sub.CreatedDate = old.CreatedDate
		if old.State != sub.State && !canTransition(old.State, sub.State) {
			return sub, invalidTransition(old.State, sub.State)
		}
		if old.State == models.StateCancelled && !timeEqual(old.CancellationDate, sub.CancellationDate) {
			return sub, models.Invalid("cancellation_date", "cannot change the cancellation of a cancelled subscription")
		}
	} else if sub.CreatedDate.IsZero() {
		sub.CreatedDate = tx.now
	}

	if !exists || sub.BillingFieldsChanged(old) {
		sub.NextBillingDate = nil
		if next, ok := calculator.NextBillingDate(sub, tx.now); ok {
			sub.NextBillingDate = &next
		}
	} else {
		sub.NextBillingDate = old.NextBillingDate
	}

	if err := sub.Validate(); err != nil {
		return sub, err
	}
	if err := tx.requirePeople("shared_with", sub.SharedWith...); err != nil {
		return sub, err
	}
	return sub, nil
}

// prepareShared checks references and resolves member costs against the
// subscription price with the owner absorbing leftover cents.
func prepareShared(sh models.SharedSubscription, exists bool, tx *txn) (models.SharedSubscription, error) {
	sh = sh.Clone()
	if err := sh.Validate(); err != nil {
		return sh, err
	}
	sub, ok := tx.st.subs[sh.SubscriptionID]
	if !ok {
		return sh, missingRef("subscription_id", models.KindSubscription, sh.SubscriptionID)
	}
	if other, ok := tx.st.sharedFor(sh.SubscriptionID); ok && (!exists || other.ID != sh.ID) {
		return sh, models.Invalid("subscription_id", "subscription %s is already shared by %s", sub.ID, other.ID)
	}
	if err := tx.requirePeople("members", sh.MemberIDs()...); err != nil {
		return sh, err
	}
	members, err := calculator.ResolveSplit(sh.Policy, sub.Price, sh.Members, sh.OwnerID)
	if err != nil {
		return sh, err
	}
	sh.Members = members
	return sh, nil
}

// rebalanceShared re-resolves a shared subscription after its price changed.
// Custom splits keep every other member's amount and move the difference to
// the owner.
func rebalanceShared(sh models.SharedSubscription, price models.Money) (models.SharedSubscription, error) {
	sh = sh.Clone()
	if sh.Policy != models.SplitCustom {
		members, err := calculator.ResolveSplit(sh.Policy, price, sh.Members, sh.OwnerID)
		if err != nil {
			return sh, err
		}
		sh.Members = members
		return sh, nil
	}

	diff := price - models.SumShares(sh.Members)
	for i, m := range sh.Members {
		if m.PersonID != sh.OwnerID {
			continue
		}
		if m.Amount+diff < 0 {
			return sh, models.Invalid("price",
				"new price leaves owner %s of shared subscription %s with a negative share", sh.OwnerID, sh.ID)
		}
		sh.Members[i].Amount += diff
	}
	return sh, nil
}

func prepareTransaction(t models.Transaction, tx *txn) (models.Transaction, error) {
	category, err := models.ParseCategory(string(t.Category))
	if err != nil {
		return t, &models.ValidationError{Field: "category", Message: err.Error(), Err: err}
	}
	t.Category = category
	if t.Status == "" {
		t.Status = models.StatusCompleted
	}
	if t.Date.IsZero() {
		t.Date = tx.now
	}
	if err := t.Validate(); err != nil {
		return t, err
	}
	if t.PersonID != "" {
		if err := tx.requirePeople("person_id", t.PersonID); err != nil {
			return t, err
		}
	}
	if t.GroupExpenseID != "" {
		if _, ok := tx.st.expenses[t.GroupExpenseID]; !ok {
			return t, missingRef("group_expense_id", models.KindGroupExpense, t.GroupExpenseID)
		}
	}
	return t, nil
}

// validateSnapshot checks every entity's own fields, share sums and ID
// uniqueness before a bulk reload. Cross references are not checked; the
// balance derivations skip anything that dangles. A shared subscription's
// members must sum to its subscription's price when that subscription is in
// the snapshot.
func validateSnapshot(snap *storage.Snapshot) error {
	seen := make(map[models.Kind]map[string]bool)
	check := func(e models.Entity, validate func() error) error {
		ids := seen[e.EntityKind()]
		if ids == nil {
			ids = make(map[string]bool)
			seen[e.EntityKind()] = ids
		}
		if e.EntityID() == "" {
			return models.Invalid("id", "%s without id", e.EntityKind())
		}
		if ids[e.EntityID()] {
			return models.Invalid("id", "duplicate %s %s", e.EntityKind(), e.EntityID())
		}
		ids[e.EntityID()] = true
		if validate == nil {
			return nil
		}
		return validate()
	}

	for _, v := range snap.People {
		if err := check(v, v.Validate); err != nil {
			return err
		}
	}
	for _, v := range snap.Groups {
		if err := check(v, v.Validate); err != nil {
			return err
		}
	}
	for _, v := range snap.Expenses {
		if err := check(v, v.Validate); err != nil {
			return err
		}
		if sum := models.SumShares(v.Splits); sum != v.Total {
			return models.Invalid("splits", "expense %s shares sum to %s, total is %s", v.ID, sum, v.Total)
		}
	}
	for _, v := range snap.Subscriptions {
		if err := check(v, v.Validate); err != nil {
			return err
		}
	}
	prices := make(map[string]models.Money, len(snap.Subscriptions))
	for _, v := range snap.Subscriptions {
		prices[v.ID] = v.Price
	}
	for _, v := range snap.Shared {
		if err := check(v, v.Validate); err != nil {
			return err
		}
		price, ok := prices[v.SubscriptionID]
		if sum := models.SumShares(v.Members); ok && sum != price {
			return models.Invalid("members", "shared subscription %s members sum to %s, price is %s", v.ID, sum, price)
		}
	}
	for _, v := range snap.Transactions {
		if err := check(v, v.Validate); err != nil {
			return err
		}
	}
	for _, v := range snap.PriceChanges {
		if err := check(v, nil); err != nil {
			return err
		}
	}
	return nil
}
