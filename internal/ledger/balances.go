package ledger

import (
	"errors"
	"sort"

	"github.com/mmynk/tally/internal/calculator"
	"github.com/mmynk/tally/internal/events"
	"github.com/mmynk/tally/internal/models"
)

// recompute refreshes the balances of the people and groups a command
// touched. A person whose balance moved without being the command's target
// gets an Updated event.
func (s *Store) recompute(tx *txn) {
	if len(tx.people) > 0 {
		in := tx.st.balanceInputs()
		ids := make([]string, 0, len(tx.people))
		for id := range tx.people {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			p, ok := tx.st.people[id]
			if !ok {
				continue
			}
			balance := calculator.PersonBalance(id, in)
			if balance == p.Balance {
				continue
			}
			p.Balance = balance
			tx.st.people[id] = p
			if !tx.changed(models.KindPerson, id) {
				tx.record(events.Updated, models.KindPerson, id)
			}
		}
	}

	for id := range tx.groups {
		g, ok := tx.st.groups[id]
		if !ok {
			delete(tx.st.groupBalances, id)
			continue
		}
		tx.st.groupBalances[id] = s.checkedGroupBalances(g, tx.st.groupExpenses(id))
	}
}

// recomputeAll derives every balance from scratch.
func (s *Store) recomputeAll(st *state) {
	balances := calculator.AllPersonBalances(st.balanceInputs())
	for id, p := range st.people {
		p.Balance = balances[id]
		st.people[id] = p
	}
	st.groupBalances = make(map[string][]calculator.MemberBalance, len(st.groups))
	for id, g := range st.groups {
		st.groupBalances[id] = s.checkedGroupBalances(g, st.groupExpenses(id))
	}
}

// checkedGroupBalances computes a group's member balances and enforces the
// zero-sum invariant. In strict mode a violation panics; otherwise it is
// logged and the residual is moved onto the first member.
func (s *Store) checkedGroupBalances(g models.Group, expenses []models.GroupExpense) []calculator.MemberBalance {
	balances := calculator.CalculateGroupBalances(g.Members, expenses)
	err := calculator.CheckZeroSum("group:"+g.ID, balances)
	if err == nil {
		return balances
	}

	var violation *calculator.ConsistencyViolation
	if !errors.As(err, &violation) {
		return balances
	}
	s.metrics.ConsistencyViolations.Inc()
	if s.strict {
		panic(err)
	}
	s.logger.Error("Group balances do not net to zero, clamping",
		"group_id", g.ID,
		"residual", violation.Residual,
	)
	if len(balances) > 0 {
		balances[0].NetBalance -= violation.Residual
	}
	return balances
}

func (tx *txn) changed(kind models.Kind, id string) bool {
	for _, c := range tx.changes {
		if c.Kind == kind && c.ID == id {
			return true
		}
	}
	return false
}
