package calculator

import (
	"fmt"
	"sort"

	"github.com/mmynk/tally/internal/models"
)

// MemberBalance is one person's position within a group.
type MemberBalance struct {
	PersonID   string
	NetBalance models.Money // Positive = owed money, Negative = owes money
	TotalPaid  models.Money // Total amount paid across all expenses
	TotalOwed  models.Money // Total of this person's shares
}

// DebtEdge represents a debt from one person to another.
type DebtEdge struct {
	From   string // Person who owes
	To     string // Person who is owed
	Amount models.Money
}

// ConsistencyViolation means balances that must net to zero do not.
// It indicates a ledger bug, not bad input.
type ConsistencyViolation struct {
	Scope    string // e.g. "group:<id>"
	Residual models.Money
}

func (e *ConsistencyViolation) Error() string {
	return fmt.Sprintf("zero-sum invariant broken for %s: residual %s", e.Scope, e.Residual)
}

// Inputs are the entities a person's balance is derived from.
type Inputs struct {
	Transactions []models.Transaction
	Expenses     []models.GroupExpense
	Shared       []models.SharedSubscription
}

// ExpenseDeltas returns each participant's net change from one expense:
// the payer is credited the total, every share holder is debited their share.
func ExpenseDeltas(e models.GroupExpense) map[string]models.Money {
	deltas := make(map[string]models.Money, len(e.Splits)+1)
	deltas[e.PaidBy] += e.Total
	for _, s := range e.Splits {
		deltas[s.PersonID] -= s.Amount
	}
	return deltas
}

// SharedDeltas returns each member's net change from a shared subscription:
// the owner is credited every other member's cost.
func SharedDeltas(s models.SharedSubscription) map[string]models.Money {
	deltas := make(map[string]models.Money, len(s.Members))
	for _, m := range s.Members {
		if m.PersonID == s.OwnerID {
			continue
		}
		deltas[m.PersonID] -= m.Amount
		deltas[s.OwnerID] += m.Amount
	}
	return deltas
}

// PersonBalance aggregates every source that touches personID:
// completed direct transactions plus group expense and shared subscription deltas.
func PersonBalance(personID string, in Inputs) models.Money {
	var balance models.Money
	for _, t := range in.Transactions {
		if t.PersonID == personID && t.AffectsBalance() {
			balance += t.Amount
		}
	}
	for _, e := range in.Expenses {
		balance += ExpenseDeltas(e)[personID]
	}
	for _, s := range in.Shared {
		balance += SharedDeltas(s)[personID]
	}
	return balance
}

// AllPersonBalances derives every person's balance in one pass.
func AllPersonBalances(in Inputs) map[string]models.Money {
	balances := make(map[string]models.Money)
	for _, t := range in.Transactions {
		if t.AffectsBalance() {
			balances[t.PersonID] += t.Amount
		}
	}
	for _, e := range in.Expenses {
		for p, d := range ExpenseDeltas(e) {
			balances[p] += d
		}
	}
	for _, s := range in.Shared {
		for p, d := range SharedDeltas(s) {
			balances[p] += d
		}
	}
	return balances
}

// CalculateGroupBalances computes member balances across a group's expenses.
// Members are reported in the given order; anyone who appears only in an
// expense is appended after them, sorted by ID.
func CalculateGroupBalances(members []string, expenses []models.GroupExpense) []MemberBalance {
	balances := make(map[string]*MemberBalance, len(members))
	order := append([]string(nil), members...)
	get := func(id string) *MemberBalance {
		if b, ok := balances[id]; ok {
			return b
		}
		b := &MemberBalance{PersonID: id}
		balances[id] = b
		return b
	}
	for _, m := range members {
		get(m)
	}

	var extras []string
	for _, e := range expenses {
		if _, ok := balances[e.PaidBy]; !ok {
			extras = append(extras, e.PaidBy)
		}
		get(e.PaidBy).TotalPaid += e.Total
		for _, s := range e.Splits {
			if _, ok := balances[s.PersonID]; !ok {
				extras = append(extras, s.PersonID)
			}
			get(s.PersonID).TotalOwed += s.Amount
		}
	}
	sort.Strings(extras)
	order = append(order, extras...)

	out := make([]MemberBalance, 0, len(order))
	for _, id := range order {
		b := balances[id]
		b.NetBalance = b.TotalPaid - b.TotalOwed
		out = append(out, *b)
	}
	return out
}

// CheckZeroSum returns a ConsistencyViolation when balances do not net to zero.
func CheckZeroSum(scope string, balances []MemberBalance) error {
	var residual models.Money
	for _, b := range balances {
		residual += b.NetBalance
	}
	if residual != 0 {
		return &ConsistencyViolation{Scope: scope, Residual: residual}
	}
	return nil
}

// SimplifyDebts produces a settle-up plan using greedy matching: the largest
// debtor pays the largest creditor until one side is cleared.
func SimplifyDebts(balances []MemberBalance) []DebtEdge {
	type position struct {
		id     string
		amount models.Money
	}
	var creditors, debtors []position
	for _, b := range balances {
		if b.NetBalance > 0 {
			creditors = append(creditors, position{b.PersonID, b.NetBalance})
		} else if b.NetBalance < 0 {
			debtors = append(debtors, position{b.PersonID, -b.NetBalance})
		}
	}
	byAmount := func(ps []position) func(i, j int) bool {
		return func(i, j int) bool {
			if ps[i].amount != ps[j].amount {
				return ps[i].amount > ps[j].amount
			}
			return ps[i].id < ps[j].id
		}
	}
	sort.Slice(creditors, byAmount(creditors))
	sort.Slice(debtors, byAmount(debtors))

	var edges []DebtEdge
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		amount := min(debtors[i].amount, creditors[j].amount)
		if amount > 0 {
			edges = append(edges, DebtEdge{From: debtors[i].id, To: creditors[j].id, Amount: amount})
		}
		debtors[i].amount -= amount
		creditors[j].amount -= amount
		if debtors[i].amount == 0 {
			i++
		}
		if creditors[j].amount == 0 {
			j++
		}
	}
	return edges
}
