package calculator

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/tally/internal/models"
)

func mustExpense(t *testing.T, policy models.SplitPolicy, total models.Money, payer string, shares []models.Share) models.GroupExpense {
	t.Helper()
	resolved, err := ResolveSplit(policy, total, shares, payer)
	require.NoError(t, err)
	return models.GroupExpense{GroupID: "g1", Total: total, PaidBy: payer, Policy: policy, Splits: resolved}
}

func TestCalculateGroupBalances(t *testing.T) {
	members := []string{"alice", "bob", "carol"}
	expenses := []models.GroupExpense{
		mustExpense(t, models.SplitEqual, models.Cents(10000), "alice",
			[]models.Share{{PersonID: "alice"}, {PersonID: "bob"}, {PersonID: "carol"}}),
		mustExpense(t, models.SplitCustom, models.Cents(3000), "bob",
			[]models.Share{{PersonID: "alice", Amount: 1000}, {PersonID: "bob", Amount: 2000}}),
	}

	balances := CalculateGroupBalances(members, expenses)
	require.Len(t, balances, 3)

	byID := map[string]MemberBalance{}
	for _, b := range balances {
		byID[b.PersonID] = b
	}
	// alice paid 100.00, owes 33.34 + 10.00
	assert.Equal(t, models.Cents(10000-3334-1000), byID["alice"].NetBalance)
	// bob paid 30.00, owes 33.33 + 20.00
	assert.Equal(t, models.Cents(3000-3333-2000), byID["bob"].NetBalance)
	assert.Equal(t, models.Cents(-3333), byID["carol"].NetBalance)
	assert.NoError(t, CheckZeroSum("group:g1", balances))
}

func TestCalculateGroupBalances_NonMemberParticipantAppended(t *testing.T) {
	expenses := []models.GroupExpense{
		mustExpense(t, models.SplitEqual, models.Cents(200), "alice",
			[]models.Share{{PersonID: "alice"}, {PersonID: "zed"}}),
	}
	balances := CalculateGroupBalances([]string{"alice", "bob"}, expenses)
	require.Len(t, balances, 3)
	assert.Equal(t, "zed", balances[2].PersonID)
}

func TestZeroSumAcrossRandomSplits(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	members := []string{"a", "b", "c", "d", "e"}
	var expenses []models.GroupExpense

	for i := 0; i < 200; i++ {
		n := 1 + rng.Intn(len(members))
		parts := members[:n]
		payer := parts[rng.Intn(n)]
		total := models.Money(1 + rng.Int63n(100000))

		var policy models.SplitPolicy
		shares := make([]models.Share, n)
		switch i % 3 {
		case 0:
			policy = models.SplitEqual
			for j, p := range parts {
				shares[j] = models.Share{PersonID: p}
			}
		case 1:
			policy = models.SplitCustom
			remaining := total
			for j, p := range parts {
				amt := remaining
				if j < n-1 {
					amt = models.Money(rng.Int63n(int64(remaining) + 1))
				}
				shares[j] = models.Share{PersonID: p, Amount: amt}
				remaining -= amt
			}
		default:
			policy = models.SplitPercent
			left := decimal.NewFromInt(100)
			for j, p := range parts {
				v := left
				if j < n-1 {
					v = decimal.NewFromInt(rng.Int63n(left.IntPart() + 1))
				}
				shares[j] = models.Share{PersonID: p, Percent: &v}
				left = left.Sub(v)
			}
		}

		expenses = append(expenses, mustExpense(t, policy, total, payer, shares))
		balances := CalculateGroupBalances(members, expenses)
		require.NoError(t, CheckZeroSum(fmt.Sprintf("step %d", i), balances))
	}
}

func TestCheckZeroSum_Violation(t *testing.T) {
	err := CheckZeroSum("group:x", []MemberBalance{{PersonID: "a", NetBalance: 5}})
	var cv *ConsistencyViolation
	require.ErrorAs(t, err, &cv)
	assert.Equal(t, models.Cents(5), cv.Residual)
}

func TestPersonBalance(t *testing.T) {
	in := Inputs{
		Transactions: []models.Transaction{
			{PersonID: "bob", Amount: -2500, Status: models.StatusCompleted},
			{PersonID: "bob", Amount: 1000, Status: models.StatusCompleted},
			{PersonID: "bob", Amount: -9999, Status: models.StatusPending},
			{PersonID: "bob", Amount: -500, Status: models.StatusCompleted, GroupExpenseID: "e1"},
		},
		Expenses: []models.GroupExpense{
			mustExpense(t, models.SplitEqual, models.Cents(600), "alice",
				[]models.Share{{PersonID: "alice"}, {PersonID: "bob"}}),
		},
		Shared: []models.SharedSubscription{{
			SubscriptionID: "s1",
			OwnerID:        "alice",
			Members:        []models.Share{{PersonID: "alice", Amount: 800}, {PersonID: "bob", Amount: 799}},
		}},
	}

	assert.Equal(t, models.Cents(-2500+1000-300-799), PersonBalance("bob", in))
	assert.Equal(t, models.Cents(300+799), PersonBalance("alice", in))

	all := AllPersonBalances(in)
	assert.Equal(t, PersonBalance("bob", in), all["bob"])
	assert.Equal(t, PersonBalance("alice", in), all["alice"])
}

func TestSimplifyDebts(t *testing.T) {
	balances := []MemberBalance{
		{PersonID: "alice", NetBalance: 5000},
		{PersonID: "bob", NetBalance: -3000},
		{PersonID: "carol", NetBalance: -2000},
		{PersonID: "dave", NetBalance: 0},
	}
	edges := SimplifyDebts(balances)
	assert.Equal(t, []DebtEdge{
		{From: "bob", To: "alice", Amount: 3000},
		{From: "carol", To: "alice", Amount: 2000},
	}, edges)
}
