package calculator

import (
	"github.com/shopspring/decimal"

	"github.com/mmynk/tally/internal/models"
)

var hundred = decimal.NewFromInt(100)

// ResolveSplit fills in share amounts for policy and checks that they sum to
// total exactly. Leftover cents from equal and percent splits are assigned to
// payer, who must be one of the shares. The input slice is not modified.
func ResolveSplit(policy models.SplitPolicy, total models.Money, shares []models.Share, payer string) ([]models.Share, error) {
	switch policy {
	case models.SplitEqual:
		ids := make([]string, len(shares))
		for i, s := range shares {
			ids[i] = s.PersonID
		}
		return SplitEqual(total, ids, payer)
	case models.SplitCustom:
		return SplitCustom(total, shares)
	case models.SplitPercent:
		return SplitPercent(total, shares, payer)
	default:
		return nil, models.Invalid("policy", "unknown split policy %q", policy)
	}
}

// SplitEqual divides total evenly between participants. Remainder cents go to
// payer; three people splitting 100.00 with the third paying get 33.33, 33.33, 33.34.
func SplitEqual(total models.Money, participants []string, payer string) ([]models.Share, error) {
	if len(participants) == 0 {
		return nil, models.Invalid("splits", "must have at least one participant")
	}
	if total < 0 {
		return nil, models.Invalid("total", "must not be negative")
	}
	payerIdx, err := indexOf(participants, payer)
	if err != nil {
		return nil, err
	}

	n := models.Money(len(participants))
	base := total / n
	shares := make([]models.Share, len(participants))
	for i, p := range participants {
		shares[i] = models.Share{PersonID: p, Amount: base}
	}
	shares[payerIdx].Amount += total - base*n
	return shares, nil
}

// SplitCustom validates fixed share amounts against total.
func SplitCustom(total models.Money, shares []models.Share) ([]models.Share, error) {
	if len(shares) == 0 {
		return nil, models.Invalid("splits", "must have at least one participant")
	}
	out := make([]models.Share, len(shares))
	for i, s := range shares {
		if s.Amount < 0 {
			return nil, models.Invalid("splits", "share for %s must not be negative", s.PersonID)
		}
		out[i] = models.Share{PersonID: s.PersonID, Amount: s.Amount}
	}
	if sum := models.SumShares(out); sum != total {
		return nil, models.Invalid("splits", "shares sum to %s, want %s", sum, total)
	}
	return out, nil
}

// SplitPercent converts percentages (summing to exactly 100) into cents. Each
// share is rounded down; the remainder goes to payer.
func SplitPercent(total models.Money, shares []models.Share, payer string) ([]models.Share, error) {
	if len(shares) == 0 {
		return nil, models.Invalid("splits", "must have at least one participant")
	}
	ids := make([]string, len(shares))
	sum := decimal.Zero
	for i, s := range shares {
		ids[i] = s.PersonID
		if s.Percent == nil {
			return nil, models.Invalid("splits", "percent missing for %s", s.PersonID)
		}
		if s.Percent.IsNegative() {
			return nil, models.Invalid("splits", "percent for %s must not be negative", s.PersonID)
		}
		sum = sum.Add(*s.Percent)
	}
	if !sum.Equal(hundred) {
		return nil, models.Invalid("splits", "percentages sum to %s, want 100", sum)
	}
	payerIdx, err := indexOf(ids, payer)
	if err != nil {
		return nil, err
	}

	totalCents := decimal.NewFromInt(int64(total))
	out := make([]models.Share, len(shares))
	var assigned models.Money
	for i, s := range shares {
		amount := models.Money(totalCents.Mul(*s.Percent).Div(hundred).Floor().IntPart())
		p := *s.Percent
		out[i] = models.Share{PersonID: s.PersonID, Amount: amount, Percent: &p}
		assigned += amount
	}
	out[payerIdx].Amount += total - assigned
	return out, nil
}

func indexOf(ids []string, id string) (int, error) {
	for i, v := range ids {
		if v == id {
			return i, nil
		}
	}
	return 0, models.Invalid("splits", "payer %s must hold a share", id)
}
