package calculator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/tally/internal/models"
)

// nominalDays is the length of each cycle measured in flat 30-day months.
// Monthly equivalents divide by these and multiply by 30, so a yearly price is
// spread over 360 days, not 365.
var nominalDays = map[models.BillingCycle]int64{
	models.CycleDaily:      1,
	models.CycleWeekly:     7,
	models.CycleBiweekly:   14,
	models.CycleMonthly:    30,
	models.CycleQuarterly:  90,
	models.CycleSemiAnnual: 180,
	models.CycleYearly:     360,
}

// AddCycle advances t by n intervals of cycle. Month and year intervals clamp
// the day of month to the last day of the resulting month, so Jan 31 plus one
// month is Feb 28 (or 29). Lifetime returns t unchanged.
func AddCycle(t time.Time, cycle models.BillingCycle, n int) time.Time {
	switch cycle {
	case models.CycleDaily:
		return t.AddDate(0, 0, n)
	case models.CycleWeekly:
		return t.AddDate(0, 0, 7*n)
	case models.CycleBiweekly:
		return t.AddDate(0, 0, 14*n)
	case models.CycleMonthly:
		return addMonthsClamped(t, n)
	case models.CycleQuarterly:
		return addMonthsClamped(t, 3*n)
	case models.CycleSemiAnnual:
		return addMonthsClamped(t, 6*n)
	case models.CycleYearly:
		return addMonthsClamped(t, 12*n)
	default:
		return t
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	total := int(m) - 1 + months
	year := y + floorDiv(total, 12)
	month := time.Month(total - floorDiv(total, 12)*12 + 1)
	if last := daysIn(year, month); d > last {
		d = last
	}
	return time.Date(year, month, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// NextOccurrence returns the first anchor + k·interval (k ≥ 1) strictly after
// now. Each candidate is computed from the original anchor, so clamped months
// do not drift. The second result is false for lifetime cycles.
func NextOccurrence(anchor time.Time, cycle models.BillingCycle, now time.Time) (time.Time, bool) {
	k, ok := nextIndex(anchor, cycle, now)
	if !ok {
		return time.Time{}, false
	}
	return AddCycle(anchor, cycle, k), true
}

// Reanchor returns the latest occurrence not after now that can replace
// anchor without changing any later occurrence. For month based cycles that
// means it falls on the anchor's own day of month; a clamped Feb 28 does not
// qualify for a day-31 anchor. It returns anchor when no occurrence qualifies.
func Reanchor(anchor time.Time, cycle models.BillingCycle, now time.Time) time.Time {
	k, ok := nextIndex(anchor, cycle, now)
	if !ok {
		return anchor
	}
	for k--; k > 0; k-- {
		t := AddCycle(anchor, cycle, k)
		if !monthBased(cycle) || t.Day() == anchor.Day() {
			return t
		}
	}
	return anchor
}

func monthBased(cycle models.BillingCycle) bool {
	switch cycle {
	case models.CycleMonthly, models.CycleQuarterly, models.CycleSemiAnnual, models.CycleYearly:
		return true
	}
	return false
}

func nextIndex(anchor time.Time, cycle models.BillingCycle, now time.Time) (int, bool) {
	if !cycle.Recurring() {
		return 0, false
	}
	days, ok := nominalDays[cycle]
	if !ok {
		return 0, false
	}
	// Jump close to now instead of stepping from the anchor one interval at a time.
	k := 1
	if gap := now.Sub(anchor); gap > 0 {
		if est := int(gap/(time.Duration(days)*24*time.Hour)) - 1; est > k {
			k = est
		}
	}
	for k > 1 && AddCycle(anchor, cycle, k).After(now) {
		k--
	}
	for !AddCycle(anchor, cycle, k).After(now) {
		k++
	}
	return k, true
}

// NextBillingDate derives a subscription's next charge. It is absent for
// cancelled, paused, lifetime, and open-ended trial subscriptions. While a
// trial is running the first charge is the first occurrence after the trial end.
func NextBillingDate(sub models.Subscription, now time.Time) (time.Time, bool) {
	if sub.IsCancelled() || sub.State == models.StatePaused || !sub.Cycle.Recurring() {
		return time.Time{}, false
	}
	if sub.State == models.StateTrial {
		if sub.Trial == nil || sub.Trial.EndDate == nil {
			return time.Time{}, false
		}
		if now.Before(*sub.Trial.EndDate) {
			return NextOccurrence(sub.LastBillingDate, sub.Cycle, *sub.Trial.EndDate)
		}
	}
	return NextOccurrence(sub.LastBillingDate, sub.Cycle, now)
}

// TrialElapsed reports whether a trial subscription's end date has passed.
func TrialElapsed(sub models.Subscription, now time.Time) bool {
	if sub.State != models.StateTrial || sub.Trial == nil || sub.Trial.EndDate == nil {
		return false
	}
	return !now.Before(*sub.Trial.EndDate)
}

// MonthlyEquivalent normalizes price to a nominal 30-day month. Lifetime
// purchases have no monthly cost.
func MonthlyEquivalent(price models.Money, cycle models.BillingCycle) float64 {
	return monthlyEquivalent(price, cycle).InexactFloat64()
}

func monthlyEquivalent(price models.Money, cycle models.BillingCycle) decimal.Decimal {
	days, ok := nominalDays[cycle]
	if !ok {
		return decimal.Zero
	}
	return price.Decimal().Mul(decimal.NewFromInt(30)).Div(decimal.NewFromInt(days))
}

// MonthlyTotal sums the monthly equivalents of the given subscriptions and
// rounds once at the end.
func MonthlyTotal(subs []models.Subscription) models.Money {
	total := decimal.Zero
	for _, s := range subs {
		total = total.Add(monthlyEquivalent(s.Price, s.Cycle))
	}
	return models.FromDecimal(total)
}
