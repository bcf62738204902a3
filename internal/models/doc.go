// Package models defines the core domain models for tally.
//
// # Entities
//
// Every stored value implements [Entity]:
//   - Person: someone money is shared with
//   - Group: a reusable set of people who split expenses
//   - GroupExpense: one expense paid by a group member and split across members
//   - Subscription: a recurring (or lifetime) charge
//   - SharedSubscription: a subscription whose cost is split between people
//   - Transaction: a single money movement, optionally tied to a person
//   - PriceChange: an append-only record of a subscription price update
//
// # Design Principles
//
//  1. **Integer money**: amounts are [Money], a count of cents
//  2. **IDs, not pointers**: relationships are ID strings to avoid cycles
//  3. **Explicit absence**: optional dates are pointers; nil means "not set"
//  4. **Derived values are marked**: Person.Balance is recomputed by the ledger
//     and never trusted from input
package models
