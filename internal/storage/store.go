// Package storage provides the persistent store behind the ledger: the
// backend contract, the snapshot it saves and loads, and the open/recovery
// procedure that guarantees the ledger always starts with a usable store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mmynk/tally/internal/models"
)

// SchemaVersion is the snapshot layout version written by this build.
const SchemaVersion = 1

// Backend defines the interface for snapshot storage operations.
// This abstraction allows swapping storage backends (SQLite, memory)
// without changing the ledger.
type Backend interface {
	// Load reads the full snapshot. A fresh store returns an empty snapshot.
	Load(ctx context.Context) (*Snapshot, error)

	// Save replaces the stored snapshot atomically.
	Save(ctx context.Context, snap *Snapshot) error

	// Durable reports whether saved data survives the process.
	Durable() bool

	// Close releases any resources held by the backend.
	Close() error
}

// Snapshot is the serialisable representation of every entity.
type Snapshot struct {
	People        []models.Person             `json:"people"`
	Groups        []models.Group              `json:"groups"`
	Expenses      []models.GroupExpense       `json:"expenses"`
	Subscriptions []models.Subscription       `json:"subscriptions"`
	Shared        []models.SharedSubscription `json:"shared"`
	Transactions  []models.Transaction        `json:"transactions"`
	PriceChanges  []models.PriceChange        `json:"price_changes"`
}

// Len returns the number of entities in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.People) + len(s.Groups) + len(s.Expenses) + len(s.Subscriptions) +
		len(s.Shared) + len(s.Transactions) + len(s.PriceChanges)
}

// Sort orders every slice by ID so saved snapshots are deterministic.
func (s *Snapshot) Sort() {
	sortByID(s.People)
	sortByID(s.Groups)
	sortByID(s.Expenses)
	sortByID(s.Subscriptions)
	sortByID(s.Shared)
	sortByID(s.Transactions)
	sortByID(s.PriceChanges)
}

func sortByID[T models.Entity](items []T) {
	sort.Slice(items, func(i, j int) bool { return items[i].EntityID() < items[j].EntityID() })
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		People:       append([]models.Person(nil), s.People...),
		Transactions: append([]models.Transaction(nil), s.Transactions...),
		PriceChanges: append([]models.PriceChange(nil), s.PriceChanges...),
	}
	for _, g := range s.Groups {
		c.Groups = append(c.Groups, g.Clone())
	}
	for _, e := range s.Expenses {
		c.Expenses = append(c.Expenses, e.Clone())
	}
	for _, sub := range s.Subscriptions {
		c.Subscriptions = append(c.Subscriptions, sub.Clone())
	}
	for _, sh := range s.Shared {
		c.Shared = append(c.Shared, sh.Clone())
	}
	return c
}

// ErrNotDurable is returned by durability waits while the store runs in
// volatile (non-saving) mode.
var ErrNotDurable = errors.New("storage: changes are not being saved")

// SchemaMismatchError reports an on-disk store that is structurally
// incompatible with this build. It triggers recovery and is never returned
// to ledger callers.
type SchemaMismatchError struct {
	Found  int
	Want   int
	Reason string
	Err    error
}

func (e *SchemaMismatchError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("storage: schema mismatch: %s", e.Reason)
	}
	return fmt.Sprintf("storage: schema mismatch: found version %d, want %d", e.Found, e.Want)
}

func (e *SchemaMismatchError) Unwrap() error { return e.Err }

// PersistenceFailure reports an I/O failure unrelated to the schema.
type PersistenceFailure struct {
	Op  string
	Err error
}

func (e *PersistenceFailure) Error() string {
	return fmt.Sprintf("storage: %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceFailure) Unwrap() error { return e.Err }

// IsSchemaMismatch reports whether err is (or wraps) a SchemaMismatchError.
func IsSchemaMismatch(err error) bool {
	var sm *SchemaMismatchError
	return errors.As(err, &sm)
}
