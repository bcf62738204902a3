// Package ledger is the entity store: the single writer that owns the
// normalized cache of people, groups, expenses, subscriptions, shared
// subscriptions, transactions and price history.
//
// Every command validates its input, applies it to a copy of the cache,
// refreshes derived billing and balance data, commits the copy, queues the
// new state for persistence and publishes change events. Readers always see
// a fully committed state.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/tally/internal/events"
	"github.com/mmynk/tally/internal/models"
	"github.com/mmynk/tally/internal/storage"
)

// DefaultPriceAlertDays is the window used by RecentPriceIncrease.
const DefaultPriceAlertDays = 30

// Store owns the cache. Construct it once with New and share the handle.
type Store struct {
	persistent     *storage.Persistent
	bus            *events.Bus
	logger         *slog.Logger
	metrics        *Metrics
	clock          func() time.Time
	newID          func() string
	strict         bool
	priceAlertDays int
	retryInterval  time.Duration

	// writeMu serializes commands.
	writeMu sync.Mutex
	seq     uint64
	closed  bool

	// mu guards the st pointer swap.
	mu sync.RWMutex
	st *state

	saver *saver
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for billing and price history.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithStrictConsistency makes a broken zero-sum invariant panic instead of
// being logged and clamped. Use it in tests and development builds.
func WithStrictConsistency(strict bool) Option {
	return func(s *Store) { s.strict = strict }
}

// WithPriceAlertDays sets the RecentPriceIncrease window.
func WithPriceAlertDays(days int) Option {
	return func(s *Store) { s.priceAlertDays = days }
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// WithSaveRetryInterval sets how long the saver waits before retrying a
// failed save when no new mutation arrives.
func WithSaveRetryInterval(d time.Duration) Option {
	return func(s *Store) { s.retryInterval = d }
}

// New builds the store from the snapshot persistent loaded at open and starts
// the background saver. persistent must already be open.
func New(persistent *storage.Persistent, bus *events.Bus, opts ...Option) *Store {
	s := &Store{
		persistent:     persistent,
		bus:            bus,
		logger:         slog.Default(),
		clock:          time.Now,
		newID:          func() string { return uuid.New().String() },
		priceAlertDays: DefaultPriceAlertDays,
		retryInterval:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	if s.bus == nil {
		s.bus = events.NewBus()
	}

	initial := persistent.Initial()
	st := stateFromSnapshot(initial, s.newID)
	if err := validateSnapshot(initial); err != nil {
		// Nobody can be handed an error here, so stored data that breaks an
		// invariant is clamped even in strict mode.
		s.metrics.ValidationFailures.WithLabelValues("load").Inc()
		s.logger.Error("Loaded ledger is inconsistent", "error", err)
		strict := s.strict
		s.strict = false
		s.recomputeAll(st)
		s.strict = strict
	} else {
		s.recomputeAll(st)
	}
	s.st = st

	status := persistent.Status()
	if status.Mode == storage.ModeRecovered {
		s.metrics.Recoveries.Inc()
	}
	s.metrics.Durable.Set(boolGauge(status.Durable))
	if !status.Durable {
		s.logger.Warn("Ledger is running without durable storage", "mode", status.Mode, "error", status.Err)
	}

	s.saver = newSaver(persistent, s.logger, s.metrics, s.retryInterval)
	s.logger.Info("Ledger ready", "mode", status.Mode, "entities", st.len())
	return s
}

// Bus returns the change notification bus.
func (s *Store) Bus() *events.Bus { return s.bus }

// Subscribe is shorthand for Bus().Subscribe().
func (s *Store) Subscribe() *events.Subscriber { return s.bus.Subscribe() }

func (s *Store) now() time.Time { return s.clock().UTC() }

func (s *Store) current() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

// txn is one command's working copy.
type txn struct {
	st      *state
	now     time.Time
	changes []events.Event

	// people and groups whose balances need recomputing.
	people map[string]bool
	groups map[string]bool
}

func (tx *txn) record(action events.Action, kind models.Kind, id string) {
	tx.changes = append(tx.changes, events.Event{Action: action, Kind: kind, ID: id})
}

func (tx *txn) touchPeople(ids ...string) {
	for _, id := range ids {
		if id != "" {
			tx.people[id] = true
		}
	}
}

func (tx *txn) touchGroup(id string) {
	if id != "" {
		tx.groups[id] = true
	}
}

// mutate runs fn on a copy of the cache and commits it if fn succeeds. It
// returns the sequence number of the committed change.
func (s *Store) mutate(command string, fn func(tx *txn) error) (uint64, error) {
	start := time.Now()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	tx := &txn{
		st:     s.st.clone(),
		now:    s.now(),
		people: make(map[string]bool),
		groups: make(map[string]bool),
	}
	if err := fn(tx); err != nil {
		s.metrics.ValidationFailures.WithLabelValues(command).Inc()
		s.logger.Warn("Command rejected", "command", command, "error", err)
		return 0, err
	}
	if len(tx.changes) == 0 {
		return s.seq, nil
	}

	s.recompute(tx)
	s.seq++
	seq := s.seq

	s.mu.Lock()
	s.st = tx.st
	s.mu.Unlock()

	s.saver.enqueue(seq, tx.st)
	for _, e := range tx.changes {
		e.Seq = seq
		s.metrics.Mutations.WithLabelValues(string(e.Kind), string(e.Action)).Inc()
		s.bus.Publish(e)
	}
	s.logger.Debug("Command committed",
		"command", command,
		"seq", seq,
		"changes", len(tx.changes),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return seq, nil
}

// ReloadAll atomically replaces the whole cache with snap, recomputes every
// balance and publishes a single Reloaded event.
func (s *Store) ReloadAll(ctx context.Context, snap *storage.Snapshot) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := validateSnapshot(snap); err != nil {
		s.metrics.ValidationFailures.WithLabelValues("reload").Inc()
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	st := stateFromSnapshot(snap.Clone(), s.newID)
	s.recomputeAll(st)
	s.seq++
	seq := s.seq

	s.mu.Lock()
	s.st = st
	s.mu.Unlock()

	s.saver.enqueue(seq, st)
	s.metrics.Mutations.WithLabelValues("all", string(events.Reloaded)).Inc()
	s.bus.Publish(events.Event{Action: events.Reloaded, Seq: seq})
	s.logger.Info("Ledger reloaded", "seq", seq, "entities", st.len())
	return seq, nil
}

// Reload re-reads the persistent store and replaces the cache with it.
func (s *Store) Reload(ctx context.Context) (uint64, error) {
	snap, err := s.persistent.Load(ctx)
	if err != nil {
		return 0, err
	}
	return s.ReloadAll(ctx, snap)
}

// WaitDurable blocks until the change with sequence number seq has been
// saved. It returns storage.ErrNotDurable while the store is not saving.
func (s *Store) WaitDurable(ctx context.Context, seq uint64) error {
	return s.saver.wait(ctx, seq)
}

// Flush waits until every committed change has been saved.
func (s *Store) Flush(ctx context.Context) error {
	s.writeMu.Lock()
	seq := s.seq
	s.writeMu.Unlock()
	return s.saver.wait(ctx, seq)
}

// Close rejects further commands, saves pending changes, stops the saver and
// closes the persistent store. It returns an error wrapping
// storage.ErrNotDurable when committed changes could not be saved. The bus is
// left open; its owner closes it.
func (s *Store) Close(ctx context.Context) error {
	s.writeMu.Lock()
	if s.closed {
		s.writeMu.Unlock()
		return nil
	}
	s.closed = true
	s.writeMu.Unlock()

	var errs []error
	if err := s.saver.stop(ctx); err != nil {
		s.logger.Error("Ledger closed with unsaved changes", "seq", s.seq, "error", err)
		errs = append(errs, fmt.Errorf("failed to save pending changes: %w", err))
	}
	if err := s.persistent.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close storage: %w", err))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.logger.Info("Ledger closed", "seq", s.seq)
	return nil
}

// Query returns copies of every entity of kind for which pred returns true.
// A nil pred matches everything. Results are sorted by ID.
func (s *Store) Query(kind models.Kind, pred func(models.Entity) bool) []models.Entity {
	all := s.current().all(kind)
	if pred == nil {
		return all
	}
	out := all[:0]
	for _, e := range all {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// Get returns a copy of one entity.
func (s *Store) Get(kind models.Kind, id string) (models.Entity, error) {
	e, ok := s.current().get(kind, id)
	if !ok {
		return nil, notFound(kind, id)
	}
	return e, nil
}

func getAs[T models.Entity](s *Store, kind models.Kind, id string) (T, error) {
	var zero T
	e, err := s.Get(kind, id)
	if err != nil {
		return zero, err
	}
	return e.(T), nil
}

// Person returns a copy of the person with its derived balance.
func (s *Store) Person(id string) (models.Person, error) {
	return getAs[models.Person](s, models.KindPerson, id)
}

// Group returns a copy of the group.
func (s *Store) Group(id string) (models.Group, error) {
	return getAs[models.Group](s, models.KindGroup, id)
}

// GroupExpense returns a copy of the expense.
func (s *Store) GroupExpense(id string) (models.GroupExpense, error) {
	return getAs[models.GroupExpense](s, models.KindGroupExpense, id)
}

// Subscription returns a copy of the subscription.
func (s *Store) Subscription(id string) (models.Subscription, error) {
	return getAs[models.Subscription](s, models.KindSubscription, id)
}

// SharedSubscription returns a copy of the shared subscription.
func (s *Store) SharedSubscription(id string) (models.SharedSubscription, error) {
	return getAs[models.SharedSubscription](s, models.KindSharedSubscription, id)
}

// Transaction returns a copy of the transaction.
func (s *Store) Transaction(id string) (models.Transaction, error) {
	return getAs[models.Transaction](s, models.KindTransaction, id)
}

// Snapshot returns a copy of the whole cache.
func (s *Store) Snapshot() *storage.Snapshot {
	return s.current().snapshot()
}
