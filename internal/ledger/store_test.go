package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/tally/internal/events"
	"github.com/mmynk/tally/internal/models"
	"github.com/mmynk/tally/internal/storage"
	"github.com/mmynk/tally/internal/storage/sqlite"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.Set(c.Now().Add(d))
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store *Store
	clock *testClock
	path  string
}

func openStore(t *testing.T, path string, clock *testClock, opts ...Option) *Store {
	t.Helper()
	p := storage.Open(context.Background(), storage.OpenConfig{
		Path:   path,
		Opener: sqlite.Opener,
		Logger: quietLogger(),
	})
	base := []Option{
		WithClock(clock.Now),
		WithLogger(quietLogger()),
		WithStrictConsistency(true),
		WithSaveRetryInterval(10 * time.Millisecond),
	}
	return New(p, events.NewBus(), append(base, opts...)...)
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clock := &testClock{now: testNow}
	path := filepath.Join(t.TempDir(), "tally.db")
	s := openStore(t, path, clock, opts...)
	t.Cleanup(func() { s.Close(context.Background()) })
	return &fixture{store: s, clock: clock, path: path}
}

func (f *fixture) person(t *testing.T, name string) models.Person {
	t.Helper()
	e, err := f.store.Create(context.Background(), models.Person{Name: name})
	require.NoError(t, err)
	return e.(models.Person)
}

func (f *fixture) group(t *testing.T, name string, members ...models.Person) models.Group {
	t.Helper()
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	e, err := f.store.Create(context.Background(), models.Group{Name: name, Members: ids})
	require.NoError(t, err)
	return e.(models.Group)
}

func (f *fixture) subscription(t *testing.T, sub models.Subscription) models.Subscription {
	t.Helper()
	e, err := f.store.Create(context.Background(), sub)
	require.NoError(t, err)
	return e.(models.Subscription)
}

func equalShares(people ...models.Person) []models.Share {
	shares := make([]models.Share, len(people))
	for i, p := range people {
		shares[i] = models.Share{PersonID: p.ID}
	}
	return shares
}

func nextEvent(t *testing.T, sub *events.Subscriber) events.Event {
	t.Helper()
	select {
	case e := <-sub.C():
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

// drainEvents collects events until none arrive for a short while.
func drainEvents(sub *events.Subscriber) []events.Event {
	var got []events.Event
	for {
		select {
		case e := <-sub.C():
			got = append(got, e)
		case <-time.After(100 * time.Millisecond):
			return got
		}
	}
}

func assertNoEvent(t *testing.T, sub *events.Subscriber) {
	t.Helper()
	select {
	case e := <-sub.C():
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCreate_AssignsIDAndPublishes(t *testing.T) {
	f := newFixture(t)
	sub := f.store.Subscribe()
	defer sub.Close()

	e, err := f.store.Create(context.Background(), models.Person{Name: "  Ann "})
	require.NoError(t, err)
	p := e.(models.Person)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "Ann", p.Name)
	assert.Equal(t, testNow, p.CreatedAt)

	ev := nextEvent(t, sub)
	assert.Equal(t, events.Added, ev.Action)
	assert.Equal(t, models.KindPerson, ev.Kind)
	assert.Equal(t, p.ID, ev.ID)
	assert.Equal(t, uint64(1), ev.Seq)

	require.NoError(t, f.store.WaitDurable(context.Background(), ev.Seq))
	assert.Equal(t, uint64(1), f.store.Status().SavedSeq)
}

func TestCreate_AcceptsPointers(t *testing.T) {
	f := newFixture(t)
	e, err := f.store.Create(context.Background(), &models.Person{Name: "Ann"})
	require.NoError(t, err)
	_, err = f.store.Person(e.EntityID())
	require.NoError(t, err)

	var nilPerson *models.Person
	_, err = f.store.Create(context.Background(), nilPerson)
	var ve *models.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestCreate_RejectsDuplicateID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.Create(ctx, models.Person{ID: "p1", Name: "Ann"})
	require.NoError(t, err)

	_, err = f.store.Create(ctx, models.Person{ID: "p1", Name: "Bo"})
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "id", ve.Field)
}

func TestValidationFailureLeavesStoreUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ann := f.person(t, "Ann")
	bo := f.person(t, "Bo")
	g := f.group(t, "Flat", ann, bo)
	before := f.store.Snapshot()
	seq := f.store.Status().Seq

	sub := f.store.Subscribe()
	defer sub.Close()

	tests := []struct {
		name   string
		entity models.Entity
		field  string
	}{
		{"negative price", models.Subscription{Name: "Gym", Price: -1, Cycle: models.CycleMonthly}, "price"},
		{"unknown cycle", models.Subscription{Name: "Gym", Price: 100, Cycle: "fortnightly"}, "cycle"},
		{"empty person name", models.Person{Name: " "}, "name"},
		{"custom split mismatch", models.GroupExpense{
			GroupID: g.ID, Total: 1000, PaidBy: ann.ID, Policy: models.SplitCustom,
			Splits: []models.Share{{PersonID: ann.ID, Amount: 400}, {PersonID: bo.ID, Amount: 500}},
		}, "splits"},
		{"trial ends before anchor", models.Subscription{
			Name: "Box", Price: 100, Cycle: models.CycleMonthly, LastBillingDate: testNow,
			Trial: &models.Trial{EndDate: models.TimePtr(testNow.AddDate(0, 0, -1))},
		}, "trial"},
		{"price change created directly", models.PriceChange{SubscriptionID: "s1", NewPrice: 5}, "kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.store.Create(ctx, tt.entity)
			var ve *models.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	assert.Equal(t, before, f.store.Snapshot())
	assert.Equal(t, seq, f.store.Status().Seq)
	assertNoEvent(t, sub)
}

func TestUnknownReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Create(ctx, models.Group{Name: "Ghosts", Members: []string{"nobody"}})
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.ErrorIs(t, err, ErrNotFound)

	err = f.store.Update(ctx, models.Person{ID: "missing", Name: "X"})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, models.KindPerson, nf.Kind)

	err = f.store.Delete(ctx, models.KindGroup, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.store.Subscription("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate_ReplacesEntityKeepsDerivedFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ann := f.person(t, "Ann")

	f.clock.Advance(time.Hour)
	require.NoError(t, f.store.Update(ctx, models.Person{ID: ann.ID, Name: "Anne", Balance: 999}))

	got, err := f.store.Person(ann.ID)
	require.NoError(t, err)
	assert.Equal(t, "Anne", got.Name)
	assert.Zero(t, got.Balance, "balance is derived, not taken from the caller")
	assert.Equal(t, testNow, got.CreatedAt)
}

func TestQuery(t *testing.T) {
	f := newFixture(t)
	f.person(t, "Ann")
	f.person(t, "Bo")
	f.person(t, "Cy")

	all := f.store.Query(models.KindPerson, nil)
	assert.Len(t, all, 3)

	bs := f.store.Query(models.KindPerson, func(e models.Entity) bool {
		return e.(models.Person).Name == "Bo"
	})
	require.Len(t, bs, 1)
	assert.Equal(t, "Bo", bs[0].(models.Person).Name)

	assert.Empty(t, f.store.Query(models.KindGroup, nil))
}

func TestQuery_ReturnsCopies(t *testing.T) {
	f := newFixture(t)
	ann := f.person(t, "Ann")
	g := f.group(t, "Flat", ann)

	got, err := f.store.Group(g.ID)
	require.NoError(t, err)
	got.Members[0] = "tampered"

	again, err := f.store.Group(g.ID)
	require.NoError(t, err)
	assert.Equal(t, ann.ID, again.Members[0])
}

func TestDelete_PersonStillReferenced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ann := f.person(t, "Ann")
	g := f.group(t, "Flat", ann)

	err := f.store.Delete(ctx, models.KindPerson, ann.ID)
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)

	require.NoError(t, f.store.Delete(ctx, models.KindGroup, g.ID))
	require.NoError(t, f.store.Delete(ctx, models.KindPerson, ann.ID))
	_, err = f.store.Person(ann.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_GroupCascadesToExpenses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ann := f.person(t, "Ann")
	bo := f.person(t, "Bo")
	g := f.group(t, "Flat", ann, bo)

	e, err := f.store.Create(ctx, models.GroupExpense{
		GroupID: g.ID, Total: 1000, PaidBy: ann.ID, Policy: models.SplitEqual, Splits: equalShares(ann, bo),
	})
	require.NoError(t, err)
	_, err = f.store.Create(ctx, models.Transaction{
		Amount: -1000, Category: models.CategoryFood, PersonID: ann.ID, GroupExpenseID: e.EntityID(),
	})
	require.NoError(t, err)

	sub := f.store.Subscribe()
	defer sub.Close()
	require.NoError(t, f.store.Delete(ctx, models.KindGroup, g.ID))

	got := drainEvents(sub)
	require.NotEmpty(t, got)
	kinds := map[models.Kind]events.Action{}
	for _, ev := range got {
		kinds[ev.Kind] = ev.Action
		assert.Equal(t, got[0].Seq, ev.Seq, "one command, one sequence number")
	}
	assert.Equal(t, events.Deleted, kinds[models.KindGroup])
	assert.Equal(t, events.Deleted, kinds[models.KindTransaction])
	assert.Equal(t, events.Deleted, kinds[models.KindGroupExpense])
	assert.Equal(t, events.Updated, kinds[models.KindPerson])

	assert.Empty(t, f.store.Query(models.KindGroupExpense, nil))
	assert.Empty(t, f.store.Query(models.KindTransaction, nil))
	bal, err := f.store.PersonBalance(ann.ID)
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestDelete_SubscriptionCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ann := f.person(t, "Ann")
	bo := f.person(t, "Bo")
	s := f.subscription(t, models.Subscription{Name: "Music", Price: 1000, Cycle: models.CycleMonthly})
	shared, err := f.store.Create(ctx, models.SharedSubscription{
		SubscriptionID: s.ID, OwnerID: ann.ID, Policy: models.SplitEqual, Members: equalShares(ann, bo),
	})
	require.NoError(t, err)
	s.Price = 1200
	require.NoError(t, f.store.Update(ctx, s))

	sub := f.store.Subscribe()
	defer sub.Close()
	require.NoError(t, f.store.Delete(ctx, models.KindSubscription, s.ID))

	deleted := map[models.Kind]string{}
	for len(deleted) < 3 {
		ev := nextEvent(t, sub)
		if ev.Action == events.Deleted {
			deleted[ev.Kind] = ev.ID
		}
	}
	assert.Equal(t, shared.EntityID(), deleted[models.KindSharedSubscription])
	assert.Equal(t, s.ID, deleted[models.KindSubscription])
	assert.NotEmpty(t, deleted[models.KindPriceChange])

	assert.Empty(t, f.store.Query(models.KindPriceChange, nil))
	assert.Empty(t, f.store.Query(models.KindSharedSubscription, nil))
	bal, err := f.store.PersonBalance(bo.ID)
	require.NoError(t, err)
	assert.Zero(t, bal)

	require.NoError(t, f.store.Delete(ctx, models.KindPerson, bo.ID))
}

func TestReloadAll_PublishesSingleEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.person(t, "Old")

	sub := f.store.Subscribe()
	defer sub.Close()

	snap := &storage.Snapshot{
		People: []models.Person{{ID: "a", Name: "Ann"}, {ID: "b", Name: "Bo"}},
		Groups: []models.Group{{ID: "g", Name: "Flat", Members: []string{"a", "b"}}},
		Expenses: []models.GroupExpense{{
			ID: "e", GroupID: "g", Total: 900, PaidBy: "a", Policy: models.SplitCustom,
			Splits: []models.Share{{PersonID: "a", Amount: 300}, {PersonID: "b", Amount: 600}},
		}},
		Transactions: []models.Transaction{{
			ID: "t", Amount: 250, Date: testNow, Category: models.CategoryOther,
			PersonID: "b", Status: models.StatusCompleted,
		}},
	}
	seq, err := f.store.ReloadAll(ctx, snap)
	require.NoError(t, err)

	ev := nextEvent(t, sub)
	assert.Equal(t, events.Reloaded, ev.Action)
	assert.Equal(t, seq, ev.Seq)
	assertNoEvent(t, sub)

	people := f.store.Query(models.KindPerson, nil)
	require.Len(t, people, 2)
	a, _ := f.store.PersonBalance("a")
	b, _ := f.store.PersonBalance("b")
	assert.Equal(t, models.Money(600), a)
	assert.Equal(t, models.Money(-600+250), b)

	require.NoError(t, f.store.WaitDurable(ctx, seq))
}

func TestReloadAll_RejectsInvalidSnapshot(t *testing.T) {
	f := newFixture(t)
	f.person(t, "Keep")

	_, err := f.store.ReloadAll(context.Background(), &storage.Snapshot{
		People: []models.Person{{ID: "a", Name: "Ann"}, {ID: "a", Name: "Dup"}},
	})
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, f.store.Query(models.KindPerson, nil), 1)
}

func TestReload_ReadsPersistentStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.person(t, "Ann")
	require.NoError(t, f.store.Flush(ctx))

	seq, err := f.store.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)
	assert.Len(t, f.store.Query(models.KindPerson, nil), 1)
}

func TestPersistence_ReopenRestoresState(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: testNow}
	path := filepath.Join(t.TempDir(), "tally.db")

	s := openStore(t, path, clock)
	ann, err := s.Create(ctx, models.Person{Name: "Ann"})
	require.NoError(t, err)
	bo, err := s.Create(ctx, models.Person{Name: "Bo"})
	require.NoError(t, err)
	g, err := s.Create(ctx, models.Group{Name: "Flat", Members: []string{ann.EntityID(), bo.EntityID()}})
	require.NoError(t, err)
	_, err = s.Create(ctx, models.GroupExpense{
		GroupID: g.EntityID(), Total: 10000, PaidBy: ann.EntityID(), Policy: models.SplitEqual,
		Splits: []models.Share{{PersonID: ann.EntityID()}, {PersonID: bo.EntityID()}},
	})
	require.NoError(t, err)
	want := s.Snapshot()
	require.NoError(t, s.Close(ctx))

	_, err = s.Create(ctx, models.Person{Name: "Late"})
	assert.ErrorIs(t, err, ErrClosed)

	reopened := openStore(t, path, clock)
	defer reopened.Close(ctx)
	assert.Equal(t, storage.ModeOpened, reopened.Status().Mode)
	assert.Equal(t, want, reopened.Snapshot())

	bal, err := reopened.PersonBalance(ann.EntityID())
	require.NoError(t, err)
	assert.Equal(t, models.Money(5000), bal)
}

func TestVolatileStore_NotDurable(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: testNow}
	p := storage.Open(ctx, storage.OpenConfig{
		Path: "unused",
		Opener: func(context.Context, string) (storage.Backend, error) {
			return nil, errors.New("disk on fire")
		},
		Logger: quietLogger(),
	})
	s := New(p, events.NewBus(), WithClock(clock.Now), WithLogger(quietLogger()))
	defer s.Close(ctx)

	_, err := s.Create(ctx, models.Person{Name: "Ann"})
	require.NoError(t, err, "commands keep working without durable storage")

	st := s.Status()
	assert.Equal(t, storage.ModeVolatile, st.Mode)
	assert.False(t, st.Durable)
	assert.ErrorIs(t, s.Flush(ctx), storage.ErrNotDurable)
}

// flakyBackend fails saves while failing is set.
type flakyBackend struct {
	*storage.Memory
	mu      sync.Mutex
	failing bool
}

func (b *flakyBackend) Durable() bool { return true }

func (b *flakyBackend) Save(ctx context.Context, snap *storage.Snapshot) error {
	b.mu.Lock()
	failing := b.failing
	b.mu.Unlock()
	if failing {
		return errors.New("disk full")
	}
	return b.Memory.Save(ctx, snap)
}

func (b *flakyBackend) setFailing(v bool) {
	b.mu.Lock()
	b.failing = v
	b.mu.Unlock()
}

func TestSaveFailure_DegradesAndRecovers(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{Memory: storage.NewMemory()}
	p := storage.Open(ctx, storage.OpenConfig{
		Opener: func(context.Context, string) (storage.Backend, error) { return backend, nil },
		Logger: quietLogger(),
	})
	clock := &testClock{now: testNow}
	s := New(p, events.NewBus(),
		WithClock(clock.Now),
		WithLogger(quietLogger()),
		WithSaveRetryInterval(10*time.Millisecond),
	)
	defer s.Close(ctx)

	backend.setFailing(true)
	_, err := s.Create(ctx, models.Person{Name: "Ann"})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return !s.Status().Durable }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.Flush(ctx), storage.ErrNotDurable)

	backend.setFailing(false)
	assert.Eventually(t, func() bool {
		st := s.Status()
		return st.Durable && st.SavedSeq == st.Seq
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Flush(ctx))

	saved, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, saved.People, 1)
}

func TestWaitDurable_ContextCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.store.WaitDurable(ctx, 1000)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCommands_RespectCancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.store.Create(ctx, models.Person{Name: "Ann"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.store.Query(models.KindPerson, nil))
}

func TestClose_ReportsUnsavedChanges(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{Memory: storage.NewMemory()}
	backend.setFailing(true)
	p := storage.Open(ctx, storage.OpenConfig{
		Opener: func(context.Context, string) (storage.Backend, error) { return backend, nil },
		Logger: quietLogger(),
	})
	s := New(p, events.NewBus(),
		WithLogger(quietLogger()),
		WithSaveRetryInterval(time.Hour),
	)

	_, err := s.Create(ctx, models.Person{Name: "Ann"})
	require.NoError(t, err)

	err = s.Close(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotDurable)

	saved, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, saved.People)

	assert.NoError(t, s.Close(ctx), "second close is a no-op")
}

func TestClose_SucceedsAfterSave(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{Memory: storage.NewMemory()}
	p := storage.Open(ctx, storage.OpenConfig{
		Opener: func(context.Context, string) (storage.Backend, error) { return backend, nil },
		Logger: quietLogger(),
	})
	s := New(p, events.NewBus(), WithLogger(quietLogger()))

	_, err := s.Create(ctx, models.Person{Name: "Ann"})
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	saved, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, saved.People, 1)
}
