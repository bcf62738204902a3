package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/tally/internal/models"
	"github.com/mmynk/tally/internal/storage"
)

func newTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "tally.db")
	store, err := New(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, dbPath
}

func sampleSnapshot() *storage.Snapshot {
	day := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	half := decimal.NewFromInt(50)
	return &storage.Snapshot{
		People: []models.Person{
			{ID: "p1", Name: "Ann", CreatedAt: day},
			{ID: "p2", Name: "Bo", CreatedAt: day},
		},
		Groups: []models.Group{{ID: "g1", Name: "Flat", Members: []string{"p1", "p2"}, CreatedAt: day}},
		Expenses: []models.GroupExpense{{
			ID: "e1", GroupID: "g1", Description: "Rent", Total: 1001, PaidBy: "p1",
			Policy: models.SplitPercent,
			Splits: []models.Share{
				{PersonID: "p1", Amount: 501, Percent: &half},
				{PersonID: "p2", Amount: 500, Percent: &half},
			},
			Date: day,
		}},
		Subscriptions: []models.Subscription{{
			ID: "s1", Name: "Music", Price: 999, Cycle: models.CycleMonthly,
			Category: models.CategoryMusic, State: models.StateTrial,
			Trial:           &models.Trial{EndDate: models.TimePtr(day.AddDate(0, 0, 14))},
			LastBillingDate: day, NextBillingDate: models.TimePtr(day.AddDate(0, 1, 0)),
			SharedWith: []string{"p2"}, CreatedDate: day,
		}},
		Shared: []models.SharedSubscription{{
			ID: "sh1", SubscriptionID: "s1", OwnerID: "p1", Policy: models.SplitEqual,
			Members: []models.Share{{PersonID: "p1", Amount: 500}, {PersonID: "p2", Amount: 499}},
		}},
		Transactions: []models.Transaction{{
			ID: "t1", Amount: -2500, Date: day, Category: models.CategoryFood,
			PersonID: "p2", Status: models.StatusCompleted,
		}},
		PriceChanges: []models.PriceChange{{
			ID: "c1", SubscriptionID: "s1", PreviousPrice: 899, NewPrice: 999,
			ChangeDate: day, IsIncrease: true,
		}},
	}
}

func TestSQLiteStore_FreshDatabaseIsEmpty(t *testing.T) {
	store, dbPath := newTestStore(t)

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.Len())
	assert.True(t, store.Durable())

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should exist")
}

func TestSQLiteStore_SaveLoadRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	want := sampleSnapshot()

	require.NoError(t, store.Save(ctx, want))
	got, err := store.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, want.Len(), got.Len())
	assert.Equal(t, want.People, got.People)
	assert.Equal(t, want.Groups, got.Groups)
	assert.Equal(t, want.Transactions, got.Transactions)
	assert.Equal(t, want.PriceChanges, got.PriceChanges)
	assert.Equal(t, want.Shared, got.Shared)

	require.Len(t, got.Expenses, 1)
	assert.Equal(t, models.Money(501), got.Expenses[0].Splits[0].Amount)
	require.NotNil(t, got.Expenses[0].Splits[0].Percent)
	assert.True(t, got.Expenses[0].Splits[0].Percent.Equal(decimal.NewFromInt(50)))

	require.Len(t, got.Subscriptions, 1)
	sub := got.Subscriptions[0]
	require.NotNil(t, sub.Trial)
	require.NotNil(t, sub.Trial.EndDate)
	assert.True(t, sub.Trial.EndDate.Equal(*want.Subscriptions[0].Trial.EndDate))
	assert.Nil(t, sub.CancellationDate)
}

func TestSQLiteStore_SaveReplacesPreviousContents(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleSnapshot()))
	require.NoError(t, store.Save(ctx, &storage.Snapshot{People: []models.Person{{ID: "p9", Name: "Cy"}}}))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
	assert.Equal(t, "p9", got.People[0].ID)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "tally.db")

	store, err := New(ctx, dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, sampleSnapshot()))
	require.NoError(t, store.Close())

	store, err = New(ctx, dbPath)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot().Len(), got.Len())
}

func TestNew_SchemaMismatch(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		prepare func(t *testing.T, dbPath string)
	}{
		{
			name: "newer schema version",
			prepare: func(t *testing.T, dbPath string) {
				store, err := New(ctx, dbPath)
				require.NoError(t, err)
				_, err = store.db.Exec("UPDATE meta SET value = '7' WHERE key = 'schema_version'")
				require.NoError(t, err)
				require.NoError(t, store.Close())
			},
		},
		{
			name: "missing entity table",
			prepare: func(t *testing.T, dbPath string) {
				store, err := New(ctx, dbPath)
				require.NoError(t, err)
				_, err = store.db.Exec("DROP TABLE price_changes")
				require.NoError(t, err)
				require.NoError(t, store.Close())
			},
		},
		{
			name: "foreign database without meta table",
			prepare: func(t *testing.T, dbPath string) {
				db, err := sql.Open("sqlite", dbPath)
				require.NoError(t, err)
				_, err = db.Exec("CREATE TABLE bills (id TEXT PRIMARY KEY)")
				require.NoError(t, err)
				require.NoError(t, db.Close())
			},
		},
		{
			name: "not a database",
			prepare: func(t *testing.T, dbPath string) {
				garbage := make([]byte, 4096)
				for i := range garbage {
					garbage[i] = byte(i*7 + 3)
				}
				require.NoError(t, os.WriteFile(dbPath, garbage, 0o600))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbPath := filepath.Join(t.TempDir(), "tally.db")
			tt.prepare(t, dbPath)

			_, err := New(ctx, dbPath)
			require.Error(t, err)
			assert.True(t, storage.IsSchemaMismatch(err), "got %v", err)
		})
	}
}

func TestLoad_UndecodableRowIsSchemaMismatch(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.db.Exec("INSERT INTO people (id, body) VALUES ('p1', 'not json')")
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	var sm *storage.SchemaMismatchError
	require.True(t, errors.As(err, &sm), "got %v", err)
	assert.Contains(t, sm.Reason, "people")
}

func TestOpen_RecoversIncompatibleFile(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "tally.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("definitely not sqlite, just some text that is long enough to have a header"), 0o600))

	p := storage.Open(ctx, storage.OpenConfig{Path: dbPath, Opener: Opener})
	defer p.Close()

	st := p.Status()
	assert.Equal(t, storage.ModeRecovered, st.Mode)
	assert.True(t, st.Durable)
	assert.Equal(t, 2, st.Attempts)
	assert.Zero(t, p.Initial().Len())

	require.NoError(t, p.Save(ctx, sampleSnapshot()))
	got, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot().Len(), got.Len())
}
