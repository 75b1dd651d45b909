package persist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spellduel/broker/internal/account"
	"github.com/spellduel/broker/internal/ranking"
)

func newTestGateway(t *testing.T, store Store, debounce time.Duration) (*Gateway, *account.Store, *ranking.Ledger) {
	t.Helper()
	accounts := account.NewStore(24 * time.Hour)
	rankings := ranking.NewLedger()
	g := NewGateway(store, accounts, rankings, debounce, zap.NewNop().Sugar())
	return g, accounts, rankings
}

func waitSaves(t *testing.T, store *MemoryStore, want int, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if store.Saves() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("wanted %d saves, got %d", want, store.Saves())
}

func TestGateway_DebounceCoalescesBursts(t *testing.T) {
	store := NewMemoryStore()
	g, _, _ := newTestGateway(t, store, 30*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	// A burst inside one debounce window flushes exactly once.
	for i := 0; i < 20; i++ {
		g.ScheduleSave()
	}
	waitSaves(t, store, 1, time.Second)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, store.Saves())

	// A fresh schedule after the window is a second flush.
	g.ScheduleSave()
	waitSaves(t, store, 2, time.Second)

	cancel()
	require.NoError(t, <-done)
}

func TestGateway_FinalFlushOnShutdown(t *testing.T) {
	store := NewMemoryStore()
	g, accounts, _ := newTestGateway(t, store, time.Hour) // window never elapses

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	_, _, err := accounts.Register("alice", "hunter2", "Alice")
	require.NoError(t, err)
	g.ScheduleSave()

	cancel()
	require.NoError(t, <-done)

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Accounts, 1)
	assert.Equal(t, "alice", snap.Accounts[0].Username)
	assert.Len(t, snap.Sessions, 1)
}

func TestGateway_LoadAndMigratePopulatesStores(t *testing.T) {
	expiry := time.Now().Add(12 * time.Hour)
	store := NewMemoryStore()
	store.Seed(Snapshot{
		Accounts: []AccountRow{
			{ID: "acct-1", Username: "alice", Nickname: "Alice", PasswordHash: "x", CreatedAt: time.Now()},
		},
		Sessions: []SessionRow{
			{Token: "tok", AccountID: "acct-1", LegacyExpiryUnix: expiry.Unix()},
		},
		Rankings: []RankingRow{
			{Category: "formal", DisplayName: "Alice", Score: 6},
			{Category: "bogus", AccountID: "acct-1", Score: 1}, // skipped with a warning
		},
	})
	g, accounts, rankings := newTestGateway(t, store, 10*time.Millisecond)

	require.NoError(t, g.LoadAndMigrate(context.Background()))

	a, err := accounts.Get("acct-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", a.Nickname)

	id, ok := accounts.Resolve("tok") // migrated legacy expiry still in future
	require.True(t, ok)
	assert.Equal(t, "acct-1", id)

	assert.Equal(t, 6, rankings.Lookup(ranking.CategoryFormal, "acct-1"))
	assert.Equal(t, 0, rankings.Lookup(ranking.CategoryMock, "acct-1"))
}

func TestGateway_FlushWritesLedger(t *testing.T) {
	store := NewMemoryStore()
	g, _, rankings := newTestGateway(t, store, 10*time.Millisecond)
	rankings.Set(ranking.CategoryFormal, "acct-1", 7)

	require.NoError(t, g.flush(context.Background()))

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Rankings, 1)
	assert.Equal(t, RankingRow{Category: "formal", AccountID: "acct-1", Score: 7}, snap.Rankings[0])
}
