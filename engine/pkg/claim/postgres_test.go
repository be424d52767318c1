package claim_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	apitesting "github.com/xesslabs/ledger/api/testing"
	"github.com/xesslabs/ledger/engine/pkg/claim"
	"github.com/xesslabs/ledger/engine/pkg/epoch"
	"github.com/xesslabs/ledger/engine/pkg/merkle"
	ledgertesting "github.com/xesslabs/ledger/utils/pkg/testing"
)

var sharedDB *apitesting.DB

func TestMain(m *testing.M) {
	log := ledgertesting.NewLogger()
	var err error
	sharedDB, err = apitesting.NewDB(context.Background(), log, nil)
	if err != nil {
		log.Error("failed to create shared Postgres DB", "error", err)
		os.Exit(1)
	}
	code := m.Run()
	sharedDB.Close()
	os.Exit(code)
}

// testPGStore returns a claim store over a fresh database seeded with
// epoch 1 so the reward_claims foreign key is satisfiable.
func testPGStore(t *testing.T) (*claim.PGStore, *pgxpool.Pool) {
	t.Helper()

	pool := apitesting.NewMigratedPool(t, sharedDB)

	epochs, err := epoch.NewPGStore(epoch.PGStoreConfig{
		Logger: ledgertesting.NewLogger(),
		Pool:   pool,
	})
	require.NoError(t, err)
	require.NoError(t, epochs.InsertEpoch(t.Context(), &epoch.Epoch{
		Number:      1,
		WeekKey:     "2026-W34",
		Version:     merkle.VersionV1,
		RootHex:     "aa",
		LeafCount:   1,
		TotalAmount: 100,
	}, []epoch.LeafEntry{
		{Epoch: 1, Index: 0, UserID: "u-a", SubjectKey: "WalletA", Amount: 100, Proof: []string{"p0"}},
	}))

	store, err := claim.NewPGStore(claim.PGStoreConfig{
		Logger: ledgertesting.NewLogger(),
		Pool:   pool,
	})
	require.NoError(t, err)
	return store, pool
}

func TestLedger_Claim_PGStore_Begin(t *testing.T) {
	store, _ := testPGStore(t)
	ctx := t.Context()
	now := time.Now().UTC().Truncate(time.Millisecond)

	c, err := store.Begin(ctx, "u-a", 1, 100, now)
	require.NoError(t, err)
	require.Equal(t, claim.StatusProcessing, c.Status)
	require.Equal(t, int64(100), c.Amount)
	require.NotEqual(t, "", c.ID.String())

	_, err = store.Begin(ctx, "u-a", 1, 100, now)
	require.ErrorIs(t, err, claim.ErrAlreadyInFlight)
}

func TestLedger_Claim_PGStore_ConcurrentBegin(t *testing.T) {
	store, _ := testPGStore(t)
	ctx := t.Context()

	const attempts = 8
	var (
		wg   sync.WaitGroup
		errs = make(chan error, attempts)
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Begin(ctx, "u-a", 1, 100, time.Now().UTC())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	won := 0
	for err := range errs {
		if err == nil {
			won++
		} else {
			require.ErrorIs(t, err, claim.ErrAlreadyInFlight)
		}
	}
	require.Equal(t, 1, won)
}

func TestLedger_Claim_PGStore_ConfirmAndFail(t *testing.T) {
	store, _ := testPGStore(t)
	ctx := t.Context()
	now := time.Now().UTC()

	_, err := store.Begin(ctx, "u-a", 1, 100, now)
	require.NoError(t, err)

	c, err := store.Confirm(ctx, "u-a", 1, "sig-1", now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, claim.StatusConfirmed, c.Status)
	require.Equal(t, "sig-1", c.TxSig)

	// Terminal transitions are rejected with the matching sentinel.
	_, err = store.Confirm(ctx, "u-a", 1, "sig-2", now)
	require.ErrorIs(t, err, claim.ErrAlreadyConfirmed)
	_, err = store.Fail(ctx, "u-a", 1, "too late", now)
	require.ErrorIs(t, err, claim.ErrAlreadyConfirmed)
	_, err = store.Begin(ctx, "u-a", 1, 100, now)
	require.ErrorIs(t, err, claim.ErrAlreadyConfirmed)

	// Confirm on a claim that was never begun.
	_, err = store.Confirm(ctx, "u-z", 1, "sig-3", now)
	require.ErrorIs(t, err, claim.ErrNotFound)
}

func TestLedger_Claim_PGStore_RevertStale(t *testing.T) {
	store, _ := testPGStore(t)
	ctx := t.Context()
	now := time.Now().UTC()

	_, err := store.Begin(ctx, "u-a", 1, 100, now.Add(-45*time.Minute))
	require.NoError(t, err)

	reverted, err := store.RevertStale(ctx, now.Add(-30*time.Minute), now)
	require.NoError(t, err)
	require.Equal(t, int64(1), reverted)

	c, err := store.Get(ctx, "u-a", 1)
	require.NoError(t, err)
	require.Equal(t, claim.StatusPending, c.Status)

	// A confirmation arriving now is late.
	_, err = store.Confirm(ctx, "u-a", 1, "sig-late", now)
	require.ErrorIs(t, err, claim.ErrLateConfirmation)

	// Nothing left to revert.
	reverted, err = store.RevertStale(ctx, now.Add(-30*time.Minute), now)
	require.NoError(t, err)
	require.Zero(t, reverted)

	// The user can begin again after the reversion.
	c, err = store.Begin(ctx, "u-a", 1, 100, now)
	require.NoError(t, err)
	require.Equal(t, claim.StatusProcessing, c.Status)
}

func TestLedger_Claim_PGStore_Listing(t *testing.T) {
	store, pool := testPGStore(t)
	ctx := t.Context()
	now := time.Now().UTC()

	// A second epoch for the same user.
	_, err := pool.Exec(ctx, `
		INSERT INTO claim_epochs (epoch_number, week_key, version, root_hex, leaf_count, total_amount, set_onchain, created_at)
		VALUES (2, '2026-W35', 1, 'bb', 1, 60, FALSE, $1)`, now)
	require.NoError(t, err)

	_, err = store.Begin(ctx, "u-a", 1, 100, now)
	require.NoError(t, err)
	_, err = store.Begin(ctx, "u-a", 2, 60, now.Add(time.Minute))
	require.NoError(t, err)

	claims, err := store.ListByUser(ctx, "u-a")
	require.NoError(t, err)
	require.Len(t, claims, 2)
	require.Equal(t, uint64(2), claims[0].EpochNumber)

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, uint64(2), all[0].EpochNumber)
}
