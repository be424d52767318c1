package epoch

import (
	"context"
	"encoding/hex"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"

	"github.com/xesslabs/ledger/engine/pkg/merkle"
	ledgertesting "github.com/xesslabs/ledger/utils/pkg/testing"
)

// zeroRand makes V2 salts deterministic so roots can be compared across
// builds within a test.
type zeroRand struct{}

func (zeroRand) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func testWallet(b byte) string {
	k := make([]byte, 32)
	for i := range k {
		k[i] = b
	}
	return base58.Encode(k)
}

func newTestBuilder(t *testing.T, store Store) *Builder {
	t.Helper()
	b, err := NewBuilder(BuilderConfig{
		Logger: ledgertesting.NewLogger(),
		Store:  store,
		Clock:  clockwork.NewFakeClockAt(time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)),
		Rand:   zeroRand{},
	})
	require.NoError(t, err)
	return b
}

func TestLedger_Epoch_NewBuilder(t *testing.T) {
	t.Parallel()

	t.Run("missing logger", func(t *testing.T) {
		t.Parallel()
		_, err := NewBuilder(BuilderConfig{Store: NewMemoryStore()})
		require.Error(t, err)
		require.Contains(t, err.Error(), "logger is required")
	})

	t.Run("missing store", func(t *testing.T) {
		t.Parallel()
		_, err := NewBuilder(BuilderConfig{Logger: ledgertesting.NewLogger()})
		require.Error(t, err)
		require.Contains(t, err.Error(), "store is required")
	})
}

func TestLedger_Epoch_Build_Deterministic(t *testing.T) {
	t.Parallel()

	rewards := []Reward{
		{UserID: "u-a", SubjectKey: testWallet(0x0a), Amount: 100},
		{UserID: "u-b", SubjectKey: testWallet(0x0b), Amount: 50},
		{UserID: "u-c", SubjectKey: testWallet(0x0c), Amount: 25},
	}

	build := func(input []Reward) *Epoch {
		store := NewMemoryStore()
		ep, err := newTestBuilder(t, store).Build(context.Background(), 1, "2026-W34", merkle.VersionV1, input)
		require.NoError(t, err)
		return ep
	}

	base := build(rewards)

	t.Run("rebuild from same input yields same root", func(t *testing.T) {
		t.Parallel()
		require.Equal(t, base.RootHex, build(rewards).RootHex)
	})

	t.Run("input permutation does not change the root", func(t *testing.T) {
		t.Parallel()
		for i := 0; i < 5; i++ {
			shuffled := append([]Reward(nil), rewards...)
			rand.Shuffle(len(shuffled), func(a, b int) {
				shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
			})
			require.Equal(t, base.RootHex, build(shuffled).RootHex)
		}
	})

	t.Run("changing one amount changes the root", func(t *testing.T) {
		t.Parallel()
		changed := append([]Reward(nil), rewards...)
		changed[0].Amount = 101
		require.NotEqual(t, base.RootHex, build(changed).RootHex)
	})
}

func TestLedger_Epoch_Build_IndexAssignment(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	// Input deliberately unsorted; wallets 0x0b < 0x0c byte-wise.
	rewards := []Reward{
		{UserID: "u-c", SubjectKey: testWallet(0x0c), Amount: 10},
		{UserID: "u-b", SubjectKey: testWallet(0x0b), Amount: 20},
		{UserID: "u-b", SubjectKey: testWallet(0x0b), Amount: 5}, // aggregated
	}

	ep, err := newTestBuilder(t, store).Build(context.Background(), 3, "2026-W34", merkle.VersionV1, rewards)
	require.NoError(t, err)
	require.Equal(t, 2, ep.LeafCount)
	require.Equal(t, int64(35), ep.TotalAmount)

	leaves := store.Leaves(3)
	require.Len(t, leaves, 2)
	require.Equal(t, uint64(0), leaves[0].Index)
	require.Equal(t, "u-b", leaves[0].UserID)
	require.Equal(t, int64(25), leaves[0].Amount)
	require.Equal(t, uint64(1), leaves[1].Index)
	require.Equal(t, "u-c", leaves[1].UserID)
}

func TestLedger_Epoch_Build_Failures(t *testing.T) {
	t.Parallel()

	t.Run("empty epoch", func(t *testing.T) {
		t.Parallel()
		_, err := newTestBuilder(t, NewMemoryStore()).Build(context.Background(), 1, "2026-W34", merkle.VersionV1, nil)
		require.ErrorIs(t, err, ErrEmptyEpoch)
	})

	t.Run("zero amount", func(t *testing.T) {
		t.Parallel()
		_, err := newTestBuilder(t, NewMemoryStore()).Build(context.Background(), 1, "2026-W34", merkle.VersionV1, []Reward{
			{UserID: "u-a", SubjectKey: testWallet(1), Amount: 0},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "must be positive")
	})

	t.Run("negative amount", func(t *testing.T) {
		t.Parallel()
		_, err := newTestBuilder(t, NewMemoryStore()).Build(context.Background(), 1, "2026-W34", merkle.VersionV1, []Reward{
			{UserID: "u-a", SubjectKey: testWallet(1), Amount: -5},
		})
		require.Error(t, err)
	})

	t.Run("duplicate subject across users", func(t *testing.T) {
		t.Parallel()
		_, err := newTestBuilder(t, NewMemoryStore()).Build(context.Background(), 1, "2026-W34", merkle.VersionV1, []Reward{
			{UserID: "u-a", SubjectKey: testWallet(1), Amount: 10},
			{UserID: "u-b", SubjectKey: testWallet(1), Amount: 10},
		})
		require.ErrorIs(t, err, ErrDuplicateSubject)
	})

	t.Run("already committed", func(t *testing.T) {
		t.Parallel()
		store := NewMemoryStore()
		b := newTestBuilder(t, store)
		rewards := []Reward{{UserID: "u-a", SubjectKey: testWallet(1), Amount: 10}}

		_, err := b.Build(context.Background(), 1, "2026-W34", merkle.VersionV1, rewards)
		require.NoError(t, err)

		_, err = b.Build(context.Background(), 1, "2026-W34", merkle.VersionV1, rewards)
		require.ErrorIs(t, err, ErrEpochAlreadyCommitted)
	})

	t.Run("malformed wallet aborts the build", func(t *testing.T) {
		t.Parallel()
		_, err := newTestBuilder(t, NewMemoryStore()).Build(context.Background(), 1, "2026-W34", merkle.VersionV1, []Reward{
			{UserID: "u-a", SubjectKey: "not-a-wallet", Amount: 10},
		})
		require.Error(t, err)
	})
}

func TestLedger_Epoch_Build_V2(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	// No subject key: V2 derives the opaque user key from the user id.
	rewards := []Reward{
		{UserID: "u-a", Amount: 100},
		{UserID: "u-b", Amount: 50},
	}

	ep, err := newTestBuilder(t, store).Build(context.Background(), 7, "2026-W34", merkle.VersionV2, rewards)
	require.NoError(t, err)
	require.Equal(t, merkle.VersionV2, ep.Version)

	for _, leaf := range store.Leaves(7) {
		salt, err := hex.DecodeString(leaf.SaltHex)
		require.NoError(t, err)
		require.Len(t, salt, merkle.SaltSize)

		key, err := hex.DecodeString(leaf.SubjectKey)
		require.NoError(t, err)
		require.Len(t, key, merkle.SubjectKeySize)
	}
}

func TestLedger_Epoch_Build_ProofsVerify(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	rewards := []Reward{
		{UserID: "u-a", SubjectKey: testWallet(0x0a), Amount: 100},
		{UserID: "u-b", SubjectKey: testWallet(0x0b), Amount: 50},
		{UserID: "u-c", SubjectKey: testWallet(0x0c), Amount: 25},
	}

	ep, err := newTestBuilder(t, store).Build(context.Background(), 2, "2026-W34", merkle.VersionV1, rewards)
	require.NoError(t, err)

	root, err := merkle.HashFromHex(ep.RootHex)
	require.NoError(t, err)

	// Rebuild the same leaves with a different amount for the first
	// subject; proofs must not verify against the other root.
	otherStore := NewMemoryStore()
	changed := append([]Reward(nil), rewards...)
	changed[0].Amount = 101
	otherEp, err := newTestBuilder(t, otherStore).Build(context.Background(), 2, "2026-W34", merkle.VersionV1, changed)
	require.NoError(t, err)
	otherRoot, err := merkle.HashFromHex(otherEp.RootHex)
	require.NoError(t, err)

	for _, leaf := range store.Leaves(2) {
		keyBytes, err := base58.Decode(leaf.SubjectKey)
		require.NoError(t, err)
		l, err := merkle.NewLeaf(keyBytes, leaf.Epoch, uint64(leaf.Amount), leaf.Index, nil)
		require.NoError(t, err)
		leafHash, err := l.Hash(merkle.VersionV1)
		require.NoError(t, err)

		proof := make([]merkle.Hash, len(leaf.Proof))
		for i, p := range leaf.Proof {
			proof[i], err = merkle.HashFromHex(p)
			require.NoError(t, err)
		}

		require.True(t, merkle.VerifyProof(leafHash, leaf.Index, proof, root))
		require.False(t, merkle.VerifyProof(leafHash, leaf.Index, proof, otherRoot))
	}
}

func TestLedger_Epoch_WeekKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "2026-W35", WeekKey(time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)))
	// ISO week years roll over around January 1st.
	require.Equal(t, "2020-W53", WeekKey(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)))
}
