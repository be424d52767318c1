package solana

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"

	ledgertesting "github.com/xesslabs/ledger/utils/pkg/testing"
)

var testProgramID = solana.MustPublicKeyFromBase58("11111111111111111111111111111111")

// fakeRPC serves canned account and signature lookups.
type fakeRPC struct {
	// rootsOnChain lists epoch numbers whose root PDA has an account.
	rootsOnChain map[uint64]bool
	// statuses maps signature string to a canned status; absent means the
	// cluster has never seen the signature.
	statuses map[string]*solanarpc.SignatureStatusesResult
}

func (f *fakeRPC) GetAccountInfo(_ context.Context, account solana.PublicKey) (*solanarpc.GetAccountInfoResult, error) {
	for epoch, exists := range f.rootsOnChain {
		addr, err := EpochRootPDA(testProgramID, epoch)
		if err != nil {
			return nil, err
		}
		if exists && addr.Equals(account) {
			return &solanarpc.GetAccountInfoResult{Value: &solanarpc.Account{Owner: testProgramID}}, nil
		}
	}
	return nil, solanarpc.ErrNotFound
}

func (f *fakeRPC) GetSignatureStatuses(_ context.Context, _ bool, sigs ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error) {
	res := &solanarpc.GetSignatureStatusesResult{}
	for _, sig := range sigs {
		res.Value = append(res.Value, f.statuses[sig.String()])
	}
	return res, nil
}

func newTestClient(t *testing.T, rpc RPC) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		Logger:    ledgertesting.NewLogger(),
		RPC:       rpc,
		ProgramID: testProgramID,
	})
	require.NoError(t, err)
	return c
}

func TestLedger_Solana_EpochRootPDA(t *testing.T) {
	t.Parallel()

	a, err := EpochRootPDA(testProgramID, 1)
	require.NoError(t, err)
	b, err := EpochRootPDA(testProgramID, 2)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	again, err := EpochRootPDA(testProgramID, 1)
	require.NoError(t, err)
	require.Equal(t, a, again)
}

func TestLedger_Solana_EpochRootExists(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, &fakeRPC{rootsOnChain: map[uint64]bool{3: true}})

	exists, err := c.EpochRootExists(context.Background(), 3)
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = c.EpochRootExists(context.Background(), 4)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestLedger_Solana_MaxEpochOnChain(t *testing.T) {
	t.Parallel()

	t.Run("tolerates gaps smaller than the cutoff", func(t *testing.T) {
		t.Parallel()
		// Epoch 9 sits behind an 8-epoch gap; the scan must reach it.
		c := newTestClient(t, &fakeRPC{rootsOnChain: map[uint64]bool{1: true, 9: true}})

		max, found, err := c.MaxEpochOnChain(context.Background(), 1)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, uint64(9), max)
	})

	t.Run("stops after ten consecutive misses", func(t *testing.T) {
		t.Parallel()
		// Epoch 13 is 11 past epoch 2 and must not be reached.
		c := newTestClient(t, &fakeRPC{rootsOnChain: map[uint64]bool{2: true, 13: true}})

		max, found, err := c.MaxEpochOnChain(context.Background(), 1)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, uint64(2), max)
	})

	t.Run("empty chain finds nothing", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, &fakeRPC{})

		_, found, err := c.MaxEpochOnChain(context.Background(), 1)
		require.NoError(t, err)
		require.False(t, found)
	})
}

func TestLedger_Solana_NextEpochNumber(t *testing.T) {
	t.Parallel()

	t.Run("database ahead of chain", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, &fakeRPC{rootsOnChain: map[uint64]bool{1: true, 2: true}})

		next, err := c.NextEpochNumber(context.Background(), 5)
		require.NoError(t, err)
		require.Equal(t, uint64(6), next)
	})

	t.Run("chain ahead of database", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, &fakeRPC{rootsOnChain: map[uint64]bool{1: true, 2: true, 3: true}})

		next, err := c.NextEpochNumber(context.Background(), 1)
		require.NoError(t, err)
		require.Equal(t, uint64(4), next)
	})
}

func TestLedger_Solana_VerifyTransaction(t *testing.T) {
	t.Parallel()

	sig := solana.Signature{0x01}.String()

	t.Run("finalized clean transaction passes", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, &fakeRPC{statuses: map[string]*solanarpc.SignatureStatusesResult{
			sig: {ConfirmationStatus: solanarpc.ConfirmationStatusFinalized},
		}})
		require.NoError(t, c.VerifyTransaction(context.Background(), sig))
	})

	t.Run("unknown signature is rejected", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, &fakeRPC{})
		err := c.VerifyTransaction(context.Background(), sig)
		require.ErrorIs(t, err, ErrTransactionNotFinalized)
	})

	t.Run("non-finalized commitment is rejected", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, &fakeRPC{statuses: map[string]*solanarpc.SignatureStatusesResult{
			sig: {ConfirmationStatus: solanarpc.ConfirmationStatusConfirmed},
		}})
		err := c.VerifyTransaction(context.Background(), sig)
		require.ErrorIs(t, err, ErrTransactionNotFinalized)
	})

	t.Run("failed transaction is rejected", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, &fakeRPC{statuses: map[string]*solanarpc.SignatureStatusesResult{
			sig: {ConfirmationStatus: solanarpc.ConfirmationStatusFinalized, Err: map[string]any{"InstructionError": 0}},
		}})
		err := c.VerifyTransaction(context.Background(), sig)
		require.ErrorIs(t, err, ErrTransactionNotFinalized)
	})

	t.Run("malformed signature is rejected", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, &fakeRPC{})
		require.Error(t, c.VerifyTransaction(context.Background(), "not-base58!"))
	})
}
