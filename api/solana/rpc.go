// Package solana reads the on-chain side of the claim engine: which epoch
// roots are published and whether settlement signatures finalized.
package solana

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"

	"github.com/xesslabs/ledger/utils/pkg/retry"
)

// DefaultRPCURL is the default Solana RPC endpoint.
const DefaultRPCURL = "https://api.mainnet-beta.solana.com"

// epochRootSeed is the PDA seed prefix the claim program uses for epoch
// root accounts: ["epoch_root", u64le(epoch)].
const epochRootSeed = "epoch_root"

// maxEpochGap is how many consecutive missing epoch-root accounts the
// forward scan tolerates before concluding it passed the newest one.
const maxEpochGap = 10

// ErrTransactionNotFinalized is returned when a settlement signature is
// unknown to the cluster, failed, or has not reached finalized commitment.
var ErrTransactionNotFinalized = errors.New("transaction is not finalized")

// RPC is the subset of the Solana JSON-RPC surface the client needs.
type RPC interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*solanarpc.GetAccountInfoResult, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error)
}

// ClientConfig holds the on-chain reader dependencies.
type ClientConfig struct {
	Logger    *slog.Logger
	RPC       RPC
	ProgramID solana.PublicKey

	// Retry wraps every RPC call; zero value uses retry.DefaultConfig.
	Retry retry.Config
}

func (cfg *ClientConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.ProgramID.IsZero() {
		return errors.New("program id is required")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// Client answers epoch-root and settlement questions from chain state.
type Client struct {
	log *slog.Logger
	cfg ClientConfig
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// NewRPC dials the given endpoint, defaulting to mainnet-beta.
func NewRPC(url string) *solanarpc.Client {
	if url == "" {
		url = DefaultRPCURL
	}
	return solanarpc.New(url)
}

// EpochRootPDA derives the epoch-root account address for an epoch.
func EpochRootPDA(programID solana.PublicKey, epoch uint64) (solana.PublicKey, error) {
	var epochLE [8]byte
	binary.LittleEndian.PutUint64(epochLE[:], epoch)

	addr, _, err := solana.FindProgramAddress([][]byte{[]byte(epochRootSeed), epochLE[:]}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive epoch root PDA for epoch %d: %w", epoch, err)
	}
	return addr, nil
}

// EpochRootExists reports whether the epoch's root account is on chain.
func (c *Client) EpochRootExists(ctx context.Context, epoch uint64) (bool, error) {
	addr, err := EpochRootPDA(c.cfg.ProgramID, epoch)
	if err != nil {
		return false, err
	}

	var exists bool
	err = retry.Do(ctx, c.cfg.Retry, func() error {
		res, err := c.cfg.RPC.GetAccountInfo(ctx, addr)
		if errors.Is(err, solanarpc.ErrNotFound) {
			exists = false
			return nil
		}
		if err != nil {
			return err
		}
		exists = res != nil && res.Value != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to look up epoch root %d: %w", epoch, err)
	}
	return exists, nil
}

// MaxEpochOnChain scans forward from startEpoch for the highest epoch with
// a published root, tolerating gaps of up to maxEpochGap missing epochs.
// Returns (0, false, nil) when nothing is published at or after startEpoch.
func (c *Client) MaxEpochOnChain(ctx context.Context, startEpoch uint64) (uint64, bool, error) {
	var (
		maxEpoch uint64
		found    bool
		misses   int
	)
	for epoch := startEpoch; misses < maxEpochGap; epoch++ {
		exists, err := c.EpochRootExists(ctx, epoch)
		if err != nil {
			return 0, false, err
		}
		if exists {
			maxEpoch = epoch
			found = true
			misses = 0
		} else {
			misses++
		}
	}
	return maxEpoch, found, nil
}

// NextEpochNumber picks the next epoch to mint: one past the highest epoch
// known to either the database or the chain. Chain state wins when the
// database lags, so a number is never reused under a published root.
func (c *Client) NextEpochNumber(ctx context.Context, maxEpochInDB uint64) (uint64, error) {
	chainMax, found, err := c.MaxEpochOnChain(ctx, 1)
	if err != nil {
		return 0, err
	}

	next := maxEpochInDB + 1
	if found && chainMax >= next {
		c.log.Warn("solana: chain has epochs the database does not",
			"chainMax", chainMax, "dbMax", maxEpochInDB)
		next = chainMax + 1
	}
	return next, nil
}

// VerifyTransaction checks that the settlement signature reached finalized
// commitment and did not fail. Implements claim.TxVerifier.
func (c *Client) VerifyTransaction(ctx context.Context, txSig string) error {
	sig, err := solana.SignatureFromBase58(txSig)
	if err != nil {
		return fmt.Errorf("failed to parse transaction signature %q: %w", txSig, err)
	}

	var res *solanarpc.GetSignatureStatusesResult
	err = retry.Do(ctx, c.cfg.Retry, func() error {
		res, err = c.cfg.RPC.GetSignatureStatuses(ctx, true, sig)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to fetch signature status: %w", err)
	}

	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return fmt.Errorf("%w: signature %s unknown to the cluster", ErrTransactionNotFinalized, txSig)
	}

	status := res.Value[0]
	if status.Err != nil {
		return fmt.Errorf("%w: transaction failed on chain: %v", ErrTransactionNotFinalized, status.Err)
	}
	if status.ConfirmationStatus != solanarpc.ConfirmationStatusFinalized {
		return fmt.Errorf("%w: commitment is %s", ErrTransactionNotFinalized, status.ConfirmationStatus)
	}
	return nil
}
