// Package referral computes referrer reward shares by walking the referral
// graph upward from each earner.
package referral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xesslabs/ledger/engine/pkg/epoch"
)

// Referrer is one edge target in the referral graph.
type Referrer struct {
	UserID string
	// Wallet is the referrer's linked wallet address, empty when the
	// referrer never linked one.
	Wallet string
}

// EdgeSource answers "who referred this user". A user with no referrer
// returns (nil, nil).
type EdgeSource interface {
	ReferrerOf(ctx context.Context, userID string) (*Referrer, error)
}

// DefaultShareBps is the level-1 referrer's share of the earner's reward,
// in basis points.
const DefaultShareBps = 500

// ResolverConfig holds the resolver dependencies.
type ResolverConfig struct {
	Logger *slog.Logger
	Edges  EdgeSource

	// ShareBps[i] is the share for level i+1 above the earner. Defaults
	// to one level at DefaultShareBps. len(ShareBps) bounds the walk, so
	// a cyclic or corrupted edge chain can never recurse past it.
	ShareBps []int64
}

func (cfg *ResolverConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Edges == nil {
		return errors.New("edge source is required")
	}
	if len(cfg.ShareBps) == 0 {
		cfg.ShareBps = []int64{DefaultShareBps}
	}
	for i, bps := range cfg.ShareBps {
		if bps <= 0 || bps > 10_000 {
			return fmt.Errorf("share for level %d must be in (0, 10000] bps, got %d", i+1, bps)
		}
	}
	return nil
}

// Resolver walks the referral graph and emits referrer rewards derived
// from earner rewards.
type Resolver struct {
	log *slog.Logger
	cfg ResolverConfig
}

func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Resolve returns the referral rewards earned on top of the given base
// rewards. For each earner it walks up to len(ShareBps) levels; each level
// receives its basis-point share of the earner's amount, floored. A
// referrer appearing above multiple earners accrues one reward per earner
// (the epoch builder aggregates them later). Referrers without a linked
// wallet are skipped with a warning; their level still counts.
func (r *Resolver) Resolve(ctx context.Context, base []epoch.Reward) ([]epoch.Reward, error) {
	var out []epoch.Reward

	for _, earner := range base {
		current := earner.UserID
		seen := map[string]bool{earner.UserID: true}

		for level, bps := range r.cfg.ShareBps {
			ref, err := r.cfg.Edges.ReferrerOf(ctx, current)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve referrer of %s: %w", current, err)
			}
			if ref == nil {
				break
			}
			if seen[ref.UserID] {
				r.log.Warn("referral: cycle in edge chain, stopping walk",
					"earner", earner.UserID, "repeated", ref.UserID, "level", level+1)
				break
			}
			seen[ref.UserID] = true

			share := earner.Amount * bps / 10_000
			if share > 0 {
				if ref.Wallet == "" {
					r.log.Warn("referral: referrer has no linked wallet, skipping share",
						"referrer", ref.UserID, "earner", earner.UserID, "level", level+1)
				} else {
					out = append(out, epoch.Reward{
						UserID:     ref.UserID,
						SubjectKey: ref.Wallet,
						Amount:     share,
					})
				}
			}
			current = ref.UserID
		}
	}

	return out, nil
}
