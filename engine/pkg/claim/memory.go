package claim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryKey struct {
	userID      string
	epochNumber uint64
}

// MemoryStore is an in-memory Store with the same transition semantics as
// PGStore, for tests and local development.
type MemoryStore struct {
	mu     sync.Mutex
	claims map[memoryKey]*Claim
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		claims: make(map[memoryKey]*Claim),
	}
}

func (s *MemoryStore) Begin(_ context.Context, userID string, epochNumber uint64, amount int64, now time.Time) (*Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey{userID, epochNumber}
	c, ok := s.claims[key]
	if !ok {
		c = &Claim{
			ID:          uuid.New(),
			UserID:      userID,
			EpochNumber: epochNumber,
			Amount:      amount,
			Status:      StatusProcessing,
			StartedAt:   now,
			UpdatedAt:   now,
		}
		s.claims[key] = c
		cp := *c
		return &cp, nil
	}

	switch c.Status {
	case StatusPending:
		c.Status = StatusProcessing
		c.Amount = amount
		c.StartedAt = now
		c.UpdatedAt = now
		cp := *c
		return &cp, nil
	case StatusProcessing:
		return nil, ErrAlreadyInFlight
	case StatusConfirmed:
		return nil, ErrAlreadyConfirmed
	case StatusFailed:
		return nil, ErrClaimFailed
	default:
		return nil, fmt.Errorf("claim has unknown status %q", c.Status)
	}
}

func (s *MemoryStore) Confirm(_ context.Context, userID string, epochNumber uint64, txSig string, now time.Time) (*Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[memoryKey{userID, epochNumber}]
	if !ok {
		return nil, ErrNotFound
	}

	switch c.Status {
	case StatusProcessing:
		c.Status = StatusConfirmed
		c.TxSig = txSig
		c.UpdatedAt = now
		cp := *c
		return &cp, nil
	case StatusPending:
		return nil, ErrLateConfirmation
	case StatusConfirmed:
		return nil, ErrAlreadyConfirmed
	case StatusFailed:
		return nil, ErrClaimFailed
	default:
		return nil, fmt.Errorf("claim has unknown status %q", c.Status)
	}
}

func (s *MemoryStore) Fail(_ context.Context, userID string, epochNumber uint64, reason string, now time.Time) (*Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[memoryKey{userID, epochNumber}]
	if !ok {
		return nil, ErrNotFound
	}

	switch c.Status {
	case StatusPending, StatusProcessing:
		c.Status = StatusFailed
		c.FailReason = reason
		c.UpdatedAt = now
		cp := *c
		return &cp, nil
	case StatusConfirmed:
		return nil, ErrAlreadyConfirmed
	case StatusFailed:
		return nil, ErrClaimFailed
	default:
		return nil, fmt.Errorf("claim has unknown status %q", c.Status)
	}
}

func (s *MemoryStore) Get(_ context.Context, userID string, epochNumber uint64) (*Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[memoryKey{userID, epochNumber}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claims []Claim
	for key, c := range s.claims {
		if key.userID == userID {
			claims = append(claims, *c)
		}
	}
	sort.Slice(claims, func(i, j int) bool {
		return claims[i].EpochNumber > claims[j].EpochNumber
	})
	return claims, nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claims := make([]Claim, 0, len(s.claims))
	for _, c := range s.claims {
		claims = append(claims, *c)
	}
	sort.Slice(claims, func(i, j int) bool {
		if !claims[i].StartedAt.Equal(claims[j].StartedAt) {
			return claims[i].StartedAt.After(claims[j].StartedAt)
		}
		return claims[i].UserID < claims[j].UserID
	})
	return claims, nil
}

func (s *MemoryStore) RevertStale(_ context.Context, olderThan, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reverted int64
	for _, c := range s.claims {
		if c.Status == StatusProcessing && c.StartedAt.Before(olderThan) {
			c.Status = StatusPending
			c.UpdatedAt = now
			reverted++
		}
	}
	return reverted, nil
}
