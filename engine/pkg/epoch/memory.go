package epoch

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and local development.
// It enforces the same commit guard and uniqueness rules as the Postgres
// store.
type MemoryStore struct {
	mu     sync.Mutex
	epochs map[uint64]*Epoch
	leaves map[uint64][]LeafEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		epochs: make(map[uint64]*Epoch),
		leaves: make(map[uint64][]LeafEntry),
	}
}

func (s *MemoryStore) InsertEpoch(_ context.Context, ep *Epoch, leaves []LeafEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.epochs[ep.Number]; ok {
		return fmt.Errorf("%w: epoch %d", ErrEpochAlreadyCommitted, ep.Number)
	}
	for _, existing := range s.epochs {
		if existing.WeekKey == ep.WeekKey && existing.Version == ep.Version {
			return fmt.Errorf("%w: weekKey=%s version=%d", ErrEpochAlreadyCommitted, ep.WeekKey, ep.Version)
		}
	}
	subjects := make(map[string]struct{}, len(leaves))
	for _, leaf := range leaves {
		if _, ok := subjects[leaf.SubjectKey]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateSubject, leaf.SubjectKey)
		}
		subjects[leaf.SubjectKey] = struct{}{}
	}

	cp := *ep
	s.epochs[ep.Number] = &cp
	s.leaves[ep.Number] = append([]LeafEntry(nil), leaves...)
	return nil
}

func (s *MemoryStore) GetEpoch(_ context.Context, number uint64) (*Epoch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.epochs[number]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ep
	return &cp, nil
}

func (s *MemoryStore) LatestEpoch(_ context.Context) (*Epoch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *Epoch
	for _, ep := range s.epochs {
		if latest == nil || ep.Number > latest.Number {
			latest = ep
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) LeafByUser(_ context.Context, number uint64, userID string) (*LeafEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, leaf := range s.leaves[number] {
		if leaf.UserID == userID {
			cp := leaf
			cp.Proof = append([]string(nil), leaf.Proof...)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) MarkPublished(_ context.Context, number uint64, publishSig string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.epochs[number]
	if !ok {
		return ErrNotFound
	}
	if ep.SetOnChain {
		return fmt.Errorf("epoch %d is already marked on-chain (sig %s)", number, ep.PublishSig)
	}
	ep.SetOnChain = true
	ep.PublishSig = publishSig
	return nil
}

// Leaves returns the frozen leaf table of an epoch, in index order.
func (s *MemoryStore) Leaves(number uint64) []LeafEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LeafEntry(nil), s.leaves[number]...)
}
