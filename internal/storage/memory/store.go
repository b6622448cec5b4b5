// Package memory keeps position entities in process memory.
package memory

import (
	"context"
	"sort"
	"sync"

	"positionScope/internal/model"
	"positionScope/internal/position"
)

// Store is an in-memory entity store. Apply swaps every record of a change
// set under one lock.
type Store struct {
	mu        sync.RWMutex
	positions map[string]model.Position
	pools     map[string]model.Pool
	tokens    map[string]model.Token
	accounts  map[string]model.Account
	protocol  *model.Protocol
	snapshots map[string]model.PositionSnapshot
	cursor    *model.Cursor
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		positions: make(map[string]model.Position),
		pools:     make(map[string]model.Pool),
		tokens:    make(map[string]model.Token),
		accounts:  make(map[string]model.Account),
		snapshots: make(map[string]model.PositionSnapshot),
	}
}

// Position returns a copy of the position keyed by token id.
func (s *Store) Position(_ context.Context, id string) (position.Lookup[model.Position], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.positions[id]; ok {
		return position.Found(p.Clone()), nil
	}
	return position.NotFound[model.Position](), nil
}

// Pool returns a copy of the pool at address.
func (s *Store) Pool(_ context.Context, address string) (position.Lookup[model.Pool], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.pools[address]; ok {
		return position.Found(p.Clone()), nil
	}
	return position.NotFound[model.Pool](), nil
}

// Token returns a copy of the token at address.
func (s *Store) Token(_ context.Context, address string) (position.Lookup[model.Token], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tokens[address]; ok {
		return position.Found(t.Clone()), nil
	}
	return position.NotFound[model.Token](), nil
}

// Account returns the account at address.
func (s *Store) Account(_ context.Context, address string) (position.Lookup[model.Account], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.accounts[address]; ok {
		return position.Found(a), nil
	}
	return position.NotFound[model.Account](), nil
}

// Protocol returns the protocol singleton once one has been applied.
func (s *Store) Protocol(_ context.Context) (position.Lookup[model.Protocol], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.protocol != nil {
		return position.Found(*s.protocol), nil
	}
	return position.NotFound[model.Protocol](), nil
}

// Apply stores every record of cs.
func (s *Store) Apply(_ context.Context, cs position.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.positions[cs.Position.ID] = cs.Position.Clone()
	for _, pool := range cs.Pools {
		s.pools[pool.Address] = pool.Clone()
	}
	for _, account := range cs.Accounts {
		s.accounts[account.Address] = account
	}
	if cs.Protocol != nil {
		protocol := *cs.Protocol
		s.protocol = &protocol
	}
	if cs.Snapshot != nil {
		if _, exists := s.snapshots[cs.Snapshot.ID]; !exists {
			s.snapshots[cs.Snapshot.ID] = *cs.Snapshot
		}
	}
	cursor := cs.Cursor
	s.cursor = &cursor
	return nil
}

// UpsertPoolMeta registers a pool or refreshes its metadata, keeping counters.
func (s *Store) UpsertPoolMeta(_ context.Context, pool model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := pool.Clone()
	if existing, ok := s.pools[pool.Address]; ok {
		next.OpenPositionCount = existing.OpenPositionCount
		next.ClosedPositionCount = existing.ClosedPositionCount
		next.PositionCount = existing.PositionCount
	}
	s.pools[pool.Address] = next
	return nil
}

// UpsertToken stores token metadata. A nil price keeps the last known one.
func (s *Store) UpsertToken(_ context.Context, token model.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := token.Clone()
	if existing, ok := s.tokens[token.Address]; ok && next.LastPriceUSD == nil {
		next.LastPriceUSD = existing.Clone().LastPriceUSD
	}
	s.tokens[token.Address] = next
	return nil
}

// Cursor returns the ordinal of the last applied event.
func (s *Store) Cursor(_ context.Context) (model.Cursor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cursor == nil {
		return model.Cursor{}, false, nil
	}
	return *s.cursor, true, nil
}

// Snapshots returns the snapshots of a position in ledger order.
func (s *Store) Snapshots(positionID string) []model.PositionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.PositionSnapshot, 0)
	for _, snap := range s.snapshots {
		if snap.Position == positionID {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a := model.Cursor{BlockNumber: out[i].BlockNumber, LogIndex: out[i].LogIndex}
		b := model.Cursor{BlockNumber: out[j].BlockNumber, LogIndex: out[j].LogIndex}
		return b.After(a)
	})
	return out
}
