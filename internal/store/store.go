// Package store abstracts the player state persistence this core consumes.
// Durable storage lives elsewhere; the core only needs the association
// lookup and a persist call on disconnect.
package store

import "sync"

// PlayerState is the slice of player state the core hands to persistence.
type PlayerState struct {
	PlayerID string
	MapID    string
	CombatID uint64
}

// PlayerStateStore is the external persistence boundary. Persist with
// immediate=true must not be deferred; it is called at minimum on
// disconnect.
type PlayerStateStore interface {
	PlayerCombat(playerID string) (uint64, bool)
	Persist(state PlayerState, immediate bool)
}

// MemoryStore is the in-process implementation used by the server binary and
// the tests.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]PlayerState
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]PlayerState)}
}

// PlayerCombat returns the last persisted combat association for a player.
func (s *MemoryStore) PlayerCombat(playerID string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[playerID]
	if !ok || state.CombatID == 0 {
		return 0, false
	}
	return state.CombatID, true
}

// Persist records the player state. The immediate flag is meaningless for an
// in-memory store but preserved for interface fidelity.
func (s *MemoryStore) Persist(state PlayerState, _ bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.PlayerID] = state
}
