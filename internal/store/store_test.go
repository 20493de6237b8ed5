package store

import "testing"

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()

	if _, ok := s.PlayerCombat("alice"); ok {
		t.Fatalf("expected unknown player to have no combat")
	}

	s.Persist(PlayerState{PlayerID: "alice", MapID: "meadow", CombatID: 7}, true)
	combatID, ok := s.PlayerCombat("alice")
	if !ok || combatID != 7 {
		t.Fatalf("expected combat 7 for alice, got %d ok=%v", combatID, ok)
	}

	// Persisting without a combat clears the association.
	s.Persist(PlayerState{PlayerID: "alice", MapID: "meadow"}, false)
	if _, ok := s.PlayerCombat("alice"); ok {
		t.Fatalf("expected cleared combat association")
	}
}
