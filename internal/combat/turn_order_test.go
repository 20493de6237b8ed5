package combat

import (
	"testing"

	"duskfall/server/internal/proto"
)

func TestBuildOrderGroupsAlliesWithOwner(t *testing.T) {
	allies := []Actor{
		{ID: "bob/wisp", Kind: ActorAlly, OwnerID: "bob"},
		{ID: "alice/golem", Kind: ActorAlly, OwnerID: "alice"},
	}
	order := buildOrder([]string{"alice", "bob"}, allies, []uint64{10, 11})

	want := []string{"alice", "alice/golem", "bob", "bob/wisp", "mob:10", "mob:11"}
	if len(order) != len(want) {
		t.Fatalf("expected %d actors, got %d", len(want), len(order))
	}
	for i, id := range want {
		if order[i].ID != id {
			t.Fatalf("order[%d] = %s, want %s", i, order[i].ID, id)
		}
	}
}

func TestBuildOrderIsDeterministic(t *testing.T) {
	a := buildOrder([]string{"p1", "p2", "p3"}, nil, []uint64{5, 6})
	b := buildOrder([]string{"p1", "p2", "p3"}, nil, []uint64{5, 6})
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("identical inputs produced differing orders at %d", i)
		}
	}
}

func TestInsertAfterOwnerSkipsEarlierSummons(t *testing.T) {
	order := buildOrder([]string{"alice", "bob"}, []Actor{
		{ID: "alice/wisp", Kind: ActorAlly, OwnerID: "alice"},
	}, nil)

	result, ok := insertAfterOwner(order, "alice", Actor{ID: "alice/golem", Kind: ActorAlly, OwnerID: "alice"})
	if !ok {
		t.Fatalf("expected insertion to succeed")
	}
	if result.position != 2 {
		t.Fatalf("expected insertion at 2 (after earlier summon), got %d", result.position)
	}
	if result.order[2].ID != "alice/golem" {
		t.Fatalf("expected golem at slot 2, got %s", result.order[2].ID)
	}
}

func TestInsertAfterOwnerUnknownOwnerFails(t *testing.T) {
	order := buildOrder([]string{"alice"}, nil, nil)
	if _, ok := insertAfterOwner(order, "mallory", Actor{ID: "mallory/imp", Kind: ActorAlly, OwnerID: "mallory"}); ok {
		t.Fatalf("expected insertion for unknown owner to fail")
	}
}

func TestMobActorIDRoundTrip(t *testing.T) {
	id := MobActorID(12345)
	entityID, ok := MobEntityID(id)
	if !ok || entityID != 12345 {
		t.Fatalf("round trip failed: %s -> %d ok=%v", id, entityID, ok)
	}
	if _, ok := MobEntityID("alice"); ok {
		t.Fatalf("expected player id to not parse as mob actor")
	}
}

func TestStateChecksumIsOrderSensitive(t *testing.T) {
	snap := proto.CombatSnapshotPayload{
		Phase:      "active",
		Round:      2,
		ActiveID:   "alice",
		ActorOrder: []string{"alice", "bob"},
		Actors: []proto.ActorState{
			{ActorID: "alice", Health: 90, Tile: proto.TileVec{X: 1, Y: 2}},
			{ActorID: "bob", Health: 80, Tile: proto.TileVec{X: 3, Y: 4}},
		},
	}
	sum := StateChecksum(snap)
	if sum == "" {
		t.Fatalf("expected non-empty checksum")
	}
	if sum != StateChecksum(snap) {
		t.Fatalf("expected checksum to be deterministic")
	}

	flipped := snap
	flipped.Actors = []proto.ActorState{snap.Actors[1], snap.Actors[0]}
	if StateChecksum(flipped) == sum {
		t.Fatalf("expected actor order to affect the checksum")
	}

	hurt := snap
	hurt.Actors = append([]proto.ActorState(nil), snap.Actors...)
	hurt.Actors[0].Health = 89
	if StateChecksum(hurt) == sum {
		t.Fatalf("expected health to affect the checksum")
	}
}
