package combat

import (
	"fmt"
	"strconv"
	"strings"
)

// ActorKind distinguishes the three roster classes.
type ActorKind int

const (
	ActorParticipant ActorKind = iota
	ActorAlly
	ActorMob
)

// Actor is one slot in the turn order. Mob actors carry their world entity
// id; allies name their owning participant.
type Actor struct {
	ID       string
	Kind     ActorKind
	OwnerID  string
	EntityID uint64
}

const mobActorPrefix = "mob:"

// MobActorID maps a world entity id to its roster actor id.
func MobActorID(entityID uint64) string {
	return fmt.Sprintf("%s%d", mobActorPrefix, entityID)
}

// MobEntityID inverts MobActorID.
func MobEntityID(actorID string) (uint64, bool) {
	if !strings.HasPrefix(actorID, mobActorPrefix) {
		return 0, false
	}
	id, err := strconv.ParseUint(actorID[len(mobActorPrefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// summonAllyID recognizes summoning abilities ("summon:<name>") and derives
// a deterministic ally actor id for the caster.
func summonAllyID(abilityID, ownerID string) (string, bool) {
	name, ok := strings.CutPrefix(abilityID, "summon:")
	if !ok || name == "" {
		return "", false
	}
	return ownerID + "/" + name, true
}

// buildOrder computes the deterministic actor cycle: participants in join
// order, each owner's allies immediately after it in summon order, then mobs
// in spawn order. Identical inputs always produce identical output, so every
// client resolves active-actor indices consistently.
func buildOrder(participants []string, allies []Actor, mobs []uint64) []Actor {
	order := make([]Actor, 0, len(participants)+len(allies)+len(mobs))
	for _, pid := range participants {
		order = append(order, Actor{ID: pid, Kind: ActorParticipant})
		for _, ally := range allies {
			if ally.OwnerID == pid {
				order = append(order, ally)
			}
		}
	}
	for _, entityID := range mobs {
		order = append(order, Actor{ID: MobActorID(entityID), Kind: ActorMob, EntityID: entityID})
	}
	return order
}

type insertion struct {
	order    []Actor
	position int
}

// insertAfterOwner places an ally directly after its owner's block: after
// the owner and after any allies the owner summoned earlier.
func insertAfterOwner(order []Actor, ownerID string, ally Actor) (insertion, bool) {
	ownerIdx := -1
	for i, actor := range order {
		if actor.Kind == ActorParticipant && actor.ID == ownerID {
			ownerIdx = i
			break
		}
	}
	if ownerIdx < 0 {
		return insertion{}, false
	}
	pos := ownerIdx + 1
	for pos < len(order) && order[pos].Kind == ActorAlly && order[pos].OwnerID == ownerID {
		pos++
	}
	out := make([]Actor, 0, len(order)+1)
	out = append(out, order[:pos]...)
	out = append(out, ally)
	out = append(out, order[pos:]...)
	return insertion{order: out, position: pos}, true
}
