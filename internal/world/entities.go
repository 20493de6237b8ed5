package world

import (
	"time"

	"duskfall/server/internal/mapcontent"
	"duskfall/server/internal/proto"
)

// MonsterEntity is one roamable, combat-eligible creature instance. Entity
// ids are globally unique and monotonic for the process lifetime.
type MonsterEntity struct {
	ID           uint64
	DefinitionID string
	Tile         proto.TileVec
	Level        int

	GroupID       uint64
	GroupSize     int
	GroupLevelSum int

	SpawnOrigin proto.TileVec
	Template    *mapcontent.RespawnTemplate

	// InCombat detaches the entity from roam/respawn scheduling while its
	// id stays valid for combat references. CombatID names the owner.
	InCombat bool
	CombatID uint64

	moving      bool
	moveTarget  proto.TileVec
	moveSeq     uint64
	roamReadyAt time.Time
}

// Snapshot returns the wire form of the monster.
func (m *MonsterEntity) Snapshot() proto.MonsterSnapshot {
	return proto.MonsterSnapshot{
		EntityID:     m.ID,
		DefinitionID: m.DefinitionID,
		Tile:         m.Tile,
		Level:        m.Level,
		GroupID:      m.GroupID,
		InCombat:     m.InCombat,
	}
}

// ResourceEntity is a harvestable node. Never destroyed; the harvested flag
// flips back on respawn.
type ResourceEntity struct {
	ID        uint64
	Kind      string
	Tile      proto.TileVec
	OffsetX   float64
	OffsetY   float64
	Harvested bool
	Respawn   time.Duration
}

// Snapshot returns the wire form of the resource.
func (r *ResourceEntity) Snapshot() proto.ResourceSnapshot {
	return proto.ResourceSnapshot{
		EntityID:  r.ID,
		Kind:      r.Kind,
		Tile:      r.Tile,
		OffsetX:   r.OffsetX,
		OffsetY:   r.OffsetY,
		Harvested: r.Harvested,
	}
}

// memberSpec records one group member's identity for same-composition
// respawn when no template is attached.
type memberSpec struct {
	definitionID string
	level        int
}

// monsterGroup tracks group metadata and the respawn rule shared by its
// members. A group respawns once its last living member dies.
type monsterGroup struct {
	id       uint64
	origin   proto.TileVec
	template *mapcontent.RespawnTemplate
	members  []memberSpec
	alive    int
}
