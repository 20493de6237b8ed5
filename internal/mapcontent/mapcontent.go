// Package mapcontent derives immutable runtime data from static map content:
// dimensions, playable bounds, the collision tile set, and the initial
// monster/resource seed lists. It has no timers and no mutable state; the
// outputs seed the world scheduler's per-map collections.
package mapcontent

import (
	"math/rand"

	"duskfall/server/internal/proto"
)

// Sanitization limits applied to derived entity lists.
const (
	MaxMonstersPerMap  = 300
	MaxResourcesPerMap = 400
	MaxGroupSize       = 12
	MaxPoolSize        = 12
)

// LevelRoller rolls a level for a monster definition id. Injected so content
// stays decoupled from stat tables.
type LevelRoller func(definitionID string) int

// TileRef places a tile definition on a layer.
type TileRef struct {
	Tile  proto.TileVec
	DefID string
}

// TileLayer is one named layer of placed tiles.
type TileLayer struct {
	Name  string
	Tiles []TileRef
}

// TileDef is a source tile definition; Collision marks attached geometry.
type TileDef struct {
	ID        string
	Collision bool
}

// ObjectMarker is an explicitly placed map object.
type ObjectMarker struct {
	Tile      proto.TileVec
	Collision bool
}

// RespawnTemplate re-rolls a monster group's composition after death.
type RespawnTemplate struct {
	Pool         []string
	GroupSizeMin int
	GroupSizeMax int
	ForceMixed   bool
}

// MonsterSpawn is a declarative per-map monster spawn descriptor. Placement
// is either a fixed tile or an offset from the map center. Composition is
// either pool-based (Template) or count-based (DefinitionID×Count).
type MonsterSpawn struct {
	Tile         *proto.TileVec
	CenterOffset *proto.TileVec

	DefinitionID string
	Count        int
	Template     *RespawnTemplate
}

// ResourceSpawn is a declarative resource node descriptor.
type ResourceSpawn struct {
	Kind    string
	Tile    proto.TileVec
	OffsetX float64
	OffsetY float64
}

// Content is the static map content this package consumes. How it is parsed
// from map files is out of scope; only the derived data matters here.
type Content struct {
	ID                 string
	Width              int
	Height             int
	PlayableMin        proto.TileVec
	PlayableMax        proto.TileVec
	CollisionLayerName string
	Layers             []TileLayer
	TileDefs           []TileDef
	Objects            []ObjectMarker
	MonsterSpawns      []MonsterSpawn
	ResourceSpawns     []ResourceSpawn
}

// Bounds captures map dimensions and the playable rectangle.
type Bounds struct {
	Width       int
	Height      int
	PlayableMin proto.TileVec
	PlayableMax proto.TileVec
}

// MonsterSeed is one monster entity to create at map init or respawn.
// Members of one group share a GroupKey, the leader's level, and the
// spawn-origin tile used for respawn placement.
type MonsterSeed struct {
	DefinitionID string
	Tile         proto.TileVec
	Level        int
	SpawnOrigin  proto.TileVec
	Template     *RespawnTemplate
}

// ResourceSeed is one resource node to create at map init.
type ResourceSeed struct {
	Kind    string
	Tile    proto.TileVec
	OffsetX float64
	OffsetY float64
}

// Derived is the immutable output of Initialize.
type Derived struct {
	Bounds         Bounds
	CollisionTiles map[proto.TileVec]struct{}
	// MonsterGroups preserves group membership: one inner slice per group.
	MonsterGroups [][]MonsterSeed
	Resources     []ResourceSeed
}

// Initialize is a pure function of static content plus the injected rng and
// level roller. Called once per map on first need.
func Initialize(content Content, rng *rand.Rand, roll LevelRoller) Derived {
	derived := Derived{
		Bounds: Bounds{
			Width:       content.Width,
			Height:      content.Height,
			PlayableMin: content.PlayableMin,
			PlayableMax: content.PlayableMax,
		},
		CollisionTiles: collisionTiles(content),
	}

	total := 0
	for _, spawn := range content.MonsterSpawns {
		group := rollSpawn(content, spawn, rng, roll)
		if len(group) == 0 {
			continue
		}
		if total+len(group) > MaxMonstersPerMap {
			break
		}
		total += len(group)
		derived.MonsterGroups = append(derived.MonsterGroups, group)
	}

	for _, spawn := range content.ResourceSpawns {
		if len(derived.Resources) >= MaxResourcesPerMap {
			break
		}
		derived.Resources = append(derived.Resources, ResourceSeed{
			Kind:    spawn.Kind,
			Tile:    spawn.Tile,
			OffsetX: spawn.OffsetX,
			OffsetY: spawn.OffsetY,
		})
	}

	return derived
}

// collisionTiles merges the three collision sources: the named collision
// layer, tile definitions carrying collision geometry, and object markers.
func collisionTiles(content Content) map[proto.TileVec]struct{} {
	solidDefs := make(map[string]struct{})
	for _, def := range content.TileDefs {
		if def.Collision {
			solidDefs[def.ID] = struct{}{}
		}
	}

	tiles := make(map[proto.TileVec]struct{})
	for _, layer := range content.Layers {
		named := content.CollisionLayerName != "" && layer.Name == content.CollisionLayerName
		for _, ref := range layer.Tiles {
			if named {
				tiles[ref.Tile] = struct{}{}
				continue
			}
			if _, solid := solidDefs[ref.DefID]; solid {
				tiles[ref.Tile] = struct{}{}
			}
		}
	}
	for _, obj := range content.Objects {
		if obj.Collision {
			tiles[obj.Tile] = struct{}{}
		}
	}
	return tiles
}

func rollSpawn(content Content, spawn MonsterSpawn, rng *rand.Rand, roll LevelRoller) []MonsterSeed {
	origin := proto.TileVec{X: content.Width / 2, Y: content.Height / 2}
	switch {
	case spawn.Tile != nil:
		origin = *spawn.Tile
	case spawn.CenterOffset != nil:
		origin = origin.Add(*spawn.CenterOffset)
	}

	if spawn.Template != nil {
		return RollGroup(*spawn.Template, origin, rng, roll)
	}

	count := spawn.Count
	if count < 1 {
		count = 1
	}
	if count > MaxGroupSize {
		count = MaxGroupSize
	}
	if spawn.DefinitionID == "" {
		return nil
	}
	level := roll(spawn.DefinitionID)
	group := make([]MonsterSeed, 0, count)
	for i := 0; i < count; i++ {
		group = append(group, MonsterSeed{
			DefinitionID: spawn.DefinitionID,
			Tile:         origin,
			Level:        level,
			SpawnOrigin:  origin,
		})
	}
	return group
}

// RollGroup re-rolls a group composition from a respawn template. The leader
// definition is chosen uniformly from the pool; when ForceMixed is set and
// the pool allows it, the second member is forced to differ from the leader.
// Every member shares the leader's rolled level. The same routine serves map
// init and the scheduler's respawn path so compositions stay consistent.
func RollGroup(tpl RespawnTemplate, origin proto.TileVec, rng *rand.Rand, roll LevelRoller) []MonsterSeed {
	pool := tpl.Pool
	if len(pool) == 0 {
		return nil
	}
	if len(pool) > MaxPoolSize {
		pool = pool[:MaxPoolSize]
	}

	size := tpl.GroupSizeMin
	if tpl.GroupSizeMax > tpl.GroupSizeMin {
		size = tpl.GroupSizeMin + rng.Intn(tpl.GroupSizeMax-tpl.GroupSizeMin+1)
	}
	if size < 1 {
		size = 1
	}
	if size > MaxGroupSize {
		size = MaxGroupSize
	}

	leader := pool[rng.Intn(len(pool))]
	level := roll(leader)
	tplCopy := tpl
	tplCopy.Pool = append([]string(nil), pool...)

	group := make([]MonsterSeed, 0, size)
	group = append(group, MonsterSeed{
		DefinitionID: leader,
		Tile:         origin,
		Level:        level,
		SpawnOrigin:  origin,
		Template:     &tplCopy,
	})
	for i := 1; i < size; i++ {
		def := pool[rng.Intn(len(pool))]
		if i == 1 && tpl.ForceMixed && len(pool) > 1 {
			for def == leader {
				def = pool[rng.Intn(len(pool))]
			}
		}
		group = append(group, MonsterSeed{
			DefinitionID: def,
			Tile:         origin,
			Level:        level,
			SpawnOrigin:  origin,
			Template:     &tplCopy,
		})
	}
	return group
}
