package mapcontent

import "duskfall/server/internal/proto"

func tileAt(x, y int) *proto.TileVec { return &proto.TileVec{X: x, Y: y} }

// BuiltinContent resolves the maps compiled into the server binary. Map file
// parsing belongs to the content pipeline; these built-ins keep the server
// and the tests runnable without it.
func BuiltinContent(mapID string) (Content, bool) {
	switch mapID {
	case "meadow":
		return Content{
			ID:          "meadow",
			Width:       64,
			Height:      64,
			PlayableMin: proto.TileVec{X: 2, Y: 2},
			PlayableMax: proto.TileVec{X: 61, Y: 61},
			TileDefs: []TileDef{
				{ID: "grass"},
				{ID: "boulder", Collision: true},
			},
			Layers: []TileLayer{
				{Name: "terrain", Tiles: []TileRef{
					{Tile: proto.TileVec{X: 10, Y: 10}, DefID: "boulder"},
					{Tile: proto.TileVec{X: 11, Y: 10}, DefID: "boulder"},
					{Tile: proto.TileVec{X: 40, Y: 22}, DefID: "boulder"},
				}},
			},
			MonsterSpawns: []MonsterSpawn{
				{Tile: tileAt(20, 20), Template: &RespawnTemplate{
					Pool:         []string{"wolf", "boar"},
					GroupSizeMin: 2,
					GroupSizeMax: 4,
					ForceMixed:   true,
				}},
				{CenterOffset: tileAt(8, -5), DefinitionID: "slime", Count: 3},
			},
			ResourceSpawns: []ResourceSpawn{
				{Kind: "tree", Tile: proto.TileVec{X: 15, Y: 30}},
				{Kind: "tree", Tile: proto.TileVec{X: 17, Y: 31}, OffsetX: 0.5},
				{Kind: "rock", Tile: proto.TileVec{X: 44, Y: 12}},
				{Kind: "herb", Tile: proto.TileVec{X: 30, Y: 48}},
			},
		}, true
	case "cavern":
		return Content{
			ID:                 "cavern",
			Width:              48,
			Height:             48,
			PlayableMin:        proto.TileVec{X: 1, Y: 1},
			PlayableMax:        proto.TileVec{X: 46, Y: 46},
			CollisionLayerName: "walls",
			TileDefs: []TileDef{
				{ID: "floor"},
				{ID: "wall", Collision: true},
			},
			Layers: []TileLayer{
				{Name: "walls", Tiles: []TileRef{
					{Tile: proto.TileVec{X: 24, Y: 8}, DefID: "floor"},
					{Tile: proto.TileVec{X: 24, Y: 9}, DefID: "floor"},
				}},
			},
			Objects: []ObjectMarker{
				{Tile: proto.TileVec{X: 12, Y: 12}, Collision: true},
			},
			MonsterSpawns: []MonsterSpawn{
				{Tile: tileAt(30, 30), Template: &RespawnTemplate{
					Pool:         []string{"bat", "spider", "rat"},
					GroupSizeMin: 3,
					GroupSizeMax: 6,
				}},
			},
			ResourceSpawns: []ResourceSpawn{
				{Kind: "rock", Tile: proto.TileVec{X: 8, Y: 40}},
				{Kind: "rock", Tile: proto.TileVec{X: 9, Y: 40}},
			},
		}, true
	}
	return Content{}, false
}

// builtinLevels is the level band per definition: min level and roll spread.
var builtinLevels = map[string][2]int{
	"wolf":   {3, 3},
	"boar":   {2, 3},
	"slime":  {1, 2},
	"bat":    {4, 2},
	"spider": {5, 3},
	"rat":    {1, 1},
}

// BuiltinLevelRoller rolls levels for the built-in definitions. The rng is
// captured so world initialization stays seed-deterministic.
func BuiltinLevelRoller(intn func(int) int) LevelRoller {
	return func(definitionID string) int {
		band, ok := builtinLevels[definitionID]
		if !ok {
			return 1
		}
		return band[0] + intn(band[1])
	}
}
