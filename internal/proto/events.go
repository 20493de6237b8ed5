package proto

// EventType enumerates the server events the core produces.
type EventType string

const (
	EventPlayerLeft        EventType = "playerLeft"
	EventHostChanged       EventType = "hostChanged"
	EventMobMoveStart      EventType = "mobMoveStart"
	EventMobMoveEnd        EventType = "mobMoveEnd"
	EventMobDeath          EventType = "mobDeath"
	EventMobRespawn        EventType = "mobRespawn"
	EventResourceHarvested EventType = "resourceHarvested"
	EventResourceRespawned EventType = "resourceRespawned"
	EventCombatCreated     EventType = "combatCreated"
	EventCombatUpdated     EventType = "combatUpdated"
	EventCombatTurnStarted EventType = "combatTurnStarted"
	EventCombatTurnEnded   EventType = "combatTurnEnded"
	EventCombatEnded       EventType = "combatEnded"
	EventCombatSnapshot    EventType = "combatSnapshot"
	EventRefusal           EventType = "refusal"
	EventHeartbeatAck      EventType = "heartbeatAck"
	EventMapSnapshot       EventType = "mapSnapshot"
)

// Event is a server-to-client broadcast. CombatID/CombatSeq are set only for
// combat-scoped events; EventID is the optional global id clients ack.
type Event struct {
	Ver       int       `json:"ver"`
	Type      EventType `json:"type"`
	EventID   uint64    `json:"eventId,omitempty"`
	CombatID  uint64    `json:"combatId,omitempty"`
	CombatSeq uint64    `json:"combatSeq,omitempty"`
	Payload   any       `json:"payload,omitempty"`
}

// NewEvent builds a non-combat event with the current protocol version.
func NewEvent(t EventType, payload any) Event {
	return Event{Ver: ProtocolVersion, Type: t, Payload: payload}
}

// PlayerLeftPayload announces a departed session.
type PlayerLeftPayload struct {
	PlayerID string `json:"playerId"`
	MapID    string `json:"mapId"`
}

// HostChangedPayload announces host reassignment on a map.
type HostChangedPayload struct {
	MapID  string `json:"mapId"`
	HostID string `json:"hostId"`
}

// MobMovePayloadEvent describes a mob step in progress.
type MobMovePayloadEvent struct {
	EntityID uint64  `json:"entityId"`
	From     TileVec `json:"from"`
	To       TileVec `json:"to"`
	MoveSeq  uint64  `json:"moveSeq,omitempty"`
}

// MobDeathPayloadEvent announces a mob removal from the world.
type MobDeathPayloadEvent struct {
	EntityID uint64 `json:"entityId"`
}

// MobRespawnPayloadEvent announces a freshly respawned group.
type MobRespawnPayloadEvent struct {
	Monsters []MonsterSnapshot `json:"monsters"`
}

// MonsterSnapshot is the wire form of a monster entity.
type MonsterSnapshot struct {
	EntityID     uint64  `json:"entityId"`
	DefinitionID string  `json:"definitionId"`
	Tile         TileVec `json:"tile"`
	Level        int     `json:"level"`
	GroupID      uint64  `json:"groupId,omitempty"`
	InCombat     bool    `json:"inCombat,omitempty"`
}

// ResourceSnapshot is the wire form of a resource node.
type ResourceSnapshot struct {
	EntityID  uint64  `json:"entityId"`
	Kind      string  `json:"kind"`
	Tile      TileVec `json:"tile"`
	OffsetX   float64 `json:"offsetX,omitempty"`
	OffsetY   float64 `json:"offsetY,omitempty"`
	Harvested bool    `json:"harvested,omitempty"`
}

// ResourcePayloadEvent references a resource state flip.
type ResourcePayloadEvent struct {
	EntityID uint64 `json:"entityId"`
}

// CombatRosterPayload is broadcast on creation and on every roster change.
// The actor order is transmitted explicitly so clients never re-derive it.
type CombatRosterPayload struct {
	MapID        string   `json:"mapId"`
	Phase        string   `json:"phase"`
	Participants []string `json:"participants"`
	MobEntityIDs []uint64 `json:"mobEntityIds"`
	ActorOrder   []string `json:"actorOrder,omitempty"`
}

// TurnPayload announces the active actor after a turn transition.
type TurnPayload struct {
	ActorID string `json:"actorId"`
	Round   uint64 `json:"round"`
}

// CombatEndedPayload is visible to every session on the map, participant or
// not, so world mob state can be reconciled.
type CombatEndedPayload struct {
	Reason string `json:"reason"`
}

// ActorState is one entry of a full combat state snapshot.
type ActorState struct {
	ActorID string  `json:"actorId"`
	Health  int     `json:"health"`
	Tile    TileVec `json:"tile"`
}

// CombatSnapshotPayload is the full re-sync pushed on turn transitions and
// checksum mismatches.
type CombatSnapshotPayload struct {
	Phase      string       `json:"phase"`
	Round      uint64       `json:"round"`
	ActorOrder []string     `json:"actorOrder"`
	ActiveID   string       `json:"activeId"`
	Actors     []ActorState `json:"actors"`
}

// RefusalPayload names the reason a session is being terminated.
type RefusalPayload struct {
	Reason string `json:"reason"`
}

// HeartbeatAckPayload echoes timing data back to the client.
type HeartbeatAckPayload struct {
	ServerTime int64 `json:"serverTime"`
	ClientTime int64 `json:"clientTime"`
	RTTMillis  int64 `json:"rtt"`
}

// MapSnapshotPayload answers map entity requests and map resyncs.
type MapSnapshotPayload struct {
	MapID     string             `json:"mapId"`
	Monsters  []MonsterSnapshot  `json:"monsters,omitempty"`
	Resources []ResourceSnapshot `json:"resources,omitempty"`
}
