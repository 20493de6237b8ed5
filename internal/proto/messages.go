package proto

import (
	"encoding/json"
)

// ProtocolVersion is stamped on every message crossing the wire.
const ProtocolVersion = 1

// CommandType enumerates the client commands the core consumes.
type CommandType string

const (
	CommandAck            CommandType = "ack"
	CommandReplayRequest  CommandType = "replayRequest"
	CommandMove           CommandType = "move"
	CommandMapEntities    CommandType = "mapEntities"
	CommandMobMove        CommandType = "mobMove"
	CommandMobDeath       CommandType = "mobDeath"
	CommandCombatStart    CommandType = "combatStart"
	CommandCombatJoin     CommandType = "combatJoin"
	CommandCombatReady    CommandType = "combatReady"
	CommandCombatTurnEnd  CommandType = "combatTurnEnd"
	CommandCombatEnd      CommandType = "combatEnd"
	CommandCombatMove     CommandType = "combatMove"
	CommandCombatCast     CommandType = "combatCast"
	CommandCombatDamage   CommandType = "combatDamage"
	CommandCombatChecksum CommandType = "combatChecksum"
	CommandHarvest        CommandType = "harvest"
	CommandMapResync      CommandType = "mapResync"
	CommandHeartbeat      CommandType = "heartbeat"
)

// Reject reasons returned by DecodeCommand and the command gate.
const (
	RejectUnknownType    = "unknownType"
	RejectInvalidPayload = "invalidPayload"
	RejectOwnership      = "ownership"
	RejectStaleState     = "staleState"
)

// TileVec addresses a tile on the map grid.
type TileVec struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Add returns the component-wise sum of two tile vectors.
func (t TileVec) Add(o TileVec) TileVec { return TileVec{X: t.X + o.X, Y: t.Y + o.Y} }

// IsUnitStep reports whether the vector is a single orthogonal step.
func (t TileVec) IsUnitStep() bool {
	return (t.X == 0 && (t.Y == 1 || t.Y == -1)) || (t.Y == 0 && (t.X == 1 || t.X == -1))
}

// MaxMobPathSteps caps host-driven mob movement paths.
const MaxMobPathSteps = 24

// AckPayload acknowledges the most recent global event id seen by the client.
type AckPayload struct {
	EventID uint64 `json:"eventId"`
}

// ReplayRequestPayload asks for the combat event suffix starting at FromSeq.
type ReplayRequestPayload struct {
	CombatID uint64 `json:"combatId"`
	FromSeq  uint64 `json:"fromSeq"`
}

// MovePayload carries a player's tile destination.
type MovePayload struct {
	To TileVec `json:"to"`
}

// MapEntitiesPayload requests the monster/resource listing for a map.
type MapEntitiesPayload struct {
	MapID string `json:"mapId"`
}

// MobMovePayload is a host-driven mob path. Steps are tile deltas that must
// each be a single orthogonal move; MoveSeq rejects stale or duplicated paths.
type MobMovePayload struct {
	EntityID uint64    `json:"entityId"`
	Steps    []TileVec `json:"steps"`
	MoveSeq  uint64    `json:"moveSeq"`
}

// MobDeathPayload reports a world mob death observed by the host.
type MobDeathPayload struct {
	EntityID uint64 `json:"entityId"`
}

// CombatStartPayload forms a combat roster from players and world mobs.
type CombatStartPayload struct {
	MapID        string   `json:"mapId"`
	Participants []string `json:"participants"`
	MobEntityIDs []uint64 `json:"mobEntityIds"`
}

// CombatJoinPayload adds a participant to an assembling combat.
type CombatJoinPayload struct {
	CombatID uint64 `json:"combatId"`
}

// CombatReadyPayload signals readiness during assembly.
type CombatReadyPayload struct {
	CombatID uint64 `json:"combatId"`
}

// CombatTurnEndPayload ends the issuing actor's turn.
type CombatTurnEndPayload struct {
	CombatID uint64 `json:"combatId"`
}

// CombatEndPayload abandons an active combat (flee).
type CombatEndPayload struct {
	CombatID uint64 `json:"combatId"`
}

// CombatMovePayload repositions the active actor on the combat grid.
type CombatMovePayload struct {
	CombatID uint64  `json:"combatId"`
	To       TileVec `json:"to"`
}

// CombatCastPayload triggers an ability against a target actor.
type CombatCastPayload struct {
	CombatID  uint64 `json:"combatId"`
	AbilityID string `json:"abilityId"`
	TargetID  string `json:"targetId"`
}

// CombatDamagePayload reports resolved damage for an actor.
type CombatDamagePayload struct {
	CombatID uint64 `json:"combatId"`
	TargetID string `json:"targetId"`
	Amount   int    `json:"amount"`
}

// CombatChecksumPayload carries the client's end-of-turn state checksum.
type CombatChecksumPayload struct {
	CombatID uint64 `json:"combatId"`
	Turn     uint64 `json:"turn"`
	Checksum string `json:"checksum"`
}

// HarvestPayload harvests a resource node.
type HarvestPayload struct {
	EntityID uint64 `json:"entityId"`
}

// MapResyncPayload requests a full map snapshot. MapID must name the map the
// player is actually on; the gate treats a mismatch as a forged client.
type MapResyncPayload struct {
	MapID string `json:"mapId"`
}

// HeartbeatPayload refreshes connectivity metadata.
type HeartbeatPayload struct {
	SentAt int64 `json:"sentAt"`
}

// Command is a decoded, shape-validated client command. Exactly one payload
// pointer is non-nil, matching Type.
type Command struct {
	Type     CommandType `json:"type"`
	Seq      uint64      `json:"seq"`
	PlayerID string      `json:"playerId"`

	Ack            *AckPayload            `json:"ack,omitempty"`
	Replay         *ReplayRequestPayload  `json:"replay,omitempty"`
	Move           *MovePayload           `json:"move,omitempty"`
	MapEntities    *MapEntitiesPayload    `json:"mapEntities,omitempty"`
	MobMove        *MobMovePayload        `json:"mobMove,omitempty"`
	MobDeath       *MobDeathPayload       `json:"mobDeath,omitempty"`
	CombatStart    *CombatStartPayload    `json:"combatStart,omitempty"`
	CombatJoin     *CombatJoinPayload     `json:"combatJoin,omitempty"`
	CombatReady    *CombatReadyPayload    `json:"combatReady,omitempty"`
	CombatTurnEnd  *CombatTurnEndPayload  `json:"combatTurnEnd,omitempty"`
	CombatEnd      *CombatEndPayload      `json:"combatEnd,omitempty"`
	CombatMove     *CombatMovePayload     `json:"combatMove,omitempty"`
	CombatCast     *CombatCastPayload     `json:"combatCast,omitempty"`
	CombatDamage   *CombatDamagePayload   `json:"combatDamage,omitempty"`
	CombatChecksum *CombatChecksumPayload `json:"combatChecksum,omitempty"`
	Harvest        *HarvestPayload        `json:"harvest,omitempty"`
	MapResync      *MapResyncPayload      `json:"mapResync,omitempty"`
	Heartbeat      *HeartbeatPayload      `json:"heartbeat,omitempty"`
}

type commandEnvelope struct {
	Ver      int             `json:"ver,omitempty"`
	Type     CommandType     `json:"type"`
	Seq      uint64          `json:"seq"`
	PlayerID string          `json:"playerId"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// DecodeCommand parses raw wire bytes into a typed command. It is the single
// decode-and-validate step: handlers downstream never re-check basic shape
// invariants. On failure it returns false plus a reject reason.
func DecodeCommand(raw []byte) (Command, bool, string) {
	var zero Command

	var env commandEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return zero, false, RejectInvalidPayload
	}
	if env.Type == "" || env.PlayerID == "" {
		return zero, false, RejectInvalidPayload
	}

	cmd := Command{Type: env.Type, Seq: env.Seq, PlayerID: env.PlayerID}

	decode := func(dst any) bool {
		if len(env.Payload) == 0 {
			return false
		}
		return json.Unmarshal(env.Payload, dst) == nil
	}

	switch env.Type {
	case CommandAck:
		p := &AckPayload{}
		if !decode(p) {
			return zero, false, RejectInvalidPayload
		}
		cmd.Ack = p
	case CommandReplayRequest:
		p := &ReplayRequestPayload{}
		if !decode(p) || p.CombatID == 0 {
			return zero, false, RejectInvalidPayload
		}
		cmd.Replay = p
	case CommandMove:
		p := &MovePayload{}
		if !decode(p) {
			return zero, false, RejectInvalidPayload
		}
		cmd.Move = p
	case CommandMapEntities:
		p := &MapEntitiesPayload{}
		if !decode(p) || p.MapID == "" {
			return zero, false, RejectInvalidPayload
		}
		cmd.MapEntities = p
	case CommandMobMove:
		p := &MobMovePayload{}
		if !decode(p) || p.EntityID == 0 || len(p.Steps) == 0 || len(p.Steps) > MaxMobPathSteps {
			return zero, false, RejectInvalidPayload
		}
		for _, step := range p.Steps {
			if !step.IsUnitStep() {
				return zero, false, RejectInvalidPayload
			}
		}
		cmd.MobMove = p
	case CommandMobDeath:
		p := &MobDeathPayload{}
		if !decode(p) || p.EntityID == 0 {
			return zero, false, RejectInvalidPayload
		}
		cmd.MobDeath = p
	case CommandCombatStart:
		p := &CombatStartPayload{}
		if !decode(p) || p.MapID == "" || len(p.Participants) == 0 {
			return zero, false, RejectInvalidPayload
		}
		cmd.CombatStart = p
	case CommandCombatJoin:
		p := &CombatJoinPayload{}
		if !decode(p) || p.CombatID == 0 {
			return zero, false, RejectInvalidPayload
		}
		cmd.CombatJoin = p
	case CommandCombatReady:
		p := &CombatReadyPayload{}
		if !decode(p) || p.CombatID == 0 {
			return zero, false, RejectInvalidPayload
		}
		cmd.CombatReady = p
	case CommandCombatTurnEnd:
		p := &CombatTurnEndPayload{}
		if !decode(p) || p.CombatID == 0 {
			return zero, false, RejectInvalidPayload
		}
		cmd.CombatTurnEnd = p
	case CommandCombatEnd:
		p := &CombatEndPayload{}
		if !decode(p) || p.CombatID == 0 {
			return zero, false, RejectInvalidPayload
		}
		cmd.CombatEnd = p
	case CommandCombatMove:
		p := &CombatMovePayload{}
		if !decode(p) || p.CombatID == 0 {
			return zero, false, RejectInvalidPayload
		}
		cmd.CombatMove = p
	case CommandCombatCast:
		p := &CombatCastPayload{}
		if !decode(p) || p.CombatID == 0 || p.AbilityID == "" || p.TargetID == "" {
			return zero, false, RejectInvalidPayload
		}
		cmd.CombatCast = p
	case CommandCombatDamage:
		p := &CombatDamagePayload{}
		if !decode(p) || p.CombatID == 0 || p.TargetID == "" || p.Amount < 0 {
			return zero, false, RejectInvalidPayload
		}
		cmd.CombatDamage = p
	case CommandCombatChecksum:
		p := &CombatChecksumPayload{}
		if !decode(p) || p.CombatID == 0 || p.Checksum == "" {
			return zero, false, RejectInvalidPayload
		}
		cmd.CombatChecksum = p
	case CommandHarvest:
		p := &HarvestPayload{}
		if !decode(p) || p.EntityID == 0 {
			return zero, false, RejectInvalidPayload
		}
		cmd.Harvest = p
	case CommandMapResync:
		p := &MapResyncPayload{}
		if !decode(p) || p.MapID == "" {
			return zero, false, RejectInvalidPayload
		}
		cmd.MapResync = p
	case CommandHeartbeat:
		p := &HeartbeatPayload{}
		if !decode(p) {
			return zero, false, RejectInvalidPayload
		}
		cmd.Heartbeat = p
	default:
		return zero, false, RejectUnknownType
	}

	return cmd, true, ""
}
