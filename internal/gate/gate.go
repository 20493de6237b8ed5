// Package gate filters inbound commands before they reach any game logic.
// Duplicates and rate-abusive arrivals are dropped silently; ownership and
// session-honesty violations are refused fatally.
package gate

import (
	"time"

	"duskfall/server/internal/proto"
)

// Verdict is the gate's decision for one command.
type Verdict int

const (
	// Accept passes the command through to its handler.
	Accept Verdict = iota
	// Drop discards the command with no reply. Used for duplicates and
	// rate-limit violations so network retries never double-apply.
	Drop
	// Refuse terminates the session after a refusal event. Used for
	// ownership violations, which indicate a bug or a forged client.
	Refuse
)

// minInterval is the fixed per-type minimum inter-arrival table. Types absent
// from the table are not rate limited.
var minInterval = map[proto.CommandType]time.Duration{
	proto.CommandMove:           80 * time.Millisecond,
	proto.CommandMobMove:        80 * time.Millisecond,
	proto.CommandHarvest:        250 * time.Millisecond,
	proto.CommandCombatStart:    500 * time.Millisecond,
	proto.CommandCombatJoin:     250 * time.Millisecond,
	proto.CommandCombatTurnEnd:  150 * time.Millisecond,
	proto.CommandCombatMove:     80 * time.Millisecond,
	proto.CommandCombatCast:     150 * time.Millisecond,
	proto.CommandMapEntities:    500 * time.Millisecond,
	proto.CommandMapResync:      time.Second,
	proto.CommandReplayRequest:  200 * time.Millisecond,
	proto.CommandCombatChecksum: 100 * time.Millisecond,
}

// Identity is the session state the gate validates commands against.
type Identity struct {
	PlayerID string
	MapID    string
}

// State is the per-session bookkeeping the gate owns. It is the only thing
// the gate ever mutates.
type State struct {
	lastSeq     map[proto.CommandType]uint64
	lastArrival map[proto.CommandType]time.Time
}

// NewState returns empty gate bookkeeping for a fresh session.
func NewState() *State {
	return &State{
		lastSeq:     make(map[proto.CommandType]uint64),
		lastArrival: make(map[proto.CommandType]time.Time),
	}
}

// Admit decides a command's fate. On Accept the state records the command's
// id and arrival time; on Drop or Refuse nothing is recorded.
func Admit(state *State, id Identity, cmd proto.Command, now time.Time) (Verdict, string) {
	if cmd.PlayerID != id.PlayerID {
		return Refuse, proto.RejectOwnership
	}
	if reason, ok := honestyViolation(id, cmd); !ok {
		return Refuse, reason
	}

	if cmd.Seq > 0 {
		if last, ok := state.lastSeq[cmd.Type]; ok && cmd.Seq <= last {
			return Drop, ""
		}
	}

	if interval, ok := minInterval[cmd.Type]; ok {
		if last, seen := state.lastArrival[cmd.Type]; seen && now.Sub(last) < interval {
			return Drop, ""
		}
	}

	if cmd.Seq > 0 {
		state.lastSeq[cmd.Type] = cmd.Seq
	}
	state.lastArrival[cmd.Type] = now
	return Accept, ""
}

// honestyViolation checks that commands naming session-level state name it
// truthfully. A map request for a map the player is not on is treated the
// same as an ownership violation.
func honestyViolation(id Identity, cmd proto.Command) (string, bool) {
	switch cmd.Type {
	case proto.CommandMapResync:
		if cmd.MapResync.MapID != id.MapID {
			return proto.RejectStaleState, false
		}
	case proto.CommandMapEntities:
		if cmd.MapEntities.MapID != id.MapID {
			return proto.RejectStaleState, false
		}
	case proto.CommandCombatStart:
		if cmd.CombatStart.MapID != id.MapID {
			return proto.RejectStaleState, false
		}
	}
	return "", true
}
