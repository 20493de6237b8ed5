// Package combat implements the turn-based combat lifecycle: roster
// assembly, turn progression, disconnect grace, and finalization. One
// Manager serves one map and runs entirely on that map's task loop.
package combat

import (
	"time"

	"go.uber.org/zap"

	"duskfall/server/internal/proto"
	"duskfall/server/internal/sequencer"
)

// Phase is the linear combat lifecycle state. No transition leaves ended.
type Phase string

const (
	PhaseInvite     Phase = "invite"
	PhaseAssembling Phase = "assembling"
	PhaseActive     Phase = "active"
	PhaseEnded      Phase = "ended"
)

// Finalization reasons.
const (
	ReasonVictory    = "victory"
	ReasonDefeat     = "defeat"
	ReasonFled       = "fled"
	ReasonDisconnect = "disconnect"
)

// Timer purposes keyed on the combat id.
const (
	purposeGrace       = "combatGrace"
	purposeTurnTimeout = "combatTurnTimeout"
	purposeMobTurn     = "combatMobTurn"
	purposeLogRelease  = "combatLogRelease"
)

// Scheduler registers serialized callbacks keyed on (id, purpose); a new
// schedule for an occupied key replaces the old task. Implemented by the
// world map loop.
type Scheduler interface {
	Schedule(id uint64, purpose string, d time.Duration, fn func())
	CancelTimer(id uint64, purpose string) bool
}

// WorldHooks is the explicit hand-off API with the world entity scheduler.
type WorldHooks interface {
	DetachForCombat(entityIDs []uint64, combatID uint64) bool
	ReleaseFromCombat(entityIDs []uint64)
	KillMonster(entityID uint64)
	MonsterLevel(entityID uint64) int
}

// Broadcaster fans a sequenced event out to every session on the map.
type Broadcaster interface {
	BroadcastMap(mapID string, ev proto.Event)
}

// Config captures combat timing knobs with normalized defaults.
type Config struct {
	GraceDelay   time.Duration
	TurnTimeout  time.Duration
	MobTurnDelay time.Duration
	LogRetention time.Duration
	BaseHealth   int
}

// DefaultConfig returns the production combat timings.
func DefaultConfig() Config {
	return Config{
		GraceDelay:   60 * time.Second,
		TurnTimeout:  90 * time.Second,
		MobTurnDelay: 1500 * time.Millisecond,
		LogRetention: time.Minute,
		BaseHealth:   100,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.GraceDelay <= 0 {
		c.GraceDelay = def.GraceDelay
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = def.TurnTimeout
	}
	if c.MobTurnDelay <= 0 {
		c.MobTurnDelay = def.MobTurnDelay
	}
	if c.LogRetention <= 0 {
		c.LogRetention = def.LogRetention
	}
	if c.BaseHealth <= 0 {
		c.BaseHealth = def.BaseHealth
	}
	return c
}

// actorState is the authoritative per-actor combat state.
type actorState struct {
	health int
	tile   proto.TileVec
	dead   bool
}

// Combat is one encounter instance.
type Combat struct {
	ID    uint64
	MapID string
	Phase Phase

	Participants []string // join order
	Mobs         []uint64 // spawn order, still alive

	order     []Actor
	activeIdx int
	Round     uint64
	Turn      uint64

	ready        map[string]bool
	connected    map[string]bool
	actors       map[string]*actorState
	gracePending bool
}

// ActiveActor returns the current actor. Only meaningful while active.
func (c *Combat) ActiveActor() Actor {
	if c.Phase != PhaseActive || len(c.order) == 0 {
		return Actor{}
	}
	return c.order[c.activeIdx]
}

// Order returns a copy of the actor order.
func (c *Combat) Order() []Actor {
	return append([]Actor(nil), c.order...)
}

// Manager owns every combat on one map. All methods are loop-context only.
type Manager struct {
	mapID string
	cfg   Config
	seq   *sequencer.Sequencer
	sched Scheduler
	world WorldHooks
	cast  Broadcaster
	log   *zap.Logger

	nextID   uint64
	combats  map[uint64]*Combat
	byPlayer map[string]uint64
	byMob    map[uint64]uint64
}

// NewManager wires a combat manager for one map.
func NewManager(mapID string, cfg Config, seq *sequencer.Sequencer, sched Scheduler, world WorldHooks, cast Broadcaster, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		mapID:    mapID,
		cfg:      cfg.normalized(),
		seq:      seq,
		sched:    sched,
		world:    world,
		cast:     cast,
		log:      log.With(zap.String("map", mapID)),
		combats:  make(map[uint64]*Combat),
		byPlayer: make(map[string]uint64),
		byMob:    make(map[uint64]uint64),
	}
}

// Get returns a live combat by id.
func (m *Manager) Get(combatID uint64) (*Combat, bool) {
	c, ok := m.combats[combatID]
	return c, ok
}

// PlayerCombat reports the combat a player currently belongs to.
func (m *Manager) PlayerCombat(playerID string) (uint64, bool) {
	id, ok := m.byPlayer[playerID]
	return id, ok
}

func (m *Manager) emit(c *Combat, t proto.EventType, payload any) {
	ev := m.seq.Emit(c.ID, proto.NewEvent(t, payload))
	if m.cast != nil {
		m.cast.BroadcastMap(m.mapID, ev)
	}
}

// Start forms a new combat from a start command. Mob ids already owned by
// another combat, or a starter already fighting, are expected races and are
// ignored silently.
func (m *Manager) Start(starterID string, p proto.CombatStartPayload) (*Combat, bool) {
	for _, pid := range p.Participants {
		if _, busy := m.byPlayer[pid]; busy {
			return nil, false
		}
	}
	m.nextID++
	combatID := m.nextID
	if len(p.MobEntityIDs) > 0 && !m.world.DetachForCombat(p.MobEntityIDs, combatID) {
		m.nextID--
		return nil, false
	}

	c := &Combat{
		ID:           combatID,
		MapID:        p.MapID,
		Phase:        PhaseAssembling,
		Participants: append([]string(nil), p.Participants...),
		Mobs:         append([]uint64(nil), p.MobEntityIDs...),
		ready:        make(map[string]bool),
		connected:    make(map[string]bool),
		actors:       make(map[string]*actorState),
	}
	for _, pid := range c.Participants {
		m.byPlayer[pid] = combatID
		c.connected[pid] = true
		c.actors[pid] = &actorState{health: m.cfg.BaseHealth}
	}
	for _, mobID := range c.Mobs {
		m.byMob[mobID] = combatID
		c.actors[MobActorID(mobID)] = &actorState{health: mobHealth(m.world.MonsterLevel(mobID))}
	}
	m.combats[combatID] = c

	m.emit(c, proto.EventCombatCreated, m.rosterPayload(c))
	m.log.Info("combat created",
		zap.Uint64("combat", combatID),
		zap.Strings("participants", c.Participants),
		zap.Int("mobs", len(c.Mobs)))
	return c, true
}

// Join adds a participant while the combat is still assembling.
func (m *Manager) Join(playerID string, combatID uint64) {
	c, ok := m.combats[combatID]
	if !ok || c.Phase != PhaseAssembling {
		return
	}
	if _, busy := m.byPlayer[playerID]; busy {
		return
	}
	c.Participants = append(c.Participants, playerID)
	c.connected[playerID] = true
	c.actors[playerID] = &actorState{health: m.cfg.BaseHealth}
	m.byPlayer[playerID] = combatID
	m.emit(c, proto.EventCombatUpdated, m.rosterPayload(c))
}

// Ready records a readiness signal; when every participant is ready the
// combat activates.
func (m *Manager) Ready(playerID string, combatID uint64) {
	c, ok := m.combats[combatID]
	if !ok || c.Phase != PhaseAssembling {
		return
	}
	if m.byPlayer[playerID] != combatID {
		return
	}
	c.ready[playerID] = true
	for _, pid := range c.Participants {
		if !c.ready[pid] {
			return
		}
	}
	m.activate(c)
}

// activate computes the initial turn order and starts the first turn.
func (m *Manager) activate(c *Combat) {
	c.Phase = PhaseActive
	c.order = buildOrder(c.Participants, nil, c.Mobs)
	c.activeIdx = 0
	c.Round = 1
	m.emit(c, proto.EventCombatUpdated, m.rosterPayload(c))
	m.startTurn(c)
}

func (m *Manager) startTurn(c *Combat) {
	c.Turn++
	actor := c.order[c.activeIdx]
	m.emit(c, proto.EventCombatTurnStarted, proto.TurnPayload{ActorID: actor.ID, Round: c.Round})
	m.emit(c, proto.EventCombatSnapshot, m.snapshotPayload(c))

	combatID := c.ID
	if actor.Kind == ActorMob {
		m.sched.Schedule(combatID, purposeMobTurn, m.cfg.MobTurnDelay, func() {
			m.forceTurnEnd(combatID)
		})
	} else {
		m.sched.Schedule(combatID, purposeTurnTimeout, m.cfg.TurnTimeout, func() {
			m.forceTurnEnd(combatID)
		})
	}
}

// EndTurn handles an end-turn command from a player. Only the controller of
// the active actor may end the turn: the participant itself, or the owner of
// a summoned ally.
func (m *Manager) EndTurn(playerID string, combatID uint64) {
	c, ok := m.combats[combatID]
	if !ok || c.Phase != PhaseActive {
		return
	}
	actor := c.ActiveActor()
	if actor.Kind == ActorMob {
		return
	}
	controller := actor.ID
	if actor.Kind == ActorAlly {
		controller = actor.OwnerID
	}
	if controller != playerID {
		return
	}
	m.advanceTurn(c)
}

// forceTurnEnd is the server-driven end of turn: mob turns and player turn
// timeouts.
func (m *Manager) forceTurnEnd(combatID uint64) {
	c, ok := m.combats[combatID]
	if !ok || c.Phase != PhaseActive {
		return
	}
	m.advanceTurn(c)
}

// advanceTurn moves the active pointer to the next actor, incrementing the
// round on wraparound, and broadcasts the new actor plus a full snapshot.
func (m *Manager) advanceTurn(c *Combat) {
	m.sched.CancelTimer(c.ID, purposeTurnTimeout)
	m.sched.CancelTimer(c.ID, purposeMobTurn)

	prev := c.order[c.activeIdx]
	m.emit(c, proto.EventCombatTurnEnded, proto.TurnPayload{ActorID: prev.ID, Round: c.Round})

	c.activeIdx++
	if c.activeIdx >= len(c.order) {
		c.activeIdx = 0
		c.Round++
	}
	m.startTurn(c)
}

// Move repositions an actor on the combat grid.
func (m *Manager) Move(playerID string, p proto.CombatMovePayload) {
	c, ok := m.combats[p.CombatID]
	if !ok || c.Phase != PhaseActive {
		return
	}
	state, ok := c.actors[playerID]
	if !ok || state.dead {
		return
	}
	state.tile = p.To
	m.emit(c, proto.EventCombatUpdated, proto.ActorState{
		ActorID: playerID,
		Health:  state.health,
		Tile:    state.tile,
	})
}

// Cast triggers an ability. Abilities prefixed "summon:" insert an allied
// actor immediately after the caster in turn order; everything else is
// broadcast for collaborator systems to resolve.
func (m *Manager) Cast(playerID string, p proto.CombatCastPayload) {
	c, ok := m.combats[p.CombatID]
	if !ok || c.Phase != PhaseActive {
		return
	}
	if _, fighting := c.actors[playerID]; !fighting {
		return
	}
	if allyID, ok := summonAllyID(p.AbilityID, playerID); ok {
		m.addAlly(c, playerID, allyID)
		return
	}
	m.emit(c, proto.EventCombatUpdated, p)
}

// addAlly inserts a summoned actor adjacent to its owner, preserving the
// relative order of earlier summons by the same owner.
func (m *Manager) addAlly(c *Combat, ownerID, allyID string) {
	if _, exists := c.actors[allyID]; exists {
		return
	}
	c.actors[allyID] = &actorState{health: m.cfg.BaseHealth}
	idx, ok := insertAfterOwner(c.order, ownerID, Actor{ID: allyID, Kind: ActorAlly, OwnerID: ownerID})
	if !ok {
		return
	}
	c.order = idx.order
	if idx.position <= c.activeIdx {
		c.activeIdx++
	}
	m.emit(c, proto.EventCombatUpdated, m.rosterPayload(c))
}

// Damage applies a reported damage resolution to a target actor and handles
// resulting deaths, victory, and defeat.
func (m *Manager) Damage(playerID string, p proto.CombatDamagePayload) {
	c, ok := m.combats[p.CombatID]
	if !ok || c.Phase != PhaseActive {
		return
	}
	if _, fighting := c.actors[playerID]; !fighting {
		return
	}
	state, ok := c.actors[p.TargetID]
	if !ok || state.dead {
		return
	}
	state.health -= p.Amount
	if state.health > 0 {
		m.emit(c, proto.EventCombatUpdated, proto.ActorState{
			ActorID: p.TargetID,
			Health:  state.health,
			Tile:    state.tile,
		})
		return
	}
	state.health = 0
	state.dead = true
	m.removeActor(c, p.TargetID)
}

// removeActor drops a dead actor from the turn order and routes mob deaths
// through the world's normal death path.
func (m *Manager) removeActor(c *Combat, actorID string) {
	removedIdx := -1
	for i, actor := range c.order {
		if actor.ID == actorID {
			removedIdx = i
			break
		}
	}
	wasActive := false
	if removedIdx >= 0 {
		wasActive = removedIdx == c.activeIdx
		c.order = append(c.order[:removedIdx], c.order[removedIdx+1:]...)
		if removedIdx < c.activeIdx {
			c.activeIdx--
		} else if wasActive && c.activeIdx >= len(c.order) {
			c.activeIdx = 0
			c.Round++
		}
	}

	if entityID, isMob := MobEntityID(actorID); isMob {
		delete(m.byMob, entityID)
		for i, id := range c.Mobs {
			if id == entityID {
				c.Mobs = append(c.Mobs[:i], c.Mobs[i+1:]...)
				break
			}
		}
		m.world.KillMonster(entityID)
	}

	if len(c.Mobs) == 0 {
		m.finalize(c, ReasonVictory)
		return
	}
	if !m.anyParticipantAlive(c) {
		m.finalize(c, ReasonDefeat)
		return
	}
	m.emit(c, proto.EventCombatUpdated, m.rosterPayload(c))
	if wasActive && len(c.order) > 0 {
		m.sched.CancelTimer(c.ID, purposeTurnTimeout)
		m.sched.CancelTimer(c.ID, purposeMobTurn)
		m.startTurn(c)
	}
}

func (m *Manager) anyParticipantAlive(c *Combat) bool {
	for _, pid := range c.Participants {
		if state, ok := c.actors[pid]; ok && !state.dead {
			return true
		}
	}
	return false
}

// Flee finalizes a combat when the participants abandon it.
func (m *Manager) Flee(playerID string, combatID uint64) {
	c, ok := m.combats[combatID]
	if !ok || c.Phase != PhaseActive {
		return
	}
	if m.byPlayer[playerID] != combatID {
		return
	}
	m.finalize(c, ReasonFled)
}

// Checksum compares a participant's end-of-turn state checksum against the
// authoritative state and pushes a full snapshot on mismatch. Failure
// detection only; repeated mismatches keep triggering pushes.
func (m *Manager) Checksum(playerID string, p proto.CombatChecksumPayload) {
	c, ok := m.combats[p.CombatID]
	if !ok || c.Phase != PhaseActive {
		return
	}
	if m.byPlayer[playerID] != p.CombatID {
		return
	}
	want := StateChecksum(m.snapshotPayload(c))
	if p.Checksum == want {
		return
	}
	m.log.Warn("combat checksum mismatch",
		zap.Uint64("combat", c.ID),
		zap.String("player", playerID),
		zap.Uint64("turn", p.Turn))
	m.emit(c, proto.EventCombatSnapshot, m.snapshotPayload(c))
}

// HandleDisconnect records a dropped participant. When the last connected
// participant of an active combat disconnects, a grace timer is armed rather
// than finalizing immediately.
func (m *Manager) HandleDisconnect(playerID string) {
	combatID, ok := m.byPlayer[playerID]
	if !ok {
		return
	}
	c, ok := m.combats[combatID]
	if !ok {
		return
	}
	c.connected[playerID] = false
	for _, pid := range c.Participants {
		if c.connected[pid] {
			return
		}
	}
	c.gracePending = true
	m.sched.Schedule(combatID, purposeGrace, m.cfg.GraceDelay, func() {
		m.graceExpired(combatID)
	})
	m.log.Info("combat grace timer armed", zap.Uint64("combat", combatID))
}

// HandleReconnect clears a pending grace timer when a participant returns.
// It reports the combat the player should resubscribe to.
func (m *Manager) HandleReconnect(playerID string) (uint64, bool) {
	combatID, ok := m.byPlayer[playerID]
	if !ok {
		return 0, false
	}
	c, ok := m.combats[combatID]
	if !ok {
		return 0, false
	}
	c.connected[playerID] = true
	if c.gracePending {
		c.gracePending = false
		m.sched.CancelTimer(combatID, purposeGrace)
	}
	return combatID, true
}

func (m *Manager) graceExpired(combatID uint64) {
	c, ok := m.combats[combatID]
	if !ok || c.Phase == PhaseEnded {
		return
	}
	for _, pid := range c.Participants {
		if c.connected[pid] {
			return
		}
	}
	m.finalize(c, ReasonDisconnect)
}

// finalize ends a combat: the ended event is sequenced and visible to every
// session on the map, surviving mobs return to the world scheduler, and the
// combat leaves the live map. Ended is terminal.
func (m *Manager) finalize(c *Combat, reason string) {
	m.sched.CancelTimer(c.ID, purposeTurnTimeout)
	m.sched.CancelTimer(c.ID, purposeMobTurn)
	m.sched.CancelTimer(c.ID, purposeGrace)

	c.Phase = PhaseEnded
	m.emit(c, proto.EventCombatEnded, proto.CombatEndedPayload{Reason: reason})

	if len(c.Mobs) > 0 {
		m.world.ReleaseFromCombat(c.Mobs)
	}
	for _, mobID := range c.Mobs {
		delete(m.byMob, mobID)
	}
	for _, pid := range c.Participants {
		delete(m.byPlayer, pid)
	}
	delete(m.combats, c.ID)

	combatID := c.ID
	m.sched.Schedule(combatID, purposeLogRelease, m.cfg.LogRetention, func() {
		m.seq.Release(combatID)
	})
	m.log.Info("combat ended", zap.Uint64("combat", combatID), zap.String("reason", reason))
}

func (m *Manager) rosterPayload(c *Combat) proto.CombatRosterPayload {
	p := proto.CombatRosterPayload{
		MapID:        c.MapID,
		Phase:        string(c.Phase),
		Participants: append([]string(nil), c.Participants...),
		MobEntityIDs: append([]uint64(nil), c.Mobs...),
	}
	for _, actor := range c.order {
		p.ActorOrder = append(p.ActorOrder, actor.ID)
	}
	return p
}

// Snapshot returns the authoritative snapshot of a live combat. Used when a
// replay request reaches past the retained event window.
func (m *Manager) Snapshot(combatID uint64) (proto.CombatSnapshotPayload, bool) {
	c, ok := m.combats[combatID]
	if !ok {
		return proto.CombatSnapshotPayload{}, false
	}
	return m.snapshotPayload(c), true
}

func (m *Manager) snapshotPayload(c *Combat) proto.CombatSnapshotPayload {
	p := proto.CombatSnapshotPayload{
		Phase:    string(c.Phase),
		Round:    c.Round,
		ActiveID: c.ActiveActor().ID,
	}
	for _, actor := range c.order {
		p.ActorOrder = append(p.ActorOrder, actor.ID)
		state := c.actors[actor.ID]
		if state == nil {
			continue
		}
		p.Actors = append(p.Actors, proto.ActorState{
			ActorID: actor.ID,
			Health:  state.health,
			Tile:    state.tile,
		})
	}
	return p
}

// mobHealth derives a mob's health pool from its level.
func mobHealth(level int) int {
	if level < 1 {
		level = 1
	}
	return 50 + 10*level
}
