package world

import (
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"

	"duskfall/server/internal/mapcontent"
	"duskfall/server/internal/proto"
)

// Map is the runtime state of one loaded map. Every field below tasks is
// owned by the map's task loop: exported methods without a Post/Call wrapper
// document whether they are loop-context only. Cross-map state never mixes.
type Map struct {
	id     string
	world  *World
	tasks  chan func()
	done   chan struct{}
	timers *timerSet

	// Loop-owned state.
	rng       *rand.Rand
	bounds    mapcontent.Bounds
	collision map[proto.TileVec]struct{}
	monsters  map[uint64]*MonsterEntity
	groups    map[uint64]*monsterGroup
	resources map[uint64]*ResourceEntity
	players   map[string]struct{}
}

const taskQueueDepth = 256

func newMap(w *World, id string, derived mapcontent.Derived, rng *rand.Rand) *Map {
	m := &Map{
		id:        id,
		world:     w,
		tasks:     make(chan func(), taskQueueDepth),
		done:      make(chan struct{}),
		rng:       rng,
		bounds:    derived.Bounds,
		collision: derived.CollisionTiles,
		monsters:  make(map[uint64]*MonsterEntity),
		groups:    make(map[uint64]*monsterGroup),
		resources: make(map[uint64]*ResourceEntity),
		players:   make(map[string]struct{}),
	}
	m.timers = newTimerSet(m.Post)
	return m
}

// ID returns the map identifier.
func (m *Map) ID() string { return m.id }

// Post enqueues fn onto the map's sequential task loop. Safe from any
// goroutine; fn runs with exclusive access to the map state.
func (m *Map) Post(fn func()) {
	select {
	case m.tasks <- fn:
	case <-m.done:
	}
}

// Call posts fn and waits for it to complete. Used by query paths that need
// a result outside the loop.
func (m *Map) Call(fn func()) {
	doneCh := make(chan struct{})
	m.Post(func() {
		fn()
		close(doneCh)
	})
	select {
	case <-doneCh:
	case <-m.done:
	}
}

func (m *Map) run() {
	ticker := time.NewTicker(m.world.cfg.RoamTick)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case fn := <-m.tasks:
			fn()
		case now := <-ticker.C:
			m.roamStep(now)
		}
	}
}

func (m *Map) stop() {
	m.timers.cancelAll()
	close(m.done)
}

// Schedule registers a loop-context callback under (id, purpose), replacing
// any pending task for the same key. Exposed for the combat manager's grace
// and turn timers so every deferred mutation funnels through one scheduler.
func (m *Map) Schedule(id uint64, purpose string, d time.Duration, fn func()) {
	m.timers.schedule(id, purpose, d, fn)
}

// CancelTimer cancels a pending (id, purpose) task. A cancelled task never
// runs.
func (m *Map) CancelTimer(id uint64, purpose string) bool {
	return m.timers.cancel(id, purpose)
}

func (m *Map) emit(ev proto.Event) {
	if m.world.broadcast != nil {
		m.world.broadcast.BroadcastMap(m.id, ev)
	}
}

// seed creates the initial entity collections from derived content. Loop
// context.
func (m *Map) seed(derived mapcontent.Derived) {
	for _, seeds := range derived.MonsterGroups {
		m.spawnGroup(seeds)
	}
	for _, seed := range derived.Resources {
		id := m.world.allocEntityID()
		m.resources[id] = &ResourceEntity{
			ID:      id,
			Kind:    seed.Kind,
			Tile:    seed.Tile,
			OffsetX: seed.OffsetX,
			OffsetY: seed.OffsetY,
			Respawn: m.world.cfg.resourceRespawnFor(seed.Kind),
		}
	}
}

// spawnGroup materializes one monster group from seeds. Loop context.
func (m *Map) spawnGroup(seeds []mapcontent.MonsterSeed) *monsterGroup {
	if len(seeds) == 0 {
		return nil
	}
	if len(m.monsters)+len(seeds) > mapcontent.MaxMonstersPerMap {
		return nil
	}
	group := &monsterGroup{
		id:       m.world.allocGroupID(),
		origin:   seeds[0].SpawnOrigin,
		template: seeds[0].Template,
		members:  make([]memberSpec, 0, len(seeds)),
		alive:    len(seeds),
	}
	levelSum := 0
	for _, seed := range seeds {
		levelSum += seed.Level
	}
	now := time.Now()
	for _, seed := range seeds {
		id := m.world.allocEntityID()
		m.monsters[id] = &MonsterEntity{
			ID:            id,
			DefinitionID:  seed.DefinitionID,
			Tile:          seed.Tile,
			Level:         seed.Level,
			GroupID:       group.id,
			GroupSize:     len(seeds),
			GroupLevelSum: levelSum,
			SpawnOrigin:   seed.SpawnOrigin,
			Template:      seed.Template,
			roamReadyAt:   now.Add(m.rollRoamCooldown()),
		}
		group.members = append(group.members, memberSpec{definitionID: seed.DefinitionID, level: seed.Level})
	}
	m.groups[group.id] = group
	return group
}

// AddPlayer marks a player as present on the map. Loop context.
func (m *Map) AddPlayer(playerID string) {
	m.players[playerID] = struct{}{}
}

// RemovePlayer clears a player's presence. Loop context.
func (m *Map) RemovePlayer(playerID string) {
	delete(m.players, playerID)
}

// HasPlayers reports whether any player is present. Loop context.
func (m *Map) HasPlayers() bool { return len(m.players) > 0 }

func (m *Map) rollRoamCooldown() time.Duration {
	min := m.world.cfg.RoamCooldownMin
	max := m.world.cfg.RoamCooldownMax
	if max <= min {
		return min
	}
	return min + time.Duration(m.rng.Int63n(int64(max-min)))
}

// roamStep advances roam movement for every eligible monster. Runs on the
// roam tick; maps without players stay quiet.
func (m *Map) roamStep(now time.Time) {
	if len(m.players) == 0 {
		return
	}
	for _, mon := range m.monsters {
		if mon.InCombat || mon.moving || now.Before(mon.roamReadyAt) {
			continue
		}
		to, ok := m.pickRoamTile(mon)
		mon.roamReadyAt = now.Add(m.rollRoamCooldown())
		if !ok {
			continue
		}
		m.beginMove(mon, to, 0, m.world.cfg.StepDuration)
	}
}

// pickRoamTile shuffles the orthogonal neighbors and returns the first free
// one, or false when the monster is boxed in this tick.
func (m *Map) pickRoamTile(mon *MonsterEntity) (proto.TileVec, bool) {
	candidates := []proto.TileVec{
		{X: 0, Y: -1}, {X: 0, Y: 1}, {X: -1, Y: 0}, {X: 1, Y: 0},
	}
	for i := len(candidates) - 1; i > 0; i-- {
		j := m.rng.Intn(i + 1)
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}
	for _, delta := range candidates {
		tile := mon.Tile.Add(delta)
		if m.walkable(tile) && !m.occupied(tile, mon.ID) {
			return tile, true
		}
	}
	return proto.TileVec{}, false
}

func (m *Map) walkable(tile proto.TileVec) bool {
	if tile.X < m.bounds.PlayableMin.X || tile.Y < m.bounds.PlayableMin.Y {
		return false
	}
	if tile.X > m.bounds.PlayableMax.X || tile.Y > m.bounds.PlayableMax.Y {
		return false
	}
	_, solid := m.collision[tile]
	return !solid
}

func (m *Map) occupied(tile proto.TileVec, exceptID uint64) bool {
	for _, other := range m.monsters {
		if other.ID == exceptID || other.InCombat {
			continue
		}
		if other.Tile == tile || (other.moving && other.moveTarget == tile) {
			return true
		}
	}
	return false
}

// beginMove broadcasts a move-start and schedules the settle. A new move for
// the same entity replaces any pending move-end so a stale callback can never
// touch a reused position.
func (m *Map) beginMove(mon *MonsterEntity, to proto.TileVec, moveSeq uint64, duration time.Duration) {
	mon.moving = true
	mon.moveTarget = to
	from := mon.Tile
	m.emit(proto.NewEvent(proto.EventMobMoveStart, proto.MobMovePayloadEvent{
		EntityID: mon.ID,
		From:     from,
		To:       to,
		MoveSeq:  moveSeq,
	}))
	entityID := mon.ID
	m.timers.schedule(entityID, PurposeMoveEnd, duration, func() {
		mon, ok := m.monsters[entityID]
		if !ok {
			return
		}
		mon.Tile = mon.moveTarget
		mon.moving = false
		m.emit(proto.NewEvent(proto.EventMobMoveEnd, proto.MobMovePayloadEvent{
			EntityID: mon.ID,
			From:     from,
			To:       mon.Tile,
		}))
	})
}

// HostMobMove applies a host-driven mob path. The move sequence must exceed
// the entity's high-water mark; stale or duplicated paths are dropped
// silently. Loop context.
func (m *Map) HostMobMove(entityID uint64, steps []proto.TileVec, moveSeq uint64) {
	mon, ok := m.monsters[entityID]
	if !ok || mon.InCombat {
		return
	}
	if moveSeq <= mon.moveSeq {
		return
	}
	tile := mon.Tile
	for _, step := range steps {
		tile = tile.Add(step)
		if !m.walkable(tile) {
			return
		}
	}
	mon.moveSeq = moveSeq
	m.timers.cancel(entityID, PurposeMoveEnd)
	m.beginMove(mon, tile, moveSeq, m.world.cfg.StepDuration*time.Duration(len(steps)))
}

// HostKillMonster applies a host-reported world death. Monsters held by a
// combat are authoritative to the combat manager; reports naming them are
// expected races and ignored. Loop context.
func (m *Map) HostKillMonster(entityID uint64) {
	if mon, ok := m.monsters[entityID]; !ok || mon.InCombat {
		return
	}
	m.KillMonster(entityID)
}

// KillMonster removes a monster immediately, broadcasts its death, and
// schedules the group respawn once the last member is gone. Combat deaths
// route through here via the combat manager. Loop context.
func (m *Map) KillMonster(entityID uint64) {
	mon, ok := m.monsters[entityID]
	if !ok {
		return
	}
	m.timers.cancel(entityID, PurposeMoveEnd)
	delete(m.monsters, entityID)
	m.emit(proto.NewEvent(proto.EventMobDeath, proto.MobDeathPayloadEvent{EntityID: entityID}))

	group, ok := m.groups[mon.GroupID]
	if !ok {
		return
	}
	group.alive--
	if group.alive > 0 {
		return
	}
	groupID := group.id
	m.timers.schedule(groupID, PurposeRespawn, m.world.cfg.MonsterRespawnDelay, func() {
		m.respawnGroup(groupID)
	})
}

// respawnGroup re-rolls and re-creates a dead group at its spawn origin.
// Loop context.
func (m *Map) respawnGroup(groupID uint64) {
	group, ok := m.groups[groupID]
	if !ok {
		return
	}
	delete(m.groups, groupID)

	var seeds []mapcontent.MonsterSeed
	if group.template != nil {
		seeds = mapcontent.RollGroup(*group.template, group.origin, m.rng, m.world.roll)
	} else {
		for _, member := range group.members {
			seeds = append(seeds, mapcontent.MonsterSeed{
				DefinitionID: member.definitionID,
				Tile:         group.origin,
				Level:        member.level,
				SpawnOrigin:  group.origin,
			})
		}
	}

	if len(m.monsters)+len(seeds) > mapcontent.MaxMonstersPerMap {
		m.groups[groupID] = group
		m.timers.schedule(groupID, PurposeRespawn, m.world.cfg.MonsterRespawnDelay, func() {
			m.respawnGroup(groupID)
		})
		return
	}

	spawned := m.spawnGroup(seeds)
	if spawned == nil {
		return
	}
	monsters := make([]proto.MonsterSnapshot, 0, len(seeds))
	for _, mon := range m.monsters {
		if mon.GroupID == spawned.id {
			monsters = append(monsters, mon.Snapshot())
		}
	}
	m.emit(proto.NewEvent(proto.EventMobRespawn, proto.MobRespawnPayloadEvent{Monsters: monsters}))
}

// Harvest marks a resource harvested and schedules its respawn. Harvesting an
// already-harvested node is an expected race and is ignored. Loop context.
func (m *Map) Harvest(entityID uint64) bool {
	res, ok := m.resources[entityID]
	if !ok || res.Harvested {
		return false
	}
	res.Harvested = true
	m.emit(proto.NewEvent(proto.EventResourceHarvested, proto.ResourcePayloadEvent{EntityID: entityID}))
	m.scheduleResourceRespawn(res)
	return true
}

// scheduleResourceRespawn arms the kind-tiered respawn timer. When the timer
// fires into an empty map it rearms itself instead of broadcasting.
func (m *Map) scheduleResourceRespawn(res *ResourceEntity) {
	entityID := res.ID
	m.timers.schedule(entityID, PurposeResourceRespawn, res.Respawn, func() {
		res, ok := m.resources[entityID]
		if !ok || !res.Harvested {
			return
		}
		if !m.HasPlayers() {
			m.scheduleResourceRespawn(res)
			return
		}
		res.Harvested = false
		m.emit(proto.NewEvent(proto.EventResourceRespawned, proto.ResourcePayloadEvent{EntityID: entityID}))
	})
}

// DetachForCombat removes monsters from roam/respawn eligibility without
// destroying them. Returns false (and detaches nothing) if any id is missing
// or already owned by another combat. Loop context.
func (m *Map) DetachForCombat(entityIDs []uint64, combatID uint64) bool {
	for _, id := range entityIDs {
		mon, ok := m.monsters[id]
		if !ok || mon.InCombat {
			return false
		}
	}
	for _, id := range entityIDs {
		mon := m.monsters[id]
		mon.InCombat = true
		mon.CombatID = combatID
		if mon.moving {
			mon.Tile = mon.moveTarget
			mon.moving = false
		}
		m.timers.cancel(id, PurposeMoveEnd)
	}
	return true
}

// ReleaseFromCombat restores roam eligibility for surviving monsters. Loop
// context.
func (m *Map) ReleaseFromCombat(entityIDs []uint64) {
	now := time.Now()
	for _, id := range entityIDs {
		mon, ok := m.monsters[id]
		if !ok {
			continue
		}
		mon.InCombat = false
		mon.CombatID = 0
		mon.roamReadyAt = now.Add(m.rollRoamCooldown())
	}
}

// MonsterLevel reports a monster's level, or 0 when the id is unknown. Loop
// context.
func (m *Map) MonsterLevel(entityID uint64) int {
	if mon, ok := m.monsters[entityID]; ok {
		return mon.Level
	}
	return 0
}

// Monster returns a monster by id. Loop context.
func (m *Map) Monster(entityID uint64) (*MonsterEntity, bool) {
	mon, ok := m.monsters[entityID]
	return mon, ok
}

// Resource returns a resource by id. Loop context.
func (m *Map) Resource(entityID uint64) (*ResourceEntity, bool) {
	res, ok := m.resources[entityID]
	return res, ok
}

// MonstersSnapshot lists the map's monsters in entity-id order, capped at the
// sanitization limit. Loop context.
func (m *Map) MonstersSnapshot() []proto.MonsterSnapshot {
	out := make([]proto.MonsterSnapshot, 0, len(m.monsters))
	for _, mon := range m.monsters {
		out = append(out, mon.Snapshot())
	}
	sortMonsterSnapshots(out)
	if len(out) > mapcontent.MaxMonstersPerMap {
		out = out[:mapcontent.MaxMonstersPerMap]
	}
	return out
}

// ResourcesSnapshot lists the map's resources in entity-id order, capped at
// the sanitization limit. Loop context.
func (m *Map) ResourcesSnapshot() []proto.ResourceSnapshot {
	out := make([]proto.ResourceSnapshot, 0, len(m.resources))
	for _, res := range m.resources {
		out = append(out, res.Snapshot())
	}
	sortResourceSnapshots(out)
	if len(out) > mapcontent.MaxResourcesPerMap {
		out = out[:mapcontent.MaxResourcesPerMap]
	}
	return out
}

func sortMonsterSnapshots(list []proto.MonsterSnapshot) {
	sort.Slice(list, func(i, j int) bool { return list[i].EntityID < list[j].EntityID })
}

func sortResourceSnapshots(list []proto.ResourceSnapshot) {
	sort.Slice(list, func(i, j int) bool { return list[i].EntityID < list[j].EntityID })
}

// logger returns the world logger annotated with the map id.
func (m *Map) logger() *zap.Logger {
	return m.world.log.With(zap.String("map", m.id))
}
