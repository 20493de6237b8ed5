package combat

import (
	"fmt"
	"testing"
	"time"

	"duskfall/server/internal/proto"
	"duskfall/server/internal/sequencer"
)

// fakeScheduler records scheduled callbacks and lets tests fire them
// deterministically instead of waiting on wall-clock timers.
type fakeScheduler struct {
	tasks map[[2]string]func()
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{tasks: make(map[[2]string]func())}
}

func schedKey(id uint64, purpose string) [2]string {
	return [2]string{purpose, fmt.Sprintf("%d", id)}
}

func (s *fakeScheduler) Schedule(id uint64, purpose string, _ time.Duration, fn func()) {
	s.tasks[schedKey(id, purpose)] = fn
}

func (s *fakeScheduler) CancelTimer(id uint64, purpose string) bool {
	key := schedKey(id, purpose)
	_, ok := s.tasks[key]
	delete(s.tasks, key)
	return ok
}

func (s *fakeScheduler) fire(t *testing.T, id uint64, purpose string) {
	t.Helper()
	fn, ok := s.tasks[schedKey(id, purpose)]
	if !ok {
		t.Fatalf("no %s timer scheduled for id %d", purpose, id)
	}
	delete(s.tasks, schedKey(id, purpose))
	fn()
}

func (s *fakeScheduler) scheduled(id uint64, purpose string) bool {
	_, ok := s.tasks[schedKey(id, purpose)]
	return ok
}

// fakeWorld tracks detach/release/kill traffic from the manager.
type fakeWorld struct {
	detached   []uint64
	released   []uint64
	killed     []uint64
	levels     map[uint64]int
	refuseGrab bool
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{levels: make(map[uint64]int)}
}

func (w *fakeWorld) DetachForCombat(entityIDs []uint64, _ uint64) bool {
	if w.refuseGrab {
		return false
	}
	w.detached = append(w.detached, entityIDs...)
	return true
}

func (w *fakeWorld) ReleaseFromCombat(entityIDs []uint64) {
	w.released = append(w.released, entityIDs...)
}

func (w *fakeWorld) KillMonster(entityID uint64) {
	w.killed = append(w.killed, entityID)
}

func (w *fakeWorld) MonsterLevel(entityID uint64) int {
	if lvl, ok := w.levels[entityID]; ok {
		return lvl
	}
	return 1
}

type eventLog struct {
	events []proto.Event
}

func (l *eventLog) BroadcastMap(_ string, ev proto.Event) {
	l.events = append(l.events, ev)
}

func (l *eventLog) ofType(t proto.EventType) []proto.Event {
	var out []proto.Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) last(t *testing.T, typ proto.EventType) proto.Event {
	t.Helper()
	events := l.ofType(typ)
	if len(events) == 0 {
		t.Fatalf("no %s event broadcast", typ)
	}
	return events[len(events)-1]
}

type fixture struct {
	mgr   *Manager
	sched *fakeScheduler
	world *fakeWorld
	log   *eventLog
	seq   *sequencer.Sequencer
}

func newFixture() *fixture {
	f := &fixture{
		sched: newFakeScheduler(),
		world: newFakeWorld(),
		log:   &eventLog{},
		seq:   sequencer.New(0),
	}
	f.mgr = NewManager("meadow", Config{}, f.seq, f.sched, f.world, f.log, nil)
	return f
}

// startActive forms a combat with the given roster and readies everyone.
func (f *fixture) startActive(t *testing.T, participants []string, mobs []uint64) *Combat {
	t.Helper()
	c, ok := f.mgr.Start(participants[0], proto.CombatStartPayload{
		MapID:        "meadow",
		Participants: participants,
		MobEntityIDs: mobs,
	})
	if !ok {
		t.Fatalf("combat start refused")
	}
	for _, pid := range participants {
		f.mgr.Ready(pid, c.ID)
	}
	if c.Phase != PhaseActive {
		t.Fatalf("expected combat active after all ready, got %s", c.Phase)
	}
	return c
}

func orderIDs(c *Combat) []string {
	var ids []string
	for _, actor := range c.Order() {
		ids = append(ids, actor.ID)
	}
	return ids
}

func TestStartDetachesMobsAndBroadcastsRoster(t *testing.T) {
	f := newFixture()
	c, ok := f.mgr.Start("alice", proto.CombatStartPayload{
		MapID:        "meadow",
		Participants: []string{"alice", "bob"},
		MobEntityIDs: []uint64{500},
	})
	if !ok {
		t.Fatalf("expected start to succeed")
	}
	if c.Phase != PhaseAssembling {
		t.Fatalf("expected assembling phase, got %s", c.Phase)
	}
	if len(f.world.detached) != 1 || f.world.detached[0] != 500 {
		t.Fatalf("expected mob 500 detached, got %v", f.world.detached)
	}
	ev := f.log.last(t, proto.EventCombatCreated)
	if ev.CombatID != c.ID || ev.CombatSeq != 1 {
		t.Fatalf("expected sequenced creation event, got combat %d seq %d", ev.CombatID, ev.CombatSeq)
	}
}

func TestStartRefusedWhenMobsUnavailable(t *testing.T) {
	f := newFixture()
	f.world.refuseGrab = true
	if _, ok := f.mgr.Start("alice", proto.CombatStartPayload{
		MapID:        "meadow",
		Participants: []string{"alice"},
		MobEntityIDs: []uint64{500},
	}); ok {
		t.Fatalf("expected start to fail when mobs cannot be detached")
	}
	if len(f.log.events) != 0 {
		t.Fatalf("expected no events for a refused start")
	}
}

func TestStartRefusedWhenParticipantBusy(t *testing.T) {
	f := newFixture()
	f.startActive(t, []string{"alice"}, []uint64{500})
	if _, ok := f.mgr.Start("bob", proto.CombatStartPayload{
		MapID:        "meadow",
		Participants: []string{"bob", "alice"},
	}); ok {
		t.Fatalf("expected start naming a busy participant to fail")
	}
}

func TestTurnCycleIncrementsRoundOnWrap(t *testing.T) {
	f := newFixture()
	c := f.startActive(t, []string{"alice", "bob"}, []uint64{500})

	want := []string{"alice", "bob", "mob:500"}
	got := orderIDs(c)
	if len(got) != len(want) {
		t.Fatalf("expected order %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
	if c.Round != 1 {
		t.Fatalf("expected round 1, got %d", c.Round)
	}
	if c.ActiveActor().ID != "alice" {
		t.Fatalf("expected alice first, got %s", c.ActiveActor().ID)
	}

	f.mgr.EndTurn("alice", c.ID)
	if c.ActiveActor().ID != "bob" {
		t.Fatalf("expected bob after alice, got %s", c.ActiveActor().ID)
	}
	f.mgr.EndTurn("bob", c.ID)
	if c.ActiveActor().ID != "mob:500" {
		t.Fatalf("expected mob turn, got %s", c.ActiveActor().ID)
	}
	// The mob turn ends on the scheduled mob-turn timer, not a command.
	f.sched.fire(t, c.ID, purposeMobTurn)

	if c.ActiveActor().ID != "alice" {
		t.Fatalf("expected wraparound to alice, got %s", c.ActiveActor().ID)
	}
	if c.Round != 2 {
		t.Fatalf("expected round 2 after wraparound, got %d", c.Round)
	}
}

func TestEndTurnRejectsNonController(t *testing.T) {
	f := newFixture()
	c := f.startActive(t, []string{"alice", "bob"}, nil)

	f.mgr.EndTurn("bob", c.ID)
	if c.ActiveActor().ID != "alice" {
		t.Fatalf("expected non-controller end-turn ignored")
	}
	f.mgr.EndTurn("alice", c.ID)
	if c.ActiveActor().ID != "bob" {
		t.Fatalf("expected controller end-turn to advance")
	}
}

func TestTurnTimeoutForcesAdvance(t *testing.T) {
	f := newFixture()
	c := f.startActive(t, []string{"alice", "bob"}, nil)

	if !f.sched.scheduled(c.ID, purposeTurnTimeout) {
		t.Fatalf("expected a turn timeout armed for the player turn")
	}
	f.sched.fire(t, c.ID, purposeTurnTimeout)
	if c.ActiveActor().ID != "bob" {
		t.Fatalf("expected timeout to advance the turn, got %s", c.ActiveActor().ID)
	}
}

func TestSummonInsertsAllyAfterOwner(t *testing.T) {
	f := newFixture()
	c := f.startActive(t, []string{"alice", "bob"}, []uint64{500})

	f.mgr.Cast("alice", proto.CombatCastPayload{CombatID: c.ID, AbilityID: "summon:wisp", TargetID: "alice"})
	f.mgr.Cast("alice", proto.CombatCastPayload{CombatID: c.ID, AbilityID: "summon:golem", TargetID: "alice"})

	want := []string{"alice", "alice/wisp", "alice/golem", "bob", "mob:500"}
	got := orderIDs(c)
	if len(got) != len(want) {
		t.Fatalf("expected order %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
	// Insertions after the active pointer must not shift whose turn it is.
	if c.ActiveActor().ID != "alice" {
		t.Fatalf("expected alice still active, got %s", c.ActiveActor().ID)
	}
}

func TestAllyOwnerControlsAllyTurn(t *testing.T) {
	f := newFixture()
	c := f.startActive(t, []string{"alice", "bob"}, nil)

	f.mgr.Cast("alice", proto.CombatCastPayload{CombatID: c.ID, AbilityID: "summon:wisp", TargetID: "alice"})
	f.mgr.EndTurn("alice", c.ID)
	if c.ActiveActor().ID != "alice/wisp" {
		t.Fatalf("expected ally turn after owner, got %s", c.ActiveActor().ID)
	}
	f.mgr.EndTurn("bob", c.ID)
	if c.ActiveActor().ID != "alice/wisp" {
		t.Fatalf("expected non-owner end-turn for ally ignored")
	}
	f.mgr.EndTurn("alice", c.ID)
	if c.ActiveActor().ID != "bob" {
		t.Fatalf("expected owner to end the ally turn, got %s", c.ActiveActor().ID)
	}
}

func TestDamageKillsMobAndFinalizesVictory(t *testing.T) {
	f := newFixture()
	f.world.levels[500] = 2
	c := f.startActive(t, []string{"alice"}, []uint64{500})

	// Level 2 mob: 70 health.
	f.mgr.Damage("alice", proto.CombatDamagePayload{CombatID: c.ID, TargetID: "mob:500", Amount: 69})
	if c.Phase != PhaseActive {
		t.Fatalf("expected combat still active at 1 health")
	}
	f.mgr.Damage("alice", proto.CombatDamagePayload{CombatID: c.ID, TargetID: "mob:500", Amount: 1})

	if len(f.world.killed) != 1 || f.world.killed[0] != 500 {
		t.Fatalf("expected mob death routed to world, got %v", f.world.killed)
	}
	ended := f.log.last(t, proto.EventCombatEnded)
	payload, ok := ended.Payload.(proto.CombatEndedPayload)
	if !ok {
		t.Fatalf("unexpected ended payload %T", ended.Payload)
	}
	if payload.Reason != ReasonVictory {
		t.Fatalf("expected victory, got %s", payload.Reason)
	}
	if _, live := f.mgr.Get(c.ID); live {
		t.Fatalf("expected ended combat removed from the live map")
	}
	// A dead mob must not be released back to the scheduler.
	if len(f.world.released) != 0 {
		t.Fatalf("expected no release of dead mobs, got %v", f.world.released)
	}
	if !f.sched.scheduled(c.ID, purposeLogRelease) {
		t.Fatalf("expected log retention timer armed after finalize")
	}
}

func TestAllParticipantsDeadFinalizesDefeat(t *testing.T) {
	f := newFixture()
	c := f.startActive(t, []string{"alice", "bob"}, []uint64{500})

	f.mgr.Damage("bob", proto.CombatDamagePayload{CombatID: c.ID, TargetID: "alice", Amount: 100})
	if c.Phase != PhaseActive {
		t.Fatalf("expected combat to continue with one participant alive")
	}
	f.mgr.Damage("bob", proto.CombatDamagePayload{CombatID: c.ID, TargetID: "bob", Amount: 100})

	ended := f.log.last(t, proto.EventCombatEnded)
	if ended.Payload.(proto.CombatEndedPayload).Reason != ReasonDefeat {
		t.Fatalf("expected defeat reason")
	}
	// Surviving mobs return to the world scheduler.
	if len(f.world.released) != 1 || f.world.released[0] != 500 {
		t.Fatalf("expected mob 500 released, got %v", f.world.released)
	}
}

func TestActiveActorDeathRestartsTurn(t *testing.T) {
	f := newFixture()
	c := f.startActive(t, []string{"alice", "bob"}, []uint64{500})

	if c.ActiveActor().ID != "alice" {
		t.Fatalf("expected alice active")
	}
	f.mgr.Damage("bob", proto.CombatDamagePayload{CombatID: c.ID, TargetID: "alice", Amount: 100})
	if c.ActiveActor().ID != "bob" {
		t.Fatalf("expected turn handed to bob after active actor died, got %s", c.ActiveActor().ID)
	}
}

func TestFleeFinalizes(t *testing.T) {
	f := newFixture()
	c := f.startActive(t, []string{"alice"}, []uint64{500})

	f.mgr.Flee("alice", c.ID)
	ended := f.log.last(t, proto.EventCombatEnded)
	if ended.Payload.(proto.CombatEndedPayload).Reason != ReasonFled {
		t.Fatalf("expected fled reason")
	}
	if len(f.world.released) != 1 {
		t.Fatalf("expected surviving mob released on flee")
	}
}

func TestDisconnectGraceAndReconnect(t *testing.T) {
	f := newFixture()
	c := f.startActive(t, []string{"alice", "bob"}, []uint64{500})

	f.mgr.HandleDisconnect("alice")
	if f.sched.scheduled(c.ID, purposeGrace) {
		t.Fatalf("expected no grace timer while bob is still connected")
	}
	f.mgr.HandleDisconnect("bob")
	if !f.sched.scheduled(c.ID, purposeGrace) {
		t.Fatalf("expected grace timer when the last participant dropped")
	}

	combatID, ok := f.mgr.HandleReconnect("alice")
	if !ok || combatID != c.ID {
		t.Fatalf("expected reconnect to resolve combat %d, got %d ok=%v", c.ID, combatID, ok)
	}
	if f.sched.scheduled(c.ID, purposeGrace) {
		t.Fatalf("expected reconnect to cancel the grace timer")
	}
	if c.Phase != PhaseActive {
		t.Fatalf("expected combat still active after reconnect")
	}
}

func TestGraceExpiryFinalizesDisconnect(t *testing.T) {
	f := newFixture()
	c := f.startActive(t, []string{"alice"}, []uint64{500})

	f.mgr.HandleDisconnect("alice")
	f.sched.fire(t, c.ID, purposeGrace)

	ended := f.log.last(t, proto.EventCombatEnded)
	if ended.Payload.(proto.CombatEndedPayload).Reason != ReasonDisconnect {
		t.Fatalf("expected disconnect reason")
	}
}

func TestChecksumMismatchPushesSnapshot(t *testing.T) {
	f := newFixture()
	c := f.startActive(t, []string{"alice"}, []uint64{500})

	before := len(f.log.ofType(proto.EventCombatSnapshot))
	snap, ok := f.mgr.Snapshot(c.ID)
	if !ok {
		t.Fatalf("expected live snapshot")
	}

	f.mgr.Checksum("alice", proto.CombatChecksumPayload{
		CombatID: c.ID,
		Turn:     c.Turn,
		Checksum: StateChecksum(snap),
	})
	if got := len(f.log.ofType(proto.EventCombatSnapshot)); got != before {
		t.Fatalf("expected no snapshot push for a matching checksum")
	}

	f.mgr.Checksum("alice", proto.CombatChecksumPayload{
		CombatID: c.ID,
		Turn:     c.Turn,
		Checksum: "deadbeef",
	})
	if got := len(f.log.ofType(proto.EventCombatSnapshot)); got != before+1 {
		t.Fatalf("expected snapshot push on checksum mismatch")
	}
}

func TestEventsAreSequencedGapless(t *testing.T) {
	f := newFixture()
	c := f.startActive(t, []string{"alice", "bob"}, []uint64{500})
	f.mgr.EndTurn("alice", c.ID)
	f.mgr.Move("bob", proto.CombatMovePayload{CombatID: c.ID, To: proto.TileVec{X: 3, Y: 4}})
	f.mgr.EndTurn("bob", c.ID)

	var seqs []uint64
	for _, ev := range f.log.events {
		if ev.CombatID == c.ID {
			seqs = append(seqs, ev.CombatSeq)
		}
	}
	for i, seq := range seqs {
		if seq != uint64(i+1) {
			t.Fatalf("expected gapless sequence, got %v", seqs)
		}
	}
}
