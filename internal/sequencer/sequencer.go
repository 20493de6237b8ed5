// Package sequencer assigns per-combat monotonic sequence numbers to
// state-changing events and retains a bounded history for replay.
package sequencer

import (
	"sync"

	"duskfall/server/internal/proto"
)

// DefaultRetention is the per-combat history bound. Clients that fall more
// than this many events behind must force a full resync instead.
const DefaultRetention = 512

// Sequencer stamps and records combat-scoped events.
type Sequencer struct {
	mu        sync.Mutex
	combats   map[uint64]*combatLog
	retention int
}

type combatLog struct {
	nextSeq  uint64
	firstSeq uint64
	events   []proto.Event
}

// New constructs a sequencer with the provided history retention. Values
// below 1 fall back to DefaultRetention.
func New(retention int) *Sequencer {
	if retention < 1 {
		retention = DefaultRetention
	}
	return &Sequencer{
		combats:   make(map[uint64]*combatLog),
		retention: retention,
	}
}

// Emit atomically assigns the combat's next sequence number, stamps the
// event, appends it to the history, and returns the stamped event.
func (s *Sequencer) Emit(combatID uint64, ev proto.Event) proto.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.combats[combatID]
	if !ok {
		log = &combatLog{nextSeq: 1, firstSeq: 1, events: make([]proto.Event, 0, 16)}
		s.combats[combatID] = log
	}

	ev.CombatID = combatID
	ev.CombatSeq = log.nextSeq
	log.nextSeq++
	log.events = append(log.events, ev)

	if overflow := len(log.events) - s.retention; overflow > 0 {
		log.events = append(log.events[:0], log.events[overflow:]...)
		log.firstSeq += uint64(overflow)
	}
	return ev
}

// Replay returns the history suffix with sequence >= fromSeq, in emission
// order. The second return is false when the requested suffix has already
// been evicted and the client needs a full resync instead.
func (s *Sequencer) Replay(combatID, fromSeq uint64) ([]proto.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.combats[combatID]
	if !ok {
		return nil, false
	}
	if fromSeq < log.firstSeq {
		return nil, false
	}
	if fromSeq >= log.nextSeq {
		return nil, true
	}
	start := int(fromSeq - log.firstSeq)
	suffix := make([]proto.Event, len(log.events)-start)
	copy(suffix, log.events[start:])
	return suffix, true
}

// NextSeq reports the sequence number the next emitted event will carry.
func (s *Sequencer) NextSeq(combatID uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log, ok := s.combats[combatID]; ok {
		return log.nextSeq
	}
	return 1
}

// Release drops a finished combat's history.
func (s *Sequencer) Release(combatID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.combats, combatID)
}
