package sequencer

import (
	"duskfall/server/internal/proto"
)

// DefaultBufferLimit bounds the client-side out-of-order buffer.
const DefaultBufferLimit = 200

// Applier is the client-side counterpart of the sequencer: it reorders one
// combat's event stream back into the authoritative emission order. It is
// specified alongside the server because its correctness is coupled to the
// server's ordering guarantees.
type Applier struct {
	expected      uint64
	buffer        map[uint64]proto.Event
	bufferLimit   int
	replayPending bool

	apply         func(proto.Event)
	requestReplay func(fromSeq uint64)
	forceResync   func()
}

// NewApplier builds an applier expecting sequence 1 first. requestReplay is
// invoked at most once per open gap; forceResync fires when the buffer bound
// is exceeded and reordering alone can no longer recover.
func NewApplier(apply func(proto.Event), requestReplay func(uint64), forceResync func()) *Applier {
	return &Applier{
		expected:      1,
		buffer:        make(map[uint64]proto.Event),
		bufferLimit:   DefaultBufferLimit,
		apply:         apply,
		requestReplay: requestReplay,
		forceResync:   forceResync,
	}
}

// Expected reports the next sequence number the applier will accept.
func (a *Applier) Expected() uint64 { return a.expected }

// Receive feeds one event from the transport, in whatever order it arrived.
func (a *Applier) Receive(ev proto.Event) {
	switch {
	case ev.CombatSeq == a.expected:
		a.applyAndDrain(ev)
	case ev.CombatSeq > a.expected:
		if len(a.buffer) >= a.bufferLimit {
			if a.forceResync != nil {
				a.forceResync()
			}
			return
		}
		a.buffer[ev.CombatSeq] = ev
		if !a.replayPending {
			a.replayPending = true
			if a.requestReplay != nil {
				a.requestReplay(a.expected)
			}
		}
	default:
		// Already applied or obsolete.
	}
}

func (a *Applier) applyAndDrain(ev proto.Event) {
	a.apply(ev)
	a.expected++
	a.replayPending = false
	for {
		next, ok := a.buffer[a.expected]
		if !ok {
			break
		}
		delete(a.buffer, a.expected)
		a.apply(next)
		a.expected++
	}
}
