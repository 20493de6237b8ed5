// Package world owns the per-map mutable entity collections and the timers
// that drive roam, respawn, and harvest cycles. All mutations to one map's
// state run on that map's sequential task loop; timer callbacks re-enter the
// loop as ordinary tasks.
package world

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"duskfall/server/internal/mapcontent"
	"duskfall/server/internal/proto"
)

// Broadcaster fans an event out to every session on a map. Sends are
// fire-and-forget; the world never blocks on network writes.
type Broadcaster interface {
	BroadcastMap(mapID string, ev proto.Event)
}

// ContentSource resolves static map content by id.
type ContentSource func(mapID string) (mapcontent.Content, bool)

// World is the aggregate owning every loaded map. Maps are created lazily on
// first reference and kept for the process lifetime.
type World struct {
	mu   sync.Mutex
	maps map[string]*Map

	cfg       Config
	log       *zap.Logger
	broadcast Broadcaster
	content   ContentSource
	roll      mapcontent.LevelRoller

	nextEntityID atomic.Uint64
	nextGroupID  atomic.Uint64
	seed         int64
}

// New constructs a world. The level roller is injected so the world stays
// decoupled from stat tables.
func New(cfg Config, log *zap.Logger, broadcast Broadcaster, content ContentSource, roll mapcontent.LevelRoller, seed int64) *World {
	if log == nil {
		log = zap.NewNop()
	}
	if roll == nil {
		roll = func(string) int { return 1 }
	}
	return &World{
		maps:      make(map[string]*Map),
		cfg:       cfg.normalized(),
		log:       log,
		broadcast: broadcast,
		content:   content,
		roll:      roll,
		seed:      seed,
	}
}

// Map returns the runtime state for a map id, initializing it on first use.
// The second return is false when the content source does not know the id.
func (w *World) Map(id string) (*Map, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if m, ok := w.maps[id]; ok {
		return m, true
	}
	content, ok := w.content(id)
	if !ok {
		return nil, false
	}
	rng := rand.New(rand.NewSource(w.seed + int64(len(w.maps))))
	derived := mapcontent.Initialize(content, rng, w.roll)
	m := newMap(w, id, derived, rng)
	w.maps[id] = m
	go m.run()
	m.Post(func() { m.seed(derived) })
	w.log.Info("map initialized",
		zap.String("map", id),
		zap.Int("monsterGroups", len(derived.MonsterGroups)),
		zap.Int("resources", len(derived.Resources)))
	return m, true
}

// Loaded returns the currently loaded map ids.
func (w *World) Loaded() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.maps))
	for id := range w.maps {
		ids = append(ids, id)
	}
	return ids
}

// Stop terminates every map loop. Used on shutdown and in tests.
func (w *World) Stop() {
	w.mu.Lock()
	maps := make([]*Map, 0, len(w.maps))
	for _, m := range w.maps {
		maps = append(maps, m)
	}
	w.mu.Unlock()
	for _, m := range maps {
		m.stop()
	}
}

func (w *World) allocEntityID() uint64 { return w.nextEntityID.Add(1) }
func (w *World) allocGroupID() uint64  { return w.nextGroupID.Add(1) }
