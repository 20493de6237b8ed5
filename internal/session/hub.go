// Package session owns live connections: the registry, host assignment,
// broadcast fan-out, and the routing of admitted commands into the per-map
// task loops.
package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"duskfall/server/internal/combat"
	"duskfall/server/internal/mapcontent"
	"duskfall/server/internal/proto"
	"duskfall/server/internal/sequencer"
	"duskfall/server/internal/store"
	"duskfall/server/internal/world"
)

// Collaborator receives the command categories this core does not own
// (player movement, inventory, and the rest of the out-of-scope pipeline).
type Collaborator func(playerID string, cmd proto.Command)

// HubConfig carries the session-level knobs.
type HubConfig struct {
	TokenSecret      string
	HeartbeatTimeout time.Duration
	WorldSeed        int64
	WorldConfig      world.Config
	CombatConfig     combat.Config
}

func (c HubConfig) normalized() HubConfig {
	if c.TokenSecret == "" {
		c.TokenSecret = "dev-only-secret"
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 45 * time.Second
	}
	return c
}

// mapRuntime bundles one map's loop, sequencer, and combat manager.
type mapRuntime struct {
	m   *world.Map
	seq *sequencer.Sequencer
	mgr *combat.Manager
}

// Hub owns every live session and is the broadcaster for both the world
// scheduler and the combat managers.
type Hub struct {
	cfg   HubConfig
	log   *zap.Logger
	world *world.World
	store store.PlayerStateStore
	ext   Collaborator

	mu       sync.Mutex
	sessions map[string]*Session            // by player id
	byMap    map[string]map[string]*Session // mapID -> playerID -> session
	hosts    map[string]string              // mapID -> host player id
	runtimes map[string]*mapRuntime

	nextEventID  atomic.Uint64
	nextPlayerID atomic.Uint64
}

// NewHub wires the hub, constructing the world with itself as broadcaster.
func NewHub(cfg HubConfig, log *zap.Logger, content world.ContentSource, roll mapcontent.LevelRoller, st store.PlayerStateStore, ext Collaborator) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		cfg:      cfg.normalized(),
		log:      log,
		store:    st,
		ext:      ext,
		sessions: make(map[string]*Session),
		byMap:    make(map[string]map[string]*Session),
		hosts:    make(map[string]string),
		runtimes: make(map[string]*mapRuntime),
	}
	h.world = world.New(cfg.WorldConfig, log, h, content, roll, cfg.WorldSeed)
	return h
}

// World exposes the world aggregate for diagnostics.
func (h *Hub) World() *world.World { return h.world }

// runtime returns (creating on first use) the runtime bundle for a map.
func (h *Hub) runtime(mapID string) (*mapRuntime, bool) {
	h.mu.Lock()
	if rt, ok := h.runtimes[mapID]; ok {
		h.mu.Unlock()
		return rt, true
	}
	h.mu.Unlock()

	m, ok := h.world.Map(mapID)
	if !ok {
		return nil, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if rt, ok := h.runtimes[mapID]; ok {
		return rt, true
	}
	seq := sequencer.New(0)
	rt := &mapRuntime{
		m:   m,
		seq: seq,
		mgr: combat.NewManager(mapID, h.cfg.CombatConfig, seq, m, m, h, h.log),
	}
	h.runtimes[mapID] = rt
	return rt, true
}

// JoinResponse is the handshake reply: identity, resume token, and the
// initial map snapshot.
type JoinResponse struct {
	Ver       int                      `json:"ver"`
	PlayerID  string                   `json:"playerId"`
	Token     string                   `json:"token"`
	MapID     string                   `json:"mapId"`
	Monsters  []proto.MonsterSnapshot  `json:"monsters,omitempty"`
	Resources []proto.ResourceSnapshot `json:"resources,omitempty"`
}

// Join allocates a player identity on a map and mints its resume token.
func (h *Hub) Join(mapID string) (JoinResponse, error) {
	rt, ok := h.runtime(mapID)
	if !ok {
		return JoinResponse{}, fmt.Errorf("unknown map %q", mapID)
	}
	playerID := fmt.Sprintf("player-%d", h.nextPlayerID.Add(1))
	token, err := MintResumeToken(playerID, h.cfg.TokenSecret)
	if err != nil {
		return JoinResponse{}, err
	}

	resp := JoinResponse{Ver: proto.ProtocolVersion, PlayerID: playerID, Token: token, MapID: mapID}
	rt.m.Call(func() {
		resp.Monsters = rt.m.MonstersSnapshot()
		resp.Resources = rt.m.ResourcesSnapshot()
	})
	h.store.Persist(store.PlayerState{PlayerID: playerID, MapID: mapID}, false)
	return resp, nil
}

// Subscribe attaches a websocket connection to a joined player. A valid
// resume token for an already-known player is a reconnect: the old session
// is replaced and any combat grace timer cancelled.
func (h *Hub) Subscribe(playerID, token, mapID string, conn Conn) (*Session, error) {
	subject, err := VerifyResumeToken(token, h.cfg.TokenSecret)
	if err != nil {
		return nil, err
	}
	if subject != playerID {
		return nil, fmt.Errorf("token subject mismatch")
	}
	rt, ok := h.runtime(mapID)
	if !ok {
		return nil, fmt.Errorf("unknown map %q", mapID)
	}

	sess := newSession(uuid.NewString(), playerID, mapID, conn)

	h.mu.Lock()
	if old, ok := h.sessions[playerID]; ok {
		old.close()
	}
	h.sessions[playerID] = sess
	if h.byMap[mapID] == nil {
		h.byMap[mapID] = make(map[string]*Session)
	}
	h.byMap[mapID][playerID] = sess
	_, hadHost := h.hosts[mapID]
	if !hadHost {
		h.hosts[mapID] = playerID
	}
	h.mu.Unlock()

	rt.m.Post(func() {
		rt.m.AddPlayer(playerID)
		rt.mgr.HandleReconnect(playerID)
	})
	if !hadHost {
		h.BroadcastMap(mapID, proto.NewEvent(proto.EventHostChanged, proto.HostChangedPayload{MapID: mapID, HostID: playerID}))
	}
	h.log.Info("session subscribed", zap.String("player", playerID), zap.String("map", mapID))
	return sess, nil
}

// Disconnect tears a session down: presence, combat grace, persistence,
// player-left broadcast, and host migration. A session that has already been
// replaced by a reconnect is no longer registered; its late teardown (the old
// connection's read loop unwinding) must not touch the replacement.
func (h *Hub) Disconnect(sess *Session) {
	playerID := sess.PlayerID
	h.mu.Lock()
	current, ok := h.sessions[playerID]
	if !ok || current != sess {
		h.mu.Unlock()
		sess.close()
		return
	}
	mapID := sess.MapID
	delete(h.sessions, playerID)
	if peers, ok := h.byMap[mapID]; ok {
		delete(peers, playerID)
	}
	newHost, hostChanged := h.migrateHostLocked(mapID, playerID)
	h.mu.Unlock()

	sess.close()

	if rt, ok := h.runtime(mapID); ok {
		rt.m.Post(func() {
			rt.m.RemovePlayer(playerID)
			combatID, _ := rt.mgr.PlayerCombat(playerID)
			rt.mgr.HandleDisconnect(playerID)
			h.store.Persist(store.PlayerState{PlayerID: playerID, MapID: mapID, CombatID: combatID}, true)
		})
	}

	h.BroadcastMap(mapID, proto.NewEvent(proto.EventPlayerLeft, proto.PlayerLeftPayload{PlayerID: playerID, MapID: mapID}))
	if hostChanged {
		h.BroadcastMap(mapID, proto.NewEvent(proto.EventHostChanged, proto.HostChangedPayload{MapID: mapID, HostID: newHost}))
	}
	h.log.Info("session disconnected", zap.String("player", playerID), zap.String("map", mapID))
}

// migrateHostLocked promotes the oldest surviving session when the host
// leaves. Returns the new host id when reassignment happened.
func (h *Hub) migrateHostLocked(mapID, leavingID string) (string, bool) {
	if h.hosts[mapID] != leavingID {
		return "", false
	}
	peers := h.byMap[mapID]
	if len(peers) == 0 {
		delete(h.hosts, mapID)
		return "", false
	}
	ids := make([]string, 0, len(peers))
	for id := range peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := peers[ids[i]], peers[ids[j]]
		if !a.JoinedAt().Equal(b.JoinedAt()) {
			return a.JoinedAt().Before(b.JoinedAt())
		}
		return ids[i] < ids[j]
	})
	h.hosts[mapID] = ids[0]
	return ids[0], true
}

// IsHost reports whether the player currently drives world-authoritative
// mob actions for its map.
func (h *Hub) IsHost(playerID, mapID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hosts[mapID] == playerID
}

// BroadcastMap stamps a global event id, marshals once, and fans out to
// every session on the map. Fire-and-forget: slow consumers are closed, not
// waited on.
func (h *Hub) BroadcastMap(mapID string, ev proto.Event) {
	if ev.EventID == 0 {
		ev.EventID = h.nextEventID.Add(1)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal broadcast", zap.Error(err), zap.String("type", string(ev.Type)))
		return
	}
	h.mu.Lock()
	targets := make([]*Session, 0, len(h.byMap[mapID]))
	for _, sess := range h.byMap[mapID] {
		targets = append(targets, sess)
	}
	h.mu.Unlock()
	for _, sess := range targets {
		sess.Send(data)
	}
}

// SendTo delivers an event to a single player, if connected.
func (h *Hub) SendTo(playerID string, ev proto.Event) {
	if ev.EventID == 0 {
		ev.EventID = h.nextEventID.Add(1)
	}
	h.mu.Lock()
	sess, ok := h.sessions[playerID]
	h.mu.Unlock()
	if !ok {
		return
	}
	sess.SendJSON(ev)
}

// Run sweeps for heartbeat-silent sessions until stop closes.
func (h *Hub) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			h.sweepStale(now)
		}
	}
}

func (h *Hub) sweepStale(now time.Time) {
	h.mu.Lock()
	stale := make([]*Session, 0)
	for _, sess := range h.sessions {
		if now.Sub(sess.LastHeartbeat()) > h.cfg.HeartbeatTimeout {
			stale = append(stale, sess)
		}
	}
	h.mu.Unlock()
	for _, sess := range stale {
		h.log.Info("disconnecting for heartbeat timeout", zap.String("player", sess.PlayerID))
		h.Disconnect(sess)
	}
}

// DiagnosticsReport is the diagnostics endpoint body.
type DiagnosticsReport struct {
	Ver     int                 `json:"ver"`
	Players []DiagnosticsPlayer `json:"players"`
	Maps    []DiagnosticsMap    `json:"maps"`
}

// DiagnosticsMap summarizes one loaded map.
type DiagnosticsMap struct {
	MapID     string `json:"mapId"`
	HostID    string `json:"hostId,omitempty"`
	Sessions  int    `json:"sessions"`
	Monsters  int    `json:"monsters"`
	Resources int    `json:"resources"`
}

// DiagnosticsPlayer is one row of the diagnostics endpoint.
type DiagnosticsPlayer struct {
	PlayerID      string `json:"playerId"`
	MapID         string `json:"mapId"`
	LastHeartbeat int64  `json:"lastHeartbeat"`
	RTTMillis     int64  `json:"rttMillis"`
	LastAck       uint64 `json:"lastAck"`
	Host          bool   `json:"host"`
}

// DiagnosticsSnapshot exposes per-session connectivity data and per-map
// entity counts.
func (h *Hub) DiagnosticsSnapshot() DiagnosticsReport {
	report := DiagnosticsReport{Ver: proto.ProtocolVersion}

	h.mu.Lock()
	for id, sess := range h.sessions {
		hb, rtt, ack := sess.Diagnostics()
		report.Players = append(report.Players, DiagnosticsPlayer{
			PlayerID:      id,
			MapID:         sess.MapID,
			LastHeartbeat: hb.UnixMilli(),
			RTTMillis:     rtt.Milliseconds(),
			LastAck:       ack,
			Host:          h.hosts[sess.MapID] == id,
		})
	}
	runtimes := make([]*mapRuntime, 0, len(h.runtimes))
	for _, rt := range h.runtimes {
		runtimes = append(runtimes, rt)
	}
	hosts := make(map[string]string, len(h.hosts))
	for mapID, hostID := range h.hosts {
		hosts[mapID] = hostID
	}
	sessionsByMap := make(map[string]int, len(h.byMap))
	for mapID, peers := range h.byMap {
		sessionsByMap[mapID] = len(peers)
	}
	h.mu.Unlock()

	for _, rt := range runtimes {
		row := DiagnosticsMap{
			MapID:    rt.m.ID(),
			HostID:   hosts[rt.m.ID()],
			Sessions: sessionsByMap[rt.m.ID()],
		}
		rt.m.Call(func() {
			row.Monsters = len(rt.m.MonstersSnapshot())
			row.Resources = len(rt.m.ResourcesSnapshot())
		})
		report.Maps = append(report.Maps, row)
	}

	sort.Slice(report.Players, func(i, j int) bool { return report.Players[i].PlayerID < report.Players[j].PlayerID })
	sort.Slice(report.Maps, func(i, j int) bool { return report.Maps[i].MapID < report.Maps[j].MapID })
	return report
}
