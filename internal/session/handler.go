package session

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"duskfall/server/internal/gate"
	"duskfall/server/internal/proto"
)

const maxMessageSize = 32 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Handler exposes the hub over HTTP: the join handshake, the websocket
// stream, and the diagnostics listing.
type Handler struct {
	hub *Hub
	log *zap.Logger
}

// NewHandler wraps a hub for HTTP serving.
func NewHandler(hub *Hub, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{hub: hub, log: log}
}

// Register mounts the HTTP surface on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/join", h.handleJoin)
	mux.HandleFunc("/ws", h.handleWS)
	mux.HandleFunc("/diagnostics", h.handleDiagnostics)
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	mapID := r.URL.Query().Get("map")
	if mapID == "" {
		http.Error(w, "map query parameter required", http.StatusBadRequest)
		return
	}
	resp, err := h.hub.Join(mapID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Warn("encode join response", zap.Error(err))
	}
}

func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	playerID := q.Get("player")
	token := q.Get("token")
	mapID := q.Get("map")
	if playerID == "" || token == "" || mapID == "" {
		http.Error(w, "player, token, and map query parameters required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sess, err := h.hub.Subscribe(playerID, token, mapID, conn)
	if err != nil {
		h.log.Info("subscribe refused", zap.String("player", playerID), zap.Error(err))
		conn.Close()
		return
	}

	go h.readLoop(sess)
}

func (h *Handler) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.hub.DiagnosticsSnapshot()); err != nil {
		h.log.Warn("encode diagnostics", zap.Error(err))
	}
}

// readLoop consumes client frames until the connection dies. Malformed frames
// and refused commands terminate the session after a refusal notice; dropped
// commands are discarded silently.
func (h *Handler) readLoop(sess *Session) {
	defer h.hub.Disconnect(sess)

	sess.conn.SetReadLimit(maxMessageSize)
	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}

		cmd, ok, reason := proto.DecodeCommand(raw)
		if !ok {
			h.refuse(sess, reason)
			return
		}

		identity := gate.Identity{PlayerID: sess.PlayerID, MapID: sess.MapID}
		verdict, reason := gate.Admit(sess.Gate, identity, cmd, time.Now())
		switch verdict {
		case gate.Refuse:
			h.refuse(sess, reason)
			return
		case gate.Drop:
			continue
		}

		h.hub.dispatch(sess, cmd)
	}
}

func (h *Handler) refuse(sess *Session, reason string) {
	sess.SendJSON(proto.NewEvent(proto.EventRefusal, proto.RefusalPayload{Reason: reason}))
	h.log.Info("session refused",
		zap.String("player", sess.PlayerID),
		zap.String("reason", reason))
	sess.close()
}

// dispatch routes one admitted command. World and combat mutations are posted
// to the map loop; connection-local bookkeeping is handled inline.
func (h *Hub) dispatch(sess *Session, cmd proto.Command) {
	rt, ok := h.runtime(sess.MapID)
	if !ok {
		return
	}
	playerID := sess.PlayerID

	switch cmd.Type {
	case proto.CommandAck:
		sess.RecordAck(cmd.Ack.EventID)

	case proto.CommandHeartbeat:
		now := time.Now()
		rtt := sess.RecordHeartbeat(now, cmd.Heartbeat.SentAt)
		sess.SendJSON(proto.NewEvent(proto.EventHeartbeatAck, proto.HeartbeatAckPayload{
			ServerTime: now.UnixMilli(),
			ClientTime: cmd.Heartbeat.SentAt,
			RTTMillis:  rtt.Milliseconds(),
		}))

	case proto.CommandReplayRequest:
		h.serveReplay(sess, rt, cmd.Replay)

	case proto.CommandMove:
		if h.ext != nil {
			h.ext(playerID, cmd)
		}

	case proto.CommandMapEntities, proto.CommandMapResync:
		var snap proto.MapSnapshotPayload
		rt.m.Call(func() {
			snap = proto.MapSnapshotPayload{
				MapID:     sess.MapID,
				Monsters:  rt.m.MonstersSnapshot(),
				Resources: rt.m.ResourcesSnapshot(),
			}
		})
		h.SendTo(playerID, proto.NewEvent(proto.EventMapSnapshot, snap))

	case proto.CommandMobMove:
		if !h.IsHost(playerID, sess.MapID) {
			return // likely a host-migration race, not malice
		}
		p := *cmd.MobMove
		rt.m.Post(func() { rt.m.HostMobMove(p.EntityID, p.Steps, p.MoveSeq) })

	case proto.CommandMobDeath:
		if !h.IsHost(playerID, sess.MapID) {
			return
		}
		entityID := cmd.MobDeath.EntityID
		rt.m.Post(func() { rt.m.HostKillMonster(entityID) })

	case proto.CommandHarvest:
		entityID := cmd.Harvest.EntityID
		rt.m.Post(func() { rt.m.Harvest(entityID) })

	case proto.CommandCombatStart:
		p := *cmd.CombatStart
		rt.m.Post(func() { rt.mgr.Start(playerID, p) })

	case proto.CommandCombatJoin:
		combatID := cmd.CombatJoin.CombatID
		rt.m.Post(func() { rt.mgr.Join(playerID, combatID) })

	case proto.CommandCombatReady:
		combatID := cmd.CombatReady.CombatID
		rt.m.Post(func() { rt.mgr.Ready(playerID, combatID) })

	case proto.CommandCombatTurnEnd:
		combatID := cmd.CombatTurnEnd.CombatID
		rt.m.Post(func() { rt.mgr.EndTurn(playerID, combatID) })

	case proto.CommandCombatEnd:
		combatID := cmd.CombatEnd.CombatID
		rt.m.Post(func() { rt.mgr.Flee(playerID, combatID) })

	case proto.CommandCombatMove:
		p := *cmd.CombatMove
		rt.m.Post(func() { rt.mgr.Move(playerID, p) })

	case proto.CommandCombatCast:
		p := *cmd.CombatCast
		rt.m.Post(func() { rt.mgr.Cast(playerID, p) })

	case proto.CommandCombatDamage:
		p := *cmd.CombatDamage
		rt.m.Post(func() { rt.mgr.Damage(playerID, p) })

	case proto.CommandCombatChecksum:
		p := *cmd.CombatChecksum
		rt.m.Post(func() { rt.mgr.Checksum(playerID, p) })
	}
}

// serveReplay answers a gap-fill request from the retained combat log, or
// falls back to a full combat snapshot when the window has been evicted.
func (h *Hub) serveReplay(sess *Session, rt *mapRuntime, p *proto.ReplayRequestPayload) {
	events, ok := rt.seq.Replay(p.CombatID, p.FromSeq)
	if ok {
		for _, ev := range events {
			sess.SendJSON(ev)
		}
		return
	}
	combatID := p.CombatID
	playerID := sess.PlayerID
	rt.m.Post(func() {
		snap, live := rt.mgr.Snapshot(combatID)
		if !live {
			return
		}
		ev := proto.NewEvent(proto.EventCombatSnapshot, snap)
		ev.CombatID = combatID
		ev.CombatSeq = rt.seq.NextSeq(combatID) - 1
		h.SendTo(playerID, ev)
	})
}
