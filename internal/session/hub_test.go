package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"duskfall/server/internal/combat"
	"duskfall/server/internal/mapcontent"
	"duskfall/server/internal/store"
	"duskfall/server/internal/world"
)

// fakeConn satisfies Conn without a network peer. Reads block until the conn
// is closed, like an idle websocket.
type fakeConn struct {
	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.done
	return 0, nil, errors.New("connection closed")
}

func (c *fakeConn) WriteMessage(int, []byte) error { return nil }

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) SetReadLimit(int64) {}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(HubConfig{
		TokenSecret:      "test-secret",
		HeartbeatTimeout: time.Minute,
		WorldSeed:        1,
		WorldConfig:      world.Config{},
		CombatConfig:     combat.Config{},
	}, nil, mapcontent.BuiltinContent, nil, store.NewMemoryStore(), nil)
	t.Cleanup(h.World().Stop)
	return h
}

func TestJoinAllocatesIdentityAndSnapshot(t *testing.T) {
	h := newTestHub(t)

	resp, err := h.Join("meadow")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if resp.PlayerID == "" || resp.Token == "" {
		t.Fatalf("expected identity and token, got %+v", resp)
	}
	if resp.MapID != "meadow" {
		t.Fatalf("expected map meadow, got %q", resp.MapID)
	}
	if len(resp.Monsters) == 0 {
		t.Fatalf("expected initial monster snapshot")
	}
	if len(resp.Resources) == 0 {
		t.Fatalf("expected initial resource snapshot")
	}

	subject, err := VerifyResumeToken(resp.Token, "test-secret")
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if subject != resp.PlayerID {
		t.Fatalf("expected token minted for %s, got %s", resp.PlayerID, subject)
	}
}

func TestJoinAllocatesDistinctPlayers(t *testing.T) {
	h := newTestHub(t)

	a, err := h.Join("meadow")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	b, err := h.Join("cavern")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if a.PlayerID == b.PlayerID {
		t.Fatalf("expected distinct player ids, both %s", a.PlayerID)
	}
}

func TestJoinUnknownMapFails(t *testing.T) {
	h := newTestHub(t)
	if _, err := h.Join("nowhere"); err == nil {
		t.Fatalf("expected join to an unknown map to fail")
	}
}

func TestReconnectSurvivesReplacedSessionTeardown(t *testing.T) {
	h := newTestHub(t)
	resp, err := h.Join("meadow")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	old, err := h.Subscribe(resp.PlayerID, resp.Token, "meadow", newFakeConn())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	fresh, err := h.Subscribe(resp.PlayerID, resp.Token, "meadow", newFakeConn())
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	if !old.Closed() {
		t.Fatalf("expected the replaced session closed on reconnect")
	}

	// The replaced connection's read loop unwinds and reports its own,
	// already-superseded session. The replacement must be untouched.
	h.Disconnect(old)

	if fresh.Closed() {
		t.Fatalf("expected the reconnected session to stay open")
	}
	report := h.DiagnosticsSnapshot()
	if len(report.Players) != 1 || report.Players[0].PlayerID != resp.PlayerID {
		t.Fatalf("expected the reconnected session to stay registered, got %+v", report.Players)
	}
	if !h.IsHost(resp.PlayerID, "meadow") {
		t.Fatalf("expected the player to remain host after the stale teardown")
	}

	// A real disconnect of the live session still tears everything down.
	h.Disconnect(fresh)
	if got := len(h.DiagnosticsSnapshot().Players); got != 0 {
		t.Fatalf("expected no sessions after disconnecting the live one, got %d", got)
	}
}

func TestHostUnassignedWithoutSubscribers(t *testing.T) {
	h := newTestHub(t)
	resp, err := h.Join("meadow")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	// Joining reserves an identity; host assignment happens on subscribe.
	if h.IsHost(resp.PlayerID, "meadow") {
		t.Fatalf("expected no host before any subscription")
	}
	report := h.DiagnosticsSnapshot()
	if len(report.Players) != 0 {
		t.Fatalf("expected no player rows without sessions, got %d", len(report.Players))
	}
	if len(report.Maps) != 1 || report.Maps[0].MapID != "meadow" {
		t.Fatalf("expected one map row for meadow, got %+v", report.Maps)
	}
	if report.Maps[0].Monsters == 0 || report.Maps[0].Resources == 0 {
		t.Fatalf("expected entity counts in the map row, got %+v", report.Maps[0])
	}
}
