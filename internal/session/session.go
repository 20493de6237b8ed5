package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"duskfall/server/internal/gate"
)

const (
	writeWait     = 10 * time.Second
	outboundDepth = 256
)

// Conn is the transport surface a session reads from and writes to.
// Satisfied by *websocket.Conn; tests substitute an in-process fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// Session is one active connection. It owns the gate bookkeeping for its
// commands and an outbound queue so broadcasts never block on the network.
type Session struct {
	ID       string
	PlayerID string
	MapID    string

	Gate *gate.State

	conn     Conn
	out      chan []byte
	closed   chan struct{}
	closeOne sync.Once

	mu            sync.Mutex
	lastHeartbeat time.Time
	lastRTT       time.Duration
	lastAck       uint64
	joinedAt      time.Time
}

func newSession(id, playerID, mapID string, conn Conn) *Session {
	s := &Session{
		ID:       id,
		PlayerID: playerID,
		MapID:    mapID,
		Gate:     gate.NewState(),
		conn:     conn,
		out:      make(chan []byte, outboundDepth),
		closed:   make(chan struct{}),
	}
	s.lastHeartbeat = time.Now()
	s.joinedAt = time.Now()
	go s.writeLoop()
	return s
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.closed:
			return
		case data := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.close()
				return
			}
		}
	}
}

// Send queues a marshaled message. A full queue means the client cannot keep
// up; the session is closed rather than blocking the sender.
func (s *Session) Send(data []byte) {
	select {
	case <-s.closed:
	case s.out <- data:
	default:
		s.close()
	}
}

// SendJSON marshals payload and queues it.
func (s *Session) SendJSON(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.Send(data)
}

func (s *Session) close() {
	s.closeOne.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// RecordHeartbeat updates connectivity metadata and returns the measured
// round-trip time.
func (s *Session) RecordHeartbeat(receivedAt time.Time, clientSent int64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = receivedAt
	if clientSent > 0 {
		clientTime := time.UnixMilli(clientSent)
		if clientTime.Before(receivedAt.Add(5 * time.Second)) {
			rtt := receivedAt.Sub(clientTime)
			if rtt < 0 {
				rtt = 0
			}
			s.lastRTT = rtt
		}
	}
	return s.lastRTT
}

// RecordAck stores the latest acknowledged global event id.
func (s *Session) RecordAck(eventID uint64) {
	s.mu.Lock()
	if eventID > s.lastAck {
		s.lastAck = eventID
	}
	s.mu.Unlock()
}

// LastHeartbeat returns the most recent heartbeat time.
func (s *Session) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

// Diagnostics exposes connectivity data for the diagnostics endpoint.
func (s *Session) Diagnostics() (lastHeartbeat time.Time, rtt time.Duration, lastAck uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat, s.lastRTT, s.lastAck
}

// JoinedAt reports when the session attached; host promotion picks the
// oldest survivor.
func (s *Session) JoinedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinedAt
}
