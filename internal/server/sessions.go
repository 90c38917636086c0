package server

import (
	"net"
	"time"

	"github.com/google/uuid"

	"grid-clash/internal/game"
)

// SessionState is the per-session lifecycle. There is no Disconnected →
// Active transition: a returning client is admitted as a new session and
// takes whatever slot is free.
type SessionState int

const (
	SessionConnecting SessionState = iota
	SessionActive
	SessionDisconnected
)

// String names the state for logs.
func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionActive:
		return "active"
	case SessionDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Session binds a remote address to a player slot for the lifetime of the
// connection or until the inactivity timeout reaps it. Score history is not
// preserved across reconnects.
type Session struct {
	ID       string // stable identity for logs, distinct from the player slot
	PlayerID string
	Addr     *net.UDPAddr
	State    SessionState
	JoinedAt time.Time
	LastSeen time.Time
}

// sessionTable maps remote addresses to sessions. It is owned by the engine
// and only touched under the engine mutex.
type sessionTable struct {
	byAddr map[string]*Session
	slots  int
}

func newSessionTable(slots int) *sessionTable {
	return &sessionTable{
		byAddr: make(map[string]*Session, slots),
		slots:  slots,
	}
}

// lookup returns the session for a remote address, or nil.
func (t *sessionTable) lookup(addr *net.UDPAddr) *Session {
	return t.byAddr[addr.String()]
}

// admit assigns the lowest unused player slot to addr. It returns nil when
// every slot is taken; the caller ignores the connect attempt silently.
func (t *sessionTable) admit(addr *net.UDPAddr, now time.Time) *Session {
	taken := make(map[string]bool, len(t.byAddr))
	for _, s := range t.byAddr {
		taken[s.PlayerID] = true
	}

	var playerID string
	for slot := 1; slot <= t.slots; slot++ {
		if id := game.SlotID(slot); !taken[id] {
			playerID = id
			break
		}
	}
	if playerID == "" {
		return nil
	}

	sess := &Session{
		ID:       uuid.NewString(),
		PlayerID: playerID,
		Addr:     addr,
		State:    SessionConnecting,
		JoinedAt: now,
		LastSeen: now,
	}
	t.byAddr[addr.String()] = sess
	return sess
}

// remove evicts a session.
func (t *sessionTable) remove(sess *Session) {
	sess.State = SessionDisconnected
	delete(t.byAddr, sess.Addr.String())
}

// stale returns sessions whose address has been quiet longer than timeout.
func (t *sessionTable) stale(now time.Time, timeout time.Duration) []*Session {
	var out []*Session
	for _, s := range t.byAddr {
		if now.Sub(s.LastSeen) > timeout {
			out = append(out, s)
		}
	}
	return out
}

// all returns every live session.
func (t *sessionTable) all() []*Session {
	out := make([]*Session, 0, len(t.byAddr))
	for _, s := range t.byAddr {
		out = append(out, s)
	}
	return out
}

func (t *sessionTable) count() int {
	return len(t.byAddr)
}
