package session

import (
	"sync"

	"github.com/straub/table/internal/protocol"
)

// Conn is the outbound half of a client connection. Send may block; the hub calls it from
// a dedicated goroutine per session.
type Conn interface {
	Send(msg protocol.Outbound) error
	Close() error
}

type session struct {
	id       string
	conn     Conn
	username string
	rooms    map[string]struct{}

	out      chan protocol.Outbound
	done     chan struct{}
	stopOnce sync.Once
	dropOnce sync.Once
}

func newSession(id string, conn Conn, queueSize int) *session {
	return &session{
		id:    id,
		conn:  conn,
		rooms: make(map[string]struct{}),
		out:   make(chan protocol.Outbound, queueSize),
		done:  make(chan struct{}),
	}
}

// enqueue queues msg without blocking. A full queue means the client cannot keep up; the
// caller must drop the session.
func (s *session) enqueue(msg protocol.Outbound) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- msg:
		return true
	default:
		return false
	}
}

// stop ends the send pump after it flushes what is already queued.
func (s *session) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}
