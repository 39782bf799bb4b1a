// Package session tracks connected clients, their identities and game-room memberships,
// and fans messages out to them.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/straub/table/internal/domain"
	"github.com/straub/table/internal/protocol"
)

var (
	ErrHubStopped     = errors.New("hub stopped")
	ErrHubNotStarted  = errors.New("hub not started")
	ErrUnknownSession = errors.New("unknown session")
	ErrSessionExists  = errors.New("session already registered")
)

// Hub is the registry of live sessions. One RWMutex guards every map; senders never block
// on a client because each session has its own queue and pump goroutine.
type Hub struct {
	logger    runtime.Logger
	queueSize int

	mu       sync.RWMutex
	started  bool
	stopped  bool
	sessions map[string]*session
	rooms    map[string]map[string]struct{} // game id -> session ids
	names    map[string]string              // username -> owning session id

	wg sync.WaitGroup
}

// NewHub constructs a hub whose sessions buffer up to queueSize outbound messages.
func NewHub(logger runtime.Logger, queueSize int) *Hub {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Hub{
		logger:    logger,
		queueSize: queueSize,
		sessions:  make(map[string]*session),
		rooms:     make(map[string]map[string]struct{}),
		names:     make(map[string]string),
	}
}

// Start opens the hub for registrations.
func (h *Hub) Start() {
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
}

// Stop refuses new sessions, lets every pump flush its queue, closes the connections and
// waits for the pumps or ctx.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.stopped = true
	for _, s := range h.sessions {
		s.stop()
	}
	h.sessions = make(map[string]*session)
	h.rooms = make(map[string]map[string]struct{})
	h.names = make(map[string]string)
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register adds a session and greets it with the presence roster.
func (h *Hub) Register(id string, conn Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return ErrHubStopped
	}
	if !h.started {
		return ErrHubNotStarted
	}
	if _, ok := h.sessions[id]; ok {
		return ErrSessionExists
	}

	s := newSession(id, conn, h.queueSize)
	h.sessions[id] = s
	h.wg.Add(1)
	go h.pump(s)

	h.deliver(s, protocol.Outbound{Event: protocol.EventPresenceRoster, Data: h.roster()})
	return nil
}

// Identify binds username to the session. The latest session to claim a name owns it.
func (h *Hub) Identify(id, username string) error {
	name := domain.NormalizeUsername(username)
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	if s.username != "" && s.username != name && h.names[s.username] == id {
		delete(h.names, s.username)
	}
	if prev, ok := h.names[name]; ok && prev != id {
		if other, ok := h.sessions[prev]; ok {
			other.username = ""
		}
	}
	s.username = name
	h.names[name] = id

	h.announceLocked(protocol.Announcement{Title: name + " connected."}, id)
	h.broadcastRosterLocked()
	return nil
}

// Deidentify releases the session's username if it still owns it.
func (h *Hub) Deidentify(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	if s.username == "" {
		return nil
	}
	h.releaseNameLocked(s)
	h.broadcastRosterLocked()
	return nil
}

// Username returns the name bound to the session, or "".
func (h *Hub) Username(id string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if s, ok := h.sessions[id]; ok {
		return s.username
	}
	return ""
}

// Subscribe adds the session to a game room. Subscribing twice is a no-op.
func (h *Hub) Subscribe(id, gameID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	room, ok := h.rooms[gameID]
	if !ok {
		room = make(map[string]struct{})
		h.rooms[gameID] = room
	}
	room[id] = struct{}{}
	s.rooms[gameID] = struct{}{}
	return nil
}

// Unsubscribe removes the session from a game room.
func (h *Hub) Unsubscribe(id, gameID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	h.leaveLocked(s, gameID)
	return nil
}

// Members returns the session ids subscribed to gameID.
func (h *Hub) Members(gameID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.rooms[gameID]))
	for id := range h.rooms[gameID] {
		out = append(out, id)
	}
	return out
}

// Broadcast queues msg for every member of the room except exclude and returns how many
// sessions accepted it.
func (h *Hub) Broadcast(gameID string, msg protocol.Outbound, exclude string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for id := range h.rooms[gameID] {
		if id == exclude {
			continue
		}
		if h.deliver(h.sessions[id], msg) {
			n++
		}
	}
	return n
}

// Announce queues an announcement for every session except exclude.
func (h *Hub) Announce(a protocol.Announcement, exclude string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.announceLocked(a, exclude)
}

// Emit queues msg for every session except exclude.
func (h *Hub) Emit(msg protocol.Outbound, exclude string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.emitLocked(msg, exclude)
}

// SendTo queues msg for a single session.
func (h *Hub) SendTo(id string, msg protocol.Outbound) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	h.deliver(s, msg)
	return nil
}

// Disconnect forgets the session: its rooms, its name if still owned, and its pump.
// Game state is not touched.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[id]; ok {
		h.removeLocked(s)
	}
}

func (h *Hub) removeLocked(s *session) {
	for gameID := range s.rooms {
		h.leaveLocked(s, gameID)
	}
	delete(h.sessions, s.id)
	if s.username != "" && h.releaseNameLocked(s) {
		h.broadcastRosterLocked()
	}
	s.stop()
}

// Roster returns the identified usernames.
func (h *Hub) Roster() protocol.Roster {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.roster()
}

// Len reports the number of live sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) pump(s *session) {
	defer h.wg.Done()
	defer func() {
		if err := s.conn.Close(); err != nil {
			h.logger.Debug("pump: close session %s: %v", s.id, err)
		}
	}()
	for {
		select {
		case msg := <-s.out:
			if err := s.conn.Send(msg); err != nil {
				h.logger.Warn("pump: send to session %s failed: %v", s.id, err)
				return
			}
		case <-s.done:
			for {
				select {
				case msg := <-s.out:
					if err := s.conn.Send(msg); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// deliver queues msg. A session whose queue is full is dropped from the hub and its
// connection closed, so the client reconnects and resyncs instead of silently missing
// events.
func (h *Hub) deliver(s *session, msg protocol.Outbound) bool {
	if s == nil {
		return false
	}
	if s.enqueue(msg) {
		return true
	}
	select {
	case <-s.done:
		return false
	default:
	}
	s.dropOnce.Do(func() {
		h.logger.WithField("session", s.id).Warn("deliver: outbound queue full, dropping session")
		go h.drop(s)
	})
	return false
}

// drop removes an overflowing session. The connection is closed right away because the
// send pump may be stuck writing to the slow client.
func (h *Hub) drop(s *session) {
	h.mu.Lock()
	if h.sessions[s.id] == s {
		h.removeLocked(s)
	}
	h.mu.Unlock()
	if err := s.conn.Close(); err != nil {
		h.logger.Debug("drop: close session %s: %v", s.id, err)
	}
}

func (h *Hub) announceLocked(a protocol.Announcement, exclude string) int {
	return h.emitLocked(protocol.Outbound{Event: protocol.EventAnnouncement, Data: a}, exclude)
}

func (h *Hub) emitLocked(msg protocol.Outbound, exclude string) int {
	n := 0
	for id, s := range h.sessions {
		if id == exclude {
			continue
		}
		if h.deliver(s, msg) {
			n++
		}
	}
	return n
}

func (h *Hub) broadcastRosterLocked() {
	h.emitLocked(protocol.Outbound{Event: protocol.EventPresenceRoster, Data: h.roster()}, "")
}

// releaseNameLocked clears the session's name and announces the departure. It reports
// whether the session still owned the name.
func (h *Hub) releaseNameLocked(s *session) bool {
	name := s.username
	s.username = ""
	if h.names[name] != s.id {
		return false
	}
	delete(h.names, name)
	h.announceLocked(protocol.Announcement{Title: name + " disconnected."}, s.id)
	return true
}

func (h *Hub) leaveLocked(s *session, gameID string) {
	delete(s.rooms, gameID)
	room := h.rooms[gameID]
	delete(room, s.id)
	if len(room) == 0 {
		delete(h.rooms, gameID)
	}
}

func (h *Hub) roster() protocol.Roster {
	r := make(protocol.Roster, len(h.names))
	for name := range h.names {
		r[name] = name
	}
	return r
}
