// Package client keeps a participant's local view of joined games in step with the
// server. Card actions are applied locally first and rolled back when the server does
// not confirm them.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/heroiclabs/nakama-common/runtime"
	"golang.org/x/sync/errgroup"

	"github.com/straub/table/internal/config"
	"github.com/straub/table/internal/domain"
	"github.com/straub/table/internal/protocol"
)

var (
	ErrRejected   = errors.New("action rejected by server")
	ErrAckTimeout = errors.New("action not acknowledged in time")
	ErrNotJoined  = errors.New("game not joined")
)

// Transport is the client's connection to the server.
type Transport interface {
	// Send emits an event that is not acknowledged.
	Send(ctx context.Context, event string, payload any) error
	// Request emits an event and waits for its acknowledgement.
	Request(ctx context.Context, event string, payload any) (bool, error)
	FetchGame(ctx context.Context, gameID, viewer string) (domain.GameView, error)
	Draw(ctx context.Context, gameID string, deck int, req protocol.DrawRequest) (protocol.DrawResult, error)
}

// Reconciler owns the mirrors of every game the client joined.
type Reconciler struct {
	transport  Transport
	logger     runtime.Logger
	username   string
	clientID   string
	ackTimeout time.Duration

	mu      sync.Mutex
	mirrors map[string]*Mirror
}

// NewReconciler constructs a Reconciler acting as username. An empty clientID gets a random
// one; a non-positive ackTimeout uses five seconds.
func NewReconciler(transport Transport, logger runtime.Logger, username, clientID string, ackTimeout time.Duration) *Reconciler {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	if ackTimeout <= 0 {
		ackTimeout = time.Duration(config.GetTableConfig().AckTimeoutMS) * time.Millisecond
	}
	return &Reconciler{
		transport:  transport,
		logger:     logger,
		username:   domain.NormalizeUsername(username),
		clientID:   clientID,
		ackTimeout: ackTimeout,
		mirrors:    make(map[string]*Mirror),
	}
}

// ClientID is the tag the server attaches to broadcasts of this client's actions.
func (r *Reconciler) ClientID() string { return r.clientID }

// Join subscribes to the game's room and loads its view.
func (r *Reconciler) Join(ctx context.Context, gameID string) error {
	if err := r.transport.Send(ctx, protocol.EventSubscribe, protocol.Subscription{GameID: gameID}); err != nil {
		return fmt.Errorf("subscribe %s: %w", gameID, err)
	}
	return r.resync(ctx, gameID)
}

// Leave unsubscribes and forgets the mirror.
func (r *Reconciler) Leave(ctx context.Context, gameID string) error {
	r.mu.Lock()
	delete(r.mirrors, gameID)
	r.mu.Unlock()
	return r.transport.Send(ctx, protocol.EventUnsubscribe, protocol.Subscription{GameID: gameID})
}

// Mirror returns a copy of the game's mirror.
func (r *Reconciler) Mirror(gameID string) (*Mirror, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mirrors[gameID]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

func (r *Reconciler) Move(ctx context.Context, gameID, cardID string, pos domain.Position, drop bool) error {
	return r.optimistic(ctx, gameID, domain.ActionMove, domain.ActionPayload{CardID: cardID, Position: &pos, Drop: drop},
		func(m *Mirror) error { return m.move(cardID, pos) })
}

func (r *Reconciler) Flip(ctx context.Context, gameID, cardID string) error {
	return r.optimistic(ctx, gameID, domain.ActionFlip, domain.ActionPayload{CardID: cardID},
		func(m *Mirror) error { return m.flip(cardID, nil) })
}

// Play moves a card from the hand to the table, at pos when given.
func (r *Reconciler) Play(ctx context.Context, gameID, cardID string, pos *domain.Position) error {
	return r.optimistic(ctx, gameID, domain.ActionPlay, domain.ActionPayload{CardID: cardID, Position: pos},
		func(m *Mirror) error { return m.playOwn(cardID, pos) })
}

func (r *Reconciler) Take(ctx context.Context, gameID, cardID string) error {
	return r.optimistic(ctx, gameID, domain.ActionTake, domain.ActionPayload{CardID: cardID},
		func(m *Mirror) error { return m.takeOwn(cardID) })
}

// Draw asks the server for count cards from a deck and adds them to the hand once the
// server returns them.
func (r *Reconciler) Draw(ctx context.Context, gameID string, deck, count int) ([]domain.Card, error) {
	if !r.joined(gameID) {
		return nil, ErrNotJoined
	}
	res, err := r.transport.Draw(ctx, gameID, deck, protocol.DrawRequest{Player: r.username, Count: count, ClientID: r.clientID})
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.mirrors[gameID]; ok {
		m.addDrawn(deck, res.Cards)
		m.Version = max(m.Version, res.Version)
	}
	return res.Cards, nil
}

func (r *Reconciler) optimistic(ctx context.Context, gameID string, typ domain.ActionType, payload domain.ActionPayload, mutate func(*Mirror) error) error {
	r.mu.Lock()
	m, ok := r.mirrors[gameID]
	if !ok {
		r.mu.Unlock()
		return ErrNotJoined
	}
	undo := m.snapshot(payload.CardID)
	if err := mutate(m); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	payload.Player = r.username
	ackCtx, cancel := context.WithTimeout(ctx, r.ackTimeout)
	defer cancel()
	ok, err := r.transport.Request(ackCtx, protocol.EventCardAction, protocol.CardAction{
		GameID:     gameID,
		ActionType: typ,
		ActionData: payload,
		ClientID:   r.clientID,
	})
	if err == nil && ok {
		return nil
	}

	r.mu.Lock()
	if r.mirrors[gameID] == m {
		undo()
	}
	r.mu.Unlock()

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s %s: %w", typ, payload.CardID, ErrAckTimeout)
	case err != nil:
		return fmt.Errorf("%s %s: %w: %w", typ, payload.CardID, ErrRejected, err)
	}
	return fmt.Errorf("%s %s: %w", typ, payload.CardID, ErrRejected)
}

// HandleMessage applies a room broadcast. Messages tagged with this client's id are its
// own echoes and are dropped. It reports whether the mirror changed.
func (r *Reconciler) HandleMessage(ctx context.Context, msg protocol.GameMessage) (bool, error) {
	if msg.ClientID != "" && msg.ClientID == r.clientID {
		return false, nil
	}
	if msg.MessageType != protocol.MessageTypeCardAction {
		return false, nil
	}
	var p domain.ActionPayload
	if err := json.Unmarshal(msg.ActionData, &p); err != nil {
		return false, fmt.Errorf("decode %s actionData: %w", msg.ActionType, err)
	}

	r.mu.Lock()
	m, ok := r.mirrors[msg.GameID]
	if !ok {
		r.mu.Unlock()
		return false, nil
	}
	resync := m.applyRemote(msg.ActionType, p)
	m.Version = max(m.Version, msg.Version)
	r.mu.Unlock()

	if resync {
		r.logger.Debug("HandleMessage: %s in game %s needs a full view", msg.ActionType, msg.GameID)
		if err := r.resync(ctx, msg.GameID); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Reconnected resubscribes every joined room and replaces each mirror with a fresh view.
func (r *Reconciler) Reconnected(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.mirrors))
	for id := range r.mirrors {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			if err := r.transport.Send(ctx, protocol.EventSubscribe, protocol.Subscription{GameID: id}); err != nil {
				return fmt.Errorf("resubscribe %s: %w", id, err)
			}
			return r.resync(ctx, id)
		})
	}
	return g.Wait()
}

func (r *Reconciler) resync(ctx context.Context, gameID string) error {
	v, err := r.transport.FetchGame(ctx, gameID, r.username)
	if err != nil {
		return fmt.Errorf("fetch game %s: %w", gameID, err)
	}
	r.mu.Lock()
	r.mirrors[gameID] = NewMirror(v)
	r.mu.Unlock()
	return nil
}

func (r *Reconciler) joined(gameID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.mirrors[gameID]
	return ok
}
