package app

import (
	"context"

	"github.com/straub/table/internal/domain"
)

// EventKind identifies emitted application events.
type EventKind string

const (
	EventCardAction  EventKind = "card_action"
	EventGameCreated EventKind = "game_created"
)

// Origin identifies the connection and client instance that caused an event, so the
// broadcast can skip the originating session and clients can drop their own echoes.
type Origin struct {
	SessionID string
	ClientID  string
}

// Event is an accepted state change, ready for room-scoped dispatch.
type Event struct {
	Kind    EventKind
	GameID  string
	Version int64
	Action  domain.GameAction
	Origin  Origin
	// Drawn holds the full cards of a draw. It is returned to the caller only and never
	// broadcast, others learn the count from Action.Payload.
	Drawn []domain.Card
}

// Publisher receives events after they have been persisted.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event)

func (f PublisherFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) {}
