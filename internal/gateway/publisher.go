package gateway

import (
	"context"
	"encoding/json"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/straub/table/internal/app"
	"github.com/straub/table/internal/protocol"
)

// Broadcaster fans a message out to a game room.
type Broadcaster interface {
	Broadcast(gameID string, msg protocol.Outbound, exclude string) int
}

// Publisher turns accepted card actions into gameMessage broadcasts. The originating
// session is skipped and the originating client id is attached so other tabs of the same
// client can recognise their own echo.
type Publisher struct {
	rooms  Broadcaster
	logger runtime.Logger
}

// NewPublisher constructs a Publisher over rooms.
func NewPublisher(rooms Broadcaster, logger runtime.Logger) *Publisher {
	return &Publisher{rooms: rooms, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, ev app.Event) {
	if ev.Kind != app.EventCardAction {
		return
	}
	msg, err := GameMessage(ev)
	if err != nil {
		p.logger.Error("Publish: encode %s for game %s: %v", ev.Action.Type, ev.GameID, err)
		return
	}
	n := p.rooms.Broadcast(ev.GameID, msg, ev.Origin.SessionID)
	p.logger.Debug("Publish: %s in game %s delivered to %d sessions", ev.Action.Type, ev.GameID, n)
}

// GameMessage renders an accepted action as the room broadcast frame.
func GameMessage(ev app.Event) (protocol.Outbound, error) {
	raw, err := json.Marshal(ev.Action.Payload)
	if err != nil {
		return protocol.Outbound{}, err
	}
	return protocol.Outbound{
		Event: protocol.EventGameMessage,
		Data: protocol.GameMessage{
			GameID:      ev.GameID,
			MessageType: protocol.MessageTypeCardAction,
			ActionType:  ev.Action.Type,
			ActionData:  raw,
			ClientID:    ev.Origin.ClientID,
			Version:     ev.Version,
		},
	}, nil
}

var _ app.Publisher = (*Publisher)(nil)
