// Package gateway routes decoded client frames to the session hub and the table service,
// and turns accepted actions into room broadcasts.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/straub/table/internal/app"
	"github.com/straub/table/internal/domain"
	"github.com/straub/table/internal/protocol"
)

// Hub is the part of the session registry the router drives.
type Hub interface {
	Identify(id, username string) error
	Deidentify(id string) error
	Username(id string) string
	Subscribe(id, gameID string) error
	Unsubscribe(id, gameID string) error
	Broadcast(gameID string, msg protocol.Outbound, exclude string) int
	Announce(a protocol.Announcement, exclude string) int
	Emit(msg protocol.Outbound, exclude string) int
}

// Actions applies card actions.
type Actions interface {
	Apply(ctx context.Context, req app.ActionRequest) (app.Event, error)
}

// Router handles one inbound frame at a time per session.
type Router struct {
	hub         Hub
	actions     Actions
	logger      runtime.Logger
	adminSecret string
}

// NewRouter constructs a Router. An empty adminSecret disables admin broadcasts.
func NewRouter(hub Hub, actions Actions, logger runtime.Logger, adminSecret string) *Router {
	return &Router{hub: hub, actions: actions, logger: logger, adminSecret: adminSecret}
}

// Handle processes a frame from sessionID. It reports the acknowledgement value and
// whether the event is acknowledged at all; the caller sends the ack when the frame
// carried an id.
func (r *Router) Handle(ctx context.Context, sessionID string, in protocol.Inbound) (ok, acked bool) {
	logger := r.logger.WithFields(map[string]interface{}{"session": sessionID, "event": in.Event})
	switch in.Event {
	case protocol.EventIdentify:
		r.handleIdentify(sessionID, in.Data, logger)
		return false, true
	case protocol.EventDeidentify:
		if err := r.hub.Deidentify(sessionID); err != nil {
			logger.Warn("handleDeidentify: %v", err)
		}
		return false, true
	case protocol.EventSubscribe, protocol.EventUnsubscribe:
		r.handleSubscription(sessionID, in, logger)
		return false, false
	case protocol.EventCardAction:
		return r.handleCardAction(ctx, sessionID, in.Data, logger), true
	case protocol.EventPlayerMouseMove:
		return r.handleMouseMove(sessionID, in.Data, logger), true
	case protocol.EventUserMessage:
		r.handleUserMessage(sessionID, in.Data, logger)
		return false, false
	case protocol.EventAdminBroadcast:
		r.handleAdminBroadcast(in.Data, logger)
		return false, false
	}
	logger.Warn("Handle: unknown event")
	return false, true
}

func (r *Router) handleIdentify(sessionID string, data json.RawMessage, logger runtime.Logger) {
	var p protocol.Identify
	if err := protocol.Decode(data, &p); err != nil {
		logger.Warn("handleIdentify: %v", err)
		return
	}
	if err := r.hub.Identify(sessionID, p.Username); err != nil {
		logger.Warn("handleIdentify: %v", err)
	}
}

func (r *Router) handleSubscription(sessionID string, in protocol.Inbound, logger runtime.Logger) {
	var p protocol.Subscription
	if err := protocol.Decode(in.Data, &p); err != nil {
		logger.Warn("handleSubscription: %v", err)
		return
	}
	var err error
	if in.Event == protocol.EventSubscribe {
		err = r.hub.Subscribe(sessionID, p.GameID)
	} else {
		err = r.hub.Unsubscribe(sessionID, p.GameID)
	}
	if err != nil {
		logger.Warn("handleSubscription: %v", err)
	}
}

func (r *Router) handleCardAction(ctx context.Context, sessionID string, data json.RawMessage, logger runtime.Logger) bool {
	var p protocol.CardAction
	if err := protocol.Decode(data, &p); err != nil {
		logger.Warn("handleCardAction: %v", err)
		return false
	}
	if !p.ActionType.Valid() || p.ActionType == domain.ActionDraw {
		logger.Warn("received unrecognized cardAction: %s", p.ActionType)
		return false
	}

	actor := r.hub.Username(sessionID)
	if actor == "" {
		actor = p.ActionData.Player
	}
	_, err := r.actions.Apply(ctx, app.ActionRequest{
		GameID:  p.GameID,
		Actor:   actor,
		Type:    p.ActionType,
		Payload: p.ActionData,
		Origin:  app.Origin{SessionID: sessionID, ClientID: p.ClientID},
	})
	if err != nil {
		logActionError(logger.WithField("game", p.GameID), "handleCardAction", err)
		return false
	}
	return true
}

func (r *Router) handleMouseMove(sessionID string, data json.RawMessage, logger runtime.Logger) bool {
	var p protocol.PlayerMouseMove
	if err := protocol.Decode(data, &p); err != nil {
		logger.Warn("handleMouseMove: %v", err)
		return false
	}
	if p.ActionData.Player == "" {
		p.ActionData.Player = r.hub.Username(sessionID)
	}
	raw, err := json.Marshal(p.ActionData)
	if err != nil {
		logger.Error("handleMouseMove: %v", err)
		return false
	}
	r.hub.Broadcast(p.GameID, protocol.Outbound{
		Event: protocol.EventGameMessage,
		Data: protocol.GameMessage{
			GameID:      p.GameID,
			MessageType: protocol.MessageTypePlayerMouseMove,
			ActionData:  raw,
			ClientID:    p.ClientID,
		},
	}, sessionID)
	return true
}

func (r *Router) handleUserMessage(sessionID string, data json.RawMessage, logger runtime.Logger) {
	var p protocol.UserMessage
	if err := protocol.Decode(data, &p); err != nil {
		logger.Warn("handleUserMessage: %v", err)
		return
	}
	p.Username = r.hub.Username(sessionID)
	r.hub.Emit(protocol.Outbound{Event: protocol.EventUserMessage, Data: p}, sessionID)
}

func (r *Router) handleAdminBroadcast(data json.RawMessage, logger runtime.Logger) {
	var p protocol.AdminBroadcast
	if err := protocol.Decode(data, &p); err != nil {
		logger.Warn("handleAdminBroadcast: %v", err)
		return
	}
	if r.adminSecret == "" || subtle.ConstantTimeCompare([]byte(p.Secret), []byte(r.adminSecret)) != 1 {
		logger.Warn("handleAdminBroadcast: rejected secret")
		return
	}
	n := r.hub.Announce(p.Announcement, "")
	logger.Info("handleAdminBroadcast: announced %q to %d sessions", p.Title, n)
}

// logActionError logs rule rejections quietly and storage failures loudly.
func logActionError(logger runtime.Logger, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrPersistence):
		logger.Error("%s: %v", op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Warn("%s: %v", op, err)
	default:
		logger.Debug("%s: rejected: %v", op, err)
	}
}
