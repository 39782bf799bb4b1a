// Package protocol defines the JSON messages exchanged with table clients.
//
// Every frame is an envelope {"event": name, "id": ackID, "data": payload}. A client sets
// id on events that expect an acknowledgement; the server answers with an "ack" event
// carrying the same id.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client to server events.
const (
	EventIdentify        = "identify"
	EventDeidentify      = "deidentify"
	EventSubscribe       = "game:subscribe"
	EventUnsubscribe     = "game:unsubscribe"
	EventCardAction      = "game:cardAction"
	EventPlayerMouseMove = "game:playerMouseMove"
	EventUserMessage     = "userMessage"
	EventAdminBroadcast  = "adminBroadcast"
)

// Server to client events.
const (
	EventGameMessage    = "gameMessage"
	EventPresenceRoster = "presenceRoster"
	EventAnnouncement   = "announcement"
	EventAck            = "ack"
)

// Message types inside a gameMessage.
const (
	MessageTypeCardAction      = "cardAction"
	MessageTypePlayerMouseMove = "playerMouseMove"
)

// ErrInvalidPayload is wrapped by every Validate failure.
var ErrInvalidPayload = errors.New("invalid payload")

// Inbound is a frame received from a client. Data is decoded once the event is known.
type Inbound struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is a frame sent to a client.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Validator is implemented by every client payload.
type Validator interface {
	Validate() error
}

// Decode unmarshals data into v and validates it.
func Decode(data json.RawMessage, v Validator) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return v.Validate()
}

// NewAck builds the acknowledgement for an inbound frame.
func NewAck(id string, ok bool) Outbound {
	return Outbound{Event: EventAck, Data: Ack{ID: id, OK: ok}}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}
