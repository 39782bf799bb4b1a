package protocol

import (
	"encoding/json"
	"strings"

	"github.com/straub/table/internal/domain"
)

// Identify binds a username to the sending session.
type Identify struct {
	Username string `json:"username"`
}

func (p *Identify) Validate() error {
	if strings.TrimSpace(p.Username) == "" {
		return invalid("username is required")
	}
	return nil
}

// Deidentify releases the session's username. Username is informational.
type Deidentify struct {
	Username string `json:"username,omitempty"`
}

func (p *Deidentify) Validate() error { return nil }

// Subscription joins or leaves a game room. Older clients send the game id as "id".
type Subscription struct {
	GameID string `json:"gameId"`
	ID     string `json:"id,omitempty"`
}

func (p *Subscription) Validate() error {
	if p.GameID == "" {
		p.GameID = p.ID
	}
	if p.GameID == "" {
		return invalid("gameId is required")
	}
	return nil
}

// CardAction asks the server to apply a move, flip, play or take.
type CardAction struct {
	GameID     string               `json:"gameId"`
	ActionType domain.ActionType    `json:"actionType"`
	ActionData domain.ActionPayload `json:"actionData"`
	ClientID   string               `json:"clientId,omitempty"`
}

// Validate checks the envelope fields. An unknown actionType passes so the router can
// report it as an unrecognized action.
func (p *CardAction) Validate() error {
	if p.GameID == "" {
		return invalid("gameId is required")
	}
	if p.ActionType == "" {
		return invalid("actionType is required")
	}
	if p.ActionType.Valid() && p.ActionType != domain.ActionDraw && p.ActionData.CardID == "" {
		return invalid("actionData.cardId is required for %s", p.ActionType)
	}
	if p.ActionType == domain.ActionMove && p.ActionData.Position == nil {
		return invalid("actionData.position is required for move")
	}
	return nil
}

// MouseMoveData is a cursor position on the table.
type MouseMoveData struct {
	Position domain.Position `json:"position"`
	Player   string          `json:"player,omitempty"`
}

// PlayerMouseMove relays a cursor position to the rest of the room.
type PlayerMouseMove struct {
	GameID     string        `json:"gameId"`
	ActionData MouseMoveData `json:"actionData"`
	ClientID   string        `json:"clientId,omitempty"`
}

func (p *PlayerMouseMove) Validate() error {
	if p.GameID == "" {
		return invalid("gameId is required")
	}
	return nil
}

// UserMessage is free text from one user to every other session.
type UserMessage struct {
	Username string `json:"username,omitempty"`
	Text     string `json:"text"`
}

func (p *UserMessage) Validate() error {
	if strings.TrimSpace(p.Text) == "" {
		return invalid("text is required")
	}
	return nil
}

// Announcement is a process-wide notice.
type Announcement struct {
	Title  string `json:"title"`
	Text   string `json:"text,omitempty"`
	Time   int    `json:"time,omitempty"` // display duration in ms
	Sticky bool   `json:"sticky,omitempty"`
}

// AdminBroadcast asks the server to announce to everyone. Secret must match the server's.
type AdminBroadcast struct {
	Secret string `json:"secret"`
	Announcement
}

func (p *AdminBroadcast) Validate() error {
	if p.Secret == "" {
		return invalid("secret is required")
	}
	if strings.TrimSpace(p.Title) == "" {
		return invalid("title is required")
	}
	return nil
}

// GameMessage is the room broadcast of an accepted action or a cursor move.
type GameMessage struct {
	GameID      string            `json:"gameId"`
	MessageType string            `json:"messageType"`
	ActionType  domain.ActionType `json:"actionType,omitempty"`
	ActionData  json.RawMessage   `json:"actionData"`
	ClientID    string            `json:"clientId,omitempty"`
	Version     int64             `json:"version,omitempty"`
}

// Roster maps every identified username to itself.
type Roster map[string]string

// Ack answers an inbound frame that carried an id.
type Ack struct {
	ID string `json:"id"`
	OK bool   `json:"ok"`
}

// DrawRequest is the body of a draw call.
type DrawRequest struct {
	Player   string `json:"player"`
	Count    int    `json:"count,omitempty"`
	ClientID string `json:"clientId,omitempty"`
}

func (p *DrawRequest) Validate() error {
	if strings.TrimSpace(p.Player) == "" {
		return invalid("player is required")
	}
	if p.Count < 0 {
		return invalid("count must not be negative")
	}
	return nil
}

// DrawResult lists the drawn cards, in draw order.
type DrawResult struct {
	Cards   []domain.Card `json:"cards"`
	Version int64         `json:"version"`
}
