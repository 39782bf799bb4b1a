package domain

import (
	"slices"
	"strings"
	"time"
)

// ActionType identifies one of the state-changing actions on a game.
type ActionType string

const (
	ActionMove ActionType = "move"
	ActionFlip ActionType = "flip"
	ActionPlay ActionType = "play"
	ActionTake ActionType = "take"
	ActionDraw ActionType = "draw"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionMove, ActionFlip, ActionPlay, ActionTake, ActionDraw:
		return true
	}
	return false
}

// Profile is the identity a player references.
type Profile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Player is a profile seated in one game, with its hand.
type Player struct {
	ProfileID string   `json:"profileId"`
	Username  string   `json:"username"`
	Hand      []string `json:"hand"`
}

// ActionPayload carries the data of an action request, its broadcast and its log entry.
// Fields irrelevant to an action type stay zero.
type ActionPayload struct {
	CardID    string    `json:"cardId,omitempty"`
	Position  *Position `json:"position,omitempty"`
	Drop      bool      `json:"drop,omitempty"`
	Face      *bool     `json:"face,omitempty"`
	Player    string    `json:"player,omitempty"`
	DeckIndex *int      `json:"deckIndex,omitempty"`
	Count     int       `json:"count,omitempty"`
	Card      *Card     `json:"card,omitempty"`
}

// GameAction is an immutable action log record.
type GameAction struct {
	ID        string        `json:"id"`
	Type      ActionType    `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Actor     string        `json:"actor"`
	Payload   ActionPayload `json:"payload"`
}

// Game is the persisted document of one shared table. Cards are referenced by id.
type Game struct {
	ID        string       `json:"id"`
	Players   []Player     `json:"players"`
	Decks     []Deck       `json:"decks"`
	Table     []string     `json:"table"`
	Actions   []GameAction `json:"actions"`
	Version   int64        `json:"version"`
	CreatedAt time.Time    `json:"createdAt"`
}

// GameSummary lists a game without disclosing any card.
type GameSummary struct {
	ID        string    `json:"id"`
	Players   []string  `json:"players"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
}

// Summary returns the game's id, seating and version.
func (g *Game) Summary() GameSummary {
	players := make([]string, len(g.Players))
	for i, p := range g.Players {
		players[i] = p.Username
	}
	return GameSummary{ID: g.ID, Players: players, Version: g.Version, CreatedAt: g.CreatedAt}
}

// HasPlayer reports whether username is seated at the game.
func (g *Game) HasPlayer(username string) bool {
	name := NormalizeUsername(username)
	for _, p := range g.Players {
		if NormalizeUsername(p.Username) == name {
			return true
		}
	}
	return false
}

// SortSummaries orders summaries newest first, by id within the same instant.
func SortSummaries(out []GameSummary) {
	slices.SortFunc(out, func(a, b GameSummary) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// Clone returns a deep copy of the game document.
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	out := *g
	out.Players = make([]Player, len(g.Players))
	for i, p := range g.Players {
		p.Hand = slices.Clone(p.Hand)
		out.Players[i] = p
	}
	out.Decks = make([]Deck, len(g.Decks))
	for i, d := range g.Decks {
		out.Decks[i] = Deck{Cards: slices.Clone(d.Cards)}
	}
	out.Table = slices.Clone(g.Table)
	out.Actions = slices.Clone(g.Actions)
	return &out
}

// Clone returns a copy of the card.
func (c *Card) Clone() *Card {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}
