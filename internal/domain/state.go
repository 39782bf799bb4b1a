package domain

import (
	"fmt"
	"slices"
)

// State is the in-memory authoritative model of one game: the game document plus the
// cards loaded for the current operation, keyed by id. Container membership lives in the
// game document; a card's Location mirrors it and is rewritten by every relocation.
//
// A State is owned by a single goroutine at a time.
type State struct {
	Game  *Game
	cards map[string]*Card
}

// NewState wraps a game document.
func NewState(game *Game) *State {
	return &State{Game: game, cards: make(map[string]*Card)}
}

// AddCard registers a loaded card with the state.
func (s *State) AddCard(card *Card) {
	s.cards[card.ID] = card
}

// Card returns a loaded card by id.
func (s *State) Card(id string) (*Card, bool) {
	c, ok := s.cards[id]
	return c, ok
}

// Player finds a player by username, case-insensitively.
func (s *State) Player(username string) (*Player, bool) {
	name := NormalizeUsername(username)
	if name == "" {
		return nil, false
	}
	for i := range s.Game.Players {
		if NormalizeUsername(s.Game.Players[i].Username) == name {
			return &s.Game.Players[i], true
		}
	}
	return nil, false
}

// Locate searches every container of the game for the card id.
func (s *State) Locate(cardID string) (Location, bool) {
	if cardID == "" {
		return Location{}, false
	}
	if slices.Contains(s.Game.Table, cardID) {
		return OnTable(), true
	}
	for _, p := range s.Game.Players {
		if slices.Contains(p.Hand, cardID) {
			return InHand(p.Username), true
		}
	}
	for i, d := range s.Game.Decks {
		if slices.Contains(d.Cards, cardID) {
			return InDeck(i), true
		}
	}
	return Location{}, false
}

// Relocate removes the card from its current container and appends it to the target.
// The target is validated first so a failed call leaves the state untouched.
func (s *State) Relocate(cardID string, to Location) error {
	from, ok := s.Locate(cardID)
	if !ok {
		return ErrCardNotFound
	}
	if err := s.checkContainer(to); err != nil {
		return err
	}
	if from == to {
		return nil
	}

	src := s.container(from)
	*src = removeID(*src, cardID)
	dst := s.container(to)
	*dst = append(*dst, cardID)

	if c, ok := s.cards[cardID]; ok {
		c.Location = to
	}
	return nil
}

// Draw moves up to n cards from the draw end of deck i into the player's hand and returns
// the drawn ids in draw order.
func (s *State) Draw(deck, n int, username string) ([]string, error) {
	if deck < 0 || deck >= len(s.Game.Decks) {
		return nil, fmt.Errorf("deck %d: %w", deck, ErrInvalidState)
	}
	player, ok := s.Player(username)
	if !ok {
		return nil, ErrPlayerNotFound
	}
	d := &s.Game.Decks[deck]
	if len(d.Cards) == 0 {
		return nil, ErrDeckEmpty
	}
	if n < 1 {
		n = 1
	}
	n = min(n, len(d.Cards))

	drawn := slices.Clone(d.Cards[:n])
	d.Cards = slices.Clone(d.Cards[n:])
	player.Hand = append(player.Hand, drawn...)

	to := InHand(player.Username)
	for _, id := range drawn {
		if c, ok := s.cards[id]; ok {
			c.Location = to
		}
	}
	return drawn, nil
}

// CardCount returns the number of card references across decks, hands and the table.
func (s *State) CardCount() int {
	n := len(s.Game.Table)
	for _, p := range s.Game.Players {
		n += len(p.Hand)
	}
	for _, d := range s.Game.Decks {
		n += len(d.Cards)
	}
	return n
}

// CheckInvariants verifies card conservation for a game built from len(Decks) decks and
// that every card sits in exactly one container.
func (s *State) CheckInvariants() error {
	want := CardsPerDeck * len(s.Game.Decks)
	if got := s.CardCount(); got != want {
		return fmt.Errorf("card count %d, want %d: %w", got, want, ErrInvalidState)
	}

	seen := make(map[string]Location, want)
	record := func(id string, loc Location) error {
		if prev, dup := seen[id]; dup {
			return fmt.Errorf("card %s in %v and %v: %w", id, prev, loc, ErrInvalidState)
		}
		seen[id] = loc
		return nil
	}
	for _, id := range s.Game.Table {
		if err := record(id, OnTable()); err != nil {
			return err
		}
	}
	for _, p := range s.Game.Players {
		for _, id := range p.Hand {
			if err := record(id, InHand(p.Username)); err != nil {
				return err
			}
		}
	}
	for i, d := range s.Game.Decks {
		for _, id := range d.Cards {
			if err := record(id, InDeck(i)); err != nil {
				return err
			}
		}
	}
	for id, c := range s.cards {
		if loc, ok := seen[id]; ok && loc != c.Location {
			return fmt.Errorf("card %s location %v, container %v: %w", id, c.Location, loc, ErrInvalidState)
		}
	}
	return nil
}

func (s *State) checkContainer(loc Location) error {
	switch loc.Kind {
	case ContainerTable:
		return nil
	case ContainerHand:
		if _, ok := s.Player(loc.Player); !ok {
			return ErrPlayerNotFound
		}
		return nil
	case ContainerDeck:
		if loc.Deck < 0 || loc.Deck >= len(s.Game.Decks) {
			return fmt.Errorf("deck %d: %w", loc.Deck, ErrInvalidState)
		}
		return nil
	}
	return fmt.Errorf("container %q: %w", loc.Kind, ErrInvalidState)
}

// container returns the id list backing loc. loc must have passed checkContainer.
func (s *State) container(loc Location) *[]string {
	switch loc.Kind {
	case ContainerHand:
		p, _ := s.Player(loc.Player)
		return &p.Hand
	case ContainerDeck:
		return &s.Game.Decks[loc.Deck].Cards
	default:
		return &s.Game.Table
	}
}

// removeID returns a copy of ids without the first occurrence of id.
func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	removed := false
	for _, v := range ids {
		if !removed && v == id {
			removed = true
			continue
		}
		out = append(out, v)
	}
	return out
}
