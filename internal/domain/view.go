package domain

// PlayerView is a player as seen by a viewer. Hand is only filled for the viewer.
type PlayerView struct {
	Username  string `json:"username"`
	HandCount int    `json:"handCount"`
	Hand      []Card `json:"hand,omitempty"`
}

// DeckView discloses only a deck's size.
type DeckView struct {
	Length int `json:"length"`
}

// GameView is the projection of a game sent to one viewer.
type GameView struct {
	ID      string       `json:"id"`
	Version int64        `json:"version"`
	Viewer  string       `json:"viewer,omitempty"`
	Players []PlayerView `json:"players"`
	Decks   []DeckView   `json:"decks"`
	Table   []Card       `json:"table"`
}

// View projects the state for viewer. Table cards and the viewer's hand must be loaded.
func (s *State) View(viewer string) GameView {
	viewer = NormalizeUsername(viewer)
	v := GameView{
		ID:      s.Game.ID,
		Version: s.Game.Version,
		Viewer:  viewer,
		Players: make([]PlayerView, 0, len(s.Game.Players)),
		Decks:   make([]DeckView, 0, len(s.Game.Decks)),
		Table:   make([]Card, 0, len(s.Game.Table)),
	}
	for _, p := range s.Game.Players {
		pv := PlayerView{Username: p.Username, HandCount: len(p.Hand)}
		if viewer != "" && NormalizeUsername(p.Username) == viewer {
			pv.Hand = s.loaded(p.Hand)
		}
		v.Players = append(v.Players, pv)
	}
	for _, d := range s.Game.Decks {
		v.Decks = append(v.Decks, DeckView{Length: len(d.Cards)})
	}
	v.Table = append(v.Table, s.loaded(s.Game.Table)...)
	return v
}

func (s *State) loaded(ids []string) []Card {
	out := make([]Card, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.cards[id]; ok {
			out = append(out, *c)
		}
	}
	return out
}
