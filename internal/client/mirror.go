package client

import (
	"maps"

	"github.com/straub/table/internal/domain"
)

// Mirror is a client's local copy of what it may see of one game.
type Mirror struct {
	GameID      string
	Self        string
	Version     int64
	Table       map[string]domain.Card
	Hand        map[string]domain.Card
	DeckLengths []int
	// HandCounts holds the hand size of every other player.
	HandCounts map[string]int
}

// NewMirror seeds a mirror from a full view fetched for self.
func NewMirror(v domain.GameView) *Mirror {
	self := domain.NormalizeUsername(v.Viewer)
	m := &Mirror{
		GameID:     v.ID,
		Self:       self,
		Version:    v.Version,
		Table:      make(map[string]domain.Card, len(v.Table)),
		Hand:       make(map[string]domain.Card),
		HandCounts: make(map[string]int, len(v.Players)),
	}
	for _, c := range v.Table {
		m.Table[c.ID] = c
	}
	for _, p := range v.Players {
		if domain.NormalizeUsername(p.Username) == self {
			for _, c := range p.Hand {
				m.Hand[c.ID] = c
			}
			continue
		}
		m.HandCounts[domain.NormalizeUsername(p.Username)] = p.HandCount
	}
	for _, d := range v.Decks {
		m.DeckLengths = append(m.DeckLengths, d.Length)
	}
	return m
}

// Clone returns an independent copy.
func (m *Mirror) Clone() *Mirror {
	out := *m
	out.Table = maps.Clone(m.Table)
	out.Hand = maps.Clone(m.Hand)
	out.HandCounts = maps.Clone(m.HandCounts)
	out.DeckLengths = append([]int(nil), m.DeckLengths...)
	return &out
}

// snapshot captures where cardID sits locally so an optimistic change can be undone
// without discarding unrelated updates that arrived in between.
func (m *Mirror) snapshot(cardID string) func() {
	tc, onTable := m.Table[cardID]
	hc, inHand := m.Hand[cardID]
	return func() {
		delete(m.Table, cardID)
		delete(m.Hand, cardID)
		if onTable {
			m.Table[cardID] = tc
		}
		if inHand {
			m.Hand[cardID] = hc
		}
	}
}

// find returns the visible card and a setter writing it back to its container.
func (m *Mirror) find(cardID string) (domain.Card, func(domain.Card), bool) {
	if c, ok := m.Table[cardID]; ok {
		return c, func(c domain.Card) { m.Table[cardID] = c }, true
	}
	if c, ok := m.Hand[cardID]; ok {
		return c, func(c domain.Card) { m.Hand[cardID] = c }, true
	}
	return domain.Card{}, nil, false
}

func (m *Mirror) move(cardID string, pos domain.Position) error {
	c, set, ok := m.find(cardID)
	if !ok {
		return domain.ErrCardNotFound
	}
	c.Position = pos
	set(c)
	return nil
}

// flip sets the face when face is given and toggles it otherwise.
func (m *Mirror) flip(cardID string, face *bool) error {
	c, set, ok := m.find(cardID)
	if !ok {
		return domain.ErrCardNotFound
	}
	if face != nil {
		c.Face = *face
	} else {
		c.Face = !c.Face
	}
	set(c)
	return nil
}

func (m *Mirror) playOwn(cardID string, pos *domain.Position) error {
	c, ok := m.Hand[cardID]
	if !ok {
		return domain.ErrInvalidState
	}
	delete(m.Hand, cardID)
	if pos != nil {
		c.Position = *pos
	}
	c.Location = domain.OnTable()
	m.Table[cardID] = c
	return nil
}

func (m *Mirror) takeOwn(cardID string) error {
	c, ok := m.Table[cardID]
	if !ok {
		return domain.ErrInvalidState
	}
	delete(m.Table, cardID)
	c.Location = domain.InHand(m.Self)
	m.Hand[cardID] = c
	return nil
}

// addDrawn puts cards drawn by self into the hand.
func (m *Mirror) addDrawn(deck int, cards []domain.Card) {
	for _, c := range cards {
		m.Hand[c.ID] = c
	}
	if deck >= 0 && deck < len(m.DeckLengths) {
		m.DeckLengths[deck] = max(m.DeckLengths[deck]-len(cards), 0)
	}
}

// applyRemote applies an action performed elsewhere. It reports whether the mirror can no
// longer be kept consistent from broadcasts alone and needs a full view.
func (m *Mirror) applyRemote(typ domain.ActionType, p domain.ActionPayload) (resync bool) {
	player := domain.NormalizeUsername(p.Player)
	self := player == m.Self
	switch typ {
	case domain.ActionMove:
		if p.Position != nil {
			_ = m.move(p.CardID, *p.Position)
		}
	case domain.ActionFlip:
		_ = m.flip(p.CardID, p.Face)
	case domain.ActionPlay:
		if self {
			delete(m.Hand, p.CardID)
		} else if m.HandCounts[player] > 0 {
			m.HandCounts[player]--
		}
		if p.Card == nil {
			return true
		}
		c := *p.Card
		c.Location = domain.OnTable()
		m.Table[c.ID] = c
	case domain.ActionTake:
		c, ok := m.Table[p.CardID]
		delete(m.Table, p.CardID)
		if !self {
			m.HandCounts[player]++
			return false
		}
		if !ok {
			return true
		}
		c.Location = domain.InHand(m.Self)
		m.Hand[c.ID] = c
	case domain.ActionDraw:
		if p.DeckIndex != nil && *p.DeckIndex >= 0 && *p.DeckIndex < len(m.DeckLengths) {
			m.DeckLengths[*p.DeckIndex] = max(m.DeckLengths[*p.DeckIndex]-p.Count, 0)
		}
		if self {
			// another client of the same user drew; the cards are only in a full view
			return true
		}
		m.HandCounts[player] += p.Count
	default:
		return true
	}
	return false
}
