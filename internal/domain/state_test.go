package domain

import (
	"errors"
	"fmt"
	"slices"
	"testing"
)

// newTestState builds a game with the given number of decks in catalogue order and loads
// every card. Card ids are "d<deck>-<index>".
func newTestState(decks int, players ...string) *State {
	g := &Game{ID: "g1"}
	for _, name := range players {
		g.Players = append(g.Players, Player{ProfileID: "p-" + name, Username: name})
	}
	s := NewState(g)
	for d := 0; d < decks; d++ {
		var ids []string
		for i, tpl := range Catalogue() {
			c := tpl
			c.ID = fmt.Sprintf("d%d-%d", d, i)
			c.GameID = g.ID
			c.Location = InDeck(d)
			ids = append(ids, c.ID)
			s.AddCard(&c)
		}
		g.Decks = append(g.Decks, Deck{Cards: ids})
	}
	return s
}

func TestStatePlayerCaseInsensitive(t *testing.T) {
	s := newTestState(1, "Alice", "bob")
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"alice", "Alice", true},
		{"ALICE", "Alice", true},
		{" Bob ", "bob", true},
		{"carol", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		p, ok := s.Player(tt.name)
		if ok != tt.ok {
			t.Fatalf("Player(%q) ok = %v, want %v", tt.name, ok, tt.ok)
		}
		if ok && p.Username != tt.want {
			t.Fatalf("Player(%q) = %q, want %q", tt.name, p.Username, tt.want)
		}
	}
}

func TestStateDrawFromHead(t *testing.T) {
	s := newTestState(2, "alice")

	drawn, err := s.Draw(0, 3, "alice")
	if err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if want := []string{"d0-0", "d0-1", "d0-2"}; !slices.Equal(drawn, want) {
		t.Fatalf("drawn = %v, want %v", drawn, want)
	}
	if got := len(s.Game.Decks[0].Cards); got != 49 {
		t.Fatalf("deck 0 length = %d, want 49", got)
	}
	if got := len(s.Game.Decks[1].Cards); got != 52 {
		t.Fatalf("deck 1 length = %d, want 52", got)
	}
	p, _ := s.Player("alice")
	if !slices.Equal(p.Hand, drawn) {
		t.Fatalf("hand = %v, want %v", p.Hand, drawn)
	}
	c, _ := s.Card("d0-1")
	if c.Location != InHand("alice") {
		t.Fatalf("card location = %+v, want alice's hand", c.Location)
	}
	if err := s.CheckInvariants(); err != nil {
		t.Fatalf("CheckInvariants: %v", err)
	}
}

func TestStateDrawClampsToRemaining(t *testing.T) {
	s := newTestState(1, "alice")
	s.Game.Decks[0].Cards = s.Game.Decks[0].Cards[:2]
	// the two dropped cards are parked on the table to keep the count
	s.Game.Table = []string{"d0-50", "d0-51"}

	drawn, err := s.Draw(0, 5, "alice")
	if err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if len(drawn) != 2 {
		t.Fatalf("drew %d cards, want 2", len(drawn))
	}

	_, err = s.Draw(0, 1, "alice")
	if !errors.Is(err, ErrDeckEmpty) {
		t.Fatalf("Draw on empty deck err = %v, want ErrDeckEmpty", err)
	}
}

func TestStateDrawErrors(t *testing.T) {
	s := newTestState(1, "alice")
	tests := []struct {
		name   string
		deck   int
		player string
		want   error
	}{
		{"negative deck", -1, "alice", ErrInvalidState},
		{"deck out of range", 1, "alice", ErrInvalidState},
		{"unknown player", 0, "mallory", ErrPlayerNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Draw(tt.deck, 1, tt.player); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if len(s.Game.Decks[0].Cards) != 52 {
				t.Fatalf("failed draw changed the deck")
			}
		})
	}
}

func TestStateRelocate(t *testing.T) {
	s := newTestState(1, "alice", "bob")
	if _, err := s.Draw(0, 2, "alice"); err != nil {
		t.Fatalf("Draw: %v", err)
	}

	if err := s.Relocate("d0-0", OnTable()); err != nil {
		t.Fatalf("Relocate to table: %v", err)
	}
	if !slices.Equal(s.Game.Table, []string{"d0-0"}) {
		t.Fatalf("table = %v", s.Game.Table)
	}
	p, _ := s.Player("alice")
	if !slices.Equal(p.Hand, []string{"d0-1"}) {
		t.Fatalf("alice hand = %v", p.Hand)
	}

	if err := s.Relocate("d0-0", InHand("BOB")); err != nil {
		t.Fatalf("Relocate to bob: %v", err)
	}
	loc, ok := s.Locate("d0-0")
	if !ok || loc != InHand("bob") {
		t.Fatalf("Locate = %+v, %v; want bob's hand", loc, ok)
	}
	if len(s.Game.Table) != 0 {
		t.Fatalf("table = %v, want empty", s.Game.Table)
	}
	if err := s.CheckInvariants(); err != nil {
		t.Fatalf("CheckInvariants: %v", err)
	}
}

func TestStateRelocateRejectsBadTarget(t *testing.T) {
	s := newTestState(1, "alice")
	if err := s.Relocate("d0-0", InHand("mallory")); !errors.Is(err, ErrPlayerNotFound) {
		t.Fatalf("err = %v, want ErrPlayerNotFound", err)
	}
	if err := s.Relocate("d0-0", InDeck(3)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if err := s.Relocate("nope", OnTable()); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("err = %v, want ErrCardNotFound", err)
	}
	if loc, _ := s.Locate("d0-0"); loc != InDeck(0) {
		t.Fatalf("failed relocation moved the card to %+v", loc)
	}
}

func TestStateCheckInvariantsDetectsDuplicate(t *testing.T) {
	s := newTestState(1, "alice")
	s.Game.Table = append(s.Game.Table, s.Game.Decks[0].Cards[0])
	s.Game.Decks[0].Cards = s.Game.Decks[0].Cards[1:]
	s.Game.Table = append(s.Game.Table, s.Game.Table[0])
	s.Game.Decks[0].Cards = s.Game.Decks[0].Cards[1:]

	if err := s.CheckInvariants(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("CheckInvariants err = %v, want ErrInvalidState", err)
	}
}

func TestStateView(t *testing.T) {
	s := newTestState(2, "alice", "bob")
	if _, err := s.Draw(0, 2, "alice"); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if _, err := s.Draw(1, 1, "bob"); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if err := s.Relocate("d1-0", OnTable()); err != nil {
		t.Fatalf("Relocate: %v", err)
	}

	v := s.View("Alice")
	if len(v.Decks) != 2 || v.Decks[0].Length != 50 || v.Decks[1].Length != 51 {
		t.Fatalf("decks = %+v", v.Decks)
	}
	if len(v.Table) != 1 || v.Table[0].ID != "d1-0" {
		t.Fatalf("table = %+v", v.Table)
	}
	if len(v.Players[0].Hand) != 2 || v.Players[0].HandCount != 2 {
		t.Fatalf("alice view = %+v", v.Players[0])
	}
	if v.Players[1].Hand != nil || v.Players[1].HandCount != 0 {
		t.Fatalf("bob view leaked = %+v", v.Players[1])
	}
}

func TestGameCloneIsDeep(t *testing.T) {
	s := newTestState(1, "alice")
	clone := s.Game.Clone()
	if _, err := s.Draw(0, 1, "alice"); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if len(clone.Decks[0].Cards) != 52 || len(clone.Players[0].Hand) != 0 {
		t.Fatalf("clone shares containers with the original")
	}
}
