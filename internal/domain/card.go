package domain

import "strings"

// Suit is one of the four French suits.
type Suit string

const (
	Spades   Suit = "spades"
	Clubs    Suit = "clubs"
	Hearts   Suit = "hearts"
	Diamonds Suit = "diamonds"
)

// Rank is one of the thirteen card ranks.
type Rank string

const (
	Ace   Rank = "ace"
	Two   Rank = "2"
	Three Rank = "3"
	Four  Rank = "4"
	Five  Rank = "5"
	Six   Rank = "6"
	Seven Rank = "7"
	Eight Rank = "8"
	Nine  Rank = "9"
	Ten   Rank = "10"
	Jack  Rank = "jack"
	Queen Rank = "queen"
	King  Rank = "king"
)

// Suits lists the suits in catalogue order. Deck construction iterates suits in the outer loop.
var Suits = []Suit{Spades, Clubs, Hearts, Diamonds}

// Ranks lists the ranks in catalogue order. King comes before queen.
var Ranks = []Rank{Ace, Two, Three, Four, Five, Six, Seven, Eight, Nine, Ten, Jack, King, Queen}

// CardsPerDeck is the size of one standard deck.
const CardsPerDeck = 52

// Position is a percentage coordinate on the table surface.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ContainerKind names the three places a card can live.
type ContainerKind string

const (
	ContainerDeck  ContainerKind = "deck"
	ContainerHand  ContainerKind = "hand"
	ContainerTable ContainerKind = "table"
)

// Location identifies the single container owning a card.
type Location struct {
	Kind   ContainerKind `json:"kind"`
	Deck   int           `json:"deck,omitempty"`
	Player string        `json:"player,omitempty"` // lowercase username for hands
}

// InDeck returns the location of deck i.
func InDeck(i int) Location { return Location{Kind: ContainerDeck, Deck: i} }

// InHand returns the location of a player's hand.
func InHand(username string) Location {
	return Location{Kind: ContainerHand, Player: NormalizeUsername(username)}
}

// OnTable returns the table location.
func OnTable() Location { return Location{Kind: ContainerTable} }

// Card is a single physical card belonging to one game.
type Card struct {
	ID       string   `json:"id"`
	GameID   string   `json:"gameId"`
	Rank     Rank     `json:"rank"`
	Suit     Suit     `json:"suit"`
	Face     bool     `json:"face"`
	Position Position `json:"position"`
	Location Location `json:"location"`
}

// Catalogue returns one face-up card template per (suit, rank) pair in catalogue order:
// ace of spades, 2 of spades, ... king of diamonds.
func Catalogue() []Card {
	cards := make([]Card, 0, CardsPerDeck)
	for _, suit := range Suits {
		for _, rank := range Ranks {
			cards = append(cards, Card{Rank: rank, Suit: suit, Face: true})
		}
	}
	return cards
}

// NormalizeUsername folds usernames for case-insensitive comparison.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
