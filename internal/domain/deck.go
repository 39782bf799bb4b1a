package domain

// Deck is an ordered draw pile of card ids. Index 0 is the draw end.
type Deck struct {
	Cards []string `json:"cards"`
}

// Len returns the number of cards left in the deck.
func (d Deck) Len() int {
	return len(d.Cards)
}

// ShuffleCards permutes cards in place with a Fisher–Yates shuffle.
// intn must return a uniform value in [0, n).
func ShuffleCards[T any](cards []T, intn func(n int) int) {
	for i := len(cards) - 1; i > 0; i-- {
		j := intn(i + 1)
		cards[i], cards[j] = cards[j], cards[i]
	}
}
