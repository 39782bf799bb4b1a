package app

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/straub/table/internal/domain"
	"github.com/straub/table/internal/ports"
	"golang.org/x/sync/errgroup"
)

// DeckRequest asks for Count standard decks, optionally shuffled.
type DeckRequest struct {
	Count    int
	Shuffled bool
}

// DeckFactory builds and persists the physical cards of a game's decks.
type DeckFactory struct {
	cards ports.CardStore
	newID func() string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDeckFactory constructs a DeckFactory with provided rng or a time-seeded default.
func NewDeckFactory(cards ports.CardStore, rng *rand.Rand) *DeckFactory {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &DeckFactory{cards: cards, newID: uuid.NewString, rng: rng}
}

// Build creates req.Count decks of 52 cards for gameID. Each deck starts in catalogue
// order; when req.Shuffled it is permuted before any card is saved, so the persisted
// deck order is the shuffled order. Any failed save aborts the build.
func (f *DeckFactory) Build(ctx context.Context, gameID string, req DeckRequest) ([]domain.Deck, error) {
	if req.Count < 1 {
		return nil, ErrInvalidDeckCount
	}

	decks := make([]domain.Deck, req.Count)
	var all []*domain.Card
	for i := range decks {
		cards := f.newDeck(gameID, i)
		if req.Shuffled {
			f.shuffle(cards)
		}
		ids := make([]string, len(cards))
		for j, c := range cards {
			ids[j] = c.ID
		}
		decks[i] = domain.Deck{Cards: ids}
		all = append(all, cards...)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cardSaveConcurrency)
	for _, c := range all {
		g.Go(func() error {
			if err := f.cards.SaveCard(gctx, c); err != nil {
				return fmt.Errorf("save card %s: %w", c.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build decks for game %s: %w: %w", gameID, domain.ErrPersistence, err)
	}
	return decks, nil
}

func (f *DeckFactory) newDeck(gameID string, deck int) []*domain.Card {
	tpl := domain.Catalogue()
	cards := make([]*domain.Card, len(tpl))
	for i := range tpl {
		c := tpl[i]
		c.ID = f.newID()
		c.GameID = gameID
		c.Location = domain.InDeck(deck)
		cards[i] = &c
	}
	return cards
}

func (f *DeckFactory) shuffle(cards []*domain.Card) {
	f.mu.Lock()
	defer f.mu.Unlock()
	domain.ShuffleCards(cards, f.rng.Intn)
}
