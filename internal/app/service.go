package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/straub/table/internal/config"
	"github.com/straub/table/internal/domain"
	"github.com/straub/table/internal/ports"
)

var (
	ErrTooFewPlayers    = errors.New("not enough players to create a game")
	ErrInvalidDeckCount = errors.New("invalid deck count")
	ErrInvalidPayload   = errors.New("malformed action payload")
)

// Service contains the card table use-cases. All state changes of one game are
// serialized; different games proceed in parallel.
type Service struct {
	store     ports.Store
	publisher Publisher
	decks     *DeckFactory
	locks     *gameLocks
	settings  config.TableConfig

	now   func() time.Time
	newID func() string
}

// NewService constructs a Service over store. publisher may be nil to drop events; rng may
// be nil to use a time-seeded default.
func NewService(store ports.Store, publisher Publisher, rng *rand.Rand) *Service {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &Service{
		store:     store,
		publisher: publisher,
		decks:     NewDeckFactory(store, rng),
		locks:     newGameLocks(),
		settings:  config.GetTableConfig(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Settings returns the table configuration the service enforces.
func (s *Service) Settings() config.TableConfig {
	return s.settings
}

// CreateGameRequest describes a new game. Players may repeat the creator and may use any
// letter case.
type CreateGameRequest struct {
	Creator  string
	Players  []string
	Decks    int   // 0 selects the configured default
	Shuffled *bool // nil selects the configured default
}

// CreateGame validates the seating, builds the decks and saves the new game.
func (s *Service) CreateGame(ctx context.Context, req CreateGameRequest) (*domain.Game, error) {
	names := seatingOrder(req.Creator, req.Players)
	if len(names) < MinPlayersToCreateGame {
		return nil, ErrTooFewPlayers
	}

	count := req.Decks
	if count == 0 {
		count = s.settings.DecksPerGame
	}
	if count < 1 || count > s.settings.MaxDecks {
		return nil, fmt.Errorf("%d decks: %w", count, ErrInvalidDeckCount)
	}
	shuffled := s.settings.Shuffle
	if req.Shuffled != nil {
		shuffled = *req.Shuffled
	}

	profiles, err := s.store.FindProfilesByUsername(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("find profiles: %w: %w", domain.ErrPersistence, err)
	}
	byName := make(map[string]domain.Profile, len(profiles))
	for _, p := range profiles {
		byName[domain.NormalizeUsername(p.Username)] = p
	}
	players := make([]domain.Player, 0, len(names))
	for _, name := range names {
		p, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%s: %w", name, domain.ErrPlayerNotFound)
		}
		players = append(players, domain.Player{ProfileID: p.ID, Username: name, Hand: []string{}})
	}

	game := &domain.Game{
		ID:        s.newID(),
		Players:   players,
		Table:     []string{},
		Actions:   []domain.GameAction{},
		CreatedAt: s.now().UTC(),
	}
	release, err := s.locks.acquire(ctx, game.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	decks, err := s.decks.Build(ctx, game.ID, DeckRequest{Count: count, Shuffled: shuffled})
	if err != nil {
		return nil, err
	}
	game.Decks = decks

	if err := s.store.SaveGame(ctx, game); err != nil {
		return nil, fmt.Errorf("save game %s: %w: %w", game.ID, domain.ErrPersistence, err)
	}
	s.publisher.Publish(ctx, Event{Kind: EventGameCreated, GameID: game.ID})
	return game, nil
}

// View returns the game as seen by viewer. An unknown viewer sees no hand.
func (s *Service) View(ctx context.Context, gameID, viewer string) (domain.GameView, error) {
	release, err := s.locks.acquire(ctx, gameID)
	if err != nil {
		return domain.GameView{}, err
	}
	defer release()

	st, err := s.loadState(ctx, gameID)
	if err != nil {
		return domain.GameView{}, err
	}
	ids := st.Game.Table
	if p, ok := st.Player(viewer); ok {
		ids = append(append([]string{}, ids...), p.Hand...)
	}
	if _, err := s.loadCards(ctx, st, ids); err != nil {
		return domain.GameView{}, err
	}
	return st.View(viewer), nil
}

// Actions returns the action log entries from index since onwards.
func (s *Service) Actions(ctx context.Context, gameID string, since int) ([]domain.GameAction, error) {
	game, err := s.loadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if since < 0 {
		since = 0
	}
	if since >= len(game.Actions) {
		return []domain.GameAction{}, nil
	}
	return game.Actions[since:], nil
}

// SearchProfiles returns profiles whose username starts with term.
// ListGames summarizes the games player is seated at, or every game when player is empty.
// An unknown player is ErrPlayerNotFound.
func (s *Service) ListGames(ctx context.Context, player string) ([]domain.GameSummary, error) {
	name := domain.NormalizeUsername(player)
	if name != "" {
		profiles, err := s.store.FindProfilesByUsername(ctx, []string{name})
		if err != nil {
			return nil, fmt.Errorf("find profile %s: %w: %w", name, domain.ErrPersistence, err)
		}
		if len(profiles) == 0 {
			return nil, fmt.Errorf("%s: %w", name, domain.ErrPlayerNotFound)
		}
	}
	games, err := s.store.ListGames(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("list games: %w: %w", domain.ErrPersistence, err)
	}
	return games, nil
}

func (s *Service) SearchProfiles(ctx context.Context, term string) ([]domain.Profile, error) {
	profiles, err := s.store.SearchProfiles(ctx, domain.NormalizeUsername(term), profileSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("search profiles: %w: %w", domain.ErrPersistence, err)
	}
	return profiles, nil
}

func (s *Service) loadGame(ctx context.Context, gameID string) (*domain.Game, error) {
	game, err := s.store.LoadGame(ctx, gameID)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, domain.ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load game %s: %w: %w", gameID, domain.ErrPersistence, err)
	}
	return game, nil
}

func (s *Service) loadState(ctx context.Context, gameID string) (*domain.State, error) {
	game, err := s.loadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return domain.NewState(game), nil
}

// loadCards loads ids into st and returns them in the same order.
func (s *Service) loadCards(ctx context.Context, st *domain.State, ids []string) ([]*domain.Card, error) {
	out := make([]*domain.Card, 0, len(ids))
	for _, id := range ids {
		if c, ok := st.Card(id); ok {
			out = append(out, c)
			continue
		}
		c, err := s.store.LoadCard(ctx, id)
		if errors.Is(err, ports.ErrNotFound) {
			return nil, fmt.Errorf("card %s: %w", id, domain.ErrCardNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("load card %s: %w: %w", id, domain.ErrPersistence, err)
		}
		st.AddCard(c)
		out = append(out, c)
	}
	return out, nil
}

// seatingOrder lowercases and dedupes the creator and players, creator first.
func seatingOrder(creator string, players []string) []string {
	seen := make(map[string]bool, len(players)+1)
	names := make([]string, 0, len(players)+1)
	for _, raw := range append([]string{creator}, players...) {
		name := domain.NormalizeUsername(raw)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
