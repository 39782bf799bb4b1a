// Package memstore keeps games, cards and profiles in process memory.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/straub/table/internal/domain"
	"github.com/straub/table/internal/ports"
)

// Store is a map-backed ports.Store. Every read and write copies the document so callers
// never share memory with the store.
type Store struct {
	mu       sync.RWMutex
	games    map[string]*domain.Game
	cards    map[string]domain.Card
	profiles map[string]domain.Profile // keyed by normalized username
}

// New returns an empty store.
func New() *Store {
	return &Store{
		games:    make(map[string]*domain.Game),
		cards:    make(map[string]domain.Card),
		profiles: make(map[string]domain.Profile),
	}
}

func (s *Store) LoadGame(ctx context.Context, id string) (*domain.Game, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return g.Clone(), nil
}

func (s *Store) SaveGame(ctx context.Context, game *domain.Game) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[game.ID] = game.Clone()
	return nil
}

func (s *Store) ListGames(ctx context.Context, player string) ([]domain.GameSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.GameSummary
	for _, g := range s.games {
		if player == "" || g.HasPlayer(player) {
			out = append(out, g.Summary())
		}
	}
	domain.SortSummaries(out)
	return out, nil
}

func (s *Store) LoadCard(ctx context.Context, id string) (*domain.Card, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return &c, nil
}

func (s *Store) SaveCard(ctx context.Context, card *domain.Card) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[card.ID] = *card
	return nil
}

func (s *Store) FindProfilesByUsername(ctx context.Context, usernames []string) ([]domain.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Profile, 0, len(usernames))
	for _, name := range usernames {
		if p, ok := s.profiles[domain.NormalizeUsername(name)]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) SearchProfiles(ctx context.Context, prefix string, limit int) ([]domain.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix = domain.NormalizeUsername(prefix)
	s.mu.RLock()
	keys := make([]string, 0, len(s.profiles))
	for k := range s.profiles {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]domain.Profile, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.profiles[k])
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *Store) CreateProfile(ctx context.Context, profile domain.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := domain.NormalizeUsername(profile.Username)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.profiles[key]; taken {
		return ports.ErrAlreadyExists
	}
	s.profiles[key] = profile
	return nil
}

var _ ports.Store = (*Store)(nil)
