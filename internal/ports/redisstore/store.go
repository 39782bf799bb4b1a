// Package redisstore persists games, cards and profiles in Redis as JSON values.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/straub/table/internal/domain"
	"github.com/straub/table/internal/ports"
)

const (
	gamePrefix    = "table:game:"
	cardPrefix    = "table:card:"
	profilePrefix = "table:profile:"
	// usernameIndex is a sorted set with every member at score 0, so ZRANGEBYLEX
	// answers prefix queries in username order.
	usernameIndex = "table:profiles"
	// gameIndex holds every game id; playerGamesPrefix+username holds that player's.
	gameIndex         = "table:games"
	playerGamesPrefix = "table:player-games:"
)

// Store is a ports.Store backed by a go-redis client.
type Store struct {
	rdb redis.UniversalClient
}

// New wraps an existing client. The caller owns the client's lifecycle.
func New(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &Store{rdb: rdb}, nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) LoadGame(ctx context.Context, id string) (*domain.Game, error) {
	var g domain.Game
	if err := s.get(ctx, gamePrefix+id, &g); err != nil {
		return nil, fmt.Errorf("load game %s: %w", id, err)
	}
	return &g, nil
}

// SaveGame writes the document and its index entries in one MULTI/EXEC.
func (s *Store) SaveGame(ctx context.Context, game *domain.Game) error {
	raw, err := json.Marshal(game)
	if err != nil {
		return fmt.Errorf("encode game %s: %w", game.ID, err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, gamePrefix+game.ID, raw, 0)
		pipe.SAdd(ctx, gameIndex, game.ID)
		for _, p := range game.Players {
			pipe.SAdd(ctx, playerGamesPrefix+domain.NormalizeUsername(p.Username), game.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save game %s: %w", game.ID, err)
	}
	return nil
}

func (s *Store) ListGames(ctx context.Context, player string) ([]domain.GameSummary, error) {
	index := gameIndex
	if player != "" {
		index = playerGamesPrefix + domain.NormalizeUsername(player)
	}
	ids, err := s.rdb.SMembers(ctx, index).Result()
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = gamePrefix + id
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load games: %w", err)
	}
	out := make([]domain.GameSummary, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var g domain.Game
		if err := json.Unmarshal([]byte(raw), &g); err != nil {
			return nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		out = append(out, g.Summary())
	}
	domain.SortSummaries(out)
	return out, nil
}

func (s *Store) LoadCard(ctx context.Context, id string) (*domain.Card, error) {
	var c domain.Card
	if err := s.get(ctx, cardPrefix+id, &c); err != nil {
		return nil, fmt.Errorf("load card %s: %w", id, err)
	}
	return &c, nil
}

func (s *Store) SaveCard(ctx context.Context, card *domain.Card) error {
	if err := s.set(ctx, cardPrefix+card.ID, card); err != nil {
		return fmt.Errorf("save card %s: %w", card.ID, err)
	}
	return nil
}

func (s *Store) FindProfilesByUsername(ctx context.Context, usernames []string) ([]domain.Profile, error) {
	if len(usernames) == 0 {
		return nil, nil
	}
	keys := make([]string, len(usernames))
	for i, name := range usernames {
		keys[i] = profilePrefix + domain.NormalizeUsername(name)
	}
	return s.mgetProfiles(ctx, keys)
}

func (s *Store) SearchProfiles(ctx context.Context, prefix string, limit int) ([]domain.Profile, error) {
	prefix = domain.NormalizeUsername(prefix)
	opt := &redis.ZRangeBy{Min: "[" + prefix, Max: "[" + prefix + "\xff"}
	if prefix == "" {
		opt.Min, opt.Max = "-", "+"
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	names, err := s.rdb.ZRangeByLex(ctx, usernameIndex, opt).Result()
	if err != nil {
		return nil, fmt.Errorf("search profiles: %w", err)
	}
	if len(names) == 0 {
		return nil, nil
	}
	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = profilePrefix + name
	}
	return s.mgetProfiles(ctx, keys)
}

func (s *Store) CreateProfile(ctx context.Context, profile domain.Profile) error {
	profile.Username = domain.NormalizeUsername(profile.Username)
	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	created, err := s.rdb.SetNX(ctx, profilePrefix+profile.Username, raw, 0).Result()
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	if !created {
		return ports.ErrAlreadyExists
	}
	if err := s.rdb.ZAdd(ctx, usernameIndex, redis.Z{Member: profile.Username}).Err(); err != nil {
		return fmt.Errorf("index profile: %w", err)
	}
	return nil
}

func (s *Store) mgetProfiles(ctx context.Context, keys []string) ([]domain.Profile, error) {
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	out := make([]domain.Profile, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var p domain.Profile
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) get(ctx context.Context, key string, dst any) error {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ports.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func (s *Store) set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, raw, 0).Err()
}

var _ ports.Store = (*Store)(nil)
