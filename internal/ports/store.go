package ports

import (
	"context"
	"errors"

	"github.com/straub/table/internal/domain"
)

var (
	// ErrNotFound is returned by stores when a document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when creating a document whose key is taken.
	ErrAlreadyExists = errors.New("already exists")
)

// GameStore persists game documents.
type GameStore interface {
	// LoadGame returns the game with the given id or ErrNotFound.
	LoadGame(ctx context.Context, id string) (*domain.Game, error)
	// SaveGame upserts the whole game document.
	SaveGame(ctx context.Context, game *domain.Game) error
	// ListGames summarizes the games player is seated at, newest first. An empty player
	// lists every game.
	ListGames(ctx context.Context, player string) ([]domain.GameSummary, error)
}

// CardStore persists individual cards.
type CardStore interface {
	LoadCard(ctx context.Context, id string) (*domain.Card, error)
	SaveCard(ctx context.Context, card *domain.Card) error
}

// ProfileStore persists player profiles. Usernames are unique case-insensitively.
type ProfileStore interface {
	// FindProfilesByUsername returns the profiles for the given usernames, in request order.
	// Unknown usernames are skipped.
	FindProfilesByUsername(ctx context.Context, usernames []string) ([]domain.Profile, error)
	// SearchProfiles returns up to limit profiles whose username starts with prefix,
	// case-insensitively, ordered by username.
	SearchProfiles(ctx context.Context, prefix string, limit int) ([]domain.Profile, error)
	// CreateProfile stores a new profile or returns ErrAlreadyExists.
	CreateProfile(ctx context.Context, profile domain.Profile) error
}

// Store is the full persistence surface the service needs.
type Store interface {
	GameStore
	CardStore
	ProfileStore
}
