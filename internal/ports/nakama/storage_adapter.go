package nakama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"

	"github.com/straub/table/internal/domain"
	"github.com/straub/table/internal/ports"
)

// storageScanPage bounds one storage list call while scanning a collection.
const storageScanPage = 100

// StorageModule is the part of runtime.NakamaModule the storage adapter uses.
type StorageModule interface {
	StorageRead(ctx context.Context, reads []*runtime.StorageRead) ([]*api.StorageObject, error)
	StorageWrite(ctx context.Context, writes []*runtime.StorageWrite) ([]*api.StorageObjectAck, error)
	StorageList(ctx context.Context, callerID, userID, collection string, limit int, cursor string) ([]*api.StorageObject, string, error)
}

// NakamaStorageAdapter implements ports.Store on Nakama storage objects owned by the
// system user.
type NakamaStorageAdapter struct {
	nk StorageModule
}

// NewNakamaStorageAdapter creates a new storage adapter.
func NewNakamaStorageAdapter(nk StorageModule) *NakamaStorageAdapter {
	return &NakamaStorageAdapter{nk: nk}
}

func (a *NakamaStorageAdapter) LoadGame(ctx context.Context, id string) (*domain.Game, error) {
	var g domain.Game
	if err := a.read(ctx, gameCollection, id, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (a *NakamaStorageAdapter) SaveGame(ctx context.Context, game *domain.Game) error {
	return a.write(ctx, gameCollection, game.ID, game, "")
}

func (a *NakamaStorageAdapter) LoadCard(ctx context.Context, id string) (*domain.Card, error) {
	var c domain.Card
	if err := a.read(ctx, cardCollection, id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (a *NakamaStorageAdapter) SaveCard(ctx context.Context, card *domain.Card) error {
	return a.write(ctx, cardCollection, card.ID, card, "")
}

// FindProfilesByUsername reads all requested profiles in one storage call.
func (a *NakamaStorageAdapter) FindProfilesByUsername(ctx context.Context, usernames []string) ([]domain.Profile, error) {
	if len(usernames) == 0 {
		return nil, nil
	}
	reads := make([]*runtime.StorageRead, 0, len(usernames))
	for _, name := range usernames {
		reads = append(reads, &runtime.StorageRead{Collection: profileCollection, Key: domain.NormalizeUsername(name)})
	}
	objects, err := a.nk.StorageRead(ctx, reads)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles: %w", err)
	}
	byKey := make(map[string]domain.Profile, len(objects))
	for _, o := range objects {
		var p domain.Profile
		if err := json.Unmarshal([]byte(o.GetValue()), &p); err != nil {
			return nil, fmt.Errorf("failed to decode profile %s: %w", o.GetKey(), err)
		}
		byKey[o.GetKey()] = p
	}
	out := make([]domain.Profile, 0, len(byKey))
	for _, name := range usernames {
		if p, ok := byKey[domain.NormalizeUsername(name)]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// SearchProfiles pages through the profile collection. Storage listing has no prefix
// filter, so matches are collected client-side.
func (a *NakamaStorageAdapter) SearchProfiles(ctx context.Context, prefix string, limit int) ([]domain.Profile, error) {
	prefix = domain.NormalizeUsername(prefix)
	var out []domain.Profile
	err := a.scan(ctx, profileCollection, func(o *api.StorageObject) error {
		if !strings.HasPrefix(o.GetKey(), prefix) {
			return nil
		}
		var p domain.Profile
		if err := json.Unmarshal([]byte(o.GetValue()), &p); err != nil {
			return fmt.Errorf("failed to decode profile %s: %w", o.GetKey(), err)
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListGames pages through the game collection and keeps the games player is seated at.
func (a *NakamaStorageAdapter) ListGames(ctx context.Context, player string) ([]domain.GameSummary, error) {
	var out []domain.GameSummary
	err := a.scan(ctx, gameCollection, func(o *api.StorageObject) error {
		var g domain.Game
		if err := json.Unmarshal([]byte(o.GetValue()), &g); err != nil {
			return fmt.Errorf("failed to decode game %s: %w", o.GetKey(), err)
		}
		if player == "" || g.HasPlayer(player) {
			out = append(out, g.Summary())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	domain.SortSummaries(out)
	return out, nil
}

// scan calls fn for every system-owned object in collection.
func (a *NakamaStorageAdapter) scan(ctx context.Context, collection string, fn func(o *api.StorageObject) error) error {
	cursor := ""
	for {
		objects, next, err := a.nk.StorageList(ctx, "", "", collection, storageScanPage, cursor)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", collection, err)
		}
		for _, o := range objects {
			if err := fn(o); err != nil {
				return err
			}
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}

// CreateProfile writes the profile only if its username key is free.
func (a *NakamaStorageAdapter) CreateProfile(ctx context.Context, profile domain.Profile) error {
	profile.Username = domain.NormalizeUsername(profile.Username)
	err := a.write(ctx, profileCollection, profile.Username, profile, "*")
	if errors.Is(err, runtime.ErrStorageRejectedVersion) {
		return ports.ErrAlreadyExists
	}
	return err
}

func (a *NakamaStorageAdapter) read(ctx context.Context, collection, key string, v any) error {
	objects, err := a.nk.StorageRead(ctx, []*runtime.StorageRead{{Collection: collection, Key: key}})
	if err != nil {
		return fmt.Errorf("failed to read %s/%s: %w", collection, key, err)
	}
	if len(objects) == 0 {
		return ports.ErrNotFound
	}
	if err := json.Unmarshal([]byte(objects[0].GetValue()), v); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", collection, key, err)
	}
	return nil
}

// write stores v under key. version "*" only creates; "" overwrites.
func (a *NakamaStorageAdapter) write(ctx context.Context, collection, key string, v any, version string) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", collection, key, err)
	}
	_, err = a.nk.StorageWrite(ctx, []*runtime.StorageWrite{{
		Collection:      collection,
		Key:             key,
		Value:           string(value),
		Version:         version,
		PermissionRead:  runtime.STORAGE_PERMISSION_NO_READ,
		PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
	}})
	if err != nil {
		if errors.Is(err, runtime.ErrStorageRejectedVersion) {
			return err
		}
		return fmt.Errorf("failed to write %s/%s: %w", collection, key, err)
	}
	return nil
}

var _ ports.Store = (*NakamaStorageAdapter)(nil)
