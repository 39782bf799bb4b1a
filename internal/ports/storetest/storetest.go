// Package storetest holds the behaviour every ports.Store implementation must share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/straub/table/internal/domain"
	"github.com/straub/table/internal/ports"
	"github.com/stretchr/testify/require"
)

// Run exercises store against the ports.Store contract. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) ports.Store) {
	t.Run("GameRoundTrip", func(t *testing.T) { testGameRoundTrip(t, newStore(t)) })
	t.Run("GameNotFound", func(t *testing.T) { testGameNotFound(t, newStore(t)) })
	t.Run("CardRoundTrip", func(t *testing.T) { testCardRoundTrip(t, newStore(t)) })
	t.Run("ProfileUnique", func(t *testing.T) { testProfileUnique(t, newStore(t)) })
	t.Run("FindProfiles", func(t *testing.T) { testFindProfiles(t, newStore(t)) })
	t.Run("SearchProfiles", func(t *testing.T) { testSearchProfiles(t, newStore(t)) })
	t.Run("ListGames", func(t *testing.T) { testListGames(t, newStore(t)) })
}

func testGameRoundTrip(t *testing.T, s ports.Store) {
	ctx := context.Background()
	deck := 0
	g := &domain.Game{
		ID:      "g1",
		Players: []domain.Player{{ProfileID: "p1", Username: "alice", Hand: []string{"c2"}}},
		Decks:   []domain.Deck{{Cards: []string{"c3", "c1"}}},
		Table:   []string{"c4"},
		Actions: []domain.GameAction{{
			ID:        "a1",
			Type:      domain.ActionDraw,
			Timestamp: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
			Actor:     "alice",
			Payload:   domain.ActionPayload{DeckIndex: &deck, Player: "alice", Count: 1},
		}},
		Version:   3,
		CreatedAt: time.Date(2026, time.March, 1, 11, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveGame(ctx, g))

	got, err := s.LoadGame(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, g, got)

	// mutating the loaded copy must not leak into the store
	got.Decks[0].Cards = nil
	again, err := s.LoadGame(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, []string{"c3", "c1"}, again.Decks[0].Cards)

	g.Version = 4
	g.Table = nil
	require.NoError(t, s.SaveGame(ctx, g))
	again, err = s.LoadGame(ctx, "g1")
	require.NoError(t, err)
	require.EqualValues(t, 4, again.Version)
	require.Empty(t, again.Table)
}

func testGameNotFound(t *testing.T, s ports.Store) {
	_, err := s.LoadGame(context.Background(), "missing")
	require.ErrorIs(t, err, ports.ErrNotFound)
	_, err = s.LoadCard(context.Background(), "missing")
	require.ErrorIs(t, err, ports.ErrNotFound)
}

func testCardRoundTrip(t *testing.T, s ports.Store) {
	ctx := context.Background()
	c := &domain.Card{
		ID:       "c1",
		GameID:   "g1",
		Rank:     domain.Queen,
		Suit:     domain.Hearts,
		Face:     true,
		Position: domain.Position{X: 12.5, Y: 40},
		Location: domain.InHand("alice"),
	}
	require.NoError(t, s.SaveCard(ctx, c))
	got, err := s.LoadCard(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, c, got)

	c.Face = false
	c.Location = domain.OnTable()
	require.NoError(t, s.SaveCard(ctx, c))
	got, err = s.LoadCard(ctx, "c1")
	require.NoError(t, err)
	require.False(t, got.Face)
	require.Equal(t, domain.OnTable(), got.Location)
}

func testProfileUnique(t *testing.T, s ports.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateProfile(ctx, profile("p1", "alice")))
	require.ErrorIs(t, s.CreateProfile(ctx, profile("p2", "ALICE")), ports.ErrAlreadyExists)
}

func testFindProfiles(t *testing.T, s ports.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateProfile(ctx, profile("p1", "alice")))
	require.NoError(t, s.CreateProfile(ctx, profile("p2", "bob")))

	got, err := s.FindProfilesByUsername(ctx, []string{"Bob", "carol", "alice"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "p2", got[0].ID)
	require.Equal(t, "p1", got[1].ID)
}

func testSearchProfiles(t *testing.T, s ports.Store) {
	ctx := context.Background()
	for i, name := range []string{"marta", "mark", "bob", "martin", "ma"} {
		require.NoError(t, s.CreateProfile(ctx, profile(string(rune('a'+i)), name)))
	}

	got, err := s.SearchProfiles(ctx, "MAR", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"mark", "marta", "martin"}, usernames(got))

	got, err = s.SearchProfiles(ctx, "mar", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"mark", "marta"}, usernames(got))

	got, err = s.SearchProfiles(ctx, "zed", 10)
	require.NoError(t, err)
	require.Empty(t, got)
}

func testListGames(t *testing.T, s ports.Store) {
	ctx := context.Background()
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	seat := func(names ...string) []domain.Player {
		out := make([]domain.Player, len(names))
		for i, n := range names {
			out[i] = domain.Player{ProfileID: "p-" + n, Username: n, Hand: []string{}}
		}
		return out
	}
	g3 := &domain.Game{ID: "g3", Players: seat("alice", "carol"), Version: 5, CreatedAt: base.Add(2 * time.Hour)}
	for _, g := range []*domain.Game{
		{ID: "g1", Players: seat("alice", "bob"), CreatedAt: base},
		{ID: "g2", Players: seat("bob", "carol"), CreatedAt: base.Add(time.Hour)},
		g3,
	} {
		require.NoError(t, s.SaveGame(ctx, g))
	}
	g3.Version = 6
	require.NoError(t, s.SaveGame(ctx, g3))

	all, err := s.ListGames(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"g3", "g2", "g1"}, summaryIDs(all))

	mine, err := s.ListGames(ctx, "ALICE")
	require.NoError(t, err)
	require.Equal(t, []string{"g3", "g1"}, summaryIDs(mine))
	require.Equal(t, domain.GameSummary{ID: "g3", Players: []string{"alice", "carol"}, Version: 6, CreatedAt: g3.CreatedAt}, mine[0])

	none, err := s.ListGames(ctx, "dave")
	require.NoError(t, err)
	require.Empty(t, none)
}

func summaryIDs(gs []domain.GameSummary) []string {
	out := make([]string, len(gs))
	for i, g := range gs {
		out[i] = g.ID
	}
	return out
}

func profile(id, username string) domain.Profile {
	return domain.Profile{
		ID:        id,
		Username:  username,
		FirstName: "First " + username,
		CreatedAt: time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC),
	}
}

func usernames(ps []domain.Profile) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Username
	}
	return out
}
