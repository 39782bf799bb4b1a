package ws

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/straub/table/internal/app"
	"github.com/straub/table/internal/app/onboarding"
	"github.com/straub/table/internal/client"
	"github.com/straub/table/internal/domain"
	"github.com/straub/table/internal/gateway"
	"github.com/straub/table/internal/logging"
	"github.com/straub/table/internal/ports/memstore"
	"github.com/straub/table/internal/protocol"
	"github.com/straub/table/internal/session"
)

// trackedSessions records registered session ids so tests can drop a connection.
type trackedSessions struct {
	*session.Hub
	ids chan string
}

func (t *trackedSessions) Register(id string, conn session.Conn) error {
	if err := t.Hub.Register(id, conn); err != nil {
		return err
	}
	t.ids <- id
	return nil
}

type testEnv struct {
	url      string
	hub      *session.Hub
	sessions *trackedSessions
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logging.Nop()
	store := memstore.New()
	hub := session.NewHub(logger, 64)
	hub.Start()
	svc := app.NewService(store, gateway.NewPublisher(hub, logger), rand.New(rand.NewSource(11)))
	router := gateway.NewRouter(hub, svc, logger, "")
	sessions := &trackedSessions{Hub: hub, ids: make(chan string, 16)}

	srv := httptest.NewServer(NewServer(svc, onboarding.NewService(store, nil, nil), sessions, router, logger))
	t.Cleanup(func() {
		_ = hub.Stop(context.Background())
		srv.Close()
	})
	return &testEnv{url: srv.URL, hub: hub, sessions: sessions}
}

type participant struct {
	conn       *Client
	rec        *client.Reconciler
	reconnects chan struct{}
}

func (e *testEnv) join(t *testing.T, username, clientID string) *participant {
	t.Helper()
	p := &participant{reconnects: make(chan struct{}, 4)}
	conn, err := Dial(context.Background(), e.url, ClientOptions{
		ClientID:   clientID,
		Logger:     logging.Nop(),
		MinBackoff: 10 * time.Millisecond,
		OnGameMessage: func(msg protocol.GameMessage) {
			if _, err := p.rec.HandleMessage(context.Background(), msg); err != nil {
				t.Errorf("HandleMessage: %v", err)
			}
		},
		OnReconnect: func(ctx context.Context) {
			if err := p.rec.Reconnected(ctx); err != nil {
				t.Errorf("Reconnected: %v", err)
			}
			p.reconnects <- struct{}{}
		},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	p.conn = conn
	p.rec = client.NewReconciler(conn, logging.Nop(), username, clientID, time.Second)
	t.Cleanup(func() { _ = conn.Close() })
	return p
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (e *testEnv) newGame(t *testing.T, alice *participant) domain.GameView {
	t.Helper()
	ctx := context.Background()
	for _, name := range []string{"alice", "bob"} {
		if _, err := alice.conn.CreateProfile(ctx, name, ""); err != nil {
			t.Fatalf("CreateProfile %s: %v", name, err)
		}
	}
	v, err := alice.conn.CreateGame(ctx, "alice", []string{"bob"}, 1)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	return v
}

func TestDrawAndPlayAreMirrored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.join(t, "alice", "client-a")
	bob := env.join(t, "bob", "client-b")
	game := env.newGame(t, alice)

	if err := alice.rec.Join(ctx, game.ID); err != nil {
		t.Fatalf("alice Join: %v", err)
	}
	if err := bob.rec.Join(ctx, game.ID); err != nil {
		t.Fatalf("bob Join: %v", err)
	}
	eventually(t, "both sessions in the room", func() bool { return len(env.hub.Members(game.ID)) == 2 })

	cards, err := alice.rec.Draw(ctx, game.ID, 0, 2)
	if err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if len(cards) != 2 {
		t.Fatalf("drew %d cards, want 2", len(cards))
	}
	eventually(t, "bob sees the draw", func() bool {
		m, _ := bob.rec.Mirror(game.ID)
		return m.HandCounts["alice"] == 2 && m.DeckLengths[0] == domain.CardsPerDeck-2
	})

	pos := domain.Position{X: 40, Y: 60}
	if err := alice.rec.Play(ctx, game.ID, cards[0].ID, &pos); err != nil {
		t.Fatalf("Play: %v", err)
	}
	eventually(t, "bob sees the card on the table", func() bool {
		m, _ := bob.rec.Mirror(game.ID)
		c, ok := m.Table[cards[0].ID]
		return ok && c.Position == pos && m.HandCounts["alice"] == 1
	})

	if err := bob.rec.Take(ctx, game.ID, cards[0].ID); err != nil {
		t.Fatalf("Take: %v", err)
	}
	eventually(t, "alice sees the take", func() bool {
		m, _ := alice.rec.Mirror(game.ID)
		_, onTable := m.Table[cards[0].ID]
		return !onTable && m.HandCounts["bob"] == 1
	})

	m, _ := alice.rec.Mirror(game.ID)
	if len(m.Hand) != 1 {
		t.Fatalf("alice hand = %v, want 1 card", m.Hand)
	}
}

func TestRejectedCardActionAcksFalse(t *testing.T) {
	env := newTestEnv(t)
	alice := env.join(t, "alice", "client-a")
	game := env.newGame(t, alice)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ok, err := alice.conn.Request(ctx, protocol.EventCardAction, protocol.CardAction{
		GameID:     game.ID,
		ActionType: domain.ActionTake,
		ActionData: domain.ActionPayload{CardID: "missing", Player: "alice"},
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if ok {
		t.Fatalf("take of unknown card acknowledged")
	}

	ok, err = alice.conn.Request(ctx, protocol.EventIdentify, protocol.Identify{Username: "alice"})
	if err != nil || ok {
		t.Fatalf("identify ack = %v, %v; want false", ok, err)
	}
}

func TestListGames(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.join(t, "alice", "client-a")
	game := env.newGame(t, alice)
	if _, err := alice.conn.CreateProfile(ctx, "carol", ""); err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}

	mine, err := alice.conn.ListGames(ctx, "Bob")
	if err != nil {
		t.Fatalf("ListGames bob: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != game.ID || !slices.Equal(mine[0].Players, []string{"alice", "bob"}) {
		t.Fatalf("bob's games = %+v", mine)
	}
	none, err := alice.conn.ListGames(ctx, "carol")
	if err != nil || len(none) != 0 {
		t.Fatalf("carol's games = %+v, %v; want none", none, err)
	}
	all, err := alice.conn.ListGames(ctx, "")
	if err != nil || len(all) != 1 {
		t.Fatalf("all games = %+v, %v", all, err)
	}
}

func TestHTTPErrorCodes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.join(t, "alice", "client-a")
	game := env.newGame(t, alice)

	tests := []struct {
		name   string
		call   func() error
		status int
		want   error
	}{
		{"unknown game", func() error {
			_, err := alice.conn.Draw(ctx, "nope", 0, protocol.DrawRequest{Player: "alice"})
			return err
		}, http.StatusNotFound, domain.ErrGameNotFound},
		{"not a player", func() error {
			_, err := alice.conn.Draw(ctx, game.ID, 0, protocol.DrawRequest{Player: "mallory"})
			return err
		}, http.StatusForbidden, domain.ErrPlayerNotFound},
		{"bad deck", func() error {
			_, err := alice.conn.Draw(ctx, game.ID, 7, protocol.DrawRequest{Player: "alice"})
			return err
		}, http.StatusConflict, domain.ErrInvalidState},
		{"username taken", func() error {
			_, err := alice.conn.CreateProfile(ctx, "ALICE", "")
			return err
		}, http.StatusConflict, onboarding.ErrUsernameTaken},
		{"too few players", func() error {
			_, err := alice.conn.CreateGame(ctx, "alice", nil, 1)
			return err
		}, http.StatusBadRequest, app.ErrTooFewPlayers},
		{"missing view", func() error {
			_, err := alice.conn.FetchGame(ctx, "nope", "alice")
			return err
		}, http.StatusNotFound, domain.ErrGameNotFound},
		{"games of unknown player", func() error {
			_, err := alice.conn.ListGames(ctx, "mallory")
			return err
		}, http.StatusForbidden, domain.ErrPlayerNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *APIError", err)
			}
			if apiErr.Status != tt.status {
				t.Fatalf("status = %d, want %d", apiErr.Status, tt.status)
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDrawFromEmptyDeckIs404(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.join(t, "alice", "client-a")
	game := env.newGame(t, alice)

	for range domain.CardsPerDeck / 10 {
		if _, err := alice.conn.Draw(ctx, game.ID, 0, protocol.DrawRequest{Player: "alice", Count: 10}); err != nil {
			t.Fatalf("Draw: %v", err)
		}
	}
	if _, err := alice.conn.Draw(ctx, game.ID, 0, protocol.DrawRequest{Player: "alice", Count: 10}); err != nil {
		t.Fatalf("Draw of the remainder: %v", err)
	}
	_, err := alice.conn.Draw(ctx, game.ID, 0, protocol.DrawRequest{Player: "alice"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound || !errors.Is(err, domain.ErrDeckEmpty) {
		t.Fatalf("err = %v, want 404 deck_empty", err)
	}
}

func TestReconnectResubscribes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.join(t, "alice", "client-a")
	first := <-env.sessions.ids
	game := env.newGame(t, alice)
	if err := alice.rec.Join(ctx, game.ID); err != nil {
		t.Fatalf("Join: %v", err)
	}
	eventually(t, "subscription", func() bool { return len(env.hub.Members(game.ID)) == 1 })

	env.hub.Disconnect(first)

	select {
	case <-alice.reconnects:
	case <-time.After(2 * time.Second):
		t.Fatalf("client did not reconnect")
	}
	second := <-env.sessions.ids
	if second == first {
		t.Fatalf("reconnect reused session id %s", first)
	}
	eventually(t, "resubscription", func() bool {
		members := env.hub.Members(game.ID)
		return len(members) == 1 && members[0] == second
	})
}
