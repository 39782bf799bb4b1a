package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/straub/table/internal/app"
	"github.com/straub/table/internal/domain"
	"github.com/straub/table/internal/logging"
	"github.com/straub/table/internal/ports/memstore"
	"github.com/straub/table/internal/protocol"
	"github.com/straub/table/internal/session"
)

type recordingConn struct {
	mu   sync.Mutex
	msgs []protocol.Outbound
}

func (c *recordingConn) Send(msg protocol.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *recordingConn) Close() error { return nil }

// byEvent waits briefly for pumps and returns the messages with the given event name.
func (c *recordingConn) byEvent(event string) []protocol.Outbound {
	time.Sleep(20 * time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Outbound
	for _, m := range c.msgs {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	hub    *session.Hub
	svc    *app.Service
	router *Router
	game   *domain.Game
	conns  map[string]*recordingConn
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logging.Nop()
	store := memstore.New()
	hub := session.NewHub(logger, 32)
	hub.Start()
	t.Cleanup(func() { _ = hub.Stop(context.Background()) })

	svc := app.NewService(store, NewPublisher(hub, logger), rand.New(rand.NewSource(3)))
	for i, name := range []string{"alice", "bob"} {
		if err := store.CreateProfile(context.Background(), domain.Profile{ID: fmt.Sprint(i), Username: name}); err != nil {
			t.Fatalf("create profile: %v", err)
		}
	}
	g, err := svc.CreateGame(context.Background(), app.CreateGameRequest{Creator: "alice", Players: []string{"bob"}, Decks: 1})
	if err != nil {
		t.Fatalf("create game: %v", err)
	}

	f := &fixture{hub: hub, svc: svc, router: NewRouter(hub, svc, logger, "s3cret"), game: g, conns: map[string]*recordingConn{}}
	for _, id := range []string{"sa", "sb", "sc"} {
		c := &recordingConn{}
		if err := hub.Register(id, c); err != nil {
			t.Fatalf("register: %v", err)
		}
		f.conns[id] = c
	}
	return f
}

func (f *fixture) send(t *testing.T, sessionID, event string, data any) (bool, bool) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return f.router.Handle(context.Background(), sessionID, protocol.Inbound{Event: event, ID: "1", Data: raw})
}

func TestCardActionBroadcastsToRoomExceptOrigin(t *testing.T) {
	f := newFixture(t)
	f.send(t, "sa", protocol.EventIdentify, protocol.Identify{Username: "Alice"})
	f.send(t, "sb", protocol.EventIdentify, protocol.Identify{Username: "bob"})
	f.send(t, "sa", protocol.EventSubscribe, protocol.Subscription{GameID: f.game.ID})
	f.send(t, "sb", protocol.EventSubscribe, protocol.Subscription{ID: f.game.ID})

	cardID := f.game.Decks[0].Cards[0]
	ok, acked := f.send(t, "sa", protocol.EventCardAction, protocol.CardAction{
		GameID:     f.game.ID,
		ActionType: domain.ActionFlip,
		ActionData: domain.ActionPayload{CardID: cardID},
		ClientID:   "client-a",
	})
	if !ok || !acked {
		t.Fatalf("ack = %v/%v, want true/true", ok, acked)
	}

	got := f.conns["sb"].byEvent(protocol.EventGameMessage)
	if len(got) != 1 {
		t.Fatalf("bob received %d gameMessages, want 1", len(got))
	}
	gm := got[0].Data.(protocol.GameMessage)
	if gm.MessageType != protocol.MessageTypeCardAction || gm.ActionType != domain.ActionFlip || gm.ClientID != "client-a" || gm.Version != 1 {
		t.Fatalf("gameMessage = %+v", gm)
	}
	var payload domain.ActionPayload
	if err := json.Unmarshal(gm.ActionData, &payload); err != nil {
		t.Fatalf("decode actionData: %v", err)
	}
	if payload.CardID != cardID || payload.Player != "alice" || payload.Face == nil || *payload.Face {
		t.Fatalf("actionData = %+v", payload)
	}

	if n := len(f.conns["sa"].byEvent(protocol.EventGameMessage)); n != 0 {
		t.Fatalf("origin received %d gameMessages", n)
	}
	if n := len(f.conns["sc"].byEvent(protocol.EventGameMessage)); n != 0 {
		t.Fatalf("unsubscribed session received %d gameMessages", n)
	}
}

func TestCardActionRejections(t *testing.T) {
	f := newFixture(t)
	f.send(t, "sa", protocol.EventIdentify, protocol.Identify{Username: "alice"})
	f.send(t, "sb", protocol.EventSubscribe, protocol.Subscription{GameID: f.game.ID})

	tests := []struct {
		name string
		data protocol.CardAction
	}{
		{"unknown action type", protocol.CardAction{GameID: f.game.ID, ActionType: "shuffle"}},
		{"draw over the socket", protocol.CardAction{GameID: f.game.ID, ActionType: domain.ActionDraw}},
		{"card in deck", protocol.CardAction{GameID: f.game.ID, ActionType: domain.ActionTake, ActionData: domain.ActionPayload{CardID: f.game.Decks[0].Cards[0]}}},
		{"unknown game", protocol.CardAction{GameID: "nope", ActionType: domain.ActionFlip, ActionData: domain.ActionPayload{CardID: "c"}}},
		{"missing card id", protocol.CardAction{GameID: f.game.ID, ActionType: domain.ActionFlip}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, acked := f.send(t, "sa", protocol.EventCardAction, tt.data)
			if ok || !acked {
				t.Fatalf("ack = %v/%v, want false/true", ok, acked)
			}
		})
	}
	if n := len(f.conns["sb"].byEvent(protocol.EventGameMessage)); n != 0 {
		t.Fatalf("rejected actions were broadcast: %d", n)
	}
}

func TestCardActionFallsBackToPayloadPlayer(t *testing.T) {
	f := newFixture(t)
	ok, _ := f.send(t, "sc", protocol.EventCardAction, protocol.CardAction{
		GameID:     f.game.ID,
		ActionType: domain.ActionFlip,
		ActionData: domain.ActionPayload{CardID: f.game.Decks[0].Cards[1], Player: "bob"},
	})
	if !ok {
		t.Fatalf("anonymous session acting for bob was rejected")
	}
}

func TestIdentifyAckIsAlwaysFalse(t *testing.T) {
	f := newFixture(t)
	ok, acked := f.send(t, "sa", protocol.EventIdentify, protocol.Identify{Username: "alice"})
	if ok || !acked {
		t.Fatalf("ack = %v/%v, want false/true", ok, acked)
	}
	if f.hub.Username("sa") != "alice" {
		t.Fatalf("username = %q", f.hub.Username("sa"))
	}
	ok, acked = f.send(t, "sa", protocol.EventDeidentify, protocol.Deidentify{})
	if ok || !acked || f.hub.Username("sa") != "" {
		t.Fatalf("deidentify ack = %v/%v, username %q", ok, acked, f.hub.Username("sa"))
	}
}

func TestSubscribeHasNoAck(t *testing.T) {
	f := newFixture(t)
	if _, acked := f.send(t, "sa", protocol.EventSubscribe, protocol.Subscription{GameID: f.game.ID}); acked {
		t.Fatalf("subscribe acknowledged")
	}
	if got := f.hub.Members(f.game.ID); len(got) != 1 || got[0] != "sa" {
		t.Fatalf("members = %v", got)
	}
}

func TestMouseMoveRelaysWithSessionPlayer(t *testing.T) {
	f := newFixture(t)
	f.send(t, "sa", protocol.EventIdentify, protocol.Identify{Username: "alice"})
	f.send(t, "sa", protocol.EventSubscribe, protocol.Subscription{GameID: f.game.ID})
	f.send(t, "sb", protocol.EventSubscribe, protocol.Subscription{GameID: f.game.ID})

	ok, _ := f.send(t, "sa", protocol.EventPlayerMouseMove, protocol.PlayerMouseMove{
		GameID:     f.game.ID,
		ActionData: protocol.MouseMoveData{Position: domain.Position{X: 3, Y: 4}},
	})
	if !ok {
		t.Fatalf("mouse move ack = false")
	}
	got := f.conns["sb"].byEvent(protocol.EventGameMessage)
	if len(got) != 1 {
		t.Fatalf("bob received %d messages", len(got))
	}
	gm := got[0].Data.(protocol.GameMessage)
	var data protocol.MouseMoveData
	if err := json.Unmarshal(gm.ActionData, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gm.MessageType != protocol.MessageTypePlayerMouseMove || data.Player != "alice" || data.Position.X != 3 {
		t.Fatalf("gameMessage = %+v, data = %+v", gm, data)
	}
}

func TestUserMessageGoesToOthers(t *testing.T) {
	f := newFixture(t)
	f.send(t, "sa", protocol.EventIdentify, protocol.Identify{Username: "alice"})
	f.send(t, "sa", protocol.EventUserMessage, protocol.UserMessage{Text: "hi all"})

	for _, id := range []string{"sb", "sc"} {
		got := f.conns[id].byEvent(protocol.EventUserMessage)
		if len(got) != 1 {
			t.Fatalf("%s received %d user messages", id, len(got))
		}
		if m := got[0].Data.(protocol.UserMessage); m.Username != "alice" || m.Text != "hi all" {
			t.Fatalf("%s got %+v", id, m)
		}
	}
	if n := len(f.conns["sa"].byEvent(protocol.EventUserMessage)); n != 0 {
		t.Fatalf("sender received its own message")
	}
}

func TestAdminBroadcastRequiresSecret(t *testing.T) {
	f := newFixture(t)
	f.send(t, "sa", protocol.EventAdminBroadcast, protocol.AdminBroadcast{Secret: "wrong", Announcement: protocol.Announcement{Title: "nope"}})
	if n := len(f.conns["sb"].byEvent(protocol.EventAnnouncement)); n != 0 {
		t.Fatalf("wrong secret announced")
	}

	f.send(t, "sa", protocol.EventAdminBroadcast, protocol.AdminBroadcast{Secret: "s3cret", Announcement: protocol.Announcement{Title: "Maintenance", Time: 3000}})
	for id, c := range f.conns {
		got := c.byEvent(protocol.EventAnnouncement)
		if len(got) != 1 || got[0].Data.(protocol.Announcement).Title != "Maintenance" {
			t.Fatalf("%s announcements = %+v", id, got)
		}
	}
}

func TestUnknownEventIsRejected(t *testing.T) {
	f := newFixture(t)
	ok, acked := f.router.Handle(context.Background(), "sa", protocol.Inbound{Event: "bogus"})
	if ok || !acked {
		t.Fatalf("ack = %v/%v, want false/true", ok, acked)
	}
}
