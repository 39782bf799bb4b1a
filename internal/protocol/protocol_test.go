package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/straub/table/internal/domain"
)

func TestDecodeCardAction(t *testing.T) {
	var in Inbound
	frame := `{"event":"game:cardAction","id":"7","data":{"gameId":"g1","actionType":"move","actionData":{"cardId":"c1","position":{"x":10,"y":20.5},"drop":true},"clientId":"cl-1"}}`
	if err := json.Unmarshal([]byte(frame), &in); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if in.Event != EventCardAction || in.ID != "7" {
		t.Fatalf("envelope = %+v", in)
	}

	var p CardAction
	if err := Decode(in.Data, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.ActionType != domain.ActionMove || p.ActionData.CardID != "c1" || !p.ActionData.Drop {
		t.Fatalf("payload = %+v", p)
	}
	if *p.ActionData.Position != (domain.Position{X: 10, Y: 20.5}) {
		t.Fatalf("position = %+v", p.ActionData.Position)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name string
		data string
		v    Validator
	}{
		{"identify without username", `{"username":"  "}`, &Identify{}},
		{"subscribe without game", `{}`, &Subscription{}},
		{"card action without game", `{"actionType":"flip","actionData":{"cardId":"c1"}}`, &CardAction{}},
		{"card action without type", `{"gameId":"g1"}`, &CardAction{}},
		{"flip without card", `{"gameId":"g1","actionType":"flip"}`, &CardAction{}},
		{"move without position", `{"gameId":"g1","actionType":"move","actionData":{"cardId":"c1"}}`, &CardAction{}},
		{"mouse move without game", `{"actionData":{"position":{"x":1,"y":2}}}`, &PlayerMouseMove{}},
		{"empty user message", `{"text":""}`, &UserMessage{}},
		{"admin without secret", `{"title":"hi"}`, &AdminBroadcast{}},
		{"admin without title", `{"secret":"s"}`, &AdminBroadcast{}},
		{"draw without player", `{"count":1}`, &DrawRequest{}},
		{"draw negative count", `{"player":"a","count":-1}`, &DrawRequest{}},
		{"malformed json", `{"gameId":`, &Subscription{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Decode(json.RawMessage(tt.data), tt.v); !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("err = %v, want ErrInvalidPayload", err)
			}
		})
	}
}

func TestSubscriptionAcceptsIDAlias(t *testing.T) {
	var p Subscription
	if err := Decode(json.RawMessage(`{"id":"g9"}`), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.GameID != "g9" {
		t.Fatalf("gameId = %q, want g9", p.GameID)
	}
}

func TestCardActionUnknownTypePassesValidation(t *testing.T) {
	var p CardAction
	if err := Decode(json.RawMessage(`{"gameId":"g1","actionType":"shuffle"}`), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestAdminBroadcastFlattensAnnouncement(t *testing.T) {
	var p AdminBroadcast
	if err := Decode(json.RawMessage(`{"secret":"s","title":"Maintenance","text":"soon","time":3000,"sticky":true}`), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Announcement != (Announcement{Title: "Maintenance", Text: "soon", Time: 3000, Sticky: true}) {
		t.Fatalf("announcement = %+v", p.Announcement)
	}
}

func TestAckEncoding(t *testing.T) {
	raw, err := json.Marshal(NewAck("42", true))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got, want := string(raw), `{"event":"ack","data":{"id":"42","ok":true}}`; got != want {
		t.Fatalf("ack = %s, want %s", got, want)
	}
}
