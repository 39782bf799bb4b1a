package nakama

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/heroiclabs/nakama-common/runtime"

	"github.com/straub/table/internal/domain"
	"github.com/straub/table/internal/protocol"
)

const tickRate = 10

// MatchState is the runtime state of the match hosting one game's room.
type MatchState struct {
	MatchID   string                      `json:"match_id"`
	GameID    string                      `json:"game_id"`
	Presences map[string]runtime.Presence `json:"-"` // hub session id -> presence

	conns map[string]*presenceConn
}

func (s *MatchState) release(id string) {
	if c, ok := s.conns[id]; ok {
		c.markLeft()
		delete(s.conns, id)
	}
}

type matchHandler struct {
	m *module
}

// sessionKey names a presence in the shared hub. A Nakama session may be in several
// matches, so the match id is part of the key.
func sessionKey(matchID, sessionID string) string {
	return matchID + "/" + sessionID
}

// MatchInit is called when the match is created. params must carry the game id.
func (mh *matchHandler) MatchInit(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, params map[string]interface{}) (interface{}, int, string) {
	gameID, _ := params[MatchLabelKeyGameID].(string)
	matchID, _ := ctx.Value(runtime.RUNTIME_CTX_MATCH_ID).(string)
	if gameID == "" {
		logger.Error("MatchInit: missing %s param", MatchLabelKeyGameID)
		return nil, 0, ""
	}

	label, err := matchLabel(gameID, 0)
	if err != nil {
		logger.Error("MatchInit: Failed to marshal label: %v", err)
		return nil, 0, ""
	}
	state := &MatchState{
		MatchID:   matchID,
		GameID:    gameID,
		Presences: make(map[string]runtime.Presence),
		conns:     make(map[string]*presenceConn),
	}
	logger.Debug("MatchInit: hosting game %s", gameID)
	return state, tickRate, label
}

// MatchJoinAttempt admits anyone while the game exists. Spectators are allowed.
func (mh *matchHandler) MatchJoinAttempt(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presence runtime.Presence, metadata map[string]string) (interface{}, bool, string) {
	matchState, ok := state.(*MatchState)
	if !ok {
		return state, false, "state not found"
	}
	if _, err := mh.m.games.View(ctx, matchState.GameID, ""); err != nil {
		if errors.Is(err, domain.ErrGameNotFound) {
			return state, false, "game not found"
		}
		logger.Error("MatchJoinAttempt: load game %s: %v", matchState.GameID, err)
		return state, false, "internal error"
	}
	return state, true, ""
}

// MatchJoin registers each presence with the hub, identifies it by its Nakama username and
// subscribes it to the game's room.
func (mh *matchHandler) MatchJoin(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	matchState, ok := state.(*MatchState)
	if !ok {
		logger.Error("MatchJoin: state not found")
		return state
	}

	hub := mh.m.hub
	for _, p := range presences {
		id := sessionKey(matchState.MatchID, p.GetSessionId())
		conn := newPresenceConn(dispatcher, p)
		if err := hub.Register(id, conn); err != nil {
			logger.Warn("MatchJoin: register %s: %v", p.GetUserId(), err)
			continue
		}
		matchState.Presences[id] = p
		matchState.conns[id] = conn
		if name := p.GetUsername(); name != "" {
			if err := hub.Identify(id, name); err != nil {
				logger.Warn("MatchJoin: identify %s: %v", name, err)
			}
		}
		if err := hub.Subscribe(id, matchState.GameID); err != nil {
			logger.Warn("MatchJoin: subscribe %s: %v", p.GetUserId(), err)
		}
	}

	mh.updateLabel(matchState, dispatcher, logger)
	return matchState
}

// MatchLeave disconnects the presences. The match ends with its last presence.
func (mh *matchHandler) MatchLeave(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	matchState, ok := state.(*MatchState)
	if !ok {
		logger.Error("MatchLeave: state not found")
		return state
	}

	for _, p := range presences {
		id := sessionKey(matchState.MatchID, p.GetSessionId())
		matchState.release(id)
		mh.m.hub.Disconnect(id)
		delete(matchState.Presences, id)
	}

	if len(matchState.Presences) == 0 {
		logger.Info("MatchLeave: Terminating match for game %s with no presences.", matchState.GameID)
		return nil
	}

	mh.updateLabel(matchState, dispatcher, logger)
	return matchState
}

func (mh *matchHandler) MatchLoop(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, messages []runtime.MatchData) interface{} {
	matchState, ok := state.(*MatchState)
	if !ok {
		return state
	}

	for _, msg := range messages {
		event, ok := inboundEvents[msg.GetOpCode()]
		if !ok {
			logger.Warn("MatchLoop: Unknown opcode received: %d", msg.GetOpCode())
			continue
		}
		var in protocol.Inbound
		if data := msg.GetData(); len(data) > 0 {
			if err := json.Unmarshal(data, &in); err != nil {
				logger.Warn("MatchLoop: bad envelope from %s: %v", msg.GetUserId(), err)
				continue
			}
		}
		in.Event = event
		mh.handleMessage(ctx, logger, sessionKey(matchState.MatchID, msg.GetSessionId()), in)
	}
	return matchState
}

// handleMessage routes one frame and acks it. A panic is contained to the frame.
func (mh *matchHandler) handleMessage(ctx context.Context, logger runtime.Logger, id string, in protocol.Inbound) {
	ok, acked := false, true
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handleMessage: panic handling %s: %v", in.Event, r)
		}
		if acked && in.ID != "" {
			if err := mh.m.hub.SendTo(id, protocol.NewAck(in.ID, ok)); err != nil {
				logger.Debug("handleMessage: ack: %v", err)
			}
		}
	}()
	ok, acked = mh.m.router.Handle(ctx, id, in)
}

func (mh *matchHandler) updateLabel(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger) {
	label, err := matchLabel(state.GameID, len(state.Presences))
	if err != nil {
		logger.Error("UpdateLabel: Failed to marshal: %v", err)
		return
	}
	if err := dispatcher.MatchLabelUpdate(label); err != nil {
		logger.Error("UpdateLabel: Failed to update: %v", err)
	}
}

func (mh *matchHandler) MatchTerminate(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, graceSeconds int) interface{} {
	matchState, ok := state.(*MatchState)
	if !ok {
		return state
	}
	logger.Debug("MatchTerminate: game %s, grace %ds", matchState.GameID, graceSeconds)
	for id := range matchState.Presences {
		matchState.release(id)
		mh.m.hub.Disconnect(id)
	}
	return state
}

func (mh *matchHandler) MatchSignal(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, data string) (interface{}, string) {
	return state, ""
}

var _ runtime.Match = (*matchHandler)(nil)
