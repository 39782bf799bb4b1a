package nakama

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"

	"github.com/straub/table/internal/app"
	"github.com/straub/table/internal/domain"
	"github.com/straub/table/internal/protocol"
)

// MatchModule is the part of runtime.NakamaModule used to locate game matches.
type MatchModule interface {
	MatchList(ctx context.Context, limit int, authoritative bool, label string, minSize, maxSize *int, query string) ([]*api.Match, error)
	MatchCreate(ctx context.Context, module string, params map[string]interface{}) (string, error)
}

// FindGameMatchResponse is returned to clients looking for a game's match.
type FindGameMatchResponse struct {
	MatchID string `json:"match_id"`
	IsNew   bool   `json:"is_new"`
}

type createGameRequest struct {
	Creator  string   `json:"creator,omitempty"`
	Players  []string `json:"players"`
	Decks    int      `json:"decks,omitempty"`
	Shuffled *bool    `json:"shuffled,omitempty"`
}

type gameRequest struct {
	GameID string `json:"game_id"`
	Since  int    `json:"since,omitempty"`
}

type drawCardRequest struct {
	GameID   string `json:"game_id"`
	Deck     int    `json:"deck"`
	Count    int    `json:"count,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

type listGamesRequest struct {
	Player string `json:"player,omitempty"`
}

type searchProfilesRequest struct {
	Term string `json:"term"`
}

type rpcFunc = func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error)

func (m *module) registerRPCs(initializer runtime.Initializer) error {
	rpcs := map[string]rpcFunc{
		RpcCreateGame:     m.rpcCreateGame,
		RpcDrawCard:       m.rpcDrawCard,
		RpcGetGame:        m.rpcGetGame,
		RpcGameActions:    m.rpcGameActions,
		RpcSearchProfiles: m.rpcSearchProfiles,
		RpcListGames:      m.rpcListGames,
		RpcFindGameMatch: func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
			return rpcFindGameMatch(ctx, logger, nk, payload)
		},
	}
	for id, fn := range rpcs {
		if err := initializer.RegisterRpc(id, fn); err != nil {
			return err
		}
	}
	return nil
}

// callerUsername is the authenticated caller's username, empty for server-to-server calls.
func callerUsername(ctx context.Context) string {
	name, _ := ctx.Value(runtime.RUNTIME_CTX_USERNAME).(string)
	return name
}

func decodePayload(payload string, v any) error {
	if payload == "" {
		payload = "{}"
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return runtime.NewError("Invalid payload", codeInvalidArgument)
	}
	return nil
}

func encodeResponse(logger runtime.Logger, op string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Error("%s: encode response: %v", op, err)
		return "", runtime.NewError("Internal error", codeInternal)
	}
	return string(b), nil
}

// rpcCreateGame creates a game for the caller and the listed players.
// Payload: {"players": ["bob"], "decks": 2, "shuffled": true}
// Returns: the caller's GameView.
func (m *module) rpcCreateGame(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	var req createGameRequest
	if err := decodePayload(payload, &req); err != nil {
		return "", err
	}
	if caller := callerUsername(ctx); caller != "" {
		req.Creator = caller
	}
	if req.Creator == "" {
		return "", runtime.NewError("creator required", codeInvalidArgument)
	}
	g, err := m.games.CreateGame(ctx, app.CreateGameRequest{
		Creator:  req.Creator,
		Players:  req.Players,
		Decks:    req.Decks,
		Shuffled: req.Shuffled,
	})
	if err != nil {
		return "", toRuntimeError(logger, "rpcCreateGame", err)
	}
	v, err := m.games.View(ctx, g.ID, req.Creator)
	if err != nil {
		return "", toRuntimeError(logger, "rpcCreateGame", err)
	}
	logger.Info("rpcCreateGame: %s created game %s", req.Creator, g.ID)
	return encodeResponse(logger, "rpcCreateGame", v)
}

// rpcDrawCard draws for the caller. The room learns the count; the caller gets the cards.
// Payload: {"game_id": "...", "deck": 0, "count": 1, "client_id": "..."}
func (m *module) rpcDrawCard(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	var req drawCardRequest
	if err := decodePayload(payload, &req); err != nil {
		return "", err
	}
	player := callerUsername(ctx)
	if player == "" {
		return "", runtime.NewError("authenticated user required", codeUnauthenticated)
	}
	if req.GameID == "" || req.Count < 0 {
		return "", runtime.NewError("game_id required and count must not be negative", codeInvalidArgument)
	}
	deck := req.Deck
	ev, err := m.games.Apply(ctx, app.ActionRequest{
		GameID:  req.GameID,
		Actor:   player,
		Type:    domain.ActionDraw,
		Payload: domain.ActionPayload{DeckIndex: &deck, Count: req.Count, Player: player},
		Origin:  app.Origin{ClientID: req.ClientID},
	})
	if err != nil {
		return "", toRuntimeError(logger, "rpcDrawCard", err)
	}
	return encodeResponse(logger, "rpcDrawCard", protocol.DrawResult{Cards: ev.Drawn, Version: ev.Version})
}

// rpcGetGame returns the caller's view of a game.
func (m *module) rpcGetGame(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	var req gameRequest
	if err := decodePayload(payload, &req); err != nil {
		return "", err
	}
	v, err := m.games.View(ctx, req.GameID, callerUsername(ctx))
	if err != nil {
		return "", toRuntimeError(logger, "rpcGetGame", err)
	}
	return encodeResponse(logger, "rpcGetGame", v)
}

// rpcGameActions returns the action log from index since.
func (m *module) rpcGameActions(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	var req gameRequest
	if err := decodePayload(payload, &req); err != nil {
		return "", err
	}
	if req.Since < 0 {
		return "", runtime.NewError("since must not be negative", codeInvalidArgument)
	}
	actions, err := m.games.Actions(ctx, req.GameID, req.Since)
	if err != nil {
		return "", toRuntimeError(logger, "rpcGameActions", err)
	}
	if actions == nil {
		actions = []domain.GameAction{}
	}
	return encodeResponse(logger, "rpcGameActions", actions)
}

func (m *module) rpcSearchProfiles(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	var req searchProfilesRequest
	if err := decodePayload(payload, &req); err != nil {
		return "", err
	}
	profiles, err := m.games.SearchProfiles(ctx, req.Term)
	if err != nil {
		return "", toRuntimeError(logger, "rpcSearchProfiles", err)
	}
	if profiles == nil {
		profiles = []domain.Profile{}
	}
	return encodeResponse(logger, "rpcSearchProfiles", profiles)
}

// rpcListGames lists the games a player is seated at, the caller's by default.
// Payload: {"player": "bob"}
func (m *module) rpcListGames(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	var req listGamesRequest
	if err := decodePayload(payload, &req); err != nil {
		return "", err
	}
	if req.Player == "" {
		req.Player = callerUsername(ctx)
	}
	games, err := m.games.ListGames(ctx, req.Player)
	if err != nil {
		return "", toRuntimeError(logger, "rpcListGames", err)
	}
	if games == nil {
		games = []domain.GameSummary{}
	}
	return encodeResponse(logger, "rpcListGames", games)
}

// rpcFindGameMatch returns the match hosting a game's room, creating it when none runs.
// Payload: {"game_id": "..."}
func rpcFindGameMatch(ctx context.Context, logger runtime.Logger, nk MatchModule, payload string) (string, error) {
	var req gameRequest
	if err := decodePayload(payload, &req); err != nil {
		return "", err
	}
	if req.GameID == "" {
		return "", runtime.NewError("game_id required", codeInvalidArgument)
	}

	matches, err := nk.MatchList(ctx, 1, true, "", nil, nil, gameLabelQuery(req.GameID))
	if err != nil {
		logger.Error("rpcFindGameMatch: MatchList error: %v", err)
		return "", runtime.NewError("Internal error", codeInternal)
	}
	if len(matches) > 0 {
		return encodeResponse(logger, "rpcFindGameMatch", FindGameMatchResponse{MatchID: matches[0].MatchId})
	}

	matchID, err := nk.MatchCreate(ctx, MatchNameTable, map[string]interface{}{MatchLabelKeyGameID: req.GameID})
	if err != nil {
		logger.Error("rpcFindGameMatch: MatchCreate error: %v", err)
		return "", runtime.NewError("Internal error", codeInternal)
	}
	logger.Info("rpcFindGameMatch: Created match %s for game %s", matchID, req.GameID)
	return encodeResponse(logger, "rpcFindGameMatch", FindGameMatchResponse{MatchID: matchID, IsNew: true})
}
