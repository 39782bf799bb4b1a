// Package ws serves the table over HTTP: a WebSocket event channel plus a small JSON API
// for the operations that return data to the caller.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/heroiclabs/nakama-common/runtime"

	"github.com/straub/table/internal/app"
	"github.com/straub/table/internal/domain"
	"github.com/straub/table/internal/protocol"
	"github.com/straub/table/internal/session"
)

const maxBodySize = 1 << 20

// Games is the table service as the HTTP layer uses it.
type Games interface {
	CreateGame(ctx context.Context, req app.CreateGameRequest) (*domain.Game, error)
	View(ctx context.Context, gameID, viewer string) (domain.GameView, error)
	Actions(ctx context.Context, gameID string, since int) ([]domain.GameAction, error)
	SearchProfiles(ctx context.Context, term string) ([]domain.Profile, error)
	ListGames(ctx context.Context, player string) ([]domain.GameSummary, error)
	Apply(ctx context.Context, req app.ActionRequest) (app.Event, error)
}

// Profiles registers new players.
type Profiles interface {
	Register(ctx context.Context, id, username, firstName string) (domain.Profile, error)
}

// Sessions is the registry side of the hub.
type Sessions interface {
	Register(id string, conn session.Conn) error
	SendTo(id string, msg protocol.Outbound) error
	Disconnect(id string)
}

// Router handles decoded frames.
type Router interface {
	Handle(ctx context.Context, sessionID string, in protocol.Inbound) (ok, acked bool)
}

// Server exposes the table over HTTP and WebSocket.
type Server struct {
	games    Games
	profiles Profiles
	sessions Sessions
	router   Router
	logger   runtime.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// NewServer wires the routes.
func NewServer(games Games, profiles Profiles, sessions Sessions, router Router, logger runtime.Logger) *Server {
	s := &Server{
		games:    games,
		profiles: profiles,
		sessions: sessions,
		router:   router,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux: http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /ws", s.handleSocket)
	s.mux.HandleFunc("POST /api/v1/profiles", s.handleCreateProfile)
	s.mux.HandleFunc("GET /api/v1/profiles/search", s.handleSearchProfiles)
	s.mux.HandleFunc("GET /api/v1/profiles/{username}/games", s.handleListGames)
	s.mux.HandleFunc("GET /api/v1/games", s.handleListGames)
	s.mux.HandleFunc("POST /api/v1/games", s.handleCreateGame)
	s.mux.HandleFunc("GET /api/v1/games/{id}", s.handleGetGame)
	s.mux.HandleFunc("GET /api/v1/games/{id}/actions", s.handleGameActions)
	s.mux.HandleFunc("POST /api/v1/games/{id}/decks/{deck}/draw", s.handleDraw)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("handleSocket: upgrade: %v", err)
		return
	}
	c := newConn(wsConn)
	id := uuid.NewString()
	logger := s.logger.WithFields(map[string]interface{}{"session": id, "client": r.URL.Query().Get("clientId")})

	if err := s.sessions.Register(id, c); err != nil {
		logger.Warn("handleSocket: register: %v", err)
		_ = c.Close()
		return
	}
	defer s.sessions.Disconnect(id)
	go c.keepAlive()

	wsConn.SetReadLimit(maxMessageSize)
	_ = wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := context.WithoutCancel(r.Context())
	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("handleSocket: read: %v", err)
			}
			return
		}
		var in protocol.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			logger.Warn("handleSocket: bad frame: %v", err)
			continue
		}
		s.dispatch(ctx, id, in, logger)
	}
}

// dispatch handles one frame. A panic is contained to the frame and acked as a failure.
func (s *Server) dispatch(ctx context.Context, id string, in protocol.Inbound, logger runtime.Logger) {
	ok, acked := false, true
	defer func() {
		if r := recover(); r != nil {
			logger.Error("dispatch: panic handling %s: %v", in.Event, r)
			ok, acked = false, true
		}
		if acked && in.ID != "" {
			if err := s.sessions.SendTo(id, protocol.NewAck(in.ID, ok)); err != nil {
				logger.Debug("dispatch: ack: %v", err)
			}
		}
	}()
	ok, acked = s.router.Handle(ctx, id, in)
}

type createProfileRequest struct {
	ID        string `json:"id,omitempty"`
	Username  string `json:"username"`
	FirstName string `json:"first_name,omitempty"`
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.profiles.Register(r.Context(), req.ID, req.Username, req.FirstName)
	if err != nil {
		s.fail(w, "handleCreateProfile", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleSearchProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.games.SearchProfiles(r.Context(), r.URL.Query().Get("term"))
	if err != nil {
		s.fail(w, "handleSearchProfiles", err)
		return
	}
	if profiles == nil {
		profiles = []domain.Profile{}
	}
	writeJSON(w, http.StatusOK, profiles)
}

// handleListGames lists game summaries, only the player's when the path names one.
func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.games.ListGames(r.Context(), r.PathValue("username"))
	if err != nil {
		s.fail(w, "handleListGames", err)
		return
	}
	if games == nil {
		games = []domain.GameSummary{}
	}
	writeJSON(w, http.StatusOK, games)
}

type createGameRequest struct {
	Creator  string   `json:"creator"`
	Players  []string `json:"players"`
	Decks    int      `json:"decks,omitempty"`
	Shuffled *bool    `json:"shuffled,omitempty"`
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if !s.decode(w, r, &req) {
		return
	}
	g, err := s.games.CreateGame(r.Context(), app.CreateGameRequest{
		Creator:  req.Creator,
		Players:  req.Players,
		Decks:    req.Decks,
		Shuffled: req.Shuffled,
	})
	if err != nil {
		s.fail(w, "handleCreateGame", err)
		return
	}
	v, err := s.games.View(r.Context(), g.ID, req.Creator)
	if err != nil {
		s.fail(w, "handleCreateGame", err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	v, err := s.games.View(r.Context(), r.PathValue("id"), r.URL.Query().Get("viewer"))
	if err != nil {
		s.fail(w, "handleGetGame", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleGameActions(w http.ResponseWriter, r *http.Request) {
	since := 0
	if raw := r.URL.Query().Get("since"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, &APIError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "since must be a non-negative integer"})
			return
		}
		since = n
	}
	actions, err := s.games.Actions(r.Context(), r.PathValue("id"), since)
	if err != nil {
		s.fail(w, "handleGameActions", err)
		return
	}
	if actions == nil {
		actions = []domain.GameAction{}
	}
	writeJSON(w, http.StatusOK, actions)
}

// handleDraw draws for a player. The broadcast goes to the whole room, the requester's
// sessions included; its client drops the echo by clientId.
func (s *Server) handleDraw(w http.ResponseWriter, r *http.Request) {
	deck, err := strconv.Atoi(r.PathValue("deck"))
	if err != nil {
		writeError(w, &APIError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "deck index must be an integer"})
		return
	}
	var req protocol.DrawRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, "handleDraw", err)
		return
	}
	ev, err := s.games.Apply(r.Context(), app.ActionRequest{
		GameID:  r.PathValue("id"),
		Actor:   req.Player,
		Type:    domain.ActionDraw,
		Payload: domain.ActionPayload{DeckIndex: &deck, Count: req.Count, Player: req.Player},
		Origin:  app.Origin{ClientID: req.ClientID},
	})
	if err != nil {
		s.fail(w, "handleDraw", err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.DrawResult{Cards: ev.Drawn, Version: ev.Version})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v); err != nil {
		writeError(w, &APIError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: fmt.Sprintf("invalid JSON body: %v", err)})
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	apiErr := toAPIError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		s.logger.Error("%s: %v", op, err)
	} else {
		s.logger.Debug("%s: %v", op, err)
	}
	writeError(w, apiErr)
}
