package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/heroiclabs/nakama-common/runtime"

	"github.com/straub/table/internal/client"
	"github.com/straub/table/internal/domain"
	"github.com/straub/table/internal/protocol"
)

var ErrClientClosed = errors.New("client closed")

// ClientOptions configures a Client. Handlers run on the read goroutine.
type ClientOptions struct {
	ClientID   string
	HTTPClient *http.Client
	Logger     runtime.Logger
	// OnGameMessage receives room broadcasts.
	OnGameMessage func(protocol.GameMessage)
	// OnEvent receives every other server event except acks.
	OnEvent func(event string, data json.RawMessage)
	// OnReconnect runs after a dropped connection is re-established and queued emits
	// have been flushed.
	OnReconnect func(ctx context.Context)
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

type queued struct {
	ctx   context.Context
	frame protocol.Inbound
}

// Client is the participant side of the event channel and the HTTP API.
type Client struct {
	base   *url.URL
	opts   ClientOptions
	http   *http.Client
	logger runtime.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	ws      *websocket.Conn
	nextID  uint64
	pending map[string]chan bool
	queue   []queued
	done    chan struct{}
}

// Dial connects to the server at baseURL (http or https) and keeps the socket connected
// until Close.
func Dial(ctx context.Context, baseURL string, opts ClientOptions) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 250 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 10 * time.Second
	}
	c := &Client{
		base:    base,
		opts:    opts,
		http:    opts.HTTPClient,
		logger:  opts.Logger,
		pending: make(map[string]chan bool),
		done:    make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	conn, err := c.connect(ctx)
	if err != nil {
		c.cancel()
		return nil, err
	}
	c.mu.Lock()
	c.ws = conn
	c.mu.Unlock()
	go c.run(conn)
	return c, nil
}

// Close stops reconnecting and closes the socket.
func (c *Client) Close() error {
	c.cancel()
	c.mu.Lock()
	conn := c.ws
	c.ws = nil
	c.mu.Unlock()
	var err error
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		err = conn.Close()
	}
	<-c.done
	return err
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	u.RawQuery = url.Values{"clientId": {c.opts.ClientID}}.Encode()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return conn, nil
}

// run reads until the connection drops, then reconnects with capped exponential backoff.
func (c *Client) run(conn *websocket.Conn) {
	defer close(c.done)
	for {
		c.read(conn)

		c.mu.Lock()
		if c.ws == conn {
			c.ws = nil
		}
		c.mu.Unlock()
		_ = conn.Close()

		conn = c.reconnect()
		if conn == nil {
			return
		}
		c.flush(conn)
		if c.opts.OnReconnect != nil {
			c.opts.OnReconnect(c.ctx)
		}
	}
}

func (c *Client) reconnect() *websocket.Conn {
	backoff := c.opts.MinBackoff
	for {
		select {
		case <-c.ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		conn, err := c.connect(c.ctx)
		if err == nil {
			return conn
		}
		c.logDebug("reconnect: %v", err)
		backoff = min(backoff*2, c.opts.MaxBackoff)
	}
}

// flush installs conn and sends the emits queued while disconnected, skipping those whose
// caller gave up.
func (c *Client) flush(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, q := range c.queue {
		if q.ctx.Err() != nil {
			continue
		}
		if err := writeFrame(conn, q.frame); err != nil {
			c.logDebug("flush: %v", err)
		}
	}
	c.queue = nil
	c.ws = conn
}

func (c *Client) read(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logDebug("read: %v", err)
			}
			return
		}
		var in protocol.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.logDebug("read: bad frame: %v", err)
			continue
		}
		c.handle(in)
	}
}

func (c *Client) handle(in protocol.Inbound) {
	switch in.Event {
	case protocol.EventAck:
		var ack protocol.Ack
		if err := json.Unmarshal(in.Data, &ack); err != nil {
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[ack.ID]
		delete(c.pending, ack.ID)
		c.mu.Unlock()
		if ok {
			ch <- ack.OK
		}
	case protocol.EventGameMessage:
		if c.opts.OnGameMessage == nil {
			return
		}
		var msg protocol.GameMessage
		if err := json.Unmarshal(in.Data, &msg); err != nil {
			c.logDebug("handle: gameMessage: %v", err)
			return
		}
		c.opts.OnGameMessage(msg)
	default:
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(in.Event, in.Data)
		}
	}
}

// Send emits an unacknowledged event. While disconnected the event is queued.
func (c *Client) Send(ctx context.Context, event string, payload any) error {
	frame, err := newFrame(event, "", payload)
	if err != nil {
		return err
	}
	return c.emit(ctx, frame)
}

// Request emits event and waits for the server's acknowledgement or ctx.
func (c *Client) Request(ctx context.Context, event string, payload any) (bool, error) {
	c.mu.Lock()
	c.nextID++
	id := strconv.FormatUint(c.nextID, 10)
	ch := make(chan bool, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}
	frame, err := newFrame(event, id, payload)
	if err != nil {
		forget()
		return false, err
	}
	if err := c.emit(ctx, frame); err != nil {
		forget()
		return false, err
	}
	select {
	case ok := <-ch:
		return ok, nil
	case <-ctx.Done():
		forget()
		return false, ctx.Err()
	}
}

func (c *Client) emit(ctx context.Context, frame protocol.Inbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return ErrClientClosed
	}
	if c.ws == nil {
		c.queue = append(c.queue, queued{ctx: ctx, frame: frame})
		return nil
	}
	return writeFrame(c.ws, frame)
}

// FetchGame loads the game as viewer sees it.
func (c *Client) FetchGame(ctx context.Context, gameID, viewer string) (domain.GameView, error) {
	var v domain.GameView
	q := url.Values{"viewer": {viewer}}
	err := c.call(ctx, http.MethodGet, "/api/v1/games/"+url.PathEscape(gameID)+"?"+q.Encode(), nil, &v)
	return v, err
}

// Draw draws from a deck through the HTTP API.
func (c *Client) Draw(ctx context.Context, gameID string, deck int, req protocol.DrawRequest) (protocol.DrawResult, error) {
	var res protocol.DrawResult
	path := fmt.Sprintf("/api/v1/games/%s/decks/%d/draw", url.PathEscape(gameID), deck)
	err := c.call(ctx, http.MethodPost, path, req, &res)
	return res, err
}

// CreateGame creates a game and returns the creator's view.
func (c *Client) CreateGame(ctx context.Context, creator string, players []string, decks int) (domain.GameView, error) {
	var v domain.GameView
	err := c.call(ctx, http.MethodPost, "/api/v1/games", createGameRequest{Creator: creator, Players: players, Decks: decks}, &v)
	return v, err
}

// ListGames lists the games player is seated at, or every game when player is empty.
func (c *Client) ListGames(ctx context.Context, player string) ([]domain.GameSummary, error) {
	path := "/api/v1/games"
	if player != "" {
		path = "/api/v1/profiles/" + url.PathEscape(player) + "/games"
	}
	var out []domain.GameSummary
	err := c.call(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// CreateProfile registers a username.
func (c *Client) CreateProfile(ctx context.Context, username, firstName string) (domain.Profile, error) {
	var p domain.Profile
	err := c.call(ctx, http.MethodPost, "/api/v1/profiles", createProfileRequest{Username: username, FirstName: firstName}, &p)
	return p, err
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Code, apiErr.Message = "internal", resp.Status
		}
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) logDebug(format string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(format, args...)
	}
}

func newFrame(event, id string, payload any) (protocol.Inbound, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return protocol.Inbound{}, fmt.Errorf("encode %s: %w", event, err)
	}
	return protocol.Inbound{Event: event, ID: id, Data: data}, nil
}

func writeFrame(conn *websocket.Conn, frame protocol.Inbound) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

var _ client.Transport = (*Client)(nil)
