package gateway

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/jarvishq/jarvis/internal/config"
	"github.com/jarvishq/jarvis/internal/eventbus"
	"github.com/jarvishq/jarvis/pkg/cerr"
)

type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// ConnState is the connection state surfaced to observers; Reason is set for
// disconnections.
type ConnState struct {
	State  State  `json:"state"`
	Reason string `json:"reason,omitempty"`
}

const (
	handshakeTimeout = 10 * time.Second
	eventBufferSize  = 256
)

// Client owns exactly one authenticated WebSocket connection to the gateway.
// It exposes correlation-id RPCs, a single event channel, and connection
// state changes on the event bus. It never touches task state itself.
type Client struct {
	host        string
	port        int
	token       string
	key         ed25519.PrivateKey
	callTimeout time.Duration
	bus         *eventbus.Bus

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan rpcOutcome
	state   ConnState

	events chan Event
}

type rpcOutcome struct {
	result json.RawMessage
	err    error
}

func NewClient(env *config.GatewayEnv, bus *eventbus.Bus) (*Client, error) {
	seed, err := hex.DecodeString(env.OperatorKey)
	if err != nil {
		return nil, cerr.NewError(cerr.InvalidArgument, "operator key must be hex encoded", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, cerr.NewError(cerr.InvalidArgument,
			fmt.Sprintf("operator key must be %d bytes, got %d", ed25519.SeedSize, len(seed)), nil)
	}
	callTimeout := env.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 120 * time.Second
	}
	return &Client{
		host:        env.Host,
		port:        env.Port,
		token:       env.Token,
		key:         ed25519.NewKeyFromSeed(seed),
		callTimeout: callTimeout,
		bus:         bus,
		pending:     make(map[string]chan rpcOutcome),
		state:       ConnState{State: StateDisconnected},
		events:      make(chan Event, eventBufferSize),
	}, nil
}

// Events is the single inbound event stream. The channel is shared across
// reconnects; a full buffer drops events rather than stalling the read loop.
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) IsConnected() bool {
	return c.State().State == StateConnected
}

// Connect dials the gateway and runs the full challenge-response handshake.
// Any previous connection is torn down first; there is no partial resume.
func (c *Client) Connect(ctx context.Context) error {
	c.teardown("reconnecting")
	c.setState(ConnState{State: StateConnecting})

	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	url := fmt.Sprintf("ws://%s:%d/ws", c.host, c.port)
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		c.setState(ConnState{State: StateDisconnected, Reason: err.Error()})
		return cerr.NewError(cerr.Unavailable, "gateway unreachable", err)
	}
	conn.SetReadLimit(16 << 20)

	if err := c.handshake(dialCtx, conn); err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		c.setState(ConnState{State: StateDisconnected, Reason: err.Error()})
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(ConnState{State: StateConnected})
	slog.Info("gateway connected", "host", c.host, "port", c.port)

	go c.readLoop(conn)
	return nil
}

// handshake performs: connect(clientNonce) -> challenge(serverNonce) ->
// auth(sign(serverNonce || clientNonce)) -> authenticated.
func (c *Client) handshake(ctx context.Context, conn *websocket.Conn) error {
	clientNonce := uuid.NewString()
	if err := wsjson.Write(ctx, conn, connectFrame{Type: frameTypeConnect, Nonce: clientNonce}); err != nil {
		return cerr.NewError(cerr.Unavailable, "failed to send connect frame", err)
	}

	var challenge challengeFrame
	if err := wsjson.Read(ctx, conn, &challenge); err != nil {
		return cerr.NewError(cerr.Unavailable, "failed to read challenge", err)
	}
	if challenge.Type != frameTypeChallenge || challenge.Nonce == "" {
		return cerr.NewError(cerr.Unauthenticated, "invalid handshake: unexpected challenge frame", nil)
	}

	signature := ed25519.Sign(c.key, []byte(challenge.Nonce+clientNonce))
	auth := authFrame{
		Type:      frameTypeAuth,
		PublicKey: hex.EncodeToString(c.key.Public().(ed25519.PublicKey)),
		Signature: hex.EncodeToString(signature),
		Token:     c.token,
	}
	if err := wsjson.Write(ctx, conn, auth); err != nil {
		return cerr.NewError(cerr.Unavailable, "failed to send auth frame", err)
	}

	var result authResultFrame
	if err := wsjson.Read(ctx, conn, &result); err != nil {
		return cerr.NewError(cerr.Unauthenticated, "auth failure: connection closed during handshake", err)
	}
	if result.Type != frameTypeAuthenticated {
		reason := result.Reason
		if reason == "" {
			reason = "rejected by gateway"
		}
		return cerr.NewError(cerr.Unauthenticated, "auth failure: "+reason, nil)
	}
	return nil
}

// Run keeps the connection alive until ctx is done, re-running the full
// handshake with backoff after every disconnection.
func (c *Client) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := c.Connect(ctx); err != nil {
			slog.Warn("gateway connect failed", "error", err, "retry_in", backoff)
		} else {
			backoff = time.Second
			c.waitDisconnected(ctx)
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			c.Close()
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (c *Client) waitDisconnected(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.State().State == StateDisconnected {
				return
			}
		}
	}
}

// Call performs a request/response RPC with a bounded wait. On disconnect the
// call fails immediately; it never hangs past the call timeout.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return cerr.NewError(cerr.Internal, "failed to encode params", err)
		}
		raw = data
	}

	id := uuid.NewString()
	ch := make(chan rpcOutcome, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil || c.state.State != StateConnected {
		c.mu.Unlock()
		return cerr.NewError(cerr.Unavailable, "gateway not connected", nil)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	err := wsjson.Write(writeCtx, conn, requestFrame{Method: method, ID: id, Params: raw})
	cancel()
	if err != nil {
		c.dropPending(id)
		return cerr.NewError(cerr.Unavailable, "failed to send request", err)
	}

	timer := time.NewTimer(c.callTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		c.dropPending(id)
		return cerr.NewError(cerr.Canceled, "call canceled", ctx.Err())
	case <-timer.C:
		c.dropPending(id)
		return cerr.NewError(cerr.DeadlineExceeded, fmt.Sprintf("%s timed out", method), nil)
	case out := <-ch:
		if out.err != nil {
			return out.err
		}
		if result != nil && len(out.result) > 0 {
			if err := json.Unmarshal(out.result, result); err != nil {
				return cerr.NewError(cerr.Internal, "failed to decode result", err)
			}
		}
		return nil
	}
}

// Notify sends a fire-and-forget request (no correlation id, no response).
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return cerr.NewError(cerr.Internal, "failed to encode params", err)
		}
		raw = data
	}

	c.mu.Lock()
	conn := c.conn
	connected := c.state.State == StateConnected
	c.mu.Unlock()
	if conn == nil || !connected {
		return cerr.NewError(cerr.Unavailable, "gateway not connected", nil)
	}

	writeCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, requestFrame{Method: method, Params: raw}); err != nil {
		return cerr.NewError(cerr.Unavailable, "failed to send notification", err)
	}
	return nil
}

// Prompt runs a prompt against an agent inside the given session and returns
// the assistant text.
func (c *Client) Prompt(ctx context.Context, agentID, sessionKey, prompt string) (string, error) {
	var result promptResult
	err := c.Call(ctx, "agent.prompt", promptParams{
		Agent:      agentID,
		SessionKey: sessionKey,
		Prompt:     prompt,
	}, &result)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// SendNotice delivers a one-way message to an agent.
func (c *Client) SendNotice(ctx context.Context, agentID, message string) error {
	return c.Notify(ctx, "agent.notify", notifyParams{Agent: agentID, Message: message})
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var frame inboundFrame
		if err := wsjson.Read(context.Background(), conn, &frame); err != nil {
			c.disconnect(conn, err)
			return
		}

		switch {
		case frame.Stream != "":
			event := Event{Stream: frame.Stream, SessionKey: frame.SessionKey, Data: frame.Data}
			select {
			case c.events <- event:
			default:
				slog.Warn("gateway event dropped: buffer full", "stream", frame.Stream)
			}
		case frame.ID != "":
			c.mu.Lock()
			ch, ok := c.pending[frame.ID]
			delete(c.pending, frame.ID)
			c.mu.Unlock()
			if !ok {
				// Response for a call that already timed out.
				continue
			}
			out := rpcOutcome{result: frame.Result}
			if frame.Error != nil {
				out.err = cerr.NewError(cerr.Unknown, frame.Error.Message, frame.Error)
			}
			ch <- out
		default:
			slog.Debug("gateway sent unroutable frame")
		}
	}
}

// disconnect fails all in-flight RPCs immediately and publishes the state
// change. Only the connection that observed the error tears state down, so a
// racing reconnect is never clobbered.
func (c *Client) disconnect(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	pending := c.pending
	c.pending = make(map[string]chan rpcOutcome)
	c.mu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	for _, ch := range pending {
		ch <- rpcOutcome{err: cerr.NewError(cerr.Unavailable, "gateway disconnected", cause)}
	}
	reason := "socket closed"
	if cause != nil {
		reason = cause.Error()
	}
	c.setState(ConnState{State: StateDisconnected, Reason: reason})
	slog.Warn("gateway disconnected", "reason", reason)
}

func (c *Client) teardown(reason string) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.disconnect(conn, fmt.Errorf("%s", reason))
	}
}

// Close shuts the connection down for good.
func (c *Client) Close() {
	c.teardown("client closed")
}

func (c *Client) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) setState(state ConnState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	if c.bus != nil {
		c.bus.PublishNew(eventbus.EventTypeConnectionState, "", string(state.State), map[string]string{
			"reason": state.Reason,
		})
	}
}
