// Package socket owns the lifecycle of the single websocket connection a
// Diskuss session holds: auth handshake, read pump, reconnection with
// backoff, and teardown. It is the only party permitted to open or close
// the channel; the directory and stream are scoped consumers.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/noah-isme/diskuss-client/internal/config"
	"github.com/noah-isme/diskuss-client/internal/models"
	"github.com/noah-isme/diskuss-client/internal/observability"
	"github.com/noah-isme/diskuss-client/internal/protocol"
)

// Handlers receives connection lifecycle signals and decoded events. OnClose
// means every in-flight request on the connection is abandoned; there is no
// implicit retry at this layer beyond the manager's own reconnect policy.
type Handlers struct {
	OnOpen  func(reconnected bool)
	OnError func(err error)
	OnClose func(reason error)
	OnEvent func(event protocol.Incoming)
}

// Manager maintains at most one live connection. Calling Connect while a
// connection is live tears the existing one down first; two channels are
// never live concurrently for the same session.
type Manager struct {
	url      string
	cfg      config.Config
	handlers Handlers
	logger   zerolog.Logger
	clientID string

	mu    sync.Mutex
	conn  *conn
	token string
	ctx   context.Context
	state atomic.Int32
}

// conn wraps one live websocket with serialized writes and idempotent close.
type conn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	// explicit is set before a deliberate Disconnect so the read pump can
	// tell teardown apart from transport failure.
	explicit atomic.Bool
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
		observability.ConnectionCloses().Inc()
	})
}

// NewManager creates a connection manager for the given socket URL.
func NewManager(cfg config.Config, handlers Handlers, logger zerolog.Logger) *Manager {
	return &Manager{
		url:      cfg.SocketURL,
		cfg:      cfg,
		handlers: handlers,
		logger:   logger.With().Str("component", "socket_manager").Logger(),
		clientID: uuid.NewString(),
	}
}

// State returns the current connection state.
func (m *Manager) State() models.ConnectionState {
	return models.ConnectionState(m.state.Load())
}

// Connect establishes the authenticated channel. A credential rejected at
// handshake time yields an *AuthError, transport failures a *NetworkError.
// The context bounds the session: it is reused for reconnect dials.
func (m *Manager) Connect(ctx context.Context, token string) error {
	m.mu.Lock()
	if m.conn != nil {
		m.conn.explicit.Store(true)
		m.conn.close()
		m.conn = nil
	}
	m.token = token
	m.ctx = ctx
	m.mu.Unlock()

	if err := checkToken(token); err != nil {
		m.state.Store(int32(models.StateFailed))
		return err
	}

	return m.dial(ctx, token, false)
}

// Disconnect releases the channel. Idempotent; safe when already
// disconnected. An explicit disconnect never triggers a reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	c := m.conn
	m.conn = nil
	m.mu.Unlock()

	m.state.Store(int32(models.StateDisconnected))
	if c != nil {
		c.explicit.Store(true)
		c.close()
	}
}

// Emit frames and writes an outbound event on the live connection.
func (m *Manager) Emit(event string, payload any) error {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()

	if c == nil {
		return &NetworkError{Op: "emit " + event, Err: fmt.Errorf("not connected")}
	}

	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return &NetworkError{Op: "emit " + event, Err: err}
	}
	return nil
}

func (m *Manager) dial(ctx context.Context, token string, reconnected bool) error {
	m.state.Store(int32(models.StateConnecting))

	kind := "initial"
	if reconnected {
		kind = "reconnect"
	}
	observability.Connects().WithLabelValues(kind).Inc()

	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	header := http.Header{
		"Authorization": {"Bearer " + token},
		"X-Client-ID":   {m.clientID},
	}

	ws, resp, err := dialer.DialContext(ctx, m.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			m.state.Store(int32(models.StateFailed))
			return &AuthError{Reason: "credential rejected at handshake", Err: err}
		}
		m.state.Store(int32(models.StateDisconnected))
		return &NetworkError{Op: "dial", Err: err}
	}

	c := &conn{ws: ws, closed: make(chan struct{})}

	m.mu.Lock()
	m.conn = c
	m.mu.Unlock()

	m.state.Store(int32(models.StateConnected))
	m.logger.Info().Str("client_id", m.clientID).Bool("reconnected", reconnected).Msg("connected")

	go m.readPump(c)

	if m.handlers.OnOpen != nil {
		m.handlers.OnOpen(reconnected)
	}
	return nil
}

// readPump delivers decoded events one at a time, in arrival order. All
// consumer state mutation happens on this goroutine.
func (m *Manager) readPump(c *conn) {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.close()
			if c.explicit.Load() {
				m.notifyClose(nil)
				return
			}
			m.notifyClose(err)
			m.reconnect(c)
			return
		}

		event, perr := protocol.DecodeIncoming(raw)
		if perr != nil {
			observability.EventsDiscarded().WithLabelValues("protocol").Inc()
			m.logger.Warn().Err(perr).Msg("dropping malformed event")
			continue
		}

		select {
		case <-c.closed:
			observability.EventsDiscarded().WithLabelValues("closed").Inc()
			return
		default:
		}

		if m.handlers.OnEvent != nil {
			m.handlers.OnEvent(event)
		}
	}
}

func (m *Manager) notifyClose(reason error) {
	if reason != nil {
		m.logger.Warn().Err(reason).Msg("connection closed")
	}
	if m.handlers.OnClose != nil {
		m.handlers.OnClose(reason)
	}
}

// reconnect retries the dial with exponential backoff until it succeeds,
// the session context ends, or the attempt budget is exhausted.
func (m *Manager) reconnect(failed *conn) {
	m.mu.Lock()
	if m.conn != failed {
		// A newer connection replaced this one already.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	token := m.token
	ctx := m.ctx
	m.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	backoff := m.cfg.ReconnectMinBackoff
	for attempt := 1; attempt <= m.cfg.ReconnectMaxTries; attempt++ {
		select {
		case <-ctx.Done():
			m.state.Store(int32(models.StateDisconnected))
			return
		case <-time.After(backoff):
		}

		m.logger.Info().Int("attempt", attempt).Dur("backoff", backoff).Msg("reconnecting")
		err := m.dial(ctx, token, true)
		if err == nil {
			return
		}

		var authErr *AuthError
		if errors.As(err, &authErr) {
			m.state.Store(int32(models.StateFailed))
			m.notifyError(err)
			return
		}

		m.notifyError(err)
		backoff *= 2
		if backoff > m.cfg.ReconnectMaxBackoff {
			backoff = m.cfg.ReconnectMaxBackoff
		}
	}

	m.state.Store(int32(models.StateFailed))
	m.notifyError(&NetworkError{Op: "reconnect", Err: fmt.Errorf("gave up after %d attempts", m.cfg.ReconnectMaxTries)})
}

func (m *Manager) notifyError(err error) {
	if m.handlers.OnError != nil {
		m.handlers.OnError(err)
	}
}

// checkToken fails fast on a token that is already expired. The signature
// cannot be verified client-side; only the registered claims are inspected.
func checkToken(token string) error {
	if token == "" {
		return &AuthError{Reason: "missing credential"}
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return &AuthError{Reason: "malformed credential", Err: err}
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return &AuthError{Reason: "invalid claims", Err: err}
	}
	if exp != nil && exp.Before(time.Now()) {
		return &AuthError{Reason: "credential expired"}
	}
	return nil
}
