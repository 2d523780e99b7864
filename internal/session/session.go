// Package session ties one authenticated user to the connection manager,
// discussion directory and message stream, and runs the dispatch loop that
// routes incoming protocol events to them in arrival order.
package session

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/diskuss-client/internal/config"
	"github.com/noah-isme/diskuss-client/internal/directory"
	"github.com/noah-isme/diskuss-client/internal/models"
	"github.com/noah-isme/diskuss-client/internal/observability"
	"github.com/noah-isme/diskuss-client/internal/protocol"
	"github.com/noah-isme/diskuss-client/internal/socket"
	"github.com/noah-isme/diskuss-client/internal/stream"
)

// Session owns the single live connection and the two consumers sharing it.
// The connection handle is passed to the consumers explicitly; nothing is a
// package-level singleton.
type Session struct {
	cfg       config.Config
	user      models.User
	token     string
	logger    zerolog.Logger
	manager   *socket.Manager
	directory *directory.Directory
	stream    *stream.Stream

	// ctx set by Start; reused by reconnect re-issues.
	ctx context.Context
}

// New wires a session for the given user and credential. Connect happens in
// Start, not here.
func New(cfg config.Config, user models.User, token string, logger zerolog.Logger) *Session {
	s := &Session{
		cfg:    cfg,
		user:   user,
		token:  token,
		logger: logger.With().Str("component", "session").Str("user_id", user.ID).Logger(),
	}

	s.manager = socket.NewManager(cfg, socket.Handlers{
		OnOpen:  s.handleOpen,
		OnError: s.handleError,
		OnClose: s.handleClose,
		OnEvent: s.handleEvent,
	}, logger)

	validate := validator.New(validator.WithRequiredStructEnabled())
	s.directory = directory.New(s.manager, logger)
	s.stream = stream.New(s.manager, s.directory, validate, cfg.PageSize, logger)

	return s
}

// Directory exposes the discussion directory.
func (s *Session) Directory() *directory.Directory { return s.directory }

// Stream exposes the active message stream.
func (s *Session) Stream() *stream.Stream { return s.stream }

// State reports the connection state, for a "reconnecting" indicator.
func (s *Session) State() models.ConnectionState { return s.manager.State() }

// User returns the authenticated user.
func (s *Session) User() models.User { return s.user }

// Start connects and issues the initial discussion load. The context bounds
// the whole session including reconnect attempts.
func (s *Session) Start(ctx context.Context) error {
	s.ctx = ctx
	if err := s.manager.Connect(ctx, s.token); err != nil {
		return err
	}
	return s.directory.Load(ctx)
}

// Close releases the connection. Idempotent; must be called when the
// session ends so no channel leaks across session changes.
func (s *Session) Close() {
	s.manager.Disconnect()
}

// Select activates a discussion and starts loading its history.
func (s *Session) Select(ctx context.Context, discussionID string) (models.Discussion, error) {
	disc, err := s.directory.Select(discussionID)
	if err != nil {
		return models.Discussion{}, err
	}
	if err := s.stream.Activate(ctx, discussionID); err != nil {
		return models.Discussion{}, err
	}
	return disc, nil
}

// Send posts text into the active discussion, addressed to its other
// participant.
func (s *Session) Send(ctx context.Context, text string) error {
	disc, ok := s.directory.Active()
	if !ok {
		return stream.ErrNoActiveDiscussion
	}

	others := disc.OtherParticipants(s.user.ID)
	if len(others) == 0 {
		return fmt.Errorf("discussion %s has no other participant", disc.ID)
	}
	return s.stream.Send(ctx, text, others[0].ID)
}

func (s *Session) handleOpen(reconnected bool) {
	if !reconnected {
		return
	}
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	s.directory.OnReconnect(ctx)
	s.stream.OnReconnect(ctx)
}

func (s *Session) handleClose(reason error) {
	s.stream.OnClose()
	if reason != nil {
		s.logger.Warn().Err(reason).Msg("connection lost")
	}
}

func (s *Session) handleError(err error) {
	s.logger.Error().Err(err).Str("state", s.manager.State().String()).Msg("connection error")
}

// handleEvent is the single dispatch point for every incoming event.
func (s *Session) handleEvent(event protocol.Incoming) {
	switch ev := event.(type) {
	case protocol.Snapshot:
		observability.EventsReceived().WithLabelValues(protocol.EventGetDiscussions).Inc()
		s.directory.ApplySnapshot(ev)
	case protocol.Page:
		observability.EventsReceived().WithLabelValues(protocol.EventGetMessages).Inc()
		s.stream.ApplyPage(ev)
	case protocol.Push:
		observability.EventsReceived().WithLabelValues(protocol.EventReceiveMessage).Inc()
		ctx := s.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		s.stream.ApplyPush(ctx, models.Message(ev))
	case protocol.ServerFault:
		observability.EventsReceived().WithLabelValues(protocol.EventError).Inc()
		s.logger.Warn().Str("message", ev.Message).Msg("server reported error")
	}
}
