// Package stream keeps the ordered, de-duplicated message log for the
// single currently active discussion: backward pagination over history plus
// live append of pushed messages, in one strict (timestamp, id) order.
package stream

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/diskuss-client/internal/dto"
	"github.com/noah-isme/diskuss-client/internal/models"
	"github.com/noah-isme/diskuss-client/internal/observability"
	"github.com/noah-isme/diskuss-client/internal/protocol"
)

// ErrNoActiveDiscussion indicates an operation that requires a selected
// discussion was called without one.
var ErrNoActiveDiscussion = errors.New("no active discussion")

// State is the per-discussion loading state machine.
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateReady
)

// Emitter is the subset of the connection manager the stream needs.
type Emitter interface {
	Emit(event string, payload any) error
}

// Upserter receives messages for sidebar last-message bookkeeping.
type Upserter interface {
	UpsertFromMessage(ctx context.Context, msg models.Message)
}

// Stream exclusively owns the active discussion's log. Selecting a
// different discussion discards the previous log; there is no simultaneous
// multi-discussion live log.
type Stream struct {
	emitter   Emitter
	directory Upserter
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
	pageSize  int

	mu           sync.Mutex
	state        State
	discussionID string
	log          []models.Message
	ids          map[string]struct{}
	// gen counts activations. Each issued page request is queued with the
	// generation it was issued under; the websocket delivers responses in
	// request order, so each page pops the queue head and is applied only
	// when that generation is still current. Connection close empties the
	// queue: responses for a closed channel never arrive.
	gen     int
	pending []int
	lastReq *dto.MessagesRequest
	notify  func(models.Message)
}

// Notify registers a callback invoked after a live message is appended to
// the active log. Set once, before the session starts.
func (s *Stream) Notify(fn func(models.Message)) {
	s.notify = fn
}

// New constructs a stream bound to the shared connection handle.
func New(emitter Emitter, directory Upserter, validate *validator.Validate, pageSize int, logger zerolog.Logger) *Stream {
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("br")

	return &Stream{
		emitter:   emitter,
		directory: directory,
		validator: validate,
		sanitizer: policy,
		logger:    logger.With().Str("component", "stream").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/diskuss-client/internal/stream"),
		pageSize:  pageSize,
		ids:       make(map[string]struct{}),
	}
}

// State returns the current loading state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DiscussionID returns the active discussion id, empty when none.
func (s *Stream) DiscussionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discussionID
}

// Messages returns a copy of the log in ascending (timestamp, id) order.
func (s *Stream) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.log))
	copy(out, s.log)
	return out
}

// Activate switches the stream to a discussion and requests its first page.
// Any response still in flight for a previous activation is superseded and
// will be discarded on arrival.
func (s *Stream) Activate(ctx context.Context, discussionID string) error {
	_, span := s.tracer.Start(ctx, "stream.activate",
		trace.WithAttributes(attribute.String("discussion_id", discussionID)))
	defer span.End()

	s.mu.Lock()
	if discussionID != s.discussionID {
		s.log = nil
		s.ids = make(map[string]struct{})
	}
	s.discussionID = discussionID
	s.state = StateLoading
	s.gen++
	req := dto.MessagesRequest{DiscussionID: discussionID, Limit: s.pageSize, Offset: 0}
	s.mu.Unlock()

	return s.request(req, span)
}

// LoadOlder extends the log backward by one page. Already loaded newer
// messages and the live-append path are untouched.
func (s *Stream) LoadOlder(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, "stream.load_older")
	defer span.End()

	s.mu.Lock()
	if s.discussionID == "" {
		s.mu.Unlock()
		return ErrNoActiveDiscussion
	}
	req := dto.MessagesRequest{DiscussionID: s.discussionID, Limit: s.pageSize, Offset: len(s.log)}
	s.mu.Unlock()

	return s.request(req, span)
}

func (s *Stream) request(req dto.MessagesRequest, span trace.Span) error {
	if err := s.validator.Struct(req); err != nil {
		span.RecordError(err)
		return err
	}

	s.mu.Lock()
	s.lastReq = &req
	s.pending = append(s.pending, s.gen)
	s.mu.Unlock()

	if err := s.emitter.Emit(protocol.EventGetMessages, req); err != nil {
		s.mu.Lock()
		if n := len(s.pending); n > 0 {
			s.pending = s.pending[:n-1]
		}
		s.mu.Unlock()
		span.RecordError(err)
		return err
	}
	return nil
}

// ApplyPage merges a history page into the log. Responses carry no request
// id, but arrive in request order; each page answers the oldest pending
// request. A page answering a request issued under a superseded activation
// is dropped, empty or not, without touching the current activation's
// still-pending responses.
func (s *Stream) ApplyPage(msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		observability.EventsDiscarded().WithLabelValues("stale").Inc()
		s.logger.Debug().Int("messages", len(msgs)).Msg("dropping page with no request in flight")
		return
	}

	issued := s.pending[0]
	s.pending = s.pending[1:]
	if issued != s.gen {
		observability.EventsDiscarded().WithLabelValues("stale").Inc()
		s.logger.Debug().
			Int("messages", len(msgs)).
			Str("active_discussion_id", s.discussionID).
			Msg("dropping page for superseded activation")
		return
	}

	for _, msg := range msgs {
		if msg.DiscussionID != s.discussionID {
			continue
		}
		s.insertLocked(s.clean(msg))
	}
	s.state = StateReady
}

// ApplyPush routes a pushed message: appended to the log when it belongs to
// the active discussion regardless of state, otherwise forwarded only to
// the directory. The push is the sole path by which a sent message enters
// the log.
func (s *Stream) ApplyPush(ctx context.Context, msg models.Message) {
	msg = s.clean(msg)

	s.mu.Lock()
	appended := false
	if msg.DiscussionID == s.discussionID && s.discussionID != "" {
		_, seen := s.ids[msg.ID]
		s.insertLocked(msg)
		appended = !seen
	}
	s.mu.Unlock()

	s.directory.UpsertFromMessage(ctx, msg)
	if appended && s.notify != nil {
		s.notify(msg)
	}
}

// Send validates and emits the fire-and-forget send command. Text that is
// empty after trimming is a silent no-op. The log is not mutated here; the
// eventual receive_message push appends exactly once.
func (s *Stream) Send(ctx context.Context, text, recipientID string) error {
	_, span := s.tracer.Start(ctx, "stream.send")
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		s.logger.Debug().Msg("ignoring empty message")
		return nil
	}

	s.mu.Lock()
	discussionID := s.discussionID
	s.mu.Unlock()
	if discussionID == "" {
		return ErrNoActiveDiscussion
	}

	req := dto.SendMessageRequest{DiscussionID: discussionID, RecipientID: recipientID, Text: text}
	if err := s.validator.Struct(req); err != nil {
		span.RecordError(err)
		return err
	}

	if err := s.emitter.Emit(protocol.EventSendMessage, req); err != nil {
		span.RecordError(err)
		return err
	}

	observability.MessagesSent().Inc()
	return nil
}

// OnClose abandons every in-flight page request. A response arriving after
// the close belongs to a dead channel and must not be applied.
func (s *Stream) OnClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

// OnReconnect re-issues the stream's last page request once the connection
// reopens. The previous known log is kept; merging de-duplicates overlap.
func (s *Stream) OnReconnect(ctx context.Context) {
	s.mu.Lock()
	req := s.lastReq
	active := s.discussionID
	s.mu.Unlock()

	if req == nil || active == "" {
		return
	}

	_, span := s.tracer.Start(ctx, "stream.reissue")
	defer span.End()
	if err := s.request(*req, span); err != nil {
		s.logger.Warn().Err(err).Msg("failed to re-issue page request after reconnect")
	}
}

// clean strips markup from message text; the stored log is what the UI
// renders verbatim.
func (s *Stream) clean(msg models.Message) models.Message {
	msg.Text = strings.TrimSpace(s.sanitizer.Sanitize(msg.Text))
	return msg
}

// insertLocked places msg at its (timestamp, id) position, skipping
// duplicates by id. Caller holds s.mu.
func (s *Stream) insertLocked(msg models.Message) {
	if _, seen := s.ids[msg.ID]; seen {
		return
	}
	s.ids[msg.ID] = struct{}{}

	at := sort.Search(len(s.log), func(i int) bool {
		return msg.Before(s.log[i])
	})
	s.log = append(s.log, models.Message{})
	copy(s.log[at+1:], s.log[at:])
	s.log[at] = msg
}
