package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/diskuss-client/internal/dto"
	"github.com/noah-isme/diskuss-client/internal/models"
	"github.com/noah-isme/diskuss-client/internal/protocol"
)

type emitted struct {
	event   string
	payload any
}

type stubEmitter struct {
	mu     sync.Mutex
	frames []emitted
	err    error
}

func (s *stubEmitter) Emit(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, emitted{event: event, payload: payload})
	return nil
}

func (s *stubEmitter) sent() []emitted {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]emitted, len(s.frames))
	copy(out, s.frames)
	return out
}

type stubUpserter struct {
	mu       sync.Mutex
	messages []models.Message
}

func (s *stubUpserter) UpsertFromMessage(_ context.Context, msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

func (s *stubUpserter) seen() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func newTestStream(t *testing.T) (*Stream, *stubEmitter, *stubUpserter) {
	t.Helper()
	emitter := &stubEmitter{}
	upserter := &stubUpserter{}
	s := New(emitter, upserter, validator.New(validator.WithRequiredStructEnabled()), 5, zerolog.Nop())
	return s, emitter, upserter
}

func msgAt(id, discussionID string, unixMilli int64) models.Message {
	return models.Message{
		ID:           id,
		DiscussionID: discussionID,
		SenderID:     "u1",
		RecipientID:  "u2",
		Text:         "text-" + id,
		Timestamp:    time.UnixMilli(unixMilli).UTC(),
	}
}

func ids(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestActivateRequestsFirstPage(t *testing.T) {
	s, emitter, _ := newTestStream(t)

	require.NoError(t, s.Activate(context.Background(), "d1"))
	require.Equal(t, StateLoading, s.State())

	frames := emitter.sent()
	require.Len(t, frames, 1)
	require.Equal(t, protocol.EventGetMessages, frames[0].event)
	require.Equal(t, dto.MessagesRequest{DiscussionID: "d1", Limit: 5, Offset: 0}, frames[0].payload)

	s.ApplyPage([]models.Message{msgAt("m1", "d1", 100)})
	require.Equal(t, StateReady, s.State())
	require.Equal(t, []string{"m1"}, ids(s.Messages()))
}

func TestPageAndPushInterleavingsSortAscending(t *testing.T) {
	s, _, _ := newTestStream(t)
	require.NoError(t, s.Activate(context.Background(), "d1"))

	s.ApplyPage([]models.Message{msgAt("m1", "d1", 100), msgAt("m2", "d1", 105)})
	s.ApplyPush(context.Background(), msgAt("m0", "d1", 90))

	require.Equal(t, []string{"m0", "m1", "m2"}, ids(s.Messages()))
}

func TestTimestampTiesBreakByID(t *testing.T) {
	s, _, _ := newTestStream(t)
	require.NoError(t, s.Activate(context.Background(), "d1"))

	s.ApplyPush(context.Background(), msgAt("mb", "d1", 100))
	s.ApplyPush(context.Background(), msgAt("ma", "d1", 100))
	s.ApplyPage([]models.Message{msgAt("mc", "d1", 100)})

	require.Equal(t, []string{"ma", "mb", "mc"}, ids(s.Messages()))
}

func TestDuplicatePushAppearsOnce(t *testing.T) {
	s, _, _ := newTestStream(t)
	require.NoError(t, s.Activate(context.Background(), "d1"))

	msg := msgAt("m1", "d1", 100)
	s.ApplyPush(context.Background(), msg)
	s.ApplyPush(context.Background(), msg)
	s.ApplyPage([]models.Message{msg})

	require.Equal(t, []string{"m1"}, ids(s.Messages()))
}

func TestActivationRaceDiscardsStalePage(t *testing.T) {
	s, _, _ := newTestStream(t)
	require.NoError(t, s.Activate(context.Background(), "d1"))
	require.NoError(t, s.Activate(context.Background(), "d2"))

	// The response logically answering d1's request arrives late.
	s.ApplyPage([]models.Message{msgAt("m1", "d1", 100)})

	require.Empty(t, s.Messages())
	require.Equal(t, StateLoading, s.State())

	s.ApplyPage([]models.Message{msgAt("m9", "d2", 200)})
	require.Equal(t, []string{"m9"}, ids(s.Messages()))
	require.Equal(t, StateReady, s.State())
}

func TestActivationRaceEmptyStalePageDoesNotStarveActive(t *testing.T) {
	s, _, _ := newTestStream(t)
	require.NoError(t, s.Activate(context.Background(), "d1"))
	require.NoError(t, s.Activate(context.Background(), "d2"))

	// d1 had no history; its late answer is an empty page. It must not
	// consume the response d2 is still waiting for.
	s.ApplyPage(nil)
	require.Empty(t, s.Messages())
	require.Equal(t, StateLoading, s.State())

	s.ApplyPage([]models.Message{msgAt("m9", "d2", 200)})
	require.Equal(t, []string{"m9"}, ids(s.Messages()))
	require.Equal(t, StateReady, s.State())
}

func TestPushDuringLoadingAppends(t *testing.T) {
	s, _, _ := newTestStream(t)
	require.NoError(t, s.Activate(context.Background(), "d1"))
	require.Equal(t, StateLoading, s.State())

	s.ApplyPush(context.Background(), msgAt("m1", "d1", 100))
	require.Equal(t, []string{"m1"}, ids(s.Messages()))
	require.Equal(t, StateLoading, s.State())
}

func TestPushForOtherDiscussionOnlyReachesDirectory(t *testing.T) {
	s, _, upserter := newTestStream(t)
	require.NoError(t, s.Activate(context.Background(), "d1"))

	other := msgAt("m7", "d2", 100)
	s.ApplyPush(context.Background(), other)

	require.Empty(t, s.Messages())
	seen := upserter.seen()
	require.Len(t, seen, 1)
	require.Equal(t, "m7", seen[0].ID)
}

func TestSendWhitespaceIsSilentNoOp(t *testing.T) {
	s, emitter, _ := newTestStream(t)
	require.NoError(t, s.Activate(context.Background(), "d1"))
	before := len(emitter.sent())

	require.NoError(t, s.Send(context.Background(), "   ", "u2"))

	require.Len(t, emitter.sent(), before)
	require.Empty(t, s.Messages())
}

func TestSendEmitsCommandWithoutTouchingLog(t *testing.T) {
	s, emitter, _ := newTestStream(t)
	require.NoError(t, s.Activate(context.Background(), "d1"))

	require.NoError(t, s.Send(context.Background(), "  hello  ", "u2"))

	frames := emitter.sent()
	last := frames[len(frames)-1]
	require.Equal(t, protocol.EventSendMessage, last.event)
	require.Equal(t, dto.SendMessageRequest{DiscussionID: "d1", RecipientID: "u2", Text: "hello"}, last.payload)
	require.Empty(t, s.Messages())
}

func TestSendWithoutActiveDiscussionFails(t *testing.T) {
	s, _, _ := newTestStream(t)
	require.ErrorIs(t, s.Send(context.Background(), "hello", "u2"), ErrNoActiveDiscussion)
}

func TestLoadOlderExtendsBackward(t *testing.T) {
	s, emitter, _ := newTestStream(t)
	require.NoError(t, s.Activate(context.Background(), "d1"))
	s.ApplyPage([]models.Message{msgAt("m3", "d1", 300), msgAt("m4", "d1", 400)})

	require.NoError(t, s.LoadOlder(context.Background()))
	frames := emitter.sent()
	last := frames[len(frames)-1].payload.(dto.MessagesRequest)
	require.Equal(t, 2, last.Offset)

	s.ApplyPage([]models.Message{msgAt("m1", "d1", 100), msgAt("m2", "d1", 200)})
	require.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids(s.Messages()))
}

func TestSwitchingDiscussionClearsLog(t *testing.T) {
	s, _, _ := newTestStream(t)
	require.NoError(t, s.Activate(context.Background(), "d1"))
	s.ApplyPage([]models.Message{msgAt("m1", "d1", 100)})

	require.NoError(t, s.Activate(context.Background(), "d2"))
	require.Empty(t, s.Messages())
	require.Equal(t, "d2", s.DiscussionID())
}

func TestPageAfterCloseIsDiscarded(t *testing.T) {
	s, _, _ := newTestStream(t)
	require.NoError(t, s.Activate(context.Background(), "d1"))

	s.OnClose()
	s.ApplyPage([]models.Message{msgAt("m1", "d1", 100)})

	require.Empty(t, s.Messages())
}

func TestOnReconnectReissuesLastRequest(t *testing.T) {
	s, emitter, _ := newTestStream(t)
	require.NoError(t, s.Activate(context.Background(), "d1"))
	s.ApplyPage([]models.Message{msgAt("m1", "d1", 100)})

	s.OnClose()
	before := len(emitter.sent())
	s.OnReconnect(context.Background())

	frames := emitter.sent()
	require.Len(t, frames, before+1)
	require.Equal(t, protocol.EventGetMessages, frames[len(frames)-1].event)

	// The reconnect page overlaps the kept log; merging must not duplicate.
	s.ApplyPage([]models.Message{msgAt("m1", "d1", 100), msgAt("m2", "d1", 200)})
	require.Equal(t, []string{"m1", "m2"}, ids(s.Messages()))
}

func TestPushTextIsSanitized(t *testing.T) {
	s, _, _ := newTestStream(t)
	require.NoError(t, s.Activate(context.Background(), "d1"))

	msg := msgAt("m1", "d1", 100)
	msg.Text = "<script>alert(1)</script> hello"
	s.ApplyPush(context.Background(), msg)

	got := s.Messages()
	require.Len(t, got, 1)
	require.Equal(t, "hello", got[0].Text)
}

func TestNotifyFiresOncePerAppendedMessage(t *testing.T) {
	s, _, _ := newTestStream(t)
	var notified []string
	s.Notify(func(msg models.Message) { notified = append(notified, msg.ID) })

	require.NoError(t, s.Activate(context.Background(), "d1"))
	msg := msgAt("m1", "d1", 100)
	s.ApplyPush(context.Background(), msg)
	s.ApplyPush(context.Background(), msg)
	s.ApplyPush(context.Background(), msgAt("m8", "d2", 100))

	require.Equal(t, []string{"m1"}, notified)
}
