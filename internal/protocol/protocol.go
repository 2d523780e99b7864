// Package protocol defines the event vocabulary spoken over the Diskuss
// websocket and the envelope codec shared by every consumer. Requests and
// responses are correlated only by event name; there are no per-request ids.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/noah-isme/diskuss-client/internal/dto"
	"github.com/noah-isme/diskuss-client/internal/models"
)

// Event names. Request/response pairs reuse the same name in both
// directions; receive_message and error are unsolicited pushes.
const (
	EventGetDiscussions = "get_discussions"
	EventGetMessages    = "get_discussion_messages"
	EventSendMessage    = "send_message"
	EventReceiveMessage = "receive_message"
	EventError          = "error"
)

// Envelope frames every payload on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Error reports a malformed or unexpected payload. Offending events are
// logged and dropped; they never crash a consumer.
type Error struct {
	Event string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol: bad %q event: %v", e.Event, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Incoming is the tagged variant for server-to-client events. Dispatching
// through a single switch keeps the discard-stale-response rule in one
// guarded match instead of scattered state checks.
type Incoming interface {
	incoming()
}

// Snapshot is the full discussion set answering get_discussions.
type Snapshot []models.Discussion

// Page is one slice of a discussion's history answering
// get_discussion_messages.
type Page []models.Message

// Push is an unsolicited receive_message event.
type Push models.Message

// ServerFault is an "error" push from the server.
type ServerFault dto.ServerError

func (Snapshot) incoming()    {}
func (Page) incoming()        {}
func (Push) incoming()        {}
func (ServerFault) incoming() {}

// Encode frames an outbound event.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Event: event, Err: err}
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// DecodeIncoming parses a raw frame into its typed variant. Unknown event
// names and malformed payloads yield a *Error.
func DecodeIncoming(raw []byte) (Incoming, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &Error{Event: "envelope", Err: err}
	}

	switch env.Event {
	case EventGetDiscussions:
		var discussions []models.Discussion
		if err := json.Unmarshal(env.Data, &discussions); err != nil {
			return nil, &Error{Event: env.Event, Err: err}
		}
		return Snapshot(discussions), nil

	case EventGetMessages:
		var messages []models.Message
		if err := json.Unmarshal(env.Data, &messages); err != nil {
			return nil, &Error{Event: env.Event, Err: err}
		}
		return Page(messages), nil

	case EventReceiveMessage:
		var push dto.MessagePush
		if err := json.Unmarshal(env.Data, &push); err != nil {
			return nil, &Error{Event: env.Event, Err: err}
		}
		if push.Data.ID == "" {
			return nil, &Error{Event: env.Event, Err: fmt.Errorf("push without message id")}
		}
		return Push(push.Data), nil

	case EventError:
		var fault dto.ServerError
		if err := json.Unmarshal(env.Data, &fault); err != nil {
			return nil, &Error{Event: env.Event, Err: err}
		}
		return ServerFault(fault), nil

	default:
		return nil, &Error{Event: env.Event, Err: fmt.Errorf("unknown event")}
	}
}
