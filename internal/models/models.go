package models

import "time"

// User identifies a chat participant. Immutable once fetched.
type User struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
}

// Message is a single chat message. Created once by its sender and never
// mutated; `(Timestamp, ID)` is the ordering key across the whole client.
type Message struct {
	ID           string    `json:"_id"`
	DiscussionID string    `json:"discussion_id"`
	SenderID     string    `json:"sender_id"`
	RecipientID  string    `json:"recipient_id"`
	Text         string    `json:"text"`
	Timestamp    time.Time `json:"timestamp"`
}

// Before reports whether m sorts strictly before other, by timestamp with
// the message id as tie-break.
func (m Message) Before(other Message) bool {
	if m.Timestamp.Equal(other.Timestamp) {
		return m.ID < other.ID
	}
	return m.Timestamp.Before(other.Timestamp)
}

// Discussion is a conversation among a fixed set of participants. The client
// only ever receives and caches discussions; LastMessage is a denormalized
// cache of the most recent message for sidebar display.
type Discussion struct {
	ID           string   `json:"_id"`
	Participants []User   `json:"participants"`
	LastMessage  *Message `json:"last_message,omitempty"`
}

// OtherParticipants returns every participant except the given user.
func (d Discussion) OtherParticipants(userID string) []User {
	out := make([]User, 0, len(d.Participants))
	for _, p := range d.Participants {
		if p.ID != userID {
			out = append(out, p)
		}
	}
	return out
}

// ConnectionState tracks the lifecycle of the session's single connection.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateFailed
)

// String returns the lowercase name of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// Session binds an authenticated user to their live connection. Exactly one
// connection may be live per session.
type Session struct {
	User  User
	Token string
	State ConnectionState
}
