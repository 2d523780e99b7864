package dto

import (
	"github.com/samber/lo"

	"github.com/noah-isme/diskuss-client/internal/models"
)

// MessagesRequest asks the server for one page of a discussion's history.
// Responses carry no correlation id; the most recent request of this name
// wins and stale pages are discarded by the stream.
type MessagesRequest struct {
	DiscussionID string `json:"discussion_id" validate:"required,max=64"`
	Limit        int    `json:"limit" validate:"required,min=1,max=100"`
	Offset       int    `json:"offset" validate:"min=0"`
}

// SendMessageRequest is the fire-and-forget send command. The server
// persists the message and fans it out as a receive_message push to every
// participant, including the sender.
type SendMessageRequest struct {
	DiscussionID string `json:"discussion_id" validate:"required,max=64"`
	RecipientID  string `json:"recipient_id" validate:"required,max=64"`
	Text         string `json:"text" validate:"required,min=1,max=4000"`
}

// MessagePush wraps a pushed message. The server nests the message under
// "data".
type MessagePush struct {
	Data models.Message `json:"data"`
}

// ServerError is the payload of an "error" push.
type ServerError struct {
	Message string `json:"message"`
}

// LoginRequest carries credentials to the auth endpoint.
type LoginRequest struct {
	Username string `json:"username" validate:"required,min=1,max=64"`
	Password string `json:"password" validate:"required,min=1"`
}

// CreateDiscussionRequest starts a new discussion with the given
// participant ids.
type CreateDiscussionRequest struct {
	Participants []string `json:"participants" validate:"required,min=1,dive,required"`
}

// UserIDs extracts the ids from a slice of users.
func UserIDs(users []models.User) []string {
	return lo.Map(users, func(u models.User, _ int) string { return u.ID })
}
