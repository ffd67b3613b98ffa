package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	MaxUsernameLen = 36
	MaxBodyLen     = 4096
)

// Message is a chat line of a text session. Append-only.
type Message struct {
	ID        uint64    `json:"id"`
	SessionID SessionID `json:"session_id"`
	Username  string    `json:"username"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage validates the user supplied fields. ID and Timestamp are
// assigned by the service that serializes appends.
func NewMessage(sid SessionID, username, body string) (*Message, error) {
	username = strings.TrimSpace(username)
	if len(username) == 0 {
		return nil, fmt.Errorf("username empty: %w", ErrInvalidInput)
	}
	if len(username) > MaxUsernameLen {
		return nil, fmt.Errorf("username too long: %w", ErrInvalidInput)
	}
	if len(strings.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("message body empty: %w", ErrInvalidInput)
	}
	if len(body) > MaxBodyLen {
		return nil, fmt.Errorf("message body too long: %w", ErrInvalidInput)
	}
	return &Message{SessionID: sid, Username: username, Body: body}, nil
}
