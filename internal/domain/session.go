// Package domain contains entity without logic, just meta-data
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CodeLen is the length of a human typed session code.
const CodeLen = 6

// CodeAlphabet lists the characters a session code is drawn from.
const CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

type (
	SessionID string
	Code      string
	ViewerID  string
)

type SessionKind string

const (
	KindText   SessionKind = "text"
	KindStream SessionKind = "stream"
)

func ParseSessionKind(s string) (SessionKind, error) {
	switch SessionKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindText:
		return KindText, nil
	case KindStream:
		return KindStream, nil
	}
	return "", fmt.Errorf("session kind %q: %w", s, ErrInvalidInput)
}

// Role is the side a signaling channel speaks for.
type Role string

const (
	RoleBroadcaster Role = "broadcaster"
	RoleViewer      Role = "viewer"
)

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(s)) {
	case RoleBroadcaster:
		return RoleBroadcaster, nil
	case RoleViewer:
		return RoleViewer, nil
	}
	return "", fmt.Errorf("role %q: %w", s, ErrInvalidInput)
}

// Session is immutable once created.
type Session struct {
	ID        SessionID   `json:"id"`
	Code      Code        `json:"code"`
	Kind      SessionKind `json:"kind"`
	CreatedAt time.Time   `json:"created_at"`
}

func NewSession(code Code, kind SessionKind) Session {
	return Session{
		ID:        SessionID(uuid.NewString()),
		Code:      NormalizeCode(string(code)),
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
}

// NormalizeCode makes user input comparable: trimmed and uppercased.
func NormalizeCode(s string) Code {
	return Code(strings.ToUpper(strings.TrimSpace(s)))
}

// Valid reports whether c is CodeLen characters from CodeAlphabet.
func (c Code) Valid() bool {
	if len(c) != CodeLen {
		return false
	}
	for _, r := range string(c) {
		if !strings.ContainsRune(CodeAlphabet, r) {
			return false
		}
	}
	return true
}

func NewViewerID() ViewerID {
	return ViewerID(uuid.NewString())
}
