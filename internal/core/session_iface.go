package core

import "github.com/dkeye/Cast/internal/domain"

// SessionDirectory maps human typed codes to sessions.
type SessionDirectory interface {
	Create(kind domain.SessionKind) (domain.Session, error)
	Lookup(code string) (domain.Session, error)
	Get(id domain.SessionID) (domain.Session, error)
	// Close reports whether a live session was removed; closing twice is a no-op.
	Close(code string) (domain.Session, bool)
	Count() int
}
