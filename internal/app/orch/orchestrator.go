package orch

import (
	"errors"
	"fmt"

	"github.com/dkeye/Cast/internal/app"
	"github.com/dkeye/Cast/internal/core"
	"github.com/dkeye/Cast/internal/domain"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Directory core.SessionDirectory
	Messages  *app.MessageService
	Relay     *app.Relay
	Registry  *app.Registry
}

// New wires the in-memory services around one policy.
func New(codeAttempts int, policy app.Policy) *Orchestrator {
	return &Orchestrator{
		Directory: app.NewDirectory(codeAttempts, app.RandomCode),
		Messages:  app.NewMessageService(policy),
		Relay:     app.NewRelay(policy),
		Registry:  app.NewRegistry(),
	}
}

func (o *Orchestrator) CreateSession(kind domain.SessionKind) (domain.Session, error) {
	return o.Directory.Create(kind)
}

func (o *Orchestrator) LookupSession(code string) (domain.Session, error) {
	return o.Directory.Lookup(code)
}

func (o *Orchestrator) Session(id domain.SessionID) (domain.Session, error) {
	return o.Directory.Get(id)
}

// Resolve accepts either a session id or a join code.
func (o *Orchestrator) Resolve(key string) (domain.Session, error) {
	s, err := o.Directory.Get(domain.SessionID(key))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Session{}, err
	}
	return o.Directory.Lookup(key)
}

// SessionStats is a point-in-time view of what is bound to one session.
type SessionStats struct {
	Session     domain.Session `json:"session"`
	Channels    int            `json:"channels"`
	Relay       string         `json:"relay,omitempty"`
	Viewers     int            `json:"viewers"`
	Subscribers int            `json:"subscribers"`
}

func (o *Orchestrator) Stats(sid domain.SessionID) (SessionStats, error) {
	s, err := o.Directory.Get(sid)
	if err != nil {
		return SessionStats{}, err
	}
	st := SessionStats{Session: s, Channels: o.Registry.CountSession(sid)}
	switch s.Kind {
	case domain.KindStream:
		st.Relay = o.Relay.State(sid).String()
		st.Viewers = o.Relay.ViewerCount(sid)
	case domain.KindText:
		st.Subscribers = o.Messages.Subscribers(sid)
	}
	return st, nil
}

// CloseSession removes the code and tears down everything bound to the
// session. Closing an unknown or closed code is a no-op.
func (o *Orchestrator) CloseSession(code string) bool {
	s, ok := o.Directory.Close(code)
	if !ok {
		return false
	}
	o.release(s.ID)
	return true
}

func (o *Orchestrator) release(sid domain.SessionID) {
	o.Relay.Drop(sid)
	o.Messages.Drop(sid)
	n := o.Registry.CancelSession(sid)
	log.Info().Str("module", "orch").Str("session", string(sid)).Int("channels", n).Msg("session released")
}

// stillOpen guards attach against a concurrent CloseSession: if the session
// vanished meanwhile, whatever was just bound is released again.
func (o *Orchestrator) stillOpen(sid domain.SessionID) error {
	if _, err := o.Directory.Get(sid); err != nil {
		o.release(sid)
		return err
	}
	return nil
}

func (o *Orchestrator) requireKind(sid domain.SessionID, kind domain.SessionKind) (domain.Session, error) {
	s, err := o.Directory.Get(sid)
	if err != nil {
		return domain.Session{}, err
	}
	if s.Kind != kind {
		return domain.Session{}, fmt.Errorf("session %q is %s, not %s: %w", sid, s.Kind, kind, domain.ErrInvalidInput)
	}
	return s, nil
}
