package orch

import (
	"context"

	"github.com/dkeye/Cast/internal/core"
	"github.com/dkeye/Cast/internal/domain"
)

func (o *Orchestrator) PostMessage(sid domain.SessionID, username, body string) (domain.Message, error) {
	if _, err := o.requireKind(sid, domain.KindText); err != nil {
		return domain.Message{}, err
	}
	m, err := o.Messages.Append(sid, username, body)
	if err != nil {
		return domain.Message{}, err
	}
	if err := o.stillOpen(sid); err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

func (o *Orchestrator) History(sid domain.SessionID) ([]domain.Message, error) {
	if _, err := o.requireKind(sid, domain.KindText); err != nil {
		return nil, err
	}
	return o.Messages.History(sid), nil
}

// AttachText subscribes conn to the session's messages after backfilling it
// with the history. cancel stops conn's pumps when the session closes.
func (o *Orchestrator) AttachText(sid domain.SessionID, conn core.SignalConnection, cancel context.CancelFunc) error {
	if _, err := o.requireKind(sid, domain.KindText); err != nil {
		return err
	}
	o.Registry.Bind(sid, domain.KindText, domain.RoleViewer, conn, cancel)
	if err := o.Messages.Attach(sid, conn); err != nil {
		o.Registry.Unbind(conn)
		return err
	}
	return o.stillOpen(sid)
}

func (o *Orchestrator) DetachText(sid domain.SessionID, conn core.SignalConnection) {
	o.Messages.Detach(sid, conn)
	o.Registry.Unbind(conn)
}
