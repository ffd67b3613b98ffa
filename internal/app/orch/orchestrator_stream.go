package orch

import (
	"context"

	"github.com/dkeye/Cast/internal/core"
	"github.com/dkeye/Cast/internal/domain"
	"github.com/dkeye/Cast/internal/protocol"
)

func (o *Orchestrator) AttachStream(sid domain.SessionID, role domain.Role, conn core.SignalConnection, cancel context.CancelFunc) error {
	if _, err := o.requireKind(sid, domain.KindStream); err != nil {
		return err
	}
	o.Registry.Bind(sid, domain.KindStream, role, conn, cancel)
	switch role {
	case domain.RoleBroadcaster:
		o.Relay.AttachBroadcaster(sid, conn)
	default:
		o.Relay.AttachViewer(sid, conn)
	}
	return o.stillOpen(sid)
}

func (o *Orchestrator) DetachStream(sid domain.SessionID, role domain.Role, conn core.SignalConnection) {
	switch role {
	case domain.RoleBroadcaster:
		o.Relay.DetachBroadcaster(sid, conn)
	default:
		o.Relay.DetachViewer(sid, conn)
	}
	o.Registry.Unbind(conn)
}

// RouteStream hands an envelope received on conn to the relay.
func (o *Orchestrator) RouteStream(sid domain.SessionID, role domain.Role, conn core.SignalConnection, env protocol.Envelope) error {
	if role == domain.RoleBroadcaster {
		return o.Relay.FromBroadcaster(sid, conn, env)
	}
	return o.Relay.FromViewer(sid, conn, env)
}
