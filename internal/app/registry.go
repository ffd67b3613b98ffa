package app

import (
	"context"
	"sync"

	"github.com/dkeye/Cast/internal/core"
	"github.com/dkeye/Cast/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	Session domain.SessionID
	Kind    domain.SessionKind
	Role    domain.Role
	Conn    core.SignalConnection
	Cancel  context.CancelFunc
}

// Registry tracks every live signaling channel so that closing a session
// can tear down the pumps that serve it.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*connEntry)}
}

func (r *Registry) Bind(
	sid domain.SessionID,
	kind domain.SessionKind,
	role domain.Role,
	conn core.SignalConnection,
	cancel context.CancelFunc,
) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = &connEntry{
		Session: sid,
		Kind:    kind,
		Role:    role,
		Conn:    conn,
		Cancel:  cancel,
	}
	log.Info().Str("module", "app.registry").Str("conn", conn.ID()).Str("session", string(sid)).Str("kind", string(kind)).Str("role", string(role)).Msg("bound channel")
}

// Unbind forgets conn if it is still the registered channel under its id.
func (r *Registry) Unbind(conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[conn.ID()]; ok && e.Conn == conn {
		delete(r.conns, conn.ID())
		log.Info().Str("module", "app.registry").Str("conn", conn.ID()).Msg("unbind channel")
	}
}

// CancelSession stops every channel bound to sid and returns how many.
func (r *Registry) CancelSession(sid domain.SessionID) int {
	r.mu.Lock()
	var cancels []context.CancelFunc
	for id, e := range r.conns {
		if e.Session != sid {
			continue
		}
		if e.Cancel != nil {
			cancels = append(cancels, e.Cancel)
		}
		delete(r.conns, id)
	}
	r.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	if len(cancels) > 0 {
		log.Info().Str("module", "app.registry").Str("session", string(sid)).Int("channels", len(cancels)).Msg("canceled session channels")
	}
	return len(cancels)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) CountSession(sid domain.SessionID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.conns {
		if e.Session == sid {
			n++
		}
	}
	return n
}
