package app

import (
	"fmt"
	"sync"

	"github.com/dkeye/Cast/internal/core"
	"github.com/dkeye/Cast/internal/domain"
	"github.com/dkeye/Cast/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type RelayState int

const (
	StateEmpty RelayState = iota
	StateBroadcasterOnly
	StateLive
)

func (s RelayState) String() string {
	switch s {
	case StateBroadcasterOnly:
		return "broadcaster_only"
	case StateLive:
		return "live"
	}
	return "empty"
}

// route is the routing table of one stream session.
type route struct {
	mu          sync.Mutex
	broadcaster core.SignalConnection
	// viewers holds announced viewers only.
	viewers map[domain.ViewerID]core.SignalConnection
	// conns holds every attached viewer channel; "" until it announces.
	conns map[core.SignalConnection]domain.ViewerID
}

func newRoute() *route {
	return &route{
		viewers: make(map[domain.ViewerID]core.SignalConnection),
		conns:   make(map[core.SignalConnection]domain.ViewerID),
	}
}

func (r *route) state() RelayState {
	switch {
	case r.broadcaster == nil:
		return StateEmpty
	case len(r.viewers) == 0:
		return StateBroadcasterOnly
	}
	return StateLive
}

func (r *route) empty() bool {
	return r.broadcaster == nil && len(r.conns) == 0
}

func (r *route) viewerConns() []core.SignalConnection {
	out := make([]core.SignalConnection, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}

// forgetViewers drops the announced map; channels stay attached.
func (r *route) forgetViewers() {
	clear(r.viewers)
	for c := range r.conns {
		r.conns[c] = ""
	}
}

// Relay forwards signaling envelopes between the single broadcaster of a
// stream session and its viewers. It looks at nothing but type and viewerId.
type Relay struct {
	mu     sync.RWMutex
	routes map[domain.SessionID]*route
	policy Policy
}

func NewRelay(policy Policy) *Relay {
	return &Relay{
		routes: make(map[domain.SessionID]*route),
		policy: policy,
	}
}

func logger(sid domain.SessionID) *zerolog.Logger {
	l := log.With().Str("module", "app.relay").Str("session", string(sid)).Logger()
	return &l
}

func (m *Relay) getOrCreate(sid domain.SessionID) *route {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[sid]
	if !ok {
		r = newRoute()
		m.routes[sid] = r
	}
	return r
}

// lockRoute returns the live route of sid with r.mu held. A route released
// between lookup and lock is skipped.
func (m *Relay) lockRoute(sid domain.SessionID) *route {
	for {
		r := m.getOrCreate(sid)
		r.mu.Lock()
		m.mu.RLock()
		live := m.routes[sid] == r
		m.mu.RUnlock()
		if live {
			return r
		}
		r.mu.Unlock()
	}
}

func (m *Relay) get(sid domain.SessionID) (*route, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.routes[sid]
	return r, ok
}

// release removes an idle route. Caller holds r.mu.
func (m *Relay) release(sid domain.SessionID, r *route) {
	if !r.empty() {
		return
	}
	m.mu.Lock()
	if m.routes[sid] == r {
		delete(m.routes, sid)
	}
	m.mu.Unlock()
}

func (m *Relay) send(sid domain.SessionID, r *route, env protocol.Envelope, targets ...core.SignalConnection) {
	res := publishEnvelope(m.policy, sid, env, targets...)
	for _, kicked := range res.Kicked {
		if kicked == r.broadcaster {
			continue
		}
		if id := r.conns[kicked]; id != "" && r.viewers[id] == kicked {
			delete(r.viewers, id)
		}
	}
}

// AttachBroadcaster binds conn as the broadcaster. A second broadcaster
// replaces the first: the old channel gets "replaced" and is closed, viewers
// get broadcaster_left and must announce themselves again.
func (m *Relay) AttachBroadcaster(sid domain.SessionID, conn core.SignalConnection) {
	l := logger(sid)
	r := m.lockRoute(sid)
	defer r.mu.Unlock()

	if old := r.broadcaster; old != nil && old != conn {
		l.Warn().Str("old", old.ID()).Str("new", conn.ID()).Msg("broadcaster replaced")
		m.send(sid, r, protocol.Envelope{Type: protocol.TypeReplaced}, old)
		old.Close()
		m.send(sid, r, protocol.Envelope{Type: protocol.TypeBroadcasterLeft}, r.viewerConns()...)
		r.forgetViewers()
	}
	r.broadcaster = conn

	// Viewers that announced while nobody was broadcasting.
	for id := range r.viewers {
		m.send(sid, r, protocol.ViewerJoined(id), conn)
	}
	l.Info().Str("conn", conn.ID()).Str("state", r.state().String()).Int("viewers", len(r.viewers)).Msg("broadcaster attached")
}

// DetachBroadcaster moves the session back to Empty if conn is the current
// broadcaster. The viewer map is dropped.
func (m *Relay) DetachBroadcaster(sid domain.SessionID, conn core.SignalConnection) {
	r, ok := m.get(sid)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.broadcaster != conn {
		return
	}
	r.broadcaster = nil
	m.send(sid, r, protocol.Envelope{Type: protocol.TypeBroadcasterLeft}, r.viewerConns()...)
	r.forgetViewers()
	logger(sid).Info().Str("conn", conn.ID()).Str("state", r.state().String()).Msg("broadcaster detached")
	m.release(sid, r)
}

func (m *Relay) AttachViewer(sid domain.SessionID, conn core.SignalConnection) {
	r := m.lockRoute(sid)
	defer r.mu.Unlock()
	r.conns[conn] = ""
	logger(sid).Info().Str("conn", conn.ID()).Int("channels", len(r.conns)).Msg("viewer channel attached")
}

// DetachViewer frees the viewer slot and tells the broadcaster.
func (m *Relay) DetachViewer(sid domain.SessionID, conn core.SignalConnection) {
	r, ok := m.get(sid)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id, attached := r.conns[conn]
	if !attached {
		return
	}
	delete(r.conns, conn)
	if id != "" && r.viewers[id] == conn {
		delete(r.viewers, id)
		if r.broadcaster != nil {
			m.send(sid, r, protocol.ViewerLeft(id), r.broadcaster)
		}
	}
	logger(sid).Info().Str("conn", conn.ID()).Str("viewer", string(id)).Str("state", r.state().String()).Msg("viewer channel detached")
	m.release(sid, r)
}

// FromViewer routes an envelope sent by a viewer channel to the broadcaster,
// stamping the viewerId the channel announced. Returned errors wrap
// ErrSignalingDesync and are for logging only.
func (m *Relay) FromViewer(sid domain.SessionID, conn core.SignalConnection, env protocol.Envelope) error {
	r, ok := m.get(sid)
	if !ok {
		return fmt.Errorf("no route for session: %w", domain.ErrSignalingDesync)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id, attached := r.conns[conn]
	if !attached {
		return fmt.Errorf("viewer channel not attached: %w", domain.ErrSignalingDesync)
	}

	if env.Type == protocol.TypeViewerJoined {
		m.announce(sid, r, conn, id, env.ViewerID)
		return nil
	}

	switch env.Type {
	case protocol.TypeAnswer, protocol.TypeICECandidate:
	default:
		return fmt.Errorf("%s not routable from viewer: %w", env.Type, domain.ErrSignalingDesync)
	}
	if id == "" {
		return fmt.Errorf("%s before viewer_joined: %w", env.Type, domain.ErrSignalingDesync)
	}
	if r.broadcaster == nil {
		return fmt.Errorf("%s with no broadcaster: %w", env.Type, domain.ErrSignalingDesync)
	}
	env.ViewerID = id
	m.send(sid, r, env, r.broadcaster)
	return nil
}

func (m *Relay) announce(sid domain.SessionID, r *route, conn core.SignalConnection, prev, id domain.ViewerID) {
	if prev != "" && prev != id && r.viewers[prev] == conn {
		delete(r.viewers, prev)
		if r.broadcaster != nil {
			m.send(sid, r, protocol.ViewerLeft(prev), r.broadcaster)
		}
	}
	if other, ok := r.viewers[id]; ok && other != conn {
		// Same viewer reconnected on a new channel; the stale one loses the slot.
		r.conns[other] = ""
	}
	r.viewers[id] = conn
	r.conns[conn] = id
	if r.broadcaster != nil {
		m.send(sid, r, protocol.ViewerJoined(id), r.broadcaster)
	}
	logger(sid).Info().Str("viewer", string(id)).Str("state", r.state().String()).Int("viewers", len(r.viewers)).Msg("viewer joined")
}

// FromBroadcaster routes an envelope to the viewer it names. stream_ended
// goes to every announced viewer.
func (m *Relay) FromBroadcaster(sid domain.SessionID, conn core.SignalConnection, env protocol.Envelope) error {
	r, ok := m.get(sid)
	if !ok {
		return fmt.Errorf("no route for session: %w", domain.ErrSignalingDesync)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.broadcaster != conn {
		return fmt.Errorf("envelope from stale broadcaster: %w", domain.ErrSignalingDesync)
	}

	switch env.Type {
	case protocol.TypeStreamEnded:
		targets := make([]core.SignalConnection, 0, len(r.viewers))
		for _, c := range r.viewers {
			targets = append(targets, c)
		}
		m.send(sid, r, env, targets...)
		return nil
	case protocol.TypeOffer, protocol.TypeICECandidate:
	default:
		return fmt.Errorf("%s not routable from broadcaster: %w", env.Type, domain.ErrSignalingDesync)
	}

	dst, ok := r.viewers[env.ViewerID]
	if !ok {
		logger(sid).Debug().Str("viewer", string(env.ViewerID)).Str("type", string(env.Type)).Msg("unknown viewer, dropping")
		return fmt.Errorf("unknown viewer %q: %w", env.ViewerID, domain.ErrSignalingDesync)
	}
	m.send(sid, r, env, dst)
	return nil
}

// Drop releases every routing entry of the session: all channels receive
// session_closed and are closed.
func (m *Relay) Drop(sid domain.SessionID) {
	m.mu.Lock()
	r, ok := m.routes[sid]
	delete(m.routes, sid)
	m.mu.Unlock()
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	targets := r.viewerConns()
	if r.broadcaster != nil {
		targets = append(targets, r.broadcaster)
	}
	publishEnvelope(nil, sid, protocol.Envelope{Type: protocol.TypeSessionClosed}, targets...)
	for _, c := range targets {
		c.Close()
	}
	r.broadcaster = nil
	clear(r.conns)
	clear(r.viewers)
	logger(sid).Info().Int("closed", len(targets)).Msg("routes dropped")
}

func (m *Relay) State(sid domain.SessionID) RelayState {
	r, ok := m.get(sid)
	if !ok {
		return StateEmpty
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state()
}

func (m *Relay) ViewerCount(sid domain.SessionID) int {
	r, ok := m.get(sid)
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.viewers)
}

func (m *Relay) Sessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.routes)
}
