// Package peer drives the peer connections of one client: one link per viewer
// on the broadcaster, a single link on a viewer. All state lives in a single
// event loop fed by the signaling channel, media callbacks and user commands.
package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Cast/internal/client/signaling"
	"github.com/dkeye/Cast/internal/core"
	"github.com/dkeye/Cast/internal/domain"
	"github.com/dkeye/Cast/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// ErrStopped is returned by commands issued after Run returned.
var ErrStopped = errors.New("coordinator stopped")

// Sender is the outbound half of a signaling channel.
type Sender interface {
	Send(protocol.Envelope) error
}

// Snapshot is published after every handled event.
type Snapshot struct {
	Role      domain.Role
	ViewerID  domain.ViewerID
	Streaming bool
	Ended     bool
	Links     []LinkInfo
}

type Config struct {
	Role domain.Role
	// ViewerID is this client's id when Role is viewer; generated if empty.
	ViewerID domain.ViewerID
	Factory  core.MediaConnectionFactory
	Sender   Sender
	// OnRemoteTrack runs on the media goroutine and may block until ctx ends.
	OnRemoteTrack func(ctx context.Context, viewer domain.ViewerID, track *webrtc.TrackRemote)
	OnChange      func(Snapshot)
}

type Coordinator struct {
	role     domain.Role
	viewerID domain.ViewerID
	factory  core.MediaConnectionFactory
	sender   Sender
	onTrack  func(ctx context.Context, viewer domain.ViewerID, track *webrtc.TrackRemote)
	onChange func(Snapshot)

	ctx    context.Context
	events chan event
	done   chan struct{}
	once   sync.Once

	// loop owned
	links     map[domain.ViewerID]*link
	tracks    []webrtc.TrackLocal
	streaming bool
	ended     bool

	mu   sync.RWMutex
	snap Snapshot
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.Factory == nil || cfg.Sender == nil {
		return nil, fmt.Errorf("peer: factory and sender are required: %w", domain.ErrInvalidInput)
	}
	switch cfg.Role {
	case domain.RoleBroadcaster, domain.RoleViewer:
	default:
		return nil, fmt.Errorf("peer: role %q: %w", cfg.Role, domain.ErrInvalidInput)
	}
	id := cfg.ViewerID
	if cfg.Role == domain.RoleViewer && id == "" {
		id = domain.NewViewerID()
	}
	c := &Coordinator{
		role:     cfg.Role,
		viewerID: id,
		factory:  cfg.Factory,
		sender:   cfg.Sender,
		onTrack:  cfg.OnRemoteTrack,
		onChange: cfg.OnChange,
		ctx:      context.Background(),
		events:   make(chan event, 256),
		done:     make(chan struct{}),
		links:    make(map[domain.ViewerID]*link),
	}
	c.publish()
	return c, nil
}

type event interface{ isEvent() }

type (
	envelopeEvent struct{ env protocol.Envelope }
	statusEvent   struct{ status signaling.Status }
	iceEvent      struct {
		link *link
		cand webrtc.ICECandidateInit
	}
	stateEvent struct {
		link  *link
		state webrtc.PeerConnectionState
	}
	trackEvent  struct{ link *link }
	closedEvent struct{ link *link }
	startEvent  struct {
		tracks []webrtc.TrackLocal
		reply  chan error
	}
	stopEvent struct{ reply chan error }
)

func (envelopeEvent) isEvent() {}
func (statusEvent) isEvent()   {}
func (iceEvent) isEvent()      {}
func (stateEvent) isEvent()    {}
func (trackEvent) isEvent()    {}
func (closedEvent) isEvent()   {}
func (startEvent) isEvent()    {}
func (stopEvent) isEvent()     {}

// Run handles events until ctx ends or the signaling events are exhausted.
// Every link is closed on return.
func (c *Coordinator) Run(ctx context.Context, in <-chan signaling.Event) {
	c.ctx = ctx
	defer func() {
		c.closeAll()
		c.once.Do(func() { close(c.done) })
		c.publish()
		log.Info().Str("module", "client.peer").Str("role", string(c.role)).Msg("coordinator stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case sev, ok := <-in:
			if !ok {
				return
			}
			if sev.Envelope != nil {
				c.step(envelopeEvent{env: *sev.Envelope})
			} else {
				c.step(statusEvent{status: sev.Status})
			}
		case ev := <-c.events:
			c.step(ev)
		}
	}
}

// post queues an event from a media callback.
func (c *Coordinator) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Coordinator) command(ctx context.Context, ev event, reply chan error) error {
	select {
	case c.events <- ev:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartStreaming attaches tracks to every link and renegotiates. Links
// created later get the tracks too.
func (c *Coordinator) StartStreaming(ctx context.Context, tracks []webrtc.TrackLocal) error {
	reply := make(chan error, 1)
	return c.command(ctx, startEvent{tracks: tracks, reply: reply}, reply)
}

// StopStreaming closes every link and tells viewers the stream ended. The
// signaling channel stays open. Idempotent.
func (c *Coordinator) StopStreaming(ctx context.Context) error {
	reply := make(chan error, 1)
	return c.command(ctx, stopEvent{reply: reply}, reply)
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *Coordinator) ViewerID() domain.ViewerID { return c.viewerID }

func (c *Coordinator) step(ev event) {
	switch e := ev.(type) {
	case envelopeEvent:
		c.handleEnvelope(e.env)
	case statusEvent:
		c.handleStatus(e.status)
	case iceEvent:
		c.handleLocalCandidate(e.link, e.cand)
	case stateEvent:
		c.handleState(e.link, e.state)
	case trackEvent:
		if c.current(e.link) {
			e.link.hasRemoteTrack = true
		}
	case closedEvent:
		// Our own closes mark the link Closed first and are ignored here.
		c.handleState(e.link, webrtc.PeerConnectionStateFailed)
	case startEvent:
		e.reply <- c.startStreaming(e.tracks)
	case stopEvent:
		c.stopStreaming()
		e.reply <- nil
	}
	c.publish()
}

func (c *Coordinator) publish() {
	snap := Snapshot{
		Role:      c.role,
		ViewerID:  c.viewerID,
		Streaming: c.streaming,
		Ended:     c.ended,
		Links:     make([]LinkInfo, 0, len(c.links)),
	}
	for _, l := range c.links {
		snap.Links = append(snap.Links, l.info())
	}
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	if c.onChange != nil {
		c.onChange(snap)
	}
}

func (c *Coordinator) handleEnvelope(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeSessionClosed, protocol.TypeReplaced:
		log.Info().Str("module", "client.peer").Str("type", string(env.Type)).Msg("session over")
		c.ended = true
		c.closeAll()
		return
	case protocol.TypePong, protocol.TypeError:
		if env.Error != "" {
			log.Warn().Str("module", "client.peer").Str("error", env.Error).Msg("server error")
		}
		return
	}
	if c.ended {
		return
	}
	if c.role == domain.RoleBroadcaster {
		c.broadcasterEnvelope(env)
	} else {
		c.viewerEnvelope(env)
	}
}

func (c *Coordinator) handleStatus(s signaling.Status) {
	log.Info().Str("module", "client.peer").Str("role", string(c.role)).Str("status", s.String()).Msg("signaling status")
	switch s {
	case signaling.StatusConnected:
		if c.role == domain.RoleViewer && !c.ended {
			c.announce()
		}
	case signaling.StatusDisconnected, signaling.StatusClosed:
		// The relay forgets this side while we are away; every link is
		// renegotiated from scratch after reconnect.
		c.closeAll()
	}
}

// newLink opens a media connection whose callbacks feed the loop.
func (c *Coordinator) newLink(id domain.ViewerID) (*link, error) {
	conn, err := c.factory(string(c.role) + ":" + string(id))
	if err != nil {
		return nil, err
	}
	l := &link{viewerID: id, conn: conn, state: LinkNew}
	conn.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		c.post(iceEvent{link: l, cand: cand})
	})
	conn.OnStateChange(func(s webrtc.PeerConnectionState) {
		c.post(stateEvent{link: l, state: s})
	})
	conn.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.post(trackEvent{link: l})
		if c.onTrack != nil {
			c.onTrack(ctx, id, track)
		}
	})
	conn.OnClosed(func() {
		// May run on the loop itself, from dropLink.
		go c.post(closedEvent{link: l})
	})
	if err := conn.Start(c.ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return l, nil
}

// current reports whether l is still the live link for its viewer.
func (c *Coordinator) current(l *link) bool {
	cur, ok := c.links[l.viewerID]
	return ok && cur == l && !l.terminal()
}

func (c *Coordinator) dropLink(id domain.ViewerID) {
	if l, ok := c.links[id]; ok {
		l.close()
		delete(c.links, id)
		log.Info().Str("module", "client.peer").Str("viewer", string(id)).Int("links", len(c.links)).Msg("link closed")
	}
}

func (c *Coordinator) closeAll() {
	for id := range c.links {
		c.dropLink(id)
	}
}

func (c *Coordinator) handleLocalCandidate(l *link, cand webrtc.ICECandidateInit) {
	if !c.current(l) {
		return
	}
	if err := c.sender.Send(protocol.ICECandidate(l.viewerID, cand)); err != nil {
		log.Debug().Err(err).Str("module", "client.peer").Str("viewer", string(l.viewerID)).Msg("send candidate")
	}
}

func (c *Coordinator) handleState(l *link, s webrtc.PeerConnectionState) {
	if !c.current(l) {
		return
	}
	l.transport = s
	switch s {
	case webrtc.PeerConnectionStateConnected:
		switch l.state {
		case LinkAnswerExchanged, LinkDisconnected, LinkConnected:
			l.state = LinkConnected
		}
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		if c.role == domain.RoleBroadcaster {
			// Free the slot; the viewer's next viewer_joined starts over.
			c.dropLink(l.viewerID)
			return
		}
		l.state = LinkDisconnected
		if s == webrtc.PeerConnectionStateFailed {
			c.announce()
		}
	}
}
