package peer

import (
	"errors"
	"fmt"

	"github.com/dkeye/Cast/internal/domain"
	"github.com/dkeye/Cast/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (c *Coordinator) broadcasterEnvelope(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeViewerJoined:
		c.offerTo(env.ViewerID)
	case protocol.TypeViewerLeft:
		c.dropLink(env.ViewerID)
	case protocol.TypeAnswer:
		l, ok := c.links[env.ViewerID]
		if !ok || l.state != LinkOfferSent {
			desync(env, "answer without pending offer")
			return
		}
		if err := l.conn.ApplyAnswer(*env.Answer); err != nil {
			log.Warn().Err(err).Str("module", "client.peer").Str("viewer", string(l.viewerID)).Msg("apply answer")
			c.dropLink(l.viewerID)
			return
		}
		l.negotiated()
		l.remoteApplied()
		log.Info().Str("module", "client.peer").Str("viewer", string(l.viewerID)).Str("state", l.state.String()).Msg("answer applied")
	case protocol.TypeICECandidate:
		l, ok := c.links[env.ViewerID]
		if !ok || l.terminal() {
			desync(env, "candidate for unknown viewer")
			return
		}
		l.addCandidate(*env.ICECandidate)
	default:
		desync(env, "unexpected envelope")
	}
}

// offerTo replaces any link for id with a fresh one carrying the active
// tracks and sends it an offer.
func (c *Coordinator) offerTo(id domain.ViewerID) {
	c.dropLink(id)
	l, err := c.newLink(id)
	if err != nil {
		log.Error().Err(err).Str("module", "client.peer").Str("viewer", string(id)).Msg("open link")
		return
	}
	c.links[id] = l
	for _, t := range c.tracks {
		if _, err := l.conn.AddLocalTrack(t); err != nil {
			log.Error().Err(err).Str("module", "client.peer").Str("viewer", string(id)).Str("track_id", t.ID()).Msg("add track")
		}
	}
	if err := c.sendOffer(l); err != nil {
		log.Error().Err(err).Str("module", "client.peer").Str("viewer", string(id)).Msg("offer")
		c.dropLink(id)
		return
	}
	log.Info().Str("module", "client.peer").Str("viewer", string(id)).Int("tracks", len(c.tracks)).Int("links", len(c.links)).Msg("offer sent")
}

func (c *Coordinator) sendOffer(l *link) error {
	offer, err := l.conn.CreateAndSetOffer()
	if err != nil {
		return err
	}
	l.state = LinkOfferSent
	return c.sender.Send(protocol.Offer(l.viewerID, *offer))
}

func (c *Coordinator) startStreaming(tracks []webrtc.TrackLocal) error {
	if c.role != domain.RoleBroadcaster {
		return fmt.Errorf("only a broadcaster streams: %w", domain.ErrInvalidInput)
	}
	if c.ended {
		return fmt.Errorf("session over: %w", domain.ErrNotFound)
	}
	c.tracks = append([]webrtc.TrackLocal(nil), tracks...)
	c.streaming = true

	var errs []error
	for id, l := range c.links {
		for _, t := range c.tracks {
			if _, err := l.conn.AddLocalTrack(t); err != nil {
				errs = append(errs, fmt.Errorf("viewer %s: add %s: %w", id, t.ID(), err))
			}
		}
		// Renegotiate; the pending answer moves the link back.
		if err := c.sendOffer(l); err != nil {
			errs = append(errs, fmt.Errorf("viewer %s: offer: %w", id, err))
			c.dropLink(id)
		}
	}
	log.Info().Str("module", "client.peer").Int("tracks", len(c.tracks)).Int("links", len(c.links)).Msg("streaming started")
	return errors.Join(errs...)
}

func (c *Coordinator) stopStreaming() {
	if c.role != domain.RoleBroadcaster || (!c.streaming && len(c.links) == 0) {
		return
	}
	c.closeAll()
	c.tracks = nil
	c.streaming = false
	if err := c.sender.Send(protocol.Envelope{Type: protocol.TypeStreamEnded}); err != nil {
		log.Warn().Err(err).Str("module", "client.peer").Msg("send stream_ended")
	}
	log.Info().Str("module", "client.peer").Msg("streaming stopped")
}

func desync(env protocol.Envelope, why string) {
	log.Debug().
		Str("module", "client.peer").
		Str("type", string(env.Type)).
		Str("viewer", string(env.ViewerID)).
		Err(domain.ErrSignalingDesync).
		Msg(why)
}
