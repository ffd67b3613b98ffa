package peer

import (
	"github.com/dkeye/Cast/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (c *Coordinator) viewerEnvelope(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeOffer:
		l, ok := c.links[c.viewerID]
		if !ok || l.terminal() {
			desync(env, "offer without link")
			return
		}
		l.state = LinkOfferReceived
		answer, err := l.conn.ApplyOfferAndCreateAnswer(*env.Offer)
		if err != nil {
			log.Warn().Err(err).Str("module", "client.peer").Msg("apply offer")
			c.announce()
			return
		}
		l.remoteApplied()
		if err := c.sender.Send(protocol.Answer(c.viewerID, *answer)); err != nil {
			log.Warn().Err(err).Str("module", "client.peer").Msg("send answer")
			return
		}
		l.negotiated()
		log.Info().Str("module", "client.peer").Str("state", l.state.String()).Msg("answer sent")
	case protocol.TypeICECandidate:
		l, ok := c.links[c.viewerID]
		if !ok || l.terminal() {
			desync(env, "candidate without link")
			return
		}
		l.addCandidate(*env.ICECandidate)
	case protocol.TypeBroadcasterLeft, protocol.TypeStreamEnded:
		log.Info().Str("module", "client.peer").Str("type", string(env.Type)).Msg("stream gone, waiting for broadcaster")
		c.announce()
	default:
		desync(env, "unexpected envelope")
	}
}

// announce replaces the link with a fresh one and tells the relay who we are.
func (c *Coordinator) announce() {
	c.dropLink(c.viewerID)
	l, err := c.newLink(c.viewerID)
	if err != nil {
		log.Error().Err(err).Str("module", "client.peer").Msg("open link")
		return
	}
	c.links[c.viewerID] = l
	if err := c.sender.Send(protocol.ViewerJoined(c.viewerID)); err != nil {
		log.Warn().Err(err).Str("module", "client.peer").Msg("send viewer_joined")
		return
	}
	log.Info().Str("module", "client.peer").Str("viewer", string(c.viewerID)).Msg("announced")
}
