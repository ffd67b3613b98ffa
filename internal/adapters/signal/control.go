package signal

import (
	"errors"

	"github.com/dkeye/Cast/internal/core"
	"github.com/dkeye/Cast/internal/domain"
	"github.com/dkeye/Cast/internal/protocol"
	"github.com/rs/zerolog/log"
)

var pong = protocol.MustEncode(protocol.Envelope{Type: protocol.TypePong})

func errorEnvelope(msg string) core.Frame {
	return protocol.MustEncode(protocol.Error(msg))
}

// userMessage maps domain errors to what a peer may see.
func userMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "session not found"
	case errors.Is(err, domain.ErrInvalidInput):
		return err.Error()
	}
	return "internal error"
}

// admit applies the per-connection rate limit. Relayed negotiation is exempt:
// a broadcaster's single channel carries an offer and candidates for every
// viewer, and a dropped one stalls that viewer for good.
func (ctl *SignalWSController) admit(c *WsSignalConn, t protocol.Type) bool {
	switch t {
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		return true
	}
	if ctl.limiter.Allow(c.ID()) {
		return true
	}
	log.Warn().Str("module", "signal").Str("conn", c.ID()).Str("type", string(t)).Msg("rate limited")
	ctl.sendError(c, "rate limited")
	return false
}

// decode parses one frame; bad frames count against the rate limit.
func (ctl *SignalWSController) decode(c *WsSignalConn, data []byte) (protocol.Envelope, bool) {
	env, err := protocol.Decode(data)
	if err != nil {
		if ctl.admit(c, "") {
			log.Warn().Err(err).Str("module", "signal").Str("conn", c.ID()).Msg("bad envelope")
			ctl.sendError(c, "bad envelope")
		}
		return protocol.Envelope{}, false
	}
	return env, ctl.admit(c, env.Type)
}

func (ctl *SignalWSController) handleText(sid domain.SessionID, c *WsSignalConn, data []byte) {
	env, ok := ctl.decode(c, data)
	if !ok {
		return
	}

	switch env.Type {
	case protocol.TypePing:
		ctl.send(c, pong)
	case protocol.TypePost:
		// The stored message comes back through the fan-out.
		if _, err := ctl.Orch.PostMessage(sid, env.Username, env.Body); err != nil {
			ctl.sendError(c, userMessage(err))
		}
	default:
		log.Warn().Str("module", "signal").Str("type", string(env.Type)).Msg("unexpected envelope on text channel")
	}
}

func (ctl *SignalWSController) handleStream(sid domain.SessionID, role domain.Role, c *WsSignalConn, data []byte) {
	env, ok := ctl.decode(c, data)
	if !ok {
		return
	}

	if env.Type == protocol.TypePing {
		ctl.send(c, pong)
		return
	}
	if err := ctl.Orch.RouteStream(sid, role, c, env); err != nil {
		// Desync is expected around reconnects; the peer is not told.
		log.Debug().Err(err).Str("module", "signal").Str("conn", c.ID()).Str("type", string(env.Type)).Msg("envelope dropped")
	}
}
