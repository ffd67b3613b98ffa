package peer

import (
	"github.com/dkeye/Cast/internal/core"
	"github.com/dkeye/Cast/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type LinkState int

const (
	LinkNew LinkState = iota
	LinkOfferSent
	LinkOfferReceived
	LinkAnswerExchanged
	LinkConnected
	LinkDisconnected
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkOfferSent:
		return "offer_sent"
	case LinkOfferReceived:
		return "offer_received"
	case LinkAnswerExchanged:
		return "answer_exchanged"
	case LinkConnected:
		return "connected"
	case LinkDisconnected:
		return "disconnected"
	}
	return "closed"
}

// LinkInfo is a read-only view of a link for callers outside the loop.
type LinkInfo struct {
	ViewerID       domain.ViewerID
	State          LinkState
	HasRemoteTrack bool
}

// link is one peer connection and its negotiation state. Only the
// coordinator loop touches it.
type link struct {
	viewerID domain.ViewerID
	conn     core.MediaConnection
	state    LinkState

	hasRemoteTrack bool
	// transport is the last state reported by the media connection.
	transport webrtc.PeerConnectionState
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func (l *link) info() LinkInfo {
	return LinkInfo{ViewerID: l.viewerID, State: l.state, HasRemoteTrack: l.hasRemoteTrack}
}

func (l *link) terminal() bool {
	return l.state == LinkClosed
}

// addCandidate applies c now if the remote description is known and queues
// it otherwise.
func (l *link) addCandidate(c webrtc.ICECandidateInit) {
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		return
	}
	if err := l.conn.AddICECandidate(c); err != nil {
		log.Warn().Err(err).Str("module", "client.peer").Str("viewer", string(l.viewerID)).Msg("add candidate")
	}
}

// remoteApplied marks the remote description set and drains queued
// candidates in arrival order.
func (l *link) remoteApplied() {
	l.remoteSet = true
	pending := l.pending
	l.pending = nil
	for _, c := range pending {
		l.addCandidate(c)
	}
}

// negotiated moves the link past an offer/answer round. Only a transport
// that is connected right now makes it Connected; otherwise the state
// callback promotes it later.
func (l *link) negotiated() {
	if l.transport == webrtc.PeerConnectionStateConnected {
		l.state = LinkConnected
		return
	}
	l.state = LinkAnswerExchanged
}

func (l *link) close() {
	if l.state == LinkClosed {
		return
	}
	l.state = LinkClosed
	l.pending = nil
	l.conn.Close()
}
