// Package protocol defines the JSON envelopes exchanged over a signaling channel.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Cast/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Type string

const (
	TypeViewerJoined    Type = "viewer_joined"
	TypeViewerLeft      Type = "viewer_left"
	TypeOffer           Type = "offer"
	TypeAnswer          Type = "answer"
	TypeICECandidate    Type = "ice_candidate"
	TypeBroadcasterLeft Type = "broadcaster_left"
	TypeStreamEnded     Type = "stream_ended"
	TypeReplaced        Type = "replaced"

	TypeMessage Type = "message"
	TypeHistory Type = "history"
	TypePost    Type = "post"

	TypeSessionClosed Type = "session_closed"
	TypePing          Type = "ping"
	TypePong          Type = "pong"
	TypeError         Type = "error"
)

// Envelope is the single wire shape; Type decides which fields are meaningful.
type Envelope struct {
	Type     Type            `json:"type"`
	ViewerID domain.ViewerID `json:"viewerId,omitempty"`

	Offer        *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer       *webrtc.SessionDescription `json:"answer,omitempty"`
	ICECandidate *webrtc.ICECandidateInit   `json:"iceCandidate,omitempty"`

	Data     *domain.Message  `json:"data,omitempty"`
	Messages []domain.Message `json:"messages,omitempty"`
	Username string           `json:"username,omitempty"`
	Body     string           `json:"body,omitempty"`

	Error string `json:"error,omitempty"`
}

func ViewerJoined(id domain.ViewerID) Envelope {
	return Envelope{Type: TypeViewerJoined, ViewerID: id}
}

func ViewerLeft(id domain.ViewerID) Envelope {
	return Envelope{Type: TypeViewerLeft, ViewerID: id}
}

func Offer(id domain.ViewerID, sdp webrtc.SessionDescription) Envelope {
	return Envelope{Type: TypeOffer, ViewerID: id, Offer: &sdp}
}

func Answer(id domain.ViewerID, sdp webrtc.SessionDescription) Envelope {
	return Envelope{Type: TypeAnswer, ViewerID: id, Answer: &sdp}
}

func ICECandidate(id domain.ViewerID, c webrtc.ICECandidateInit) Envelope {
	return Envelope{Type: TypeICECandidate, ViewerID: id, ICECandidate: &c}
}

func MessageEnvelope(m domain.Message) Envelope {
	return Envelope{Type: TypeMessage, Data: &m}
}

func History(msgs []domain.Message) Envelope {
	return Envelope{Type: TypeHistory, Messages: msgs}
}

func Post(username, body string) Envelope {
	return Envelope{Type: TypePost, Username: username, Body: body}
}

func Error(msg string) Envelope {
	return Envelope{Type: TypeError, Error: msg}
}

// Encode marshals an envelope for the wire.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// MustEncode is for envelopes built from known-good values.
func MustEncode(env Envelope) []byte {
	b, err := Encode(env)
	if err != nil {
		panic(fmt.Sprintf("protocol: encode %s: %v", env.Type, err))
	}
	return b
}

// Decode parses and validates one envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Validate checks that the payload required by Type is present. Routing
// rules (which side must carry viewerId) belong to the relay.
func (e Envelope) Validate() error {
	switch e.Type {
	case TypeViewerJoined, TypeViewerLeft:
		if e.ViewerID == "" {
			return fmt.Errorf("%s missing viewerId", e.Type)
		}
	case TypeOffer:
		if e.Offer == nil || e.Offer.Type != webrtc.SDPTypeOffer {
			return fmt.Errorf("offer missing offer sdp")
		}
	case TypeAnswer:
		if e.Answer == nil || e.Answer.Type != webrtc.SDPTypeAnswer {
			return fmt.Errorf("answer missing answer sdp")
		}
	case TypeICECandidate:
		if e.ICECandidate == nil {
			return fmt.Errorf("ice_candidate missing iceCandidate")
		}
	case TypeMessage:
		if e.Data == nil {
			return fmt.Errorf("message missing data")
		}
	case TypeBroadcasterLeft, TypeStreamEnded, TypeReplaced, TypeHistory, TypePost,
		TypeSessionClosed, TypePing, TypePong, TypeError:
	case "":
		return fmt.Errorf("envelope missing type")
	default:
		return fmt.Errorf("unsupported envelope type %q", e.Type)
	}
	return nil
}
