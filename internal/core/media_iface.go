package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaConnection is the peer-connection primitive driven by the coordinator.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	ApplyAnswer(webrtc.SessionDescription) error
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	OnStateChange(func(webrtc.PeerConnectionState))
	// AddLocalTrack attaches a local track to the underlying PeerConnection.
	AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	// OnClosed sets a callback run once after the connection closed, for
	// whatever reason.
	OnClosed(func())
}

// MediaConnectionFactory opens a fresh, unstarted connection. label is used for logs.
type MediaConnectionFactory func(label string) (MediaConnection, error)

type CaptureKind string

const (
	CaptureScreen CaptureKind = "screen"
	CaptureCamera CaptureKind = "camera"
	CaptureBoth   CaptureKind = "both"
)

// LocalStream is a started capture: its tracks are attached to every PeerLink.
type LocalStream interface {
	ID() string
	Tracks() []webrtc.TrackLocal
}

// MediaSource is the capture collaborator. Acquire fails with
// domain.ErrPermissionDenied or domain.ErrNoDevice wrapped in
// domain.ErrMediaAcquisitionFailed.
type MediaSource interface {
	Acquire(ctx context.Context, kind CaptureKind, deviceID string) (LocalStream, error)
	Stop(LocalStream)
}
