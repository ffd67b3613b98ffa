package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dkeye/Cast/internal/core"
	"github.com/dkeye/Cast/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type fakeMedia struct {
	label string

	mu         sync.Mutex
	closed     bool
	remote     *webrtc.SessionDescription
	applied    []webrtc.ICECandidateInit
	tracks     []webrtc.TrackLocal
	offers     int
	failOffer  bool
	onICE      func(webrtc.ICECandidateInit)
	onState    func(webrtc.PeerConnectionState)
	onTrack    func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)
	onClosedFn func()
}

var _ core.MediaConnection = (*fakeMedia)(nil)

func (m *fakeMedia) Start(context.Context) error { return nil }

func (m *fakeMedia) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *fakeMedia) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *fakeMedia) AddICECandidate(c webrtc.ICECandidateInit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.remote == nil {
		return errors.New("remote description not set")
	}
	m.applied = append(m.applied, c)
	return nil
}

func (m *fakeMedia) ApplyAnswer(sdp webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remote = &sdp
	return nil
}

func (m *fakeMedia) ApplyOfferAndCreateAnswer(sdp webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remote = &sdp
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer:" + sdp.SDP}, nil
}

func (m *fakeMedia) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOffer {
		return nil, errors.New("offer failed")
	}
	m.offers++
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("%s#%d", m.label, m.offers)}, nil
}

func (m *fakeMedia) OnICECandidate(fn func(webrtc.ICECandidateInit)) { m.onICE = fn }
func (m *fakeMedia) OnTrack(fn func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	m.onTrack = fn
}
func (m *fakeMedia) OnStateChange(fn func(webrtc.PeerConnectionState)) { m.onState = fn }
func (m *fakeMedia) OnClosed(fn func())                                { m.onClosedFn = fn }

func (m *fakeMedia) AddLocalTrack(t webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks = append(m.tracks, t)
	return nil, nil
}

func (m *fakeMedia) appliedCandidates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.applied))
	for _, c := range m.applied {
		out = append(out, c.Candidate)
	}
	return out
}

type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeMedia
}

func (f *fakeFactory) New(label string) (core.MediaConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &fakeMedia{label: label}
	f.conns = append(f.conns, m)
	return m, nil
}

func (f *fakeFactory) last() *fakeMedia {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[len(f.conns)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

type fakeSender struct {
	mu   sync.Mutex
	sent []protocol.Envelope
}

func (s *fakeSender) Send(env protocol.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, env)
	return nil
}

// take returns and forgets everything sent so far.
func (s *fakeSender) take() []protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sent
	s.sent = nil
	return out
}

// pump handles every event queued by media callbacks.
func pump(c *Coordinator) {
	for {
		select {
		case ev := <-c.events:
			c.step(ev)
		default:
			return
		}
	}
}

func cand(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

func linkOf(t *testing.T, c *Coordinator, id string) LinkInfo {
	t.Helper()
	for _, l := range c.Snapshot().Links {
		if string(l.ViewerID) == id {
			return l
		}
	}
	require.Failf(t, "no link", "viewer %s", id)
	return LinkInfo{}
}
