package rtc

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/dkeye/Cast/internal/config"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConn(t *testing.T, label string) *WebRTCConnection {
	t.Helper()
	c, err := NewWebRTCConnection(NewAPI(zerolog.Disabled), webrtc.Configuration{}, label)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.Start(context.Background()))
	return c
}

func TestOfferAnswerExchange(t *testing.T) {
	b := newConn(t, "broadcaster")
	v := newConn(t, "viewer")

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "cast")
	require.NoError(t, err)
	_, err = b.AddLocalTrack(track)
	require.NoError(t, err)

	offer, err := b.CreateAndSetOffer()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=video")

	answer, err := v.ApplyOfferAndCreateAnswer(*offer)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	require.NoError(t, b.ApplyAnswer(*answer))
}

func TestOfferWithoutTracks(t *testing.T) {
	b := newConn(t, "empty")
	offer, err := b.CreateAndSetOffer()
	require.NoError(t, err)
	assert.Contains(t, offer.SDP, "m=video")
}

func TestCloseIsIdempotent(t *testing.T) {
	c, err := NewWebRTCConnection(nil, webrtc.Configuration{}, "x")
	require.NoError(t, err)
	calls := 0
	c.OnClosed(func() { calls++ })

	assert.Zero(t, calls)
	c.Close()
	c.Close()
	assert.Equal(t, 1, calls)
}

func TestConfigurationFromConfig(t *testing.T) {
	assert.Equal(t, DefaultWebRTCConfig(), Configuration(nil))

	cfg := Configuration([]config.ICEServer{
		{URLs: []string{"stun:a:3478"}},
		{URLs: []string{"turn:b:3478"}, Username: "u", Credential: "p"},
	})
	require.Len(t, cfg.ICEServers, 2)
	assert.Equal(t, []string{"turn:b:3478"}, cfg.ICEServers[1].URLs)
	assert.Equal(t, "u", cfg.ICEServers[1].Username)
	assert.EqualValues(t, "p", cfg.ICEServers[1].Credential)
	assert.Empty(t, cfg.ICEServers[0].Credential)
}

func TestDrainCountsPackets(t *testing.T) {
	pkts := []*rtp.Packet{
		{Header: rtp.Header{SequenceNumber: 1}, Payload: []byte{1, 2, 3}},
		{Header: rtp.Header{SequenceNumber: 2}, Payload: []byte{4}},
	}
	i := 0
	read := func() (*rtp.Packet, error) {
		if i == len(pkts) {
			return nil, io.EOF
		}
		p := pkts[i]
		i++
		return p, nil
	}

	var stats TrackStats
	require.NoError(t, drain(context.Background(), "t", read, stats.Observe))
	assert.EqualValues(t, 2, stats.Packets)
	assert.EqualValues(t, 4, stats.Bytes)
	assert.EqualValues(t, 2, stats.LastSeq)

	boom := errors.New("boom")
	err := drain(context.Background(), "t", func() (*rtp.Packet, error) { return nil, boom }, nil)
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, drain(ctx, "t", read, nil), context.Canceled)
}
