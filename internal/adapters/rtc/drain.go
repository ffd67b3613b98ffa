package rtc

import (
	"context"
	"errors"
	"io"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// TrackStats is what a viewer learns from a remote track it does not render.
type TrackStats struct {
	Packets uint64
	Bytes   uint64
	LastSeq uint16
}

// DrainTrack reads RTP from track until ctx ends or the track closes,
// calling onPacket for every packet.
func DrainTrack(ctx context.Context, track *webrtc.TrackRemote, onPacket func(*rtp.Packet)) error {
	return drain(ctx, track.ID(), func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	}, onPacket)
}

func drain(ctx context.Context, id string, read func() (*rtp.Packet, error), onPacket func(*rtp.Packet)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		pkt, err := read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Debug().Str("module", "webrtc").Str("track_id", id).Msg("track ended")
				return nil
			}
			return err
		}
		if onPacket != nil {
			onPacket(pkt)
		}
	}
}

// Observe folds a packet into the stats.
func (s *TrackStats) Observe(pkt *rtp.Packet) {
	s.Packets++
	s.Bytes += uint64(len(pkt.Payload))
	s.LastSeq = pkt.SequenceNumber
}
