// Command client joins a Cast session from the terminal: chat on a text
// session, or broadcast / watch on a stream session.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Cast/internal/adapters/media"
	"github.com/dkeye/Cast/internal/adapters/rtc"
	"github.com/dkeye/Cast/internal/client/peer"
	"github.com/dkeye/Cast/internal/client/signaling"
	"github.com/dkeye/Cast/internal/config"
	"github.com/dkeye/Cast/internal/core"
	"github.com/dkeye/Cast/internal/domain"
	"github.com/dkeye/Cast/internal/protocol"
)

func main() {
	o, err := config.ParseClient(os.Args[0], os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(o.LogLevel)
	if err != nil || o.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, o, level); err != nil {
		log.Fatal().Err(err).Msg("client failed")
	}
}

func run(ctx context.Context, o *config.Client, level zerolog.Level) error {
	a, err := newAPI(o.Server)
	if err != nil {
		return err
	}

	var s domain.Session
	created := false
	switch {
	case o.Create != "":
		kind, err := domain.ParseSessionKind(o.Create)
		if err != nil {
			return err
		}
		if s, err = a.createSession(ctx, kind); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		created = true
		fmt.Printf("session %s created, code %s\n", s.ID, s.Code)
	case o.Code != "":
		if s, err = a.session(ctx, o.Code); err != nil {
			return fmt.Errorf("join %s: %w", o.Code, err)
		}
	}

	policy := signaling.DefaultReconnectPolicy()
	policy.MaxAttempts = o.ReconnectAttempts
	policy.Initial = o.ReconnectBackoff

	switch s.Kind {
	case domain.KindText:
		err = runText(ctx, a, s, o, policy)
	case domain.KindStream:
		err = runStream(ctx, a, s, o, policy, level)
	default:
		err = fmt.Errorf("session kind %q: %w", s.Kind, domain.ErrInvalidInput)
	}

	if o.Close && (created || o.Role == string(domain.RoleBroadcaster)) {
		closeCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if cerr := a.closeSession(closeCtx, s.Code); cerr != nil {
			log.Warn().Err(cerr).Str("code", string(s.Code)).Msg("close session")
		} else {
			log.Info().Str("code", string(s.Code)).Msg("session closed")
		}
	}
	return err
}

func runText(ctx context.Context, a *api, s domain.Session, o *config.Client, policy signaling.ReconnectPolicy) error {
	if strings.TrimSpace(o.Name) == "" {
		return fmt.Errorf("--name is required for chat: %w", domain.ErrInvalidInput)
	}
	ch, err := signaling.Dial(ctx, a.wsURL("/ws/text/"+string(s.ID)), policy)
	if err != nil {
		return err
	}
	defer ch.Close()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-lines:
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := ch.Send(protocol.Post(o.Name, line)); err != nil {
				log.Warn().Err(err).Msg("message not sent")
			}
		case ev, ok := <-ch.Events():
			if !ok {
				return nil
			}
			if ev.Envelope == nil {
				log.Info().Str("status", ev.Status.String()).Msg("signaling")
				continue
			}
			printText(*ev.Envelope)
		}
	}
}

func printText(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeHistory:
		for _, m := range env.Messages {
			printMessage(m)
		}
	case protocol.TypeMessage:
		if env.Data != nil {
			printMessage(*env.Data)
		}
	case protocol.TypeSessionClosed:
		fmt.Println("* session closed")
	case protocol.TypeError:
		fmt.Printf("* error: %s\n", env.Error)
	}
}

func printMessage(m domain.Message) {
	fmt.Printf("[%s] %s: %s\n", m.Timestamp.Local().Format(time.TimeOnly), m.Username, m.Body)
}

func runStream(ctx context.Context, a *api, s domain.Session, o *config.Client, policy signaling.ReconnectPolicy, level zerolog.Level) error {
	role, err := domain.ParseRole(o.Role)
	if err != nil {
		return err
	}
	ice, err := a.iceServers(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("ice servers unavailable, using defaults")
	}
	cfg := rtc.DefaultWebRTCConfig()
	if len(ice) > 0 {
		cfg = rtc.Configuration(ice)
	}
	factory := rtc.Factory(rtc.NewAPI(level), cfg)

	ch, err := signaling.Dial(ctx, a.wsURL("/ws/stream/"+string(s.ID)+"/"+string(role)), policy)
	if err != nil {
		return err
	}
	defer ch.Close()

	var statsMu sync.Mutex
	stats := make(map[string]*rtc.TrackStats)
	coord, err := peer.New(peer.Config{
		Role:    role,
		Factory: factory,
		Sender:  ch,
		OnRemoteTrack: func(tctx context.Context, viewer domain.ViewerID, track *webrtc.TrackRemote) {
			st := &rtc.TrackStats{}
			statsMu.Lock()
			stats[track.ID()] = st
			statsMu.Unlock()
			log.Info().Str("viewer", string(viewer)).Str("track_id", track.ID()).Str("codec", track.Codec().MimeType).Msg("receiving")
			_ = rtc.DrainTrack(tctx, track, func(pkt *rtp.Packet) {
				statsMu.Lock()
				st.Observe(pkt)
				statsMu.Unlock()
			})
		},
		OnChange: func(snap peer.Snapshot) {
			states := make([]string, 0, len(snap.Links))
			for _, l := range snap.Links {
				states = append(states, string(l.ViewerID)+"="+l.State.String())
			}
			log.Debug().Bool("streaming", snap.Streaming).Strs("links", states).Msg("peers")
		},
	})
	if err != nil {
		return err
	}

	// The loop outlives ctx so StopStreaming still reaches it on shutdown.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loopDone := make(chan struct{})
	go func() {
		coord.Run(loopCtx, ch.Events())
		close(loopDone)
	}()

	var (
		src    *media.FileSource
		stream core.LocalStream
	)
	if role == domain.RoleBroadcaster {
		src = media.NewFileSource(media.Devices{Screen: o.Screen, Cameras: o.Cameras})
		stream, err = src.Acquire(ctx, core.CaptureKind(o.Media), o.Device)
		if err != nil {
			return err
		}
		defer src.Stop(stream)
		if err := coord.StartStreaming(ctx, stream.Tracks()); err != nil {
			log.Warn().Err(err).Msg("start streaming")
		}
		fmt.Printf("broadcasting %s on %s\n", o.Media, s.Code)
	} else {
		fmt.Printf("watching %s as %s\n", s.Code, coord.ViewerID())
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if role == domain.RoleBroadcaster {
				stopCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
				if err := coord.StopStreaming(stopCtx); err != nil {
					log.Warn().Err(err).Msg("stop streaming")
				}
				done()
			}
			return nil
		case <-loopDone:
			if snap := coord.Snapshot(); snap.Ended {
				fmt.Println("* session ended")
			}
			return nil
		case <-ticker.C:
			if role != domain.RoleViewer {
				continue
			}
			statsMu.Lock()
			for id, st := range stats {
				log.Info().Str("track_id", id).Uint64("packets", st.Packets).Uint64("bytes", st.Bytes).Msg("stats")
			}
			statsMu.Unlock()
		}
	}
}
