// Package media implements capture on top of pre-encoded IVF files, one file
// per device, looped for as long as the stream is held.
package media

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Cast/internal/core"
	"github.com/dkeye/Cast/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/rs/zerolog/log"
)

const defaultFrameDuration = 33 * time.Millisecond

// Devices maps capture kinds onto IVF files.
type Devices struct {
	Screen  string
	Cameras map[string]string
}

type FileSource struct {
	devs Devices

	mu      sync.Mutex
	streams map[string]*fileStream
}

var _ core.MediaSource = (*FileSource)(nil)

func NewFileSource(devs Devices) *FileSource {
	return &FileSource{devs: devs, streams: make(map[string]*fileStream)}
}

type fileStream struct {
	id     string
	tracks []webrtc.TrackLocal
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *fileStream) ID() string                  { return s.id }
func (s *fileStream) Tracks() []webrtc.TrackLocal { return s.tracks }

func acquireErr(cause error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", domain.ErrMediaAcquisitionFailed, cause, fmt.Sprintf(format, args...))
}

// camera resolves deviceID; an empty id picks the first camera by name.
func (s *FileSource) camera(deviceID string) (string, error) {
	if deviceID == "" {
		ids := make([]string, 0, len(s.devs.Cameras))
		for id := range s.devs.Cameras {
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return "", acquireErr(domain.ErrNoDevice, "no camera configured")
		}
		slices.SortFunc(ids, cmp.Compare[string])
		deviceID = ids[0]
	}
	path, ok := s.devs.Cameras[deviceID]
	if !ok {
		return "", acquireErr(domain.ErrNoDevice, "camera %q", deviceID)
	}
	return path, nil
}

func (s *FileSource) Acquire(ctx context.Context, kind core.CaptureKind, deviceID string) (core.LocalStream, error) {
	type source struct{ trackID, path string }
	var sources []source

	switch kind {
	case core.CaptureScreen, core.CaptureBoth:
		if s.devs.Screen == "" {
			return nil, acquireErr(domain.ErrNoDevice, "no screen configured")
		}
		sources = append(sources, source{"screen", s.devs.Screen})
	}
	switch kind {
	case core.CaptureCamera, core.CaptureBoth:
		path, err := s.camera(deviceID)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source{"camera", path})
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("capture kind %q: %w", kind, domain.ErrInvalidInput)
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)
	stream := &fileStream{id: id, cancel: cancel, done: make(chan struct{})}
	var pumps []*pump
	for _, src := range sources {
		p, err := openPump(src.path, src.trackID, id)
		if err != nil {
			cancel()
			for _, opened := range pumps {
				_ = opened.file.Close()
			}
			return nil, err
		}
		pumps = append(pumps, p)
		stream.tracks = append(stream.tracks, p.track)
	}

	var wg sync.WaitGroup
	for _, p := range pumps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.run(ctx)
		}()
	}
	go func() {
		wg.Wait()
		close(stream.done)
	}()

	s.mu.Lock()
	s.streams[id] = stream
	s.mu.Unlock()
	log.Info().Str("module", "media").Str("stream", id).Str("kind", string(kind)).Int("tracks", len(stream.tracks)).Msg("capture started")
	return stream, nil
}

// Stop ends the stream's pumps and waits for them. Unknown or already
// stopped streams are ignored.
func (s *FileSource) Stop(ls core.LocalStream) {
	if ls == nil {
		return
	}
	s.mu.Lock()
	stream, ok := s.streams[ls.ID()]
	delete(s.streams, ls.ID())
	s.mu.Unlock()
	if !ok {
		return
	}
	stream.cancel()
	<-stream.done
	log.Info().Str("module", "media").Str("stream", stream.id).Msg("capture stopped")
}

type pump struct {
	file     *os.File
	reader   *ivfreader.IVFReader
	track    *webrtc.TrackLocalStaticSample
	duration time.Duration
}

func mimeFor(fourCC string) (string, bool) {
	switch fourCC {
	case "VP80":
		return webrtc.MimeTypeVP8, true
	case "VP90":
		return webrtc.MimeTypeVP9, true
	case "AV01":
		return webrtc.MimeTypeAV1, true
	}
	return "", false
}

func openPump(path, trackID, streamID string) (*pump, error) {
	f, err := os.Open(path)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrPermission):
			return nil, acquireErr(domain.ErrPermissionDenied, "%s", path)
		case errors.Is(err, os.ErrNotExist):
			return nil, acquireErr(domain.ErrNoDevice, "%s", path)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrMediaAcquisitionFailed, err)
	}

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrMediaAcquisitionFailed, path, err)
	}
	mime, ok := mimeFor(header.FourCC)
	if !ok {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s: unsupported codec %q", domain.ErrMediaAcquisitionFailed, path, header.FourCC)
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, trackID, streamID)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrMediaAcquisitionFailed, err)
	}

	d := defaultFrameDuration
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		d = time.Second * time.Duration(header.TimebaseNumerator) / time.Duration(header.TimebaseDenominator)
	}
	return &pump{file: f, reader: reader, track: track, duration: d}, nil
}

// run writes one frame per tick, rewinding at end of file.
func (p *pump) run(ctx context.Context) {
	defer func() { _ = p.file.Close() }()
	ticker := time.NewTicker(p.duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		frame, _, err := p.reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if err := p.rewind(); err != nil {
				log.Error().Err(err).Str("module", "media").Str("track_id", p.track.ID()).Msg("rewind failed")
				return
			}
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("module", "media").Str("track_id", p.track.ID()).Msg("read frame failed")
			return
		}
		if err := p.track.WriteSample(media.Sample{Data: frame, Duration: p.duration}); err != nil {
			log.Warn().Err(err).Str("module", "media").Str("track_id", p.track.ID()).Msg("write sample failed")
		}
	}
}

func (p *pump) rewind() error {
	if _, err := p.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader, _, err := ivfreader.NewWith(p.file)
	if err != nil {
		return err
	}
	p.reader = reader
	return nil
}
