package rtc

import (
	"github.com/dkeye/Cast/internal/config"
	"github.com/dkeye/Cast/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// Configuration converts configured ICE servers; an empty list falls back to
// DefaultWebRTCConfig.
func Configuration(servers []config.ICEServer) webrtc.Configuration {
	if len(servers) == 0 {
		return DefaultWebRTCConfig()
	}
	out := webrtc.Configuration{}
	for _, s := range servers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out.ICEServers = append(out.ICEServers, srv)
	}
	return out
}

// NewAPI builds a pion API whose internal logging goes through zerolog.
func NewAPI(level zerolog.Level) *webrtc.API {
	se := webrtc.SettingEngine{LoggerFactory: LoggerFactory{Level: level}}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

// Factory opens a fresh WebRTCConnection per call.
func Factory(api *webrtc.API, cfg webrtc.Configuration) core.MediaConnectionFactory {
	return func(label string) (core.MediaConnection, error) {
		return NewWebRTCConnection(api, cfg, label)
	}
}
