package peer

import (
	"log/slog"

	"github.com/BioHazard786/warpmesh/internal/config"
	"github.com/BioHazard786/warpmesh/internal/logging"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// NewAPI builds a pion API with the default codecs and interceptors (NACK,
// RTCP reports, TWCC) and pion's logging routed into logger.
func NewAPI(includeLoopback bool, logger *slog.Logger) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}

	s := webrtc.SettingEngine{LoggerFactory: logging.NewPionFactory(logger)}
	s.SetIncludeLoopbackCandidate(includeLoopback)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(s),
	), nil
}

// Configuration returns the peer connection configuration for cfg.
func Configuration(cfg *config.Config) webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers:         cfg.ICEServers(),
		ICETransportPolicy: cfg.TransportPolicy(),
	}
}
