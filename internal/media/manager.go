package media

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// DeviceInfo describes one capture device offered by a provider.
type DeviceInfo struct {
	ID    string
	Label string
	Kind  webrtc.RTPCodecType
}

// Devices is a capture provider.
type Devices interface {
	Name() string
	List() []DeviceInfo
	Open(ctx context.Context, kind webrtc.RTPCodecType, c Constraints) (Source, DeviceInfo, error)
}

// Manager acquires local media through a Devices provider.
type Manager struct {
	devices Devices
	logger  *slog.Logger
}

func NewManager(devices Devices, logger *slog.Logger) *Manager {
	return &Manager{devices: devices, logger: logger}
}

// Acquire opens one device per requested kind and starts feeding its track.
// On failure every device opened so far is closed again.
func (m *Manager) Acquire(ctx context.Context, c Constraints) (*LocalSession, error) {
	if err := c.Validate(); err != nil {
		return nil, &AcquisitionError{Kind: ConstraintsUnsatisfiable, Err: err}
	}

	session := &LocalSession{StreamID: "warpmesh-" + uuid.NewString()[:8]}

	open := func(kind webrtc.RTPCodecType) (*LocalTrack, error) {
		if err := ctx.Err(); err != nil {
			return nil, &AcquisitionError{Kind: Unknown, Device: kind.String(), Err: err}
		}
		source, info, err := m.devices.Open(ctx, kind, c)
		if err != nil {
			return nil, &AcquisitionError{Kind: classify(err), Device: kind.String(), Err: err}
		}
		track, err := newLocalTrack(kind, info.Label, session.StreamID, source, m.logger)
		if err != nil {
			source.Close()
			return nil, &AcquisitionError{Kind: Unknown, Device: info.Label, Err: fmt.Errorf("create track: %w", err)}
		}
		m.logger.Debug("Opened local device", "kind", kind.String(), "device", info.Label, "provider", m.devices.Name())
		return track, nil
	}

	var err error
	if c.Audio {
		if session.audio, err = open(webrtc.RTPCodecTypeAudio); err != nil {
			return nil, err
		}
	}
	if c.Video {
		if session.video, err = open(webrtc.RTPCodecTypeVideo); err != nil {
			session.Release()
			return nil, err
		}
	}

	return session, nil
}
