package media

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const (
	opusFrameDuration = 20 * time.Millisecond
	testFrameSize     = 1200
)

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticDevices generates a test pattern without touching real hardware.
// Fail makes Open return the given error for a kind, which is how tests
// simulate denied, missing or busy devices.
type SyntheticDevices struct {
	Fail map[webrtc.RTPCodecType]error
}

func (SyntheticDevices) Name() string { return "synthetic" }

func (SyntheticDevices) List() []DeviceInfo {
	return []DeviceInfo{
		{ID: "synthetic-audio", Label: "Opus silence", Kind: webrtc.RTPCodecTypeAudio},
		{ID: "synthetic-video", Label: "VP8 test pattern", Kind: webrtc.RTPCodecTypeVideo},
	}
}

func (d SyntheticDevices) Open(_ context.Context, kind webrtc.RTPCodecType, c Constraints) (Source, DeviceInfo, error) {
	if err := d.Fail[kind]; err != nil {
		return nil, DeviceInfo{}, err
	}

	switch kind {
	case webrtc.RTPCodecTypeAudio:
		return &syntheticSource{
			codec:    webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			frame:    opusSilence,
			duration: opusFrameDuration,
		}, d.List()[0], nil
	case webrtc.RTPCodecTypeVideo:
		return &syntheticSource{
			codec:    webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			frame:    testPattern(c.Width, c.Height),
			duration: time.Second / time.Duration(c.FrameRate),
		}, d.List()[1], nil
	}
	return nil, DeviceInfo{}, ErrDeviceNotFound
}

type syntheticSource struct {
	codec    webrtc.RTPCodecCapability
	frame    []byte
	duration time.Duration
	closed   atomic.Bool
}

func (s *syntheticSource) Codec() webrtc.RTPCodecCapability {
	return s.codec
}

func (s *syntheticSource) NextSample() (media.Sample, error) {
	if s.closed.Load() {
		return media.Sample{}, io.EOF
	}
	return media.Sample{Data: s.frame, Duration: s.duration}, nil
}

func (s *syntheticSource) Close() error {
	s.closed.Store(true)
	return nil
}

// testPattern builds a VP8 key frame header followed by filler bytes.
// The payload is never decoded; it only has to look like VP8 to the packetizer.
func testPattern(width, height int) []byte {
	frame := make([]byte, testFrameSize)
	frame[0], frame[1], frame[2] = 0x10, 0x02, 0x00
	frame[3], frame[4], frame[5] = 0x9d, 0x01, 0x2a
	frame[6], frame[7] = byte(width), byte(width>>8)
	frame[8], frame[9] = byte(height), byte(height>>8)
	for i := 10; i < len(frame); i++ {
		frame[i] = byte(i)
	}
	return frame
}
