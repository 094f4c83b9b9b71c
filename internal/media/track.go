package media

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Source produces encoded samples for one local track.
type Source interface {
	Codec() webrtc.RTPCodecCapability
	// NextSample blocks until the next sample is available. It returns
	// io.EOF once the source is closed.
	NextSample() (media.Sample, error)
	Close() error
}

// LocalTrack feeds samples from a Source into a pion sample track.
type LocalTrack struct {
	kind   webrtc.RTPCodecType
	label  string
	track  *webrtc.TrackLocalStaticSample
	source Source
	logger *slog.Logger

	enabled atomic.Bool
	written atomic.Uint64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newLocalTrack(kind webrtc.RTPCodecType, label, streamID string, source Source, logger *slog.Logger) (*LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(source.Codec(), kind.String(), streamID)
	if err != nil {
		return nil, err
	}

	t := &LocalTrack{
		kind:   kind,
		label:  label,
		track:  track,
		source: source,
		logger: logger.With("track", kind.String()),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	t.enabled.Store(true)

	go t.pump()
	return t, nil
}

// pump paces samples by their duration. Samples are read even while the
// track is disabled so the source stays in real time.
func (t *LocalTrack) pump() {
	defer close(t.done)

	for {
		sample, err := t.source.NextSample()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Warn("Local source failed", "error", err)
			}
			return
		}

		if t.enabled.Load() {
			if err := t.track.WriteSample(sample); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				t.logger.Debug("Write sample failed", "error", err)
			} else {
				t.written.Add(1)
			}
		}

		select {
		case <-t.stop:
			return
		case <-time.After(sample.Duration):
		}
	}
}

// Kind reports whether this is the audio or video track.
func (t *LocalTrack) Kind() webrtc.RTPCodecType {
	return t.kind
}

// Label is the device label the track was opened from.
func (t *LocalTrack) Label() string {
	return t.label
}

// Track returns the pion track to attach to peer connections.
func (t *LocalTrack) Track() webrtc.TrackLocal {
	return t.track
}

func (t *LocalTrack) Enabled() bool {
	return t.enabled.Load()
}

func (t *LocalTrack) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

// SamplesWritten counts samples handed to the pion track.
func (t *LocalTrack) SamplesWritten() uint64 {
	return t.written.Load()
}

// Stop ends the pump and closes the source. Safe to call more than once.
func (t *LocalTrack) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
		if err := t.source.Close(); err != nil {
			t.logger.Debug("Close source failed", "error", err)
		}
		<-t.done
	})
}

// Stopped reports whether Stop has completed.
func (t *LocalTrack) Stopped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
