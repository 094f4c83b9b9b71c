package stream

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// RemoteTrack is one inbound track of a bound stream. Counters are updated
// by the RTP reader goroutine; everything else is set on the event loop.
type RemoteTrack struct {
	id   string
	kind webrtc.RTPCodecType
	ssrc webrtc.SSRC

	enabled     atomic.Bool
	ended       atomic.Bool
	synthesized atomic.Bool
	packets     atomic.Uint64
}

func newRemoteTrack(t InboundTrack, synthesized bool) *RemoteTrack {
	rt := &RemoteTrack{id: t.ID(), kind: t.Kind(), ssrc: t.SSRC()}
	rt.enabled.Store(true)
	rt.synthesized.Store(synthesized)
	return rt
}

func (t *RemoteTrack) ID() string                { return t.id }
func (t *RemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *RemoteTrack) SSRC() webrtc.SSRC         { return t.ssrc }

// Enabled is the state last announced by the remote participant.
func (t *RemoteTrack) Enabled() bool { return t.enabled.Load() }

// Ended reports whether the track was stopped by an unbind.
func (t *RemoteTrack) Ended() bool { return t.ended.Load() }

// Synthesized reports whether the track was bound by the fallback poll
// rather than delivered through OnTrack.
func (t *RemoteTrack) Synthesized() bool { return t.synthesized.Load() }

// Packets counts RTP packets read from the track.
func (t *RemoteTrack) Packets() uint64 { return t.packets.Load() }

func (t *RemoteTrack) stop() {
	t.ended.Store(true)
}

// RemoteStream groups the inbound tracks of one participant.
type RemoteStream struct {
	ParticipantID string
	ID            string

	mu     sync.RWMutex
	tracks []*RemoteTrack
}

// Tracks returns a snapshot of the stream's tracks.
func (s *RemoteStream) Tracks() []*RemoteTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*RemoteTrack(nil), s.tracks...)
}

// Track returns the first track of the given kind, or nil.
func (s *RemoteStream) Track(kind webrtc.RTPCodecType) *RemoteTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tracks {
		if t.kind == kind {
			return t
		}
	}
	return nil
}

// Ended reports whether every track has been stopped.
func (s *RemoteStream) Ended() bool {
	for _, t := range s.Tracks() {
		if !t.Ended() {
			return false
		}
	}
	return true
}

func (s *RemoteStream) find(id string, kind webrtc.RTPCodecType) *RemoteTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tracks {
		if t.id == id && t.kind == kind {
			return t
		}
	}
	return nil
}

func (s *RemoteStream) add(t *RemoteTrack) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

func (s *RemoteStream) stop() {
	for _, t := range s.Tracks() {
		t.stop()
	}
}
