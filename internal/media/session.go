package media

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// LocalSession holds the local tracks for the duration of a call.
type LocalSession struct {
	StreamID string

	audio *LocalTrack
	video *LocalTrack

	releaseOnce sync.Once
	released    atomic.Bool
}

// Tracks returns the opened tracks, audio first.
func (s *LocalSession) Tracks() []*LocalTrack {
	var tracks []*LocalTrack
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	return tracks
}

// Track returns the track of the given kind, or nil if none was opened.
func (s *LocalSession) Track(kind webrtc.RTPCodecType) *LocalTrack {
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		return s.audio
	case webrtc.RTPCodecTypeVideo:
		return s.video
	}
	return nil
}

// Enabled reports whether the track of the given kind exists and is enabled.
func (s *LocalSession) Enabled(kind webrtc.RTPCodecType) bool {
	t := s.Track(kind)
	return t != nil && t.Enabled()
}

// ToggleAudio flips the audio enabled flag and returns the new value.
func (s *LocalSession) ToggleAudio() bool {
	return s.toggle(webrtc.RTPCodecTypeAudio)
}

// ToggleVideo flips the video enabled flag and returns the new value.
func (s *LocalSession) ToggleVideo() bool {
	return s.toggle(webrtc.RTPCodecTypeVideo)
}

func (s *LocalSession) toggle(kind webrtc.RTPCodecType) bool {
	t := s.Track(kind)
	if t == nil || s.released.Load() {
		return false
	}
	enabled := !t.Enabled()
	t.SetEnabled(enabled)
	return enabled
}

// Release stops every track. Only the first call has any effect.
func (s *LocalSession) Release() {
	s.releaseOnce.Do(func() {
		s.released.Store(true)
		for _, t := range s.Tracks() {
			t.Stop()
		}
	})
}

func (s *LocalSession) Released() bool {
	return s.released.Load()
}
