package stream

import (
	"io"
	"testing"
	"time"

	"github.com/BioHazard786/warpmesh/internal/logging"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type fakeTrack struct {
	id, streamID string
	kind         webrtc.RTPCodecType
	ssrc         webrtc.SSRC
	packets      chan *rtp.Packet
}

func newFakeTrack(id string, kind webrtc.RTPCodecType, ssrc webrtc.SSRC) *fakeTrack {
	return &fakeTrack{id: id, streamID: "remote-stream", kind: kind, ssrc: ssrc, packets: make(chan *rtp.Packet, 8)}
}

func (f *fakeTrack) ID() string                { return f.id }
func (f *fakeTrack) StreamID() string          { return f.streamID }
func (f *fakeTrack) Kind() webrtc.RTPCodecType { return f.kind }
func (f *fakeTrack) SSRC() webrtc.SSRC         { return f.ssrc }

func (f *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	p, ok := <-f.packets
	if !ok {
		return nil, nil, io.EOF
	}
	return p, nil, nil
}

// loop stands in for the controller's event loop.
type loop struct {
	tasks chan func()
}

func newLoop() *loop {
	return &loop{tasks: make(chan func(), 16)}
}

func (l *loop) dispatch(fn func()) {
	l.tasks <- fn
}

// runNext executes the next posted task or fails after timeout.
func (l *loop) runNext(t *testing.T, timeout time.Duration) {
	t.Helper()
	select {
	case fn := <-l.tasks:
		fn()
	case <-time.After(timeout):
		t.Fatal("no task dispatched")
	}
}

func (l *loop) expectIdle(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case <-l.tasks:
		t.Fatal("unexpected task dispatched")
	case <-time.After(wait):
	}
}

func newTestReconciler(l *loop, ready *[]string) *Reconciler {
	return NewReconciler(Config{
		FallbackDelay: 20 * time.Millisecond,
		Dispatch:      l.dispatch,
		OnReady: func(participantID string, _ *RemoteStream) {
			*ready = append(*ready, participantID)
		},
		Logger: logging.Discard(),
	})
}

func TestPrimaryPathBindsOnce(t *testing.T) {
	l := newLoop()
	var ready []string
	r := newTestReconciler(l, &ready)
	r.Attach("b", 1)

	audio := newFakeTrack("audio", webrtc.RTPCodecTypeAudio, 111)
	video := newFakeTrack("video", webrtc.RTPCodecTypeVideo, 222)
	r.OnTrack("b", 1, audio)
	r.OnTrack("b", 1, video)

	if len(ready) != 1 || ready[0] != "b" {
		t.Fatalf("ready events = %v, want exactly one for b", ready)
	}
	s := r.Stream("b")
	if s == nil || len(s.Tracks()) != 2 {
		t.Fatalf("expected both tracks on one stream, got %+v", s)
	}
	if s.ID != "remote-stream" {
		t.Errorf("stream id = %q", s.ID)
	}

	audio.packets <- &rtp.Packet{}
	audio.packets <- &rtp.Packet{}
	deadline := time.Now().Add(time.Second)
	for s.Track(webrtc.RTPCodecTypeAudio).Packets() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("reader did not count packets")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(audio.packets)
	close(video.packets)
}

func TestFallbackBindsWhenOnTrackMissing(t *testing.T) {
	l := newLoop()
	var ready []string
	r := newTestReconciler(l, &ready)
	r.Attach("b", 1)

	lister := func() []InboundTrack {
		return []InboundTrack{
			newFakeTrack("audio", webrtc.RTPCodecTypeAudio, 0),
			newFakeTrack("video", webrtc.RTPCodecTypeVideo, 222),
		}
	}
	r.ScheduleFallback("b", 1, lister)
	l.runNext(t, time.Second)

	s := r.Stream("b")
	if s == nil {
		t.Fatal("fallback did not bind a stream")
	}
	tracks := s.Tracks()
	if len(tracks) != 1 || tracks[0].Kind() != webrtc.RTPCodecTypeVideo || !tracks[0].Synthesized() {
		t.Errorf("expected one synthesized video track, got %+v", tracks)
	}
	if len(ready) != 1 {
		t.Errorf("ready events = %v", ready)
	}

	// A primary-path track for the same id adopts the synthesized track.
	video := newFakeTrack("video", webrtc.RTPCodecTypeVideo, 222)
	r.OnTrack("b", 1, video)
	close(video.packets)
	if len(s.Tracks()) != 1 || s.Tracks()[0].Synthesized() {
		t.Errorf("late OnTrack should adopt the synthesized track")
	}
	if len(ready) != 1 {
		t.Errorf("late OnTrack should not emit ready again, got %v", ready)
	}
}

func TestFallbackIsNoopWhenBound(t *testing.T) {
	l := newLoop()
	var ready []string
	r := newTestReconciler(l, &ready)
	r.Attach("b", 1)

	audio := newFakeTrack("audio", webrtc.RTPCodecTypeAudio, 111)
	r.OnTrack("b", 1, audio)
	defer close(audio.packets)
	bound := r.Stream("b")

	polled := false
	r.ScheduleFallback("b", 1, func() []InboundTrack {
		polled = true
		return []InboundTrack{newFakeTrack("video", webrtc.RTPCodecTypeVideo, 9)}
	})
	l.runNext(t, time.Second)

	if polled {
		t.Error("fallback should not poll receivers once bound")
	}
	if r.Stream("b") != bound || len(bound.Tracks()) != 1 {
		t.Error("bound stream was replaced")
	}
}

func TestFallbackDroppedForReplacedConnection(t *testing.T) {
	l := newLoop()
	var ready []string
	r := newTestReconciler(l, &ready)
	r.Attach("b", 1)

	r.ScheduleFallback("b", 1, func() []InboundTrack {
		return []InboundTrack{newFakeTrack("video", webrtc.RTPCodecTypeVideo, 9)}
	})
	r.Attach("b", 2)
	l.runNext(t, time.Second)

	if r.Stream("b") != nil {
		t.Error("poll for generation 1 bound a stream on generation 2")
	}

	old := newFakeTrack("audio", webrtc.RTPCodecTypeAudio, 1)
	r.OnTrack("b", 1, old)
	close(old.packets)
	if r.Stream("b") != nil {
		t.Error("track from generation 1 should be ignored")
	}
}

func TestUnbindStopsTracks(t *testing.T) {
	l := newLoop()
	var ready []string
	r := newTestReconciler(l, &ready)
	r.Attach("b", 1)

	audio := newFakeTrack("audio", webrtc.RTPCodecTypeAudio, 111)
	r.OnTrack("b", 1, audio)
	defer close(audio.packets)
	s := r.Stream("b")

	r.Attach("b", 2)
	if !s.Ended() {
		t.Error("reattaching with a new generation should stop the old stream")
	}
	if r.Stream("b") != nil {
		t.Error("binding should be forgotten")
	}

	video := newFakeTrack("video", webrtc.RTPCodecTypeVideo, 5)
	r.OnTrack("b", 2, video)
	close(video.packets)
	if r.Stream("b") == nil || len(ready) != 2 {
		t.Errorf("new connection should bind a fresh stream, ready=%v", ready)
	}

	r.Forget("b")
	r.Forget("b")
	if r.Stream("b") != nil {
		t.Error("Forget should unbind")
	}
}

func TestTrackStateAppliedBeforeAndAfterBind(t *testing.T) {
	l := newLoop()
	var ready []string
	r := newTestReconciler(l, &ready)
	r.Attach("b", 1)

	r.SetTrackEnabled("b", webrtc.RTPCodecTypeVideo, false)

	video := newFakeTrack("video", webrtc.RTPCodecTypeVideo, 222)
	r.OnTrack("b", 1, video)
	defer close(video.packets)

	track := r.Stream("b").Track(webrtc.RTPCodecTypeVideo)
	if track.Enabled() {
		t.Error("state announced before bind should apply on bind")
	}

	r.SetTrackEnabled("b", webrtc.RTPCodecTypeVideo, true)
	if !track.Enabled() {
		t.Error("state announced after bind should apply immediately")
	}
}

func TestUnbindCancelsPendingPoll(t *testing.T) {
	l := newLoop()
	var ready []string
	r := newTestReconciler(l, &ready)
	r.Attach("b", 1)

	r.ScheduleFallback("b", 1, func() []InboundTrack { return nil })
	r.Unbind("b")
	l.expectIdle(t, 100*time.Millisecond)
}
