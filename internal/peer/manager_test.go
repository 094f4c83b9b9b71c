package peer

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/BioHazard786/warpmesh/internal/logging"
	"github.com/BioHazard786/warpmesh/internal/signaling"
	"github.com/BioHazard786/warpmesh/internal/stream"
	"github.com/pion/webrtc/v4"
)

func TestCandidateQueueFlushOrder(t *testing.T) {
	var q candidateQueue
	for _, c := range []string{"c1", "c2", "c3"} {
		q.Push(webrtc.ICECandidateInit{Candidate: c})
	}

	var applied []string
	errs := q.Flush(func(c webrtc.ICECandidateInit) error {
		applied = append(applied, c.Candidate)
		if c.Candidate == "c2" {
			return errors.New("bad candidate")
		}
		return nil
	})

	if len(applied) != 3 || applied[0] != "c1" || applied[1] != "c2" || applied[2] != "c3" {
		t.Errorf("applied = %v, want arrival order", applied)
	}
	if len(errs) != 1 {
		t.Errorf("expected one error, got %v", errs)
	}
	if q.Len() != 0 {
		t.Errorf("queue not emptied: %d", q.Len())
	}
}

func TestTrackStateEncoding(t *testing.T) {
	data, err := encodeTrackState(webrtc.RTPCodecTypeVideo, false)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := decodeControl(data)
	if err != nil {
		t.Fatal(err)
	}
	var p TrackStatePayload
	if err := msg.DecodePayload(&p); err != nil {
		t.Fatal(err)
	}
	if msg.Type != ControlTrackState || p.Kind != "video" || p.Enabled {
		t.Errorf("unexpected message %q %+v", msg.Type, p)
	}
	if _, err := decodeControl([]byte{0xc1}); err == nil {
		t.Error("expected error for garbage")
	}
}

func TestCreateWithoutLocalMedia(t *testing.T) {
	m := NewManager(Config{
		Dispatch: func(fn func()) {},
		Streams:  stream.NewReconciler(stream.Config{Dispatch: func(fn func()) {}}),
		Logger:   logging.Discard(),
	})

	if _, err := m.Create("b", Offerer); !errors.Is(err, ErrNoLocalMedia) {
		t.Fatalf("expected ErrNoLocalMedia, got %v", err)
	}
	if m.Len() != 0 {
		t.Error("no session should be registered")
	}
}

func TestOrphanCandidatesCapped(t *testing.T) {
	m := NewManager(Config{
		Dispatch: func(fn func()) {},
		Streams:  stream.NewReconciler(stream.Config{Dispatch: func(fn func()) {}}),
		Logger:   logging.Discard(),
	})

	for i := 0; i < maxOrphanCandidates*3; i++ {
		m.HandleCandidate("ghost", webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d 1 udp 1 127.0.0.1 %d typ host", i, 10000+i)})
	}
	if got := len(m.orphans["ghost"]); got != maxOrphanCandidates {
		t.Fatalf("held %d orphan candidates, want %d", got, maxOrphanCandidates)
	}

	m.Close("ghost")
	if _, ok := m.orphans["ghost"]; ok {
		t.Error("Close should drop orphan candidates")
	}
}

func TestTwoPartyConnect(t *testing.T) {
	net := newNetwork()
	a := newNode(t, net, "a", 20*time.Second)
	b := newNode(t, net, "b", 20*time.Second)

	a.create(t, "b")
	waitConnected(t, a, "b")
	waitConnected(t, b, "a")

	eventually(t, 10*time.Second, "b to bind a's stream", func() bool { return b.isReady("a") })

	var s *stream.RemoteStream
	b.loop.Do(func() { s = b.streams.Stream("a") })
	eventually(t, 10*time.Second, "both kinds on the stream", func() bool {
		k := kinds(s)
		return k[webrtc.RTPCodecTypeAudio] && k[webrtc.RTPCodecTypeVideo]
	})

	if st, _ := a.state("b"); st != StateConnected {
		t.Errorf("a state = %s", st)
	}
	b.loop.Do(func() {
		if sess, _ := b.manager.Session("a"); sess == nil || sess.Role() != Answerer || b.manager.Len() != 1 {
			t.Error("b should hold a single answerer session")
		}
	})
	if net.offerCount("a") != 1 || net.offerCount("b") != 0 {
		t.Errorf("offers: a=%d b=%d", net.offerCount("a"), net.offerCount("b"))
	}
}

func TestGlareYieldsOneSessionPerPair(t *testing.T) {
	net := newNetwork()
	a := newNode(t, net, "a", 20*time.Second)
	b := newNode(t, net, "b", 20*time.Second)

	// Both offers are created before either is delivered.
	net.hold = func(_, _, msgType string) bool { return msgType == signaling.TypeOffer }
	a.create(t, "b")
	b.create(t, "a")
	net.mu.Lock()
	net.hold = nil
	net.mu.Unlock()
	net.release()

	waitConnected(t, a, "b")
	waitConnected(t, b, "a")

	var aLen, bLen int
	var aRole, bRole Role
	a.loop.Do(func() {
		aLen = a.manager.Len()
		s, _ := a.manager.Session("b")
		aRole = s.Role()
	})
	b.loop.Do(func() {
		bLen = b.manager.Len()
		s, _ := b.manager.Session("a")
		bRole = s.Role()
	})

	if aLen != 1 || bLen != 1 {
		t.Errorf("sessions: a=%d b=%d, want one each", aLen, bLen)
	}
	if aRole != Offerer || bRole != Answerer {
		t.Errorf("roles: a=%s b=%s, want the smaller id to stay offerer", aRole, bRole)
	}
}

func TestCandidatesBeforeOfferAreApplied(t *testing.T) {
	net := newNetwork()
	a := newNode(t, net, "a", 20*time.Second)
	b := newNode(t, net, "b", 20*time.Second)

	net.hold = func(_, _, msgType string) bool { return msgType == signaling.TypeOffer }
	a.create(t, "b")

	eventually(t, 5*time.Second, "candidates to reach b before the offer", func() bool {
		var n int
		b.loop.Do(func() { n = len(b.manager.orphans["a"]) })
		return n > 0
	})

	net.mu.Lock()
	net.hold = nil
	net.mu.Unlock()
	net.release()

	waitConnected(t, a, "b")
	waitConnected(t, b, "a")

	b.loop.Do(func() {
		s, _ := b.manager.Session("a")
		if s.PendingCandidates() != 0 {
			t.Errorf("%d candidates still pending", s.PendingCandidates())
		}
		if len(b.manager.orphans) != 0 {
			t.Error("orphans should be consumed by the session")
		}
	})
}

func TestStaleAnswerDiscarded(t *testing.T) {
	net := newNetwork()
	a := newNode(t, net, "a", 20*time.Second)
	b := newNode(t, net, "b", 20*time.Second)

	a.create(t, "b")
	waitConnected(t, a, "b")
	waitConnected(t, b, "a")

	var err error
	a.loop.Do(func() { err = a.manager.HandleAnswer("b", "v=0 stale") })
	if err != nil {
		t.Errorf("stale answer should be absorbed, got %v", err)
	}
	a.loop.Do(func() { err = a.manager.HandleAnswer("nobody", "v=0") })
	if err != nil {
		t.Errorf("answer from unknown participant should be absorbed, got %v", err)
	}
	if st, _ := a.state("b"); st != StateConnected {
		t.Errorf("state after stale answer = %s", st)
	}
}

func TestTrackStateWithoutRenegotiation(t *testing.T) {
	net := newNetwork()
	a := newNode(t, net, "a", 20*time.Second)
	b := newNode(t, net, "b", 20*time.Second)

	a.create(t, "b")
	waitConnected(t, a, "b")
	waitConnected(t, b, "a")
	eventually(t, 10*time.Second, "b to bind a's stream", func() bool { return b.isReady("a") })

	videoEnabled := func() (bool, bool) {
		var enabled, ok bool
		b.loop.Do(func() {
			if s := b.streams.Stream("a"); s != nil {
				if tr := s.Track(webrtc.RTPCodecTypeVideo); tr != nil {
					enabled, ok = tr.Enabled(), true
				}
			}
		})
		return enabled, ok
	}
	eventually(t, 10*time.Second, "video track on b", func() bool {
		_, ok := videoEnabled()
		return ok
	})

	a.loop.Do(func() {
		enabled := a.local.ToggleVideo()
		a.manager.BroadcastTrackState(webrtc.RTPCodecTypeVideo, enabled)
	})
	eventually(t, 5*time.Second, "video disabled on b", func() bool {
		enabled, _ := videoEnabled()
		return !enabled
	})

	a.loop.Do(func() {
		enabled := a.local.ToggleVideo()
		a.manager.BroadcastTrackState(webrtc.RTPCodecTypeVideo, enabled)
	})
	eventually(t, 5*time.Second, "video enabled on b", func() bool {
		enabled, _ := videoEnabled()
		return enabled
	})

	for _, st := range a.history("b") {
		if st != StateOffering && st != StateConnected {
			t.Errorf("unexpected transition %s during mute", st)
		}
	}
	if net.offerCount("a") != 1 {
		t.Errorf("mute caused renegotiation: %d offers", net.offerCount("a"))
	}
}

func TestTimeoutRetriesOnceThenFails(t *testing.T) {
	net := newNetwork()
	net.hold = func(_, _, _ string) bool { return true }
	a := newNode(t, net, "a", 300*time.Millisecond)
	newNode(t, net, "b", 300*time.Millisecond)

	a.create(t, "b")

	eventually(t, 5*time.Second, "connectivity error", func() bool { return len(a.errors()) > 0 })

	var ce *ConnectivityError
	if errs := a.errors(); !errors.As(errs[0], &ce) || ce.Kind != Timeout || ce.Participant != "b" {
		t.Fatalf("expected Timeout for b, got %v", errs)
	}
	if net.offerCount("a") != 2 {
		t.Errorf("expected exactly one renegotiation, got %d offers", net.offerCount("a"))
	}
	if _, ok := a.state("b"); ok {
		t.Error("session should be closed after the second failure")
	}

	h := a.history("b")
	if h[len(h)-1] != StateClosed {
		t.Errorf("last state = %s, want closed", h[len(h)-1])
	}
	failed := 0
	for _, st := range h {
		if st == StateFailed {
			failed++
		}
	}
	if failed != 2 {
		t.Errorf("failed transitions = %d, want 2 (%v)", failed, h)
	}
}

func TestCloseIdempotent(t *testing.T) {
	net := newNetwork()
	a := newNode(t, net, "a", 20*time.Second)
	newNode(t, net, "b", 20*time.Second)

	a.create(t, "b")
	waitConnected(t, a, "b")

	var first, second bool
	a.loop.Do(func() {
		first = a.manager.Close("b")
		second = a.manager.Close("b")
		a.manager.CloseAll()
	})
	if !first || second {
		t.Errorf("Close reported %v then %v", first, second)
	}

	closed := 0
	for _, st := range a.history("b") {
		if st == StateClosed {
			closed++
		}
	}
	if closed != 1 {
		t.Errorf("closed transitions = %d", closed)
	}
}
