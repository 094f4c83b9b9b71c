package peer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/warpmesh/internal/logging"
	"github.com/BioHazard786/warpmesh/internal/media"
	"github.com/BioHazard786/warpmesh/internal/signaling"
	"github.com/BioHazard786/warpmesh/internal/stream"
	"github.com/pion/webrtc/v4"
)

// testLoop runs posted tasks one at a time, like the call controller.
type testLoop struct {
	mu    sync.Mutex
	tasks []func()
	wake  chan struct{}
	quit  chan struct{}
	done  chan struct{}
}

func newTestLoop(t *testing.T) *testLoop {
	l := &testLoop{wake: make(chan struct{}, 1), quit: make(chan struct{}), done: make(chan struct{})}
	go l.run()
	t.Cleanup(func() {
		close(l.quit)
		<-l.done
	})
	return l
}

func (l *testLoop) Dispatch(fn func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do runs fn on the loop and waits for it.
func (l *testLoop) Do(fn func()) {
	ran := make(chan struct{})
	l.Dispatch(func() {
		fn()
		close(ran)
	})
	select {
	case <-ran:
	case <-l.done:
	}
}

func (l *testLoop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		tasks := l.tasks
		l.tasks = nil
		l.mu.Unlock()

		for _, fn := range tasks {
			fn()
		}
		if len(tasks) > 0 {
			continue
		}

		select {
		case <-l.wake:
		case <-l.quit:
			return
		}
	}
}

// network routes relayed messages between nodes in process.
type network struct {
	mu    sync.Mutex
	nodes map[string]*node

	// hold, when set, decides whether a message is delivered now. Held
	// messages are parked in held until released.
	hold func(from, to, msgType string) bool
	held []func()

	offers map[string]int
}

func newNetwork() *network {
	return &network{nodes: make(map[string]*node), offers: make(map[string]int)}
}

func (n *network) release() {
	n.mu.Lock()
	held := n.held
	n.held = nil
	n.mu.Unlock()
	for _, deliver := range held {
		deliver()
	}
}

func (n *network) offerCount(from string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.offers[from]
}

type relay struct {
	net  *network
	from string
}

func (r relay) Relay(msgType, to string, payload any) error {
	n := r.net
	n.mu.Lock()
	if msgType == signaling.TypeOffer {
		n.offers[r.from]++
	}
	target, ok := n.nodes[to]
	hold := n.hold
	n.mu.Unlock()
	if !ok {
		return nil
	}

	from := r.from
	deliver := func() {
		target.loop.Dispatch(func() {
			switch p := payload.(type) {
			case signaling.SDPPayload:
				if msgType == signaling.TypeOffer {
					target.manager.HandleOffer(from, p.SDP)
				} else {
					target.manager.HandleAnswer(from, p.SDP)
				}
			case signaling.CandidatePayload:
				target.manager.HandleCandidate(from, p.Candidate)
			}
		})
	}

	if hold != nil && hold(from, to, msgType) {
		n.mu.Lock()
		n.held = append(n.held, deliver)
		n.mu.Unlock()
		return nil
	}
	deliver()
	return nil
}

type node struct {
	id      string
	loop    *testLoop
	manager *Manager
	streams *stream.Reconciler
	local   *media.LocalSession

	mu     sync.Mutex
	states map[string][]State
	errs   []error
	ready  map[string]bool
}

func newNode(t *testing.T, net *network, id string, timeout time.Duration) *node {
	t.Helper()

	api, err := NewAPI(true, logging.Discard())
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}

	n := &node{
		id:     id,
		loop:   newTestLoop(t),
		states: make(map[string][]State),
		ready:  make(map[string]bool),
	}

	n.streams = stream.NewReconciler(stream.Config{
		FallbackDelay: 2 * time.Second,
		Dispatch:      n.loop.Dispatch,
		OnReady: func(pid string, _ *stream.RemoteStream) {
			n.mu.Lock()
			n.ready[pid] = true
			n.mu.Unlock()
		},
		Logger: logging.Discard(),
	})

	n.manager = NewManager(Config{
		API:            api,
		ConnectTimeout: timeout,
		Dispatch:       n.loop.Dispatch,
		Signaler:       relay{net: net, from: id},
		Streams:        n.streams,
		OnStateChange: func(pid string, state State) {
			n.mu.Lock()
			n.states[pid] = append(n.states[pid], state)
			n.mu.Unlock()
		},
		OnError: func(_ string, err error) {
			n.mu.Lock()
			n.errs = append(n.errs, err)
			n.mu.Unlock()
		},
		Logger: logging.Discard(),
	})
	n.manager.SetSelf(id)

	local, err := media.NewManager(media.SyntheticDevices{}, logging.Discard()).Acquire(context.Background(), media.Constraints{
		Audio: true, Video: true, Width: 320, Height: 240, FrameRate: 15,
	})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	n.local = local
	n.manager.SetLocal(local)

	t.Cleanup(func() {
		n.loop.Do(n.manager.CloseAll)
		local.Release()
	})

	net.mu.Lock()
	net.nodes[id] = n
	net.mu.Unlock()
	return n
}

func (n *node) state(pid string) (State, bool) {
	var (
		st State
		ok bool
	)
	n.loop.Do(func() {
		var s *Session
		if s, ok = n.manager.Session(pid); ok {
			st = s.State()
		}
	})
	return st, ok
}

func (n *node) history(pid string) []State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]State(nil), n.states[pid]...)
}

func (n *node) errors() []error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]error(nil), n.errs...)
}

func (n *node) isReady(pid string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ready[pid]
}

func eventually(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func waitConnected(t *testing.T, n *node, pid string) {
	t.Helper()
	eventually(t, 15*time.Second, n.id+" connected to "+pid, func() bool {
		st, ok := n.state(pid)
		return ok && st == StateConnected
	})
}

func (n *node) create(t *testing.T, pid string) {
	t.Helper()
	var err error
	n.loop.Do(func() { _, err = n.manager.Create(pid, Offerer) })
	if err != nil {
		t.Fatalf("%s Create(%s): %v", n.id, pid, err)
	}
}

func kinds(s *stream.RemoteStream) map[webrtc.RTPCodecType]bool {
	out := make(map[webrtc.RTPCodecType]bool)
	for _, t := range s.Tracks() {
		out[t.Kind()] = true
	}
	return out
}
