package call

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/warpmesh/internal/config"
	"github.com/BioHazard786/warpmesh/internal/logging"
	"github.com/BioHazard786/warpmesh/internal/media"
	"github.com/BioHazard786/warpmesh/internal/peer"
	"github.com/BioHazard786/warpmesh/internal/relay"
)

// startRelay serves an in-process relay and returns its websocket URL.
func startRelay(t *testing.T, token string) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := relay.NewHub(logging.Discard())
	go hub.Run(ctx)

	srv := httptest.NewServer(relay.Routes(hub, token))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func testConfig(url string) *config.Config {
	m := config.DefaultMedia()
	m.Width, m.Height, m.FrameRate = 320, 240, 15
	return &config.Config{
		ServerURL:       url,
		IncludeLoopback: true,
		FallbackDelay:   2 * time.Second,
		ConnectTimeout:  20 * time.Second,
		Media:           m,
	}
}

// party is one controller plus a record of every event it emitted.
type party struct {
	*Controller

	mu     sync.Mutex
	events []Event
	done   chan struct{}
}

func newParty(t *testing.T, cfg *config.Config, room, name string, devices media.Devices) *party {
	t.Helper()
	p := &party{
		Controller: New(Options{
			RoomID:      room,
			DisplayName: name,
			Config:      cfg,
			Devices:     devices,
			Logger:      logging.Discard(),
		}),
		done: make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		for e := range p.Events() {
			p.mu.Lock()
			p.events = append(p.events, e)
			p.mu.Unlock()
		}
	}()
	t.Cleanup(p.Leave)
	return p
}

func join(t *testing.T, url, room, name string) *party {
	t.Helper()
	p := newParty(t, testConfig(url), room, name, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("%s: start: %v", name, err)
	}
	return p
}

func (p *party) seen(match func(Event) bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if match(e) {
			return true
		}
	}
	return false
}

func (p *party) count(kind EventKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func eventually(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// connectedTo reports whether p has a connected session with every id.
func (p *party) connectedTo(ids ...string) bool {
	states := p.SessionStates()
	if len(states) != len(ids) {
		return false
	}
	for _, id := range ids {
		if states[id] != peer.StateConnected {
			return false
		}
	}
	return true
}

// streamReady reports whether p has a live remote stream with audio and
// video from id.
func (p *party) streamReady(id string) bool {
	s := p.Stream(id)
	return s != nil && len(s.Tracks()) == 2 && !s.Ended()
}
