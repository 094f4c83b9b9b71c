package call

import (
	"fmt"
	"sync"
	"time"

	"github.com/BioHazard786/warpmesh/internal/media"
	"github.com/BioHazard786/warpmesh/internal/peer"
)

// EventKind identifies what an Event reports.
type EventKind int

const (
	ParticipantJoined EventKind = iota
	ParticipantLeft
	RemoteStreamReady
	ConnectionStateChanged
	LocalMediaError
	SignalingError
	PeerError
)

func (k EventKind) String() string {
	switch k {
	case ParticipantJoined:
		return "participant_joined"
	case ParticipantLeft:
		return "participant_left"
	case RemoteStreamReady:
		return "remote_stream_ready"
	case ConnectionStateChanged:
		return "connection_state_changed"
	case LocalMediaError:
		return "local_media_error"
	case SignalingError:
		return "signaling_error"
	case PeerError:
		return "peer_error"
	default:
		return "unknown"
	}
}

// Event is what observers of a call see. Only the fields relevant to Kind
// are set.
type Event struct {
	Kind          EventKind
	ParticipantID string
	Name          string
	State         peer.State
	MediaError    media.ErrorKind
	Err           error
	At            time.Time
}

func (e Event) String() string {
	switch e.Kind {
	case ConnectionStateChanged:
		return fmt.Sprintf("%s %s %s", e.Kind, e.ParticipantID, e.State)
	case LocalMediaError:
		return fmt.Sprintf("%s %s: %v", e.Kind, e.MediaError, e.Err)
	case SignalingError, PeerError:
		return fmt.Sprintf("%s %s: %v", e.Kind, e.ParticipantID, e.Err)
	default:
		return fmt.Sprintf("%s %s", e.Kind, e.ParticipantID)
	}
}

// eventBus delivers events in order without ever blocking the publisher.
type eventBus struct {
	mu      sync.Mutex
	pending []Event
	closed  bool
	wake    chan struct{}
	out     chan Event
}

func newEventBus() *eventBus {
	b := &eventBus{wake: make(chan struct{}, 1), out: make(chan Event)}
	go b.pump()
	return b
}

func (b *eventBus) publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, e)
	b.mu.Unlock()
	b.signal()
}

func (b *eventBus) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// close stops accepting events. Already published events are still
// delivered before the channel closes.
func (b *eventBus) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.signal()
}

func (b *eventBus) pump() {
	defer close(b.out)
	for {
		b.mu.Lock()
		pending := b.pending
		b.pending = nil
		closed := b.closed
		b.mu.Unlock()

		for _, e := range pending {
			b.out <- e
		}
		if len(pending) > 0 {
			continue
		}
		if closed {
			return
		}
		<-b.wake
	}
}
