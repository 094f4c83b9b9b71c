package peer

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// Session is the connection state machine toward one remote participant.
// It is only touched from the manager's event loop.
type Session struct {
	participantID string
	role          Role
	state         State

	pc      *webrtc.PeerConnection
	senders []*webrtc.RTPSender
	control *webrtc.DataChannel

	// generation identifies the current connection. Callbacks carrying an
	// older generation belong to a replaced connection and are dropped.
	generation uint64
	remoteSet  bool
	candidates candidateQueue

	retried bool
	timer   *time.Timer
}

func (s *Session) ParticipantID() string { return s.participantID }
func (s *Session) Role() Role            { return s.role }
func (s *Session) State() State          { return s.state }
func (s *Session) Generation() uint64    { return s.generation }

// PendingCandidates is the number of remote candidates waiting for a
// remote description.
func (s *Session) PendingCandidates() int { return s.candidates.Len() }

// teardown closes the current connection but keeps the session record and
// its candidate queue.
func (s *Session) teardown() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.pc == nil {
		return
	}
	for _, sender := range s.senders {
		s.pc.RemoveTrack(sender)
	}
	s.senders = nil
	if s.control != nil {
		s.control.Close()
		s.control = nil
	}
	s.pc.Close()
	s.pc = nil
	s.remoteSet = false
}
