package peer

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/BioHazard786/warpmesh/internal/media"
	"github.com/BioHazard786/warpmesh/internal/metrics"
	"github.com/BioHazard786/warpmesh/internal/signaling"
	"github.com/BioHazard786/warpmesh/internal/stream"
	"github.com/pion/webrtc/v4"
)

// maxOrphanCandidates caps the candidates held for a sender we have no
// session with yet. Later ones are dropped.
const maxOrphanCandidates = 32

// Signaler relays negotiation messages to one participant.
type Signaler interface {
	Relay(msgType, to string, payload any) error
}

// Config wires a Manager to the rest of the call.
type Config struct {
	API           *webrtc.API
	Configuration webrtc.Configuration

	// ConnectTimeout bounds how long a connection may take to reach
	// connected before it is treated as failed.
	ConnectTimeout time.Duration

	// Dispatch runs fn on the event loop that owns the manager. pion
	// callbacks and timers only ever go through it. It must not block.
	Dispatch func(fn func())

	Signaler Signaler
	Streams  *stream.Reconciler

	OnStateChange func(participantID string, state State)
	OnError       func(participantID string, err error)

	Logger *slog.Logger
}

// Manager owns one Session per remote participant. Apart from construction
// every method must be called from the event loop.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	selfID string
	local  *media.LocalSession

	sessions   map[string]*Session
	orphans    map[string][]webrtc.ICECandidateInit
	generation uint64
}

func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.API == nil {
		cfg.API = webrtc.NewAPI()
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger.With("component", "peer"),
		sessions: make(map[string]*Session),
		orphans:  make(map[string][]webrtc.ICECandidateInit),
	}
}

// SetSelf records our participant id, which decides who wins glare.
func (m *Manager) SetSelf(id string) {
	m.selfID = id
}

// SetLocal provides the tracks every session sends.
func (m *Manager) SetLocal(local *media.LocalSession) {
	m.local = local
}

// Create returns the session for participantID, creating it if needed.
// An offerer session sends its offer right away.
func (m *Manager) Create(participantID string, role Role) (*Session, error) {
	if s, ok := m.sessions[participantID]; ok {
		return s, nil
	}
	if m.local == nil || m.local.Released() {
		m.logger.Warn("Skipping session without local media", "participant", participantID)
		return nil, ErrNoLocalMedia
	}

	s := &Session{participantID: participantID, role: role, state: StateIdle}
	for _, c := range m.orphans[participantID] {
		s.candidates.Push(c)
	}
	delete(m.orphans, participantID)

	if err := m.connect(s); err != nil {
		return nil, err
	}
	m.sessions[participantID] = s
	metrics.SessionsCreatedTotal.Inc()
	m.logger.Debug("Session created", "participant", participantID, "role", role.String())

	if role == Offerer {
		if err := m.offer(s); err != nil {
			m.abort(s, err)
			return nil, err
		}
	}
	return s, nil
}

// connect builds a fresh peer connection for s with the local tracks and
// the control channel attached before any SDP is produced.
func (m *Manager) connect(s *Session) error {
	m.generation++
	gen := m.generation
	pid := s.participantID

	pc, err := m.cfg.API.NewPeerConnection(m.cfg.Configuration)
	if err != nil {
		return &NegotiationError{Kind: InvalidState, Participant: pid, Op: "create peer connection", Err: err}
	}

	var senders []*webrtc.RTPSender
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		track := m.local.Track(kind)
		if track == nil {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				pc.Close()
				return &NegotiationError{Kind: InvalidState, Participant: pid, Op: "add transceiver", Err: err}
			}
			continue
		}

		sender, err := pc.AddTrack(track.Track())
		if err != nil {
			pc.Close()
			return &NegotiationError{Kind: InvalidState, Participant: pid, Op: "add track", Err: err}
		}
		senders = append(senders, sender)
		go drainRTCP(sender)
	}

	negotiated := true
	id := controlID
	dc, err := pc.CreateDataChannel(controlLabel, &webrtc.DataChannelInit{Negotiated: &negotiated, ID: &id})
	if err != nil {
		pc.Close()
		return &NegotiationError{Kind: InvalidState, Participant: pid, Op: "create control channel", Err: err}
	}

	dc.OnOpen(func() {
		m.cfg.Dispatch(func() { m.announce(pid, gen) })
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		data := msg.Data
		m.cfg.Dispatch(func() { m.handleControl(pid, gen, data) })
	})
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		cand := c.ToJSON()
		m.cfg.Dispatch(func() { m.sendCandidate(pid, gen, cand) })
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.cfg.Dispatch(func() { m.handleConnectionState(pid, gen, state) })
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.cfg.Dispatch(func() {
			if m.current(pid, gen) != nil {
				m.cfg.Streams.OnTrack(pid, gen, track)
			}
		})
	})

	s.pc = pc
	s.senders = senders
	s.control = dc
	s.generation = gen
	s.remoteSet = false
	m.cfg.Streams.Attach(pid, gen)

	if m.cfg.ConnectTimeout > 0 {
		s.timer = time.AfterFunc(m.cfg.ConnectTimeout, func() {
			m.cfg.Dispatch(func() { m.handleTimeout(pid, gen) })
		})
	}
	return nil
}

// drainRTCP reads incoming RTCP so the interceptors keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// current returns the session only if gen is its live connection.
func (m *Manager) current(pid string, gen uint64) *Session {
	s, ok := m.sessions[pid]
	if !ok || s.generation != gen || s.pc == nil {
		return nil
	}
	return s
}

func (m *Manager) offer(s *Session) error {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return &NegotiationError{Kind: InvalidState, Participant: s.participantID, Op: "create offer", Err: err}
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return &NegotiationError{Kind: InvalidState, Participant: s.participantID, Op: "set local description", Err: err}
	}
	if err := m.cfg.Signaler.Relay(signaling.TypeOffer, s.participantID, signaling.SDPPayload{SDP: offer.SDP}); err != nil {
		return fmt.Errorf("relay offer: %w", err)
	}

	s.role = Offerer
	m.setState(s, StateOffering)
	return nil
}

// HandleOffer answers an inbound offer, creating the session if needed.
func (m *Manager) HandleOffer(from, sdp string) error {
	s, exists := m.sessions[from]
	switch {
	case !exists:
		var err error
		if s, err = m.Create(from, Answerer); err != nil {
			return err
		}

	case s.state == StateOffering && s.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer:
		if m.selfID == "" || m.selfID == from {
			err := &NegotiationError{Kind: GlareUnresolved, Participant: from, Op: "handle offer", Err: fmt.Errorf("cannot order %q against %q", m.selfID, from)}
			m.report(from, err)
			return err
		}
		if m.selfID < from {
			metrics.GlareTotal.WithLabelValues("kept").Inc()
			m.logger.Debug("Glare: keeping our offer", "participant", from)
			return nil
		}
		metrics.GlareTotal.WithLabelValues("yielded").Inc()
		m.logger.Debug("Glare: discarding our offer and answering", "participant", from)
		if err := m.rebuild(s); err != nil {
			m.abort(s, err)
			return err
		}

	default:
		m.logger.Debug("Offer on existing session, replacing connection", "participant", from, "state", s.state.String())
		m.cfg.Streams.Unbind(from)
		if err := m.rebuild(s); err != nil {
			m.abort(s, err)
			return err
		}
	}

	if err := m.answer(s, sdp); err != nil {
		m.abort(s, err)
		return err
	}
	return nil
}

func (m *Manager) answer(s *Session, sdp string) error {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return &NegotiationError{Kind: RemoteDescriptionRejected, Participant: s.participantID, Op: "set remote offer", Err: err}
	}
	m.remoteDescriptionSet(s)

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return &NegotiationError{Kind: InvalidState, Participant: s.participantID, Op: "create answer", Err: err}
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return &NegotiationError{Kind: InvalidState, Participant: s.participantID, Op: "set local description", Err: err}
	}
	if err := m.cfg.Signaler.Relay(signaling.TypeAnswer, s.participantID, signaling.SDPPayload{SDP: answer.SDP}); err != nil {
		return fmt.Errorf("relay answer: %w", err)
	}

	s.role = Answerer
	m.setState(s, StateAnswering)
	return nil
}

// HandleAnswer applies an answer to a pending offer. Anything else is a
// stale or duplicate answer and is dropped.
func (m *Manager) HandleAnswer(from, sdp string) error {
	s, ok := m.sessions[from]
	if !ok || s.state != StateOffering || s.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		m.logger.Debug("Discarding stale answer", "participant", from)
		return nil
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := s.pc.SetRemoteDescription(answer); err != nil {
		err = &NegotiationError{Kind: RemoteDescriptionRejected, Participant: from, Op: "set remote answer", Err: err}
		m.abort(s, err)
		return err
	}
	m.remoteDescriptionSet(s)

	pc := s.pc
	m.cfg.Streams.ScheduleFallback(from, s.generation, func() []stream.InboundTrack {
		return liveTracks(pc)
	})
	return nil
}

// liveTracks lists receiver tracks that have an SSRC assigned.
func liveTracks(pc *webrtc.PeerConnection) []stream.InboundTrack {
	var out []stream.InboundTrack
	for _, r := range pc.GetReceivers() {
		if t := r.Track(); t != nil && t.SSRC() != 0 {
			out = append(out, t)
		}
	}
	return out
}

// HandleCandidate applies a remote candidate, or queues it until the remote
// description is set.
func (m *Manager) HandleCandidate(from string, c webrtc.ICECandidateInit) {
	s, ok := m.sessions[from]
	if !ok {
		if len(m.orphans[from]) >= maxOrphanCandidates {
			m.logger.Debug("Dropping candidate from unknown sender", "participant", from)
			return
		}
		m.orphans[from] = append(m.orphans[from], c)
		return
	}
	if !s.remoteSet {
		s.candidates.Push(c)
		metrics.CandidatesBufferedTotal.Inc()
		return
	}
	if err := s.pc.AddICECandidate(c); err != nil {
		m.logger.Debug("Ignoring remote candidate", "participant", from, "error", err)
	}
}

func (m *Manager) remoteDescriptionSet(s *Session) {
	s.remoteSet = true
	n := s.candidates.Len()
	for _, err := range s.candidates.Flush(s.pc.AddICECandidate) {
		m.logger.Debug("Ignoring buffered candidate", "participant", s.participantID, "error", err)
	}
	if n > 0 {
		metrics.CandidatesFlushedTotal.Add(float64(n))
		m.logger.Debug("Flushed buffered candidates", "participant", s.participantID, "count", n)
	}
}

func (m *Manager) sendCandidate(pid string, gen uint64, c webrtc.ICECandidateInit) {
	if m.current(pid, gen) == nil {
		return
	}
	if err := m.cfg.Signaler.Relay(signaling.TypeICECandidate, pid, signaling.CandidatePayload{Candidate: c}); err != nil {
		m.logger.Debug("Relay candidate failed", "participant", pid, "error", err)
	}
}

func (m *Manager) handleConnectionState(pid string, gen uint64, state webrtc.PeerConnectionState) {
	s := m.current(pid, gen)
	if s == nil {
		return
	}

	switch state {
	case webrtc.PeerConnectionStateConnected:
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		m.setState(s, StateConnected)
	case webrtc.PeerConnectionStateDisconnected:
		m.setState(s, StateDisconnected)
	case webrtc.PeerConnectionStateFailed:
		m.fail(s, IceFailed)
	}
}

func (m *Manager) handleTimeout(pid string, gen uint64) {
	s := m.current(pid, gen)
	if s == nil || s.state == StateConnected {
		return
	}
	m.logger.Warn("Connection timed out", "participant", pid, "state", s.state.String())
	m.fail(s, Timeout)
}

// fail retries once with a fresh connection and a new offer. A second
// failure closes the session.
func (m *Manager) fail(s *Session, kind ConnectivityKind) {
	m.setState(s, StateFailed)

	if s.retried {
		m.report(s.participantID, &ConnectivityError{Kind: kind, Participant: s.participantID})
		m.Close(s.participantID)
		return
	}
	s.retried = true
	metrics.RenegotiationsTotal.Inc()
	m.logger.Info("Renegotiating failed session", "participant", s.participantID, "reason", kind.String())

	if err := m.rebuild(s); err != nil {
		m.abort(s, err)
		return
	}
	if err := m.offer(s); err != nil {
		m.abort(s, err)
	}
}

// rebuild replaces the session's connection, keeping queued candidates.
func (m *Manager) rebuild(s *Session) error {
	s.teardown()
	return m.connect(s)
}

// abort reports err and closes the session.
func (m *Manager) abort(s *Session, err error) {
	m.report(s.participantID, err)
	m.Close(s.participantID)
}

func (m *Manager) report(pid string, err error) {
	m.logger.Warn("Peer session error", "participant", pid, "error", err)
	if m.cfg.OnError != nil {
		m.cfg.OnError(pid, err)
	}
}

func (m *Manager) setState(s *Session, state State) {
	if s.state == state {
		return
	}
	m.logger.Debug("Session state", "participant", s.participantID, "from", s.state.String(), "to", state.String())
	s.state = state
	metrics.SessionTransitionsTotal.WithLabelValues(state.String()).Inc()
	if m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(s.participantID, state)
	}
}

// Close tears down the session toward participantID. It reports whether a
// session existed.
func (m *Manager) Close(participantID string) bool {
	delete(m.orphans, participantID)
	s, ok := m.sessions[participantID]
	if !ok {
		return false
	}
	delete(m.sessions, participantID)
	s.teardown()
	m.cfg.Streams.Forget(participantID)
	m.setState(s, StateClosed)
	return true
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	for _, id := range m.IDs() {
		m.Close(id)
	}
	clear(m.orphans)
}

// BroadcastTrackState tells every connected participant whether our track
// of the given kind is enabled.
func (m *Manager) BroadcastTrackState(kind webrtc.RTPCodecType, enabled bool) {
	data, err := encodeTrackState(kind, enabled)
	if err != nil {
		m.logger.Error("Encode track state failed", "error", err)
		return
	}
	for _, s := range m.sessions {
		if s.control == nil || s.control.ReadyState() != webrtc.DataChannelStateOpen {
			continue
		}
		if err := s.control.Send(data); err != nil {
			m.logger.Debug("Send track state failed", "participant", s.participantID, "error", err)
		}
	}
}

// announce sends the current local track states on a newly opened channel.
func (m *Manager) announce(pid string, gen uint64) {
	s := m.current(pid, gen)
	if s == nil || m.local == nil {
		return
	}
	for _, track := range m.local.Tracks() {
		data, err := encodeTrackState(track.Kind(), track.Enabled())
		if err != nil {
			continue
		}
		if err := s.control.Send(data); err != nil {
			m.logger.Debug("Announce track state failed", "participant", pid, "error", err)
		}
	}
}

func (m *Manager) handleControl(pid string, gen uint64, data []byte) {
	if m.current(pid, gen) == nil {
		return
	}
	msg, err := decodeControl(data)
	if err != nil {
		m.logger.Debug("Dropping control message", "participant", pid, "error", err)
		return
	}

	switch msg.Type {
	case ControlTrackState:
		var p TrackStatePayload
		if err := msg.DecodePayload(&p); err != nil {
			m.logger.Debug("Dropping track state", "participant", pid, "error", err)
			return
		}
		kind := webrtc.NewRTPCodecType(p.Kind)
		if kind == 0 {
			m.logger.Debug("Unknown track kind", "participant", pid, "kind", p.Kind)
			return
		}
		m.cfg.Streams.SetTrackEnabled(pid, kind, p.Enabled)
	default:
		m.logger.Debug("Unknown control message", "participant", pid, "type", msg.Type)
	}
}

// Session returns the session toward participantID, if any.
func (m *Manager) Session(participantID string) (*Session, bool) {
	s, ok := m.sessions[participantID]
	return s, ok
}

// States returns the state of every open session.
func (m *Manager) States() map[string]State {
	out := make(map[string]State, len(m.sessions))
	for id, s := range m.sessions {
		out[id] = s.state
	}
	return out
}

// IDs returns the participant ids with an open session, sorted.
func (m *Manager) IDs() []string {
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) Len() int {
	return len(m.sessions)
}

// IsConnectivity reports whether err is a per-peer connectivity failure.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}
