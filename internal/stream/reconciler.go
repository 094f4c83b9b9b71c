package stream

import (
	"log/slog"
	"time"

	"github.com/BioHazard786/warpmesh/internal/metrics"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// InboundTrack is the part of *webrtc.TrackRemote the reconciler needs.
type InboundTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	SSRC() webrtc.SSRC
}

// RTPTrack is an inbound track that can be drained. *webrtc.TrackRemote
// implements it.
type RTPTrack interface {
	InboundTrack
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Lister reports the live inbound tracks of a connection's receivers.
type Lister func() []InboundTrack

// Config wires a Reconciler to its event loop.
type Config struct {
	// FallbackDelay is how long after an answer the receivers are polled.
	FallbackDelay time.Duration

	// Dispatch runs fn on the owning event loop. It must not block.
	Dispatch func(fn func())

	// OnReady is called on the event loop when a stream is first bound.
	OnReady func(participantID string, stream *RemoteStream)

	Logger *slog.Logger
}

type binding struct {
	generation uint64
	stream     *RemoteStream
}

// Reconciler binds inbound media to participants. All methods must be
// called from the event loop given in Config.Dispatch.
type Reconciler struct {
	cfg    Config
	logger *slog.Logger

	generations map[string]uint64
	bindings    map[string]*binding
	states      map[string]map[webrtc.RTPCodecType]bool
	timers      map[string]*time.Timer
}

func NewReconciler(cfg Config) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		cfg:         cfg,
		logger:      logger.With("component", "stream"),
		generations: make(map[string]uint64),
		bindings:    make(map[string]*binding),
		states:      make(map[string]map[webrtc.RTPCodecType]bool),
		timers:      make(map[string]*time.Timer),
	}
}

// Attach records the generation of the participant's current connection.
// A binding from an older connection is unbound.
func (r *Reconciler) Attach(participantID string, generation uint64) {
	if b, ok := r.bindings[participantID]; ok && b.generation != generation {
		r.Unbind(participantID)
	}
	r.generations[participantID] = generation
}

// OnTrack is the primary path. The first track binds a new stream; later
// tracks join it. A reader goroutine drains each track.
func (r *Reconciler) OnTrack(participantID string, generation uint64, track RTPTrack) {
	if r.generations[participantID] != generation {
		r.logger.Debug("Ignoring track from replaced connection", "participant", participantID, "generation", generation)
		return
	}

	b, bound := r.bindings[participantID]
	if !bound {
		b = r.bind(participantID, generation, track.StreamID(), "primary")
	}

	rt := b.stream.find(track.ID(), track.Kind())
	if rt == nil {
		rt = newRemoteTrack(track, false)
		r.applyState(participantID, rt)
		b.stream.add(rt)
	} else {
		rt.synthesized.Store(false)
	}

	go drain(track, rt)

	r.logger.Debug("Remote track added", "participant", participantID, "kind", track.Kind().String(), "ssrc", uint32(track.SSRC()))
	if !bound {
		r.ready(participantID, b.stream)
	}
}

// ScheduleFallback polls the receivers once after FallbackDelay. If they
// report live tracks and nothing is bound yet, a stream is synthesized from
// them. A poll for a connection that has since been replaced is dropped.
func (r *Reconciler) ScheduleFallback(participantID string, generation uint64, list Lister) {
	if t, ok := r.timers[participantID]; ok {
		t.Stop()
	}
	r.timers[participantID] = time.AfterFunc(r.cfg.FallbackDelay, func() {
		r.cfg.Dispatch(func() {
			r.reconcile(participantID, generation, list)
		})
	})
}

func (r *Reconciler) reconcile(participantID string, generation uint64, list Lister) {
	delete(r.timers, participantID)

	if gen, ok := r.generations[participantID]; !ok || gen != generation {
		r.logger.Debug("Dropping fallback poll for replaced connection", "participant", participantID)
		return
	}
	if _, bound := r.bindings[participantID]; bound {
		return
	}

	var live []InboundTrack
	for _, t := range list() {
		if t != nil && t.SSRC() != 0 {
			live = append(live, t)
		}
	}
	if len(live) == 0 {
		r.logger.Debug("Fallback poll found no live receivers", "participant", participantID)
		return
	}

	b := r.bind(participantID, generation, live[0].StreamID(), "fallback")
	for _, t := range live {
		rt := newRemoteTrack(t, true)
		r.applyState(participantID, rt)
		b.stream.add(rt)
	}

	r.logger.Info("Bound remote stream from receivers", "participant", participantID, "tracks", len(live))
	r.ready(participantID, b.stream)
}

func (r *Reconciler) bind(participantID string, generation uint64, streamID, path string) *binding {
	if streamID == "" {
		streamID = participantID
	}
	b := &binding{
		generation: generation,
		stream:     &RemoteStream{ParticipantID: participantID, ID: streamID},
	}
	r.bindings[participantID] = b
	metrics.StreamsBoundTotal.WithLabelValues(path).Inc()
	return b
}

func (r *Reconciler) ready(participantID string, stream *RemoteStream) {
	if r.cfg.OnReady != nil {
		r.cfg.OnReady(participantID, stream)
	}
}

// SetTrackEnabled records the remote participant's announced track state
// and applies it to the bound stream, if any.
func (r *Reconciler) SetTrackEnabled(participantID string, kind webrtc.RTPCodecType, enabled bool) {
	states, ok := r.states[participantID]
	if !ok {
		states = make(map[webrtc.RTPCodecType]bool)
		r.states[participantID] = states
	}
	states[kind] = enabled

	if b, ok := r.bindings[participantID]; ok {
		for _, t := range b.stream.Tracks() {
			if t.kind == kind {
				t.enabled.Store(enabled)
			}
		}
	}
}

func (r *Reconciler) applyState(participantID string, t *RemoteTrack) {
	if enabled, ok := r.states[participantID][t.kind]; ok {
		t.enabled.Store(enabled)
	}
}

// Stream returns the stream bound to participantID, or nil.
func (r *Reconciler) Stream(participantID string) *RemoteStream {
	if b, ok := r.bindings[participantID]; ok {
		return b.stream
	}
	return nil
}

// Unbind stops the participant's stream and forgets the binding. The
// generation is kept so polls for the current connection still apply.
func (r *Reconciler) Unbind(participantID string) {
	if t, ok := r.timers[participantID]; ok {
		t.Stop()
		delete(r.timers, participantID)
	}
	b, ok := r.bindings[participantID]
	if !ok {
		return
	}
	b.stream.stop()
	delete(r.bindings, participantID)
	r.logger.Debug("Unbound remote stream", "participant", participantID)
}

// Forget unbinds and drops everything known about the participant.
func (r *Reconciler) Forget(participantID string) {
	r.Unbind(participantID)
	delete(r.generations, participantID)
	delete(r.states, participantID)
}

// drain reads RTP until the track's connection goes away.
func drain(track RTPTrack, rt *RemoteTrack) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
		if rt.Ended() {
			return
		}
		rt.packets.Add(1)
		metrics.RTPPacketsTotal.Inc()
	}
}
