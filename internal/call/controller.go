package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BioHazard786/warpmesh/internal/config"
	"github.com/BioHazard786/warpmesh/internal/media"
	"github.com/BioHazard786/warpmesh/internal/peer"
	"github.com/BioHazard786/warpmesh/internal/room"
	"github.com/BioHazard786/warpmesh/internal/signaling"
	"github.com/BioHazard786/warpmesh/internal/stream"
	"github.com/pion/webrtc/v4"
)

var (
	ErrCallEnded  = errors.New("call has ended")
	ErrNotStarted = errors.New("call not started")
)

// Options configure a Controller.
type Options struct {
	RoomID      string
	DisplayName string
	Config      *config.Config
	Devices     media.Devices
	Logger      *slog.Logger
}

// Controller runs one call: it owns the local media, the signaling channel
// and every peer session, and mutates them only on its event loop.
type Controller struct {
	roomID  string
	name    string
	cfg     *config.Config
	devices media.Devices
	logger  *slog.Logger

	queue  *taskQueue
	events *eventBus

	mu      sync.Mutex
	started bool
	ended   bool
	running bool

	// setupMu serialises Start's setup with Leave.
	setupMu sync.Mutex

	// Owned by the event loop once it runs.
	local    *media.LocalSession
	channel  *signaling.Channel
	registry *room.Registry
	peers    *peer.Manager
	streams  *stream.Reconciler
	joined   chan error
	joinSent bool
	leaving  bool
	stopping bool

	leaveOnce sync.Once
	left      chan struct{}
	loopDone  chan struct{}
}

func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	devices := opts.Devices
	if devices == nil {
		devices = media.SyntheticDevices{}
	}
	return &Controller{
		roomID:   opts.RoomID,
		name:     opts.DisplayName,
		cfg:      opts.Config,
		devices:  devices,
		logger:   logger.With("room", opts.RoomID),
		queue:    newTaskQueue(),
		events:   newEventBus(),
		registry: room.NewRegistry(opts.RoomID),
		joined:   make(chan error, 1),
		left:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Events delivers call events in order. The channel closes after Leave.
// Callers must keep draining it.
func (c *Controller) Events() <-chan Event {
	return c.events.out
}

// Start acquires local media, connects to the relay and joins the room,
// in that order, and returns once the roster has been processed. A second
// Start while the call is active does nothing; Start after Leave returns
// ErrCallEnded.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return ErrCallEnded
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	c.setupMu.Lock()
	err := c.setup(ctx)
	c.setupMu.Unlock()
	if err != nil {
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return err
	}

	select {
	case err := <-c.joined:
		if err != nil {
			c.Leave()
			return err
		}
		if c.isEnded() {
			return ErrCallEnded
		}
		c.logger.Info("Joined room", "self", c.SelfID())
		return nil
	case <-ctx.Done():
		c.Leave()
		return ctx.Err()
	case <-c.left:
		return ErrCallEnded
	}
}

func (c *Controller) setup(ctx context.Context) error {
	if c.isEnded() {
		return ErrCallEnded
	}

	local, err := media.NewManager(c.devices, c.logger).Acquire(ctx, media.ConstraintsFromConfig(c.cfg.Media))
	if err != nil {
		var acqErr *media.AcquisitionError
		kind := media.Unknown
		if errors.As(err, &acqErr) {
			kind = acqErr.Kind
		}
		c.events.publish(Event{Kind: LocalMediaError, MediaError: kind, Err: err})
		return err
	}

	channel, err := signaling.Dial(ctx, c.cfg.ServerURL, c.cfg.AuthToken, signaling.Options{Logger: c.logger})
	if err != nil {
		local.Release()
		c.events.publish(Event{Kind: SignalingError, Err: err})
		return err
	}

	api, err := peer.NewAPI(c.cfg.IncludeLoopback, c.logger)
	if err != nil {
		channel.Close()
		local.Release()
		return fmt.Errorf("create webrtc api: %w", err)
	}

	c.local = local
	c.channel = channel
	c.streams = stream.NewReconciler(stream.Config{
		FallbackDelay: c.cfg.FallbackDelay,
		Dispatch:      c.queue.Push,
		OnReady:       c.onStreamReady,
		Logger:        c.logger,
	})
	c.peers = peer.NewManager(peer.Config{
		API:            api,
		Configuration:  peer.Configuration(c.cfg),
		ConnectTimeout: c.cfg.ConnectTimeout,
		Dispatch:       c.queue.Push,
		Signaler:       channel,
		Streams:        c.streams,
		OnStateChange:  c.onSessionState,
		OnError:        c.onPeerError,
		Logger:         c.logger,
	})
	c.peers.SetLocal(local)

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	go c.run()

	if err := channel.JoinRoom(c.roomID, c.name); err != nil {
		c.queue.Push(func() { c.signalJoined(err) })
	}
	return nil
}

// run is the event loop. Everything that touches sessions, streams or the
// roster runs here.
func (c *Controller) run() {
	defer close(c.loopDone)

	incoming := c.channel.Incoming()
	for {
		select {
		case msg, ok := <-incoming:
			if !ok {
				incoming = nil
				c.handleDisconnect()
				continue
			}
			c.handleMessage(msg)

		case <-c.queue.Ready():
			for _, fn := range c.queue.Drain() {
				fn()
			}
		}

		if c.stopping {
			return
		}
	}
}

func (c *Controller) handleMessage(msg *signaling.Message) {
	switch msg.Type {
	case signaling.TypeParticipantsList:
		var p signaling.ParticipantsListPayload
		if err := msg.Decode(&p); err != nil {
			c.protocolError(err)
			return
		}
		c.registry.SetSelf(p.Self)
		c.peers.SetSelf(p.Self)
		for _, participant := range c.registry.ApplyRoster(p.Participants) {
			c.addParticipant(participant)
		}
		c.signalJoined(nil)

	case signaling.TypeJoined:
		var p signaling.ParticipantInfo
		if err := msg.Decode(&p); err != nil {
			c.protocolError(err)
			return
		}
		if participant, ok := c.registry.Add(p.ID, p.Name); ok {
			c.addParticipant(participant)
		}

	case signaling.TypeLeft:
		var p signaling.LeftPayload
		if err := msg.Decode(&p); err != nil {
			c.protocolError(err)
			return
		}
		c.removeParticipant(p.ID)

	case signaling.TypeOffer:
		var p signaling.SDPPayload
		if err := msg.Decode(&p); err != nil || msg.From == "" {
			c.protocolError(fmt.Errorf("offer from %q: %v", msg.From, err))
			return
		}
		if participant, ok := c.registry.Add(msg.From, ""); ok {
			c.events.publish(Event{Kind: ParticipantJoined, ParticipantID: participant.ID})
		}
		if err := c.peers.HandleOffer(msg.From, p.SDP); err != nil {
			c.logger.Debug("Offer not answered", "participant", msg.From, "error", err)
		}

	case signaling.TypeAnswer:
		var p signaling.SDPPayload
		if err := msg.Decode(&p); err != nil {
			c.protocolError(err)
			return
		}
		if err := c.peers.HandleAnswer(msg.From, p.SDP); err != nil {
			c.logger.Debug("Answer not applied", "participant", msg.From, "error", err)
		}

	case signaling.TypeICECandidate:
		var p signaling.CandidatePayload
		if err := msg.Decode(&p); err != nil {
			c.protocolError(err)
			return
		}
		c.peers.HandleCandidate(msg.From, p.Candidate)

	case signaling.TypeError:
		var p signaling.ErrorPayload
		msg.Decode(&p)
		err := &signaling.Error{Kind: signaling.ProtocolViolation, Op: "relay", Err: errors.New(p.Error)}
		c.events.publish(Event{Kind: SignalingError, Err: err})
		c.signalJoined(err)

	default:
		c.logger.Debug("Ignoring message", "type", msg.Type)
	}
}

// addParticipant announces a participant and offers to it.
func (c *Controller) addParticipant(p room.Participant) {
	c.events.publish(Event{Kind: ParticipantJoined, ParticipantID: p.ID, Name: p.Name})
	if _, err := c.peers.Create(p.ID, peer.Offerer); err != nil {
		c.events.publish(Event{Kind: PeerError, ParticipantID: p.ID, Err: err})
	}
}

func (c *Controller) removeParticipant(id string) {
	c.peers.Close(id)
	if p, ok := c.registry.Remove(id); ok {
		c.events.publish(Event{Kind: ParticipantLeft, ParticipantID: p.ID, Name: p.Name})
	}
}

func (c *Controller) signalJoined(err error) {
	if c.joinSent {
		return
	}
	c.joinSent = true
	c.joined <- err
}

func (c *Controller) protocolError(err error) {
	var sigErr *signaling.Error
	if !errors.As(err, &sigErr) {
		err = &signaling.Error{Kind: signaling.ProtocolViolation, Op: "handle message", Err: err}
	}
	c.logger.Warn("Protocol violation", "error", err)
}

// handleDisconnect reports an unexpected loss of the relay. Sessions keep
// running; there is no reconnection.
func (c *Controller) handleDisconnect() {
	err := c.channel.Err()
	if err == nil {
		return
	}
	c.logger.Warn("Signaling disconnected", "error", err)
	c.events.publish(Event{Kind: SignalingError, Err: err})
	c.signalJoined(err)
}

// onSessionState forwards state changes. A session the manager closed on
// its own (negotiation or connectivity failure) takes its participant with it.
func (c *Controller) onSessionState(pid string, state peer.State) {
	c.events.publish(Event{Kind: ConnectionStateChanged, ParticipantID: pid, State: state})
	if state != peer.StateClosed || c.leaving {
		return
	}
	if p, ok := c.registry.Remove(pid); ok {
		c.events.publish(Event{Kind: ParticipantLeft, ParticipantID: p.ID, Name: p.Name})
	}
}

func (c *Controller) onPeerError(pid string, err error) {
	c.events.publish(Event{Kind: PeerError, ParticipantID: pid, Err: err})
}

func (c *Controller) onStreamReady(pid string, _ *stream.RemoteStream) {
	c.events.publish(Event{Kind: RemoteStreamReady, ParticipantID: pid})
}

// Leave sends leave, closes every session, releases local media and closes
// the signaling channel, in that order. Concurrent and repeated calls all
// return after the single teardown has finished.
func (c *Controller) Leave() {
	c.leaveOnce.Do(func() {
		c.mu.Lock()
		c.ended = true
		c.mu.Unlock()

		c.setupMu.Lock()
		defer c.setupMu.Unlock()

		c.mu.Lock()
		running := c.running
		c.mu.Unlock()

		if running {
			c.queue.Push(c.teardown)
			<-c.loopDone
		}

		c.mu.Lock()
		c.running = false
		c.mu.Unlock()

		c.events.close()
		close(c.left)
	})
	<-c.left
}

func (c *Controller) teardown() {
	c.leaving = true
	if err := c.channel.LeaveRoom(c.roomID); err != nil {
		c.logger.Debug("Leave not sent", "error", err)
	}
	c.peers.CloseAll()
	for _, p := range c.registry.List() {
		c.registry.Remove(p.ID)
	}
	c.local.Release()
	c.channel.Close()
	c.stopping = true
	c.logger.Info("Left room")
}

// do runs fn on the event loop and waits for it. It reports false when the
// loop is not running.
func (c *Controller) do(fn func()) bool {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if !running {
		return false
	}

	ran := make(chan struct{})
	c.queue.Push(func() {
		fn()
		close(ran)
	})
	select {
	case <-ran:
		return true
	case <-c.loopDone:
		return false
	}
}

// ToggleAudio flips the local audio track and tells every peer. No
// renegotiation happens.
func (c *Controller) ToggleAudio() (bool, error) {
	return c.toggle(webrtc.RTPCodecTypeAudio)
}

// ToggleVideo flips the local video track and tells every peer.
func (c *Controller) ToggleVideo() (bool, error) {
	return c.toggle(webrtc.RTPCodecTypeVideo)
}

func (c *Controller) toggle(kind webrtc.RTPCodecType) (bool, error) {
	var enabled bool
	ok := c.do(func() {
		if kind == webrtc.RTPCodecTypeAudio {
			enabled = c.local.ToggleAudio()
		} else {
			enabled = c.local.ToggleVideo()
		}
		c.peers.BroadcastTrackState(kind, enabled)
	})
	if !ok {
		return false, c.inactiveErr()
	}
	return enabled, nil
}

func (c *Controller) inactiveErr() error {
	if c.isEnded() {
		return ErrCallEnded
	}
	return ErrNotStarted
}

func (c *Controller) isEnded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// Participants returns the remote participants in join order.
func (c *Controller) Participants() []room.Participant {
	var out []room.Participant
	c.do(func() { out = c.registry.List() })
	return out
}

// SessionStates returns the state of every open peer session.
func (c *Controller) SessionStates() map[string]peer.State {
	out := map[string]peer.State{}
	c.do(func() { out = c.peers.States() })
	return out
}

// Stream returns the remote stream bound to a participant, or nil.
func (c *Controller) Stream(participantID string) *stream.RemoteStream {
	var s *stream.RemoteStream
	c.do(func() { s = c.streams.Stream(participantID) })
	return s
}

// SelfID is the id the relay assigned to us.
func (c *Controller) SelfID() string {
	var id string
	c.do(func() { id = c.registry.Self() })
	return id
}

// Local returns the local media session, or nil before Start.
func (c *Controller) Local() *media.LocalSession {
	c.setupMu.Lock()
	defer c.setupMu.Unlock()
	return c.local
}
