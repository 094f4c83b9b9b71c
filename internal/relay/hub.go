package relay

import (
	"context"
	"log/slog"

	"github.com/BioHazard786/warpmesh/internal/metrics"
	"github.com/BioHazard786/warpmesh/internal/signaling"
	"github.com/google/uuid"
)

type inbound struct {
	client *Client
	msg    *signaling.Message
}

// Hub owns every room and client. All state is touched only by Run.
type Hub struct {
	rooms   map[string]*Room
	clients map[*Client]bool

	register    chan *Client
	unregisters chan *Client
	inbox       chan *inbound
	done        chan struct{}

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:       make(map[string]*Room),
		clients:     make(map[*Client]bool),
		register:    make(chan *Client),
		unregisters: make(chan *Client),
		inbox:       make(chan *inbound),
		done:        make(chan struct{}),
		logger:      logger.With("component", "relay"),
	}
}

// newClient assigns a fresh participant id.
func (h *Hub) newClient() *Client {
	return &Client{
		Hub:  h,
		ID:   uuid.NewString(),
		Send: make(chan *signaling.Message, sendBuffer),
	}
}

// Register hands a connected client to the hub. It reports false once the
// hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.unregisters <- c:
	case <-h.done:
	}
}

func (h *Hub) broadcast(in *inbound) bool {
	select {
	case h.inbox <- in:
		return true
	case <-h.done:
		return false
	}
}

// Run processes registrations and messages until ctx is done. Every
// client's send channel is closed on the way out.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			close(c.Send)
		}
		metrics.RelayClients.Set(0)
		metrics.RelayRooms.Set(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = true
			metrics.RelayClients.Inc()
			h.logger.Debug("Client registered", "client", c.ID, "addr", c.Conn.RemoteAddr().String())

		case c := <-h.unregisters:
			if !h.clients[c] {
				continue
			}
			h.leave(c)
			delete(h.clients, c)
			close(c.Send)
			metrics.RelayClients.Dec()
			h.logger.Debug("Client unregistered", "client", c.ID)

		case in := <-h.inbox:
			h.handle(in.client, in.msg)
		}
	}
}

func (h *Hub) handle(c *Client, msg *signaling.Message) {
	if msg == nil {
		metrics.RelayMessagesTotal.WithLabelValues("malformed").Inc()
		h.deliver(c, errorMessage("malformed message"))
		return
	}
	metrics.RelayMessagesTotal.WithLabelValues(msg.Type).Inc()

	switch msg.Type {
	case signaling.TypeJoin:
		h.join(c, msg)

	case signaling.TypeLeave:
		h.leave(c)

	case signaling.TypeOffer, signaling.TypeAnswer, signaling.TypeICECandidate:
		h.forward(c, msg)

	default:
		h.logger.Debug("Unknown message type", "client", c.ID, "type", msg.Type)
		h.deliver(c, errorMessage("unknown message type: "+msg.Type))
	}
}

// join adds c to the room, replies with the members already present and
// tells each of them about c.
func (h *Hub) join(c *Client, msg *signaling.Message) {
	if msg.RoomID == "" {
		h.deliver(c, errorMessage("room_id is required"))
		return
	}
	if c.RoomID != "" {
		h.deliver(c, errorMessage("already in room "+c.RoomID))
		return
	}

	var p signaling.JoinPayload
	if len(msg.Payload) > 0 {
		if err := msg.Decode(&p); err != nil {
			h.deliver(c, errorMessage("malformed join payload"))
			return
		}
	}

	room, ok := h.rooms[msg.RoomID]
	if !ok {
		room = &Room{ID: msg.RoomID}
		h.rooms[room.ID] = room
		metrics.RelayRooms.Set(float64(len(h.rooms)))
		h.logger.Info("Room created", "room", room.ID)
	}

	existing := make([]signaling.ParticipantInfo, 0, len(room.members))
	for _, m := range room.members {
		existing = append(existing, signaling.ParticipantInfo{ID: m.ID, Name: m.Name})
	}

	c.Name = p.Name
	c.RoomID = room.ID
	room.add(c)

	reply, _ := signaling.NewMessage(signaling.TypeParticipantsList, signaling.ParticipantsListPayload{
		Self:         c.ID,
		Participants: existing,
	})
	reply.RoomID = room.ID
	h.deliver(c, reply)

	joined, _ := signaling.NewMessage(signaling.TypeJoined, signaling.ParticipantInfo{ID: c.ID, Name: c.Name})
	joined.RoomID = room.ID
	joined.From = c.ID
	for _, m := range room.members {
		if m != c {
			h.deliver(m, joined)
		}
	}

	h.logger.Info("Client joined room", "client", c.ID, "name", c.Name, "room", room.ID, "members", len(room.members))
}

// leave removes c from its room and tells the rest. Empty rooms are deleted.
func (h *Hub) leave(c *Client) {
	if c.RoomID == "" {
		return
	}
	room, ok := h.rooms[c.RoomID]
	c.RoomID = ""
	if !ok || !room.remove(c) {
		return
	}

	if room.empty() {
		delete(h.rooms, room.ID)
		metrics.RelayRooms.Set(float64(len(h.rooms)))
		h.logger.Info("Room deleted", "room", room.ID)
		return
	}

	left, _ := signaling.NewMessage(signaling.TypeLeft, signaling.LeftPayload{ID: c.ID})
	left.RoomID = room.ID
	left.From = c.ID
	for _, m := range room.members {
		h.deliver(m, left)
	}
	h.logger.Info("Client left room", "client", c.ID, "room", room.ID)
}

// forward relays a directed message to one member of the sender's room,
// stamping the sender's id.
func (h *Hub) forward(c *Client, msg *signaling.Message) {
	if c.RoomID == "" {
		h.deliver(c, errorMessage("you must join a room first"))
		return
	}
	room := h.rooms[c.RoomID]
	target := room.member(msg.To)
	if target == nil || target == c {
		h.logger.Debug("Relay target not found", "client", c.ID, "to", msg.To, "type", msg.Type)
		h.deliver(c, errorMessage("participant not found: "+msg.To))
		return
	}

	out := *msg
	out.From = c.ID
	out.RoomID = room.ID
	h.deliver(target, &out)
}

// deliver queues msg for c without blocking the hub. A client that cannot
// keep up loses the message.
func (h *Hub) deliver(c *Client, msg *signaling.Message) {
	select {
	case c.Send <- msg:
	default:
		h.logger.Warn("Client send buffer full, dropping message", "client", c.ID, "type", msg.Type)
	}
}
