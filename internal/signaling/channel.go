package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 64 * 1024
	handshakeTimeout = 10 * time.Second
	queueSize        = 64
)

// Options tune Dial.
type Options struct {
	Logger *slog.Logger

	// SystemResolver skips the public DNS fallback and dials hostnames as is.
	SystemResolver bool
}

// Channel is a websocket connection to the signaling relay.
type Channel struct {
	conn     *websocket.Conn
	endpoint string
	logger   *slog.Logger

	incoming chan *Message
	outgoing chan *Message

	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once

	mu  sync.Mutex
	err error
}

// Dial opens the websocket and starts the read and write pumps. The token,
// when set, is sent as a bearer Authorization header. Dial never retries.
func Dial(ctx context.Context, endpoint, token string, opts Options) (*Channel, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, &Error{Kind: ConnectFailed, Op: "dial", Err: fmt.Errorf("invalid server URL: %w", err)}
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	if !opts.SystemResolver {
		dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ip, err := lookup(ctx, host)
			if err != nil {
				return nil, fmt.Errorf("dns lookup failed: %w", err)
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
		}
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		connErr := &ConnectionError{Endpoint: endpoint, Err: err}
		if resp != nil {
			connErr.StatusCode = resp.StatusCode
			resp.Body.Close()
		}
		return nil, &Error{Kind: ConnectFailed, Op: "dial", Err: connErr}
	}

	c := &Channel{
		conn:       conn,
		endpoint:   endpoint,
		logger:     logger.With("component", "signaling"),
		incoming:   make(chan *Message, queueSize),
		outgoing:   make(chan *Message, queueSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

// readPump decodes messages until the socket fails or the channel is closed.
func (c *Channel) readPump() {
	var readErr error
	defer func() {
		c.shutdown(&Error{Kind: Disconnected, Op: "read", Err: readErr})
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			readErr = err
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			c.logger.Warn("Dropping malformed message", "error", err)
			continue
		}

		select {
		case c.incoming <- &msg:
		case <-c.done:
			readErr = ErrClosed
			return
		}
	}
}

// writePump writes queued messages and sends periodic pings. On close it
// flushes whatever is still queued before the close frame.
func (c *Channel) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case msg := <-c.outgoing:
			if err := c.write(msg); err != nil {
				c.shutdown(&Error{Kind: Disconnected, Op: "write", Err: err})
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(&Error{Kind: Disconnected, Op: "ping", Err: err})
				return
			}

		case <-c.done:
			if err := c.flush(); err != nil {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Channel) flush() error {
	for {
		select {
		case msg := <-c.outgoing:
			if err := c.write(msg); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (c *Channel) write(msg *Message) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *Channel) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

// Send queues a message for the write pump.
func (c *Channel) Send(msg *Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// JoinRoom asks the relay to add us to roomID. The relay answers with
// participants_list.
func (c *Channel) JoinRoom(roomID, displayName string) error {
	msg, err := NewMessage(TypeJoin, JoinPayload{Name: displayName})
	if err != nil {
		return err
	}
	msg.RoomID = roomID
	return c.Send(msg)
}

// Relay sends an offer, answer or ICE candidate to exactly one participant.
func (c *Channel) Relay(msgType, to string, payload any) error {
	switch msgType {
	case TypeOffer, TypeAnswer, TypeICECandidate:
	default:
		return &Error{Kind: ProtocolViolation, Op: "relay", Err: fmt.Errorf("type %q is not relayable", msgType)}
	}
	if to == "" {
		return &Error{Kind: ProtocolViolation, Op: "relay", Err: fmt.Errorf("%s without addressee", msgType)}
	}

	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	msg.To = to
	return c.Send(msg)
}

// LeaveRoom tells the relay we are leaving roomID.
func (c *Channel) LeaveRoom(roomID string) error {
	return c.Send(&Message{Type: TypeLeave, RoomID: roomID})
}

// Incoming yields decoded messages. It is closed when the socket drops or
// Close is called.
func (c *Channel) Incoming() <-chan *Message {
	return c.incoming
}

// Err reports why the channel went down. It is nil while the channel is
// open and after a local Close.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close flushes queued messages, sends a close frame and waits for the
// write pump to finish. Safe to call more than once.
func (c *Channel) Close() {
	c.shutdown(nil)
	<-c.writerDone
}
