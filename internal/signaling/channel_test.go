package signaling

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/warpmesh/internal/logging"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// newServer runs handle for every accepted websocket. Connections without
// the expected bearer token are rejected with 401.
func newServer(t *testing.T, token string, handle func(conn *websocket.Conn)) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, endpoint, token string) *Channel {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := Dial(ctx, endpoint, token, Options{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(ch.Close)
	return ch
}

func receive(t *testing.T, ch *Channel) *Message {
	t.Helper()
	select {
	case msg, ok := <-ch.Incoming():
		if !ok {
			t.Fatal("incoming closed")
		}
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return nil
}

func TestDialRejected(t *testing.T) {
	endpoint := newServer(t, "secret", func(*websocket.Conn) {})

	_, err := Dial(context.Background(), endpoint, "wrong", Options{Logger: logging.Discard()})

	var sigErr *Error
	if !errors.As(err, &sigErr) || sigErr.Kind != ConnectFailed {
		t.Fatalf("expected ConnectFailed, got %v", err)
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if connErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", connErr.StatusCode)
	}
}

func TestDialUnreachable(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/ws", "", Options{Logger: logging.Discard()})

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if connErr.StatusCode != 0 {
		t.Errorf("status = %d, want 0", connErr.StatusCode)
	}
}

func TestJoinRoomRoundTrip(t *testing.T) {
	got := make(chan Message, 1)
	endpoint := newServer(t, "secret", func(conn *websocket.Conn) {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		got <- msg

		reply, _ := NewMessage(TypeParticipantsList, ParticipantsListPayload{
			Self:         "b",
			Participants: []ParticipantInfo{{ID: "a", Name: "alice"}},
		})
		conn.WriteJSON(reply)
		conn.ReadMessage()
	})

	ch := dial(t, endpoint, "secret")
	if err := ch.JoinRoom("proj-1", "bob"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	select {
	case msg := <-got:
		if msg.Type != TypeJoin || msg.RoomID != "proj-1" {
			t.Errorf("unexpected join message: %+v", msg)
		}
		var p JoinPayload
		if err := msg.Decode(&p); err != nil || p.Name != "bob" {
			t.Errorf("join payload = %+v, %v", p, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never received join")
	}

	msg := receive(t, ch)
	var list ParticipantsListPayload
	if err := msg.Decode(&list); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if list.Self != "b" || len(list.Participants) != 1 || list.Participants[0].ID != "a" {
		t.Errorf("unexpected roster: %+v", list)
	}
}

func TestRelayValidation(t *testing.T) {
	endpoint := newServer(t, "", func(conn *websocket.Conn) { conn.ReadMessage() })
	ch := dial(t, endpoint, "")

	var sigErr *Error
	if err := ch.Relay(TypeJoin, "a", nil); !errors.As(err, &sigErr) || sigErr.Kind != ProtocolViolation {
		t.Errorf("relaying join should be a protocol violation, got %v", err)
	}
	if err := ch.Relay(TypeOffer, "", SDPPayload{SDP: "v=0"}); !errors.As(err, &sigErr) {
		t.Errorf("relay without addressee should fail, got %v", err)
	}
	if err := ch.Relay(TypeOffer, "a", SDPPayload{SDP: "v=0"}); err != nil {
		t.Errorf("Relay: %v", err)
	}
}

func TestLeaveFlushedBeforeClose(t *testing.T) {
	got := make(chan []string, 1)
	endpoint := newServer(t, "", func(conn *websocket.Conn) {
		var types []string
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				got <- types
				return
			}
			types = append(types, msg.Type)
		}
	})

	ch := dial(t, endpoint, "")
	ch.Relay(TypeAnswer, "a", SDPPayload{SDP: "v=0"})
	ch.LeaveRoom("proj-1")
	ch.Close()
	ch.Close()

	select {
	case types := <-got:
		if len(types) != 2 || types[0] != TypeAnswer || types[1] != TypeLeave {
			t.Errorf("server saw %v", types)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw close")
	}

	if err := ch.Send(&Message{Type: TypeLeave}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
	if ch.Err() != nil {
		t.Errorf("local close should not record an error, got %v", ch.Err())
	}
}

func TestServerDropReported(t *testing.T) {
	endpoint := newServer(t, "", func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		conn.WriteJSON(&Message{Type: TypeLeft, Payload: []byte(`{"id":"a"}`)})
	})

	ch := dial(t, endpoint, "")

	msg := receive(t, ch)
	if msg.Type != TypeLeft {
		t.Fatalf("malformed frame should be skipped, got %+v", msg)
	}

	select {
	case _, ok := <-ch.Incoming():
		if ok {
			t.Fatal("expected incoming to close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("incoming never closed")
	}

	var sigErr *Error
	if !errors.As(ch.Err(), &sigErr) || sigErr.Kind != Disconnected {
		t.Errorf("Err = %v, want Disconnected", ch.Err())
	}
}

func TestDecodeMissingPayload(t *testing.T) {
	msg := &Message{Type: TypeJoined}
	var info ParticipantInfo

	var sigErr *Error
	if err := msg.Decode(&info); !errors.As(err, &sigErr) || sigErr.Kind != ProtocolViolation {
		t.Errorf("expected ProtocolViolation, got %v", err)
	}
}
