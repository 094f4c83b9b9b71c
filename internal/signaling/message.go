package signaling

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Message is the envelope for everything exchanged with the relay.
type Message struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id,omitempty"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants.
const (
	TypeJoin         = "join"
	TypeLeave        = "leave"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice_candidate"

	TypeParticipantsList = "participants_list"
	TypeJoined           = "joined"
	TypeLeft             = "left"
	TypeError            = "error"
)

// JoinPayload is sent with join.
type JoinPayload struct {
	Name string `json:"name"`
}

// ParticipantInfo identifies a room member.
type ParticipantInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ParticipantsListPayload is the relay's reply to join. Self is the id the
// relay assigned to the joiner; Participants are the members already present.
type ParticipantsListPayload struct {
	Self         string            `json:"self"`
	Participants []ParticipantInfo `json:"participants"`
}

// LeftPayload is broadcast when a member leaves.
type LeftPayload struct {
	ID string `json:"id"`
}

// SDPPayload carries an offer or answer.
type SDPPayload struct {
	SDP string `json:"sdp"`
}

// CandidatePayload carries one trickled ICE candidate.
type CandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// ErrorPayload represents error messages from the relay.
type ErrorPayload struct {
	Error string `json:"error"`
}

// NewMessage builds a message with an encoded payload.
func NewMessage(msgType string, payload any) (*Message, error) {
	msg := &Message{Type: msgType}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = b
	}
	return msg, nil
}

// Decode unmarshals the payload into v. A missing or malformed payload is
// a protocol violation.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return &Error{Kind: ProtocolViolation, Op: "decode " + m.Type, Err: errMissingPayload}
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return &Error{Kind: ProtocolViolation, Op: "decode " + m.Type, Err: err}
	}
	return nil
}
