package peer

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	controlLabel = "control"
	controlID    = uint16(0)

	ControlTrackState = "track_state"
)

// ControlMessage is the envelope sent on the control data channel.
type ControlMessage struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// TrackStatePayload announces whether a local track is enabled.
type TrackStatePayload struct {
	Kind    string `msgpack:"kind"`
	Enabled bool   `msgpack:"enabled"`
}

// DecodePayload decodes the message payload into the provided struct
func (m ControlMessage) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// NewControlMessage creates a new ControlMessage with the given type and payload
func NewControlMessage(t string, payload any) (ControlMessage, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return ControlMessage{}, err
	}
	return ControlMessage{Type: t, Payload: b}, nil
}

func encodeTrackState(kind webrtc.RTPCodecType, enabled bool) ([]byte, error) {
	msg, err := NewControlMessage(ControlTrackState, TrackStatePayload{Kind: kind.String(), Enabled: enabled})
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(msg)
}

func decodeControl(data []byte) (ControlMessage, error) {
	var msg ControlMessage
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return ControlMessage{}, fmt.Errorf("decode control message: %w", err)
	}
	return msg, nil
}
