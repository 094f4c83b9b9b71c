package peer

import (
	"errors"
	"fmt"
)

var ErrNoLocalMedia = errors.New("no local media")

// NegotiationKind classifies offer/answer failures.
type NegotiationKind int

const (
	GlareUnresolved NegotiationKind = iota
	InvalidState
	RemoteDescriptionRejected
)

func (k NegotiationKind) String() string {
	switch k {
	case GlareUnresolved:
		return "glare_unresolved"
	case InvalidState:
		return "invalid_state"
	case RemoteDescriptionRejected:
		return "remote_description_rejected"
	default:
		return "unknown"
	}
}

type NegotiationError struct {
	Kind        NegotiationKind
	Participant string
	Op          string
	Err         error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiate with %s: %s (%s): %v", e.Participant, e.Op, e.Kind, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// ConnectivityKind classifies why a session could not connect.
type ConnectivityKind int

const (
	IceFailed ConnectivityKind = iota
	Timeout
)

func (k ConnectivityKind) String() string {
	if k == Timeout {
		return "timeout"
	}
	return "ice_failed"
}

// ConnectivityError is reported for one participant after the single
// renegotiation attempt also failed. It never affects other sessions.
type ConnectivityError struct {
	Kind        ConnectivityKind
	Participant string
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connect to %s: %s after renegotiation", e.Participant, e.Kind)
}
