package peer

// State of one peer session.
type State int

const (
	StateIdle State = iota
	StateOffering
	StateAnswering
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "negotiating(offering)"
	case StateAnswering:
		return "negotiating(answering)"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Negotiating reports whether an offer/answer exchange is in progress.
func (s State) Negotiating() bool {
	return s == StateOffering || s == StateAnswering
}

// Role is the side a session took in its current negotiation.
type Role int

const (
	Offerer Role = iota
	Answerer
)

func (r Role) String() string {
	if r == Answerer {
		return "answerer"
	}
	return "offerer"
}
