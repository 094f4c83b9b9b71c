package peer

import "github.com/pion/webrtc/v4"

// candidateQueue holds remote ICE candidates that arrived before a remote
// description was set.
type candidateQueue struct {
	pending []webrtc.ICECandidateInit
}

func (q *candidateQueue) Push(c webrtc.ICECandidateInit) {
	q.pending = append(q.pending, c)
}

func (q *candidateQueue) Len() int {
	return len(q.pending)
}

// Flush hands every queued candidate to apply in arrival order and empties
// the queue. Errors from apply are collected, not fatal.
func (q *candidateQueue) Flush(apply func(webrtc.ICECandidateInit) error) []error {
	pending := q.pending
	q.pending = nil

	var errs []error
	for _, c := range pending {
		if err := apply(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
