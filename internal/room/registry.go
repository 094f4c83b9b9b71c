package room

import (
	"time"

	"github.com/BioHazard786/warpmesh/internal/signaling"
)

// Participant is a remote member of the room.
type Participant struct {
	ID       string
	Name     string
	JoinedAt time.Time
}

// Registry is the ordered roster of one room. It is not safe for concurrent
// use; the call controller only touches it from its event loop.
type Registry struct {
	id      string
	selfID  string
	order   []string
	members map[string]*Participant
	now     func() time.Time
}

func NewRegistry(roomID string) *Registry {
	return &Registry{
		id:      roomID,
		members: make(map[string]*Participant),
		now:     time.Now,
	}
}

func (r *Registry) ID() string {
	return r.id
}

// SetSelf records the id the relay assigned to us. That id is never added
// as a participant.
func (r *Registry) SetSelf(id string) {
	r.selfID = id
}

func (r *Registry) Self() string {
	return r.selfID
}

// ApplyRoster adds every listed participant not already known and returns
// the newly added ones in roster order.
func (r *Registry) ApplyRoster(infos []signaling.ParticipantInfo) []Participant {
	var added []Participant
	for _, info := range infos {
		if p, ok := r.Add(info.ID, info.Name); ok {
			added = append(added, p)
		}
	}
	return added
}

// Add inserts a participant at the end of the join order. It reports false
// when the id is empty, is ours, or is already present. A known participant
// that was added without a name picks up the one given here.
func (r *Registry) Add(id, name string) (Participant, bool) {
	if id == "" || id == r.selfID {
		return Participant{}, false
	}
	if p, ok := r.members[id]; ok {
		if p.Name == "" {
			p.Name = name
		}
		return *p, false
	}

	p := &Participant{ID: id, Name: name, JoinedAt: r.now()}
	r.members[id] = p
	r.order = append(r.order, id)
	return *p, true
}

// Remove deletes a participant and reports whether it was present.
func (r *Registry) Remove(id string) (Participant, bool) {
	p, ok := r.members[id]
	if !ok {
		return Participant{}, false
	}
	delete(r.members, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return *p, true
}

func (r *Registry) Get(id string) (Participant, bool) {
	p, ok := r.members[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// List returns participants in join order.
func (r *Registry) List() []Participant {
	out := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.members[id])
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.order)
}
