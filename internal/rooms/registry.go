// Package rooms implements the room registry: the shared, lifecycle-scoped
// store mapping room identifiers to their current members.
//
// Mutations on a single room are serialized by that room's mutex; different
// rooms proceed independently. The registry's own mutex guards only the room
// table and is never held across a room mutation. No operation blocks on I/O:
// every call completes in bounded time, and callers are expected to perform
// any sends outside the registry using the Member snapshots it returns.
package rooms

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrEmptyRoomID = errors.New("rooms: room id must not be empty")
	ErrRoomFull    = errors.New("rooms: room is full")
	// ErrNotFound covers both an unknown room and an unknown participant
	// within a known room.
	ErrNotFound = errors.New("rooms: not found")
)

type room struct {
	mu      sync.Mutex
	id      string
	members map[string]*Member

	// closed is set, with both the registry and room mutexes held, when the
	// room is removed from the table. Joins that raced the removal observe it
	// and retry against a fresh table entry.
	closed bool
}

// Registry tracks which participants are in which room.
//
// The zero value is not usable; construct with NewRegistry. Multiple
// independent registries may coexist in one process (each service instance,
// and each test, owns its own).
type Registry struct {
	maxParticipants int

	mu    sync.Mutex
	rooms map[string]*room
}

// Options configures a Registry.
type Options struct {
	// MaxParticipants caps the member count per room. <= 0 means unlimited.
	MaxParticipants int
}

func NewRegistry(opts Options) *Registry {
	return &Registry{
		maxParticipants: opts.MaxParticipants,
		rooms:           make(map[string]*room),
	}
}

// Joined describes the outcome of a successful Join.
type Joined struct {
	Self Participant

	// Others is the member list as of the instant before the join was
	// committed. It doubles as the broadcast target set for the join event,
	// so presence notifications cannot race the membership change.
	Others []Member

	// CreatedRoom reports whether this join created the room. At most one of
	// any set of concurrent joins to the same room observes true.
	CreatedRoom bool
}

// Join adds a participant to a room, creating the room on first join.
//
// The requested participant identifier is reused when free; a colliding or
// absent identifier results in a freshly minted UUID, never an error.
func (r *Registry) Join(roomID string, p Profile, conn Conn) (Joined, error) {
	if strings.TrimSpace(roomID) == "" {
		return Joined{}, ErrEmptyRoomID
	}

	for {
		r.mu.Lock()
		rm, created := r.rooms[roomID], false
		if rm == nil {
			rm = &room{id: roomID, members: make(map[string]*Member)}
			r.rooms[roomID] = rm
			created = true
		}
		r.mu.Unlock()

		rm.mu.Lock()
		if rm.closed {
			// Lost a race with the last member leaving. The table entry is
			// gone; take another pass and create a fresh room.
			rm.mu.Unlock()
			continue
		}

		if r.maxParticipants > 0 && len(rm.members) >= r.maxParticipants {
			rm.mu.Unlock()
			return Joined{}, fmt.Errorf("%w: %s has %d participants", ErrRoomFull, roomID, r.maxParticipants)
		}

		id := p.ParticipantID
		if id == "" || rm.members[id] != nil {
			id = uuid.NewString()
		}

		self := Participant{
			ID:          id,
			DisplayName: p.DisplayName,
			AvatarRef:   p.AvatarRef,
		}
		others := snapshotLocked(rm, "")
		rm.members[id] = &Member{Participant: self, Conn: conn}
		rm.mu.Unlock()

		return Joined{Self: self, Others: others, CreatedRoom: created}, nil
	}
}

// Left describes the outcome of a Leave.
type Left struct {
	// Removed is false when the (room, participant) pair was already gone;
	// leaving twice is a no-op, not an error.
	Removed bool

	// RoomDeleted reports whether this departure emptied the room and removed
	// it from the table.
	RoomDeleted bool

	// Others is the surviving member list, snapshotted atomically with the
	// removal, for departure broadcasts.
	Others []Member
}

// Leave removes a participant. Idempotent.
func (r *Registry) Leave(roomID, participantID string) Left {
	rm := r.lookup(roomID)
	if rm == nil {
		return Left{}
	}

	rm.mu.Lock()
	if rm.closed || rm.members[participantID] == nil {
		rm.mu.Unlock()
		return Left{}
	}
	delete(rm.members, participantID)
	empty := len(rm.members) == 0
	others := snapshotLocked(rm, "")
	rm.mu.Unlock()

	res := Left{Removed: true, Others: others}
	if empty {
		res.RoomDeleted = r.removeIfEmpty(roomID, rm)
	}
	return res
}

// removeIfEmpty deletes the room table entry if the room is still empty.
// Locks are taken registry-first to match Join, so the emptiness observed
// above is re-checked: a join may have landed in between, in which case the
// room simply stays.
func (r *Registry) removeIfEmpty(roomID string, rm *room) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.closed || len(rm.members) > 0 || r.rooms[roomID] != rm {
		return false
	}
	rm.closed = true
	delete(r.rooms, roomID)
	return true
}

// Updated describes the outcome of an UpdateState.
type Updated struct {
	Self   Participant
	Others []Member
}

// UpdateState merges a partial media-state update into the participant's
// snapshot and returns the co-member list for broadcasting.
func (r *Registry) UpdateState(roomID, participantID string, upd StateUpdate) (Updated, error) {
	rm := r.lookup(roomID)
	if rm == nil {
		return Updated{}, fmt.Errorf("%w: room %q", ErrNotFound, roomID)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	m := rm.members[participantID]
	if rm.closed || m == nil {
		return Updated{}, fmt.Errorf("%w: participant %q in room %q", ErrNotFound, participantID, roomID)
	}
	m.State = upd.apply(m.State)
	return Updated{Self: m.Participant, Others: snapshotLocked(rm, participantID)}, nil
}

// Members returns a snapshot of the room's current members. A missing room
// yields an empty list.
func (r *Registry) Members(roomID string) []Member {
	rm := r.lookup(roomID)
	if rm == nil {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed {
		return nil
	}
	return snapshotLocked(rm, "")
}

// Member returns the snapshot of one member, for targeted forwarding.
func (r *Registry) Member(roomID, participantID string) (Member, bool) {
	rm := r.lookup(roomID)
	if rm == nil {
		return Member{}, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	m := rm.members[participantID]
	if rm.closed || m == nil {
		return Member{}, false
	}
	return *m, true
}

// Stats is a point-in-time count of live rooms and participants, served on
// the health endpoint.
type Stats struct {
	Rooms        int `json:"activeRooms"`
	Participants int `json:"activeParticipants"`
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	roomsSnap := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		roomsSnap = append(roomsSnap, rm)
	}
	r.mu.Unlock()

	st := Stats{}
	for _, rm := range roomsSnap {
		rm.mu.Lock()
		if !rm.closed {
			st.Rooms++
			st.Participants += len(rm.members)
		}
		rm.mu.Unlock()
	}
	return st
}

func (r *Registry) lookup(roomID string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[roomID]
}

// snapshotLocked copies the member set, excluding excludeID when non-empty.
// Callers hold rm.mu.
func snapshotLocked(rm *room, excludeID string) []Member {
	out := make([]Member, 0, len(rm.members))
	for id, m := range rm.members {
		if excludeID != "" && id == excludeID {
			continue
		}
		out = append(out, *m)
	}
	return out
}
