// Package relay implements the message relay server: it tracks two-member
// rooms keyed by short session keys and blindly forwards call signaling
// between the members. It never interprets SDP, candidates or call control
// beyond routing.
package relay

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pairlink/pairlink/internal/core"
	"github.com/pairlink/pairlink/internal/domain"
)

const maxRoomMembers = 2

type member struct {
	sid  core.SessionID
	conn core.SignalConnection
}

// room keeps members in join order; the first occupant becomes the caller
// when the room fills.
type room struct {
	key     domain.Key
	members []member
	created time.Time
}

// Registry is the threadsafe in-memory key → room map.
// It never closes adapter-owned connections.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.Key]*room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[domain.Key]*room)}
}

// GenerateKey creates an empty room under a fresh key and returns it.
func (r *Registry) GenerateKey() domain.Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := domain.NewKey()
	for _, taken := r.rooms[key]; taken; _, taken = r.rooms[key] {
		key = domain.NewKey()
	}
	r.rooms[key] = &room{key: key, created: time.Now()}
	log.Info().Str("module", "relay.registry").Str("key", string(key)).Msg("key generated")
	return key
}

// Join adds sid to the room. It returns the member count after joining and,
// when the room just filled, the connection of the first occupant so the
// controller can tell it to start the transport negotiation.
func (r *Registry) Join(key domain.Key, sid core.SessionID, conn core.SignalConnection) (peers int, first core.SignalConnection, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[key]
	if !ok {
		return 0, nil, &domain.JoinError{Reason: domain.JoinNotFound}
	}
	for _, m := range rm.members {
		if m.sid == sid {
			// Rejoin of the same client is a no-op, not a second member.
			return len(rm.members), nil, nil
		}
	}
	if len(rm.members) >= maxRoomMembers {
		return 0, nil, &domain.JoinError{Reason: domain.JoinFull}
	}

	rm.members = append(rm.members, member{sid: sid, conn: conn})
	log.Info().Str("module", "relay.registry").Str("key", string(key)).Str("sid", string(sid)).Int("peers", len(rm.members)).Msg("member joined")

	if len(rm.members) == maxRoomMembers {
		first = rm.members[0].conn
	}
	return len(rm.members), first, nil
}

// Leave removes sid from the room and returns the connections of anyone
// left behind, so the controller can notify them. Empty rooms are reaped.
func (r *Registry) Leave(key domain.Key, sid core.SessionID) []core.SignalConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(key, sid)
}

func (r *Registry) leaveLocked(key domain.Key, sid core.SessionID) []core.SignalConnection {
	rm, ok := r.rooms[key]
	if !ok {
		return nil
	}
	kept := rm.members[:0]
	found := false
	for _, m := range rm.members {
		if m.sid == sid {
			found = true
			continue
		}
		kept = append(kept, m)
	}
	if !found {
		return nil
	}
	rm.members = kept
	log.Info().Str("module", "relay.registry").Str("key", string(key)).Str("sid", string(sid)).Msg("member left")

	if len(rm.members) == 0 {
		delete(r.rooms, key)
		log.Info().Str("module", "relay.registry").Str("key", string(key)).Msg("room reaped")
		return nil
	}
	out := make([]core.SignalConnection, 0, len(rm.members))
	for _, m := range rm.members {
		out = append(out, m.conn)
	}
	return out
}

// Disconnect behaves like Leave for every room sid is in; a dropped socket
// and an explicit leave_key are the same event for the peer.
func (r *Registry) Disconnect(sid core.SessionID) []core.SignalConnection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []core.SignalConnection
	for key, rm := range r.rooms {
		for _, m := range rm.members {
			if m.sid == sid {
				out = append(out, r.leaveLocked(key, sid)...)
				break
			}
		}
	}
	return out
}

// RoomMate returns the other member's connection, if both are present.
func (r *Registry) RoomMate(key domain.Key, sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[key]
	if !ok {
		return nil, false
	}
	for _, m := range rm.members {
		if m.sid != sid {
			return m.conn, true
		}
	}
	return nil, false
}

// MemberCount reports the current room occupancy, zero for unknown keys.
func (r *Registry) MemberCount(key domain.Key) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[key]
	if !ok {
		return 0
	}
	return len(rm.members)
}
