// Package session tracks membership in a relay room: key generation,
// joining, leaving and the peer-presence events that bracket everything
// the call layer does.
package session

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/pairlink/pairlink/internal/core"
	"github.com/pairlink/pairlink/internal/domain"
	"github.com/pairlink/pairlink/internal/protocol"
)

// Sender is the outbound relay half the coordinator drives.
type Sender interface {
	Send(*protocol.Message) error
}

// Hooks are the coordinator's outbound edges. Established fires once the
// relay confirms our membership and the role is fixed; PeerLeft and
// JoinFailed fire on the corresponding relay notices. Nil hooks are
// skipped.
type Hooks struct {
	OnEstablished func(key domain.Key, role domain.Role)
	OnPeerJoined  func(key domain.Key)
	OnPeerLeft    func(key domain.Key)
	OnJoinFailed  func(reason domain.JoinReason)
}

// Coordinator owns the local session record. At most one session exists
// at a time; generate implies an automatic join of the fresh key.
type Coordinator struct {
	relay  Sender
	notify core.Notifier
	hooks  Hooks

	mu      sync.Mutex
	current *domain.Session
}

func NewCoordinator(relay Sender, notify core.Notifier, hooks Hooks) *Coordinator {
	return &Coordinator{relay: relay, notify: notify, hooks: hooks}
}

// Current returns a copy of the active session, or nil.
func (c *Coordinator) Current() *domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	s := *c.current
	return &s
}

// GenerateKey asks the relay to mint a fresh room. The relay answers with
// key_generated and the coordinator joins it automatically.
func (c *Coordinator) GenerateKey() error {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return domain.ErrSessionActive
	}
	c.mu.Unlock()
	return c.relay.Send(&protocol.Message{Type: protocol.TypeGenerateKey})
}

// JoinKey asks to join an existing room. The raw key is normalized before
// it touches the wire, so pasted lowercase keys work.
func (c *Coordinator) JoinKey(raw string) error {
	key := domain.NormalizeKey(raw)
	if len(key) != domain.KeyLength {
		c.notify.Notice("Invalid key.")
		return &domain.JoinError{Reason: domain.JoinNotFound}
	}
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return domain.ErrSessionActive
	}
	c.mu.Unlock()
	return c.relay.Send(&protocol.Message{Type: protocol.TypeJoinKey, Key: key})
}

// Leave abandons the current session. The relay notifies the other member
// with peer_left; nothing else needs to be said.
func (c *Coordinator) Leave() error {
	c.mu.Lock()
	s := c.current
	c.current = nil
	c.mu.Unlock()
	if s == nil {
		return domain.ErrNoSession
	}
	c.notify.Notice("Left the session.")
	return c.relay.Send(&protocol.Message{Type: protocol.TypeLeaveKey, Key: s.Key})
}

// HandleKeyGenerated completes the generate flow by joining the minted key.
func (c *Coordinator) HandleKeyGenerated(key domain.Key) {
	c.notify.Notice("Your key: " + string(key))
	if err := c.relay.Send(&protocol.Message{Type: protocol.TypeJoinKey, Key: key}); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("auto-join after generate failed")
	}
}

// HandleJoined records the confirmed membership. The member count in the
// confirmation fixes the role for the life of the session: first occupant
// is the caller.
func (c *Coordinator) HandleJoined(key domain.Key, peers int) {
	role := domain.RoleForPeers(peers)

	c.mu.Lock()
	c.current = &domain.Session{Key: key, Role: role, Members: peers}
	c.mu.Unlock()

	log.Info().Str("module", "session").Str("key", string(key)).Str("role", role.String()).Msg("session established")
	if role == domain.RoleCaller {
		c.notify.Notice("You are the host. Waiting for a peer...")
	} else {
		c.notify.Notice("Joined as peer.")
	}
	if c.hooks.OnEstablished != nil {
		c.hooks.OnEstablished(key, role)
	}
}

// HandleJoinError surfaces a rejected join. No session state existed yet.
func (c *Coordinator) HandleJoinError(reason string) {
	r := domain.JoinReason(reason)
	switch r {
	case domain.JoinNotFound:
		c.notify.Notice("Key not found.")
	case domain.JoinFull:
		c.notify.Notice("Session is full.")
	default:
		r = domain.JoinUnknown
		c.notify.Notice("Could not join: " + reason)
	}
	if c.hooks.OnJoinFailed != nil {
		c.hooks.OnJoinFailed(r)
	}
}

// HandlePeerJoined updates the member count on the caller side.
func (c *Coordinator) HandlePeerJoined() {
	c.mu.Lock()
	s := c.current
	if s != nil {
		s.Members = 2
	}
	c.mu.Unlock()
	if s == nil {
		return
	}
	c.notify.Notice("Peer connected.")
	if c.hooks.OnPeerJoined != nil {
		c.hooks.OnPeerJoined(s.Key)
	}
}

// HandlePeerLeft clears the session: a departed peer ends the room for
// both sides, call and chat included. The hook runs the actual teardown.
func (c *Coordinator) HandlePeerLeft() {
	c.mu.Lock()
	s := c.current
	c.current = nil
	c.mu.Unlock()
	if s == nil {
		return
	}
	c.notify.Notice("Peer disconnected. Session closed.")
	if c.hooks.OnPeerLeft != nil {
		c.hooks.OnPeerLeft(s.Key)
	}
}
