// Package domain contains entities without behavior, just meta-data
// and the small validation helpers that keep adapters free of raw literals.
package domain

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	// KeyLength is the canonical length of a generated session key.
	KeyLength = 6

	keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Key is a short opaque identifier binding exactly two participants
// into a room. Keys are case-normalized on entry.
type Key string

// NormalizeKey applies the canonical form: trimmed, uppercase.
func NormalizeKey(raw string) Key {
	return Key(strings.ToUpper(strings.TrimSpace(raw)))
}

// NewKey generates a fresh random session key.
func NewKey() Key {
	b := make([]byte, KeyLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(keyAlphabet))))
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken;
			// nothing sensible to do but give up loudly.
			panic(err)
		}
		b[i] = keyAlphabet[n.Int64()]
	}
	return Key(b)
}

// Role is the fixed per-session designation. The participant present when
// the room first reaches one member becomes the Caller; the second joiner
// is the Receiver. Only the Caller may start calls.
type Role int

const (
	RoleUnassigned Role = iota
	RoleCaller
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleReceiver:
		return "receiver"
	default:
		return "unassigned"
	}
}

// RoleForPeers derives the session role from the member count reported
// by the relay at join time: first occupant is the caller.
func RoleForPeers(peers int) Role {
	if peers == 1 {
		return RoleCaller
	}
	return RoleReceiver
}

// Session is the local view of a joined room.
type Session struct {
	Key     Key
	Role    Role
	Members int
}
