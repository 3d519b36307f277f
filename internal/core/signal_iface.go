package core

// Frame is a raw encoded payload travelling over a signal connection.
type Frame []byte

// SessionID identifies one websocket client on the relay server.
type SessionID string

// SignalConnection abstracts the relay server's per-client messaging
// transport. Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
