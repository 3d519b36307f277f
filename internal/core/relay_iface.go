package core

import "github.com/pairlink/pairlink/internal/protocol"

// RelayClient is the peer-side connection to the relay: send tagged
// messages, receive the forwarded stream. Messages arrive in the order the
// relay forwards them; the channel closes when the connection drops.
type RelayClient interface {
	Send(*protocol.Message) error
	Messages() <-chan *protocol.Message
	Close()
}
