// Package protocol defines the relay wire format. Every message is a flat
// JSON envelope tagged with a type and scoped by the session key; unused
// fields are omitted. The relay itself only ever reads Type and Key — the
// rest is opaque payload forwarded to the other room member.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/pairlink/pairlink/internal/domain"
)

type MsgType string

const (
	// Session lifecycle.
	TypeGenerateKey  MsgType = "generate_key"
	TypeKeyGenerated MsgType = "key_generated"
	TypeJoinKey      MsgType = "join_key"
	TypeJoined       MsgType = "joined"
	TypeJoinError    MsgType = "join_error"
	TypePeerJoined   MsgType = "peer_joined"
	TypePeerLeft     MsgType = "peer_left"
	TypeLeaveKey     MsgType = "leave_key"

	// Call negotiation, relayed blindly between the two members.
	TypeStartCall    MsgType = "start_call"
	TypeOffer        MsgType = "offer"
	TypeAnswer       MsgType = "answer"
	TypeICE          MsgType = "ice"
	TypeIncomingCall MsgType = "incoming_call"
	TypeAcceptCall   MsgType = "accept_call"
	TypeRejectCall   MsgType = "reject_call"
	TypeEndCall      MsgType = "end_call_signal"
)

// Relayed reports whether the server forwards this message to the roommate
// without interpreting it.
func (t MsgType) Relayed() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICE,
		TypeIncomingCall, TypeAcceptCall, TypeRejectCall, TypeEndCall:
		return true
	}
	return false
}

// Message is the wire envelope. Field names match what goes over the wire;
// callType keeps its camelCase spelling for compatibility with the original
// frontend payloads.
type Message struct {
	Type MsgType    `json:"type"`
	Key  domain.Key `json:"key,omitempty"`

	Peers     int                        `json:"peers,omitempty"`
	Reason    string                     `json:"reason,omitempty"`
	CallType  domain.CallKind            `json:"callType,omitempty"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

func (m *Message) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return b, nil
}

func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("decode message: missing type")
	}
	return &m, nil
}
