package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// ConnectivityState is the coarse health of the peer transport as surfaced
// to the call layer. Degraded is transient and recoverable; Failed triggers
// an ICE restart attempt but never ends the call by itself.
type ConnectivityState int

const (
	ConnectivityNew ConnectivityState = iota
	ConnectivityConnected
	ConnectivityDegraded
	ConnectivityFailed
	ConnectivityClosed
)

func (s ConnectivityState) String() string {
	switch s {
	case ConnectivityConnected:
		return "connected"
	case ConnectivityDegraded:
		return "degraded"
	case ConnectivityFailed:
		return "failed"
	case ConnectivityClosed:
		return "closed"
	default:
		return "new"
	}
}

// MediaTransport is the peer-to-peer engine consumed by the call layer.
// One transport is created per session and reused across calls within it.
type MediaTransport interface {
	// Start configures internal callbacks and binds the transport lifetime to ctx.
	Start(ctx context.Context) error
	// Close stops all underlying media resources.
	Close()

	// CreateOffer builds and installs a local offer. Candidates trickle via
	// OnICECandidate as they are gathered.
	CreateOffer() (webrtc.SessionDescription, error)
	// CreateAnswer builds and installs a local answer for the current
	// remote offer.
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	// AddICECandidate applies a remote candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// RestartICE produces a fresh offer with new ICE credentials on the
	// existing transport.
	RestartICE() (webrtc.SessionDescription, error)

	// AddTrack attaches an outbound track. Kinds already attached are
	// skipped, so duplicate invocation is safe.
	AddTrack(webrtc.TrackLocal) error
	HasTrack(kind webrtc.RTPCodecType) bool
	// ReplaceTrack swaps the outbound track of a kind in place, without
	// renegotiation.
	ReplaceTrack(kind webrtc.RTPCodecType, t webrtc.TrackLocal) error
	// SetTrackEnabled pauses or resumes sending for a kind. The track
	// itself stays attached.
	SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) error
	// DropTracks stops sending on every outbound kind. The transport and
	// any chat pipe stay open.
	DropTracks()

	// CreateChatPipe opens an ordered text channel on the transport.
	CreateChatPipe(label string) (ChatPipe, error)
	// OnChatPipe fires when the peer opens a channel towards us.
	OnChatPipe(func(ChatPipe))

	// OnRemoteTrack fires once per inbound media track.
	OnRemoteTrack(func(kind webrtc.RTPCodecType))
	// OnICECandidate fires for each locally gathered candidate.
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectivityChange(func(ConnectivityState))
}

// ChatPipe is one ordered, reliable text channel over the transport.
type ChatPipe interface {
	Ready() bool
	Send(text string) error
	OnOpen(func())
	OnMessage(func(text string))
	OnClose(func())
	Close()
}
