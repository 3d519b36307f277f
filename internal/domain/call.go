package domain

// CallState is the local view of the call lifecycle. Both participants
// maintain their own copy; the relay enforces nothing beyond delivery,
// so every transition is guarded locally.
type CallState int

const (
	CallIdle CallState = iota
	CallOutgoingInvite
	CallIncomingInvite
	CallNegotiating
	CallActive
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallOutgoingInvite:
		return "outgoing_invite"
	case CallIncomingInvite:
		return "incoming_invite"
	case CallNegotiating:
		return "negotiating"
	case CallActive:
		return "active"
	default:
		return "unknown"
	}
}

// CallKind selects what the call carries. Audio is always captured;
// video only for KindVideo.
type CallKind string

const (
	KindAudio CallKind = "audio"
	KindVideo CallKind = "video"
)

// Valid reports whether the kind came off the wire intact.
func (k CallKind) Valid() bool { return k == KindAudio || k == KindVideo }

// NegotiationRole designates who generates the SDP offer for the current
// exchange. Distinct from the session Role: either side can be the offerer
// depending on who accepted the invite.
type NegotiationRole int

const (
	NegotiationNone NegotiationRole = iota
	NegotiationOfferer
	NegotiationAnswerer
)

func (r NegotiationRole) String() string {
	switch r {
	case NegotiationOfferer:
		return "offerer"
	case NegotiationAnswerer:
		return "answerer"
	default:
		return "none"
	}
}

// Facing is the camera facing preference carried across device switches.
type Facing string

const (
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

// Opposite returns the other camera.
func (f Facing) Opposite() Facing {
	if f == FacingUser {
		return FacingEnvironment
	}
	return FacingUser
}

// RejectReason travels in reject_call messages.
type RejectReason string

const (
	RejectBusy         RejectReason = "busy"
	RejectUserRejected RejectReason = "user_rejected"
	RejectMediaFailure RejectReason = "media_failure"
)
