// Package call holds the call-side state machine of a session: the
// invite/accept/reject protocol, SDP and candidate negotiation, local media
// ownership and the persistent chat channel. The relay delivers events in
// emission order but enforces nothing — every transition is guarded here.
package call

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/pairlink/pairlink/internal/core"
	"github.com/pairlink/pairlink/internal/domain"
	"github.com/pairlink/pairlink/internal/protocol"
)

// RelaySender is the outbound half of the relay connection; the negotiator
// never reads from the relay directly, the orchestrator feeds it events.
type RelaySender interface {
	Send(*protocol.Message) error
}

// TransportFactory builds the session's peer transport. Injected so tests
// can substitute a loopback pair.
type TransportFactory func() (core.MediaTransport, error)

// Negotiator drives one participant's view of call negotiation. One
// transport lives per session and is reused across calls; only session
// teardown closes it.
//
// Blocking steps (device acquisition, description handling) run outside
// the lock; every continuation re-validates state and epoch before
// committing side effects, so an event that tore the call down while a
// step was in flight simply orphans the stale continuation.
type Negotiator struct {
	relay   RelaySender
	media   *MediaManager
	chat    *ChatChannel
	factory TransportFactory
	notify  core.Notifier

	onRingStart func()
	onRingStop  func()

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	key       domain.Key
	role      domain.Role
	state     domain.CallState
	kind      domain.CallKind
	negRole   domain.NegotiationRole
	transport core.MediaTransport
	epoch     uint64
	ringing   bool
	startedAt time.Time
}

func NewNegotiator(relay RelaySender, media *MediaManager, chat *ChatChannel, factory TransportFactory, notify core.Notifier) *Negotiator {
	return &Negotiator{
		relay:   relay,
		media:   media,
		chat:    chat,
		factory: factory,
		notify:  notify,
	}
}

// SetRingHandlers installs the ring indication callbacks. They fire off
// the negotiator's lock; nil handlers are fine.
func (n *Negotiator) SetRingHandlers(start, stop func()) {
	n.onRingStart = start
	n.onRingStop = stop
}

func (n *Negotiator) State() domain.CallState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Negotiator) Kind() domain.CallKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.kind
}

func (n *Negotiator) NegotiationRole() domain.NegotiationRole {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.negRole
}

// Elapsed is the running call duration, zero while not active.
func (n *Negotiator) Elapsed() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != domain.CallActive || n.startedAt.IsZero() {
		return 0
	}
	return time.Since(n.startedAt)
}

// BindSession opens the session's peer transport once the room and role
// are known. The caller side creates the chat pipe here, before the first
// offer, so the channel rides the very first negotiation.
func (n *Negotiator) BindSession(ctx context.Context, key domain.Key, role domain.Role) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.transport != nil {
		return nil
	}

	t, err := n.factory()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	n.ctx, n.cancel = ctx, cancel
	n.key, n.role = key, role

	t.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		n.sendCandidate(ci)
	})
	t.OnRemoteTrack(func(kind webrtc.RTPCodecType) {
		n.handleRemoteTrack(kind)
	})
	t.OnConnectivityChange(func(s core.ConnectivityState) {
		n.HandleConnectivity(s)
	})

	if err := n.chat.Open(t, role == domain.RoleCaller); err != nil {
		cancel()
		t.Close()
		return err
	}
	if err := t.Start(ctx); err != nil {
		cancel()
		t.Close()
		return err
	}

	n.transport = t
	log.Info().Str("module", "call").Str("key", string(key)).Str("role", role.String()).Msg("transport bound")
	return nil
}

// sendCandidate forwards a locally gathered candidate, tagged with the
// session key. Candidates gathered after teardown are dropped.
func (n *Negotiator) sendCandidate(ci webrtc.ICECandidateInit) {
	n.mu.Lock()
	key := n.key
	n.mu.Unlock()
	if key == "" {
		return
	}
	n.send(&protocol.Message{Type: protocol.TypeICE, Key: key, Candidate: &ci})
}

// HandleStartCall reacts to the relay's signal that the room just filled:
// the caller runs the first offer cycle, which establishes the transport
// and the chat channel before any call exists.
func (n *Negotiator) HandleStartCall() {
	n.mu.Lock()
	t := n.transport
	if t == nil || n.role != domain.RoleCaller {
		n.mu.Unlock()
		return
	}
	n.negRole = domain.NegotiationOfferer
	key := n.key
	n.mu.Unlock()

	n.notify.Notice("Initializing connection...")
	offer, err := t.CreateOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "call").Msg("initial offer failed")
		n.notify.Notice("Connection setup failed: " + err.Error())
		return
	}
	n.send(&protocol.Message{Type: protocol.TypeOffer, Key: key, SDP: &offer})
}

// StartCall issues a call invite. Caller role only, from idle, never while
// local media exists. The receiver never contacts the peer on a refused
// start — the guard fails locally.
func (n *Negotiator) StartCall(kind domain.CallKind) error {
	n.mu.Lock()
	if n.transport == nil {
		n.mu.Unlock()
		return domain.ErrNoSession
	}
	if n.role != domain.RoleCaller {
		n.mu.Unlock()
		n.notify.Notice("Only the host can start calls.")
		return domain.ErrNotCaller
	}
	if n.state != domain.CallIdle || n.media.Active() {
		n.mu.Unlock()
		n.notify.Notice("Call already in progress.")
		return domain.ErrCallInProgress
	}
	n.state = domain.CallOutgoingInvite
	n.kind = kind
	key := n.key
	n.mu.Unlock()

	n.notify.Notice("Calling...")
	n.send(&protocol.Message{Type: protocol.TypeIncomingCall, Key: key, CallType: kind})
	return nil
}

// HandleIncomingCall processes a remote invite. Busy — local media present
// or any non-idle state — answers reject(busy) immediately with no local
// state change and no ring.
func (n *Negotiator) HandleIncomingCall(kind domain.CallKind) {
	if !kind.Valid() {
		log.Warn().Str("module", "call").Str("call_type", string(kind)).Msg("invite with unknown call type")
		return
	}

	n.mu.Lock()
	if n.transport == nil {
		n.mu.Unlock()
		return
	}
	if n.state != domain.CallIdle || n.media.Active() {
		key := n.key
		n.mu.Unlock()
		n.send(&protocol.Message{
			Type:   protocol.TypeRejectCall,
			Key:    key,
			Reason: string(domain.RejectBusy),
		})
		return
	}
	n.state = domain.CallIncomingInvite
	n.kind = kind
	n.ringing = true
	n.mu.Unlock()

	if kind == domain.KindVideo {
		n.notify.Notice("Incoming video call...")
	} else {
		n.notify.Notice("Incoming audio call...")
	}
	if n.onRingStart != nil {
		n.onRingStart()
	}
}

// Accept takes the pending incoming invite: stop ringing, acquire devices
// for the invited kind, attach the tracks and tell the caller to send its
// offer. A failed acquisition answers reject(media_failure) and returns
// the machine to idle.
func (n *Negotiator) Accept() error {
	n.mu.Lock()
	if n.state != domain.CallIncomingInvite {
		n.mu.Unlock()
		return domain.ErrNoIncomingCall
	}
	kind := n.kind
	epoch := n.epoch
	ctx := n.ctx
	t := n.transport
	key := n.key
	wasRinging := n.ringing
	n.ringing = false
	n.mu.Unlock()

	if wasRinging && n.onRingStop != nil {
		n.onRingStop()
	}
	n.notify.Notice("Accepting call...")

	err := n.media.Acquire(ctx, kind) // suspension point

	n.mu.Lock()
	if n.epoch != epoch || n.state != domain.CallIncomingInvite {
		n.mu.Unlock()
		// Session or call was torn down while the devices were opening;
		// the continuation is stale and its stream, if any, is orphaned.
		n.media.Release()
		return nil
	}
	if err == nil {
		err = n.media.AttachTo(t)
	}
	if err != nil {
		n.state = domain.CallIdle
		n.kind = ""
		n.mu.Unlock()
		n.media.Release()
		n.send(&protocol.Message{
			Type:   protocol.TypeRejectCall,
			Key:    key,
			Reason: string(domain.RejectMediaFailure),
		})
		n.notify.Notice("Could not access devices: " + err.Error())
		return err
	}
	n.negRole = domain.NegotiationAnswerer
	n.state = domain.CallNegotiating
	n.mu.Unlock()

	n.send(&protocol.Message{Type: protocol.TypeAcceptCall, Key: key})
	return nil
}

// Reject declines the pending incoming invite.
func (n *Negotiator) Reject() error {
	n.mu.Lock()
	if n.state != domain.CallIncomingInvite {
		n.mu.Unlock()
		return domain.ErrNoIncomingCall
	}
	key := n.key
	wasRinging := n.ringing
	n.ringing = false
	n.state = domain.CallIdle
	n.kind = ""
	n.mu.Unlock()

	if wasRinging && n.onRingStop != nil {
		n.onRingStop()
	}
	n.send(&protocol.Message{
		Type:   protocol.TypeRejectCall,
		Key:    key,
		Reason: string(domain.RejectUserRejected),
	})
	n.notify.Notice("Call rejected.")
	return nil
}

// HandleAccept reacts to the peer accepting our invite: this side becomes
// the offerer, acquires its own media and opens the offer cycle. The
// blocking part runs in its own goroutine so queued events keep flowing.
func (n *Negotiator) HandleAccept() {
	n.mu.Lock()
	if n.state != domain.CallOutgoingInvite {
		n.mu.Unlock()
		return
	}
	n.negRole = domain.NegotiationOfferer
	n.state = domain.CallNegotiating
	epoch := n.epoch
	kind := n.kind
	ctx := n.ctx
	n.mu.Unlock()

	n.notify.Notice("Call accepted. Starting...")
	go n.continueOffer(ctx, epoch, kind)
}

func (n *Negotiator) continueOffer(ctx context.Context, epoch uint64, kind domain.CallKind) {
	err := n.media.Acquire(ctx, kind) // suspension point

	n.mu.Lock()
	if n.epoch != epoch || n.state != domain.CallNegotiating {
		n.mu.Unlock()
		n.media.Release()
		return
	}
	t := n.transport
	key := n.key
	if err == nil {
		err = n.media.AttachTo(t)
	}
	if err != nil {
		n.mu.Unlock()
		n.abortNegotiation(key, &domain.MediaAcquisitionError{Kind: kind, Err: err})
		return
	}
	n.mu.Unlock()

	offer, err := t.CreateOffer()
	if err != nil {
		n.abortNegotiation(key, &domain.NegotiationError{Stage: "offer", Err: err})
		return
	}
	n.mu.Lock()
	stale := n.epoch != epoch
	n.mu.Unlock()
	if stale {
		return
	}
	n.send(&protocol.Message{Type: protocol.TypeOffer, Key: key, SDP: &offer})
}

// HandleReject processes the peer declining our invite.
func (n *Negotiator) HandleReject(reason domain.RejectReason) {
	n.mu.Lock()
	if n.state != domain.CallOutgoingInvite && n.state != domain.CallNegotiating {
		n.mu.Unlock()
		return
	}
	n.state = domain.CallIdle
	n.kind = ""
	n.negRole = domain.NegotiationNone
	n.mu.Unlock()

	if reason == "" {
		reason = "no reason"
	}
	n.notify.Notice("Call rejected: " + string(reason))
}

// HandleOffer applies a remote offer and answers it. Serves three flows
// with one path: the first transport bootstrap on the receiver side, the
// answer leg of a call, and renegotiation for later calls in the session.
// Offers arriving with no transport imply a torn-down session: dropped.
func (n *Negotiator) HandleOffer(sdp *webrtc.SessionDescription) {
	n.mu.Lock()
	t := n.transport
	key := n.key
	epoch := n.epoch
	n.mu.Unlock()
	if t == nil || sdp == nil {
		log.Debug().Str("module", "call").Msg("stale offer dropped")
		return
	}

	if err := t.SetRemoteDescription(*sdp); err != nil {
		n.abortNegotiation(key, &domain.NegotiationError{Stage: "apply offer", Err: err})
		return
	}
	// Attach any pending local tracks before answering, so the answer
	// advertises them.
	if n.media.Active() {
		if err := n.media.AttachTo(t); err != nil {
			n.abortNegotiation(key, &domain.NegotiationError{Stage: "attach", Err: err})
			return
		}
	}
	answer, err := t.CreateAnswer()
	if err != nil {
		n.abortNegotiation(key, &domain.NegotiationError{Stage: "answer", Err: err})
		return
	}

	n.mu.Lock()
	stale := n.epoch != epoch || n.transport != t
	n.mu.Unlock()
	if stale {
		return
	}
	n.send(&protocol.Message{Type: protocol.TypeAnswer, Key: key, SDP: &answer})
}

// HandleAnswer applies the remote answer on the offerer path.
func (n *Negotiator) HandleAnswer(sdp *webrtc.SessionDescription) {
	n.mu.Lock()
	t := n.transport
	key := n.key
	n.mu.Unlock()
	if t == nil || sdp == nil {
		log.Debug().Str("module", "call").Msg("stale answer dropped")
		return
	}
	if err := t.SetRemoteDescription(*sdp); err != nil {
		n.abortNegotiation(key, &domain.NegotiationError{Stage: "apply answer", Err: err})
	}
}

// HandleCandidate applies a relayed remote candidate to the current
// transport. The transport buffers candidates that beat the description.
func (n *Negotiator) HandleCandidate(ci *webrtc.ICECandidateInit) {
	n.mu.Lock()
	t := n.transport
	n.mu.Unlock()
	if t == nil || ci == nil {
		return
	}
	if err := t.AddICECandidate(*ci); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("candidate rejected")
	}
}

// handleRemoteTrack marks the call active on the first remote media and
// starts the duration clock.
func (n *Negotiator) handleRemoteTrack(kind webrtc.RTPCodecType) {
	n.mu.Lock()
	if n.state != domain.CallNegotiating {
		n.mu.Unlock()
		return
	}
	n.state = domain.CallActive
	n.startedAt = time.Now()
	n.mu.Unlock()

	log.Info().Str("module", "call").Str("kind", kind.String()).Msg("first remote track, call active")
	n.notify.Notice("Remote stream connected.")
}

// ToggleMic flips mute on the outgoing microphone. Works in any call
// phase that holds local media.
func (n *Negotiator) ToggleMic() (bool, error) {
	n.mu.Lock()
	t := n.transport
	n.mu.Unlock()
	if t == nil {
		return false, domain.ErrNoSession
	}
	return n.media.ToggleMic(t)
}

// FlipCamera switches between the front and rear cameras during a video
// call. The media layer validates that a video stream is live.
func (n *Negotiator) FlipCamera() error {
	n.mu.Lock()
	t := n.transport
	ctx := n.ctx
	n.mu.Unlock()
	if t == nil {
		return domain.ErrNoSession
	}
	return n.media.ReplaceVideo(ctx, t)
}

// EndCall hangs up locally and signals the peer.
func (n *Negotiator) EndCall() {
	if n.endCall(true) {
		n.notify.Notice("Call ended. Chat connection maintained.")
	}
}

// HandleEndCall processes the peer's hangup. A stale duplicate — e.g. a
// peer end-signal racing our own hangup — is a quiet no-op.
func (n *Negotiator) HandleEndCall() {
	if n.endCall(false) {
		n.notify.Notice("Peer ended the call.")
	}
}

// endCall returns the machine to idle, releasing local media but keeping
// the transport and chat channel alive. Idempotent.
func (n *Negotiator) endCall(sendSignal bool) bool {
	n.mu.Lock()
	if n.state == domain.CallIdle && !n.media.Active() {
		n.mu.Unlock()
		return false
	}
	n.epoch++
	wasRinging := n.ringing
	n.ringing = false
	n.state = domain.CallIdle
	n.kind = ""
	n.negRole = domain.NegotiationNone
	n.startedAt = time.Time{}
	t := n.transport
	key := n.key
	n.mu.Unlock()

	if wasRinging && n.onRingStop != nil {
		n.onRingStop()
	}
	n.media.Release()
	if t != nil {
		t.DropTracks()
	}
	if sendSignal && key != "" {
		n.send(&protocol.Message{Type: protocol.TypeEndCall, Key: key})
	}
	return true
}

// abortNegotiation handles a failed offer/answer/description step: report,
// hang up both sides, back to idle. Chat stays up.
func (n *Negotiator) abortNegotiation(key domain.Key, err error) {
	log.Error().Err(err).Str("module", "call").Msg("negotiation aborted")
	if n.endCall(false) && key != "" {
		n.send(&protocol.Message{Type: protocol.TypeEndCall, Key: key})
	}
	n.notify.Notice("Call setup failed: " + err.Error())
}

// HandleConnectivity reacts to transport health changes. Degradation is
// transient and logged; failure triggers an ICE restart on the existing
// transport. Neither ends the call — only an explicit end, a leave or a
// peer-left notice does that.
func (n *Negotiator) HandleConnectivity(s core.ConnectivityState) {
	switch s {
	case core.ConnectivityDegraded:
		log.Warn().Str("module", "call").Msg("connectivity degraded")
		n.notify.Notice("Connection unstable...")
	case core.ConnectivityFailed:
		n.restartICE()
	case core.ConnectivityConnected:
		log.Info().Str("module", "call").Msg("connectivity established")
	}
}

func (n *Negotiator) restartICE() {
	n.mu.Lock()
	t := n.transport
	key := n.key
	n.mu.Unlock()
	if t == nil {
		return
	}

	n.notify.Notice("Connection failed. Attempting to reconnect...")
	offer, err := t.RestartICE()
	if err != nil {
		// Accepted limitation: a failed restart leaves the call nominally
		// active but non-functional.
		log.Error().Err(err).Str("module", "call").Msg("ICE restart failed")
		n.notify.Notice("Reconnect attempt failed.")
		return
	}
	n.send(&protocol.Message{Type: protocol.TypeOffer, Key: key, SDP: &offer})
}

// TeardownSession destroys everything the session owns: any in-flight
// call, the chat channel and the transport itself. No signals are sent —
// the peer is gone or we are leaving, and the relay delivers peer_left for
// us. In-flight continuations notice the epoch bump and discard themselves.
func (n *Negotiator) TeardownSession() {
	n.mu.Lock()
	n.epoch++
	wasRinging := n.ringing
	n.ringing = false
	n.state = domain.CallIdle
	n.kind = ""
	n.negRole = domain.NegotiationNone
	n.startedAt = time.Time{}
	t := n.transport
	n.transport = nil
	n.key = ""
	n.role = domain.RoleUnassigned
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	if wasRinging && n.onRingStop != nil {
		n.onRingStop()
	}
	n.media.Release()
	n.chat.Close()
	if cancel != nil {
		cancel()
	}
	if t != nil {
		t.Close()
	}
	log.Info().Str("module", "call").Msg("session torn down")
}

func (n *Negotiator) send(msg *protocol.Message) {
	if err := n.relay.Send(msg); err != nil {
		log.Error().Err(err).Str("module", "call").Str("type", string(msg.Type)).Msg("relay send failed")
	}
}
