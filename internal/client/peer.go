// Package client assembles a full peer: the relay connection, the session
// coordinator, the call negotiator and the media plumbing, with a single
// dispatch loop feeding relay events into them in arrival order.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pairlink/pairlink/internal/adapters/devices"
	"github.com/pairlink/pairlink/internal/adapters/rtc"
	"github.com/pairlink/pairlink/internal/adapters/ws"
	"github.com/pairlink/pairlink/internal/call"
	"github.com/pairlink/pairlink/internal/core"
	"github.com/pairlink/pairlink/internal/domain"
	"github.com/pairlink/pairlink/internal/protocol"
	"github.com/pairlink/pairlink/internal/session"
)

// Options configures a peer. RelayURL is the only required field.
type Options struct {
	RelayURL    string
	STUNServers []string
	// Notifier receives user-facing status lines. Defaults to the log.
	Notifier core.Notifier
	// Devices overrides the capture source, used by tests.
	Devices core.DeviceSource
	// OnRingStart / OnRingStop bracket the incoming-call indication.
	OnRingStart func()
	OnRingStop  func()
	// OnChatMessage receives every chat line, local and remote.
	OnChatMessage func(call.ChatMessage)
}

// Peer is one participant: it owns the relay client and every layer above
// it. Create with Dial, stop with Close.
type Peer struct {
	relay  core.RelayClient
	coord  *session.Coordinator
	neg    *call.Negotiator
	media  *call.MediaManager
	chat   *call.ChatChannel
	notify core.Notifier
	ctx    context.Context
	cancel context.CancelFunc
	closed sync.Once
	done   chan struct{}
}

// Dial connects to the relay and wires the full stack. The dispatch loop
// runs until Close or until the relay connection drops.
func Dial(ctx context.Context, opts Options) (*Peer, error) {
	notify := opts.Notifier
	if notify == nil {
		notify = core.NoticeFunc(func(text string) {
			log.Info().Str("module", "client").Msg(text)
		})
	}
	src := opts.Devices
	if src == nil {
		src = devices.NewSource()
	}

	relay, err := ws.Dial(ctx, opts.RelayURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Peer{
		relay:  relay,
		notify: notify,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	p.media = call.NewMediaManager(src, notify)
	p.chat = call.NewChatChannel(notify)
	if opts.OnChatMessage != nil {
		p.chat.OnMessage(opts.OnChatMessage)
	}

	factory := func() (core.MediaTransport, error) {
		return rtc.NewTransport(rtc.Config(opts.STUNServers))
	}
	p.neg = call.NewNegotiator(relay, p.media, p.chat, factory, notify)
	p.neg.SetRingHandlers(opts.OnRingStart, opts.OnRingStop)

	p.coord = session.NewCoordinator(relay, notify, session.Hooks{
		OnEstablished: p.onEstablished,
		OnPeerLeft:    p.onPeerLeft,
	})

	go p.dispatchLoop()
	return p, nil
}

// onEstablished binds the negotiator's transport once membership and role
// are confirmed.
func (p *Peer) onEstablished(key domain.Key, role domain.Role) {
	if err := p.neg.BindSession(p.ctx, key, role); err != nil {
		log.Error().Err(err).Str("module", "client").Msg("transport bind failed")
		p.notify.Notice("Connection setup failed: " + err.Error())
	}
}

// onPeerLeft destroys everything the session owned. The peer is gone, so
// no call-end signal goes out.
func (p *Peer) onPeerLeft(domain.Key) {
	p.neg.TeardownSession()
}

// dispatchLoop is the single consumer of relay messages: every event for
// the session funnels through here in arrival order, which is what keeps
// the state machine's guards sufficient without wider locking.
func (p *Peer) dispatchLoop() {
	defer close(p.done)
	for {
		select {
		case <-p.ctx.Done():
			return
		case msg, ok := <-p.relay.Messages():
			if !ok {
				log.Warn().Str("module", "client").Msg("relay connection closed")
				p.notify.Notice("Disconnected from relay.")
				p.coord.HandlePeerLeft()
				return
			}
			p.dispatch(msg)
		}
	}
}

func (p *Peer) dispatch(msg *protocol.Message) {
	log.Debug().Str("module", "client").Str("type", string(msg.Type)).Msg("relay event")
	switch msg.Type {
	case protocol.TypeKeyGenerated:
		p.coord.HandleKeyGenerated(msg.Key)
	case protocol.TypeJoined:
		p.coord.HandleJoined(msg.Key, msg.Peers)
	case protocol.TypeJoinError:
		p.coord.HandleJoinError(msg.Reason)
	case protocol.TypePeerJoined:
		p.coord.HandlePeerJoined()
	case protocol.TypePeerLeft:
		p.coord.HandlePeerLeft()
	case protocol.TypeStartCall:
		p.neg.HandleStartCall()
	case protocol.TypeIncomingCall:
		p.neg.HandleIncomingCall(msg.CallType)
	case protocol.TypeAcceptCall:
		p.neg.HandleAccept()
	case protocol.TypeRejectCall:
		p.neg.HandleReject(domain.RejectReason(msg.Reason))
	case protocol.TypeOffer:
		p.neg.HandleOffer(msg.SDP)
	case protocol.TypeAnswer:
		p.neg.HandleAnswer(msg.SDP)
	case protocol.TypeICE:
		p.neg.HandleCandidate(msg.Candidate)
	case protocol.TypeEndCall:
		p.neg.HandleEndCall()
	default:
		log.Warn().Str("module", "client").Str("type", string(msg.Type)).Msg("unhandled relay event")
	}
}

// GenerateKey mints a fresh session and joins it as caller.
func (p *Peer) GenerateKey() error { return p.coord.GenerateKey() }

// Join enters an existing session by key.
func (p *Peer) Join(key string) error { return p.coord.JoinKey(key) }

// Leave abandons the session, call and chat included.
func (p *Peer) Leave() error {
	p.neg.TeardownSession()
	return p.coord.Leave()
}

// StartAudioCall invites the peer to an audio call. Caller role only.
func (p *Peer) StartAudioCall() error { return p.neg.StartCall(domain.KindAudio) }

// StartVideoCall invites the peer to a video call. Caller role only.
func (p *Peer) StartVideoCall() error { return p.neg.StartCall(domain.KindVideo) }

// AcceptCall answers the ringing invite.
func (p *Peer) AcceptCall() error { return p.neg.Accept() }

// RejectCall declines the ringing invite.
func (p *Peer) RejectCall() error { return p.neg.Reject() }

// EndCall hangs up; chat stays connected.
func (p *Peer) EndCall() { p.neg.EndCall() }

// SendChat writes one line to the session chat channel.
func (p *Peer) SendChat(text string) error { return p.chat.Send(text) }

// ChatHistory returns the messages exchanged so far, in order.
func (p *Peer) ChatHistory() []call.ChatMessage { return p.chat.Messages() }

// ToggleMic flips the outgoing microphone mute.
func (p *Peer) ToggleMic() (bool, error) { return p.neg.ToggleMic() }

// FlipCamera switches between front and rear cameras mid video call.
func (p *Peer) FlipCamera() error { return p.neg.FlipCamera() }

// Session returns the current session view, or nil when not joined.
func (p *Peer) Session() *domain.Session { return p.coord.Current() }

// CallState reports the negotiator's current state.
func (p *Peer) CallState() domain.CallState { return p.neg.State() }

// CallElapsed is the running call duration, zero outside an active call.
func (p *Peer) CallElapsed() time.Duration { return p.neg.Elapsed() }

// Close tears down the session and the relay connection.
func (p *Peer) Close() {
	p.closed.Do(func() {
		p.neg.TeardownSession()
		p.cancel()
		p.relay.Close()
		<-p.done
	})
}
