// Package rtc implements core.MediaTransport on top of pion/webrtc.
// One Transport lives for a whole session and is reused across calls:
// call end only drops outbound tracks, never the peer connection.
package rtc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/pairlink/pairlink/internal/core"
)

// senderSlot tracks the outbound side for one media kind. The sender is
// kept when a call ends so the next call can reuse it via ReplaceTrack
// instead of growing the SDP with dead m-lines.
type senderSlot struct {
	sender  *webrtc.RTPSender
	track   webrtc.TrackLocal
	enabled bool
}

type Transport struct {
	pc     *webrtc.PeerConnection
	cancel context.CancelFunc

	mu      sync.Mutex
	slots   map[webrtc.RTPCodecType]*senderSlot
	pending []webrtc.ICECandidateInit
	closed  bool

	onICE          func(webrtc.ICECandidateInit)
	onRemoteTrack  func(webrtc.RTPCodecType)
	onChatPipe     func(core.ChatPipe)
	onConnectivity func(core.ConnectivityState)

	recvPackets atomic.Uint64
	recvBytes   atomic.Uint64
}

// Config builds a webrtc.Configuration from STUN server URLs.
func Config(stunServers []string) webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, u := range stunServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	return webrtc.Configuration{ICEServers: servers}
}

// NewTransport builds a peer connection with default codecs and
// interceptors registered.
func NewTransport(cfg webrtc.Configuration) (*Transport, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)

	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &Transport{
		pc:    pc,
		slots: make(map[webrtc.RTPCodecType]*senderSlot),
	}, nil
}

func (t *Transport) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		if fn := t.onICE; fn != nil {
			fn(cand.ToJSON())
		}
	})

	t.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("ice_state", s.String()).Msg("ICE state")
		if fn := t.onConnectivity; fn != nil {
			fn(mapConnectivity(s))
		}
	})

	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		if fn := t.onRemoteTrack; fn != nil {
			fn(track.Kind())
		}
		go t.drain(ctx, track)
	})

	t.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		log.Info().Str("module", "rtc").Str("label", dc.Label()).Msg("remote data channel")
		if fn := t.onChatPipe; fn != nil {
			fn(newChatPipe(dc))
		}
	})

	return nil
}

// drain keeps reading the inbound track. Pion delivers RTP only while
// someone reads, so the loop runs for the track's lifetime even though the
// payload itself is handed to the platform player elsewhere.
func (t *Transport) drain(ctx context.Context, track *webrtc.TrackRemote) {
	for {
		if ctx.Err() != nil {
			return
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "rtc").Str("kind", track.Kind().String()).Msg("track drain stopped")
			return
		}
		t.recvPackets.Add(1)
		t.recvBytes.Add(uint64(pkt.MarshalSize()))
	}
}

func mapConnectivity(s webrtc.ICEConnectionState) core.ConnectivityState {
	switch s {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return core.ConnectivityConnected
	case webrtc.ICEConnectionStateDisconnected:
		return core.ConnectivityDegraded
	case webrtc.ICEConnectionStateFailed:
		return core.ConnectivityFailed
	case webrtc.ICEConnectionStateClosed:
		return core.ConnectivityClosed
	default:
		return core.ConnectivityNew
	}
}

func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return *t.pc.LocalDescription(), nil
}

func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return *t.pc.LocalDescription(), nil
}

func (t *Transport) SetRemoteDescription(sd webrtc.SessionDescription) error {
	if err := t.pc.SetRemoteDescription(sd); err != nil {
		return err
	}
	// Flush candidates that arrived before the description.
	t.mu.Lock()
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()
	for _, ci := range pending {
		if err := t.pc.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("buffered candidate rejected")
		}
	}
	return nil
}

func (t *Transport) AddICECandidate(ci webrtc.ICECandidateInit) error {
	if t.pc.RemoteDescription() == nil {
		t.mu.Lock()
		t.pending = append(t.pending, ci)
		t.mu.Unlock()
		return nil
	}
	return t.pc.AddICECandidate(ci)
}

func (t *Transport) RestartICE() (webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return *t.pc.LocalDescription(), nil
}

func (t *Transport) AddTrack(track webrtc.TrackLocal) error {
	kind := track.Kind()
	t.mu.Lock()
	defer t.mu.Unlock()

	if slot, ok := t.slots[kind]; ok {
		if slot.track != nil {
			// Kind already sending; duplicate attach is a no-op.
			return nil
		}
		// Reuse the sender left over from a previous call.
		if err := slot.sender.ReplaceTrack(track); err != nil {
			return err
		}
		slot.track = track
		slot.enabled = true
		return nil
	}

	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return err
	}
	t.slots[kind] = &senderSlot{sender: sender, track: track, enabled: true}
	return nil
}

func (t *Transport) HasTrack(kind webrtc.RTPCodecType) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot, ok := t.slots[kind]
	return ok && slot.track != nil
}

func (t *Transport) ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot, ok := t.slots[kind]
	if !ok || slot.track == nil {
		return errors.New("no outbound track of kind " + kind.String())
	}
	slot.track = track
	if !slot.enabled {
		// Stays paused; the new track takes over on re-enable.
		return nil
	}
	return slot.sender.ReplaceTrack(track)
}

func (t *Transport) SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot, ok := t.slots[kind]
	if !ok || slot.track == nil {
		return errors.New("no outbound track of kind " + kind.String())
	}
	if slot.enabled == enabled {
		return nil
	}
	slot.enabled = enabled
	if enabled {
		return slot.sender.ReplaceTrack(slot.track)
	}
	return slot.sender.ReplaceTrack(nil)
}

func (t *Transport) DropTracks() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for kind, slot := range t.slots {
		if slot.track == nil {
			continue
		}
		if err := slot.sender.ReplaceTrack(nil); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("kind", kind.String()).Msg("drop track")
		}
		slot.track = nil
		slot.enabled = false
	}
}

func (t *Transport) CreateChatPipe(label string) (core.ChatPipe, error) {
	dc, err := t.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	return newChatPipe(dc), nil
}

func (t *Transport) OnChatPipe(fn func(core.ChatPipe)) { t.onChatPipe = fn }

func (t *Transport) OnRemoteTrack(fn func(webrtc.RTPCodecType)) { t.onRemoteTrack = fn }

func (t *Transport) OnICECandidate(fn func(webrtc.ICECandidateInit)) { t.onICE = fn }
func (t *Transport) OnConnectivityChange(fn func(core.ConnectivityState)) {
	t.onConnectivity = fn
}

// InboundStats reports how much remote media the drain loops have seen.
func (t *Transport) InboundStats() (packets, bytes uint64) {
	return t.recvPackets.Load(), t.recvBytes.Load()
}

func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}
	if err := t.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("close error")
	} else {
		log.Info().Str("module", "rtc").Msg("closed")
	}
}
