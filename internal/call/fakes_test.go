package call

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/pairlink/pairlink/internal/core"
	"github.com/pairlink/pairlink/internal/domain"
	"github.com/pairlink/pairlink/internal/protocol"
)

// fakeTrack stands in for a capture track.
type fakeTrack struct {
	kind webrtc.RTPCodecType
	id   string
}

func (t *fakeTrack) Bind(webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return webrtc.RTPCodecParameters{}, nil
}
func (t *fakeTrack) Unbind(webrtc.TrackLocalContext) error { return nil }
func (t *fakeTrack) ID() string                            { return t.id }
func (t *fakeTrack) RID() string                           { return "" }
func (t *fakeTrack) StreamID() string                      { return "fake-stream" }
func (t *fakeTrack) Kind() webrtc.RTPCodecType             { return t.kind }

type fakeStream struct {
	mu     sync.Mutex
	tracks []webrtc.TrackLocal
	closed bool
}

func (s *fakeStream) Tracks() []webrtc.TrackLocal { return s.tracks }

func (s *fakeStream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeDevices hands out fake streams. gate, when set, blocks Acquire until
// the channel is closed — the hook for testing stale continuations.
type fakeDevices struct {
	mu      sync.Mutex
	fail    error
	gate    chan struct{}
	streams []*fakeStream
	facings []domain.Facing
}

func (d *fakeDevices) Acquire(ctx context.Context, kind domain.CallKind, facing domain.Facing) (core.LocalStream, error) {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return nil, d.fail
	}
	tracks := []webrtc.TrackLocal{&fakeTrack{kind: webrtc.RTPCodecTypeAudio, id: "a0"}}
	if kind == domain.KindVideo {
		tracks = append(tracks, &fakeTrack{kind: webrtc.RTPCodecTypeVideo, id: "v0"})
	}
	s := &fakeStream{tracks: tracks}
	d.streams = append(d.streams, s)
	d.facings = append(d.facings, facing)
	return s, nil
}

func (d *fakeDevices) lastFacing() domain.Facing {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.facings) == 0 {
		return ""
	}
	return d.facings[len(d.facings)-1]
}

type fakePipe struct {
	mu      sync.Mutex
	open    bool
	closed  bool
	sent    []string
	peer    *fakePipe
	onOpen  func()
	onMsg   func(string)
	onClose func()
}

// pipePair links two fake pipes so Send on one delivers on the other.
func pipePair() (*fakePipe, *fakePipe) {
	a := &fakePipe{open: true}
	b := &fakePipe{open: true}
	a.peer, b.peer = b, a
	return a, b
}

func (p *fakePipe) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open && !p.closed
}

func (p *fakePipe) Send(text string) error {
	p.mu.Lock()
	if !p.open || p.closed {
		p.mu.Unlock()
		return domain.ErrChannelNotReady
	}
	p.sent = append(p.sent, text)
	peer := p.peer
	p.mu.Unlock()
	if peer != nil {
		peer.deliver(text)
	}
	return nil
}

func (p *fakePipe) deliver(text string) {
	p.mu.Lock()
	fn := p.onMsg
	p.mu.Unlock()
	if fn != nil {
		fn(text)
	}
}

func (p *fakePipe) OnOpen(fn func()) {
	p.mu.Lock()
	p.onOpen = fn
	open := p.open
	p.mu.Unlock()
	if open && fn != nil {
		fn()
	}
}

func (p *fakePipe) OnMessage(fn func(string)) {
	p.mu.Lock()
	p.onMsg = fn
	p.mu.Unlock()
}

func (p *fakePipe) OnClose(fn func()) {
	p.mu.Lock()
	p.onClose = fn
	p.mu.Unlock()
}

func (p *fakePipe) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	fn := p.onClose
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *fakePipe) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeTransport is an in-memory stand-in for the peer transport.
type fakeTransport struct {
	mu          sync.Mutex
	started     bool
	closed      bool
	tracks      map[webrtc.RTPCodecType]webrtc.TrackLocal
	enabled     map[webrtc.RTPCodecType]bool
	remoteDescs []webrtc.SessionDescription
	candidates  []webrtc.ICECandidateInit
	offers      int
	answers     int
	restarts    int
	dropCalls   int
	failOffer   error
	pipe        core.ChatPipe

	onChatPipe    func(core.ChatPipe)
	onRemoteTrack func(webrtc.RTPCodecType)
	onICE         func(webrtc.ICECandidateInit)
	onConn        func(core.ConnectivityState)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		tracks:  make(map[webrtc.RTPCodecType]webrtc.TrackLocal),
		enabled: make(map[webrtc.RTPCodecType]bool),
	}
}

func (t *fakeTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	t.started = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failOffer != nil {
		return webrtc.SessionDescription{}, t.failOffer
	}
	t.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (t *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (t *fakeTransport) SetRemoteDescription(sd webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remoteDescs = append(t.remoteDescs, sd)
	return nil
}

func (t *fakeTransport) AddICECandidate(ci webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.candidates = append(t.candidates, ci)
	return nil
}

func (t *fakeTransport) RestartICE() (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.restarts++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 restart"}, nil
}

func (t *fakeTransport) AddTrack(track webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.tracks[track.Kind()]; ok {
		return nil
	}
	t.tracks[track.Kind()] = track
	t.enabled[track.Kind()] = true
	return nil
}

func (t *fakeTransport) HasTrack(kind webrtc.RTPCodecType) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracks[kind] != nil
}

func (t *fakeTransport) ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks[kind] = track
	return nil
}

func (t *fakeTransport) SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled[kind] = enabled
	return nil
}

func (t *fakeTransport) DropTracks() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropCalls++
	for k := range t.tracks {
		delete(t.tracks, k)
		t.enabled[k] = false
	}
}

func (t *fakeTransport) CreateChatPipe(label string) (core.ChatPipe, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pipe == nil {
		t.pipe = &fakePipe{open: true}
	}
	return t.pipe, nil
}

func (t *fakeTransport) OnChatPipe(fn func(core.ChatPipe)) {
	t.mu.Lock()
	t.onChatPipe = fn
	t.mu.Unlock()
}

func (t *fakeTransport) OnRemoteTrack(fn func(webrtc.RTPCodecType)) {
	t.mu.Lock()
	t.onRemoteTrack = fn
	t.mu.Unlock()
}

func (t *fakeTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	t.onICE = fn
	t.mu.Unlock()
}

func (t *fakeTransport) OnConnectivityChange(fn func(core.ConnectivityState)) {
	t.mu.Lock()
	t.onConn = fn
	t.mu.Unlock()
}

func (t *fakeTransport) fireRemoteTrack(kind webrtc.RTPCodecType) {
	t.mu.Lock()
	fn := t.onRemoteTrack
	t.mu.Unlock()
	if fn != nil {
		fn(kind)
	}
}

func (t *fakeTransport) fireChatPipe(pipe core.ChatPipe) {
	t.mu.Lock()
	fn := t.onChatPipe
	t.mu.Unlock()
	if fn != nil {
		fn(pipe)
	}
}

func (t *fakeTransport) enabledFor(kind webrtc.RTPCodecType) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled[kind]
}

func (t *fakeTransport) trackFor(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracks[kind]
}

// fakeRelay records outbound messages and can forward them to a handler,
// which lets two negotiators talk to each other in-process.
type fakeRelay struct {
	mu      sync.Mutex
	sent    []*protocol.Message
	deliver func(*protocol.Message)
}

func (r *fakeRelay) Send(msg *protocol.Message) error {
	r.mu.Lock()
	r.sent = append(r.sent, msg)
	deliver := r.deliver
	r.mu.Unlock()
	if deliver != nil {
		deliver(msg)
	}
	return nil
}

func (r *fakeRelay) messages() []*protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*protocol.Message, len(r.sent))
	copy(out, r.sent)
	return out
}

func (r *fakeRelay) byType(t protocol.MsgType) []*protocol.Message {
	var out []*protocol.Message
	for _, m := range r.messages() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// waitFor polls until cond holds or the deadline passes; asynchronous
// negotiation steps finish quickly but not synchronously.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
