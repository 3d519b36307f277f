package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pairlink/pairlink/internal/core"
	"github.com/pairlink/pairlink/internal/domain"
	"github.com/pairlink/pairlink/internal/protocol"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Reg     *Registry
	Limiter *JoinRateLimiter
}

func NewController(reg *Registry) *Controller {
	return &Controller{
		Reg:     reg,
		Limiter: NewJoinRateLimiter(defaultJoinLimit, defaultJoinWindow),
	}
}

// WsRelayConn is one websocket client. Its current session key is tracked
// here so a dropped socket can be cleaned up like an explicit leave.
type WsRelayConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
	key    domain.Key
}

func (c *WsRelayConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsRelayConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *WsRelayConn) setKey(k domain.Key) {
	c.mu.Lock()
	c.key = k
	c.mu.Unlock()
}

func (c *WsRelayConn) currentKey() domain.Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "relay").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &WsRelayConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, sid, conn)
	}()
}

func (ctl *Controller) handleMessage(sid core.SessionID, conn *WsRelayConn, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad json")
		return
	}

	switch msg.Type {
	case protocol.TypeGenerateKey:
		ctl.handleGenerateKey(sid, conn)
	case protocol.TypeJoinKey:
		ctl.handleJoin(sid, conn, msg)
	case protocol.TypeLeaveKey:
		ctl.handleLeave(sid, conn, msg)
	default:
		if msg.Type.Relayed() {
			ctl.forward(sid, conn, msg, data)
			return
		}
		log.Warn().Str("module", "relay").Str("type", string(msg.Type)).Msg("unknown signal")
	}
}

func (ctl *Controller) handleGenerateKey(sid core.SessionID, conn *WsRelayConn) {
	if !ctl.Limiter.Allow(sid) {
		log.Warn().Str("module", "relay").Str("sid", string(sid)).Msg("generate_key rate limited")
		return
	}
	key := ctl.Reg.GenerateKey()
	ctl.sendMsg(conn, &protocol.Message{Type: protocol.TypeKeyGenerated, Key: key})
}

func (ctl *Controller) handleJoin(sid core.SessionID, conn *WsRelayConn, msg *protocol.Message) {
	if !ctl.Limiter.Allow(sid) {
		ctl.sendMsg(conn, &protocol.Message{
			Type:   protocol.TypeJoinError,
			Key:    msg.Key,
			Reason: string(domain.JoinUnknown),
		})
		return
	}

	key := domain.NormalizeKey(string(msg.Key))
	peers, first, err := ctl.Reg.Join(key, sid, conn)
	if err != nil {
		reason := domain.JoinUnknown
		var je *domain.JoinError
		if errors.As(err, &je) {
			reason = je.Reason
		}
		log.Info().Str("module", "relay").Str("sid", string(sid)).Str("key", string(key)).Str("reason", string(reason)).Msg("join rejected")
		ctl.sendMsg(conn, &protocol.Message{
			Type:   protocol.TypeJoinError,
			Key:    key,
			Reason: string(reason),
		})
		return
	}

	conn.setKey(key)
	ctl.sendMsg(conn, &protocol.Message{Type: protocol.TypeJoined, Key: key, Peers: peers})

	// Room just filled: the first occupant opens the transport, the second
	// learns its peer arrived.
	if first != nil {
		ctl.sendMsgTo(first, &protocol.Message{Type: protocol.TypeStartCall, Key: key})
		ctl.sendMsg(conn, &protocol.Message{Type: protocol.TypePeerJoined, Key: key})
	}
}

func (ctl *Controller) handleLeave(sid core.SessionID, conn *WsRelayConn, msg *protocol.Message) {
	key := domain.NormalizeKey(string(msg.Key))
	log.Info().Str("module", "relay").Str("sid", string(sid)).Str("key", string(key)).Msg("leave")
	remaining := ctl.Reg.Leave(key, sid)
	conn.setKey("")
	for _, peer := range remaining {
		ctl.sendMsgTo(peer, &protocol.Message{Type: protocol.TypePeerLeft, Key: key})
	}
}

// forward relays a call-signaling frame verbatim to the roommate. The
// original bytes travel untouched so the relay stays payload-agnostic.
func (ctl *Controller) forward(sid core.SessionID, conn *WsRelayConn, msg *protocol.Message, raw []byte) {
	key := msg.Key
	if key == "" {
		key = conn.currentKey()
	}
	if key == "" {
		log.Warn().Str("module", "relay").Str("sid", string(sid)).Str("type", string(msg.Type)).Msg("relay message outside a session")
		return
	}
	mate, ok := ctl.Reg.RoomMate(key, sid)
	if !ok {
		log.Debug().Str("module", "relay").Str("key", string(key)).Str("type", string(msg.Type)).Msg("no roommate, dropping")
		return
	}
	if err := mate.TrySend(core.Frame(raw)); err != nil {
		log.Error().Err(err).Str("module", "relay").Str("key", string(key)).Msg("forward failed")
	}
}

func (ctl *Controller) onDisconnect(sid core.SessionID, conn *WsRelayConn) {
	remaining := ctl.Reg.Disconnect(sid)
	key := conn.currentKey()
	for _, peer := range remaining {
		ctl.sendMsgTo(peer, &protocol.Message{Type: protocol.TypePeerLeft, Key: key})
	}
}

func (ctl *Controller) sendMsg(conn *WsRelayConn, msg *protocol.Message) {
	ctl.sendMsgTo(conn, msg)
}

func (ctl *Controller) sendMsgTo(conn core.SignalConnection, msg *protocol.Message) {
	b, err := msg.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("encode")
		return
	}
	_ = conn.TrySend(core.Frame(b))
}
