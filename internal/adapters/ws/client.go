// Package ws implements core.RelayClient over a gorilla websocket. It
// mirrors the relay server's pump layout: a buffered send channel with
// backpressure, and a read loop that decodes envelopes onto a channel the
// orchestrator consumes.
package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pairlink/pairlink/internal/protocol"
)

var ErrBackpressure = errors.New("backpressure")

type Client struct {
	conn *websocket.Conn
	send chan *protocol.Message
	recv chan *protocol.Message

	once sync.Once
	done chan struct{}
}

// Dial connects to the relay's websocket endpoint and starts the pumps.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn: conn,
		send: make(chan *protocol.Message, 32),
		recv: make(chan *protocol.Message, 32),
		done: make(chan struct{}),
	}
	go c.writePump()
	go c.readPump()
	return c, nil
}

func (c *Client) Send(msg *protocol.Message) error {
	select {
	case <-c.done:
		return errors.New("relay connection closed")
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Client) Messages() <-chan *protocol.Message { return c.recv }

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			b, err := msg.Encode()
			if err != nil {
				log.Error().Err(err).Str("module", "ws.client").Msg("encode")
				continue
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "ws.client").Msg("set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Error().Err(err).Str("module", "ws.client").Msg("write error")
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer close(c.recv)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Error().Err(err).Str("module", "ws.client").Msg("read error")
			}
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "ws.client").Msg("bad message")
			continue
		}
		select {
		case c.recv <- msg:
		case <-c.done:
			return
		}
	}
}
