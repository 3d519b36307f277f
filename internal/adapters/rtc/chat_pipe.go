package rtc

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/pairlink/pairlink/internal/core"
	"github.com/pairlink/pairlink/internal/domain"
)

// chatPipe adapts a pion data channel to core.ChatPipe. Delivery order is
// the channel's own: ordered and reliable by default.
type chatPipe struct {
	dc *webrtc.DataChannel
}

func newChatPipe(dc *webrtc.DataChannel) core.ChatPipe {
	dc.OnError(func(err error) {
		log.Error().Err(err).Str("module", "rtc").Str("label", dc.Label()).Msg("data channel error")
	})
	return &chatPipe{dc: dc}
}

func (p *chatPipe) Ready() bool {
	return p.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (p *chatPipe) Send(text string) error {
	if !p.Ready() {
		return domain.ErrChannelNotReady
	}
	return p.dc.SendText(text)
}

func (p *chatPipe) OnOpen(fn func()) { p.dc.OnOpen(fn) }

func (p *chatPipe) OnMessage(fn func(text string)) {
	p.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(string(msg.Data))
	})
}

func (p *chatPipe) OnClose(fn func()) { p.dc.OnClose(fn) }

func (p *chatPipe) Close() {
	if err := p.dc.Close(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Msg("data channel close")
	}
}
