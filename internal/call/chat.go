package call

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pairlink/pairlink/internal/core"
	"github.com/pairlink/pairlink/internal/domain"
)

const chatLabel = "chat"

// ChatMessage is one line of the live conversation. Local marks our own
// sent echo.
type ChatMessage struct {
	Text  string
	Local bool
	At    time.Time
}

// ChatChannel is the persistent text pipe of a session. It is created once
// per transport — by the caller, accepted by the receiver — and survives
// call teardowns; only session destruction closes it.
type ChatChannel struct {
	notify core.Notifier

	mu        sync.Mutex
	pipe      core.ChatPipe
	history   []ChatMessage
	onMessage func(ChatMessage)
}

func NewChatChannel(notify core.Notifier) *ChatChannel {
	return &ChatChannel{notify: notify}
}

// OnMessage registers the delivery callback for both remote messages and
// local echoes.
func (c *ChatChannel) OnMessage(fn func(ChatMessage)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// Open binds the channel to the transport. The initiator creates the pipe;
// the other side adopts the peer-created one when it arrives. Exactly one
// pipe exists per transport lifetime.
func (c *ChatChannel) Open(t core.MediaTransport, asInitiator bool) error {
	c.mu.Lock()
	if c.pipe != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if !asInitiator {
		t.OnChatPipe(c.adopt)
		return nil
	}
	pipe, err := t.CreateChatPipe(chatLabel)
	if err != nil {
		return err
	}
	c.adopt(pipe)
	return nil
}

func (c *ChatChannel) adopt(pipe core.ChatPipe) {
	c.mu.Lock()
	if c.pipe != nil {
		c.mu.Unlock()
		log.Warn().Str("module", "call.chat").Msg("second chat pipe ignored")
		pipe.Close()
		return
	}
	c.pipe = pipe
	c.mu.Unlock()

	pipe.OnOpen(func() { c.notify.Notice("Chat ready.") })
	pipe.OnClose(func() { c.notify.Notice("Chat closed.") })
	pipe.OnMessage(func(text string) {
		c.append(ChatMessage{Text: text, At: time.Now()})
	})
}

func (c *ChatChannel) append(msg ChatMessage) {
	c.mu.Lock()
	c.history = append(c.history, msg)
	fn := c.onMessage
	c.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// Ready reports whether a send would currently succeed.
func (c *ChatChannel) Ready() bool {
	c.mu.Lock()
	pipe := c.pipe
	c.mu.Unlock()
	return pipe != nil && pipe.Ready()
}

// Send enqueues text for delivery and echoes it locally as a sent message.
func (c *ChatChannel) Send(text string) error {
	c.mu.Lock()
	pipe := c.pipe
	c.mu.Unlock()
	if pipe == nil || !pipe.Ready() {
		return domain.ErrChannelNotReady
	}
	if err := pipe.Send(text); err != nil {
		return err
	}
	c.append(ChatMessage{Text: text, Local: true, At: time.Now()})
	return nil
}

// Messages returns a copy of the live-session history in arrival order.
func (c *ChatChannel) Messages() []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChatMessage, len(c.history))
	copy(out, c.history)
	return out
}

// Close tears the channel down. Only the session's destruction goes
// through here; ordinary call end never does.
func (c *ChatChannel) Close() {
	c.mu.Lock()
	pipe := c.pipe
	c.pipe = nil
	c.history = nil
	c.mu.Unlock()
	if pipe != nil {
		pipe.Close()
	}
}
