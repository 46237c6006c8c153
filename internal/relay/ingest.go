package relay

import (
	"context"
	"sync"

	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// Handler turns inbound updates into queued envelopes and replies to the
// sender with the expected wait.
type Handler struct {
	disp    *Dispatcher
	replier transport.Sender
	log     logx.Logger

	mu   sync.RWMutex
	msgs Messages
}

// NewHandler builds a Handler. replier may be nil, in which case no status
// replies are sent.
func NewHandler(d *Dispatcher, replier transport.Sender, msgs Messages, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{disp: d, replier: replier, log: log, msgs: msgs.withDefaults()}
}

func (h *Handler) SetMessages(m Messages) {
	h.mu.Lock()
	h.msgs = m.withDefaults()
	h.mu.Unlock()
}

func (h *Handler) messages() Messages {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.msgs
}

// Accept enqueues the update's message and returns the reply to send.
// ok is false when the update is ignored: it has no message or the message is
// a bot command.
func (h *Handler) Accept(up transport.Update) (reply string, env Envelope, ok bool) {
	msg := up.Message
	if msg == nil || msg.IsCommand {
		return "", Envelope{}, false
	}
	msgs := h.messages()
	now := h.disp.clock.Now()

	// The estimate is taken before the append so it reflects the gate as the
	// sender found it.
	left := h.disp.SnapshotWait(now)
	env = NewEnvelope(msg, msgs.Unsupported, now)
	h.disp.Enqueue(env)
	return msgs.Reply(left), env, true
}

// Handle processes one update. A failed reply is logged and returned, but the
// envelope stays queued.
func (h *Handler) Handle(ctx context.Context, up transport.Update) error {
	reply, env, ok := h.Accept(up)
	if !ok {
		if up.Message != nil {
			h.log.Debug("command ignored", logx.Int64("chat_id", up.Message.ChatID))
		}
		return nil
	}
	if h.replier == nil {
		return nil
	}
	// Group chats get the reply quoted under the sender's message.
	to := env.Source
	if !up.Message.Private {
		to.ReplyTo = env.MessageID
	}
	if _, err := h.replier.SendText(ctx, to, reply); err != nil {
		h.log.Warn("status reply failed",
			logx.String("id", env.ID),
			logx.Int64("chat_id", env.Source.ChatID),
			logx.Err(err),
		)
		return err
	}
	return nil
}
