package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"relaybot/internal/relay"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// Config configures the Bot API client.
type Config struct {
	Token string
	// APIURL overrides https://api.telegram.org (tests, local Bot API servers).
	APIURL         string
	RequestTimeout time.Duration
	// Offline skips the getMe call on construction.
	Offline bool
}

// Adapter is the Telegram side of relaybot. It decodes webhook updates,
// delivers envelopes to the channel and sends status replies.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:         strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		Token:       cfg.Token,
		Client:      &http.Client{Timeout: timeout},
		Offline:     cfg.Offline,
		Synchronous: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

// Username is the bot's username as reported by getMe (empty when offline).
func (a *Adapter) Username() string {
	if a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

// DecodeUpdate parses one webhook body into a provider-neutral update.
func (a *Adapter) DecodeUpdate(body []byte) (up kit.Update, err error) {
	// telebot's Photo decoder indexes the size list; keep hostile bodies from panicking.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decode update: %v", r)
		}
	}()
	var raw tele.Update
	if err := json.Unmarshal(body, &raw); err != nil {
		return kit.Update{}, fmt.Errorf("decode update: %w", err)
	}
	return convertUpdate(&raw), nil
}

func convertUpdate(u *tele.Update) kit.Update {
	up := kit.Update{ID: u.ID, Kind: kit.UpdateOther}
	m := u.Message
	if m == nil {
		return up
	}
	msg := &kit.Message{
		ID:       m.ID,
		ThreadID: m.ThreadID,
		Text:     m.Text,
		Caption:  m.Caption,
	}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
		msg.Private = m.Chat.Type == tele.ChatPrivate
	}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
	}
	msg.IsCommand = isCommand(m)
	if m.Photo != nil {
		msg.Photos = []kit.Media{{
			FileID:   m.Photo.FileID,
			Width:    m.Photo.Width,
			Height:   m.Photo.Height,
			FileSize: int64(m.Photo.FileSize),
		}}
	}
	if m.Video != nil {
		msg.Video = &kit.Media{FileID: m.Video.FileID, Width: m.Video.Width, Height: m.Video.Height, FileSize: int64(m.Video.FileSize)}
	}
	if m.Document != nil {
		msg.Document = &kit.Media{FileID: m.Document.FileID, FileSize: int64(m.Document.FileSize)}
	}
	if m.Audio != nil {
		msg.Audio = &kit.Media{FileID: m.Audio.FileID, FileSize: int64(m.Audio.FileSize)}
	}
	if m.Voice != nil {
		msg.Voice = &kit.Media{FileID: m.Voice.FileID, FileSize: int64(m.Voice.FileSize)}
	}
	up.Kind = kit.UpdateMessage
	up.Message = msg
	return up
}

// isCommand reports a bot_command entity at offset 0.
func isCommand(m *tele.Message) bool {
	for _, e := range m.Entities {
		if e.Type == tele.EntityCommand && e.Offset == 0 {
			return true
		}
	}
	return false
}

// Deliver sends env to the destination chat with the call matching its kind.
func (a *Adapter) Deliver(ctx context.Context, to kit.ChatTarget, env relay.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	what, err := outbound(env)
	if err != nil {
		return err
	}
	if s, ok := what.(string); ok {
		_, err := a.SendText(ctx, to, s)
		return err
	}
	_, err = a.bot.Send(&tele.Chat{ID: to.ChatID}, what, &tele.SendOptions{ThreadID: to.ThreadID})
	return err
}

// outbound maps an envelope onto the telebot value to send.
func outbound(env relay.Envelope) (any, error) {
	file := tele.File{FileID: env.Payload}
	switch env.Kind {
	case relay.KindText, relay.KindUnsupported:
		return env.Payload, nil
	case relay.KindPhoto:
		return &tele.Photo{File: file, Caption: env.Caption}, nil
	case relay.KindVideo:
		return &tele.Video{File: file, Caption: env.Caption}, nil
	case relay.KindDocument:
		return &tele.Document{File: file, Caption: env.Caption}, nil
	case relay.KindAudio:
		return &tele.Audio{File: file, Caption: env.Caption}, nil
	case relay.KindVoice:
		return &tele.Voice{File: file}, nil
	default:
		return nil, fmt.Errorf("telegram: unknown envelope kind %d", env.Kind)
	}
}

const telegramTextLimit = 4096

// SendText sends text, split on newline boundaries when it exceeds the
// Telegram message limit. The returned ref points at the first part.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string) (kit.MessageRef, error) {
	chat := &tele.Chat{ID: to.ChatID}
	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		opts := &tele.SendOptions{ThreadID: to.ThreadID}
		if i == 0 && to.ReplyTo != 0 {
			opts.ReplyTo = &tele.Message{ID: to.ReplyTo}
		}
		msg, err := a.bot.Send(chat, chunk, opts)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// splitTelegramText splits s into chunks of at most limit runes, preferring
// newline boundaries in the last two thirds of each window.
func splitTelegramText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// IsRetryable classifies a delivery error. Client errors (4xx other than 429)
// are permanent; rate limits and transport failures may succeed later.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *tele.Error
	if errors.As(err, &te) {
		return !isClientError(te.Code)
	}
	// Unmapped API errors and flood errors read "telegram: <desc> (<code>)".
	msg := err.Error()
	if strings.HasPrefix(msg, "telegram: ") && strings.HasSuffix(msg, ")") {
		if i := strings.LastIndex(msg, "("); i >= 0 {
			var code int
			if _, scanErr := fmt.Sscanf(msg[i:], "(%d)", &code); scanErr == nil {
				return !isClientError(code)
			}
		}
	}
	return true
}

func isClientError(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}
