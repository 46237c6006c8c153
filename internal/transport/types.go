package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	// UpdateOther covers update types without a message (edited messages, channel posts,
	// callbacks, member changes, ...). They are accepted and ignored.
	UpdateOther UpdateKind = "other"
)

type Update struct {
	ID      int
	Kind    UpdateKind
	Message *Message
}

// Message is a provider-neutral view of one inbound message.
// Media fields are nil when absent; Photos lists every size the provider offered.
type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int  // telegram forum topic thread id (0 if none)
	Private      bool // one-to-one chat with the bot
	FromID       int64
	FromUsername string
	Text         string
	Caption      string
	IsCommand    bool

	Photos   []Media
	Video    *Media
	Document *Media
	Audio    *Media
	Voice    *Media
}

// Media references a file already stored by the provider.
type Media struct {
	FileID   string
	Width    int
	Height   int
	FileSize int64
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
	// ReplyTo quotes a message in the target chat (0 for none).
	ReplyTo int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Sender sends plain text to a chat. The Telegram adapter implements it; the
// ingestion handler uses it for status replies and logx for the log-chat sink.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string) (MessageRef, error)
}

// Target returns the chat the message came from.
func (m *Message) Target() ChatTarget {
	if m == nil {
		return ChatTarget{}
	}
	return ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
}
