package relay

import (
	"strconv"
	"strings"
	"time"
)

// SecondsToken is replaced with the whole seconds left in Messages.QueuedWait.
const SecondsToken = "{seconds}"

// Messages holds the texts sent back to users.
type Messages struct {
	QueuedWait  string
	QueuedNow   string
	Unsupported string
}

func DefaultMessages() Messages {
	return Messages{
		QueuedWait:  "Сообщение получено. До следующей отправки в канал осталось {seconds} секунд.",
		QueuedNow:   "Сообщение получено и будет сразу отправлено в канал.\n✅ Вы уже можете снова отправить сообщение.",
		Unsupported: "(неподдерживаемый тип сообщения)",
	}
}

// withDefaults fills empty templates from DefaultMessages.
func (m Messages) withDefaults() Messages {
	def := DefaultMessages()
	if strings.TrimSpace(m.QueuedWait) == "" {
		m.QueuedWait = def.QueuedWait
	}
	if strings.TrimSpace(m.QueuedNow) == "" {
		m.QueuedNow = def.QueuedNow
	}
	if strings.TrimSpace(m.Unsupported) == "" {
		m.Unsupported = def.Unsupported
	}
	return m
}

// Reply renders the status reply for a cooldown estimate. Seconds are truncated.
func (m Messages) Reply(timeLeft time.Duration) string {
	if timeLeft > 0 {
		secs := int64(timeLeft / time.Second)
		return strings.ReplaceAll(m.QueuedWait, SecondsToken, strconv.FormatInt(secs, 10))
	}
	return m.QueuedNow
}
