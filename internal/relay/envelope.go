package relay

import (
	"time"

	"github.com/google/uuid"

	"relaybot/internal/transport"
)

// Kind classifies an envelope's content.
type Kind uint8

const (
	KindUnsupported Kind = iota
	KindText
	KindPhoto
	KindVideo
	KindDocument
	KindAudio
	KindVoice
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindPhoto:
		return "photo"
	case KindVideo:
		return "video"
	case KindDocument:
		return "document"
	case KindAudio:
		return "audio"
	case KindVoice:
		return "voice"
	default:
		return "unsupported"
	}
}

// HasCaption reports whether the kind carries a caption when relayed.
func (k Kind) HasCaption() bool {
	switch k {
	case KindPhoto, KindVideo, KindDocument, KindAudio:
		return true
	default:
		return false
	}
}

// Envelope is one relayable message. It is treated as immutable once enqueued.
//
// Payload is the text for KindText, a provider file reference for media kinds,
// and the placeholder notice for KindUnsupported.
type Envelope struct {
	ID      string
	Kind    Kind
	Payload string
	Caption string

	Source     transport.ChatTarget
	SenderID   int64
	MessageID  int
	ReceivedAt time.Time
}

// NewEnvelope classifies msg. Content is inspected in a fixed order (text,
// photo, video, document, audio, voice) and the first present kind wins.
// A message matching none of them becomes KindUnsupported with placeholder as
// its payload.
func NewEnvelope(msg *transport.Message, placeholder string, now time.Time) Envelope {
	env := Envelope{
		ID:         uuid.NewString(),
		Kind:       KindUnsupported,
		Payload:    placeholder,
		Source:     msg.Target(),
		SenderID:   msg.FromID,
		MessageID:  msg.ID,
		ReceivedAt: now,
	}

	switch {
	case msg.Text != "":
		env.Kind, env.Payload = KindText, msg.Text
	case len(msg.Photos) > 0 && bestPhoto(msg.Photos).FileID != "":
		env.Kind, env.Payload = KindPhoto, bestPhoto(msg.Photos).FileID
	case hasFile(msg.Video):
		env.Kind, env.Payload = KindVideo, msg.Video.FileID
	case hasFile(msg.Document):
		env.Kind, env.Payload = KindDocument, msg.Document.FileID
	case hasFile(msg.Audio):
		env.Kind, env.Payload = KindAudio, msg.Audio.FileID
	case hasFile(msg.Voice):
		env.Kind, env.Payload = KindVoice, msg.Voice.FileID
	}
	if env.Kind.HasCaption() {
		env.Caption = msg.Caption
	}
	return env
}

func hasFile(m *transport.Media) bool { return m != nil && m.FileID != "" }

// bestPhoto picks the highest-resolution size. Ties go to the larger file and
// then to the later entry, since providers list sizes in ascending order.
func bestPhoto(sizes []transport.Media) transport.Media {
	best := sizes[0]
	for _, p := range sizes[1:] {
		pa, ba := p.Width*p.Height, best.Width*best.Height
		if pa > ba || (pa == ba && p.FileSize >= best.FileSize) {
			best = p
		}
	}
	return best
}
