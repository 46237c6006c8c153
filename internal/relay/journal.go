package relay

import (
	"context"
	"time"

	"relaybot/internal/eventbus"
	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

// Journal writes delivery events from the bus to a store.
type Journal struct {
	store   storage.Store
	log     logx.Logger
	timeout time.Duration
}

func NewJournal(store storage.Store, log logx.Logger) *Journal {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Journal{store: store, log: log, timeout: 2 * time.Second}
}

// Run consumes events until ctx is done or events is closed.
func (j *Journal) Run(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			d, ok := ev.Data.(Delivery)
			if !ok {
				continue
			}
			j.write(ctx, d)
		}
	}
}

func (j *Journal) write(ctx context.Context, d Delivery) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.timeout)
	defer cancel()
	if err := j.store.AppendDelivery(wctx, RecordOf(d)); err != nil {
		j.log.Warn("journal append failed", logx.String("id", d.Envelope.ID), logx.Err(err))
	}
}

// RecordOf flattens a Delivery into its stored form.
func RecordOf(d Delivery) storage.DeliveryRecord {
	r := storage.DeliveryRecord{
		At:           d.At,
		EnvelopeID:   d.Envelope.ID,
		Kind:         d.Envelope.Kind.String(),
		SourceChatID: d.Envelope.Source.ChatID,
		SenderID:     d.Envelope.SenderID,
		DestChatID:   d.Destination.ChatID,
		OK:           d.Err == nil,
		QueuedMS:     d.Queued.Milliseconds(),
		TookMS:       d.Took.Milliseconds(),
	}
	if d.Err != nil {
		r.Error = d.Err.Error()
	}
	return r
}
