package relay

import (
	"context"
	"sync"
	"time"

	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// RetryPolicy bounds retries of a single delivery. Max is the number of extra
// attempts; 0 disables retrying.
type RetryPolicy struct {
	Max      int
	Base     time.Duration
	MaxDelay time.Duration
	// Retryable reports whether err may succeed on a later attempt.
	// nil treats every error as retryable.
	Retryable func(error) bool
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	d := base << attempt
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}
	return d
}

// RetrySink retries failed deliveries of the wrapped Sink within one dispatch
// cycle. The dispatcher still sees a single call per envelope.
type RetrySink struct {
	next Sink
	log  logx.Logger

	mu     sync.RWMutex
	policy RetryPolicy
}

func NewRetrySink(next Sink, p RetryPolicy, log logx.Logger) *RetrySink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &RetrySink{next: next, log: log, policy: p}
}

func (s *RetrySink) SetPolicy(p RetryPolicy) {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
}

func (s *RetrySink) Deliver(ctx context.Context, to transport.ChatTarget, env Envelope) error {
	s.mu.RLock()
	p := s.policy
	s.mu.RUnlock()

	var last error
	for i := 0; i <= p.Max; i++ {
		err := s.next.Deliver(ctx, to, env)
		if err == nil {
			return nil
		}
		last = err
		if i == p.Max || (p.Retryable != nil && !p.Retryable(err)) {
			break
		}
		delay := p.delay(i)
		s.log.Debug("delivery retry scheduled",
			logx.String("id", env.ID),
			logx.Int("attempt", i+2),
			logx.Duration("delay", delay),
			logx.Err(err),
		)
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return ctx.Err()
		case <-tmr.C:
		}
	}
	return last
}
