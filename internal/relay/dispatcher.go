package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"relaybot/internal/eventbus"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// ErrAlreadyRunning is returned by Run when another Run is active on the same Dispatcher.
var ErrAlreadyRunning = errors.New("relay: dispatcher already running")

const (
	DefaultCooldown     = 120 * time.Second
	DefaultPollInterval = time.Second
)

// Sink performs one outbound delivery of env to the destination.
type Sink interface {
	Deliver(ctx context.Context, to transport.ChatTarget, env Envelope) error
}

type Config struct {
	Destination  transport.ChatTarget
	Cooldown     time.Duration
	PollInterval time.Duration
}

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	Pending    int           `json:"pending"`
	Delivered  uint64        `json:"delivered"`
	Failed     uint64        `json:"failed"`
	LastSentAt time.Time     `json:"last_sent_at"`
	Cooldown   time.Duration `json:"cooldown"`
	Running    bool          `json:"running"`
}

// Delivery describes one attempt. It is published on the event bus with
// TypeDelivered or TypeFailed.
type Delivery struct {
	Envelope    Envelope
	Destination transport.ChatTarget
	At          time.Time
	Queued      time.Duration
	Took        time.Duration
	Err         error
}

// Enqueued is published with TypeEnqueued.
type Enqueued struct {
	Envelope Envelope
	Pending  int
}

// Dispatcher owns the pending queue and the cooldown gate, and drains the
// queue in a single Run loop.
type Dispatcher struct {
	queue *Queue
	gate  *Gate
	sink  Sink
	clock Clock
	log   logx.Logger
	bus   eventbus.Bus

	mu   sync.RWMutex
	dest transport.ChatTarget
	poll time.Duration

	wake    chan struct{}
	running atomic.Bool

	delivered atomic.Uint64
	failed    atomic.Uint64
}

type Option func(*Dispatcher)

func WithClock(c Clock) Option        { return func(d *Dispatcher) { d.clock = c } }
func WithLogger(l logx.Logger) Option { return func(d *Dispatcher) { d.log = l } }
func WithBus(b eventbus.Bus) Option   { return func(d *Dispatcher) { d.bus = b } }

func NewDispatcher(cfg Config, sink Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue: &Queue{},
		gate:  NewGate(DefaultCooldown),
		sink:  sink,
		clock: SystemClock(),
		log:   logx.Nop(),
		dest:  cfg.Destination,
		poll:  DefaultPollInterval,
		wake:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(d)
	}
	d.Apply(cfg)
	return d
}

// Apply updates the cooldown and poll interval. Zero values keep defaults.
// The destination is fixed for the life of the dispatcher.
func (d *Dispatcher) Apply(cfg Config) {
	cd := cfg.Cooldown
	if cd <= 0 {
		cd = DefaultCooldown
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	d.gate.SetCooldown(cd)
	d.mu.Lock()
	d.poll = poll
	d.mu.Unlock()
}

// Enqueue appends env to the queue tail and returns the new queue length.
// It never blocks.
func (d *Dispatcher) Enqueue(env Envelope) int {
	n := d.queue.Push(env)
	select {
	case d.wake <- struct{}{}:
	default:
	}
	d.log.Debug("envelope enqueued",
		logx.String("id", env.ID),
		logx.String("kind", env.Kind.String()),
		logx.Int("pending", n),
	)
	d.publish(eventbus.TypeEnqueued, Enqueued{Envelope: env, Pending: n})
	return n
}

// SnapshotWait returns the cooldown remaining at now (zero when a delivery may happen).
func (d *Dispatcher) SnapshotWait(now time.Time) time.Duration {
	return d.gate.Remaining(now)
}

func (d *Dispatcher) Clock() Clock { return d.clock }

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Pending:    d.queue.Len(),
		Delivered:  d.delivered.Load(),
		Failed:     d.failed.Load(),
		LastSentAt: d.gate.LastSent(),
		Cooldown:   d.gate.Cooldown(),
		Running:    d.running.Load(),
	}
}

// Run drains the queue until ctx is done. Only one Run may be active.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer d.running.Store(false)

	d.log.Info("dispatcher started",
		logx.Duration("cooldown", d.gate.Cooldown()),
		logx.Duration("poll", d.pollInterval()),
		logx.Int64("chat_id", d.dest.ChatID),
	)
	defer d.log.Info("dispatcher stopped", logx.Int("pending", d.queue.Len()))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.cycle(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.wake:
		case <-d.clock.After(d.pollInterval()):
		}
	}
}

func (d *Dispatcher) pollInterval() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.poll
}

// cycle performs at most one delivery and reports whether it attempted one.
func (d *Dispatcher) cycle(ctx context.Context) bool {
	now := d.clock.Now()
	if d.queue.Len() == 0 || !d.gate.Elapsed(now) {
		return false
	}
	env, ok := d.queue.Pop()
	if !ok {
		return false
	}

	err := d.deliver(ctx, env)
	// Marked on return: a sink that retries internally must not shorten the gap.
	done := d.clock.Now()
	d.gate.Mark(done)

	rec := Delivery{
		Envelope:    env,
		Destination: d.dest,
		At:          now,
		Queued:      now.Sub(env.ReceivedAt),
		Took:        done.Sub(now),
		Err:         err,
	}
	fields := []logx.Field{
		logx.String("id", env.ID),
		logx.String("kind", env.Kind.String()),
		logx.Duration("queued", rec.Queued),
		logx.Duration("took", rec.Took),
		logx.Int("pending", d.queue.Len()),
	}
	if err != nil {
		d.failed.Add(1)
		d.log.Warn("delivery failed", append(fields, logx.Err(err))...)
		d.publish(eventbus.TypeFailed, rec)
	} else {
		d.delivered.Add(1)
		d.log.Info("envelope delivered", fields...)
		d.publish(eventbus.TypeDelivered, rec)
	}
	return true
}

// deliver calls the sink, turning a panic into an error for this envelope.
func (d *Dispatcher) deliver(ctx context.Context, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("relay: sink panic: %v", r)
		}
	}()
	return d.sink.Deliver(ctx, d.dest, env)
}

func (d *Dispatcher) publish(typ string, data any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Time: d.clock.Now(), Data: data})
}
