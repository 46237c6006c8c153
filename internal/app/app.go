package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/eventbus"
	"relaybot/internal/relay"
	"relaybot/internal/runtime/sdnotify"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/server"
	"relaybot/internal/storage"
	"relaybot/internal/task/scheduler"
	telegram "relaybot/internal/transport/telegram/adapter"
	logx "relaybot/pkg/logx"
)

// WebhookTimeout bounds webhook registration at startup and on refresh.
const WebhookTimeout = 15 * time.Second

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	tg      *telegram.Adapter
	retry   *relay.RetrySink
	disp    *relay.Dispatcher
	handler *relay.Handler
	journal *relay.Journal
	http    *server.Service
	sched   *scheduler.Service
	notify  *sdnotify.Notifier
}

type options struct {
	addr  string
	clock relay.Clock
}

type Option func(*options)

// WithListenAddr overrides ":<server.port>" (tests bind 127.0.0.1:0).
func WithListenAddr(addr string) Option { return func(o *options) { o.addr = addr } }

// WithClock replaces the dispatcher clock.
func WithClock(c relay.Clock) Option { return func(o *options) { o.clock = c } }

// New builds every component from the manager's config. It loads the config
// when the manager has none committed yet.
func New(cfgm *config.ConfigManager, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	cfg := cfgm.Get()
	if cfg == nil {
		var err error
		if cfg, err = cfgm.Load(); err != nil {
			return nil, err
		}
	}

	// The Telegram log sink starts once the adapter exists (SetSender below).
	logSvc, root := logx.New(mapLogConfig(cfg), nil)
	log := root.With(logx.String("comp", "app"))

	tg, err := telegram.New(mapTelegramConfig(cfg), root.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	logSvc.SetSender(tg)

	var store storage.Store
	if sc, enabled := mapStorageConfig(cfg); enabled {
		store, err = storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	bus := eventbus.New()
	retry := relay.NewRetrySink(tg, mapRetryPolicy(cfg), root.With(logx.String("comp", "relay.retry")))
	dopts := []relay.Option{
		relay.WithLogger(root.With(logx.String("comp", "relay.dispatcher"))),
		relay.WithBus(bus),
	}
	if o.clock != nil {
		dopts = append(dopts, relay.WithClock(o.clock))
	}
	disp := relay.NewDispatcher(mapRelayConfig(cfg), retry, dopts...)
	handler := relay.NewHandler(disp, tg, mapMessages(cfg), root.With(logx.String("comp", "relay.ingest")))

	a := &App{}
	deps := server.Deps{Decoder: tg, Handler: handler, Stats: disp, Runtime: runtimeCounters{a}}
	var journal *relay.Journal
	if store != nil {
		deps.Journal = store
		journal = relay.NewJournal(store, root.With(logx.String("comp", "relay.journal")))
	}
	httpSvc := server.New(mapServerConfig(cfg, o.addr), deps, root.With(logx.String("comp", "http")))

	sched, err := scheduler.New(cfg.Schedule.Timezone, root.With(logx.String("comp", "scheduler")))
	if err != nil {
		closeStore(store)
		_ = logSvc.Close()
		return nil, err
	}

	*a = App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		tg:      tg,
		retry:   retry,
		disp:    disp,
		handler: handler,
		journal: journal,
		http:    httpSvc,
		sched:   sched,
		notify:  sdnotify.New(root.With(logx.String("comp", "systemd"))),
	}
	if err := a.registerJobs(cfg); err != nil {
		closeStore(store)
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

// runtimeCounters reads the supervisor created by Start.
type runtimeCounters struct{ a *App }

func (r runtimeCounters) Counters() supervisor.Counters { return r.a.sup.Counters() }

func closeStore(s storage.Store) {
	if s != nil {
		_ = s.Close()
	}
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Addr is the HTTP listen address after Start.
func (a *App) Addr() string { return a.http.Addr() }

// Stats exposes the dispatcher counters.
func (a *App) Stats() relay.Stats { return a.disp.Stats() }

// Start binds the HTTP server, registers the webhook and starts the
// background loops. Any error here is fatal for the process.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validateReload)

	if err := a.http.Start(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, WebhookTimeout)
	err := a.tg.SetWebhook(wctx, mapWebhookParams(a.cfgm.Get()))
	cancel()
	if err != nil {
		a.sup.Cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.http.Stop(stopCtx)
		stopCancel()
		return fmt.Errorf("register webhook: %w", err)
	}

	// A panic inside one cycle restarts the loop; the single-instance guard
	// is released on the way out so the restart can take over.
	a.sup.GoRestart("relay.dispatcher", a.disp.Run, supervisor.WithRestartBackoff(250*time.Millisecond, 5*time.Second))

	if a.journal != nil {
		events, unsub := a.bus.Subscribe(256)
		a.sup.Go("relay.journal", func(c context.Context) error {
			defer unsub()
			return a.journal.Run(c, events)
		})
	}

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sched.Start(a.sup.Context())
	a.sup.Go("systemd.watchdog", a.notify.Watchdog)

	a.notify.Ready()
	a.log.Info("app started",
		logx.String("addr", a.http.Addr()),
		logx.Int64("channel_id", a.cfgm.Get().Telegram.ChannelID),
		logx.Int("jobs", a.sched.Len()),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify.Stopping()

	var errs []error
	// http first so no update arrives after the dispatcher is gone.
	errs = append(errs, a.step(ctx, "http", 5*time.Second, a.http.Stop))
	a.sup.Cancel()
	errs = append(errs, a.step(ctx, "scheduler", 2*time.Second, a.sched.Stop))
	// dispatcher, journal and config watch
	errs = append(errs, a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait))
	errs = append(errs, a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	}))

	st := a.disp.Stats()
	a.log.Info("stopped",
		logx.Int("pending_dropped", st.Pending),
		logx.Uint64("delivered", st.Delivered),
		logx.Uint64("failed", st.Failed),
	)
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return fmt.Errorf("stop %s: %w", name, context.DeadlineExceeded)
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		took := time.Since(start)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			return fmt.Errorf("stop %s: %w", name, err)
		}
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
		return nil
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
		return fmt.Errorf("stop %s: %w", name, stepCtx.Err())
	}
}
