package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"relaybot/internal/relay"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// MaxUpdateBytes bounds a webhook body.
const MaxUpdateBytes = 1 << 20

const DefaultHealth = "Бот работает!"

// SecretHeader carries the webhook secret token.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

type Config struct {
	// Addr is host:port; empty means ":<Port>".
	Addr         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	WebhookPath   string
	WebhookSecret string
	Health        string
	// StatusToken guards /status. Recent deliveries carry user ids and are
	// only listed when it is set.
	StatusToken   string

	Pprof PprofConfig
}

func (c Config) addr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return fmt.Sprintf(":%d", c.Port)
}

type UpdateDecoder interface {
	DecodeUpdate(body []byte) (transport.Update, error)
}

type UpdateHandler interface {
	Handle(ctx context.Context, up transport.Update) error
}

type StatsSource interface {
	Stats() relay.Stats
	SnapshotWait(now time.Time) time.Duration
}

// RuntimeSource reports supervised goroutine counters.
type RuntimeSource interface {
	Counters() supervisor.Counters
}

type JournalReader interface {
	RecentDeliveries(ctx context.Context, limit int) ([]storage.DeliveryRecord, error)
}

// Deps are the collaborators behind the HTTP surface. Journal and Runtime may be nil.
type Deps struct {
	Decoder UpdateDecoder
	Handler UpdateHandler
	Stats   StatsSource
	Journal JournalReader
	Runtime RuntimeSource
}

// Service serves the health, webhook and status endpoints.
type Service struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	health atomic.Value // string

	mu   sync.Mutex
	ln   net.Listener
	srv  *http.Server
	done chan struct{}
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook"
	}
	s := &Service{cfg: cfg, deps: deps, log: log}
	s.SetHealth(cfg.Health)
	return s
}

// SetHealth replaces the health text; empty restores the default.
func (s *Service) SetHealth(text string) {
	if strings.TrimSpace(text) == "" {
		text = DefaultHealth
	}
	s.health.Store(text)
}

// Handler returns the routing table.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("POST "+s.cfg.WebhookPath, s.handleWebhook)
	mux.HandleFunc("GET /status", withAuth(s.cfg.StatusToken, s.handleStatus))
	if s.cfg.Pprof.Enabled {
		mountPprof(mux, s.cfg.Pprof)
	}
	return mux
}

// Start binds the listener and serves in the background. A bind failure is returned.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	if s.cfg.Pprof.Enabled {
		applyRuntimeRates(s.cfg.Pprof)
	}

	ln, err := net.Listen("tcp", s.cfg.addr())
	if err != nil {
		return fmt.Errorf("http listen %s: %w", s.cfg.addr(), err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.ln, s.srv, s.done = ln, srv, make(chan struct{})

	done := s.done
	go func() {
		defer close(done)
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server exited", logx.Err(err))
		}
	}()
	s.log.Info("http server started",
		logx.String("addr", ln.Addr().String()),
		logx.String("webhook_path", s.cfg.WebhookPath),
		logx.Bool("pprof", s.cfg.Pprof.Enabled),
	)
	return nil
}

// Addr is the bound address, or "" before Start.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down gracefully, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv, s.ln, s.done = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("http server stopped")
	return err
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, s.health.Load().(string))
}

func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if secret := s.cfg.WebhookSecret; secret != "" && !tokenEqual(r.Header.Get(SecretHeader), secret) {
		s.log.Warn("webhook secret mismatch", logx.String("remote", r.RemoteAddr))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxUpdateBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	up, err := s.deps.Decoder.DecodeUpdate(body)
	if err != nil {
		s.log.Debug("webhook decode failed", logx.Err(err))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	// Reply failures are logged by the handler. Telegram must still get OK,
	// otherwise it redelivers the same update.
	_ = s.deps.Handler.Handle(r.Context(), up)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "OK")
}

type statusResponse struct {
	Pending         int                      `json:"pending"`
	Delivered       uint64                   `json:"delivered"`
	Failed          uint64                   `json:"failed"`
	Running         bool                     `json:"running"`
	LastSentAt      *time.Time               `json:"last_sent_at"`
	CooldownSeconds float64                  `json:"cooldown_seconds"`
	NextInSeconds   float64                  `json:"next_in_seconds"`
	Runtime         *supervisor.Counters     `json:"runtime,omitempty"`
	Recent          []storage.DeliveryRecord `json:"recent,omitempty"`
}

const statusRecentLimit = 20

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Stats.Stats()
	resp := statusResponse{
		Pending:         st.Pending,
		Delivered:       st.Delivered,
		Failed:          st.Failed,
		Running:         st.Running,
		CooldownSeconds: st.Cooldown.Seconds(),
		NextInSeconds:   s.deps.Stats.SnapshotWait(time.Now()).Seconds(),
	}
	if !st.LastSentAt.IsZero() {
		t := st.LastSentAt.UTC()
		resp.LastSentAt = &t
	}
	if s.deps.Runtime != nil {
		c := s.deps.Runtime.Counters()
		resp.Runtime = &c
	}
	if s.deps.Journal != nil && strings.TrimSpace(s.cfg.StatusToken) != "" {
		recent, err := s.deps.Journal.RecentDeliveries(r.Context(), statusRecentLimit)
		if err != nil {
			s.log.Warn("status: journal read failed", logx.Err(err))
		}
		resp.Recent = recent
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
