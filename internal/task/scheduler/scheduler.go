package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "relaybot/pkg/logx"
)

// Job is one periodic task. Timeout bounds a single run; 0 means none.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Entry describes a registered job.
type Entry struct {
	Name string
	Expr string
	Next time.Time
	Prev time.Time
}

type Service struct {
	log    logx.Logger
	parser cron.Parser
	loc    *time.Location

	mu    sync.Mutex
	jobs  []Job
	exprs []string
	ids   []cron.EntryID
	c     *cron.Cron
}

// New creates a scheduler in timezone tz (IANA name; empty means local time).
func New(tz string, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.Local
	if tz = strings.TrimSpace(tz); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("schedule.timezone: %w", err)
		}
		loc = l
	}
	return &Service{
		log: log,
		loc: loc,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}, nil
}

// Validate reports whether spec would be accepted by Add.
func (s *Service) Validate(spec string) (string, error) {
	p, err := ParseSchedule(spec)
	if err != nil {
		return "", err
	}
	expr := p.Expr()
	if _, err := s.parser.Parse(expr); err != nil {
		return "", fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return expr, nil
}

// Add registers j. It must be called before Start.
func (s *Service) Add(j Job) error {
	if j.Run == nil || strings.TrimSpace(j.Name) == "" {
		return errors.New("scheduler: job needs a name and a func")
	}
	expr, err := s.Validate(j.Spec)
	if err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return errors.New("scheduler: already started")
	}
	s.jobs = append(s.jobs, j)
	s.exprs = append(s.exprs, expr)
	return nil
}

// Len returns the number of registered jobs.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Start begins firing jobs. Without jobs it is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || len(s.jobs) == 0 {
		return
	}
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.ids = s.ids[:0]
	for i, j := range s.jobs {
		j := j
		id, err := s.c.AddFunc(s.exprs[i], func() { s.runJob(ctx, j) })
		if err != nil {
			// Validated in Add; only a parser change could get here.
			s.log.Error("schedule rejected", logx.String("job", j.Name), logx.Err(err))
			continue
		}
		s.ids = append(s.ids, id)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("jobs", len(s.ids)), logx.String("tz", s.loc.String()))
}

func (s *Service) runJob(ctx context.Context, j Job) {
	if ctx.Err() != nil {
		return
	}
	runCtx := ctx
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	start := time.Now()
	err := j.Run(runCtx)
	took := time.Since(start)
	if err != nil {
		s.log.Warn("scheduled job failed", logx.String("job", j.Name), logx.Duration("took", took), logx.Err(err))
		return
	}
	s.log.Debug("scheduled job done", logx.String("job", j.Name), logx.Duration("took", took))
}

// RunNow executes the named job once, outside its schedule.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var job *Job
	for i := range s.jobs {
		if s.jobs[i].Name == name {
			job = &s.jobs[i]
			break
		}
	}
	s.mu.Unlock()
	if job == nil {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	return job.Run(ctx)
}

// Entries lists registered jobs with their next fire time (zero before Start).
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.jobs))
	for i, j := range s.jobs {
		out[i] = Entry{Name: j.Name, Expr: s.exprs[i]}
		if s.c != nil && i < len(s.ids) {
			e := s.c.Entry(s.ids[i])
			out[i].Next, out[i].Prev = e.Next, e.Prev
		}
	}
	return out
}

// Stop halts the cron loop and waits for running jobs, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	done := c.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
