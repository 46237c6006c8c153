package app

import (
	"context"
	"strings"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/task/scheduler"
	logx "relaybot/pkg/logx"
)

const (
	JobWebhookRefresh = "webhook_refresh"
	JobStatsReport    = "stats_report"
)

// registerJobs adds the periodic jobs that have a schedule. Schedules are
// read once; changing them needs a restart.
func (a *App) registerJobs(cfg *config.Config) error {
	jobs := []scheduler.Job{
		{Name: JobWebhookRefresh, Spec: cfg.Schedule.WebhookRefresh, Timeout: WebhookTimeout, Run: a.refreshWebhook},
		{Name: JobStatsReport, Spec: cfg.Schedule.StatsReport, Timeout: 5 * time.Second, Run: a.reportStats},
	}
	for _, j := range jobs {
		if strings.TrimSpace(j.Spec) == "" {
			continue
		}
		if err := a.sched.Add(j); err != nil {
			return err
		}
	}
	return nil
}

// refreshWebhook re-registers the webhook. setWebhook is idempotent, so this
// heals a registration dropped on Telegram's side.
func (a *App) refreshWebhook(ctx context.Context) error {
	return a.tg.SetWebhook(ctx, mapWebhookParams(a.cfgm.Get()))
}

func (a *App) reportStats(ctx context.Context) error {
	st := a.disp.Stats()
	fields := []logx.Field{
		logx.Int("pending", st.Pending),
		logx.Uint64("delivered", st.Delivered),
		logx.Uint64("failed", st.Failed),
		logx.Duration("cooldown", st.Cooldown),
		logx.Bool("running", st.Running),
	}
	if !st.LastSentAt.IsZero() {
		fields = append(fields, logx.Time("last_sent_at", st.LastSentAt))
	}
	if a.store != nil {
		recent, err := a.store.RecentDeliveries(ctx, 50)
		if err != nil {
			return err
		}
		failed := 0
		for _, r := range recent {
			if !r.OK {
				failed++
			}
		}
		fields = append(fields, logx.Int("recent_failed", failed), logx.Int("recent", len(recent)))
	}
	a.log.Info("relay stats", fields...)
	a.notify.Status("pending=%d delivered=%d failed=%d", st.Pending, st.Delivered, st.Failed)
	return nil
}
