package app

import (
	"context"
	"fmt"
	"strings"

	"relaybot/internal/config"
	logx "relaybot/pkg/logx"
)

// validateReload rejects reloads that would break a running component.
func (a *App) validateReload(_ context.Context, cfg *config.Config) error {
	for key, spec := range map[string]string{
		"schedule.webhook_refresh": cfg.Schedule.WebhookRefresh,
		"schedule.stats_report":    cfg.Schedule.StatsReport,
	} {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		if _, err := a.sched.Validate(spec); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// reloadLoop applies the hot sections of every published config.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	for _, s := range sections {
		switch s {
		case "relay":
			a.disp.Apply(mapRelayConfig(newCfg))
			a.retry.SetPolicy(mapRetryPolicy(newCfg))
		case "messages":
			a.handler.SetMessages(mapMessages(newCfg))
			a.http.SetHealth(healthText(newCfg))
		case "logging":
			a.logs.Apply(mapLogConfig(newCfg))
		}
	}
	if rr := config.RestartRequired(sections); len(rr) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(rr, ",")))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
