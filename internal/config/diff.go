package config

import (
	"reflect"
	"sort"
	"strings"

	logx "relaybot/pkg/logx"
)

// hotSections are applied live on reload; others need a restart.
var hotSections = map[string]bool{"relay": true, "messages": true, "logging": true}

// SummarizeConfigChange returns the changed sections (sorted) and safe
// structured attrs for logging. Secrets are reported only as *_set flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	o, n := oldCfg.Telegram, newCfg.Telegram
	if o.ChannelID != n.ChannelID || o.WebhookURL != n.WebhookURL || o.WebhookPath != n.WebhookPath ||
		o.APIURL != n.APIURL || o.RequestTimeout != n.RequestTimeout || o.DropPending != n.DropPending ||
		o.Token != n.Token || o.WebhookSecret != n.WebhookSecret {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int64("telegram.channel_id", n.ChannelID),
			logx.String("telegram.webhook_url", strings.TrimSpace(n.WebhookURL)),
			logx.Bool("telegram.token_changed", o.Token != n.Token),
			logx.Bool("telegram.secret_set", strings.TrimSpace(n.WebhookSecret) != ""),
		)
	}

	if oldCfg.Server != newCfg.Server {
		changed = append(changed, "server")
		attrs = append(attrs, logx.Int("server.port", newCfg.Server.Port))
	}

	if oldCfg.Relay != newCfg.Relay {
		changed = append(changed, "relay")
		attrs = append(attrs,
			logx.String("relay.cooldown", newCfg.Relay.Cooldown),
			logx.String("relay.poll_interval", newCfg.Relay.PollInterval),
			logx.Int("relay.retry_max", newCfg.Relay.RetryMax),
		)
	}

	if oldCfg.Messages != newCfg.Messages {
		changed = append(changed, "messages")
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Nil storage means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if !reflect.DeepEqual(oS, nS) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.String("schedule.webhook_refresh", newCfg.Schedule.WebhookRefresh),
			logx.String("schedule.stats_report", newCfg.Schedule.StatsReport),
		)
	}

	op, np := oldCfg.Pprof, newCfg.Pprof
	if op != np {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", np.Enabled),
			logx.String("pprof.prefix", np.Prefix),
			logx.Bool("pprof.token_set", strings.TrimSpace(np.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired filters changed sections down to those not applied live.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !hotSections[s] {
			out = append(out, s)
		}
	}
	return out
}
