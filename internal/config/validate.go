package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrMissing reports required settings that are absent.
var ErrMissing = errors.New("missing required setting")

// Validate checks required settings and parses every duration field.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Telegram.Token) == "" {
		missing = append(missing, "telegram.token ("+EnvToken+")")
	}
	if c.Telegram.ChannelID == 0 {
		missing = append(missing, "telegram.channel_id ("+EnvChannelID+")")
	}
	if strings.TrimSpace(c.Telegram.WebhookURL) == "" {
		missing = append(missing, "telegram.webhook_url ("+EnvWebhookURL+")")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}

	var errs []error
	if u, err := url.Parse(c.Telegram.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("telegram.webhook_url: must be an absolute http(s) URL, got %q", c.Telegram.WebhookURL))
	}
	if !strings.HasPrefix(c.Telegram.WebhookPath, "/") {
		errs = append(errs, fmt.Errorf("telegram.webhook_path: must start with /"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: out of range: %d", c.Server.Port))
	}
	if c.Relay.RetryMax < 0 {
		errs = append(errs, fmt.Errorf("relay.retry_max: must be >= 0"))
	}

	durations := map[string]string{
		"telegram.request_timeout": c.Telegram.RequestTimeout,
		"server.read_timeout":      c.Server.ReadTimeout,
		"server.write_timeout":     c.Server.WriteTimeout,
		"server.idle_timeout":      c.Server.IdleTimeout,
		"relay.cooldown":           c.Relay.Cooldown,
		"relay.poll_interval":      c.Relay.PollInterval,
		"relay.retry_base":         c.Relay.RetryBase,
		"relay.retry_max_delay":    c.Relay.RetryMaxDelay,
	}
	if c.Storage != nil {
		durations["storage.busy_timeout"] = c.Storage.BusyTimeout
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(c.Storage.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path: required for driver %q", c.Storage.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown %q", c.Storage.Driver))
		}
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Pprof.Enabled && strings.TrimSpace(c.Pprof.Token) == "" && !c.Pprof.AllowInsecure {
		errs = append(errs, fmt.Errorf("pprof: token required (or set allow_insecure)"))
	}
	return errors.Join(errs...)
}
