package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file values.
const (
	EnvToken         = "BOT_TOKEN"
	EnvChannelID     = "CHANNEL_ID"
	EnvWebhookURL    = "WEBHOOK_URL"
	EnvPort          = "PORT"
	EnvCooldown      = "COOLDOWN"
	EnvWebhookSecret = "WEBHOOK_SECRET"
	EnvLogLevel      = "LOG_LEVEL"
	EnvStatusToken   = "STATUS_TOKEN"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables already set are left alone. A missing file is an error only when
// required is true.
func LoadEnvFile(path string, required bool) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment values on cfg. Nil lookup uses os.LookupEnv.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvChannelID); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", EnvChannelID, v)
		}
		cfg.Telegram.ChannelID = id
	}
	if v, ok := get(EnvWebhookURL); ok {
		cfg.Telegram.WebhookURL = v
	}
	if v, ok := get(EnvWebhookSecret); ok {
		cfg.Telegram.WebhookSecret = v
	}
	if v, ok := get(EnvPort); ok {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", EnvPort, v)
		}
		cfg.Server.Port = p
	}
	if v, ok := get(EnvCooldown); ok {
		d, err := normalizeSeconds(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCooldown, err)
		}
		cfg.Relay.Cooldown = d
	}
	if v, ok := get(EnvStatusToken); ok {
		cfg.Server.StatusToken = v
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	return nil
}

// normalizeSeconds accepts a bare integer as seconds, otherwise a Go duration.
func normalizeSeconds(v string) (string, error) {
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return "", fmt.Errorf("must be >= 0, got %d", n)
		}
		return strconv.Itoa(n) + "s", nil
	}
	if _, err := ParseDurationField("", v); err != nil {
		return "", fmt.Errorf("invalid duration %q", v)
	}
	return v, nil
}
