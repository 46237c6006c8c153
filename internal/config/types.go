package config

// Config is the full relaybot configuration.
//
// Durations are Go duration strings (e.g. "500ms", "10s", "2m").
// Environment variables (see env.go) override file values.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Server   ServerConfig   `json:"server"`
	Relay    RelayConfig    `json:"relay"`
	Messages MessagesConfig `json:"messages,omitempty"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Schedule ScheduleConfig `json:"schedule,omitempty"`
	Pprof    PprofConfig    `json:"pprof,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// ChannelID is the destination channel every envelope is relayed to.
	ChannelID int64 `json:"channel_id"`
	// WebhookURL is the public base address; WebhookPath is appended to it.
	WebhookURL  string `json:"webhook_url"`
	WebhookPath string `json:"webhook_path,omitempty"` // default: "/webhook"
	// WebhookSecret is sent on registration and checked on every update (do not log).
	WebhookSecret string `json:"webhook_secret,omitempty"`
	// DropPending discards updates queued at Telegram when the webhook is registered.
	DropPending bool `json:"drop_pending,omitempty"`

	APIURL         string `json:"api_url,omitempty"`         // default: https://api.telegram.org
	RequestTimeout string `json:"request_timeout,omitempty"` // default: "30s"
}

type ServerConfig struct {
	Port         int    `json:"port"` // default: 10000
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
	// StatusToken guards GET /status (bearer or ?token=, do not log).
	// Without it the endpoint serves counters only.
	StatusToken  string `json:"status_token,omitempty"`
}

// RelayConfig controls the dispatcher. Every field is hot-reloadable.
//
// Defaults (when fields are omitted/zero):
//   - cooldown: "120s"
//   - poll_interval: "1s"
//   - retry_max: 0 (one attempt per envelope)
//   - retry_base: "500ms"
//   - retry_max_delay: "10s"
type RelayConfig struct {
	Cooldown      string `json:"cooldown"`
	PollInterval  string `json:"poll_interval,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// MessagesConfig overrides user-facing texts. Empty fields keep the built-in texts.
// QueuedWait may contain "{seconds}".
type MessagesConfig struct {
	QueuedWait  string `json:"queued_wait,omitempty"`
	QueuedNow   string `json:"queued_now,omitempty"`
	Unsupported string `json:"unsupported,omitempty"`
	Health      string `json:"health,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the delivery journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/relaybot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	MaxRecords  int    `json:"max_records,omitempty"`  // sqlite only; 0 keeps all
}

// ScheduleConfig holds periodic jobs. Each spec is a cron expression
// ("0 */6 * * *", "@hourly") or a Go duration ("30m"). Empty disables the job.
type ScheduleConfig struct {
	Timezone       string `json:"timezone,omitempty"`
	WebhookRefresh string `json:"webhook_refresh,omitempty"`
	StatsReport    string `json:"stats_report,omitempty"`
}

// PprofConfig mounts net/http/pprof on the main server.
//
// Security note:
//   - The server listens on a public port. Set a token unless allow_insecure is
//     an explicit choice.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

const (
	DefaultWebhookPath = "/webhook"
	DefaultPort        = 10000
	DefaultCooldown    = "120s"
)

// ApplyDefaults fills fields whose zero value has a non-zero default.
func (c *Config) ApplyDefaults() {
	if c.Telegram.WebhookPath == "" {
		c.Telegram.WebhookPath = DefaultWebhookPath
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Relay.Cooldown == "" {
		c.Relay.Cooldown = DefaultCooldown
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Pprof.Prefix == "" {
		c.Pprof.Prefix = "/debug/pprof/"
	}
}
