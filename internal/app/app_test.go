package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/server"
)

type apiCall struct {
	Method string
	Params map[string]any
}

// botAPI is a minimal Bot API double: getMe, setWebhook and send* succeed
// unless failMethod matches.
type botAPI struct {
	mu         sync.Mutex
	calls      []apiCall
	failMethod string
}

func (b *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := path.Base(r.URL.Path)
	params := map[string]any{}
	raw, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(raw, &params)

	b.mu.Lock()
	b.calls = append(b.calls, apiCall{Method: method, Params: params})
	n := len(b.calls)
	fail := b.failMethod == method
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case fail:
		_, _ = io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: bad webhook"}`)
	case method == "getMe":
		_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Relay","username":"relay_bot"}}`)
	case method == "setWebhook":
		_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
	case method == "sendPhoto":
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":1,"chat":{"id":-100500,"type":"channel"},"photo":[{"file_id":"p","width":1,"height":1}]}}`, n)
	default:
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":1,"chat":{"id":-100500,"type":"channel"}}}`, n)
	}
}

func (b *botAPI) byMethod(method string) []apiCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []apiCall
	for _, c := range b.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func noEnv(string) (string, bool) { return "", false }

func writeConfig(t *testing.T, apiURL string, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`{
  "telegram": {
    "token": "123:test",
    "channel_id": -100500,
    "webhook_url": "https://relay.example.com",
    "webhook_secret": "s3cret",
    "api_url": %q
  },
  "relay": {"cooldown": "50ms", "poll_interval": "10ms"},
  "logging": {"level": "error"},
  "storage": {"driver": "file", "path": %q}%s
}`, apiURL, filepath.Join(dir, "journal"), extra)
	p := filepath.Join(dir, "config.json")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func newTestApp(t *testing.T, extra string) (*App, *botAPI) {
	t.Helper()
	api := &botAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	cfgm := config.NewConfigManager(writeConfig(t, srv.URL, extra), noEnv)
	a, err := New(cfgm, WithListenAddr("127.0.0.1:0"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, api
}

func postUpdate(t *testing.T, addr, body string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, "http://"+addr+"/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(server.SecretHeader, "s3cret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /webhook: %v", err)
	}
	return resp
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRelayEndToEnd(t *testing.T) {
	a, api := newTestApp(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	hooks := api.byMethod("setWebhook")
	if len(hooks) != 1 || hooks[0].Params["url"] != "https://relay.example.com/webhook" || hooks[0].Params["secret_token"] != "s3cret" {
		t.Fatalf("setWebhook calls = %+v", hooks)
	}

	updates := []string{
		`{"update_id":1,"message":{"message_id":5,"date":1,"chat":{"id":77,"type":"private"},"from":{"id":77},"text":"first"}}`,
		`{"update_id":2,"message":{"message_id":6,"date":1,"chat":{"id":77,"type":"private"},"from":{"id":77},"photo":[{"file_id":"small","width":90,"height":90},{"file_id":"big","width":800,"height":800}],"caption":"pic"}}`,
		`{"update_id":3,"message":{"message_id":7,"date":1,"chat":{"id":77,"type":"private"},"from":{"id":77},"text":"/start","entities":[{"type":"bot_command","offset":0,"length":6}]}}`,
	}
	for _, u := range updates {
		resp := postUpdate(t, a.Addr(), u)
		b, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK || string(b) != "OK" {
			t.Fatalf("webhook response = %d %q", resp.StatusCode, b)
		}
	}

	waitFor(t, "two deliveries", func() bool { return a.Stats().Delivered == 2 })

	var toChannel, replies int
	for _, c := range api.byMethod("sendMessage") {
		switch fmt.Sprint(c.Params["chat_id"]) {
		case "-100500":
			toChannel++
			if c.Params["text"] != "first" {
				t.Fatalf("channel text = %v", c.Params["text"])
			}
		case "77":
			replies++
		}
	}
	if toChannel != 1 || replies != 2 {
		t.Fatalf("sendMessage: channel=%d replies=%d, want 1 and 2 (command ignored)", toChannel, replies)
	}
	photos := api.byMethod("sendPhoto")
	if len(photos) != 1 || photos[0].Params["photo"] != "big" || photos[0].Params["caption"] != "pic" {
		t.Fatalf("sendPhoto calls = %+v", photos)
	}

	waitFor(t, "journal", func() bool {
		recent, err := a.store.RecentDeliveries(context.Background(), 10)
		return err == nil && len(recent) == 2
	})

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStartFailsWhenWebhookRejected(t *testing.T) {
	a, api := newTestApp(t, "")
	api.mu.Lock()
	api.failMethod = "setWebhook"
	api.mu.Unlock()

	err := a.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "register webhook") {
		t.Fatalf("Start err = %v", err)
	}
	if a.Addr() != "" {
		t.Fatalf("http server still bound at %s", a.Addr())
	}
	_ = a.store.Close()
	_ = a.logs.Close()
}

func TestApplyConfigHotSections(t *testing.T) {
	a, _ := newTestApp(t, "")
	old := a.cfgm.Get()

	next := *old
	next.Relay.Cooldown = "3s"
	next.Messages.Health = "alive"
	next.Server.Port = 12000
	a.applyConfig(old, &next)

	if got := a.Stats().Cooldown; got != 3*time.Second {
		t.Fatalf("cooldown = %v, want 3s", got)
	}
	rec := httptest.NewRecorder()
	a.http.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Body.String() != "alive" {
		t.Fatalf("health = %q", rec.Body.String())
	}
	_ = a.store.Close()
	_ = a.logs.Close()
}

func TestJobsRegisteredFromSchedule(t *testing.T) {
	a, api := newTestApp(t, `,
  "schedule": {"webhook_refresh": "6h", "stats_report": "@hourly"}`)
	if a.sched.Len() != 2 {
		t.Fatalf("jobs = %d, want 2", a.sched.Len())
	}
	if err := a.sched.RunNow(context.Background(), JobWebhookRefresh); err != nil {
		t.Fatalf("webhook_refresh: %v", err)
	}
	if len(api.byMethod("setWebhook")) != 1 {
		t.Fatalf("webhook_refresh did not call setWebhook")
	}
	if err := a.sched.RunNow(context.Background(), JobStatsReport); err != nil {
		t.Fatalf("stats_report: %v", err)
	}

	if err := a.validateReload(context.Background(), &config.Config{Schedule: config.ScheduleConfig{StatsReport: "61 * * * *"}}); err == nil {
		t.Fatalf("validateReload accepted a bad schedule")
	}
	_ = a.store.Close()
	_ = a.logs.Close()
}

func TestMapStorageConfig(t *testing.T) {
	tests := []struct {
		name    string
		in      *config.StorageConfig
		enabled bool
		driver  string
	}{
		{name: "absent", in: nil},
		{name: "none", in: &config.StorageConfig{Driver: "none"}},
		{name: "sqlite", in: &config.StorageConfig{Driver: " SQLite ", Path: "x.db", BusyTimeout: "2s"}, enabled: true, driver: "sqlite"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, enabled := mapStorageConfig(&config.Config{Storage: tt.in})
			if enabled != tt.enabled || sc.Driver != tt.driver {
				t.Fatalf("got (%+v, %v)", sc, enabled)
			}
			if tt.enabled && sc.BusyTimeout != 2*time.Second {
				t.Fatalf("BusyTimeout = %v", sc.BusyTimeout)
			}
		})
	}
}

func TestMapRelayConfigDefaults(t *testing.T) {
	cfg := &config.Config{}
	cfg.Telegram.ChannelID = -1
	rc := mapRelayConfig(cfg)
	if rc.Cooldown != 120*time.Second || rc.PollInterval != time.Second || rc.Destination.ChatID != -1 {
		t.Fatalf("relay config = %+v", rc)
	}
	if healthText(cfg) != server.DefaultHealth {
		t.Fatalf("health default = %q", healthText(cfg))
	}
}
