package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"relaybot/internal/relay"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type apiCall struct {
	Method string
	Params map[string]any
}

// fakeAPI mimics the Bot API endpoints relaybot calls.
type fakeAPI struct {
	mu    sync.Mutex
	calls []apiCall
	fail  string // raw error body returned for every call when set
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := path.Base(r.URL.Path)
	params := map[string]any{}
	b, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(b, &params)

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Method: method, Params: params})
	fail := f.fail
	n := len(f.calls)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if fail != "" {
		_, _ = io.WriteString(w, fail)
		return
	}
	switch method {
	case "setWebhook", "deleteWebhook":
		_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
	case "getWebhookInfo":
		_, _ = io.WriteString(w, `{"ok":true,"result":{"url":"https://relay.example.com/webhook","pending_update_count":3,"last_error_date":1700000000,"last_error_message":"Connection refused","max_connections":40}}`)
	default:
		media := ""
		switch method {
		case "sendPhoto":
			media = `,"photo":[{"file_id":"p","width":10,"height":10}]`
		case "sendVideo":
			media = `,"video":{"file_id":"v"}`
		case "sendDocument":
			media = `,"document":{"file_id":"d"}`
		case "sendAudio":
			media = `,"audio":{"file_id":"a"}`
		case "sendVoice":
			media = `,"voice":{"file_id":"vo"}`
		}
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":1,"chat":{"id":-100,"type":"channel"}%s}}`, 10+n, media)
	}
}

func (f *fakeAPI) snapshot() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

func newTestAdapter(t *testing.T) (*Adapter, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	a, err := New(Config{Token: "123:test", APIURL: srv.URL, Offline: true, RequestTimeout: 5 * time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, api
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{Offline: true}, logx.Nop()); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func TestDecodeUpdate(t *testing.T) {
	a, _ := newTestAdapter(t)
	cases := []struct {
		name  string
		body  string
		check func(t *testing.T, up kit.Update)
	}{
		{"text", `{"update_id":1,"message":{"message_id":5,"date":1,"chat":{"id":77,"type":"private"},"from":{"id":77,"username":"alice"},"text":"hello"}}`,
			func(t *testing.T, up kit.Update) {
				m := up.Message
				if up.Kind != kit.UpdateMessage || m.Text != "hello" || m.ChatID != 77 || m.FromUsername != "alice" || m.IsCommand || !m.Private {
					t.Fatalf("unexpected %+v", m)
				}
			}},
		{"command", `{"update_id":2,"message":{"message_id":6,"date":1,"chat":{"id":77,"type":"private"},"text":"/start now","entities":[{"type":"bot_command","offset":0,"length":6}]}}`,
			func(t *testing.T, up kit.Update) {
				if !up.Message.IsCommand {
					t.Fatalf("IsCommand = false")
				}
			}},
		{"mention is not a command", `{"update_id":3,"message":{"message_id":7,"date":1,"chat":{"id":77,"type":"private"},"text":"hi /start","entities":[{"type":"bot_command","offset":3,"length":6}]}}`,
			func(t *testing.T, up kit.Update) {
				if up.Message.IsCommand {
					t.Fatalf("IsCommand = true for command not at offset 0")
				}
			}},
		{"photo keeps largest size", `{"update_id":4,"message":{"message_id":8,"date":1,"chat":{"id":77,"type":"private"},"caption":"look","photo":[{"file_id":"small","width":90,"height":90},{"file_id":"large","width":1280,"height":960}]}}`,
			func(t *testing.T, up kit.Update) {
				m := up.Message
				if len(m.Photos) != 1 || m.Photos[0].FileID != "large" || m.Caption != "look" {
					t.Fatalf("photos = %+v caption=%q", m.Photos, m.Caption)
				}
			}},
		{"voice in forum thread", `{"update_id":5,"message":{"message_id":9,"message_thread_id":4,"date":1,"chat":{"id":-200,"type":"supergroup"},"voice":{"file_id":"vo","duration":3}}}`,
			func(t *testing.T, up kit.Update) {
				m := up.Message
				if m.Voice == nil || m.Voice.FileID != "vo" || m.ThreadID != 4 || m.Private {
					t.Fatalf("unexpected %+v", m)
				}
			}},
		{"edited message has no message", `{"update_id":6,"edited_message":{"message_id":1,"date":1,"chat":{"id":1,"type":"private"},"text":"x"}}`,
			func(t *testing.T, up kit.Update) {
				if up.Kind != kit.UpdateOther || up.Message != nil || up.ID != 6 {
					t.Fatalf("unexpected %+v", up)
				}
			}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			up, err := a.DecodeUpdate([]byte(tc.body))
			if err != nil {
				t.Fatalf("DecodeUpdate: %v", err)
			}
			tc.check(t, up)
		})
	}

	if _, err := a.DecodeUpdate([]byte(`{"update_id":`)); err == nil {
		t.Fatalf("malformed body: expected error")
	}
}

func TestDeliverKinds(t *testing.T) {
	dest := kit.ChatTarget{ChatID: -100}
	cases := []struct {
		env        relay.Envelope
		wantMethod string
		wantParams map[string]string
		noCaption  bool
	}{
		{relay.Envelope{Kind: relay.KindText, Payload: "hello"}, "sendMessage", map[string]string{"text": "hello"}, true},
		{relay.Envelope{Kind: relay.KindUnsupported, Payload: "(placeholder)"}, "sendMessage", map[string]string{"text": "(placeholder)"}, true},
		{relay.Envelope{Kind: relay.KindPhoto, Payload: "p", Caption: "c"}, "sendPhoto", map[string]string{"photo": "p", "caption": "c"}, false},
		{relay.Envelope{Kind: relay.KindVideo, Payload: "v", Caption: "c"}, "sendVideo", map[string]string{"video": "v", "caption": "c"}, false},
		{relay.Envelope{Kind: relay.KindDocument, Payload: "d", Caption: "c"}, "sendDocument", map[string]string{"document": "d", "caption": "c"}, false},
		{relay.Envelope{Kind: relay.KindAudio, Payload: "a", Caption: "c"}, "sendAudio", map[string]string{"audio": "a", "caption": "c"}, false},
		{relay.Envelope{Kind: relay.KindVoice, Payload: "vo"}, "sendVoice", map[string]string{"voice": "vo"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.env.Kind.String(), func(t *testing.T) {
			a, api := newTestAdapter(t)
			if err := a.Deliver(context.Background(), dest, tc.env); err != nil {
				t.Fatalf("Deliver: %v", err)
			}
			calls := api.snapshot()
			if len(calls) != 1 || calls[0].Method != tc.wantMethod {
				t.Fatalf("calls = %+v, want one %s", calls, tc.wantMethod)
			}
			p := calls[0].Params
			if fmt.Sprint(p["chat_id"]) != "-100" {
				t.Fatalf("chat_id = %v", p["chat_id"])
			}
			for k, v := range tc.wantParams {
				if fmt.Sprint(p[k]) != v {
					t.Fatalf("%s = %v, want %q", k, p[k], v)
				}
			}
			if c, ok := p["caption"]; ok && tc.noCaption && c != "" {
				t.Fatalf("unexpected caption param")
			}
		})
	}
}

func TestDeliverCanceled(t *testing.T) {
	a, api := newTestAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Deliver(ctx, kit.ChatTarget{ChatID: 1}, relay.Envelope{Kind: relay.KindText, Payload: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(api.snapshot()) != 0 {
		t.Fatalf("API called after cancel")
	}
}

func TestDeliverAPIError(t *testing.T) {
	a, api := newTestAdapter(t)
	api.fail = `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`
	err := a.Deliver(context.Background(), kit.ChatTarget{ChatID: 1}, relay.Envelope{Kind: relay.KindText, Payload: "x"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if IsRetryable(err) {
		t.Fatalf("chat not found must be permanent: %v", err)
	}
}

func TestSendTextThreadAndRef(t *testing.T) {
	a, api := newTestAdapter(t)
	ref, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: 77, ThreadID: 3}, "queued")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if ref.ChatID != 77 || ref.ThreadID != 3 || ref.MessageID == 0 {
		t.Fatalf("ref = %+v", ref)
	}
	p := api.snapshot()[0].Params
	if fmt.Sprint(p["message_thread_id"]) != "3" || p["text"] != "queued" {
		t.Fatalf("params = %v", p)
	}
}

func TestSendTextQuotesReply(t *testing.T) {
	a, api := newTestAdapter(t)
	if _, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: -500, ReplyTo: 41}, "queued"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if _, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: 77}, "queued"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	calls := api.snapshot()
	if got := fmt.Sprint(calls[0].Params["reply_to_message_id"]); got != "41" {
		t.Fatalf("reply_to_message_id = %s, params = %v", got, calls[0].Params)
	}
	if _, ok := calls[1].Params["reply_to_message_id"]; ok {
		t.Fatalf("unexpected reply_to_message_id in %v", calls[1].Params)
	}
}

func TestSplitTelegramText(t *testing.T) {
	if got := splitTelegramText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short = %q", got)
	}
	long := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitTelegramText(long, 10)
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("split = %q", got)
	}
	got = splitTelegramText(strings.Repeat("я", 25), 10)
	if len(got) != 3 || len([]rune(got[2])) != 5 {
		t.Fatalf("rune split = %q", got)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{&tele.Error{Code: 400, Description: "Bad Request: chat not found"}, false},
		{&tele.Error{Code: 403, Description: "Forbidden"}, false},
		{&tele.Error{Code: 429, Description: "Too Many Requests"}, true},
		{&tele.Error{Code: 502, Description: "Bad Gateway"}, true},
		{fmt.Errorf("send: %w", &tele.Error{Code: 400}), false},
		{errors.New("telegram: Bad Request: wrong file identifier (400)"), false},
		{errors.New("telegram: Too Many Requests: retry after 5 (429)"), true},
		{errors.New("dial tcp: connection refused"), true},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestWebhookLifecycle(t *testing.T) {
	a, api := newTestAdapter(t)
	ctx := context.Background()
	url := WebhookURL("https://relay.example.com/", "/webhook")
	if err := a.SetWebhook(ctx, WebhookParams{URL: url, Secret: "s3cret"}); err != nil {
		t.Fatalf("SetWebhook: %v", err)
	}
	info, err := a.WebhookInfo(ctx)
	if err != nil {
		t.Fatalf("WebhookInfo: %v", err)
	}
	if info.URL != url || info.PendingUpdates != 3 || info.LastError != "Connection refused" || info.LastErrorAt.Unix() != 1700000000 {
		t.Fatalf("info = %+v", info)
	}
	if err := a.RemoveWebhook(ctx, true); err != nil {
		t.Fatalf("RemoveWebhook: %v", err)
	}

	calls := api.snapshot()
	if len(calls) != 3 || calls[0].Method != "setWebhook" || calls[1].Method != "getWebhookInfo" || calls[2].Method != "deleteWebhook" {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].Params["url"] != url || calls[0].Params["secret_token"] != "s3cret" {
		t.Fatalf("setWebhook params = %v", calls[0].Params)
	}
}

func TestWebhookURL(t *testing.T) {
	cases := []struct{ base, path, want string }{
		{"https://x.example", "/webhook", "https://x.example/webhook"},
		{"https://x.example/", "/webhook", "https://x.example/webhook"},
		{" https://x.example/base/ ", "hook", "https://x.example/base/hook"},
		{"https://x.example", "", "https://x.example/webhook"},
	}
	for _, tc := range cases {
		if got := WebhookURL(tc.base, tc.path); got != tc.want {
			t.Fatalf("WebhookURL(%q, %q) = %q, want %q", tc.base, tc.path, got, tc.want)
		}
	}
}
