package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "relaybot/pkg/logx"
)

// WebhookURL joins the public base address and the webhook path.
func WebhookURL(base, path string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if path == "" {
		path = "/webhook"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

type WebhookParams struct {
	URL         string
	Secret      string
	DropPending bool
}

// SetWebhook registers the webhook. Calling it again with the same URL is harmless.
func (a *Adapter) SetWebhook(ctx context.Context, p WebhookParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := a.bot.SetWebhook(&tele.Webhook{
		Endpoint:       &tele.WebhookEndpoint{PublicURL: p.URL},
		SecretToken:    p.Secret,
		DropUpdates:    p.DropPending,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return fmt.Errorf("setWebhook: %w", err)
	}
	a.log.Info("webhook registered", logx.String("url", p.URL), logx.Bool("secret_set", p.Secret != ""))
	return nil
}

func (a *Adapter) RemoveWebhook(ctx context.Context, dropPending bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.RemoveWebhook(dropPending); err != nil {
		return fmt.Errorf("deleteWebhook: %w", err)
	}
	a.log.Info("webhook removed", logx.Bool("drop_pending", dropPending))
	return nil
}

// WebhookInfo is the subset of getWebhookInfo relaybot reports.
type WebhookInfo struct {
	URL            string    `json:"url"`
	PendingUpdates int       `json:"pending_update_count"`
	LastErrorAt    time.Time `json:"last_error_at,omitempty"`
	LastError      string    `json:"last_error_message,omitempty"`
	MaxConnections int       `json:"max_connections,omitempty"`
	IP             string    `json:"ip_address,omitempty"`
}

func (a *Adapter) WebhookInfo(ctx context.Context) (WebhookInfo, error) {
	if err := ctx.Err(); err != nil {
		return WebhookInfo{}, err
	}
	data, err := a.bot.Raw("getWebhookInfo", map[string]string{})
	if err != nil {
		return WebhookInfo{}, fmt.Errorf("getWebhookInfo: %w", err)
	}
	var resp struct {
		Result struct {
			URL            string `json:"url"`
			PendingUpdates int    `json:"pending_update_count"`
			LastErrorDate  int64  `json:"last_error_date"`
			LastError      string `json:"last_error_message"`
			MaxConnections int    `json:"max_connections"`
			IP             string `json:"ip_address"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return WebhookInfo{}, fmt.Errorf("getWebhookInfo: %w", err)
	}
	r := resp.Result
	info := WebhookInfo{URL: r.URL, PendingUpdates: r.PendingUpdates, LastError: r.LastError, MaxConnections: r.MaxConnections, IP: r.IP}
	if r.LastErrorDate > 0 {
		info.LastErrorAt = time.Unix(r.LastErrorDate, 0).UTC()
	}
	return info, nil
}
