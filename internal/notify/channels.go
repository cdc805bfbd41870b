package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"time"

	"v20-scanner/internal/config"
)

const (
	sendTimeout     = 10 * time.Second
	telegramAPIBase = "https://api.telegram.org"
)

// WebhookNotifier posts each notification as a JSON document.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	w := &WebhookNotifier{client: &http.Client{Timeout: sendTimeout}}
	if cfg.Enabled {
		w.url = cfg.URL
	}
	return w
}

func (w *WebhookNotifier) Name() string    { return "webhook" }
func (w *WebhookNotifier) IsEnabled() bool { return w.url != "" }

type webhookPayload struct {
	Type      NotificationType       `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.IsEnabled() {
		return nil
	}
	return postJSON(ctx, w.client, w.url, webhookPayload{
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		Timestamp: n.Timestamp.Format(time.RFC3339),
	})
}

// TelegramNotifier sends messages through the Bot API sendMessage method.
// It needs both a bot token and a chat id.
type TelegramNotifier struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
}

func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	t := &TelegramNotifier{apiBase: telegramAPIBase, client: &http.Client{Timeout: sendTimeout}}
	if cfg.Enabled {
		t.token, t.chatID = cfg.BotToken, cfg.ChatID
	}
	return t
}

func (t *TelegramNotifier) Name() string    { return "telegram" }
func (t *TelegramNotifier) IsEnabled() bool { return t.token != "" && t.chatID != "" }

// Send renders the title in bold and the body preformatted, so candidate
// lines keep their column layout.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	if !t.IsEnabled() {
		return nil
	}
	msg := struct {
		ChatID    string `json:"chat_id"`
		Text      string `json:"text"`
		ParseMode string `json:"parse_mode"`
	}{
		ChatID:    t.chatID,
		Text:      "<b>" + html.EscapeString(n.Title) + "</b>\n\n<pre>" + html.EscapeString(n.Message) + "</pre>",
		ParseMode: "HTML",
	}
	return postJSON(ctx, t.client, t.apiBase+"/bot"+t.token+"/sendMessage", msg)
}

func postJSON(ctx context.Context, client *http.Client, url string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "v20-scanner")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
