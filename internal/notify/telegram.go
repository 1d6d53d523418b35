package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/troveview/internal/domain"
)

const (
	telegramAPI = "https://api.telegram.org"

	// Bot API messages are capped at 4096 characters.
	telegramMaxText = 4096
)

// TelegramSender posts to a chat through the Bot API sendMessage method.
// Text is sent as HTML so collateral names and labels need no Markdown
// escaping.
type TelegramSender struct {
	base   string
	token  string
	chatID string
	hc     *http.Client
}

// NewTelegramSender returns a sender for the bot token and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		base:   telegramAPI,
		token:  token,
		chatID: chatID,
		hc:     &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBaseURL points the sender at another Bot API host.
func (t *TelegramSender) WithBaseURL(baseURL string) *TelegramSender {
	t.base = strings.TrimRight(baseURL, "/")
	return t
}

func (t *TelegramSender) Name() string { return "telegram" }

// Send posts title in bold above message.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	return t.post(ctx, "<b>"+html.EscapeString(title)+"</b>\n"+html.EscapeString(message))
}

// SendAlert renders a with the trove reference in monospace and a lower
// bound marked in italics.
func (t *TelegramSender) SendAlert(ctx context.Context, a domain.RedemptionAlert) error {
	title, body := AlertMessage(a)
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(title))
	fmt.Fprintf(&b, "<code>%s/%s</code>\n", html.EscapeString(string(a.Trove.CollateralType)), html.EscapeString(a.Trove.ID))
	b.WriteString(html.EscapeString(body))
	if a.LowerBound {
		b.WriteString("\n<i>Queue scan stopped early; the real figure may be higher.</i>")
	}
	return t.post(ctx, b.String())
}

type telegramReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (t *TelegramSender) post(ctx context.Context, text string) error {
	if len(text) > telegramMaxText {
		text = text[:telegramMaxText]
	}
	body, err := json.Marshal(map[string]any{
		"chat_id":                  t.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("telegram: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+"/bot"+t.token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.hc.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	var reply telegramReply
	if json.Unmarshal(raw, &reply) == nil && reply.Description != "" {
		raw = []byte(reply.Description)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("telegram: %w, retry after %ds: %s", domain.ErrRateLimited, reply.Parameters.RetryAfter, raw)
	}
	return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, raw)
}

var _ AlertSender = (*TelegramSender)(nil)
