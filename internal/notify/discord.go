package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/troveview/internal/domain"
	"github.com/alanyoungcy/troveview/internal/redemption"
)

// Embed colours by alert kind.
const (
	colorBelowThreshold = 0xE67E22
	colorSharpDrop      = 0xE74C3C
	colorInfo           = 0x3498DB
)

// DiscordSender posts to a Discord webhook. Redemption alerts are sent as
// embeds; other events as plain content.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Footer      *discordFooter `json:"footer,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

// Send posts title in bold followed by message.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return d.post(ctx, discordPayload{Content: fmt.Sprintf("**%s**\n%s", title, message)})
}

// SendAlert posts a as a single embed with one field per figure.
func (d *DiscordSender) SendAlert(ctx context.Context, a domain.RedemptionAlert) error {
	return d.post(ctx, discordPayload{Embeds: []discordEmbed{alertEmbed(a)}})
}

func alertEmbed(a domain.RedemptionAlert) discordEmbed {
	title, _ := AlertMessage(a)
	e := discordEmbed{
		Title: title,
		Color: colorInfo,
		Fields: []discordField{
			{Name: "Trove", Value: fmt.Sprintf("%s #%s", a.Trove.CollateralType, a.Trove.ID), Inline: true},
			{Name: "Debt in front", Value: redemption.FormatDebtAmount(a.DebtInFront), Inline: true},
			{Name: "Troves ahead", Value: strconv.Itoa(a.TrovesAhead), Inline: true},
		},
	}
	switch a.Kind {
	case domain.AlertBelowThreshold:
		e.Color = colorBelowThreshold
	case domain.AlertSharpDrop:
		e.Color = colorSharpDrop
	}
	if a.PreviousDebt != nil {
		e.Fields = append(e.Fields, discordField{Name: "Previous", Value: redemption.FormatDebtAmount(*a.PreviousDebt), Inline: true})
	}
	if a.AlertThreshold.IsPositive() {
		e.Fields = append(e.Fields, discordField{Name: "Threshold", Value: redemption.FormatDebtAmount(a.AlertThreshold), Inline: true})
	}
	if a.LowerBound {
		e.Footer = &discordFooter{Text: "Queue listing was truncated; debt in front is a lower bound."}
	}
	if !a.RaisedAt.IsZero() {
		e.Timestamp = a.RaisedAt.UTC().Format(time.RFC3339)
	}
	return e
}

func (d *DiscordSender) post(ctx context.Context, payload discordPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns "discord".
func (d *DiscordSender) Name() string {
	return "discord"
}
