package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ylr9527/mail-wx/internal/normalize"
)

// Notifier delivers normalized mail summaries to a WeCom group-bot
// webhook. One POST per message, no retries: delivery is best-effort and
// the caller consumes the message regardless of the outcome.
type Notifier struct {
	webhookURL string
	client     *http.Client
	location   *time.Location
	logger     *slog.Logger
}

var providerLabels = map[string]string{
	"gmail": "Gmail",
	"qq":    "QQ邮箱",
}

// New creates a Notifier. displayTZ names the timezone used for the
// human-readable received time; an unknown name falls back to UTC.
func New(webhookURL, displayTZ string, logger *slog.Logger) *Notifier {
	loc, err := time.LoadLocation(displayTZ)
	if err != nil {
		logger.Warn("unknown display timezone, using UTC", "tz", displayTZ, "error", err)
		loc = time.UTC
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 15 * time.Second},
		location:   loc,
		logger:     logger,
	}
}

// textPayload is the WeCom group-bot text message wire format.
type textPayload struct {
	MsgType string `json:"msgtype"`
	Text    struct {
		Content       string   `json:"content"`
		MentionedList []string `json:"mentioned_list"`
	} `json:"text"`
}

// Render builds the human-readable notification text.
func (n *Notifier) Render(msg normalize.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📬 新邮件通知 [%s]\n", providerLabel(msg.Provider))
	fmt.Fprintf(&b, "账户: %s\n", msg.Account)
	fmt.Fprintf(&b, "时间: %s\n", msg.ReceivedAt.In(n.location).Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "发件人: %s\n", msg.Sender)
	fmt.Fprintf(&b, "主题: %s\n\n", msg.Subject)
	b.WriteString(msg.BodyExcerpt)
	return b.String()
}

// Notify renders msg and delivers it in a single attempt.
func (n *Notifier) Notify(ctx context.Context, msg normalize.Message) error {
	return n.Deliver(ctx, n.Render(msg))
}

// Deliver POSTs a text payload to the webhook. Any status outside [200,300)
// is a delivery failure.
func (n *Notifier) Deliver(ctx context.Context, content string) error {
	payload := textPayload{MsgType: "text"}
	payload.Text.Content = content
	payload.Text.MentionedList = []string{"@all"}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

func providerLabel(provider string) string {
	if label, ok := providerLabels[provider]; ok {
		return label
	}
	if provider == "" {
		return "Mail"
	}
	return provider
}
