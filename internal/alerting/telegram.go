package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification carries one operator-facing message about the bot's activity.
type Notification struct {
	AccountName          string
	MarketHashName       string
	OldPriceCents        int64
	NewPriceCents        int64
	CompetitorPriceCents int64
	Status               string
	ErrorMessage         string
	Timestamp            time.Time
}

// Notifier delivers operator notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs the Telegram channel.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls the sendMessage API with a rendered text message.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Str("account", note.AccountName).
		Str("item", note.MarketHashName).
		Msg("notification sent (Telegram)")
	return nil
}

// FormatCents renders minor-currency units as dollars.
func FormatCents(cents int64) string {
	return "$" + decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)).StringFixed(2)
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	if note.Status != "" {
		builder.WriteString("[Account Status]\n")
		builder.WriteString(fmt.Sprintf("Account: %s\n", note.AccountName))
		builder.WriteString(fmt.Sprintf("Status: %s\n", note.Status))
		if note.ErrorMessage != "" {
			builder.WriteString(fmt.Sprintf("Error: %s\n", note.ErrorMessage))
		}
	} else {
		builder.WriteString("[Outbid]\n")
		builder.WriteString(fmt.Sprintf("Account: %s\n", note.AccountName))
		builder.WriteString(fmt.Sprintf("Item: %s\n", note.MarketHashName))
		builder.WriteString(fmt.Sprintf("Price: %s -> %s\n", FormatCents(note.OldPriceCents), FormatCents(note.NewPriceCents)))
		builder.WriteString(fmt.Sprintf("Competitor: %s\n", FormatCents(note.CompetitorPriceCents)))
	}
	if !note.Timestamp.IsZero() {
		builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.Timestamp.UTC().Format(time.RFC3339)))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
