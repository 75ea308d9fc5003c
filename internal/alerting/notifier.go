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

// Notification carries the context of one pool alert.
type Notification struct {
	Pool         string
	Block        uint64
	ObservedAt   time.Time
	BaseLabel    string
	QuoteLabel   string
	Price        decimal.Decimal
	PctChange    decimal.NullDecimal
	ThresholdPct decimal.Decimal
	WindowBlocks int
	DeltaQuote   decimal.NullDecimal
	DeltaBase    decimal.NullDecimal
	Direction    string
	Channels     []string
}

// Notifier pushes alerts to an external channel.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier posts alerts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
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

// Notify calls sendMessage with the rendered alert.
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

	n.logger.Info().Uint64("block", note.Block).
		Str("direction", note.Direction).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("alert delivered (telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[%s/%s Pool Alert]\n", note.BaseLabel, note.QuoteLabel))
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.ObservedAt.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Block: %d\n", note.Block))
	if note.Pool != "" {
		builder.WriteString(fmt.Sprintf("Pool: %s\n", note.Pool))
	}
	builder.WriteString(fmt.Sprintf("Price: %s %s per %s\n", note.Price.StringFixed(6), note.QuoteLabel, note.BaseLabel))
	if note.PctChange.Valid {
		builder.WriteString(fmt.Sprintf("Move: %s%% over %d blocks (threshold %s%%)\n",
			signed(note.PctChange.Decimal, 4), note.WindowBlocks, note.ThresholdPct.String()))
	}
	if note.DeltaQuote.Valid {
		builder.WriteString(fmt.Sprintf("Δ%s: %s\n", note.QuoteLabel, note.DeltaQuote.Decimal.StringFixed(2)))
	}
	if note.DeltaBase.Valid {
		builder.WriteString(fmt.Sprintf("Δ%s: %s\n", note.BaseLabel, note.DeltaBase.Decimal.StringFixed(6)))
	}
	builder.WriteString(fmt.Sprintf("Direction: %s\n", note.Direction))
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	return builder.String()
}

func signed(d decimal.Decimal, places int32) string {
	if d.Sign() >= 0 {
		return "+" + d.StringFixed(places)
	}
	return d.StringFixed(places)
}

var _ Notifier = (*TelegramNotifier)(nil)
