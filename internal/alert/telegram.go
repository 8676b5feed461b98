package alert

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Notifier delivers alert text to a messaging channel.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// TelegramNotifier posts alerts via the Telegram bot sendMessage API.
// With no token or chat configured it only logs the alert text.
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *http.Client
	log      *slog.Logger
}

// NewTelegramNotifier builds a notifier; empty credentials disable sending.
func NewTelegramNotifier(botToken, chatID string, log *slog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 5 * time.Second},
		log:      log,
	}
}

// Notify sends one message.
func (t *TelegramNotifier) Notify(ctx context.Context, text string) error {
	if t.botToken == "" || t.chatID == "" {
		t.log.Info("telegram disabled", "text", text)
		return nil
	}

	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	form := url.Values{
		"chat_id": {t.chatID},
		"text":    {text},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}
	return nil
}
