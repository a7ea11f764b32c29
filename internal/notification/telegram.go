package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"
)

// TelegramNotifier delivers alerts through the Telegram Bot API as
// MarkdownV2 messages.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

// NewTelegramNotifier builds a notifier for one bot token and target chat.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func levelEmoji(l AlertLevel) string {
	switch l {
	case AlertCritical:
		return "🚨"
	case AlertWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

// Send posts one message. Telegram rejects unescaped MarkdownV2 special
// characters with a 400, so every dynamic part goes through escapeMarkdown.
func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	var text strings.Builder
	fmt.Fprintf(&text, "%s *%s*\n\n%s",
		levelEmoji(alert.Level), escapeMarkdown(alert.Title), escapeMarkdown(alert.Message))
	for _, k := range sortedKeys(alert.Fields) {
		fmt.Fprintf(&text, "\n%s: %s", escapeMarkdown(k), escapeMarkdown(alert.Fields[k]))
	}

	body, _ := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       text.String(),
		"parse_mode": "MarkdownV2",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: sendMessage returned %d", resp.StatusCode)
	}

	log.Printf("[telegram] alert sent: %s", alert.Title)
	return nil
}

// escapeMarkdown backslash-escapes MarkdownV2 metacharacters.
func escapeMarkdown(s string) string {
	const specials = "_*[]()~`>#+-=|{}.!"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(specials, s[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
