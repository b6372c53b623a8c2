package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramChannel delivers alerts to a chat via the bot sendMessage API.
// Without a token and chat id it degrades to a no-op so the manager can
// always carry the channel.
type TelegramChannel struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
}

func NewTelegramChannel(token, chatID string) *TelegramChannel {
	return &TelegramChannel{
		token:   token,
		chatID:  chatID,
		apiBase: telegramAPIBase,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

func levelTag(level AlertLevel) string {
	switch level {
	case Warning:
		return "WARN"
	case Error:
		return "ERROR"
	case Critical:
		return "CRITICAL"
	default:
		return "INFO"
	}
}

// message renders the alert as HTML. Fields are sorted so repeated
// alerts for the same event render identically.
func (t *TelegramChannel) message(a AlertPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>[%s] %s</b>\n%s", levelTag(a.Level), a.Title, a.Message)

	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, a.Fields[k])
	}
	return b.String()
}

func (t *TelegramChannel) Send(ctx context.Context, a AlertPayload) error {
	if t.token == "" || t.chatID == "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       t.message(a),
		"parse_mode": "HTML",
	})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("telegram sendMessage: status %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
