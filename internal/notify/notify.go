// Package notify delivers operational reports to the humans running the
// panel. Telegram is the primary channel; when no bot token is configured
// the reports fall back to the regular log so they are never silently lost.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Telegram rejects messages over 4096 characters; chunk below that so a
// message never fails just because a report ran long.
const maxMessageLen = 4000

// Notifier delivers a report to all configured recipients.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Chunk splits text into pieces of at most maxMessageLen characters,
// breaking on newlines where possible so report tables stay readable.
func Chunk(text string) []string {
	if len(text) <= maxMessageLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > maxMessageLen {
		cut := maxMessageLen
		for i := maxMessageLen; i > maxMessageLen/2; i-- {
			if text[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

// TelegramNotifier sends reports via the Telegram Bot API to a fixed list of
// admin chats.
type TelegramNotifier struct {
	botToken string
	chatIds  []int64
	client   *http.Client
	baseUrl  string
}

func NewTelegramNotifier(botToken string, chatIds []int64) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatIds:  chatIds,
		client:   &http.Client{Timeout: 30 * time.Second},
		baseUrl:  "https://api.telegram.org",
	}
}

func (n *TelegramNotifier) Send(ctx context.Context, text string) error {
	chunks := Chunk(text)
	for _, chatId := range n.chatIds {
		for _, chunk := range chunks {
			if err := n.sendMessage(ctx, chatId, chunk); err != nil {
				// One unreachable chat must not starve the others.
				logrus.Warnf("failed to notify chat %d: %v", chatId, err)
			}
		}
	}
	return nil
}

func (n *TelegramNotifier) sendMessage(ctx context.Context, chatId int64, text string) error {
	reqBody, err := json.Marshal(map[string]any{
		"chat_id":    chatId,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal sendMessage request: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseUrl, n.botToken)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to POST sendMessage: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to POST sendMessage: status_code=%d body=%s", resp.StatusCode, string(respBody))
	}
	return nil
}

// LogNotifier writes reports to the process log. Used when Telegram is not
// configured, and in tests.
type LogNotifier struct {
	log *logrus.Logger
}

func NewLogNotifier(log *logrus.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(_ context.Context, text string) error {
	n.log.Info(text)
	return nil
}
