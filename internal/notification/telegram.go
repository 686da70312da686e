package notification

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier posts alerts to a chat through the Bot API.
type TelegramNotifier struct {
	baseURL  string
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramNotifier creates a notifier for chatID using botToken.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		baseURL:  telegramAPI,
		botToken: botToken,
		chatID:   chatID,
		client:   newHTTPClient(),
	}
}

var levelMark = map[Level]string{
	LevelInfo:     "ℹ️",
	LevelWarning:  "⚠️",
	LevelCritical: "🚨",
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (t *TelegramNotifier) Send(ctx context.Context, a Alert) error {
	msg := telegramMessage{
		ChatID:    t.chatID,
		Text:      fmt.Sprintf("%s *%s*\n\n%s", levelMark[a.Level], escapeMarkdown(a.Title), escapeMarkdown(a.Message)),
		ParseMode: "MarkdownV2",
	}
	url := t.baseURL + "/bot" + t.botToken + "/sendMessage"
	if err := postJSON(ctx, t.client, url, msg); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

var markdownEscaper = strings.NewReplacer(
	"_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`,
	"~", `\~`, "`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`,
	"=", `\=`, "|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
)

// escapeMarkdown escapes the MarkdownV2 special characters.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
