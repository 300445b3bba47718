package notify

import (
	"context"
	"net/http"
	"strings"
)

const (
	defaultTelegramAPI = "https://api.telegram.org"
	telegramMaxText    = 4096
)

var titleEscaper = strings.NewReplacer("*", "", "_", " ", "`", "", "[", "(", "]", ")")

// TelegramSender posts alerts to one chat through the Bot API.
type TelegramSender struct {
	endpoint string
	chatID   string
	client   *http.Client
}

// NewTelegramSender creates a TelegramSender for the bot token and chat ID.
// An empty baseURL selects the public Bot API.
func NewTelegramSender(token, chatID, baseURL string) *TelegramSender {
	if baseURL == "" {
		baseURL = defaultTelegramAPI
	}
	return &TelegramSender{
		endpoint: strings.TrimRight(baseURL, "/") + "/bot" + token + "/sendMessage",
		chatID:   chatID,
		client:   newHTTPClient(),
	}
}

// Send calls sendMessage with the title in bold. Markdown control characters
// in the title are neutralised so an intent name cannot break the parse.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	title = titleEscaper.Replace(title)
	text := "*" + title + "*\n" + message
	text = truncate(text, telegramMaxText)
	return postJSON(ctx, t.client, t.Name(), t.endpoint, map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string { return "telegram" }
