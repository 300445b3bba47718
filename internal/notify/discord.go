package notify

import (
	"context"
	"net/http"
)

// discordMaxContent is the webhook message length limit.
const discordMaxContent = 2000

// DiscordSender posts alerts to a channel webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newHTTPClient()}
}

// Send posts title in bold followed by message, cut to the webhook limit.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	content := "**" + title + "**\n" + message
	content = truncate(content, discordMaxContent)
	return postJSON(ctx, d.client, d.Name(), d.webhookURL, map[string]string{"content": content})
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string { return "discord" }
