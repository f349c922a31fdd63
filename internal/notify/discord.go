package notify

import (
	"context"
	"fmt"
	"net/http"
)

// discordMaxContent is the webhook content length limit.
const discordMaxContent = 2000

// DiscordSender posts market events to a channel webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: senderTimeout},
	}
}

// discordMessage is the subset of the webhook body the engine fills in.
// Mentions are disabled so event text can never ping the channel.
type discordMessage struct {
	Username        string `json:"username"`
	Content         string `json:"content"`
	AllowedMentions struct {
		Parse []string `json:"parse"`
	} `json:"allowed_mentions"`
}

// Send posts the title in bold above the message. Content past the webhook
// limit is cut with an ellipsis.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	msg := discordMessage{
		Username: "marketd",
		Content:  clip(fmt.Sprintf("**%s**\n%s", title, message), discordMaxContent),
	}
	msg.AllowedMentions.Parse = []string{}
	return postJSON(ctx, d.client, d.Name(), d.webhookURL, msg)
}

func (d *DiscordSender) Name() string { return "discord" }

// clip cuts s to at most limit runes.
func clip(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
