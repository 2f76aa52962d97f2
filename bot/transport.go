package bot

import (
	"context"
	"fmt"

	"github.com/nlopes/slack"
	"golang.org/x/time/rate"

	"github.com/gobridge/ghrelay/event"
)

// Transport posts messages to a channel.
type Transport interface {
	Post(ctx context.Context, channelID string, msg event.Message) error
}

// Identity is who messages are posted as when the message does not say.
type Identity struct {
	Username string
	IconURL  string
}

// SlackTransport posts through the Slack Web API, at most limit messages per
// second.
type SlackTransport struct {
	api      *slack.Client
	limiter  *rate.Limiter
	identity Identity
}

// NewSlackTransport creates a SlackTransport. A limit of zero or less means
// unlimited.
func NewSlackTransport(api *slack.Client, identity Identity, limit float64) *SlackTransport {
	lim := rate.NewLimiter(rate.Inf, 1)
	if limit > 0 {
		lim = rate.NewLimiter(rate.Limit(limit), 1)
	}
	return &SlackTransport{api: api, limiter: lim, identity: identity}
}

func (t *SlackTransport) Post(ctx context.Context, channelID string, msg event.Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting to post: %w", err)
	}
	if _, _, err := t.api.PostMessageContext(ctx, channelID, t.options(msg)...); err != nil {
		return fmt.Errorf("posting to %s: %w", channelID, err)
	}
	return nil
}

func (t *SlackTransport) options(msg event.Message) []slack.MsgOption {
	username, icon := msg.Username, msg.IconURL
	if username == "" {
		username = t.identity.Username
	}
	if icon == "" {
		icon = t.identity.IconURL
	}

	opts := []slack.MsgOption{
		slack.MsgOptionAsUser(false),
		slack.MsgOptionUsername(username),
		slack.MsgOptionText(msg.Text, false),
	}
	if icon != "" {
		opts = append(opts, slack.MsgOptionIconURL(icon))
	}
	if len(msg.Attachments) > 0 {
		opts = append(opts, slack.MsgOptionAttachments(attachments(msg.Attachments)...))
	}
	return opts
}

func attachments(in []event.Attachment) []slack.Attachment {
	out := make([]slack.Attachment, len(in))
	for i, a := range in {
		out[i] = slack.Attachment{
			Fallback:   a.Fallback,
			Color:      a.Color,
			Title:      a.Title,
			TitleLink:  a.TitleLink,
			Text:       a.Text,
			MarkdownIn: a.MarkdownIn,
		}
	}
	return out
}
