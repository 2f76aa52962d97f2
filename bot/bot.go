// Package bot connects to Slack: it tracks the channels the bot is in,
// routes events to them and runs chat commands.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nlopes/slack"

	"github.com/gobridge/ghrelay/bus"
)

// Directory lists the conversations and users visible to the bot.
// *slack.Client satisfies it.
type Directory interface {
	GetConversationsForUserContext(ctx context.Context, params *slack.GetConversationsForUserParameters) ([]slack.Channel, string, error)
	GetUsersContext(ctx context.Context) ([]slack.User, error)
}

// conversationTypes are the conversations a route can target.
var conversationTypes = []string{"public_channel", "private_channel", "mpim", "im"}

const conversationPageSize = 200

// Bot is the Slack side of the relay.
type Bot struct {
	api       *slack.Client
	dir       Directory
	name      string
	channels  *Registry
	users     *Users
	handler   Handler
	transport Transport
	bus       *bus.Dispatcher
	log       *slog.Logger

	id string
}

// New creates a Bot. name is an additional prefix, besides a mention, that
// directs a message at the bot.
func New(api *slack.Client, name string, channels *Registry, users *Users, h Handler, t Transport, d *bus.Dispatcher, log *slog.Logger) *Bot {
	b := &Bot{
		api:       api,
		name:      strings.ToLower(strings.TrimPrefix(name, "@")),
		channels:  channels,
		users:     users,
		handler:   h,
		transport: t,
		bus:       d,
		log:       log,
	}
	if api != nil {
		b.dir = api
	}
	return b
}

// Run manages the RTM connection until ctx is done. The channel registry is
// left as it is on return so events already queued can still be routed.
func (b *Bot) Run(ctx context.Context) error {
	rtm := b.api.NewRTM()
	go rtm.ManageConnection()

	b.loop(ctx, rtm.IncomingEvents)
	if err := rtm.Disconnect(); err != nil {
		b.log.Warn("disconnecting from Slack", "error", err)
	}
	return nil
}

// loop handles events until ctx is done or events is closed.
func (b *Bot) loop(ctx context.Context, events <-chan slack.RTMEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			b.handleEvent(ctx, msg.Data)
		}
	}
}

func (b *Bot) handleEvent(ctx context.Context, data interface{}) {
	switch ev := data.(type) {
	case *slack.ConnectedEvent:
		b.connected(ctx, ev.Info)
	case *slack.DisconnectedEvent:
		b.log.InfoContext(ctx, "disconnected from Slack", "intentional", ev.Intentional)
		b.channels.Clear()
	case *slack.ChannelJoinedEvent:
		b.channels.Add(Channel{ID: ev.Channel.ID, Name: ev.Channel.Name, IsMember: true})
	case *slack.GroupJoinedEvent:
		b.channels.Add(Channel{ID: ev.Channel.ID, Name: ev.Channel.Name, IsMember: true})
	case *slack.IMCreatedEvent:
		b.channels.Add(Channel{ID: ev.Channel.ID, Name: ev.User, IsMember: true, IsIM: true})
	case *slack.ChannelLeftEvent:
		b.channels.Remove(ev.Channel)
	case *slack.GroupLeftEvent:
		b.channels.Remove(ev.Channel)
	case *slack.TeamJoinEvent:
		b.users.Set(ev.User)
	case *slack.UserChangeEvent:
		b.users.Set(ev.User)
	case *slack.MessageEvent:
		b.handleMessage(ctx, ev)
	case *slack.InvalidAuthEvent:
		b.bus.Error(ctx, errInvalidAuth)
	}
}

// connected records the bot's identity and rebuilds the channel and user
// directories. On failure the previous directories are kept.
func (b *Bot) connected(ctx context.Context, info *slack.Info) {
	if info != nil && info.User != nil {
		b.id = info.User.ID
		if b.name == "" {
			b.name = strings.ToLower(info.User.Name)
		}
	}
	if err := b.refresh(ctx); err != nil {
		b.log.ErrorContext(ctx, "refreshing Slack directory", "error", err)
		b.bus.Error(ctx, err)
	}

	b.log.InfoContext(ctx, "connected to Slack", "id", b.id, "channels", len(b.channels.Snapshot()))
	b.bus.Log(ctx, "Connected as", b.id)
}

func (b *Bot) refresh(ctx context.Context) error {
	if b.dir == nil {
		return nil
	}
	channels, err := b.conversations(ctx)
	if err != nil {
		return err
	}
	users, err := b.dir.GetUsersContext(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}
	b.channels.Reset(channels)
	b.users.Reset(users)
	return nil
}

// conversations pages through every conversation the bot is a member of.
func (b *Bot) conversations(ctx context.Context) ([]Channel, error) {
	params := &slack.GetConversationsForUserParameters{
		UserID:          b.id,
		Types:           conversationTypes,
		Limit:           conversationPageSize,
		ExcludeArchived: true,
	}
	var out []Channel
	for {
		page, next, err := b.dir.GetConversationsForUserContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("listing conversations: %w", err)
		}
		out = append(out, channelsFromConversations(page)...)
		if next == "" {
			return out, nil
		}
		params.Cursor = next
	}
}

// handleMessage ignores bot traffic and edits, then hands the message to the
// handler.
func (b *Bot) handleMessage(ctx context.Context, ev *slack.MessageEvent) {
	if ev.SubType != "" || ev.BotID != "" || ev.User == "" || len(ev.Attachments) > 0 {
		return
	}

	ch, ok := b.channels.Get(ev.Channel)
	if !ok {
		// Direct message channel ids start with D.
		ch = Channel{ID: ev.Channel, IsIM: strings.HasPrefix(ev.Channel, "D")}
	}
	user := b.users.Get(ev.User)

	text, directed := b.trimBot(ev.Text)
	if ch.IsIM {
		directed = true
	}

	m := Message{
		Event:         ev,
		Channel:       ch,
		User:          user,
		TrimmedText:   text,
		DirectedToBot: directed,
	}
	b.handler.Handle(ctx, m, &responder{
		transport: b.transport,
		errorf:    b.bus.Error,
		channel:   ch,
		user:      user,
	})
}

// trimBot strips a leading "<@ID>" mention or the bot's name and reports
// whether one was found.
func (b *Bot) trimBot(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if b.id != "" {
		if rest, ok := strings.CutPrefix(text, "<@"+b.id+">"); ok {
			return strings.TrimLeft(rest, " :,\n"), true
		}
	}
	if b.name != "" && len(text) >= len(b.name) && strings.EqualFold(text[:len(b.name)], b.name) {
		rest := text[len(b.name):]
		if rest == "" || !isWordRune(rest) {
			return strings.TrimLeft(rest, " :,\n"), true
		}
	}
	return text, false
}

// isWordRune reports whether s starts with a rune that can continue a name.
func isWordRune(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-'
}
