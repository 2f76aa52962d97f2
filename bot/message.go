package bot

import (
	"context"

	"github.com/nlopes/slack"

	"github.com/gobridge/ghrelay/event"
)

// Message is an incoming chat message.
type Message struct {
	Event   *slack.MessageEvent
	Channel Channel
	User    User

	// TrimmedText is the text with any leading mention of the bot removed.
	TrimmedText string

	// DirectedToBot is set for direct messages and messages starting with a
	// mention of the bot.
	DirectedToBot bool
}

// Responder replies to a message.
type Responder interface {
	// Respond replies to the author. Outside of direct messages the reply
	// mentions them.
	Respond(ctx context.Context, text string)

	// Post sends msg to the message's channel as is.
	Post(ctx context.Context, msg event.Message)
}

// Handler handles messages.
type Handler interface {
	Handle(context.Context, Message, Responder)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(context.Context, Message, Responder)

func (f HandlerFunc) Handle(ctx context.Context, m Message, r Responder) {
	f(ctx, m, r)
}

type responder struct {
	transport Transport
	errorf    func(ctx context.Context, err error)
	channel   Channel
	user      User
}

func (r *responder) Respond(ctx context.Context, text string) {
	if !r.channel.IsIM {
		text = "<@" + r.user.ID + ">: " + text
	}
	r.Post(ctx, event.Message{Text: text})
}

func (r *responder) Post(ctx context.Context, msg event.Message) {
	if err := r.transport.Post(ctx, r.channel.ID, msg); err != nil {
		r.errorf(ctx, &DeliveryError{Channel: r.channel.ID, Err: err})
	}
}
