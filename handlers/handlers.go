// Package handlers holds the chat commands and message handlers of the bot.
package handlers

import (
	"context"

	"github.com/gobridge/ghrelay/bot"
)

// Condition reports whether a message matches.
type Condition func(bot.Message) bool

var (
	// Directed matches messages directed to the bot.
	Directed Condition = func(m bot.Message) bool { return m.DirectedToBot }

	// Undirected matches ordinary channel messages.
	Undirected Condition = func(m bot.Message) bool { return !m.DirectedToBot }
)

// ProcessLinear calls handlers in order.
func ProcessLinear(hs ...bot.Handler) bot.Handler {
	return bot.HandlerFunc(func(ctx context.Context, m bot.Message, r bot.Responder) {
		for _, h := range hs {
			h.Handle(ctx, m, r)
		}
	})
}

// When calls h for messages matching c.
func When(c Condition, h bot.Handler) bot.Handler {
	return bot.HandlerFunc(func(ctx context.Context, m bot.Message, r bot.Responder) {
		if !c(m) {
			return
		}
		h.Handle(ctx, m, r)
	})
}

// WhenDirectedToBot calls h when Message.DirectedToBot is true.
func WhenDirectedToBot(h bot.Handler) bot.Handler {
	return When(Directed, h)
}
