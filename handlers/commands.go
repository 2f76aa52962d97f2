package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gobridge/ghrelay/bot"
	"github.com/gobridge/ghrelay/bus"
	"github.com/gobridge/ghrelay/event"
	"github.com/gobridge/ghrelay/rules"
	"github.com/gobridge/ghrelay/store"
)

var escape = event.Escape

// RuleStore is the part of the configuration store the event commands use.
type RuleStore interface {
	Lookup(domain string, path rules.Path) bool
	Rules(domain string, prefix rules.Path) []store.Rule
	SetRule(ctx context.Context, domain string, path rules.Path, value *bool) error
}

// ConfigStore is the dotted-key settings surface.
type ConfigStore interface {
	Get(key string) (json.RawMessage, bool)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// ChannelFinder resolves channel references.
type ChannelFinder interface {
	Find(idOrName string) (bot.Channel, bool)
}

// Lookup renders GitHub issues and pull requests as one line. An empty repo
// means the default repository.
type Lookup interface {
	IssueSummary(ctx context.Context, repo string, number int) (string, error)
	PullRequestSummary(ctx context.Context, repo string, number int) (string, error)
}

// Store is the whole configuration store.
type Store interface {
	RuleStore
	ConfigStore
}

// Deps are what the built-in commands need.
type Deps struct {
	Store    Store
	Channels ChannelFinder
	GitHub   Lookup
	Log      *bot.LogBuffer
	Bus      *bus.Dispatcher
}

// Register adds every built-in command to c.
func Register(c *bot.Commands, d Deps) {
	c.Register("events", Events(d.Store, d.Channels))
	c.Register("test", Test(d.Store))
	c.Register("pull", Pull(d.GitHub, d.Bus))
	c.Register("issue", Issue(d.GitHub, d.Bus))
	c.Register("get-config", GetConfig(d.Store))
	c.Register("set-config", SetConfig(d.Store))
	c.Register("shutdown", Shutdown(d.Bus))
	c.Register("log", Log(d.Log))
}

const eventsInfo = "Control reporting of events to this channel.\n" +
	"The path filters events. The more parts of the path you include the more specific the rule.\n" +
	"Useful paths:\n" +
	"`branch <pushed/created/deleted> <branch name>`\n" +
	"`issue <opened/closed/reopened> <number>`\n" +
	"`pullrequest <opened/closed/reopened> <number>`\n" +
	"`build <success/failure/changed> branch <branch name>`"

// Events lists or changes the event rules of a channel. A leading channel
// reference (<#C123>, <#C123|name> or #name) targets another channel.
func Events(rs RuleStore, channels ChannelFinder) *bot.Command {
	return &bot.Command{
		Info:       eventsInfo,
		Usage:      "[#channel] <...path> <on/off/default>",
		Restricted: true,
		Validate: func(args []string) bool {
			if len(args) > 0 && isChannelRef(args[0]) {
				args = args[1:]
			}
			if len(args) == 0 {
				return true
			}
			_, ok := ruleState(args[len(args)-1])
			return ok
		},
		Run: func(ctx context.Context, c *bot.Call) error {
			target, args := c.Channel, c.Args
			if len(args) > 0 && isChannelRef(args[0]) {
				ch, reply, ok := resolveChannel(channels, args[0])
				if !ok {
					c.Respond(ctx, reply)
					return nil
				}
				target, args = ch, args[1:]
			}

			if len(args) == 0 {
				c.Respond(ctx, eventSettings(rs.Rules(store.EventRules, rules.Path{target.ID})))
				return nil
			}

			value, _ := ruleState(args[len(args)-1])
			path := append(rules.Path{target.ID}, args[:len(args)-1]...)
			if err := rs.SetRule(ctx, store.EventRules, path, value); err != nil {
				return err
			}
			c.Respond(ctx, "Ok.")
			return nil
		},
	}
}

func isChannelRef(arg string) bool {
	return strings.HasPrefix(arg, "<#") && strings.HasSuffix(arg, ">") ||
		len(arg) > 1 && strings.HasPrefix(arg, "#")
}

func resolveChannel(channels ChannelFinder, ref string) (bot.Channel, string, bool) {
	if strings.HasPrefix(ref, "<#") {
		id := ref[2 : len(ref)-1]
		ch, ok := channels.Find(id)
		if !ok {
			return ch, "Unknown channel id - " + escape(id) + ".", false
		}
		return ch, "", true
	}
	name := ref[1:]
	ch, ok := channels.Find(name)
	if !ok {
		return ch, "Unknown channel name - " + escape(name) + ".", false
	}
	return ch, "", true
}

func ruleState(s string) (*bool, bool) {
	switch s {
	case "on":
		return rules.Bool(true), true
	case "off":
		return rules.Bool(false), true
	case "default":
		return nil, true
	}
	return nil, false
}

func eventSettings(rs []store.Rule) string {
	if len(rs) == 0 {
		return "No event settings."
	}
	var b strings.Builder
	b.WriteString("Event settings:")
	for _, r := range rs {
		state := "off"
		if r.Enabled {
			state = "on"
		}
		b.WriteString("\n`")
		b.WriteString(escape(strings.Join(append(r.Path[:len(r.Path):len(r.Path)], state), " ")))
		b.WriteString("`")
	}
	return b.String()
}

// Test answers whether events at a path would be reported to the channel.
func Test(rs RuleStore) *bot.Command {
	return &bot.Command{
		Info:  "Test whether events will be reported to this channel.",
		Usage: "<...path>",
		Run: func(ctx context.Context, c *bot.Call) error {
			if rs.Lookup(store.EventRules, append(rules.Path{c.Channel.ID}, c.Args...)) {
				c.Respond(ctx, "on")
			} else {
				c.Respond(ctx, "off")
			}
			return nil
		},
	}
}

func oneArg(args []string) bool {
	return len(args) == 1
}

// Pull shows a pull request of the default repository.
func Pull(gh Lookup, d *bus.Dispatcher) *bot.Command {
	return &bot.Command{
		Info:     "Show a pull request.",
		Usage:    "<#xx>",
		Validate: oneArg,
		Run: func(ctx context.Context, c *bot.Call) error {
			summary, err := lookupNumber(ctx, c.Args[0], gh.PullRequestSummary)
			if err != nil {
				d.Error(ctx, fmt.Errorf("looking up pull request %s: %w", c.Args[0], err))
				c.Respond(ctx, "Error looking up pull request.")
				return nil
			}
			c.Respond(ctx, summary)
			return nil
		},
	}
}

// Issue shows an issue of the default repository.
func Issue(gh Lookup, d *bus.Dispatcher) *bot.Command {
	return &bot.Command{
		Info:     "Show an issue.",
		Usage:    "<#xx>",
		Validate: oneArg,
		Run: func(ctx context.Context, c *bot.Call) error {
			summary, err := lookupNumber(ctx, c.Args[0], gh.IssueSummary)
			if err != nil {
				d.Error(ctx, fmt.Errorf("looking up issue %s: %w", c.Args[0], err))
				c.Respond(ctx, "Error looking up issue.")
				return nil
			}
			c.Respond(ctx, summary)
			return nil
		},
	}
}

type summaryFunc func(ctx context.Context, repo string, number int) (string, error)

func lookupNumber(ctx context.Context, arg string, fn summaryFunc) (string, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(arg, "#"))
	if err != nil || n <= 0 {
		return "", fmt.Errorf("invalid number %q", arg)
	}
	return fn(ctx, "", n)
}

// GetConfig shows the JSON value at a dotted key.
func GetConfig(cs ConfigStore) *bot.Command {
	return &bot.Command{
		Info:       "Show a configuration value.",
		Usage:      "<key>",
		Restricted: true,
		Validate:   oneArg,
		Run: func(ctx context.Context, c *bot.Call) error {
			key := c.Args[0]
			raw, ok := cs.Get(key)
			if !ok {
				c.Respond(ctx, "`"+escape(key)+"` is not set.")
				return nil
			}
			c.Respond(ctx, "`"+escape(string(raw))+"`")
			return nil
		},
	}
}

// SetConfig changes the value at a dotted key. The value is parsed as JSON
// and stored as a plain string when that fails. The value undefined deletes
// the key.
func SetConfig(cs ConfigStore) *bot.Command {
	return &bot.Command{
		Info: "Change a configuration value.\n" +
			"The value is parsed as JSON, quote it with single quotes. " +
			"Anything that is not JSON is stored as a string and `undefined` removes the key.",
		Usage:      "<key> <value>",
		Restricted: true,
		Validate:   func(args []string) bool { return len(args) == 2 },
		Run: func(ctx context.Context, c *bot.Call) error {
			key, raw := c.Args[0], c.Args[1]
			if raw == "undefined" {
				if err := cs.Delete(ctx, key); err != nil {
					return err
				}
				c.Respond(ctx, "Ok.")
				return nil
			}

			var value any
			if err := json.Unmarshal([]byte(raw), &value); err != nil {
				value = raw
			}
			if err := cs.Set(ctx, key, value); err != nil {
				return err
			}
			c.Respond(ctx, "Ok.")
			return nil
		},
	}
}

// Shutdown stops the relay.
func Shutdown(d *bus.Dispatcher) *bot.Command {
	return &bot.Command{
		Info:       "Shuts down this bot.",
		Restricted: true,
		Run: func(ctx context.Context, c *bot.Call) error {
			c.Respond(ctx, "Bye.")
			d.Destroy(context.WithoutCancel(ctx))
			return nil
		},
	}
}

// Log shows the most recent log lines, newest first.
func Log(buf *bot.LogBuffer) *bot.Command {
	return &bot.Command{
		Info:       "Show the most recent log entries.",
		Usage:      "<count>",
		Restricted: true,
		Validate: func(args []string) bool {
			if len(args) == 0 {
				return true
			}
			n, err := strconv.Atoi(args[0])
			return len(args) == 1 && err == nil && n >= 0
		},
		Run: func(ctx context.Context, c *bot.Call) error {
			n := -1
			if len(c.Args) == 1 {
				n, _ = strconv.Atoi(c.Args[0])
			}
			lines := buf.Recent(n)
			if len(lines) == 0 {
				c.Respond(ctx, "No log messages.")
				return nil
			}
			for i, l := range lines {
				lines[i] = "`" + escape(l) + "`"
			}
			c.Respond(ctx, strings.Join(lines, "\n"))
			return nil
		},
	}
}
