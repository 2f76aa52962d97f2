package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/gobridge/ghrelay/bus"
	"github.com/gobridge/ghrelay/event"
	"github.com/gobridge/ghrelay/telemetry"
)

// Replies shared by every command.
const (
	ReplyWhat      = "What?"
	ReplyUnknown   = "Sorry, I don't understand."
	ReplyForbidden = "Sorry, you can't do that."
)

// Call is one invocation of a command.
type Call struct {
	Message
	Responder

	Name string
	Args []string
}

// Command is a chat command.
type Command struct {
	// Info describes the command. The first line is shown in the command
	// list.
	Info  string
	Usage string

	// Restricted commands can only be run by the owner.
	Restricted bool

	// Validate reports whether args are acceptable. When it returns false
	// the command's help is shown instead of running it.
	Validate func(args []string) bool

	Run func(ctx context.Context, c *Call) error
}

// Commands is the registry of chat commands.
type Commands struct {
	owner    string
	commands map[string]*Command
	bus      *bus.Dispatcher
	metrics  *telemetry.Metrics
}

// NewCommands creates a registry holding the help command. owner is the name
// or id of the user allowed to run restricted commands.
func NewCommands(owner string, d *bus.Dispatcher, m *telemetry.Metrics) *Commands {
	c := &Commands{
		owner:    owner,
		commands: make(map[string]*Command),
		bus:      d,
		metrics:  m,
	}
	c.Register("help", &Command{
		Info:  "List commands for this bot.",
		Usage: "[command]",
		Run:   c.help,
	})
	return c
}

// Register adds cmd under name, replacing any previous command.
func (c *Commands) Register(name string, cmd *Command) {
	c.commands[strings.ToLower(name)] = cmd
}

// IsOwner reports whether u may run restricted commands.
func (c *Commands) IsOwner(u User) bool {
	return c.owner != "" && (u.Name == c.owner || u.ID == c.owner)
}

// Handle runs the command in messages directed to the bot.
func (c *Commands) Handle(ctx context.Context, m Message, r Responder) {
	if !m.DirectedToBot {
		return
	}
	c.Dispatch(ctx, m, r)
}

// Dispatch tokenizes m.TrimmedText and runs the named command.
func (c *Commands) Dispatch(ctx context.Context, m Message, r Responder) {
	text := strings.TrimSpace(m.TrimmedText)
	if text == "" {
		r.Respond(ctx, ReplyWhat)
		return
	}

	args, err := shellwords.Parse(literalMeta(text))
	if err != nil || len(args) == 0 {
		r.Respond(ctx, ReplyUnknown)
		return
	}
	c.bus.Log(ctx, append([]string{"directmessage"}, args...)...)

	name := strings.ToLower(args[0])
	cmd, ok := c.commands[name]
	if !ok {
		c.count(name, "unknown")
		r.Respond(ctx, ReplyUnknown)
		return
	}

	call := &Call{Message: m, Responder: r, Name: name, Args: args[1:]}
	c.run(ctx, cmd, call)
}

func (c *Commands) run(ctx context.Context, cmd *Command, call *Call) {
	if cmd.Restricted && !c.IsOwner(call.User) {
		c.count(call.Name, "forbidden")
		call.Respond(ctx, ReplyForbidden)
		return
	}

	if cmd.Validate != nil && !cmd.Validate(call.Args) {
		c.count(call.Name, "invalid")
		help := &Call{Message: call.Message, Responder: call.Responder, Name: "help", Args: []string{call.Name}}
		c.help(ctx, help)
		return
	}

	if err := cmd.Run(ctx, call); err != nil {
		c.count(call.Name, "error")
		c.bus.Error(ctx, fmt.Errorf("command %s: %w", call.Name, err))
		call.Respond(ctx, event.Escape(err.Error()))
		return
	}
	c.count(call.Name, "ok")
}

func (c *Commands) count(name, outcome string) {
	if c.metrics == nil {
		return
	}
	c.metrics.Commands.WithLabelValues(name, outcome).Inc()
}

func (c *Commands) help(ctx context.Context, call *Call) error {
	switch len(call.Args) {
	case 0:
	case 1:
		name := strings.ToLower(call.Args[0])
		cmd, ok := c.commands[name]
		if !ok {
			call.Respond(ctx, "Unknown command")
			return nil
		}
		text := event.Escape(cmd.Info)
		if cmd.Usage != "" {
			text += fmt.Sprintf("\nUsage: `%s %s`", event.Escape(name), event.Escape(cmd.Usage))
		}
		call.Respond(ctx, text)
		return nil
	default:
		call.Respond(ctx, event.Escape("Usage: help <command>"))
		return nil
	}

	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	owner := c.IsOwner(call.User)
	var b strings.Builder
	b.WriteString("Here are the commands I support:")
	for _, name := range names {
		cmd := c.commands[name]
		if cmd.Restricted && !owner {
			continue
		}
		fmt.Fprintf(&b, "\n%s: %s", name, event.Escape(event.FirstLine(cmd.Info)))
	}
	call.Respond(ctx, b.String())
	return nil
}

// literalMeta escapes the shell metacharacters that appear in Slack markup
// (<@U123>, <#C123|name>, &amp;) so they survive tokenizing. Single-quoted
// text is left alone.
func literalMeta(text string) string {
	var b strings.Builder
	quoted, dquoted, escaped := false, false, false
	for _, r := range text {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && !quoted:
			escaped = true
		case r == '"' && !quoted:
			dquoted = !dquoted
		case r == '\'' && !dquoted:
			quoted = !quoted
		case !quoted && strings.ContainsRune(";&|<>`$", r):
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
