package handlers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobridge/ghrelay/bot"
	"github.com/gobridge/ghrelay/bus"
	"github.com/gobridge/ghrelay/event"
	"github.com/gobridge/ghrelay/rules"
	"github.com/gobridge/ghrelay/store"
)

type memBackend struct {
	mu  sync.Mutex
	doc store.Document
}

func (b *memBackend) Load(ctx context.Context) (store.Document, error) {
	return nil, store.ErrNotFound
}

func (b *memBackend) Save(ctx context.Context, doc store.Document) error {
	b.mu.Lock()
	b.doc = doc
	b.mu.Unlock()
	return nil
}

type fakeGitHub struct {
	issues map[int]string
	pulls  map[int]string
	calls  []string
}

func (f *fakeGitHub) IssueSummary(ctx context.Context, repo string, n int) (string, error) {
	f.calls = append(f.calls, fmt.Sprintf("issue %s %d", repo, n))
	if s, ok := f.issues[n]; ok {
		return s, nil
	}
	return "", errors.New("404 Not Found")
}

func (f *fakeGitHub) PullRequestSummary(ctx context.Context, repo string, n int) (string, error) {
	f.calls = append(f.calls, fmt.Sprintf("pull %s %d", repo, n))
	if s, ok := f.pulls[n]; ok {
		return s, nil
	}
	return "", errors.New("404 Not Found")
}

type recorder struct {
	replies []string
	posts   []string
}

func (r *recorder) Respond(ctx context.Context, text string) {
	r.replies = append(r.replies, text)
}

func (r *recorder) Post(ctx context.Context, msg event.Message) {
	r.posts = append(r.posts, msg.Text)
}

var (
	general = bot.Channel{ID: "C1", Name: "general", IsMember: true}
	builds  = bot.Channel{ID: "C2", Name: "builds", IsMember: true}
	owner   = bot.User{ID: "U1", Name: "alice"}
	visitor = bot.User{ID: "U2", Name: "bob"}
)

type fixture struct {
	commands *bot.Commands
	store    *store.Store
	github   *fakeGitHub
	log      *bot.LogBuffer
	bus      *bus.Dispatcher
	errs     []error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: store.New(&memBackend{}),
		github: &fakeGitHub{
			issues: map[int]string{4: "Issue #4: <https://github.com/gobridge/ghrelay/issues/4|Crash>"},
			pulls:  map[int]string{7: "Pull request #7: <https://github.com/gobridge/ghrelay/pull/7|Fix crash>"},
		},
		log: bot.NewLogBuffer(10),
		bus: bus.New(nil),
	}
	f.bus.Subscribe(bus.ErrorTopic, func(ctx context.Context, p bus.Payload) error {
		f.errs = append(f.errs, p.Err)
		return nil
	})

	channels := bot.NewRegistry()
	channels.Reset([]bot.Channel{general, builds})

	f.commands = bot.NewCommands("alice", f.bus, nil)
	Register(f.commands, Deps{
		Store:    f.store,
		Channels: channels,
		GitHub:   f.github,
		Log:      f.log,
		Bus:      f.bus,
	})
	return f
}

func (f *fixture) run(u bot.User, text string) []string {
	r := &recorder{}
	f.commands.Dispatch(context.Background(), bot.Message{Channel: general, User: u, TrimmedText: text, DirectedToBot: true}, r)
	return r.replies
}

func TestEvents(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, []string{"No event settings."}, f.run(owner, "events"))
	assert.Equal(t, []string{"Ok."}, f.run(owner, "events issue on"))
	assert.Equal(t, []string{"Ok."}, f.run(owner, "events build failure on"))
	assert.Equal(t, []string{"Ok."}, f.run(owner, "events build off"))

	assert.True(t, f.store.Lookup(store.EventRules, rules.Path{"C1", "issue", "opened", "3"}))
	assert.False(t, f.store.Lookup(store.EventRules, rules.Path{"C1", "build", "success"}))
	assert.Equal(t, []string{"Event settings:\n`build off`\n`build failure on`\n`issue on`"}, f.run(owner, "events"))

	assert.Equal(t, []string{"Ok."}, f.run(owner, "events issue default"))
	assert.False(t, f.store.Lookup(store.EventRules, rules.Path{"C1", "issue", "opened", "3"}))

	t.Run("other channel", func(t *testing.T) {
		for _, ref := range []string{"<#C2>", "<#C2|builds>", "#builds"} {
			assert.Equal(t, []string{"Ok."}, f.run(owner, "events "+ref+" branch pushed on"), ref)
		}
		assert.True(t, f.store.Lookup(store.EventRules, rules.Path{"C2", "branch", "pushed", "main"}))
		assert.False(t, f.store.Lookup(store.EventRules, rules.Path{"C1", "branch", "pushed", "main"}))
		assert.Equal(t, []string{"Event settings:\n`branch pushed on`"}, f.run(owner, "events #builds"))

		assert.Equal(t, []string{"Unknown channel id - C9."}, f.run(owner, "events <#C9> issue on"))
		assert.Equal(t, []string{"Unknown channel name - nope."}, f.run(owner, "events #nope issue on"))
	})

	t.Run("bad state shows help", func(t *testing.T) {
		replies := f.run(owner, "events issue maybe")
		require.Len(t, replies, 1)
		assert.Contains(t, replies[0], "Control reporting of events to this channel.")
	})

	t.Run("owner only", func(t *testing.T) {
		assert.Equal(t, []string{bot.ReplyForbidden}, f.run(visitor, "events pullrequest on"))
		assert.False(t, f.store.Lookup(store.EventRules, rules.Path{"C1", "pullrequest", "opened"}))
	})

	t.Run("build path from help", func(t *testing.T) {
		replies := f.run(owner, "events build maybe")
		require.Len(t, replies, 1)
		assert.Contains(t, replies[0], "`build <success/failure/changed> branch <branch name>`")
		assert.NotContains(t, replies[0], "<ci>")

		assert.Equal(t, []string{"Ok."}, f.run(owner, "events build failure branch main on"))
		assert.True(t, f.store.Lookup(store.EventRules, rules.Path{"C1", "build", "failure", "branch", "main"}))
	})
}

func TestTestCommand(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SetRule(context.Background(), store.EventRules, rules.Path{"C1", "branch", "pushed"}, rules.Bool(true)))

	assert.Equal(t, []string{"on"}, f.run(visitor, "test branch pushed main"))
	assert.Equal(t, []string{"off"}, f.run(visitor, "test branch created main"))
	assert.Equal(t, []string{"off"}, f.run(visitor, "test"))
}

func TestLookupCommands(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, []string{"Pull request #7: <https://github.com/gobridge/ghrelay/pull/7|Fix crash>"}, f.run(visitor, "pull #7"))
	assert.Equal(t, []string{"Issue #4: <https://github.com/gobridge/ghrelay/issues/4|Crash>"}, f.run(visitor, "issue 4"))
	assert.Empty(t, f.errs)

	assert.Equal(t, []string{"Error looking up pull request."}, f.run(visitor, "pull 8"))
	assert.Equal(t, []string{"Error looking up issue."}, f.run(visitor, "issue x"))
	assert.Len(t, f.errs, 2)

	replies := f.run(visitor, "issue")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Show an issue.")
}

func TestConfigCommands(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, []string{"`limits.burst` is not set."}, f.run(owner, "get-config limits.burst"))
	assert.Equal(t, []string{"Ok."}, f.run(owner, "set-config limits.burst 5"))
	assert.Equal(t, []string{"Ok."}, f.run(owner, `set-config greeting 'hello there'`))
	assert.Equal(t, []string{"Ok."}, f.run(owner, `set-config limits.extra '{"a": [1, 2]}'`))

	assert.Equal(t, []string{"`5`"}, f.run(owner, "get-config limits.burst"))
	assert.Equal(t, []string{"`\"hello there\"`"}, f.run(owner, "get-config greeting"))
	assert.Equal(t, []string{"`{\"a\":[1,2]}`"}, f.run(owner, "get-config limits.extra"))

	assert.Equal(t, []string{"Ok."}, f.run(owner, "set-config limits.burst undefined"))
	assert.Equal(t, []string{"`limits.burst` is not set."}, f.run(owner, "get-config limits.burst"))

	t.Run("rule domains are read only", func(t *testing.T) {
		replies := f.run(owner, "set-config eventRules 1")
		require.Len(t, replies, 1)
		assert.Contains(t, replies[0], "eventRules")
		assert.Len(t, f.errs, 1)
	})

	t.Run("owner only", func(t *testing.T) {
		assert.Equal(t, []string{bot.ReplyForbidden}, f.run(visitor, "set-config greeting hi"))
		assert.Equal(t, []string{bot.ReplyForbidden}, f.run(visitor, "get-config greeting"))
		assert.Equal(t, []string{"`\"hello there\"`"}, f.run(owner, "get-config greeting"))
	})
}

func TestShutdown(t *testing.T) {
	f := newFixture(t)
	destroyed := 0
	f.bus.Subscribe(bus.DestroyTopic, func(ctx context.Context, p bus.Payload) error {
		destroyed++
		return nil
	})

	assert.Equal(t, []string{bot.ReplyForbidden}, f.run(visitor, "shutdown"))
	assert.Equal(t, 0, destroyed)
	assert.Equal(t, []string{"Bye."}, f.run(owner, "shutdown"))
	assert.Equal(t, 1, destroyed)
}

func TestLogCommand(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{"No log messages."}, f.run(owner, "log"))

	f.log.Append("log first")
	f.log.Append("log <second>")
	f.log.Append("error third")

	assert.Equal(t, []string{"`error third`\n`log &lt;second&gt;`\n`log first`"}, f.run(owner, "log"))
	assert.Equal(t, []string{"`error third`"}, f.run(owner, "log 1"))
	assert.Equal(t, []string{"No log messages."}, f.run(owner, "log 0"))

	replies := f.run(owner, "log many")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Show the most recent log entries.")
}

func TestMentionLookup(t *testing.T) {
	f := newFixture(t)
	h := When(Undirected, MentionLookup(f.github, f.bus))

	post := func(text string, directed bool) []string {
		r := &recorder{}
		h.Handle(context.Background(), bot.Message{Channel: general, User: visitor, TrimmedText: text, DirectedToBot: directed}, r)
		return r.posts
	}

	assert.Equal(t, []string{
		"Issue #4: <https://github.com/gobridge/ghrelay/issues/4|Crash>",
		"Pull request #7: <https://github.com/gobridge/ghrelay/pull/7|Fix crash>",
	}, post("see <https://github.com/gobridge/ghrelay/issues/4> and pr 7", false))

	f.github.calls = nil
	assert.Equal(t, []string{
		"Pull request #7: <https://github.com/gobridge/ghrelay/pull/7|Fix crash>",
		"Issue #4: <https://github.com/gobridge/ghrelay/issues/4|Crash>",
	}, post("#7 looks like #4, #7 again", false))
	assert.Equal(t, []string{"pull  7", "pull  4", "issue  4"}, f.github.calls)

	assert.Empty(t, post("issue 4", true))
	assert.Empty(t, post("abc#4 and issue4", false))
	assert.Empty(t, f.errs)

	assert.Empty(t, post("issue 99", false))
	assert.Len(t, f.errs, 1)
}

func TestMentions(t *testing.T) {
	assert.Equal(t, []mention{
		{kind: "pull", repo: "golang/go", number: 12},
		{kind: "issue", number: 3},
		{kind: "pull", number: 5},
		{kind: "any", number: 9},
	}, mentions("https://github.com/golang/go/pull/12 issue 3, pull request 5 #9"))
}
