package bot

import (
	"context"
	"sort"
	"sync"

	"github.com/nlopes/slack"

	"github.com/gobridge/ghrelay/event"
)

type post struct {
	Channel string
	Msg     event.Message
}

type fakeTransport struct {
	mu    sync.Mutex
	posts []post
	fail  map[string]error
}

func (t *fakeTransport) Post(ctx context.Context, channelID string, msg event.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail[channelID]; err != nil {
		return err
	}
	t.posts = append(t.posts, post{Channel: channelID, Msg: msg})
	return nil
}

// channels returns the channels posted to, sorted.
func (t *fakeTransport) channels() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, p := range t.posts {
		out = append(out, p.Channel)
	}
	sort.Strings(out)
	return out
}

func (t *fakeTransport) texts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, p := range t.posts {
		out = append(out, p.Msg.Text)
	}
	return out
}

type recorder struct {
	replies []string
	posts   []event.Message
}

func (r *recorder) Respond(ctx context.Context, text string) {
	r.replies = append(r.replies, text)
}

func (r *recorder) Post(ctx context.Context, msg event.Message) {
	r.posts = append(r.posts, msg)
}

// fakeDirectory serves pages of conversations keyed by cursor; the first
// page has the empty cursor.
type fakeDirectory struct {
	pages   map[string][]slack.Channel
	next    map[string]string
	users   []slack.User
	err     error
	cursors []string
	params  []slack.GetConversationsForUserParameters
}

func (d *fakeDirectory) GetConversationsForUserContext(ctx context.Context, p *slack.GetConversationsForUserParameters) ([]slack.Channel, string, error) {
	d.params = append(d.params, *p)
	d.cursors = append(d.cursors, p.Cursor)
	if d.err != nil {
		return nil, "", d.err
	}
	return d.pages[p.Cursor], d.next[p.Cursor], nil
}

func (d *fakeDirectory) GetUsersContext(ctx context.Context) ([]slack.User, error) {
	return d.users, nil
}

func conversation(id, name string) slack.Channel {
	return slack.Channel{GroupConversation: slack.GroupConversation{Conversation: slack.Conversation{ID: id}, Name: name}, IsMember: true}
}

func imConversation(id, user string) slack.Channel {
	return slack.Channel{GroupConversation: slack.GroupConversation{Conversation: slack.Conversation{ID: id, IsIM: true, User: user}}}
}
