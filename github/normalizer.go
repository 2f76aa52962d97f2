package github

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	gogithub "github.com/google/go-github/v68/github"

	"github.com/gobridge/ghrelay/event"
	"github.com/gobridge/ghrelay/rules"
)

// UserFetcher resolves the full profile of the user behind a webhook.
type UserFetcher interface {
	User(ctx context.Context, login string) (event.User, error)
}

// Logger receives diagnostic lines about dropped payloads.
type Logger func(ctx context.Context, fields ...string)

// Source is the display identity of GitHub as an event source.
func Source(avatar string) event.Source {
	return event.Source{
		Name:   "GitHub",
		URL:    "https://github.com",
		Avatar: avatar,
	}
}

var tagAliases = map[string]string{
	"issue":        "issues",
	"pull-request": "pull_request",
}

// Tag canonicalizes an event type header value.
func Tag(tag string) string {
	if alias, ok := tagAliases[tag]; ok {
		return alias
	}
	return tag
}

var statusContext = regexp.MustCompile(`^continuous-integration/([^/]+)/(pr|push|branch)$`)

type statusKey struct {
	ci, kind, id string
}

// Normalizer maps GitHub webhook payloads to canonical events.
type Normalizer struct {
	users  UserFetcher
	source event.Source
	ci     map[string]bool
	logf   Logger

	mu        sync.Mutex
	lastState map[statusKey]string
}

// NewNormalizer creates a Normalizer. ci lists the CI integrations whose
// statuses are accepted.
func NewNormalizer(users UserFetcher, source event.Source, ci []string, logf Logger) *Normalizer {
	known := make(map[string]bool, len(ci))
	for _, name := range ci {
		known[name] = true
	}
	if logf == nil {
		logf = func(context.Context, ...string) {}
	}
	return &Normalizer{
		users:     users,
		source:    source,
		ci:        known,
		logf:      logf,
		lastState: make(map[statusKey]string),
	}
}

// Handles reports whether tag names a payload kind Normalize understands.
func (n *Normalizer) Handles(tag string) bool {
	switch Tag(tag) {
	case "issues", "pull_request", "push", "status":
		return true
	}
	return false
}

// Normalize turns one payload into zero or more events. Unhandled tags and
// filtered actions yield no events and no error.
func (n *Normalizer) Normalize(ctx context.Context, tag string, body []byte) ([]*event.Event, error) {
	tag = Tag(tag)
	if !n.Handles(tag) {
		return nil, nil
	}

	payload, err := gogithub.ParseWebHook(tag, body)
	if err != nil {
		return nil, newNormalizationError(tag, body, err)
	}

	var events []*event.Event
	switch p := payload.(type) {
	case *gogithub.IssuesEvent:
		events, err = n.issue(ctx, p)
	case *gogithub.PullRequestEvent:
		events, err = n.pullRequest(ctx, p)
	case *gogithub.PushEvent:
		events, err = n.push(ctx, p)
	case *gogithub.StatusEvent:
		events, err = n.status(ctx, p)
	default:
		err = fmt.Errorf("unexpected payload type %T", payload)
	}
	if err != nil {
		return nil, newNormalizationError(tag, body, err)
	}
	return events, nil
}

func itemAction(action string) bool {
	switch action {
	case "opened", "closed", "reopened":
		return true
	}
	return false
}

func (n *Normalizer) sender(ctx context.Context, u *gogithub.User) (event.User, error) {
	if u.GetLogin() == "" {
		return event.User{}, fmt.Errorf("payload has no sender")
	}
	return n.users.User(ctx, u.GetLogin())
}

func repository(r *gogithub.Repository) event.Repository {
	return event.Repository{
		FullName: r.GetFullName(),
		Name:     r.GetName(),
		URL:      r.GetHTMLURL(),
	}
}

func (n *Normalizer) issue(ctx context.Context, p *gogithub.IssuesEvent) ([]*event.Event, error) {
	if !itemAction(p.GetAction()) {
		return nil, nil
	}
	if p.Issue == nil {
		return nil, fmt.Errorf("payload has no issue")
	}
	sender, err := n.sender(ctx, p.GetSender())
	if err != nil {
		return nil, err
	}

	issue := p.GetIssue()
	return []*event.Event{{
		Path:       rules.Path{string(event.Issue), p.GetAction(), strconv.Itoa(issue.GetNumber())},
		Message:    renderItem(n.source, sender, p.GetAction(), "issue", issue.GetNumber(), issue.GetTitle(), issue.GetHTMLURL()),
		Source:     n.source,
		Sender:     sender,
		Repository: repository(p.GetRepo()),
	}}, nil
}

func (n *Normalizer) pullRequest(ctx context.Context, p *gogithub.PullRequestEvent) ([]*event.Event, error) {
	if !itemAction(p.GetAction()) {
		return nil, nil
	}
	if p.PullRequest == nil {
		return nil, fmt.Errorf("payload has no pull_request")
	}
	sender, err := n.sender(ctx, p.GetSender())
	if err != nil {
		return nil, err
	}

	pr := p.GetPullRequest()
	return []*event.Event{{
		Path:       rules.Path{string(event.PullRequest), p.GetAction(), strconv.Itoa(pr.GetNumber())},
		Message:    renderItem(n.source, sender, p.GetAction(), "pull request", pr.GetNumber(), pr.GetTitle(), pr.GetHTMLURL()),
		Source:     n.source,
		Sender:     sender,
		Repository: repository(p.GetRepo()),
	}}, nil
}

func (n *Normalizer) push(ctx context.Context, p *gogithub.PushEvent) ([]*event.Event, error) {
	if p.GetRef() == "" {
		return nil, fmt.Errorf("payload has no ref")
	}
	sender, err := n.sender(ctx, p.GetSender())
	if err != nil {
		return nil, err
	}

	action := "pushed"
	switch {
	case p.GetCreated():
		action = "created"
	case p.GetDeleted():
		action = "deleted"
	}

	branch := strings.TrimPrefix(p.GetRef(), "refs/heads/")
	repo := p.GetRepo()
	commits := make([]commit, 0, len(p.Commits))
	for _, c := range p.Commits {
		commits = append(commits, commit{
			ID:     c.GetID(),
			URL:    c.GetURL(),
			Title:  c.GetMessage(),
			Author: c.GetAuthor().GetName(),
		})
	}

	return []*event.Event{{
		Path: rules.Path{string(event.Branch), action, branch},
		Message: renderPush(n.source, sender, push{
			Action:    action,
			Branch:    branch,
			BranchURL: repo.GetHTMLURL() + "/tree/" + branch,
			Compare:   p.GetCompare(),
			Forced:    p.GetForced(),
			Commits:   commits,
		}),
		Source: n.source,
		Sender: sender,
		Repository: event.Repository{
			FullName: repo.GetFullName(),
			Name:     repo.GetName(),
			URL:      repo.GetHTMLURL(),
		},
		Forced: p.GetForced(),
	}}, nil
}

func (n *Normalizer) status(ctx context.Context, p *gogithub.StatusEvent) ([]*event.Event, error) {
	state := p.GetState()
	switch state {
	case "success", "failure":
	case "error":
		state = "failure"
	default:
		return nil, nil
	}

	m := statusContext.FindStringSubmatch(p.GetContext())
	if m == nil {
		n.logf(ctx, "status", "ignored context", p.GetContext())
		return nil, nil
	}
	ci, kind := m[1], m[2]
	if !n.ci[ci] {
		n.logf(ctx, "status", "unknown ci", ci)
		return nil, nil
	}
	if kind == "pr" {
		// The payload carries no pull request number.
		n.logf(ctx, "status", "unsupported pull request status", p.GetContext())
		return nil, nil
	}

	branch := statusBranch(p)
	if branch == "" {
		n.logf(ctx, "status", "no branch for", p.GetSHA())
		return nil, nil
	}

	sender, err := n.sender(ctx, p.GetSender())
	if err != nil {
		return nil, err
	}

	var commits []commit
	if c := p.GetCommit(); c != nil {
		commits = append(commits, commit{
			ID:     c.GetSHA(),
			URL:    c.GetHTMLURL(),
			Title:  c.GetCommit().GetMessage(),
			Author: c.GetCommit().GetAuthor().GetName(),
		})
	}
	repo := repository(p.GetRepo())
	msg := renderBuild(n.source, build{
		State:       state,
		Branch:      branch,
		BranchURL:   repo.URL + "/tree/" + branch,
		TargetURL:   p.GetTargetURL(),
		Description: p.GetDescription(),
		Commits:     commits,
	})

	newEvent := func(path rules.Path) *event.Event {
		return &event.Event{
			Path:       path,
			Message:    msg,
			Source:     n.source,
			Sender:     sender,
			Repository: repo,
		}
	}

	events := []*event.Event{newEvent(rules.Path{string(event.Build), state, "branch", branch})}

	key := statusKey{ci: ci, kind: kind, id: branch}
	n.mu.Lock()
	prev, seen := n.lastState[key]
	n.lastState[key] = state
	n.mu.Unlock()

	if seen && prev != state {
		events = append(events, newEvent(rules.Path{string(event.Build), "changed", "branch", branch}))
	}
	return events, nil
}

// statusBranch picks the branch whose head is the status commit, falling back
// to the first listed branch.
func statusBranch(p *gogithub.StatusEvent) string {
	if len(p.Branches) == 0 {
		return ""
	}
	for _, b := range p.Branches {
		if b.GetCommit().GetSHA() == p.GetSHA() {
			return b.GetName()
		}
	}
	return p.Branches[0].GetName()
}
