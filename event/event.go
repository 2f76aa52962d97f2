// Package event defines the canonical, source-agnostic events relayed to chat.
package event

import "github.com/gobridge/ghrelay/rules"

// Category is the first segment of every event path.
type Category string

// Event categories.
const (
	Issue       Category = "issue"
	PullRequest Category = "pullrequest"
	Branch      Category = "branch"
	Build       Category = "build"
)

// Categories lists every category in a stable order.
var Categories = []Category{Issue, PullRequest, Branch, Build}

// Source is the display identity of the integration an event came from.
type Source struct {
	Name   string
	URL    string
	Avatar string
}

// User identifies the person that triggered an event.
type User struct {
	Login  string
	Name   string
	Avatar string
	URL    string
}

// DisplayName prefers the full name and falls back to the login.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Login
}

// Repository identifies the repository an event belongs to.
type Repository struct {
	FullName string
	Name     string
	URL      string
}

// Attachment is a structured block shown under a chat message.
type Attachment struct {
	Fallback   string
	Color      string
	Title      string
	TitleLink  string
	Text       string
	MarkdownIn []string
}

// Message is a rendered, transport-ready chat message.
type Message struct {
	Username    string
	IconURL     string
	Text        string
	Attachments []Attachment
}

// Event is one normalized webhook occurrence. It is built once and must not
// be modified after it has been published.
type Event struct {
	Path       rules.Path
	Message    Message
	Source     Source
	Sender     User
	Repository Repository
	Forced     bool
}

// Category returns the category of the event.
func (e *Event) Category() Category {
	if len(e.Path) == 0 {
		return ""
	}
	return Category(e.Path[0])
}
