package github

import (
	"fmt"
	"strings"

	"github.com/gobridge/ghrelay/event"
)

var escape = event.Escape

type commit struct {
	ID     string
	URL    string
	Title  string
	Author string
}

func formatCommit(c commit) string {
	id := c.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("`<%s|%s>` %s - %s", escape(c.URL), escape(id), escape(event.FirstLine(c.Title)), escape(c.Author))
}

func formatCommits(commits []commit) string {
	lines := make([]string, len(commits))
	for i, c := range commits {
		lines[i] = formatCommit(c)
	}
	return strings.Join(lines, "\n")
}

func issueLine(number int, title, url, state string) string {
	text := fmt.Sprintf("Issue #%d: <%s|%s>", number, url, escape(title))
	if state == "closed" {
		text += " (Closed)"
	}
	return text
}

func pullRequestLine(number int, title, url, state string) string {
	text := fmt.Sprintf("Pull request #%d: <%s|%s>", number, url, escape(title))
	if state == "closed" {
		text += " (Closed)"
	}
	return text
}

// renderItem renders issue and pull request events. noun is "issue" or
// "pull request".
func renderItem(src event.Source, sender event.User, action, noun string, number int, title, url string) event.Message {
	return event.Message{
		Username: src.Name,
		IconURL:  src.Avatar,
		Text:     fmt.Sprintf("%s %s %s %d.", escape(sender.DisplayName()), action, noun, number),
		Attachments: []event.Attachment{{
			Fallback:  fmt.Sprintf("%s %s", escape(title), escape(url)),
			Title:     escape(title),
			TitleLink: escape(url),
		}},
	}
}

type push struct {
	Action    string
	Branch    string
	BranchURL string
	Compare   string
	Forced    bool
	Commits   []commit
}

func renderPush(src event.Source, sender event.User, p push) event.Message {
	var b strings.Builder
	b.WriteString(escape(sender.DisplayName()))
	b.WriteString(" ")
	if p.Forced {
		b.WriteString("*force* ")
	}
	b.WriteString(p.Action)
	b.WriteString(" ")
	if p.Action == "pushed" {
		plural := "s"
		if len(p.Commits) == 1 {
			plural = ""
		}
		fmt.Fprintf(&b, "<%s|%d commit%s> to ", escape(p.Compare), len(p.Commits), plural)
	}
	fmt.Fprintf(&b, "branch <%s|%s>", escape(p.BranchURL), escape(p.Branch))

	color := "good"
	if p.Forced {
		color = "danger"
	}
	text := b.String()
	return event.Message{
		Username: src.Name,
		IconURL:  src.Avatar,
		Text:     text,
		Attachments: []event.Attachment{{
			Fallback:   text,
			Color:      color,
			Text:       formatCommits(p.Commits),
			MarkdownIn: []string{"text"},
		}},
	}
}

type build struct {
	State       string // success or failure
	Branch      string
	BranchURL   string
	TargetURL   string
	Description string
	Commits     []commit
}

func renderBuild(src event.Source, b build) event.Message {
	text := fmt.Sprintf("Build of branch <%s|%s> ", b.BranchURL, escape(b.Branch))
	color := "good"
	if b.State == "success" {
		text += "succeeded."
	} else {
		text += "failed.\n" + escape(b.Description)
		color = "danger"
	}
	text += fmt.Sprintf(" <%s|See results>.\n", b.TargetURL)

	return event.Message{
		Username: src.Name,
		IconURL:  src.Avatar,
		Attachments: []event.Attachment{{
			Fallback:   text,
			Color:      color,
			Text:       text + formatCommits(b.Commits),
			MarkdownIn: []string{"text"},
		}},
	}
}
