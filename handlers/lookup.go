package handlers

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/gobridge/ghrelay/bot"
	"github.com/gobridge/ghrelay/bus"
	"github.com/gobridge/ghrelay/event"
)

var (
	githubURLRE = regexp.MustCompile(`\bhttps?://github\.com/([\w.-]+/[\w.-]+)/(pull|issues)/(\d+)\b`)
	keywordRE   = regexp.MustCompile(`\b(issue|pull request|pr|pull) (\d+)\b`)
	hashRE      = regexp.MustCompile(`(?:\s|^)#(\d+)\b`)
)

type mention struct {
	kind   string // "issue", "pull" or "any"
	repo   string
	number int
}

// mentions finds the issues and pull requests referenced in text, in order
// and without duplicates.
func mentions(text string) []mention {
	var out []mention
	seen := map[mention]bool{}
	add := func(m mention) {
		if m.number <= 0 || seen[m] {
			return
		}
		seen[m] = true
		out = append(out, m)
	}

	for _, sm := range githubURLRE.FindAllStringSubmatch(text, -1) {
		n, _ := strconv.Atoi(sm[3])
		kind := "pull"
		if sm[2] == "issues" {
			kind = "issue"
		}
		add(mention{kind: kind, repo: sm[1], number: n})
	}
	for _, sm := range keywordRE.FindAllStringSubmatch(text, -1) {
		n, _ := strconv.Atoi(sm[2])
		kind := "pull"
		if sm[1] == "issue" {
			kind = "issue"
		}
		add(mention{kind: kind, number: n})
	}
	for _, sm := range hashRE.FindAllStringSubmatch(text, -1) {
		n, _ := strconv.Atoi(sm[1])
		add(mention{kind: "any", number: n})
	}
	return out
}

// MentionLookup posts a one line summary for every GitHub issue or pull
// request mentioned in a message. Bare #N references are tried as a pull
// request first and as an issue when that fails.
func MentionLookup(gh Lookup, d *bus.Dispatcher) bot.Handler {
	return bot.HandlerFunc(func(ctx context.Context, m bot.Message, r bot.Responder) {
		for _, mn := range mentions(m.TrimmedText) {
			summary, err := lookupMention(ctx, gh, d, mn)
			if err != nil {
				d.Error(ctx, fmt.Errorf("looking up #%d: %w", mn.number, err))
				continue
			}
			r.Post(ctx, event.Message{Text: summary})
		}
	})
}

func lookupMention(ctx context.Context, gh Lookup, d *bus.Dispatcher, mn mention) (string, error) {
	num := strconv.Itoa(mn.number)
	switch mn.kind {
	case "issue":
		d.Log(ctx, "lookup", "issue", mn.repo, num)
		return gh.IssueSummary(ctx, mn.repo, mn.number)
	case "pull":
		d.Log(ctx, "lookup", "pull", mn.repo, num)
		return gh.PullRequestSummary(ctx, mn.repo, mn.number)
	}

	d.Log(ctx, "lookup", "pull", mn.repo, num)
	if s, err := gh.PullRequestSummary(ctx, mn.repo, mn.number); err == nil {
		return s, nil
	}
	d.Log(ctx, "lookup", "issue", mn.repo, num)
	return gh.IssueSummary(ctx, mn.repo, mn.number)
}
