// Package github turns GitHub webhooks into canonical events and answers
// issue and pull request lookups against the GitHub API.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gogithub "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/gobridge/ghrelay/event"
)

// Config configures the API client.
type Config struct {
	Token  string
	APIURL string // empty for api.github.com
	Repo   string // default "owner/name" for lookups
}

// Client wraps the GitHub API for sender enrichment and lookups.
type Client struct {
	gh   *gogithub.Client
	repo string
}

// NewClient creates a Client. base is used for transport when non-nil, it is
// wrapped with the token when one is configured.
func NewClient(ctx context.Context, cfg Config, base *http.Client) (*Client, error) {
	if base == nil {
		base = http.DefaultClient
	}
	hc := base
	if cfg.Token != "" {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
	}

	gh := gogithub.NewClient(hc)
	if cfg.APIURL != "" {
		u, err := url.Parse(cfg.APIURL)
		if err != nil {
			return nil, fmt.Errorf("parsing GitHub API URL: %w", err)
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		gh.BaseURL = u
	}

	if cfg.Repo != "" {
		if _, _, err := splitRepo(cfg.Repo); err != nil {
			return nil, err
		}
	}
	return &Client{gh: gh, repo: cfg.Repo}, nil
}

// User fetches the profile of login.
func (c *Client) User(ctx context.Context, login string) (event.User, error) {
	u, _, err := c.gh.Users.Get(ctx, login)
	if err != nil {
		return event.User{}, fmt.Errorf("fetching user %s: %w", login, err)
	}
	return event.User{
		Login:  u.GetLogin(),
		Name:   u.GetName(),
		Avatar: u.GetAvatarURL(),
		URL:    u.GetHTMLURL(),
	}, nil
}

// IssueSummary looks up an issue and renders it as one chat line. An empty
// repo means the configured default repository.
func (c *Client) IssueSummary(ctx context.Context, repo string, number int) (string, error) {
	owner, name, err := c.resolve(repo)
	if err != nil {
		return "", err
	}
	issue, _, err := c.gh.Issues.Get(ctx, owner, name, number)
	if err != nil {
		return "", fmt.Errorf("fetching issue %s/%s#%d: %w", owner, name, number, err)
	}
	return issueLine(issue.GetNumber(), issue.GetTitle(), issue.GetHTMLURL(), issue.GetState()), nil
}

// PullRequestSummary is IssueSummary for pull requests.
func (c *Client) PullRequestSummary(ctx context.Context, repo string, number int) (string, error) {
	owner, name, err := c.resolve(repo)
	if err != nil {
		return "", err
	}
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return "", fmt.Errorf("fetching pull request %s/%s#%d: %w", owner, name, number, err)
	}
	return pullRequestLine(pr.GetNumber(), pr.GetTitle(), pr.GetHTMLURL(), pr.GetState()), nil
}

func (c *Client) resolve(repo string) (owner, name string, err error) {
	if repo == "" {
		repo = c.repo
	}
	if repo == "" {
		return "", "", fmt.Errorf("no repository configured")
	}
	return splitRepo(repo)
}

func splitRepo(repo string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repository %q, want owner/name", repo)
	}
	return owner, name, nil
}
