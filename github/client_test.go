package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, repo string) (*Client, *http.ServeMux) {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), Config{Token: "t0ken", APIURL: srv.URL + "/api", Repo: repo}, srv.Client())
	require.NoError(t, err)
	return c, mux
}

func TestClientUser(t *testing.T) {
	c, mux := newTestClient(t, "")
	mux.HandleFunc("/api/users/octocat", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t0ken", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"login": "octocat", "name": "The Octocat", "avatar_url": "https://a/o.png", "html_url": "https://github.com/octocat"}`)
	})

	u, err := c.User(context.Background(), "octocat")
	require.NoError(t, err)
	assert.Equal(t, "The Octocat", u.Name)
	assert.Equal(t, "https://a/o.png", u.Avatar)
	assert.Equal(t, "The Octocat", u.DisplayName())

	_, err = c.User(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestClientSummaries(t *testing.T) {
	c, mux := newTestClient(t, "gobridge/ghrelay")
	mux.HandleFunc("/api/repos/gobridge/ghrelay/issues/12", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"number": 12, "title": "Crash & burn", "html_url": "https://github.com/gobridge/ghrelay/issues/12", "state": "closed"}`)
	})
	mux.HandleFunc("/api/repos/other/repo/pulls/3", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"number": 3, "title": "Speed up", "html_url": "https://github.com/other/repo/pull/3", "state": "open"}`)
	})

	line, err := c.IssueSummary(context.Background(), "", 12)
	require.NoError(t, err)
	assert.Equal(t, "Issue #12: <https://github.com/gobridge/ghrelay/issues/12|Crash &amp; burn> (Closed)", line)

	line, err = c.PullRequestSummary(context.Background(), "other/repo", 3)
	require.NoError(t, err)
	assert.Equal(t, "Pull request #3: <https://github.com/other/repo/pull/3|Speed up>", line)

	_, err = c.PullRequestSummary(context.Background(), "", 99)
	assert.Error(t, err)
}

func TestClientRepositoryValidation(t *testing.T) {
	_, err := NewClient(context.Background(), Config{Repo: "no-slash"}, nil)
	assert.Error(t, err)

	c, err := NewClient(context.Background(), Config{}, nil)
	require.NoError(t, err)
	_, err = c.IssueSummary(context.Background(), "", 1)
	assert.EqualError(t, err, "no repository configured")
	_, err = c.IssueSummary(context.Background(), "a/b/c", 1)
	assert.Error(t, err)
}
