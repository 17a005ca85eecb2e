package jira

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smartshark/issuesync/internal/tracker"
)

// Client provides read access to one Jira project.
type Client struct {
	// BaseURL is the REST root, e.g. https://issues.apache.org/jira/rest/api/2.
	BaseURL string

	// Project is the project key taken from the tracking URL.
	Project string

	Username string
	Password string

	requester *tracker.Requester
}

// NewClient derives the REST root and the project key from a tracking URL of
// the form https://host[/context]/rest/api/2/search?jql=project=KEY.
func NewClient(trackingURL string, requester *tracker.Requester) (*Client, error) {
	u, err := url.Parse(trackingURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Jira URL %q: %w", trackingURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid Jira URL %q: missing scheme or host", trackingURL)
	}
	i := strings.LastIndex(trackingURL, "=")
	if i < 0 || i == len(trackingURL)-1 {
		return nil, fmt.Errorf("invalid Jira URL %q: no project key", trackingURL)
	}

	base := u.Scheme + "://" + u.Host
	if !strings.HasPrefix(u.Path, "/rest") {
		if segment, _, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/"); segment != "" {
			base += "/" + segment
		}
	}
	c := &Client{
		BaseURL:   base + "/rest/api/2",
		Project:   trackingURL[i+1:],
		requester: requester,
	}
	if requester != nil {
		requester.Authorize = c.setAuth
	}
	return c, nil
}

// setAuth adds basic authentication when both user and password are known.
// Anonymous access is used otherwise.
func (c *Client) setAuth(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.Username != "" && c.Password != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}
}

// JQL returns the search query of the project, restricted to issues updated
// at or after since when it is set.
func (c *Client) JQL(since *time.Time) string {
	if since == nil {
		return fmt.Sprintf("project=%s ORDER BY updatedDate ASC", c.Project)
	}
	return fmt.Sprintf("project=%s AND updatedDate >= %q ORDER BY updatedDate ASC",
		c.Project, since.UTC().Format(jqlTimeLayout))
}

// SearchIssues returns one page of issue keys in ascending update order.
func (c *Client) SearchIssues(ctx context.Context, since *time.Time, startAt, maxResults int) (*SearchResult, error) {
	params := url.Values{
		"jql":        {c.JQL(since)},
		"fields":     {"summary"},
		"startAt":    {strconv.Itoa(startAt)},
		"maxResults": {strconv.Itoa(maxResults)},
	}
	apiURL := fmt.Sprintf("%s/search?%s", c.BaseURL, params.Encode())

	var result SearchResult
	if _, err := c.requester.GetJSON(ctx, apiURL, &result); err != nil {
		return nil, fmt.Errorf("search issues: %w", err)
	}
	return &result, nil
}

// GetIssue fetches a single issue by key (e.g. "PROJ-123") with all fields
// and its changelog.
func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, error) {
	apiURL := fmt.Sprintf("%s/issue/%s?expand=changelog", c.BaseURL, url.PathEscape(key))

	var issue Issue
	if _, err := c.requester.GetJSON(ctx, apiURL, &issue); err != nil {
		return nil, fmt.Errorf("get issue %s: %w", key, err)
	}
	return &issue, nil
}

// GetUser looks a user up by user name.
func (c *Client) GetUser(ctx context.Context, name string) (*User, error) {
	apiURL := fmt.Sprintf("%s/user?%s", c.BaseURL, url.Values{"username": {name}}.Encode())

	var u User
	if _, err := c.requester.GetJSON(ctx, apiURL, &u); err != nil {
		return nil, fmt.Errorf("get user %s: %w", name, err)
	}
	return &u, nil
}
