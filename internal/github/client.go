package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/smartshark/issuesync/internal/tracker"
)

// Client reads one repository's issues endpoint.
type Client struct {
	// IssuesURL is the tracking URL, e.g.
	// https://api.github.com/repos/owner/repo/issues.
	IssuesURL string

	requester *tracker.Requester
}

// NewClient returns a client for the issues endpoint issuesURL. A token is
// sent as "Authorization: token ...", otherwise user and password are used
// for basic authentication when given.
func NewClient(issuesURL string, requester *tracker.Requester, token, user, password string) *Client {
	requester.Authorize = func(req *http.Request) {
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
		switch {
		case token != "":
			req.Header.Set("Authorization", "token "+token)
		case user != "":
			req.SetBasicAuth(user, password)
		}
	}
	return &Client{IssuesURL: strings.TrimSuffix(issuesURL, "/"), requester: requester}
}

// buildURL constructs a full API URL.
func buildURL(base string, params map[string]string) string {
	if len(params) == 0 {
		return base
	}
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return base + "?" + values.Encode()
}

// linkNextPattern matches the "next" relation in GitHub Link headers.
var linkNextPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// hasNextPage checks the Link header for a next page URL and returns it.
func hasNextPage(headers http.Header) (string, bool) {
	link := headers.Get("Link")
	if link == "" {
		return "", false
	}
	matches := linkNextPattern.FindStringSubmatch(link)
	if len(matches) < 2 {
		return "", false
	}
	return matches[1], true
}

// FetchIssues retrieves one page of issues and pull requests in ascending
// update order. since restricts the result to issues updated at or after it.
func (c *Client) FetchIssues(ctx context.Context, page int, since *time.Time) ([]Issue, error) {
	params := map[string]string{
		"state":     "all",
		"page":      strconv.Itoa(page),
		"per_page":  strconv.Itoa(MaxPageSize),
		"sort":      "updated",
		"direction": "asc",
	}
	if since != nil {
		params["since"] = since.UTC().Format(time.RFC3339)
	}
	var issues []Issue
	if _, err := c.requester.GetJSON(ctx, buildURL(c.IssuesURL, params), &issues); err != nil {
		return nil, fmt.Errorf("failed to fetch issues page %d: %w", page, err)
	}
	return issues, nil
}

// FetchEvents retrieves the whole event timeline of an issue, oldest first.
func (c *Client) FetchEvents(ctx context.Context, number string) ([]Event, error) {
	var all []Event
	err := c.eachPage(ctx, c.IssuesURL+"/"+number+"/events", func(next func(any) error) error {
		var events []Event
		if err := next(&events); err != nil {
			return err
		}
		all = append(all, events...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events of issue %s: %w", number, err)
	}
	return all, nil
}

// FetchComments retrieves all comments of an issue, oldest first.
func (c *Client) FetchComments(ctx context.Context, number string) ([]Comment, error) {
	var all []Comment
	err := c.eachPage(ctx, c.IssuesURL+"/"+number+"/comments", func(next func(any) error) error {
		var comments []Comment
		if err := next(&comments); err != nil {
			return err
		}
		all = append(all, comments...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch comments of issue %s: %w", number, err)
	}
	return all, nil
}

// FetchUser retrieves a user by API URL.
func (c *Client) FetchUser(ctx context.Context, userURL string) (*User, error) {
	var u User
	if _, err := c.requester.GetJSON(ctx, userURL, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// eachPage follows the Link headers of a list endpoint. fn decodes one page
// through the function it is handed.
func (c *Client) eachPage(ctx context.Context, base string, fn func(next func(any) error) error) error {
	urlStr := buildURL(base, map[string]string{"per_page": strconv.Itoa(MaxPageSize)})
	for page := 1; ; page++ {
		if page > MaxPages {
			return fmt.Errorf("pagination limit exceeded: stopped after %d pages", MaxPages)
		}
		var headers http.Header
		err := fn(func(out any) error {
			var err error
			headers, err = c.requester.GetJSON(ctx, urlStr, out)
			return err
		})
		if err != nil {
			return err
		}
		next, ok := hasNextPage(headers)
		if !ok {
			return nil
		}
		urlStr = next
	}
}
