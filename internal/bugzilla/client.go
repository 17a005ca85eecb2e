// Package bugzilla collects bugs, comments and change history from the
// Bugzilla REST API.
package bugzilla

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smartshark/issuesync/internal/tracker"
)

// Bug is a bug as returned by the bug search endpoint.
type Bug struct {
	ID               int64      `json:"id"`
	Summary          string     `json:"summary"`
	Status           string     `json:"status"`
	Resolution       string     `json:"resolution"`
	Severity         string     `json:"severity"`
	Type             *string    `json:"type"`
	Component        string     `json:"component"`
	Version          string     `json:"version"`
	TargetMilestone  string     `json:"target_milestone"`
	OpSys            string     `json:"op_sys"`
	Platform         string     `json:"platform"`
	Keywords         []string   `json:"keywords"`
	Blocks           []int64    `json:"blocks"`
	DependsOn        []int64    `json:"depends_on"`
	DupeOf           *int64     `json:"dupe_of"`
	CreationTime     *time.Time `json:"creation_time"`
	LastChangeTime   *time.Time `json:"last_change_time"`
	AssignedToDetail *User      `json:"assigned_to_detail"`
	CreatorDetail    *User      `json:"creator_detail"`
}

// User is a Bugzilla account. Email is missing when the caller may not see
// addresses.
type User struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	RealName string `json:"real_name"`
	Email    string `json:"email"`
}

// History is one change set of a bug.
type History struct {
	When    time.Time `json:"when"`
	Who     string    `json:"who"`
	Changes []Change  `json:"changes"`
}

// Change is a single field change inside a change set.
type Change struct {
	FieldName string `json:"field_name"`
	Removed   string `json:"removed"`
	Added     string `json:"added"`
}

// Comment is a bug comment. The comment with Count 0 is the bug description.
type Comment struct {
	ID           int64     `json:"id"`
	Count        int       `json:"count"`
	Text         string    `json:"text"`
	Creator      string    `json:"creator"`
	CreationTime time.Time `json:"creation_time"`
}

type bugList struct {
	Bugs []Bug `json:"bugs"`
}

type historyResponse struct {
	Bugs []struct {
		ID      int64     `json:"id"`
		History []History `json:"history"`
	} `json:"bugs"`
}

type commentResponse struct {
	Bugs map[string]struct {
		Comments []Comment `json:"comments"`
	} `json:"bugs"`
}

type userResponse struct {
	Users []User `json:"users"`
}

// Client talks to one Bugzilla product.
type Client struct {
	// BaseURL is the REST root, e.g. https://bugs.example.org/rest.
	BaseURL string
	Product string

	APIKey   string
	Login    string
	Password string

	requester *tracker.Requester
}

// NewClient derives the REST root and the product from a tracking URL of
// the form https://host/rest/bug?product=NAME.
func NewClient(trackingURL string, requester *tracker.Requester) (*Client, error) {
	u, err := url.Parse(trackingURL)
	if err != nil {
		return nil, fmt.Errorf("parse tracking url: %w", err)
	}
	product := u.Query().Get("product")
	if product == "" {
		return nil, fmt.Errorf("tracking url %q has no product parameter", trackingURL)
	}
	path := strings.TrimSuffix(u.Path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[:i]
	}
	base := url.URL{Scheme: u.Scheme, Host: u.Host, Path: path}
	return &Client{BaseURL: base.String(), Product: product, requester: requester}, nil
}

// buildURL adds the credentials to params and renders the endpoint URL.
func (c *Client) buildURL(endpoint string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	switch {
	case c.APIKey != "":
		params.Set("api_key", c.APIKey)
	case c.Login != "" && c.Password != "":
		params.Set("login", c.Login)
		params.Set("password", c.Password)
	}
	u := c.BaseURL + "/" + endpoint
	if q := params.Encode(); q != "" {
		u += "?" + q
	}
	return u
}

// SearchBugs returns up to limit bugs of the product starting at offset,
// ordered by creation time. since restricts the result to bugs changed at
// or after it.
func (c *Client) SearchBugs(ctx context.Context, since *time.Time, offset, limit int) ([]Bug, error) {
	params := url.Values{
		"product": {c.Product},
		"offset":  {strconv.Itoa(offset)},
		"limit":   {strconv.Itoa(limit)},
		"order":   {"creation_time ASC"},
	}
	if since != nil {
		params.Set("last_change_time", since.UTC().Format(time.RFC3339))
	}
	var out bugList
	if _, err := c.requester.GetJSON(ctx, c.buildURL("bug", params), &out); err != nil {
		return nil, fmt.Errorf("failed to search bugs: %w", err)
	}
	return out.Bugs, nil
}

// History returns the change sets of a bug in chronological order.
func (c *Client) History(ctx context.Context, bugID string) ([]History, error) {
	var out historyResponse
	if _, err := c.requester.GetJSON(ctx, c.buildURL("bug/"+url.PathEscape(bugID)+"/history", nil), &out); err != nil {
		return nil, fmt.Errorf("failed to fetch history of bug %s: %w", bugID, err)
	}
	if len(out.Bugs) == 0 {
		return nil, nil
	}
	return out.Bugs[0].History, nil
}

// Comments returns the comments of a bug, the description first.
func (c *Client) Comments(ctx context.Context, bugID string) ([]Comment, error) {
	var out commentResponse
	if _, err := c.requester.GetJSON(ctx, c.buildURL("bug/"+url.PathEscape(bugID)+"/comment", nil), &out); err != nil {
		return nil, fmt.Errorf("failed to fetch comments of bug %s: %w", bugID, err)
	}
	return out.Bugs[bugID].Comments, nil
}

// User looks up an account by login name.
func (c *Client) User(ctx context.Context, name string) (*User, error) {
	var out userResponse
	if _, err := c.requester.GetJSON(ctx, c.buildURL("user/"+url.PathEscape(name), nil), &out); err != nil {
		return nil, err
	}
	if len(out.Users) == 0 {
		return nil, fmt.Errorf("%w: user %s", tracker.ErrNotFound, name)
	}
	return &out.Users[0], nil
}
