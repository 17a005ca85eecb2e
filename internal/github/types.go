// Package github provides client and data types for the GitHub REST API.
//
// This package collects issues, pull requests, issue comments and the issue
// event timeline of one repository and hands them to the sync engine as raw
// tracker records.
package github

import (
	"strconv"
	"time"
)

// API configuration constants.
const (
	// DefaultAPIEndpoint is the GitHub REST API base URL.
	DefaultAPIEndpoint = "https://api.github.com"

	// MaxPageSize is the number of records requested per page.
	MaxPageSize = 100

	// MaxPages is the maximum number of event or comment pages fetched for
	// one issue. This prevents infinite loops from malformed Link headers.
	MaxPages = 1000

	// NullEmail is stored for users that do not publish an address.
	NullEmail = "null"
)

// Issue represents an issue from the GitHub API.
type Issue struct {
	ID          int64      `json:"id"`     // Global unique ID
	Number      int        `json:"number"` // Repository-scoped issue number
	Title       string     `json:"title"`
	Body        *string    `json:"body"`
	State       string     `json:"state"` // "open" or "closed"
	CreatedAt   *time.Time `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	Labels      []Label    `json:"labels"`
	Assignee    *User      `json:"assignee,omitempty"`
	User        *User      `json:"user,omitempty"` // Author
	Milestone   *Milestone `json:"milestone,omitempty"`
	HTMLURL     string     `json:"html_url"`
	PullRequest *PullRef   `json:"pull_request,omitempty"` // Non-nil if this is a PR
}

// PullRef indicates an issue is actually a pull request.
// The GitHub Issues API returns PRs alongside issues; this field
// distinguishes them.
type PullRef struct {
	URL string `json:"url,omitempty"`
}

// User represents a GitHub user. Issue payloads carry only the login and the
// API URL; Name and Email are filled by the user endpoint.
type User struct {
	ID    int64   `json:"id"`
	Login string  `json:"login"`
	URL   string  `json:"url"`
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

// Label represents a GitHub label.
type Label struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Milestone represents a GitHub milestone.
type Milestone struct {
	ID     int64  `json:"id"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"` // "open" or "closed"
}

// Event is an entry of the issue event timeline.
type Event struct {
	ID        int64      `json:"id"`
	Event     string     `json:"event"`
	CreatedAt *time.Time `json:"created_at"`
	Actor     *User      `json:"actor"`
	CommitID  *string    `json:"commit_id"`
	Assignee  *User      `json:"assignee,omitempty"`
	Label     *Label     `json:"label,omitempty"`
	Milestone *Milestone `json:"milestone,omitempty"`
	Rename    *Rename    `json:"rename,omitempty"`
}

// Rename holds the titles of a "renamed" event.
type Rename struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Comment is an issue comment.
type Comment struct {
	ID        int64      `json:"id"`
	Body      string     `json:"body"`
	User      *User      `json:"user"`
	CreatedAt *time.Time `json:"created_at"`
}

// Key returns the issue number as used in follow-up URLs.
func (i *Issue) Key() string {
	return strconv.Itoa(i.Number)
}

// LabelNames extracts label name strings from a slice of Label structs.
func LabelNames(labels []Label) []string {
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.Name
	}
	return names
}
