// Package jira provides the client and data types for the Jira REST API
// (version 2) and the tracker adapter built on them.
package jira

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultPageSize is the number of search results requested per page.
	DefaultPageSize = 50

	// NullEmail is stored for users whose address Jira does not reveal.
	NullEmail = "null"

	// timestampLayout is the format of Jira's created/updated fields.
	timestampLayout = "2006-01-02T15:04:05.000-0700"

	// jqlTimeLayout is the minute-precision format JQL date clauses accept.
	jqlTimeLayout = "2006-01-02 15:04"
)

// Issue represents a Jira issue from the REST API.
type Issue struct {
	ID        string     `json:"id"`
	Key       string     `json:"key"`
	Self      string     `json:"self"`
	Fields    Fields     `json:"fields"`
	Changelog *Changelog `json:"changelog,omitempty"`
}

// Fields contains the fields of a Jira issue.
type Fields struct {
	Summary              string          `json:"summary"`
	Description          json.RawMessage `json:"description"` // plain text, or ADF on cloud instances
	Environment          *string         `json:"environment"`
	Status               *NamedField     `json:"status"`
	Priority             *NamedField     `json:"priority"`
	IssueType            *NamedField     `json:"issuetype"`
	Resolution           *NamedField     `json:"resolution"`
	Creator              *User           `json:"creator"`
	Reporter             *User           `json:"reporter"`
	Assignee             *User           `json:"assignee"`
	Labels               []string        `json:"labels"`
	Components           []NamedField    `json:"components"`
	Versions             []NamedField    `json:"versions"`
	FixVersions          []NamedField    `json:"fixVersions"`
	IssueLinks           []IssueLink     `json:"issuelinks"`
	Parent               *IssueRef       `json:"parent"`
	TimeOriginalEstimate *int64          `json:"timeoriginalestimate"`
	Created              string          `json:"created"`
	Updated              string          `json:"updated"`
	Comment              *CommentPage    `json:"comment"`
}

// NamedField is any Jira object identified by its name (status, priority,
// component, version...).
type NamedField struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User represents a Jira user.
type User struct {
	Name         string `json:"name"`
	Key          string `json:"key"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

// IssueRef is the short form of an issue embedded in another one.
type IssueRef struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// IssueLink is one entry of the issuelinks field. Exactly one of
// OutwardIssue and InwardIssue is set.
type IssueLink struct {
	ID           string    `json:"id"`
	Type         LinkType  `json:"type"`
	OutwardIssue *IssueRef `json:"outwardIssue,omitempty"`
	InwardIssue  *IssueRef `json:"inwardIssue,omitempty"`
}

// LinkType names a link relation in both directions.
type LinkType struct {
	Name    string `json:"name"`
	Inward  string `json:"inward"`
	Outward string `json:"outward"`
}

// Changelog is the expanded change history of an issue, oldest first.
type Changelog struct {
	StartAt    int       `json:"startAt"`
	MaxResults int       `json:"maxResults"`
	Total      int       `json:"total"`
	Histories  []History `json:"histories"`
}

// History is one changelog entry.
type History struct {
	ID      string        `json:"id"`
	Author  *User         `json:"author"`
	Created string        `json:"created"`
	Items   []HistoryItem `json:"items"`
}

// HistoryItem is one field change. From and To hold machine values (user
// names, issue keys, seconds), the String variants their display text.
type HistoryItem struct {
	Field      string  `json:"field"`
	FieldType  string  `json:"fieldtype"`
	From       *string `json:"from"`
	FromString *string `json:"fromString"`
	To         *string `json:"to"`
	ToString   *string `json:"toString"`
}

// CommentPage is the comment field of an issue.
type CommentPage struct {
	Total    int       `json:"total"`
	Comments []Comment `json:"comments"`
}

// Comment is an issue comment.
type Comment struct {
	ID      string `json:"id"`
	Author  *User  `json:"author"`
	Body    string `json:"body"`
	Created string `json:"created"`
}

// SearchResult represents a Jira JQL search response.
type SearchResult struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

// ParseTimestamp parses a Jira timestamp.
func ParseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	formats := []string{
		timestampLayout,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05-0700",
		time.RFC3339,
		time.RFC3339Nano,
	}
	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %s", ts)
}

// DescriptionToPlainText returns a description as text. Server instances
// deliver a plain string; cloud instances deliver an ADF document, whose text
// nodes are joined paragraph by paragraph.
func DescriptionToPlainText(raw json.RawMessage) *string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s
	}

	var doc struct {
		Content []struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		s = string(raw)
		return &s
	}

	var parts []string
	for _, block := range doc.Content {
		var line []string
		for _, inline := range block.Content {
			if inline.Text != "" {
				line = append(line, inline.Text)
			}
		}
		if len(line) > 0 {
			parts = append(parts, strings.Join(line, ""))
		}
	}
	s = strings.Join(parts, "\n")
	return &s
}
