// Package tracker defines the adapter contract that every issue tracker
// backend (GitHub, Jira, Bugzilla) implements, the raw record types adapters
// hand to the sync engine, and the shared HTTP plumbing they use.
package tracker

import (
	"context"
	"time"
)

// Adapter is the interface every tracker backend implements. The sync engine
// drives it page by page; every call may block on the network and honors ctx.
type Adapter interface {
	// Name returns the lowercase backend identifier (e.g. "github", "jira").
	Name() string

	// Init validates the configuration and prepares the client. Auth and
	// configuration problems are reported here and abort the run.
	Init(ctx context.Context, cfg *Config) error

	// Schema returns the static field tables of this tracker.
	Schema() *Schema

	// FetchIssuePage returns one page of issues updated at or after cursor.Since,
	// in ascending update order. An empty page ends the run.
	FetchIssuePage(ctx context.Context, cursor Cursor, pageSize int) (*Page, error)

	// FetchHistory returns the change log of an issue, newest entry first.
	FetchHistory(ctx context.Context, issue RawIssue) ([]RawHistoryEntry, error)

	// FetchComments returns the comments of an issue, oldest first.
	FetchComments(ctx context.Context, issue RawIssue) ([]RawComment, error)

	// FetchUser looks up a user by username (or by API url for GitHub).
	// Returns ErrNotFound when the tracker does not know the user.
	FetchUser(ctx context.Context, key string) (*RawPerson, error)

	// Close releases any resources held by the adapter.
	Close() error
}

// Cursor positions a page request.
type Cursor struct {
	Since  *time.Time
	Page   int // 1-based page number for page-numbered APIs
	Offset int // result offset for offset-based APIs
}

// Page is one batch of issues together with the cursor of the next batch.
type Page struct {
	Issues []RawIssue
	Next   Cursor
}

// RawIssue is a tracker issue snapshot with its fields already decoded into
// plain Go values (string, time.Time, int64, []string, RawPerson, []RawLink).
// A nil field value means the tracker reported it as null.
type RawIssue struct {
	ExternalID    string
	UpdatedAt     *time.Time
	Fields        map[string]any
	IsPullRequest bool

	// Key is the tracker-internal handle used for follow-up requests when it
	// differs from ExternalID (GitHub issue number, Bugzilla bug id).
	Key string
}

// RawPerson is a user reference as it appears in tracker payloads.
// Key is the handle FetchUser accepts; it defaults to Username.
type RawPerson struct {
	Username string
	Name     string
	Email    string
	Key      string
}

// LookupKey returns the key to pass to FetchUser.
func (p RawPerson) LookupKey() string {
	if p.Key != "" {
		return p.Key
	}
	return p.Username
}

// RawLink is an issue link in a snapshot. Either Relation carries free text
// for the keyword classifier, or Type and Effect are already known.
type RawLink struct {
	TargetExternalID string
	Relation         string
	Type             string
	Effect           string
}

// RawHistoryEntry is one change-log entry: one author, one timestamp, one or
// more field changes.
type RawHistoryEntry struct {
	ID         string
	Seq        int // chronological position of the entry in the issue history
	CreatedAt  *time.Time
	Author     *RawPerson
	CommitHash string
	Items      []RawChangeItem
}

// RawChangeItem is one field change inside a history entry. From/To are the
// display strings, FromKey/ToKey the machine keys when the tracker has them.
type RawChangeItem struct {
	Field   string
	From    *string
	To      *string
	FromKey *string
	ToKey   *string
}

// RawComment is a comment as delivered by the tracker.
type RawComment struct {
	ExternalID string
	CreatedAt  *time.Time
	Author     *RawPerson
	Body       string
}

// Str is a convenience for building optional strings.
func Str(s string) *string { return &s }
