// Package types defines the canonical data model shared by the tracker adapters,
// the sync engine and the storage backends.
package types

import (
	"slices"
	"strings"
	"time"
)

// Issue is the canonical, tracker-independent representation of an issue.
//
// Person fields hold person ids and are empty when unset. ParentIssueID and the
// TargetIssueID of each link stay empty until the reference is resolved; the
// external id placeholder is kept next to them in the meantime.
type Issue struct {
	ID             string   `json:"id"`
	ExternalID     string   `json:"external_id"`
	IssueSystemIDs []string `json:"issue_system_ids"`

	Title       string `json:"title,omitempty"`
	Description string `json:"desc,omitempty"`
	Status      string `json:"status,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
	IssueType   string `json:"issue_type,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Environment string `json:"environment,omitempty"`
	Platform    string `json:"platform,omitempty"`

	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`

	CreatorID  string `json:"creator_id,omitempty"`
	ReporterID string `json:"reporter_id,omitempty"`
	AssigneeID string `json:"assignee_id,omitempty"`

	ParentIssueID    string `json:"parent_issue_id,omitempty"`
	ParentExternalID string `json:"parent_external_id,omitempty"`

	AffectsVersions []string    `json:"affects_versions,omitempty"`
	FixVersions     []string    `json:"fix_versions,omitempty"`
	Components      []string    `json:"components,omitempty"`
	Labels          []string    `json:"labels,omitempty"`
	IssueLinks      []IssueLink `json:"issue_links,omitempty"`

	OriginalTimeEstimate *int64 `json:"original_time_estimate,omitempty"`
	IsPullRequest        bool   `json:"is_pull_request,omitempty"`
}

// IsStub reports whether the issue is a placeholder created for a forward
// reference that has not been fetched yet.
func (i *Issue) IsStub() bool {
	return i.Title == "" && i.Status == "" && i.CreatedAt == nil && i.UpdatedAt == nil
}

// InGeneration reports whether the issue carries the given generation id.
func (i *Issue) InGeneration(generationID string) bool {
	return slices.Contains(i.IssueSystemIDs, generationID)
}

// AddGeneration appends the generation id if it is not present yet.
// Returns true when the slice changed.
func (i *Issue) AddGeneration(generationID string) bool {
	if i.InGeneration(generationID) {
		return false
	}
	i.IssueSystemIDs = append(i.IssueSystemIDs, generationID)
	return true
}

// Clone returns a deep copy of the issue.
func (i *Issue) Clone() *Issue {
	if i == nil {
		return nil
	}
	c := *i
	c.IssueSystemIDs = slices.Clone(i.IssueSystemIDs)
	c.AffectsVersions = slices.Clone(i.AffectsVersions)
	c.FixVersions = slices.Clone(i.FixVersions)
	c.Components = slices.Clone(i.Components)
	c.Labels = slices.Clone(i.Labels)
	c.IssueLinks = slices.Clone(i.IssueLinks)
	if i.CreatedAt != nil {
		t := *i.CreatedAt
		c.CreatedAt = &t
	}
	if i.UpdatedAt != nil {
		t := *i.UpdatedAt
		c.UpdatedAt = &t
	}
	if i.OriginalTimeEstimate != nil {
		n := *i.OriginalTimeEstimate
		c.OriginalTimeEstimate = &n
	}
	return &c
}

// IssueLink is a typed relation from an issue to another issue.
type IssueLink struct {
	TargetIssueID    string `json:"issue_id,omitempty"`
	TargetExternalID string `json:"external_id,omitempty"`
	Type             string `json:"type"`
	Effect           string `json:"effect"`
}

// Resolved reports whether the link target has been resolved to an issue id.
func (l IssueLink) Resolved() bool {
	return l.TargetIssueID != ""
}

// SameTarget reports whether both links point at the same issue. Resolved ids
// are compared when both sides have one, external ids otherwise.
func (l IssueLink) SameTarget(o IssueLink) bool {
	if l.TargetIssueID != "" && o.TargetIssueID != "" {
		return l.TargetIssueID == o.TargetIssueID
	}
	return strings.EqualFold(l.TargetExternalID, o.TargetExternalID)
}

// Matches compares target, effect and type case-insensitively.
func (l IssueLink) Matches(o IssueLink) bool {
	return l.SameTarget(o) &&
		strings.EqualFold(l.Effect, o.Effect) &&
		strings.EqualFold(l.Type, o.Type)
}

// Comment is an immutable comment on an issue.
type Comment struct {
	ID         string     `json:"id"`
	ExternalID string     `json:"external_id"`
	IssueID    string     `json:"issue_id"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	AuthorID   string     `json:"author_id,omitempty"`
	Body       string     `json:"comment"`
}

// Event records a single atomic field change on an issue.
type Event struct {
	ID         string     `json:"id"`
	ExternalID string     `json:"external_id"`
	IssueID    string     `json:"issue_id"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	AuthorID   string     `json:"author_id,omitempty"`
	Field      Field      `json:"status"`
	OldValue   *Value     `json:"old_value,omitempty"`
	NewValue   *Value     `json:"new_value,omitempty"`
	CommitHash string     `json:"commit_sha,omitempty"`
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	c := *e
	c.OldValue = e.OldValue.Clone()
	c.NewValue = e.NewValue.Clone()
	return &c
}

// Person is a tracker user. Identity is the (Name, Email) pair.
type Person struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
}

// Deobfuscate undoes the " at " / " dot " email masking some trackers apply.
func Deobfuscate(email string) string {
	email = strings.ReplaceAll(email, " at ", "@")
	return strings.ReplaceAll(email, " dot ", ".")
}

// IssueSystem is one import generation of a tracker.
type IssueSystem struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"project_id"`
	URL            string     `json:"url"`
	CollectionDate time.Time  `json:"collection_date"`
	LastUpdated    *time.Time `json:"last_updated,omitempty"`
}

// Project groups the issue systems that were collected for it.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
