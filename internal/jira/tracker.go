package jira

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartshark/issuesync/internal/tracker"
)

func init() {
	tracker.Register("jira", func() tracker.Adapter {
		return &Tracker{}
	})
}

// Tracker implements tracker.Adapter for Jira.
type Tracker struct {
	client *Client
	log    logrus.FieldLogger

	// Search returns keys only; each issue of the current page is fetched
	// in full, changelog and comments included, and kept here.
	issues map[string]issueResult
}

type issueResult struct {
	issue *Issue
	err   error
}

func (t *Tracker) Name() string { return "jira" }

func (t *Tracker) Init(_ context.Context, cfg *tracker.Config) error {
	t.log = cfg.Log
	if t.log == nil {
		t.log = logrus.StandardLogger()
	}
	t.log = t.log.WithField("backend", t.Name())

	token, user, password := cfg.Credentials()
	if token != "" {
		return fmt.Errorf("%w: Jira does not support tokens, use user and password", tracker.ErrAuth)
	}
	client, err := NewClient(cfg.URL, tracker.NewRequester(cfg, t.log))
	if err != nil {
		return err
	}
	client.Username, client.Password = user, password
	t.client = client
	t.issues = make(map[string]issueResult)
	return nil
}

func (t *Tracker) Schema() *tracker.Schema { return jiraSchema }

func (t *Tracker) Close() error { return nil }

// FetchIssuePage searches one page of keys and fetches each issue with its
// changelog. An issue that cannot be fetched is still listed, without
// fields; its history and comments report the failure.
func (t *Tracker) FetchIssuePage(ctx context.Context, cursor tracker.Cursor, pageSize int) (*tracker.Page, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotInitialized{Tracker: t.Name()}
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	result, err := t.client.SearchIssues(ctx, cursor.Since, cursor.Offset, pageSize)
	if err != nil {
		return nil, err
	}
	page := &tracker.Page{
		Next: tracker.Cursor{Since: cursor.Since, Offset: cursor.Offset + len(result.Issues)},
	}
	clear(t.issues)
	for _, found := range result.Issues {
		issue, err := t.client.GetIssue(ctx, found.Key)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			t.log.WithError(err).WithField("issue", found.Key).Warn("could not fetch issue")
			t.issues[found.Key] = issueResult{err: err}
			page.Issues = append(page.Issues, tracker.RawIssue{ExternalID: found.Key, Key: found.Key})
			continue
		}
		raw := issueToRaw(issue)
		t.issues[raw.Key] = issueResult{issue: issue}
		page.Issues = append(page.Issues, raw)
	}
	return page, nil
}

// cached returns the issue fetched with the current page, fetching it again
// when it is not there.
func (t *Tracker) cached(ctx context.Context, key string) (*Issue, error) {
	if res, ok := t.issues[key]; ok {
		return res.issue, res.err
	}
	return t.client.GetIssue(ctx, key)
}

// FetchHistory returns the changelog newest first.
func (t *Tracker) FetchHistory(ctx context.Context, raw tracker.RawIssue) ([]tracker.RawHistoryEntry, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotInitialized{Tracker: t.Name()}
	}
	issue, err := t.cached(ctx, raw.Key)
	if err != nil {
		return nil, err
	}
	if issue.Changelog == nil {
		return nil, nil
	}
	if cl := issue.Changelog; cl.Total > len(cl.Histories) {
		t.log.WithFields(logrus.Fields{"issue": raw.Key, "total": cl.Total, "returned": len(cl.Histories)}).
			Warn("changelog truncated")
	}

	out := make([]tracker.RawHistoryEntry, 0, len(issue.Changelog.Histories))
	for seq, h := range issue.Changelog.Histories {
		entry := tracker.RawHistoryEntry{
			ID:        h.ID,
			Seq:       seq,
			CreatedAt: timeOf(h.Created),
			Author:    person(h.Author),
		}
		for _, item := range h.Items {
			change := tracker.RawChangeItem{
				Field:   item.Field,
				From:    item.FromString,
				To:      item.ToString,
				FromKey: item.From,
				ToKey:   item.To,
			}
			if item.Field == "Parent" {
				// from/to hold numeric ids, the strings hold the keys.
				change.FromKey, change.ToKey = nil, nil
			}
			entry.Items = append(entry.Items, change)
		}
		out = append(out, entry)
	}
	slices.Reverse(out)
	return out, nil
}

func (t *Tracker) FetchComments(ctx context.Context, raw tracker.RawIssue) ([]tracker.RawComment, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotInitialized{Tracker: t.Name()}
	}
	issue, err := t.cached(ctx, raw.Key)
	if err != nil {
		return nil, err
	}
	if issue.Fields.Comment == nil {
		return nil, nil
	}
	out := make([]tracker.RawComment, 0, len(issue.Fields.Comment.Comments))
	for _, c := range issue.Fields.Comment.Comments {
		out = append(out, tracker.RawComment{
			ExternalID: c.ID,
			CreatedAt:  timeOf(c.Created),
			Author:     person(c.Author),
			Body:       c.Body,
		})
	}
	return out, nil
}

func (t *Tracker) FetchUser(ctx context.Context, key string) (*tracker.RawPerson, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotInitialized{Tracker: t.Name()}
	}
	u, err := t.client.GetUser(ctx, key)
	if err != nil {
		return nil, err
	}
	if u.Name == "" {
		u.Name = key
	}
	return person(u), nil
}

func person(u *User) *tracker.RawPerson {
	if u == nil {
		return nil
	}
	p := &tracker.RawPerson{Username: u.Name, Name: u.DisplayName, Email: u.EmailAddress}
	if p.Username == "" {
		p.Username = u.Key
	}
	if p.Username == "" {
		return nil
	}
	if p.Email == "" {
		p.Email = NullEmail
	}
	return p
}

func personValue(u *User) any {
	if p := person(u); p != nil {
		return *p
	}
	return nil
}

func name(f *NamedField) any {
	if f == nil {
		return nil
	}
	return f.Name
}

func names(fs []NamedField) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Name)
	}
	return out
}

func timeOf(ts string) *time.Time {
	if ts == "" {
		return nil
	}
	t, err := ParseTimestamp(ts)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// issueLinks turns issuelinks into raw links. The relation text of the
// direction the link points in ("blocks", "is blocked by") is classified
// later; links to the issue itself are dropped.
func issueLinks(self string, in []IssueLink) []tracker.RawLink {
	out := make([]tracker.RawLink, 0, len(in))
	for _, l := range in {
		var link tracker.RawLink
		switch {
		case l.OutwardIssue != nil:
			link = tracker.RawLink{TargetExternalID: l.OutwardIssue.Key, Relation: l.Type.Outward}
		case l.InwardIssue != nil:
			link = tracker.RawLink{TargetExternalID: l.InwardIssue.Key, Relation: l.Type.Inward}
		default:
			continue
		}
		if link.TargetExternalID == self {
			continue
		}
		out = append(out, link)
	}
	return out
}

func issueToRaw(i *Issue) tracker.RawIssue {
	f := &i.Fields
	fields := map[string]any{
		"summary":     f.Summary,
		"description": DescriptionToPlainText(f.Description),
		"environment": f.Environment,
		"status":      name(f.Status),
		"priority":    name(f.Priority),
		"issuetype":   name(f.IssueType),
		"resolution":  name(f.Resolution),
		"creator":     personValue(f.Creator),
		"reporter":    personValue(f.Reporter),
		"assignee":    personValue(f.Assignee),
		"labels":      f.Labels,
		"components":  names(f.Components),
		"versions":    names(f.Versions),
		"fixVersions": names(f.FixVersions),
		"issuelinks":  issueLinks(i.Key, f.IssueLinks),
		"parent":      nil,
	}
	if f.Parent != nil {
		fields["parent"] = f.Parent.Key
	}
	if f.TimeOriginalEstimate != nil {
		fields["timeoriginalestimate"] = *f.TimeOriginalEstimate
	} else {
		fields["timeoriginalestimate"] = nil
	}
	raw := tracker.RawIssue{ExternalID: i.Key, Key: i.Key, Fields: fields}
	if t := timeOf(f.Created); t != nil {
		fields["created"] = *t
	}
	if t := timeOf(f.Updated); t != nil {
		fields["updated"] = *t
		raw.UpdatedAt = t
	}
	return raw
}
