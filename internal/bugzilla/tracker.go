package bugzilla

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/smartshark/issuesync/internal/tracker"
)

func init() {
	tracker.Register("bugzilla", func() tracker.Adapter {
		return &Tracker{}
	})
}

// Tracker implements tracker.Adapter for Bugzilla.
type Tracker struct {
	client *Client
	log    logrus.FieldLogger

	// Bugzilla has no description field; the first comment is fetched with
	// the page and kept here for FetchComments.
	comments map[string]commentResult
}

type commentResult struct {
	comments []Comment
	err      error
}

func (t *Tracker) Name() string { return "bugzilla" }

func (t *Tracker) Init(_ context.Context, cfg *tracker.Config) error {
	t.log = cfg.Log
	if t.log == nil {
		t.log = logrus.StandardLogger()
	}
	t.log = t.log.WithField("backend", t.Name())

	token, user, password := cfg.Credentials()
	if user != "" && password == "" {
		return fmt.Errorf("%w: a Bugzilla login needs a password", tracker.ErrAuth)
	}

	client, err := NewClient(cfg.URL, tracker.NewRequester(cfg, t.log))
	if err != nil {
		return err
	}
	client.APIKey = token
	if token == "" {
		client.Login, client.Password = user, password
	}
	t.client = client
	t.comments = make(map[string]commentResult)
	return nil
}

func (t *Tracker) Schema() *tracker.Schema { return bugzillaSchema }

func (t *Tracker) Close() error { return nil }

func (t *Tracker) FetchIssuePage(ctx context.Context, cursor tracker.Cursor, pageSize int) (*tracker.Page, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotInitialized{Tracker: t.Name()}
	}
	bugs, err := t.client.SearchBugs(ctx, cursor.Since, cursor.Offset, pageSize)
	if err != nil {
		return nil, err
	}
	page := &tracker.Page{
		Next: tracker.Cursor{Since: cursor.Since, Offset: cursor.Offset + len(bugs)},
	}
	clear(t.comments)
	for i := range bugs {
		raw := bugToRaw(&bugs[i])
		comments, err := t.client.Comments(ctx, raw.Key)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		t.comments[raw.Key] = commentResult{comments: comments, err: err}
		if err != nil {
			// FetchComments reports the failure for this bug alone.
			t.log.WithError(err).WithField("bug", raw.Key).Debug("comments unavailable")
		}
		for _, c := range comments {
			if c.Count == 0 {
				raw.Fields["description"] = c.Text
				break
			}
		}
		page.Issues = append(page.Issues, raw)
	}
	return page, nil
}

// FetchHistory returns the change sets newest first. Seq keeps the
// chronological position, which is part of the event id.
func (t *Tracker) FetchHistory(ctx context.Context, issue tracker.RawIssue) ([]tracker.RawHistoryEntry, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotInitialized{Tracker: t.Name()}
	}
	history, err := t.client.History(ctx, issue.Key)
	if err != nil {
		return nil, err
	}
	out := make([]tracker.RawHistoryEntry, len(history))
	for seq, h := range history {
		when := h.When.UTC()
		entry := tracker.RawHistoryEntry{
			ID:        issue.Key,
			Seq:       seq,
			CreatedAt: &when,
			Author:    &tracker.RawPerson{Username: h.Who},
		}
		for _, c := range h.Changes {
			entry.Items = append(entry.Items, tracker.RawChangeItem{
				Field: c.FieldName,
				From:  optional(c.Removed),
				To:    optional(c.Added),
			})
		}
		out[len(history)-1-seq] = entry
	}
	return out, nil
}

func (t *Tracker) FetchComments(ctx context.Context, issue tracker.RawIssue) ([]tracker.RawComment, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotInitialized{Tracker: t.Name()}
	}
	res, ok := t.comments[issue.Key]
	if !ok {
		res.comments, res.err = t.client.Comments(ctx, issue.Key)
	}
	if res.err != nil {
		return nil, res.err
	}

	var out []tracker.RawComment
	i := 0
	for _, c := range res.comments {
		if c.Count == 0 {
			continue
		}
		at := c.CreationTime.UTC()
		out = append(out, tracker.RawComment{
			ExternalID: fmt.Sprintf("%s%%%d", issue.Key, i),
			CreatedAt:  &at,
			Author:     &tracker.RawPerson{Username: c.Creator},
			Body:       c.Text,
		})
		i++
	}
	return out, nil
}

func (t *Tracker) FetchUser(ctx context.Context, key string) (*tracker.RawPerson, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotInitialized{Tracker: t.Name()}
	}
	u, err := t.client.User(ctx, key)
	var httpErr *tracker.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusBadRequest {
		// Bugzilla answers unknown logins with a 400 and error code 51.
		return nil, fmt.Errorf("%w: user %s", tracker.ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return userToRaw(u, key), nil
}

func userToRaw(u *User, username string) *tracker.RawPerson {
	p := &tracker.RawPerson{Username: u.Name, Name: u.RealName, Email: u.Email}
	if p.Username == "" {
		p.Username = username
	}
	if p.Name == "" {
		p.Name = p.Username
	}
	if p.Email == "" {
		p.Email = tracker.EmailOrNobody(p.Username)
	}
	return p
}

// detailPerson uses a *_detail object directly when it carries an address,
// otherwise the login is looked up later.
func detailPerson(u *User) any {
	if u == nil || u.Name == "" {
		return nil
	}
	if u.Email == "" {
		return tracker.RawPerson{Username: u.Name}
	}
	name := u.RealName
	if name == "" {
		name = u.Name
	}
	return tracker.RawPerson{Username: u.Name, Name: name, Email: u.Email}
}

func bugToRaw(b *Bug) tracker.RawIssue {
	key := strconv.FormatInt(b.ID, 10)
	// Bugzilla calls the creator the reporter, so reporter_detail repeats it.
	fields := map[string]any{
		"summary":            b.Summary,
		"status":             b.Status,
		"resolution":         b.Resolution,
		"severity":           b.Severity,
		"type":               issueType(b.Severity, b.Type),
		"component":          b.Component,
		"version":            b.Version,
		"target_milestone":   b.TargetMilestone,
		"op_sys":             b.OpSys,
		"platform":           b.Platform,
		"keywords":           b.Keywords,
		"assigned_to_detail": detailPerson(b.AssignedToDetail),
		"creator_detail":     detailPerson(b.CreatorDetail),
		"reporter_detail":    detailPerson(b.CreatorDetail),
		"blocks":             links(b.Blocks, "blocks"),
		"depends_on":         links(b.DependsOn, "depends_on"),
	}
	if b.DupeOf != nil {
		fields["dupe_of"] = links([]int64{*b.DupeOf}, "dupe_of")
	}
	if b.CreationTime != nil {
		fields["creation_time"] = b.CreationTime.UTC()
	}
	raw := tracker.RawIssue{ExternalID: key, Key: key, Fields: fields}
	if b.LastChangeTime != nil {
		t := b.LastChangeTime.UTC()
		fields["last_change_time"] = t
		raw.UpdatedAt = &t
	}
	return raw
}

func links(ids []int64, field string) []tracker.RawLink {
	rel := linkRelations[field]
	out := make([]tracker.RawLink, 0, len(ids))
	for _, id := range ids {
		out = append(out, tracker.RawLink{
			TargetExternalID: strconv.FormatInt(id, 10),
			Type:             rel.Type,
			Effect:           rel.Effect,
		})
	}
	return out
}

// issueType prefers the explicit bug type of newer Bugzilla versions and
// falls back to the severity.
func issueType(severity string, bugType *string) string {
	if bugType != nil && *bugType != "" {
		switch strings.ToLower(*bugType) {
		case "defect":
			return "Bug"
		case "enhancement":
			return "Enhancement"
		}
		return *bugType
	}
	return typeFromSeverity(severity)
}

func typeFromSeverity(severity string) string {
	if severity == "enhancement" {
		return "Enhancement"
	}
	return "Bug"
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
