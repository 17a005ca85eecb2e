package github

import (
	"context"
	"slices"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/smartshark/issuesync/internal/tracker"
	"github.com/smartshark/issuesync/internal/types"
)

func init() {
	tracker.Register("github", func() tracker.Adapter {
		return &Tracker{}
	})
}

// Tracker implements tracker.Adapter for GitHub.
type Tracker struct {
	client *Client
	log    logrus.FieldLogger
}

func (t *Tracker) Name() string { return "github" }

func (t *Tracker) Init(_ context.Context, cfg *tracker.Config) error {
	t.log = cfg.Log
	if t.log == nil {
		t.log = logrus.StandardLogger()
	}
	t.log = t.log.WithField("backend", t.Name())
	token, user, password := cfg.Credentials()
	t.client = NewClient(cfg.URL, tracker.NewRequester(cfg, t.log), token, user, password)
	return nil
}

func (t *Tracker) Schema() *tracker.Schema { return githubSchema }

func (t *Tracker) Close() error { return nil }

// FetchIssuePage pages by page number with a fixed page size of
// MaxPageSize; pageSize is ignored.
func (t *Tracker) FetchIssuePage(ctx context.Context, cursor tracker.Cursor, _ int) (*tracker.Page, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotInitialized{Tracker: t.Name()}
	}
	page := max(cursor.Page, 1)
	issues, err := t.client.FetchIssues(ctx, page, cursor.Since)
	if err != nil {
		return nil, err
	}
	out := &tracker.Page{Next: tracker.Cursor{Since: cursor.Since, Page: page + 1}}
	for i := range issues {
		out.Issues = append(out.Issues, issueToRaw(&issues[i]))
	}
	return out, nil
}

// FetchHistory turns the event timeline into history entries, newest first.
// Events that change no tracked field and reference no commit are left out.
func (t *Tracker) FetchHistory(ctx context.Context, issue tracker.RawIssue) ([]tracker.RawHistoryEntry, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotInitialized{Tracker: t.Name()}
	}
	events, err := t.client.FetchEvents(ctx, issue.Key)
	if err != nil {
		return nil, err
	}
	var out []tracker.RawHistoryEntry
	for seq, e := range events {
		item, ok := eventItem(&e)
		if !ok {
			t.log.WithFields(logrus.Fields{"issue": issue.ExternalID, "event": e.Event}).
				Debug("skipping event without field change")
			continue
		}
		entry := tracker.RawHistoryEntry{
			ID:        strconv.FormatInt(e.ID, 10),
			Seq:       seq,
			CreatedAt: e.CreatedAt,
			Author:    person(e.Actor),
			Items:     []tracker.RawChangeItem{item},
		}
		if e.CommitID != nil {
			entry.CommitHash = *e.CommitID
		}
		out = append(out, entry)
	}
	slices.Reverse(out)
	return out, nil
}

func (t *Tracker) FetchComments(ctx context.Context, issue tracker.RawIssue) ([]tracker.RawComment, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotInitialized{Tracker: t.Name()}
	}
	comments, err := t.client.FetchComments(ctx, issue.Key)
	if err != nil {
		return nil, err
	}
	out := make([]tracker.RawComment, 0, len(comments))
	for _, c := range comments {
		out = append(out, tracker.RawComment{
			ExternalID: strconv.FormatInt(c.ID, 10),
			CreatedAt:  c.CreatedAt,
			Author:     person(c.User),
			Body:       c.Body,
		})
	}
	return out, nil
}

// FetchUser looks a user up by API URL. The name falls back to the login and
// a hidden address is stored as NullEmail.
func (t *Tracker) FetchUser(ctx context.Context, key string) (*tracker.RawPerson, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotInitialized{Tracker: t.Name()}
	}
	u, err := t.client.FetchUser(ctx, key)
	if err != nil {
		return nil, err
	}
	p := &tracker.RawPerson{Username: u.Login, Name: u.Login, Email: NullEmail, Key: key}
	if u.Name != nil && *u.Name != "" {
		p.Name = *u.Name
	}
	if u.Email != nil && *u.Email != "" {
		p.Email = *u.Email
	}
	return p, nil
}

func person(u *User) *tracker.RawPerson {
	if u == nil || u.Login == "" {
		return nil
	}
	return &tracker.RawPerson{Username: u.Login, Key: u.URL}
}

func issueToRaw(i *Issue) tracker.RawIssue {
	fields := map[string]any{
		"title":  i.Title,
		"body":   i.Body,
		"state":  i.State,
		"labels": LabelNames(i.Labels),
	}
	if i.Milestone != nil {
		fields["milestone"] = []string{i.Milestone.Title}
	}
	if i.CreatedAt != nil {
		fields["created_at"] = *i.CreatedAt
	}
	if i.UpdatedAt != nil {
		fields["updated_at"] = *i.UpdatedAt
	}
	// The author is creator and reporter alike.
	if p := person(i.User); p != nil {
		fields["user"] = *p
		fields["reporter"] = *p
	}
	if p := person(i.Assignee); p != nil {
		fields["assignee"] = *p
	} else {
		fields["assignee"] = nil
	}
	return tracker.RawIssue{
		ExternalID:    i.Key(),
		Key:           i.Key(),
		UpdatedAt:     i.UpdatedAt,
		Fields:        fields,
		IsPullRequest: i.PullRequest != nil,
	}
}

// eventItem maps a timeline event onto a change item. ok is false when the
// event is not kept.
func eventItem(e *Event) (item tracker.RawChangeItem, ok bool) {
	switch e.Event {
	case "assigned", "unassigned":
		if e.Assignee == nil {
			return item, false
		}
		item = tracker.RawChangeItem{Field: "assignee"}
		login, key := tracker.Str(e.Assignee.Login), tracker.Str(e.Assignee.URL)
		if e.Event == "assigned" {
			item.To, item.ToKey = login, key
		} else {
			item.From, item.FromKey = login, key
		}
	case "labeled", "unlabeled":
		if e.Label == nil {
			return item, false
		}
		item = tracker.RawChangeItem{Field: "labels"}
		if e.Event == "labeled" {
			item.To = tracker.Str(e.Label.Name)
		} else {
			item.From = tracker.Str(e.Label.Name)
		}
	case "milestoned", "demilestoned":
		if e.Milestone == nil {
			return item, false
		}
		item = tracker.RawChangeItem{Field: "milestone"}
		if e.Event == "milestoned" {
			item.To = tracker.Str(e.Milestone.Title)
		} else {
			item.From = tracker.Str(e.Milestone.Title)
		}
	case "renamed":
		if e.Rename == nil {
			return item, false
		}
		item = tracker.RawChangeItem{Field: "title", From: tracker.Str(e.Rename.From), To: tracker.Str(e.Rename.To)}
	case "closed":
		item = tracker.RawChangeItem{Field: "status", From: tracker.Str("open"), To: tracker.Str("closed")}
	case "reopened":
		item = tracker.RawChangeItem{Field: "status", From: tracker.Str("closed"), To: tracker.Str("open")}
	default:
		if e.CommitID == nil || *e.CommitID == "" {
			return item, false
		}
		item = tracker.RawChangeItem{Field: e.Event}
	}
	return item, true
}

var githubSchema = &tracker.Schema{
	Issue: map[string]tracker.FieldSpec{
		"title":      {Field: types.FieldTitle},
		"body":       {Field: types.FieldDescription},
		"state":      {Field: types.FieldStatus},
		"created_at": {Field: types.FieldCreatedAt},
		"updated_at": {Field: types.FieldUpdatedAt},
		"user":       {Field: types.FieldCreator},
		"reporter":   {Field: types.FieldReporter},
		"assignee":   {Field: types.FieldAssignee},
		"labels":     {Field: types.FieldLabels},
		"milestone":  {Field: types.FieldFixVersions},
	},
	EventID: func(_ tracker.RawIssue, entry tracker.RawHistoryEntry, _ int) string {
		return entry.ID
	},
	ReverseHooks: map[types.Field]tracker.ReverseHook{
		// The only field rolled back outside reverse-apply mode.
		types.FieldTitle: func(issue *types.Issue, item tracker.RawChangeItem) {
			if item.From != nil {
				issue.Title = *item.From
			}
		},
	},
	PersonFallback: func(username string) tracker.RawPerson {
		return tracker.RawPerson{Username: username, Name: username, Email: NullEmail}
	},
	HistoryPerson: func(display, key *string) *tracker.RawPerson {
		if display == nil || *display == "" {
			return nil
		}
		p := &tracker.RawPerson{Username: *display}
		if key != nil {
			p.Key = *key
		}
		return p
	},
}
