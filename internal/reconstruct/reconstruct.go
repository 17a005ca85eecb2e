// Package reconstruct turns tracker change logs into events. In reverse-apply
// mode it also unwinds the live issue entry by entry, newest first, so that
// the issue ends in the state it had when it was created and every event
// carries the field value before and after its change.
package reconstruct

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartshark/issuesync/internal/diff"
	"github.com/smartshark/issuesync/internal/mapper"
	"github.com/smartshark/issuesync/internal/storage"
	"github.com/smartshark/issuesync/internal/tracker"
	"github.com/smartshark/issuesync/internal/types"
)

// Result is the outcome of walking one issue's history.
type Result struct {
	// Events holds the events not persisted yet, oldest first.
	Events []*types.Event
	// Updated holds persisted events whose tracker data changed since. They
	// keep their stored identity and values.
	Updated []*types.Event
	// Seen counts change items that were already persisted.
	Seen int
	// Stopped is set when the walk ended at the first persisted event.
	Stopped bool
}

// Changed reports whether the walk produced new or changed events.
func (r Result) Changed() bool { return len(r.Events) > 0 || len(r.Updated) > 0 }

// Reconstructor walks histories for one tracker schema.
type Reconstructor struct {
	store  storage.Storage
	schema *tracker.Schema
	people mapper.PersonResolver
	log    logrus.FieldLogger
}

// New returns a Reconstructor. store is consulted for already persisted
// events and may be nil when nothing has been stored yet.
func New(store storage.Storage, schema *tracker.Schema, people mapper.PersonResolver, log logrus.FieldLogger) *Reconstructor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reconstructor{store: store, schema: schema, people: people, log: log}
}

// Walk processes history (newest entry first) against issue. issue.ID names
// the persisted issue whose events count as seen; it may be empty.
func (r *Reconstructor) Walk(ctx context.Context, issue *types.Issue, history []tracker.RawHistoryEntry) (Result, error) {
	var (
		res    Result
		newest []*types.Event
		raw    = tracker.RawIssue{ExternalID: issue.ExternalID}
		stop   = r.schema.StopOnSeen && !r.schema.ReverseApply
		logger = r.log.WithField("issue", issue.ExternalID)
	)

walk:
	for _, entry := range history {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		authorID, err := r.person(ctx, entry.Author)
		if err != nil {
			return res, fmt.Errorf("history %s author: %w", entry.ID, err)
		}

		for i, item := range entry.Items {
			extID := r.schema.ExternalEventID(raw, entry, i)
			stored, err := r.stored(ctx, issue.ID, extID)
			if err != nil {
				return res, err
			}
			if stored != nil {
				res.Seen++
				if stop {
					res.Stopped = true
					break walk
				}
			}

			event, err := r.event(ctx, issue, item)
			if err != nil {
				return res, fmt.Errorf("history %s item %d (%s): %w", entry.ID, i, item.Field, err)
			}
			if event.OldValue == nil && event.NewValue == nil && entry.CommitHash == "" {
				logger.WithField("field", item.Field).Debug("dropping change without values")
				continue
			}
			event.ExternalID = extID
			event.IssueID = issue.ID
			event.CreatedAt = entry.CreatedAt
			event.AuthorID = authorID
			event.CommitHash = entry.CommitHash
			if stored == nil {
				newest = append(newest, event)
				continue
			}
			if diff.EventChanged(stored, event) {
				upd := stored.Clone()
				upd.CreatedAt, upd.AuthorID = event.CreatedAt, event.AuthorID
				upd.Field, upd.CommitHash = event.Field, event.CommitHash
				res.Updated = append(res.Updated, upd)
			}
		}
	}

	slices.Reverse(newest)
	res.Events = newest
	return res, nil
}

// stored returns the persisted event, nil when there is none.
func (r *Reconstructor) stored(ctx context.Context, issueID, extID string) (*types.Event, error) {
	if issueID == "" || r.store == nil {
		return nil, nil
	}
	e, err := r.store.GetEvent(ctx, issueID, extID)
	switch {
	case err == nil:
		return e, nil
	case errors.Is(err, storage.ErrNotFound):
		return nil, nil
	default:
		return nil, fmt.Errorf("lookup event %s: %w", extID, err)
	}
}

func (r *Reconstructor) person(ctx context.Context, p *tracker.RawPerson) (string, error) {
	if p == nil || r.people == nil {
		return "", nil
	}
	return r.people.Person(ctx, *p)
}

// event builds the event of one change item and, depending on the schema,
// unwinds the change on the live issue.
func (r *Reconstructor) event(ctx context.Context, issue *types.Issue, item tracker.RawChangeItem) (*types.Event, error) {
	field, known := r.schema.HistoryField(item.Field)
	if !known {
		r.log.WithFields(logrus.Fields{"issue": issue.ExternalID, "field": item.Field}).
			Warn("mapping for history field not found")
		return &types.Event{Field: field, OldValue: stringValue(item.From), NewValue: stringValue(item.To)}, nil
	}

	event := &types.Event{Field: field}
	var err error
	if r.schema.ReverseApply {
		event.OldValue, event.NewValue, err = r.unwind(ctx, issue, field, item)
	} else {
		event.OldValue, event.NewValue, err = r.record(ctx, issue, field, item)
	}
	if err != nil {
		return nil, err
	}
	if hook := r.schema.ReverseHooks[field]; hook != nil {
		hook(issue, item)
	}
	return event, nil
}

// record derives the event values from the change item alone.
func (r *Reconstructor) record(ctx context.Context, issue *types.Issue, field types.Field, item tracker.RawChangeItem) (oldValue, newValue *types.Value, err error) {
	switch field.Kind() {
	case types.KindPerson:
		if oldValue, err = r.personValue(ctx, item.From, item.FromKey); err != nil {
			return nil, nil, err
		}
		newValue, err = r.personValue(ctx, item.To, item.ToKey)
		return oldValue, newValue, err
	case types.KindLinkSet:
		return linksValue(r.links(issue, item.Field, item.From, item.FromKey)),
			linksValue(r.links(issue, item.Field, item.To, item.ToKey)), nil
	case types.KindIssueRef:
		return issueValue("", keyOr(item.From, item.FromKey)), issueValue("", keyOr(item.To, item.ToKey)), nil
	case types.KindInt:
		return intValue(mapper.AsInt(keyOr(item.From, item.FromKey))), intValue(mapper.AsInt(keyOr(item.To, item.ToKey))), nil
	default:
		return stringValue(item.From), stringValue(item.To), nil
	}
}

// unwind applies the inverse of the change to the issue. Scalar fields record
// the value before and after the inverse step; set fields record the change
// delta itself.
func (r *Reconstructor) unwind(ctx context.Context, issue *types.Issue, field types.Field, item tracker.RawChangeItem) (oldValue, newValue *types.Value, err error) {
	switch field.Kind() {
	case types.KindString:
		p := issue.StringField(field)
		newValue = nonEmpty(*p)
		*p = deref(item.From)
		oldValue = nonEmpty(*p)

	case types.KindTime:
		p := issue.TimeField(field)
		newValue = timeValue(*p)
		*p = mapper.AsTime(deref(item.From))
		oldValue = timeValue(*p)

	case types.KindInt:
		newValue = intValue(issue.OriginalTimeEstimate)
		issue.OriginalTimeEstimate = mapper.AsInt(keyOr(item.From, item.FromKey))
		oldValue = intValue(issue.OriginalTimeEstimate)

	case types.KindPerson:
		p := issue.PersonField(field)
		newValue = personID(*p)
		id := ""
		if rp := r.schema.ChangePerson(item.From, item.FromKey); rp != nil {
			if id, err = r.people.Person(ctx, *rp); err != nil {
				return nil, nil, err
			}
		}
		*p = id
		oldValue = personID(*p)

	case types.KindIssueRef:
		newValue = issueValue(issue.ParentIssueID, issue.ParentExternalID)
		issue.ParentExternalID = keyOr(item.From, item.FromKey)
		issue.ParentIssueID = ""
		oldValue = issueValue("", issue.ParentExternalID)

	case types.KindStringSet:
		set := issue.SetField(field)
		for _, tok := range r.schema.Tokens(field, item.To) {
			if i := slices.Index(*set, tok); i >= 0 {
				*set = slices.Delete(*set, i, i+1)
			} else {
				// The added value is unknown to the current state, so the
				// state is unreliable; start over from an empty set.
				*set = nil
			}
		}
		for _, tok := range r.schema.Tokens(field, item.From) {
			if !slices.Contains(*set, tok) {
				*set = append(*set, tok)
			}
		}
		oldValue, newValue = stringValue(item.From), stringValue(item.To)

	case types.KindLinkSet:
		removed := r.links(issue, item.Field, item.From, item.FromKey)
		added := r.links(issue, item.Field, item.To, item.ToKey)
		for _, l := range added {
			i := slices.IndexFunc(issue.IssueLinks, l.Matches)
			if i < 0 {
				r.log.WithFields(logrus.Fields{"issue": issue.ExternalID, "target": l.TargetExternalID}).
					Warn("could not find added link to remove")
				continue
			}
			issue.IssueLinks = slices.Delete(issue.IssueLinks, i, i+1)
		}
		for _, l := range removed {
			if !slices.ContainsFunc(issue.IssueLinks, l.Matches) {
				issue.IssueLinks = append(issue.IssueLinks, l)
			}
		}
		oldValue, newValue = linksValue(removed), linksValue(added)

	default:
		oldValue, newValue = stringValue(item.From), stringValue(item.To)
	}
	return oldValue, newValue, nil
}

// links parses one side of a link change. The relation comes from the
// schema's static table for rawField, else from the display text.
func (r *Reconstructor) links(issue *types.Issue, rawField string, display, key *string) []types.IssueLink {
	rel, static := r.schema.LinkRelations[rawField]
	if !static && display != nil {
		var ok bool
		if rel, ok = mapper.ClassifyLink(*display); !ok {
			r.log.WithFields(logrus.Fields{"issue": issue.ExternalID, "relation": *display}).
				Warn("could not find issue link type and effect")
		}
	}
	src := key
	if src == nil || *src == "" {
		src = display
		if !static {
			// Free text like "This issue blocks X-1" has no usable target.
			src = nil
		}
	}
	var out []types.IssueLink
	for _, target := range r.schema.Tokens(types.FieldIssueLinks, src) {
		out = append(out, types.IssueLink{TargetExternalID: target, Type: rel.Type, Effect: rel.Effect})
	}
	return out
}

func (r *Reconstructor) personValue(ctx context.Context, display, key *string) (*types.Value, error) {
	rp := r.schema.ChangePerson(display, key)
	if rp == nil || r.people == nil {
		return nil, nil
	}
	id, err := r.people.Person(ctx, *rp)
	if err != nil {
		return nil, err
	}
	return personID(id), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// keyOr prefers the machine key of a change side over its display string.
func keyOr(display, key *string) string {
	if key != nil && *key != "" {
		return *key
	}
	return deref(display)
}

func nonEmpty(s string) *types.Value {
	if s == "" {
		return nil
	}
	return types.StringValue(s)
}

func stringValue(s *string) *types.Value {
	return nonEmpty(deref(s))
}

func personID(id string) *types.Value {
	if id == "" {
		return nil
	}
	return types.PersonValue(id)
}

func issueValue(id, ext string) *types.Value {
	if id == "" && ext == "" {
		return nil
	}
	return types.IssueValue(id, ext)
}

func intValue(n *int64) *types.Value {
	if n == nil {
		return nil
	}
	return types.IntValue(*n)
}

func timeValue(t *time.Time) *types.Value {
	if t == nil {
		return nil
	}
	return types.StringValue(t.UTC().Format(time.RFC3339))
}

// linksValue holds a single link as a link value; several targets changed
// at once are kept as their external ids.
func linksValue(links []types.IssueLink) *types.Value {
	switch len(links) {
	case 0:
		return nil
	case 1:
		return types.LinkValue(links[0])
	}
	targets := make([]string, len(links))
	for i, l := range links {
		targets[i] = l.TargetExternalID
	}
	return types.StringsValue(targets)
}
