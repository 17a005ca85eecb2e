// Package diff decides whether a freshly built record differs from its
// persisted version in a way that matters to the store.
package diff

import (
	"slices"
	"time"

	"github.com/smartshark/issuesync/internal/types"
)

// IssueChanges lists the canonical fields that differ between the persisted
// issue and the rebuilt one. Store identity, generation membership, links
// and the parent reference are not compared: they are rewritten by the
// linking pass and would flag every issue.
func IssueChanges(old, cur *types.Issue) []types.Field {
	if old == nil || cur == nil {
		return nil
	}
	var out []types.Field
	add := func(f types.Field, differs bool) {
		if differs {
			out = append(out, f)
		}
	}
	for _, f := range []types.Field{
		types.FieldTitle, types.FieldDescription, types.FieldStatus, types.FieldResolution,
		types.FieldIssueType, types.FieldPriority, types.FieldEnvironment, types.FieldPlatform,
	} {
		add(f, *old.StringField(f) != *cur.StringField(f))
	}
	add(types.FieldCreatedAt, !sameTime(old.CreatedAt, cur.CreatedAt))
	add(types.FieldUpdatedAt, !sameTime(old.UpdatedAt, cur.UpdatedAt))
	for _, f := range []types.Field{types.FieldCreator, types.FieldReporter, types.FieldAssignee} {
		add(f, *old.PersonField(f) != *cur.PersonField(f))
	}
	for _, f := range []types.Field{
		types.FieldAffectsVersions, types.FieldFixVersions, types.FieldComponents, types.FieldLabels,
	} {
		add(f, !sameSet(*old.SetField(f), *cur.SetField(f)))
	}
	add(types.FieldOriginalTimeEstimate, !sameInt(old.OriginalTimeEstimate, cur.OriginalTimeEstimate))
	add("is_pull_request", old.IsPullRequest != cur.IsPullRequest)
	if old.ExternalID != cur.ExternalID {
		out = append(out, "external_id")
	}
	return out
}

// IssueChanged reports whether cur differs from old. A missing old issue
// always counts as changed.
func IssueChanged(old, cur *types.Issue) bool {
	return old == nil || len(IssueChanges(old, cur)) > 0
}

// CommentChanged compares everything except the store identity and owner.
func CommentChanged(old, cur *types.Comment) bool {
	if old == nil {
		return true
	}
	return old.ExternalID != cur.ExternalID ||
		!sameTime(old.CreatedAt, cur.CreatedAt) ||
		old.AuthorID != cur.AuthorID ||
		old.Body != cur.Body
}

// EventChanged compares everything except the store identity, owner and
// values. Values are excluded because stored events hold resolved
// references where a rebuilt event still holds placeholders.
func EventChanged(old, cur *types.Event) bool {
	if old == nil {
		return true
	}
	return old.ExternalID != cur.ExternalID ||
		!sameTime(old.CreatedAt, cur.CreatedAt) ||
		old.AuthorID != cur.AuthorID ||
		old.Field != cur.Field ||
		old.CommitHash != cur.CommitHash
}

// Tracker accumulates, per issue, whether anything changed during a run.
// It is owned by a single run and not safe for concurrent use.
type Tracker struct {
	changed map[string]bool
}

func NewTracker() *Tracker {
	return &Tracker{changed: map[string]bool{}}
}

// Mark records one comparison result for key and returns the accumulated flag.
func (t *Tracker) Mark(key string, changed bool) bool {
	if changed {
		t.changed[key] = true
	} else if _, ok := t.changed[key]; !ok {
		t.changed[key] = false
	}
	return t.changed[key]
}

// Changed reports whether any comparison for key found a difference.
func (t *Tracker) Changed(key string) bool {
	return t.changed[key]
}

// Count returns how many tracked keys changed.
func (t *Tracker) Count() int {
	n := 0
	for _, c := range t.changed {
		if c {
			n++
		}
	}
	return n
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func sameInt(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// sameSet compares ignoring order and duplicates.
func sameSet(a, b []string) bool {
	x := slices.Compact(slices.Sorted(slices.Values(a)))
	y := slices.Compact(slices.Sorted(slices.Values(b)))
	return slices.Equal(x, y)
}
