package mapper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartshark/issuesync/internal/tracker"
	"github.com/smartshark/issuesync/internal/types"
)

type fakePeople map[string]string

func (f fakePeople) Person(_ context.Context, p tracker.RawPerson) (string, error) {
	if p.Username == "broken" {
		return "", errors.New("lookup failed")
	}
	return f[p.Username], nil
}

var testSchema = &tracker.Schema{
	Issue: map[string]tracker.FieldSpec{
		"summary":              {Field: types.FieldTitle},
		"status":               {Field: types.FieldStatus},
		"created":              {Field: types.FieldCreatedAt},
		"assignee":             {Field: types.FieldAssignee},
		"versions":             {Field: types.FieldAffectsVersions},
		"labels":               {Field: types.FieldLabels},
		"keywords":             {Field: types.FieldLabels},
		"issuelinks":           {Field: types.FieldIssueLinks},
		"blocks":               {Field: types.FieldIssueLinks},
		"parent":               {Field: types.FieldParent},
		"timeoriginalestimate": {Field: types.FieldOriginalTimeEstimate},
		"priority": {Field: types.FieldPriority, Transform: func(v any) any {
			if v == nil {
				return "none"
			}
			return v
		}},
	},
}

func newTestMapper(t *testing.T) (*Mapper, *test.Hook) {
	t.Helper()
	log, hook := test.NewNullLogger()
	return New(testSchema, fakePeople{"jdoe": "p-1"}, log), hook
}

func TestMapScalarsAndPeople(t *testing.T) {
	m, _ := newTestMapper(t)
	created := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	issue := &types.Issue{}
	err := m.Map(context.Background(), tracker.RawIssue{
		ExternalID: "DRILL-1",
		Fields: map[string]any{
			"summary":              "Crash on start",
			"status":               "Open",
			"created":              created,
			"assignee":             tracker.RawPerson{Username: "jdoe"},
			"timeoriginalestimate": int64(3600),
			"priority":             nil,
			"unmapped":             "ignored",
		},
	}, issue)
	require.NoError(t, err)

	assert.Equal(t, "DRILL-1", issue.ExternalID)
	assert.Equal(t, "Crash on start", issue.Title)
	assert.Equal(t, "Open", issue.Status)
	assert.Equal(t, "none", issue.Priority)
	assert.Equal(t, created, *issue.CreatedAt)
	assert.Equal(t, "p-1", issue.AssigneeID)
	require.NotNil(t, issue.OriginalTimeEstimate)
	assert.EqualValues(t, 3600, *issue.OriginalTimeEstimate)
}

func TestMapKeepsAbsentFields(t *testing.T) {
	m, _ := newTestMapper(t)
	issue := &types.Issue{ExternalID: "DRILL-1", Title: "kept", Status: "Closed"}
	require.NoError(t, m.Map(context.Background(), tracker.RawIssue{
		ExternalID: "DRILL-1",
		Fields:     map[string]any{"status": nil},
	}, issue))
	assert.Equal(t, "kept", issue.Title)
	assert.Empty(t, issue.Status, "explicit null clears the field")
}

func TestMapSetsAreUnions(t *testing.T) {
	m, _ := newTestMapper(t)
	issue := &types.Issue{Labels: []string{"a"}}
	require.NoError(t, m.Map(context.Background(), tracker.RawIssue{
		ExternalID: "B-1",
		Fields: map[string]any{
			"keywords": []string{"b", "a"},
			"labels":   []string{"c", "b"},
			"versions": "1.0",
		},
	}, issue))
	// keywords sorts before labels.
	assert.Equal(t, []string{"a", "b", "c"}, issue.Labels)
	assert.Equal(t, []string{"1.0"}, issue.AffectsVersions)
}

func TestMapLinks(t *testing.T) {
	m, hook := newTestMapper(t)
	issue := &types.Issue{ExternalID: "DRILL-1"}
	require.NoError(t, m.Map(context.Background(), tracker.RawIssue{
		ExternalID: "DRILL-1",
		Fields: map[string]any{
			"issuelinks": []tracker.RawLink{
				{TargetExternalID: "DRILL-5", Relation: "is blocked by"},
				{TargetExternalID: "DRILL-1", Relation: "relates to"},
				{TargetExternalID: "DRILL-7", Relation: "mentions"},
			},
			"blocks": []tracker.RawLink{
				{TargetExternalID: "drill-5", Type: "Blocker", Effect: "blocks"},
			},
		},
	}, issue))

	require.Len(t, issue.IssueLinks, 2)
	// "blocks" is applied first, then replaced by the issuelinks entry for the same target.
	assert.Equal(t, types.IssueLink{TargetExternalID: "DRILL-5", Type: "Blocker", Effect: "is blocked by"}, issue.IssueLinks[0])
	assert.Equal(t, types.IssueLink{TargetExternalID: "DRILL-7", Type: "mentions", Effect: "mentions"}, issue.IssueLinks[1])

	var warnings []string
	for _, e := range hook.AllEntries() {
		warnings = append(warnings, e.Message)
	}
	assert.Contains(t, warnings, "dropping link to itself")
	assert.Contains(t, warnings, "could not find issue link type and effect")
}

func TestMapParentPlaceholder(t *testing.T) {
	m, _ := newTestMapper(t)
	issue := &types.Issue{ParentExternalID: "P-1", ParentIssueID: "id-1"}
	require.NoError(t, m.Map(context.Background(), tracker.RawIssue{Fields: map[string]any{"parent": "P-1"}}, issue))
	assert.Equal(t, "id-1", issue.ParentIssueID, "unchanged parent keeps its resolution")

	require.NoError(t, m.Map(context.Background(), tracker.RawIssue{Fields: map[string]any{"parent": "P-2"}}, issue))
	assert.Equal(t, "P-2", issue.ParentExternalID)
	assert.Empty(t, issue.ParentIssueID)
}

func TestMapPersonError(t *testing.T) {
	m, _ := newTestMapper(t)
	err := m.Map(context.Background(), tracker.RawIssue{
		ExternalID: "X-1",
		Fields:     map[string]any{"assignee": tracker.RawPerson{Username: "broken"}},
	}, &types.Issue{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "X-1.assignee")
}

func TestConversions(t *testing.T) {
	assert.Nil(t, AsInt("n/a"))
	assert.EqualValues(t, 42, *AsInt(" 42 "))
	assert.EqualValues(t, 7, *AsInt(float64(7)))
	assert.Nil(t, AsTime(time.Time{}))
	assert.Equal(t, []string{"x", "y"}, AsStrings([]any{"x", nil, "y"}))
	assert.Equal(t, "", AsString(nil))
	assert.Equal(t, []string{"a", "b"}, Union([]string{"a"}, []string{"", "b", "a"}))
}
