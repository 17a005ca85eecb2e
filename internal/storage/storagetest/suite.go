// Package storagetest holds the behavioral test suite every storage backend
// must pass.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartshark/issuesync/internal/storage"
	"github.com/smartshark/issuesync/internal/types"
)

// Run exercises a fresh store returned by open for each subtest.
func Run(t *testing.T, open func(t *testing.T) storage.Storage) {
	t.Helper()
	tests := map[string]func(t *testing.T, s storage.Storage){
		"projects":          testProjects,
		"generations":       testGenerations,
		"issue round trip":  testIssueRoundTrip,
		"external id scope": testExternalIDScope,
		"people":            testPeople,
		"comments":          testComments,
		"events":            testEvents,
		"delete generation": testDeleteGeneration,
		"latest updated at": testLatestUpdatedAt,
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s)
		})
	}
}

func ts(day int) *time.Time {
	t := time.Date(2021, 3, day, 10, 0, 0, 0, time.UTC)
	return &t
}

func newGeneration(t *testing.T, s storage.Storage, url string, day int) *types.IssueSystem {
	t.Helper()
	ctx := context.Background()
	p, err := s.GetProjectByName(ctx, "proj")
	if errors.Is(err, storage.ErrNotFound) {
		p = &types.Project{Name: "proj"}
		require.NoError(t, s.CreateProject(ctx, p))
	} else {
		require.NoError(t, err)
	}
	sys := &types.IssueSystem{ProjectID: p.ID, URL: url, CollectionDate: *ts(day)}
	require.NoError(t, s.CreateIssueSystem(ctx, sys))
	require.NotEmpty(t, sys.ID)
	return sys
}

func testProjects(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	p := &types.Project{Name: "httpclient"}
	require.NoError(t, s.CreateProject(ctx, p))
	require.NotEmpty(t, p.ID)

	err := s.CreateProject(ctx, &types.Project{Name: "httpclient"})
	assert.ErrorIs(t, err, storage.ErrConflict)

	got, err := s.GetProjectByName(ctx, "httpclient")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = s.GetProjectByName(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	all, err := s.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testGenerations(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	g1 := newGeneration(t, s, "https://tracker/a", 1)
	g2 := newGeneration(t, s, "https://tracker/a", 2)
	newGeneration(t, s, "https://tracker/b", 3)

	_, err := s.GetPriorIssueSystem(ctx, "https://tracker/a", g1.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound, "only generation of the url has no prior")

	g3 := newGeneration(t, s, "https://tracker/a", 4)
	prior, err := s.GetPriorIssueSystem(ctx, "https://tracker/a", g3.ID)
	require.NoError(t, err)
	assert.Equal(t, g2.ID, prior.ID)

	g3.LastUpdated = ts(5)
	require.NoError(t, s.UpdateIssueSystem(ctx, g3))
}

func fullIssue(gen string) *types.Issue {
	est := int64(3600)
	return &types.Issue{
		ExternalID:           "HTTPCLIENT-1",
		IssueSystemIDs:       []string{gen},
		Title:                "Connection leak",
		Description:          "pool exhausted",
		Status:               "Open",
		Resolution:           "",
		IssueType:            "Bug",
		Priority:             "Major",
		Environment:          "linux",
		Platform:             "x86",
		CreatedAt:            ts(1),
		UpdatedAt:            ts(2),
		CreatorID:            "p1",
		ReporterID:           "p1",
		AssigneeID:           "p2",
		ParentExternalID:     "HTTPCLIENT-0",
		AffectsVersions:      []string{"4.0"},
		FixVersions:          []string{"4.1"},
		Components:           []string{"core"},
		Labels:               []string{"leak", "pool"},
		IssueLinks:           []types.IssueLink{{TargetExternalID: "HTTPCLIENT-2", Type: "Blocker", Effect: "blocks"}},
		OriginalTimeEstimate: &est,
	}
}

func testIssueRoundTrip(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	gen := newGeneration(t, s, "https://tracker/a", 1)
	issue := fullIssue(gen.ID)
	require.NoError(t, s.CreateIssue(ctx, issue))
	require.NotEmpty(t, issue.ID)

	got, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, issue, got)

	got.Status = "Closed"
	got.Labels = append(got.Labels, "fixed")
	got.IssueLinks[0].TargetIssueID = "resolved"
	require.NoError(t, s.UpdateIssue(ctx, got))

	again, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, "Closed", again.Status)
	assert.Equal(t, []string{"leak", "pool", "fixed"}, again.Labels)
	assert.Equal(t, "resolved", again.IssueLinks[0].TargetIssueID)

	_, err = s.GetIssue(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.UpdateIssue(ctx, &types.Issue{ID: "nope"}), storage.ErrNotFound)
}

func testExternalIDScope(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	g1 := newGeneration(t, s, "https://tracker/a", 1)
	g2 := newGeneration(t, s, "https://tracker/a", 2)

	stub := &types.Issue{ExternalID: "A-1", IssueSystemIDs: []string{g1.ID}}
	require.NoError(t, s.CreateIssue(ctx, stub))
	assert.ErrorIs(t, s.CreateIssue(ctx, &types.Issue{ExternalID: "A-1", IssueSystemIDs: []string{g1.ID}}), storage.ErrConflict)

	_, err := s.GetIssueByExternalID(ctx, g2.ID, "A-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.AddIssueSystem(ctx, stub.ID, g2.ID))
	require.NoError(t, s.AddIssueSystem(ctx, stub.ID, g2.ID))
	got, err := s.GetIssueByExternalID(ctx, g2.ID, "A-1")
	require.NoError(t, err)
	assert.Equal(t, []string{g1.ID, g2.ID}, got.IssueSystemIDs)

	second := &types.Issue{ExternalID: "A-2", IssueSystemIDs: []string{g2.ID}}
	require.NoError(t, s.CreateIssue(ctx, second))
	list, err := s.ListIssuesByGeneration(ctx, g2.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, s.RemoveIssueSystem(ctx, stub.ID, g2.ID))
	require.NoError(t, s.RemoveIssueSystem(ctx, stub.ID, g2.ID))
	_, err = s.GetIssueByExternalID(ctx, g2.ID, "A-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	got, err = s.GetIssue(ctx, stub.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{g1.ID}, got.IssueSystemIDs)

	// The external id is free again in g2 once the issue left it.
	require.NoError(t, s.CreateIssue(ctx, &types.Issue{ExternalID: "A-1", IssueSystemIDs: []string{g2.ID}}))
}

func testPeople(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	id1, err := s.UpsertPerson(ctx, &types.Person{Name: "Jane Doe", Email: "jane@example.org", Username: "jdoe"})
	require.NoError(t, err)
	id2, err := s.UpsertPerson(ctx, &types.Person{Name: "Jane Doe", Email: "jane@example.org", Username: "jane"})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	p, err := s.GetPerson(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "jdoe", p.Username, "first writer wins on username")

	id3, err := s.UpsertPerson(ctx, &types.Person{Name: "Jane Doe", Email: "other@example.org"})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func testComments(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	gen := newGeneration(t, s, "https://tracker/a", 1)
	issue := &types.Issue{ExternalID: "A-1", IssueSystemIDs: []string{gen.ID}}
	require.NoError(t, s.CreateIssue(ctx, issue))

	comments := []*types.Comment{
		{ExternalID: "c1", IssueID: issue.ID, CreatedAt: ts(1), AuthorID: "p1", Body: "first"},
		{ExternalID: "c2", IssueID: issue.ID, CreatedAt: ts(2), AuthorID: "p2", Body: "second"},
	}
	n, err := s.InsertComments(ctx, comments)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.InsertComments(ctx, []*types.Comment{
		{ExternalID: "c1", IssueID: issue.ID, Body: "dup"},
		{ExternalID: "c3", IssueID: issue.ID, Body: "third"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	c, err := s.GetComment(ctx, issue.ID, "c1")
	require.NoError(t, err)
	assert.Equal(t, "first", c.Body)

	list, err := s.ListComments(ctx, issue.ID)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func testEvents(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	gen := newGeneration(t, s, "https://tracker/a", 1)
	issue := &types.Issue{ExternalID: "A-1", IssueSystemIDs: []string{gen.ID}}
	require.NoError(t, s.CreateIssue(ctx, issue))

	events := []*types.Event{
		{ExternalID: "h1%%0", IssueID: issue.ID, CreatedAt: ts(1), Field: types.FieldStatus,
			OldValue: types.StringValue("Open"), NewValue: types.StringValue("Closed")},
		{ExternalID: "h1%%1", IssueID: issue.ID, CreatedAt: ts(1), Field: types.FieldIssueLinks,
			NewValue: types.LinkValue(types.IssueLink{TargetExternalID: "A-2", Type: "Blocker", Effect: "blocks"})},
		{ExternalID: "h2%%0", IssueID: issue.ID, CreatedAt: ts(2), Field: "referenced",
			NewValue: types.StringValue("abc123"), CommitHash: "abc123"},
	}
	n, err := s.InsertEvents(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.InsertEvents(ctx, events[:1])
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := s.GetEvent(ctx, issue.ID, "h1%%1")
	require.NoError(t, err)
	assert.Nil(t, got.OldValue)
	require.NotNil(t, got.NewValue)
	assert.Equal(t, "A-2", got.NewValue.Link.TargetExternalID)

	got.NewValue.Link.TargetIssueID = "resolved"
	require.NoError(t, s.UpdateEvent(ctx, got))
	again, err := s.GetEvent(ctx, issue.ID, "h1%%1")
	require.NoError(t, err)
	assert.Equal(t, "resolved", again.NewValue.Link.TargetIssueID)

	list, err := s.ListEvents(ctx, issue.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "abc123", list[2].CommitHash)
}

func testDeleteGeneration(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	g1 := newGeneration(t, s, "https://tracker/a", 1)
	g2 := newGeneration(t, s, "https://tracker/a", 2)

	old := &types.Issue{ExternalID: "A-1", IssueSystemIDs: []string{g1.ID, g2.ID}}
	require.NoError(t, s.CreateIssue(ctx, old))
	fresh := &types.Issue{ExternalID: "A-2", IssueSystemIDs: []string{g2.ID}}
	require.NoError(t, s.CreateIssue(ctx, fresh))
	_, err := s.InsertEvents(ctx, []*types.Event{{ExternalID: "e", IssueID: fresh.ID, Field: types.FieldTitle, NewValue: types.StringValue("x")}})
	require.NoError(t, err)
	_, err = s.InsertComments(ctx, []*types.Comment{{ExternalID: "c", IssueID: fresh.ID, Body: "x"}})
	require.NoError(t, err)

	require.NoError(t, s.DeleteGeneration(ctx, g2.ID))

	kept, err := s.GetIssue(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{g1.ID}, kept.IssueSystemIDs)

	_, err = s.GetIssue(ctx, fresh.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetEvent(ctx, fresh.ID, "e")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetComment(ctx, fresh.ID, "c")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.GetPriorIssueSystem(ctx, "https://tracker/a", "")
	require.NoError(t, err, "older generation survives")
}

func testLatestUpdatedAt(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	latest, err := s.LatestUpdatedAt(ctx, "https://tracker/a")
	require.NoError(t, err)
	assert.Nil(t, latest)

	g1 := newGeneration(t, s, "https://tracker/a", 1)
	g2 := newGeneration(t, s, "https://tracker/b", 1)
	require.NoError(t, s.CreateIssue(ctx, &types.Issue{ExternalID: "A-1", IssueSystemIDs: []string{g1.ID}, UpdatedAt: ts(4)}))
	require.NoError(t, s.CreateIssue(ctx, &types.Issue{ExternalID: "A-2", IssueSystemIDs: []string{g1.ID}, UpdatedAt: ts(9)}))
	require.NoError(t, s.CreateIssue(ctx, &types.Issue{ExternalID: "B-1", IssueSystemIDs: []string{g2.ID}, UpdatedAt: ts(20)}))

	latest, err = s.LatestUpdatedAt(ctx, "https://tracker/a")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.Equal(*ts(9)), "latest = %v", latest)
}
