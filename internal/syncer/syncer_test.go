package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartshark/issuesync/internal/storage"
	"github.com/smartshark/issuesync/internal/storage/memory"
	"github.com/smartshark/issuesync/internal/tracker"
	"github.com/smartshark/issuesync/internal/types"
)

const trackerURL = "https://issues.example.org/rest/api/2/search?jql=project=X"

// fakeAdapter serves fixed pages, histories and comments.
type fakeAdapter struct {
	schema     *tracker.Schema
	pages      [][]tracker.RawIssue
	history    map[string][]tracker.RawHistoryEntry
	comments   map[string][]tracker.RawComment
	initErr    error
	pageErr    map[int]error
	historyErr map[string]error
	userErr    error
	onPage     func(page int)
}

func (f *fakeAdapter) Name() string                                { return "fake" }
func (f *fakeAdapter) Init(context.Context, *tracker.Config) error { return f.initErr }
func (f *fakeAdapter) Schema() *tracker.Schema                     { return f.schema }
func (f *fakeAdapter) Close() error                                { return nil }

func (f *fakeAdapter) FetchIssuePage(ctx context.Context, cursor tracker.Cursor, _ int) (*tracker.Page, error) {
	if f.onPage != nil {
		f.onPage(cursor.Page)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.pageErr[cursor.Page]; err != nil {
		return nil, err
	}
	next := tracker.Cursor{Since: cursor.Since, Page: cursor.Page + 1}
	if cursor.Page-1 >= len(f.pages) {
		return &tracker.Page{Next: next}, nil
	}
	return &tracker.Page{Issues: f.pages[cursor.Page-1], Next: next}, nil
}

func (f *fakeAdapter) FetchHistory(_ context.Context, issue tracker.RawIssue) ([]tracker.RawHistoryEntry, error) {
	if err := f.historyErr[issue.ExternalID]; err != nil {
		return nil, err
	}
	return f.history[issue.ExternalID], nil
}

func (f *fakeAdapter) FetchComments(_ context.Context, issue tracker.RawIssue) ([]tracker.RawComment, error) {
	return f.comments[issue.ExternalID], nil
}

func (f *fakeAdapter) FetchUser(context.Context, string) (*tracker.RawPerson, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return nil, tracker.ErrNotFound
}

func testSchema() *tracker.Schema {
	return &tracker.Schema{
		Issue: map[string]tracker.FieldSpec{
			"summary":    {Field: types.FieldTitle},
			"status":     {Field: types.FieldStatus},
			"updated":    {Field: types.FieldUpdatedAt},
			"reporter":   {Field: types.FieldReporter},
			"issuelinks": {Field: types.FieldIssueLinks},
		},
	}
}

var (
	t0    = time.Date(2022, 5, 1, 10, 0, 0, 0, time.UTC)
	alice = tracker.RawPerson{Username: "alice", Name: "Alice", Email: "alice@example.org"}
)

func rawIssue(ext, status string, links ...tracker.RawLink) tracker.RawIssue {
	fields := map[string]any{
		"summary":  "issue " + ext,
		"status":   status,
		"updated":  t0,
		"reporter": alice,
	}
	if len(links) > 0 {
		fields["issuelinks"] = links
	}
	return tracker.RawIssue{ExternalID: ext, Fields: fields}
}

func newAdapter(x1Status string) *fakeAdapter {
	created := t0.Add(-time.Hour)
	return &fakeAdapter{
		schema: testSchema(),
		pages: [][]tracker.RawIssue{
			{rawIssue("X-1", x1Status, tracker.RawLink{TargetExternalID: "X-2", Relation: "blocks"})},
			{rawIssue("X-2", "Open", tracker.RawLink{TargetExternalID: "X-99", Relation: "relates to"})},
		},
		history: map[string][]tracker.RawHistoryEntry{
			"X-1": {{
				ID: "100", CreatedAt: &created, Author: &alice,
				Items: []tracker.RawChangeItem{{Field: "status", From: tracker.Str("Open"), To: tracker.Str("Closed")}},
			}},
		},
		comments: map[string][]tracker.RawComment{
			"X-1": {{ExternalID: "c1", CreatedAt: &created, Author: &alice, Body: "first"}},
		},
	}
}

type fixture struct {
	store *memory.MemoryStorage
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()
	require.NoError(t, s.CreateProject(context.Background(), &types.Project{Name: "proj"}))
	return &fixture{store: s, clock: t0}
}

func (f *fixture) engine(a tracker.Adapter) *Engine {
	f.clock = f.clock.Add(time.Hour)
	now := f.clock
	log, _ := test.NewNullLogger()
	return New(Options{
		Project:  "proj",
		Adapter:  a,
		Tracker:  &tracker.Config{URL: trackerURL},
		Store:    f.store,
		PageSize: 10,
		Log:      log,
		Now:      func() time.Time { return now },
	})
}

func (f *fixture) issue(t *testing.T, gen, ext string) *types.Issue {
	t.Helper()
	issue, err := f.store.GetIssueByExternalID(context.Background(), gen, ext)
	require.NoError(t, err)
	return issue
}

func TestFirstRunStoresEverything(t *testing.T) {
	f := newFixture(t)
	e := f.engine(newAdapter("Closed"))
	var states []State
	e.OnState = func(s State) { states = append(states, s) }

	out := e.Run(context.Background())
	require.NoError(t, out.Err)
	assert.Equal(t, Completed, out.Kind)
	assert.Equal(t, []State{StateInit, StateCursorResolved, StatePaging, StateLinking, StateDone}, states)
	assert.Equal(t, 2, out.Stats.Created)
	assert.Equal(t, 2, out.Stats.Pages)
	assert.Equal(t, 1, out.Stats.Stubs)
	assert.Equal(t, 1, out.Stats.Events)
	assert.Equal(t, 1, out.Stats.Comments)

	ctx := context.Background()
	x1 := f.issue(t, out.GenerationID, "X-1")
	x2 := f.issue(t, out.GenerationID, "X-2")
	require.Len(t, x1.IssueLinks, 1)
	assert.Equal(t, x2.ID, x1.IssueLinks[0].TargetIssueID)
	assert.Equal(t, "blocks", x1.IssueLinks[0].Effect)

	stub := f.issue(t, out.GenerationID, "X-99")
	assert.True(t, stub.IsStub())
	assert.Equal(t, stub.ID, x2.IssueLinks[0].TargetIssueID)

	events, err := f.store.ListEvents(ctx, x1.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "100%%0", events[0].ExternalID)
	assert.True(t, types.StringValue("Closed").Equal(events[0].NewValue))

	gen, err := f.store.GetPriorIssueSystem(ctx, trackerURL, "")
	require.NoError(t, err)
	require.NotNil(t, gen.LastUpdated)
	assert.True(t, gen.LastUpdated.Equal(t0))
}

func TestRerunWithoutChangesAppendsGeneration(t *testing.T) {
	f := newFixture(t)
	first := f.engine(newAdapter("Closed")).Run(context.Background())
	require.NoError(t, first.Err)

	second := f.engine(newAdapter("Closed")).Run(context.Background())
	require.NoError(t, second.Err)
	assert.Equal(t, Completed, second.Kind)
	assert.Equal(t, 2, second.Stats.Appended)
	assert.Zero(t, second.Stats.Created)
	assert.Zero(t, second.Stats.Events)
	assert.Zero(t, second.Stats.Comments)

	x1 := f.issue(t, second.GenerationID, "X-1")
	assert.Equal(t, []string{first.GenerationID, second.GenerationID}, x1.IssueSystemIDs)
	assert.Equal(t, x1.ID, f.issue(t, first.GenerationID, "X-1").ID)

	// The tracker never returns the stub; it is carried over.
	assert.Equal(t, 1, second.Stats.Carried)
	stub := f.issue(t, second.GenerationID, "X-99")
	assert.True(t, stub.InGeneration(first.GenerationID))
}

func TestReverseApplyRerunWithoutChangesAppendsGeneration(t *testing.T) {
	f := newFixture(t)
	reverse := func() *fakeAdapter {
		a := newAdapter("Closed")
		a.schema.ReverseApply = true
		return a
	}
	first := f.engine(reverse()).Run(context.Background())
	require.NoError(t, first.Err)
	assert.Equal(t, "Open", f.issue(t, first.GenerationID, "X-1").Status, "stored as created")

	second := f.engine(reverse()).Run(context.Background())
	require.NoError(t, second.Err)
	assert.Equal(t, 2, second.Stats.Appended)
	assert.Zero(t, second.Stats.Created)
	assert.Zero(t, second.Stats.Copied)
	assert.Zero(t, second.Stats.Events)
	assert.Zero(t, second.Stats.Comments)
	assert.Zero(t, second.Stats.Changed)
}

func TestIssueNotReturnedStaysInLaterGenerations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.engine(newAdapter("Closed")).Run(ctx)
	require.NoError(t, first.Err)

	onlyX2 := newAdapter("Closed")
	onlyX2.pages = onlyX2.pages[1:]
	second := f.engine(onlyX2).Run(ctx)
	require.NoError(t, second.Err)
	assert.Equal(t, 2, second.Stats.Carried, "X-1 and the X-99 stub")
	x1 := f.issue(t, second.GenerationID, "X-1")
	assert.Equal(t, []string{first.GenerationID, second.GenerationID}, x1.IssueSystemIDs)

	onlyX1 := newAdapter("Reopened")
	onlyX1.pages = onlyX1.pages[:1]
	third := f.engine(onlyX1).Run(ctx)
	require.NoError(t, third.Err)
	assert.Zero(t, third.Stats.Created)
	assert.Equal(t, 1, third.Stats.Copied)

	cur := f.issue(t, third.GenerationID, "X-1")
	assert.NotEqual(t, x1.ID, cur.ID)
	assert.Equal(t, "Reopened", cur.Status)
	events, err := f.store.ListEvents(ctx, cur.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1, "history is copied, not rebuilt")

	prior, err := f.store.GetIssue(ctx, x1.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{first.GenerationID, second.GenerationID}, prior.IssueSystemIDs)
}

func TestLaterImportCompletesStub(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.engine(newAdapter("Closed")).Run(ctx)
	require.NoError(t, first.Err)
	stub := f.issue(t, first.GenerationID, "X-99")
	require.True(t, stub.IsStub())

	a := newAdapter("Closed")
	a.pages = append(a.pages, []tracker.RawIssue{rawIssue("X-99", "Open")})
	second := f.engine(a).Run(ctx)
	require.NoError(t, second.Err)
	assert.Zero(t, second.Stats.Created)
	assert.Zero(t, second.Stats.Copied)
	assert.Zero(t, second.Stats.Stubs)
	assert.Equal(t, 1, second.Stats.Updated)

	full := f.issue(t, second.GenerationID, "X-99")
	assert.Equal(t, stub.ID, full.ID)
	assert.False(t, full.IsStub())
	assert.Equal(t, "issue X-99", full.Title)
	assert.ElementsMatch(t, []string{first.GenerationID, second.GenerationID}, full.IssueSystemIDs)

	x2 := f.issue(t, second.GenerationID, "X-2")
	require.Len(t, x2.IssueLinks, 1)
	assert.Equal(t, stub.ID, x2.IssueLinks[0].TargetIssueID)
}

func TestChangedHistoryEntryReplacesEventInCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.engine(newAdapter("Closed")).Run(ctx)
	require.NoError(t, first.Err)

	a := newAdapter("Closed")
	moved := t0.Add(-30 * time.Minute)
	a.history["X-1"][0].CreatedAt = &moved
	second := f.engine(a).Run(ctx)
	require.NoError(t, second.Err)
	assert.Equal(t, 1, second.Stats.Copied)
	assert.Equal(t, 1, second.Stats.Appended)
	assert.Equal(t, 1, second.Stats.Changed)

	cur := f.issue(t, second.GenerationID, "X-1")
	events, err := f.store.ListEvents(ctx, cur.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].CreatedAt.Equal(moved))

	old := f.issue(t, first.GenerationID, "X-1")
	oldEvents, err := f.store.ListEvents(ctx, old.ID)
	require.NoError(t, err)
	require.Len(t, oldEvents, 1)
	assert.True(t, oldEvents[0].CreatedAt.Equal(t0.Add(-time.Hour)))
}

func TestRerunWithChangeCopiesIssue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.engine(newAdapter("Closed")).Run(ctx)
	require.NoError(t, first.Err)

	second := f.engine(newAdapter("Reopened")).Run(ctx)
	require.NoError(t, second.Err)
	assert.Equal(t, 1, second.Stats.Copied)
	assert.Equal(t, 1, second.Stats.Appended)

	old := f.issue(t, first.GenerationID, "X-1")
	cur := f.issue(t, second.GenerationID, "X-1")
	assert.NotEqual(t, old.ID, cur.ID)
	assert.Equal(t, "Closed", old.Status)
	assert.Equal(t, []string{first.GenerationID}, old.IssueSystemIDs)
	assert.Equal(t, "Reopened", cur.Status)

	comments, err := f.store.ListComments(ctx, cur.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "c1", comments[0].ExternalID)
	events, err := f.store.ListEvents(ctx, cur.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "100%%0", events[0].ExternalID)

	// Links of the copy resolve into the current generation.
	x2 := f.issue(t, second.GenerationID, "X-2")
	require.Len(t, cur.IssueLinks, 1)
	assert.Equal(t, x2.ID, cur.IssueLinks[0].TargetIssueID)
}

func TestEmptyFirstPageIsNothingToDo(t *testing.T) {
	f := newFixture(t)
	a := newAdapter("Closed")
	a.pages = nil

	out := f.engine(a).Run(context.Background())
	require.NoError(t, out.Err)
	assert.Equal(t, NothingToDo, out.Kind)
	assert.True(t, out.OK())

	_, err := f.store.GetPriorIssueSystem(context.Background(), trackerURL, "")
	assert.ErrorIs(t, err, storage.ErrNotFound, "the empty generation is dropped")
}

func TestPageFailureRemovesGeneration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.engine(newAdapter("Closed")).Run(ctx)
	require.NoError(t, first.Err)

	a := newAdapter("Reopened")
	a.pageErr = map[int]error{2: &tracker.UnavailableError{Op: "GET", URL: trackerURL, Err: errors.New("boom")}}
	e := f.engine(a)
	out := e.Run(ctx)
	assert.Equal(t, Failed, out.Kind)
	assert.ErrorIs(t, out.Err, tracker.ErrUnavailable)
	assert.Equal(t, StateFailed, e.State())

	left, err := f.store.ListIssuesByGeneration(ctx, out.GenerationID)
	require.NoError(t, err)
	assert.Empty(t, left)

	// The prior generation is untouched.
	x1 := f.issue(t, first.GenerationID, "X-1")
	assert.Equal(t, "Closed", x1.Status)
	assert.Equal(t, []string{first.GenerationID}, x1.IssueSystemIDs)
	prior, err := f.store.GetPriorIssueSystem(ctx, trackerURL, "")
	require.NoError(t, err)
	assert.Equal(t, first.GenerationID, prior.ID)
}

func TestCancellationCleansUp(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := newAdapter("Closed")
	a.onPage = func(page int) {
		if page == 2 {
			cancel()
		}
	}

	out := f.engine(a).Run(ctx)
	assert.Equal(t, Failed, out.Kind)
	assert.ErrorIs(t, out.Err, context.Canceled)

	left, err := f.store.ListIssuesByGeneration(context.Background(), out.GenerationID)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestUnavailableIssueIsSkipped(t *testing.T) {
	f := newFixture(t)
	a := newAdapter("Closed")
	a.historyErr = map[string]error{"X-1": &tracker.UnavailableError{Op: "GET", URL: "history", Err: errors.New("timeout")}}

	out := f.engine(a).Run(context.Background())
	require.NoError(t, out.Err)
	assert.Equal(t, Completed, out.Kind)
	assert.Equal(t, 1, out.Stats.Skipped)
	assert.Equal(t, 1, out.Stats.Created)

	_, err := f.store.GetIssueByExternalID(context.Background(), out.GenerationID, "X-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeletedIssueIsSkipped(t *testing.T) {
	f := newFixture(t)
	a := newAdapter("Closed")
	a.historyErr = map[string]error{"X-2": fmt.Errorf("get issue X-2: %w", tracker.ErrNotFound)}

	out := f.engine(a).Run(context.Background())
	require.NoError(t, out.Err)
	assert.Equal(t, 1, out.Stats.Skipped)
}

func TestUnavailableUserLookupSkipsIssue(t *testing.T) {
	ghost := tracker.RawPerson{Username: "ghost"}
	tests := []struct {
		name    string
		skipped string
		setup   func(a *fakeAdapter)
	}{
		{"reporter", "X-2", func(a *fakeAdapter) { a.pages[1][0].Fields["reporter"] = ghost }},
		{"comment author", "X-1", func(a *fakeAdapter) { a.comments["X-1"][0].Author = &ghost }},
		{"history author", "X-1", func(a *fakeAdapter) { a.history["X-1"][0].Author = &ghost }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			a := newAdapter("Closed")
			a.userErr = &tracker.UnavailableError{Op: "GET", URL: "user", Err: errors.New("timeout")}
			tt.setup(a)

			out := f.engine(a).Run(context.Background())
			require.NoError(t, out.Err)
			assert.Equal(t, Completed, out.Kind)
			assert.Equal(t, 1, out.Stats.Skipped)
			assert.Equal(t, 1, out.Stats.Created)

			issue, err := f.store.GetIssueByExternalID(context.Background(), out.GenerationID, tt.skipped)
			if err == nil {
				assert.True(t, issue.IsStub(), "only a link target stub may exist")
			} else {
				assert.ErrorIs(t, err, storage.ErrNotFound)
			}
		})
	}
}

func TestInitFailures(t *testing.T) {
	t.Run("auth", func(t *testing.T) {
		f := newFixture(t)
		a := newAdapter("Closed")
		a.initErr = tracker.ErrAuth
		out := f.engine(a).Run(context.Background())
		assert.Equal(t, Failed, out.Kind)
		assert.ErrorIs(t, out.Err, tracker.ErrAuth)
		assert.Empty(t, out.GenerationID)
	})
	t.Run("unknown project", func(t *testing.T) {
		f := newFixture(t)
		e := f.engine(newAdapter("Closed"))
		e.opts.Project = "missing"
		out := e.Run(context.Background())
		assert.ErrorIs(t, out.Err, ErrUnknownProject)
		assert.Empty(t, out.GenerationID)
	})
}

func TestMessagesAndWarnings(t *testing.T) {
	f := newFixture(t)
	a := newAdapter("Closed")
	a.pageErr = map[int]error{1: errors.New("broken")}
	e := f.engine(a)
	var msgs, warns []string
	e.OnMessage = func(m string) { msgs = append(msgs, m) }
	e.OnWarning = func(m string) { warns = append(warns, m) }

	out := e.Run(context.Background())
	assert.Equal(t, Failed, out.Kind)
	assert.Contains(t, msgs, "Collecting all issues")
	require.Len(t, warns, 1)
	assert.Contains(t, warns[0], out.GenerationID)
}

func TestRunBatch(t *testing.T) {
	f := newFixture(t)
	ok := f.engine(newAdapter("Closed"))
	bad := f.engine(newAdapter("Closed"))
	bad.opts.Project = "missing"
	bad.opts.Tracker = &tracker.Config{URL: "https://other.example.org/rest/bug?product=Y"}

	outcomes := RunBatch(context.Background(), []*Engine{ok, bad}, 2)
	require.Len(t, outcomes, 2)
	assert.Equal(t, Completed, outcomes[0].Kind)
	assert.Equal(t, Failed, outcomes[1].Kind)
	assert.Equal(t, "missing", outcomes[1].Project)

	failed := Failures(outcomes)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, ErrUnknownProject)
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "CURSOR_RESOLVED", StateCursorResolved.String())
	assert.Equal(t, "nothing to do", NothingToDo.String())
	assert.Equal(t, "State(42)", State(42).String())
}
