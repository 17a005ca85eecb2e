package jira

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartshark/issuesync/internal/tracker"
	"github.com/smartshark/issuesync/internal/types"
)

const issueJSON = `{
	"id": "10001",
	"key": "PROJ-1",
	"fields": {
		"summary": "Crash on start",
		"description": "It crashes.",
		"environment": null,
		"status": {"id": "1", "name": "Open"},
		"priority": {"id": "3", "name": "Major"},
		"issuetype": {"id": "1", "name": "Bug"},
		"resolution": null,
		"creator": {"name": "alice", "displayName": "Alice", "emailAddress": "alice at example dot org"},
		"reporter": {"name": "alice", "displayName": "Alice", "emailAddress": "alice at example dot org"},
		"assignee": {"name": "bob", "displayName": "Bob"},
		"labels": ["crash", "startup"],
		"components": [{"id": "7", "name": "Core"}],
		"versions": [],
		"fixVersions": [{"id": "9", "name": "2.0"}],
		"issuelinks": [
			{"id": "1", "type": {"name": "Blocks", "inward": "is blocked by", "outward": "blocks"},
			 "outwardIssue": {"key": "PROJ-2"}},
			{"id": "2", "type": {"name": "Duplicate", "inward": "is duplicated by", "outward": "duplicates"},
			 "inwardIssue": {"key": "PROJ-3"}},
			{"id": "3", "type": {"name": "Relates", "inward": "relates to", "outward": "relates to"},
			 "outwardIssue": {"key": "PROJ-1"}}
		],
		"parent": {"id": "10000", "key": "PROJ-0"},
		"timeoriginalestimate": 7200,
		"created": "2021-01-01T10:00:00.000+0100",
		"updated": "2021-01-05T12:00:00.000+0000",
		"comment": {"total": 1, "comments": [
			{"id": "501", "author": {"name": "bob", "displayName": "Bob"}, "body": "Confirmed.",
			 "created": "2021-01-02T09:00:00.000+0000"}
		]}
	},
	"changelog": {"startAt": 0, "maxResults": 2, "total": 2, "histories": [
		{"id": "900", "author": {"name": "alice"}, "created": "2021-01-02T00:00:00.000+0000", "items": [
			{"field": "status", "fromString": "New", "toString": "Open", "from": "10000", "to": "1"},
			{"field": "Parent", "fromString": null, "toString": "PROJ-0", "from": null, "to": "10000"}
		]},
		{"id": "901", "author": {"name": "bob"}, "created": "2021-01-03T00:00:00.000+0000", "items": [
			{"field": "assignee", "fromString": null, "toString": "Bob", "from": null, "to": "bob"}
		]}
	]}
}`

type jiraServer struct {
	*httptest.Server
	searches []url.Values
	auth     []string
}

func newJiraServer(t *testing.T) *jiraServer {
	t.Helper()
	s := &jiraServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/jira/rest/api/2/search", func(w http.ResponseWriter, r *http.Request) {
		s.searches = append(s.searches, r.URL.Query())
		s.auth = append(s.auth, r.Header.Get("Authorization"))
		if r.URL.Query().Get("startAt") != "0" {
			_, _ = w.Write([]byte(`{"startAt": 2, "total": 2, "issues": []}`))
			return
		}
		_, _ = w.Write([]byte(`{"startAt": 0, "total": 2, "issues": [{"key": "PROJ-1"}, {"key": "PROJ-9"}]}`))
	})
	mux.HandleFunc("/jira/rest/api/2/issue/PROJ-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "changelog", r.URL.Query().Get("expand"))
		_, _ = w.Write([]byte(issueJSON))
	})
	mux.HandleFunc("/jira/rest/api/2/issue/PROJ-9", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/jira/rest/api/2/user", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("username") != "bob" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"name": "bob", "displayName": "Bob B."})
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func initTracker(t *testing.T, srv *jiraServer, cfg tracker.Config) *Tracker {
	t.Helper()
	cfg.URL = srv.URL + "/jira/rest/api/2/search?jql=project=PROJ"
	tr := &Tracker{}
	require.NoError(t, tr.Init(context.Background(), &cfg))
	return tr
}

func TestRegistered(t *testing.T) {
	factory := tracker.Get("jira")
	require.NotNil(t, factory, "jira tracker not registered")
	assert.Equal(t, "jira", factory().Name())
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		url      string
		wantBase string
	}{
		{"https://issues.apache.org/jira/rest/api/2/search?jql=project=ZOOKEEPER", "https://issues.apache.org/jira/rest/api/2"},
		{"https://jira.example.org/rest/api/2/search?jql=project=ZOOKEEPER", "https://jira.example.org/rest/api/2"},
	}
	for _, tt := range tests {
		c, err := NewClient(tt.url, nil)
		require.NoError(t, err)
		assert.Equal(t, tt.wantBase, c.BaseURL)
		assert.Equal(t, "ZOOKEEPER", c.Project)
	}

	_, err := NewClient("https://jira.example.org/rest/api/2/search", nil)
	assert.Error(t, err)
}

func TestJQL(t *testing.T) {
	c := &Client{Project: "PROJ"}
	assert.Equal(t, "project=PROJ ORDER BY updatedDate ASC", c.JQL(nil))

	since := time.Date(2021, 1, 1, 10, 30, 45, 0, time.UTC)
	assert.Equal(t, `project=PROJ AND updatedDate >= "2021-01-01 10:30" ORDER BY updatedDate ASC`, c.JQL(&since))
}

func TestInitRejectsToken(t *testing.T) {
	tr := &Tracker{}
	err := tr.Init(context.Background(), &tracker.Config{
		URL:   "https://jira.example.org/rest/api/2/search?jql=project=PROJ",
		Token: "t0k",
	})
	assert.ErrorIs(t, err, tracker.ErrAuth)
}

func TestFetchIssuePage(t *testing.T) {
	srv := newJiraServer(t)
	tr := initTracker(t, srv, tracker.Config{Username: "alice", Password: "pw"})

	page, err := tr.FetchIssuePage(context.Background(), tracker.Cursor{}, 50)
	require.NoError(t, err)
	require.Len(t, page.Issues, 2)
	assert.Equal(t, 2, page.Next.Offset)

	q := srv.searches[0]
	assert.Equal(t, "project=PROJ ORDER BY updatedDate ASC", q.Get("jql"))
	assert.Equal(t, "50", q.Get("maxResults"))
	assert.Contains(t, srv.auth[0], "Basic ")

	raw := page.Issues[0]
	assert.Equal(t, "PROJ-1", raw.ExternalID)
	assert.Equal(t, "Crash on start", raw.Fields["summary"])
	assert.Equal(t, "It crashes.", *raw.Fields["description"].(*string))
	assert.Equal(t, "Open", raw.Fields["status"])
	assert.Nil(t, raw.Fields["resolution"])
	assert.Equal(t, tracker.RawPerson{Username: "bob", Name: "Bob", Email: NullEmail}, raw.Fields["assignee"])
	assert.Equal(t, []string{"Core"}, raw.Fields["components"])
	assert.Equal(t, "PROJ-0", raw.Fields["parent"])
	assert.Equal(t, int64(7200), raw.Fields["timeoriginalestimate"])
	assert.Equal(t, time.Date(2021, 1, 1, 9, 0, 0, 0, time.UTC), raw.Fields["created"])
	require.NotNil(t, raw.UpdatedAt)
	assert.Equal(t, time.Date(2021, 1, 5, 12, 0, 0, 0, time.UTC), *raw.UpdatedAt)
	assert.Equal(t, []tracker.RawLink{
		{TargetExternalID: "PROJ-2", Relation: "blocks"},
		{TargetExternalID: "PROJ-3", Relation: "is duplicated by"},
	}, raw.Fields["issuelinks"], "the link to itself is dropped")

	missing := page.Issues[1]
	assert.Equal(t, "PROJ-9", missing.ExternalID)
	assert.Empty(t, missing.Fields)
	_, err = tr.FetchHistory(context.Background(), missing)
	assert.ErrorIs(t, err, tracker.ErrNotFound)

	next, err := tr.FetchIssuePage(context.Background(), page.Next, 50)
	require.NoError(t, err)
	assert.Empty(t, next.Issues)
}

func TestFetchHistoryNewestFirst(t *testing.T) {
	srv := newJiraServer(t)
	tr := initTracker(t, srv, tracker.Config{})
	page, err := tr.FetchIssuePage(context.Background(), tracker.Cursor{}, 50)
	require.NoError(t, err)
	raw := page.Issues[0]

	history, err := tr.FetchHistory(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, "901", history[0].ID)
	assert.Equal(t, 1, history[0].Seq)
	assert.Equal(t, "bob", *history[0].Items[0].ToKey)
	assert.Equal(t, "Bob", *history[0].Items[0].To)

	parent := history[1].Items[1]
	assert.Equal(t, "Parent", parent.Field)
	assert.Equal(t, "PROJ-0", *parent.To)
	assert.Nil(t, parent.ToKey, "parent ids are dropped in favour of keys")

	assert.Equal(t, "900%%1", tr.Schema().ExternalEventID(raw, history[1], 1))
}

func TestFetchComments(t *testing.T) {
	srv := newJiraServer(t)
	tr := initTracker(t, srv, tracker.Config{})

	comments, err := tr.FetchComments(context.Background(), tracker.RawIssue{ExternalID: "PROJ-1", Key: "PROJ-1"})
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "501", comments[0].ExternalID)
	assert.Equal(t, "Confirmed.", comments[0].Body)
	assert.Equal(t, "bob", comments[0].Author.Username)
}

func TestFetchUser(t *testing.T) {
	srv := newJiraServer(t)
	tr := initTracker(t, srv, tracker.Config{})

	p, err := tr.FetchUser(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, &tracker.RawPerson{Username: "bob", Name: "Bob B.", Email: NullEmail}, p)

	_, err = tr.FetchUser(context.Background(), "ghost")
	assert.ErrorIs(t, err, tracker.ErrNotFound)
}

func TestSchema(t *testing.T) {
	s := jiraSchema
	assert.False(t, s.ReverseApply)
	assert.False(t, s.StopOnSeen)

	for raw, want := range map[string]types.Field{
		"Fix Version": types.FieldFixVersions,
		"Link":        types.FieldIssueLinks,
		"Parent":      types.FieldParent,
		"assignee":    types.FieldAssignee,
	} {
		f, ok := s.HistoryField(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, f, raw)
	}

	assert.Equal(t, []string{"a", "b"}, s.Tokens(types.FieldLabels, tracker.Str("a b")))
	assert.Equal(t, tracker.RawPerson{Username: "x", Name: "x", Email: "x"}, s.Fallback("x"))
}

func TestDescriptionToPlainText(t *testing.T) {
	assert.Nil(t, DescriptionToPlainText(nil))
	assert.Nil(t, DescriptionToPlainText(json.RawMessage("null")))
	assert.Equal(t, "plain", *DescriptionToPlainText(json.RawMessage(`"plain"`)))

	adf := `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"one "},{"type":"text","text":"line"}]},{"type":"paragraph","content":[{"type":"text","text":"two"}]}]}`
	assert.Equal(t, "one line\ntwo", *DescriptionToPlainText(json.RawMessage(adf)))
}

func TestParseTimestamp(t *testing.T) {
	got, err := ParseTimestamp("2021-01-01T10:00:00.000+0100")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2021, 1, 1, 9, 0, 0, 0, time.UTC)))

	_, err = ParseTimestamp("")
	assert.Error(t, err)
	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}
