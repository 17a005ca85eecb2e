// Package memory implements the storage interface with in-process maps.
// It backs dry runs and the engine tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smartshark/issuesync/internal/storage"
	"github.com/smartshark/issuesync/internal/types"
)

// MemoryStorage is a mutex-guarded, copy-on-read store.
type MemoryStorage struct {
	mu sync.RWMutex

	projects map[string]*types.Project
	systems  map[string]*types.IssueSystem
	issues   map[string]*types.Issue
	people   map[string]*types.Person
	comments map[string]*types.Comment
	events   map[string]*types.Event

	// seq orders records by insertion for stable listings.
	seq   int
	order map[string]int
}

var _ storage.Storage = (*MemoryStorage)(nil)

// New returns an empty store.
func New() *MemoryStorage {
	return &MemoryStorage{
		projects: make(map[string]*types.Project),
		systems:  make(map[string]*types.IssueSystem),
		issues:   make(map[string]*types.Issue),
		people:   make(map[string]*types.Person),
		comments: make(map[string]*types.Comment),
		events:   make(map[string]*types.Event),
		order:    make(map[string]int),
	}
}

func newID() string { return uuid.NewString() }

func (m *MemoryStorage) touch(id string) {
	m.seq++
	m.order[id] = m.seq
}

func (m *MemoryStorage) CreateProject(_ context.Context, p *types.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.projects {
		if existing.Name == p.Name {
			return fmt.Errorf("create project %q: %w", p.Name, storage.ErrConflict)
		}
	}
	if p.ID == "" {
		p.ID = newID()
	}
	c := *p
	m.projects[p.ID] = &c
	m.touch(p.ID)
	return nil
}

func (m *MemoryStorage) GetProjectByName(_ context.Context, name string) (*types.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.projects {
		if p.Name == name {
			c := *p
			return &c, nil
		}
	}
	return nil, fmt.Errorf("project %q: %w", name, storage.ErrNotFound)
}

func (m *MemoryStorage) ListProjects(_ context.Context) ([]*types.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Project, 0, len(m.projects))
	for _, p := range m.projects {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStorage) CreateIssueSystem(_ context.Context, sys *types.IssueSystem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sys.ID == "" {
		sys.ID = newID()
	}
	c := *sys
	m.systems[sys.ID] = &c
	m.touch(sys.ID)
	return nil
}

func (m *MemoryStorage) UpdateIssueSystem(_ context.Context, sys *types.IssueSystem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.systems[sys.ID]; !ok {
		return fmt.Errorf("issue system %s: %w", sys.ID, storage.ErrNotFound)
	}
	c := *sys
	m.systems[sys.ID] = &c
	return nil
}

func (m *MemoryStorage) GetPriorIssueSystem(_ context.Context, url, excludeID string) (*types.IssueSystem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *types.IssueSystem
	for id, sys := range m.systems {
		if id == excludeID || sys.URL != url {
			continue
		}
		if best == nil || sys.CollectionDate.After(best.CollectionDate) ||
			(sys.CollectionDate.Equal(best.CollectionDate) && m.order[id] > m.order[best.ID]) {
			best = sys
		}
	}
	if best == nil {
		return nil, fmt.Errorf("prior issue system for %s: %w", url, storage.ErrNotFound)
	}
	c := *best
	return &c, nil
}

func (m *MemoryStorage) LatestUpdatedAt(_ context.Context, url string) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gens := make(map[string]bool)
	for id, sys := range m.systems {
		if sys.URL == url {
			gens[id] = true
		}
	}
	var latest *time.Time
	for _, issue := range m.issues {
		if issue.UpdatedAt == nil || !slices.ContainsFunc(issue.IssueSystemIDs, func(g string) bool { return gens[g] }) {
			continue
		}
		if latest == nil || issue.UpdatedAt.After(*latest) {
			t := *issue.UpdatedAt
			latest = &t
		}
	}
	return latest, nil
}

func (m *MemoryStorage) DeleteGeneration(_ context.Context, generationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, issue := range m.issues {
		if !issue.InGeneration(generationID) {
			continue
		}
		if len(issue.IssueSystemIDs) > 1 {
			issue.IssueSystemIDs = slices.DeleteFunc(issue.IssueSystemIDs, func(g string) bool { return g == generationID })
			continue
		}
		delete(m.issues, id)
		for key, c := range m.comments {
			if c.IssueID == id {
				delete(m.comments, key)
			}
		}
		for key, e := range m.events {
			if e.IssueID == id {
				delete(m.events, key)
			}
		}
	}
	delete(m.systems, generationID)
	return nil
}

func (m *MemoryStorage) CreateIssue(_ context.Context, issue *types.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, gen := range issue.IssueSystemIDs {
		if m.findByExternal(gen, issue.ExternalID) != nil {
			return fmt.Errorf("create issue %s in %s: %w", issue.ExternalID, gen, storage.ErrConflict)
		}
	}
	if issue.ID == "" {
		issue.ID = newID()
	}
	m.issues[issue.ID] = issue.Clone()
	m.touch(issue.ID)
	return nil
}

func (m *MemoryStorage) UpdateIssue(_ context.Context, issue *types.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.issues[issue.ID]; !ok {
		return fmt.Errorf("update issue %s: %w", issue.ID, storage.ErrNotFound)
	}
	m.issues[issue.ID] = issue.Clone()
	return nil
}

func (m *MemoryStorage) GetIssue(_ context.Context, id string) (*types.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	issue, ok := m.issues[id]
	if !ok {
		return nil, fmt.Errorf("issue %s: %w", id, storage.ErrNotFound)
	}
	return issue.Clone(), nil
}

func (m *MemoryStorage) GetIssueByExternalID(_ context.Context, generationID, externalID string) (*types.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if issue := m.findByExternal(generationID, externalID); issue != nil {
		return issue.Clone(), nil
	}
	return nil, fmt.Errorf("issue %s in %s: %w", externalID, generationID, storage.ErrNotFound)
}

func (m *MemoryStorage) findByExternal(generationID, externalID string) *types.Issue {
	for _, issue := range m.issues {
		if issue.ExternalID == externalID && issue.InGeneration(generationID) {
			return issue
		}
	}
	return nil
}

func (m *MemoryStorage) AddIssueSystem(_ context.Context, issueID, generationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.issues[issueID]
	if !ok {
		return fmt.Errorf("issue %s: %w", issueID, storage.ErrNotFound)
	}
	issue.AddGeneration(generationID)
	return nil
}

func (m *MemoryStorage) RemoveIssueSystem(_ context.Context, issueID, generationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.issues[issueID]
	if !ok {
		return fmt.Errorf("issue %s: %w", issueID, storage.ErrNotFound)
	}
	issue.IssueSystemIDs = slices.DeleteFunc(issue.IssueSystemIDs, func(id string) bool { return id == generationID })
	return nil
}

func (m *MemoryStorage) ListIssuesByGeneration(_ context.Context, generationID string) ([]*types.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Issue
	for _, issue := range m.issues {
		if issue.InGeneration(generationID) {
			out = append(out, issue.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] < m.order[out[j].ID] })
	return out, nil
}

func (m *MemoryStorage) UpsertPerson(_ context.Context, p *types.Person) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.people {
		if existing.Name == p.Name && existing.Email == p.Email {
			if existing.Username == "" {
				existing.Username = p.Username
			}
			p.ID = id
			return id, nil
		}
	}
	if p.ID == "" {
		p.ID = newID()
	}
	c := *p
	m.people[p.ID] = &c
	return p.ID, nil
}

func (m *MemoryStorage) GetPerson(_ context.Context, id string) (*types.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.people[id]
	if !ok {
		return nil, fmt.Errorf("person %s: %w", id, storage.ErrNotFound)
	}
	c := *p
	return &c, nil
}

func childKey(issueID, externalID string) string {
	return issueID + "\x00" + externalID
}

func (m *MemoryStorage) GetComment(_ context.Context, issueID, externalID string) (*types.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.comments[childKey(issueID, externalID)]
	if !ok {
		return nil, fmt.Errorf("comment %s: %w", externalID, storage.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStorage) InsertComments(_ context.Context, comments []*types.Comment) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, c := range comments {
		key := childKey(c.IssueID, c.ExternalID)
		if _, exists := m.comments[key]; exists {
			continue
		}
		if c.ID == "" {
			c.ID = newID()
		}
		cp := *c
		m.comments[key] = &cp
		m.touch(c.ID)
		inserted++
	}
	return inserted, nil
}

func (m *MemoryStorage) ListComments(_ context.Context, issueID string) ([]*types.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Comment
	for _, c := range m.comments {
		if c.IssueID == issueID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] < m.order[out[j].ID] })
	return out, nil
}

func (m *MemoryStorage) GetEvent(_ context.Context, issueID, externalID string) (*types.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[childKey(issueID, externalID)]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", externalID, storage.ErrNotFound)
	}
	return e.Clone(), nil
}

func (m *MemoryStorage) InsertEvents(_ context.Context, events []*types.Event) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, e := range events {
		key := childKey(e.IssueID, e.ExternalID)
		if _, exists := m.events[key]; exists {
			continue
		}
		if e.ID == "" {
			e.ID = newID()
		}
		m.events[key] = e.Clone()
		m.touch(e.ID)
		inserted++
	}
	return inserted, nil
}

func (m *MemoryStorage) UpdateEvent(_ context.Context, event *types.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := childKey(event.IssueID, event.ExternalID)
	if _, ok := m.events[key]; !ok {
		return fmt.Errorf("event %s: %w", event.ExternalID, storage.ErrNotFound)
	}
	m.events[key] = event.Clone()
	return nil
}

// ListEvents returns the issue's events in insertion order.
func (m *MemoryStorage) ListEvents(_ context.Context, issueID string) ([]*types.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Event
	for _, e := range m.events {
		if e.IssueID == issueID {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] < m.order[out[j].ID] })
	return out, nil
}

// Close is a no-op.
func (m *MemoryStorage) Close() error { return nil }

// Dump renders the store contents for debugging test failures.
func (m *MemoryStorage) Dump() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var b strings.Builder
	for id, issue := range m.issues {
		fmt.Fprintf(&b, "issue %s ext=%s gens=%v status=%q\n", id, issue.ExternalID, issue.IssueSystemIDs, issue.Status)
	}
	fmt.Fprintf(&b, "comments=%d events=%d people=%d\n", len(m.comments), len(m.events), len(m.people))
	return b.String()
}
