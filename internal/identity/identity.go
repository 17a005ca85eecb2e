// Package identity resolves tracker users to stored people and external issue
// references to stored issues, creating stubs for issues not collected yet.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/smartshark/issuesync/internal/storage"
	"github.com/smartshark/issuesync/internal/tracker"
	"github.com/smartshark/issuesync/internal/types"
)

// UserSource looks up tracker users. tracker.Adapter satisfies it.
type UserSource interface {
	FetchUser(ctx context.Context, key string) (*tracker.RawPerson, error)
}

// Options configures a Resolver.
type Options struct {
	Store             storage.Storage
	Users             UserSource
	Schema            *tracker.Schema
	GenerationID      string
	PriorGenerationID string // empty on the first run for a tracker
	Log               logrus.FieldLogger
}

// Stats counts what the resolver created during a run.
type Stats struct {
	People int // distinct people resolved
	Stubs  int // placeholder issues created for forward references
	Merged int // prior-generation issues pulled into the current generation
}

// Resolver holds the caches of one run. It is not safe for concurrent use.
type Resolver struct {
	store  storage.Storage
	users  UserSource
	schema *tracker.Schema
	gen    string
	prior  string
	log    logrus.FieldLogger
	people map[string]string
	issues map[string]string
	stats  Stats
}

// New returns a resolver with empty caches.
func New(opts Options) *Resolver {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	schema := opts.Schema
	if schema == nil {
		schema = &tracker.Schema{}
	}
	return &Resolver{
		store:  opts.Store,
		users:  opts.Users,
		schema: schema,
		gen:    opts.GenerationID,
		prior:  opts.PriorGenerationID,
		log:    log,
		people: make(map[string]string),
		issues: make(map[string]string),
	}
}

// Stats returns the counters collected so far.
func (r *Resolver) Stats() Stats {
	s := r.stats
	s.People = len(r.people)
	return s
}

func personKey(p tracker.RawPerson) string {
	if p.Username != "" {
		return "u:" + p.Username
	}
	return "n:" + p.Name + "\x00" + p.Email
}

// Person returns the stored person id for a tracker user. Users carrying only
// a username are looked up at the tracker first; unknown users fall back to
// the schema's placeholder person.
func (r *Resolver) Person(ctx context.Context, p tracker.RawPerson) (string, error) {
	if p.Username == "" && p.Name == "" && p.Email == "" {
		return "", nil
	}
	key := personKey(p)
	if id, ok := r.people[key]; ok {
		return id, nil
	}

	if p.Name == "" && p.Email == "" && r.users != nil {
		fetched, err := r.users.FetchUser(ctx, p.LookupKey())
		switch {
		case errors.Is(err, tracker.ErrNotFound):
			r.log.WithField("user", p.Username).Debug("user unknown to tracker, using fallback")
			p = r.schema.Fallback(p.Username)
		case err != nil:
			return "", fmt.Errorf("fetch user %s: %w", p.LookupKey(), err)
		default:
			if fetched.Username == "" {
				fetched.Username = p.Username
			}
			p = *fetched
		}
	}
	if p.Name == "" {
		p.Name = p.Username
	}

	person := &types.Person{Name: p.Name, Email: types.Deobfuscate(p.Email), Username: p.Username}
	id, err := r.store.UpsertPerson(ctx, person)
	if err != nil {
		return "", fmt.Errorf("store person %s: %w", p.Name, err)
	}
	r.people[key] = id
	return id, nil
}

// Remember records that externalID now lives in issueID, overriding any
// earlier resolution in this run.
func (r *Resolver) Remember(externalID, issueID string) {
	r.issues[externalID] = issueID
}

// IssueRef resolves an external issue id to a stored issue of the current
// generation: an issue already in it, else the prior generation's issue
// (which is appended to the current generation), else a new stub.
func (r *Resolver) IssueRef(ctx context.Context, externalID string) (string, error) {
	if externalID == "" {
		return "", nil
	}
	if id, ok := r.issues[externalID]; ok {
		return id, nil
	}

	issue, err := r.store.GetIssueByExternalID(ctx, r.gen, externalID)
	if err == nil {
		r.issues[externalID] = issue.ID
		return issue.ID, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	if r.prior != "" {
		issue, err = r.store.GetIssueByExternalID(ctx, r.prior, externalID)
		switch {
		case err == nil:
			if err := r.store.AddIssueSystem(ctx, issue.ID, r.gen); err != nil {
				return "", fmt.Errorf("merge %s into current generation: %w", externalID, err)
			}
			r.stats.Merged++
			r.issues[externalID] = issue.ID
			return issue.ID, nil
		case !errors.Is(err, storage.ErrNotFound):
			return "", err
		}
	}

	stub := &types.Issue{ExternalID: externalID, IssueSystemIDs: []string{r.gen}}
	if err := r.store.CreateIssue(ctx, stub); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Created concurrently; use the winner.
			issue, err := r.store.GetIssueByExternalID(ctx, r.gen, externalID)
			if err != nil {
				return "", err
			}
			r.issues[externalID] = issue.ID
			return issue.ID, nil
		}
		return "", fmt.Errorf("create stub %s: %w", externalID, err)
	}
	r.log.WithFields(logrus.Fields{"issue": externalID, "generation": r.gen}).Debug("created stub for forward reference")
	r.stats.Stubs++
	r.issues[externalID] = stub.ID
	return stub.ID, nil
}

// LinkIssues resolves link targets, parents and event references of the
// given issues once every issue of the run has been stored.
func (r *Resolver) LinkIssues(ctx context.Context, issueIDs []string) error {
	seen := make(map[string]bool, len(issueIDs))
	for _, id := range issueIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.linkIssue(ctx, id); err != nil {
			return fmt.Errorf("link issue %s: %w", id, err)
		}
		if err := r.linkEvents(ctx, id); err != nil {
			return fmt.Errorf("link events of %s: %w", id, err)
		}
	}
	return nil
}

func (r *Resolver) linkIssue(ctx context.Context, id string) error {
	issue, err := r.store.GetIssue(ctx, id)
	if err != nil {
		return err
	}
	changed := false
	for i, link := range issue.IssueLinks {
		if link.TargetExternalID == "" {
			continue
		}
		target, err := r.IssueRef(ctx, link.TargetExternalID)
		if err != nil {
			return err
		}
		if target != link.TargetIssueID {
			issue.IssueLinks[i].TargetIssueID = target
			changed = true
		}
	}
	if issue.ParentExternalID != "" {
		parent, err := r.IssueRef(ctx, issue.ParentExternalID)
		if err != nil {
			return err
		}
		if parent != issue.ParentIssueID {
			issue.ParentIssueID = parent
			changed = true
		}
	}
	if !changed {
		return nil
	}

	// IssueRef may have added generations to this very issue.
	fresh, err := r.store.GetIssue(ctx, id)
	if err != nil {
		return err
	}
	issue.IssueSystemIDs = fresh.IssueSystemIDs
	return r.store.UpdateIssue(ctx, issue)
}

func (r *Resolver) linkEvents(ctx context.Context, issueID string) error {
	events, err := r.store.ListEvents(ctx, issueID)
	if err != nil {
		return err
	}
	for _, e := range events {
		if !e.OldValue.Unresolved() && !e.NewValue.Unresolved() {
			continue
		}
		if err := r.resolveValue(ctx, e.OldValue); err != nil {
			return err
		}
		if err := r.resolveValue(ctx, e.NewValue); err != nil {
			return err
		}
		if err := r.store.UpdateEvent(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) resolveValue(ctx context.Context, v *types.Value) error {
	if !v.Unresolved() {
		return nil
	}
	switch v.Kind {
	case types.ValueIssue:
		id, err := r.IssueRef(ctx, v.ExtRef)
		if err != nil {
			return err
		}
		v.Ref = id
	case types.ValueLink:
		id, err := r.IssueRef(ctx, v.Link.TargetExternalID)
		if err != nil {
			return err
		}
		v.Link.TargetIssueID = id
	}
	return nil
}
