package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/smartshark/issuesync/internal/diff"
	"github.com/smartshark/issuesync/internal/storage"
	"github.com/smartshark/issuesync/internal/tracker"
	"github.com/smartshark/issuesync/internal/types"
)

// located is the persisted version of an issue and where it was found.
type located struct {
	issue   *types.Issue
	current bool // carries the current generation
}

// shared reports whether the issue also belongs to older generations, in
// which case it must not be rewritten in place.
func (l located) shared(gen string) bool {
	if l.issue == nil {
		return false
	}
	for _, id := range l.issue.IssueSystemIDs {
		if id != gen {
			return true
		}
	}
	return false
}

func (r *run) locate(ctx context.Context, externalID string) (located, error) {
	issue, err := r.store.GetIssueByExternalID(ctx, r.gen.ID, externalID)
	if err == nil {
		return located{issue: issue, current: true}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return located{}, err
	}
	if r.prior == nil {
		return located{}, nil
	}
	issue, err = r.store.GetIssueByExternalID(ctx, r.prior.ID, externalID)
	switch {
	case err == nil:
		return located{issue: issue}, nil
	case errors.Is(err, storage.ErrNotFound):
		return located{}, nil
	default:
		return located{}, err
	}
}

// processIssue brings one tracker issue into the current generation. Tracker
// failures while collecting it, user lookups included, skip the issue.
func (r *run) processIssue(ctx context.Context, raw tracker.RawIssue) (err error) {
	ctx, span := r.tracer.Start(ctx, "issuesync.issue",
		trace.WithAttributes(attribute.String("issuesync.issue.external_id", raw.ExternalID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	log := r.log.WithField("issue", raw.ExternalID)

	err = r.collect(ctx, log, raw)
	if err == nil || ctx.Err() != nil || !skippable(err) {
		return err
	}
	r.stats.Skipped++
	r.issuesC.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "skipped")))
	log.WithError(err).Error("skipping issue the tracker could not deliver")
	return nil
}

func (r *run) collect(ctx context.Context, log logrus.FieldLogger, raw tracker.RawIssue) error {
	base, err := r.locate(ctx, raw.ExternalID)
	if err != nil {
		return fmt.Errorf("locate: %w", err)
	}

	// The issue is rebuilt from the snapshot alone so that values removed at
	// the tracker do not survive from the stored version.
	working := &types.Issue{ExternalID: raw.ExternalID}
	if base.issue != nil {
		working.ID = base.issue.ID
	}
	if err := r.mapper.Map(ctx, raw, working); err != nil {
		return err
	}
	history, err := r.adapter.FetchHistory(ctx, raw)
	if err != nil {
		return err
	}
	rawComments, err := r.adapter.FetchComments(ctx, raw)
	if err != nil {
		return err
	}
	if err := r.persist(ctx, log, base, working, history, rawComments); err != nil {
		return err
	}
	if working.UpdatedAt != nil && (r.latest == nil || working.UpdatedAt.After(*r.latest)) {
		t := *working.UpdatedAt
		r.latest = &t
	}
	return nil
}

func (r *run) persist(ctx context.Context, log logrus.FieldLogger, base located, working *types.Issue,
	history []tracker.RawHistoryEntry, rawComments []tracker.RawComment) error {
	walk, err := r.walker.Walk(ctx, working, history)
	if err != nil {
		return fmt.Errorf("reconstruct events: %w", err)
	}
	comments, changedComments, err := r.buildComments(ctx, base.issue, rawComments)
	if err != nil {
		return err
	}

	key := working.ExternalID
	r.changes.Mark(key, diff.IssueChanged(base.issue, working))
	r.changes.Mark(key, walk.Changed())
	r.changes.Mark(key, len(comments) > 0 || len(changedComments) > 0)
	changed := r.changes.Changed(key)
	if base.issue != nil && changed {
		log.WithField("fields", diff.IssueChanges(base.issue, working)).Debug("issue changed")
	}

	var (
		id     string
		result string
	)
	switch {
	case base.issue == nil:
		working.ID = ""
		working.IssueSystemIDs = []string{r.gen.ID}
		if err := r.store.CreateIssue(ctx, working); err != nil {
			return fmt.Errorf("create: %w", err)
		}
		id, result = working.ID, "created"
		r.stats.Created++

	case !changed && base.current:
		id, result = base.issue.ID, "unchanged"
		r.stats.Unchanged++

	case !changed:
		if err := r.store.AddIssueSystem(ctx, base.issue.ID, r.gen.ID); err != nil {
			return fmt.Errorf("carry over: %w", err)
		}
		id, result = base.issue.ID, "appended"
		r.stats.Appended++

	case base.issue.IsStub():
		// A placeholder from a forward reference is completed in place;
		// links stored by earlier runs point at it.
		working.IssueSystemIDs = base.issue.IssueSystemIDs
		if err := r.store.UpdateIssue(ctx, working); err != nil {
			return fmt.Errorf("complete stub: %w", err)
		}
		if err := r.store.AddIssueSystem(ctx, working.ID, r.gen.ID); err != nil {
			return fmt.Errorf("complete stub: %w", err)
		}
		id, result = working.ID, "completed stub"
		r.stats.Updated++

	case base.current && !base.shared(r.gen.ID):
		working.IssueSystemIDs = base.issue.IssueSystemIDs
		if err := r.store.UpdateIssue(ctx, working); err != nil {
			return fmt.Errorf("update: %w", err)
		}
		for _, e := range walk.Updated {
			if err := r.store.UpdateEvent(ctx, e); err != nil {
				return fmt.Errorf("update event %s: %w", e.ExternalID, err)
			}
		}
		id, result = working.ID, "updated"
		r.stats.Updated++

	default:
		// The stored record belongs to older generations too; those keep it
		// and the current generation gets its own copy.
		if id, err = r.copyIssue(ctx, base, working, changedComments, walk.Updated); err != nil {
			return err
		}
		result = "copied"
		r.stats.Copied++
	}

	for _, c := range comments {
		c.IssueID = id
	}
	for _, e := range walk.Events {
		e.IssueID = id
	}
	if err := r.insertChildren(ctx, comments, walk.Events); err != nil {
		return err
	}

	r.processed = append(r.processed, id)
	r.stats.Issues++
	r.issuesC.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	log.WithFields(logrus.Fields{
		"result":         result,
		"events":         len(walk.Events),
		"events_changed": len(walk.Updated),
		"comments":       len(comments),
	}).Debug("issue stored")
	return nil
}

// buildComments returns the comments not stored under base yet, and the
// stored comments whose content changed at the tracker.
func (r *run) buildComments(ctx context.Context, base *types.Issue, raw []tracker.RawComment) (fresh, changed []*types.Comment, err error) {
	for _, rc := range raw {
		c := &types.Comment{ExternalID: rc.ExternalID, CreatedAt: rc.CreatedAt, Body: rc.Body}
		if rc.Author != nil {
			if c.AuthorID, err = r.resolver.Person(ctx, *rc.Author); err != nil {
				return nil, nil, fmt.Errorf("comment %s author: %w", rc.ExternalID, err)
			}
		}
		if base == nil {
			fresh = append(fresh, c)
			continue
		}
		stored, err := r.store.GetComment(ctx, base.ID, rc.ExternalID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			fresh = append(fresh, c)
		case err != nil:
			return nil, nil, fmt.Errorf("look up comment %s: %w", rc.ExternalID, err)
		case diff.CommentChanged(stored, c):
			changed = append(changed, c)
		}
	}
	return fresh, changed, nil
}

// copyIssue stores working as a new record of the current generation,
// carrying over the comments and events of the stored version. Changed
// comments and events replace their stored versions in the copy.
func (r *run) copyIssue(ctx context.Context, base located, working *types.Issue,
	changedComments []*types.Comment, changedEvents []*types.Event) (string, error) {
	old := base.issue
	if base.current {
		if err := r.store.RemoveIssueSystem(ctx, old.ID, r.gen.ID); err != nil {
			return "", fmt.Errorf("detach generation: %w", err)
		}
	}
	working.ID = ""
	working.IssueSystemIDs = []string{r.gen.ID}
	if err := r.store.CreateIssue(ctx, working); err != nil {
		return "", fmt.Errorf("create copy: %w", err)
	}
	r.resolver.Remember(working.ExternalID, working.ID)

	replaced := make(map[string]*types.Comment, len(changedComments))
	for _, c := range changedComments {
		replaced[c.ExternalID] = c
	}
	storedComments, err := r.store.ListComments(ctx, old.ID)
	if err != nil {
		return "", fmt.Errorf("list comments: %w", err)
	}
	comments := make([]*types.Comment, 0, len(storedComments))
	for _, c := range storedComments {
		cp := *c
		if nc, ok := replaced[c.ExternalID]; ok {
			cp = *nc
		}
		cp.ID, cp.IssueID = "", working.ID
		comments = append(comments, &cp)
	}
	storedEvents, err := r.store.ListEvents(ctx, old.ID)
	if err != nil {
		return "", fmt.Errorf("list events: %w", err)
	}
	updated := make(map[string]*types.Event, len(changedEvents))
	for _, e := range changedEvents {
		updated[e.ExternalID] = e
	}
	events := make([]*types.Event, 0, len(storedEvents))
	for _, e := range storedEvents {
		if ne, ok := updated[e.ExternalID]; ok {
			e = ne
		}
		cp := e.Clone()
		cp.ID, cp.IssueID = "", working.ID
		events = append(events, cp)
	}
	if err := r.insertChildren(ctx, comments, events); err != nil {
		return "", fmt.Errorf("copy history: %w", err)
	}
	return working.ID, nil
}

func (r *run) insertChildren(ctx context.Context, comments []*types.Comment, events []*types.Event) error {
	if len(comments) > 0 {
		n, err := r.store.InsertComments(ctx, comments)
		if err != nil {
			return fmt.Errorf("insert comments: %w", err)
		}
		if n < len(comments) {
			r.log.WithField("skipped", len(comments)-n).Debug("comments already synced")
		}
		r.stats.Comments += n
		r.rowsC.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", "comment")))
	}
	if len(events) > 0 {
		n, err := r.store.InsertEvents(ctx, events)
		if err != nil {
			return fmt.Errorf("insert events: %w", err)
		}
		if n < len(events) {
			r.log.WithField("skipped", len(events)-n).Debug("events already synced")
		}
		r.stats.Events += n
		r.rowsC.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", "event")))
	}
	return nil
}
