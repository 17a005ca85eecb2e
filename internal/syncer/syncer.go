// Package syncer drives one reconciliation pass of a tracker into the store:
// it opens a new generation, pages through the issues changed since the last
// run, persists every issue with its comments and events, links references
// and removes the generation again when the run fails.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/smartshark/issuesync/internal/diff"
	"github.com/smartshark/issuesync/internal/identity"
	"github.com/smartshark/issuesync/internal/mapper"
	"github.com/smartshark/issuesync/internal/reconstruct"
	"github.com/smartshark/issuesync/internal/storage"
	"github.com/smartshark/issuesync/internal/telemetry"
	"github.com/smartshark/issuesync/internal/tracker"
	"github.com/smartshark/issuesync/internal/types"
)

const scopeName = "github.com/smartshark/issuesync/syncer"

// DefaultPageSize is used when Options.PageSize is zero.
const DefaultPageSize = 50

// ErrUnknownProject is returned when the run names a project the store does
// not know.
var ErrUnknownProject = errors.New("unknown project")

// Options configures an Engine.
type Options struct {
	Project string
	Adapter tracker.Adapter
	Tracker *tracker.Config
	Store   storage.Storage

	// Since overrides the cursor derived from the stored issues.
	Since *time.Time

	PageSize int
	Log      logrus.FieldLogger

	// Now returns the collection time of the generation. Defaults to time.Now.
	Now func() time.Time
}

// Engine runs one project against one tracker.
type Engine struct {
	opts Options
	log  logrus.FieldLogger

	// Callbacks for progress reporting (optional).
	OnMessage func(msg string)
	OnWarning func(msg string)
	// OnState is called on every state transition.
	OnState func(State)

	state State
}

// New returns an engine for opts.
func New(opts Options) *Engine {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	url := ""
	if opts.Tracker != nil {
		url = opts.Tracker.URL
	}
	return &Engine{
		opts: opts,
		log:  log.WithFields(logrus.Fields{"project": opts.Project, "tracker": url}),
	}
}

// State returns the state the engine is in.
func (e *Engine) State() State { return e.state }

func (e *Engine) setState(s State) {
	e.state = s
	e.log.WithField("state", s.String()).Debug("sync state")
	if e.OnState != nil {
		e.OnState(s)
	}
}

func (e *Engine) msg(format string, args ...any) {
	m := fmt.Sprintf(format, args...)
	e.log.Info(m)
	if e.OnMessage != nil {
		e.OnMessage(m)
	}
}

func (e *Engine) warn(format string, args ...any) {
	m := fmt.Sprintf(format, args...)
	e.log.Warn(m)
	if e.OnWarning != nil {
		e.OnWarning(m)
	}
}

// run holds the state of a single pass.
type run struct {
	*Engine
	adapter  tracker.Adapter
	store    storage.Storage
	schema   *tracker.Schema
	gen      *types.IssueSystem
	prior    *types.IssueSystem
	resolver *identity.Resolver
	mapper   *mapper.Mapper
	walker   *reconstruct.Reconstructor
	changes  *diff.Tracker

	processed []string
	latest    *time.Time
	stats     Stats

	tracer  trace.Tracer
	issuesC metric.Int64Counter
	rowsC   metric.Int64Counter
}

// Run executes the pass. Cancelling ctx fails the run; the generation it
// created is removed before Run returns.
func (e *Engine) Run(ctx context.Context) Outcome {
	out := Outcome{Project: e.opts.Project}
	if e.opts.Tracker != nil {
		out.URL = e.opts.Tracker.URL
	}
	e.state = StateInit

	tracer := telemetry.Tracer(scopeName)
	ctx, span := tracer.Start(ctx, "issuesync.run", trace.WithAttributes(
		attribute.String("issuesync.project", out.Project),
		attribute.String("issuesync.tracker.url", out.URL),
	))
	defer span.End()

	r, err := e.init(ctx, tracer)
	if r != nil {
		out.GenerationID = r.gen.ID
	}
	if err == nil {
		out.Kind, err = r.execute(ctx)
		out.Stats = r.finalStats()
	}
	if err != nil {
		out.Kind, out.Err = Failed, err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.setState(StateFailed)
		if r != nil {
			r.cleanup(ctx)
		}
		e.log.WithError(err).Error("sync failed")
		return out
	}
	span.SetAttributes(attribute.String("issuesync.outcome", out.Kind.String()))
	e.setState(StateDone)
	return out
}

// init validates the adapter, finds the project and opens the generation.
func (e *Engine) init(ctx context.Context, tracer trace.Tracer) (*run, error) {
	e.setState(StateInit)
	if e.opts.Adapter == nil || e.opts.Store == nil || e.opts.Tracker == nil {
		return nil, errors.New("engine needs an adapter, a store and a tracker config")
	}
	if err := e.opts.Adapter.Init(ctx, e.opts.Tracker); err != nil {
		return nil, fmt.Errorf("init %s adapter: %w", e.opts.Adapter.Name(), err)
	}

	store := e.opts.Store
	project, err := store.GetProjectByName(ctx, e.opts.Project)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProject, e.opts.Project)
	}
	if err != nil {
		return nil, fmt.Errorf("look up project: %w", err)
	}

	gen := &types.IssueSystem{
		ProjectID:      project.ID,
		URL:            e.opts.Tracker.URL,
		CollectionDate: e.opts.Now().UTC(),
	}
	if err := store.CreateIssueSystem(ctx, gen); err != nil {
		return nil, fmt.Errorf("create generation: %w", err)
	}
	r := &run{Engine: e, adapter: e.opts.Adapter, store: store, gen: gen, tracer: tracer}
	e.log = e.log.WithField("generation", gen.ID)

	r.prior, err = store.GetPriorIssueSystem(ctx, gen.URL, gen.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		r.prior = nil
	case err != nil:
		return r, fmt.Errorf("look up prior generation: %w", err)
	}
	priorID := ""
	if r.prior != nil {
		priorID = r.prior.ID
	}

	r.schema = e.opts.Adapter.Schema()
	r.resolver = identity.New(identity.Options{
		Store:             store,
		Users:             e.opts.Adapter,
		Schema:            r.schema,
		GenerationID:      gen.ID,
		PriorGenerationID: priorID,
		Log:               e.log,
	})
	r.mapper = mapper.New(r.schema, r.resolver, e.log)
	r.walker = reconstruct.New(store, r.schema, r.resolver, e.log)
	r.changes = diff.NewTracker()

	meter := telemetry.Meter(scopeName)
	r.issuesC, _ = meter.Int64Counter("issuesync.sync.issues",
		metric.WithDescription("Issues processed by outcome"))
	r.rowsC, _ = meter.Int64Counter("issuesync.sync.rows",
		metric.WithDescription("Comments and events written"))
	return r, nil
}

func (r *run) execute(ctx context.Context) (OutcomeKind, error) {
	since := r.opts.Since
	if since == nil {
		latest, err := r.store.LatestUpdatedAt(ctx, r.gen.URL)
		if err != nil {
			return Failed, fmt.Errorf("resolve cursor: %w", err)
		}
		since = latest
	}
	r.setState(StateCursorResolved)
	if since != nil {
		r.msg("Collecting issues updated since %s", since.UTC().Format(time.RFC3339))
	} else {
		r.msg("Collecting all issues")
	}

	r.setState(StatePaging)
	cursor := tracker.Cursor{Since: since, Page: 1}
	for {
		if err := ctx.Err(); err != nil {
			return Failed, err
		}
		page, err := r.fetchPage(ctx, cursor)
		if err != nil {
			return Failed, err
		}
		if len(page.Issues) == 0 {
			break
		}
		r.stats.Pages++
		for _, raw := range page.Issues {
			if err := r.processIssue(ctx, raw); err != nil {
				return Failed, fmt.Errorf("issue %s: %w", raw.ExternalID, err)
			}
		}
		cursor = page.Next
	}

	if r.stats.Pages == 0 {
		r.msg("No issues to collect")
		// An empty generation would hide the prior one from the next run.
		if err := r.store.DeleteGeneration(context.WithoutCancel(ctx), r.gen.ID); err != nil {
			return Failed, fmt.Errorf("drop empty generation: %w", err)
		}
		return NothingToDo, nil
	}

	if err := r.carryOver(ctx); err != nil {
		return Failed, fmt.Errorf("carry over prior issues: %w", err)
	}

	r.setState(StateLinking)
	if err := r.resolver.LinkIssues(ctx, r.processed); err != nil {
		return Failed, fmt.Errorf("link issues: %w", err)
	}

	r.gen.LastUpdated = r.latest
	if err := r.store.UpdateIssueSystem(ctx, r.gen); err != nil {
		return Failed, fmt.Errorf("update generation: %w", err)
	}
	r.msg("Collected %d issues (%d new, %d updated, %d copied, %d carried over, %d skipped)",
		r.stats.Issues, r.stats.Created, r.stats.Updated, r.stats.Copied, r.stats.Appended+r.stats.Carried, r.stats.Skipped)
	return Completed, nil
}

// carryOver appends the current generation to every issue of the prior
// generation the tracker did not return this run, so that the next run still
// finds them. Issues the run skipped keep their prior version the same way.
func (r *run) carryOver(ctx context.Context) error {
	if r.prior == nil {
		return nil
	}
	current, err := r.store.ListIssuesByGeneration(ctx, r.gen.ID)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(current))
	for _, issue := range current {
		present[issue.ExternalID] = true
	}
	prior, err := r.store.ListIssuesByGeneration(ctx, r.prior.ID)
	if err != nil {
		return err
	}
	for _, issue := range prior {
		if present[issue.ExternalID] {
			continue
		}
		if err := r.store.AddIssueSystem(ctx, issue.ID, r.gen.ID); err != nil {
			return fmt.Errorf("issue %s: %w", issue.ExternalID, err)
		}
		present[issue.ExternalID] = true
		r.stats.Carried++
	}
	r.log.WithField("carried", r.stats.Carried).Debug("carried over issues not returned by the tracker")
	return nil
}

func (r *run) fetchPage(ctx context.Context, cursor tracker.Cursor) (*tracker.Page, error) {
	ctx, span := r.tracer.Start(ctx, "issuesync.page", trace.WithAttributes(
		attribute.Int("issuesync.page", cursor.Page),
		attribute.Int("issuesync.offset", cursor.Offset),
	))
	defer span.End()
	page, err := r.adapter.FetchIssuePage(ctx, cursor, r.opts.PageSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("fetch issue page: %w", err)
	}
	if page == nil {
		page = &tracker.Page{}
	}
	span.SetAttributes(attribute.Int("issuesync.batch.size", len(page.Issues)))
	return page, nil
}

// cleanup removes everything stored under the current generation. It runs
// detached from ctx so that a cancelled run still cleans up.
func (r *run) cleanup(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if err := r.store.DeleteGeneration(ctx, r.gen.ID); err != nil {
		r.log.WithError(err).Error("could not remove data of failed run")
		return
	}
	r.warn("Removed data of generation %s", r.gen.ID)
}

func (r *run) finalStats() Stats {
	s := r.stats
	rs := r.resolver.Stats()
	s.People, s.Stubs, s.Merged = rs.People, rs.Stubs, rs.Merged
	s.Changed = r.changes.Count()
	return s
}

// skippable reports whether a per-issue tracker failure should skip the issue
// instead of failing the run. Issues deleted or hidden since the search
// returned them are skipped too.
func skippable(err error) bool {
	var httpErr *tracker.HTTPError
	return errors.Is(err, tracker.ErrUnavailable) || errors.Is(err, tracker.ErrNotFound) ||
		errors.As(err, &httpErr)
}
