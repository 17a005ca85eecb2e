package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/smartshark/issuesync/internal/storage"
	"github.com/smartshark/issuesync/internal/types"
)

const storageScopeName = "github.com/smartshark/issuesync/storage"

// InstrumentedStorage wraps storage.Storage with OTel tracing and metrics.
// Every method gets a span and is counted in issuesync.storage.* metrics.
// Use WrapStorage to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	ops      metric.Int64Counter
	dur      metric.Float64Histogram
	errs     metric.Int64Counter
	inserted metric.Int64Counter
}

// WrapStorage returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapStorage(s storage.Storage) storage.Storage {
	if !Enabled() {
		return s
	}
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("issuesync.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("issuesync.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("issuesync.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	inserted, _ := m.Int64Counter("issuesync.storage.rows_inserted",
		metric.WithDescription("Comments and events actually inserted (duplicates excluded)"),
	)
	return &InstrumentedStorage{
		inner:    s,
		tracer:   Tracer(storageScopeName),
		ops:      ops,
		dur:      dur,
		errs:     errs,
		inserted: inserted,
	}
}

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStorage) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStorage) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

// ── Projects & generations ───────────────────────────────────────────────────

func (s *InstrumentedStorage) CreateProject(ctx context.Context, p *types.Project) error {
	attrs := []attribute.KeyValue{attribute.String("issuesync.project", p.Name)}
	ctx, span, t := s.op(ctx, "CreateProject", attrs...)
	err := s.inner.CreateProject(ctx, p)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) GetProjectByName(ctx context.Context, name string) (*types.Project, error) {
	attrs := []attribute.KeyValue{attribute.String("issuesync.project", name)}
	ctx, span, t := s.op(ctx, "GetProjectByName", attrs...)
	v, err := s.inner.GetProjectByName(ctx, name)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ListProjects(ctx context.Context) ([]*types.Project, error) {
	ctx, span, t := s.op(ctx, "ListProjects")
	v, err := s.inner.ListProjects(ctx)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) CreateIssueSystem(ctx context.Context, sys *types.IssueSystem) error {
	attrs := []attribute.KeyValue{attribute.String("issuesync.tracker.url", sys.URL)}
	ctx, span, t := s.op(ctx, "CreateIssueSystem", attrs...)
	err := s.inner.CreateIssueSystem(ctx, sys)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) UpdateIssueSystem(ctx context.Context, sys *types.IssueSystem) error {
	attrs := []attribute.KeyValue{attribute.String("issuesync.generation", sys.ID)}
	ctx, span, t := s.op(ctx, "UpdateIssueSystem", attrs...)
	err := s.inner.UpdateIssueSystem(ctx, sys)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) GetPriorIssueSystem(ctx context.Context, url, excludeID string) (*types.IssueSystem, error) {
	attrs := []attribute.KeyValue{attribute.String("issuesync.tracker.url", url)}
	ctx, span, t := s.op(ctx, "GetPriorIssueSystem", attrs...)
	v, err := s.inner.GetPriorIssueSystem(ctx, url, excludeID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) LatestUpdatedAt(ctx context.Context, url string) (*time.Time, error) {
	attrs := []attribute.KeyValue{attribute.String("issuesync.tracker.url", url)}
	ctx, span, t := s.op(ctx, "LatestUpdatedAt", attrs...)
	v, err := s.inner.LatestUpdatedAt(ctx, url)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) DeleteGeneration(ctx context.Context, generationID string) error {
	attrs := []attribute.KeyValue{attribute.String("issuesync.generation", generationID)}
	ctx, span, t := s.op(ctx, "DeleteGeneration", attrs...)
	err := s.inner.DeleteGeneration(ctx, generationID)
	s.done(ctx, span, t, err, attrs...)
	return err
}

// ── Issues ───────────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) CreateIssue(ctx context.Context, issue *types.Issue) error {
	attrs := []attribute.KeyValue{attribute.String("issuesync.issue.external_id", issue.ExternalID)}
	ctx, span, t := s.op(ctx, "CreateIssue", attrs...)
	err := s.inner.CreateIssue(ctx, issue)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) UpdateIssue(ctx context.Context, issue *types.Issue) error {
	attrs := []attribute.KeyValue{attribute.String("issuesync.issue.id", issue.ID)}
	ctx, span, t := s.op(ctx, "UpdateIssue", attrs...)
	err := s.inner.UpdateIssue(ctx, issue)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) GetIssue(ctx context.Context, id string) (*types.Issue, error) {
	attrs := []attribute.KeyValue{attribute.String("issuesync.issue.id", id)}
	ctx, span, t := s.op(ctx, "GetIssue", attrs...)
	v, err := s.inner.GetIssue(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) GetIssueByExternalID(ctx context.Context, generationID, externalID string) (*types.Issue, error) {
	attrs := []attribute.KeyValue{
		attribute.String("issuesync.generation", generationID),
		attribute.String("issuesync.issue.external_id", externalID),
	}
	ctx, span, t := s.op(ctx, "GetIssueByExternalID", attrs...)
	v, err := s.inner.GetIssueByExternalID(ctx, generationID, externalID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) AddIssueSystem(ctx context.Context, issueID, generationID string) error {
	attrs := []attribute.KeyValue{
		attribute.String("issuesync.issue.id", issueID),
		attribute.String("issuesync.generation", generationID),
	}
	ctx, span, t := s.op(ctx, "AddIssueSystem", attrs...)
	err := s.inner.AddIssueSystem(ctx, issueID, generationID)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) RemoveIssueSystem(ctx context.Context, issueID, generationID string) error {
	attrs := []attribute.KeyValue{
		attribute.String("issuesync.issue.id", issueID),
		attribute.String("issuesync.generation", generationID),
	}
	ctx, span, t := s.op(ctx, "RemoveIssueSystem", attrs...)
	err := s.inner.RemoveIssueSystem(ctx, issueID, generationID)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) ListIssuesByGeneration(ctx context.Context, generationID string) ([]*types.Issue, error) {
	attrs := []attribute.KeyValue{attribute.String("issuesync.generation", generationID)}
	ctx, span, t := s.op(ctx, "ListIssuesByGeneration", attrs...)
	v, err := s.inner.ListIssuesByGeneration(ctx, generationID)
	if err == nil {
		span.SetAttributes(attribute.Int("issuesync.result.count", len(v)))
	}
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── People ───────────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) UpsertPerson(ctx context.Context, p *types.Person) (string, error) {
	ctx, span, t := s.op(ctx, "UpsertPerson")
	v, err := s.inner.UpsertPerson(ctx, p)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) GetPerson(ctx context.Context, id string) (*types.Person, error) {
	ctx, span, t := s.op(ctx, "GetPerson")
	v, err := s.inner.GetPerson(ctx, id)
	s.done(ctx, span, t, err)
	return v, err
}

// ── Comments & events ────────────────────────────────────────────────────────

func (s *InstrumentedStorage) GetComment(ctx context.Context, issueID, externalID string) (*types.Comment, error) {
	attrs := []attribute.KeyValue{attribute.String("issuesync.issue.id", issueID)}
	ctx, span, t := s.op(ctx, "GetComment", attrs...)
	v, err := s.inner.GetComment(ctx, issueID, externalID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) InsertComments(ctx context.Context, comments []*types.Comment) (int, error) {
	attrs := []attribute.KeyValue{attribute.Int("issuesync.batch.size", len(comments))}
	ctx, span, t := s.op(ctx, "InsertComments", attrs...)
	n, err := s.inner.InsertComments(ctx, comments)
	s.inserted.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", "comment")))
	s.done(ctx, span, t, err, attrs...)
	return n, err
}

func (s *InstrumentedStorage) ListComments(ctx context.Context, issueID string) ([]*types.Comment, error) {
	attrs := []attribute.KeyValue{attribute.String("issuesync.issue.id", issueID)}
	ctx, span, t := s.op(ctx, "ListComments", attrs...)
	v, err := s.inner.ListComments(ctx, issueID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) GetEvent(ctx context.Context, issueID, externalID string) (*types.Event, error) {
	attrs := []attribute.KeyValue{attribute.String("issuesync.issue.id", issueID)}
	ctx, span, t := s.op(ctx, "GetEvent", attrs...)
	v, err := s.inner.GetEvent(ctx, issueID, externalID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) InsertEvents(ctx context.Context, events []*types.Event) (int, error) {
	attrs := []attribute.KeyValue{attribute.Int("issuesync.batch.size", len(events))}
	ctx, span, t := s.op(ctx, "InsertEvents", attrs...)
	n, err := s.inner.InsertEvents(ctx, events)
	s.inserted.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", "event")))
	s.done(ctx, span, t, err, attrs...)
	return n, err
}

func (s *InstrumentedStorage) UpdateEvent(ctx context.Context, event *types.Event) error {
	attrs := []attribute.KeyValue{attribute.String("issuesync.issue.id", event.IssueID)}
	ctx, span, t := s.op(ctx, "UpdateEvent", attrs...)
	err := s.inner.UpdateEvent(ctx, event)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) ListEvents(ctx context.Context, issueID string) ([]*types.Event, error) {
	attrs := []attribute.KeyValue{attribute.String("issuesync.issue.id", issueID)}
	ctx, span, t := s.op(ctx, "ListEvents", attrs...)
	v, err := s.inner.ListEvents(ctx, issueID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}

var _ storage.Storage = (*InstrumentedStorage)(nil)
