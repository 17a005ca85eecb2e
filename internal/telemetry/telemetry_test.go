package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartshark/issuesync/internal/storage/memory"
	"github.com/smartshark/issuesync/internal/types"
)

func TestWrapStorageDisabled(t *testing.T) {
	t.Setenv("ISSUESYNC_OTEL_ENABLED", "")
	s := memory.New()
	assert.Same(t, s, WrapStorage(s))
}

func TestWrapStorageEnabled(t *testing.T) {
	t.Setenv("ISSUESYNC_OTEL_ENABLED", "true")
	ctx := context.Background()
	wrapped := WrapStorage(memory.New())
	require.IsType(t, &InstrumentedStorage{}, wrapped)

	p := &types.Project{Name: "otel"}
	require.NoError(t, wrapped.CreateProject(ctx, p))
	got, err := wrapped.GetProjectByName(ctx, "otel")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = wrapped.GetIssue(ctx, "missing")
	assert.Error(t, err)
}

func TestInitDisabledInstallsNoop(t *testing.T) {
	t.Setenv("ISSUESYNC_OTEL_ENABLED", "false")
	require.NoError(t, Init(context.Background(), "issuesync", "test"))
	_, span := Tracer("").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	Shutdown(context.Background())
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Empty(t, firstNonEmpty("", ""))
}
