package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartshark/issuesync/internal/storage/memory"
	"github.com/smartshark/issuesync/internal/storage/sqlstore"
)

func TestBackends(t *testing.T) {
	assert.Equal(t, []string{"dolt", "memory", "mysql", "sqlite"}, Backends())
}

func TestNewMemory(t *testing.T) {
	s, err := New(context.Background(), "memory", "")
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &memory.MemoryStorage{}, s)
}

func TestNewDefaultsToSQLite(t *testing.T) {
	s, err := New(context.Background(), "", filepath.Join(t.TempDir(), "issues.db"))
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &sqlstore.Store{}, s)
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), "postgres", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage backend: postgres")
}
