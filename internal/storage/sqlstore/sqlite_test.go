package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smartshark/issuesync/internal/storage"
	"github.com/smartshark/issuesync/internal/storage/storagetest"
	"github.com/smartshark/issuesync/internal/types"
)

func openSQLiteStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "issues.db")})
	require.NoError(t, err)
	return s
}

func TestSQLiteStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage { return openSQLiteStore(t) })
}

func TestSQLiteInMemory(t *testing.T) {
	s, err := Open(context.Background(), Options{Driver: DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	defer s.Close()

	p := &types.Project{Name: "mem"}
	require.NoError(t, s.CreateProject(context.Background(), p))
	got, err := s.GetProjectByName(context.Background(), "mem")
	require.NoError(t, err)
	require.Equal(t, p.ID, got.ID)
}

func TestReopenKeepsSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "issues.db")

	s, err := Open(ctx, Options{Driver: DriverSQLite, DSN: path})
	require.NoError(t, err)
	require.NoError(t, s.CreateProject(ctx, &types.Project{Name: "kept"}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "second close is a no-op")

	s, err = Open(ctx, Options{Driver: DriverSQLite, DSN: path})
	require.NoError(t, err)
	defer s.Close()
	projects, err := s.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	require.Equal(t, "kept", projects[0].Name)
}

func TestUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "oracle"})
	require.Error(t, err)
}
