// Package storage defines the persistence contract of the sync engine.
//
// Implementations live in the memory and sqlstore sub-packages; the factory
// sub-package opens the configured one. All write operations are idempotent
// on their natural keys so that a run can be repeated safely.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/smartshark/issuesync/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a unique key is already taken.
var ErrConflict = errors.New("conflict")

// Storage is the store the sync engine writes to.
type Storage interface {
	// Projects
	CreateProject(ctx context.Context, p *types.Project) error
	GetProjectByName(ctx context.Context, name string) (*types.Project, error)
	ListProjects(ctx context.Context) ([]*types.Project, error)

	// Generations
	CreateIssueSystem(ctx context.Context, sys *types.IssueSystem) error
	UpdateIssueSystem(ctx context.Context, sys *types.IssueSystem) error
	// GetPriorIssueSystem returns the newest generation for url collected
	// before the one given by excludeID.
	GetPriorIssueSystem(ctx context.Context, url, excludeID string) (*types.IssueSystem, error)
	// LatestUpdatedAt returns the newest issue update time seen for any
	// generation of url, nil when nothing is stored yet.
	LatestUpdatedAt(ctx context.Context, url string) (*time.Time, error)
	// DeleteGeneration removes every issue, comment and event created for the
	// generation and detaches the generation from issues it was appended to.
	DeleteGeneration(ctx context.Context, generationID string) error

	// Issues
	CreateIssue(ctx context.Context, issue *types.Issue) error
	UpdateIssue(ctx context.Context, issue *types.Issue) error
	GetIssue(ctx context.Context, id string) (*types.Issue, error)
	GetIssueByExternalID(ctx context.Context, generationID, externalID string) (*types.Issue, error)
	AddIssueSystem(ctx context.Context, issueID, generationID string) error
	// RemoveIssueSystem detaches a generation from an issue; a no-op when the
	// issue does not carry it.
	RemoveIssueSystem(ctx context.Context, issueID, generationID string) error
	ListIssuesByGeneration(ctx context.Context, generationID string) ([]*types.Issue, error)

	// People
	UpsertPerson(ctx context.Context, p *types.Person) (string, error)
	GetPerson(ctx context.Context, id string) (*types.Person, error)

	// Comments
	GetComment(ctx context.Context, issueID, externalID string) (*types.Comment, error)
	// InsertComments skips comments whose (issue, external id) already exists
	// and returns the number actually inserted.
	InsertComments(ctx context.Context, comments []*types.Comment) (int, error)
	ListComments(ctx context.Context, issueID string) ([]*types.Comment, error)

	// Events
	GetEvent(ctx context.Context, issueID, externalID string) (*types.Event, error)
	// InsertEvents skips events whose (issue, external id) already exists and
	// returns the number actually inserted.
	InsertEvents(ctx context.Context, events []*types.Event) (int, error)
	UpdateEvent(ctx context.Context, event *types.Event) error
	ListEvents(ctx context.Context, issueID string) ([]*types.Event, error)

	Close() error
}
