package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/smartshark/issuesync/internal/storage"
	"github.com/smartshark/issuesync/internal/types"
)

const issueColumns = `id, external_id, title, description, status, resolution, issue_type, priority,
	environment, platform, created_at, updated_at, creator_id, reporter_id, assignee_id,
	parent_issue_id, parent_external_id, affects_versions, fix_versions, components, labels,
	issue_links, original_time_estimate, is_pull_request`

// issueArgs returns the column values of issueColumns in order.
func issueArgs(issue *types.Issue) ([]any, error) {
	var encoded [5]sql.NullString
	for i, v := range []any{issue.AffectsVersions, issue.FixVersions, issue.Components, issue.Labels, issue.IssueLinks} {
		enc, err := encodeJSON(v)
		if err != nil {
			return nil, fmt.Errorf("encode issue %s: %w", issue.ExternalID, err)
		}
		encoded[i] = enc
	}
	var estimate sql.NullInt64
	if issue.OriginalTimeEstimate != nil {
		estimate = sql.NullInt64{Int64: *issue.OriginalTimeEstimate, Valid: true}
	}
	return []any{
		issue.ID, issue.ExternalID, issue.Title, issue.Description, issue.Status, issue.Resolution,
		issue.IssueType, issue.Priority, issue.Environment, issue.Platform,
		formatTime(issue.CreatedAt), formatTime(issue.UpdatedAt),
		issue.CreatorID, issue.ReporterID, issue.AssigneeID,
		issue.ParentIssueID, issue.ParentExternalID,
		encoded[0], encoded[1], encoded[2], encoded[3], encoded[4],
		estimate, issue.IsPullRequest,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(row rowScanner) (*types.Issue, error) {
	var (
		issue                                          types.Issue
		title, desc, status, resolution, issueType     sql.NullString
		priority, environment, platform                sql.NullString
		createdAt, updatedAt                           sql.NullString
		creator, reporter, assignee, parent, parentExt sql.NullString
		affects, fixes, components, labels, links      sql.NullString
		estimate                                       sql.NullInt64
	)
	if err := row.Scan(&issue.ID, &issue.ExternalID, &title, &desc, &status, &resolution, &issueType,
		&priority, &environment, &platform, &createdAt, &updatedAt, &creator, &reporter, &assignee,
		&parent, &parentExt, &affects, &fixes, &components, &labels, &links, &estimate,
		&issue.IsPullRequest); err != nil {
		return nil, err
	}
	issue.Title, issue.Description, issue.Status = title.String, desc.String, status.String
	issue.Resolution, issue.IssueType, issue.Priority = resolution.String, issueType.String, priority.String
	issue.Environment, issue.Platform = environment.String, platform.String
	issue.CreatorID, issue.ReporterID, issue.AssigneeID = creator.String, reporter.String, assignee.String
	issue.ParentIssueID, issue.ParentExternalID = parent.String, parentExt.String

	var err error
	if issue.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if issue.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		src sql.NullString
		dst any
	}{
		{affects, &issue.AffectsVersions},
		{fixes, &issue.FixVersions},
		{components, &issue.Components},
		{labels, &issue.Labels},
		{links, &issue.IssueLinks},
	} {
		if err := decodeJSON(f.src, f.dst); err != nil {
			return nil, fmt.Errorf("decode issue %s: %w", issue.ID, err)
		}
	}
	if estimate.Valid {
		n := estimate.Int64
		issue.OriginalTimeEstimate = &n
	}
	return &issue, nil
}

// CreateIssue inserts the issue and its generation memberships.
func (s *Store) CreateIssue(ctx context.Context, issue *types.Issue) error {
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	args, err := issueArgs(issue)
	if err != nil {
		return err
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		for _, gen := range issue.IssueSystemIDs {
			var n int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM issue_generations WHERE generation_id = ? AND external_id = ?`,
				gen, issue.ExternalID).Scan(&n); err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("issue %s already exists in %s: %w", issue.ExternalID, gen, storage.ErrConflict)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO issues (`+issueColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			args...); err != nil {
			return err
		}
		return writeGenerations(ctx, tx, issue)
	})
	if errors.Is(err, storage.ErrConflict) {
		return err
	}
	return wrapDBError("create issue", err)
}

func writeGenerations(ctx context.Context, tx *sql.Tx, issue *types.Issue) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM issue_generations WHERE issue_id = ?`, issue.ID); err != nil {
		return err
	}
	for i, gen := range issue.IssueSystemIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO issue_generations (issue_id, generation_id, external_id, sort_order) VALUES (?, ?, ?, ?)`,
			issue.ID, gen, issue.ExternalID, i); err != nil {
			return err
		}
	}
	return nil
}

// UpdateIssue replaces every column of the issue and its memberships.
func (s *Store) UpdateIssue(ctx context.Context, issue *types.Issue) error {
	args, err := issueArgs(issue)
	if err != nil {
		return err
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE issues SET external_id = ?, title = ?, description = ?,
			status = ?, resolution = ?, issue_type = ?, priority = ?, environment = ?, platform = ?,
			created_at = ?, updated_at = ?, creator_id = ?, reporter_id = ?, assignee_id = ?,
			parent_issue_id = ?, parent_external_id = ?, affects_versions = ?, fix_versions = ?,
			components = ?, labels = ?, issue_links = ?, original_time_estimate = ?, is_pull_request = ?
			WHERE id = ?`, append(args[1:], issue.ID)...)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			// MySQL reports zero affected rows for no-op updates.
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE id = ?`, issue.ID).Scan(&exists); err != nil {
				return err
			}
			if exists == 0 {
				return sql.ErrNoRows
			}
		}
		return writeGenerations(ctx, tx, issue)
	})
	return wrapDBError("update issue "+issue.ID, err)
}

// GetIssue loads an issue with its generation ids.
func (s *Store) GetIssue(ctx context.Context, id string) (*types.Issue, error) {
	var issue *types.Issue
	err := s.withRetry(ctx, func() error {
		var err error
		issue, err = scanIssue(s.db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = ?`, id))
		return err
	})
	if err != nil {
		return nil, wrapDBError("get issue "+id, err)
	}
	if issue.IssueSystemIDs, err = s.generationsOf(ctx, id); err != nil {
		return nil, err
	}
	return issue, nil
}

func (s *Store) generationsOf(ctx context.Context, issueID string) ([]string, error) {
	rows, err := s.queryContext(ctx,
		`SELECT generation_id FROM issue_generations WHERE issue_id = ? ORDER BY sort_order`, issueID)
	if err != nil {
		return nil, wrapDBError("list generations", err)
	}
	defer rows.Close()
	var gens []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, wrapDBError("scan generation", err)
		}
		gens = append(gens, g)
	}
	return gens, wrapDBError("list generations", rows.Err())
}

// GetIssueByExternalID finds the issue carrying externalID in a generation.
func (s *Store) GetIssueByExternalID(ctx context.Context, generationID, externalID string) (*types.Issue, error) {
	var id string
	err := s.withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT issue_id FROM issue_generations WHERE generation_id = ? AND external_id = ?`,
			generationID, externalID).Scan(&id)
	})
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get issue %s in %s", externalID, generationID), err)
	}
	return s.GetIssue(ctx, id)
}

// AddIssueSystem appends a generation to an issue; a no-op when present.
func (s *Store) AddIssueSystem(ctx context.Context, issueID, generationID string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var externalID string
		if err := tx.QueryRowContext(ctx, `SELECT external_id FROM issues WHERE id = ?`, issueID).Scan(&externalID); err != nil {
			return err
		}
		var next int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(sort_order), -1) + 1 FROM issue_generations WHERE issue_id = ?`,
			issueID).Scan(&next); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.dialect.insertIgnore+
			` INTO issue_generations (issue_id, generation_id, external_id, sort_order) VALUES (?, ?, ?, ?)`,
			issueID, generationID, externalID, next)
		return err
	})
	return wrapDBError("add issue system to "+issueID, err)
}

func (s *Store) RemoveIssueSystem(ctx context.Context, issueID, generationID string) error {
	_, err := s.execContext(ctx,
		`DELETE FROM issue_generations WHERE issue_id = ? AND generation_id = ?`, issueID, generationID)
	return wrapDBError("remove issue system from "+issueID, err)
}

// ListIssuesByGeneration returns every issue of a generation.
func (s *Store) ListIssuesByGeneration(ctx context.Context, generationID string) ([]*types.Issue, error) {
	rows, err := s.queryContext(ctx,
		`SELECT issue_id FROM issue_generations WHERE generation_id = ? ORDER BY issue_id`, generationID)
	if err != nil {
		return nil, wrapDBError("list issues", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, wrapDBError("scan issue id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("list issues", err)
	}

	out := make([]*types.Issue, 0, len(ids))
	for _, id := range ids {
		issue, err := s.GetIssue(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, issue)
	}
	return out, nil
}
