package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/smartshark/issuesync/internal/types"
)

func (s *Store) CreateProject(ctx context.Context, p *types.Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.execContext(ctx, `INSERT INTO projects (id, name) VALUES (?, ?)`, p.ID, p.Name)
	return wrapDBError("create project "+p.Name, err)
}

func (s *Store) GetProjectByName(ctx context.Context, name string) (*types.Project, error) {
	var p types.Project
	err := s.withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, `SELECT id, name FROM projects WHERE name = ?`, name).Scan(&p.ID, &p.Name)
	})
	if err != nil {
		return nil, wrapDBError("get project "+name, err)
	}
	return &p, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]*types.Project, error) {
	rows, err := s.queryContext(ctx, `SELECT id, name FROM projects ORDER BY name`)
	if err != nil {
		return nil, wrapDBError("list projects", err)
	}
	defer rows.Close()
	var out []*types.Project
	for rows.Next() {
		var p types.Project
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, wrapDBError("scan project", err)
		}
		out = append(out, &p)
	}
	return out, wrapDBError("list projects", rows.Err())
}

func (s *Store) CreateIssueSystem(ctx context.Context, sys *types.IssueSystem) error {
	if sys.ID == "" {
		sys.ID = uuid.NewString()
	}
	_, err := s.execContext(ctx,
		`INSERT INTO issue_systems (id, project_id, url, collection_date, last_updated) VALUES (?, ?, ?, ?, ?)`,
		sys.ID, sys.ProjectID, sys.URL, formatTime(&sys.CollectionDate), formatTime(sys.LastUpdated))
	return wrapDBError("create issue system", err)
}

func (s *Store) UpdateIssueSystem(ctx context.Context, sys *types.IssueSystem) error {
	_, err := s.execContext(ctx,
		`UPDATE issue_systems SET project_id = ?, url = ?, collection_date = ?, last_updated = ? WHERE id = ?`,
		sys.ProjectID, sys.URL, formatTime(&sys.CollectionDate), formatTime(sys.LastUpdated), sys.ID)
	return wrapDBError("update issue system "+sys.ID, err)
}

func (s *Store) GetPriorIssueSystem(ctx context.Context, url, excludeID string) (*types.IssueSystem, error) {
	var (
		sys         types.IssueSystem
		collected   sql.NullString
		lastUpdated sql.NullString
	)
	err := s.withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, `SELECT id, project_id, url, collection_date, last_updated
			FROM issue_systems WHERE url = ? AND id <> ?
			ORDER BY collection_date DESC LIMIT 1`, url, excludeID).
			Scan(&sys.ID, &sys.ProjectID, &sys.URL, &collected, &lastUpdated)
	})
	if err != nil {
		return nil, wrapDBError("prior issue system for "+url, err)
	}
	c, err := parseTime(collected)
	if err != nil {
		return nil, err
	}
	if c != nil {
		sys.CollectionDate = *c
	}
	if sys.LastUpdated, err = parseTime(lastUpdated); err != nil {
		return nil, err
	}
	return &sys, nil
}

func (s *Store) LatestUpdatedAt(ctx context.Context, url string) (*time.Time, error) {
	var latest sql.NullString
	err := s.withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, `SELECT MAX(i.updated_at) FROM issues i
			JOIN issue_generations g ON g.issue_id = i.id
			JOIN issue_systems sys ON sys.id = g.generation_id
			WHERE sys.url = ?`, url).Scan(&latest)
	})
	if err != nil {
		return nil, wrapDBError("latest update for "+url, err)
	}
	return parseTime(latest)
}

// DeleteGeneration removes the generation's own records and detaches it from
// issues shared with older generations.
func (s *Store) DeleteGeneration(ctx context.Context, generationID string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT g.issue_id,
			(SELECT COUNT(*) FROM issue_generations o WHERE o.issue_id = g.issue_id)
			FROM issue_generations g WHERE g.generation_id = ?`, generationID)
		if err != nil {
			return err
		}
		var owned []string
		for rows.Next() {
			var (
				id    string
				count int
			)
			if err := rows.Scan(&id, &count); err != nil {
				rows.Close()
				return err
			}
			if count == 1 {
				owned = append(owned, id)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range owned {
			for _, stmt := range []string{
				`DELETE FROM comments WHERE issue_id = ?`,
				`DELETE FROM events WHERE issue_id = ?`,
				`DELETE FROM issues WHERE id = ?`,
			} {
				if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
					return fmt.Errorf("%s: %w", stmt, err)
				}
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM issue_generations WHERE generation_id = ?`, generationID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM issue_systems WHERE id = ?`, generationID)
		return err
	})
	return wrapDBError("delete generation "+generationID, err)
}
