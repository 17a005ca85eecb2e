package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/smartshark/issuesync/internal/types"
)

// nextSeq returns the next insertion ordinal for an issue's children.
func nextSeq(ctx context.Context, tx *sql.Tx, table, issueID string) (int64, error) {
	var next int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM `+table+` WHERE issue_id = ?`, issueID).Scan(&next)
	return next, err
}

// childRow is one comment or event insert; seq is its ordinal within the issue.
type childRow func(seq int64) (issueID, query string, args []any)

// insertChildren runs one ignore-duplicates insert per row and counts the
// rows that were actually written.
func (s *Store) insertChildren(ctx context.Context, table string, rows []childRow) (int, error) {
	inserted := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		inserted = 0
		seqs := map[string]int64{}
		for _, row := range rows {
			issueID, _, _ := row(0)
			seq, ok := seqs[issueID]
			if !ok {
				var err error
				if seq, err = nextSeq(ctx, tx, table, issueID); err != nil {
					return err
				}
			}
			_, query, args := row(seq)
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return err
			}
			if affected, err := res.RowsAffected(); err == nil && affected > 0 {
				inserted++
				seq++
			}
			seqs[issueID] = seq
		}
		return nil
	})
	if err != nil {
		return 0, wrapDBError("insert "+table, err)
	}
	return inserted, nil
}

func (s *Store) InsertComments(ctx context.Context, comments []*types.Comment) (int, error) {
	rows := make([]childRow, 0, len(comments))
	for _, c := range comments {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		rows = append(rows, func(seq int64) (string, string, []any) {
			return c.IssueID, s.dialect.insertIgnore + ` INTO comments (id, external_id, issue_id, created_at, author_id, body, seq)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				[]any{c.ID, c.ExternalID, c.IssueID, formatTime(c.CreatedAt), nullString(c.AuthorID), c.Body, seq}
		})
	}
	return s.insertChildren(ctx, "comments", rows)
}

func scanComment(row rowScanner) (*types.Comment, error) {
	var (
		c               types.Comment
		created, author sql.NullString
		body            sql.NullString
	)
	if err := row.Scan(&c.ID, &c.ExternalID, &c.IssueID, &created, &author, &body); err != nil {
		return nil, err
	}
	var err error
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	c.AuthorID, c.Body = author.String, body.String
	return &c, nil
}

const commentColumns = `id, external_id, issue_id, created_at, author_id, body`

func (s *Store) GetComment(ctx context.Context, issueID, externalID string) (*types.Comment, error) {
	var c *types.Comment
	err := s.withRetry(ctx, func() error {
		var err error
		c, err = scanComment(s.db.QueryRowContext(ctx,
			`SELECT `+commentColumns+` FROM comments WHERE issue_id = ? AND external_id = ?`, issueID, externalID))
		return err
	})
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get comment %s of %s", externalID, issueID), err)
	}
	return c, nil
}

func (s *Store) ListComments(ctx context.Context, issueID string) ([]*types.Comment, error) {
	rows, err := s.queryContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE issue_id = ? ORDER BY seq`, issueID)
	if err != nil {
		return nil, wrapDBError("list comments", err)
	}
	defer rows.Close()
	var out []*types.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, wrapDBError("scan comment", err)
		}
		out = append(out, c)
	}
	return out, wrapDBError("list comments", rows.Err())
}

func eventValues(e *types.Event) (oldValue, newValue sql.NullString, err error) {
	if oldValue, err = encodeJSON(e.OldValue); err != nil {
		return oldValue, newValue, fmt.Errorf("encode event %s: %w", e.ExternalID, err)
	}
	if newValue, err = encodeJSON(e.NewValue); err != nil {
		return oldValue, newValue, fmt.Errorf("encode event %s: %w", e.ExternalID, err)
	}
	return oldValue, newValue, nil
}

// InsertEvents preserves the order of events within each issue.
func (s *Store) InsertEvents(ctx context.Context, events []*types.Event) (int, error) {
	rows := make([]childRow, 0, len(events))
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		oldValue, newValue, err := eventValues(e)
		if err != nil {
			return 0, err
		}
		rows = append(rows, func(seq int64) (string, string, []any) {
			return e.IssueID, s.dialect.insertIgnore + ` INTO events (id, external_id, issue_id, created_at, author_id,
				field_name, old_value, new_value, commit_sha, seq) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				[]any{e.ID, e.ExternalID, e.IssueID, formatTime(e.CreatedAt), nullString(e.AuthorID),
					string(e.Field), oldValue, newValue, nullString(e.CommitHash), seq}
		})
	}
	return s.insertChildren(ctx, "events", rows)
}

func (s *Store) UpdateEvent(ctx context.Context, e *types.Event) error {
	oldValue, newValue, err := eventValues(e)
	if err != nil {
		return err
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE issue_id = ? AND external_id = ?`,
			e.IssueID, e.ExternalID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return sql.ErrNoRows
		}
		_, err := tx.ExecContext(ctx, `UPDATE events SET created_at = ?, author_id = ?, field_name = ?,
			old_value = ?, new_value = ?, commit_sha = ? WHERE issue_id = ? AND external_id = ?`,
			formatTime(e.CreatedAt), nullString(e.AuthorID), string(e.Field), oldValue, newValue,
			nullString(e.CommitHash), e.IssueID, e.ExternalID)
		return err
	})
	return wrapDBError("update event "+e.ExternalID, err)
}

const eventColumns = `id, external_id, issue_id, created_at, author_id, field_name, old_value, new_value, commit_sha`

func scanEvent(row rowScanner) (*types.Event, error) {
	var (
		e                       types.Event
		field                   string
		created, author, commit sql.NullString
		oldValue, newValue      sql.NullString
	)
	if err := row.Scan(&e.ID, &e.ExternalID, &e.IssueID, &created, &author, &field,
		&oldValue, &newValue, &commit); err != nil {
		return nil, err
	}
	var err error
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	e.AuthorID, e.CommitHash, e.Field = author.String, commit.String, types.Field(field)
	if oldValue.Valid {
		e.OldValue = new(types.Value)
		if err := decodeJSON(oldValue, e.OldValue); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", e.ExternalID, err)
		}
	}
	if newValue.Valid {
		e.NewValue = new(types.Value)
		if err := decodeJSON(newValue, e.NewValue); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", e.ExternalID, err)
		}
	}
	return &e, nil
}

func (s *Store) GetEvent(ctx context.Context, issueID, externalID string) (*types.Event, error) {
	var e *types.Event
	err := s.withRetry(ctx, func() error {
		var err error
		e, err = scanEvent(s.db.QueryRowContext(ctx,
			`SELECT `+eventColumns+` FROM events WHERE issue_id = ? AND external_id = ?`, issueID, externalID))
		return err
	})
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get event %s of %s", externalID, issueID), err)
	}
	return e, nil
}

func (s *Store) ListEvents(ctx context.Context, issueID string) ([]*types.Event, error) {
	rows, err := s.queryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE issue_id = ? ORDER BY seq`, issueID)
	if err != nil {
		return nil, wrapDBError("list events", err)
	}
	defer rows.Close()
	var out []*types.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, wrapDBError("scan event", err)
		}
		out = append(out, e)
	}
	return out, wrapDBError("list events", rows.Err())
}
