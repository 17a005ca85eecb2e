package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/smartshark/issuesync/internal/types"
)

// UpsertPerson returns the id of the person with p's name and email, creating
// the row when none exists. An existing username is never overwritten.
func (s *Store) UpsertPerson(ctx context.Context, p *types.Person) (string, error) {
	lookup := func() (string, error) {
		var id string
		err := s.withRetry(ctx, func() error {
			return s.db.QueryRowContext(ctx, `SELECT id FROM people WHERE name = ? AND email = ?`, p.Name, p.Email).Scan(&id)
		})
		return id, err
	}
	id, err := lookup()
	if err == nil {
		p.ID = id
		if p.Username != "" {
			_, err = s.execContext(ctx, `UPDATE people SET username = ? WHERE id = ? AND (username IS NULL OR username = '')`,
				p.Username, id)
			if err != nil {
				return "", wrapDBError("update person "+id, err)
			}
		}
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", wrapDBError("get person", err)
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err = s.execContext(ctx, `INSERT INTO people (id, name, email, username) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.Email, nullString(p.Username))
	if err != nil && isDuplicate(err) {
		// Lost a race with a concurrent run; the other writer's row wins.
		if id, err = lookup(); err == nil {
			p.ID = id
			return id, nil
		}
	}
	if err != nil {
		return "", wrapDBError("create person", err)
	}
	return p.ID, nil
}

func (s *Store) GetPerson(ctx context.Context, id string) (*types.Person, error) {
	var (
		p        types.Person
		username sql.NullString
	)
	err := s.withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, `SELECT id, name, email, username FROM people WHERE id = ?`, id).
			Scan(&p.ID, &p.Name, &p.Email, &username)
	})
	if err != nil {
		return nil, wrapDBError("get person "+id, err)
	}
	p.Username = username.String
	return &p, nil
}
