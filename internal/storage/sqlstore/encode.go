package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/smartshark/issuesync/internal/types"
)

// timeLayout is fixed width so that string order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func parseTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", s.String, err)
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func encodeJSON(v any) (sql.NullString, error) {
	switch x := v.(type) {
	case []string:
		if len(x) == 0 {
			return sql.NullString{}, nil
		}
	case []types.IssueLink:
		if len(x) == 0 {
			return sql.NullString{}, nil
		}
	case *types.Value:
		if x == nil {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeJSON(s sql.NullString, out any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), out)
}
