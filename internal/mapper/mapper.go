// Package mapper merges decoded tracker snapshots into canonical issues.
package mapper

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartshark/issuesync/internal/tracker"
	"github.com/smartshark/issuesync/internal/types"
)

// PersonResolver turns a tracker user into a stored person id.
type PersonResolver interface {
	Person(ctx context.Context, p tracker.RawPerson) (string, error)
}

// Mapper applies an adapter schema to raw issues.
type Mapper struct {
	schema *tracker.Schema
	people PersonResolver
	log    logrus.FieldLogger
}

// New returns a mapper for schema. people may be nil when the schema maps no
// person fields.
func New(schema *tracker.Schema, people PersonResolver, log logrus.FieldLogger) *Mapper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Mapper{schema: schema, people: people, log: log}
}

// Map merges raw into the issue. Raw fields the schema does not know are
// ignored and fields absent from raw keep their current value.
func (m *Mapper) Map(ctx context.Context, raw tracker.RawIssue, into *types.Issue) error {
	if into.ExternalID == "" {
		into.ExternalID = raw.ExternalID
	}
	if raw.IsPullRequest {
		into.IsPullRequest = true
	}

	// Fixed order so set unions are deterministic.
	names := make([]string, 0, len(raw.Fields))
	for name := range raw.Fields {
		if _, ok := m.schema.Issue[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		spec := m.schema.Issue[name]
		value := raw.Fields[name]
		if spec.Transform != nil {
			value = spec.Transform(value)
		}
		if err := m.apply(ctx, into, spec.Field, value); err != nil {
			return fmt.Errorf("map %s.%s: %w", raw.ExternalID, name, err)
		}
	}
	return nil
}

func (m *Mapper) apply(ctx context.Context, issue *types.Issue, f types.Field, value any) error {
	switch f.Kind() {
	case types.KindString:
		*issue.StringField(f) = AsString(value)
	case types.KindTime:
		*issue.TimeField(f) = AsTime(value)
	case types.KindInt:
		if f == types.FieldOriginalTimeEstimate {
			issue.OriginalTimeEstimate = AsInt(value)
		}
	case types.KindStringSet:
		dst := issue.SetField(f)
		*dst = Union(*dst, AsStrings(value))
	case types.KindLinkSet:
		issue.IssueLinks = m.mergeLinks(issue, AsLinks(value))
	case types.KindPerson:
		id, err := m.person(ctx, value)
		if err != nil {
			return err
		}
		*issue.PersonField(f) = id
	case types.KindIssueRef:
		ext := AsString(value)
		if ext != issue.ParentExternalID {
			issue.ParentIssueID = ""
		}
		issue.ParentExternalID = ext
	default:
		return fmt.Errorf("field %q has no mapping policy", f)
	}
	return nil
}

func (m *Mapper) person(ctx context.Context, value any) (string, error) {
	var p tracker.RawPerson
	switch v := value.(type) {
	case nil:
		return "", nil
	case tracker.RawPerson:
		p = v
	case *tracker.RawPerson:
		if v == nil {
			return "", nil
		}
		p = *v
	case string:
		p = tracker.RawPerson{Username: v}
	default:
		return "", fmt.Errorf("unexpected person value %T", value)
	}
	if p.Username == "" && p.Name == "" && p.Email == "" {
		return "", nil
	}
	if m.people == nil {
		return "", fmt.Errorf("no person resolver configured")
	}
	return m.people.Person(ctx, p)
}

// mergeLinks adds links to the issue's link set. A link replaces an existing
// one to the same target; links to the issue itself are dropped.
func (m *Mapper) mergeLinks(issue *types.Issue, raw []tracker.RawLink) []types.IssueLink {
	out := slices.Clone(issue.IssueLinks)
	for _, rl := range raw {
		if rl.TargetExternalID == "" {
			continue
		}
		if strings.EqualFold(rl.TargetExternalID, issue.ExternalID) {
			m.log.WithFields(logrus.Fields{"issue": issue.ExternalID}).Warn("dropping link to itself")
			continue
		}
		link := types.IssueLink{TargetExternalID: rl.TargetExternalID, Type: rl.Type, Effect: rl.Effect}
		if link.Type == "" && link.Effect == "" {
			rel, ok := ClassifyLink(rl.Relation)
			if !ok {
				m.log.WithFields(logrus.Fields{"issue": issue.ExternalID, "relation": rl.Relation}).
					Warn("could not find issue link type and effect")
			}
			link.Type, link.Effect = rel.Type, rel.Effect
		}
		if i := slices.IndexFunc(out, link.SameTarget); i >= 0 {
			out[i] = link
			continue
		}
		out = append(out, link)
	}
	return out
}

// Union appends the values of add missing from base, keeping first
// appearance order.
func Union(base, add []string) []string {
	out := slices.Clone(base)
	for _, v := range add {
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// AsString renders a decoded raw value as a string; nil becomes "".
func AsString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case *string:
		if x == nil {
			return ""
		}
		return *x
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

// AsTime returns the time held by v, nil when v holds none.
func AsTime(v any) *time.Time {
	switch x := v.(type) {
	case time.Time:
		if x.IsZero() {
			return nil
		}
		t := x.UTC()
		return &t
	case *time.Time:
		if x == nil {
			return nil
		}
		t := x.UTC()
		return &t
	case string:
		if t, err := time.Parse(time.RFC3339, x); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// AsInt parses an integer value; nil when absent or not a number.
func AsInt(v any) *int64 {
	var n int64
	switch x := v.(type) {
	case int64:
		n = x
	case int:
		n = int64(x)
	case float64:
		n = int64(x)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil
		}
		n = parsed
	case *string:
		if x == nil {
			return nil
		}
		return AsInt(*x)
	default:
		return nil
	}
	return &n
}

// AsStrings returns a string list; a single string becomes a one-element list.
func AsStrings(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case string:
		if x == "" {
			return nil
		}
		return []string{x}
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s := AsString(e); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// AsLinks returns the raw links held by v.
func AsLinks(v any) []tracker.RawLink {
	switch x := v.(type) {
	case []tracker.RawLink:
		return x
	case tracker.RawLink:
		return []tracker.RawLink{x}
	}
	return nil
}
