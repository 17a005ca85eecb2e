package tracker

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/smartshark/issuesync/internal/types"
)

// FieldSpec maps one raw snapshot field onto a canonical field.
type FieldSpec struct {
	Field types.Field

	// Transform rewrites the decoded raw value before it is merged. Optional.
	Transform func(raw any) any
}

// LinkRelation is a statically known (type, effect) pair.
type LinkRelation struct {
	Type   string
	Effect string
}

// ReverseHook runs after the default inverse rule of a field and may touch
// coupled fields.
type ReverseHook func(issue *types.Issue, item RawChangeItem)

// Schema holds the static, per-tracker tables that drive mapping and event
// reconstruction.
type Schema struct {
	// Issue maps raw snapshot field names to canonical fields.
	Issue map[string]FieldSpec

	// HistoryAliases renames raw history field names before they are looked
	// up in Issue (e.g. Jira "Fix Version" -> "fixVersions").
	HistoryAliases map[string]string

	// ReverseApply selects the reverse-apply mode: live issue fields are
	// unwound entry by entry and events capture before/after snapshots.
	ReverseApply bool

	// StopOnSeen ends the history walk at the first already-persisted event.
	// Ignored in reverse-apply mode, which always needs the full unwind.
	StopOnSeen bool

	// EventID builds the stable external id of a change item.
	// Defaults to DefaultEventID.
	EventID func(issue RawIssue, entry RawHistoryEntry, item int) string

	// TokenSeparators splits set-valued change strings into tokens per field.
	// Fields without an entry treat the whole string as one token.
	TokenSeparators map[types.Field]string

	// LinkRelations classifies link changes by raw history field name.
	// Fields without an entry go through the keyword classifier.
	LinkRelations map[string]LinkRelation

	// ReverseHooks run after a field's inverse rule. Outside reverse-apply
	// mode they are the only step that touches the live issue.
	ReverseHooks map[types.Field]ReverseHook

	// PersonFallback builds the person used when FetchUser reports the user
	// as unknown.
	PersonFallback func(username string) RawPerson

	// HistoryPerson builds the user named by a person-valued change.
	// Defaults to the key, falling back to the display string, as username.
	HistoryPerson func(display, key *string) *RawPerson
}

// DefaultEventID is "<entry id>%%<item index>".
func DefaultEventID(_ RawIssue, entry RawHistoryEntry, item int) string {
	return fmt.Sprintf("%s%%%%%d", entry.ID, item)
}

// ExternalEventID returns the event id for a change item.
func (s *Schema) ExternalEventID(issue RawIssue, entry RawHistoryEntry, item int) string {
	if s.EventID != nil {
		return s.EventID(issue, entry, item)
	}
	return DefaultEventID(issue, entry, item)
}

// HistoryField resolves a raw history field name. ok is false when the name
// maps to no canonical field; the raw name, or its alias when it has one, is
// returned in that case. An alias therefore also keeps a tracker field from
// being taken for the canonical field of the same name.
func (s *Schema) HistoryField(raw string) (types.Field, bool) {
	name := raw
	if alias, found := s.HistoryAliases[raw]; found {
		name = alias
	}
	if spec, found := s.Issue[name]; found {
		return spec.Field, true
	}
	if f := types.Field(name); f.Canonical() {
		return f, true
	}
	return types.Field(name), false
}

// Tokens splits a change string for a set-valued field.
func (s *Schema) Tokens(f types.Field, v *string) []string {
	if v == nil || *v == "" {
		return nil
	}
	sep, ok := s.TokenSeparators[f]
	if !ok || sep == "" {
		return []string{*v}
	}
	var out []string
	for _, tok := range strings.Split(*v, sep) {
		if tok = strings.TrimSpace(tok); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// Fallback returns the person to store for a user the tracker does not know.
func (s *Schema) Fallback(username string) RawPerson {
	if s.PersonFallback != nil {
		return s.PersonFallback(username)
	}
	return RawPerson{Username: username, Name: username, Email: username}
}

// ChangePerson returns the user a person-valued change refers to, nil when
// the change has no value on that side.
func (s *Schema) ChangePerson(display, key *string) *RawPerson {
	if s.HistoryPerson != nil {
		return s.HistoryPerson(display, key)
	}
	for _, v := range []*string{key, display} {
		if v != nil && *v != "" {
			return &RawPerson{Username: *v}
		}
	}
	return nil
}

// NobodyEmail is stored for unknown users whose username is not an address.
const NobodyEmail = "nobody@nobody.com"

// EmailOrNobody returns username when it parses as an email address.
func EmailOrNobody(username string) string {
	if _, err := mail.ParseAddress(username); err == nil && strings.Contains(username, "@") {
		return username
	}
	return NobodyEmail
}
