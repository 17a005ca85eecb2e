package types

import (
	"slices"
	"strconv"
	"strings"
)

// ValueKind tags the variant held by a Value.
type ValueKind string

const (
	ValueString  ValueKind = "string"
	ValueInt     ValueKind = "int"
	ValuePerson  ValueKind = "person"
	ValueIssue   ValueKind = "issue"
	ValueLink    ValueKind = "link"
	ValueStrings ValueKind = "strings"
)

// Value is the old or new value of an event.
type Value struct {
	Kind ValueKind `json:"kind"`

	Str     string     `json:"str,omitempty"`
	Int     int64      `json:"int,omitempty"`
	Ref     string     `json:"ref,omitempty"`         // person or issue id
	ExtRef  string     `json:"ext_ref,omitempty"`     // issue external id
	Link    *IssueLink `json:"link,omitempty"`
	Strings []string   `json:"strings,omitempty"`
}

func StringValue(s string) *Value { return &Value{Kind: ValueString, Str: s} }

func IntValue(n int64) *Value { return &Value{Kind: ValueInt, Int: n} }

func PersonValue(id string) *Value { return &Value{Kind: ValuePerson, Ref: id} }

func IssueValue(id, externalID string) *Value {
	return &Value{Kind: ValueIssue, Ref: id, ExtRef: externalID}
}

func LinkValue(l IssueLink) *Value { return &Value{Kind: ValueLink, Link: &l} }

func StringsValue(s []string) *Value {
	return &Value{Kind: ValueStrings, Strings: slices.Clone(s)}
}

// Clone returns a deep copy of v.
func (v *Value) Clone() *Value {
	if v == nil {
		return nil
	}
	c := *v
	if v.Link != nil {
		l := *v.Link
		c.Link = &l
	}
	c.Strings = slices.Clone(v.Strings)
	return &c
}

// Unresolved reports whether an issue or link value still only carries the
// external id placeholder.
func (v *Value) Unresolved() bool {
	if v == nil {
		return false
	}
	switch v.Kind {
	case ValueIssue:
		return v.Ref == "" && v.ExtRef != ""
	case ValueLink:
		return v.Link != nil && !v.Link.Resolved() && v.Link.TargetExternalID != ""
	}
	return false
}

// Equal compares two values. Two nil values are equal.
func (v *Value) Equal(o *Value) bool {
	if v == nil || o == nil {
		return v == nil && o == nil
	}
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case ValueString:
		return v.Str == o.Str
	case ValueInt:
		return v.Int == o.Int
	case ValuePerson:
		return v.Ref == o.Ref
	case ValueIssue:
		if v.Ref != "" && o.Ref != "" {
			return v.Ref == o.Ref
		}
		return v.ExtRef == o.ExtRef
	case ValueLink:
		if v.Link == nil || o.Link == nil {
			return v.Link == nil && o.Link == nil
		}
		return v.Link.Matches(*o.Link)
	case ValueStrings:
		return slices.Equal(v.Strings, o.Strings)
	}
	return false
}

func (v *Value) String() string {
	if v == nil {
		return "<nil>"
	}
	switch v.Kind {
	case ValueString:
		return v.Str
	case ValueInt:
		return strconv.FormatInt(v.Int, 10)
	case ValuePerson:
		return v.Ref
	case ValueIssue:
		if v.Ref != "" {
			return v.Ref
		}
		return v.ExtRef
	case ValueLink:
		if v.Link == nil {
			return ""
		}
		target := v.Link.TargetIssueID
		if target == "" {
			target = v.Link.TargetExternalID
		}
		return v.Link.Effect + " " + target
	case ValueStrings:
		return strings.Join(v.Strings, ",")
	}
	return ""
}
