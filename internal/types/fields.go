package types

import "time"

// Field is a canonical issue field name. Event fields that do not map to a
// canonical field keep the tracker's raw name and report KindNone.
type Field string

// Canonical fields.
const (
	FieldTitle                Field = "title"
	FieldDescription          Field = "desc"
	FieldStatus               Field = "status"
	FieldResolution           Field = "resolution"
	FieldIssueType            Field = "issue_type"
	FieldPriority             Field = "priority"
	FieldEnvironment          Field = "environment"
	FieldPlatform             Field = "platform"
	FieldCreatedAt            Field = "created_at"
	FieldUpdatedAt            Field = "updated_at"
	FieldCreator              Field = "creator_id"
	FieldReporter             Field = "reporter_id"
	FieldAssignee             Field = "assignee_id"
	FieldParent               Field = "parent_issue_id"
	FieldAffectsVersions      Field = "affects_versions"
	FieldFixVersions          Field = "fix_versions"
	FieldComponents           Field = "components"
	FieldLabels               Field = "labels"
	FieldIssueLinks           Field = "issue_links"
	FieldOriginalTimeEstimate Field = "original_time_estimate"
)

// FieldKind selects the merge and reverse-apply policy of a field.
type FieldKind int

const (
	KindNone FieldKind = iota
	KindString
	KindTime
	KindInt
	KindStringSet
	KindLinkSet
	KindPerson
	KindIssueRef
)

func (k FieldKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindTime:
		return "time"
	case KindInt:
		return "int"
	case KindStringSet:
		return "string-set"
	case KindLinkSet:
		return "link-set"
	case KindPerson:
		return "person"
	case KindIssueRef:
		return "issue-ref"
	default:
		return "none"
	}
}

var fieldKinds = map[Field]FieldKind{
	FieldTitle:                KindString,
	FieldDescription:          KindString,
	FieldStatus:               KindString,
	FieldResolution:           KindString,
	FieldIssueType:            KindString,
	FieldPriority:             KindString,
	FieldEnvironment:          KindString,
	FieldPlatform:             KindString,
	FieldCreatedAt:            KindTime,
	FieldUpdatedAt:            KindTime,
	FieldCreator:              KindPerson,
	FieldReporter:             KindPerson,
	FieldAssignee:             KindPerson,
	FieldParent:               KindIssueRef,
	FieldAffectsVersions:      KindStringSet,
	FieldFixVersions:          KindStringSet,
	FieldComponents:           KindStringSet,
	FieldLabels:               KindStringSet,
	FieldIssueLinks:           KindLinkSet,
	FieldOriginalTimeEstimate: KindInt,
}

// Kind returns the field's kind, KindNone for unknown fields.
func (f Field) Kind() FieldKind {
	return fieldKinds[f]
}

// Canonical reports whether f is one of the canonical issue fields.
func (f Field) Canonical() bool {
	_, ok := fieldKinds[f]
	return ok
}

// StringField returns a pointer to the string-kinded field on the issue, or
// nil when f is not a string field.
func (i *Issue) StringField(f Field) *string {
	switch f {
	case FieldTitle:
		return &i.Title
	case FieldDescription:
		return &i.Description
	case FieldStatus:
		return &i.Status
	case FieldResolution:
		return &i.Resolution
	case FieldIssueType:
		return &i.IssueType
	case FieldPriority:
		return &i.Priority
	case FieldEnvironment:
		return &i.Environment
	case FieldPlatform:
		return &i.Platform
	}
	return nil
}

// PersonField returns a pointer to the person id field, or nil.
func (i *Issue) PersonField(f Field) *string {
	switch f {
	case FieldCreator:
		return &i.CreatorID
	case FieldReporter:
		return &i.ReporterID
	case FieldAssignee:
		return &i.AssigneeID
	}
	return nil
}

// SetField returns a pointer to the string-set field, or nil.
func (i *Issue) SetField(f Field) *[]string {
	switch f {
	case FieldAffectsVersions:
		return &i.AffectsVersions
	case FieldFixVersions:
		return &i.FixVersions
	case FieldComponents:
		return &i.Components
	case FieldLabels:
		return &i.Labels
	}
	return nil
}

// TimeField returns a pointer to the time field, or nil.
func (i *Issue) TimeField(f Field) **time.Time {
	switch f {
	case FieldCreatedAt:
		return &i.CreatedAt
	case FieldUpdatedAt:
		return &i.UpdatedAt
	}
	return nil
}
