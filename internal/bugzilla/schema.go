package bugzilla

import (
	"fmt"

	"github.com/smartshark/issuesync/internal/tracker"
	"github.com/smartshark/issuesync/internal/types"
)

var linkRelations = map[string]tracker.LinkRelation{
	"blocks":     {Type: "Blocker", Effect: "blocks"},
	"depends_on": {Type: "Dependent", Effect: "depends on"},
	"dupe_of":    {Type: "Duplicate", Effect: "duplicates"},
}

var bugzillaSchema = &tracker.Schema{
	Issue: map[string]tracker.FieldSpec{
		"assigned_to_detail": {Field: types.FieldAssignee},
		"blocks":             {Field: types.FieldIssueLinks},
		"component":          {Field: types.FieldComponents},
		"creation_time":      {Field: types.FieldCreatedAt},
		"creator_detail":     {Field: types.FieldCreator},
		"depends_on":         {Field: types.FieldIssueLinks},
		"description":        {Field: types.FieldDescription},
		"dupe_of":            {Field: types.FieldIssueLinks},
		"keywords":           {Field: types.FieldLabels},
		"last_change_time":   {Field: types.FieldUpdatedAt},
		"op_sys":             {Field: types.FieldEnvironment},
		"platform":           {Field: types.FieldPlatform},
		"reporter_detail":    {Field: types.FieldReporter},
		"resolution":         {Field: types.FieldResolution},
		"severity":           {Field: types.FieldPriority},
		"status":             {Field: types.FieldStatus},
		"summary":            {Field: types.FieldTitle},
		"target_milestone":   {Field: types.FieldFixVersions},
		"version":            {Field: types.FieldAffectsVersions},
		"type":               {Field: types.FieldIssueType},
	},
	HistoryAliases: map[string]string{
		"assigned_to": "assigned_to_detail",
		// Bugzilla's own priority (P1..P5) is not the canonical priority,
		// which holds the severity.
		"priority": "bug_priority",
	},
	ReverseApply: true,
	EventID: func(issue tracker.RawIssue, entry tracker.RawHistoryEntry, item int) string {
		return fmt.Sprintf("%s%%%%%d%%%%%d", issue.Key, item, entry.Seq)
	},
	TokenSeparators: map[types.Field]string{
		types.FieldLabels:     ", ",
		types.FieldIssueLinks: ", ",
	},
	LinkRelations: linkRelations,
	ReverseHooks: map[types.Field]tracker.ReverseHook{
		types.FieldPriority: func(issue *types.Issue, _ tracker.RawChangeItem) {
			issue.IssueType = typeFromSeverity(issue.Priority)
		},
		types.FieldIssueType: func(issue *types.Issue, _ tracker.RawChangeItem) {
			if issue.IssueType != "" {
				issue.IssueType = issueType("", &issue.IssueType)
			}
		},
	},
	PersonFallback: func(username string) tracker.RawPerson {
		return tracker.RawPerson{Username: username, Name: username, Email: tracker.EmailOrNobody(username)}
	},
}
