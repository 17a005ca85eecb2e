package jira

import (
	"github.com/smartshark/issuesync/internal/tracker"
	"github.com/smartshark/issuesync/internal/types"
)

var jiraSchema = &tracker.Schema{
	Issue: map[string]tracker.FieldSpec{
		"summary":              {Field: types.FieldTitle},
		"description":          {Field: types.FieldDescription},
		"created":              {Field: types.FieldCreatedAt},
		"updated":              {Field: types.FieldUpdatedAt},
		"creator":              {Field: types.FieldCreator},
		"reporter":             {Field: types.FieldReporter},
		"assignee":             {Field: types.FieldAssignee},
		"issuetype":            {Field: types.FieldIssueType},
		"priority":             {Field: types.FieldPriority},
		"status":               {Field: types.FieldStatus},
		"resolution":           {Field: types.FieldResolution},
		"environment":          {Field: types.FieldEnvironment},
		"versions":             {Field: types.FieldAffectsVersions},
		"fixVersions":          {Field: types.FieldFixVersions},
		"components":           {Field: types.FieldComponents},
		"labels":               {Field: types.FieldLabels},
		"issuelinks":           {Field: types.FieldIssueLinks},
		"parent":               {Field: types.FieldParent},
		"timeoriginalestimate": {Field: types.FieldOriginalTimeEstimate},
	},
	// The changelog names fields by their display label.
	HistoryAliases: map[string]string{
		"Component":   "components",
		"Link":        "issuelinks",
		"Fix Version": "fixVersions",
		"Version":     "versions",
		"Labels":      "labels",
		"Parent":      "parent",
	},
	TokenSeparators: map[types.Field]string{
		types.FieldLabels: " ",
	},
}
