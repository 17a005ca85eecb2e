package mapper

import (
	"strings"

	"github.com/smartshark/issuesync/internal/tracker"
)

type linkRule struct {
	keywords []string
	relation tracker.LinkRelation
}

// linkRules is evaluated in order and the first rule with a keyword
// contained in the text wins, so "is blocked by" must precede "blocks".
var linkRules = []linkRule{
	{[]string{"Blocked"}, tracker.LinkRelation{Type: "Blocked", Effect: "Blocked"}},
	{[]string{"is blocked by"}, tracker.LinkRelation{Type: "Blocker", Effect: "is blocked by"}},
	{[]string{"blocks"}, tracker.LinkRelation{Type: "Blocker", Effect: "blocks"}},
	{[]string{"is cloned by"}, tracker.LinkRelation{Type: "Cloners", Effect: "is cloned by"}},
	{[]string{"is a clone of", "is cloned as"}, tracker.LinkRelation{Type: "Cloners", Effect: "is cloned by"}},
	{[]string{"Is contained by", "is contained by"}, tracker.LinkRelation{Type: "Container", Effect: "is contained by"}},
	{[]string{"contains"}, tracker.LinkRelation{Type: "Container", Effect: "contains"}},
	{[]string{"Dependent"}, tracker.LinkRelation{Type: "Dependent", Effect: "Dependent"}},
	{[]string{"is duplicated by"}, tracker.LinkRelation{Type: "Duplicate", Effect: "is duplicated by"}},
	{[]string{"duplicates"}, tracker.LinkRelation{Type: "Duplicate", Effect: "duplicates"}},
	{[]string{"is part of"}, tracker.LinkRelation{Type: "Incorporates", Effect: "is part of"}},
	{[]string{"incorporates"}, tracker.LinkRelation{Type: "Incorporates", Effect: "incorporates"}},
	{[]string{"is related to"}, tracker.LinkRelation{Type: "Reference", Effect: "is related to"}},
	{[]string{"relates"}, tracker.LinkRelation{Type: "Reference", Effect: "relates to"}},
	{[]string{"is broken by"}, tracker.LinkRelation{Type: "Regression", Effect: "is broken by"}},
	{[]string{"breaks"}, tracker.LinkRelation{Type: "Regression", Effect: "breaks"}},
	{[]string{"is required by"}, tracker.LinkRelation{Type: "Required", Effect: "is required by"}},
	{[]string{"requires"}, tracker.LinkRelation{Type: "Required", Effect: "requires"}},
	{[]string{"is superceded by"}, tracker.LinkRelation{Type: "Supercedes", Effect: "is superceded by"}},
	{[]string{"supercedes"}, tracker.LinkRelation{Type: "Supercedes", Effect: "supercedes"}},
	{[]string{"is depended upon by"}, tracker.LinkRelation{Type: "Dependent", Effect: "is depended upon by"}},
	{[]string{"depends upon"}, tracker.LinkRelation{Type: "Dependent", Effect: "depends upon"}},
	{[]string{"depends on"}, tracker.LinkRelation{Type: "Dependent", Effect: "depends on"}},
}

// ClassifyLink maps free link text ("This issue is blocked by DRILL-5",
// "relates to") onto a link type and effect. ok is false when no keyword
// matches; the text itself is then returned as both type and effect.
func ClassifyLink(text string) (rel tracker.LinkRelation, ok bool) {
	for _, rule := range linkRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.relation, true
			}
		}
	}
	return tracker.LinkRelation{Type: text, Effect: text}, false
}
