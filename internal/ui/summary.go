package ui

import (
	"fmt"
	"strings"

	"github.com/smartshark/issuesync/internal/syncer"
	"github.com/smartshark/issuesync/internal/types"
)

// maxErrorLen bounds the error text shown per failed run.
const maxErrorLen = 160

// RenderOutcome renders the result of one run: a status line followed by
// its counters.
func RenderOutcome(o syncer.Outcome) string {
	var b strings.Builder

	var icon, status string
	switch o.Kind {
	case syncer.Completed:
		icon, status = PassStyle.Render(IconPass), RenderPass(o.Kind.String())
	case syncer.NothingToDo:
		icon, status = MutedStyle.Render(IconSkip), RenderMuted(o.Kind.String())
	default:
		icon, status = FailStyle.Render(IconFail), RenderFail(o.Kind.String())
	}
	fmt.Fprintf(&b, "%s %s %s %s\n", icon, RenderAccent(o.Project), status, RenderMuted(o.URL))

	if o.Err != nil {
		fmt.Fprintf(&b, "  %s\n", RenderFail(TruncateSimple(o.Err.Error(), maxErrorLen)))
	}
	if o.Kind == syncer.NothingToDo {
		return b.String()
	}

	s := o.Stats
	fmt.Fprintf(&b, "  %s %d pages, %d issues (%d new, %d updated, %d copied, %d appended, %d unchanged), %d carried over\n",
		RenderMuted("issues:"), s.Pages, s.Issues, s.Created, s.Updated, s.Copied, s.Appended, s.Unchanged, s.Carried)
	fmt.Fprintf(&b, "  %s %d comments, %d events, %d people, %d stubs, %d merged\n",
		RenderMuted("written:"), s.Comments, s.Events, s.People, s.Stubs, s.Merged)
	if s.Skipped > 0 {
		fmt.Fprintf(&b, "  %s %s\n", WarnStyle.Render(IconWarn), RenderWarn(fmt.Sprintf("%d issues skipped", s.Skipped)))
	}
	return b.String()
}

// RenderOutcomes renders the results of a batch with a closing tally.
func RenderOutcomes(outcomes []syncer.Outcome) string {
	var b strings.Builder
	b.WriteString(RenderCategory("Sync summary"))
	b.WriteString("\n")
	for _, o := range outcomes {
		b.WriteString(RenderOutcome(o))
	}
	failed := len(syncer.Failures(outcomes))
	b.WriteString(RenderSeparator())
	b.WriteString("\n")
	tally := fmt.Sprintf("%d runs, %d failed", len(outcomes), failed)
	if failed > 0 {
		b.WriteString(RenderFail(tally))
	} else {
		b.WriteString(RenderPass(tally))
	}
	b.WriteString("\n")
	return b.String()
}

// RenderProjects renders the project list.
func RenderProjects(projects []*types.Project) string {
	if len(projects) == 0 {
		return RenderMuted("no projects") + "\n"
	}
	var b strings.Builder
	b.WriteString(RenderCategory("Projects"))
	b.WriteString("\n")
	for _, p := range projects {
		fmt.Fprintf(&b, "  %s %s\n", RenderAccent(p.Name), RenderMuted(p.ID))
	}
	return b.String()
}
