package syncer

import "fmt"

// State is a step of a run.
type State int

const (
	StateInit State = iota
	StateCursorResolved
	StatePaging
	StateLinking
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateCursorResolved:
		return "CURSOR_RESOLVED"
	case StatePaging:
		return "PAGING"
	case StateLinking:
		return "LINKING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// OutcomeKind classifies how a run ended.
type OutcomeKind int

const (
	Completed OutcomeKind = iota
	NothingToDo
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Completed:
		return "completed"
	case NothingToDo:
		return "nothing to do"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// Stats counts what a run did.
type Stats struct {
	Pages     int `json:"pages"`
	Issues    int `json:"issues"`    // issues processed
	Created   int `json:"created"`   // issues new to the store
	Updated   int `json:"updated"`   // issues updated in place, completed stubs included
	Appended  int `json:"appended"`  // unchanged prior issues carried into this generation
	Copied    int `json:"copied"`    // changed prior issues copied into this generation
	Unchanged int `json:"unchanged"` // current-generation issues without changes
	Carried   int `json:"carried"`   // prior issues the tracker did not return, kept in this generation
	Changed   int `json:"changed"`   // processed issues that differed from their stored version
	Skipped   int `json:"skipped"`   // issues the tracker could not deliver
	Comments  int `json:"comments"`  // comments inserted
	Events    int `json:"events"`    // events inserted
	People    int `json:"people"`
	Stubs     int `json:"stubs"`
	Merged    int `json:"merged"`
}

// Outcome is the result of a run.
type Outcome struct {
	Project      string      `json:"project"`
	URL          string      `json:"url"`
	Kind         OutcomeKind `json:"kind"`
	Err          error       `json:"-"`
	Stats        Stats       `json:"stats"`
	GenerationID string      `json:"generation_id,omitempty"`
}

// OK reports whether the run did not fail.
func (o Outcome) OK() bool { return o.Kind != Failed }
